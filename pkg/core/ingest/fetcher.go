package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ContentFetcher retrieves URLs with an optional local file cache so the
// bulky registry dumps are not re-downloaded on every run. An empty cacheDir
// disables caching and every call goes straight to the network.
type ContentFetcher struct {
	httpClient *http.Client
	cacheDir   string
	maxAge     time.Duration
	userAgent  string
}

// NewContentFetcher creates a fetcher writing into cacheDir. Entries older
// than maxAge are refetched; maxAge <= 0 keeps cached entries forever.
func NewContentFetcher(cacheDir string, maxAge time.Duration) *ContentFetcher {
	return &ContentFetcher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cacheDir:   cacheDir,
		maxAge:     maxAge,
		userAgent:  userAgent,
	}
}

// Fetch returns the body for rawURL, serving from cache when a fresh copy
// named cacheName exists. The cacheName keeps credentials embedded in the
// URL out of the cache path.
func (f *ContentFetcher) Fetch(ctx context.Context, rawURL, cacheName string) ([]byte, error) {
	cachePath := ""
	if f.cacheDir != "" && cacheName != "" {
		cachePath = filepath.Join(f.cacheDir, cacheName)
		if data, ok := f.readCache(cachePath); ok {
			return data, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch returned status %d for %s", resp.StatusCode, cacheName)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if cachePath != "" {
		f.writeCache(cachePath, data)
	}
	return data, nil
}

func (f *ContentFetcher) readCache(cachePath string) ([]byte, bool) {
	info, err := os.Stat(cachePath)
	if err != nil {
		return nil, false
	}
	if f.maxAge > 0 && time.Since(info.ModTime()) > f.maxAge {
		return nil, false
	}
	data, err := os.ReadFile(cachePath)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (f *ContentFetcher) writeCache(cachePath string, data []byte) {
	if err := os.MkdirAll(filepath.Dir(cachePath), 0755); err != nil {
		fmt.Printf("[WARNING] Failed to create cache directory: %v\n", err)
		return
	}
	if err := os.WriteFile(cachePath, data, 0644); err != nil {
		fmt.Printf("[WARNING] Failed to write cache file %s: %v\n", cachePath, err)
	}
}
