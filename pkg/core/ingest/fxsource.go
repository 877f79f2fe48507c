package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"fact_reconciler/pkg/core/errs"
)

const (
	fxLiveURL  = "https://open.er-api.com/v6/latest/%s"
	fxDailyURL = "https://api.frankfurter.app/latest?from=%s&to=%s"
)

// splitPair parses "USD/KRW" into base and quote currencies.
func splitPair(pair string) (string, string, error) {
	base, quote, ok := strings.Cut(pair, "/")
	base, quote = strings.TrimSpace(base), strings.TrimSpace(quote)
	if !ok || base == "" || quote == "" {
		return "", "", fmt.Errorf("malformed currency pair %q: %w", pair, errs.ErrConfiguration)
	}
	return strings.ToUpper(base), strings.ToUpper(quote), nil
}

func fetchFX(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fx request failed: %v: %w", err, errs.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fx endpoint returned status %d: %w", resp.StatusCode, errs.ErrUpstreamUnavailable)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read fx response: %w", err)
	}
	return body, nil
}

func pickRate(rates map[string]float64, quote string) (float64, error) {
	rate, ok := rates[quote]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("fx response carried no %s rate: %w", quote, errs.ErrEmptyResult)
	}
	return rate, nil
}

// FXLiveSource quotes from the open exchange-rate API, refreshed intraday.
type FXLiveSource struct {
	httpClient *http.Client
	baseURL    string
}

func NewFXLiveSource() *FXLiveSource {
	return &FXLiveSource{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    fxLiveURL,
	}
}

func (s *FXLiveSource) Quote(ctx context.Context, pair string) (float64, error) {
	base, quote, err := splitPair(pair)
	if err != nil {
		return 0, err
	}
	body, err := fetchFX(ctx, s.httpClient, fmt.Sprintf(s.baseURL, base))
	if err != nil {
		return 0, err
	}
	var doc struct {
		Result string             `json:"result"`
		Rates  map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, fmt.Errorf("failed to parse fx response: %w", err)
	}
	if doc.Result != "success" {
		return 0, fmt.Errorf("fx endpoint reported %q: %w", doc.Result, errs.ErrUpstreamUnavailable)
	}
	return pickRate(doc.Rates, quote)
}

// FXDailySource quotes the previous reference-day close from the ECB feed.
// Responses pass through a repair step before decoding because the feed's
// mirrors intermittently serve loose JSON.
type FXDailySource struct {
	httpClient *http.Client
	baseURL    string
}

func NewFXDailySource() *FXDailySource {
	return &FXDailySource{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    fxDailyURL,
	}
}

func (s *FXDailySource) Quote(ctx context.Context, pair string) (float64, error) {
	base, quote, err := splitPair(pair)
	if err != nil {
		return 0, err
	}
	body, err := fetchFX(ctx, s.httpClient, fmt.Sprintf(s.baseURL, base, quote))
	if err != nil {
		return 0, err
	}
	repaired, err := jsonrepair.RepairJSON(string(body))
	if err != nil {
		return 0, fmt.Errorf("failed to repair fx response: %w", err)
	}
	var doc struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return 0, fmt.Errorf("failed to parse fx response: %w", err)
	}
	return pickRate(doc.Rates, quote)
}
