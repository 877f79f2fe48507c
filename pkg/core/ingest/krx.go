package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"

	"fact_reconciler/pkg/core/errs"
	"fact_reconciler/pkg/core/identity"
	"fact_reconciler/pkg/core/normalize"
)

// krxListingURL serves the full listed-company table as an EUC-KR encoded
// HTML document despite the download method name.
const krxListingURL = "https://kind.krx.co.kr/corpgeneral/corpList.do?method=download"

// KRXClient downloads the exchange listing. The listing carries names and
// six-digit symbols only, so its snapshot has no secondary codes.
type KRXClient struct {
	fetcher    *ContentFetcher
	listingURL string
}

func NewKRXClient(fetcher *ContentFetcher) *KRXClient {
	if fetcher == nil {
		fetcher = NewContentFetcher("", 0)
	}
	return &KRXClient{
		fetcher:    fetcher,
		listingURL: krxListingURL,
	}
}

// FetchListing parses the listing table into an identity snapshot. Row
// layout: company name in the first cell, symbol in the third.
func (c *KRXClient) FetchListing(ctx context.Context) (identity.Registry, error) {
	body, err := c.fetcher.Fetch(ctx, c.listingURL, "krx_listing.html")
	if err != nil {
		return nil, fmt.Errorf("exchange listing fetch failed: %v: %w", err, errs.ErrUpstreamUnavailable)
	}

	decoded := transform.NewReader(bytes.NewReader(body), korean.EUCKR.NewDecoder())
	doc, err := goquery.NewDocumentFromReader(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to parse exchange listing: %w", err)
	}

	var entries []identity.Entry
	doc.Find("table tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		name := strings.TrimSpace(cells.Eq(0).Text())
		code := normalize.Digits(cells.Eq(2).Text())
		if name == "" || code == "" {
			return
		}
		// Symbols are zero-padded to six digits; the dump drops leading zeros.
		entries = append(entries, identity.Entry{
			Name:        name,
			PrimaryCode: fmt.Sprintf("%06s", code),
		})
	})
	if len(entries) == 0 {
		return nil, fmt.Errorf("exchange listing contained no rows: %w", errs.ErrEmptyResult)
	}

	fmt.Printf("[KRX] exchange listing loaded: %d entries\n", len(entries))
	return identity.NewSnapshot(entries), nil
}

// ListedCodes returns every symbol in listing order, for range scans.
func ListedCodes(reg identity.Registry) []string {
	entries := reg.Entries()
	codes := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.PrimaryCode != "" {
			codes = append(codes, e.PrimaryCode)
		}
	}
	return codes
}
