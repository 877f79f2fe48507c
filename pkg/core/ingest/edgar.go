// SEC EDGAR integration: the ticker/CIK registry and the XBRL company-facts
// endpoint. API documentation: https://www.sec.gov/developer
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fact_reconciler/pkg/core/errs"
	"fact_reconciler/pkg/core/extract"
	"fact_reconciler/pkg/core/identity"
)

const (
	// SEC EDGAR API endpoints
	secTickersURL      = "https://www.sec.gov/files/company_tickers.json"
	secCompanyFactsURL = "https://data.sec.gov/api/xbrl/companyfacts/CIK%s.json"

	// Required User-Agent per SEC guidelines
	userAgent = "FactReconciler/1.0 (contact@example.com)"
)

// =============================================================================
// SEC EDGAR DATA TYPES
// =============================================================================

// CompanyFacts is the decoded XBRL fact history for one company, keyed by
// bare concept tag. Namespace prefixes are dropped so taxonomy aliases can
// index the bag directly.
type CompanyFacts struct {
	EntityName string
	Facts      map[string][]extract.XbrlFact
}

// companyFactsDoc mirrors the companyfacts payload. Facts are grouped by
// namespace (us-gaap, dei), then concept tag, then unit.
type companyFactsDoc struct {
	EntityName string `json:"entityName"`
	Facts      map[string]map[string]struct {
		Units map[string][]companyFactEntry `json:"units"`
	} `json:"facts"`
}

// companyFactEntry is one dated observation of a concept.
type companyFactEntry struct {
	End   string  `json:"end"`   // fiscal period end, e.g. "2023-09-30"
	Val   float64 `json:"val"`
	Form  string  `json:"form"`  // "10-K", "10-Q", ...
	Filed string  `json:"filed"` // filing date
}

// =============================================================================
// SEC EDGAR CLIENT
// =============================================================================

// EDGARClient handles SEC EDGAR API requests.
type EDGARClient struct {
	fetcher    *ContentFetcher
	tickersURL string
	factsURL   string
}

// NewEDGARClient creates a new SEC EDGAR API client. A nil fetcher disables
// local caching.
func NewEDGARClient(fetcher *ContentFetcher) *EDGARClient {
	if fetcher == nil {
		fetcher = NewContentFetcher("", 0)
	}
	return &EDGARClient{
		fetcher:    fetcher,
		tickersURL: secTickersURL,
		factsURL:   secCompanyFactsURL,
	}
}

// FetchTickerRegistry downloads the ticker mapping file and builds an
// identity snapshot from it. Tickers become primary codes and ten-digit CIKs
// secondary codes.
//
// Response structure: { "0": {"cik_str": 320193, "ticker": "AAPL", "title": "..."}, ... }
func (c *EDGARClient) FetchTickerRegistry(ctx context.Context) (identity.Registry, error) {
	body, err := c.fetcher.Fetch(ctx, c.tickersURL, "company_tickers.json")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ticker mapping: %v: %w", err, errs.ErrUpstreamUnavailable)
	}

	var mapping map[string]struct {
		CIK    int    `json:"cik_str"`
		Ticker string `json:"ticker"`
		Title  string `json:"title"`
	}
	if err := json.Unmarshal(body, &mapping); err != nil {
		return nil, fmt.Errorf("failed to parse ticker mapping: %w", err)
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("ticker mapping was empty: %w", errs.ErrEmptyResult)
	}

	entries := make([]identity.Entry, 0, len(mapping))
	for _, entry := range mapping {
		if entry.Ticker == "" {
			continue
		}
		entries = append(entries, identity.Entry{
			Name:          entry.Title,
			PrimaryCode:   strings.ToUpper(entry.Ticker),
			SecondaryCode: fmt.Sprintf("%010d", entry.CIK),
		})
	}
	fmt.Printf("[EDGAR] ticker registry loaded: %d entries\n", len(entries))
	return identity.NewSnapshot(entries), nil
}

// FetchCompanyFacts retrieves the full XBRL fact history for one CIK.
//
// CIK should be zero-padded to 10 digits (e.g., "0000037996" for Ford).
// If not padded, this function will pad it automatically.
func (c *EDGARClient) FetchCompanyFacts(ctx context.Context, cik string) (*CompanyFacts, error) {
	// Zero-pad CIK to 10 digits
	cik = fmt.Sprintf("%010s", strings.TrimLeft(cik, "0"))

	url := fmt.Sprintf(c.factsURL, cik)
	body, err := c.fetcher.Fetch(ctx, url, fmt.Sprintf("facts_CIK%s.json", cik))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch company facts: %v: %w", err, errs.ErrUpstreamUnavailable)
	}

	var doc companyFactsDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse company facts: %w", err)
	}
	if len(doc.Facts) == 0 {
		return nil, fmt.Errorf("company facts were empty for CIK %s: %w", cik, errs.ErrEmptyResult)
	}

	facts := make(map[string][]extract.XbrlFact)
	for _, concepts := range doc.Facts {
		for tag, concept := range concepts {
			for unit, observations := range concept.Units {
				for _, obs := range observations {
					end, _ := time.Parse("2006-01-02", obs.End)
					filed, _ := time.Parse("2006-01-02", obs.Filed)
					facts[tag] = append(facts[tag], extract.XbrlFact{
						ConceptTag: tag,
						Unit:       unit,
						Value:      obs.Val,
						FilingForm: obs.Form,
						PeriodEnd:  end,
						FiledDate:  filed,
					})
				}
			}
		}
	}

	return &CompanyFacts{EntityName: doc.EntityName, Facts: facts}, nil
}
