// Package ingest holds the upstream clients: the Korean disclosure API
// (DART), the Korean exchange listing, the US EDGAR registry and facts API,
// the brokerage quote API, and the FX sources. Every client is a plain
// request/response wrapper; fallback and retry policy live with the callers.
package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fact_reconciler/pkg/core/aggregate"
	"fact_reconciler/pkg/core/errs"
	"fact_reconciler/pkg/core/extract"
	"fact_reconciler/pkg/core/identity"
	"fact_reconciler/pkg/core/period"
)

const (
	dartBaseURL = "https://opendart.fss.or.kr"

	dartCorpCodePath   = "/api/corpCode.xml"
	dartMultiAcntPath  = "/api/fnlttMultiAcnt.json"
	dartSingleAcntPath = "/api/fnlttSinglAcntAll.json"
	dartStockTotPath   = "/api/stockTotqySttus.json"

	// dartStatusOK and dartStatusNoData are the payload-level codes the
	// pipeline branches on; everything else surfaces as a StatusError.
	dartStatusOK     = "000"
	dartStatusNoData = "013"
)

// DARTClient wraps the Korean periodic-filing API.
type DARTClient struct {
	httpClient *http.Client
	fetcher    *ContentFetcher
	baseURL    string
	apiKey     string
}

// NewDARTClient creates a disclosure API client. The key comes from the
// DART_API_KEY environment in the cmd wiring. The fetcher caches the corp
// registry dump only; statement queries always hit the network.
func NewDARTClient(apiKey string, fetcher *ContentFetcher) *DARTClient {
	if fetcher == nil {
		fetcher = NewContentFetcher("", 0)
	}
	return &DARTClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		fetcher:    fetcher,
		baseURL:    dartBaseURL,
		apiKey:     apiKey,
	}
}

func (c *DARTClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("DART API key missing: %w", errs.ErrConfiguration)
	}
	params.Set("crtfc_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("DART request failed: %v: %w", err, errs.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DART returned status %d: %w", resp.StatusCode, errs.ErrUpstreamUnavailable)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// dartEnvelope is the common payload wrapper: status "000" means success,
// "013" means the query matched no rows.
type dartEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	List    json.RawMessage `json:"list"`
}

func decodeEnvelope(body []byte) (*dartEnvelope, error) {
	var env dartEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse DART response: %w", err)
	}
	switch env.Status {
	case dartStatusOK:
		return &env, nil
	case dartStatusNoData:
		return nil, fmt.Errorf("DART: %s: %w", env.Message, errs.ErrEmptyResult)
	default:
		return nil, &errs.StatusError{Code: env.Status, Message: env.Message}
	}
}

// corpCodeDoc mirrors the corpCode.xml registry dump inside the zip.
type corpCodeDoc struct {
	XMLName xml.Name `xml:"result"`
	Items   []struct {
		CorpCode  string `xml:"corp_code"`
		CorpName  string `xml:"corp_name"`
		StockCode string `xml:"stock_code"`
	} `xml:"list"`
}

// FetchCorpRegistry downloads the disclosure corp-code registry (a zip
// holding one XML document) and builds an identity snapshot from it.
// Duplicate names keep the first entry, matching the dump's own semantics.
func (c *DARTClient) FetchCorpRegistry(ctx context.Context) (identity.Registry, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("DART API key missing: %w", errs.ErrConfiguration)
	}
	registryURL := c.baseURL + dartCorpCodePath + "?crtfc_key=" + url.QueryEscape(c.apiKey)
	body, err := c.fetcher.Fetch(ctx, registryURL, "corpCode.zip")
	if err != nil {
		return nil, fmt.Errorf("corp registry fetch failed: %v: %w", err, errs.ErrUpstreamUnavailable)
	}

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		// A JSON error payload arrives instead of a zip when the key is bad.
		if _, envErr := decodeEnvelope(body); envErr != nil {
			return nil, fmt.Errorf("corp registry: %w", envErr)
		}
		return nil, fmt.Errorf("corp registry is not a zip archive: %w", err)
	}

	var doc corpCodeDoc
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		err = xml.NewDecoder(rc).Decode(&doc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse corp registry xml: %w", err)
		}
		break
	}
	if len(doc.Items) == 0 {
		return nil, fmt.Errorf("corp registry contained no entries: %w", errs.ErrEmptyResult)
	}

	entries := make([]identity.Entry, 0, len(doc.Items))
	for _, item := range doc.Items {
		name := strings.TrimSpace(item.CorpName)
		corp := strings.TrimSpace(item.CorpCode)
		if name == "" || corp == "" {
			continue
		}
		entries = append(entries, identity.Entry{
			Name:          name,
			PrimaryCode:   strings.TrimSpace(item.StockCode),
			SecondaryCode: corp,
		})
	}
	fmt.Printf("[DART] corp registry loaded: %d entries\n", len(entries))
	return identity.NewSnapshot(entries), nil
}

// dartAccountRow is one line item of the financial-statement endpoints.
type dartAccountRow struct {
	AccountName string `json:"account_nm"`
	Amount      string `json:"thstrm_amount"`
	AddAmount   string `json:"thstrm_add_amount"`
}

func toLineItems(raw json.RawMessage) ([]extract.LineItem, error) {
	var rows []dartAccountRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse account rows: %w", err)
	}
	items := make([]extract.LineItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, extract.LineItem{
			AccountLabel: strings.TrimSpace(r.AccountName),
			Amount:       r.Amount,
			AddAmount:    r.AddAmount,
		})
	}
	return items, nil
}

// FetchSummaryAccounts pulls the condensed multi-account line items for one
// filing period.
func (c *DARTClient) FetchSummaryAccounts(ctx context.Context, corpCode string, year int, code period.ReportCode) ([]extract.LineItem, error) {
	body, err := c.get(ctx, dartMultiAcntPath, url.Values{
		"corp_code":  {corpCode},
		"bsns_year":  {fmt.Sprintf("%d", year)},
		"reprt_code": {string(code)},
	})
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	return toLineItems(env.List)
}

// FetchStatementAccounts pulls the full consolidated statement rows, which
// carry the liquidity and borrowing sub-accounts the summary endpoint omits.
func (c *DARTClient) FetchStatementAccounts(ctx context.Context, corpCode string, year int, code period.ReportCode) ([]extract.LineItem, error) {
	body, err := c.get(ctx, dartSingleAcntPath, url.Values{
		"corp_code":  {corpCode},
		"bsns_year":  {fmt.Sprintf("%d", year)},
		"reprt_code": {string(code)},
		"fs_div":     {"CFS"},
	})
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	return toLineItems(env.List)
}

// dartStockRow mirrors the share-totals endpoint rows.
type dartStockRow struct {
	Class             string `json:"se"`
	DistributedShares string `json:"distb_stock_co"`
	IssuedTotal       string `json:"now_to_isu_stock_totqy"`
	DecreasedTotal    string `json:"now_to_dcrs_stock_totqy"`
	TreasuryShares    string `json:"tesstk_co"`
	ListedTotal       string `json:"istc_totqy"`
}

// FetchStockTotals pulls the share-totals disclosure rows for one period.
func (c *DARTClient) FetchStockTotals(ctx context.Context, corpCode string, year int, code period.ReportCode) ([]aggregate.StockTotalRow, error) {
	body, err := c.get(ctx, dartStockTotPath, url.Values{
		"corp_code":  {corpCode},
		"bsns_year":  {fmt.Sprintf("%d", year)},
		"reprt_code": {string(code)},
	})
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}

	var rows []dartStockRow
	if err := json.Unmarshal(env.List, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse stock totals: %w", err)
	}
	out := make([]aggregate.StockTotalRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, aggregate.StockTotalRow{
			Class:             r.Class,
			DistributedShares: r.DistributedShares,
			IssuedTotal:       r.IssuedTotal,
			DecreasedTotal:    r.DecreasedTotal,
			TreasuryShares:    r.TreasuryShares,
			ListedTotal:       r.ListedTotal,
		})
	}
	return out, nil
}
