package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"fact_reconciler/pkg/core/errs"
	"fact_reconciler/pkg/core/extract"
)

const (
	kisProdBaseURL  = "https://openapi.koreainvestment.com:9443"
	kisPaperBaseURL = "https://openapivts.koreainvestment.com:29443"

	kisTokenPath      = "/oauth2/tokenP"
	kisPricePath      = "/uapi/domestic-stock/v1/quotations/inquire-price"
	kisMultiPricePath = "/uapi/domestic-stock/v1/quotations/intstock-multprice"
	kisRatioPath      = "/uapi/domestic-stock/v1/finance/financial-ratio"
	kisBalancePath    = "/uapi/domestic-stock/v1/finance/balance-sheet"

	trInquirePrice = "FHKST01010100"
	trMultiPrice   = "FHKST11300006"
	trFinRatio     = "FHKST66430300"
	trBalanceSheet = "FHKST66430100"

	// MaxBatchQuoteSize is the largest symbol count the multi-quote endpoint
	// accepts per request.
	MaxBatchQuoteSize = 30
)

// PriceSnapshot is one symbol's quote. Pointer fields are nil when the
// upstream omitted or failed to report them.
type PriceSnapshot struct {
	Name         string
	Code         string
	Price        *float64
	PER          *float64
	PBR          *float64
	ListedShares *int64
}

// KISClient wraps the brokerage quote API. Tokens are cached until shortly
// before expiry and refreshed under a mutex, so the client is safe for
// concurrent use.
type KISClient struct {
	httpClient *http.Client
	baseURL    string
	appKey     string
	appSecret  string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewKISClient creates a quote client. paper selects the sandbox host, which
// issues tokens against the same credential scheme as production.
func NewKISClient(appKey, appSecret string, paper bool) *KISClient {
	base := kisProdBaseURL
	if paper {
		base = kisPaperBaseURL
	}
	return &KISClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    base,
		appKey:     appKey,
		appSecret:  appSecret,
	}
}

// ensureToken returns a valid access token, requesting a fresh one when the
// cached token is missing or within 30 seconds of expiry.
func (c *KISClient) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}
	if c.appKey == "" || c.appSecret == "" {
		return "", fmt.Errorf("brokerage credentials missing: %w", errs.ErrConfiguration)
	}

	payload, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"appsecret":  c.appSecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+kisTokenPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %v: %w", err, errs.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d: %w", resp.StatusCode, errs.ErrUpstreamUnavailable)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access token: %w", errs.ErrUpstreamUnavailable)
	}

	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - 30*time.Second)
	return c.token, nil
}

// kisEnvelope is the common response wrapper; rt_cd "0" means success.
type kisEnvelope struct {
	RtCd   string          `json:"rt_cd"`
	MsgCd  string          `json:"msg_cd"`
	Msg1   string          `json:"msg1"`
	Output json.RawMessage `json:"output"`
}

// get issues an authorized quote request and decodes the envelope. HTTP 429
// and 5xx map to the retryable upstream error so callers can back off.
func (c *KISClient) get(ctx context.Context, path, trID string, params url.Values) (*kisEnvelope, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.appKey)
	req.Header.Set("appsecret", c.appSecret)
	req.Header.Set("tr_id", trID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %v: %w", err, errs.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("quote endpoint returned status %d: %w", resp.StatusCode, errs.ErrUpstreamUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote endpoint returned status %d", resp.StatusCode)
	}

	var env kisEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}
	if env.RtCd != "0" {
		return nil, &errs.StatusError{Code: env.MsgCd, Message: env.Msg1}
	}
	return &env, nil
}

// kisPriceOutput mirrors the single-symbol quote payload.
type kisPriceOutput struct {
	Name         string `json:"hts_kor_isnm"`
	Price        string `json:"stck_prpr"`
	PER          string `json:"per"`
	PBR          string `json:"pbr"`
	ListedShares string `json:"lstn_stcn"`
}

// InquirePrice fetches the full quote for one symbol.
func (c *KISClient) InquirePrice(ctx context.Context, code string) (*PriceSnapshot, error) {
	env, err := c.get(ctx, kisPricePath, trInquirePrice, url.Values{
		"FID_COND_MRKT_DIV_CODE": {"J"},
		"FID_INPUT_ISCD":         {code},
	})
	if err != nil {
		return nil, err
	}

	var out kisPriceOutput
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return nil, fmt.Errorf("failed to parse quote output: %w", err)
	}

	snap := &PriceSnapshot{
		Name:  strings.TrimSpace(out.Name),
		Code:  code,
		Price: extract.ParseDecimal(out.Price),
		PER:   extract.ParseDecimal(out.PER),
		PBR:   extract.ParseDecimal(out.PBR),
	}
	if shares := extract.ParseAmount(out.ListedShares); shares != nil && *shares > 0 {
		snap.ListedShares = shares
	}
	return snap, nil
}

// kisMultiPriceItem is one row of the watchlist quote payload. The batch
// endpoint reports name and price only; PER and PBR need the single-symbol
// call.
type kisMultiPriceItem struct {
	Code  string `json:"inter_shrn_iscd"`
	Name  string `json:"inter_kor_isnm"`
	Price string `json:"inter2_prpr"`
}

// InquireMultiPrice fetches quotes for up to MaxBatchQuoteSize symbols in
// one request. Results come back keyed by symbol; symbols the upstream
// dropped are simply absent.
func (c *KISClient) InquireMultiPrice(ctx context.Context, codes []string) (map[string]*PriceSnapshot, error) {
	if len(codes) == 0 {
		return map[string]*PriceSnapshot{}, nil
	}
	if len(codes) > MaxBatchQuoteSize {
		return nil, fmt.Errorf("batch quote limited to %d symbols, got %d", MaxBatchQuoteSize, len(codes))
	}

	params := url.Values{}
	for i, code := range codes {
		params.Set(fmt.Sprintf("FID_COND_MRKT_DIV_CODE_%d", i+1), "J")
		params.Set(fmt.Sprintf("FID_INPUT_ISCD_%d", i+1), code)
	}

	env, err := c.get(ctx, kisMultiPricePath, trMultiPrice, params)
	if err != nil {
		return nil, err
	}

	var items []kisMultiPriceItem
	if err := json.Unmarshal(env.Output, &items); err != nil {
		return nil, fmt.Errorf("failed to parse batch quote output: %w", err)
	}

	quotes := make(map[string]*PriceSnapshot, len(items))
	for _, item := range items {
		code := strings.TrimSpace(item.Code)
		if code == "" {
			continue
		}
		quotes[code] = &PriceSnapshot{
			Name:  strings.TrimSpace(item.Name),
			Code:  code,
			Price: extract.ParseDecimal(item.Price),
		}
	}
	return quotes, nil
}

// firstInOutput unwraps the finance endpoints, which return either a single
// object or a list with the latest entry first.
func firstInOutput(raw json.RawMessage) (map[string]any, error) {
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return nil, fmt.Errorf("finance output was empty: %w", errs.ErrEmptyResult)
		}
		return list[0], nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse finance output: %w", err)
	}
	return obj, nil
}

// coerceNumber parses a JSON value that may arrive as a number or as
// formatted text.
func coerceNumber(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case string:
		return extract.ParseDecimal(n)
	default:
		return nil
	}
}

// pickNumber reads the first parseable value among the exact keys, then
// falls back to scanning for keys containing any of the tokens. Keys are
// scanned in sorted order so the fallback is deterministic.
func pickNumber(entry map[string]any, exact []string, tokens []string) *float64 {
	for _, key := range exact {
		if v, ok := entry[key]; ok {
			if n := coerceNumber(v); n != nil {
				return n
			}
		}
	}
	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lower := strings.ToLower(k)
		for _, token := range tokens {
			if strings.Contains(lower, token) {
				if n := coerceNumber(entry[k]); n != nil {
					return n
				}
				break
			}
		}
	}
	return nil
}

// debtRatioKeys lists the field spellings seen across API revisions.
var debtRatioKeys = []string{"lblt_rate", "lblt_rto", "lblt_rt", "debt_rto", "debt_ratio", "debt_rt"}

// FinancialRatios fetches the latest reported debt ratio for a symbol,
// tolerating the field-name drift between API revisions.
func (c *KISClient) FinancialRatios(ctx context.Context, code string) (*float64, error) {
	env, err := c.get(ctx, kisRatioPath, trFinRatio, url.Values{
		"FID_DIV_CLS_CODE":       {"0"},
		"fid_cond_mrkt_div_code": {"J"},
		"fid_input_iscd":         {code},
	})
	if err != nil {
		return nil, err
	}
	entry, err := firstInOutput(env.Output)
	if err != nil {
		return nil, err
	}
	return pickNumber(entry, debtRatioKeys, []string{"lblt", "debt", "liab", "부채"}), nil
}

// BalanceSheetCash fetches the latest reported cash balance for a symbol.
func (c *KISClient) BalanceSheetCash(ctx context.Context, code string) (*float64, error) {
	env, err := c.get(ctx, kisBalancePath, trBalanceSheet, url.Values{
		"FID_DIV_CLS_CODE":       {"0"},
		"fid_cond_mrkt_div_code": {"J"},
		"fid_input_iscd":         {code},
	})
	if err != nil {
		return nil, err
	}
	entry, err := firstInOutput(env.Output)
	if err != nil {
		return nil, err
	}
	return pickNumber(entry, nil, []string{"cash", "csh", "현금"}), nil
}
