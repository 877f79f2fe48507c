// Package sweep scans a code universe chunk by chunk, quoting each chunk in
// one batched call and optionally reconciling fundamentals per code. Quote
// batching degrades gracefully: retryable failures back off and retry, and
// once a batch is given up the sweep drops to the single-quote endpoint for
// everything that remains.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fact_reconciler/pkg/core/aggregate"
	"fact_reconciler/pkg/core/errs"
	"fact_reconciler/pkg/core/identity"
	"fact_reconciler/pkg/core/ingest"
	"fact_reconciler/pkg/core/pipeline"
)

const (
	DefaultChunkSize  = ingest.MaxBatchQuoteSize
	DefaultMaxRetries = 3
	DefaultBackoff    = 500 * time.Millisecond
)

// QuoteSource is the batched-plus-single quote surface a sweep needs.
// *ingest.KISClient satisfies it.
type QuoteSource interface {
	InquirePrice(ctx context.Context, code string) (*ingest.PriceSnapshot, error)
	InquireMultiPrice(ctx context.Context, codes []string) (map[string]*ingest.PriceSnapshot, error)
}

// Snapshotter runs one reconciliation query. Backed by a quote-less
// pipeline.Service during sweeps so the chunk quote is the only market call.
type Snapshotter interface {
	Snapshot(ctx context.Context, q pipeline.Query) (*pipeline.FinancialSnapshot, error)
}

// Metric names a filterable row field.
type Metric string

const (
	MetricPrice           Metric = "price"
	MetricPER             Metric = "per"
	MetricPBR             Metric = "pbr"
	MetricNetCashPerShare Metric = "net_cash_per_share"
	MetricNetCashToPrice  Metric = "net_cash_to_price"
)

var knownMetrics = map[Metric]bool{
	MetricPrice:           true,
	MetricPER:             true,
	MetricPBR:             true,
	MetricNetCashPerShare: true,
	MetricNetCashToPrice:  true,
}

// Filter bounds one metric. Nil bounds are open. A bounded filter excludes
// rows where the metric is unknown, since an unknown value cannot be shown to
// satisfy the bound.
type Filter struct {
	Metric Metric   `json:"metric"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

func (f Filter) admits(v *float64) bool {
	if f.Min == nil && f.Max == nil {
		return true
	}
	if v == nil {
		return false
	}
	if f.Min != nil && *v < *f.Min {
		return false
	}
	if f.Max != nil && *v > *f.Max {
		return false
	}
	return true
}

// Row is one screened code.
type Row struct {
	Code            string   `json:"code"`
	Name            string   `json:"name,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	PER             *float64 `json:"per,omitempty"`
	PBR             *float64 `json:"pbr,omitempty"`
	NetCashPerShare *float64 `json:"net_cash_per_share,omitempty"`
	NetCashToPrice  *float64 `json:"net_cash_to_price,omitempty"`
	PeriodLabel     string   `json:"period_label,omitempty"`
}

func (r *Row) metric(m Metric) *float64 {
	switch m {
	case MetricPrice:
		return r.Price
	case MetricPER:
		return r.PER
	case MetricPBR:
		return r.PBR
	case MetricNetCashPerShare:
		return r.NetCashPerShare
	case MetricNetCashToPrice:
		return r.NetCashToPrice
	}
	return nil
}

// Result is a finished sweep.
type Result struct {
	RunID     string          `json:"run_id"`
	Market    identity.Market `json:"market"`
	Rows      []Row           `json:"rows"`
	Scanned   int             `json:"scanned"`
	Matched   int             `json:"matched"`
	Failed    int             `json:"failed"`
	LastError string          `json:"last_error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

// Progress is one ordered status update sent while a sweep runs. The SSE
// handler forwards these verbatim.
type Progress struct {
	Step    string `json:"step"`
	Status  string `json:"status"`
	Detail  string `json:"detail"`
	Scanned int    `json:"scanned"`
	Total   int    `json:"total"`
	Matched int    `json:"matched"`
	Failed  int    `json:"failed"`
}

// Options tune a sweep. Zero values take the package defaults.
type Options struct {
	ChunkSize  int
	MaxRetries int
	Backoff    time.Duration
	Market     identity.Market
	QuotesOnly bool
	Limit      int
	Filters    []Filter
}

// Runner executes sweeps. A nil snapshotter (or QuotesOnly) limits rows to
// quote fields.
type Runner struct {
	quotes    QuoteSource
	snapshots Snapshotter
	opts      Options
}

func NewRunner(quotes QuoteSource, snapshots Snapshotter, opts Options) *Runner {
	if opts.ChunkSize <= 0 || opts.ChunkSize > ingest.MaxBatchQuoteSize {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Market == "" {
		opts.Market = identity.MarketKR
	}
	return &Runner{quotes: quotes, snapshots: snapshots, opts: opts}
}

// Run sweeps the given codes. Individual failures are recorded and skipped;
// the sweep only fails outright when it has no targets or not a single target
// was fetchable. Progress may be nil; Run never closes it.
func (r *Runner) Run(ctx context.Context, codes []string, progress chan<- Progress) (*Result, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("no sweep targets: %w", errs.ErrEmptyResult)
	}
	for _, f := range r.opts.Filters {
		if !knownMetrics[f.Metric] {
			return nil, fmt.Errorf("unknown sweep metric %q: %w", f.Metric, errs.ErrConfiguration)
		}
	}
	if r.opts.Limit > 0 && len(codes) > r.opts.Limit {
		codes = codes[:r.opts.Limit]
	}

	res := &Result{
		RunID:     uuid.New().String(),
		Market:    r.opts.Market,
		StartedAt: time.Now(),
	}
	total := len(codes)
	fmt.Printf("[SWEEP] run %s: %d codes, chunk size %d\n", res.RunID, total, r.opts.ChunkSize)
	r.report(ctx, progress, Progress{
		Step: "init", Status: "started",
		Detail: fmt.Sprintf("run %s: sweeping %d codes", res.RunID, total),
		Total:  total,
	})

	downgraded := false
	var lastErr error
	for start := 0; start < len(codes); start += r.opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + r.opts.ChunkSize
		if end > len(codes) {
			end = len(codes)
		}
		chunk := codes[start:end]

		quotes := r.quoteChunk(ctx, chunk, &downgraded, &lastErr, progress)

		for _, code := range chunk {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			row, err := r.buildRow(ctx, code, quotes[code])
			res.Scanned++
			if err != nil {
				res.Failed++
				lastErr = err
				fmt.Printf("[SWEEP] %s skipped: %v\n", code, err)
				continue
			}
			if r.admit(row) {
				res.Rows = append(res.Rows, *row)
				res.Matched++
			}
		}

		r.report(ctx, progress, Progress{
			Step: "chunk", Status: "done",
			Detail:  fmt.Sprintf("codes %d-%d of %d", start+1, end, total),
			Scanned: res.Scanned, Total: total, Matched: res.Matched, Failed: res.Failed,
		})
	}

	if res.Failed == res.Scanned {
		return nil, fmt.Errorf("no sweep target was fetchable: %w", lastErr)
	}
	if lastErr != nil {
		res.LastError = lastErr.Error()
	}
	res.ElapsedMs = time.Since(res.StartedAt).Milliseconds()

	fmt.Printf("[SWEEP] run %s done: %d matched, %d failed of %d\n", res.RunID, res.Matched, res.Failed, res.Scanned)
	r.report(ctx, progress, Progress{
		Step: "done", Status: "done",
		Detail:  fmt.Sprintf("%d matched, %d failed of %d", res.Matched, res.Failed, res.Scanned),
		Scanned: res.Scanned, Total: total, Matched: res.Matched, Failed: res.Failed,
	})
	return res, nil
}

// quoteChunk quotes one chunk. Batched first, with exponential backoff on
// retryable failures; once the batch path is exhausted the sweep stays in
// single-quote mode. Missing quotes surface as absent map entries, never as
// chunk failures.
func (r *Runner) quoteChunk(ctx context.Context, chunk []string, downgraded *bool, lastErr *error, progress chan<- Progress) map[string]*ingest.PriceSnapshot {
	if r.quotes == nil {
		return nil
	}

	if !*downgraded {
		backoff := r.opts.Backoff
		for attempt := 1; attempt <= r.opts.MaxRetries; attempt++ {
			quotes, err := r.quotes.InquireMultiPrice(ctx, chunk)
			if err == nil {
				return quotes
			}
			*lastErr = err
			if !errs.IsRetryable(err) {
				break
			}
			if attempt < r.opts.MaxRetries {
				fmt.Printf("[SWEEP] batch quote attempt %d/%d failed, retrying in %v: %v\n",
					attempt, r.opts.MaxRetries, backoff, err)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil
				}
				backoff *= 2
			}
		}
		*downgraded = true
		fmt.Println("[SWEEP] batch quotes exhausted, downgrading to single-quote mode")
		r.report(ctx, progress, Progress{
			Step: "downgrade", Status: "done",
			Detail: "batched quotes unavailable, continuing one code at a time",
		})
	}

	out := make(map[string]*ingest.PriceSnapshot, len(chunk))
	for _, code := range chunk {
		if ctx.Err() != nil {
			return out
		}
		ps, err := r.quotes.InquirePrice(ctx, code)
		if err != nil {
			*lastErr = err
			continue
		}
		out[code] = ps
	}
	return out
}

// buildRow assembles one row from the chunk quote and, unless the sweep is
// quotes-only, a reconciled snapshot. The value ratio is computed here
// because the snapshotter runs without a quote source during sweeps.
func (r *Runner) buildRow(ctx context.Context, code string, ps *ingest.PriceSnapshot) (*Row, error) {
	row := &Row{Code: code}
	if ps != nil {
		row.Name = ps.Name
		row.Price = ps.Price
		row.PER = ps.PER
		row.PBR = ps.PBR
	}

	if r.snapshots == nil || r.opts.QuotesOnly {
		if ps == nil {
			return nil, fmt.Errorf("no quote for %s", code)
		}
		return row, nil
	}

	snap, err := r.snapshots.Snapshot(ctx, pipeline.Query{Input: code, Market: r.opts.Market})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", code, err)
	}
	if row.Name == "" {
		row.Name = snap.Identity.DisplayName
	}
	row.PeriodLabel = snap.PeriodLabel
	row.NetCashPerShare = snap.NetCashPerShare
	row.NetCashToPrice = aggregate.NetCashToPrice(snap.NetCashPerShare, row.Price)
	return row, nil
}

func (r *Runner) admit(row *Row) bool {
	for _, f := range r.opts.Filters {
		if !f.admits(row.metric(f.Metric)) {
			return false
		}
	}
	return true
}

func (r *Runner) report(ctx context.Context, ch chan<- Progress, p Progress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	case <-ctx.Done():
	}
}
