// Package sweep streams market-wide scans over SSE so clients can watch a
// long-running sweep chunk by chunk.
package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"fact_reconciler/pkg/core/identity"
	coreSweep "fact_reconciler/pkg/core/sweep"
)

// ProgressEvent is a single SSE frame. Step mirrors the sweep progress steps,
// with "complete" and "error" terminating the stream.
type ProgressEvent struct {
	Step    string `json:"step"`
	Status  string `json:"status"`
	Detail  string `json:"detail"`
	Scanned int    `json:"scanned"`
	Total   int    `json:"total"`
	Matched int    `json:"matched"`
	Failed  int    `json:"failed"`
	Data    any    `json:"data,omitempty"`
}

// Universe lists the sweep targets for a request that does not name its own
// codes, typically the full exchange listing.
type Universe func(ctx context.Context) ([]string, error)

// Handler builds a runner per request so each stream carries its own filters.
type Handler struct {
	Quotes    coreSweep.QuoteSource
	Snapshots coreSweep.Snapshotter
	Universe  Universe
	Opts      coreSweep.Options
}

// NewHandler wires the sweep stream dependencies. Opts supplies the defaults
// that request parameters may override.
func NewHandler(quotes coreSweep.QuoteSource, snapshots coreSweep.Snapshotter, universe Universe, opts coreSweep.Options) *Handler {
	return &Handler{Quotes: quotes, Snapshots: snapshots, Universe: universe, Opts: opts}
}

var filterableMetrics = []coreSweep.Metric{
	coreSweep.MetricPrice,
	coreSweep.MetricPER,
	coreSweep.MetricPBR,
	coreSweep.MetricNetCashPerShare,
	coreSweep.MetricNetCashToPrice,
}

// requestOptions copies the handler defaults and applies request parameters:
// market, limit, chunk, quotes_only, codes, and min_/max_ bounds per metric.
func (h *Handler) requestOptions(r *http.Request) (coreSweep.Options, []string, error) {
	opts := h.Opts
	opts.Filters = append([]coreSweep.Filter(nil), h.Opts.Filters...)
	qv := r.URL.Query()

	switch strings.ToUpper(qv.Get("market")) {
	case "":
	case "KR":
		opts.Market = identity.MarketKR
	case "US":
		opts.Market = identity.MarketUS
	default:
		return opts, nil, fmt.Errorf("unknown market %q", qv.Get("market"))
	}

	if v := qv.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, nil, fmt.Errorf("bad limit %q", v)
		}
		opts.Limit = n
	}
	if v := qv.Get("chunk"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, nil, fmt.Errorf("bad chunk %q", v)
		}
		opts.ChunkSize = n
	}
	if v := qv.Get("quotes_only"); v == "true" || v == "1" {
		opts.QuotesOnly = true
	}

	for _, metric := range filterableMetrics {
		f := coreSweep.Filter{Metric: metric}
		bounded := false
		if v := qv.Get("min_" + string(metric)); v != "" {
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return opts, nil, fmt.Errorf("bad min_%s %q", metric, v)
			}
			f.Min = &x
			bounded = true
		}
		if v := qv.Get("max_" + string(metric)); v != "" {
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return opts, nil, fmt.Errorf("bad max_%s %q", metric, v)
			}
			f.Max = &x
			bounded = true
		}
		if bounded {
			opts.Filters = append(opts.Filters, f)
		}
	}

	var codes []string
	for _, c := range strings.Split(qv.Get("codes"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	return opts, codes, nil
}

// HandleSweepStream handles GET /api/sweep/stream with SSE progress frames.
func (h *Handler) HandleSweepStream(w http.ResponseWriter, r *http.Request) {
	// SSE headers - must be set before any write
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sendEvent := func(event ProgressEvent) {
		data, _ := json.Marshal(event)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	sendEvent(ProgressEvent{Step: "init", Status: "started", Detail: "Connection established"})

	opts, codes, err := h.requestOptions(r)
	if err != nil {
		sendEvent(ProgressEvent{Step: "error", Status: "error", Detail: err.Error()})
		return
	}

	if len(codes) == 0 {
		if h.Universe == nil {
			sendEvent(ProgressEvent{Step: "error", Status: "error", Detail: "no sweep universe configured"})
			return
		}
		sendEvent(ProgressEvent{Step: "universe", Status: "started", Detail: "Loading exchange listing..."})
		codes, err = h.Universe(r.Context())
		if err != nil {
			sendEvent(ProgressEvent{Step: "universe", Status: "error", Detail: fmt.Sprintf("Universe load failed: %v", err)})
			return
		}
		sendEvent(ProgressEvent{Step: "universe", Status: "done", Detail: fmt.Sprintf("%d listed codes", len(codes))})
	}

	runner := coreSweep.NewRunner(h.Quotes, h.Snapshots, opts)
	progress := make(chan coreSweep.Progress, 16)

	var (
		result *coreSweep.Result
		runErr error
	)
	go func() {
		result, runErr = runner.Run(r.Context(), codes, progress)
		close(progress)
	}()

	for p := range progress {
		sendEvent(ProgressEvent{
			Step:    p.Step,
			Status:  p.Status,
			Detail:  p.Detail,
			Scanned: p.Scanned,
			Total:   p.Total,
			Matched: p.Matched,
			Failed:  p.Failed,
		})
	}

	// Run has returned once the channel closes, so result and runErr are
	// settled here.
	if runErr != nil {
		sendEvent(ProgressEvent{Step: "error", Status: "error", Detail: runErr.Error()})
		return
	}
	sendEvent(ProgressEvent{
		Step:    "complete",
		Status:  "done",
		Detail:  fmt.Sprintf("Matched %d of %d in %dms", result.Matched, result.Scanned, result.ElapsedMs),
		Scanned: result.Scanned,
		Total:   len(codes),
		Matched: result.Matched,
		Failed:  result.Failed,
		Data:    result,
	})
}
