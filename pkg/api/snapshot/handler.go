// Package snapshot serves reconciled company snapshots over HTTP, as JSON
// and as rendered reports.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"fact_reconciler/pkg/core/errs"
	"fact_reconciler/pkg/core/identity"
	"fact_reconciler/pkg/core/pipeline"
)

// Service is the slice of the pipeline these handlers call.
type Service interface {
	Snapshot(ctx context.Context, q pipeline.Query) (*pipeline.FinancialSnapshot, error)
}

// Handler holds dependencies for snapshot endpoints.
type Handler struct {
	Svc Service
}

// NewHandler creates a snapshot handler backed by the given service.
func NewHandler(svc Service) *Handler {
	return &Handler{Svc: svc}
}

// parseQuery maps request parameters onto a pipeline query. The report
// handler accepts the same parameters.
func parseQuery(r *http.Request) (pipeline.Query, error) {
	qv := r.URL.Query()
	q := pipeline.Query{Input: strings.TrimSpace(qv.Get("input"))}
	if q.Input == "" {
		return q, fmt.Errorf("missing input parameter")
	}

	switch strings.ToUpper(qv.Get("market")) {
	case "", "KR":
		q.Market = identity.MarketKR
	case "US":
		q.Market = identity.MarketUS
	default:
		return q, fmt.Errorf("unknown market %q", qv.Get("market"))
	}

	if v := qv.Get("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			return q, fmt.Errorf("bad year %q", v)
		}
		q.Year = year
	}
	if v := qv.Get("assume_zero_debt"); v != "" {
		flag := v == "true" || v == "1"
		q.AssumeZeroDebt = &flag
	}
	q.SkipCache = qv.Get("skip_cache") == "true" || qv.Get("skip_cache") == "1"
	return q, nil
}

// httpStatus maps pipeline error kinds onto response codes.
func httpStatus(err error) int {
	var status *errs.StatusError
	switch {
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrEmptyResult):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrUpstreamUnavailable), errors.As(err, &status):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleSnapshot handles GET /api/snapshot. Parameters: input (required),
// market, year, assume_zero_debt, skip_cache.
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	q, err := parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fmt.Printf("[API] snapshot request: input=%q market=%s year=%d\n", q.Input, q.Market, q.Year)
	snap, err := h.Svc.Snapshot(r.Context(), q)
	if err != nil {
		fmt.Printf("[API] snapshot failed: %v\n", err)
		http.Error(w, err.Error(), httpStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}
