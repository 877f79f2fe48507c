package snapshot

import (
	"fmt"
	"net/http"

	"fact_reconciler/pkg/core/report"
)

// HandleReport handles GET /api/report. Takes the same parameters as the
// snapshot endpoint and renders the result as a document instead of JSON.
// format=markdown returns the source markdown.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
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

	snap, err := h.Svc.Snapshot(r.Context(), q)
	if err != nil {
		fmt.Printf("[API] report failed: %v\n", err)
		http.Error(w, err.Error(), httpStatus(err))
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		fmt.Fprint(w, report.Markdown(snap))
		return
	}

	html, err := report.HTML(snap)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}
