package aggregate

import (
	"strings"

	"fact_reconciler/pkg/core/extract"
)

// StockTotalRow is one security-class row of the share-totals disclosure.
// Numbers arrive as comma-grouped strings.
type StockTotalRow struct {
	Class             string // se: security class, 보통주 for common stock
	DistributedShares string // distb_stock_co
	IssuedTotal       string // now_to_isu_stock_totqy
	DecreasedTotal    string // now_to_dcrs_stock_totqy
	TreasuryShares    string // tesstk_co
	ListedTotal       string // istc_totqy
}

// ParseStockTotals reconciles the share count used as the per-share
// denominator. The common-stock row is authoritative once present; preferred
// classes are never consulted in that case. Within the chosen row the
// disclosed distributed (float) figure wins, else issued minus decreased
// minus treasury when positive, else the listed total. Returns nil when
// nothing usable remains; the caller may then substitute a quote-source
// share count, flagged as a fallback.
func ParseStockTotals(rows []StockTotalRow) *int64 {
	if len(rows) == 0 {
		return nil
	}
	row := rows[0]
	for _, r := range rows {
		if strings.Contains(r.Class, "보통주") {
			row = r
			break
		}
	}

	if v := extract.ParseAmount(row.DistributedShares); v != nil && *v > 0 {
		return v
	}

	if issued := extract.ParseAmount(row.IssuedTotal); issued != nil {
		shares := *issued
		if d := extract.ParseAmount(row.DecreasedTotal); d != nil {
			shares -= *d
		}
		if tr := extract.ParseAmount(row.TreasuryShares); tr != nil {
			shares -= *tr
		}
		if shares > 0 {
			return &shares
		}
	}

	if v := extract.ParseAmount(row.ListedTotal); v != nil && *v > 0 {
		return v
	}
	return nil
}
