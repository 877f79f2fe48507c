// Package pipeline composes the full reconciliation flow: resolve the
// company, schedule filing periods, fetch and extract disclosure facts,
// aggregate the derived figures, and assemble an immutable snapshot.
package pipeline

import (
	"time"

	"fact_reconciler/pkg/core/identity"
)

// QuoteDisplay carries formatted market-data strings. These supplement the
// reconciled figures and never replace them.
type QuoteDisplay struct {
	Price     string `json:"price,omitempty"`
	PER       string `json:"per,omitempty"`
	PBR       string `json:"pbr,omitempty"`
	Cash      string `json:"cash,omitempty"`
	DebtRatio string `json:"debt_ratio,omitempty"`
}

// FinancialSnapshot is the assembled answer for one company. Optional
// numerics are pointers; nil means the upstream never reported a usable
// figure and displays as "N/A". Immutable once returned.
type FinancialSnapshot struct {
	Identity    identity.CompanyIdentity `json:"identity"`
	PeriodLabel string                   `json:"period_label"`

	LiquidFunds         *int64 `json:"liquid_funds"`
	InterestBearingDebt *int64 `json:"interest_bearing_debt"`
	NetCash             *int64 `json:"net_cash"`
	SharesOutstanding   *int64 `json:"shares_outstanding"`
	SharesFromFallback  bool   `json:"shares_from_fallback,omitempty"`

	TotalAssets      *int64 `json:"total_assets"`
	TotalLiabilities *int64 `json:"total_liabilities"`
	Equity           *int64 `json:"equity"`
	Revenue          *int64 `json:"revenue"`
	OperatingIncome  *int64 `json:"operating_income"`
	NetIncome        *int64 `json:"net_income"`

	DebtRatio       *float64 `json:"debt_ratio"`
	NetCashPerShare *float64 `json:"net_cash_per_share"`
	NetCashToPrice  *float64 `json:"net_cash_to_price"`

	// Per-share net cash converted through the FX chain, for cross-currency
	// display. Nil when no rate resolved.
	NetCashPerShareFX *float64 `json:"net_cash_per_share_fx,omitempty"`
	FXPair            string   `json:"fx_pair,omitempty"`

	Quote QuoteDisplay `json:"quote"`

	// Growth keys: revenue, operating_income, net_income. Values are the
	// formatted average-growth strings with transition annotations.
	Growth map[string]string `json:"growth"`

	FetchedAt time.Time `json:"fetched_at"`
}
