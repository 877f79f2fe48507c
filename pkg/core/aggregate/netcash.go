// Package aggregate reconciles extracted facts into liquidity and debt
// totals, net cash, share counts and ratios, applying the sum-or-none and
// missing-debt policies. Missing values stay missing; zero is only ever
// substituted by the explicit zero-debt policy.
package aggregate

import (
	"fact_reconciler/pkg/core/taxonomy"
)

// SumOrNone returns nil iff every input is nil, else the sum of the present
// values. A nil input means "not reported", never zero.
func SumOrNone(values ...*int64) *int64 {
	var sum int64
	seen := false
	for _, v := range values {
		if v == nil {
			continue
		}
		sum += *v
		seen = true
	}
	if !seen {
		return nil
	}
	return &sum
}

// ComputeNetCash applies the missing-debt policy:
//   - liquid nil: net cash is unknowable, debt passes through unchanged;
//   - debt nil with assumeZeroDebt: optimistic, debt counts as zero;
//   - debt nil without the flag: conservative, unknown debt blocks the metric;
//   - both present: plain subtraction.
//
// The returned debtUsed is what actually entered the computation, so callers
// can render the zero the policy injected.
func ComputeNetCash(liquid, debt *int64, assumeZeroDebt bool) (netCash, debtUsed *int64) {
	if liquid == nil {
		return nil, debt
	}
	if debt == nil {
		if assumeZeroDebt {
			zero := int64(0)
			net := *liquid
			return &net, &zero
		}
		return nil, nil
	}
	net := *liquid - *debt
	used := *debt
	return &net, &used
}

// AmountSource yields the reconciled amount for one canonical account, nil
// when unavailable. The pipeline backs it with the Korean line-item extractor
// or the US fact-bag selector.
type AmountSource func(taxonomy.Account) *int64

// LiquidFundsKorea sums the Korean near-cash composition: cash and
// equivalents plus the three short-term investment accounts.
func LiquidFundsKorea(src AmountSource) *int64 {
	return SumOrNone(
		src(taxonomy.CashEquivalents),
		src(taxonomy.ShortTermFinancialProducts),
		src(taxonomy.ShortTermAmortizedCost),
		src(taxonomy.ShortTermFairValue),
	)
}

// LiquidFundsUS sums cash and equivalents with current and noncurrent
// marketable securities.
func LiquidFundsUS(src AmountSource) *int64 {
	return SumOrNone(
		src(taxonomy.CashEquivalents),
		src(taxonomy.MarketableSecuritiesCurrent),
		src(taxonomy.MarketableSecuritiesNoncurrent),
	)
}

// InterestBearingDebt sums borrowings and bond liabilities. The current
// portion of long-term debt is itself a sum-or-none of its two
// sub-components, so a filer reporting neither leaves it unknown rather than
// zero.
func InterestBearingDebt(src AmountSource) *int64 {
	currentPortion := SumOrNone(
		src(taxonomy.CurrentLongTermBorrowings),
		src(taxonomy.CurrentBonds),
	)
	return SumOrNone(
		src(taxonomy.ShortTermBorrowings),
		currentPortion,
		src(taxonomy.Bonds),
		src(taxonomy.LongTermBorrowings),
	)
}
