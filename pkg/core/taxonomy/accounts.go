// Package taxonomy fixes the set of canonical financial-statement concepts
// the engine reconciles, together with the label aliases that denote each
// concept across filers. Korean GAAP labels and US XBRL concept tags share
// one alias set per account; alias keys are disjoint across accounts.
package taxonomy

import (
	"fmt"

	"fact_reconciler/pkg/core/normalize"
)

// Account is a canonical concept. The constant value is the account's
// canonical label as it appears in Korean periodic filings (US-only concepts
// carry their primary XBRL tag instead), so a raw disclosure row whose label
// normalizes to the canonical key matches even without an alias entry.
type Account string

const (
	Revenue          Account = "매출액"
	OperatingIncome  Account = "영업이익"
	NetIncome        Account = "당기순이익"
	TotalAssets      Account = "자산총계"
	TotalLiabilities Account = "부채총계"
	TotalEquity      Account = "자본총계"

	CashEquivalents            Account = "현금및현금성자산"
	ShortTermFinancialProducts Account = "단기금융상품"
	ShortTermAmortizedCost     Account = "단기상각후원가금융자산"
	ShortTermFairValue         Account = "단기당기손익-공정가치금융자산"

	MarketableSecuritiesCurrent    Account = "MarketableSecuritiesCurrent"
	MarketableSecuritiesNoncurrent Account = "MarketableSecuritiesNoncurrent"

	ShortTermBorrowings       Account = "단기차입금"
	CurrentLongTermBorrowings Account = "유동성장기차입금"
	CurrentBonds              Account = "유동성사채"
	Bonds                     Account = "사채"
	LongTermBorrowings        Account = "장기차입금"
)

// All lists every account in a stable order (statement order: income
// statement, balance-sheet totals, liquidity, debt).
var All = []Account{
	Revenue, OperatingIncome, NetIncome,
	TotalAssets, TotalLiabilities, TotalEquity,
	CashEquivalents, ShortTermFinancialProducts, ShortTermAmortizedCost, ShortTermFairValue,
	MarketableSecuritiesCurrent, MarketableSecuritiesNoncurrent,
	ShortTermBorrowings, CurrentLongTermBorrowings, CurrentBonds, Bonds, LongTermBorrowings,
}

// entry holds the ordered alias lists for one account. labels are filing-row
// labels (canonical label first); tags are US XBRL concept tags in preference
// order. Order matters: the fact selector breaks residual ties toward the
// earlier tag.
type entry struct {
	labels []string
	tags   []string
}

var catalog = map[Account]entry{
	Revenue: {
		labels: []string{"매출액", "영업수익", "수익(매출)", "매출수익"},
		tags:   []string{"RevenueFromContractWithCustomerExcludingAssessedTax", "Revenues", "SalesRevenueNet"},
	},
	OperatingIncome: {
		labels: []string{"영업이익"},
		tags:   []string{"OperatingIncomeLoss"},
	},
	NetIncome: {
		labels: []string{"당기순이익", "분기순이익", "반기순이익", "지배기업의 소유주에게 귀속되는 당기순이익"},
		tags:   []string{"NetIncomeLoss", "ProfitLoss"},
	},
	TotalAssets: {
		labels: []string{"자산총계", "자산총액"},
		tags:   []string{"Assets"},
	},
	TotalLiabilities: {
		labels: []string{"부채총계", "부채총액"},
		tags:   []string{"Liabilities"},
	},
	TotalEquity: {
		labels: []string{"자본총계", "자본총액"},
		tags: []string{
			"StockholdersEquity",
			"StockholdersEquityIncludingPortionAttributableToNoncontrollingInterest",
		},
	},
	CashEquivalents: {
		labels: []string{
			"현금및현금성자산",
			"현금및현금성자산및예치금",
			"현금및현금성자산(유동)",
			"현금및현금성자산(비유동)",
			"현금및현금성자산및단기금융상품",
			"cashandcashequivalents",
			"cash_and_cash_equivalents",
		},
		tags: []string{
			"CashAndCashEquivalentsAtCarryingValue",
			"CashCashEquivalentsRestrictedCashAndRestrictedCashEquivalents",
		},
	},
	ShortTermFinancialProducts: {
		labels: []string{"단기금융상품", "단기투자자산"},
	},
	ShortTermAmortizedCost: {
		labels: []string{"단기상각후원가금융자산", "상각후원가금융자산(유동)"},
	},
	ShortTermFairValue: {
		labels: []string{"단기당기손익-공정가치금융자산", "당기손익-공정가치금융자산(유동)", "당기손익인식금융자산(유동)"},
	},
	MarketableSecuritiesCurrent: {
		labels: []string{},
		tags:   []string{"MarketableSecuritiesCurrent", "ShortTermInvestments", "AvailableForSaleSecuritiesCurrent"},
	},
	MarketableSecuritiesNoncurrent: {
		labels: []string{},
		tags:   []string{"MarketableSecuritiesNoncurrent", "AvailableForSaleSecuritiesNoncurrent"},
	},
	ShortTermBorrowings: {
		labels: []string{"단기차입금", "단기사채"},
		tags:   []string{"ShortTermBorrowings", "CommercialPaper"},
	},
	CurrentLongTermBorrowings: {
		labels: []string{"유동성장기차입금", "유동성장기부채"},
		tags:   []string{"LongTermDebtCurrent"},
	},
	CurrentBonds: {
		labels: []string{"유동성사채"},
	},
	Bonds: {
		labels: []string{"사채", "회사채"},
	},
	LongTermBorrowings: {
		labels: []string{"장기차입금"},
		tags:   []string{"LongTermDebtNoncurrent", "LongTermBorrowings"},
	},
}

// aliasIndex maps every normalized alias (labels, tags, canonical keys) onto
// its account. Built once; Verify checks the disjointness invariant.
var aliasIndex = buildIndex()

func buildIndex() map[string]Account {
	idx := make(map[string]Account)
	for _, acct := range All {
		e := catalog[acct]
		idx[normalize.Key(string(acct))] = acct
		for _, label := range e.labels {
			idx[normalize.Key(label)] = acct
		}
		for _, tag := range e.tags {
			idx[normalize.Key(tag)] = acct
		}
	}
	return idx
}

// Resolve maps a normalized label key onto its account.
func Resolve(key string) (Account, bool) {
	acct, ok := aliasIndex[key]
	return acct, ok
}

// AddAliases registers extra filer spellings for an account, typically from
// the operator overrides file. Call during startup; the index is read
// without locking once lookups begin. A spelling already owned by another
// account is rejected to keep the index disjoint.
func AddAliases(acct Account, labels ...string) error {
	e, ok := catalog[acct]
	if !ok {
		return fmt.Errorf("unknown account %q", string(acct))
	}
	for _, label := range labels {
		key := normalize.Key(label)
		if key == "" {
			continue
		}
		if owner, seen := aliasIndex[key]; seen {
			if owner != acct {
				return fmt.Errorf("alias %q already maps to %q", label, string(owner))
			}
			continue
		}
		aliasIndex[key] = acct
		e.labels = append(e.labels, label)
	}
	catalog[acct] = e
	return nil
}

// ResolveLabel normalizes a raw filing label and resolves it.
func ResolveLabel(label string) (Account, bool) {
	return Resolve(normalize.Key(label))
}

// Aliases returns the ordered filing-label aliases of an account, canonical
// label first.
func Aliases(acct Account) []string {
	e := catalog[acct]
	out := make([]string, 0, len(e.labels)+1)
	out = append(out, string(acct))
	for _, label := range e.labels {
		if label != string(acct) {
			out = append(out, label)
		}
	}
	return out
}

// Tags returns the ordered US XBRL concept tags for an account. Empty for
// concepts that only occur in Korean filings.
func Tags(acct Account) []string {
	return catalog[acct].tags
}

// Verify re-derives the alias index and reports the first pair of distinct
// accounts whose aliases collide after normalization. Returns ("", "", "")
// when the table is disjoint. Exposed so the invariant is testable.
func Verify() (key string, a, b Account) {
	idx := make(map[string]Account)
	for _, acct := range All {
		keys := []string{normalize.Key(string(acct))}
		e := catalog[acct]
		for _, label := range e.labels {
			keys = append(keys, normalize.Key(label))
		}
		for _, tag := range e.tags {
			keys = append(keys, normalize.Key(tag))
		}
		for _, k := range keys {
			if prev, seen := idx[k]; seen && prev != acct {
				return k, prev, acct
			}
			idx[k] = acct
		}
	}
	return "", "", ""
}
