// Package extract turns raw disclosure rows into amounts for canonical
// accounts: Korean filing line-items matched through the alias table, and US
// XBRL fact bags ranked by form priority and recency.
package extract

import (
	"math"
	"strconv"
	"strings"

	"fact_reconciler/pkg/core/normalize"
	"fact_reconciler/pkg/core/taxonomy"
)

// LineItem is one row of a Korean periodic filing. Amount holds the current
// period figure; AddAmount the cumulative alternative some flow statements
// report instead. Either may be blank.
type LineItem struct {
	AccountLabel string
	Amount       string
	AddAmount    string
}

// ParseAmount converts disclosure number text to an integer amount.
// Thousands separators are stripped, a parenthesized value means negative,
// and fractional text truncates toward zero. Returns nil for empty, "-",
// "None", "NaN" and anything else that does not parse.
func ParseAmount(value string) *int64 {
	text := strings.TrimSpace(value)
	switch text {
	case "", "-", "None", "NaN":
		return nil
	}
	text = strings.ReplaceAll(text, ",", "")
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") {
		text = "-" + text[1:len(text)-1]
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	v := int64(f)
	return &v
}

// ParseDecimal is ParseAmount without the integer truncation, for quote
// fields like PER and PBR that carry fractional values.
func ParseDecimal(value string) *float64 {
	text := strings.TrimSpace(value)
	switch text {
	case "", "-", "None", "NaN":
		return nil
	}
	text = strings.ReplaceAll(text, ",", "")
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") {
		text = "-" + text[1:len(text)-1]
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// amountOf picks the reported figure of a line item: the current-period
// amount when present, else the cumulative one.
func amountOf(item LineItem) *int64 {
	if strings.TrimSpace(item.Amount) != "" {
		return ParseAmount(item.Amount)
	}
	return ParseAmount(item.AddAmount)
}

// FindAmount scans items in order and returns the first parseable amount
// whose label denotes the target account. A label matches when the alias
// table resolves it to the account, or when it normalizes to the account's
// canonical key directly (covers filers the alias table has not caught up
// with). Returns nil when no matching item parses.
func FindAmount(items []LineItem, acct taxonomy.Account) *int64 {
	canonical := normalize.Key(string(acct))
	for _, item := range items {
		label := strings.TrimSpace(item.AccountLabel)
		if label == "" {
			continue
		}
		key := normalize.Key(label)
		resolved, ok := taxonomy.Resolve(key)
		if (!ok || resolved != acct) && key != canonical {
			continue
		}
		if v := amountOf(item); v != nil {
			return v
		}
	}
	return nil
}
