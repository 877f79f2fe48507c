// Package report renders a reconciled snapshot as a markdown document, with
// an HTML conversion for the API.
package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"fact_reconciler/pkg/core/aggregate"
	"fact_reconciler/pkg/core/pipeline"
)

// renderer carries the GFM extensions; plain goldmark drops markdown tables.
var renderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Markdown renders one snapshot. Missing figures stay visible as N/A rows so
// the report shows what could not be reconciled, not just what could.
func Markdown(snap *pipeline.FinancialSnapshot) string {
	var b strings.Builder

	switch {
	case snap.Identity.DisplayName != "" && snap.Identity.PrimaryCode != "":
		fmt.Fprintf(&b, "# %s (%s)\n\n", snap.Identity.DisplayName, snap.Identity.PrimaryCode)
	case snap.Identity.DisplayName != "":
		fmt.Fprintf(&b, "# %s\n\n", snap.Identity.DisplayName)
	default:
		fmt.Fprintf(&b, "# %s\n\n", snap.Identity.PrimaryCode)
	}

	fmt.Fprintf(&b, "Market: %s  \n", snap.Identity.Market)
	if snap.PeriodLabel != "" {
		fmt.Fprintf(&b, "Period: %s  \n", snap.PeriodLabel)
	}
	if !snap.FetchedAt.IsZero() {
		fmt.Fprintf(&b, "Fetched: %s  \n", snap.FetchedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	b.WriteString("\n")

	if snap.Quote != (pipeline.QuoteDisplay{}) {
		b.WriteString("## Market quote\n\n| Field | Value |\n|---|---|\n")
		quoteRow := func(field, value string) {
			if value == "" {
				return
			}
			fmt.Fprintf(&b, "| %s | %s |\n", field, value)
		}
		quoteRow("Price", snap.Quote.Price)
		quoteRow("PER", snap.Quote.PER)
		quoteRow("PBR", snap.Quote.PBR)
		quoteRow("Debt ratio (quoted)", snap.Quote.DebtRatio)
		quoteRow("Cash (quoted)", snap.Quote.Cash)
		b.WriteString("\n")
	}

	b.WriteString("## Reconciled figures\n\n| Account | Amount |\n|---|---|\n")
	fmt.Fprintf(&b, "| Revenue | %s |\n", aggregate.FormatAmount(snap.Revenue))
	fmt.Fprintf(&b, "| Operating income | %s |\n", aggregate.FormatAmount(snap.OperatingIncome))
	fmt.Fprintf(&b, "| Net income | %s |\n", aggregate.FormatAmount(snap.NetIncome))
	fmt.Fprintf(&b, "| Total assets | %s |\n", aggregate.FormatAmount(snap.TotalAssets))
	fmt.Fprintf(&b, "| Total liabilities | %s |\n", aggregate.FormatAmount(snap.TotalLiabilities))
	fmt.Fprintf(&b, "| Equity | %s |\n", aggregate.FormatAmount(snap.Equity))
	fmt.Fprintf(&b, "| Liquid funds | %s |\n", aggregate.FormatAmount(snap.LiquidFunds))
	fmt.Fprintf(&b, "| Interest-bearing debt | %s |\n", aggregate.FormatAmount(snap.InterestBearingDebt))
	fmt.Fprintf(&b, "| Net cash | %s |\n", aggregate.FormatAmount(snap.NetCash))
	shares := aggregate.FormatAmount(snap.SharesOutstanding)
	if snap.SharesFromFallback && snap.SharesOutstanding != nil {
		shares += " (exchange listing)"
	}
	fmt.Fprintf(&b, "| Shares outstanding | %s |\n\n", shares)

	b.WriteString("## Derived metrics\n\n| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Debt ratio | %s |\n", aggregate.FormatRatio(snap.DebtRatio))
	fmt.Fprintf(&b, "| Net cash per share | %s |\n", aggregate.FormatPerShare(snap.NetCash, snap.SharesOutstanding))
	fmt.Fprintf(&b, "| Net cash to price | %s |\n", aggregate.FormatRatio(snap.NetCashToPrice))
	if snap.NetCashPerShareFX != nil && snap.FXPair != "" {
		base, _, ok := strings.Cut(snap.FXPair, "/")
		if !ok {
			base = snap.FXPair
		}
		fmt.Fprintf(&b, "| Net cash per share (%s) | %.2f |\n", base, *snap.NetCashPerShareFX)
	}
	b.WriteString("\n")

	if len(snap.Growth) > 0 {
		b.WriteString("## Yearly growth\n\n| Concept | Average |\n|---|---|\n")
		fmt.Fprintf(&b, "| Revenue | %s |\n", growthOr(snap.Growth, "revenue"))
		fmt.Fprintf(&b, "| Operating income | %s |\n", growthOr(snap.Growth, "operating_income"))
		fmt.Fprintf(&b, "| Net income | %s |\n", growthOr(snap.Growth, "net_income"))
	}

	return b.String()
}

func growthOr(m map[string]string, key string) string {
	if v := m[key]; v != "" {
		return v
	}
	return "N/A"
}

// HTML converts the markdown report into an HTML fragment.
func HTML(snap *pipeline.FinancialSnapshot) (string, error) {
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(Markdown(snap)), &buf); err != nil {
		return "", fmt.Errorf("render report html: %w", err)
	}
	return buf.String(), nil
}
