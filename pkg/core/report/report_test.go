package report

import (
	"strings"
	"testing"
	"time"

	"fact_reconciler/pkg/core/identity"
	"fact_reconciler/pkg/core/pipeline"
)

func i64(v int64) *int64 { return &v }
func f64(v float64) *float64 { return &v }

// fullSnapshot mirrors a reconciled Korean filing: liquid funds 2,000,000
// against 500,000 of borrowings leaves 1,500,000 of net cash over 10,000
// shares, and price 600 puts net cash at 25% of price.
func fullSnapshot() *pipeline.FinancialSnapshot {
	return &pipeline.FinancialSnapshot{
		Identity: identity.CompanyIdentity{
			Market:      identity.MarketKR,
			PrimaryCode: "005930",
			DisplayName: "테스트전자",
		},
		PeriodLabel:         "FY2023 Annual",
		Revenue:             i64(2250000),
		NetIncome:           i64(250000),
		TotalAssets:         i64(5000000),
		TotalLiabilities:    i64(2000000),
		Equity:              i64(3000000),
		LiquidFunds:         i64(2000000),
		InterestBearingDebt: i64(500000),
		NetCash:             i64(1500000),
		SharesOutstanding:   i64(10000),
		DebtRatio:           f64(200.0 / 3.0),
		NetCashPerShare:     f64(150),
		NetCashToPrice:      f64(25),
		NetCashPerShareFX:   f64(0.12),
		FXPair:              "USD/KRW",
		Quote: pipeline.QuoteDisplay{
			Price:     "600",
			PER:       "12.50",
			PBR:       "1.10",
			DebtRatio: "66.67%",
			Cash:      "2,000,000",
		},
		Growth: map[string]string{
			"revenue":          "50.0%",
			"operating_income": "N/A",
		},
		FetchedAt: time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC),
	}
}

func TestMarkdownFullSnapshot(t *testing.T) {
	md := Markdown(fullSnapshot())

	for _, want := range []string{
		"# 테스트전자 (005930)",
		"Market: KR",
		"Period: FY2023 Annual",
		"Fetched: 2024-06-15 09:30 UTC",
		"## Market quote",
		"| Price | 600 |",
		"| PER | 12.50 |",
		"| Cash (quoted) | 2,000,000 |",
		"## Reconciled figures",
		"| Revenue | 2,250,000 |",
		"| Operating income | N/A |",
		"| Liquid funds | 2,000,000 |",
		"| Interest-bearing debt | 500,000 |",
		"| Net cash | 1,500,000 |",
		"| Shares outstanding | 10,000 |",
		"## Derived metrics",
		"| Debt ratio | 66.67% |",
		"| Net cash per share | 150.00 |",
		"| Net cash to price | 25.00% |",
		"| Net cash per share (USD) | 0.12 |",
		"## Yearly growth",
		"| Revenue | 50.0% |",
		"| Net income | N/A |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}

	if strings.Contains(md, "(exchange listing)") {
		t.Error("expected no fallback marker when shares came from the filing")
	}
}

func TestMarkdownMissingFiguresStayVisible(t *testing.T) {
	snap := &pipeline.FinancialSnapshot{
		Identity: identity.CompanyIdentity{
			Market:      identity.MarketUS,
			PrimaryCode: "TSTC",
			DisplayName: "Testcorp Inc.",
		},
		Revenue: i64(450000),
	}
	md := Markdown(snap)

	for _, want := range []string{
		"# Testcorp Inc. (TSTC)",
		"| Revenue | 450,000 |",
		"| Net cash | N/A |",
		"| Shares outstanding | N/A |",
		"| Debt ratio | N/A |",
		"| Net cash per share | N/A |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}

	if strings.Contains(md, "## Market quote") {
		t.Error("expected no quote section without quote data")
	}
	if strings.Contains(md, "## Yearly growth") {
		t.Error("expected no growth section without growth data")
	}
	if strings.Contains(md, "Net cash per share (") {
		t.Error("expected no FX row without a resolved rate")
	}
}

func TestMarkdownSharesFallbackMarker(t *testing.T) {
	snap := fullSnapshot()
	snap.SharesOutstanding = i64(5000)
	snap.SharesFromFallback = true

	md := Markdown(snap)
	want := "| Shares outstanding | 5,000 (exchange listing) |"
	if !strings.Contains(md, want) {
		t.Errorf("expected fallback marker row %q", want)
	}
}

func TestHTMLRendersTables(t *testing.T) {
	html, err := HTML(fullSnapshot())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(html, "<table>") {
		t.Error("expected rendered tables in HTML output")
	}
	if !strings.Contains(html, "<h1") {
		t.Error("expected a heading in HTML output")
	}
}
