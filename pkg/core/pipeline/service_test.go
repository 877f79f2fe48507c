package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"fact_reconciler/pkg/core/aggregate"
	"fact_reconciler/pkg/core/errs"
	"fact_reconciler/pkg/core/extract"
	"fact_reconciler/pkg/core/fx"
	"fact_reconciler/pkg/core/identity"
	"fact_reconciler/pkg/core/ingest"
	"fact_reconciler/pkg/core/period"
)

// Mid-June 2024: the Q1 2024 report is out, H1 2024 is not, and the walk-back
// reaches FY2021 before four fiscal years have contributed.
var testNow = time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)

var (
	p2024Q1     = period.FilingPeriod{FiscalYear: 2024, Code: period.ReportQ1}
	p2023Annual = period.FilingPeriod{FiscalYear: 2023, Code: period.ReportAnnual}
	p2022Annual = period.FilingPeriod{FiscalYear: 2022, Code: period.ReportAnnual}
	p2021Annual = period.FilingPeriod{FiscalYear: 2021, Code: period.ReportAnnual}
)

func i64(v int64) *int64 { return &v }
func f64(v float64) *float64 { return &v }

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

type fakeFilings struct {
	summaries  map[period.FilingPeriod][]extract.LineItem
	statements map[period.FilingPeriod][]extract.LineItem
	stocks     map[period.FilingPeriod][]aggregate.StockTotalRow

	calls        int
	summaryCalls []period.FilingPeriod
}

func (f *fakeFilings) FetchSummaryAccounts(_ context.Context, _ string, year int, code period.ReportCode) ([]extract.LineItem, error) {
	f.calls++
	p := period.FilingPeriod{FiscalYear: year, Code: code}
	f.summaryCalls = append(f.summaryCalls, p)
	items, ok := f.summaries[p]
	if !ok {
		return nil, errs.ErrEmptyResult
	}
	return items, nil
}

func (f *fakeFilings) FetchStatementAccounts(_ context.Context, _ string, year int, code period.ReportCode) ([]extract.LineItem, error) {
	f.calls++
	items, ok := f.statements[period.FilingPeriod{FiscalYear: year, Code: code}]
	if !ok {
		return nil, errs.ErrEmptyResult
	}
	return items, nil
}

func (f *fakeFilings) FetchStockTotals(_ context.Context, _ string, year int, code period.ReportCode) ([]aggregate.StockTotalRow, error) {
	f.calls++
	rows, ok := f.stocks[period.FilingPeriod{FiscalYear: year, Code: code}]
	if !ok {
		return nil, errs.ErrEmptyResult
	}
	return rows, nil
}

type fakeFacts struct {
	facts *ingest.CompanyFacts
	err   error
}

func (f *fakeFacts) FetchCompanyFacts(context.Context, string) (*ingest.CompanyFacts, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.facts, nil
}

type fakeQuotes struct {
	price    *ingest.PriceSnapshot
	priceErr error
	ratio    *float64
	cash     *float64

	priceCalls int
}

func (f *fakeQuotes) InquirePrice(context.Context, string) (*ingest.PriceSnapshot, error) {
	f.priceCalls++
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	return f.price, nil
}

func (f *fakeQuotes) FinancialRatios(context.Context, string) (*float64, error) { return f.ratio, nil }
func (f *fakeQuotes) BalanceSheetCash(context.Context, string) (*float64, error) {
	return f.cash, nil
}

type fakeStore struct {
	latest *FinancialSnapshot
	saved  []*FinancialSnapshot
}

func (f *fakeStore) Latest(context.Context, identity.Market, string) (*FinancialSnapshot, error) {
	if f.latest == nil {
		return nil, errs.ErrNotFound
	}
	return f.latest, nil
}

func (f *fakeStore) Save(_ context.Context, snap *FinancialSnapshot) error {
	f.saved = append(f.saved, snap)
	return nil
}

func testResolver(market identity.Market, entries ...identity.Entry) *identity.Resolver {
	return identity.NewResolver(map[identity.Market]identity.Loader{
		market: func(context.Context) (identity.Registry, error) {
			return identity.NewSnapshot(entries), nil
		},
	})
}

var (
	krEntry = identity.Entry{Name: "테스트전자", PrimaryCode: "005930", SecondaryCode: "00126380"}
	usEntry = identity.Entry{Name: "Testcorp Inc.", PrimaryCode: "TSTC", SecondaryCode: "0000320193"}
)

func TestSnapshotKorean(t *testing.T) {
	filings := &fakeFilings{
		summaries: map[period.FilingPeriod][]extract.LineItem{
			// Q1 2024 has not been filed, so the headline figures must fall
			// back to the FY2023 annual report.
			p2023Annual: {
				{AccountLabel: "매출액", Amount: "2,250,000"},
				{AccountLabel: "영업이익", Amount: "400,000"},
				{AccountLabel: "당기순이익", Amount: "300,000"},
				{AccountLabel: "자산총계", Amount: "10,000,000"},
				{AccountLabel: "부채총계", Amount: "4,000,000"},
				{AccountLabel: "자본총계", Amount: "6,000,000"},
			},
			p2022Annual: {{AccountLabel: "매출액", Amount: "1,500,000"}},
			p2021Annual: {{AccountLabel: "매출액", Amount: "1,000,000"}},
		},
		statements: map[period.FilingPeriod][]extract.LineItem{
			// Present but carries no liquidity rows; the walk must pass over it.
			p2024Q1: {{AccountLabel: "부채총계", Amount: "4,100,000"}},
			p2023Annual: {
				{AccountLabel: "현금및현금성자산", Amount: "1,200,000"},
				{AccountLabel: "단기금융상품", Amount: "800,000"},
				{AccountLabel: "단기차입금", Amount: "300,000"},
				{AccountLabel: "유동성장기차입금", Amount: "200,000"},
			},
		},
		stocks: map[period.FilingPeriod][]aggregate.StockTotalRow{
			p2024Q1: {
				{Class: "우선주", DistributedShares: "777"},
				{Class: "보통주", DistributedShares: "10,000"},
			},
		},
	}
	quotes := &fakeQuotes{
		price: &ingest.PriceSnapshot{
			Name:         "테스트전자",
			Code:         "005930",
			Price:        f64(600),
			PER:          f64(12.5),
			PBR:          f64(1.1),
			ListedShares: i64(99999),
		},
		ratio: f64(66.67),
		cash:  f64(2000000),
	}
	store := &fakeStore{}
	conv := fx.New("USD/KRW", f64(1250), nil, nil)

	svc := NewService(testResolver(identity.MarketKR, krEntry), filings, nil, quotes, conv, store, Options{})
	svc.now = func() time.Time { return testNow }

	snap, err := svc.Snapshot(context.Background(), Query{Input: "테스트전자", Market: identity.MarketKR})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if snap.Identity.PrimaryCode != "005930" || snap.Identity.SecondaryCode != "00126380" {
		t.Errorf("identity = %+v", snap.Identity)
	}
	if snap.PeriodLabel != "FY2023 Annual" {
		t.Errorf("PeriodLabel = %q, want FY2023 Annual", snap.PeriodLabel)
	}

	// 1,200,000 + 800,000 cash-like less 300,000 + 200,000 borrowings.
	if snap.LiquidFunds == nil || *snap.LiquidFunds != 2000000 {
		t.Errorf("LiquidFunds = %v, want 2000000", snap.LiquidFunds)
	}
	if snap.InterestBearingDebt == nil || *snap.InterestBearingDebt != 500000 {
		t.Errorf("InterestBearingDebt = %v, want 500000", snap.InterestBearingDebt)
	}
	if snap.NetCash == nil || *snap.NetCash != 1500000 {
		t.Errorf("NetCash = %v, want 1500000", snap.NetCash)
	}

	if snap.SharesOutstanding == nil || *snap.SharesOutstanding != 10000 {
		t.Errorf("SharesOutstanding = %v, want 10000", snap.SharesOutstanding)
	}
	if snap.SharesFromFallback {
		t.Error("SharesFromFallback set with filing share totals present")
	}

	if snap.Revenue == nil || *snap.Revenue != 2250000 {
		t.Errorf("Revenue = %v, want 2250000", snap.Revenue)
	}
	if snap.DebtRatio == nil || math.Abs(*snap.DebtRatio-200.0/3.0) > 1e-9 {
		t.Errorf("DebtRatio = %v, want 66.67", snap.DebtRatio)
	}
	if snap.NetCashPerShare == nil || *snap.NetCashPerShare != 150 {
		t.Errorf("NetCashPerShare = %v, want 150", snap.NetCashPerShare)
	}
	if snap.NetCashToPrice == nil || *snap.NetCashToPrice != 25 {
		t.Errorf("NetCashToPrice = %v, want 25%% of price", snap.NetCashToPrice)
	}

	// 150 won per share over the 1250 override.
	if snap.NetCashPerShareFX == nil || math.Abs(*snap.NetCashPerShareFX-0.12) > 1e-9 {
		t.Errorf("NetCashPerShareFX = %v, want 0.12", snap.NetCashPerShareFX)
	}
	if snap.FXPair != "USD/KRW" {
		t.Errorf("FXPair = %q", snap.FXPair)
	}

	if snap.Quote.Price != "600" || snap.Quote.PER != "12.50" || snap.Quote.PBR != "1.10" {
		t.Errorf("quote display = %+v", snap.Quote)
	}
	if snap.Quote.DebtRatio != "66.67%" {
		t.Errorf("Quote.DebtRatio = %q", snap.Quote.DebtRatio)
	}
	if snap.Quote.Cash != "2,000,000" {
		t.Errorf("Quote.Cash = %q", snap.Quote.Cash)
	}

	// 1,000,000 -> 1,500,000 -> 2,250,000 averages to +50% per year.
	if got := snap.Growth["revenue"]; got != "50.0%" {
		t.Errorf("revenue growth = %q, want 50.0%%", got)
	}
	if got := snap.Growth["operating_income"]; got != "N/A" {
		t.Errorf("operating income growth = %q, want N/A", got)
	}

	if len(store.saved) != 1 || store.saved[0] != snap {
		t.Errorf("saved %d snapshots", len(store.saved))
	}
	if !snap.FetchedAt.Equal(testNow) {
		t.Errorf("FetchedAt = %v", snap.FetchedAt)
	}

	// The FY2023 annual summary feeds both the headline figures and the growth
	// series; the memo must keep it to a single upstream call.
	annualHits := 0
	for _, p := range filings.summaryCalls {
		if p == p2023Annual {
			annualHits++
		}
	}
	if annualHits != 1 {
		t.Errorf("FY2023 annual summary fetched %d times, want 1", annualHits)
	}
}

func TestSnapshotKoreanNoUsablePeriods(t *testing.T) {
	filings := &fakeFilings{}
	store := &fakeStore{}
	svc := NewService(testResolver(identity.MarketKR, krEntry), filings, nil, nil, nil, store, Options{})
	svc.now = func() time.Time { return testNow }

	_, err := svc.Snapshot(context.Background(), Query{Input: "005930", Market: identity.MarketKR})
	if err == nil {
		t.Fatal("expected error when every period misses")
	}
	if !errors.Is(err, errs.ErrEmptyResult) {
		t.Errorf("error = %v, want ErrEmptyResult", err)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d snapshots on failure", len(store.saved))
	}
}

func TestSnapshotSharesFallbackFromQuote(t *testing.T) {
	filings := &fakeFilings{
		statements: map[period.FilingPeriod][]extract.LineItem{
			p2023Annual: {
				{AccountLabel: "현금및현금성자산", Amount: "1,200,000"},
				{AccountLabel: "단기금융상품", Amount: "800,000"},
				{AccountLabel: "단기차입금", Amount: "500,000"},
			},
		},
	}
	quotes := &fakeQuotes{
		price: &ingest.PriceSnapshot{Name: "테스트전자", Code: "005930", Price: f64(600), ListedShares: i64(5000)},
	}
	svc := NewService(testResolver(identity.MarketKR, krEntry), filings, nil, quotes, nil, &fakeStore{}, Options{})
	svc.now = func() time.Time { return testNow }

	snap, err := svc.Snapshot(context.Background(), Query{Input: "005930", Market: identity.MarketKR})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if snap.SharesOutstanding == nil || *snap.SharesOutstanding != 5000 {
		t.Errorf("SharesOutstanding = %v, want 5000 from quote", snap.SharesOutstanding)
	}
	if !snap.SharesFromFallback {
		t.Error("SharesFromFallback not set")
	}
	if snap.NetCashPerShare == nil || *snap.NetCashPerShare != 300 {
		t.Errorf("NetCashPerShare = %v, want 300", snap.NetCashPerShare)
	}
	if snap.Revenue != nil {
		t.Errorf("Revenue = %v without summary filings", snap.Revenue)
	}
	if got := snap.Growth["revenue"]; got != "N/A" {
		t.Errorf("revenue growth = %q, want N/A", got)
	}
}

func TestSnapshotAssumeZeroDebt(t *testing.T) {
	filings := &fakeFilings{
		statements: map[period.FilingPeriod][]extract.LineItem{
			p2024Q1: {{AccountLabel: "현금및현금성자산", Amount: "900,000"}},
		},
	}
	svc := NewService(testResolver(identity.MarketKR, krEntry), filings, nil, nil, nil, nil, Options{})
	svc.now = func() time.Time { return testNow }

	conservative, err := svc.Snapshot(context.Background(), Query{Input: "005930", Market: identity.MarketKR})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if conservative.NetCash != nil {
		t.Errorf("NetCash = %v, want nil while debt is unknown", conservative.NetCash)
	}
	if conservative.InterestBearingDebt != nil {
		t.Errorf("InterestBearingDebt = %v, want nil", conservative.InterestBearingDebt)
	}

	optimistic := true
	snap, err := svc.Snapshot(context.Background(), Query{
		Input: "005930", Market: identity.MarketKR, AssumeZeroDebt: &optimistic,
	})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.NetCash == nil || *snap.NetCash != 900000 {
		t.Errorf("NetCash = %v, want 900000 under zero-debt", snap.NetCash)
	}
	if snap.InterestBearingDebt == nil || *snap.InterestBearingDebt != 0 {
		t.Errorf("InterestBearingDebt = %v, want the injected zero", snap.InterestBearingDebt)
	}
}

func TestSnapshotUS(t *testing.T) {
	annual := func(v float64, end string) extract.XbrlFact {
		return extract.XbrlFact{Value: v, FilingForm: "10-K", PeriodEnd: day(end)}
	}
	bag := map[string][]extract.XbrlFact{
		"Revenues": {
			annual(200000, "2021-12-31"),
			annual(300000, "2022-12-31"),
			annual(450000, "2023-12-31"),
			{Value: 120000, FilingForm: "10-Q", PeriodEnd: day("2024-03-31")},
		},
		"CashAndCashEquivalentsAtCarryingValue": {
			annual(50000, "2023-09-30"),
			{Value: 60000, FilingForm: "10-Q", PeriodEnd: day("2024-03-31")},
		},
		"MarketableSecuritiesCurrent":        {annual(25000, "2023-09-30")},
		"ShortTermBorrowings":                {annual(10000, "2023-09-30")},
		"Assets":                             {annual(200000, "2023-09-30")},
		"Liabilities":                        {annual(80000, "2023-09-30")},
		"StockholdersEquity":                 {annual(100000, "2023-09-30")},
		"OperatingIncomeLoss":                {annual(40000, "2023-12-31")},
		"NetIncomeLoss":                      {annual(30000, "2023-12-31")},
		"EntityCommonStockSharesOutstanding": {annual(1000, "2023-09-30")},
	}
	facts := &fakeFacts{facts: &ingest.CompanyFacts{EntityName: "Testcorp Inc.", Facts: bag}}
	quotes := &fakeQuotes{}
	svc := NewService(testResolver(identity.MarketUS, usEntry), nil, facts, quotes, nil, &fakeStore{}, Options{})
	svc.now = func() time.Time { return testNow }

	snap, err := svc.Snapshot(context.Background(), Query{Input: "TSTC", Market: identity.MarketUS})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if snap.Identity.SecondaryCode != "0000320193" {
		t.Errorf("SecondaryCode = %q", snap.Identity.SecondaryCode)
	}

	// The annual cash figure outranks the newer interim one: 50,000 + 25,000
	// securities, less 10,000 borrowings.
	if snap.LiquidFunds == nil || *snap.LiquidFunds != 75000 {
		t.Errorf("LiquidFunds = %v, want 75000", snap.LiquidFunds)
	}
	if snap.NetCash == nil || *snap.NetCash != 65000 {
		t.Errorf("NetCash = %v, want 65000", snap.NetCash)
	}
	if snap.Revenue == nil || *snap.Revenue != 450000 {
		t.Errorf("Revenue = %v, want 450000 from the annual form", snap.Revenue)
	}

	if snap.SharesOutstanding == nil || *snap.SharesOutstanding != 1000 {
		t.Errorf("SharesOutstanding = %v, want 1000", snap.SharesOutstanding)
	}
	if snap.NetCashPerShare == nil || *snap.NetCashPerShare != 65 {
		t.Errorf("NetCashPerShare = %v, want 65", snap.NetCashPerShare)
	}
	if snap.DebtRatio == nil || math.Abs(*snap.DebtRatio-80) > 1e-9 {
		t.Errorf("DebtRatio = %v, want 80", snap.DebtRatio)
	}

	if snap.PeriodLabel != "10-K 2023-09-30" {
		t.Errorf("PeriodLabel = %q", snap.PeriodLabel)
	}

	if got := snap.Growth["revenue"]; got != "50.0%" {
		t.Errorf("revenue growth = %q, want 50.0%%", got)
	}
	if got := snap.Growth["net_income"]; got != "N/A" {
		t.Errorf("net income growth = %q, want N/A", got)
	}

	// No exchange quote on this market.
	if quotes.priceCalls != 0 {
		t.Errorf("quote source called %d times", quotes.priceCalls)
	}
	if snap.NetCashToPrice != nil {
		t.Errorf("NetCashToPrice = %v without a price", snap.NetCashToPrice)
	}
}

func TestSnapshotUSFactsFetchFatal(t *testing.T) {
	facts := &fakeFacts{err: errs.ErrUpstreamUnavailable}
	svc := NewService(testResolver(identity.MarketUS, usEntry), nil, facts, nil, nil, nil, Options{})
	svc.now = func() time.Time { return testNow }

	_, err := svc.Snapshot(context.Background(), Query{Input: "TSTC", Market: identity.MarketUS})
	if err == nil {
		t.Fatal("expected error when the facts fetch fails")
	}
	if !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestSnapshotCache(t *testing.T) {
	filings := &fakeFilings{
		summaries: map[period.FilingPeriod][]extract.LineItem{
			p2024Q1: {{AccountLabel: "매출액", Amount: "500"}},
		},
	}
	store := &fakeStore{
		latest: &FinancialSnapshot{
			Identity:  identity.CompanyIdentity{Market: identity.MarketKR, PrimaryCode: "005930"},
			Revenue:   i64(999),
			FetchedAt: testNow.Add(-time.Hour),
		},
	}
	svc := NewService(testResolver(identity.MarketKR, krEntry), filings, nil, nil, nil, store, Options{CacheTTL: 24 * time.Hour})
	svc.now = func() time.Time { return testNow }

	snap, err := svc.Snapshot(context.Background(), Query{Input: "005930", Market: identity.MarketKR})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Revenue == nil || *snap.Revenue != 999 {
		t.Errorf("Revenue = %v, want the cached 999", snap.Revenue)
	}
	if filings.calls != 0 {
		t.Errorf("upstream called %d times on a cache hit", filings.calls)
	}

	snap, err = svc.Snapshot(context.Background(), Query{Input: "005930", Market: identity.MarketKR, SkipCache: true})
	if err != nil {
		t.Fatalf("Snapshot with SkipCache: %v", err)
	}
	if snap.Revenue == nil || *snap.Revenue != 500 {
		t.Errorf("Revenue = %v, want 500 rebuilt", snap.Revenue)
	}
	if filings.calls == 0 {
		t.Error("SkipCache did not reach upstream")
	}
	if len(store.saved) != 1 {
		t.Errorf("saved %d snapshots", len(store.saved))
	}

	// A stale entry rebuilds too.
	store.latest.FetchedAt = testNow.Add(-48 * time.Hour)
	calls := filings.calls
	snap, err = svc.Snapshot(context.Background(), Query{Input: "005930", Market: identity.MarketKR})
	if err != nil {
		t.Fatalf("Snapshot past TTL: %v", err)
	}
	if snap.Revenue == nil || *snap.Revenue != 500 {
		t.Errorf("Revenue = %v, want 500 rebuilt past TTL", snap.Revenue)
	}
	if filings.calls == calls {
		t.Error("stale cache entry did not rebuild")
	}
}

func TestSnapshotQuoteFailureDegrades(t *testing.T) {
	filings := &fakeFilings{
		statements: map[period.FilingPeriod][]extract.LineItem{
			p2023Annual: {
				{AccountLabel: "현금및현금성자산", Amount: "1,000,000"},
				{AccountLabel: "단기차입금", Amount: "400,000"},
			},
		},
		stocks: map[period.FilingPeriod][]aggregate.StockTotalRow{
			p2023Annual: {{Class: "보통주", DistributedShares: "10,000"}},
		},
	}
	quotes := &fakeQuotes{priceErr: errs.ErrUpstreamUnavailable}
	svc := NewService(testResolver(identity.MarketKR, krEntry), filings, nil, quotes, nil, nil, Options{})
	svc.now = func() time.Time { return testNow }

	snap, err := svc.Snapshot(context.Background(), Query{Input: "005930", Market: identity.MarketKR})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if quotes.priceCalls != 1 {
		t.Errorf("quote source called %d times", quotes.priceCalls)
	}
	if snap.Quote.Price != "" {
		t.Errorf("Quote.Price = %q after quote failure", snap.Quote.Price)
	}
	if snap.NetCash == nil || *snap.NetCash != 600000 {
		t.Errorf("NetCash = %v, want 600000", snap.NetCash)
	}
	if snap.NetCashToPrice != nil {
		t.Errorf("NetCashToPrice = %v without a price", snap.NetCashToPrice)
	}
}
