package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fact_reconciler/pkg/core/aggregate"
	"fact_reconciler/pkg/core/errs"
	"fact_reconciler/pkg/core/extract"
	"fact_reconciler/pkg/core/fx"
	"fact_reconciler/pkg/core/identity"
	"fact_reconciler/pkg/core/ingest"
	"fact_reconciler/pkg/core/period"
	"fact_reconciler/pkg/core/series"
	"fact_reconciler/pkg/core/taxonomy"
)

// FilingSource is the slice of the Korean disclosure API the pipeline
// consumes. *ingest.DARTClient satisfies it.
type FilingSource interface {
	FetchSummaryAccounts(ctx context.Context, corpCode string, year int, code period.ReportCode) ([]extract.LineItem, error)
	FetchStatementAccounts(ctx context.Context, corpCode string, year int, code period.ReportCode) ([]extract.LineItem, error)
	FetchStockTotals(ctx context.Context, corpCode string, year int, code period.ReportCode) ([]aggregate.StockTotalRow, error)
}

// FactSource serves US XBRL fact bags. *ingest.EDGARClient satisfies it.
type FactSource interface {
	FetchCompanyFacts(ctx context.Context, cik string) (*ingest.CompanyFacts, error)
}

// QuoteSource is the market-data slice used for a single query.
// *ingest.KISClient satisfies it.
type QuoteSource interface {
	InquirePrice(ctx context.Context, code string) (*ingest.PriceSnapshot, error)
	FinancialRatios(ctx context.Context, code string) (*float64, error)
	BalanceSheetCash(ctx context.Context, code string) (*float64, error)
}

// SnapshotStore persists finished snapshots. Latest returns
// errs.ErrNotFound when nothing is stored for the key.
type SnapshotStore interface {
	Latest(ctx context.Context, market identity.Market, code string) (*FinancialSnapshot, error)
	Save(ctx context.Context, snap *FinancialSnapshot) error
}

// Options tune the pipeline. Zero values fall back to the package defaults.
type Options struct {
	FormPriority   []string
	MinYears       int
	GrowthWindow   int
	AssumeZeroDebt bool
	CacheTTL       time.Duration
}

// Query is one reconciliation request. Year 0 means automatic lookback.
// AssumeZeroDebt nil takes the configured default.
type Query struct {
	Input          string
	Market         identity.Market
	Year           int
	AssumeZeroDebt *bool
	SkipCache      bool
}

// Service runs queries end to end. Quote, FX, and store collaborators are
// optional; a nil collaborator degrades the matching snapshot fields.
type Service struct {
	resolver *identity.Resolver
	filings  FilingSource
	facts    FactSource
	quotes   QuoteSource
	fx       *fx.Converter
	store    SnapshotStore
	opts     Options

	now func() time.Time
}

func NewService(resolver *identity.Resolver, filings FilingSource, facts FactSource, quotes QuoteSource, conv *fx.Converter, store SnapshotStore, opts Options) *Service {
	if opts.FormPriority == nil {
		opts.FormPriority = extract.DefaultFormPriority
	}
	if opts.MinYears <= 0 {
		opts.MinYears = period.DefaultMinYears
	}
	if opts.GrowthWindow <= 0 {
		opts.GrowthWindow = series.DefaultWindow
	}
	return &Service{
		resolver: resolver,
		filings:  filings,
		facts:    facts,
		quotes:   quotes,
		fx:       conv,
		store:    store,
		opts:     opts,
		now:      time.Now,
	}
}

// Snapshot resolves the query target and assembles its snapshot. Identity
// failures and fully empty filing histories are fatal; everything else
// degrades field by field.
func (s *Service) Snapshot(ctx context.Context, q Query) (*FinancialSnapshot, error) {
	ident, err := s.resolver.Resolve(ctx, q.Input, q.Market)
	if err != nil {
		return nil, err
	}

	if !q.SkipCache && s.store != nil && s.opts.CacheTTL > 0 && ident.PrimaryCode != "" {
		cached, err := s.store.Latest(ctx, ident.Market, ident.PrimaryCode)
		if err == nil && cached != nil && s.now().Sub(cached.FetchedAt) <= s.opts.CacheTTL {
			fmt.Printf("[PIPELINE] cache hit for %s %s\n", ident.Market, ident.PrimaryCode)
			return cached, nil
		}
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			fmt.Printf("[WARNING] snapshot cache read failed: %v\n", err)
		}
	}

	snap := &FinancialSnapshot{Identity: ident, Growth: map[string]string{}}
	switch ident.Market {
	case identity.MarketUS:
		err = s.usFill(ctx, snap, q)
	default:
		err = s.koreanFill(ctx, snap, q)
	}
	if err != nil {
		return nil, err
	}

	price := s.mergeQuote(ctx, snap)

	snap.DebtRatio = aggregate.DebtToEquity(snap.TotalLiabilities, snap.Equity)
	snap.NetCashPerShare = aggregate.NetCashPerShare(snap.NetCash, snap.SharesOutstanding)
	snap.NetCashToPrice = aggregate.NetCashToPrice(snap.NetCashPerShare, price)

	if s.fx != nil && snap.NetCashPerShare != nil {
		snap.NetCashPerShareFX = s.fx.Convert(ctx, *snap.NetCashPerShare)
		if snap.NetCashPerShareFX != nil {
			snap.FXPair = s.fx.Pair()
		}
	}

	snap.FetchedAt = s.now()

	if s.store != nil && snap.Identity.PrimaryCode != "" {
		if err := s.store.Save(ctx, snap); err != nil {
			fmt.Printf("[WARNING] snapshot save failed: %v\n", err)
		}
	}
	return snap, nil
}

func (s *Service) assumeZeroDebt(q Query) bool {
	if q.AssumeZeroDebt != nil {
		return *q.AssumeZeroDebt
	}
	return s.opts.AssumeZeroDebt
}

// koreanFill populates the snapshot from the disclosure API. Each field
// group (income summary, statement liquidity, share totals) walks the period
// schedule independently and keeps the newest usable filing.
func (s *Service) koreanFill(ctx context.Context, snap *FinancialSnapshot, q Query) error {
	corp := snap.Identity.SecondaryCode
	if corp == "" {
		return fmt.Errorf("no disclosure corp code for %q: %w", snap.Identity.DisplayName, errs.ErrNotFound)
	}
	today := s.now()
	periods := period.BuildN(q.Year, today, s.opts.MinYears)

	summaries := make(map[period.FilingPeriod][]extract.LineItem)
	var lastErr error
	fetchSummary := func(p period.FilingPeriod) ([]extract.LineItem, error) {
		if items, ok := summaries[p]; ok {
			return items, nil
		}
		items, err := s.filings.FetchSummaryAccounts(ctx, corp, p.FiscalYear, p.Code)
		if err != nil {
			return nil, err
		}
		summaries[p] = items
		return items, nil
	}

	var summaryPeriod, stmtPeriod *period.FilingPeriod
	for _, p := range periods {
		items, err := fetchSummary(p)
		if err != nil {
			lastErr = err
			continue
		}
		snap.Revenue = extract.FindAmount(items, taxonomy.Revenue)
		snap.OperatingIncome = extract.FindAmount(items, taxonomy.OperatingIncome)
		snap.NetIncome = extract.FindAmount(items, taxonomy.NetIncome)
		snap.TotalAssets = extract.FindAmount(items, taxonomy.TotalAssets)
		snap.TotalLiabilities = extract.FindAmount(items, taxonomy.TotalLiabilities)
		snap.Equity = extract.FindAmount(items, taxonomy.TotalEquity)
		pp := p
		summaryPeriod = &pp
		break
	}

	// Liquidity sub-accounts live in the full statement rows only. A filing
	// without any liquid-fund rows keeps the search going.
	for _, p := range periods {
		items, err := s.filings.FetchStatementAccounts(ctx, corp, p.FiscalYear, p.Code)
		if err != nil {
			lastErr = err
			continue
		}
		src := func(acct taxonomy.Account) *int64 { return extract.FindAmount(items, acct) }
		liquid := aggregate.LiquidFundsKorea(src)
		if liquid == nil {
			continue
		}
		snap.LiquidFunds = liquid
		snap.InterestBearingDebt = aggregate.InterestBearingDebt(src)
		pp := p
		stmtPeriod = &pp
		break
	}

	for _, p := range periods {
		rows, err := s.filings.FetchStockTotals(ctx, corp, p.FiscalYear, p.Code)
		if err != nil {
			lastErr = err
			continue
		}
		if shares := aggregate.ParseStockTotals(rows); shares != nil {
			snap.SharesOutstanding = shares
			break
		}
	}

	if summaryPeriod == nil && stmtPeriod == nil && snap.SharesOutstanding == nil {
		if lastErr != nil {
			return fmt.Errorf("no usable filing periods for corp %s: %w", corp, lastErr)
		}
		return fmt.Errorf("no usable filing periods for corp %s: %w", corp, errs.ErrEmptyResult)
	}

	switch {
	case stmtPeriod != nil:
		snap.PeriodLabel = stmtPeriod.Label()
	case summaryPeriod != nil:
		snap.PeriodLabel = summaryPeriod.Label()
	}

	snap.NetCash, snap.InterestBearingDebt = aggregate.ComputeNetCash(
		snap.LiquidFunds, snap.InterestBearingDebt, s.assumeZeroDebt(q))

	// Yearly growth comes from annual filings over the configured window.
	maxYear := periods[0].FiscalYear
	window := s.opts.GrowthWindow
	revenues := make(map[int]*int64)
	opIncomes := make(map[int]*int64)
	netIncomes := make(map[int]*int64)
	for y := maxYear - window; y <= maxYear; y++ {
		items, err := fetchSummary(period.FilingPeriod{FiscalYear: y, Code: period.ReportAnnual})
		if err != nil {
			continue
		}
		if v := extract.FindAmount(items, taxonomy.Revenue); v != nil {
			revenues[y] = v
		}
		if v := extract.FindAmount(items, taxonomy.OperatingIncome); v != nil {
			opIncomes[y] = v
		}
		if v := extract.FindAmount(items, taxonomy.NetIncome); v != nil {
			netIncomes[y] = v
		}
	}
	snap.Growth = growthMap(revenues, opIncomes, netIncomes, window)
	return nil
}

// sharesOutstandingTags are the XBRL concepts carrying the share count, in
// preference order.
var sharesOutstandingTags = []string{
	"EntityCommonStockSharesOutstanding",
	"CommonStockSharesOutstanding",
	"CommonStockSharesIssued",
}

// annualForms bound the US growth series to full-year filings.
var annualForms = map[string]bool{"10-K": true, "20-F": true}

// usFill populates the snapshot from one company-facts bag.
func (s *Service) usFill(ctx context.Context, snap *FinancialSnapshot, q Query) error {
	cik := snap.Identity.SecondaryCode
	if cik == "" {
		return fmt.Errorf("no CIK for %q: %w", snap.Identity.DisplayName, errs.ErrNotFound)
	}
	cf, err := s.facts.FetchCompanyFacts(ctx, cik)
	if err != nil {
		return fmt.Errorf("company facts for CIK %s: %w", cik, err)
	}
	if snap.Identity.DisplayName == "" {
		snap.Identity.DisplayName = cf.EntityName
	}

	today := s.now()
	prio := s.opts.FormPriority
	src := func(acct taxonomy.Account) *int64 {
		tags := taxonomy.Tags(acct)
		if len(tags) == 0 {
			return nil
		}
		return extract.BestAmountAcrossTags(cf.Facts, tags, prio, today)
	}

	snap.Revenue = src(taxonomy.Revenue)
	snap.OperatingIncome = src(taxonomy.OperatingIncome)
	snap.NetIncome = src(taxonomy.NetIncome)
	snap.TotalAssets = src(taxonomy.TotalAssets)
	snap.TotalLiabilities = src(taxonomy.TotalLiabilities)
	snap.Equity = src(taxonomy.TotalEquity)
	snap.LiquidFunds = aggregate.LiquidFundsUS(src)
	debt := aggregate.InterestBearingDebt(src)

	if shares := extract.BestAmountAcrossTags(cf.Facts, sharesOutstandingTags, prio, today); shares != nil && *shares > 0 {
		snap.SharesOutstanding = shares
	}

	if snap.Revenue == nil && snap.NetIncome == nil && snap.LiquidFunds == nil &&
		snap.Equity == nil && snap.TotalAssets == nil && snap.SharesOutstanding == nil {
		return fmt.Errorf("no usable facts for CIK %s: %w", cik, errs.ErrEmptyResult)
	}

	if f, ok := extract.BestFactAcrossTags(cf.Facts, taxonomy.Tags(taxonomy.CashEquivalents), prio, today); ok {
		snap.PeriodLabel = fmt.Sprintf("%s %s", f.FilingForm, f.PeriodEnd.Format("2006-01-02"))
	} else if f, ok := extract.BestFactAcrossTags(cf.Facts, taxonomy.Tags(taxonomy.Revenue), prio, today); ok {
		snap.PeriodLabel = fmt.Sprintf("%s %s", f.FilingForm, f.PeriodEnd.Format("2006-01-02"))
	}

	snap.NetCash, snap.InterestBearingDebt = aggregate.ComputeNetCash(
		snap.LiquidFunds, debt, s.assumeZeroDebt(q))

	window := s.opts.GrowthWindow
	snap.Growth = growthMap(
		yearValues(cf.Facts, taxonomy.Tags(taxonomy.Revenue), prio, today),
		yearValues(cf.Facts, taxonomy.Tags(taxonomy.OperatingIncome), prio, today),
		yearValues(cf.Facts, taxonomy.Tags(taxonomy.NetIncome), prio, today),
		window)
	return nil
}

// yearValues picks one annual value per fiscal year from the fact bag,
// applying the same ranking as the headline extraction within each year.
func yearValues(bag map[string][]extract.XbrlFact, tags []string, priority []string, today time.Time) map[int]*int64 {
	byYear := make(map[int][]extract.XbrlFact)
	for _, tag := range tags {
		for _, f := range bag[tag] {
			if f.PeriodEnd.IsZero() || !annualForms[f.FilingForm] {
				continue
			}
			byYear[f.PeriodEnd.Year()] = append(byYear[f.PeriodEnd.Year()], f)
		}
	}
	out := make(map[int]*int64, len(byYear))
	for y, cands := range byYear {
		if f, ok := extract.SelectBestFact(cands, priority, today); ok {
			v := int64(f.Value)
			out[y] = &v
		}
	}
	return out
}

func growthMap(revenues, opIncomes, netIncomes map[int]*int64, window int) map[string]string {
	return map[string]string{
		"revenue":          series.AverageGrowth(series.BuildYearSeries(revenues, window)).Format(),
		"operating_income": series.AverageGrowth(series.BuildYearSeries(opIncomes, window)).Format(),
		"net_income":       series.AverageGrowth(series.BuildYearSeries(netIncomes, window)).Format(),
	}
}

// mergeQuote folds the market quote into the snapshot: display strings, the
// listed-share-count fallback, and the supplemental finance fields. Quote
// failures only log; the reconciled figures stand on their own.
func (s *Service) mergeQuote(ctx context.Context, snap *FinancialSnapshot) *float64 {
	if s.quotes == nil || snap.Identity.Market != identity.MarketKR || snap.Identity.PrimaryCode == "" {
		return nil
	}
	code := snap.Identity.PrimaryCode

	ps, err := s.quotes.InquirePrice(ctx, code)
	if err != nil {
		fmt.Printf("[WARNING] quote for %s failed: %v\n", code, err)
		return nil
	}
	if snap.Identity.DisplayName == "" && ps.Name != "" {
		snap.Identity.DisplayName = ps.Name
	}
	snap.Quote.Price = displayFloat(ps.Price, 0)
	snap.Quote.PER = displayFloat(ps.PER, 2)
	snap.Quote.PBR = displayFloat(ps.PBR, 2)

	if snap.SharesOutstanding == nil && ps.ListedShares != nil {
		snap.SharesOutstanding = ps.ListedShares
		snap.SharesFromFallback = true
	}

	if ratio, err := s.quotes.FinancialRatios(ctx, code); err != nil {
		fmt.Printf("[WARNING] financial ratios for %s failed: %v\n", code, err)
	} else if ratio != nil {
		snap.Quote.DebtRatio = fmt.Sprintf("%.2f%%", *ratio)
	}
	if cash, err := s.quotes.BalanceSheetCash(ctx, code); err != nil {
		fmt.Printf("[WARNING] balance sheet for %s failed: %v\n", code, err)
	} else if cash != nil {
		snap.Quote.Cash = aggregate.GroupInt(int64(*cash))
	}
	return ps.Price
}

// displayFloat renders a quote value: grouped integer form, or fixed
// decimals for the ratio fields. "N/A" for nil.
func displayFloat(v *float64, decimals int) string {
	if v == nil {
		return "N/A"
	}
	if decimals <= 0 {
		return aggregate.GroupInt(int64(*v))
	}
	return strconv.FormatFloat(*v, 'f', decimals, 64)
}
