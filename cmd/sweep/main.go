package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"fact_reconciler/pkg/core/config"
	"fact_reconciler/pkg/core/fx"
	"fact_reconciler/pkg/core/identity"
	"fact_reconciler/pkg/core/ingest"
	"fact_reconciler/pkg/core/pipeline"
	"fact_reconciler/pkg/core/store"
	"fact_reconciler/pkg/core/sweep"
	"fact_reconciler/pkg/core/taxonomy"
)

func main() {
	codesFlag := flag.String("codes", "", "comma-separated codes to sweep; empty sweeps the whole exchange listing")
	limit := flag.Int("limit", 0, "cap the number of codes, 0 for all")
	quotesOnly := flag.Bool("quotes-only", false, "skip reconciliation, collect quotes only")
	filterSpec := flag.String("filters", "", "metric bounds, e.g. net_cash_to_price>=30,per<=10")
	flag.Parse()

	filters, err := parseFilters(*filterSpec)
	if err != nil {
		fmt.Printf("[FATAL] %v\n", err)
		os.Exit(1)
	}

	godotenv.Load()

	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		fmt.Printf("[FATAL] config: %v\n", err)
		os.Exit(1)
	}
	overrides, err := config.LoadOverrides("config/overrides.hjson")
	if err != nil {
		fmt.Printf("[FATAL] overrides: %v\n", err)
		os.Exit(1)
	}
	for label, aliases := range overrides.ExtraAliases {
		if err := taxonomy.AddAliases(taxonomy.Account(label), aliases...); err != nil {
			fmt.Printf("[WARNING] alias override for %q rejected: %v\n", label, err)
		}
	}

	ctx := context.Background()

	if err := store.InitDB(ctx, cfg.Store.DSNEnv); err != nil {
		fmt.Printf("[WARNING] database unavailable, snapshots persist to files: %v\n", err)
	}
	repo := store.NewSnapshotRepo(store.GetPool(), cfg.Store.Dir)
	if err := repo.EnsureSchema(ctx); err != nil {
		fmt.Printf("[WARNING] snapshot schema: %v\n", err)
	}

	fetcher := ingest.NewContentFetcher(cfg.Cache.Dir, cfg.Cache.MaxAge())
	dart := ingest.NewDARTClient(os.Getenv("DART_API_KEY"), fetcher)
	edgar := ingest.NewEDGARClient(fetcher)
	krx := ingest.NewKRXClient(fetcher)

	var quotes sweep.QuoteSource
	if key := os.Getenv("KIS_APP_KEY"); key != "" {
		quotes = ingest.NewKISClient(key, os.Getenv("KIS_APP_SECRET"), cfg.Quotes.Paper)
	} else {
		fmt.Println("[WARNING] KIS credentials missing, sweep rows will have no quotes")
	}

	resolver := identity.NewResolver(map[identity.Market]identity.Loader{
		identity.MarketKR: dart.FetchCorpRegistry,
		identity.MarketUS: edgar.FetchTickerRegistry,
	})
	conv := fx.New(cfg.FX.Pair, overrides.FXRate, ingest.NewFXLiveSource(), ingest.NewFXDailySource())

	// The sweep snapshotter runs without a quote source; the chunked batch
	// quote supplies prices.
	svc := pipeline.NewService(resolver, dart, edgar, nil, conv, repo, pipeline.Options{
		MinYears:       cfg.Fallback.MinYears,
		AssumeZeroDebt: cfg.Fallback.AssumeZeroDebt,
		CacheTTL:       cfg.Cache.MaxAge(),
	})

	codes := splitCodes(*codesFlag)
	if len(codes) == 0 {
		reg, err := krx.FetchListing(ctx)
		if err != nil {
			fmt.Printf("[FATAL] exchange listing: %v\n", err)
			os.Exit(1)
		}
		codes = ingest.ListedCodes(reg)
	}

	runner := sweep.NewRunner(quotes, svc, sweep.Options{
		ChunkSize:  cfg.Sweep.ChunkSize,
		MaxRetries: cfg.Sweep.MaxRetries,
		Backoff:    cfg.Sweep.Backoff(),
		QuotesOnly: *quotesOnly,
		Limit:      *limit,
		Filters:    filters,
	})

	progress := make(chan sweep.Progress, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			if p.Step == "chunk" {
				fmt.Printf("[SWEEP] %d/%d scanned, %d matched, %d failed\n", p.Scanned, p.Total, p.Matched, p.Failed)
			}
		}
	}()

	res, err := runner.Run(ctx, codes, progress)
	close(progress)
	<-done
	if err != nil {
		fmt.Printf("[FATAL] sweep failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nRun %s: %d matched, %d failed of %d in %dms\n", res.RunID, res.Matched, res.Failed, res.Scanned, res.ElapsedMs)
	if res.LastError != "" {
		fmt.Printf("Last error: %s\n", res.LastError)
	}

	fmt.Printf("\n%-8s %-20s %12s %8s %8s %14s %10s\n", "CODE", "NAME", "PRICE", "PER", "PBR", "NETCASH/SH", "NC/PRICE")
	fmt.Println(strings.Repeat("-", 88))
	for _, row := range res.Rows {
		fmt.Printf("%-8s %-20s %12s %8s %8s %14s %10s\n",
			row.Code, row.Name,
			cell(row.Price, 0), cell(row.PER, 2), cell(row.PBR, 2),
			cell(row.NetCashPerShare, 2), cell(row.NetCashToPrice, 2))
	}
}

func splitCodes(raw string) []string {
	var codes []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}

func cell(v *float64, decimals int) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', decimals, 64)
}

// parseFilters reads bounds like "per<=10" or "net_cash_to_price>=30" and
// merges bounds naming the same metric into one filter.
func parseFilters(spec string) ([]sweep.Filter, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	byMetric := make(map[sweep.Metric]*sweep.Filter)
	var order []sweep.Metric
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		op := ">="
		idx := strings.Index(part, op)
		if idx < 0 {
			op = "<="
			idx = strings.Index(part, op)
		}
		if idx < 0 {
			return nil, fmt.Errorf("filter %q needs >= or <=", part)
		}
		metric := sweep.Metric(strings.TrimSpace(part[:idx]))
		bound, err := strconv.ParseFloat(strings.TrimSpace(part[idx+2:]), 64)
		if err != nil {
			return nil, fmt.Errorf("filter %q has a non-numeric bound", part)
		}
		f := byMetric[metric]
		if f == nil {
			f = &sweep.Filter{Metric: metric}
			byMetric[metric] = f
			order = append(order, metric)
		}
		if op == ">=" {
			f.Min = &bound
		} else {
			f.Max = &bound
		}
	}
	filters := make([]sweep.Filter, 0, len(order))
	for _, m := range order {
		filters = append(filters, *byMetric[m])
	}
	return filters, nil
}
