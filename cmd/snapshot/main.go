package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"fact_reconciler/pkg/core/config"
	"fact_reconciler/pkg/core/fx"
	"fact_reconciler/pkg/core/identity"
	"fact_reconciler/pkg/core/ingest"
	"fact_reconciler/pkg/core/pipeline"
	"fact_reconciler/pkg/core/report"
	"fact_reconciler/pkg/core/store"
	"fact_reconciler/pkg/core/taxonomy"
)

func main() {
	market := flag.String("market", "kr", "market to query: kr or us")
	year := flag.Int("year", 0, "target fiscal year, 0 follows the release schedule")
	assumeZero := flag.Bool("assume-zero-debt", false, "treat missing borrowings as zero instead of unknown")
	skipCache := flag.Bool("skip-cache", false, "bypass the snapshot store")
	format := flag.String("format", "report", "output format: report or json")
	flag.Parse()

	input := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if input == "" {
		fmt.Println("usage: snapshot [flags] <company name, code, or CIK>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	q := pipeline.Query{Input: input, Year: *year, SkipCache: *skipCache}
	switch strings.ToUpper(*market) {
	case "KR":
		q.Market = identity.MarketKR
	case "US":
		q.Market = identity.MarketUS
	default:
		fmt.Printf("[FATAL] unknown market %q\n", *market)
		os.Exit(1)
	}
	if *assumeZero {
		t := true
		q.AssumeZeroDebt = &t
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

	var quotes pipeline.QuoteSource
	if key := os.Getenv("KIS_APP_KEY"); key != "" {
		quotes = ingest.NewKISClient(key, os.Getenv("KIS_APP_SECRET"), cfg.Quotes.Paper)
	}

	resolver := identity.NewResolver(map[identity.Market]identity.Loader{
		identity.MarketKR: dart.FetchCorpRegistry,
		identity.MarketUS: edgar.FetchTickerRegistry,
	})
	conv := fx.New(cfg.FX.Pair, overrides.FXRate, ingest.NewFXLiveSource(), ingest.NewFXDailySource())

	svc := pipeline.NewService(resolver, dart, edgar, quotes, conv, repo, pipeline.Options{
		MinYears:       cfg.Fallback.MinYears,
		AssumeZeroDebt: cfg.Fallback.AssumeZeroDebt,
		CacheTTL:       cfg.Cache.MaxAge(),
	})

	snap, err := svc.Snapshot(ctx, q)
	if err != nil {
		fmt.Printf("[FATAL] %v\n", err)
		os.Exit(1)
	}

	switch *format {
	case "json":
		out, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			fmt.Printf("[FATAL] encode snapshot: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
	default:
		fmt.Print(report.Markdown(snap))
	}
}
