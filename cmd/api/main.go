package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"fact_reconciler/pkg/api/snapshot"
	"fact_reconciler/pkg/api/sweep"
	"fact_reconciler/pkg/core/config"
	"fact_reconciler/pkg/core/fx"
	"fact_reconciler/pkg/core/identity"
	"fact_reconciler/pkg/core/ingest"
	"fact_reconciler/pkg/core/pipeline"
	"fact_reconciler/pkg/core/store"
	coreSweep "fact_reconciler/pkg/core/sweep"
	"fact_reconciler/pkg/core/taxonomy"
)

func main() {
	// Load environment variables
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
	applyAliasOverrides(overrides)

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

	var quotes pipeline.QuoteSource
	var sweepQuotes coreSweep.QuoteSource
	if key := os.Getenv("KIS_APP_KEY"); key != "" {
		kis := ingest.NewKISClient(key, os.Getenv("KIS_APP_SECRET"), cfg.Quotes.Paper)
		quotes = kis
		sweepQuotes = kis
	} else {
		fmt.Println("[WARNING] KIS credentials missing, market quotes disabled")
	}

	resolver := identity.NewResolver(map[identity.Market]identity.Loader{
		identity.MarketKR: dart.FetchCorpRegistry,
		identity.MarketUS: edgar.FetchTickerRegistry,
	})

	conv := fx.New(cfg.FX.Pair, overrides.FXRate, ingest.NewFXLiveSource(), ingest.NewFXDailySource())

	opts := pipeline.Options{
		MinYears:       cfg.Fallback.MinYears,
		AssumeZeroDebt: cfg.Fallback.AssumeZeroDebt,
		CacheTTL:       cfg.Cache.MaxAge(),
	}
	svc := pipeline.NewService(resolver, dart, edgar, quotes, conv, repo, opts)

	// Sweeps run their own batched quotes, so their snapshotter goes without
	// a quote source.
	sweepSvc := pipeline.NewService(resolver, dart, edgar, nil, conv, repo, opts)
	universe := func(ctx context.Context) ([]string, error) {
		reg, err := krx.FetchListing(ctx)
		if err != nil {
			return nil, err
		}
		return ingest.ListedCodes(reg), nil
	}
	sweepHandler := sweep.NewHandler(sweepQuotes, sweepSvc, universe, coreSweep.Options{
		ChunkSize:  cfg.Sweep.ChunkSize,
		MaxRetries: cfg.Sweep.MaxRetries,
		Backoff:    cfg.Sweep.Backoff(),
	})

	snapHandler := snapshot.NewHandler(svc)
	http.HandleFunc("/api/snapshot", snapHandler.HandleSnapshot)
	http.HandleFunc("/api/report", snapHandler.HandleReport)
	http.HandleFunc("/api/sweep/stream", sweepHandler.HandleSweepStream)

	fmt.Printf("API server starting on %s...\n", cfg.Server.Addr)
	fmt.Println("  - GET /api/snapshot      (reconciled figures as JSON)")
	fmt.Println("  - GET /api/report        (rendered report, format=markdown for the source)")
	fmt.Println("  - GET /api/sweep/stream  (SSE market sweep)")

	if err := http.ListenAndServe(cfg.Server.Addr, nil); err != nil {
		fmt.Printf("[FATAL] Server failed to start: %v\n", err)
		os.Exit(1)
	}
}

func applyAliasOverrides(ov *config.Overrides) {
	for label, aliases := range ov.ExtraAliases {
		if err := taxonomy.AddAliases(taxonomy.Account(label), aliases...); err != nil {
			fmt.Printf("[WARNING] alias override for %q rejected: %v\n", label, err)
		}
	}
}
