package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"fact_reconciler/pkg/core/errs"
	"fact_reconciler/pkg/core/normalize"
)

// Loader produces a registry snapshot for one market. Called at most once
// per process per market; failures propagate as configuration errors and are
// not retried here.
type Loader func(ctx context.Context) (Registry, error)

// Resolver resolves user input against lazily-loaded per-market registries.
type Resolver struct {
	loaders map[Market]Loader

	mu    sync.Mutex
	cache map[Market]Registry
}

// NewResolver wires the per-market loaders.
func NewResolver(loaders map[Market]Loader) *Resolver {
	return &Resolver{
		loaders: loaders,
		cache:   make(map[Market]Registry),
	}
}

// Registry returns the cached snapshot for a market, loading it on first
// use. Sweeps share the same snapshot read-only.
func (r *Resolver) Registry(ctx context.Context, market Market) (Registry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.cache[market]; ok {
		return reg, nil
	}
	loader, ok := r.loaders[market]
	if !ok {
		return nil, fmt.Errorf("no registry loader for market %s: %w", market, errs.ErrConfiguration)
	}
	reg, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s registry: %w", market, err)
	}
	r.cache[market] = reg
	return reg, nil
}

// Resolve maps input onto a canonical identity. Match order: long digit runs
// become direct identities, then the code index, then the exact name index,
// then the substring scan. First match wins.
func (r *Resolver) Resolve(ctx context.Context, input string, market Market) (CompanyIdentity, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return CompanyIdentity{}, fmt.Errorf("empty query: %w", errs.ErrNotFound)
	}

	reg, err := r.Registry(ctx, market)
	if err != nil {
		return CompanyIdentity{}, err
	}

	digits := normalize.Digits(trimmed)

	// Long digit runs are identities in their own right: a US CIK or a full
	// disclosure corp code. Reverse-lookup the display name when the
	// registry knows the id, else echo the input.
	if len(digits) >= 8 {
		id := directIdentity(market, digits)
		if e, ok := reg.ByID(id.SecondaryCode); ok {
			return fromEntry(market, e), nil
		}
		id.DisplayName = trimmed
		return id, nil
	}

	code := digits
	if market == MarketUS {
		code = normalize.CleanTicker(trimmed)
	}
	if len(digits) == 6 || market == MarketUS {
		if e, ok := reg.ByCode(code); ok {
			return fromEntry(market, e), nil
		}
	}

	key := normalize.Key(trimmed)
	if e, ok := reg.ByName(key); ok {
		return fromEntry(market, e), nil
	}
	if e, ok := reg.BySubstring(key); ok {
		return fromEntry(market, e), nil
	}

	return CompanyIdentity{}, fmt.Errorf("no %s registry entry matches %q: %w", market, trimmed, errs.ErrNotFound)
}

func directIdentity(market Market, digits string) CompanyIdentity {
	if market == MarketUS {
		return CompanyIdentity{
			Market:        MarketUS,
			SecondaryCode: fmt.Sprintf("%010s", digits),
		}
	}
	return CompanyIdentity{
		Market:        MarketKR,
		SecondaryCode: digits[:8],
	}
}

func fromEntry(market Market, e Entry) CompanyIdentity {
	return CompanyIdentity{
		Market:        market,
		PrimaryCode:   e.PrimaryCode,
		SecondaryCode: e.SecondaryCode,
		DisplayName:   e.Name,
	}
}
