// Package fx resolves one FX rate from a prioritized chain of sources and
// caches it for the process lifetime. Nothing in the reconciliation engine
// computes on the rate; it only supports cross-currency display, so every
// failure degrades to nil instead of an error.
package fx

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// QuoteSource returns the current rate for a currency pair.
type QuoteSource interface {
	Quote(ctx context.Context, pair string) (float64, error)
}

// QuoteFunc adapts a function to QuoteSource.
type QuoteFunc func(ctx context.Context, pair string) (float64, error)

func (f QuoteFunc) Quote(ctx context.Context, pair string) (float64, error) {
	return f(ctx, pair)
}

// Converter owns the rate for one pair, quoted as target-units-per-source
// (USD/KRW = won per dollar). Resolution order: static override, live quote,
// daily-close fallback, then the override again (possibly absent). The first
// resolution is cached for the process lifetime.
type Converter struct {
	pair     string
	override *float64
	live     QuoteSource
	daily    QuoteSource

	once   sync.Once
	cached *float64
}

// New builds a converter. Either source may be nil; override may be nil.
func New(pair string, override *float64, live, daily QuoteSource) *Converter {
	return &Converter{pair: pair, override: override, live: live, daily: daily}
}

// Pair returns the converter's currency pair.
func (c *Converter) Pair() string { return c.pair }

// Rate resolves the rate once and returns the cached value afterwards. Never
// returns an error; nil means no source could produce a usable rate and the
// caller must degrade display.
func (c *Converter) Rate(ctx context.Context) *float64 {
	c.once.Do(func() {
		c.cached = c.resolve(ctx)
	})
	return c.cached
}

func (c *Converter) resolve(ctx context.Context) *float64 {
	if c.override != nil {
		return c.override
	}
	if c.live != nil {
		if rate, err := c.live.Quote(ctx, c.pair); err == nil && rate > 0 {
			return &rate
		} else if err != nil {
			fmt.Printf("[WARNING] fx live quote %s failed: %v\n", c.pair, err)
		}
	}
	if c.daily != nil {
		if rate, err := c.daily.Quote(ctx, c.pair); err == nil && rate > 0 {
			return &rate
		} else if err != nil {
			fmt.Printf("[WARNING] fx daily close %s failed: %v\n", c.pair, err)
		}
	}
	return c.override
}

// Convert divides a source-currency value by the pair rate (a per-share won
// figure over USD/KRW yields dollars). Nil when no rate resolved. Decimal
// division, rounded to four places, keeps small dollar figures stable.
func (c *Converter) Convert(ctx context.Context, value float64) *float64 {
	rate := c.Rate(ctx)
	if rate == nil || *rate <= 0 {
		return nil
	}
	out, _ := decimal.NewFromFloat(value).
		DivRound(decimal.NewFromFloat(*rate), 4).
		Float64()
	return &out
}
