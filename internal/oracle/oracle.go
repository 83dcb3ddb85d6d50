// Package oracle serves (asset, base) prices from registered feeds through a
// TTL cache, substituting a synthetic price when no usable quote is available.
package oracle

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"dex-trade-bot-go/internal/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrNoFeed means no feed is registered for the pair.
	ErrNoFeed = errors.New("no feed registered")
	// ErrNonPositive means a feed answered with a zero or negative price.
	ErrNonPositive = errors.New("non-positive price")
)

// Synthetic fallback bounds and precision.
const (
	fallbackLow         = 0.95
	fallbackSpan        = 0.10
	fallbackPlace int32 = 5
)

// Feed is a live price source for one pair.
type Feed interface {
	LatestPrice(ctx context.Context) (decimal.Decimal, error)
}

// Quote is a price observation.
type Quote struct {
	Asset      string
	Base       string
	Price      decimal.Decimal
	ObservedAt time.Time
}

type pairKey struct{ asset, base string }

func keyOf(asset, base string) pairKey {
	return pairKey{strings.ToLower(asset), strings.ToLower(base)}
}

type entry struct {
	quote     Quote
	expiresAt time.Time
}

// Oracle owns the price cache and the feed registry.
type Oracle struct {
	mu     sync.Mutex
	cache  map[pairKey]entry
	feeds  map[pairKey]Feed
	ttl    time.Duration
	rng    *rand.Rand
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes an Oracle.
type Option func(*Oracle)

// WithRand sets the source of synthetic fallback prices.
func WithRand(r *rand.Rand) Option {
	return func(o *Oracle) { o.rng = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

// New creates an oracle with an empty cache.
func New(logger *zap.Logger, ttl time.Duration, opts ...Option) *Oracle {
	o := &Oracle{
		cache:  make(map[pairKey]entry),
		feeds:  make(map[pairKey]Feed),
		ttl:    ttl,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		now:    time.Now,
		logger: logger.Named("oracle"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register installs the feed for a pair, replacing any previous one.
func (o *Oracle) Register(asset, base string, feed Feed) {
	o.mu.Lock()
	o.feeds[keyOf(asset, base)] = feed
	o.mu.Unlock()
}

// GetPrice returns the cached price while it is younger than the TTL, otherwise
// fetches it. It never fails: an unusable feed yields a synthetic price.
func (o *Oracle) GetPrice(ctx context.Context, asset, base string) decimal.Decimal {
	return o.price(ctx, asset, base, false)
}

// RefreshPrice fetches the pair unconditionally.
func (o *Oracle) RefreshPrice(ctx context.Context, asset, base string) decimal.Decimal {
	return o.price(ctx, asset, base, true)
}

// EstimateFairValue is the reference value used to measure mispricing.
// It currently reads the same cached price as GetPrice.
func (o *Oracle) EstimateFairValue(ctx context.Context, asset, base string) decimal.Decimal {
	fair := o.GetPrice(ctx, asset, base)
	o.logger.Debug("Fair value", zap.String("asset", asset), zap.String("base", base), zap.String("fair_value", fair.String()))
	return fair
}

// Cached returns the cached quote for a pair, expired or not.
func (o *Oracle) Cached(asset, base string) (Quote, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.cache[keyOf(asset, base)]
	return e.quote, ok
}

// ClearCache drops every cached quote.
func (o *Oracle) ClearCache() {
	o.mu.Lock()
	o.cache = make(map[pairKey]entry)
	o.mu.Unlock()
	o.logger.Info("Cache cleared")
}

func (o *Oracle) price(ctx context.Context, asset, base string, force bool) decimal.Decimal {
	key := keyOf(asset, base)

	o.mu.Lock()
	now := o.now()
	if e, ok := o.cache[key]; ok && !force && now.Before(e.expiresAt) {
		o.mu.Unlock()
		return e.quote.Price
	}
	feed := o.feeds[key]
	o.mu.Unlock()

	price, err := o.fetch(ctx, feed)
	if err != nil {
		price = o.fallback(err)
		o.logger.Warn("Fallback to simulated price",
			zap.String("asset", asset), zap.String("base", base),
			zap.String("price", price.String()), zap.Error(err))
	}

	observed := o.now()
	o.mu.Lock()
	o.cache[key] = entry{
		quote:     Quote{Asset: asset, Base: base, Price: price, ObservedAt: observed},
		expiresAt: observed.Add(o.ttl),
	}
	o.mu.Unlock()

	o.logger.Debug("Price", zap.String("asset", asset), zap.String("base", base), zap.String("price", price.String()))
	return price
}

func (o *Oracle) fetch(ctx context.Context, feed Feed) (decimal.Decimal, error) {
	if feed == nil {
		return decimal.Zero, ErrNoFeed
	}
	price, err := feed.LatestPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, ErrNonPositive
	}
	return price, nil
}

func (o *Oracle) fallback(cause error) decimal.Decimal {
	reason := "fetch_error"
	switch {
	case errors.Is(cause, ErrNoFeed):
		reason = "no_feed"
	case errors.Is(cause, ErrNonPositive):
		reason = "non_positive"
	case errors.Is(cause, ErrBreakerOpen):
		reason = "breaker_open"
	}
	metrics.OracleFallbacksTotal.WithLabelValues(reason).Inc()

	o.mu.Lock()
	u := o.rng.Float64()
	o.mu.Unlock()
	return decimal.NewFromFloat(fallbackLow + u*fallbackSpan).Round(fallbackPlace)
}
