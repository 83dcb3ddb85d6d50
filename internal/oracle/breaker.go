package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	cb "github.com/sony/gobreaker"
)

// ErrBreakerOpen is returned while a feed's breaker rejects calls.
var ErrBreakerOpen = errors.New("feed circuit open")

// BreakerFeed stops calling a feed after repeated failures.
type BreakerFeed struct {
	feed Feed
	cb   *cb.CircuitBreaker
}

// NewBreakerFeed wraps feed with a breaker that trips after 3 consecutive
// failures and lets a trial call through after cooldown.
func NewBreakerFeed(name string, feed Feed, cooldown time.Duration) *BreakerFeed {
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = cooldown
	st.ReadyToTrip = func(counts cb.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	return &BreakerFeed{feed: feed, cb: cb.NewCircuitBreaker(st)}
}

// LatestPrice calls the wrapped feed unless the breaker is open.
func (b *BreakerFeed) LatestPrice(ctx context.Context) (decimal.Decimal, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		price, err := b.feed.LatestPrice(ctx)
		if err != nil {
			return nil, err
		}
		if !price.IsPositive() {
			return nil, ErrNonPositive
		}
		return price, nil
	})
	if errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrBreakerOpen, b.cb.Name())
	}
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// State reports the breaker state: closed, open or half-open.
func (b *BreakerFeed) State() string {
	return b.cb.State().String()
}
