package oracle

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// FeedStatus describes one registered feed for operator output.
type FeedStatus struct {
	Pair       string           `json:"pair"`
	Breaker    string           `json:"breaker,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	ObservedAt *time.Time       `json:"observed_at,omitempty"`
}

type stateReporter interface {
	State() string
}

func breakerState(feed Feed) string {
	if r, ok := feed.(stateReporter); ok {
		return r.State()
	}
	return ""
}

// FeedStatuses lists every registered pair with its breaker state and the last
// cached quote, sorted by pair.
func (o *Oracle) FeedStatuses() []FeedStatus {
	o.mu.Lock()
	keys := make([]pairKey, 0, len(o.feeds))
	feeds := make(map[pairKey]Feed, len(o.feeds))
	for k, f := range o.feeds {
		keys = append(keys, k)
		feeds[k] = f
	}
	o.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].asset != keys[j].asset {
			return keys[i].asset < keys[j].asset
		}
		return keys[i].base < keys[j].base
	})

	out := make([]FeedStatus, 0, len(keys))
	for _, k := range keys {
		st := FeedStatus{Pair: k.asset + "/" + k.base, Breaker: breakerState(feeds[k])}
		if q, ok := o.Cached(k.asset, k.base); ok {
			price, observed := q.Price, q.ObservedAt
			st.Price, st.ObservedAt = &price, &observed
		}
		out = append(out, st)
	}
	return out
}

// FeedStatuses reports the breaker as a single feed, for callers that use it
// without an Oracle.
func (b *BreakerFeed) FeedStatuses() []FeedStatus {
	return []FeedStatus{{Pair: b.cb.Name(), Breaker: b.State()}}
}
