package binance

import (
	"context"

	"github.com/shopspring/decimal"
)

// Ticker reads one symbol's last traded price. It serves both as an oracle feed
// and as the signal strategy's price source.
type Ticker struct {
	client RestClientInterface
	symbol string
}

// NewTicker binds a client to a symbol such as "ETHUSDT".
func NewTicker(client RestClientInterface, symbol string) *Ticker {
	return &Ticker{client: client, symbol: symbol}
}

// Symbol returns the bound symbol.
func (t *Ticker) Symbol() string { return t.symbol }

// LatestPrice fetches the current price.
func (t *Ticker) LatestPrice(ctx context.Context) (decimal.Decimal, error) {
	return t.client.GetTickerPrice(ctx, t.symbol)
}
