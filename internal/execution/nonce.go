package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSource reports the venue's pending transaction count for an account.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceCounter tracks the next sequence number for one wallet within a session.
// It syncs from the venue on first use and again after Invalidate.
type NonceCounter struct {
	mu      sync.Mutex
	source  NonceSource
	account common.Address
	next    uint64
	synced  bool
}

func NewNonceCounter(source NonceSource, account common.Address) *NonceCounter {
	return &NonceCounter{source: source, account: account}
}

// Current returns the nonce the next transaction must use, without consuming it.
func (n *NonceCounter) Current(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.synced {
		nonce, err := n.source.PendingNonceAt(ctx, n.account)
		if err != nil {
			return 0, fmt.Errorf("read nonce for %s: %w", n.account.Hex(), err)
		}
		n.next = nonce
		n.synced = true
	}
	return n.next, nil
}

// Advance records that the current nonce was accepted by the venue.
func (n *NonceCounter) Advance() {
	n.mu.Lock()
	n.next++
	n.mu.Unlock()
}

// Invalidate forces the next Current call to re-read the venue.
func (n *NonceCounter) Invalidate() {
	n.mu.Lock()
	n.synced = false
	n.mu.Unlock()
}
