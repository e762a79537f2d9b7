package lifecycle

import (
	"context"
	"sync"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/model"
)

// Broadcaster is the engine's view of the underlying chain: it accepts
// constructed transactions and reports the current tip height for the
// settlement timing guard.
type Broadcaster interface {
	// Broadcast submits a transaction for acceptance. A rejection is
	// returned as a BroadcastRejectedError and is fatal to the attempted
	// action but not to the process.
	Broadcast(ctx context.Context, tx *model.Transaction) error

	// TipHeight returns the current chain height.
	TipHeight(ctx context.Context) (uint32, error)
}

// MemoryBroadcaster accepts every transaction and remembers it. Tests
// and dry-run tooling use it in place of a node connection.
type MemoryBroadcaster struct {
	mu     sync.Mutex
	height uint32
	txs    []*model.Transaction

	// RejectNext makes the next Broadcast fail, simulating node
	// rejection of an otherwise well-formed transaction.
	RejectNext bool
}

func NewMemoryBroadcaster(height uint32) *MemoryBroadcaster {
	return &MemoryBroadcaster{height: height}
}

func (b *MemoryBroadcaster) Broadcast(_ context.Context, tx *model.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.RejectNext {
		b.RejectNext = false
		return errors.NewBroadcastRejectedError("transaction %s rejected", tx.TxID())
	}

	b.txs = append(b.txs, tx)

	return nil
}

func (b *MemoryBroadcaster) TipHeight(_ context.Context) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.height, nil
}

// SetHeight moves the simulated chain tip.
func (b *MemoryBroadcaster) SetHeight(height uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.height = height
}

// Transactions returns everything broadcast so far.
func (b *MemoryBroadcaster) Transactions() []*model.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()

	txs := make([]*model.Transaction, len(b.txs))
	copy(txs, b.txs)

	return txs
}
