// Package ledger defines the wallet-side store of confidential outputs.
//
// The store tracks every transaction output paying one of the wallet's
// scripts, together with the blinding key needed to unblind it, and the
// issuance entropy of every asset the wallet has issued. Coin selection
// is served from here: callers describe what they need with a Filter and
// the store answers with the smallest set of largest outputs that covers
// the target value.
package ledger

import (
	"context"

	"github.com/t1plarnd/simplicity-dex/model"
)

// QueryStatus reports the outcome of a coin selection query.
type QueryStatus int

const (
	// QueryFound means the selected entries cover the requested value.
	QueryFound QueryStatus = iota

	// QueryInsufficientValue means unspent outputs matched the filter but
	// their combined value falls short of the target.
	QueryInsufficientValue

	// QueryEmpty means no unspent output matched the filter at all.
	QueryEmpty
)

func (s QueryStatus) String() string {
	switch s {
	case QueryFound:
		return "FOUND"
	case QueryInsufficientValue:
		return "INSUFFICIENT_VALUE"
	case QueryEmpty:
		return "EMPTY"
	default:
		return "UNKNOWN"
	}
}

// Entry is a single tracked output together with its blinding key.
// BlinderKey is nil for explicit (unblinded) outputs.
type Entry struct {
	Outpoint   model.Outpoint
	TxOut      model.TxOut
	BlinderKey []byte
	Spent      bool
}

// Filter describes a coin selection query. Outputs are matched on asset
// and, when ScriptPubKey is non-nil, on the exact locking script.
// Selection walks matching unspent outputs from largest to smallest and
// stops as soon as TargetValue is covered.
type Filter struct {
	AssetID      model.AssetID
	ScriptPubKey []byte
	TargetValue  uint64

	// RequireConfidential restricts selection to blinded outputs.
	RequireConfidential bool

	// Exclude removes specific outpoints from consideration, for
	// callers that have already earmarked them for the same
	// transaction.
	Exclude []model.Outpoint
}

// QueryResult is the answer to a Select. For QueryFound, Entries covers
// TargetValue and Total is their combined value. For
// QueryInsufficientValue, Entries holds everything that matched and
// Total is the shortfall-revealing sum. For QueryEmpty both are zero.
type QueryResult struct {
	Status  QueryStatus
	Entries []Entry
	Total   uint64
}

// Issuance records the entropy behind one of the wallet's issued assets.
type Issuance struct {
	AssetID      model.AssetID
	Entropy      model.Entropy
	Confidential bool
}

// Reader is the read-only surface of the store, shared by the store
// itself and by in-flight spend transactions.
type Reader interface {
	// Lookup returns the entry for the given outpoint, spent or not.
	Lookup(ctx context.Context, outpoint model.Outpoint) (*Entry, error)

	// Select runs coin selection for a single filter.
	Select(ctx context.Context, filter Filter) (*QueryResult, error)
}

// SpendTx is the handle passed to a SpendLock callback. All operations
// run inside one database transaction; if the callback returns an error
// every change is rolled back and the selected outputs stay unspent.
type SpendTx interface {
	Reader

	// MarkSpent flags the given outpoints as spent. It is idempotent on
	// already spent outputs and fails only for unknown ones.
	MarkSpent(ctx context.Context, outpoints []model.Outpoint) error

	// RecordOutput stores a new output, typically the change of the
	// transaction being built under the lock.
	RecordOutput(ctx context.Context, outpoint model.Outpoint, txOut *model.TxOut, blinderKey []byte) error

	// RecordIssuance stores the entropy for an asset issued by the
	// transaction being built under the lock. Rolls back with the rest
	// of the spend transaction on failure.
	RecordIssuance(ctx context.Context, issuance Issuance) error
}

// Store is the persistent coin store.
type Store interface {
	Reader

	Health(ctx context.Context) (int, string, error)

	RecordOutput(ctx context.Context, outpoint model.Outpoint, txOut *model.TxOut, blinderKey []byte) error

	MarkSpent(ctx context.Context, outpoints []model.Outpoint) error

	// SelectMany runs several independent selections concurrently and
	// returns results in filter order. A failed filter fails the batch.
	SelectMany(ctx context.Context, filters []Filter) ([]*QueryResult, error)

	// RecordIssuance stores the entropy for a newly issued asset.
	RecordIssuance(ctx context.Context, issuance Issuance) error

	// GetIssuance returns the issuance record for an asset the wallet
	// has issued, or a NotFoundError.
	GetIssuance(ctx context.Context, assetID model.AssetID) (*Issuance, error)

	// RecordTransaction applies a whole wallet transaction atomically:
	// inputs are marked spent, issuances are recorded, and every output
	// with a blinding key in blinderKeys (indexed by vout) is stored.
	// Outputs without an entry in blinderKeys are stored unblinded only
	// when their vout appears in trackVouts.
	RecordTransaction(ctx context.Context, tx *model.Transaction, blinderKeys map[uint32][]byte, trackVouts []uint32) error

	// SpendLock serialises spenders. It takes the store-wide spend lock,
	// opens a database transaction and invokes fn with a SpendTx bound
	// to it. The transaction commits when fn returns nil and rolls back
	// otherwise, releasing any outputs fn had marked spent.
	SpendLock(ctx context.Context, fn func(ctx context.Context, tx SpendTx) error) error

	Close() error
}
