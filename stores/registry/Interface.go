// Package registry is the contract registry: program sources, deployed
// contract instances keyed by their taproot commitment, and the
// lifecycle state of each contract. Sources are content-addressed and
// deduplicated; contract rows are written once at maker init and never
// revised.
package registry

import (
	"context"

	"github.com/t1plarnd/simplicity-dex/model"
)

// Contract is a deployed contract instance.
type Contract struct {
	// TaprootPubkeyGen is the string form of the contract's taproot
	// commitment, the registry's primary key.
	TaprootPubkeyGen string

	ScriptPubKey []byte
	CMR          model.CMR
	SourceHash   model.Hash
	Arguments    *model.DCDArguments

	// AppMetadata is opaque to the registry.
	AppMetadata []byte
}

// Store is the persistent contract registry.
type Store interface {
	Health(ctx context.Context) (int, string, error)

	// AddContract stores a program source (deduplicated on its hash) and
	// the contract instance referencing it. Registering the same taproot
	// commitment twice is a ConstraintViolation.
	AddContract(ctx context.Context, source []byte, args *model.DCDArguments, gen *model.TaprootPubkeyGen, appMetadata []byte) error

	// GetContract returns the instance registered under the commitment,
	// or a ContractNotFoundError.
	GetContract(ctx context.Context, taprootPubkeyGen string) (*Contract, error)

	// GetContractByScript resolves a locking script back to its contract.
	GetContractByScript(ctx context.Context, scriptPubKey []byte) (*Contract, error)

	// GetSource returns the raw program source for a source hash.
	GetSource(ctx context.Context, sourceHash model.Hash) ([]byte, error)

	// GetState returns the persisted lifecycle state tag for a contract,
	// or the empty string when none has been recorded yet.
	GetState(ctx context.Context, taprootPubkeyGen string) (string, error)

	// SetState upserts the lifecycle state tag for a contract.
	SetState(ctx context.Context, taprootPubkeyGen string, state string) error

	Close() error
}
