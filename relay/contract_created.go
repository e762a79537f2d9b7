package relay

import (
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/model"
)

// ContractCreatedEvent announces a freshly initialized contract: its
// full argument set, the maker's funding outpoint and the taproot
// commitment takers fund against.
type ContractCreatedEvent struct {
	EventID   string
	PubKey    string
	CreatedAt int64

	Args             *model.DCDArguments
	Utxo             model.Outpoint
	TaprootPubkeyGen *model.TaprootPubkeyGen
}

// BuildContractCreatedEvent constructs and signs the wire event.
func BuildContractCreatedEvent(priv *secp256k1.PrivateKey, args *model.DCDArguments, utxo model.Outpoint, gen *model.TaprootPubkeyGen) (*Event, error) {
	argsBytes, err := args.Serialize()
	if err != nil {
		return nil, err
	}

	e := &Event{Kind: KindContractCreated}
	e.appendTag(TagContractArgs, hex.EncodeToString(argsBytes))
	e.appendTag(TagContractUtxo, utxo.String())
	e.appendTag(TagTaprootGen, gen.String())

	if err := e.Sign(priv); err != nil {
		return nil, err
	}

	return e, nil
}

// ParseContractCreatedEvent validates the event and decodes its
// payload. The taproot commitment must parse and its output key must
// lift to a curve point.
func ParseContractCreatedEvent(e *Event) (*ContractCreatedEvent, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	if e.Kind != KindContractCreated {
		return nil, errors.NewMalformedEventError("unexpected kind %d, want %d", e.Kind, KindContractCreated)
	}

	argsHex, ok := e.Tag(TagContractArgs)
	if !ok {
		return nil, errors.NewMalformedEventError("missing %s tag", TagContractArgs)
	}

	argsBytes, err := hex.DecodeString(argsHex)
	if err != nil {
		return nil, errors.NewMalformedEventError("invalid %s tag hex", TagContractArgs, err)
	}

	args, err := model.DeserializeDCDArguments(argsBytes)
	if err != nil {
		return nil, errors.NewMalformedEventError("invalid contract arguments", err)
	}

	utxoStr, ok := e.Tag(TagContractUtxo)
	if !ok {
		return nil, errors.NewMalformedEventError("missing %s tag", TagContractUtxo)
	}

	utxo, err := model.ParseOutpoint(utxoStr)
	if err != nil {
		return nil, errors.NewMalformedEventError("invalid funding outpoint", err)
	}

	genStr, ok := e.Tag(TagTaprootGen)
	if !ok {
		return nil, errors.NewMalformedEventError("missing %s tag", TagTaprootGen)
	}

	gen, err := model.ParseTaprootPubkeyGen(genStr)
	if err != nil {
		return nil, err
	}

	return &ContractCreatedEvent{
		EventID:          e.ID,
		PubKey:           e.PubKey,
		CreatedAt:        e.CreatedAt,
		Args:             args,
		Utxo:             utxo,
		TaprootPubkeyGen: gen,
	}, nil
}
