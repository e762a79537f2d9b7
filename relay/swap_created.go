package relay

import (
	"encoding/hex"
	"encoding/json"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/model"
)

// SwapTerms describe an announced atomic swap with change: the asset
// lot locked in the swap output against the asset payment it can be
// taken for. A taker paying less than RequestedAmount receives a
// proportional lot, with the remainder returned as change.
type SwapTerms struct {
	OfferedAsset    model.AssetID `json:"offered_asset"`
	OfferedAmount   uint64        `json:"offered_amount"`
	RequestedAsset  model.AssetID `json:"requested_asset"`
	RequestedAmount uint64        `json:"requested_amount"`
}

// SwapCreatedEvent announces a swap output takers can spend.
type SwapCreatedEvent struct {
	EventID   string
	PubKey    string
	CreatedAt int64

	Terms            *SwapTerms
	Utxo             model.Outpoint
	TaprootPubkeyGen *model.TaprootPubkeyGen
}

func BuildSwapCreatedEvent(priv *secp256k1.PrivateKey, terms *SwapTerms, utxo model.Outpoint, gen *model.TaprootPubkeyGen) (*Event, error) {
	termsBytes, err := json.Marshal(terms)
	if err != nil {
		return nil, errors.NewProcessingError("failed to serialize swap terms", err)
	}

	e := &Event{Kind: KindSwapCreated}
	e.appendTag(TagSwapTerms, hex.EncodeToString(termsBytes))
	e.appendTag(TagSwapUtxo, utxo.String())
	e.appendTag(TagTaprootGen, gen.String())

	if err := e.Sign(priv); err != nil {
		return nil, err
	}

	return e, nil
}

func ParseSwapCreatedEvent(e *Event) (*SwapCreatedEvent, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	if e.Kind != KindSwapCreated {
		return nil, errors.NewMalformedEventError("unexpected kind %d, want %d", e.Kind, KindSwapCreated)
	}

	termsHex, ok := e.Tag(TagSwapTerms)
	if !ok {
		return nil, errors.NewMalformedEventError("missing %s tag", TagSwapTerms)
	}

	termsBytes, err := hex.DecodeString(termsHex)
	if err != nil {
		return nil, errors.NewMalformedEventError("invalid %s tag hex", TagSwapTerms, err)
	}

	terms := &SwapTerms{}
	if err = json.Unmarshal(termsBytes, terms); err != nil {
		return nil, errors.NewMalformedEventError("invalid swap terms", err)
	}

	utxoStr, ok := e.Tag(TagSwapUtxo)
	if !ok {
		return nil, errors.NewMalformedEventError("missing %s tag", TagSwapUtxo)
	}

	utxo, err := model.ParseOutpoint(utxoStr)
	if err != nil {
		return nil, errors.NewMalformedEventError("invalid swap outpoint", err)
	}

	genStr, ok := e.Tag(TagTaprootGen)
	if !ok {
		return nil, errors.NewMalformedEventError("missing %s tag", TagTaprootGen)
	}

	gen, err := model.ParseTaprootPubkeyGen(genStr)
	if err != nil {
		return nil, err
	}

	return &SwapCreatedEvent{
		EventID:          e.ID,
		PubKey:           e.PubKey,
		CreatedAt:        e.CreatedAt,
		Terms:            terms,
		Utxo:             utxo,
		TaprootPubkeyGen: gen,
	}, nil
}
