// Package oracle verifies price attestations. An attestation is a
// schnorr signature by the contract's oracle over the canonical digest
// of (settlement height, price). The verifier does no chain I/O and
// holds no state; callers enforce that settlement is only attempted at
// or after the attested height.
package oracle

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/keys"
	"github.com/t1plarnd/simplicity-dex/model"
)

// Attestation is an oracle's signed price statement for one height.
type Attestation struct {
	SettlementHeight uint32
	Price            uint64
	Signature        []byte
}

// Digest is the canonical message the oracle signs: the SHA256 of the
// big-endian height followed by the big-endian price.
func Digest(settlementHeight uint32, price uint64) model.Hash {
	var msg [12]byte

	binary.BigEndian.PutUint32(msg[0:4], settlementHeight)
	binary.BigEndian.PutUint64(msg[4:12], price)

	return model.Hash(sha256.Sum256(msg[:]))
}

// Sign produces an attestation with the given oracle key context. Used
// by tests and by the CLI's oracle-signature helper.
func Sign(kctx *keys.KeyContext, index uint32, settlementHeight uint32, price uint64) (*Attestation, error) {
	digest := Digest(settlementHeight, price)

	sig, err := keys.SignSchnorr(kctx.DeriveKeyPair(index), digest[:])
	if err != nil {
		return nil, err
	}

	return &Attestation{
		SettlementHeight: settlementHeight,
		Price:            price,
		Signature:        sig,
	}, nil
}

// Verify checks an attestation against the contract's configured
// settlement height and oracle key. It returns the attested price when
// both the signature and the height gate pass.
func Verify(att *Attestation, requiredHeight uint32, oraclePubKey string) (uint64, error) {
	pub, err := model.ParseXOnlyPubKey32Str(oraclePubKey)
	if err != nil {
		return 0, errors.NewOracleInvalidSignatureError("invalid oracle public key", err)
	}

	digest := Digest(att.SettlementHeight, att.Price)

	if err := keys.VerifySchnorrPub(pub, digest[:], att.Signature); err != nil {
		return 0, errors.NewOracleInvalidSignatureError("attestation for height %d does not verify", att.SettlementHeight, err)
	}

	// Height equality, not chain-tip comparison, is the gate here.
	if att.SettlementHeight != requiredHeight {
		return 0, errors.NewOracleHeightMismatchError("attestation is for height %d, contract settles at %d", att.SettlementHeight, requiredHeight)
	}

	return att.Price, nil
}
