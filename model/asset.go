package model

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/t1plarnd/simplicity-dex/errors"
)

// AssetID identifies an issued asset on the confidential-asset chain.
type AssetID [HashSize]byte

// Entropy is the issuance seed an asset id and its reissuance token are
// derived from.
type Entropy [HashSize]byte

func NewAssetIDFromBytes(b []byte) (AssetID, error) {
	var a AssetID
	if len(b) != HashSize {
		return a, errors.NewInvalidArgumentError("invalid asset id length %d", len(b))
	}

	copy(a[:], b)

	return a, nil
}

func NewAssetIDFromStr(s string) (AssetID, error) {
	var a AssetID

	b, err := hex.DecodeString(s)
	if err != nil {
		return a, errors.NewInvalidArgumentError("invalid asset id hex %q", s, err)
	}

	return NewAssetIDFromBytes(b)
}

func (a AssetID) String() string {
	return hex.EncodeToString(a[:])
}

func (a AssetID) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, a[:])

	return b
}

func NewEntropyFromBytes(b []byte) (Entropy, error) {
	var e Entropy
	if len(b) != HashSize {
		return e, errors.NewInvalidArgumentError("invalid entropy length %d", len(b))
	}

	copy(e[:], b)

	return e, nil
}

func NewEntropyFromStr(s string) (Entropy, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Entropy{}, errors.NewInvalidArgumentError("invalid entropy hex %q", s, err)
	}

	return NewEntropyFromBytes(b)
}

func (e Entropy) String() string {
	return hex.EncodeToString(e[:])
}

// GenerateEntropy derives issuance entropy from the funding outpoint and
// the issuer's contract hash, so the same outpoint can never seed two
// different assets.
func GenerateEntropy(prevout Outpoint, contractHash Hash) Entropy {
	h := sha256.New()
	h.Write(prevout.TxID[:])

	var vout [4]byte
	putUint32BE(vout[:], prevout.Vout)
	h.Write(vout[:])
	h.Write(contractHash[:])

	var e Entropy
	copy(e[:], h.Sum(nil))

	return e
}

// AssetIDFromEntropy derives the asset identifier for an issuance.
func AssetIDFromEntropy(entropy Entropy) AssetID {
	h := sha256.New()
	h.Write(entropy[:])
	h.Write([]byte{0x00})

	var a AssetID
	copy(a[:], h.Sum(nil))

	return a
}

// ReissuanceTokenFromEntropy derives the reissuance-token identifier.
// The derivation differs for confidential issuances so the two chains of
// identifiers never collide.
func ReissuanceTokenFromEntropy(entropy Entropy, confidential bool) AssetID {
	suffix := byte(0x01)
	if confidential {
		suffix = 0x02
	}

	h := sha256.New()
	h.Write(entropy[:])
	h.Write([]byte{suffix})

	var a AssetID
	copy(a[:], h.Sum(nil))

	return a
}

func putUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
