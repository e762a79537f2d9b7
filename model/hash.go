// Package model holds the domain types shared by the stores, the relay
// event model and the lifecycle engine: hashes, outpoints, confidential
// asset outputs, transactions and taproot commitments.
package model

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/t1plarnd/simplicity-dex/errors"
)

const HashSize = 32

type Hash [HashSize]byte

func NewHashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, errors.NewInvalidArgumentError("invalid hash length %d", len(b))
	}

	copy(h[:], b)

	return h, nil
}

func NewHashFromStr(s string) (Hash, error) {
	var h Hash

	b, err := hex.DecodeString(s)
	if err != nil {
		return h, errors.NewInvalidArgumentError("invalid hash hex %q", s, err)
	}

	return NewHashFromBytes(b)
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])

	return b
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Sha256d is the double-SHA256 used for transaction ids.
func Sha256d(b []byte) Hash {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// TaggedHash computes sha256(sha256(tag) || sha256(tag) || data...),
// the BIP340-style domain-separated hash used for taproot tweaks.
func TaggedHash(tag string, chunks ...[]byte) Hash {
	tagHash := sha256.Sum256([]byte(tag))

	h := sha256.New()
	h.Write(tagHash[:])
	h.Write(tagHash[:])

	for _, c := range chunks {
		h.Write(c)
	}

	var out Hash
	copy(out[:], h.Sum(nil))

	return out
}
