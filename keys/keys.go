// Package keys provides the process-scoped key context. The wallet seed
// is carried explicitly rather than as package state so independent
// contexts can run side by side in tests.
package keys

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"

	"github.com/t1plarnd/simplicity-dex/errors"
)

type KeyContext struct {
	seed []byte
}

func NewKeyContext(seedHex string) (*KeyContext, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid seed hex", err)
	}

	if len(seed) < 16 {
		return nil, errors.NewConfigurationError("seed too short: %d bytes", len(seed))
	}

	return &KeyContext{seed: seed}, nil
}

// DeriveKeyPair deterministically derives the account key at index. The
// key is normalized to an even-Y public key so its x-only serialization
// lifts back to the same point.
func (k *KeyContext) DeriveKeyPair(index uint32) *secp256k1.PrivateKey {
	h := sha256.New()
	h.Write(k.seed)

	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	h.Write(idx[:])

	priv := secp256k1.PrivKeyFromBytes(h.Sum(nil))
	if priv.PubKey().SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		priv.Key.Negate()
	}

	return priv
}

// SignSchnorr signs a 32-byte digest with the given private key.
func SignSchnorr(priv *secp256k1.PrivateKey, digest []byte) ([]byte, error) {
	sig, err := schnorr.Sign(priv, digest)
	if err != nil {
		return nil, errors.NewInvalidSignatureError("schnorr signing failed", err)
	}

	return sig.Serialize(), nil
}

// VerifySchnorr verifies a 64-byte signature over a 32-byte digest under
// a 32-byte x-only public key. The key is lifted to its even-Y point.
func VerifySchnorr(pubKey, digest, sig []byte) error {
	pub, err := LiftXOnlyPubKey(pubKey)
	if err != nil {
		return errors.NewInvalidSignatureError("invalid x-only public key", err)
	}

	return VerifySchnorrPub(pub, digest, sig)
}

// VerifySchnorrPub verifies against an already parsed public key.
func VerifySchnorrPub(pub *secp256k1.PublicKey, digest, sig []byte) error {
	parsedSig, err := schnorr.ParseSignature(sig)
	if err != nil {
		return errors.NewInvalidSignatureError("invalid signature encoding", err)
	}

	if !parsedSig.Verify(digest, pub) {
		return errors.NewInvalidSignatureError("signature does not verify")
	}

	return nil
}

// XOnlyPubKey returns the 32-byte x-only serialization of priv's public
// key: the x coordinate of its compressed form.
func XOnlyPubKey(priv *secp256k1.PrivateKey) []byte {
	return priv.PubKey().SerializeCompressed()[1:33]
}

// LiftXOnlyPubKey lifts 32 x-only bytes to the curve point with even Y
// by re-parsing them behind the even-Y compressed prefix.
func LiftXOnlyPubKey(b []byte) (*secp256k1.PublicKey, error) {
	if len(b) != 32 {
		return nil, errors.NewInvalidArgumentError("invalid x-only public key length %d", len(b))
	}

	compressed := make([]byte, 0, secp256k1.PubKeyBytesLenCompressed)
	compressed = append(compressed, secp256k1.PubKeyFormatCompressedEven)
	compressed = append(compressed, b...)

	pub, err := secp256k1.ParsePubKey(compressed)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("x-only public key does not lift to a curve point", err)
	}

	return pub, nil
}
