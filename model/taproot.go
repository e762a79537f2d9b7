package model

import (
	"encoding/hex"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/t1plarnd/simplicity-dex/errors"
)

// CMR is the commitment merkle root of a contract program, identifying
// its logic independent of arguments.
type CMR [HashSize]byte

func NewCMRFromBytes(b []byte) (CMR, error) {
	var c CMR
	if len(b) != HashSize {
		return c, errors.NewInvalidArgumentError("invalid cmr length %d", len(b))
	}

	copy(c[:], b)

	return c, nil
}

func (c CMR) String() string {
	return hex.EncodeToString(c[:])
}

// ComputeCMR derives the commitment root of a program source
// instantiated with the given serialized arguments. The same source with
// different arguments commits to a different root.
func ComputeCMR(source []byte, arguments []byte) CMR {
	return CMR(TaggedHash("SimplicityCMR", source, arguments))
}

// TaprootPubkeyGen is the taproot commitment of a deployed contract: an
// internal key plus the tweaked output key committing to the program's
// merkle root. The output key is the contract's registry key and its
// on-chain locking script anchor.
type TaprootPubkeyGen struct {
	InternalKey *secp256k1.PublicKey
	OutputKey   [HashSize]byte
}

const taprootTweakTag = "TapTweak/elements"

// DeriveTaprootPubkeyGen tweaks the internal key with the commitment
// merkle root, producing the contract's output key.
func DeriveTaprootPubkeyGen(internal *secp256k1.PublicKey, cmr CMR) (*TaprootPubkeyGen, error) {
	internalX := internal.SerializeCompressed()[1:33]
	tweakHash := TaggedHash(taprootTweakTag, internalX, cmr[:])

	var tweak secp256k1.ModNScalar
	if overflow := tweak.SetByteSlice(tweakHash[:]); overflow {
		return nil, errors.NewInvalidCommitmentError("taproot tweak overflows group order")
	}

	// Lift the internal key to its even-Y representative before tweaking.
	lifted, err := ParseXOnlyPubKey(internalX)
	if err != nil {
		return nil, err
	}

	var base, tweaked, result secp256k1.JacobianPoint
	lifted.AsJacobian(&base)
	secp256k1.ScalarBaseMultNonConst(&tweak, &tweaked)
	secp256k1.AddNonConst(&base, &tweaked, &result)

	if (result.X.IsZero() && result.Y.IsZero()) || result.Z.IsZero() {
		return nil, errors.NewInvalidCommitmentError("taproot tweak produced the point at infinity")
	}

	result.ToAffine()

	outputKey := secp256k1.NewPublicKey(&result.X, &result.Y)

	gen := &TaprootPubkeyGen{InternalKey: lifted}
	copy(gen.OutputKey[:], outputKey.SerializeCompressed()[1:33])

	return gen, nil
}

// ParseXOnlyPubKey checks that 32 commitment bytes lift to a curve
// point, returning the even-Y representative.
func ParseXOnlyPubKey(b []byte) (*secp256k1.PublicKey, error) {
	if len(b) != HashSize {
		return nil, errors.NewInvalidCommitmentError("invalid commitment key length %d", len(b))
	}

	compressed := make([]byte, 0, secp256k1.PubKeyBytesLenCompressed)
	compressed = append(compressed, secp256k1.PubKeyFormatCompressedEven)
	compressed = append(compressed, b...)

	pub, err := secp256k1.ParsePubKey(compressed)
	if err != nil {
		return nil, errors.NewInvalidCommitmentError("commitment bytes are not a valid output key", err)
	}

	return pub, nil
}

// ParseXOnlyPubKey32Str parses a 64-char hex x-only public key.
func ParseXOnlyPubKey32Str(s string) (*secp256k1.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("invalid public key hex %q", s, err)
	}

	if len(b) != HashSize {
		return nil, errors.NewInvalidArgumentError("invalid public key length %d", len(b))
	}

	return ParseXOnlyPubKey(b)
}

// ScriptPubKey returns the contract's locking script: a taproot-style
// witness program paying to the output key.
func (t *TaprootPubkeyGen) ScriptPubKey() []byte {
	script := make([]byte, 0, 2+HashSize)
	script = append(script, 0x51, 0x20) // OP_1 PUSH32
	script = append(script, t.OutputKey[:]...)

	return script
}

func (t *TaprootPubkeyGen) String() string {
	return hex.EncodeToString(t.InternalKey.SerializeCompressed()) + ":" + hex.EncodeToString(t.OutputKey[:])
}

// ParseTaprootPubkeyGen parses the string form and re-validates that the
// output key lifts to a curve point.
func ParseTaprootPubkeyGen(s string) (*TaprootPubkeyGen, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return nil, errors.NewInvalidCommitmentError("invalid taproot commitment %q", s)
	}

	internalBytes, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, errors.NewInvalidCommitmentError("invalid internal key hex", err)
	}

	internal, err := secp256k1.ParsePubKey(internalBytes)
	if err != nil {
		return nil, errors.NewInvalidCommitmentError("invalid internal key", err)
	}

	outputBytes, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, errors.NewInvalidCommitmentError("invalid output key hex", err)
	}

	if _, err = ParseXOnlyPubKey(outputBytes); err != nil {
		return nil, err
	}

	gen := &TaprootPubkeyGen{InternalKey: internal}
	copy(gen.OutputKey[:], outputBytes)

	return gen, nil
}

// BuildTaprootPubkeyGenFromStr parses the string form and verifies the
// output key matches a fresh derivation from the internal key and cmr,
// rejecting commitments that do not commit to the claimed program.
func BuildTaprootPubkeyGenFromStr(s string, cmr CMR) (*TaprootPubkeyGen, error) {
	gen, err := ParseTaprootPubkeyGen(s)
	if err != nil {
		return nil, err
	}

	derived, err := DeriveTaprootPubkeyGen(gen.InternalKey, cmr)
	if err != nil {
		return nil, err
	}

	if derived.OutputKey != gen.OutputKey {
		return nil, errors.NewInvalidCommitmentError("output key does not commit to the program")
	}

	return derived, nil
}
