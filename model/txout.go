package model

import (
	"bytes"
	"encoding/binary"

	"github.com/t1plarnd/simplicity-dex/errors"
)

// TxOut is a confidential-asset transaction output. For confidential
// outputs the Asset and Value fields hold the unblinded secrets; the
// on-chain commitments live in the serialized form and are only
// recoverable with the output's blinding key.
type TxOut struct {
	Asset        AssetID
	Value        uint64
	ScriptPubKey []byte
	Confidential bool
	Witness      TxOutWitness
}

// TxOutWitness carries the proofs attached to a confidential output.
type TxOutWitness struct {
	SurjectionProof []byte
	RangeProof      []byte
}

func (w *TxOutWitness) Serialize() []byte {
	var buf bytes.Buffer

	writeBytes(&buf, w.SurjectionProof)
	writeBytes(&buf, w.RangeProof)

	return buf.Bytes()
}

func DeserializeTxOutWitness(b []byte) (TxOutWitness, error) {
	var w TxOutWitness

	r := bytes.NewReader(b)

	var err error
	if w.SurjectionProof, err = readBytes(r); err != nil {
		return w, errors.NewInvalidArgumentError("invalid txout witness", err)
	}

	if w.RangeProof, err = readBytes(r); err != nil {
		return w, errors.NewInvalidArgumentError("invalid txout witness", err)
	}

	return w, nil
}

func (o *TxOut) Serialize() []byte {
	var buf bytes.Buffer

	buf.Write(o.Asset[:])

	var v [8]byte
	binary.BigEndian.PutUint64(v[:], o.Value)
	buf.Write(v[:])

	if o.Confidential {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	writeBytes(&buf, o.ScriptPubKey)

	return buf.Bytes()
}

func DeserializeTxOut(b []byte) (*TxOut, error) {
	r := bytes.NewReader(b)

	out := &TxOut{}

	if _, err := r.Read(out.Asset[:]); err != nil {
		return nil, errors.NewInvalidArgumentError("invalid txout: short asset", err)
	}

	var v [8]byte
	if _, err := r.Read(v[:]); err != nil {
		return nil, errors.NewInvalidArgumentError("invalid txout: short value", err)
	}

	out.Value = binary.BigEndian.Uint64(v[:])

	flag, err := r.ReadByte()
	if err != nil {
		return nil, errors.NewInvalidArgumentError("invalid txout: missing confidential flag", err)
	}

	out.Confidential = flag == 1

	if out.ScriptPubKey, err = readBytes(r); err != nil {
		return nil, errors.NewInvalidArgumentError("invalid txout: bad script", err)
	}

	return out, nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var l [4]byte
	if _, err := r.Read(l[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(l[:])
	if uint32(r.Len()) < n {
		return nil, errors.NewInvalidArgumentError("truncated field: want %d bytes, have %d", n, r.Len())
	}

	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}
