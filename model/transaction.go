package model

import (
	"bytes"
	"encoding/binary"
)

// AssetIssuance marks an input that issues a new asset. Entropy is
// derived from the input's previous outpoint and the issuer's contract
// hash at construction time.
type AssetIssuance struct {
	ContractHash              Hash
	InflationKeysConfidential bool
}

type TxIn struct {
	PreviousOutpoint Outpoint
	Witness          [][]byte
	Issuance         *AssetIssuance
}

func (in *TxIn) HasIssuance() bool {
	return in.Issuance != nil
}

// IssuanceEntropy derives the entropy for this input's issuance.
func (in *TxIn) IssuanceEntropy() Entropy {
	return GenerateEntropy(in.PreviousOutpoint, in.Issuance.ContractHash)
}

type Transaction struct {
	Version uint32
	Inputs  []*TxIn
	Outputs []*TxOut
}

// TxID is the double-SHA256 of the transaction without input witnesses,
// so witness malleation cannot change the id.
func (tx *Transaction) TxID() Hash {
	return Sha256d(tx.serialize(false))
}

func (tx *Transaction) Serialize() []byte {
	return tx.serialize(true)
}

func (tx *Transaction) serialize(withWitness bool) []byte {
	var buf bytes.Buffer

	var v [4]byte
	binary.BigEndian.PutUint32(v[:], tx.Version)
	buf.Write(v[:])

	binary.BigEndian.PutUint32(v[:], uint32(len(tx.Inputs)))
	buf.Write(v[:])

	for _, in := range tx.Inputs {
		buf.Write(in.PreviousOutpoint.TxID[:])
		binary.BigEndian.PutUint32(v[:], in.PreviousOutpoint.Vout)
		buf.Write(v[:])

		if in.HasIssuance() {
			buf.WriteByte(1)
			buf.Write(in.Issuance.ContractHash[:])

			if in.Issuance.InflationKeysConfidential {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		} else {
			buf.WriteByte(0)
		}

		if withWitness {
			binary.BigEndian.PutUint32(v[:], uint32(len(in.Witness)))
			buf.Write(v[:])

			for _, w := range in.Witness {
				writeBytes(&buf, w)
			}
		}
	}

	binary.BigEndian.PutUint32(v[:], uint32(len(tx.Outputs)))
	buf.Write(v[:])

	for _, out := range tx.Outputs {
		writeBytes(&buf, out.Serialize())
	}

	return buf.Bytes()
}
