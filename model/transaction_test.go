package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTransaction() *Transaction {
	return &Transaction{
		Version: 2,
		Inputs: []*TxIn{
			{PreviousOutpoint: NewOutpoint(Hash{0x01}, 0)},
			{
				PreviousOutpoint: NewOutpoint(Hash{0x02}, 1),
				Issuance:         &AssetIssuance{ContractHash: Hash{0x03}},
			},
		},
		Outputs: []*TxOut{
			{Asset: AssetID{0x04}, Value: 1000, ScriptPubKey: []byte{0x51}},
			{Asset: AssetID{0x05}, Value: 2000, ScriptPubKey: []byte{0x6a}},
		},
	}
}

func TestTxIDIgnoresWitness(t *testing.T) {
	tx := testTransaction()
	txid := tx.TxID()

	tx.Inputs[0].Witness = [][]byte{{0xff, 0xfe}}
	assert.Equal(t, txid, tx.TxID(), "witness data must not malleate the txid")

	// But the full serialization does change.
	withWitness := tx.Serialize()
	tx.Inputs[0].Witness = nil
	assert.NotEqual(t, withWitness, tx.Serialize())
}

func TestTxIDCoversOutputs(t *testing.T) {
	tx := testTransaction()
	txid := tx.TxID()

	tx.Outputs[0].Value = 999
	assert.NotEqual(t, txid, tx.TxID())
}

func TestTxIDCoversIssuance(t *testing.T) {
	tx := testTransaction()
	txid := tx.TxID()

	tx.Inputs[1].Issuance.ContractHash = Hash{0x99}
	assert.NotEqual(t, txid, tx.TxID())
}

func TestIssuanceEntropy(t *testing.T) {
	tx := testTransaction()

	require.False(t, tx.Inputs[0].HasIssuance())
	require.True(t, tx.Inputs[1].HasIssuance())

	want := GenerateEntropy(tx.Inputs[1].PreviousOutpoint, Hash{0x03})
	assert.Equal(t, want, tx.Inputs[1].IssuanceEntropy())
}

func TestTxOutSerializeRoundTrip(t *testing.T) {
	out := &TxOut{
		Asset:        AssetID{0x11},
		Value:        42,
		ScriptPubKey: []byte{0x51, 0x20, 0xaa},
		Confidential: true,
	}

	parsed, err := DeserializeTxOut(out.Serialize())
	require.NoError(t, err)
	assert.Equal(t, out.Asset, parsed.Asset)
	assert.Equal(t, out.Value, parsed.Value)
	assert.Equal(t, out.ScriptPubKey, parsed.ScriptPubKey)
	assert.True(t, parsed.Confidential)
}

func TestDeserializeTxOutTruncated(t *testing.T) {
	out := &TxOut{Asset: AssetID{0x11}, Value: 42, ScriptPubKey: []byte{0x51}}
	b := out.Serialize()

	_, err := DeserializeTxOut(b[:len(b)-1])
	require.Error(t, err)
}
