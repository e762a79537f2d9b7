package sql

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/model"
	"github.com/t1plarnd/simplicity-dex/settings"
	"github.com/t1plarnd/simplicity-dex/stores/ledger"
	"github.com/t1plarnd/simplicity-dex/ulogger"
)

func newStore(t *testing.T) *Store {
	storeURL, err := url.Parse("sqlitememory:///test")
	require.NoError(t, err)

	store, err := New(ulogger.TestLogger{}, storeURL, settings.NewSettings())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func hashN(n byte) model.Hash {
	var h model.Hash
	h[0] = n

	return h
}

func assetN(n byte) model.AssetID {
	var a model.AssetID
	a[0] = n

	return a
}

func outputFor(asset model.AssetID, value uint64, script []byte) *model.TxOut {
	return &model.TxOut{
		Asset:        asset,
		Value:        value,
		ScriptPubKey: script,
	}
}

func TestRecordOutputAndLookup(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	outpoint := model.NewOutpoint(hashN(1), 0)
	txOut := &model.TxOut{
		Asset:        assetN(1),
		Value:        5000,
		ScriptPubKey: []byte{0x51, 0x20, 0xaa},
		Confidential: true,
		Witness: model.TxOutWitness{
			SurjectionProof: []byte{0x01},
			RangeProof:      []byte{0x02},
		},
	}
	blinderKey := []byte("0123456789abcdef0123456789abcdef")

	require.NoError(t, store.RecordOutput(ctx, outpoint, txOut, blinderKey))

	entry, err := store.Lookup(ctx, outpoint)
	require.NoError(t, err)
	assert.Equal(t, outpoint, entry.Outpoint)
	assert.Equal(t, txOut.Asset, entry.TxOut.Asset)
	assert.Equal(t, uint64(5000), entry.TxOut.Value)
	assert.Equal(t, txOut.ScriptPubKey, entry.TxOut.ScriptPubKey)
	assert.True(t, entry.TxOut.Confidential)
	assert.Equal(t, txOut.Witness, entry.TxOut.Witness)
	assert.Equal(t, blinderKey, entry.BlinderKey)
}

func TestRecordOutputDuplicate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	outpoint := model.NewOutpoint(hashN(1), 0)
	txOut := outputFor(assetN(1), 100, []byte{0x51})

	require.NoError(t, store.RecordOutput(ctx, outpoint, txOut, nil))

	err := store.RecordOutput(ctx, outpoint, txOut, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUtxoExists))
}

func TestLookupNotFound(t *testing.T) {
	store := newStore(t)

	_, err := store.Lookup(context.Background(), model.NewOutpoint(hashN(9), 3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUtxoNotFound))
}

func TestRecordOutputConfidentialNeedsBlinderKey(t *testing.T) {
	store := newStore(t)

	txOut := &model.TxOut{
		Asset:        assetN(1),
		Value:        100,
		ScriptPubKey: []byte{0x51},
		Confidential: true,
	}

	err := store.RecordOutput(context.Background(), model.NewOutpoint(hashN(1), 0), txOut, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBlinderMissing))
}

func TestMarkSpent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	outpoint := model.NewOutpoint(hashN(1), 0)
	require.NoError(t, store.RecordOutput(ctx, outpoint, outputFor(assetN(1), 100, []byte{0x51}), nil))

	require.NoError(t, store.MarkSpent(ctx, []model.Outpoint{outpoint}))

	// Idempotent on already spent outputs.
	require.NoError(t, store.MarkSpent(ctx, []model.Outpoint{outpoint}))

	err := store.MarkSpent(ctx, []model.Outpoint{model.NewOutpoint(hashN(2), 0)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUtxoNotFound))
}

func TestSelectLargestFirst(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	asset := assetN(1)
	script := []byte{0x51, 0x20, 0xaa}

	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(hashN(1), 0), outputFor(asset, 1000, script), nil))
	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(hashN(2), 0), outputFor(asset, 3000, script), nil))
	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(hashN(3), 0), outputFor(asset, 2000, script), nil))

	res, err := store.Select(ctx, ledger.Filter{AssetID: asset, TargetValue: 4000})
	require.NoError(t, err)

	assert.Equal(t, ledger.QueryFound, res.Status)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, uint64(3000), res.Entries[0].TxOut.Value)
	assert.Equal(t, uint64(2000), res.Entries[1].TxOut.Value)
	assert.Equal(t, uint64(5000), res.Total)
}

func TestSelectInsufficientValue(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	asset := assetN(1)

	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(hashN(1), 0), outputFor(asset, 1000, []byte{0x51}), nil))
	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(hashN(2), 0), outputFor(asset, 500, []byte{0x51}), nil))

	res, err := store.Select(ctx, ledger.Filter{AssetID: asset, TargetValue: 2000})
	require.NoError(t, err)

	assert.Equal(t, ledger.QueryInsufficientValue, res.Status)
	assert.Len(t, res.Entries, 2)
	assert.Equal(t, uint64(1500), res.Total)
}

func TestSelectEmpty(t *testing.T) {
	store := newStore(t)

	res, err := store.Select(context.Background(), ledger.Filter{AssetID: assetN(7), TargetValue: 1})
	require.NoError(t, err)

	assert.Equal(t, ledger.QueryEmpty, res.Status)
	assert.Empty(t, res.Entries)
	assert.Equal(t, uint64(0), res.Total)
}

func TestSelectExcludesSpentAndOtherScripts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	asset := assetN(1)
	script := []byte{0x51, 0x20, 0xaa}
	otherScript := []byte{0x51, 0x20, 0xbb}

	spent := model.NewOutpoint(hashN(1), 0)
	require.NoError(t, store.RecordOutput(ctx, spent, outputFor(asset, 9000, script), nil))
	require.NoError(t, store.MarkSpent(ctx, []model.Outpoint{spent}))

	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(hashN(2), 0), outputFor(asset, 700, script), nil))
	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(hashN(3), 0), outputFor(asset, 800, otherScript), nil))

	res, err := store.Select(ctx, ledger.Filter{AssetID: asset, ScriptPubKey: script, TargetValue: 500})
	require.NoError(t, err)

	assert.Equal(t, ledger.QueryFound, res.Status)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, uint64(700), res.Entries[0].TxOut.Value)
}

func TestSelectRequireConfidential(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	asset := assetN(1)
	script := []byte{0x51, 0x20, 0xaa}
	blinderKey := []byte("0123456789abcdef0123456789abcdef")

	confidential := &model.TxOut{
		Asset:        asset,
		Value:        400,
		ScriptPubKey: script,
		Confidential: true,
		Witness: model.TxOutWitness{
			SurjectionProof: []byte{0x01},
			RangeProof:      []byte{0x02},
		},
	}

	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(hashN(1), 0), confidential, blinderKey))
	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(hashN(2), 0), outputFor(asset, 9000, script), nil))

	res, err := store.Select(ctx, ledger.Filter{AssetID: asset, TargetValue: 100, RequireConfidential: true})
	require.NoError(t, err)

	assert.Equal(t, ledger.QueryFound, res.Status)
	require.Len(t, res.Entries, 1)
	assert.True(t, res.Entries[0].TxOut.Confidential)
	assert.Equal(t, uint64(400), res.Entries[0].TxOut.Value)
	assert.Equal(t, blinderKey, res.Entries[0].BlinderKey)

	// The explicit output alone cannot satisfy a confidential-only ask.
	res, err = store.Select(ctx, ledger.Filter{AssetID: asset, TargetValue: 5000, RequireConfidential: true})
	require.NoError(t, err)
	assert.Equal(t, ledger.QueryInsufficientValue, res.Status)
}

func TestSelectExcludesListedOutpoints(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	asset := assetN(1)
	script := []byte{0x51, 0x20, 0xaa}

	excluded := model.NewOutpoint(hashN(1), 0)
	require.NoError(t, store.RecordOutput(ctx, excluded, outputFor(asset, 9000, script), nil))
	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(hashN(2), 0), outputFor(asset, 700, script), nil))
	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(hashN(3), 0), outputFor(asset, 800, script), nil))

	res, err := store.Select(ctx, ledger.Filter{
		AssetID:     asset,
		TargetValue: 1000,
		Exclude:     []model.Outpoint{excluded},
	})
	require.NoError(t, err)

	// The largest output is off the table; the two smaller ones cover.
	assert.Equal(t, ledger.QueryFound, res.Status)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, uint64(1500), res.Total)

	for _, entry := range res.Entries {
		assert.NotEqual(t, excluded, entry.Outpoint)
	}

	// Excluding everything leaves nothing to match.
	res, err = store.Select(ctx, ledger.Filter{
		AssetID:     asset,
		TargetValue: 1,
		Exclude: []model.Outpoint{
			excluded,
			model.NewOutpoint(hashN(2), 0),
			model.NewOutpoint(hashN(3), 0),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.QueryEmpty, res.Status)
}

func TestSelectMany(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(hashN(1), 0), outputFor(assetN(1), 1000, []byte{0x51}), nil))
	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(hashN(2), 0), outputFor(assetN(2), 50, []byte{0x51}), nil))

	results, err := store.SelectMany(ctx, []ledger.Filter{
		{AssetID: assetN(1), TargetValue: 500},
		{AssetID: assetN(2), TargetValue: 500},
		{AssetID: assetN(3), TargetValue: 500},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, ledger.QueryFound, results[0].Status)
	assert.Equal(t, ledger.QueryInsufficientValue, results[1].Status)
	assert.Equal(t, ledger.QueryEmpty, results[2].Status)
}

func TestIssuanceRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	entropy := model.GenerateEntropy(model.NewOutpoint(hashN(1), 0), hashN(2))
	issuance := ledger.Issuance{
		AssetID:      model.AssetIDFromEntropy(entropy),
		Entropy:      entropy,
		Confidential: true,
	}

	require.NoError(t, store.RecordIssuance(ctx, issuance))

	got, err := store.GetIssuance(ctx, issuance.AssetID)
	require.NoError(t, err)
	assert.Equal(t, issuance, *got)

	err = store.RecordIssuance(ctx, issuance)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConstraintViolation))

	_, err = store.GetIssuance(ctx, assetN(9))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRecordTransaction(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	funding := model.NewOutpoint(hashN(1), 0)
	require.NoError(t, store.RecordOutput(ctx, funding, outputFor(assetN(1), 10000, []byte{0x51}), nil))

	tx := &model.Transaction{
		Version: 2,
		Inputs: []*model.TxIn{
			{
				PreviousOutpoint: funding,
				Issuance:         &model.AssetIssuance{ContractHash: hashN(7)},
			},
			// Foreign input the wallet does not track.
			{PreviousOutpoint: model.NewOutpoint(hashN(8), 1)},
		},
		Outputs: []*model.TxOut{
			{Asset: assetN(1), Value: 9000, ScriptPubKey: []byte{0x51, 0x20, 0xaa}, Confidential: true},
			{Asset: assetN(1), Value: 1000, ScriptPubKey: []byte{0x51, 0x20, 0xbb}},
			{Asset: assetN(2), Value: 1, ScriptPubKey: []byte{0x51, 0x20, 0xcc}},
		},
	}

	blinderKeys := map[uint32][]byte{0: []byte("0123456789abcdef0123456789abcdef")}

	require.NoError(t, store.RecordTransaction(ctx, tx, blinderKeys, []uint32{1}))

	txid := tx.TxID()

	// The funding input is now spent and no longer selectable.
	res, err := store.Select(ctx, ledger.Filter{AssetID: assetN(1), TargetValue: 1})
	require.NoError(t, err)

	for _, entry := range res.Entries {
		assert.NotEqual(t, funding, entry.Outpoint)
	}

	// Output 0 was stored with its blinding key, 1 explicitly, 2 skipped.
	entry, err := store.Lookup(ctx, model.NewOutpoint(txid, 0))
	require.NoError(t, err)
	assert.Equal(t, blinderKeys[0], entry.BlinderKey)

	entry, err = store.Lookup(ctx, model.NewOutpoint(txid, 1))
	require.NoError(t, err)
	assert.Nil(t, entry.BlinderKey)

	_, err = store.Lookup(ctx, model.NewOutpoint(txid, 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUtxoNotFound))

	// The issuance input's entropy was recorded.
	entropy := tx.Inputs[0].IssuanceEntropy()

	issuance, err := store.GetIssuance(ctx, model.AssetIDFromEntropy(entropy))
	require.NoError(t, err)
	assert.Equal(t, entropy, issuance.Entropy)
}

func TestRecordTransactionRollsBackOnConflict(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	funding := model.NewOutpoint(hashN(1), 0)
	require.NoError(t, store.RecordOutput(ctx, funding, outputFor(assetN(1), 10000, []byte{0x51}), nil))

	tx := &model.Transaction{
		Version: 2,
		Inputs:  []*model.TxIn{{PreviousOutpoint: funding}},
		Outputs: []*model.TxOut{{Asset: assetN(1), Value: 9000, ScriptPubKey: []byte{0x51}}},
	}

	// An output at the transaction's first outpoint already exists, so
	// the whole RecordTransaction must fail and undo the input spend.
	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(tx.TxID(), 0), outputFor(assetN(9), 1, []byte{0x52}), nil))

	err := store.RecordTransaction(ctx, tx, nil, []uint32{0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUtxoExists))

	res, err := store.Select(ctx, ledger.Filter{AssetID: assetN(1), TargetValue: 10000})
	require.NoError(t, err)
	assert.Equal(t, ledger.QueryFound, res.Status)
}

func TestSpendLockCommit(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	asset := assetN(1)
	require.NoError(t, store.RecordOutput(ctx, model.NewOutpoint(hashN(1), 0), outputFor(asset, 5000, []byte{0x51}), nil))

	err := store.SpendLock(ctx, func(ctx context.Context, tx ledger.SpendTx) error {
		res, err := tx.Select(ctx, ledger.Filter{AssetID: asset, TargetValue: 4000})
		if err != nil {
			return err
		}

		require.Equal(t, ledger.QueryFound, res.Status)

		outpoints := make([]model.Outpoint, 0, len(res.Entries))
		for _, entry := range res.Entries {
			outpoints = append(outpoints, entry.Outpoint)
		}

		if err = tx.MarkSpent(ctx, outpoints); err != nil {
			return err
		}

		// Change output from the constructed transaction.
		return tx.RecordOutput(ctx, model.NewOutpoint(hashN(2), 0), outputFor(asset, 1000, []byte{0x51}), nil)
	})
	require.NoError(t, err)

	res, err := store.Select(ctx, ledger.Filter{AssetID: asset, TargetValue: 1})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, uint64(1000), res.Entries[0].TxOut.Value)
}

func TestSpendLockRollbackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	asset := assetN(1)
	outpoint := model.NewOutpoint(hashN(1), 0)
	require.NoError(t, store.RecordOutput(ctx, outpoint, outputFor(asset, 5000, []byte{0x51}), nil))

	err := store.SpendLock(ctx, func(ctx context.Context, tx ledger.SpendTx) error {
		if err := tx.MarkSpent(ctx, []model.Outpoint{outpoint}); err != nil {
			return err
		}

		return errors.NewBroadcastRejectedError("node refused the transaction")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBroadcastRejected))

	// The rollback released the output.
	res, err := store.Select(ctx, ledger.Filter{AssetID: asset, TargetValue: 5000})
	require.NoError(t, err)
	assert.Equal(t, ledger.QueryFound, res.Status)
}

func TestSpendLockRollsBackIssuance(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	entropy := model.GenerateEntropy(model.NewOutpoint(hashN(1), 0), hashN(2))
	issuance := ledger.Issuance{
		AssetID: model.AssetIDFromEntropy(entropy),
		Entropy: entropy,
	}

	err := store.SpendLock(ctx, func(ctx context.Context, tx ledger.SpendTx) error {
		if err := tx.RecordIssuance(ctx, issuance); err != nil {
			return err
		}

		return errors.NewBroadcastRejectedError("node refused the transaction")
	})
	require.Error(t, err)

	// The entropy insert went down with the transaction.
	_, err = store.GetIssuance(ctx, issuance.AssetID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
