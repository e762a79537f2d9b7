package lifecycle

import (
	"context"
	"encoding/hex"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/keys"
	"github.com/t1plarnd/simplicity-dex/model"
	"github.com/t1plarnd/simplicity-dex/oracle"
	"github.com/t1plarnd/simplicity-dex/relay"
	"github.com/t1plarnd/simplicity-dex/settings"
	"github.com/t1plarnd/simplicity-dex/stores/ledger"
	ledgersql "github.com/t1plarnd/simplicity-dex/stores/ledger/sql"
	"github.com/t1plarnd/simplicity-dex/stores/registry"
	registrysql "github.com/t1plarnd/simplicity-dex/stores/registry/sql"
	"github.com/t1plarnd/simplicity-dex/ulogger"
)

const (
	testSeed       = "000102030405060708090a0b0c0d0e0f"
	oracleKeyIndex = uint32(9)

	fundingStart     = uint32(1_700_000_000)
	fundingEnd       = uint32(1_700_100_000)
	terminationEnd   = uint32(1_705_000_000)
	expiry           = uint32(1_710_000_000)
	settlementHeight = uint32(2_169_368)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Set(unix uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = time.Unix(int64(unix), 0)
}

type testEnv struct {
	engine      *Engine
	ledger      ledger.Store
	registry    registry.Store
	broadcaster *MemoryBroadcaster
	relay       relay.Store
	keys        *keys.KeyContext
	clock       *fakeClock

	collateralAsset model.AssetID
	walletScript    []byte
	seeds           [3]model.Outpoint
}

func newTestEnv(t *testing.T) *testEnv {
	tSettings := settings.NewSettings()

	storeURL, err := url.Parse("sqlitememory:///lifecycle")
	require.NoError(t, err)

	ledgerStore, err := ledgersql.New(ulogger.TestLogger{}, storeURL, tSettings)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = ledgerStore.Close()
	})

	registryStore, err := registrysql.New(ulogger.TestLogger{}, storeURL, tSettings)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = registryStore.Close()
	})

	relayStore := relay.NewMemoryStore(ulogger.TestLogger{})
	broadcaster := NewMemoryBroadcaster(settlementHeight - 1000)

	kctx, err := keys.NewKeyContext(testSeed)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Unix(int64(fundingStart)-10_000, 0)}

	engine, err := New(ulogger.TestLogger{}, tSettings, ledgerStore, registryStore, relayStore, broadcaster, kctx, WithClock(clock.Now))
	require.NoError(t, err)

	t.Cleanup(engine.Close)

	collateralAsset, err := model.NewAssetIDFromStr(tSettings.Lifecycle.CollateralAssetID)
	require.NoError(t, err)

	env := &testEnv{
		engine:          engine,
		ledger:          ledgerStore,
		registry:        registryStore,
		broadcaster:     broadcaster,
		relay:           relayStore,
		keys:            kctx,
		clock:           clock,
		collateralAsset: collateralAsset,
		walletScript:    append([]byte{0x51, 0x20}, keys.XOnlyPubKey(kctx.DeriveKeyPair(0))...),
	}

	// Three small outputs reserved as issuance seeds, plus one large
	// funding output for collateral and fees.
	var seedTx model.Hash
	seedTx[0] = 0xa0

	for vout := uint32(0); vout < 3; vout++ {
		env.seeds[vout] = model.NewOutpoint(seedTx, vout)
		env.fundWallet(t, env.seeds[vout], 600)
	}

	var fundingTx model.Hash
	fundingTx[0] = 0xa1
	env.fundWallet(t, model.NewOutpoint(fundingTx, 0), 1_000_000)

	return env
}

func (env *testEnv) fundWallet(t *testing.T, outpoint model.Outpoint, value uint64) {
	t.Helper()

	err := env.ledger.RecordOutput(context.Background(), outpoint, &model.TxOut{
		Asset:        env.collateralAsset,
		Value:        value,
		ScriptPubKey: env.walletScript,
	}, nil)
	require.NoError(t, err)
}

func (env *testEnv) testArguments() *model.DCDArguments {
	return &model.DCDArguments{
		TakerFundingStartTime:        fundingStart,
		TakerFundingEndTime:          fundingEnd,
		ContractExpiryTime:           expiry,
		EarlyTerminationEndTime:      terminationEnd,
		SettlementHeight:             settlementHeight,
		PrincipalCollateralAmount:    2000,
		IncentiveBasisPoints:         1000,
		FillerPerPrincipalCollateral: 100,
		StrikePrice:                  25,
		SettlementAssetEntropy:       model.GenerateEntropy(model.NewOutpoint(model.Hash{0xee}, 0), model.Hash{0xef}),
		OraclePublicKey:              hex.EncodeToString(keys.XOnlyPubKey(env.keys.DeriveKeyPair(oracleKeyIndex))),
	}
}

func (env *testEnv) makerInit(t *testing.T) *ActionResult {
	t.Helper()

	result, err := env.engine.MakerInit(context.Background(), env.seeds, env.testArguments())
	require.NoError(t, err)
	require.Equal(t, StateInitialized, result.State)

	return result
}

func (env *testEnv) totalAt(t *testing.T, asset model.AssetID, script []byte) uint64 {
	t.Helper()

	res, err := env.ledger.Select(context.Background(), ledger.Filter{
		AssetID:      asset,
		ScriptPubKey: script,
		TargetValue:  1 << 60,
	})
	require.NoError(t, err)

	return res.Total
}

func (env *testEnv) contract(t *testing.T, eventID string) (*model.DCDArguments, []byte) {
	t.Helper()

	contract, err := env.engine.ResolveContract(context.Background(), eventID)
	require.NoError(t, err)

	return contract.Arguments, contract.ScriptPubKey
}

func TestMakerInitRegistersAndAnnounces(t *testing.T) {
	env := newTestEnv(t)

	result := env.makerInit(t)
	require.NotEmpty(t, result.EventID)

	// Exactly one announcement on the relay.
	events, err := env.relay.Query(context.Background(), relay.KindContractCreated)
	require.NoError(t, err)
	require.Len(t, events, 1)

	args, _ := env.contract(t, result.EventID)
	assert.Equal(t, uint64(2000), args.PrincipalCollateralAmount)
	assert.Equal(t, env.collateralAsset, args.CollateralAssetID)

	// Token entropies are pinned to the issuance seeds.
	contractHash := tokenContractHash()
	assert.Equal(t, model.GenerateEntropy(env.seeds[0], contractHash), args.FillerTokenEntropy)
	assert.Equal(t, model.GenerateEntropy(env.seeds[1], contractHash), args.GrantorCollateralTokenEntropy)
	assert.Equal(t, model.GenerateEntropy(env.seeds[2], contractHash), args.GrantorSettlementTokenEntropy)
}

func TestMakerInitRejectsSpentSeed(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.ledger.MarkSpent(context.Background(), []model.Outpoint{env.seeds[1]}))

	_, err := env.engine.MakerInit(context.Background(), env.seeds, env.testArguments())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUtxoSpent))
}

func TestMakerFund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	init := env.makerInit(t)

	result, err := env.engine.MakerFund(ctx, init.EventID)
	require.NoError(t, err)
	assert.Equal(t, StateMakerFunded, result.State)

	args, contractScript := env.contract(t, init.EventID)

	// Principal posted to the contract, full filler supply minted there.
	assert.Equal(t, uint64(2000), env.totalAt(t, args.CollateralAssetID, contractScript))
	assert.Equal(t, args.TotalFillerTokens(), env.totalAt(t, args.FillerTokenAssetID(), contractScript))

	// Both grantor tokens in the maker's wallet.
	assert.Equal(t, uint64(1), env.totalAt(t, args.GrantorCollateralTokenAssetID(), env.walletScript))
	assert.Equal(t, uint64(1), env.totalAt(t, args.GrantorSettlementTokenAssetID(), env.walletScript))

	// Seeds consumed by the issuances.
	for _, seed := range env.seeds {
		entry, err := env.ledger.Lookup(ctx, seed)
		require.NoError(t, err)
		assert.True(t, entry.Spent)
	}

	// Issuance entropy recorded for all three tokens.
	for _, entropy := range []model.Entropy{args.FillerTokenEntropy, args.GrantorCollateralTokenEntropy, args.GrantorSettlementTokenEntropy} {
		issuance, err := env.ledger.GetIssuance(ctx, model.AssetIDFromEntropy(entropy))
		require.NoError(t, err)
		assert.Equal(t, entropy, issuance.Entropy)
	}

	// A completion event per action.
	completions, err := env.relay.Query(ctx, relay.KindActionCompleted)
	require.NoError(t, err)
	require.Len(t, completions, 1)

	parsed, err := relay.ParseActionCompletedEvent(completions[0])
	require.NoError(t, err)
	assert.Equal(t, relay.ActionMakerFunded, parsed.Action)
	assert.Equal(t, init.EventID, parsed.OriginalEventID)
}

func TestMakerFundTwiceIsInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	init := env.makerInit(t)

	_, err := env.engine.MakerFund(ctx, init.EventID)
	require.NoError(t, err)

	_, err = env.engine.MakerFund(ctx, init.EventID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
}

func TestMakerFundBroadcastRejectedReleasesOutputs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	init := env.makerInit(t)

	env.broadcaster.RejectNext = true

	_, err := env.engine.MakerFund(ctx, init.EventID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBroadcastRejected))

	// Nothing marked spent, contract still fundable.
	for _, seed := range env.seeds {
		entry, err := env.ledger.Lookup(ctx, seed)
		require.NoError(t, err)
		assert.False(t, entry.Spent)
	}

	// The rolled-back attempt must not have recorded any issuance.
	args, _ := env.contract(t, init.EventID)

	_, err = env.ledger.GetIssuance(ctx, args.FillerTokenAssetID())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	result, err := env.engine.MakerFund(ctx, init.EventID)
	require.NoError(t, err)
	assert.Equal(t, StateMakerFunded, result.State)
}

func TestMakerFundInsufficientFunds(t *testing.T) {
	tSettings := settings.NewSettings()

	storeURL, err := url.Parse("sqlitememory:///lifecycle-poor")
	require.NoError(t, err)

	ledgerStore, err := ledgersql.New(ulogger.TestLogger{}, storeURL, tSettings)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = ledgerStore.Close()
	})

	registryStore, err := registrysql.New(ulogger.TestLogger{}, storeURL, tSettings)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = registryStore.Close()
	})

	kctx, err := keys.NewKeyContext(testSeed)
	require.NoError(t, err)

	engine, err := New(ulogger.TestLogger{}, tSettings, ledgerStore, registryStore, relay.NewMemoryStore(ulogger.TestLogger{}), NewMemoryBroadcaster(100), kctx)
	require.NoError(t, err)

	t.Cleanup(engine.Close)

	collateralAsset, err := model.NewAssetIDFromStr(tSettings.Lifecycle.CollateralAssetID)
	require.NoError(t, err)

	walletScript := append([]byte{0x51, 0x20}, keys.XOnlyPubKey(kctx.DeriveKeyPair(0))...)

	// Seeds only, nothing to cover principal and fee.
	var seeds [3]model.Outpoint
	var seedTx model.Hash
	seedTx[0] = 0xb0

	ctx := context.Background()

	for vout := uint32(0); vout < 3; vout++ {
		seeds[vout] = model.NewOutpoint(seedTx, vout)
		require.NoError(t, ledgerStore.RecordOutput(ctx, seeds[vout], &model.TxOut{
			Asset:        collateralAsset,
			Value:        600,
			ScriptPubKey: walletScript,
		}, nil))
	}

	env := &testEnv{engine: engine, keys: kctx, seeds: seeds}

	init, err := engine.MakerInit(ctx, seeds, env.testArguments())
	require.NoError(t, err)

	_, err = engine.MakerFund(ctx, init.EventID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientFunds))
}

func TestMakerFundFeeSelectionSkipsIssuanceSeeds(t *testing.T) {
	tSettings := settings.NewSettings()

	storeURL, err := url.Parse("sqlitememory:///lifecycle-seeds-largest")
	require.NoError(t, err)

	ledgerStore, err := ledgersql.New(ulogger.TestLogger{}, storeURL, tSettings)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = ledgerStore.Close()
	})

	registryStore, err := registrysql.New(ulogger.TestLogger{}, storeURL, tSettings)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = registryStore.Close()
	})

	kctx, err := keys.NewKeyContext(testSeed)
	require.NoError(t, err)

	engine, err := New(ulogger.TestLogger{}, tSettings, ledgerStore, registryStore, relay.NewMemoryStore(ulogger.TestLogger{}), NewMemoryBroadcaster(100), kctx)
	require.NoError(t, err)

	t.Cleanup(engine.Close)

	collateralAsset, err := model.NewAssetIDFromStr(tSettings.Lifecycle.CollateralAssetID)
	require.NoError(t, err)

	walletScript := append([]byte{0x51, 0x20}, keys.XOnlyPubKey(kctx.DeriveKeyPair(0))...)

	ctx := context.Background()

	// The issuance seeds are the largest outputs in the wallet. Fee
	// selection must not count them towards its target; they are
	// already inputs of the same transaction.
	var seeds [3]model.Outpoint
	var seedTx model.Hash
	seedTx[0] = 0xd0

	for vout := uint32(0); vout < 3; vout++ {
		seeds[vout] = model.NewOutpoint(seedTx, vout)
		require.NoError(t, ledgerStore.RecordOutput(ctx, seeds[vout], &model.TxOut{
			Asset:        collateralAsset,
			Value:        5000,
			ScriptPubKey: walletScript,
		}, nil))
	}

	var feeTx model.Hash
	feeTx[0] = 0xd1

	for vout := uint32(0); vout < 4; vout++ {
		require.NoError(t, ledgerStore.RecordOutput(ctx, model.NewOutpoint(feeTx, vout), &model.TxOut{
			Asset:        collateralAsset,
			Value:        3000,
			ScriptPubKey: walletScript,
		}, nil))
	}

	env := &testEnv{engine: engine, keys: kctx, seeds: seeds}

	init, err := engine.MakerInit(ctx, seeds, env.testArguments())
	require.NoError(t, err)

	result, err := engine.MakerFund(ctx, init.EventID)
	require.NoError(t, err)
	assert.Equal(t, StateMakerFunded, result.State)

	for _, seed := range seeds {
		entry, err := ledgerStore.Lookup(ctx, seed)
		require.NoError(t, err)
		assert.True(t, entry.Spent)
	}
}

func TestTakerFundWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	init := env.makerInit(t)

	_, err := env.engine.MakerFund(ctx, init.EventID)
	require.NoError(t, err)

	// Before the window opens.
	env.clock.Set(fundingStart - 1)

	_, err = env.engine.TakerFund(ctx, init.EventID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTiming))

	// After it closes.
	env.clock.Set(fundingEnd + 1)

	_, err = env.engine.TakerFund(ctx, init.EventID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTiming))

	// Inside the window.
	env.clock.Set(fundingStart + 100)

	result, err := env.engine.TakerFund(ctx, init.EventID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, result.State)

	args, contractScript := env.contract(t, init.EventID)

	// Both principals now at the contract, filler supply with the taker.
	assert.Equal(t, uint64(4000), env.totalAt(t, args.CollateralAssetID, contractScript))
	assert.Equal(t, args.TotalFillerTokens(), env.totalAt(t, args.FillerTokenAssetID(), env.walletScript))
	assert.Equal(t, uint64(0), env.totalAt(t, args.FillerTokenAssetID(), contractScript))
}

func TestTakerFundBeforeMakerFundIsInvalidTransition(t *testing.T) {
	env := newTestEnv(t)

	init := env.makerInit(t)

	env.clock.Set(fundingStart + 100)

	_, err := env.engine.TakerFund(context.Background(), init.EventID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
}

func TestTakerFundAfterInterleavedTerminationIsInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	init := env.makerInit(t)

	_, err := env.engine.MakerFund(ctx, init.EventID)
	require.NoError(t, err)

	env.clock.Set(fundingStart + 100)

	// The maker's termination lands between the taker funding's first
	// guard pass and its spend lock.
	interleaved := false
	env.engine.now = func() time.Time {
		if !interleaved {
			interleaved = true

			result, err := env.engine.MakerTerminationCollateral(ctx, init.EventID)
			require.NoError(t, err)
			require.Equal(t, StateEarlyTerminatedMakerCollateral, result.State)
		}

		return env.clock.Now()
	}

	_, err = env.engine.TakerFund(ctx, init.EventID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	// The terminal state survives the race, and the taker took nothing.
	contract, err := env.engine.ResolveContract(ctx, init.EventID)
	require.NoError(t, err)

	state, err := env.registry.GetState(ctx, contract.TaprootPubkeyGen)
	require.NoError(t, err)
	assert.Equal(t, StateEarlyTerminatedMakerCollateral, state)

	assert.Equal(t, uint64(0), env.totalAt(t, contract.Arguments.FillerTokenAssetID(), env.walletScript))
}

func (env *testEnv) toActive(t *testing.T) *ActionResult {
	t.Helper()

	ctx := context.Background()
	init := env.makerInit(t)

	_, err := env.engine.MakerFund(ctx, init.EventID)
	require.NoError(t, err)

	env.clock.Set(fundingStart + 100)

	_, err = env.engine.TakerFund(ctx, init.EventID)
	require.NoError(t, err)

	return init
}

func TestMakerTerminationCollateral(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	init := env.toActive(t)
	args, _ := env.contract(t, init.EventID)

	walletBefore := env.totalAt(t, args.CollateralAssetID, env.walletScript)

	result, err := env.engine.MakerTerminationCollateral(ctx, init.EventID)
	require.NoError(t, err)
	assert.Equal(t, StateEarlyTerminatedMakerCollateral, result.State)
	assert.True(t, IsTerminal(result.State))

	// Principal back, fee paid, grantor collateral token gone.
	walletAfter := env.totalAt(t, args.CollateralAssetID, env.walletScript)
	assert.Equal(t, walletBefore+args.PrincipalCollateralAmount-settings.NewSettings().Lifecycle.FeeAmount, walletAfter)
	assert.Equal(t, uint64(0), env.totalAt(t, args.GrantorCollateralTokenAssetID(), env.walletScript))
	assert.Equal(t, uint64(1), env.totalAt(t, args.GrantorSettlementTokenAssetID(), env.walletScript))

	// Terminal state rejects further actions.
	_, err = env.engine.TakerFund(ctx, init.EventID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
}

func TestMakerTerminationSettlementBurnsSettlementToken(t *testing.T) {
	env := newTestEnv(t)

	init := env.toActive(t)
	args, _ := env.contract(t, init.EventID)

	result, err := env.engine.MakerTerminationSettlement(context.Background(), init.EventID)
	require.NoError(t, err)
	assert.Equal(t, StateEarlyTerminatedMakerSettlement, result.State)

	// The settlement-variant burns only the settlement token.
	assert.Equal(t, uint64(1), env.totalAt(t, args.GrantorCollateralTokenAssetID(), env.walletScript))
	assert.Equal(t, uint64(0), env.totalAt(t, args.GrantorSettlementTokenAssetID(), env.walletScript))
}

func TestMakerTerminationFromMakerFunded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	init := env.makerInit(t)

	_, err := env.engine.MakerFund(ctx, init.EventID)
	require.NoError(t, err)

	result, err := env.engine.MakerTerminationCollateral(ctx, init.EventID)
	require.NoError(t, err)
	assert.Equal(t, StateEarlyTerminatedMakerCollateral, result.State)
}

func TestTakerTerminationEarly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	init := env.toActive(t)
	args, _ := env.contract(t, init.EventID)

	result, err := env.engine.TakerTerminationEarly(ctx, init.EventID)
	require.NoError(t, err)
	assert.Equal(t, StateEarlyTerminatedTaker, result.State)

	// The full filler supply was surrendered and burned.
	assert.Equal(t, uint64(0), env.totalAt(t, args.FillerTokenAssetID(), env.walletScript))
}

func TestTerminationAfterDeadlineFails(t *testing.T) {
	env := newTestEnv(t)

	init := env.toActive(t)

	env.clock.Set(terminationEnd)

	_, err := env.engine.MakerTerminationCollateral(context.Background(), init.EventID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTiming))
}

func (env *testEnv) attest(t *testing.T, height uint32, price uint64) *oracle.Attestation {
	t.Helper()

	att, err := oracle.Sign(env.keys, oracleKeyIndex, height, price)
	require.NoError(t, err)

	return att
}

func TestMakerSettlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	init := env.toActive(t)
	args, _ := env.contract(t, init.EventID)

	env.broadcaster.SetHeight(settlementHeight)

	walletBefore := env.totalAt(t, args.CollateralAssetID, env.walletScript)

	result, err := env.engine.MakerSettlement(ctx, init.EventID, env.attest(t, settlementHeight, 50))
	require.NoError(t, err)
	assert.Equal(t, StateSettledMaker, result.State)

	require.NotNil(t, result.Payoff)
	assert.Equal(t, Payoff{Returned: 900, Burned: 1100, FillerBurned: 110_000}, *result.Payoff)

	// Maker reclaims the returned share net of the fee; both grantor
	// tokens are burned.
	walletAfter := env.totalAt(t, args.CollateralAssetID, env.walletScript)
	assert.Equal(t, walletBefore+900-settings.NewSettings().Lifecycle.FeeAmount, walletAfter)
	assert.Equal(t, uint64(0), env.totalAt(t, args.GrantorCollateralTokenAssetID(), env.walletScript))
	assert.Equal(t, uint64(0), env.totalAt(t, args.GrantorSettlementTokenAssetID(), env.walletScript))
}

func TestTakerSettlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	init := env.toActive(t)
	args, _ := env.contract(t, init.EventID)

	env.broadcaster.SetHeight(settlementHeight + 10)

	result, err := env.engine.TakerSettlement(ctx, init.EventID, env.attest(t, settlementHeight, 50))
	require.NoError(t, err)
	assert.Equal(t, StateSettledTaker, result.State)

	require.NotNil(t, result.Payoff)
	assert.Equal(t, Payoff{Returned: 900, Burned: 1100, FillerBurned: 110_000}, *result.Payoff)

	// The taker burned the proportional filler lots and keeps the rest.
	assert.Equal(t, args.TotalFillerTokens()-110_000, env.totalAt(t, args.FillerTokenAssetID(), env.walletScript))
}

func TestSettlementBeforeHeightFails(t *testing.T) {
	env := newTestEnv(t)

	init := env.toActive(t)

	// Tip below the settlement height, attestation otherwise valid.
	_, err := env.engine.MakerSettlement(context.Background(), init.EventID, env.attest(t, settlementHeight, 50))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTiming))
}

func TestSettlementWrongHeightAttestation(t *testing.T) {
	env := newTestEnv(t)

	init := env.toActive(t)
	env.broadcaster.SetHeight(settlementHeight)

	_, err := env.engine.MakerSettlement(context.Background(), init.EventID, env.attest(t, settlementHeight+1, 50))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOracleHeightMismatch))
}

func TestSettlementForgedAttestation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	init := env.toActive(t)
	env.broadcaster.SetHeight(settlementHeight)

	att := env.attest(t, settlementHeight, 50)
	att.Price = 75

	_, err := env.engine.MakerSettlement(ctx, init.EventID, att)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOracleInvalidSignature))

	// Refused settlement leaves the contract retryable.
	result, err := env.engine.MakerSettlement(ctx, init.EventID, env.attest(t, settlementHeight, 75))
	require.NoError(t, err)
	assert.Equal(t, StateSettledMaker, result.State)
}

func TestMergeTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	init := env.makerInit(t)

	// Three fragments at the wallet script.
	var fragTx model.Hash
	fragTx[0] = 0xc0

	fragments := make([]model.Outpoint, 3)
	for vout := uint32(0); vout < 3; vout++ {
		fragments[vout] = model.NewOutpoint(fragTx, vout)
		env.fundWallet(t, fragments[vout], 5000)
	}

	result, err := env.engine.MergeTokens(ctx, init.EventID, fragments)
	require.NoError(t, err)
	assert.Equal(t, StateInitialized, result.State, "merging must not move the contract state")

	merged, err := env.ledger.Lookup(ctx, result.Outpoint)
	require.NoError(t, err)
	assert.Equal(t, uint64(15_000), merged.TxOut.Value)
	assert.False(t, merged.Spent)

	for _, fragment := range fragments {
		entry, err := env.ledger.Lookup(ctx, fragment)
		require.NoError(t, err)
		assert.True(t, entry.Spent)
	}

	completions, err := env.relay.Query(ctx, relay.KindActionCompleted)
	require.NoError(t, err)
	require.Len(t, completions, 1)

	parsed, err := relay.ParseActionCompletedEvent(completions[0])
	require.NoError(t, err)
	assert.Equal(t, relay.ActionTokensMerged, parsed.Action)
}

func TestMergeTokensRejectsBadCount(t *testing.T) {
	env := newTestEnv(t)

	init := env.makerInit(t)

	_, err := env.engine.MergeTokens(context.Background(), init.EventID, []model.Outpoint{env.seeds[0]})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestResolveContractUnknownEvent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.ResolveContract(context.Background(), "deadbeef")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrContractNotFound))
}
