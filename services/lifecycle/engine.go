// Package lifecycle drives contracts through their state machine. Every
// CLI-level action maps to one edge: the engine resolves the contract,
// checks the edge against the persisted state, evaluates the timing or
// oracle guard, selects coins under the ledger's spend lock, constructs
// and broadcasts the consuming transaction, and only then marks outputs
// spent and persists the new state. A failure anywhere before broadcast
// acceptance leaves ledger and registry untouched.
package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/keys"
	"github.com/t1plarnd/simplicity-dex/model"
	"github.com/t1plarnd/simplicity-dex/relay"
	"github.com/t1plarnd/simplicity-dex/settings"
	"github.com/t1plarnd/simplicity-dex/stores/ledger"
	"github.com/t1plarnd/simplicity-dex/stores/registry"
	"github.com/t1plarnd/simplicity-dex/ulogger"
)

// dcdProgramSource is the derivative-contract program deployed for
// every DCD instance. The commitment root binds it together with the
// instance arguments, so two contracts share a source row but never a
// commitment.
const dcdProgramSource = `mod witness { const DCD: u1 = 0; }
fn main() { jet::verify(witness::DCD); }
`

// burnScript is an unspendable locking script. Burned amounts pay here.
var burnScript = []byte{0x6a}

// appMetadata is what the engine keeps in the registry's opaque
// metadata column: the maker's issuance outpoints, needed again at
// maker funding time.
type appMetadata struct {
	IssuanceOutpoints []string `json:"issuance_outpoints"`
}

// ActionResult reports a completed lifecycle action.
type ActionResult struct {
	TxID     model.Hash
	State    string
	EventID  string
	Payoff   *Payoff
	Outpoint model.Outpoint
}

type Engine struct {
	logger      ulogger.Logger
	settings    *settings.Settings
	ledger      ledger.Store
	registry    registry.Store
	relay       relay.Store
	broadcaster Broadcaster
	keys        *keys.KeyContext
	payoff      PayoffFunc

	// orderCache memoizes contract-reference resolution: a discovered
	// ContractCreated event id maps to the registry's taproot key.
	orderCache *ttlcache.Cache[string, string]

	collateralAssetID model.AssetID
	feeAmount         uint64

	now func() time.Time
}

type Option func(*Engine)

// WithPayoff replaces the reference payoff schedule.
func WithPayoff(fn PayoffFunc) Option {
	return func(e *Engine) {
		e.payoff = fn
	}
}

// WithClock replaces the wall clock used by timing guards.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(logger ulogger.Logger, tSettings *settings.Settings, ledgerStore ledger.Store, registryStore registry.Store, relayStore relay.Store, broadcaster Broadcaster, kctx *keys.KeyContext, opts ...Option) (*Engine, error) {
	collateralAssetID, err := model.NewAssetIDFromStr(tSettings.Lifecycle.CollateralAssetID)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid collateral asset id", err)
	}

	orderCache := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](tSettings.Relay.OrderCacheTTL),
	)

	go orderCache.Start()

	e := &Engine{
		logger:            logger,
		settings:          tSettings,
		ledger:            ledgerStore,
		registry:          registryStore,
		relay:             relayStore,
		broadcaster:       broadcaster,
		keys:              kctx,
		payoff:            ReferencePayoff,
		orderCache:        orderCache,
		collateralAssetID: collateralAssetID,
		feeAmount:         tSettings.Lifecycle.FeeAmount,
		now:               time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

func (e *Engine) Close() {
	e.orderCache.Stop()
}

// walletScript is the locking script wallet-owned outputs pay to.
func (e *Engine) walletScript() []byte {
	script := make([]byte, 0, 2+model.HashSize)
	script = append(script, 0x51, 0x20)
	script = append(script, keys.XOnlyPubKey(e.keys.DeriveKeyPair(0))...)

	return script
}

// ResolveContract resolves a discovered ContractCreated event id to the
// registered contract instance. Resolutions are memoized.
func (e *Engine) ResolveContract(ctx context.Context, eventID string) (*registry.Contract, error) {
	if item := e.orderCache.Get(eventID); item != nil {
		return e.registry.GetContract(ctx, item.Value())
	}

	wire, err := e.relay.Get(ctx, eventID)
	if err != nil {
		return nil, errors.NewContractNotFoundError("no contract announcement %s", eventID, err)
	}

	announcement, err := relay.ParseContractCreatedEvent(wire)
	if err != nil {
		return nil, err
	}

	gen := announcement.TaprootPubkeyGen.String()
	e.orderCache.Set(eventID, gen, ttlcache.DefaultTTL)

	return e.registry.GetContract(ctx, gen)
}

// currentState loads the persisted state tag, defaulting to
// Uninitialized for contracts with no recorded state.
func (e *Engine) currentState(ctx context.Context, taprootPubkeyGen string) (string, error) {
	state, err := e.registry.GetState(ctx, taprootPubkeyGen)
	if err != nil {
		return "", err
	}

	if state == "" {
		return StateUninitialized, nil
	}

	return state, nil
}

// txPlan is an action's transaction under construction: the entries it
// spends, the outputs it creates and which of those the wallet tracks.
type txPlan struct {
	entries   []ledger.Entry
	issuances map[int]*model.AssetIssuance
	outputs   []*model.TxOut
	track     []uint32

	// announceVout is the output referenced in the ActionCompleted
	// announcement.
	announceVout uint32
}

func (p *txPlan) addInput(entry ledger.Entry) int {
	p.entries = append(p.entries, entry)
	return len(p.entries) - 1
}

func (p *txPlan) addInputs(entries []ledger.Entry) {
	p.entries = append(p.entries, entries...)
}

func (p *txPlan) addOutput(out *model.TxOut, tracked bool) uint32 {
	p.outputs = append(p.outputs, out)
	vout := uint32(len(p.outputs) - 1)

	if tracked {
		p.track = append(p.track, vout)
	}

	return vout
}

func (p *txPlan) assemble() *model.Transaction {
	tx := &model.Transaction{Version: 2}

	for i, entry := range p.entries {
		in := &model.TxIn{PreviousOutpoint: entry.Outpoint}

		if p.issuances != nil {
			in.Issuance = p.issuances[i]
		}

		tx.Inputs = append(tx.Inputs, in)
	}

	tx.Outputs = append(tx.Outputs, p.outputs...)

	return tx
}

// selectRole selects unspent outputs of one input role, mapping a
// non-FOUND result to InsufficientFunds.
func (e *Engine) selectRole(ctx context.Context, reader ledger.Reader, role string, filter ledger.Filter) ([]ledger.Entry, uint64, error) {
	res, err := reader.Select(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	if res.Status != ledger.QueryFound {
		return nil, 0, errors.NewInsufficientFundsError("role %s: need %d of asset %s, have %d", role, filter.TargetValue, filter.AssetID, res.Total)
	}

	return res.Entries, res.Total, nil
}

// lookupUnspent loads an explicitly referenced outpoint and insists it
// is still spendable.
func (e *Engine) lookupUnspent(ctx context.Context, reader ledger.Reader, outpoint model.Outpoint) (*ledger.Entry, error) {
	entry, err := reader.Lookup(ctx, outpoint)
	if err != nil {
		return nil, err
	}

	if entry.Spent {
		return nil, errors.NewUtxoSpentError("output %s is already spent", outpoint)
	}

	return entry, nil
}

// runAction executes one lifecycle edge end to end. State check and
// guard run once up front as a cheap rejection, then again inside the
// spend lock immediately before broadcast, so neither a slow
// construction nor a concurrent action can ride on a stale check. The
// state write happens under the lock too, so the persisted state can
// never move backwards past a concurrent action.
func (e *Engine) runAction(ctx context.Context, eventID, fsmEvent string, action relay.ActionType, guard func(ctx context.Context, c *registry.Contract) error, build func(ctx context.Context, tx ledger.SpendTx, c *registry.Contract) (*txPlan, error)) (*ActionResult, error) {
	contract, err := e.ResolveContract(ctx, eventID)
	if err != nil {
		return nil, err
	}

	state, err := e.currentState(ctx, contract.TaprootPubkeyGen)
	if err != nil {
		return nil, err
	}

	if !NewLifecycleFSM(state).Can(fsmEvent) {
		return nil, errors.NewInvalidTransitionError("cannot %s a contract in state %s", fsmEvent, state)
	}

	if guard != nil {
		if err = guard(ctx, contract); err != nil {
			return nil, err
		}
	}

	var (
		plan     *txPlan
		tx       *model.Transaction
		newState string
	)

	err = e.ledger.SpendLock(ctx, func(ctx context.Context, spendTx ledger.SpendTx) error {
		// Authoritative state check. The fast path above ran without
		// the lock and may have raced another action on this contract.
		state, err := e.currentState(ctx, contract.TaprootPubkeyGen)
		if err != nil {
			return err
		}

		machine := NewLifecycleFSM(state)
		if !machine.Can(fsmEvent) {
			return errors.NewInvalidTransitionError("cannot %s a contract in state %s", fsmEvent, state)
		}

		if plan, err = build(ctx, spendTx, contract); err != nil {
			return err
		}

		if guard != nil {
			// Commit-time re-evaluation of the same guard.
			if err = guard(ctx, contract); err != nil {
				return err
			}
		}

		tx = plan.assemble()

		if err = e.broadcaster.Broadcast(ctx, tx); err != nil {
			return err
		}

		outpoints := make([]model.Outpoint, 0, len(plan.entries))
		for _, entry := range plan.entries {
			outpoints = append(outpoints, entry.Outpoint)
		}

		if err = spendTx.MarkSpent(ctx, outpoints); err != nil {
			return err
		}

		txid := tx.TxID()
		for _, vout := range plan.track {
			if err = spendTx.RecordOutput(ctx, model.NewOutpoint(txid, vout), tx.Outputs[vout], nil); err != nil {
				return err
			}
		}

		// Issuance entropy is recorded once per asset; a replayed
		// issuance input is not an error here.
		for _, in := range tx.Inputs {
			if !in.HasIssuance() {
				continue
			}

			entropy := in.IssuanceEntropy()

			issuance := ledger.Issuance{
				AssetID:      model.AssetIDFromEntropy(entropy),
				Entropy:      entropy,
				Confidential: in.Issuance.InflationKeysConfidential,
			}

			if err = spendTx.RecordIssuance(ctx, issuance); err != nil && !errors.Is(err, errors.ErrConstraintViolation) {
				return err
			}
		}

		if err = machine.Event(ctx, fsmEvent); err != nil {
			return errors.NewInvalidTransitionError("cannot %s a contract in state %s", fsmEvent, state, err)
		}

		newState = machine.Current()

		return e.registry.SetState(ctx, contract.TaprootPubkeyGen, newState)
	})
	if err != nil {
		return nil, err
	}

	txid := tx.TxID()

	result := &ActionResult{
		TxID:     txid,
		State:    newState,
		Outpoint: model.NewOutpoint(txid, plan.announceVout),
	}

	completion, err := relay.BuildActionCompletedEvent(e.keys.DeriveKeyPair(0), eventID, action, result.Outpoint)
	if err != nil {
		return nil, err
	}

	if err = e.relay.Publish(ctx, completion); err != nil {
		return nil, err
	}

	result.EventID = completion.ID

	e.logger.Infof("lifecycle: %s on contract %s: tx %s, state %s", fsmEvent, contract.TaprootPubkeyGen, txid, newState)

	return result, nil
}

// tokenContractHash seeds the issuance entropy of the three minted
// tokens; it commits to the program, not to the instance.
func tokenContractHash() model.Hash {
	return model.Hash(sha256.Sum256([]byte(dcdProgramSource)))
}

func encodeAppMetadata(issuanceOutpoints []model.Outpoint) ([]byte, error) {
	meta := appMetadata{}
	for _, outpoint := range issuanceOutpoints {
		meta.IssuanceOutpoints = append(meta.IssuanceOutpoints, outpoint.String())
	}

	b, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.NewProcessingError("failed to encode contract metadata", err)
	}

	return b, nil
}

func decodeAppMetadata(b []byte) ([]model.Outpoint, error) {
	meta := appMetadata{}
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, errors.NewProcessingError("corrupt contract metadata", err)
	}

	outpoints := make([]model.Outpoint, 0, len(meta.IssuanceOutpoints))

	for _, s := range meta.IssuanceOutpoints {
		outpoint, err := model.ParseOutpoint(s)
		if err != nil {
			return nil, errors.NewProcessingError("corrupt contract metadata", err)
		}

		outpoints = append(outpoints, outpoint)
	}

	return outpoints, nil
}
