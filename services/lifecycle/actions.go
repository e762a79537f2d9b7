package lifecycle

import (
	"context"

	"github.com/jellydator/ttlcache/v3"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/model"
	"github.com/t1plarnd/simplicity-dex/oracle"
	"github.com/t1plarnd/simplicity-dex/relay"
	"github.com/t1plarnd/simplicity-dex/stores/ledger"
	"github.com/t1plarnd/simplicity-dex/stores/registry"
)

// MakerInit registers a new contract instance. The three seed outpoints
// are reserved for the token issuances performed at maker funding; their
// entropy fixes the three token asset ids, which in turn are committed
// into the contract arguments before the taproot commitment is derived.
// No transaction is broadcast; funds only move at maker funding.
func (e *Engine) MakerInit(ctx context.Context, seeds [3]model.Outpoint, args *model.DCDArguments) (*ActionResult, error) {
	if args.CollateralAssetID == (model.AssetID{}) {
		args.CollateralAssetID = e.collateralAssetID
	}

	contractHash := tokenContractHash()
	args.FillerTokenEntropy = model.GenerateEntropy(seeds[0], contractHash)
	args.GrantorCollateralTokenEntropy = model.GenerateEntropy(seeds[1], contractHash)
	args.GrantorSettlementTokenEntropy = model.GenerateEntropy(seeds[2], contractHash)

	if err := args.Validate(); err != nil {
		return nil, err
	}

	for _, seed := range seeds {
		if _, err := e.lookupUnspent(ctx, e.ledger, seed); err != nil {
			return nil, err
		}
	}

	argumentsBytes, err := args.Serialize()
	if err != nil {
		return nil, err
	}

	internal := e.keys.DeriveKeyPair(1).PubKey()

	gen, err := model.DeriveTaprootPubkeyGen(internal, model.ComputeCMR([]byte(dcdProgramSource), argumentsBytes))
	if err != nil {
		return nil, err
	}

	meta, err := encodeAppMetadata(seeds[:])
	if err != nil {
		return nil, err
	}

	if err = e.registry.AddContract(ctx, []byte(dcdProgramSource), args, gen, meta); err != nil {
		return nil, err
	}

	if err = e.registry.SetState(ctx, gen.String(), StateInitialized); err != nil {
		return nil, err
	}

	announcement, err := relay.BuildContractCreatedEvent(e.keys.DeriveKeyPair(0), args, seeds[0], gen)
	if err != nil {
		return nil, err
	}

	if err = e.relay.Publish(ctx, announcement); err != nil {
		return nil, err
	}

	e.orderCache.Set(announcement.ID, gen.String(), ttlcache.DefaultTTL)

	e.logger.Infof("lifecycle: initialized contract %s, announcement %s", gen.String(), announcement.ID)

	return &ActionResult{
		State:    StateInitialized,
		EventID:  announcement.ID,
		Outpoint: seeds[0],
	}, nil
}

// MakerFund spends the three issuance seeds reserved at init, minting
// the filler and grantor tokens, and posts the principal collateral to
// the contract script.
func (e *Engine) MakerFund(ctx context.Context, eventID string) (*ActionResult, error) {
	return e.runAction(ctx, eventID, EventMakerFund, relay.ActionMakerFunded, nil,
		func(ctx context.Context, tx ledger.SpendTx, c *registry.Contract) (*txPlan, error) {
			seeds, err := decodeAppMetadata(c.AppMetadata)
			if err != nil {
				return nil, err
			}

			args := c.Arguments
			contractHash := tokenContractHash()

			plan := &txPlan{issuances: map[int]*model.AssetIssuance{}}

			for _, seed := range seeds {
				entry, err := e.lookupUnspent(ctx, tx, seed)
				if err != nil {
					return nil, err
				}

				i := plan.addInput(*entry)
				plan.issuances[i] = &model.AssetIssuance{ContractHash: contractHash}
			}

			plan.announceVout = plan.addOutput(&model.TxOut{
				Asset:        args.CollateralAssetID,
				Value:        args.PrincipalCollateralAmount,
				ScriptPubKey: c.ScriptPubKey,
			}, true)

			plan.addOutput(&model.TxOut{
				Asset:        args.FillerTokenAssetID(),
				Value:        args.TotalFillerTokens(),
				ScriptPubKey: c.ScriptPubKey,
			}, true)

			plan.addOutput(&model.TxOut{
				Asset:        args.GrantorCollateralTokenAssetID(),
				Value:        1,
				ScriptPubKey: e.walletScript(),
			}, true)

			plan.addOutput(&model.TxOut{
				Asset:        args.GrantorSettlementTokenAssetID(),
				Value:        1,
				ScriptPubKey: e.walletScript(),
			}, true)

			if err = e.addCollateralAndChange(ctx, tx, plan, args.PrincipalCollateralAmount); err != nil {
				return nil, err
			}

			return plan, nil
		})
}

// TakerFund posts the taker's collateral to the contract script and
// takes custody of the minted filler tokens. Only valid inside the
// taker funding window.
func (e *Engine) TakerFund(ctx context.Context, eventID string) (*ActionResult, error) {
	guard := func(_ context.Context, c *registry.Contract) error {
		now := uint32(e.now().Unix())
		args := c.Arguments

		if now < args.TakerFundingStartTime || now > args.TakerFundingEndTime {
			return errors.NewTimingError("now %d outside taker funding window [%d, %d]", now, args.TakerFundingStartTime, args.TakerFundingEndTime)
		}

		return nil
	}

	return e.runAction(ctx, eventID, EventTakerFund, relay.ActionTakerFunded, guard,
		func(ctx context.Context, tx ledger.SpendTx, c *registry.Contract) (*txPlan, error) {
			args := c.Arguments
			plan := &txPlan{}

			filler, _, err := e.selectRole(ctx, tx, "filler", ledger.Filter{
				AssetID:      args.FillerTokenAssetID(),
				ScriptPubKey: c.ScriptPubKey,
				TargetValue:  args.TotalFillerTokens(),
			})
			if err != nil {
				return nil, err
			}

			plan.addInputs(filler)

			plan.announceVout = plan.addOutput(&model.TxOut{
				Asset:        args.CollateralAssetID,
				Value:        args.PrincipalCollateralAmount,
				ScriptPubKey: c.ScriptPubKey,
			}, true)

			plan.addOutput(&model.TxOut{
				Asset:        args.FillerTokenAssetID(),
				Value:        args.TotalFillerTokens(),
				ScriptPubKey: e.walletScript(),
			}, true)

			if err = e.addCollateralAndChange(ctx, tx, plan, args.PrincipalCollateralAmount); err != nil {
				return nil, err
			}

			return plan, nil
		})
}

// MakerTerminationCollateral cancels the contract early, returning the
// maker's principal collateral and burning the grantor collateral token.
func (e *Engine) MakerTerminationCollateral(ctx context.Context, eventID string) (*ActionResult, error) {
	return e.runAction(ctx, eventID, EventMakerTerminationCollateral, relay.ActionContractCancelled, e.earlyTerminationGuard,
		func(ctx context.Context, tx ledger.SpendTx, c *registry.Contract) (*txPlan, error) {
			return e.buildTermination(ctx, tx, c, c.Arguments.GrantorCollateralTokenAssetID())
		})
}

// MakerTerminationSettlement is the settlement-token variant of the
// maker's early termination: same collateral return, but the grantor
// settlement token is the one burned.
func (e *Engine) MakerTerminationSettlement(ctx context.Context, eventID string) (*ActionResult, error) {
	return e.runAction(ctx, eventID, EventMakerTerminationSettlement, relay.ActionContractCancelled, e.earlyTerminationGuard,
		func(ctx context.Context, tx ledger.SpendTx, c *registry.Contract) (*txPlan, error) {
			return e.buildTermination(ctx, tx, c, c.Arguments.GrantorSettlementTokenAssetID())
		})
}

// TakerTerminationEarly unwinds the taker's position: the full filler
// token supply is returned and burned, and the taker's collateral comes
// back from the contract.
func (e *Engine) TakerTerminationEarly(ctx context.Context, eventID string) (*ActionResult, error) {
	return e.runAction(ctx, eventID, EventTakerTerminationEarly, relay.ActionContractCancelled, e.earlyTerminationGuard,
		func(ctx context.Context, tx ledger.SpendTx, c *registry.Contract) (*txPlan, error) {
			args := c.Arguments
			plan := &txPlan{}

			filler, _, err := e.selectRole(ctx, tx, "filler", ledger.Filter{
				AssetID:      args.FillerTokenAssetID(),
				ScriptPubKey: e.walletScript(),
				TargetValue:  args.TotalFillerTokens(),
			})
			if err != nil {
				return nil, err
			}

			plan.addInputs(filler)

			collateral, _, err := e.selectRole(ctx, tx, "collateral", ledger.Filter{
				AssetID:      args.CollateralAssetID,
				ScriptPubKey: c.ScriptPubKey,
				TargetValue:  args.PrincipalCollateralAmount,
			})
			if err != nil {
				return nil, err
			}

			plan.addInputs(collateral)

			plan.announceVout = plan.addOutput(&model.TxOut{
				Asset:        args.CollateralAssetID,
				Value:        args.PrincipalCollateralAmount,
				ScriptPubKey: e.walletScript(),
			}, true)

			plan.addOutput(&model.TxOut{
				Asset:        args.FillerTokenAssetID(),
				Value:        args.TotalFillerTokens(),
				ScriptPubKey: burnScript,
			}, false)

			if err = e.addCollateralAndChange(ctx, tx, plan, 0); err != nil {
				return nil, err
			}

			return plan, nil
		})
}

// MakerSettlement settles the contract at the attested price: the maker
// claims the returned share of the principal collateral, the burned
// share is destroyed, and both grantor tokens are burned with it.
func (e *Engine) MakerSettlement(ctx context.Context, eventID string, att *oracle.Attestation) (*ActionResult, error) {
	var payoff Payoff

	result, err := e.runAction(ctx, eventID, EventMakerSettlement, relay.ActionSettlementClaimed, e.settlementGuard(att),
		func(ctx context.Context, tx ledger.SpendTx, c *registry.Contract) (*txPlan, error) {
			args := c.Arguments

			price, err := oracle.Verify(att, args.SettlementHeight, args.OraclePublicKey)
			if err != nil {
				return nil, err
			}

			payoff = e.payoff(args.StrikePrice, price, args.PrincipalCollateralAmount, args.IncentiveBasisPoints, args.FillerPerPrincipalCollateral)

			plan := &txPlan{}

			collateral, _, err := e.selectRole(ctx, tx, "collateral", ledger.Filter{
				AssetID:      args.CollateralAssetID,
				ScriptPubKey: c.ScriptPubKey,
				TargetValue:  args.PrincipalCollateralAmount,
			})
			if err != nil {
				return nil, err
			}

			plan.addInputs(collateral)

			for _, tokenAsset := range []model.AssetID{args.GrantorCollateralTokenAssetID(), args.GrantorSettlementTokenAssetID()} {
				token, _, err := e.selectRole(ctx, tx, "grantor token", ledger.Filter{
					AssetID:      tokenAsset,
					ScriptPubKey: e.walletScript(),
					TargetValue:  1,
				})
				if err != nil {
					return nil, err
				}

				plan.addInputs(token)

				plan.addOutput(&model.TxOut{
					Asset:        tokenAsset,
					Value:        1,
					ScriptPubKey: burnScript,
				}, false)
			}

			plan.announceVout = plan.addOutput(&model.TxOut{
				Asset:        args.CollateralAssetID,
				Value:        payoff.Returned,
				ScriptPubKey: e.walletScript(),
			}, true)

			if payoff.Burned > 0 {
				plan.addOutput(&model.TxOut{
					Asset:        args.CollateralAssetID,
					Value:        payoff.Burned,
					ScriptPubKey: burnScript,
				}, false)
			}

			if err = e.addCollateralAndChange(ctx, tx, plan, 0); err != nil {
				return nil, err
			}

			return plan, nil
		})
	if err != nil {
		return nil, err
	}

	result.Payoff = &payoff

	return result, nil
}

// TakerSettlement is the taker's settlement exit: the taker claims the
// share the maker forfeits, burns the proportional filler tokens, and
// the maker's retained share stays at the contract script.
func (e *Engine) TakerSettlement(ctx context.Context, eventID string, att *oracle.Attestation) (*ActionResult, error) {
	var payoff Payoff

	result, err := e.runAction(ctx, eventID, EventTakerSettlement, relay.ActionContractExercised, e.settlementGuard(att),
		func(ctx context.Context, tx ledger.SpendTx, c *registry.Contract) (*txPlan, error) {
			args := c.Arguments

			price, err := oracle.Verify(att, args.SettlementHeight, args.OraclePublicKey)
			if err != nil {
				return nil, err
			}

			payoff = e.payoff(args.StrikePrice, price, args.PrincipalCollateralAmount, args.IncentiveBasisPoints, args.FillerPerPrincipalCollateral)

			plan := &txPlan{}

			collateral, _, err := e.selectRole(ctx, tx, "collateral", ledger.Filter{
				AssetID:      args.CollateralAssetID,
				ScriptPubKey: c.ScriptPubKey,
				TargetValue:  args.PrincipalCollateralAmount,
			})
			if err != nil {
				return nil, err
			}

			plan.addInputs(collateral)

			var fillerTotal uint64

			if payoff.FillerBurned > 0 {
				filler, total, err := e.selectRole(ctx, tx, "filler", ledger.Filter{
					AssetID:      args.FillerTokenAssetID(),
					ScriptPubKey: e.walletScript(),
					TargetValue:  payoff.FillerBurned,
				})
				if err != nil {
					return nil, err
				}

				plan.addInputs(filler)
				fillerTotal = total
			}

			plan.announceVout = plan.addOutput(&model.TxOut{
				Asset:        args.CollateralAssetID,
				Value:        payoff.Burned,
				ScriptPubKey: e.walletScript(),
			}, true)

			if payoff.Returned > 0 {
				plan.addOutput(&model.TxOut{
					Asset:        args.CollateralAssetID,
					Value:        payoff.Returned,
					ScriptPubKey: c.ScriptPubKey,
				}, true)
			}

			if payoff.FillerBurned > 0 {
				plan.addOutput(&model.TxOut{
					Asset:        args.FillerTokenAssetID(),
					Value:        payoff.FillerBurned,
					ScriptPubKey: burnScript,
				}, false)
			}

			if change := fillerTotal - payoff.FillerBurned; change > 0 {
				plan.addOutput(&model.TxOut{
					Asset:        args.FillerTokenAssetID(),
					Value:        change,
					ScriptPubKey: e.walletScript(),
				}, true)
			}

			if err = e.addCollateralAndChange(ctx, tx, plan, 0); err != nil {
				return nil, err
			}

			return plan, nil
		})
	if err != nil {
		return nil, err
	}

	result.Payoff = &payoff

	return result, nil
}

// MergeTokens consolidates between two and four same-asset outputs into
// a single output at their current script. Merging does not move the
// contract's state; it only defragments ahead of an action with a
// bounded number of input slots.
func (e *Engine) MergeTokens(ctx context.Context, eventID string, outpoints []model.Outpoint) (*ActionResult, error) {
	if len(outpoints) < 2 || len(outpoints) > 4 {
		return nil, errors.NewInvalidArgumentError("can merge 2 to 4 outputs, got %d", len(outpoints))
	}

	contract, err := e.ResolveContract(ctx, eventID)
	if err != nil {
		return nil, err
	}

	var (
		plan *txPlan
		tx   *model.Transaction
	)

	err = e.ledger.SpendLock(ctx, func(ctx context.Context, spendTx ledger.SpendTx) error {
		plan = &txPlan{}

		var (
			asset  model.AssetID
			script []byte
			total  uint64
		)

		for i, outpoint := range outpoints {
			entry, err := e.lookupUnspent(ctx, spendTx, outpoint)
			if err != nil {
				return err
			}

			if i == 0 {
				asset = entry.TxOut.Asset
				script = entry.TxOut.ScriptPubKey
			} else if entry.TxOut.Asset != asset {
				return errors.NewInvalidArgumentError("cannot merge %s with %s outputs", entry.TxOut.Asset, asset)
			}

			total += entry.TxOut.Value
			plan.addInput(*entry)
		}

		plan.announceVout = plan.addOutput(&model.TxOut{
			Asset:        asset,
			Value:        total,
			ScriptPubKey: script,
		}, true)

		if err := e.addCollateralAndChange(ctx, spendTx, plan, 0); err != nil {
			return err
		}

		tx = plan.assemble()

		if err := e.broadcaster.Broadcast(ctx, tx); err != nil {
			return err
		}

		spent := make([]model.Outpoint, 0, len(plan.entries))
		for _, entry := range plan.entries {
			spent = append(spent, entry.Outpoint)
		}

		if err := spendTx.MarkSpent(ctx, spent); err != nil {
			return err
		}

		txid := tx.TxID()
		for _, vout := range plan.track {
			if err := spendTx.RecordOutput(ctx, model.NewOutpoint(txid, vout), tx.Outputs[vout], nil); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	txid := tx.TxID()

	state, err := e.currentState(ctx, contract.TaprootPubkeyGen)
	if err != nil {
		return nil, err
	}

	result := &ActionResult{
		TxID:     txid,
		State:    state,
		Outpoint: model.NewOutpoint(txid, plan.announceVout),
	}

	completion, err := relay.BuildActionCompletedEvent(e.keys.DeriveKeyPair(0), eventID, relay.ActionTokensMerged, result.Outpoint)
	if err != nil {
		return nil, err
	}

	if err = e.relay.Publish(ctx, completion); err != nil {
		return nil, err
	}

	result.EventID = completion.ID

	e.logger.Infof("lifecycle: merged %d outputs of contract %s into %s", len(outpoints), contract.TaprootPubkeyGen, result.Outpoint)

	return result, nil
}

// earlyTerminationGuard admits terminations only before the early
// termination deadline.
func (e *Engine) earlyTerminationGuard(_ context.Context, c *registry.Contract) error {
	now := uint32(e.now().Unix())
	if now >= c.Arguments.EarlyTerminationEndTime {
		return errors.NewTimingError("early termination window closed at %d, now %d", c.Arguments.EarlyTerminationEndTime, now)
	}

	return nil
}

// settlementGuard admits settlement once the chain has reached the
// contract's settlement height and the attestation verifies. The price
// itself is re-extracted by the build step.
func (e *Engine) settlementGuard(att *oracle.Attestation) func(ctx context.Context, c *registry.Contract) error {
	return func(ctx context.Context, c *registry.Contract) error {
		tip, err := e.broadcaster.TipHeight(ctx)
		if err != nil {
			return err
		}

		if tip < c.Arguments.SettlementHeight {
			return errors.NewTimingError("settlement height %d not reached, tip %d", c.Arguments.SettlementHeight, tip)
		}

		if _, err = oracle.Verify(att, c.Arguments.SettlementHeight, c.Arguments.OraclePublicKey); err != nil {
			return err
		}

		return nil
	}
}

// buildTermination is shared by the two maker termination variants; the
// variants differ only in which grantor token is surrendered and burned.
func (e *Engine) buildTermination(ctx context.Context, tx ledger.SpendTx, c *registry.Contract, tokenAsset model.AssetID) (*txPlan, error) {
	args := c.Arguments
	plan := &txPlan{}

	collateral, _, err := e.selectRole(ctx, tx, "collateral", ledger.Filter{
		AssetID:      args.CollateralAssetID,
		ScriptPubKey: c.ScriptPubKey,
		TargetValue:  args.PrincipalCollateralAmount,
	})
	if err != nil {
		return nil, err
	}

	plan.addInputs(collateral)

	token, _, err := e.selectRole(ctx, tx, "grantor token", ledger.Filter{
		AssetID:      tokenAsset,
		ScriptPubKey: e.walletScript(),
		TargetValue:  1,
	})
	if err != nil {
		return nil, err
	}

	plan.addInputs(token)

	plan.announceVout = plan.addOutput(&model.TxOut{
		Asset:        args.CollateralAssetID,
		Value:        args.PrincipalCollateralAmount,
		ScriptPubKey: e.walletScript(),
	}, true)

	plan.addOutput(&model.TxOut{
		Asset:        tokenAsset,
		Value:        1,
		ScriptPubKey: burnScript,
	}, false)

	if err = e.addCollateralAndChange(ctx, tx, plan, 0); err != nil {
		return nil, err
	}

	return plan, nil
}

// addCollateralAndChange selects wallet collateral covering extra plus
// the fee, and adds a change output for anything above. The fee is paid
// implicitly: inputs exceed outputs by the fee amount. Outputs the plan
// already spends are excluded from the selection itself so they never
// count towards the target.
func (e *Engine) addCollateralAndChange(ctx context.Context, reader ledger.Reader, plan *txPlan, extra uint64) error {
	needed := extra + e.feeAmount

	exclude := make([]model.Outpoint, 0, len(plan.entries))
	for _, entry := range plan.entries {
		exclude = append(exclude, entry.Outpoint)
	}

	entries, total, err := e.selectRole(ctx, reader, "fee", ledger.Filter{
		AssetID:      e.collateralAssetID,
		ScriptPubKey: e.walletScript(),
		TargetValue:  needed,
		Exclude:      exclude,
	})
	if err != nil {
		return err
	}

	plan.addInputs(entries)

	if change := total - needed; change > 0 {
		plan.addOutput(&model.TxOut{
			Asset:        e.collateralAssetID,
			Value:        change,
			ScriptPubKey: e.walletScript(),
		}, true)
	}

	return nil
}
