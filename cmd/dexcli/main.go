// dexcli drives derivative contracts from the command line: maker and
// taker funding, early terminations, oracle-gated settlement and token
// merges, against the local coin store and an in-process relay.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/keys"
	"github.com/t1plarnd/simplicity-dex/model"
	"github.com/t1plarnd/simplicity-dex/oracle"
	"github.com/t1plarnd/simplicity-dex/relay"
	"github.com/t1plarnd/simplicity-dex/services/lifecycle"
	"github.com/t1plarnd/simplicity-dex/settings"
	ledgersql "github.com/t1plarnd/simplicity-dex/stores/ledger/sql"
	registrysql "github.com/t1plarnd/simplicity-dex/stores/registry/sql"
	"github.com/t1plarnd/simplicity-dex/ulogger"
)

var logger = ulogger.New("dexcli")

func main() {
	app := &cli.App{
		Name:  "dexcli",
		Usage: "derivative contract lifecycle operations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "seed",
				Usage:    "wallet seed, hex",
				EnvVars:  []string{"DEX_SEED"},
				Required: true,
			},
			&cli.Uint64Flag{
				Name:  "chain-height",
				Usage: "current chain tip height",
			},
		},
		Commands: []*cli.Command{
			makerInitCommand(),
			makerFundCommand(),
			takerFundCommand(),
			terminationCommand("maker-termination-collateral", "return the maker collateral, burning the grantor collateral token",
				func(ctx context.Context, engine *lifecycle.Engine, eventID string) (*lifecycle.ActionResult, error) {
					return engine.MakerTerminationCollateral(ctx, eventID)
				}),
			terminationCommand("maker-termination-settlement", "return the maker collateral, burning the grantor settlement token",
				func(ctx context.Context, engine *lifecycle.Engine, eventID string) (*lifecycle.ActionResult, error) {
					return engine.MakerTerminationSettlement(ctx, eventID)
				}),
			terminationCommand("taker-termination-early", "unwind the taker position, burning the filler tokens",
				func(ctx context.Context, engine *lifecycle.Engine, eventID string) (*lifecycle.ActionResult, error) {
					return engine.TakerTerminationEarly(ctx, eventID)
				}),
			settlementCommand("maker-settlement", "settle as maker at the attested price",
				func(ctx context.Context, engine *lifecycle.Engine, eventID string, att *oracle.Attestation) (*lifecycle.ActionResult, error) {
					return engine.MakerSettlement(ctx, eventID, att)
				}),
			settlementCommand("taker-settlement", "settle as taker at the attested price",
				func(ctx context.Context, engine *lifecycle.Engine, eventID string, att *oracle.Attestation) (*lifecycle.ActionResult, error) {
					return engine.TakerSettlement(ctx, eventID, att)
				}),
			mergeTokensCommand(),
			oracleSignCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// runtime bundles everything a command needs against one coin store.
type runtime struct {
	engine   *lifecycle.Engine
	settings *settings.Settings
	closers  []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func newRuntime(c *cli.Context) (*runtime, error) {
	tSettings := settings.NewSettings()

	kctx, err := keys.NewKeyContext(c.String("seed"))
	if err != nil {
		return nil, err
	}

	ledgerStore, err := ledgersql.New(logger, tSettings.CoinStore.StoreURL, tSettings)
	if err != nil {
		return nil, err
	}

	registryStore, err := registrysql.New(logger, tSettings.CoinStore.StoreURL, tSettings)
	if err != nil {
		_ = ledgerStore.Close()
		return nil, err
	}

	relayStore := relay.NewMemoryStore(logger)
	broadcaster := lifecycle.NewMemoryBroadcaster(uint32(c.Uint64("chain-height")))

	engine, err := lifecycle.New(logger, tSettings, ledgerStore, registryStore, relayStore, broadcaster, kctx)
	if err != nil {
		_ = ledgerStore.Close()
		_ = registryStore.Close()

		return nil, err
	}

	return &runtime{
		engine:   engine,
		settings: tSettings,
		closers: []func(){
			func() { _ = ledgerStore.Close() },
			func() { _ = registryStore.Close() },
			engine.Close,
		},
	}, nil
}

func printResult(result *lifecycle.ActionResult) error {
	b, err := json.MarshalIndent(map[string]interface{}{
		"txid":     result.TxID.String(),
		"state":    result.State,
		"event_id": result.EventID,
		"outpoint": result.Outpoint.String(),
		"payoff":   result.Payoff,
	}, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(b))

	return nil
}

func contractFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "contract",
		Usage:    "contract reference: the ContractCreated event id",
		Required: true,
	}
}

func makerInitCommand() *cli.Command {
	return &cli.Command{
		Name:  "maker-init",
		Usage: "register a contract and announce it, reserving three issuance outputs",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "utxo",
				Usage:    "issuance seed outpoint txid:vout, exactly three",
				Required: true,
			},
			&cli.Uint64Flag{Name: "taker-funding-start-time", Required: true},
			&cli.Uint64Flag{Name: "taker-funding-end-time", Required: true},
			&cli.Uint64Flag{Name: "contract-expiry-time", Required: true},
			&cli.Uint64Flag{Name: "early-termination-end-time", Required: true},
			&cli.Uint64Flag{Name: "settlement-height", Required: true},
			&cli.Uint64Flag{Name: "principal-collateral-amount", Required: true},
			&cli.Uint64Flag{Name: "incentive-basis-points", Required: true},
			&cli.Uint64Flag{Name: "filler-per-principal-collateral", Required: true},
			&cli.Uint64Flag{Name: "strike-price", Required: true},
			&cli.StringFlag{Name: "settlement-asset-entropy", Usage: "hex", Required: true},
			&cli.StringFlag{Name: "oracle-pubkey", Usage: "x-only public key, hex", Required: true},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			seedStrs := c.StringSlice("utxo")
			if len(seedStrs) != 3 {
				return errors.NewInvalidArgumentError("maker-init needs exactly 3 issuance outpoints, got %d", len(seedStrs))
			}

			var seeds [3]model.Outpoint
			for i, s := range seedStrs {
				if seeds[i], err = model.ParseOutpoint(s); err != nil {
					return err
				}
			}

			entropyBytes, err := hex.DecodeString(c.String("settlement-asset-entropy"))
			if err != nil {
				return errors.NewInvalidArgumentError("invalid settlement asset entropy hex", err)
			}

			entropy, err := model.NewEntropyFromBytes(entropyBytes)
			if err != nil {
				return err
			}

			args := &model.DCDArguments{
				TakerFundingStartTime:        uint32(c.Uint64("taker-funding-start-time")),
				TakerFundingEndTime:          uint32(c.Uint64("taker-funding-end-time")),
				ContractExpiryTime:           uint32(c.Uint64("contract-expiry-time")),
				EarlyTerminationEndTime:      uint32(c.Uint64("early-termination-end-time")),
				SettlementHeight:             uint32(c.Uint64("settlement-height")),
				PrincipalCollateralAmount:    c.Uint64("principal-collateral-amount"),
				IncentiveBasisPoints:         c.Uint64("incentive-basis-points"),
				FillerPerPrincipalCollateral: c.Uint64("filler-per-principal-collateral"),
				StrikePrice:                  c.Uint64("strike-price"),
				SettlementAssetEntropy:       entropy,
				OraclePublicKey:              c.String("oracle-pubkey"),
			}

			result, err := rt.engine.MakerInit(c.Context, seeds, args)
			if err != nil {
				return err
			}

			return printResult(result)
		},
	}
}

func makerFundCommand() *cli.Command {
	return &cli.Command{
		Name:  "maker-fund",
		Usage: "post the maker collateral and mint the contract tokens",
		Flags: []cli.Flag{contractFlag()},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.engine.MakerFund(c.Context, c.String("contract"))
			if err != nil {
				return err
			}

			return printResult(result)
		},
	}
}

func takerFundCommand() *cli.Command {
	return &cli.Command{
		Name:  "taker-fund",
		Usage: "post the taker collateral and take the filler tokens",
		Flags: []cli.Flag{contractFlag()},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.engine.TakerFund(c.Context, c.String("contract"))
			if err != nil {
				return err
			}

			return printResult(result)
		},
	}
}

func terminationCommand(name, usage string, run func(ctx context.Context, engine *lifecycle.Engine, eventID string) (*lifecycle.ActionResult, error)) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{contractFlag()},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := run(c.Context, rt.engine, c.String("contract"))
			if err != nil {
				return err
			}

			return printResult(result)
		},
	}
}

func settlementCommand(name, usage string, run func(ctx context.Context, engine *lifecycle.Engine, eventID string, att *oracle.Attestation) (*lifecycle.ActionResult, error)) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{
			contractFlag(),
			&cli.Uint64Flag{
				Name:     "price-now",
				Usage:    "oracle-attested price",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "oracle-sig",
				Usage:    "schnorr signature over (settlement height, price), hex",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			contract, err := rt.engine.ResolveContract(c.Context, c.String("contract"))
			if err != nil {
				return err
			}

			sig, err := hex.DecodeString(c.String("oracle-sig"))
			if err != nil {
				return errors.NewInvalidArgumentError("invalid oracle signature hex", err)
			}

			att := &oracle.Attestation{
				SettlementHeight: contract.Arguments.SettlementHeight,
				Price:            c.Uint64("price-now"),
				Signature:        sig,
			}

			result, err := run(c.Context, rt.engine, c.String("contract"), att)
			if err != nil {
				return err
			}

			return printResult(result)
		},
	}
}

func mergeTokensCommand() *cli.Command {
	return &cli.Command{
		Name:  "merge-tokens",
		Usage: "consolidate 2 to 4 same-asset outputs into one",
		Flags: []cli.Flag{
			contractFlag(),
			&cli.StringSliceFlag{
				Name:     "utxo",
				Usage:    "outpoint txid:vout to merge, repeat 2 to 4 times",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			outpointStrs := c.StringSlice("utxo")
			outpoints := make([]model.Outpoint, len(outpointStrs))

			for i, s := range outpointStrs {
				if outpoints[i], err = model.ParseOutpoint(s); err != nil {
					return err
				}
			}

			result, err := rt.engine.MergeTokens(c.Context, c.String("contract"), outpoints)
			if err != nil {
				return err
			}

			return printResult(result)
		},
	}
}

// oracleSignCommand is for operators running their own oracle key: it
// signs an attestation for a height and price without touching stores.
func oracleSignCommand() *cli.Command {
	return &cli.Command{
		Name:  "oracle-sign",
		Usage: "produce an oracle attestation signature",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "height", Required: true},
			&cli.Uint64Flag{Name: "price", Required: true},
			&cli.Uint64Flag{
				Name:  "key-index",
				Usage: "account index of the oracle key within the seed",
			},
		},
		Action: func(c *cli.Context) error {
			kctx, err := keys.NewKeyContext(c.String("seed"))
			if err != nil {
				return err
			}

			att, err := oracle.Sign(kctx, uint32(c.Uint64("key-index")), uint32(c.Uint64("height")), c.Uint64("price"))
			if err != nil {
				return err
			}

			fmt.Println(hex.EncodeToString(att.Signature))

			return nil
		},
	}
}
