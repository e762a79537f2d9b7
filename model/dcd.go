package model

import (
	"encoding/json"

	"github.com/t1plarnd/simplicity-dex/errors"
)

// DCDArguments are the instantiation parameters of a derivative-contract
// deposit. They are fixed at maker init, serialized into the contract
// registry and announced verbatim in the ContractCreated relay event, so
// any party can re-derive the contract's commitment from them.
type DCDArguments struct {
	// Funding window and deadlines, unix seconds.
	TakerFundingStartTime   uint32 `json:"taker_funding_start_time"`
	TakerFundingEndTime     uint32 `json:"taker_funding_end_time"`
	ContractExpiryTime      uint32 `json:"contract_expiry_time"`
	EarlyTerminationEndTime uint32 `json:"early_termination_end_time"`

	// SettlementHeight is the chain height the oracle must attest to.
	SettlementHeight uint32 `json:"settlement_height"`

	PrincipalCollateralAmount    uint64 `json:"principal_collateral_amount"`
	IncentiveBasisPoints         uint64 `json:"incentive_basis_points"`
	FillerPerPrincipalCollateral uint64 `json:"filler_per_principal_collateral"`
	StrikePrice                  uint64 `json:"strike_price"`

	CollateralAssetID      AssetID `json:"collateral_asset_id"`
	SettlementAssetEntropy Entropy `json:"settlement_asset_entropy"`

	// OraclePublicKey is the attestor's x-only public key, hex encoded.
	OraclePublicKey string `json:"oracle_public_key"`

	// Entropies of the three tokens minted at maker funding.
	FillerTokenEntropy            Entropy `json:"filler_token_entropy"`
	GrantorCollateralTokenEntropy Entropy `json:"grantor_collateral_token_entropy"`
	GrantorSettlementTokenEntropy Entropy `json:"grantor_settlement_token_entropy"`
}

func (a *DCDArguments) SettlementAssetID() AssetID {
	return AssetIDFromEntropy(a.SettlementAssetEntropy)
}

func (a *DCDArguments) FillerTokenAssetID() AssetID {
	return AssetIDFromEntropy(a.FillerTokenEntropy)
}

func (a *DCDArguments) GrantorCollateralTokenAssetID() AssetID {
	return AssetIDFromEntropy(a.GrantorCollateralTokenEntropy)
}

func (a *DCDArguments) GrantorSettlementTokenAssetID() AssetID {
	return AssetIDFromEntropy(a.GrantorSettlementTokenEntropy)
}

// TotalFillerTokens is the number of filler tokens minted at maker
// funding, one lot per principal collateral unit.
func (a *DCDArguments) TotalFillerTokens() uint64 {
	return a.PrincipalCollateralAmount * a.FillerPerPrincipalCollateral
}

// Validate rejects argument sets no contract could be instantiated from.
func (a *DCDArguments) Validate() error {
	if a.TakerFundingEndTime < a.TakerFundingStartTime {
		return errors.NewInvalidArgumentError("taker funding window ends (%d) before it starts (%d)", a.TakerFundingEndTime, a.TakerFundingStartTime)
	}

	if a.ContractExpiryTime < a.TakerFundingEndTime {
		return errors.NewInvalidArgumentError("contract expires (%d) before the funding window closes (%d)", a.ContractExpiryTime, a.TakerFundingEndTime)
	}

	if a.PrincipalCollateralAmount == 0 {
		return errors.NewInvalidArgumentError("principal collateral amount must be positive")
	}

	if a.StrikePrice == 0 {
		return errors.NewInvalidArgumentError("strike price must be positive")
	}

	if a.IncentiveBasisPoints > 10_000 {
		return errors.NewInvalidArgumentError("incentive basis points %d exceed 100%%", a.IncentiveBasisPoints)
	}

	if a.FillerPerPrincipalCollateral == 0 {
		return errors.NewInvalidArgumentError("filler per principal collateral must be positive")
	}

	if _, err := ParseXOnlyPubKey32Str(a.OraclePublicKey); err != nil {
		return errors.NewInvalidArgumentError("invalid oracle public key", err)
	}

	return nil
}

// Serialize produces the canonical byte form stored in the registry and
// carried in relay event tags.
func (a *DCDArguments) Serialize() ([]byte, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, errors.NewProcessingError("failed to serialize contract arguments", err)
	}

	return b, nil
}

func DeserializeDCDArguments(b []byte) (*DCDArguments, error) {
	args := &DCDArguments{}
	if err := json.Unmarshal(b, args); err != nil {
		return nil, errors.NewInvalidArgumentError("invalid contract arguments", err)
	}

	return args, nil
}
