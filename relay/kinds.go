package relay

// Event kinds.
const (
	KindContractCreated uint16 = 9910
	KindSwapCreated     uint16 = 9911
	KindActionCompleted uint16 = 9912
)

// Tag names.
const (
	TagContractArgs = "contract_args"
	TagContractUtxo = "contract_utxo"
	TagSwapTerms    = "swap_terms"
	TagSwapUtxo     = "swap_utxo"
	TagTaprootGen   = "t"
	TagEvent        = "e"
	TagAction       = "action"
	TagOutpoint     = "outpoint"
)

// ActionType names the contract action an ActionCompleted event reports.
type ActionType string

const (
	ActionContractCreated   ActionType = "contract_created"
	ActionMakerFunded       ActionType = "maker_funded"
	ActionTakerFunded       ActionType = "taker_funded"
	ActionContractExercised ActionType = "contract_exercised"
	ActionContractCancelled ActionType = "contract_cancelled"
	ActionSettlementClaimed ActionType = "settlement_claimed"
	ActionContractExpired   ActionType = "contract_expired"
	ActionTokensMerged      ActionType = "tokens_merged"
)

func ParseActionType(s string) (ActionType, bool) {
	switch ActionType(s) {
	case ActionContractCreated, ActionMakerFunded, ActionTakerFunded,
		ActionContractExercised, ActionContractCancelled,
		ActionSettlementClaimed, ActionContractExpired, ActionTokensMerged:
		return ActionType(s), true
	default:
		return "", false
	}
}
