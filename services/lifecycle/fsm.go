package lifecycle

import (
	"github.com/looplab/fsm"
)

// Lifecycle states. The taproot commitment is the state key; the tag is
// persisted in the registry's contract_states table.
const (
	StateUninitialized                  = "UNINITIALIZED"
	StateInitialized                    = "INITIALIZED"
	StateMakerFunded                    = "MAKER_FUNDED"
	StateActive                         = "ACTIVE"
	StateEarlyTerminatedMakerCollateral = "EARLY_TERMINATED_MAKER_COLLATERAL"
	StateEarlyTerminatedMakerSettlement = "EARLY_TERMINATED_MAKER_SETTLEMENT"
	StateEarlyTerminatedTaker           = "EARLY_TERMINATED_TAKER"
	StateSettledMaker                   = "SETTLED_MAKER"
	StateSettledTaker                   = "SETTLED_TAKER"
)

// Lifecycle events, one per CLI-level action.
const (
	EventMakerInit                  = "maker_init"
	EventMakerFund                  = "maker_fund"
	EventTakerFund                  = "taker_fund"
	EventMakerTerminationCollateral = "maker_termination_collateral"
	EventMakerTerminationSettlement = "maker_termination_settlement"
	EventTakerTerminationEarly      = "taker_termination_early"
	EventMakerSettlement            = "maker_settlement"
	EventTakerSettlement            = "taker_settlement"
)

// NewLifecycleFSM creates the contract state machine positioned at the
// given state. Every action first asks the machine whether its edge is
// valid from here; a refusal surfaces as InvalidTransition before any
// transaction work starts.
func NewLifecycleFSM(current string, opts ...func(*fsm.FSM)) *fsm.FSM {
	finiteStateMachine := fsm.NewFSM(
		current,
		fsm.Events{
			{
				Name: EventMakerInit,
				Src: []string{
					StateUninitialized,
				},
				Dst: StateInitialized,
			},
			{
				Name: EventMakerFund,
				Src: []string{
					StateInitialized,
				},
				Dst: StateMakerFunded,
			},
			{
				Name: EventTakerFund,
				Src: []string{
					StateMakerFunded,
				},
				Dst: StateActive,
			},
			{
				Name: EventMakerTerminationCollateral,
				Src: []string{
					StateMakerFunded,
					StateActive,
				},
				Dst: StateEarlyTerminatedMakerCollateral,
			},
			{
				Name: EventMakerTerminationSettlement,
				Src: []string{
					StateMakerFunded,
					StateActive,
				},
				Dst: StateEarlyTerminatedMakerSettlement,
			},
			{
				Name: EventTakerTerminationEarly,
				Src: []string{
					StateActive,
				},
				Dst: StateEarlyTerminatedTaker,
			},
			{
				Name: EventMakerSettlement,
				Src: []string{
					StateActive,
				},
				Dst: StateSettledMaker,
			},
			{
				Name: EventTakerSettlement,
				Src: []string{
					StateActive,
				},
				Dst: StateSettledTaker,
			},
		},
		fsm.Callbacks{},
	)

	for _, opt := range opts {
		opt(finiteStateMachine)
	}

	return finiteStateMachine
}

// IsTerminal reports whether a state has no outgoing edges.
func IsTerminal(state string) bool {
	switch state {
	case StateEarlyTerminatedMakerCollateral,
		StateEarlyTerminatedMakerSettlement,
		StateEarlyTerminatedTaker,
		StateSettledMaker,
		StateSettledTaker:
		return true
	default:
		return false
	}
}
