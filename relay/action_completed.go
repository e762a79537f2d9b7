package relay

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/model"
)

// ActionCompletedEvent reports a completed lifecycle action against an
// earlier announcement, referencing the original event and the outpoint
// the action consumed or produced.
type ActionCompletedEvent struct {
	EventID   string
	PubKey    string
	CreatedAt int64

	OriginalEventID string
	Action          ActionType
	Outpoint        model.Outpoint
}

func BuildActionCompletedEvent(priv *secp256k1.PrivateKey, originalEventID string, action ActionType, outpoint model.Outpoint) (*Event, error) {
	e := &Event{Kind: KindActionCompleted}
	e.appendTag(TagEvent, originalEventID)
	e.appendTag(TagAction, string(action))
	e.appendTag(TagOutpoint, outpoint.String())

	if err := e.Sign(priv); err != nil {
		return nil, err
	}

	return e, nil
}

func ParseActionCompletedEvent(e *Event) (*ActionCompletedEvent, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	if e.Kind != KindActionCompleted {
		return nil, errors.NewMalformedEventError("unexpected kind %d, want %d", e.Kind, KindActionCompleted)
	}

	originalEventID, ok := e.Tag(TagEvent)
	if !ok {
		return nil, errors.NewMalformedEventError("missing %s tag", TagEvent)
	}

	actionStr, ok := e.Tag(TagAction)
	if !ok {
		return nil, errors.NewMalformedEventError("missing %s tag", TagAction)
	}

	action, ok := ParseActionType(actionStr)
	if !ok {
		return nil, errors.NewMalformedEventError("unknown action %q", actionStr)
	}

	outpointStr, ok := e.Tag(TagOutpoint)
	if !ok {
		return nil, errors.NewMalformedEventError("missing %s tag", TagOutpoint)
	}

	outpoint, err := model.ParseOutpoint(outpointStr)
	if err != nil {
		return nil, errors.NewMalformedEventError("invalid outpoint", err)
	}

	return &ActionCompletedEvent{
		EventID:         e.ID,
		PubKey:          e.PubKey,
		CreatedAt:       e.CreatedAt,
		OriginalEventID: originalEventID,
		Action:          action,
		Outpoint:        outpoint,
	}, nil
}
