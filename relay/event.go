// Package relay implements the signed event model contracts are
// announced and tracked through. Events follow the nostr wire shape: an
// author key, a timestamp, a numeric kind, string tags, free content,
// and a schnorr signature over a canonical digest of those fields. A
// parsed event is immutable; all validation happens up front in a fixed
// order so callers can rely on the error code to tell tampering apart
// from malformed input.
package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/keys"
)

// Event is the wire form of a relay event.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      uint16     `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Digest computes the canonical event digest: the SHA256 of the JSON
// array [0, pubkey, created_at, kind, tags, content]. The event id is
// the hex form of this digest.
func (e *Event) Digest() ([32]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}

	canonical, err := json.Marshal([]interface{}{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content})
	if err != nil {
		return [32]byte{}, errors.NewProcessingError("failed to encode canonical event form", err)
	}

	return sha256.Sum256(canonical), nil
}

// Sign fills in the author key, id and signature. CreatedAt is stamped
// if the caller left it zero.
func (e *Event) Sign(priv *secp256k1.PrivateKey) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}

	e.PubKey = hex.EncodeToString(keys.XOnlyPubKey(priv))

	digest, err := e.Digest()
	if err != nil {
		return err
	}

	e.ID = hex.EncodeToString(digest[:])

	sig, err := keys.SignSchnorr(priv, digest[:])
	if err != nil {
		return err
	}

	e.Sig = hex.EncodeToString(sig)

	return nil
}

// Validate checks the event in the canonical order: first that the id
// matches the recomputed digest (MalformedEvent), then that the
// signature verifies under the author key (InvalidSignature). Kind
// specific commitment checks come after, in the typed parsers.
func (e *Event) Validate() error {
	digest, err := e.Digest()
	if err != nil {
		return err
	}

	if e.ID != hex.EncodeToString(digest[:]) {
		return errors.NewMalformedEventError("event id does not match its canonical digest")
	}

	pubKey, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return errors.NewMalformedEventError("invalid author key hex", err)
	}

	sig, err := hex.DecodeString(e.Sig)
	if err != nil {
		return errors.NewMalformedEventError("invalid signature hex", err)
	}

	if err := keys.VerifySchnorr(pubKey, digest[:], sig); err != nil {
		return errors.NewInvalidSignatureError("event signature does not verify", err)
	}

	return nil
}

// Tag returns the first value of the first tag with the given name.
func (e *Event) Tag(name string) (string, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}

	return "", false
}

func (e *Event) appendTag(name string, values ...string) {
	e.Tags = append(e.Tags, append([]string{name}, values...))
}

func (e *Event) Serialize() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.NewProcessingError("failed to serialize event", err)
	}

	return b, nil
}

func DeserializeEvent(b []byte) (*Event, error) {
	e := &Event{}
	if err := json.Unmarshal(b, e); err != nil {
		return nil, errors.NewMalformedEventError("invalid event encoding", err)
	}

	return e, nil
}
