package model

import (
	"encoding/json"
)

// The 32-byte types marshal as hex strings in JSON, both in relay event
// payloads and in the registry's serialized contract arguments.

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	parsed, err := NewHashFromStr(s)
	if err != nil {
		return err
	}

	*h = parsed

	return nil
}

func (a AssetID) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *AssetID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	parsed, err := NewAssetIDFromStr(s)
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}

func (e Entropy) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

func (e *Entropy) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	parsed, err := NewEntropyFromStr(s)
	if err != nil {
		return err
	}

	*e = parsed

	return nil
}

func (c CMR) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *CMR) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	h, err := NewHashFromStr(s)
	if err != nil {
		return err
	}

	*c = CMR(h)

	return nil
}
