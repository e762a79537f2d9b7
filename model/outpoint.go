package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/t1plarnd/simplicity-dex/errors"
)

// Outpoint identifies a transaction output by (txid, vout).
type Outpoint struct {
	TxID Hash
	Vout uint32
}

func NewOutpoint(txid Hash, vout uint32) Outpoint {
	return Outpoint{TxID: txid, Vout: vout}
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Vout)
}

func ParseOutpoint(s string) (Outpoint, error) {
	var o Outpoint

	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return o, errors.NewInvalidArgumentError("invalid outpoint %q: missing separator", s)
	}

	txid, err := NewHashFromStr(s[:idx])
	if err != nil {
		return o, errors.NewInvalidArgumentError("invalid outpoint %q", s, err)
	}

	vout, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return o, errors.NewInvalidArgumentError("invalid outpoint vout %q", s, err)
	}

	return Outpoint{TxID: txid, Vout: uint32(vout)}, nil
}
