package core

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	coreerrors "brokerchain/core/errors"
	"brokerchain/crypto"
	"brokerchain/native/ledger"
	"brokerchain/native/spend"
)

// ErrBadArguments is returned when a call's arguments fail arity or type
// checks.
var ErrBadArguments = coreerrors.NewDecline("core: bad arguments")

// args decodes positional JSON arguments. The first failure sticks; later
// accessors return zero values.
type args struct {
	raw []json.RawMessage
	err error
}

func (a *args) fail(i int, format string, v ...any) {
	if a.err == nil {
		a.err = fmt.Errorf("%w: argument %d: %s", ErrBadArguments, i, fmt.Sprintf(format, v...))
	}
}

func (a *args) decode(i int, out any) bool {
	if a.err != nil {
		return false
	}
	if i >= len(a.raw) {
		a.fail(i, "missing")
		return false
	}
	if err := json.Unmarshal(a.raw[i], out); err != nil {
		a.fail(i, "%v", err)
		return false
	}
	return true
}

func (a *args) str(i int) string {
	var s string
	a.decode(i, &s)
	return strings.TrimSpace(s)
}

func (a *args) address(i int) [20]byte {
	s := a.str(i)
	if a.err != nil {
		return [20]byte{}
	}
	addr, err := crypto.ParseAddress(s)
	if err != nil {
		a.fail(i, "%v", err)
	}
	return addr
}

func (a *args) asset(i int) ledger.AssetID {
	s := a.str(i)
	if a.err != nil {
		return ledger.AssetID{}
	}
	asset, err := ledger.ParseAssetHex(s)
	if err != nil {
		a.fail(i, "%v", err)
	}
	return asset
}

func (a *args) assets(i int) []ledger.AssetID {
	var list []string
	if !a.decode(i, &list) {
		return nil
	}
	out := make([]ledger.AssetID, 0, len(list))
	for _, s := range list {
		asset, err := ledger.ParseAssetHex(strings.TrimSpace(s))
		if err != nil {
			a.fail(i, "%v", err)
			return nil
		}
		out = append(out, asset)
	}
	return out
}

// amount accepts a decimal string or a JSON integer. Negative values pass
// through so the engines can decline them.
func (a *args) amount(i int) *big.Int {
	var n json.Number
	if !a.decode(i, &n) {
		return nil
	}
	return a.parseAmount(i, n.String())
}

func (a *args) parseAmount(i int, s string) *big.Int {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		a.fail(i, "invalid integer %q", s)
		return nil
	}
	return v
}

func (a *args) amounts(i int) []*big.Int {
	var list []json.Number
	if !a.decode(i, &list) {
		return nil
	}
	out := make([]*big.Int, 0, len(list))
	for _, n := range list {
		v := a.parseAmount(i, n.String())
		if v == nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}

func (a *args) bytes(i int) []byte {
	s := a.str(i)
	if a.err != nil {
		return nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		a.fail(i, "invalid hex: %v", err)
	}
	return b
}

func (a *args) hash(i int) [32]byte {
	var out [32]byte
	b := a.bytes(i)
	if a.err != nil {
		return out
	}
	if len(b) != len(out) {
		a.fail(i, "hash must be 32 bytes, got %d", len(b))
		return out
	}
	copy(out[:], b)
	return out
}

func (a *args) boolean(i int) bool {
	var v bool
	a.decode(i, &v)
	return v
}

func (a *args) uint(i int) uint64 {
	var n json.Number
	if !a.decode(i, &n) {
		return 0
	}
	v, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		a.fail(i, "%v", err)
	}
	return v
}

func (a *args) reason(i int) ledger.Reason {
	v := a.uint(i)
	if a.err == nil && v > 0xff {
		a.fail(i, "reason %d out of range", v)
	}
	return ledger.Reason(v)
}

func (a *args) track(i int) spend.Track {
	if a.err != nil {
		return 0
	}
	if i >= len(a.raw) {
		a.fail(i, "missing")
		return 0
	}
	var name string
	if raw := bytes.TrimSpace(a.raw[i]); len(raw) > 0 && raw[0] == '"' {
		name = a.str(i)
	} else {
		name = strconv.FormatUint(a.uint(i), 10)
	}
	if a.err != nil {
		return 0
	}
	t, err := spend.ParseTrack(name)
	if err != nil {
		a.fail(i, "%v", err)
	}
	return t
}
