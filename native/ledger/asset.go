package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"

	coreerrors "brokerchain/core/errors"
)

// AssetKind distinguishes the two asset categories custodied by the broker.
type AssetKind uint8

const (
	// AssetToken is a contract-style token identified by a 20-byte id and
	// moved through a TokenTransferGateway.
	AssetToken AssetKind = iota + 1
	// AssetNative is a settlement-layer native asset identified by a 32-byte
	// id and moved by the settlement layer itself.
	AssetNative
)

const (
	TokenIDLength  = 20
	NativeIDLength = 32
)

// ErrInvalidAsset is returned when an asset identifier has neither a token nor
// a native length.
var ErrInvalidAsset = coreerrors.NewDecline("ledger: asset id must be 20 (token) or 32 (native) bytes")

func (k AssetKind) String() string {
	switch k {
	case AssetToken:
		return "token"
	case AssetNative:
		return "native"
	default:
		return "unknown"
	}
}

// AssetID is a tagged asset identifier. The category is fixed when the id is
// parsed so downstream code never re-infers it from the byte length. AssetID
// is comparable and can be used as a map key.
type AssetID struct {
	kind AssetKind
	raw  string
}

// TokenAsset builds a token-category asset id.
func TokenAsset(id [TokenIDLength]byte) AssetID {
	return AssetID{kind: AssetToken, raw: string(id[:])}
}

// NativeAsset builds a native-category asset id.
func NativeAsset(id [NativeIDLength]byte) AssetID {
	return AssetID{kind: AssetNative, raw: string(id[:])}
}

// ParseAssetID validates raw bytes and returns the tagged identifier.
func ParseAssetID(b []byte) (AssetID, error) {
	switch len(b) {
	case TokenIDLength:
		return AssetID{kind: AssetToken, raw: string(b)}, nil
	case NativeIDLength:
		return AssetID{kind: AssetNative, raw: string(b)}, nil
	default:
		return AssetID{}, ErrInvalidAsset
	}
}

// ParseAssetHex decodes a hex string (optionally 0x prefixed) into an asset id.
func ParseAssetHex(s string) (AssetID, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return AssetID{}, coreerrors.Declinef("ledger: asset id %q is not hex", s)
	}
	return ParseAssetID(raw)
}

// MustAsset is ParseAssetID for static inputs. It panics on malformed ids.
func MustAsset(b []byte) AssetID {
	id, err := ParseAssetID(b)
	if err != nil {
		panic(fmt.Sprintf("ledger: %v", err))
	}
	return id
}

func (a AssetID) Kind() AssetKind { return a.kind }
func (a AssetID) IsToken() bool   { return a.kind == AssetToken }
func (a AssetID) IsNative() bool  { return a.kind == AssetNative }
func (a AssetID) IsZero() bool    { return a.kind == 0 }

// Bytes returns a copy of the raw identifier.
func (a AssetID) Bytes() []byte { return []byte(a.raw) }

// Token returns the 20-byte token id. The boolean is false for native assets.
func (a AssetID) Token() ([TokenIDLength]byte, bool) {
	var out [TokenIDLength]byte
	if a.kind != AssetToken {
		return out, false
	}
	copy(out[:], a.raw)
	return out, true
}

func (a AssetID) String() string {
	return hex.EncodeToString([]byte(a.raw))
}
