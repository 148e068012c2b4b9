package ledger

import (
	"fmt"
	"math/big"

	"brokerchain/core/types"
	"brokerchain/crypto"
)

const (
	EventTypeTransferred = "ledger.transferred"
	EventTypeBurnt       = "ledger.burnt"
)

// NewTransferredEvent describes a single applied balance delta. The amount is
// signed: debits carry a leading minus.
func NewTransferredEvent(c Change) *types.Event {
	return &types.Event{
		Type: EventTypeTransferred,
		Attributes: map[string]string{
			"address":    crypto.FormatAddress(c.Address),
			"asset":      c.Asset.String(),
			"assetKind":  c.Asset.Kind().String(),
			"amount":     cloneBigInt(c.Amount).String(),
			"reason":     fmt.Sprintf("0x%02x", byte(c.Reason)),
			"reasonName": c.Reason.String(),
		},
	}
}

// NewBurntEvent records value removed from circulation instead of being
// credited to the fee address.
func NewBurntEvent(from [20]byte, asset AssetID, amount *big.Int, reason Reason) *types.Event {
	return &types.Event{
		Type: EventTypeBurnt,
		Attributes: map[string]string{
			"from":       crypto.FormatAddress(from),
			"asset":      asset.String(),
			"amount":     cloneBigInt(amount).String(),
			"reason":     fmt.Sprintf("0x%02x", byte(reason)),
			"reasonName": reason.String(),
		},
	}
}
