package swap

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"brokerchain/core/types"
	"brokerchain/crypto"
)

const (
	EventTypeSwapCreated   = "swap.created"
	EventTypeSwapExecuted  = "swap.executed"
	EventTypeSwapCancelled = "swap.cancelled"
)

// NewCreatedEvent returns the canonical payload for a newly locked swap.
func NewCreatedEvent(s *Swap) *types.Event {
	return &types.Event{
		Type: EventTypeSwapCreated,
		Attributes: map[string]string{
			"hashLock":  hex.EncodeToString(s.HashLock[:]),
			"maker":     crypto.FormatAddress(s.Maker),
			"taker":     crypto.FormatAddress(s.Taker),
			"asset":     s.Asset.String(),
			"amount":    cloneBigInt(s.Amount).String(),
			"expiresAt": strconv.FormatUint(s.ExpiresAt, 10),
			"feeAsset":  s.FeeAsset.String(),
			"feeAmount": cloneBigInt(s.FeeAmount).String(),
			"burnFee":   strconv.FormatBool(s.BurnFee),
		},
	}
}

// NewExecutedEvent reports the pre-image that unlocked the swap.
func NewExecutedEvent(s *Swap, preImage []byte) *types.Event {
	return &types.Event{
		Type: EventTypeSwapExecuted,
		Attributes: map[string]string{
			"hashLock": hex.EncodeToString(s.HashLock[:]),
			"taker":    crypto.FormatAddress(s.Taker),
			"amount":   cloneBigInt(s.Amount).String(),
			"preImage": hex.EncodeToString(preImage),
		},
	}
}

// NewCancelledEvent reports an expired swap returned to its maker.
func NewCancelledEvent(s *Swap, cancelFee *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeSwapCancelled,
		Attributes: map[string]string{
			"hashLock":  hex.EncodeToString(s.HashLock[:]),
			"maker":     crypto.FormatAddress(s.Maker),
			"cancelFee": cloneBigInt(cancelFee).String(),
		},
	}
}
