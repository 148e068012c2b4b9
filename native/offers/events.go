package offers

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"

	"brokerchain/core/types"
	"brokerchain/crypto"
)

const (
	EventTypeOfferCreated         = "offer.created"
	EventTypeOfferFilled          = "offer.filled"
	EventTypeOfferFailed          = "offer.failed"
	EventTypeOfferCancelAnnounced = "offer.cancel_announced"
	EventTypeOfferCancelled       = "offer.cancelled"
)

// NewCreatedEvent returns the canonical payload for a newly created offer.
func NewCreatedEvent(o *Offer) *types.Event {
	return &types.Event{
		Type: EventTypeOfferCreated,
		Attributes: map[string]string{
			"hash":           hex.EncodeToString(o.Hash[:]),
			"maker":          crypto.FormatAddress(o.Maker),
			"offerAsset":     o.OfferAsset.String(),
			"offerAmount":    cloneBigInt(o.OfferAmount).String(),
			"wantAsset":      o.WantAsset.String(),
			"wantAmount":     cloneBigInt(o.WantAmount).String(),
			"makerFeeAsset":  o.MakerFeeAsset.String(),
			"makerFeeEscrow": cloneBigInt(o.MakerFeeAvailable).String(),
			"nonce":          hex.EncodeToString(o.Nonce),
		},
	}
}

// NewFilledEvent carries both the amount paid by the filler and the amount
// taken from the offer.
func NewFilledEvent(filler [20]byte, o *Offer, fillAmount, takeAmount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeOfferFilled,
		Attributes: map[string]string{
			"hash":        hex.EncodeToString(o.Hash[:]),
			"filler":      crypto.FormatAddress(filler),
			"fillAmount":  cloneBigInt(fillAmount).String(),
			"offerAsset":  o.OfferAsset.String(),
			"offerAmount": cloneBigInt(o.OfferAmount).String(),
			"wantAsset":   o.WantAsset.String(),
			"wantAmount":  cloneBigInt(o.WantAmount).String(),
			"takeAmount":  cloneBigInt(takeAmount).String(),
		},
	}
}

// NewFailedEvent reports a fill declined by a business check.
func NewFailedEvent(filler [20]byte, hash [32]byte, reason FailReason) *types.Event {
	return &types.Event{
		Type: EventTypeOfferFailed,
		Attributes: map[string]string{
			"hash":       hex.EncodeToString(hash[:]),
			"filler":     crypto.FormatAddress(filler),
			"reason":     fmt.Sprintf("0x%02x", byte(reason)),
			"reasonName": reason.String(),
		},
	}
}

// NewCancelAnnouncedEvent records the start of a maker's self-service cancel.
func NewCancelAnnouncedEvent(o *Offer, at uint64) *types.Event {
	return &types.Event{
		Type: EventTypeOfferCancelAnnounced,
		Attributes: map[string]string{
			"hash":        hex.EncodeToString(o.Hash[:]),
			"maker":       crypto.FormatAddress(o.Maker),
			"announcedAt": strconv.FormatUint(at, 10),
		},
	}
}

// NewCancelledEvent reports a removed offer and the amount returned.
func NewCancelledEvent(o *Offer) *types.Event {
	return &types.Event{
		Type: EventTypeOfferCancelled,
		Attributes: map[string]string{
			"hash":     hex.EncodeToString(o.Hash[:]),
			"maker":    crypto.FormatAddress(o.Maker),
			"refunded": cloneBigInt(o.Available).String(),
		},
	}
}
