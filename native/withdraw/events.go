package withdraw

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"brokerchain/core/types"
	"brokerchain/crypto"
	"brokerchain/native/ledger"
)

const (
	EventTypeWithdrawAnnounced   = "withdraw.announced"
	EventTypeWithdrawWithdrawing = "withdraw.withdrawing"
	EventTypeWithdrawWithdrawn   = "withdraw.withdrawn"
)

// NewAnnouncedEvent records a self-service withdrawal intent.
func NewAnnouncedEvent(a *Announcement) *types.Event {
	return &types.Event{
		Type: EventTypeWithdrawAnnounced,
		Attributes: map[string]string{
			"address":     crypto.FormatAddress(a.Address),
			"asset":       a.Asset.String(),
			"amount":      cloneBigInt(a.Amount).String(),
			"announcedAt": strconv.FormatUint(a.AnnouncedAt, 10),
		},
	}
}

// NewWithdrawingEvent reports a ledger debit for an outgoing transfer.
func NewWithdrawingEvent(id [32]byte, addr [20]byte, asset ledger.AssetID, amount *big.Int) *types.Event {
	return newTransferEvent(EventTypeWithdrawWithdrawing, id, addr, asset, amount)
}

// NewWithdrawnEvent reports a settled outgoing transfer.
func NewWithdrawnEvent(id [32]byte, addr [20]byte, asset ledger.AssetID, amount *big.Int) *types.Event {
	return newTransferEvent(EventTypeWithdrawWithdrawn, id, addr, asset, amount)
}

func newTransferEvent(evtType string, id [32]byte, addr [20]byte, asset ledger.AssetID, amount *big.Int) *types.Event {
	return &types.Event{
		Type: evtType,
		Attributes: map[string]string{
			"id":      hex.EncodeToString(id[:]),
			"address": crypto.FormatAddress(addr),
			"asset":   asset.String(),
			"amount":  cloneBigInt(amount).String(),
		},
	}
}
