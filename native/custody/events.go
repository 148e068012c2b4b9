package custody

import (
	"math/big"
	"strconv"

	"brokerchain/core/types"
	"brokerchain/crypto"
	"brokerchain/native/ledger"
)

const (
	EventTypeDeposited = "custody.deposited"
	EventTypeSwept     = "custody.swept"
)

// NewDepositedEvent reports value credited from outside the ledger.
func NewDepositedEvent(addr [20]byte, asset ledger.AssetID, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDeposited,
		Attributes: map[string]string{
			"address": crypto.FormatAddress(addr),
			"asset":   asset.String(),
			"amount":  cloneBigInt(amount).String(),
		},
	}
}

// NewSweptEvent summarises a dust sweep.
func NewSweptEvent(originator, counterparty [20]byte, combined ledger.AssetID, amount *big.Int, dust int) *types.Event {
	return &types.Event{
		Type: EventTypeSwept,
		Attributes: map[string]string{
			"originator":     crypto.FormatAddress(originator),
			"counterparty":   crypto.FormatAddress(counterparty),
			"combinedAsset":  combined.String(),
			"combinedAmount": cloneBigInt(amount).String(),
			"dustAssets":     strconv.Itoa(dust),
		},
	}
}
