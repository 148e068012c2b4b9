package ledger

import "fmt"

// Reason is the code attached to every balance change. Codes up to
// MaxReservedReason belong to the broker; delegated spends must use codes
// above it.
type Reason byte

const (
	ReasonDeposit         Reason = 0x01
	ReasonMakerGive       Reason = 0x02
	ReasonTakerGive       Reason = 0x03
	ReasonTakerFeeGive    Reason = 0x04
	ReasonTakerReceive    Reason = 0x05
	ReasonMakerReceive    Reason = 0x06
	ReasonTakerFeeReceive Reason = 0x07
	ReasonCancel          Reason = 0x08
	ReasonWithdrawal      Reason = 0x09

	ReasonMakerFeeGive             Reason = 0x10
	ReasonMakerFeeReceive          Reason = 0x11
	ReasonSweeperGive              Reason = 0x16
	ReasonSweepCounterpartyReceive Reason = 0x17
	ReasonSweepCounterpartyGive    Reason = 0x18
	ReasonSweeperReceive           Reason = 0x19
	ReasonMakerFeeRefund           Reason = 0x1A

	ReasonSwapMakerGive              Reason = 0x30
	ReasonSwapMakerFeeGive           Reason = 0x32
	ReasonSwapTakerReceive           Reason = 0x35
	ReasonSwapFeeReceive             Reason = 0x37
	ReasonSwapCancelMakerReceive     Reason = 0x38
	ReasonSwapCancelFeeReceive       Reason = 0x3B
	ReasonSwapCancelFeeRefundReceive Reason = 0x3D

	// MaxReservedReason is the highest code reserved for broker operations.
	// Fill failure codes (0x21..0x29) also fall inside the reserved range.
	MaxReservedReason Reason = 0x3D
)

var reasonNames = map[Reason]string{
	ReasonDeposit:                    "deposit",
	ReasonMakerGive:                  "maker-give",
	ReasonTakerGive:                  "taker-give",
	ReasonTakerFeeGive:               "taker-fee-give",
	ReasonTakerReceive:               "taker-receive",
	ReasonMakerReceive:               "maker-receive",
	ReasonTakerFeeReceive:            "taker-fee-receive",
	ReasonCancel:                     "cancel",
	ReasonWithdrawal:                 "withdrawal",
	ReasonMakerFeeGive:               "maker-fee-give",
	ReasonMakerFeeReceive:            "maker-fee-receive",
	ReasonSweeperGive:                "sweeper-give",
	ReasonSweepCounterpartyReceive:   "sweep-counterparty-receive",
	ReasonSweepCounterpartyGive:      "sweep-counterparty-give",
	ReasonSweeperReceive:             "sweeper-receive",
	ReasonMakerFeeRefund:             "maker-fee-refund",
	ReasonSwapMakerGive:              "swap-maker-give",
	ReasonSwapMakerFeeGive:           "swap-maker-fee-give",
	ReasonSwapTakerReceive:           "swap-taker-receive",
	ReasonSwapFeeReceive:             "swap-fee-receive",
	ReasonSwapCancelMakerReceive:     "swap-cancel-maker-receive",
	ReasonSwapCancelFeeReceive:       "swap-cancel-fee-receive",
	ReasonSwapCancelFeeRefundReceive: "swap-cancel-fee-refund",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", byte(r))
}

// Reserved reports whether the code belongs to the broker's reserved range.
func (r Reason) Reserved() bool {
	return r <= MaxReservedReason
}

// IsUserReason reports whether a caller-supplied code may be attached to a
// delegated spend: exactly one byte, above the reserved range.
func IsUserReason(code []byte) bool {
	return len(code) == 1 && !Reason(code[0]).Reserved()
}

// IsBurnReason reports whether code is acceptable for an explicit burn. Burns
// reuse the first block of reserved codes (deposit through withdrawal).
func IsBurnReason(code Reason) bool {
	return code >= ReasonDeposit && code <= ReasonWithdrawal
}
