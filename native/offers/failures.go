package offers

import (
	"fmt"

	coreerrors "brokerchain/core/errors"
)

// FailReason is the code carried by a failed-fill notification.
type FailReason byte

const (
	FailOfferNotExist              FailReason = 0x21
	FailTakingLessThanOne          FailReason = 0x22
	FailFillerSameAsMaker          FailReason = 0x23
	FailTakingMoreThanAvailable    FailReason = 0x24
	FailFillingLessThanOne         FailReason = 0x25
	FailNotEnoughBalanceOnFiller   FailReason = 0x26
	FailNotEnoughBalanceOnTakerFee FailReason = 0x27
	FailNotEnoughMakerFeeAvailable FailReason = 0x28
	FailFeeExceedsProceeds         FailReason = 0x29
)

var failReasonNames = map[FailReason]string{
	FailOfferNotExist:              "offer-not-exist",
	FailTakingLessThanOne:          "taking-less-than-one",
	FailFillerSameAsMaker:          "filler-same-as-maker",
	FailTakingMoreThanAvailable:    "taking-more-than-available",
	FailFillingLessThanOne:         "filling-less-than-one",
	FailNotEnoughBalanceOnFiller:   "not-enough-balance-on-filler",
	FailNotEnoughBalanceOnTakerFee: "not-enough-balance-on-taker-fee",
	FailNotEnoughMakerFeeAvailable: "not-enough-maker-fee-available",
	FailFeeExceedsProceeds:         "fee-exceeds-proceeds",
}

func (r FailReason) String() string {
	if name, ok := failReasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", byte(r))
}

// FillFailure is the declined outcome of a fill that failed a business check.
type FillFailure struct {
	Reason    FailReason
	OfferHash [32]byte
}

func (f *FillFailure) Error() string {
	return fmt.Sprintf("offers: fill declined: %s", f.Reason)
}

// Is reports whether target is the generic decline marker.
func (f *FillFailure) Is(target error) bool { return target == coreerrors.ErrDeclined }
