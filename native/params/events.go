package params

import (
	"strconv"

	"brokerchain/core/types"
	"brokerchain/crypto"
)

const (
	EventTypeInitialized            = "broker.initialized"
	EventTypeTradingFrozen          = "broker.trading_frozen"
	EventTypeTradingResumed         = "broker.trading_resumed"
	EventTypeFeeAddressSet          = "broker.fee_address_set"
	EventTypeCoordinatorSet         = "broker.coordinator_set"
	EventTypeWithdrawCoordinatorSet = "broker.withdraw_coordinator_set"
	EventTypeAnnounceDelaySet       = "broker.announce_delay_set"
)

// NewInitializedEvent describes the transition out of the pending state.
func NewInitializedEvent(s Settings) *types.Event {
	return &types.Event{
		Type: EventTypeInitialized,
		Attributes: map[string]string{
			"owner":               crypto.FormatAddress(s.Owner),
			"coordinator":         crypto.FormatAddress(s.Coordinator),
			"withdrawCoordinator": crypto.FormatAddress(s.WithdrawCoordinator),
			"feeAddress":          crypto.FormatAddress(s.FeeAddress),
			"announceDelay":       strconv.FormatUint(s.AnnounceDelay, 10),
		},
	}
}

// NewStateChangedEvent reports a freeze or resume.
func NewStateChangedEvent(s TradingState) *types.Event {
	evtType := EventTypeTradingResumed
	if s == StateInactive {
		evtType = EventTypeTradingFrozen
	}
	return &types.Event{Type: evtType, Attributes: map[string]string{"state": s.String()}}
}

// NewAddressSetEvent reports an updated role address.
func NewAddressSetEvent(evtType string, addr [20]byte) *types.Event {
	return &types.Event{Type: evtType, Attributes: map[string]string{"address": crypto.FormatAddress(addr)}}
}

// NewAnnounceDelaySetEvent reports an updated timelock.
func NewAnnounceDelaySetEvent(delay uint64) *types.Event {
	return &types.Event{
		Type:       EventTypeAnnounceDelaySet,
		Attributes: map[string]string{"announceDelay": strconv.FormatUint(delay, 10)},
	}
}
