package params

import "fmt"

// TradingState is the global lifecycle of the broker.
type TradingState uint8

const (
	// StatePending accepts nothing but initialize.
	StatePending TradingState = iota
	// StateActive accepts every operation.
	StateActive
	// StateInactive freezes trading. Cancellations, withdrawals and owner
	// actions remain available.
	StateInactive
)

func (s TradingState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Settings is the configuration aggregate loaded once per operation and
// passed by value into every engine.
type Settings struct {
	Owner               [20]byte
	Coordinator         [20]byte
	WithdrawCoordinator [20]byte
	FeeAddress          [20]byte
	AnnounceDelay       uint64
	State               TradingState
}

// IsPending reports whether the broker still awaits initialization.
func (s Settings) IsPending() bool { return s.State == StatePending }

// IsActive reports whether trading is open.
func (s Settings) IsActive() bool { return s.State == StateActive }

// IsFrozen reports whether trading has been halted by the owner.
func (s Settings) IsFrozen() bool { return s.State == StateInactive }

// IsCoordinator reports whether addr is either coordinating authority.
func (s Settings) IsCoordinator(addr [20]byte) bool {
	return addr == s.Coordinator || addr == s.WithdrawCoordinator
}
