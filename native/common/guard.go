package common

import (
	coreerrors "brokerchain/core/errors"
	"brokerchain/native/params"
)

var (
	ErrNotInitialized   = coreerrors.NewDecline("broker not initialized")
	ErrTradingInactive  = coreerrors.NewDecline("trading is not active")
	ErrAlreadyInit      = coreerrors.NewDecline("broker already initialized")
	ErrMissingSignature = coreerrors.NewDecline("missing required signature")
	ErrCoordinatorParty = coreerrors.NewDecline("coordinator cannot trade on its own behalf")
	ErrOwnerOnly        = coreerrors.NewDecline("owner signature required")
)

// Authorizer answers whether the current operation's authenticated caller set
// includes the signature of addr.
type Authorizer interface {
	IsAuthorizedBy(addr [20]byte) bool
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(addr [20]byte) bool

// IsAuthorizedBy implements Authorizer.
func (f AuthorizerFunc) IsAuthorizedBy(addr [20]byte) bool {
	if f == nil {
		return false
	}
	return f(addr)
}

// Signed reports whether auth carries the signature of addr. A nil oracle
// authorizes nobody.
func Signed(auth Authorizer, addr [20]byte) bool {
	return auth != nil && auth.IsAuthorizedBy(addr)
}

// RequireActive guards operations that open new exposure.
func RequireActive(s params.Settings) error {
	if !s.IsActive() {
		return ErrTradingInactive
	}
	return nil
}

// RequireInitialized guards operations that stay available while trading is
// frozen.
func RequireInitialized(s params.Settings) error {
	if s.IsPending() {
		return ErrNotInitialized
	}
	return nil
}

// RequireOwner checks that the owner signed the operation.
func RequireOwner(auth Authorizer, s params.Settings) error {
	if !Signed(auth, s.Owner) {
		return ErrOwnerOnly
	}
	return nil
}

// CheckTradeWitnesses enforces the dual-signature rule: the trader and the
// trading coordinator must both sign, and the trader may hold neither
// coordinating role.
func CheckTradeWitnesses(auth Authorizer, s params.Settings, trader [20]byte) error {
	if trader == s.Coordinator || trader == s.WithdrawCoordinator {
		return ErrCoordinatorParty
	}
	if !Signed(auth, trader) || !Signed(auth, s.Coordinator) {
		return ErrMissingSignature
	}
	return nil
}

// AnnouncementAged reports whether an announcement made at announcedAt has
// waited out delay at time now.
func AnnouncementAged(announcedAt uint64, now int64, delay uint64) bool {
	if now < 0 || uint64(now) < announcedAt {
		return false
	}
	return uint64(now)-announcedAt >= delay
}
