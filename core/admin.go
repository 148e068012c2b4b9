package core

import (
	"context"

	coreerrors "brokerchain/core/errors"
	nativecommon "brokerchain/native/common"
	"brokerchain/native/params"
)

// ErrInvalidAddress is returned when a role address is empty.
var ErrInvalidAddress = coreerrors.NewDecline("core: address must not be empty")

// Initialize moves a pending broker to active, recording the fee collector
// and both coordinators. The announce delay starts at its maximum.
func (n *Node) Initialize(ctx context.Context, auth nativecommon.Authorizer, feeAddress, coordinator, withdrawCoordinator [20]byte) error {
	return n.Execute(ctx, "initialize", auth, func(op *Op) error {
		if err := nativecommon.RequireOwner(op.Auth, op.Settings); err != nil {
			return err
		}
		if !op.Settings.IsPending() {
			return nativecommon.ErrAlreadyInit
		}
		for _, addr := range [][20]byte{feeAddress, coordinator, withdrawCoordinator} {
			if addr == ([20]byte{}) {
				return ErrInvalidAddress
			}
		}
		next := op.Settings
		next.FeeAddress = feeAddress
		next.Coordinator = coordinator
		next.WithdrawCoordinator = withdrawCoordinator
		next.AnnounceDelay = params.MaxAnnounceDelay
		next.State = params.StateActive
		if err := op.Params.Put(next); err != nil {
			return err
		}
		op.Emit(params.NewInitializedEvent(next))
		return nil
	})
}

func (n *Node) setAddress(ctx context.Context, name, evtType string, auth nativecommon.Authorizer, addr [20]byte, apply func(*params.Settings)) error {
	return n.Execute(ctx, name, auth, func(op *Op) error {
		if err := nativecommon.RequireOwner(op.Auth, op.Settings); err != nil {
			return err
		}
		if addr == ([20]byte{}) {
			return ErrInvalidAddress
		}
		next := op.Settings
		apply(&next)
		if err := op.Params.Put(next); err != nil {
			return err
		}
		op.Emit(params.NewAddressSetEvent(evtType, addr))
		return nil
	})
}

// SetFeeAddress replaces the fee collection address.
func (n *Node) SetFeeAddress(ctx context.Context, auth nativecommon.Authorizer, addr [20]byte) error {
	return n.setAddress(ctx, "setFeeAddress", params.EventTypeFeeAddressSet, auth, addr, func(s *params.Settings) { s.FeeAddress = addr })
}

// SetCoordinator replaces the trading coordinator.
func (n *Node) SetCoordinator(ctx context.Context, auth nativecommon.Authorizer, addr [20]byte) error {
	return n.setAddress(ctx, "setCoordinatorAddress", params.EventTypeCoordinatorSet, auth, addr, func(s *params.Settings) { s.Coordinator = addr })
}

// SetWithdrawCoordinator replaces the withdraw coordinator.
func (n *Node) SetWithdrawCoordinator(ctx context.Context, auth nativecommon.Authorizer, addr [20]byte) error {
	return n.setAddress(ctx, "setWithdrawCoordinatorAddress", params.EventTypeWithdrawCoordinatorSet, auth, addr, func(s *params.Settings) { s.WithdrawCoordinator = addr })
}

// SetAnnounceDelay replaces the self-service timelock.
func (n *Node) SetAnnounceDelay(ctx context.Context, auth nativecommon.Authorizer, delay uint64) error {
	return n.Execute(ctx, "setAnnounceDelay", auth, func(op *Op) error {
		if err := nativecommon.RequireOwner(op.Auth, op.Settings); err != nil {
			return err
		}
		next := op.Settings
		next.AnnounceDelay = delay
		if err := op.Params.Put(next); err != nil {
			return err
		}
		op.Emit(params.NewAnnounceDelaySetEvent(delay))
		return nil
	})
}

// FreezeTrading halts trading. Owner and coordinator must both sign.
func (n *Node) FreezeTrading(ctx context.Context, auth nativecommon.Authorizer) error {
	return n.setTradingState(ctx, "freezeTrading", auth, params.StateInactive)
}

// UnfreezeTrading resumes trading. Owner and coordinator must both sign.
func (n *Node) UnfreezeTrading(ctx context.Context, auth nativecommon.Authorizer) error {
	return n.setTradingState(ctx, "unfreezeTrading", auth, params.StateActive)
}

func (n *Node) setTradingState(ctx context.Context, name string, auth nativecommon.Authorizer, target params.TradingState) error {
	return n.Execute(ctx, name, auth, func(op *Op) error {
		if err := nativecommon.RequireOwner(op.Auth, op.Settings); err != nil {
			return err
		}
		if !nativecommon.Signed(op.Auth, op.Settings.Coordinator) {
			return nativecommon.ErrMissingSignature
		}
		if err := nativecommon.RequireInitialized(op.Settings); err != nil {
			return err
		}
		next := op.Settings
		next.State = target
		if err := op.Params.Put(next); err != nil {
			return err
		}
		op.Emit(params.NewStateChangedEvent(target))
		return nil
	})
}
