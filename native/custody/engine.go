package custody

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	coreerrors "brokerchain/core/errors"
	"brokerchain/core/events"
	"brokerchain/core/types"
	"brokerchain/native/common"
	"brokerchain/native/ledger"
	"brokerchain/native/params"
)

var (
	errNilState    = errors.New("custody engine: state not configured")
	errNilLedger   = errors.New("custody engine: ledger not configured")
	errNilGateways = errors.New("custody engine: token gateways not configured")

	// ErrPullFailed aborts a deposit whose tokens could not be pulled into
	// custody. It is not a decline: the credit and its events are discarded.
	ErrPullFailed = errors.New("custody: deposit transfer failed")

	ErrNonPositiveAmount   = coreerrors.NewDecline("custody: amount must be at least one")
	ErrInsufficientBalance = coreerrors.NewDecline("custody: insufficient balance")
	ErrTokenAssetRequired  = coreerrors.NewDecline("custody: deposits through a gateway require a token asset")
	ErrNativeAssetRequired = coreerrors.NewDecline("custody: receipt must carry a native asset")
	ErrDuplicateReceipt    = coreerrors.NewDecline("custody: transfer already credited")
	ErrBrokerSender        = coreerrors.NewDecline("custody: transfers from broker addresses are not deposits")
	ErrBurnReason          = coreerrors.NewDecline("custody: burn reason must be between 1 and 9")
	ErrInvalidAddress      = coreerrors.NewDecline("custody: address must not be empty")
	ErrDustMismatch        = coreerrors.NewDecline("custody: dust assets and amounts differ in length")
	ErrDustIsCombined      = coreerrors.NewDecline("custody: dust asset equals combined asset")
)

// DepositMode selects the token call used to pull a deposit into custody.
type DepositMode uint8

const (
	// DepositTransfer has the originator push tokens with transfer.
	DepositTransfer DepositMode = iota
	// DepositTransferFrom spends a standard allowance granted to the broker.
	DepositTransferFrom
	// DepositTransferFromNonStandard spends an allowance on tokens whose
	// transferFrom omits the spender.
	DepositTransferFromNonStandard
)

func (m DepositMode) String() string {
	switch m {
	case DepositTransfer:
		return "transfer"
	case DepositTransferFrom:
		return "transferFrom"
	case DepositTransferFromNonStandard:
		return "transferFromNonStandard"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Engine moves value across the custody boundary: deposits in, burns out and
// dust sweeps between two ledger accounts.
type Engine struct {
	state    engineState
	ledger   *ledger.Ledger
	gateways Resolver
	custody  [20]byte
	emitter  events.Emitter
}

// NewEngine creates a custody engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the balance ledger.
func (e *Engine) SetLedger(l *ledger.Ledger) { e.ledger = l }

// SetGateways configures the resolver used to pull token deposits.
func (e *Engine) SetGateways(r Resolver) { e.gateways = r }

// SetCustodyAddress configures the address deposits are pulled into.
func (e *Engine) SetCustodyAddress(addr [20]byte) { e.custody = addr }

// CustodyAddress returns the configured custody address.
func (e *Engine) CustodyAddress() [20]byte { return e.custody }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Record{Evt: evt})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

// DepositParams describes a token deposit.
type DepositParams struct {
	Mode       DepositMode
	Originator [20]byte
	Asset      ledger.AssetID
	Amount     *big.Int
}

// Deposit credits the originator and pulls the tokens into custody through
// the gateway. The credit is applied first; a failed transfer returns
// ErrPullFailed and the caller discards the whole operation.
func (e *Engine) Deposit(ctx context.Context, auth common.Authorizer, settings params.Settings, p DepositParams) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.gateways == nil {
		return errNilGateways
	}
	if !p.Asset.IsToken() {
		return ErrTokenAssetRequired
	}
	if err := common.CheckTradeWitnesses(auth, settings, p.Originator); err != nil {
		return err
	}
	if err := common.RequireActive(settings); err != nil {
		return err
	}
	if p.Originator == ([20]byte{}) {
		return ErrInvalidAddress
	}
	if p.Amount == nil || p.Amount.Sign() < 1 {
		return ErrNonPositiveAmount
	}
	gw, token, err := e.gateways.Resolve(p.Asset)
	if err != nil {
		return err
	}

	if err := e.credit(p.Originator, p.Asset, p.Amount); err != nil {
		return err
	}

	switch p.Mode {
	case DepositTransfer:
		err = gw.Transfer(ctx, token, p.Originator, e.custody, p.Amount)
	case DepositTransferFrom:
		err = gw.TransferFrom(ctx, token, e.custody, p.Originator, e.custody, p.Amount)
	case DepositTransferFromNonStandard:
		err = gw.TransferFromNonStandard(ctx, token, p.Originator, e.custody, p.Amount)
	default:
		return coreerrors.Declinef("custody: unknown deposit mode %s", p.Mode)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPullFailed, p.Mode, err)
	}
	return nil
}

func (e *Engine) credit(addr [20]byte, asset ledger.AssetID, amount *big.Int) error {
	changes := ledger.NewBalanceChanges()
	changes.Increase(addr, asset, amount, ledger.ReasonDeposit)
	if err := e.ledger.Execute(changes); err != nil {
		return err
	}
	e.emit(NewDepositedEvent(addr, asset, amount))
	return nil
}

// NativeReceipt is a native-category transfer into custody observed by the
// settlement layer.
type NativeReceipt struct {
	TransferID [32]byte
	Sender     [20]byte
	Asset      ledger.AssetID
	Amount     *big.Int
}

// ReceiveNative credits the sender of a native transfer. Each transfer id is
// credited at most once, and transfers sent by custody or either coordinator
// are withdrawal traffic rather than deposits.
func (e *Engine) ReceiveNative(settings params.Settings, r NativeReceipt) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.RequireActive(settings); err != nil {
		return err
	}
	if !r.Asset.IsNative() {
		return ErrNativeAssetRequired
	}
	if r.Sender == ([20]byte{}) {
		return ErrInvalidAddress
	}
	if r.Sender == e.custody || settings.IsCoordinator(r.Sender) {
		return ErrBrokerSender
	}
	if r.Amount == nil || r.Amount.Sign() < 1 {
		return ErrNonPositiveAmount
	}
	seen, err := e.receiptSeen(r.TransferID)
	if err != nil {
		return err
	}
	if seen {
		return ErrDuplicateReceipt
	}
	if err := e.markReceipt(r.TransferID); err != nil {
		return err
	}
	return e.credit(r.Sender, r.Asset, r.Amount)
}

// BurnTokens removes amount from the ledger balance of addr.
func (e *Engine) BurnTokens(auth common.Authorizer, settings params.Settings, addr [20]byte, asset ledger.AssetID, amount *big.Int, reason ledger.Reason) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.RequireInitialized(settings); err != nil {
		return err
	}
	if err := common.CheckTradeWitnesses(auth, settings, addr); err != nil {
		return err
	}
	if !ledger.IsBurnReason(reason) {
		return ErrBurnReason
	}
	if asset.IsZero() {
		return ledger.ErrInvalidAsset
	}
	if amount == nil || amount.Sign() < 1 {
		return ErrNonPositiveAmount
	}
	ok, err := e.ledger.HasBalance(addr, asset, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientBalance
	}
	changes := ledger.NewBalanceChanges()
	changes.Reduce(addr, asset, amount, reason)
	if err := e.ledger.Execute(changes); err != nil {
		return err
	}
	e.emit(ledger.NewBurntEvent(addr, asset, amount, reason))
	return nil
}

// SweepParams describes a dust sweep: the originator hands several small
// balances to the counterparty in exchange for one combined amount.
type SweepParams struct {
	Originator     [20]byte
	Counterparty   [20]byte
	DustAssets     []ledger.AssetID
	DustAmounts    []*big.Int
	CombinedAsset  ledger.AssetID
	CombinedAmount *big.Int
}

// SweepDust swaps the originator's dust balances into a single asset. Sweeps
// carry no fee.
func (e *Engine) SweepDust(auth common.Authorizer, settings params.Settings, p SweepParams) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.RequireInitialized(settings); err != nil {
		return err
	}
	if err := common.CheckTradeWitnesses(auth, settings, p.Originator); err != nil {
		return err
	}
	if !common.Signed(auth, p.Counterparty) {
		return common.ErrMissingSignature
	}
	if p.Originator == ([20]byte{}) || p.Counterparty == ([20]byte{}) {
		return ErrInvalidAddress
	}
	if p.CombinedAsset.IsZero() {
		return ledger.ErrInvalidAsset
	}
	if len(p.DustAssets) != len(p.DustAmounts) {
		return ErrDustMismatch
	}

	changes := ledger.NewBalanceChanges()
	for i, asset := range p.DustAssets {
		amount := p.DustAmounts[i]
		if amount == nil || amount.Sign() < 1 {
			return ErrNonPositiveAmount
		}
		if asset.IsZero() {
			return ledger.ErrInvalidAsset
		}
		if asset == p.CombinedAsset {
			return ErrDustIsCombined
		}
		changes.Reduce(p.Originator, asset, amount, ledger.ReasonSweeperGive)
		changes.Increase(p.Counterparty, asset, amount, ledger.ReasonSweepCounterpartyReceive)
	}
	if p.CombinedAmount == nil || p.CombinedAmount.Sign() < 1 {
		return ErrNonPositiveAmount
	}
	changes.Reduce(p.Counterparty, p.CombinedAsset, p.CombinedAmount, ledger.ReasonSweepCounterpartyGive)
	changes.Increase(p.Originator, p.CombinedAsset, p.CombinedAmount, ledger.ReasonSweeperReceive)

	if err := e.requireFunds(changes); err != nil {
		return err
	}
	if err := e.ledger.Execute(changes); err != nil {
		return err
	}
	e.emit(NewSweptEvent(p.Originator, p.Counterparty, p.CombinedAsset, p.CombinedAmount, len(p.DustAssets)))
	return nil
}

// requireFunds declines when the batch would overdraw any touched balance.
func (e *Engine) requireFunds(changes *ledger.BalanceChanges) error {
	for _, addr := range changes.Addresses() {
		balances, err := e.ledger.Balances(addr)
		if err != nil {
			return err
		}
		seen := make(map[ledger.AssetID]bool)
		for _, c := range changes.Changes() {
			if c.Address != addr || seen[c.Asset] {
				continue
			}
			seen[c.Asset] = true
			after := new(big.Int).Add(balances.Get(c.Asset), changes.Net(addr, c.Asset))
			if after.Sign() < 0 {
				return ErrInsufficientBalance
			}
		}
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
