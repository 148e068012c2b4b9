package swap

import (
	"crypto/sha256"
	"errors"
	"math/big"
	"time"

	coreerrors "brokerchain/core/errors"
	"brokerchain/core/events"
	"brokerchain/core/types"
	"brokerchain/native/common"
	"brokerchain/native/ledger"
	"brokerchain/native/params"
)

var (
	errNilState  = errors.New("swap engine: state not configured")
	errNilLedger = errors.New("swap engine: ledger not configured")

	ErrInvalidTaker        = coreerrors.NewDecline("swap: taker must be a distinct non-zero address")
	ErrEmptyHashLock       = coreerrors.NewDecline("swap: hash lock must not be empty")
	ErrNonPositiveAmount   = coreerrors.NewDecline("swap: amount must be at least one")
	ErrNegativeFee         = coreerrors.NewDecline("swap: fee must not be negative")
	ErrFeeExceedsAmount    = coreerrors.NewDecline("swap: fee exceeds locked amount")
	ErrExpiryPassed        = coreerrors.NewDecline("swap: expiry must be in the future")
	ErrSwapExists          = coreerrors.NewDecline("swap: hash lock already used")
	ErrInsufficientBalance = coreerrors.NewDecline("swap: insufficient balance")
	ErrSwapNotFound        = coreerrors.NewDecline("swap: swap not found")
	ErrSwapNotActive       = coreerrors.NewDecline("swap: swap not active")
	ErrHashMismatch        = coreerrors.NewDecline("swap: pre-image does not match hash lock")
	ErrNotExpired          = coreerrors.NewDecline("swap: swap has not expired")
	ErrInvalidCancelFee    = coreerrors.NewDecline("swap: cancel fee must be between zero and the locked fee")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Engine implements hash-time-locked swaps on top of the balance ledger.
type Engine struct {
	state   engineState
	ledger  *ledger.Ledger
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a swap engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the balance ledger.
func (e *Engine) SetLedger(l *ledger.Ledger) { e.ledger = l }

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

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

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
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

// HashLock derives the lock committed to by a pre-image.
func HashLock(preImage []byte) [32]byte {
	return sha256.Sum256(preImage)
}

// Create locks the maker's funds behind hash lock p.HashLock.
func (e *Engine) Create(auth common.Authorizer, settings params.Settings, p CreateParams) (*Swap, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.RequireActive(settings); err != nil {
		return nil, err
	}
	if p.Taker == ([20]byte{}) || p.Taker == p.Maker {
		return nil, ErrInvalidTaker
	}
	if p.HashLock == ([32]byte{}) {
		return nil, ErrEmptyHashLock
	}
	if p.Asset.IsZero() || p.FeeAsset.IsZero() {
		return nil, ledger.ErrInvalidAsset
	}
	if p.Amount == nil || p.Amount.Sign() < 1 {
		return nil, ErrNonPositiveAmount
	}
	fee := cloneBigInt(p.FeeAmount)
	if fee.Sign() < 0 {
		return nil, ErrNegativeFee
	}
	if p.ExpiresAt <= uint64(e.now()) {
		return nil, ErrExpiryPassed
	}
	if err := common.CheckTradeWitnesses(auth, settings, p.Maker); err != nil {
		return nil, err
	}
	if _, exists, err := e.Swap(p.HashLock); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrSwapExists
	}

	s := &Swap{
		HashLock:  p.HashLock,
		Maker:     p.Maker,
		Taker:     p.Taker,
		Asset:     p.Asset,
		Amount:    cloneBigInt(p.Amount),
		ExpiresAt: p.ExpiresAt,
		FeeAsset:  p.FeeAsset,
		FeeAmount: fee,
		BurnFee:   p.BurnFee,
		Active:    true,
	}
	if !s.FeeSeparate() && fee.Cmp(s.Amount) > 0 {
		return nil, ErrFeeExceedsAmount
	}

	changes := ledger.NewBalanceChanges()
	changes.Reduce(p.Maker, p.Asset, p.Amount, ledger.ReasonSwapMakerGive)
	if s.FeeSeparate() && fee.Sign() > 0 {
		changes.Reduce(p.Maker, p.FeeAsset, fee, ledger.ReasonSwapMakerFeeGive)
	}
	balances, err := e.ledger.Balances(p.Maker)
	if err != nil {
		return nil, err
	}
	for _, asset := range []ledger.AssetID{p.Asset, p.FeeAsset} {
		need := new(big.Int).Neg(changes.Net(p.Maker, asset))
		if balances.Get(asset).Cmp(need) < 0 {
			return nil, ErrInsufficientBalance
		}
	}
	if err := e.ledger.Execute(changes); err != nil {
		return nil, err
	}
	if err := e.putSwap(s); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(s))
	return s.Clone(), nil
}

func (e *Engine) activeSwap(hash [32]byte) (*Swap, error) {
	s, ok, err := e.Swap(hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSwapNotFound
	}
	if !s.Active {
		return nil, ErrSwapNotActive
	}
	return s, nil
}

// payFee sends fee to the fee address, or burns it on behalf of payer.
func payFee(changes *ledger.BalanceChanges, settings params.Settings, s *Swap, payer [20]byte, fee *big.Int, burn bool, reason ledger.Reason) *types.Event {
	if fee.Sign() <= 0 {
		return nil
	}
	if burn {
		return ledger.NewBurntEvent(payer, s.FeeAsset, fee, reason)
	}
	changes.Increase(settings.FeeAddress, s.FeeAsset, fee, reason)
	return nil
}

// Execute releases a swap to its taker. Anyone holding the pre-image may
// call it.
func (e *Engine) Execute(settings params.Settings, hash [32]byte, preImage []byte) (*Swap, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.RequireInitialized(settings); err != nil {
		return nil, err
	}
	s, err := e.activeSwap(hash)
	if err != nil {
		return nil, err
	}
	if HashLock(preImage) != s.HashLock {
		return nil, ErrHashMismatch
	}

	received := cloneBigInt(s.Amount)
	if !s.FeeSeparate() {
		received.Sub(received, s.FeeAmount)
	}
	changes := ledger.NewBalanceChanges()
	if received.Sign() > 0 {
		changes.Increase(s.Taker, s.Asset, received, ledger.ReasonSwapTakerReceive)
	}
	burn := payFee(changes, settings, s, s.Taker, s.FeeAmount, s.BurnFee, ledger.ReasonSwapFeeReceive)
	if err := e.ledger.Execute(changes); err != nil {
		return nil, err
	}
	s.Active = false
	if err := e.putSwap(s); err != nil {
		return nil, err
	}
	e.emit(burn)
	e.emit(NewExecutedEvent(s, preImage))
	return s.Clone(), nil
}

// Cancel returns an expired swap to its maker. cancelFee is kept from the
// locked fee and burnt when burnCancelFee is set; callers other than the
// coordinator forfeit the whole fee.
func (e *Engine) Cancel(auth common.Authorizer, settings params.Settings, hash [32]byte, cancelFee *big.Int, burnCancelFee bool) (*Swap, *big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	if err := common.RequireInitialized(settings); err != nil {
		return nil, nil, err
	}
	s, err := e.activeSwap(hash)
	if err != nil {
		return nil, nil, err
	}
	if uint64(e.now()) < s.ExpiresAt {
		return nil, nil, ErrNotExpired
	}
	kept := cloneBigInt(cancelFee)
	if kept.Sign() < 0 || kept.Cmp(s.FeeAmount) > 0 {
		return nil, nil, ErrInvalidCancelFee
	}
	if !common.Signed(auth, settings.Coordinator) {
		kept = cloneBigInt(s.FeeAmount)
	}

	changes := ledger.NewBalanceChanges()
	if s.FeeSeparate() {
		changes.Increase(s.Maker, s.Asset, s.Amount, ledger.ReasonSwapCancelMakerReceive)
		if refund := new(big.Int).Sub(s.FeeAmount, kept); refund.Sign() > 0 {
			changes.Increase(s.Maker, s.FeeAsset, refund, ledger.ReasonSwapCancelFeeRefundReceive)
		}
	} else if refund := new(big.Int).Sub(s.Amount, kept); refund.Sign() > 0 {
		changes.Increase(s.Maker, s.Asset, refund, ledger.ReasonSwapCancelMakerReceive)
	}
	burn := payFee(changes, settings, s, s.Maker, kept, burnCancelFee, ledger.ReasonSwapCancelFeeReceive)
	if err := e.ledger.Execute(changes); err != nil {
		return nil, nil, err
	}
	s.Active = false
	if err := e.putSwap(s); err != nil {
		return nil, nil, err
	}
	e.emit(burn)
	e.emit(NewCancelledEvent(s, kept))
	return s.Clone(), kept, nil
}
