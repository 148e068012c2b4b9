package withdraw

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	coreerrors "brokerchain/core/errors"
	"brokerchain/core/events"
	"brokerchain/core/types"
	"brokerchain/native/common"
	"brokerchain/native/custody"
	"brokerchain/native/ledger"
	"brokerchain/native/params"
)

var (
	errNilState    = errors.New("withdraw engine: state not configured")
	errNilLedger   = errors.New("withdraw engine: ledger not configured")
	errNilGateways = errors.New("withdraw engine: token gateways not configured")

	ErrNonPositiveAmount   = coreerrors.NewDecline("withdraw: amount must be at least one")
	ErrInsufficientBalance = coreerrors.NewDecline("withdraw: insufficient balance")
	ErrNotAuthorized       = coreerrors.NewDecline("withdraw: not authorized")
	ErrUnknownStage        = coreerrors.NewDecline("withdraw: unknown stage")
	ErrMarkTokenAsset      = coreerrors.NewDecline("withdraw: token withdrawals settle in a single stage")
	ErrAlreadyReserved     = coreerrors.NewDecline("withdraw: transfer already reserved")
	ErrReservedInput       = coreerrors.NewDecline("withdraw: input is reserved by another withdrawal")
	ErrReservationMissing  = coreerrors.NewDecline("withdraw: reservation not found")
	ErrReservationMismatch = coreerrors.NewDecline("withdraw: reservation does not match request")
	ErrOutputMismatch      = coreerrors.NewDecline("withdraw: outputs do not match reservation")
	ErrTokenNotWhitelisted = coreerrors.NewDecline("withdraw: token not whitelisted")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

type tokenWhitelist interface {
	IsWhitelisted(token [20]byte) (bool, error)
}

// Engine drives the announce, mark and withdraw stages.
type Engine struct {
	state     engineState
	ledger    *ledger.Ledger
	gateways  custody.Resolver
	whitelist tokenWhitelist
	custody   [20]byte
	emitter   events.Emitter
	nowFn     func() int64
}

// NewEngine creates a withdrawal engine with a no-op emitter.
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

// SetGateways configures the resolver used to pay out token withdrawals.
func (e *Engine) SetGateways(r custody.Resolver) { e.gateways = r }

// SetWhitelist configures the token whitelist consulted before token payouts.
func (e *Engine) SetWhitelist(w tokenWhitelist) { e.whitelist = w }

// SetCustodyAddress configures the address token payouts are sent from.
func (e *Engine) SetCustodyAddress(addr [20]byte) { e.custody = addr }

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

// Announce records a self-service withdrawal intent, replacing any earlier
// announcement for the same address and asset.
func (e *Engine) Announce(auth common.Authorizer, settings params.Settings, addr [20]byte, asset ledger.AssetID, amount *big.Int) (*Announcement, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.RequireInitialized(settings); err != nil {
		return nil, err
	}
	if !common.Signed(auth, addr) {
		return nil, common.ErrMissingSignature
	}
	if asset.IsZero() {
		return nil, ledger.ErrInvalidAsset
	}
	if amount == nil || amount.Sign() < 1 {
		return nil, ErrNonPositiveAmount
	}
	ok, err := e.ledger.HasBalance(addr, asset, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientBalance
	}
	a := &Announcement{Address: addr, Asset: asset, AnnouncedAt: uint64(e.now()), Amount: cloneBigInt(amount)}
	if err := e.putAnnouncement(a); err != nil {
		return nil, err
	}
	e.emit(NewAnnouncedEvent(a))
	return a, nil
}

// authorize accepts the withdraw coordinator, or the owner together with an
// aged announcement of exactly amount. The returned announcement, if any,
// matches amount and is consumed by the caller.
func (e *Engine) authorize(auth common.Authorizer, settings params.Settings, addr [20]byte, asset ledger.AssetID, amount *big.Int) (*Announcement, error) {
	ann, exists, err := e.Announcement(addr, asset)
	if err != nil {
		return nil, err
	}
	matching := exists && ann.Amount.Cmp(amount) == 0
	if common.Signed(auth, settings.WithdrawCoordinator) {
		if matching {
			return ann, nil
		}
		return nil, nil
	}
	if common.Signed(auth, addr) && matching && common.AnnouncementAged(ann.AnnouncedAt, e.now(), settings.AnnounceDelay) {
		return ann, nil
	}
	return nil, ErrNotAuthorized
}

// Withdraw approves one stage of a pending external transfer.
func (e *Engine) Withdraw(ctx context.Context, auth common.Authorizer, settings params.Settings, req Request) (*Result, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.RequireInitialized(settings); err != nil {
		return nil, err
	}
	if req.Asset.IsZero() {
		return nil, ledger.ErrInvalidAsset
	}
	switch req.Stage {
	case StageMark:
		if !req.Asset.IsNative() {
			return nil, ErrMarkTokenAsset
		}
		return e.mark(auth, settings, req)
	case StageWithdraw:
		if req.Asset.IsNative() {
			return e.settleNative(req)
		}
		return e.settleToken(ctx, auth, settings, req)
	default:
		return nil, ErrUnknownStage
	}
}

func (e *Engine) mark(auth common.Authorizer, settings params.Settings, req Request) (*Result, error) {
	if req.Amount == nil || req.Amount.Sign() < 1 {
		return nil, ErrNonPositiveAmount
	}
	if _, reserved, err := e.Reservation(req.ID); err != nil {
		return nil, err
	} else if reserved {
		return nil, ErrAlreadyReserved
	}
	for _, input := range req.Inputs {
		if _, reserved, err := e.Reservation(input); err != nil {
			return nil, err
		} else if reserved {
			return nil, ErrReservedInput
		}
	}
	ann, err := e.authorize(auth, settings, req.Address, req.Asset, req.Amount)
	if err != nil {
		return nil, err
	}
	ok, err := e.ledger.HasBalance(req.Address, req.Asset, req.Amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientBalance
	}

	changes := ledger.NewBalanceChanges()
	changes.Reduce(req.Address, req.Asset, req.Amount, ledger.ReasonWithdrawal)
	if err := e.ledger.Execute(changes); err != nil {
		return nil, err
	}
	if ann != nil {
		if err := e.deleteAnnouncement(req.Address, req.Asset); err != nil {
			return nil, err
		}
	}
	if err := e.putReservation(&Reservation{ID: req.ID, Address: req.Address, Asset: req.Asset, Amount: req.Amount}); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawingEvent(req.ID, req.Address, req.Asset, req.Amount))
	return &Result{Stage: StageMark, Address: req.Address, Asset: req.Asset, Amount: cloneBigInt(req.Amount)}, nil
}

// settleNative releases a reservation once the settlement layer presents the
// transfer that spends it. No signature is needed: the reservation itself
// carries the authorization granted at mark time.
func (e *Engine) settleNative(req Request) (*Result, error) {
	if len(req.Inputs) == 0 {
		return nil, ErrReservationMissing
	}
	res, ok, err := e.Reservation(req.Inputs[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReservationMissing
	}
	if res.Address != req.Address || res.Asset != req.Asset {
		return nil, ErrReservationMismatch
	}
	for _, input := range req.Inputs[1:] {
		if _, reserved, err := e.Reservation(input); err != nil {
			return nil, err
		} else if reserved {
			return nil, ErrReservedInput
		}
	}
	paid := big.NewInt(0)
	for _, out := range req.Outputs {
		if out.Address == res.Address && out.Asset == res.Asset && out.Amount != nil {
			paid.Add(paid, out.Amount)
		}
	}
	if paid.Cmp(res.Amount) != 0 {
		return nil, ErrOutputMismatch
	}
	if err := e.deleteReservation(res.ID); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawnEvent(req.ID, res.Address, res.Asset, res.Amount))
	return &Result{Stage: StageWithdraw, Address: res.Address, Asset: res.Asset, Amount: cloneBigInt(res.Amount)}, nil
}

// settleToken debits the ledger and pays the owner out of custody in one
// step. A failed payout is fatal so the debit never persists without it.
func (e *Engine) settleToken(ctx context.Context, auth common.Authorizer, settings params.Settings, req Request) (*Result, error) {
	if req.Amount == nil || req.Amount.Sign() < 1 {
		return nil, ErrNonPositiveAmount
	}
	if e.gateways == nil {
		return nil, errNilGateways
	}
	ok, err := e.ledger.HasBalance(req.Address, req.Asset, req.Amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientBalance
	}
	ann, err := e.authorize(auth, settings, req.Address, req.Asset, req.Amount)
	if err != nil {
		return nil, err
	}
	token, _ := req.Asset.Token()
	if e.whitelist != nil {
		listed, err := e.whitelist.IsWhitelisted(token)
		if err != nil {
			return nil, err
		}
		if !listed {
			return nil, ErrTokenNotWhitelisted
		}
	}
	gw, token, err := e.gateways.Resolve(req.Asset)
	if err != nil {
		return nil, err
	}

	changes := ledger.NewBalanceChanges()
	changes.Reduce(req.Address, req.Asset, req.Amount, ledger.ReasonWithdrawal)
	if err := e.ledger.Execute(changes); err != nil {
		return nil, err
	}
	if ann != nil {
		if err := e.deleteAnnouncement(req.Address, req.Asset); err != nil {
			return nil, err
		}
	}
	e.emit(NewWithdrawingEvent(req.ID, req.Address, req.Asset, req.Amount))
	if err := gw.Transfer(ctx, token, e.custody, req.Address, req.Amount); err != nil {
		return nil, coreerrors.Fatal(fmt.Errorf("withdraw: token payout: %w", err))
	}
	e.emit(NewWithdrawnEvent(req.ID, req.Address, req.Asset, req.Amount))
	return &Result{Stage: StageWithdraw, Address: req.Address, Asset: req.Asset, Amount: cloneBigInt(req.Amount)}, nil
}
