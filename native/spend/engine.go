package spend

import (
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
	errNilState  = errors.New("spend engine: state not configured")
	errNilLedger = errors.New("spend engine: ledger not configured")

	ErrUnknownTrack        = coreerrors.NewDecline("spend: unknown whitelist track")
	ErrTrackSealed         = coreerrors.NewDecline("spend: whitelist track is sealed")
	ErrTokenAssetRequired  = coreerrors.NewDecline("spend: only token assets can be whitelisted")
	ErrSpenderNotListed    = coreerrors.NewDecline("spend: spender is not whitelisted")
	ErrSpenderStillListed  = coreerrors.NewDecline("spend: spender is still whitelisted")
	ErrReservedReason      = coreerrors.NewDecline("spend: reason codes must be above the reserved range")
	ErrNotApproved         = coreerrors.NewDecline("spend: spender not approved")
	ErrNonPositiveAmount   = coreerrors.NewDecline("spend: amount must be at least one")
	ErrInsufficientBalance = coreerrors.NewDecline("spend: insufficient balance")
	ErrInvalidAddress      = coreerrors.NewDecline("spend: invalid address")
)

// Track is a generation of the token whitelist. Legacy and current tokens are
// tracked separately so either generation can be sealed on its own.
type Track uint8

const (
	TrackLegacy Track = iota
	TrackCurrent
)

// Tracks lists every whitelist generation.
var Tracks = []Track{TrackLegacy, TrackCurrent}

func (t Track) String() string {
	switch t {
	case TrackLegacy:
		return "legacy"
	case TrackCurrent:
		return "current"
	default:
		return fmt.Sprintf("track(%d)", uint8(t))
	}
}

// ParseTrack maps a track name to its value.
func ParseTrack(s string) (Track, error) {
	switch s {
	case "legacy", "0":
		return TrackLegacy, nil
	case "current", "1":
		return TrackCurrent, nil
	default:
		return 0, ErrUnknownTrack
	}
}

func (t Track) valid() bool { return t == TrackLegacy || t == TrackCurrent }

var (
	whitelistPrefix = []byte("whitelist/")
	sealedPrefix    = []byte("whitelistSealed/")
	spenderPrefix   = []byte("spenders/")
	approvalPrefix  = []byte("approvals/")
)

type flagRecord struct {
	Active bool
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Engine maintains the token and spender whitelists and delegated approvals.
type Engine struct {
	state   engineState
	ledger  *ledger.Ledger
	emitter events.Emitter
}

// NewEngine creates a spend engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the balance ledger.
func (e *Engine) SetLedger(l *ledger.Ledger) { e.ledger = l }

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

func whitelistKey(track Track, token [20]byte) []byte {
	key := append(append([]byte(nil), whitelistPrefix...), byte(track), '/')
	return append(key, token[:]...)
}

func sealedKey(track Track) []byte {
	return append(append([]byte(nil), sealedPrefix...), byte(track))
}

func spenderKey(spender [20]byte) []byte {
	return append(append([]byte(nil), spenderPrefix...), spender[:]...)
}

func approvalKey(owner, spender [20]byte) []byte {
	key := append(append([]byte(nil), approvalPrefix...), owner[:]...)
	return append(key, spender[:]...)
}

func (e *Engine) flag(key []byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	var rec flagRecord
	ok, err := e.state.KVGet(key, &rec)
	if err != nil {
		return false, coreerrors.Fatal(err)
	}
	return ok && rec.Active, nil
}

func (e *Engine) setFlag(key []byte, active bool) error {
	var err error
	if active {
		err = e.state.KVPut(key, &flagRecord{Active: true})
	} else {
		err = e.state.KVDelete(key)
	}
	if err != nil {
		return coreerrors.Fatal(fmt.Errorf("spend: store flag: %w", err))
	}
	return nil
}

// IsSealed reports whether track accepts no further edits.
func (e *Engine) IsSealed(track Track) (bool, error) {
	return e.flag(sealedKey(track))
}

// IsWhitelistedOn reports whether token is listed on track.
func (e *Engine) IsWhitelistedOn(track Track, token [20]byte) (bool, error) {
	return e.flag(whitelistKey(track, token))
}

// IsWhitelisted reports whether token is listed on any track.
func (e *Engine) IsWhitelisted(token [20]byte) (bool, error) {
	for _, track := range Tracks {
		ok, err := e.IsWhitelistedOn(track, token)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// IsSpender reports whether spender is on the spender whitelist.
func (e *Engine) IsSpender(spender [20]byte) (bool, error) {
	return e.flag(spenderKey(spender))
}

// IsApproved reports whether owner has approved spender.
func (e *Engine) IsApproved(owner, spender [20]byte) (bool, error) {
	return e.flag(approvalKey(owner, spender))
}

func (e *Engine) editTrack(auth common.Authorizer, settings params.Settings, track Track, asset ledger.AssetID, listed bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.RequireOwner(auth, settings); err != nil {
		return err
	}
	if !track.valid() {
		return ErrUnknownTrack
	}
	token, ok := asset.Token()
	if !ok {
		return ErrTokenAssetRequired
	}
	sealed, err := e.IsSealed(track)
	if err != nil {
		return err
	}
	if sealed {
		return ErrTrackSealed
	}
	if err := e.setFlag(whitelistKey(track, token), listed); err != nil {
		return err
	}
	evtType := EventTypeWhitelistAdded
	if !listed {
		evtType = EventTypeWhitelistRemoved
	}
	e.emit(NewWhitelistEvent(evtType, track, token))
	return nil
}

// AddToWhitelist lists a token on track.
func (e *Engine) AddToWhitelist(auth common.Authorizer, settings params.Settings, track Track, asset ledger.AssetID) error {
	return e.editTrack(auth, settings, track, asset, true)
}

// RemoveFromWhitelist delists a token from track.
func (e *Engine) RemoveFromWhitelist(auth common.Authorizer, settings params.Settings, track Track, asset ledger.AssetID) error {
	return e.editTrack(auth, settings, track, asset, false)
}

// SealWhitelist permanently freezes track.
func (e *Engine) SealWhitelist(auth common.Authorizer, settings params.Settings, track Track) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.RequireOwner(auth, settings); err != nil {
		return err
	}
	if !track.valid() {
		return ErrUnknownTrack
	}
	if err := e.setFlag(sealedKey(track), true); err != nil {
		return err
	}
	e.emit(NewSealedEvent(track))
	return nil
}

func (e *Engine) editSpender(auth common.Authorizer, settings params.Settings, spender [20]byte, listed bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.RequireOwner(auth, settings); err != nil {
		return err
	}
	if spender == ([20]byte{}) {
		return ErrInvalidAddress
	}
	if err := e.setFlag(spenderKey(spender), listed); err != nil {
		return err
	}
	evtType := EventTypeSpenderAdded
	if !listed {
		evtType = EventTypeSpenderRemoved
	}
	e.emit(NewSpenderEvent(evtType, [20]byte{}, spender))
	return nil
}

// AddSpender whitelists a spender identity.
func (e *Engine) AddSpender(auth common.Authorizer, settings params.Settings, spender [20]byte) error {
	return e.editSpender(auth, settings, spender, true)
}

// RemoveSpender removes a spender from the whitelist. Existing approvals are
// left in place.
func (e *Engine) RemoveSpender(auth common.Authorizer, settings params.Settings, spender [20]byte) error {
	return e.editSpender(auth, settings, spender, false)
}

// ApproveSpender grants a whitelisted spender unlimited use of owner's
// balances.
func (e *Engine) ApproveSpender(auth common.Authorizer, settings params.Settings, owner, spender [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.RequireInitialized(settings); err != nil {
		return err
	}
	if !common.Signed(auth, owner) {
		return common.ErrMissingSignature
	}
	listed, err := e.IsSpender(spender)
	if err != nil {
		return err
	}
	if !listed {
		return ErrSpenderNotListed
	}
	if err := e.setFlag(approvalKey(owner, spender), true); err != nil {
		return err
	}
	e.emit(NewSpenderEvent(EventTypeSpenderApproved, owner, spender))
	return nil
}

// RescindApproval revokes an approval once the spender has been delisted.
func (e *Engine) RescindApproval(auth common.Authorizer, settings params.Settings, owner, spender [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.RequireInitialized(settings); err != nil {
		return err
	}
	if !common.Signed(auth, owner) {
		return common.ErrMissingSignature
	}
	listed, err := e.IsSpender(spender)
	if err != nil {
		return err
	}
	if listed {
		return ErrSpenderStillListed
	}
	if err := e.setFlag(approvalKey(owner, spender), false); err != nil {
		return err
	}
	e.emit(NewSpenderEvent(EventTypeSpenderRescinded, owner, spender))
	return nil
}

// SpendParams describes a delegated transfer. Caller is the authenticated
// spender identity invoking the transfer.
type SpendParams struct {
	Caller         [20]byte
	From           [20]byte
	To             [20]byte
	Asset          ledger.AssetID
	Amount         *big.Int
	DecreaseReason []byte
	IncreaseReason []byte
}

// SpendFrom moves value out of From's balance on behalf of an approved
// spender.
func (e *Engine) SpendFrom(auth common.Authorizer, settings params.Settings, p SpendParams) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if err := common.RequireInitialized(settings); err != nil {
		return err
	}
	if !ledger.IsUserReason(p.DecreaseReason) || !ledger.IsUserReason(p.IncreaseReason) {
		return ErrReservedReason
	}
	if p.From == ([20]byte{}) || p.To == ([20]byte{}) || p.Caller == ([20]byte{}) {
		return ErrInvalidAddress
	}
	if p.Asset.IsZero() {
		return ledger.ErrInvalidAsset
	}
	if !common.Signed(auth, p.From) {
		return common.ErrMissingSignature
	}
	approved, err := e.IsApproved(p.From, p.Caller)
	if err != nil {
		return err
	}
	if !approved {
		return ErrNotApproved
	}
	if p.Amount == nil || p.Amount.Sign() < 1 {
		return ErrNonPositiveAmount
	}
	ok, err := e.ledger.HasBalance(p.From, p.Asset, p.Amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientBalance
	}
	changes := ledger.NewBalanceChanges()
	changes.Reduce(p.From, p.Asset, p.Amount, ledger.Reason(p.DecreaseReason[0]))
	changes.Increase(p.To, p.Asset, p.Amount, ledger.Reason(p.IncreaseReason[0]))
	return e.ledger.Execute(changes)
}
