package offers

import (
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
	errNilState  = errors.New("offers engine: state not configured")
	errNilLedger = errors.New("offers engine: ledger not configured")

	ErrDuplicateOffer      = coreerrors.NewDecline("offers: offer already exists")
	ErrNonPositiveAmount   = coreerrors.NewDecline("offers: amounts must be positive")
	ErrAmountTooLarge      = coreerrors.NewDecline("offers: amount exceeds 256 bits")
	ErrSameAsset           = coreerrors.NewDecline("offers: offered and wanted assets must differ")
	ErrNegativeFee         = coreerrors.NewDecline("offers: fee amounts must not be negative")
	ErrInsufficientBalance = coreerrors.NewDecline("offers: insufficient balance")
	ErrOfferNotFound       = coreerrors.NewDecline("offers: offer not found")
	ErrCancelNotAuthorized = coreerrors.NewDecline("offers: cancel not authorized")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Engine implements the offer book on top of the balance ledger.
type Engine struct {
	state   engineState
	ledger  *ledger.Ledger
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an offer engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the balance ledger the engine settles against.
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

// Make debits the maker and opens a new offer.
func (e *Engine) Make(auth common.Authorizer, settings params.Settings, p MakeParams) (*Offer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.RequireActive(settings); err != nil {
		return nil, err
	}
	if err := common.CheckTradeWitnesses(auth, settings, p.Maker); err != nil {
		return nil, err
	}
	if p.OfferAmount == nil || p.WantAmount == nil || p.OfferAmount.Sign() <= 0 || p.WantAmount.Sign() <= 0 {
		return nil, ErrNonPositiveAmount
	}
	hash, ok := OfferHash(p.Maker, p.OfferAsset, p.WantAsset, p.OfferAmount, p.WantAmount, p.Nonce)
	if !ok {
		return nil, ErrAmountTooLarge
	}
	if p.OfferAsset == p.WantAsset {
		return nil, ErrSameAsset
	}
	if p.OfferAsset.IsZero() || p.WantAsset.IsZero() || p.MakerFeeAsset.IsZero() {
		return nil, ledger.ErrInvalidAsset
	}
	escrow := cloneBigInt(p.MakerFeeAmount)
	if escrow.Sign() < 0 {
		return nil, ErrNegativeFee
	}
	if _, exists, err := e.Offer(hash); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrDuplicateOffer
	}
	// The fee asset must cover the fee even when it is netted from proceeds.
	if ok, err := e.ledger.HasBalance(p.Maker, p.MakerFeeAsset, escrow); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrInsufficientBalance
	}

	offer := &Offer{
		Hash:              hash,
		Maker:             p.Maker,
		OfferAsset:        p.OfferAsset,
		OfferAmount:       cloneBigInt(p.OfferAmount),
		WantAsset:         p.WantAsset,
		WantAmount:        cloneBigInt(p.WantAmount),
		Available:         cloneBigInt(p.OfferAmount),
		MakerFeeAsset:     p.MakerFeeAsset,
		MakerFeeAvailable: escrow,
		Nonce:             append([]byte(nil), p.Nonce...),
	}

	changes := ledger.NewBalanceChanges()
	changes.Reduce(p.Maker, p.OfferAsset, p.OfferAmount, ledger.ReasonMakerGive)
	if escrow.Sign() > 0 && offer.MakerFeeEscrowed() {
		changes.Reduce(p.Maker, p.MakerFeeAsset, escrow, ledger.ReasonMakerFeeGive)
	}
	if err := e.requireFunds(p.Maker, changes); err != nil {
		return nil, err
	}
	if err := e.ledger.Execute(changes); err != nil {
		return nil, err
	}
	if err := e.putOffer(offer); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(offer))
	return offer.Clone(), nil
}

// requireFunds declines when the combined debits of addr in changes exceed
// its balances.
func (e *Engine) requireFunds(addr [20]byte, changes *ledger.BalanceChanges) error {
	seen := make(map[ledger.AssetID]bool)
	for _, c := range changes.Changes() {
		if c.Address != addr || seen[c.Asset] {
			continue
		}
		seen[c.Asset] = true
		net := changes.Net(addr, c.Asset)
		if net.Sign() >= 0 {
			continue
		}
		ok, err := e.ledger.HasBalance(addr, c.Asset, new(big.Int).Neg(net))
		if err != nil {
			return err
		}
		if !ok {
			return ErrInsufficientBalance
		}
	}
	return nil
}

func (e *Engine) fail(filler [20]byte, hash [32]byte, reason FailReason) error {
	e.emit(NewFailedEvent(filler, hash, reason))
	return &FillFailure{Reason: reason, OfferHash: hash}
}

// Fill settles a taker against an open offer. Business rejections emit a
// failed notification and return a *FillFailure.
func (e *Engine) Fill(auth common.Authorizer, settings params.Settings, p FillParams) (*FillResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.RequireActive(settings); err != nil {
		return nil, err
	}
	if err := common.CheckTradeWitnesses(auth, settings, p.Filler); err != nil {
		return nil, err
	}
	if p.TakerFeeAsset.IsZero() {
		return nil, ledger.ErrInvalidAsset
	}
	takerFee := cloneBigInt(p.TakerFeeAmount)
	makerFee := cloneBigInt(p.MakerFeeAmount)
	if takerFee.Sign() < 0 || makerFee.Sign() < 0 {
		return nil, ErrNegativeFee
	}
	take := cloneBigInt(p.TakeAmount)

	offer, ok, err := e.Offer(p.OfferHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.fail(p.Filler, p.OfferHash, FailOfferNotExist)
	}
	if p.Filler == offer.Maker {
		return nil, e.fail(p.Filler, p.OfferHash, FailFillerSameAsMaker)
	}
	if take.Sign() < 1 {
		return nil, e.fail(p.Filler, p.OfferHash, FailTakingLessThanOne)
	}
	if take.Cmp(offer.Available) > 0 {
		return nil, e.fail(p.Filler, p.OfferHash, FailTakingMoreThanAvailable)
	}
	fill := new(big.Int).Mul(take, offer.WantAmount)
	fill.Quo(fill, offer.OfferAmount)
	if fill.Sign() < 1 {
		return nil, e.fail(p.Filler, p.OfferHash, FailFillingLessThanOne)
	}

	takerFeeSeparate := p.TakerFeeAsset != offer.OfferAsset
	makerFeeSeparate := offer.MakerFeeEscrowed()

	fillerBalances, err := e.ledger.Balances(p.Filler)
	if err != nil {
		return nil, err
	}
	if fillerBalances.Get(offer.WantAsset).Cmp(fill) < 0 {
		return nil, e.fail(p.Filler, p.OfferHash, FailNotEnoughBalanceOnFiller)
	}
	if takerFeeSeparate && takerFee.Sign() > 0 {
		required := cloneBigInt(takerFee)
		if p.TakerFeeAsset == offer.WantAsset {
			required.Add(required, fill)
		}
		if fillerBalances.Get(p.TakerFeeAsset).Cmp(required) < 0 {
			return nil, e.fail(p.Filler, p.OfferHash, FailNotEnoughBalanceOnTakerFee)
		}
	}
	if makerFee.Cmp(offer.MakerFeeAvailable) > 0 {
		return nil, e.fail(p.Filler, p.OfferHash, FailNotEnoughMakerFeeAvailable)
	}
	if (!takerFeeSeparate && takerFee.Cmp(take) > 0) || (!makerFeeSeparate && makerFee.Cmp(fill) > 0) {
		return nil, e.fail(p.Filler, p.OfferHash, FailFeeExceedsProceeds)
	}

	makerReceives := cloneBigInt(fill)
	if !makerFeeSeparate {
		makerReceives.Sub(makerReceives, makerFee)
	}
	takerReceives := cloneBigInt(take)
	if !takerFeeSeparate {
		takerReceives.Sub(takerReceives, takerFee)
	}

	changes := ledger.NewBalanceChanges()
	changes.Reduce(p.Filler, offer.WantAsset, fill, ledger.ReasonTakerGive)
	if takerFeeSeparate && takerFee.Sign() > 0 {
		changes.Reduce(p.Filler, p.TakerFeeAsset, takerFee, ledger.ReasonTakerFeeGive)
	}
	if makerReceives.Sign() > 0 {
		changes.Increase(offer.Maker, offer.WantAsset, makerReceives, ledger.ReasonMakerReceive)
	}
	if takerReceives.Sign() > 0 {
		changes.Increase(p.Filler, offer.OfferAsset, takerReceives, ledger.ReasonTakerReceive)
	}
	var burns []*types.Event
	if takerFee.Sign() > 0 {
		if p.BurnTakerFee {
			burns = append(burns, ledger.NewBurntEvent(p.Filler, p.TakerFeeAsset, takerFee, ledger.ReasonTakerFeeGive))
		} else {
			changes.Increase(settings.FeeAddress, p.TakerFeeAsset, takerFee, ledger.ReasonTakerFeeReceive)
		}
	}
	if makerFee.Sign() > 0 {
		if p.BurnMakerFee {
			burns = append(burns, ledger.NewBurntEvent(offer.Maker, offer.MakerFeeAsset, makerFee, ledger.ReasonMakerFeeGive))
		} else {
			changes.Increase(settings.FeeAddress, offer.MakerFeeAsset, makerFee, ledger.ReasonMakerFeeReceive)
		}
	}

	snapshot := offer.Clone()
	offer.Available.Sub(offer.Available, take)
	offer.MakerFeeAvailable.Sub(offer.MakerFeeAvailable, makerFee)
	if offer.Available.Sign() < 0 || offer.MakerFeeAvailable.Sign() < 0 {
		return nil, coreerrors.Fatalf("offers: offer %x left with negative amounts", offer.Hash)
	}
	closed := offer.Available.Sign() == 0
	if closed && makerFeeSeparate && offer.MakerFeeAvailable.Sign() > 0 {
		changes.Increase(offer.Maker, offer.MakerFeeAsset, offer.MakerFeeAvailable, ledger.ReasonMakerFeeRefund)
	}

	if err := e.ledger.Execute(changes); err != nil {
		return nil, err
	}
	if closed {
		err = e.deleteOffer(offer.Hash)
	} else {
		err = e.putOffer(offer)
	}
	if err != nil {
		return nil, err
	}
	for _, burn := range burns {
		e.emit(burn)
	}
	e.emit(NewFilledEvent(p.Filler, snapshot, fill, take))
	return &FillResult{
		OfferHash:   offer.Hash,
		TakeAmount:  take,
		FillAmount:  fill,
		Remaining:   cloneBigInt(offer.Available),
		OfferClosed: closed,
	}, nil
}

// AnnounceCancel records the time the maker asked to cancel. After the
// announce delay the maker may cancel without the coordinator.
func (e *Engine) AnnounceCancel(auth common.Authorizer, settings params.Settings, hash [32]byte) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := common.RequireInitialized(settings); err != nil {
		return 0, err
	}
	offer, ok, err := e.Offer(hash)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrOfferNotFound
	}
	if !common.Signed(auth, offer.Maker) {
		return 0, common.ErrMissingSignature
	}
	at := uint64(e.now())
	if err := e.state.KVPut(cancelAnnounceKey(hash), &storedAnnouncement{AnnouncedAt: at}); err != nil {
		return 0, coreerrors.Fatal(err)
	}
	e.emit(NewCancelAnnouncedEvent(offer, at))
	return at, nil
}

// Cancel removes an offer and returns its remaining value to the maker. The
// coordinator or an aged announcement must authorize the cancel, and the maker
// must sign unless the coordinator force-cancels while trading is frozen.
func (e *Engine) Cancel(auth common.Authorizer, settings params.Settings, hash [32]byte) (*Offer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.RequireInitialized(settings); err != nil {
		return nil, err
	}
	offer, ok, err := e.Offer(hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOfferNotFound
	}
	coordinator := common.Signed(auth, settings.Coordinator)
	announced := false
	if !coordinator {
		at, exists, err := e.CancelAnnouncement(hash)
		if err != nil {
			return nil, err
		}
		announced = exists && common.AnnouncementAged(at, e.now(), settings.AnnounceDelay)
	}
	if !coordinator && !announced {
		return nil, ErrCancelNotAuthorized
	}
	if !common.Signed(auth, offer.Maker) && !(coordinator && settings.IsFrozen()) {
		return nil, ErrCancelNotAuthorized
	}

	changes := ledger.NewBalanceChanges()
	if offer.Available.Sign() > 0 {
		changes.Increase(offer.Maker, offer.OfferAsset, offer.Available, ledger.ReasonCancel)
	}
	if offer.MakerFeeEscrowed() && offer.MakerFeeAvailable.Sign() > 0 {
		changes.Increase(offer.Maker, offer.MakerFeeAsset, offer.MakerFeeAvailable, ledger.ReasonMakerFeeRefund)
	}
	if err := e.ledger.Execute(changes); err != nil {
		return nil, err
	}
	if err := e.deleteOffer(hash); err != nil {
		return nil, err
	}
	e.emit(NewCancelledEvent(offer))
	return offer, nil
}
