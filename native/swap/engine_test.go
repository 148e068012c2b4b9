package swap

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"brokerchain/core/events"
	"brokerchain/core/state"
	"brokerchain/crypto"
	"brokerchain/native/common"
	"brokerchain/native/ledger"
	"brokerchain/native/params"
	"brokerchain/storage"
	"brokerchain/storage/trie"
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) count(evtType string) int {
	n := 0
	for _, evt := range c.events {
		if evt.EventType() == evtType {
			n++
		}
	}
	return n
}

func (c *capturingEmitter) burntFrom() string {
	for _, evt := range c.events {
		if payload, ok := events.Payload(evt); ok && payload.Type == ledger.EventTypeBurnt {
			return payload.Attributes["from"]
		}
	}
	return ""
}

func newTestAddress(fill byte) [20]byte {
	var out [20]byte
	copy(out[:], bytes.Repeat([]byte{fill}, len(out)))
	return out
}

func newTestToken(fill byte) ledger.AssetID {
	var out [ledger.TokenIDLength]byte
	copy(out[:], bytes.Repeat([]byte{fill}, len(out)))
	return ledger.TokenAsset(out)
}

func signers(addrs ...[20]byte) common.Authorizer {
	set := make(map[[20]byte]bool, len(addrs))
	for _, a := range addrs {
		set[a] = true
	}
	return common.AuthorizerFunc(func(addr [20]byte) bool { return set[addr] })
}

var (
	maker       = newTestAddress(0x01)
	taker       = newTestAddress(0x02)
	coordinator = newTestAddress(0x0C)
	feeAddress  = newTestAddress(0x0F)
	assetA      = newTestToken(0xA1)
	assetF      = newTestToken(0xF1)
	preImage    = []byte("open sesame")
)

type harness struct {
	t        *testing.T
	engine   *Engine
	ledger   *ledger.Ledger
	emitter  *capturingEmitter
	settings params.Settings
	now      int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	mgr := state.NewManager(tr)
	h := &harness{
		t:       t,
		emitter: &capturingEmitter{},
		settings: params.Settings{
			Coordinator:         coordinator,
			WithdrawCoordinator: newTestAddress(0x0D),
			FeeAddress:          feeAddress,
			State:               params.StateActive,
		},
		now: 5_000,
	}
	h.ledger = ledger.NewLedger()
	h.ledger.SetState(mgr)
	h.engine = NewEngine()
	h.engine.SetState(mgr)
	h.engine.SetLedger(h.ledger)
	h.engine.SetEmitter(h.emitter)
	h.engine.SetNowFunc(func() int64 { return h.now })

	changes := ledger.NewBalanceChanges()
	changes.Increase(maker, assetA, big.NewInt(100), ledger.ReasonDeposit)
	changes.Increase(maker, assetF, big.NewInt(10), ledger.ReasonDeposit)
	if err := h.ledger.Execute(changes); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return h
}

func (h *harness) balance(addr [20]byte, asset ledger.AssetID) int64 {
	h.t.Helper()
	bal, err := h.ledger.Balance(addr, asset)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func (h *harness) create(feeAsset ledger.AssetID, fee int64, burn bool) *Swap {
	h.t.Helper()
	s, err := h.engine.Create(signers(maker, coordinator), h.settings, CreateParams{
		Maker:     maker,
		Taker:     taker,
		HashLock:  HashLock(preImage),
		Asset:     assetA,
		Amount:    big.NewInt(50),
		ExpiresAt: uint64(h.now + 100),
		FeeAsset:  feeAsset,
		FeeAmount: big.NewInt(fee),
		BurnFee:   burn,
	})
	if err != nil {
		h.t.Fatalf("create: %v", err)
	}
	return s
}

func TestExecuteOnce(t *testing.T) {
	h := newHarness(t)
	s := h.create(assetA, 5, false)
	if h.balance(maker, assetA) != 50 {
		t.Fatalf("expected up-front debit, balance %d", h.balance(maker, assetA))
	}
	if _, err := h.engine.Execute(h.settings, s.HashLock, []byte("wrong")); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
	if _, err := h.engine.Execute(h.settings, s.HashLock, preImage); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if h.balance(taker, assetA) != 45 || h.balance(feeAddress, assetA) != 5 {
		t.Fatalf("unexpected payout taker=%d fee=%d", h.balance(taker, assetA), h.balance(feeAddress, assetA))
	}
	if _, err := h.engine.Execute(h.settings, s.HashLock, preImage); !errors.Is(err, ErrSwapNotActive) {
		t.Fatalf("second execute: %v", err)
	}
	h.now += 1000
	if _, _, err := h.engine.Cancel(signers(coordinator), h.settings, s.HashLock, big.NewInt(0), false); !errors.Is(err, ErrSwapNotActive) {
		t.Fatalf("cancel after execute: %v", err)
	}
}

func TestExecuteSeparateFeeBurned(t *testing.T) {
	h := newHarness(t)
	s := h.create(assetF, 4, true)
	if h.balance(maker, assetF) != 6 {
		t.Fatalf("fee not debited up front")
	}
	if _, err := h.engine.Execute(h.settings, s.HashLock, preImage); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if h.balance(taker, assetA) != 50 || h.balance(feeAddress, assetF) != 0 {
		t.Fatalf("unexpected balances")
	}
	if h.emitter.count(ledger.EventTypeBurnt) != 1 {
		t.Fatalf("expected burn event")
	}
	if from := h.emitter.burntFrom(); from != crypto.FormatAddress(taker) {
		t.Fatalf("execute burn attributed to %s", from)
	}
}

func TestCancelRequiresExpiry(t *testing.T) {
	h := newHarness(t)
	s := h.create(assetA, 5, false)
	if _, _, err := h.engine.Cancel(signers(coordinator), h.settings, s.HashLock, big.NewInt(0), false); !errors.Is(err, ErrNotExpired) {
		t.Fatalf("expected not expired, got %v", err)
	}
	h.now = int64(s.ExpiresAt)
	if _, _, err := h.engine.Cancel(signers(coordinator), h.settings, s.HashLock, big.NewInt(6), false); !errors.Is(err, ErrInvalidCancelFee) {
		t.Fatalf("expected invalid cancel fee, got %v", err)
	}
	_, kept, err := h.engine.Cancel(signers(coordinator), h.settings, s.HashLock, big.NewInt(2), false)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if kept.Int64() != 2 || h.balance(maker, assetA) != 98 || h.balance(feeAddress, assetA) != 2 {
		t.Fatalf("unexpected refund kept=%s maker=%d", kept, h.balance(maker, assetA))
	}
	if _, err := h.engine.Execute(h.settings, s.HashLock, preImage); !errors.Is(err, ErrSwapNotActive) {
		t.Fatalf("execute after cancel: %v", err)
	}
}

func TestUnprivilegedCancelForfeitsWholeFee(t *testing.T) {
	h := newHarness(t)
	s := h.create(assetF, 4, false)
	h.now = int64(s.ExpiresAt) + 1
	_, kept, err := h.engine.Cancel(signers(maker), h.settings, s.HashLock, big.NewInt(0), false)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if kept.Int64() != 4 {
		t.Fatalf("expected full fee kept, got %s", kept)
	}
	if h.balance(maker, assetA) != 100 || h.balance(maker, assetF) != 6 || h.balance(feeAddress, assetF) != 4 {
		t.Fatalf("unexpected balances after cancel")
	}
}

func TestCoordinatorCancelRefundsSeparateFee(t *testing.T) {
	h := newHarness(t)
	s := h.create(assetF, 4, false)
	h.now = int64(s.ExpiresAt)
	if _, _, err := h.engine.Cancel(signers(coordinator), h.settings, s.HashLock, big.NewInt(1), false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if h.balance(maker, assetF) != 9 || h.balance(feeAddress, assetF) != 1 {
		t.Fatalf("unexpected fee refund maker=%d fee=%d", h.balance(maker, assetF), h.balance(feeAddress, assetF))
	}
}

func TestCancelFeeBurnFollowsCaller(t *testing.T) {
	tests := []struct {
		name       string
		createBurn bool
		cancelBurn bool
		feeAddr    int64
	}{
		{name: "burn on cancel only", createBurn: false, cancelBurn: true, feeAddr: 0},
		{name: "pay on cancel despite burning swap", createBurn: true, cancelBurn: false, feeAddr: 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			s := h.create(assetF, 4, tc.createBurn)
			h.now = int64(s.ExpiresAt)
			if _, _, err := h.engine.Cancel(signers(coordinator), h.settings, s.HashLock, big.NewInt(3), tc.cancelBurn); err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if h.balance(maker, assetF) != 7 || h.balance(feeAddress, assetF) != tc.feeAddr {
				t.Fatalf("unexpected balances maker=%d fee=%d", h.balance(maker, assetF), h.balance(feeAddress, assetF))
			}
			if !tc.cancelBurn {
				if h.emitter.count(ledger.EventTypeBurnt) != 0 {
					t.Fatalf("unexpected burn event")
				}
				return
			}
			if from := h.emitter.burntFrom(); from != crypto.FormatAddress(maker) {
				t.Fatalf("cancel burn attributed to %s", from)
			}
		})
	}
}

func TestCreateDeclines(t *testing.T) {
	h := newHarness(t)
	h.create(assetA, 0, false)
	base := CreateParams{
		Maker: maker, Taker: taker, HashLock: HashLock([]byte("other")), Asset: assetA,
		Amount: big.NewInt(1), ExpiresAt: uint64(h.now + 10), FeeAsset: assetA, FeeAmount: big.NewInt(0),
	}
	tests := []struct {
		name   string
		auth   common.Authorizer
		mutate func(*CreateParams)
		want   error
	}{
		{name: "missing coordinator", auth: signers(maker), want: common.ErrMissingSignature},
		{name: "reused lock", mutate: func(p *CreateParams) { p.HashLock = HashLock(preImage) }, want: ErrSwapExists},
		{name: "zero amount", mutate: func(p *CreateParams) { p.Amount = big.NewInt(0) }, want: ErrNonPositiveAmount},
		{name: "negative fee", mutate: func(p *CreateParams) { p.FeeAmount = big.NewInt(-1) }, want: ErrNegativeFee},
		{name: "expired", mutate: func(p *CreateParams) { p.ExpiresAt = uint64(h.now) }, want: ErrExpiryPassed},
		{name: "self taker", mutate: func(p *CreateParams) { p.Taker = maker }, want: ErrInvalidTaker},
		{name: "empty lock", mutate: func(p *CreateParams) { p.HashLock = [32]byte{} }, want: ErrEmptyHashLock},
		{name: "fee over amount", mutate: func(p *CreateParams) { p.FeeAmount = big.NewInt(2) }, want: ErrFeeExceedsAmount},
		{name: "insufficient", mutate: func(p *CreateParams) { p.Amount = big.NewInt(51) }, want: ErrInsufficientBalance},
		{name: "insufficient fee", mutate: func(p *CreateParams) {
			p.FeeAsset = assetF
			p.FeeAmount = big.NewInt(11)
		}, want: ErrInsufficientBalance},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			if tc.mutate != nil {
				tc.mutate(&p)
			}
			auth := tc.auth
			if auth == nil {
				auth = signers(maker, coordinator)
			}
			if _, err := h.engine.Create(auth, h.settings, p); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSwapRecordRoundTrip(t *testing.T) {
	in := &Swap{
		HashLock: HashLock(preImage), Maker: maker, Taker: taker, Asset: assetA, Amount: big.NewInt(7),
		ExpiresAt: 99, FeeAsset: assetF, FeeAmount: big.NewInt(0), BurnFee: true, Active: true,
	}
	out, err := decodeSwap(in.HashLock, encodeSwap(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Maker != in.Maker || out.Taker != in.Taker || out.Asset != in.Asset || out.FeeAsset != in.FeeAsset ||
		out.ExpiresAt != in.ExpiresAt || out.BurnFee != in.BurnFee || out.Active != in.Active ||
		out.Amount.Cmp(in.Amount) != 0 || out.FeeAmount.Cmp(in.FeeAmount) != 0 {
		t.Fatalf("round trip mismatch %+v", out)
	}
}
