package custody

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	coreerrors "brokerchain/core/errors"
	"brokerchain/core/events"
	"brokerchain/core/state"
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

func (c *capturingEmitter) types() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

type gatewayCall struct {
	method            string
	token             [20]byte
	spender, from, to [20]byte
	amount            *big.Int
}

type recordingGateway struct {
	calls []gatewayCall
	err   error
}

func (g *recordingGateway) record(call gatewayCall) error {
	g.calls = append(g.calls, call)
	return g.err
}

func (g *recordingGateway) Transfer(_ context.Context, token [20]byte, from, to [20]byte, amount *big.Int) error {
	return g.record(gatewayCall{method: "transfer", token: token, from: from, to: to, amount: amount})
}

func (g *recordingGateway) TransferFrom(_ context.Context, token [20]byte, spender, from, to [20]byte, amount *big.Int) error {
	return g.record(gatewayCall{method: "transferFrom", token: token, spender: spender, from: from, to: to, amount: amount})
}

func (g *recordingGateway) TransferFromNonStandard(_ context.Context, token [20]byte, from, to [20]byte, amount *big.Int) error {
	return g.record(gatewayCall{method: "transferFromNonStandard", token: token, from: from, to: to, amount: amount})
}

func newTestAddress(fill byte) [20]byte {
	var out [20]byte
	copy(out[:], bytes.Repeat([]byte{fill}, len(out)))
	return out
}

func signers(addrs ...[20]byte) common.Authorizer {
	set := make(map[[20]byte]bool, len(addrs))
	for _, a := range addrs {
		set[a] = true
	}
	return common.AuthorizerFunc(func(addr [20]byte) bool { return set[addr] })
}

var (
	coordinator  = newTestAddress(0x0C)
	withdrawer   = newTestAddress(0x0D)
	custodyAddr  = newTestAddress(0xCC)
	trader       = newTestAddress(0x01)
	counterparty = newTestAddress(0x02)
	tokenID      = [20]byte{0x70}
	token        = ledger.TokenAsset(tokenID)
	dustA        = ledger.TokenAsset([20]byte{0x71})
	dustB        = ledger.TokenAsset([20]byte{0x72})
	native       = ledger.NativeAsset([32]byte{0x01})
)

type harness struct {
	engine   *Engine
	ledger   *ledger.Ledger
	gateway  *recordingGateway
	emitter  *capturingEmitter
	settings params.Settings
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
	l := ledger.NewLedger()
	l.SetState(mgr)
	gw := &recordingGateway{}
	emitter := &capturingEmitter{}
	e := NewEngine()
	e.SetState(mgr)
	e.SetLedger(l)
	e.SetGateways(NewStaticResolver(gw))
	e.SetCustodyAddress(custodyAddr)
	e.SetEmitter(emitter)
	return &harness{
		engine:  e,
		ledger:  l,
		gateway: gw,
		emitter: emitter,
		settings: params.Settings{
			Owner:               newTestAddress(0x0A),
			Coordinator:         coordinator,
			WithdrawCoordinator: withdrawer,
			State:               params.StateActive,
		},
	}
}

func (h *harness) balance(t *testing.T, addr [20]byte, asset ledger.AssetID) int64 {
	t.Helper()
	bal, err := h.ledger.Balance(addr, asset)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func (h *harness) seed(t *testing.T, addr [20]byte, asset ledger.AssetID, amount int64) {
	t.Helper()
	changes := ledger.NewBalanceChanges()
	changes.Increase(addr, asset, big.NewInt(amount), ledger.ReasonDeposit)
	if err := h.ledger.Execute(changes); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestDepositModes(t *testing.T) {
	h := newHarness(t)
	auth := signers(trader, coordinator)
	modes := []struct {
		mode   DepositMode
		method string
	}{
		{DepositTransfer, "transfer"},
		{DepositTransferFrom, "transferFrom"},
		{DepositTransferFromNonStandard, "transferFromNonStandard"},
	}
	for i, m := range modes {
		err := h.engine.Deposit(context.Background(), auth, h.settings, DepositParams{
			Mode: m.mode, Originator: trader, Asset: token, Amount: big.NewInt(10),
		})
		if err != nil {
			t.Fatalf("%s deposit: %v", m.method, err)
		}
		call := h.gateway.calls[i]
		if call.method != m.method || call.token != tokenID || call.to != custodyAddr {
			t.Fatalf("unexpected gateway call %+v", call)
		}
	}
	if h.gateway.calls[1].spender != custodyAddr || h.gateway.calls[1].from != trader {
		t.Fatalf("transferFrom must spend the trader allowance as custody: %+v", h.gateway.calls[1])
	}
	if got := h.balance(t, trader, token); got != 30 {
		t.Fatalf("expected 30 credited, got %d", got)
	}
	for _, typ := range h.emitter.types() {
		if typ != EventTypeDeposited {
			t.Fatalf("unexpected event %s", typ)
		}
	}
}

func TestDepositDeclines(t *testing.T) {
	tests := []struct {
		name   string
		auth   common.Authorizer
		state  params.TradingState
		params DepositParams
		want   error
	}{
		{name: "native asset", params: DepositParams{Originator: trader, Asset: native, Amount: big.NewInt(1)}, want: ErrTokenAssetRequired},
		{name: "missing coordinator", auth: signers(trader), params: DepositParams{Originator: trader, Asset: token, Amount: big.NewInt(1)}, want: common.ErrMissingSignature},
		{name: "coordinator as originator", auth: signers(coordinator), params: DepositParams{Originator: coordinator, Asset: token, Amount: big.NewInt(1)}, want: common.ErrCoordinatorParty},
		{name: "frozen", state: params.StateInactive, params: DepositParams{Originator: trader, Asset: token, Amount: big.NewInt(1)}, want: common.ErrTradingInactive},
		{name: "zero amount", params: DepositParams{Originator: trader, Asset: token, Amount: big.NewInt(0)}, want: ErrNonPositiveAmount},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			if tc.state != 0 {
				h.settings.State = tc.state
			}
			auth := tc.auth
			if auth == nil {
				auth = signers(trader, coordinator)
			}
			if err := h.engine.Deposit(context.Background(), auth, h.settings, tc.params); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(h.gateway.calls) != 0 {
				t.Fatalf("gateway called on decline")
			}
		})
	}
}

func TestDepositGatewayRefusal(t *testing.T) {
	h := newHarness(t)
	h.gateway.err = ErrTransferRejected
	err := h.engine.Deposit(context.Background(), signers(trader, coordinator), h.settings, DepositParams{
		Originator: trader, Asset: token, Amount: big.NewInt(5),
	})
	if !errors.Is(err, ErrPullFailed) || coreerrors.IsDeclined(err) {
		t.Fatalf("expected aborted deposit, got %v", err)
	}
}

func TestReceiveNativeOncePerTransfer(t *testing.T) {
	h := newHarness(t)
	receipt := NativeReceipt{TransferID: [32]byte{0xAB}, Sender: trader, Asset: native, Amount: big.NewInt(40)}
	if err := h.engine.ReceiveNative(h.settings, receipt); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := h.engine.ReceiveNative(h.settings, receipt); !errors.Is(err, ErrDuplicateReceipt) {
		t.Fatalf("replay: %v", err)
	}
	if got := h.balance(t, trader, native); got != 40 {
		t.Fatalf("expected single credit, got %d", got)
	}
	if ok, _ := h.engine.ReceiptCredited(receipt.TransferID); !ok {
		t.Fatalf("receipt not recorded")
	}

	for _, sender := range [][20]byte{custodyAddr, coordinator, withdrawer} {
		r := NativeReceipt{TransferID: [32]byte{sender[0]}, Sender: sender, Asset: native, Amount: big.NewInt(1)}
		if err := h.engine.ReceiveNative(h.settings, r); !errors.Is(err, ErrBrokerSender) {
			t.Fatalf("sender %x: %v", sender, err)
		}
	}
	tokenReceipt := NativeReceipt{TransferID: [32]byte{0x01}, Sender: trader, Asset: token, Amount: big.NewInt(1)}
	if err := h.engine.ReceiveNative(h.settings, tokenReceipt); !errors.Is(err, ErrNativeAssetRequired) {
		t.Fatalf("token receipt: %v", err)
	}
}

func TestBurnTokens(t *testing.T) {
	h := newHarness(t)
	h.seed(t, trader, token, 50)
	auth := signers(trader, coordinator)

	for _, reason := range []ledger.Reason{0, 10, ledger.ReasonSwapMakerGive} {
		if err := h.engine.BurnTokens(auth, h.settings, trader, token, big.NewInt(1), reason); !errors.Is(err, ErrBurnReason) {
			t.Fatalf("reason %s: %v", reason, err)
		}
	}
	if err := h.engine.BurnTokens(auth, h.settings, trader, token, big.NewInt(51), ledger.ReasonWithdrawal); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overburn: %v", err)
	}
	if err := h.engine.BurnTokens(auth, h.settings, trader, token, big.NewInt(20), ledger.ReasonTakerFeeGive); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := h.balance(t, trader, token); got != 30 {
		t.Fatalf("expected 30 left, got %d", got)
	}
	if got := h.emitter.types(); len(got) != 1 || got[0] != ledger.EventTypeBurnt {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestSweepDust(t *testing.T) {
	h := newHarness(t)
	h.seed(t, trader, dustA, 3)
	h.seed(t, trader, dustB, 4)
	h.seed(t, counterparty, token, 100)

	p := SweepParams{
		Originator:     trader,
		Counterparty:   counterparty,
		DustAssets:     []ledger.AssetID{dustA, dustB},
		DustAmounts:    []*big.Int{big.NewInt(3), big.NewInt(4)},
		CombinedAsset:  token,
		CombinedAmount: big.NewInt(9),
	}
	if err := h.engine.SweepDust(signers(trader, coordinator), h.settings, p); !errors.Is(err, common.ErrMissingSignature) {
		t.Fatalf("missing counterparty signature: %v", err)
	}
	if err := h.engine.SweepDust(signers(trader, coordinator, counterparty), h.settings, p); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	checks := []struct {
		addr  [20]byte
		asset ledger.AssetID
		want  int64
	}{
		{trader, dustA, 0},
		{trader, dustB, 0},
		{trader, token, 9},
		{counterparty, dustA, 3},
		{counterparty, dustB, 4},
		{counterparty, token, 91},
	}
	for _, c := range checks {
		if got := h.balance(t, c.addr, c.asset); got != c.want {
			t.Fatalf("%x %s: expected %d, got %d", c.addr[:2], c.asset, c.want, got)
		}
	}
}

func TestSweepDustDeclines(t *testing.T) {
	base := SweepParams{
		Originator:     trader,
		Counterparty:   counterparty,
		DustAssets:     []ledger.AssetID{dustA},
		DustAmounts:    []*big.Int{big.NewInt(3)},
		CombinedAsset:  token,
		CombinedAmount: big.NewInt(9),
	}
	tests := []struct {
		name   string
		mutate func(*SweepParams)
		want   error
	}{
		{name: "length mismatch", mutate: func(p *SweepParams) { p.DustAmounts = nil }, want: ErrDustMismatch},
		{name: "dust equals combined", mutate: func(p *SweepParams) { p.DustAssets = []ledger.AssetID{token} }, want: ErrDustIsCombined},
		{name: "zero dust", mutate: func(p *SweepParams) { p.DustAmounts = []*big.Int{big.NewInt(0)} }, want: ErrNonPositiveAmount},
		{name: "zero combined", mutate: func(p *SweepParams) { p.CombinedAmount = big.NewInt(0) }, want: ErrNonPositiveAmount},
		{name: "counterparty short", mutate: func(p *SweepParams) { p.CombinedAmount = big.NewInt(1000) }, want: ErrInsufficientBalance},
		{name: "originator short", mutate: func(p *SweepParams) { p.DustAmounts = []*big.Int{big.NewInt(4)} }, want: ErrInsufficientBalance},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.seed(t, trader, dustA, 3)
			h.seed(t, counterparty, token, 100)
			p := base
			tc.mutate(&p)
			if err := h.engine.SweepDust(signers(trader, coordinator, counterparty), h.settings, p); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(h.emitter.events) != 0 {
				t.Fatalf("declined sweep emitted %v", h.emitter.types())
			}
		})
	}
}
