package ledger

import (
	"bytes"
	"math/big"
	"testing"

	coreerrors "brokerchain/core/errors"
	"brokerchain/core/events"
	"brokerchain/core/state"
	"brokerchain/storage"
	"brokerchain/storage/trie"
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func newTestAddress(fill byte) [20]byte {
	var out [20]byte
	copy(out[:], bytes.Repeat([]byte{fill}, len(out)))
	return out
}

func newTestToken(fill byte) AssetID {
	var out [TokenIDLength]byte
	copy(out[:], bytes.Repeat([]byte{fill}, len(out)))
	return TokenAsset(out)
}

func newTestLedger(t *testing.T) (*Ledger, *state.Manager, *capturingEmitter) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	mgr := state.NewManager(tr)
	l := NewLedger()
	l.SetState(mgr)
	emitter := &capturingEmitter{}
	l.SetEmitter(emitter)
	return l, mgr, emitter
}

func mustBalance(t *testing.T, l *Ledger, addr [20]byte, asset AssetID) *big.Int {
	t.Helper()
	bal, err := l.Balance(addr, asset)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func TestExecuteAppliesDeltasInOrder(t *testing.T) {
	l, _, emitter := newTestLedger(t)
	alice := newTestAddress(0x01)
	bob := newTestAddress(0x02)
	gas := newTestToken(0xAA)
	neo := NativeAsset([32]byte{0x0B})

	seed := NewBalanceChanges()
	seed.Increase(alice, gas, big.NewInt(100), ReasonDeposit)
	seed.Increase(alice, neo, big.NewInt(5), ReasonDeposit)
	if err := l.Execute(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	batch := NewBalanceChanges()
	batch.Reduce(alice, gas, big.NewInt(40), ReasonMakerGive)
	batch.Increase(bob, gas, big.NewInt(40), ReasonTakerReceive)
	batch.Reduce(alice, neo, big.NewInt(5), ReasonMakerFeeGive)
	batch.Increase(bob, neo, big.NewInt(5), ReasonMakerFeeReceive)
	if err := l.Execute(batch); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if got := mustBalance(t, l, alice, gas); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("alice gas: got %s", got)
	}
	if got := mustBalance(t, l, alice, neo); got.Sign() != 0 {
		t.Fatalf("alice neo: got %s", got)
	}
	balances, err := l.Balances(alice)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("expected zero entry pruned, got %d entries", len(balances))
	}
	if got := mustBalance(t, l, bob, neo); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("bob neo: got %s", got)
	}

	if len(emitter.events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(emitter.events))
	}
	wantReasons := []string{"deposit", "deposit", "maker-give", "taker-receive", "maker-fee-give", "maker-fee-receive"}
	for i, evt := range emitter.events {
		payload, ok := events.Payload(evt)
		if !ok {
			t.Fatalf("event %d has no payload", i)
		}
		if payload.Type != EventTypeTransferred {
			t.Fatalf("event %d type %s", i, payload.Type)
		}
		if payload.Attributes["reasonName"] != wantReasons[i] {
			t.Fatalf("event %d reason %s want %s", i, payload.Attributes["reasonName"], wantReasons[i])
		}
	}
	if emitter.events[2].(events.Record).Evt.Attributes["amount"] != "-40" {
		t.Fatalf("expected signed debit amount")
	}
}

func TestExecuteNegativeBalanceIsFatal(t *testing.T) {
	l, mgr, emitter := newTestLedger(t)
	alice := newTestAddress(0x01)
	bob := newTestAddress(0x02)
	gas := newTestToken(0xAA)

	seed := NewBalanceChanges()
	seed.Increase(alice, gas, big.NewInt(10), ReasonDeposit)
	if err := l.Execute(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before := mgr.Hash()
	emitter.events = nil

	batch := NewBalanceChanges()
	batch.Increase(bob, gas, big.NewInt(11), ReasonTakerReceive)
	batch.Reduce(alice, gas, big.NewInt(11), ReasonTakerGive)
	err := l.Execute(batch)
	if !coreerrors.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if mgr.Hash() != before {
		t.Fatalf("state changed despite fatal batch")
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no events, got %d", len(emitter.events))
	}
}

func TestExecuteCreditThenDebitSameAddress(t *testing.T) {
	l, _, _ := newTestLedger(t)
	alice := newTestAddress(0x01)
	gas := newTestToken(0xAA)

	batch := NewBalanceChanges()
	batch.Increase(alice, gas, big.NewInt(3), ReasonDeposit)
	batch.Reduce(alice, gas, big.NewInt(3), ReasonWithdrawal)
	if err := l.Execute(batch); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := mustBalance(t, l, alice, gas); got.Sign() != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
}

func TestExecuteRejectsNegativeMagnitude(t *testing.T) {
	l, _, _ := newTestLedger(t)
	batch := NewBalanceChanges()
	batch.Increase(newTestAddress(0x01), newTestToken(0xAA), big.NewInt(-1), ReasonDeposit)
	if err := l.Execute(batch); !coreerrors.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestCorruptBalanceRecordIsFatal(t *testing.T) {
	l, mgr, _ := newTestLedger(t)
	alice := newTestAddress(0x01)
	if err := mgr.KVPut(balanceKey(alice), []byte{0x01}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := l.Balances(alice); !coreerrors.IsFatal(err) {
		t.Fatalf("expected fatal decode error, got %v", err)
	}
}

func TestBalanceChangesNet(t *testing.T) {
	alice := newTestAddress(0x01)
	bob := newTestAddress(0x02)
	gas := newTestToken(0xAA)

	batch := NewBalanceChanges()
	batch.Reduce(alice, gas, big.NewInt(10), ReasonTakerGive)
	batch.Increase(bob, gas, big.NewInt(7), ReasonMakerReceive)
	batch.Increase(bob, gas, big.NewInt(3), ReasonTakerFeeReceive)

	if got := batch.Net(bob, gas); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("bob net: %s", got)
	}
	if got := batch.NetAsset(gas); got.Sign() != 0 {
		t.Fatalf("expected conserved batch, net %s", got)
	}
	addrs := batch.Addresses()
	if len(addrs) != 2 || addrs[0] != alice || addrs[1] != bob {
		t.Fatalf("unexpected address order %x", addrs)
	}
}

func TestBalanceRecordRoundTrip(t *testing.T) {
	in := Balances{
		newTestToken(0x02):          big.NewInt(7),
		newTestToken(0x01):          big.NewInt(9),
		NativeAsset([32]byte{0x03}): big.NewInt(1),
	}
	out, err := decodeBalances(encodeBalances(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d entries, got %d", len(in), len(out))
	}
	for asset, amount := range in {
		if out.Get(asset).Cmp(amount) != 0 {
			t.Fatalf("asset %s: got %s want %s", asset, out.Get(asset), amount)
		}
	}
}
