package state

import (
	"math/big"
	"testing"

	"brokerchain/storage"
	"brokerchain/storage/trie"
)

type sampleRecord struct {
	Owner  [20]byte
	Amount *big.Int
	Active bool
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	return NewManager(tr)
}

func TestKVRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	key := []byte("swaps/abc")
	in := sampleRecord{Owner: [20]byte{0x01}, Amount: big.NewInt(42), Active: true}
	if err := mgr.KVPut(key, &in); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out sampleRecord
	ok, err := mgr.KVGet(key, &out)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if out.Owner != in.Owner || out.Amount.Cmp(in.Amount) != 0 || !out.Active {
		t.Fatalf("unexpected record: %+v", out)
	}
	has, err := mgr.KVHas(key)
	if err != nil || !has {
		t.Fatalf("expected key present")
	}
	if err := mgr.KVDelete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	has, err = mgr.KVHas(key)
	if err != nil || has {
		t.Fatalf("expected key removed")
	}
}

func TestKVRejectsEmptyKey(t *testing.T) {
	mgr := newTestManager(t)
	if err := mgr.KVPut(nil, uint64(1)); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := mgr.KVGet(nil, nil); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if err := mgr.KVDelete([]byte{}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestKVGetDecodeFailure(t *testing.T) {
	mgr := newTestManager(t)
	key := []byte("offers/bad")
	if err := mgr.KVPut(key, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out sampleRecord
	if _, err := mgr.KVGet(key, &out); err == nil {
		t.Fatalf("expected decode error")
	}
}
