package ledger

import (
	"errors"
	"fmt"
	"math/big"

	coreerrors "brokerchain/core/errors"
	"brokerchain/core/events"
	"brokerchain/core/types"
)

var errNilState = errors.New("ledger: state not configured")

var balancesPrefix = []byte("balances/")

// kvState is the slice of the state manager the ledger relies on.
type kvState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Ledger owns per-address balance records and applies balance-change batches.
type Ledger struct {
	state   kvState
	emitter events.Emitter
}

// NewLedger creates a ledger with a no-op emitter.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state kvState) { l.state = state }

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt *types.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(events.Record{Evt: evt})
}

func balanceKey(addr [20]byte) []byte {
	key := make([]byte, len(balancesPrefix)+len(addr))
	copy(key, balancesPrefix)
	copy(key[len(balancesPrefix):], addr[:])
	return key
}

// Balances returns every non-zero balance held by addr.
func (l *Ledger) Balances(addr [20]byte) (Balances, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	var record storedBalances
	ok, err := l.state.KVGet(balanceKey(addr), &record)
	if err != nil {
		return nil, coreerrors.Fatal(err)
	}
	if !ok {
		return Balances{}, nil
	}
	balances, err := decodeBalances(&record)
	if err != nil {
		return nil, coreerrors.Fatal(err)
	}
	return balances, nil
}

// Balance returns the amount of asset held by addr.
func (l *Ledger) Balance(addr [20]byte, asset AssetID) (*big.Int, error) {
	balances, err := l.Balances(addr)
	if err != nil {
		return nil, err
	}
	return balances.Get(asset), nil
}

// HasBalance reports whether addr holds at least amount of asset.
func (l *Ledger) HasBalance(addr [20]byte, asset AssetID, amount *big.Int) (bool, error) {
	balance, err := l.Balance(addr, asset)
	if err != nil {
		return false, err
	}
	return balance.Cmp(cloneBigInt(amount)) >= 0, nil
}

// Execute applies the batch. Every distinct address is read once, all of its
// deltas are applied in memory, and the result is written once. A delta that
// would drive an entry negative aborts the batch with an invariant violation
// before anything is written. One transferred notification is emitted per
// delta in batch order once all records are stored.
func (l *Ledger) Execute(changes *BalanceChanges) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if changes.Len() == 0 {
		return nil
	}
	if bad := changes.invalid; bad != nil {
		return coreerrors.Fatalf("ledger: negative magnitude %s for %x (reason %s)", bad.Amount, bad.Address, bad.Reason)
	}
	for _, c := range changes.changes {
		if c.Asset.IsZero() {
			return coreerrors.Fatalf("ledger: change for %x has no asset", c.Address)
		}
	}

	addrs := changes.Addresses()
	updated := make([]Balances, len(addrs))
	for i, addr := range addrs {
		balances, err := l.Balances(addr)
		if err != nil {
			return err
		}
		for _, c := range changes.forAddress(addr) {
			next := balances.Get(c.Asset)
			next.Add(next, c.Amount)
			if next.Sign() < 0 {
				return coreerrors.Fatalf("ledger: %x balance of %s would become %s (reason %s)",
					addr, c.Asset, next, c.Reason)
			}
			if next.Sign() == 0 {
				delete(balances, c.Asset)
				continue
			}
			balances[c.Asset] = next
		}
		updated[i] = balances
	}

	for i, addr := range addrs {
		var err error
		if len(updated[i]) == 0 {
			err = l.state.KVDelete(balanceKey(addr))
		} else {
			err = l.state.KVPut(balanceKey(addr), encodeBalances(updated[i]))
		}
		if err != nil {
			return coreerrors.Fatal(fmt.Errorf("ledger: store balances: %w", err))
		}
	}

	for _, c := range changes.changes {
		l.emit(NewTransferredEvent(c))
	}
	return nil
}
