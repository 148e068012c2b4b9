package ledger

import "math/big"

// Change is a single signed balance delta.
type Change struct {
	Address [20]byte
	Asset   AssetID
	Amount  *big.Int
	Reason  Reason
}

// BalanceChanges is an ordered batch of deltas. The batch remembers the
// global order in which changes were added so notifications can be emitted
// in that order, and groups changes per address so each balance record is
// read and written once.
type BalanceChanges struct {
	changes []Change
	byAddr  map[[20]byte][]int
	order   [][20]byte
	invalid *Change
}

// NewBalanceChanges returns an empty batch.
func NewBalanceChanges() *BalanceChanges {
	return &BalanceChanges{byAddr: make(map[[20]byte][]int)}
}

func (b *BalanceChanges) add(addr [20]byte, asset AssetID, amount *big.Int) {
	if b.byAddr == nil {
		b.byAddr = make(map[[20]byte][]int)
	}
	if _, ok := b.byAddr[addr]; !ok {
		b.order = append(b.order, addr)
	}
	b.byAddr[addr] = append(b.byAddr[addr], len(b.changes))
	b.changes = append(b.changes, Change{Address: addr, Asset: asset, Amount: amount})
}

// Increase credits amount to addr.
func (b *BalanceChanges) Increase(addr [20]byte, asset AssetID, amount *big.Int, reason Reason) {
	b.checkAmount(addr, asset, amount, reason)
	b.add(addr, asset, cloneBigInt(amount))
	b.changes[len(b.changes)-1].Reason = reason
}

// Reduce debits amount from addr.
func (b *BalanceChanges) Reduce(addr [20]byte, asset AssetID, amount *big.Int, reason Reason) {
	b.checkAmount(addr, asset, amount, reason)
	b.add(addr, asset, new(big.Int).Neg(cloneBigInt(amount)))
	b.changes[len(b.changes)-1].Reason = reason
}

// Negative magnitudes flip the direction of a delta and are rejected when the
// batch executes.
func (b *BalanceChanges) checkAmount(addr [20]byte, asset AssetID, amount *big.Int, reason Reason) {
	if b.invalid == nil && amount != nil && amount.Sign() < 0 {
		b.invalid = &Change{Address: addr, Asset: asset, Amount: cloneBigInt(amount), Reason: reason}
	}
}

// Len returns the number of deltas in the batch.
func (b *BalanceChanges) Len() int {
	if b == nil {
		return 0
	}
	return len(b.changes)
}

// Changes returns a copy of the deltas in insertion order.
func (b *BalanceChanges) Changes() []Change {
	if b == nil {
		return nil
	}
	out := make([]Change, len(b.changes))
	for i, c := range b.changes {
		c.Amount = cloneBigInt(c.Amount)
		out[i] = c
	}
	return out
}

// Addresses returns the distinct addresses touched, in first-touch order.
func (b *BalanceChanges) Addresses() [][20]byte {
	if b == nil {
		return nil
	}
	out := make([][20]byte, len(b.order))
	copy(out, b.order)
	return out
}

// Net returns the summed delta for addr in asset.
func (b *BalanceChanges) Net(addr [20]byte, asset AssetID) *big.Int {
	total := big.NewInt(0)
	if b == nil {
		return total
	}
	for _, idx := range b.byAddr[addr] {
		c := b.changes[idx]
		if c.Asset == asset {
			total.Add(total, c.Amount)
		}
	}
	return total
}

// NetAsset returns the summed delta for asset across every address. A batch
// that only moves value internally nets to zero.
func (b *BalanceChanges) NetAsset(asset AssetID) *big.Int {
	total := big.NewInt(0)
	if b == nil {
		return total
	}
	for _, c := range b.changes {
		if c.Asset == asset {
			total.Add(total, c.Amount)
		}
	}
	return total
}

func (b *BalanceChanges) forAddress(addr [20]byte) []Change {
	idxs := b.byAddr[addr]
	out := make([]Change, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, b.changes[idx])
	}
	return out
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
