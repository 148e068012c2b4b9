package swap

import (
	"math/big"

	"brokerchain/native/ledger"
)

// Swap is a hash-time-locked transfer from a maker to a named taker. The
// locked amount (and a fee in a separate asset) is debited at creation.
type Swap struct {
	HashLock  [32]byte
	Maker     [20]byte
	Taker     [20]byte
	Asset     ledger.AssetID
	Amount    *big.Int
	ExpiresAt uint64
	FeeAsset  ledger.AssetID
	FeeAmount *big.Int
	BurnFee   bool
	Active    bool
}

// Clone returns a deep copy of the swap.
func (s *Swap) Clone() *Swap {
	if s == nil {
		return nil
	}
	out := *s
	out.Amount = cloneBigInt(s.Amount)
	out.FeeAmount = cloneBigInt(s.FeeAmount)
	return &out
}

// FeeSeparate reports whether the fee was debited in its own asset rather
// than netted from the locked amount.
func (s *Swap) FeeSeparate() bool {
	return s.FeeAsset != s.Asset
}

// CreateParams describes a new swap.
type CreateParams struct {
	Maker     [20]byte
	Taker     [20]byte
	HashLock  [32]byte
	Asset     ledger.AssetID
	Amount    *big.Int
	ExpiresAt uint64
	FeeAsset  ledger.AssetID
	FeeAmount *big.Int
	BurnFee   bool
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
