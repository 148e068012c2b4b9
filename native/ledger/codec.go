package ledger

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
)

// balanceRecordVersion tags the stored layout of a balance record.
const balanceRecordVersion uint8 = 1

// Balances maps an asset to a strictly positive amount. Missing assets read as
// zero.
type Balances map[AssetID]*big.Int

// Get returns the balance held in asset, zero when absent.
func (b Balances) Get(asset AssetID) *big.Int {
	if v, ok := b[asset]; ok && v != nil {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// Assets returns the held assets in byte order.
func (b Balances) Assets() []AssetID {
	out := make([]AssetID, 0, len(b))
	for asset := range b {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].raw < out[j].raw })
	return out
}

type storedBalanceEntry struct {
	Asset  []byte
	Amount *big.Int
}

type storedBalances struct {
	Version uint8
	Entries []storedBalanceEntry
}

func encodeBalances(b Balances) *storedBalances {
	record := &storedBalances{Version: balanceRecordVersion}
	for _, asset := range b.Assets() {
		amount := b[asset]
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		record.Entries = append(record.Entries, storedBalanceEntry{
			Asset:  asset.Bytes(),
			Amount: new(big.Int).Set(amount),
		})
	}
	return record
}

func decodeBalances(record *storedBalances) (Balances, error) {
	if record == nil {
		return Balances{}, nil
	}
	if record.Version != balanceRecordVersion {
		return nil, fmt.Errorf("ledger: unsupported balance record version %d", record.Version)
	}
	out := make(Balances, len(record.Entries))
	var prev []byte
	for i, entry := range record.Entries {
		asset, err := ParseAssetID(entry.Asset)
		if err != nil {
			return nil, fmt.Errorf("ledger: balance entry %d: %w", i, err)
		}
		if i > 0 && bytes.Compare(prev, entry.Asset) >= 0 {
			return nil, fmt.Errorf("ledger: balance entries out of order at %d", i)
		}
		if entry.Amount == nil || entry.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("ledger: non-positive balance stored for %s", asset)
		}
		out[asset] = new(big.Int).Set(entry.Amount)
		prev = entry.Asset
	}
	return out, nil
}
