package swap

import (
	"fmt"
	"math/big"

	coreerrors "brokerchain/core/errors"
	"brokerchain/native/ledger"
)

var swapPrefix = []byte("swaps/")

const swapRecordVersion uint8 = 1

type storedSwap struct {
	Version   uint8
	Maker     [20]byte
	Taker     [20]byte
	Asset     []byte
	Amount    *big.Int
	ExpiresAt uint64
	FeeAsset  []byte
	FeeAmount *big.Int
	BurnFee   bool
	Active    bool
}

func swapKey(hash [32]byte) []byte {
	return append(append([]byte(nil), swapPrefix...), hash[:]...)
}

func encodeSwap(s *Swap) *storedSwap {
	return &storedSwap{
		Version:   swapRecordVersion,
		Maker:     s.Maker,
		Taker:     s.Taker,
		Asset:     s.Asset.Bytes(),
		Amount:    cloneBigInt(s.Amount),
		ExpiresAt: s.ExpiresAt,
		FeeAsset:  s.FeeAsset.Bytes(),
		FeeAmount: cloneBigInt(s.FeeAmount),
		BurnFee:   s.BurnFee,
		Active:    s.Active,
	}
}

func decodeSwap(hash [32]byte, rec *storedSwap) (*Swap, error) {
	if rec.Version != swapRecordVersion {
		return nil, fmt.Errorf("swap: unsupported record version %d", rec.Version)
	}
	asset, err := ledger.ParseAssetID(rec.Asset)
	if err != nil {
		return nil, fmt.Errorf("swap: asset: %w", err)
	}
	feeAsset, err := ledger.ParseAssetID(rec.FeeAsset)
	if err != nil {
		return nil, fmt.Errorf("swap: fee asset: %w", err)
	}
	if rec.Amount == nil || rec.FeeAmount == nil {
		return nil, fmt.Errorf("swap: record missing amounts")
	}
	return &Swap{
		HashLock:  hash,
		Maker:     rec.Maker,
		Taker:     rec.Taker,
		Asset:     asset,
		Amount:    cloneBigInt(rec.Amount),
		ExpiresAt: rec.ExpiresAt,
		FeeAsset:  feeAsset,
		FeeAmount: cloneBigInt(rec.FeeAmount),
		BurnFee:   rec.BurnFee,
		Active:    rec.Active,
	}, nil
}

// Swap loads the swap locked by hash, active or not.
func (e *Engine) Swap(hash [32]byte) (*Swap, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	var rec storedSwap
	ok, err := e.state.KVGet(swapKey(hash), &rec)
	if err != nil {
		return nil, false, coreerrors.Fatal(err)
	}
	if !ok {
		return nil, false, nil
	}
	s, err := decodeSwap(hash, &rec)
	if err != nil {
		return nil, false, coreerrors.Fatal(err)
	}
	return s, true, nil
}

func (e *Engine) putSwap(s *Swap) error {
	if err := e.state.KVPut(swapKey(s.HashLock), encodeSwap(s)); err != nil {
		return coreerrors.Fatal(fmt.Errorf("swap: store swap: %w", err))
	}
	return nil
}
