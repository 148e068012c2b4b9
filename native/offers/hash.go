package offers

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"brokerchain/native/ledger"
)

// amountWord encodes a non-negative amount as a 32-byte big-endian word. The
// boolean is false when the amount does not fit in 256 bits.
func amountWord(v *big.Int) ([32]byte, bool) {
	if v == nil || v.Sign() < 0 {
		return [32]byte{}, false
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return [32]byte{}, false
	}
	return word.Bytes32(), true
}

// OfferHash derives the identity of an offer from its immutable terms.
func OfferHash(maker [20]byte, offerAsset, wantAsset ledger.AssetID, offerAmount, wantAmount *big.Int, nonce []byte) ([32]byte, bool) {
	offerWord, ok := amountWord(offerAmount)
	if !ok {
		return [32]byte{}, false
	}
	wantWord, ok := amountWord(wantAmount)
	if !ok {
		return [32]byte{}, false
	}
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(
		maker[:],
		offerAsset.Bytes(),
		wantAsset.Bytes(),
		offerWord[:],
		wantWord[:],
		nonce,
	))
	return out, true
}
