package offers

import (
	"math/big"

	"brokerchain/native/ledger"
)

// Offer is an open maker order. Available counts down as fills consume the
// offered side; the offer is deleted once it reaches zero.
type Offer struct {
	Hash              [32]byte
	Maker             [20]byte
	OfferAsset        ledger.AssetID
	OfferAmount       *big.Int
	WantAsset         ledger.AssetID
	WantAmount        *big.Int
	Available         *big.Int
	MakerFeeAsset     ledger.AssetID
	MakerFeeAvailable *big.Int
	Nonce             []byte
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	out := *o
	out.OfferAmount = cloneBigInt(o.OfferAmount)
	out.WantAmount = cloneBigInt(o.WantAmount)
	out.Available = cloneBigInt(o.Available)
	out.MakerFeeAvailable = cloneBigInt(o.MakerFeeAvailable)
	out.Nonce = append([]byte(nil), o.Nonce...)
	return &out
}

// MakerFeeEscrowed reports whether the maker fee was debited up front. Fees
// denominated in the wanted asset are netted from proceeds instead.
func (o *Offer) MakerFeeEscrowed() bool {
	return o.MakerFeeAsset != o.WantAsset
}

// MakeParams describes a new offer.
type MakeParams struct {
	Maker          [20]byte
	OfferAsset     ledger.AssetID
	OfferAmount    *big.Int
	WantAsset      ledger.AssetID
	WantAmount     *big.Int
	MakerFeeAsset  ledger.AssetID
	MakerFeeAmount *big.Int
	Nonce          []byte
}

// FillParams describes a taker's fill against an open offer.
type FillParams struct {
	Filler         [20]byte
	OfferHash      [32]byte
	TakeAmount     *big.Int
	TakerFeeAsset  ledger.AssetID
	TakerFeeAmount *big.Int
	BurnTakerFee   bool
	MakerFeeAmount *big.Int
	BurnMakerFee   bool
}

// FillResult reports the amounts settled by a successful fill.
type FillResult struct {
	OfferHash   [32]byte
	TakeAmount  *big.Int
	FillAmount  *big.Int
	Remaining   *big.Int
	OfferClosed bool
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
