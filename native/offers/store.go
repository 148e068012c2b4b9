package offers

import (
	"fmt"
	"math/big"

	coreerrors "brokerchain/core/errors"
	"brokerchain/native/ledger"
)

var (
	offerPrefix          = []byte("offers/")
	cancelAnnouncePrefix = []byte("offerCancelAnnounce/")
)

const offerRecordVersion uint8 = 1

type storedOffer struct {
	Version           uint8
	Maker             [20]byte
	OfferAsset        []byte
	OfferAmount       *big.Int
	WantAsset         []byte
	WantAmount        *big.Int
	Available         *big.Int
	MakerFeeAsset     []byte
	MakerFeeAvailable *big.Int
	Nonce             []byte
}

type storedAnnouncement struct {
	AnnouncedAt uint64
}

func offerKey(hash [32]byte) []byte {
	return append(append([]byte(nil), offerPrefix...), hash[:]...)
}

func cancelAnnounceKey(hash [32]byte) []byte {
	return append(append([]byte(nil), cancelAnnouncePrefix...), hash[:]...)
}

func encodeOffer(o *Offer) *storedOffer {
	return &storedOffer{
		Version:           offerRecordVersion,
		Maker:             o.Maker,
		OfferAsset:        o.OfferAsset.Bytes(),
		OfferAmount:       cloneBigInt(o.OfferAmount),
		WantAsset:         o.WantAsset.Bytes(),
		WantAmount:        cloneBigInt(o.WantAmount),
		Available:         cloneBigInt(o.Available),
		MakerFeeAsset:     o.MakerFeeAsset.Bytes(),
		MakerFeeAvailable: cloneBigInt(o.MakerFeeAvailable),
		Nonce:             append([]byte(nil), o.Nonce...),
	}
}

func decodeOffer(hash [32]byte, rec *storedOffer) (*Offer, error) {
	if rec.Version != offerRecordVersion {
		return nil, fmt.Errorf("offers: unsupported record version %d", rec.Version)
	}
	offerAsset, err := ledger.ParseAssetID(rec.OfferAsset)
	if err != nil {
		return nil, fmt.Errorf("offers: offer asset: %w", err)
	}
	wantAsset, err := ledger.ParseAssetID(rec.WantAsset)
	if err != nil {
		return nil, fmt.Errorf("offers: want asset: %w", err)
	}
	feeAsset, err := ledger.ParseAssetID(rec.MakerFeeAsset)
	if err != nil {
		return nil, fmt.Errorf("offers: maker fee asset: %w", err)
	}
	if rec.OfferAmount == nil || rec.WantAmount == nil || rec.Available == nil || rec.MakerFeeAvailable == nil {
		return nil, fmt.Errorf("offers: record missing amounts")
	}
	return &Offer{
		Hash:              hash,
		Maker:             rec.Maker,
		OfferAsset:        offerAsset,
		OfferAmount:       cloneBigInt(rec.OfferAmount),
		WantAsset:         wantAsset,
		WantAmount:        cloneBigInt(rec.WantAmount),
		Available:         cloneBigInt(rec.Available),
		MakerFeeAsset:     feeAsset,
		MakerFeeAvailable: cloneBigInt(rec.MakerFeeAvailable),
		Nonce:             append([]byte(nil), rec.Nonce...),
	}, nil
}

// Offer loads an open offer. The boolean is false when no offer exists.
func (e *Engine) Offer(hash [32]byte) (*Offer, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	var rec storedOffer
	ok, err := e.state.KVGet(offerKey(hash), &rec)
	if err != nil {
		return nil, false, coreerrors.Fatal(err)
	}
	if !ok {
		return nil, false, nil
	}
	offer, err := decodeOffer(hash, &rec)
	if err != nil {
		return nil, false, coreerrors.Fatal(err)
	}
	return offer, true, nil
}

func (e *Engine) putOffer(o *Offer) error {
	if err := e.state.KVPut(offerKey(o.Hash), encodeOffer(o)); err != nil {
		return coreerrors.Fatal(fmt.Errorf("offers: store offer: %w", err))
	}
	return nil
}

func (e *Engine) deleteOffer(hash [32]byte) error {
	if err := e.state.KVDelete(offerKey(hash)); err != nil {
		return coreerrors.Fatal(fmt.Errorf("offers: delete offer: %w", err))
	}
	if err := e.state.KVDelete(cancelAnnounceKey(hash)); err != nil {
		return coreerrors.Fatal(fmt.Errorf("offers: delete cancel announcement: %w", err))
	}
	return nil
}

// CancelAnnouncement returns the time a cancel was announced for hash.
func (e *Engine) CancelAnnouncement(hash [32]byte) (uint64, bool, error) {
	if e == nil || e.state == nil {
		return 0, false, errNilState
	}
	var rec storedAnnouncement
	ok, err := e.state.KVGet(cancelAnnounceKey(hash), &rec)
	if err != nil {
		return 0, false, coreerrors.Fatal(err)
	}
	return rec.AnnouncedAt, ok, nil
}
