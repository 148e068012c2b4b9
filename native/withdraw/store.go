package withdraw

import (
	"fmt"
	"math/big"

	coreerrors "brokerchain/core/errors"
	"brokerchain/native/ledger"
)

var (
	announcePrefix    = []byte("withdrawAnnounce/")
	reservationPrefix = []byte("withdrawReservation/")
)

const recordVersion uint8 = 1

type storedAnnouncement struct {
	Version     uint8
	AnnouncedAt uint64
	Amount      *big.Int
}

type storedReservation struct {
	Version uint8
	Address [20]byte
	Asset   []byte
	Amount  *big.Int
}

func announceKey(addr [20]byte, asset ledger.AssetID) []byte {
	key := append(append([]byte(nil), announcePrefix...), addr[:]...)
	return append(key, asset.Bytes()...)
}

func reservationKey(id [32]byte) []byte {
	return append(append([]byte(nil), reservationPrefix...), id[:]...)
}

// Announcement loads the pending announcement for (addr, asset).
func (e *Engine) Announcement(addr [20]byte, asset ledger.AssetID) (*Announcement, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	var rec storedAnnouncement
	ok, err := e.state.KVGet(announceKey(addr, asset), &rec)
	if err != nil {
		return nil, false, coreerrors.Fatal(err)
	}
	if !ok {
		return nil, false, nil
	}
	if rec.Version != recordVersion || rec.Amount == nil {
		return nil, false, coreerrors.Fatalf("withdraw: malformed announcement for %x", addr)
	}
	return &Announcement{Address: addr, Asset: asset, AnnouncedAt: rec.AnnouncedAt, Amount: cloneBigInt(rec.Amount)}, true, nil
}

func (e *Engine) putAnnouncement(a *Announcement) error {
	rec := &storedAnnouncement{Version: recordVersion, AnnouncedAt: a.AnnouncedAt, Amount: cloneBigInt(a.Amount)}
	if err := e.state.KVPut(announceKey(a.Address, a.Asset), rec); err != nil {
		return coreerrors.Fatal(fmt.Errorf("withdraw: store announcement: %w", err))
	}
	return nil
}

func (e *Engine) deleteAnnouncement(addr [20]byte, asset ledger.AssetID) error {
	if err := e.state.KVDelete(announceKey(addr, asset)); err != nil {
		return coreerrors.Fatal(fmt.Errorf("withdraw: delete announcement: %w", err))
	}
	return nil
}

// Reservation loads the reservation recorded for a marked transfer.
func (e *Engine) Reservation(id [32]byte) (*Reservation, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	var rec storedReservation
	ok, err := e.state.KVGet(reservationKey(id), &rec)
	if err != nil {
		return nil, false, coreerrors.Fatal(err)
	}
	if !ok {
		return nil, false, nil
	}
	asset, err := ledger.ParseAssetID(rec.Asset)
	if err != nil || rec.Version != recordVersion || rec.Amount == nil {
		return nil, false, coreerrors.Fatalf("withdraw: malformed reservation %x", id)
	}
	return &Reservation{ID: id, Address: rec.Address, Asset: asset, Amount: cloneBigInt(rec.Amount)}, true, nil
}

func (e *Engine) putReservation(r *Reservation) error {
	rec := &storedReservation{Version: recordVersion, Address: r.Address, Asset: r.Asset.Bytes(), Amount: cloneBigInt(r.Amount)}
	if err := e.state.KVPut(reservationKey(r.ID), rec); err != nil {
		return coreerrors.Fatal(fmt.Errorf("withdraw: store reservation: %w", err))
	}
	return nil
}

func (e *Engine) deleteReservation(id [32]byte) error {
	if err := e.state.KVDelete(reservationKey(id)); err != nil {
		return coreerrors.Fatal(fmt.Errorf("withdraw: delete reservation: %w", err))
	}
	return nil
}
