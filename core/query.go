package core

import (
	"encoding/hex"
	"math/big"

	"brokerchain/crypto"
	"brokerchain/native/ledger"
	"brokerchain/native/offers"
	"brokerchain/native/params"
	"brokerchain/native/spend"
	"brokerchain/native/swap"
	"brokerchain/native/withdraw"
)

// SettingsView is the JSON rendering of params.Settings.
type SettingsView struct {
	Owner               string `json:"owner"`
	Coordinator         string `json:"coordinator"`
	WithdrawCoordinator string `json:"withdrawCoordinator"`
	FeeAddress          string `json:"feeAddress"`
	AnnounceDelay       uint64 `json:"announceDelay"`
	State               string `json:"state"`
}

// OfferView is the JSON rendering of an open offer.
type OfferView struct {
	Hash              string `json:"hash"`
	Maker             string `json:"maker"`
	OfferAsset        string `json:"offerAsset"`
	OfferAmount       string `json:"offerAmount"`
	WantAsset         string `json:"wantAsset"`
	WantAmount        string `json:"wantAmount"`
	Available         string `json:"available"`
	MakerFeeAsset     string `json:"makerFeeAsset"`
	MakerFeeAvailable string `json:"makerFeeAvailable"`
	Nonce             string `json:"nonce"`
}

// SwapView is the JSON rendering of a swap.
type SwapView struct {
	HashLock  string `json:"hashLock"`
	Maker     string `json:"maker"`
	Taker     string `json:"taker"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	ExpiresAt uint64 `json:"expiresAt"`
	FeeAsset  string `json:"feeAsset"`
	FeeAmount string `json:"feeAmount"`
	BurnFee   bool   `json:"burnFee"`
	Active    bool   `json:"active"`
}

// AnnouncementView is the JSON rendering of a pending withdrawal.
type AnnouncementView struct {
	Address     string `json:"address"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	AnnouncedAt uint64 `json:"announcedAt"`
}

// ReservationView is the JSON rendering of a marked withdrawal.
type ReservationView struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

func newSettingsView(s params.Settings) SettingsView {
	return SettingsView{
		Owner:               crypto.FormatAddress(s.Owner),
		Coordinator:         crypto.FormatAddress(s.Coordinator),
		WithdrawCoordinator: crypto.FormatAddress(s.WithdrawCoordinator),
		FeeAddress:          crypto.FormatAddress(s.FeeAddress),
		AnnounceDelay:       s.AnnounceDelay,
		State:               s.State.String(),
	}
}

func newOfferView(o *offers.Offer) *OfferView {
	return &OfferView{
		Hash:              hex.EncodeToString(o.Hash[:]),
		Maker:             crypto.FormatAddress(o.Maker),
		OfferAsset:        o.OfferAsset.String(),
		OfferAmount:       amountString(o.OfferAmount),
		WantAsset:         o.WantAsset.String(),
		WantAmount:        amountString(o.WantAmount),
		Available:         amountString(o.Available),
		MakerFeeAsset:     o.MakerFeeAsset.String(),
		MakerFeeAvailable: amountString(o.MakerFeeAvailable),
		Nonce:             hex.EncodeToString(o.Nonce),
	}
}

func newSwapView(s *swap.Swap) *SwapView {
	return &SwapView{
		HashLock:  hex.EncodeToString(s.HashLock[:]),
		Maker:     crypto.FormatAddress(s.Maker),
		Taker:     crypto.FormatAddress(s.Taker),
		Asset:     s.Asset.String(),
		Amount:    amountString(s.Amount),
		ExpiresAt: s.ExpiresAt,
		FeeAsset:  s.FeeAsset.String(),
		FeeAmount: amountString(s.FeeAmount),
		BurnFee:   s.BurnFee,
		Active:    s.Active,
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Settings returns the committed configuration aggregate.
func (n *Node) Settings() (params.Settings, error) {
	var out params.Settings
	err := n.View(func(op *Op) error {
		out = op.Settings
		return nil
	})
	return out, err
}

// TradingState returns the committed lifecycle state.
func (n *Node) TradingState() (params.TradingState, error) {
	s, err := n.Settings()
	return s.State, err
}

// Balance returns one committed balance.
func (n *Node) Balance(addr [20]byte, asset ledger.AssetID) (*big.Int, error) {
	var out *big.Int
	err := n.View(func(op *Op) error {
		bal, err := op.Ledger.Balance(addr, asset)
		out = bal
		return err
	})
	return out, err
}

// Balances returns every non-zero balance of addr keyed by asset hex.
func (n *Node) Balances(addr [20]byte) (map[string]string, error) {
	out := make(map[string]string)
	err := n.View(func(op *Op) error {
		balances, err := op.Ledger.Balances(addr)
		if err != nil {
			return err
		}
		for _, asset := range balances.Assets() {
			out[asset.String()] = balances.Get(asset).String()
		}
		return nil
	})
	return out, err
}

// Offer returns the open offer with the given hash.
func (n *Node) Offer(hash [32]byte) (*OfferView, bool, error) {
	var out *OfferView
	err := n.View(func(op *Op) error {
		offer, ok, err := op.Offers.Offer(hash)
		if err != nil || !ok {
			return err
		}
		out = newOfferView(offer)
		return nil
	})
	return out, out != nil, err
}

// Swap returns the swap locked under hash.
func (n *Node) Swap(hash [32]byte) (*SwapView, bool, error) {
	var out *SwapView
	err := n.View(func(op *Op) error {
		s, ok, err := op.Swaps.Swap(hash)
		if err != nil || !ok {
			return err
		}
		out = newSwapView(s)
		return nil
	})
	return out, out != nil, err
}

// AnnouncedWithdraw returns the pending withdrawal announcement.
func (n *Node) AnnouncedWithdraw(addr [20]byte, asset ledger.AssetID) (*AnnouncementView, bool, error) {
	var out *AnnouncementView
	err := n.View(func(op *Op) error {
		a, ok, err := op.Withdraw.Announcement(addr, asset)
		if err != nil || !ok {
			return err
		}
		out = newAnnouncementView(a)
		return nil
	})
	return out, out != nil, err
}

func newAnnouncementView(a *withdraw.Announcement) *AnnouncementView {
	return &AnnouncementView{
		Address:     crypto.FormatAddress(a.Address),
		Asset:       a.Asset.String(),
		Amount:      amountString(a.Amount),
		AnnouncedAt: a.AnnouncedAt,
	}
}

// AnnouncedCancel returns when cancellation of the offer was announced.
func (n *Node) AnnouncedCancel(hash [32]byte) (uint64, bool, error) {
	var (
		at    uint64
		found bool
	)
	err := n.View(func(op *Op) error {
		var err error
		at, found, err = op.Offers.CancelAnnouncement(hash)
		return err
	})
	return at, found, err
}

// Reservation returns the marked withdrawal with the given id.
func (n *Node) Reservation(id [32]byte) (*ReservationView, bool, error) {
	var out *ReservationView
	err := n.View(func(op *Op) error {
		r, ok, err := op.Withdraw.Reservation(id)
		if err != nil || !ok {
			return err
		}
		out = &ReservationView{
			ID:      hex.EncodeToString(r.ID[:]),
			Address: crypto.FormatAddress(r.Address),
			Asset:   r.Asset.String(),
			Amount:  amountString(r.Amount),
		}
		return nil
	})
	return out, out != nil, err
}

// IsWhitelisted reports whether token is listed on track.
func (n *Node) IsWhitelisted(token [20]byte, track spend.Track) (bool, error) {
	var out bool
	err := n.View(func(op *Op) error {
		var err error
		out, err = op.Spend.IsWhitelistedOn(track, token)
		return err
	})
	return out, err
}

// IsSpender reports whether spender is on the spender whitelist.
func (n *Node) IsSpender(spender [20]byte) (bool, error) {
	var out bool
	err := n.View(func(op *Op) error {
		var err error
		out, err = op.Spend.IsSpender(spender)
		return err
	})
	return out, err
}

// IsApproved reports whether owner has approved spender.
func (n *Node) IsApproved(owner, spender [20]byte) (bool, error) {
	var out bool
	err := n.View(func(op *Op) error {
		var err error
		out, err = op.Spend.IsApproved(owner, spender)
		return err
	})
	return out, err
}
