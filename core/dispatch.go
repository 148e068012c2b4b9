package core

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	coreerrors "brokerchain/core/errors"
	"brokerchain/crypto"
	nativecommon "brokerchain/native/common"
	"brokerchain/native/custody"
	"brokerchain/native/offers"
	"brokerchain/native/spend"
	"brokerchain/native/swap"
	"brokerchain/native/withdraw"
)

// ErrUnknownOperation is returned for operation names the broker does not
// serve.
var ErrUnknownOperation = coreerrors.NewDecline("core: unknown operation")

// Call is one entrypoint invocation: an operation name and its positional
// JSON arguments.
type Call struct {
	Operation string            `json:"operation"`
	Args      []json.RawMessage `json:"args"`
}

type handler struct {
	arity int
	query bool
	run   func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error)
}

var handlers = map[string]handler{
	// Owner and coordinator administration.
	"initialize": {arity: 3, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		fee, coord, wcoord := a.address(0), a.address(1), a.address(2)
		if a.err != nil {
			return nil, a.err
		}
		return true, n.Initialize(ctx, auth, fee, coord, wcoord)
	}},
	"freezeTrading": {arity: 0, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, _ *args) (interface{}, error) {
		return true, n.FreezeTrading(ctx, auth)
	}},
	"unfreezeTrading": {arity: 0, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, _ *args) (interface{}, error) {
		return true, n.UnfreezeTrading(ctx, auth)
	}},
	"setAnnounceDelay": {arity: 1, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		delay := a.uint(0)
		if a.err != nil {
			return nil, a.err
		}
		return true, n.SetAnnounceDelay(ctx, auth, delay)
	}},
	"setCoordinatorAddress":         {arity: 1, run: addressSetter((*Node).SetCoordinator)},
	"setWithdrawCoordinatorAddress": {arity: 1, run: addressSetter((*Node).SetWithdrawCoordinator)},
	"setFeeAddress":                 {arity: 1, run: addressSetter((*Node).SetFeeAddress)},
	"addToWhitelist": {arity: 2, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		asset, track := a.asset(0), a.track(1)
		if a.err != nil {
			return nil, a.err
		}
		return true, n.Execute(ctx, "addToWhitelist", auth, func(op *Op) error {
			return op.Spend.AddToWhitelist(op.Auth, op.Settings, track, asset)
		})
	}},
	"removeFromWhitelist": {arity: 2, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		asset, track := a.asset(0), a.track(1)
		if a.err != nil {
			return nil, a.err
		}
		return true, n.Execute(ctx, "removeFromWhitelist", auth, func(op *Op) error {
			return op.Spend.RemoveFromWhitelist(op.Auth, op.Settings, track, asset)
		})
	}},
	"sealWhitelist": {arity: 1, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		track := a.track(0)
		if a.err != nil {
			return nil, a.err
		}
		return true, n.Execute(ctx, "sealWhitelist", auth, func(op *Op) error {
			return op.Spend.SealWhitelist(op.Auth, op.Settings, track)
		})
	}},
	"addSpender": {arity: 1, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		spender := a.address(0)
		if a.err != nil {
			return nil, a.err
		}
		return true, n.Execute(ctx, "addSpender", auth, func(op *Op) error {
			return op.Spend.AddSpender(op.Auth, op.Settings, spender)
		})
	}},
	"removeSpender": {arity: 1, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		spender := a.address(0)
		if a.err != nil {
			return nil, a.err
		}
		return true, n.Execute(ctx, "removeSpender", auth, func(op *Op) error {
			return op.Spend.RemoveSpender(op.Auth, op.Settings, spender)
		})
	}},

	// Custody boundary.
	"deposit":                {arity: 3, run: depositHandler(custody.DepositTransfer)},
	"depositFrom":            {arity: 3, run: depositHandler(custody.DepositTransferFrom)},
	"depositFromNonStandard": {arity: 3, run: depositHandler(custody.DepositTransferFromNonStandard)},
	"receiveNative": {arity: 4, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		r := custody.NativeReceipt{TransferID: a.hash(0), Sender: a.address(1), Asset: a.asset(2), Amount: a.amount(3)}
		if a.err != nil {
			return nil, a.err
		}
		return true, n.Execute(ctx, "receiveNative", auth, func(op *Op) error {
			return op.Custody.ReceiveNative(op.Settings, r)
		})
	}},
	"burnTokens": {arity: 4, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		addr, asset, amount, reason := a.address(0), a.asset(1), a.amount(2), a.reason(3)
		if a.err != nil {
			return nil, a.err
		}
		return true, n.Execute(ctx, "burnTokens", auth, func(op *Op) error {
			return op.Custody.BurnTokens(op.Auth, op.Settings, addr, asset, amount, reason)
		})
	}},
	"sweepDustTokens": {arity: 6, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		p := custody.SweepParams{
			Originator:     a.address(0),
			Counterparty:   a.address(1),
			DustAssets:     a.assets(2),
			DustAmounts:    a.amounts(3),
			CombinedAsset:  a.asset(4),
			CombinedAmount: a.amount(5),
		}
		if a.err != nil {
			return nil, a.err
		}
		return true, n.Execute(ctx, "sweepDustTokens", auth, func(op *Op) error {
			return op.Custody.SweepDust(op.Auth, op.Settings, p)
		})
	}},

	// Offer book.
	"makeOffer": {arity: 8, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		p := offers.MakeParams{
			Maker:          a.address(0),
			OfferAsset:     a.asset(1),
			OfferAmount:    a.amount(2),
			WantAsset:      a.asset(3),
			WantAmount:     a.amount(4),
			MakerFeeAsset:  a.asset(5),
			MakerFeeAmount: a.amount(6),
			Nonce:          a.bytes(7),
		}
		if a.err != nil {
			return nil, a.err
		}
		var out *OfferView
		err := n.Execute(ctx, "makeOffer", auth, func(op *Op) error {
			offer, err := op.Offers.Make(op.Auth, op.Settings, p)
			if err != nil {
				return err
			}
			out = newOfferView(offer)
			return nil
		})
		return out, err
	}},
	"fillOffer": {arity: 8, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		p := offers.FillParams{
			Filler:         a.address(0),
			OfferHash:      a.hash(1),
			TakeAmount:     a.amount(2),
			TakerFeeAsset:  a.asset(3),
			TakerFeeAmount: a.amount(4),
			BurnTakerFee:   a.boolean(5),
			MakerFeeAmount: a.amount(6),
			BurnMakerFee:   a.boolean(7),
		}
		if a.err != nil {
			return nil, a.err
		}
		var out map[string]interface{}
		err := n.Execute(ctx, "fillOffer", auth, func(op *Op) error {
			res, err := op.Offers.Fill(op.Auth, op.Settings, p)
			if err != nil {
				return err
			}
			out = map[string]interface{}{
				"offerHash":   hex.EncodeToString(res.OfferHash[:]),
				"takeAmount":  amountString(res.TakeAmount),
				"fillAmount":  amountString(res.FillAmount),
				"remaining":   amountString(res.Remaining),
				"offerClosed": res.OfferClosed,
			}
			return nil
		})
		return out, err
	}},
	"announceCancel": {arity: 1, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		hash := a.hash(0)
		if a.err != nil {
			return nil, a.err
		}
		var at uint64
		err := n.Execute(ctx, "announceCancel", auth, func(op *Op) error {
			var err error
			at, err = op.Offers.AnnounceCancel(op.Auth, op.Settings, hash)
			return err
		})
		return at, err
	}},
	"cancelOffer": {arity: 1, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		hash := a.hash(0)
		if a.err != nil {
			return nil, a.err
		}
		return true, n.Execute(ctx, "cancelOffer", auth, func(op *Op) error {
			_, err := op.Offers.Cancel(op.Auth, op.Settings, hash)
			return err
		})
	}},

	// Withdrawals.
	"announceWithdraw": {arity: 3, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		addr, asset, amount := a.address(0), a.asset(1), a.amount(2)
		if a.err != nil {
			return nil, a.err
		}
		var out *AnnouncementView
		err := n.Execute(ctx, "announceWithdraw", auth, func(op *Op) error {
			ann, err := op.Withdraw.Announce(op.Auth, op.Settings, addr, asset, amount)
			if err != nil {
				return err
			}
			out = newAnnouncementView(ann)
			return nil
		})
		return out, err
	}},
	"withdraw": {arity: 1, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		req := a.withdrawRequest(0)
		if a.err != nil {
			return nil, a.err
		}
		var out map[string]string
		err := n.Execute(ctx, "withdraw", auth, func(op *Op) error {
			res, err := op.Withdraw.Withdraw(op.Ctx, op.Auth, op.Settings, req)
			if err != nil {
				return err
			}
			out = map[string]string{
				"stage":   res.Stage.String(),
				"address": crypto.FormatAddress(res.Address),
				"asset":   res.Asset.String(),
				"amount":  amountString(res.Amount),
			}
			return nil
		})
		return out, err
	}},

	// Atomic swaps.
	"createAtomicSwap": {arity: 9, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		p := swap.CreateParams{
			Maker:     a.address(0),
			Taker:     a.address(1),
			Asset:     a.asset(2),
			Amount:    a.amount(3),
			HashLock:  a.hash(4),
			FeeAsset:  a.asset(6),
			FeeAmount: a.amount(7),
			BurnFee:   a.boolean(8),
		}
		secondsToExpire := a.uint(5)
		if a.err != nil {
			return nil, a.err
		}
		p.ExpiresAt = uint64(n.now()) + secondsToExpire
		var out *SwapView
		err := n.Execute(ctx, "createAtomicSwap", auth, func(op *Op) error {
			s, err := op.Swaps.Create(op.Auth, op.Settings, p)
			if err != nil {
				return err
			}
			out = newSwapView(s)
			return nil
		})
		return out, err
	}},
	"executeAtomicSwap": {arity: 2, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		hash, preImage := a.hash(0), a.bytes(1)
		if a.err != nil {
			return nil, a.err
		}
		return true, n.Execute(ctx, "executeAtomicSwap", auth, func(op *Op) error {
			_, err := op.Swaps.Execute(op.Settings, hash, preImage)
			return err
		})
	}},
	"cancelAtomicSwap": {arity: 3, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		hash, fee, burn := a.hash(0), a.amount(1), a.boolean(2)
		if a.err != nil {
			return nil, a.err
		}
		var kept *big.Int
		err := n.Execute(ctx, "cancelAtomicSwap", auth, func(op *Op) error {
			var err error
			_, kept, err = op.Swaps.Cancel(op.Auth, op.Settings, hash, fee, burn)
			return err
		})
		return map[string]string{"cancelFee": amountString(kept)}, err
	}},

	// Spend delegation.
	"approveSpender": {arity: 2, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		owner, spender := a.address(0), a.address(1)
		if a.err != nil {
			return nil, a.err
		}
		return true, n.Execute(ctx, "approveSpender", auth, func(op *Op) error {
			return op.Spend.ApproveSpender(op.Auth, op.Settings, owner, spender)
		})
	}},
	"rescindApproval": {arity: 2, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		owner, spender := a.address(0), a.address(1)
		if a.err != nil {
			return nil, a.err
		}
		return true, n.Execute(ctx, "rescindApproval", auth, func(op *Op) error {
			return op.Spend.RescindApproval(op.Auth, op.Settings, owner, spender)
		})
	}},
	"spendFrom": {arity: 7, run: func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		p := spend.SpendParams{
			Caller:         a.address(0),
			From:           a.address(1),
			To:             a.address(2),
			Amount:         a.amount(3),
			Asset:          a.asset(4),
			DecreaseReason: a.bytes(5),
			IncreaseReason: a.bytes(6),
		}
		if a.err != nil {
			return nil, a.err
		}
		if !nativecommon.Signed(auth, p.Caller) {
			return nil, nativecommon.ErrMissingSignature
		}
		return true, n.Execute(ctx, "spendFrom", auth, func(op *Op) error {
			return op.Spend.SpendFrom(op.Auth, op.Settings, p)
		})
	}},

	// Queries.
	"getState": {arity: 0, query: true, run: func(n *Node, _ context.Context, _ nativecommon.Authorizer, _ *args) (interface{}, error) {
		s, err := n.TradingState()
		return s.String(), err
	}},
	"getSettings": {arity: 0, query: true, run: func(n *Node, _ context.Context, _ nativecommon.Authorizer, _ *args) (interface{}, error) {
		s, err := n.Settings()
		return newSettingsView(s), err
	}},
	"stateRoot": {arity: 0, query: true, run: func(n *Node, _ context.Context, _ nativecommon.Authorizer, _ *args) (interface{}, error) {
		return n.StateRoot().Hex(), nil
	}},
	"getBalance": {arity: 2, query: true, run: func(n *Node, _ context.Context, _ nativecommon.Authorizer, a *args) (interface{}, error) {
		addr, asset := a.address(0), a.asset(1)
		if a.err != nil {
			return nil, a.err
		}
		bal, err := n.Balance(addr, asset)
		return amountString(bal), err
	}},
	"getBalances": {arity: 1, query: true, run: func(n *Node, _ context.Context, _ nativecommon.Authorizer, a *args) (interface{}, error) {
		addr := a.address(0)
		if a.err != nil {
			return nil, a.err
		}
		return n.Balances(addr)
	}},
	"getOffer": {arity: 1, query: true, run: func(n *Node, _ context.Context, _ nativecommon.Authorizer, a *args) (interface{}, error) {
		hash := a.hash(0)
		if a.err != nil {
			return nil, a.err
		}
		offer, _, err := n.Offer(hash)
		return offer, err
	}},
	"getSwap": {arity: 1, query: true, run: func(n *Node, _ context.Context, _ nativecommon.Authorizer, a *args) (interface{}, error) {
		hash := a.hash(0)
		if a.err != nil {
			return nil, a.err
		}
		s, _, err := n.Swap(hash)
		return s, err
	}},
	"getAnnouncedWithdraw": {arity: 2, query: true, run: func(n *Node, _ context.Context, _ nativecommon.Authorizer, a *args) (interface{}, error) {
		addr, asset := a.address(0), a.asset(1)
		if a.err != nil {
			return nil, a.err
		}
		ann, _, err := n.AnnouncedWithdraw(addr, asset)
		return ann, err
	}},
	"getAnnouncedCancel": {arity: 1, query: true, run: func(n *Node, _ context.Context, _ nativecommon.Authorizer, a *args) (interface{}, error) {
		hash := a.hash(0)
		if a.err != nil {
			return nil, a.err
		}
		at, ok, err := n.AnnouncedCancel(hash)
		if !ok {
			return nil, err
		}
		return at, err
	}},
	"getReservation": {arity: 1, query: true, run: func(n *Node, _ context.Context, _ nativecommon.Authorizer, a *args) (interface{}, error) {
		id := a.hash(0)
		if a.err != nil {
			return nil, a.err
		}
		r, _, err := n.Reservation(id)
		return r, err
	}},
	"getIsWhitelisted": {arity: 2, query: true, run: func(n *Node, _ context.Context, _ nativecommon.Authorizer, a *args) (interface{}, error) {
		asset, track := a.asset(0), a.track(1)
		if a.err != nil {
			return nil, a.err
		}
		token, ok := asset.Token()
		if !ok {
			return false, nil
		}
		return n.IsWhitelisted(token, track)
	}},
	"getIsSpender": {arity: 1, query: true, run: func(n *Node, _ context.Context, _ nativecommon.Authorizer, a *args) (interface{}, error) {
		spender := a.address(0)
		if a.err != nil {
			return nil, a.err
		}
		return n.IsSpender(spender)
	}},
	"getApproval": {arity: 2, query: true, run: func(n *Node, _ context.Context, _ nativecommon.Authorizer, a *args) (interface{}, error) {
		owner, spender := a.address(0), a.address(1)
		if a.err != nil {
			return nil, a.err
		}
		return n.IsApproved(owner, spender)
	}},
}

func addressSetter(set func(*Node, context.Context, nativecommon.Authorizer, [20]byte) error) func(*Node, context.Context, nativecommon.Authorizer, *args) (interface{}, error) {
	return func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		addr := a.address(0)
		if a.err != nil {
			return nil, a.err
		}
		return true, set(n, ctx, auth, addr)
	}
}

func depositHandler(mode custody.DepositMode) func(*Node, context.Context, nativecommon.Authorizer, *args) (interface{}, error) {
	return func(n *Node, ctx context.Context, auth nativecommon.Authorizer, a *args) (interface{}, error) {
		p := custody.DepositParams{Mode: mode, Originator: a.address(0), Asset: a.asset(1), Amount: a.amount(2)}
		if a.err != nil {
			return nil, a.err
		}
		return true, n.Execute(ctx, "deposit", auth, func(op *Op) error {
			return op.Custody.Deposit(op.Ctx, op.Auth, op.Settings, p)
		})
	}
}

type withdrawRequestArg struct {
	ID      string   `json:"id"`
	Stage   string   `json:"stage"`
	Address string   `json:"address"`
	Asset   string   `json:"asset"`
	Amount  string   `json:"amount"`
	Inputs  []string `json:"inputs"`
	Outputs []struct {
		Address string `json:"address"`
		Asset   string `json:"asset"`
		Amount  string `json:"amount"`
	} `json:"outputs"`
}

func (a *args) withdrawRequest(i int) withdraw.Request {
	var raw withdrawRequestArg
	if !a.decode(i, &raw) {
		return withdraw.Request{}
	}
	// Re-read the fields through the positional helpers so they share one
	// error path.
	fields := []string{raw.ID, raw.Address, raw.Asset, raw.Amount}
	sub := &args{}
	for _, f := range fields {
		encoded, _ := json.Marshal(f)
		sub.raw = append(sub.raw, encoded)
	}
	req := withdraw.Request{ID: sub.hash(0), Address: sub.address(1), Asset: sub.asset(2), Amount: sub.amount(3)}
	stage, err := withdraw.ParseStage(raw.Stage)
	if err != nil && sub.err == nil {
		sub.err = fmt.Errorf("%w: %v", ErrBadArguments, err)
	}
	req.Stage = stage
	for _, in := range raw.Inputs {
		encoded, _ := json.Marshal(in)
		sub.raw = append(sub.raw, encoded)
		req.Inputs = append(req.Inputs, sub.hash(len(sub.raw)-1))
	}
	for _, out := range raw.Outputs {
		base := len(sub.raw)
		for _, f := range []string{out.Address, out.Asset, out.Amount} {
			encoded, _ := json.Marshal(f)
			sub.raw = append(sub.raw, encoded)
		}
		req.Outputs = append(req.Outputs, withdraw.Output{
			Address: sub.address(base),
			Asset:   sub.asset(base + 1),
			Amount:  sub.amount(base + 2),
		})
	}
	if sub.err != nil {
		a.fail(i, "%v", sub.err)
	}
	return req
}

// Operations lists the served operation names.
func Operations() []string {
	out := make([]string, 0, len(handlers))
	for name := range handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Known reports whether operation is served.
func Known(operation string) bool {
	_, ok := handlers[operation]
	return ok
}

// IsQuery reports whether the operation only reads committed state.
func IsQuery(operation string) bool {
	h, ok := handlers[operation]
	return ok && h.query
}

// Dispatch checks the call's arity and argument types and runs it.
func (n *Node) Dispatch(ctx context.Context, auth nativecommon.Authorizer, call Call) (interface{}, error) {
	h, ok := handlers[call.Operation]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, call.Operation)
	}
	if len(call.Args) != h.arity {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrBadArguments, call.Operation, h.arity, len(call.Args))
	}
	return h.run(n, ctx, auth, &args{raw: call.Args})
}
