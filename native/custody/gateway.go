package custody

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	coreerrors "brokerchain/core/errors"
	"brokerchain/native/ledger"
)

// ErrTransferRejected is returned when a token contract refuses a transfer.
var ErrTransferRejected = coreerrors.NewDecline("custody: token transfer rejected")

// ErrNoGateway is returned when no gateway serves the requested token.
var ErrNoGateway = coreerrors.NewDecline("custody: no gateway registered for token")

// TokenTransferGateway moves token-category value between custody addresses.
type TokenTransferGateway interface {
	// Transfer moves amount from the broker-controlled from address.
	Transfer(ctx context.Context, token [20]byte, from, to [20]byte, amount *big.Int) error
	// TransferFrom spends a standard allowance granted to spender by from.
	TransferFrom(ctx context.Context, token [20]byte, spender, from, to [20]byte, amount *big.Int) error
	// TransferFromNonStandard spends an allowance on tokens whose transferFrom
	// omits the spender argument.
	TransferFromNonStandard(ctx context.Context, token [20]byte, from, to [20]byte, amount *big.Int) error
}

// Resolver maps a token asset to the gateway that moves it.
type Resolver interface {
	Resolve(asset ledger.AssetID) (TokenTransferGateway, [20]byte, error)
}

// StaticResolver serves each registered token through a fixed gateway and
// falls back to a default gateway when one is configured.
type StaticResolver struct {
	mu       sync.RWMutex
	fallback TokenTransferGateway
	routes   map[[20]byte]TokenTransferGateway
}

// NewStaticResolver returns a resolver using fallback for unregistered tokens.
// A nil fallback makes unregistered tokens unresolvable.
func NewStaticResolver(fallback TokenTransferGateway) *StaticResolver {
	return &StaticResolver{fallback: fallback, routes: make(map[[20]byte]TokenTransferGateway)}
}

// Register routes token through gw.
func (r *StaticResolver) Register(token [20]byte, gw TokenTransferGateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[token] = gw
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(asset ledger.AssetID) (TokenTransferGateway, [20]byte, error) {
	token, ok := asset.Token()
	if !ok {
		return nil, token, fmt.Errorf("%w: %s is a native asset", ErrNoGateway, asset)
	}
	r.mu.RLock()
	gw, ok := r.routes[token]
	r.mu.RUnlock()
	if ok {
		return gw, token, nil
	}
	if r.fallback != nil {
		return r.fallback, token, nil
	}
	return nil, token, ErrNoGateway
}
