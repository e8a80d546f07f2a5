package chainbalance

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/shopspring/decimal"
)

// ChainRPC is the thin per-chain collaborator the engine needs from an EVM node.
type ChainRPC interface {
	GetNativeBalance(ctx context.Context, address string) (*big.Int, error)
	GetTokenBalance(ctx context.Context, contract, address string) (*big.Int, error)
	// Transfer signs and broadcasts, returning the transaction hash.
	Transfer(ctx context.Context, req TransferRequest) (string, error)
	TransferStatus(ctx context.Context, txRef string) (entities.TransferStatus, error)
	// NativeTransferFee is the worst-case fee of a plain native transfer, in wei.
	NativeTransferFee(ctx context.Context) (*big.Int, error)
}

// TransferRequest moves Amount (base units) from the key's address to To. An empty Contract means native coin.
type TransferRequest struct {
	PrivateKey *ecdsa.PrivateKey
	To         string
	Contract   string
	Amount     *big.Int
}

// PriceSource quotes assets in USD.
type PriceSource interface {
	USDPrice(ctx context.Context, symbol entities.Asset) (decimal.Decimal, error)
}

// StaticPriceSource serves fixed quotes.
type StaticPriceSource map[entities.Asset]decimal.Decimal

func (s StaticPriceSource) USDPrice(ctx context.Context, symbol entities.Asset) (decimal.Decimal, error) {
	p, ok := s[symbol.Normalize()]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}

// ChainClient pairs a chain's configuration with its RPC.
type ChainClient struct {
	Config entities.ChainConfig
	RPC    ChainRPC
}

// Registry maps chains to their clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[entities.Chain]*ChainClient
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[entities.Chain]*ChainClient)}
}

func (r *Registry) Register(cfg entities.ChainConfig, rpc ChainRPC) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[cfg.Chain] = &ChainClient{Config: cfg, RPC: rpc}
}

func (r *Registry) Get(chain entities.Chain) (*ChainClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[chain]
	if !ok {
		return nil, fmt.Errorf("chain %s is not configured", chain)
	}
	return c, nil
}

// Chains returns the registered chains in supported-chain order, then by name.
func (r *Registry) Chains() []entities.Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rank := make(map[entities.Chain]int)
	for i, c := range entities.SupportedChains() {
		rank[c] = i + 1
	}
	out := make([]entities.Chain, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rank[out[i]], rank[out[j]]
		if ri != rj && ri != 0 && rj != 0 {
			return ri < rj
		}
		if (ri == 0) != (rj == 0) {
			return ri != 0
		}
		return strings.Compare(string(out[i]), string(out[j])) < 0
	})
	return out
}
