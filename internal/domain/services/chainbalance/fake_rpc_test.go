package chainbalance

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/luris-nation/wallet_service/internal/domain/entities"
)

type fakeRPC struct {
	mu       sync.Mutex
	native   map[string]*big.Int
	tokens   map[string]*big.Int // contract|address
	fail     error
	delay    time.Duration
	statuses map[string]entities.TransferStatus
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		native:   make(map[string]*big.Int),
		tokens:   make(map[string]*big.Int),
		statuses: make(map[string]entities.TransferStatus),
	}
}

func (f *fakeRPC) wait(ctx context.Context) error {
	if f.delay == 0 {
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeRPC) GetNativeBalance(ctx context.Context, address string) (*big.Int, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if v, ok := f.native[address]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeRPC) GetTokenBalance(ctx context.Context, contract, address string) (*big.Int, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if v, ok := f.tokens[contract+"|"+address]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeRPC) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	return "", nil
}

func (f *fakeRPC) TransferStatus(ctx context.Context, txRef string) (entities.TransferStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	return f.statuses[txRef], nil
}

func (f *fakeRPC) NativeTransferFee(ctx context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}
