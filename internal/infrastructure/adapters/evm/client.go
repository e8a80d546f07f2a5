// Package evm implements chain access for EVM networks over JSON-RPC.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/domain/services/chainbalance"
	"github.com/luris-nation/wallet_service/pkg/metrics"
	"github.com/luris-nation/wallet_service/pkg/retry"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

const (
	defaultGasLimitNative uint64 = 21000
	defaultGasLimitToken  uint64 = 65000
	// feeBufferPercent pads the quoted native fee against gas price drift before broadcast.
	feeBufferPercent = 120
)

// Backend is the subset of ethclient.Client the adapter calls.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Config struct {
	Chain          entities.Chain
	ChainID        *big.Int
	GasLimitNative uint64
	GasLimitToken  uint64
	// MaxGasPrice caps SuggestGasPrice; nil means uncapped.
	MaxGasPrice *big.Int
}

// Client is a chainbalance.ChainRPC backed by one EVM node.
type Client struct {
	backend        Backend
	cfg            Config
	erc20          abi.ABI
	circuitBreaker *gobreaker.CircuitBreaker
	retrier        *retry.Retrier
	logger         *zap.Logger
	close          func()
}

var _ chainbalance.ChainRPC = (*Client)(nil)

// Dial connects to rpcURL and wraps the connection.
func Dial(ctx context.Context, rpcURL string, cfg Config, logger *zap.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s node: %w", cfg.Chain, err)
	}
	c, err := NewClient(ec, cfg, logger)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.close = ec.Close
	return c, nil
}

func NewClient(backend Backend, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id is required for %s", cfg.Chain)
	}
	if cfg.GasLimitNative == 0 {
		cfg.GasLimitNative = defaultGasLimitNative
	}
	if cfg.GasLimitToken == 0 {
		cfg.GasLimitToken = defaultGasLimitToken
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("chain", string(cfg.Chain)))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rpc_" + string(cfg.Chain),
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	policy := retry.DefaultPolicy()
	policy.MaxRetries = 2
	policy.InitialBackoff = 200 * time.Millisecond
	policy.MaxBackoff = 2 * time.Second

	return &Client{
		backend:        backend,
		cfg:            cfg,
		erc20:          parsed,
		circuitBreaker: breaker,
		retrier:        retry.NewRetrier(policy, logger),
		logger:         logger,
	}, nil
}

// Close releases the node connection when the client owns one.
func (c *Client) Close() {
	if c.close != nil {
		c.close()
	}
}

func (c *Client) GetNativeBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	return execute(c, func() (*big.Int, error) {
		return c.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	})
}

func (c *Client) GetTokenBalance(ctx context.Context, contract, address string) (*big.Int, error) {
	if !common.IsHexAddress(contract) || !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid token balance query %s/%s", contract, address)
	}
	data, err := c.erc20.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}
	to := common.HexToAddress(contract)

	result, err := execute(c, func() ([]byte, error) {
		return c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}
	// Addresses that never touched the token can return no data.
	if len(result) == 0 {
		return big.NewInt(0), nil
	}

	out, err := c.erc20.Unpack("balanceOf", result)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("failed to unpack balance: %w", err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok || balance == nil {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// Transfer signs a legacy EIP-155 transaction from the key's address and broadcasts it.
func (c *Client) Transfer(ctx context.Context, req chainbalance.TransferRequest) (string, error) {
	if req.PrivateKey == nil {
		return "", fmt.Errorf("private key is required")
	}
	if !common.IsHexAddress(req.To) {
		return "", fmt.Errorf("invalid destination %q", req.To)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return "", fmt.Errorf("transfer amount must be positive")
	}

	from := crypto.PubkeyToAddress(req.PrivateKey.PublicKey)
	to := common.HexToAddress(req.To)

	nonce, err := retry.Value(ctx, c.retrier, func(ctx context.Context) (uint64, error) {
		return c.backend.PendingNonceAt(ctx, from)
	})
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return "", err
	}

	var tx *types.Transaction
	if req.Contract == "" {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    req.Amount,
			Gas:      c.cfg.GasLimitNative,
			GasPrice: gasPrice,
		})
	} else {
		if !common.IsHexAddress(req.Contract) {
			return "", fmt.Errorf("invalid token contract %q", req.Contract)
		}
		data, err := c.erc20.Pack("transfer", to, req.Amount)
		if err != nil {
			return "", fmt.Errorf("failed to pack transfer: %w", err)
		}
		contract := common.HexToAddress(req.Contract)
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &contract,
			Value:    big.NewInt(0),
			Gas:      c.cfg.GasLimitToken,
			GasPrice: gasPrice,
			Data:     data,
		})
	}

	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.cfg.ChainID), req.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if _, err := execute(c, func() (struct{}, error) {
		return struct{}{}, c.backend.SendTransaction(ctx, signed)
	}); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	hash := signed.Hash().Hex()
	c.logger.Info("Transaction broadcast",
		zap.String("tx_hash", hash),
		zap.String("from", from.Hex()),
		zap.String("contract", req.Contract),
		zap.String("amount", req.Amount.String()))
	return hash, nil
}

// TransferStatus maps a receipt to a status. A missing receipt is still pending.
func (c *Client) TransferStatus(ctx context.Context, txRef string) (entities.TransferStatus, error) {
	receipt, err := execute(c, func() (*types.Receipt, error) {
		r, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txRef))
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return r, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get receipt: %w", err)
	}
	if receipt == nil {
		return entities.TransferStatusPending, nil
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return entities.TransferStatusConfirmed, nil
	}
	return entities.TransferStatusFailed, nil
}

func (c *Client) NativeTransferFee(ctx context.Context) (*big.Int, error) {
	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return nil, err
	}
	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(c.cfg.GasLimitNative))
	fee.Mul(fee, big.NewInt(feeBufferPercent))
	return fee.Div(fee, big.NewInt(100)), nil
}

func (c *Client) gasPrice(ctx context.Context) (*big.Int, error) {
	price, err := retry.Value(ctx, c.retrier, func(ctx context.Context) (*big.Int, error) {
		return c.backend.SuggestGasPrice(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	if c.cfg.MaxGasPrice != nil && price.Cmp(c.cfg.MaxGasPrice) > 0 {
		price = new(big.Int).Set(c.cfg.MaxGasPrice)
	}
	return price, nil
}

func execute[T any](c *Client, fn func() (T, error)) (T, error) {
	var zero T
	res, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	return res.(T), nil
}
