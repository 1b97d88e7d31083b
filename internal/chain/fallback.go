package chain

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FallbackClient broadcasts through a secondary endpoint when the primary
// refuses a transaction. Every other method uses the primary only.
type FallbackClient struct {
	primary  EthClient
	fallback EthClient
}

// NewFallbackClient wraps primary. A nil fallback behaves exactly like primary.
func NewFallbackClient(primary, fallback EthClient) *FallbackClient {
	slog.Info("eth client created", "hasFallback", fallback != nil)
	return &FallbackClient{primary: primary, fallback: fallback}
}

// SendTransaction tries the primary endpoint, then the fallback.
func (f *FallbackClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	err := f.primary.SendTransaction(ctx, tx)
	if err == nil || f.fallback == nil {
		return err
	}

	slog.Warn("primary broadcast failed, trying fallback rpc",
		"txHash", tx.Hash().Hex(),
		"primaryError", err,
	)

	if fallbackErr := f.fallback.SendTransaction(ctx, tx); fallbackErr != nil {
		slog.Error("fallback broadcast also failed",
			"txHash", tx.Hash().Hex(),
			"primaryError", err,
			"fallbackError", fallbackErr,
		)
		return err
	}

	slog.Info("fallback broadcast succeeded", "txHash", tx.Hash().Hex())
	return nil
}

// ChainID delegates to the primary client.
func (f *FallbackClient) ChainID(ctx context.Context) (*big.Int, error) {
	return f.primary.ChainID(ctx)
}

// PendingNonceAt delegates to the primary client.
func (f *FallbackClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.primary.PendingNonceAt(ctx, account)
}

// SuggestGasPrice delegates to the primary client.
func (f *FallbackClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.primary.SuggestGasPrice(ctx)
}

// TransactionReceipt delegates to the primary client.
func (f *FallbackClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return f.primary.TransactionReceipt(ctx, txHash)
}
