package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Fantasim/minerstake/internal/config"
)

// Poll intervals; tests shorten them.
var (
	receiptPollInitial = config.ReceiptPollInitial
	receiptPollMax     = config.ReceiptPollMax
)

// ReceiptFetcher fetches transaction receipts.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WaitForReceipt polls until the transaction is mined. It has no deadline of
// its own: it returns only when a receipt arrives or ctx is done. A reverted
// receipt is returned together with ErrTxReverted.
func WaitForReceipt(ctx context.Context, client ReceiptFetcher, txHash common.Hash) (*types.Receipt, error) {
	slog.Debug("waiting for receipt", "txHash", txHash.Hex())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = receiptPollInitial
	b.MaxInterval = receiptPollMax
	b.MaxElapsedTime = 0

	operation := func() (*types.Receipt, error) {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			slog.Warn("receipt query failed, retrying",
				"txHash", txHash.Hex(),
				"error", err,
			)
		}
		return nil, err
	}

	receipt, err := backoff.RetryWithData(operation, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("wait for receipt %s: %w", txHash.Hex(), err)
	}

	slog.Info("receipt received",
		"txHash", txHash.Hex(),
		"status", receipt.Status,
		"blockNumber", receipt.BlockNumber,
		"gasUsed", receipt.GasUsed,
	)

	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, fmt.Errorf("%w: tx %s", config.ErrTxReverted, txHash.Hex())
	}
	return receipt, nil
}
