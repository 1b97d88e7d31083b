package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// EthClient is the subset of ethclient the transaction path needs. Mocked in tests.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Conn is a dialled RPC endpoint exposing both the raw client (batches) and ethclient.
type Conn struct {
	URL string
	RPC *rpc.Client
	Eth *ethclient.Client
}

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (*Conn, error) {
	slog.Info("rpc connecting", "rpcURL", url)

	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", url, err)
	}

	slog.Info("rpc connected", "rpcURL", url)
	return &Conn{
		URL: url,
		RPC: rc,
		Eth: ethclient.NewClient(rc),
	}, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() {
	c.RPC.Close()
	slog.Info("rpc connection closed", "rpcURL", c.URL)
}
