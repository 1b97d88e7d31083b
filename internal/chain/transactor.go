package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Fantasim/minerstake/internal/config"
)

// BufferedGasPrice raises a suggested gas price by the configured buffer (20%).
func BufferedGasPrice(suggested *big.Int) *big.Int {
	buffered := new(big.Int).Mul(suggested, big.NewInt(config.GasPriceBufferNumerator))
	return buffered.Div(buffered, big.NewInt(config.GasPriceBufferDenominator))
}

// Transactor builds, signs and broadcasts contract transactions.
type Transactor struct {
	client  EthClient
	chainID *big.Int

	// mu serialises nonce lookup and broadcast so concurrent actions from
	// the same account never reuse a pending nonce.
	mu sync.Mutex
}

// NewTransactor creates a Transactor signing for chainID.
func NewTransactor(client EthClient, chainID int64) *Transactor {
	return &Transactor{client: client, chainID: big.NewInt(chainID)}
}

// Send packs call, signs it with key (EIP-155) and broadcasts it.
// Any failure before the node accepts the transaction wraps ErrTxRejected.
func (t *Transactor) Send(ctx context.Context, key *ecdsa.PrivateKey, call Call, gasLimit uint64) (common.Hash, error) {
	data, err := call.Pack()
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", config.ErrTxRejected, err)
	}

	from := crypto.PubkeyToAddress(key.PublicKey)

	t.mu.Lock()
	defer t.mu.Unlock()

	nonce, err := t.client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: get nonce for %s: %v", config.ErrTxRejected, from.Hex(), err)
	}

	suggested, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: suggest gas price: %v", config.ErrTxRejected, err)
	}
	gasPrice := BufferedGasPrice(suggested)

	to := call.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(t.chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: sign %s: %v", config.ErrTxRejected, call.Method, err)
	}

	if err := t.client.SendTransaction(ctx, signed); err != nil {
		slog.Error("transaction broadcast failed",
			"method", call.Method,
			"to", to.Hex(),
			"nonce", nonce,
			"error", err,
		)
		return common.Hash{}, fmt.Errorf("%w: broadcast %s: %v", config.ErrTxRejected, call.Method, err)
	}

	slog.Info("transaction broadcast",
		"method", call.Method,
		"to", to.Hex(),
		"txHash", signed.Hash().Hex(),
		"nonce", nonce,
		"gasPrice", gasPrice.String(),
		"gasLimit", gasLimit,
	)

	return signed.Hash(), nil
}

// ClaimedAmount extracts the amount of the Claimed(user, tokenId, amount) event
// for tokenID from a receipt emitted by the staking contract.
func ClaimedAmount(receipt *types.Receipt, staking common.Address, tokenID uint64) (*big.Int, bool) {
	if receipt == nil {
		return nil, false
	}
	event := StakingABI.Events[EventClaimed]
	want := common.BigToHash(new(big.Int).SetUint64(tokenID))

	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != staking || len(lg.Topics) < 3 || lg.Topics[0] != event.ID {
			continue
		}
		if lg.Topics[2] != want {
			continue
		}
		values, err := StakingABI.Unpack(EventClaimed, lg.Data)
		if err != nil || len(values) == 0 {
			slog.Warn("malformed Claimed event", "txHash", lg.TxHash.Hex(), "error", err)
			continue
		}
		amount, ok := values[0].(*big.Int)
		if !ok {
			continue
		}
		return new(big.Int).Set(amount), true
	}
	return nil, false
}
