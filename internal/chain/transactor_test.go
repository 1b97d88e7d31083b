package chain_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Fantasim/minerstake/internal/chain"
	"github.com/Fantasim/minerstake/internal/chain/chaintest"
	"github.com/Fantasim/minerstake/internal/config"
)

func TestBufferedGasPrice(t *testing.T) {
	got := chain.BufferedGasPrice(big.NewInt(5_000_000_000))
	if got.Cmp(big.NewInt(6_000_000_000)) != 0 {
		t.Errorf("BufferedGasPrice = %s, want 6000000000", got)
	}
}

func TestTransactor_SendSignsForChain(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	node := chaintest.NewNode()
	node.Nonce = 4

	tr := chain.NewTransactor(node, chaintest.ChainID)
	call := chain.NewCall(chaintest.Contracts.Staking, chain.StakingABI, chain.MethodClaim, big.NewInt(7))

	hash, err := tr.Send(context.Background(), key, call, config.GasLimitClaim)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if node.SentCount() != 1 {
		t.Fatalf("sent = %d, want 1", node.SentCount())
	}

	tx := node.Sent[0]
	if tx.Hash() != hash {
		t.Errorf("hash = %s, want %s", hash.Hex(), tx.Hash().Hex())
	}
	if tx.Nonce() != 4 {
		t.Errorf("nonce = %d, want 4", tx.Nonce())
	}
	if tx.Gas() != config.GasLimitClaim {
		t.Errorf("gas = %d, want %d", tx.Gas(), config.GasLimitClaim)
	}
	if tx.GasPrice().Cmp(big.NewInt(1_200_000_000)) != 0 {
		t.Errorf("gasPrice = %s, want buffered 1200000000", tx.GasPrice())
	}
	if *tx.To() != chaintest.Contracts.Staking {
		t.Errorf("to = %s, want staking", tx.To().Hex())
	}

	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(chaintest.ChainID)), tx)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender != crypto.PubkeyToAddress(key.PublicKey) {
		t.Errorf("sender = %s, want key address", sender.Hex())
	}
}

func TestTransactor_SendRejected(t *testing.T) {
	key, _ := crypto.GenerateKey()
	node := chaintest.NewNode()
	node.SendErr = errors.New("insufficient funds for gas")

	tr := chain.NewTransactor(node, chaintest.ChainID)
	call := chain.NewCall(chaintest.Contracts.Staking, chain.StakingABI, chain.MethodClaim, big.NewInt(7))

	_, err := tr.Send(context.Background(), key, call, config.GasLimitClaim)
	if !errors.Is(err, config.ErrTxRejected) {
		t.Errorf("err = %v, want ErrTxRejected", err)
	}
}

func TestWaitForReceipt(t *testing.T) {
	defer chain.SetReceiptPoll(time.Millisecond, 5*time.Millisecond)()

	hash := common.HexToHash("0xabc")

	t.Run("mined later", func(t *testing.T) {
		node := chaintest.NewNode()
		go func() {
			time.Sleep(20 * time.Millisecond)
			node.Mine(hash, types.ReceiptStatusSuccessful)
		}()

		receipt, err := chain.WaitForReceipt(context.Background(), node, hash)
		if err != nil {
			t.Fatalf("WaitForReceipt() error = %v", err)
		}
		if receipt.TxHash != hash {
			t.Errorf("receipt hash = %s", receipt.TxHash.Hex())
		}
	})

	t.Run("reverted", func(t *testing.T) {
		node := chaintest.NewNode()
		node.Mine(hash, types.ReceiptStatusFailed)

		receipt, err := chain.WaitForReceipt(context.Background(), node, hash)
		if !errors.Is(err, config.ErrTxReverted) {
			t.Errorf("err = %v, want ErrTxReverted", err)
		}
		if receipt == nil {
			t.Error("reverted receipt should be returned")
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		node := chaintest.NewNode()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := chain.WaitForReceipt(ctx, node, hash)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want DeadlineExceeded", err)
		}
	})
}

func TestClaimedAmount(t *testing.T) {
	user := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	receipt := chaintest.Receipt(common.HexToHash("0x1"), types.ReceiptStatusSuccessful,
		chaintest.ClaimedLog(user, 3, big.NewInt(11)),
		chaintest.ClaimedLog(user, 7, big.NewInt(500)),
	)

	amount, ok := chain.ClaimedAmount(receipt, chaintest.Contracts.Staking, 7)
	if !ok || amount.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("ClaimedAmount(7) = %v, %v; want 500, true", amount, ok)
	}

	if _, ok := chain.ClaimedAmount(receipt, chaintest.Contracts.Staking, 9); ok {
		t.Error("ClaimedAmount(9) should not be found")
	}
	if _, ok := chain.ClaimedAmount(receipt, chaintest.Contracts.Pool, 7); ok {
		t.Error("logs from another contract must be ignored")
	}
	if _, ok := chain.ClaimedAmount(nil, chaintest.Contracts.Staking, 7); ok {
		t.Error("nil receipt should not be found")
	}
}

type stubSender struct {
	err   error
	calls int
}

func (s *stubSender) SendTransaction(_ context.Context, _ *types.Transaction) error {
	s.calls++
	return s.err
}
func (s *stubSender) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (s *stubSender) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (s *stubSender) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (s *stubSender) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, nil
}

func TestFallbackClient_SendTransaction(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)})

	tests := []struct {
		name         string
		primaryErr   error
		fallback     *stubSender
		wantErr      bool
		wantFallback int
	}{
		{"primary ok", nil, &stubSender{}, false, 0},
		{"primary fails, fallback ok", errors.New("nonce too low"), &stubSender{}, false, 1},
		{"both fail", errors.New("primary down"), &stubSender{err: errors.New("fallback down")}, true, 1},
		{"no fallback", errors.New("primary down"), nil, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &stubSender{err: tt.primaryErr}
			var fc *chain.FallbackClient
			if tt.fallback != nil {
				fc = chain.NewFallbackClient(primary, tt.fallback)
			} else {
				fc = chain.NewFallbackClient(primary, nil)
			}

			err := fc.SendTransaction(context.Background(), tx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, tt.primaryErr) {
				t.Errorf("err = %v, want primary error", err)
			}
			if tt.fallback != nil && tt.fallback.calls != tt.wantFallback {
				t.Errorf("fallback calls = %d, want %d", tt.fallback.calls, tt.wantFallback)
			}
		})
	}
}
