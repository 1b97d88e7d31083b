package chain_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Fantasim/minerstake/internal/chain"
	"github.com/Fantasim/minerstake/internal/chain/chaintest"
	"github.com/Fantasim/minerstake/internal/config"
)

var account = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func TestReadBatch_DecodesValues(t *testing.T) {
	node := chaintest.NewNode()
	node.AddStake(7, 2, account, chaintest.Stake{StartTime: 100, LastClaimTime: 150, UnlockTime: 200})
	node.Pending[7] = big.NewInt(500)

	r := chain.NewReader(node, nil, nil, 100)
	c := chaintest.Contracts
	results := r.ReadBatch(context.Background(), []chain.Call{
		chain.NewCall(c.Miner, chain.MinerABI, chain.MethodTierOf, big.NewInt(7)),
		chain.NewCall(c.Staking, chain.StakingABI, chain.MethodStakes, big.NewInt(7)),
		chain.NewCall(c.Staking, chain.StakingABI, chain.MethodPendingReward, big.NewInt(7)),
		chain.NewCall(c.Staking, chain.StakingABI, chain.MethodStakedTokensOf, account),
	})

	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	for i, res := range results {
		if !res.OK {
			t.Fatalf("result %d failed: %v", i, res.Err)
		}
	}

	if tier, ok := results[0].Uint8At(0); !ok || tier != 2 {
		t.Errorf("tier = %d (ok=%v), want 2", tier, ok)
	}
	if owner, ok := results[1].AddressAt(0); !ok || owner != account {
		t.Errorf("owner = %s, want %s", owner.Hex(), account.Hex())
	}
	if unlock, ok := results[1].BigAt(3); !ok || unlock.Uint64() != 200 {
		t.Errorf("unlockTime = %v, want 200", unlock)
	}
	if pending, ok := results[2].BigAt(0); !ok || pending.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("pending = %v, want 500", pending)
	}
	ids, ok := results[3].BigSliceAt(0)
	if !ok || len(ids) != 1 || ids[0].Uint64() != 7 {
		t.Errorf("stakedTokensOf = %v, want [7]", ids)
	}
}

func TestReadBatch_PerCallFailureDoesNotAbort(t *testing.T) {
	node := chaintest.NewNode()
	node.Tiers[1] = 0
	// token 2 has no tier: tierOf reverts

	r := chain.NewReader(node, nil, nil, 100)
	c := chaintest.Contracts
	results := r.ReadBatch(context.Background(), []chain.Call{
		chain.NewCall(c.Miner, chain.MinerABI, chain.MethodTierOf, big.NewInt(1)),
		chain.NewCall(c.Miner, chain.MinerABI, chain.MethodTierOf, big.NewInt(2)),
	})

	if !results[0].OK {
		t.Errorf("result 0 failed: %v", results[0].Err)
	}
	if results[1].OK {
		t.Error("result 1 should have failed")
	}
	if chain.AllFailed(results) {
		t.Error("AllFailed() = true, want false")
	}
}

func TestReadBatch_PackErrorIsPerCall(t *testing.T) {
	node := chaintest.NewNode()
	r := chain.NewReader(node, nil, nil, 100)

	results := r.ReadBatch(context.Background(), []chain.Call{
		chain.NewCall(chaintest.Contracts.Miner, chain.MinerABI, "noSuchMethod"),
	})

	if results[0].OK || results[0].Err == nil {
		t.Fatal("expected pack error")
	}
	if node.BatchCount() != 0 {
		t.Errorf("batches = %d, want 0 when nothing packs", node.BatchCount())
	}
}

func TestReadBatch_TransportErrorFailsChunk(t *testing.T) {
	node := chaintest.NewNode()
	node.TransportErr = errors.New("connection refused")

	r := chain.NewReader(node, nil, nil, 100)
	results := r.ReadBatch(context.Background(), []chain.Call{
		chain.NewCall(chaintest.Contracts.Pool, chain.PoolABI, chain.MethodSellEnabled),
		chain.NewCall(chaintest.Contracts.Pool, chain.PoolABI, chain.MethodFeeBps),
	})

	if !chain.AllFailed(results) {
		t.Fatal("AllFailed() = false, want true")
	}
	for _, res := range results {
		if !errors.Is(res.Err, config.ErrProviderUnavailable) {
			t.Errorf("err = %v, want ErrProviderUnavailable", res.Err)
		}
		if !config.IsTransient(res.Err) {
			t.Errorf("err = %v, want transient", res.Err)
		}
	}
}

func TestReadBatch_Chunks(t *testing.T) {
	node := chaintest.NewNode()
	calls := make([]chain.Call, 25)
	for i := range calls {
		calls[i] = chain.NewCall(chaintest.Contracts.Staking, chain.StakingABI, chain.MethodPendingReward, big.NewInt(int64(i+1)))
	}

	r := chain.NewReader(node, nil, nil, 10)
	results := r.ReadBatch(context.Background(), calls)

	if node.BatchCount() != 3 {
		t.Errorf("batches = %d, want 3", node.BatchCount())
	}
	for i, res := range results {
		if !res.OK {
			t.Errorf("result %d failed: %v", i, res.Err)
		}
	}
}

func TestReadBatch_CircuitOpen(t *testing.T) {
	node := chaintest.NewNode()
	node.TransportErr = errors.New("timeout")

	cb := chain.NewCircuitBreaker("test", 1, config.CircuitBreakerCooldown)
	r := chain.NewReader(node, nil, cb, 100)
	call := chain.NewCall(chaintest.Contracts.Pool, chain.PoolABI, chain.MethodPrice)

	r.ReadBatch(context.Background(), []chain.Call{call})
	if cb.State() != config.CircuitOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	results := r.ReadBatch(context.Background(), []chain.Call{call})
	if !errors.Is(results[0].Err, config.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", results[0].Err)
	}
	if node.BatchCount() != 1 {
		t.Errorf("batches = %d, want 1", node.BatchCount())
	}
}

func TestReadBatch_Empty(t *testing.T) {
	r := chain.NewReader(chaintest.NewNode(), nil, nil, 100)
	if got := r.ReadBatch(context.Background(), nil); len(got) != 0 {
		t.Errorf("results = %d, want 0", len(got))
	}
	if chain.AllFailed(nil) {
		t.Error("AllFailed(nil) = true, want false")
	}
}
