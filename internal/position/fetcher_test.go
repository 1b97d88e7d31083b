package position

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fantasim/minerstake/internal/chain"
	"github.com/Fantasim/minerstake/internal/chain/chaintest"
	"github.com/Fantasim/minerstake/internal/models"
)

var alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func newFetcher(node *chaintest.Node) *Fetcher {
	f := NewFetcher(chain.NewReader(node, nil, nil, 100), chaintest.Contracts)
	f.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return f
}

func seed(node *chaintest.Node) {
	node.AddStake(1, 0, alice, chaintest.Stake{StartTime: 10, LastClaimTime: 20, UnlockTime: 30})
	node.AddStake(2, 2, alice, chaintest.Stake{StartTime: 11, LastClaimTime: 21, UnlockTime: 31})
	node.Tiers[3] = 1 // held in wallet, not staked
	node.Pending[1] = big.NewInt(100)
	node.Pending[2] = big.NewInt(250)
	node.Claimed[1] = big.NewInt(5)
	node.Claimed[3] = big.NewInt(9)
}

func TestFetch_AllFields(t *testing.T) {
	node := chaintest.NewNode()
	seed(node)

	snap := newFetcher(node).Fetch(context.Background(), alice, []uint64{1, 2, 3}, nil)

	require.Equal(t, 3, snap.Len())
	assert.Equal(t, 1, node.BatchCount(), "all reads go into one batch")
	assert.Equal(t, alice, snap.Account)

	p1, ok := snap.Get(1)
	require.True(t, ok)
	assert.Equal(t, models.Tier0, p1.Tier)
	assert.True(t, p1.IsStaked)
	assert.Equal(t, alice, p1.StakeOwner)
	assert.Equal(t, uint64(10), p1.StartTime)
	assert.Equal(t, uint64(20), p1.LastClaimTime)
	assert.Equal(t, uint64(30), p1.UnlockTime)
	assert.Equal(t, "100", p1.PendingReward.String())
	assert.Equal(t, "5", p1.TotalClaimed.String())
	assert.True(t, p1.Has(models.KnownAll))

	p3, _ := snap.Get(3)
	assert.False(t, p3.IsStaked)
	assert.Equal(t, models.Tier1, p3.Tier)
	assert.Equal(t, "9", p3.TotalClaimed.String())

	ids := make([]uint64, 0)
	for _, p := range snap.Positions() {
		ids = append(ids, p.TokenID)
	}
	assert.Equal(t, []uint64{1, 2, 3}, ids)
}

func TestFetch_FailedReadKeepsLastKnown(t *testing.T) {
	node := chaintest.NewNode()
	seed(node)
	f := newFetcher(node)

	first := f.Fetch(context.Background(), alice, []uint64{1, 2}, nil)

	node.Pending[1] = big.NewInt(999)
	node.FailMethods[chain.MethodPendingReward] = true
	second := f.Fetch(context.Background(), alice, []uint64{1, 2}, first)

	p1, _ := second.Get(1)
	assert.Equal(t, "100", p1.PendingReward.String(), "pending keeps last-known value")
	assert.True(t, p1.Has(models.KnownPending))
	assert.Greater(t, second.Version, first.Version)
}

func TestFetch_FailedReadWithoutHistoryIsUnknown(t *testing.T) {
	node := chaintest.NewNode()
	seed(node)
	node.FailMethods[chain.MethodTotalClaimed] = true

	snap := newFetcher(node).Fetch(context.Background(), alice, []uint64{1}, nil)

	p1, _ := snap.Get(1)
	assert.False(t, p1.Has(models.KnownClaimed))
	assert.Nil(t, p1.TotalClaimed)
	assert.True(t, p1.Has(models.KnownTier|models.KnownStake|models.KnownPending))
}

func TestFetch_TransportFailureNeverAborts(t *testing.T) {
	node := chaintest.NewNode()
	seed(node)
	f := newFetcher(node)
	first := f.Fetch(context.Background(), alice, []uint64{1, 2}, nil)

	node.TransportErr = errors.New("502 bad gateway")
	second := f.Fetch(context.Background(), alice, []uint64{1, 2, 3}, first)

	require.Equal(t, 3, second.Len())
	p2, _ := second.Get(2)
	assert.Equal(t, "250", p2.PendingReward.String())
	p3, _ := second.Get(3)
	assert.Equal(t, models.FieldMask(0), p3.Known, "new token stays unknown")
}

func TestFetch_DropsUndiscoveredTokens(t *testing.T) {
	node := chaintest.NewNode()
	seed(node)
	f := newFetcher(node)
	first := f.Fetch(context.Background(), alice, []uint64{1, 2}, nil)

	second := f.Fetch(context.Background(), alice, []uint64{2}, first)

	_, ok := second.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 1, second.Len())
}

func TestFetch_IgnoresPreviousAccount(t *testing.T) {
	node := chaintest.NewNode()
	seed(node)
	f := newFetcher(node)
	first := f.Fetch(context.Background(), alice, []uint64{1}, nil)

	bob := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	node.FailMethods[chain.MethodPendingReward] = true
	second := f.Fetch(context.Background(), bob, []uint64{1}, first)

	p1, _ := second.Get(1)
	assert.False(t, p1.Has(models.KnownPending))
}

func TestFetch_TotalClaimedMonotonic(t *testing.T) {
	node := chaintest.NewNode()
	seed(node)
	f := newFetcher(node)

	var prev *Snapshot
	var last *big.Int
	for _, claimed := range []int64{5, 80, 80, 40, 120} {
		node.Claimed[1] = big.NewInt(claimed)
		prev = f.Fetch(context.Background(), alice, []uint64{1}, prev)

		p1, _ := prev.Get(1)
		if last != nil {
			assert.GreaterOrEqual(t, p1.TotalClaimed.Cmp(last), 0,
				"totalClaimed went from %s to %s", last, p1.TotalClaimed)
		}
		last = p1.TotalClaimed
	}
	assert.Equal(t, "120", last.String())
}

func TestSnapshot_Immutable(t *testing.T) {
	node := chaintest.NewNode()
	seed(node)
	snap := newFetcher(node).Fetch(context.Background(), alice, []uint64{1}, nil)

	positions := snap.Positions()
	positions[0].PendingReward.SetInt64(0)
	positions[0].Tier = models.Tier2

	p1, _ := snap.Get(1)
	assert.Equal(t, "100", p1.PendingReward.String())
	assert.Equal(t, models.Tier0, p1.Tier)
}

func TestSnapshot_Nil(t *testing.T) {
	var s *Snapshot
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Positions())
	_, ok := s.Get(1)
	assert.False(t, ok)
}
