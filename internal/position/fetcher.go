// Package position reads per-token stake and reward state into immutable snapshots.
package position

import (
	"context"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Fantasim/minerstake/internal/chain"
	"github.com/Fantasim/minerstake/internal/config"
	"github.com/Fantasim/minerstake/internal/models"
)

// readsPerToken is the number of calls issued for each token id.
const readsPerToken = 4

// BatchReader executes contract reads. *chain.Reader satisfies it.
type BatchReader interface {
	ReadBatch(ctx context.Context, calls []chain.Call) []chain.Result
}

// Snapshot is an immutable set of positions for one account. A refresh
// produces a new Snapshot; existing ones are never modified.
type Snapshot struct {
	Account   common.Address
	Version   uint64
	FetchedAt time.Time
	positions []models.Position
	index     map[uint64]int
}

// NewSnapshot builds a snapshot from positions, copying them.
func NewSnapshot(account common.Address, version uint64, fetchedAt time.Time, positions []models.Position) *Snapshot {
	s := &Snapshot{
		Account:   account,
		Version:   version,
		FetchedAt: fetchedAt,
		positions: make([]models.Position, len(positions)),
		index:     make(map[uint64]int, len(positions)),
	}
	for i, p := range positions {
		s.positions[i] = p.Clone()
		s.index[p.TokenID] = i
	}
	return s
}

// Positions returns a copy of the positions in discovery order.
func (s *Snapshot) Positions() []models.Position {
	if s == nil {
		return nil
	}
	out := make([]models.Position, len(s.positions))
	for i, p := range s.positions {
		out[i] = p.Clone()
	}
	return out
}

// Get returns the position for tokenID.
func (s *Snapshot) Get(tokenID uint64) (models.Position, bool) {
	if s == nil {
		return models.Position{}, false
	}
	i, ok := s.index[tokenID]
	if !ok {
		return models.Position{}, false
	}
	return s.positions[i].Clone(), true
}

// Len returns the number of positions.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.positions)
}

// Fetcher reads positions for a set of token ids.
type Fetcher struct {
	reader    BatchReader
	contracts config.Contracts
	version   atomic.Uint64
	now       func() time.Time
}

// NewFetcher creates a Fetcher.
func NewFetcher(reader BatchReader, contracts config.Contracts) *Fetcher {
	return &Fetcher{reader: reader, contracts: contracts, now: time.Now}
}

// Fetch reads tier, stake record, pending reward and total claimed for every
// id in a single batch. A failed read keeps the field from prev (when prev is
// for the same account) or leaves it unknown. Ids missing from ids are dropped.
func (f *Fetcher) Fetch(ctx context.Context, account common.Address, ids []uint64, prev *Snapshot) *Snapshot {
	if prev != nil && prev.Account != account {
		prev = nil
	}

	calls := make([]chain.Call, 0, len(ids)*readsPerToken)
	for _, id := range ids {
		tokenID := new(big.Int).SetUint64(id)
		calls = append(calls,
			chain.NewCall(f.contracts.Miner, chain.MinerABI, chain.MethodTierOf, tokenID),
			chain.NewCall(f.contracts.Staking, chain.StakingABI, chain.MethodStakes, tokenID),
			chain.NewCall(f.contracts.Staking, chain.StakingABI, chain.MethodPendingReward, tokenID),
			chain.NewCall(f.contracts.Staking, chain.StakingABI, chain.MethodTotalClaimed, tokenID),
		)
	}

	results := f.reader.ReadBatch(ctx, calls)

	var failed int
	positions := make([]models.Position, len(ids))
	for i, id := range ids {
		base, ok := prev.Get(id)
		if !ok {
			base = models.Position{TokenID: id}
		}
		r := results[i*readsPerToken : (i+1)*readsPerToken]
		positions[i], failed = merge(base, r, failed)
	}

	snap := NewSnapshot(account, f.version.Add(1), f.now(), positions)

	if failed > 0 {
		slog.Warn("position reads partially failed",
			"account", account.Hex(),
			"tokens", len(ids),
			"failedReads", failed,
		)
	}
	slog.Debug("positions fetched",
		"account", account.Hex(),
		"tokens", len(ids),
		"version", snap.Version,
	)
	return snap
}

// merge applies the four reads for one token to base.
func merge(p models.Position, r []chain.Result, failed int) (models.Position, int) {
	if v, ok := r[0].Uint8At(0); ok && models.Tier(v).Valid() {
		p.Tier = models.Tier(v)
		p.Known |= models.KnownTier
	} else {
		if ok {
			slog.Warn("unknown tier value", "tokenID", p.TokenID, "tier", v)
		}
		failed++
	}

	owner, okOwner := r[1].AddressAt(0)
	start, okStart := r[1].BigAt(1)
	last, okLast := r[1].BigAt(2)
	unlock, okUnlock := r[1].BigAt(3)
	if okOwner && okStart && okLast && okUnlock {
		p.StakeOwner = owner
		p.IsStaked = owner != (common.Address{})
		p.StartTime = start.Uint64()
		p.LastClaimTime = last.Uint64()
		p.UnlockTime = unlock.Uint64()
		p.Known |= models.KnownStake
	} else {
		failed++
	}

	if v, ok := r[2].BigAt(0); ok {
		p.PendingReward = v
		p.Known |= models.KnownPending
	} else {
		failed++
	}

	if v, ok := r[3].BigAt(0); ok {
		if p.Has(models.KnownClaimed) && p.TotalClaimed != nil && v.Cmp(p.TotalClaimed) < 0 {
			slog.Warn("total claimed went backwards, keeping previous value",
				"tokenID", p.TokenID,
				"previous", p.TotalClaimed.String(),
				"read", v.String(),
			)
		} else {
			p.TotalClaimed = v
			p.Known |= models.KnownClaimed
		}
	} else {
		failed++
	}

	return p, failed
}
