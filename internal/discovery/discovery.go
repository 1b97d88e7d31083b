// Package discovery finds the NFT miner token IDs associated with an account.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/Fantasim/minerstake/internal/chain"
	"github.com/Fantasim/minerstake/internal/config"
)

// BatchReader executes contract reads. *chain.Reader satisfies it.
type BatchReader interface {
	ReadBatch(ctx context.Context, calls []chain.Call) []chain.Result
}

// Strategy discovers token IDs for an account. A nil or zero account yields
// an empty set. Read failures never surface as errors: a failed lookup means
// "not owned" and a total failure yields an empty set with a logged warning.
// The only error is ctx's.
type Strategy interface {
	Name() string
	Discover(ctx context.Context, account *common.Address) ([]uint64, error)
}

// New returns the strategy registered under name.
func New(name string, reader BatchReader, contracts config.Contracts, scanCeiling int) (Strategy, error) {
	switch name {
	case config.StrategyEnumerate:
		return &Enumerate{reader: reader, contracts: contracts}, nil
	case config.StrategyScan:
		if scanCeiling < 1 || scanCeiling > config.MaxScanCeiling {
			return nil, fmt.Errorf("%w: scan ceiling must be 1-%d, got %d", config.ErrInvalidInput, config.MaxScanCeiling, scanCeiling)
		}
		return &Scan{reader: reader, contracts: contracts, ceiling: scanCeiling}, nil
	}
	return nil, fmt.Errorf("%w: unknown discovery strategy %q", config.ErrInvalidInput, name)
}

func noAccount(account *common.Address) bool {
	return account == nil || *account == (common.Address{})
}

// toTokenIDs keeps the ids that fit a uint64 and are non-zero.
func toTokenIDs(ids []*big.Int) []uint64 {
	return lo.FilterMap(ids, func(id *big.Int, _ int) (uint64, bool) {
		if id == nil || id.Sign() <= 0 || !id.IsUint64() {
			return 0, false
		}
		return id.Uint64(), true
	})
}

// Enumerate asks the contracts for the account's tokens directly. Staked
// miners are held by the staking contract, so the wallet's own holdings are
// combined with the staking contract's per-owner index.
type Enumerate struct {
	reader    BatchReader
	contracts config.Contracts
}

// Name implements Strategy.
func (e *Enumerate) Name() string { return config.StrategyEnumerate }

// Discover returns wallet-held ids first, then staked ids, without duplicates.
func (e *Enumerate) Discover(ctx context.Context, account *common.Address) ([]uint64, error) {
	if noAccount(account) {
		return []uint64{}, nil
	}

	results := e.reader.ReadBatch(ctx, []chain.Call{
		chain.NewCall(e.contracts.Miner, chain.MinerABI, chain.MethodTokensOfOwner, *account),
		chain.NewCall(e.contracts.Staking, chain.StakingABI, chain.MethodStakedTokensOf, *account),
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []uint64
	for i, res := range results {
		list, ok := res.BigSliceAt(0)
		if !ok {
			slog.Debug("token enumeration read failed",
				"account", account.Hex(),
				"call", i,
				"error", res.Err,
			)
			continue
		}
		ids = append(ids, toTokenIDs(list)...)
	}

	if chain.AllFailed(results) {
		slog.Warn("token discovery failed, treating account as empty",
			"strategy", e.Name(),
			"account", account.Hex(),
			"error", results[0].Err,
		)
		return []uint64{}, nil
	}

	ids = lo.Uniq(ids)
	slog.Debug("tokens discovered",
		"strategy", e.Name(),
		"account", account.Hex(),
		"count", len(ids),
	)
	return ids, nil
}

// Scan probes the staking contract's stake records for ids 1..ceiling and
// keeps those owned by the account. It only finds staked miners.
type Scan struct {
	reader    BatchReader
	contracts config.Contracts
	ceiling   int
}

// Name implements Strategy.
func (s *Scan) Name() string { return config.StrategyScan }

// Discover returns matching ids in ascending order.
func (s *Scan) Discover(ctx context.Context, account *common.Address) ([]uint64, error) {
	if noAccount(account) {
		return []uint64{}, nil
	}

	calls := make([]chain.Call, s.ceiling)
	for i := range calls {
		calls[i] = chain.NewCall(s.contracts.Staking, chain.StakingABI, chain.MethodStakes, big.NewInt(int64(i+1)))
	}

	results := s.reader.ReadBatch(ctx, calls)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if chain.AllFailed(results) {
		slog.Warn("token discovery failed, treating account as empty",
			"strategy", s.Name(),
			"account", account.Hex(),
			"ceiling", s.ceiling,
			"error", results[0].Err,
		)
		return []uint64{}, nil
	}

	ids := make([]uint64, 0)
	for i, res := range results {
		owner, ok := res.AddressAt(0)
		if ok && owner == *account {
			ids = append(ids, uint64(i+1))
		}
	}

	slog.Debug("tokens discovered",
		"strategy", s.Name(),
		"account", account.Hex(),
		"ceiling", s.ceiling,
		"count", len(ids),
	)
	return ids, nil
}
