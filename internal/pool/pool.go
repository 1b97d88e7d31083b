// Package pool reads the Internal Pool's sell configuration and quotes sells.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/Fantasim/minerstake/internal/chain"
	"github.com/Fantasim/minerstake/internal/config"
	"github.com/Fantasim/minerstake/internal/models"
)

// BatchReader executes contract reads. *chain.Reader satisfies it.
type BatchReader interface {
	ReadBatch(ctx context.Context, calls []chain.Call) []chain.Result
}

// priceScale is the reward-token unit the pool price is quoted against.
var priceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(config.RewardTokenDecimals), nil)

// Service caches the pool state for PoolCacheDuration.
type Service struct {
	reader    BatchReader
	contracts config.Contracts
	now       func() time.Time

	mu       sync.RWMutex
	cached   *models.PoolState
	cachedAt time.Time
}

// NewService creates a pool Service.
func NewService(reader BatchReader, contracts config.Contracts) *Service {
	slog.Info("pool service initialized",
		"pool", contracts.Pool.Hex(),
		"cacheDuration", config.PoolCacheDuration,
	)
	return &Service{reader: reader, contracts: contracts, now: time.Now}
}

// State returns the pool state, from cache while it is fresh. When a refresh
// fails the last known state is returned if there is one.
func (s *Service) State(ctx context.Context) (models.PoolState, error) {
	s.mu.RLock()
	if s.cached != nil && s.now().Sub(s.cachedAt) < config.PoolCacheDuration {
		state := clone(*s.cached)
		s.mu.RUnlock()
		slog.Debug("pool cache hit", "age", s.now().Sub(s.cachedAt).Round(time.Second))
		return state, nil
	}
	s.mu.RUnlock()

	state, err := s.fetch(ctx)
	if err != nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.cached != nil {
			slog.Warn("pool refresh failed, serving stale state",
				"age", s.now().Sub(s.cachedAt).Round(time.Second),
				"error", err,
			)
			return clone(*s.cached), nil
		}
		return models.PoolState{}, err
	}

	s.mu.Lock()
	s.cached = &state
	s.cachedAt = state.FetchedAt
	s.mu.Unlock()

	return clone(state), nil
}

// Invalidate forces the next State call to read the chain.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cachedAt = time.Time{}
	s.mu.Unlock()
}

func (s *Service) fetch(ctx context.Context) (models.PoolState, error) {
	results := s.reader.ReadBatch(ctx, []chain.Call{
		chain.NewCall(s.contracts.Pool, chain.PoolABI, chain.MethodSellEnabled),
		chain.NewCall(s.contracts.Pool, chain.PoolABI, chain.MethodFeeBps),
		chain.NewCall(s.contracts.Pool, chain.PoolABI, chain.MethodPrice),
	})

	enabled, ok1 := results[0].BoolAt(0)
	fee, ok2 := results[1].BigAt(0)
	price, ok3 := results[2].BigAt(0)
	if !ok1 || !ok2 || !ok3 {
		return models.PoolState{}, fmt.Errorf("%w: read pool state", config.ErrProviderUnavailable)
	}

	if fee.Sign() < 0 || fee.Cmp(big.NewInt(config.FeeBpsDenominator)) > 0 {
		slog.Warn("pool fee out of range, quotes clamp to gross",
			"feeBps", fee.String(),
			"max", config.FeeBpsDenominator,
		)
	}

	state := models.PoolState{
		Enabled:   enabled,
		FeeBps:    fee,
		Price:     price,
		FetchedAt: s.now(),
	}
	slog.Debug("pool state fetched",
		"enabled", enabled,
		"feeBps", fee.String(),
		"price", price.String(),
	)
	return state, nil
}

// PreviewSell quotes selling amount reward units at the current pool state.
func (s *Service) PreviewSell(ctx context.Context, amount *big.Int) (models.SellPreview, error) {
	if amount == nil || amount.Sign() <= 0 {
		return models.SellPreview{}, fmt.Errorf("%w: amount must be positive", config.ErrInvalidInput)
	}
	state, err := s.State(ctx)
	if err != nil {
		return models.SellPreview{}, err
	}
	if !state.Enabled {
		return models.SellPreview{}, config.ErrPoolDisabled
	}
	return Quote(state, amount), nil
}

// Quote computes gross = amount*price/1e18, fee = gross*feeBps/10000 and
// net = gross-fee. All divisions truncate. The fee never exceeds gross, so
// net is never negative.
func Quote(state models.PoolState, amount *big.Int) models.SellPreview {
	gross := new(big.Int).Mul(amount, state.Price)
	gross.Quo(gross, priceScale)

	fee := new(big.Int).Mul(gross, state.FeeBps)
	fee.Quo(fee, big.NewInt(config.FeeBpsDenominator))
	if fee.Cmp(gross) > 0 {
		fee.Set(gross)
	}

	return models.SellPreview{
		Amount: new(big.Int).Set(amount),
		Gross:  gross,
		Fee:    fee,
		Net:    new(big.Int).Sub(gross, fee),
	}
}

func clone(s models.PoolState) models.PoolState {
	out := s
	if s.FeeBps != nil {
		out.FeeBps = new(big.Int).Set(s.FeeBps)
	}
	if s.Price != nil {
		out.Price = new(big.Int).Set(s.Price)
	}
	return out
}
