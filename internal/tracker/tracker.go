// Package tracker keeps the connected account's positions and balances fresh.
// It polls on a fixed interval, refreshes on demand after actions confirm and
// reacts to wallet session changes.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Fantasim/minerstake/internal/aggregate"
	"github.com/Fantasim/minerstake/internal/chain"
	"github.com/Fantasim/minerstake/internal/config"
	"github.com/Fantasim/minerstake/internal/discovery"
	"github.com/Fantasim/minerstake/internal/models"
	"github.com/Fantasim/minerstake/internal/notify"
	"github.com/Fantasim/minerstake/internal/position"
	"github.com/Fantasim/minerstake/internal/wallet"
)

// Session is the part of the wallet session the tracker depends on.
type Session interface {
	Reader() (common.Address, error)
	Subscribe() <-chan wallet.SessionEvent
	Unsubscribe(ch <-chan wallet.SessionEvent)
}

// BatchReader executes contract reads.
type BatchReader interface {
	ReadBatch(ctx context.Context, calls []chain.Call) []chain.Result
}

// Fetcher reads positions. *position.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, account common.Address, ids []uint64, prev *position.Snapshot) *position.Snapshot
}

// Deps wires a Tracker. Events is optional.
type Deps struct {
	Session   Session
	Discovery discovery.Strategy
	Fetcher   Fetcher
	Reader    BatchReader
	Contracts config.Contracts
	Events    notify.Publisher
	Interval  time.Duration
}

// Tracker owns the latest snapshot. Readers never block on a refresh.
type Tracker struct {
	Deps

	snap     atomic.Pointer[position.Snapshot]
	balances atomic.Pointer[models.Balances]
	memo     aggregate.Memo

	refreshMu sync.Mutex
	trigger   chan struct{}
	now       func() time.Time
}

// New creates a Tracker.
func New(d Deps) *Tracker {
	if d.Interval <= 0 {
		d.Interval = config.DefaultPollInterval
	}
	slog.Info("tracker initialized",
		"strategy", d.Discovery.Name(),
		"pollInterval", d.Interval,
	)
	return &Tracker{
		Deps:    d,
		trigger: make(chan struct{}, config.RefreshQueueSize),
		now:     time.Now,
	}
}

// Run refreshes immediately, then on every tick, trigger and session event,
// until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	events := t.Session.Subscribe()
	defer t.Session.Unsubscribe(events)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	slog.Info("tracker started", "pollInterval", t.Interval)
	t.refreshAndLog(ctx, "start")

	for {
		select {
		case <-ctx.Done():
			slog.Info("tracker stopped", "reason", ctx.Err())
			return

		case <-ticker.C:
			t.refreshAndLog(ctx, "tick")

		case <-t.trigger:
			t.refreshAndLog(ctx, "trigger")

		case ev, ok := <-events:
			if !ok {
				return
			}
			t.handleSessionEvent(ctx, ev)
		}
	}
}

func (t *Tracker) handleSessionEvent(ctx context.Context, ev wallet.SessionEvent) {
	slog.Info("session changed, refreshing",
		"kind", ev.Kind,
		"account", ev.Account.Hex(),
		"chainID", ev.ChainID,
	)
	t.broadcast(notify.TypeSessionChanged, notify.SessionData{
		Kind:    ev.Kind,
		Account: ev.Account.Hex(),
		ChainID: ev.ChainID,
	})
	t.refreshAndLog(ctx, ev.Kind)
}

func (t *Tracker) refreshAndLog(ctx context.Context, reason string) {
	if err := t.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		level := slog.LevelWarn
		if errors.Is(err, config.ErrNotConnected) || errors.Is(err, config.ErrWrongChain) {
			level = slog.LevelDebug
		}
		slog.Log(ctx, level, "refresh skipped", "reason", reason, "error", err)
	}
}

// Trigger requests a refresh without blocking. Requests made while one is
// already queued are merged.
func (t *Tracker) Trigger() {
	select {
	case t.trigger <- struct{}{}:
	default:
	}
}

// Refresh discovers the account's tokens, fetches their positions and
// balances, and publishes the new snapshot. While disconnected or on the
// wrong chain the snapshot is cleared and the session error returned.
func (t *Tracker) Refresh(ctx context.Context) error {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	account, err := t.Session.Reader()
	if err != nil {
		t.snap.Store(nil)
		t.balances.Store(nil)
		return err
	}

	start := t.now()
	prev := t.snap.Load()
	snap, err := Load(ctx, t.Discovery, t.Fetcher, account, prev)
	if err != nil {
		return err
	}
	bal := t.readBalances(ctx, account)

	t.snap.Store(snap)
	t.balances.Store(&bal)

	agg := t.memo.Get(snap)
	slog.Info("positions refreshed",
		"account", account.Hex(),
		"version", snap.Version,
		"positions", snap.Len(),
		"active", agg.ActiveCount,
		"totalPending", agg.TotalPending.String(),
		"duration", t.now().Sub(start).Round(time.Millisecond),
	)
	t.broadcast(notify.TypePositionsUpdated, notify.PositionsData{
		Account:      account.Hex(),
		Version:      snap.Version,
		Count:        snap.Len(),
		ActiveCount:  agg.ActiveCount,
		TotalPending: agg.TotalPending.String(),
		TotalClaimed: agg.TotalClaimed.String(),
	})
	return nil
}

// Load runs discovery for account and fetches every discovered position.
// Positions absent from discovery are dropped from the result.
func Load(ctx context.Context, strategy discovery.Strategy, fetcher Fetcher, account common.Address, prev *position.Snapshot) (*position.Snapshot, error) {
	ids, err := strategy.Discover(ctx, &account)
	if err != nil {
		return nil, err
	}
	slog.Debug("tokens discovered",
		"account", account.Hex(),
		"strategy", strategy.Name(),
		"count", len(ids),
	)
	return fetcher.Fetch(ctx, account, ids, prev), nil
}

// readBalances reads token balances and approvals in one batch. Failed reads
// keep the previous value for the same account.
func (t *Tracker) readBalances(ctx context.Context, account common.Address) models.Balances {
	c := t.Contracts
	results := t.Reader.ReadBatch(ctx, []chain.Call{
		chain.NewCall(c.RewardToken, chain.ERC20ABI, chain.MethodBalanceOf, account),
		chain.NewCall(c.Stablecoin, chain.ERC20ABI, chain.MethodBalanceOf, account),
		chain.NewCall(c.RewardToken, chain.ERC20ABI, chain.MethodAllowance, account, c.Pool),
		chain.NewCall(c.Stablecoin, chain.ERC20ABI, chain.MethodAllowance, account, c.Sale),
		chain.NewCall(c.Miner, chain.MinerABI, chain.MethodIsApprovedForAll, account, c.Staking),
	})

	var prev models.Balances
	if p := t.balances.Load(); p != nil && p.Account == account {
		prev = *p
	}

	bal := models.Balances{Account: account, FetchedAt: t.now()}
	bal.RewardToken = bigOr(results[0], prev.RewardToken)
	bal.Stablecoin = bigOr(results[1], prev.Stablecoin)
	bal.RewardAllowance = bigOr(results[2], prev.RewardAllowance)
	bal.StableAllowance = bigOr(results[3], prev.StableAllowance)
	if approved, ok := results[4].BoolAt(0); ok {
		bal.MinerApproved = approved
	} else {
		bal.MinerApproved = prev.MinerApproved
	}

	if chain.AllFailed(results) {
		slog.Warn("balance reads failed, keeping last known values", "account", account.Hex())
	}
	return bal
}

func bigOr(r chain.Result, fallback *big.Int) *big.Int {
	if v, ok := r.BigAt(0); ok {
		return v
	}
	if fallback != nil {
		return new(big.Int).Set(fallback)
	}
	return nil
}

// Snapshot returns the latest snapshot, or nil before the first refresh.
func (t *Tracker) Snapshot() *position.Snapshot {
	return t.snap.Load()
}

// Aggregate returns the totals of the latest snapshot.
func (t *Tracker) Aggregate() models.Aggregate {
	return t.memo.Get(t.snap.Load())
}

// View returns the latest snapshot together with its totals.
func (t *Tracker) View() (*position.Snapshot, models.Aggregate) {
	snap := t.snap.Load()
	return snap, t.memo.Get(snap)
}

// Strategy returns the configured discovery strategy name.
func (t *Tracker) Strategy() string {
	return t.Discovery.Name()
}

// Position returns one position from the latest snapshot.
func (t *Tracker) Position(tokenID uint64) (models.Position, bool) {
	return t.snap.Load().Get(tokenID)
}

// Balances returns the latest balances; ok is false before the first refresh.
func (t *Tracker) Balances() (models.Balances, bool) {
	p := t.balances.Load()
	if p == nil {
		return models.Balances{}, false
	}
	out := *p
	for _, v := range []**big.Int{&out.RewardToken, &out.Stablecoin, &out.RewardAllowance, &out.StableAllowance} {
		if *v != nil {
			*v = new(big.Int).Set(*v)
		}
	}
	return out, true
}

func (t *Tracker) broadcast(eventType string, data interface{}) {
	if t.Events != nil {
		t.Events.Broadcast(notify.Event{Type: eventType, Data: data})
	}
}
