// Package action submits staking transactions and tracks them from broadcast
// to confirmation. At most one request per target is in flight at a time.
package action

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/Fantasim/minerstake/internal/chain"
	"github.com/Fantasim/minerstake/internal/config"
	"github.com/Fantasim/minerstake/internal/models"
	"github.com/Fantasim/minerstake/internal/notify"
)

// Session supplies the signing account and the context confirmations are bound to.
type Session interface {
	Signer() (common.Address, *ecdsa.PrivateKey, error)
	Account() (common.Address, bool)
	Context() context.Context
}

// BatchReader executes contract reads.
type BatchReader interface {
	ReadBatch(ctx context.Context, calls []chain.Call) []chain.Result
}

// Sender signs and broadcasts a contract call. *chain.Transactor implements it.
type Sender interface {
	Send(ctx context.Context, key *ecdsa.PrivateKey, call chain.Call, gasLimit uint64) (common.Hash, error)
}

// State exposes the latest known positions and balances and refreshes them on demand.
type State interface {
	Position(tokenID uint64) (models.Position, bool)
	Balances() (models.Balances, bool)
	Trigger()
}

// PoolState reports whether the pool accepts sells.
type PoolState interface {
	State(ctx context.Context) (models.PoolState, error)
	Invalidate()
}

// AuditLog records request transitions.
type AuditLog interface {
	RecordAction(ctx context.Context, req models.ActionRequest) error
}

// Deps wires the Orchestrator. Pool, Events and Audit are optional.
type Deps struct {
	Session   Session
	Reader    BatchReader
	Sender    Sender
	Receipts  chain.ReceiptFetcher
	Contracts config.Contracts
	State     State
	Pool      PoolState
	Events    notify.Publisher
	Audit     AuditLog
}

// Orchestrator runs the action state machine.
type Orchestrator struct {
	Deps
	now func() time.Time

	mu       sync.Mutex
	inflight map[string]*models.ActionRequest

	// history belongs to historyCtx, the session context it was recorded
	// under, and is dropped once that context ends.
	history    []models.ClaimRecord
	historyCtx context.Context

	wg sync.WaitGroup
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		Deps:     d,
		now:      time.Now,
		inflight: make(map[string]*models.ActionRequest),
	}
}

// Submit validates req, checks approvals, broadcasts the transaction and
// returns the submitted request. Confirmation is awaited in the background.
func (o *Orchestrator) Submit(ctx context.Context, req models.ActionRequest) (*models.ActionRequest, error) {
	req = o.normalize(req)
	if err := o.validate(req); err != nil {
		return nil, err
	}

	account, key, err := o.Session.Signer()
	if err != nil {
		return nil, err
	}
	sessionCtx := o.Session.Context()

	req.ID = uuid.NewString()
	req.Account = account
	req.State = models.StateIdle
	target := req.Target()

	if err := o.reserve(target, &req); err != nil {
		slog.Warn("action rejected, target in flight",
			"kind", req.Kind,
			"target", target,
		)
		return nil, err
	}

	if err := o.gate(ctx, account, req); err != nil {
		o.release(target)
		slog.Info("action gated",
			"kind", req.Kind,
			"target", target,
			"error", err,
		)
		return nil, err
	}

	var snapshot models.Position
	if req.Kind == models.ActionClaim {
		snapshot, _ = o.State.Position(req.TokenID)
	}

	call, gasLimit := o.buildCall(req)
	req.SubmittedAt = o.now()

	hash, err := o.Sender.Send(ctx, key, call, gasLimit)
	if err != nil {
		req.State = models.StateFailed
		req.Error = err.Error()
		req.CompletedAt = o.now()
		o.record(ctx, req)
		o.publish(notify.TypeActionFailed, req)
		o.release(target)
		return cloneRequest(req), err
	}

	req.State = models.StateSubmitted
	req.TxHash = hash
	o.update(target, req)
	o.record(ctx, req)
	o.publish(notify.TypeActionSubmitted, req)

	slog.Info("action submitted",
		"id", req.ID,
		"kind", req.Kind,
		"target", target,
		"account", account.Hex(),
		"txHash", hash.Hex(),
	)

	o.wg.Add(1)
	go o.await(sessionCtx, req, snapshot)

	return cloneRequest(req), nil
}

// await blocks on the receipt with no deadline beyond the session context.
func (o *Orchestrator) await(ctx context.Context, req models.ActionRequest, snapshot models.Position) {
	defer o.wg.Done()
	target := req.Target()
	defer o.release(target)

	receipt, err := chain.WaitForReceipt(ctx, o.Receipts, req.TxHash)
	req.CompletedAt = o.now()

	if err != nil {
		req.State = models.StateFailed
		switch {
		case errors.Is(err, config.ErrTxReverted):
			req.Error = "transaction reverted"
		case ctx.Err() != nil:
			req.Error = "confirmation abandoned: session ended"
		default:
			req.Error = err.Error()
		}
		slog.Warn("action failed",
			"id", req.ID,
			"kind", req.Kind,
			"txHash", req.TxHash.Hex(),
			"error", err,
		)
		o.record(context.WithoutCancel(ctx), req)
		o.publish(notify.TypeActionFailed, req)
		return
	}

	req.State = models.StateConfirmed
	slog.Info("action confirmed",
		"id", req.ID,
		"kind", req.Kind,
		"txHash", req.TxHash.Hex(),
		"blockNumber", receipt.BlockNumber,
		"duration", req.CompletedAt.Sub(req.SubmittedAt).Round(time.Millisecond),
	)

	switch req.Kind {
	case models.ActionClaim:
		if p, ok := o.State.Position(req.TokenID); ok && preClaim(snapshot, p, req.Account) {
			snapshot = p
		}
		o.appendClaim(ctx, req, receipt, snapshot)
	case models.ActionSell:
		if o.Pool != nil {
			o.Pool.Invalidate()
		}
	}

	o.record(context.WithoutCancel(ctx), req)
	o.State.Trigger()
	o.publish(notify.TypeActionConfirmed, req)
}

// preClaim reports whether latest is a later pre-claim observation than
// submitted. Pending rewards only grow until the claim lands, so a smaller
// value was read after the claim.
func preClaim(submitted, latest models.Position, account common.Address) bool {
	if !latest.Has(models.KnownPending) || latest.PendingReward == nil || latest.StakeOwner != account {
		return false
	}
	if !submitted.Has(models.KnownPending) || submitted.PendingReward == nil {
		return true
	}
	return latest.PendingReward.Cmp(submitted.PendingReward) >= 0
}

// appendClaim records a confirmed claim. snapshot is the last position
// observed before confirmation and is used when the receipt has no Claimed log.
func (o *Orchestrator) appendClaim(sessionCtx context.Context, req models.ActionRequest, receipt *types.Receipt, snapshot models.Position) {
	rec := models.ClaimRecord{
		Account:   req.Account,
		TokenID:   req.TokenID,
		Timestamp: req.CompletedAt,
		TxHash:    req.TxHash,
	}
	if snapshot.Has(models.KnownTier) {
		rec.Tier = snapshot.Tier
	}

	if amount, ok := chain.ClaimedAmount(receipt, o.Contracts.Staking, req.TokenID); ok {
		rec.Amount = amount
		rec.AmountSource = models.AmountFromEvent
	} else {
		rec.AmountSource = models.AmountFromSnapshot
		if snapshot.Has(models.KnownPending) && snapshot.PendingReward != nil {
			rec.Amount = new(big.Int).Set(snapshot.PendingReward)
		} else {
			rec.Amount = new(big.Int)
			slog.Warn("claim amount unknown, no event and no pending snapshot",
				"tokenID", req.TokenID,
				"txHash", req.TxHash.Hex(),
			)
		}
	}

	o.mu.Lock()
	if o.historyCtx != sessionCtx {
		o.history = nil
		o.historyCtx = sessionCtx
	}
	o.history = append(o.history, rec)
	o.mu.Unlock()

	slog.Info("claim recorded",
		"tokenID", rec.TokenID,
		"amount", rec.Amount.String(),
		"amountSource", rec.AmountSource,
	)
	if o.Events != nil {
		o.Events.Broadcast(notify.Event{Type: notify.TypeClaimRecorded, Data: notify.ClaimData{
			TokenID:      rec.TokenID,
			Amount:       rec.Amount.String(),
			AmountSource: rec.AmountSource,
			TxHash:       rec.TxHash.Hex(),
		}})
	}
}

// normalize fills the default spender for approvals and copies amounts.
func (o *Orchestrator) normalize(req models.ActionRequest) models.ActionRequest {
	if req.Amount != nil {
		req.Amount = new(big.Int).Set(req.Amount)
	}
	if req.Kind == models.ActionApprove && req.Spender == (common.Address{}) {
		switch req.Asset {
		case models.AssetRewardToken:
			req.Spender = o.Contracts.Pool
		case models.AssetStablecoin:
			req.Spender = o.Contracts.Sale
		case models.AssetMiner:
			req.Spender = o.Contracts.Staking
		}
	}
	return req
}

// validate uses only local state; it never reads the chain.
func (o *Orchestrator) validate(req models.ActionRequest) error {
	switch req.Kind {
	case models.ActionStake, models.ActionClaim, models.ActionUnstake:
		if req.TokenID == 0 {
			return fmt.Errorf("%w: token id must be positive", config.ErrInvalidInput)
		}
		return o.validatePosition(req)

	case models.ActionApprove:
		switch req.Asset {
		case models.AssetRewardToken, models.AssetStablecoin:
			if req.Amount == nil || req.Amount.Sign() <= 0 {
				return fmt.Errorf("%w: approve amount must be positive", config.ErrInvalidInput)
			}
		case models.AssetMiner:
		default:
			return fmt.Errorf("%w: unknown asset %q", config.ErrInvalidInput, req.Asset)
		}
		return nil

	case models.ActionSell:
		if req.Amount == nil || req.Amount.Sign() <= 0 {
			return fmt.Errorf("%w: sell amount must be positive", config.ErrInvalidInput)
		}
		if bal, ok := o.State.Balances(); ok && bal.RewardToken != nil && req.Amount.Cmp(bal.RewardToken) > 0 {
			return fmt.Errorf("%w: sell %s, balance %s", config.ErrInsufficientBalance, req.Amount, bal.RewardToken)
		}
		return nil

	case models.ActionBuy:
		if !req.Tier.Valid() {
			return fmt.Errorf("%w: unknown tier %d", config.ErrInvalidInput, req.Tier)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", config.ErrUnknownAction, req.Kind)
}

func (o *Orchestrator) validatePosition(req models.ActionRequest) error {
	p, ok := o.State.Position(req.TokenID)
	if !ok || !p.Has(models.KnownStake) {
		return nil
	}
	switch req.Kind {
	case models.ActionStake:
		if p.IsStaked {
			return fmt.Errorf("%w: token %d is already staked", config.ErrInvalidInput, req.TokenID)
		}
	case models.ActionClaim:
		if !p.IsStaked {
			return fmt.Errorf("%w: token %d", config.ErrNotStaked, req.TokenID)
		}
	case models.ActionUnstake:
		if !p.IsStaked {
			return fmt.Errorf("%w: token %d", config.ErrNotStaked, req.TokenID)
		}
		if now := o.now(); !p.Unlocked(now) {
			return fmt.Errorf("%w: token %d unlocks in %s", config.ErrNotUnlocked, req.TokenID, p.UnlockIn(now))
		}
	}
	return nil
}

// gate checks the approvals an action needs. Missing approvals are reported,
// never chained automatically.
func (o *Orchestrator) gate(ctx context.Context, account common.Address, req models.ActionRequest) error {
	c := o.Contracts
	switch req.Kind {
	case models.ActionSell:
		if o.Pool != nil {
			state, err := o.Pool.State(ctx)
			if err != nil {
				return err
			}
			if !state.Enabled {
				return config.ErrPoolDisabled
			}
		}
		res := o.Reader.ReadBatch(ctx, []chain.Call{
			chain.NewCall(c.RewardToken, chain.ERC20ABI, chain.MethodAllowance, account, c.Pool),
		})
		allowance, ok := res[0].BigAt(0)
		if !ok {
			return fmt.Errorf("%w: read reward allowance", config.ErrProviderUnavailable)
		}
		if allowance.Cmp(req.Amount) < 0 {
			return fmt.Errorf("%w: reward allowance %s < %s", config.ErrApprovalRequired, allowance, req.Amount)
		}

	case models.ActionStake:
		res := o.Reader.ReadBatch(ctx, []chain.Call{
			chain.NewCall(c.Miner, chain.MinerABI, chain.MethodIsApprovedForAll, account, c.Staking),
		})
		approved, ok := res[0].BoolAt(0)
		if !ok {
			return fmt.Errorf("%w: read miner approval", config.ErrProviderUnavailable)
		}
		if !approved {
			return fmt.Errorf("%w: staking contract is not approved for miners", config.ErrApprovalRequired)
		}

	case models.ActionBuy:
		res := o.Reader.ReadBatch(ctx, []chain.Call{
			chain.NewCall(c.Sale, chain.SaleABI, chain.MethodPriceOf, uint8(req.Tier)),
			chain.NewCall(c.Stablecoin, chain.ERC20ABI, chain.MethodAllowance, account, c.Sale),
			chain.NewCall(c.Stablecoin, chain.ERC20ABI, chain.MethodBalanceOf, account),
		})
		price, ok1 := res[0].BigAt(0)
		allowance, ok2 := res[1].BigAt(0)
		balance, ok3 := res[2].BigAt(0)
		if !ok1 || !ok2 || !ok3 {
			return fmt.Errorf("%w: read sale price and stablecoin state", config.ErrProviderUnavailable)
		}
		if balance.Cmp(price) < 0 {
			return fmt.Errorf("%w: price %s, balance %s", config.ErrInsufficientBalance, price, balance)
		}
		if allowance.Cmp(price) < 0 {
			return fmt.Errorf("%w: stablecoin allowance %s < price %s", config.ErrApprovalRequired, allowance, price)
		}
	}
	return nil
}

func (o *Orchestrator) buildCall(req models.ActionRequest) (chain.Call, uint64) {
	c := o.Contracts
	id := new(big.Int).SetUint64(req.TokenID)

	switch req.Kind {
	case models.ActionApprove:
		switch req.Asset {
		case models.AssetMiner:
			return chain.NewCall(c.Miner, chain.MinerABI, chain.MethodSetApprovalForAll, req.Spender, true), config.GasLimitApprove
		case models.AssetStablecoin:
			return chain.NewCall(c.Stablecoin, chain.ERC20ABI, chain.MethodApprove, req.Spender, req.Amount), config.GasLimitApprove
		default:
			return chain.NewCall(c.RewardToken, chain.ERC20ABI, chain.MethodApprove, req.Spender, req.Amount), config.GasLimitApprove
		}
	case models.ActionStake:
		return chain.NewCall(c.Staking, chain.StakingABI, chain.MethodStake, id), config.GasLimitStake
	case models.ActionClaim:
		return chain.NewCall(c.Staking, chain.StakingABI, chain.MethodClaim, id), config.GasLimitClaim
	case models.ActionUnstake:
		return chain.NewCall(c.Staking, chain.StakingABI, chain.MethodUnstake, id), config.GasLimitUnstake
	case models.ActionSell:
		return chain.NewCall(c.Pool, chain.PoolABI, chain.MethodSell, req.Amount), config.GasLimitSell
	default:
		return chain.NewCall(c.Sale, chain.SaleABI, chain.MethodBuy, uint8(req.Tier), req.Referrer), config.GasLimitBuy
	}
}

func (o *Orchestrator) reserve(target string, req *models.ActionRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[target]; busy {
		return fmt.Errorf("%w: %s", config.ErrActionInFlight, target)
	}
	o.inflight[target] = cloneRequest(*req)
	return nil
}

func (o *Orchestrator) update(target string, req models.ActionRequest) {
	o.mu.Lock()
	o.inflight[target] = cloneRequest(req)
	o.mu.Unlock()
}

func (o *Orchestrator) release(target string) {
	o.mu.Lock()
	delete(o.inflight, target)
	o.mu.Unlock()
}

func (o *Orchestrator) record(ctx context.Context, req models.ActionRequest) {
	if o.Audit == nil {
		return
	}
	if err := o.Audit.RecordAction(ctx, req); err != nil {
		slog.Error("failed to record action", "id", req.ID, "error", err)
	}
}

func (o *Orchestrator) publish(eventType string, req models.ActionRequest) {
	if o.Events == nil {
		return
	}
	data := notify.ActionData{
		ID:     req.ID,
		Kind:   string(req.Kind),
		Target: req.Target(),
		State:  string(req.State),
		Error:  req.Error,
	}
	if req.TxHash != (common.Hash{}) {
		data.TxHash = req.TxHash.Hex()
	}
	o.Events.Broadcast(notify.Event{Type: eventType, Data: data})
}

// InFlight lists requests currently holding their target, oldest first.
func (o *Orchestrator) InFlight() []models.ActionRequest {
	o.mu.Lock()
	out := make([]models.ActionRequest, 0, len(o.inflight))
	for _, r := range o.inflight {
		out = append(out, *cloneRequest(*r))
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// History returns the current account's claims in this session, oldest
// first. It is empty while disconnected and is cleared when the session ends.
func (o *Orchestrator) History() []models.ClaimRecord {
	account, connected := o.Session.Account()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.historyCtx != nil && o.historyCtx.Err() != nil {
		o.history = nil
		o.historyCtx = nil
	}
	out := make([]models.ClaimRecord, 0, len(o.history))
	if !connected {
		return out
	}
	for _, r := range o.history {
		if r.Account != account {
			continue
		}
		r.Amount = new(big.Int).Set(r.Amount)
		out = append(out, r)
	}
	return out
}

// Wait blocks until every pending confirmation has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func cloneRequest(r models.ActionRequest) *models.ActionRequest {
	out := r
	if r.Amount != nil {
		out.Amount = new(big.Int).Set(r.Amount)
	}
	return &out
}
