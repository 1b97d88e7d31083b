package models

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Tier is the fixed category of an NFT miner, set at mint time.
type Tier uint8

const (
	Tier0 Tier = iota
	Tier1
	Tier2

	TierCount = int(Tier2) + 1
)

// AllTiers is the ordered list of known tiers.
var AllTiers = []Tier{Tier0, Tier1, Tier2}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t <= Tier2
}

func (t Tier) String() string {
	return "Tier" + strconv.Itoa(int(t))
}

// FieldMask records which position reads have resolved at least once.
type FieldMask uint8

const (
	KnownTier FieldMask = 1 << iota
	KnownStake
	KnownPending
	KnownClaimed

	KnownAll = KnownTier | KnownStake | KnownPending | KnownClaimed
)

// Position is the client's view of one NFT miner. Fields that have not
// resolved yet hold zero values and are absent from Known.
type Position struct {
	TokenID       uint64
	Tier          Tier
	StakeOwner    common.Address
	IsStaked      bool
	StartTime     uint64
	LastClaimTime uint64
	UnlockTime    uint64
	PendingReward *big.Int
	TotalClaimed  *big.Int
	Known         FieldMask
}

// Has reports whether every field in mask has resolved.
func (p Position) Has(mask FieldMask) bool {
	return p.Known&mask == mask
}

// ClaimAvailable is true for a staked position with a positive known pending reward.
func (p Position) ClaimAvailable() bool {
	return p.IsStaked && p.Has(KnownPending) && p.PendingReward != nil && p.PendingReward.Sign() > 0
}

// Unlocked reports whether a staked position's lock has expired at now.
func (p Position) Unlocked(now time.Time) bool {
	return p.IsStaked && uint64(now.Unix()) >= p.UnlockTime
}

// UnlockIn returns the time left until unlock, or 0 once unlocked or unstaked.
func (p Position) UnlockIn(now time.Time) time.Duration {
	if !p.IsStaked {
		return 0
	}
	nowUnix := uint64(now.Unix())
	if nowUnix >= p.UnlockTime {
		return 0
	}
	return time.Duration(p.UnlockTime-nowUnix) * time.Second
}

// Clone returns a deep copy so snapshots never share big.Int storage.
func (p Position) Clone() Position {
	out := p
	if p.PendingReward != nil {
		out.PendingReward = new(big.Int).Set(p.PendingReward)
	}
	if p.TotalClaimed != nil {
		out.TotalClaimed = new(big.Int).Set(p.TotalClaimed)
	}
	return out
}

// Aggregate is the reduced view over a set of positions.
type Aggregate struct {
	TotalPending *big.Int
	TotalClaimed *big.Int
	ActiveCount  int
}

// ActionKind identifies a user-initiated chain mutation.
type ActionKind string

const (
	ActionApprove ActionKind = "approve"
	ActionStake   ActionKind = "stake"
	ActionClaim   ActionKind = "claim"
	ActionUnstake ActionKind = "unstake"
	ActionSell    ActionKind = "sell"
	ActionBuy     ActionKind = "buy"
)

// AllActionKinds is the list of supported action kinds.
var AllActionKinds = []ActionKind{ActionApprove, ActionStake, ActionClaim, ActionUnstake, ActionSell, ActionBuy}

// ActionState is the lifecycle state of an action request.
type ActionState string

const (
	StateIdle      ActionState = "idle"
	StateSubmitted ActionState = "submitted"
	StateConfirmed ActionState = "confirmed"
	StateFailed    ActionState = "failed"
)

// Asset identifies what an Approve action grants the spender access to.
type Asset string

const (
	AssetRewardToken Asset = "reward"
	AssetStablecoin  Asset = "stable"
	AssetMiner       Asset = "miner"
)

// ActionRequest is one user-initiated operation and its lifecycle state.
type ActionRequest struct {
	ID       string
	Account  common.Address
	Kind     ActionKind
	TokenID  uint64
	Amount   *big.Int
	Asset    Asset
	Spender  common.Address
	Tier     Tier
	Referrer common.Address

	State       ActionState
	TxHash      common.Hash
	Error       string
	SubmittedAt time.Time
	CompletedAt time.Time
}

// Target returns the in-flight key: at most one request per target may be submitted.
func (r ActionRequest) Target() string {
	switch r.Kind {
	case ActionStake, ActionClaim, ActionUnstake:
		return "token:" + strconv.FormatUint(r.TokenID, 10)
	case ActionApprove:
		return fmt.Sprintf("approve:%s:%s", r.Asset, r.Spender.Hex())
	case ActionBuy:
		return "buy:" + r.Tier.String()
	default:
		return string(r.Kind)
	}
}

// Claim amount sources.
const (
	AmountFromEvent    = "event"
	AmountFromSnapshot = "snapshot"
)

// ClaimRecord is one entry of the session's in-memory claim history.
type ClaimRecord struct {
	Account      common.Address
	TokenID      uint64
	Tier         Tier
	Amount       *big.Int
	AmountSource string
	Timestamp    time.Time
	TxHash       common.Hash
}

// Balances holds the account's token balances and approvals, used as action preconditions.
type Balances struct {
	Account         common.Address
	RewardToken     *big.Int
	Stablecoin      *big.Int
	RewardAllowance *big.Int // reward token → pool
	StableAllowance *big.Int // stablecoin → sale
	MinerApproved   bool     // miner → staking
	FetchedAt       time.Time
}

// PoolState is the Internal Pool's sell configuration.
type PoolState struct {
	Enabled   bool
	FeeBps    *big.Int
	Price     *big.Int // stablecoin units per 1e18 reward units
	FetchedAt time.Time
}

// SellPreview is the expected outcome of selling reward tokens to the pool.
type SellPreview struct {
	Amount *big.Int
	Gross  *big.Int
	Fee    *big.Int
	Net    *big.Int
}

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Data interface{} `json:"data,omitempty"`
	Meta *APIMeta    `json:"meta,omitempty"`
}

// APIMeta contains pagination and execution metadata.
type APIMeta struct {
	Total         int64 `json:"total,omitempty"`
	ExecutionTime int64 `json:"executionTime,omitempty"`
}

// APIError is the standard error response.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail contains error code and message.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
