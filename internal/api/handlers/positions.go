package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/minerstake/internal/aggregate"
	"github.com/Fantasim/minerstake/internal/config"
	"github.com/Fantasim/minerstake/internal/discovery"
	"github.com/Fantasim/minerstake/internal/models"
	"github.com/Fantasim/minerstake/internal/position"
	"github.com/Fantasim/minerstake/internal/tiers"
	"github.com/Fantasim/minerstake/internal/tracker"
)

type positionView struct {
	TokenID        uint64      `json:"tokenId"`
	Tier           *int        `json:"tier,omitempty"`
	TierName       string      `json:"tierName,omitempty"`
	Image          string      `json:"image,omitempty"`
	Multiplier     float64     `json:"multiplier,omitempty"`
	IsStaked       bool        `json:"isStaked"`
	StakeOwner     string      `json:"stakeOwner,omitempty"`
	StartTime      uint64      `json:"startTime,omitempty"`
	LastClaimTime  uint64      `json:"lastClaimTime,omitempty"`
	UnlockTime     uint64      `json:"unlockTime,omitempty"`
	Unlocked       bool        `json:"unlocked"`
	UnlockIn       int64       `json:"unlockInSeconds"`
	PendingReward  *amountView `json:"pendingReward,omitempty"`
	TotalClaimed   *amountView `json:"totalClaimed,omitempty"`
	ClaimAvailable bool        `json:"claimAvailable"`
	Known          []string    `json:"known"`
}

type aggregateView struct {
	TotalPending *amountView `json:"totalPending"`
	TotalClaimed *amountView `json:"totalClaimed"`
	ActiveCount  int         `json:"activeCount"`
}

type positionsResponse struct {
	Account   string         `json:"account"`
	Strategy  string         `json:"strategy"`
	Version   uint64         `json:"version"`
	FetchedAt time.Time      `json:"fetchedAt"`
	Positions []positionView `json:"positions"`
	Aggregate aggregateView  `json:"aggregate"`
}

func newPositionView(p models.Position, table *tiers.Table, now time.Time) positionView {
	v := positionView{
		TokenID:        p.TokenID,
		IsStaked:       p.IsStaked,
		Unlocked:       p.Unlocked(now),
		UnlockIn:       int64(p.UnlockIn(now) / time.Second),
		ClaimAvailable: p.ClaimAvailable(),
		Known:          make([]string, 0, 4),
	}
	if p.Has(models.KnownTier) {
		tier := int(p.Tier)
		v.Tier = &tier
		if d, ok := table.Lookup(p.Tier); ok {
			v.TierName = d.Name
			v.Image = d.Image
			v.Multiplier = d.Multiplier
		}
		v.Known = append(v.Known, "tier")
	}
	if p.Has(models.KnownStake) {
		if p.IsStaked {
			v.StakeOwner = p.StakeOwner.Hex()
			v.StartTime = p.StartTime
			v.LastClaimTime = p.LastClaimTime
			v.UnlockTime = p.UnlockTime
		}
		v.Known = append(v.Known, "stake")
	}
	if p.Has(models.KnownPending) {
		v.PendingReward = newAmount(p.PendingReward, config.RewardTokenDecimals)
		v.Known = append(v.Known, "pending")
	}
	if p.Has(models.KnownClaimed) {
		v.TotalClaimed = newAmount(p.TotalClaimed, config.RewardTokenDecimals)
		v.Known = append(v.Known, "claimed")
	}
	return v
}

func newPositionsResponse(snap *position.Snapshot, agg models.Aggregate, strategy string, table *tiers.Table) positionsResponse {
	now := time.Now()
	positions := snap.Positions()
	resp := positionsResponse{
		Strategy:  strategy,
		Positions: make([]positionView, 0, len(positions)),
		Aggregate: aggregateView{
			TotalPending: newAmount(agg.TotalPending, config.RewardTokenDecimals),
			TotalClaimed: newAmount(agg.TotalClaimed, config.RewardTokenDecimals),
			ActiveCount:  agg.ActiveCount,
		},
	}
	if snap != nil {
		resp.Account = snap.Account.Hex()
		resp.Version = snap.Version
		resp.FetchedAt = snap.FetchedAt
	}
	for _, p := range positions {
		resp.Positions = append(resp.Positions, newPositionView(p, table, now))
	}
	return resp
}

// ListPositions handles GET /api/positions. The optional strategy parameter
// runs a one-off discovery with another strategy without touching the
// tracked snapshot.
func ListPositions(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		account, err := deps.Session.Reader()
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		strategyName := r.URL.Query().Get("strategy")
		if strategyName != "" && strategyName != deps.Tracker.Strategy() {
			strategy, err := discovery.New(strategyName, deps.Reader, deps.Config.Contracts(), deps.Config.ScanCeiling)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			snap, err := tracker.Load(r.Context(), strategy, deps.Fetcher, account, nil)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			slog.Info("positions loaded with alternate strategy",
				"account", account.Hex(),
				"strategy", strategyName,
				"count", snap.Len(),
				"duration", time.Since(start).Round(time.Millisecond),
			)
			agg := aggregate.Compute(snap.Positions())
			writeData(w, start, int64(snap.Len()), newPositionsResponse(snap, agg, strategyName, deps.Tiers))
			return
		}

		snap, agg := deps.Tracker.View()
		if snap == nil || snap.Account != account {
			if err := deps.Tracker.Refresh(r.Context()); err != nil {
				writeServiceError(w, r, err)
				return
			}
			snap, agg = deps.Tracker.View()
		}

		writeData(w, start, int64(snap.Len()), newPositionsResponse(snap, agg, deps.Tracker.Strategy(), deps.Tiers))
	}
}

// GetPosition handles GET /api/positions/{tokenId}.
func GetPosition(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		tokenID, err := strconv.ParseUint(chi.URLParam(r, "tokenId"), 10, 64)
		if err != nil || tokenID == 0 {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidInput, "tokenId must be a positive integer")
			return
		}

		if _, err := deps.Session.Reader(); err != nil {
			writeServiceError(w, r, err)
			return
		}

		p, ok := deps.Tracker.Position(tokenID)
		if !ok {
			writeError(w, http.StatusNotFound, config.ErrorNotFound, "position not found for connected account")
			return
		}
		writeData(w, start, 0, newPositionView(p, deps.Tiers, time.Now()))
	}
}
