package handlers

import (
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/Fantasim/minerstake/internal/config"
	"github.com/Fantasim/minerstake/internal/models"
)

// actionBody is the POST /api/actions/{kind} request. Fields not used by
// the kind are ignored.
type actionBody struct {
	TokenID   uint64 `json:"tokenId,omitempty"`
	Amount    string `json:"amount,omitempty"`
	AmountRaw bool   `json:"amountRaw,omitempty"`
	Asset     string `json:"asset,omitempty"`
	Spender   string `json:"spender,omitempty"`
	Tier      *int   `json:"tier,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
}

type actionView struct {
	ID          string      `json:"id"`
	Account     string      `json:"account"`
	Kind        string      `json:"kind"`
	Target      string      `json:"target"`
	TokenID     uint64      `json:"tokenId,omitempty"`
	Amount      *amountView `json:"amount,omitempty"`
	State       string      `json:"state"`
	TxHash      string      `json:"txHash,omitempty"`
	Error       string      `json:"error,omitempty"`
	SubmittedAt time.Time   `json:"submittedAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

func newActionView(req models.ActionRequest) actionView {
	v := actionView{
		ID:          req.ID,
		Account:     req.Account.Hex(),
		Kind:        string(req.Kind),
		Target:      req.Target(),
		TokenID:     req.TokenID,
		Amount:      newAmount(req.Amount, amountDecimals(req.Kind, req.Asset)),
		State:       string(req.State),
		Error:       req.Error,
		SubmittedAt: req.SubmittedAt,
	}
	if req.TxHash != (common.Hash{}) {
		v.TxHash = req.TxHash.Hex()
	}
	if !req.CompletedAt.IsZero() {
		completed := req.CompletedAt
		v.CompletedAt = &completed
	}
	return v
}

// amountDecimals returns the decimals of the token an action's amount is in.
func amountDecimals(kind models.ActionKind, asset models.Asset) int32 {
	if kind == models.ActionApprove && asset == models.AssetStablecoin {
		return config.StablecoinDecimals
	}
	return config.RewardTokenDecimals
}

// toRequest converts the body into an action request for kind.
func (b actionBody) toRequest(kind models.ActionKind) (models.ActionRequest, string) {
	req := models.ActionRequest{Kind: kind}

	switch kind {
	case models.ActionStake, models.ActionClaim, models.ActionUnstake:
		req.TokenID = b.TokenID

	case models.ActionApprove:
		req.Asset = models.Asset(b.Asset)
		if b.Spender != "" {
			if !common.IsHexAddress(b.Spender) {
				return req, "spender is not a hex address"
			}
			req.Spender = common.HexToAddress(b.Spender)
		}
		if req.Asset != models.AssetMiner {
			amount, ok := parseAmount(b.Amount, b.AmountRaw, amountDecimals(kind, req.Asset))
			if !ok {
				return req, "amount must be a non-negative decimal"
			}
			req.Amount = amount
		}

	case models.ActionSell:
		amount, ok := parseAmount(b.Amount, b.AmountRaw, config.RewardTokenDecimals)
		if !ok {
			return req, "amount must be a non-negative decimal"
		}
		req.Amount = amount

	case models.ActionBuy:
		if b.Tier == nil || *b.Tier < 0 || *b.Tier > 255 {
			return req, "tier is required and must be 0-255"
		}
		req.Tier = models.Tier(*b.Tier)
		if b.Referrer != "" {
			if !common.IsHexAddress(b.Referrer) {
				return req, "referrer is not a hex address"
			}
			req.Referrer = common.HexToAddress(b.Referrer)
		}
	}
	return req, ""
}

// SubmitAction handles POST /api/actions/{kind}. The response carries the
// submitted request; confirmation arrives as an event.
func SubmitAction(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		kind := models.ActionKind(chi.URLParam(r, "kind"))
		if !lo.Contains(models.AllActionKinds, kind) {
			writeError(w, http.StatusBadRequest, config.ErrorUnknownAction, "unknown action kind: "+string(kind))
			return
		}

		var body actionBody
		if !decodeJSON(w, r, &body) {
			return
		}
		req, problem := body.toRequest(kind)
		if problem != "" {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidInput, problem)
			return
		}

		slog.Info("action requested",
			"kind", kind,
			"target", req.Target(),
			"remoteAddr", r.RemoteAddr,
		)

		submitted, err := deps.Orchestrator.Submit(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusAccepted, models.APIResponse{
			Data: newActionView(*submitted),
			Meta: &models.APIMeta{ExecutionTime: time.Since(start).Milliseconds()},
		})
	}
}

// ListInFlight handles GET /api/actions/inflight.
func ListInFlight(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		inflight := deps.Orchestrator.InFlight()
		views := lo.Map(inflight, func(req models.ActionRequest, _ int) actionView {
			return newActionView(req)
		})
		writeData(w, start, int64(len(views)), views)
	}
}

// ListActions handles GET /api/actions, the persisted action log.
func ListActions(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		page := parseIntParam(r, "page", 1)
		pageSize := parseIntParam(r, "pageSize", config.ActionLogPageSize)
		if pageSize > config.ActionLogPageSize*4 {
			pageSize = config.ActionLogPageSize * 4
		}

		rows, total, err := deps.DB.ListActions(r.Context(), page, pageSize)
		if err != nil {
			slog.Error("failed to list actions", "error", err)
			writeError(w, http.StatusInternalServerError, config.ErrorDatabase, "failed to list actions")
			return
		}
		writeData(w, start, total, rows)
	}
}

// GetAction handles GET /api/actions/log/{id}.
func GetAction(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := chi.URLParam(r, "id")
		row, err := deps.DB.GetAction(r.Context(), id)
		if err != nil {
			slog.Error("failed to get action", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, config.ErrorDatabase, "failed to get action")
			return
		}
		if row == nil {
			writeError(w, http.StatusNotFound, config.ErrorNotFound, "action not found")
			return
		}
		writeData(w, start, 0, row)
	}
}

type claimView struct {
	TokenID      uint64      `json:"tokenId"`
	Tier         int         `json:"tier"`
	TierName     string      `json:"tierName,omitempty"`
	Amount       *amountView `json:"amount"`
	AmountSource string      `json:"amountSource"`
	Timestamp    time.Time   `json:"timestamp"`
	TxHash       string      `json:"txHash"`
}

// GetHistory handles GET /api/history, the session's claim history.
func GetHistory(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		history := deps.Orchestrator.History()
		total := new(big.Int)
		views := lo.Map(history, func(c models.ClaimRecord, _ int) claimView {
			total.Add(total, c.Amount)
			v := claimView{
				TokenID:      c.TokenID,
				Tier:         int(c.Tier),
				Amount:       newAmount(c.Amount, config.RewardTokenDecimals),
				AmountSource: c.AmountSource,
				Timestamp:    c.Timestamp,
				TxHash:       c.TxHash.Hex(),
			}
			if d, ok := deps.Tiers.Lookup(c.Tier); ok {
				v.TierName = d.Name
			}
			return v
		})

		writeData(w, start, int64(len(views)), map[string]interface{}{
			"claims": views,
			"total":  newAmount(total, config.RewardTokenDecimals),
		})
	}
}
