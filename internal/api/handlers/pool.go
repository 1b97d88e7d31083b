package handlers

import (
	"net/http"
	"time"

	"github.com/Fantasim/minerstake/internal/config"
	"github.com/Fantasim/minerstake/internal/models"
)

type balancesView struct {
	Account         string      `json:"account"`
	RewardToken     *amountView `json:"rewardToken,omitempty"`
	Stablecoin      *amountView `json:"stablecoin,omitempty"`
	RewardAllowance *amountView `json:"rewardAllowance,omitempty"`
	StableAllowance *amountView `json:"stableAllowance,omitempty"`
	MinerApproved   bool        `json:"minerApproved"`
	FetchedAt       time.Time   `json:"fetchedAt"`
}

// GetBalances handles GET /api/balances.
func GetBalances(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		account, err := deps.Session.Reader()
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		bal, ok := deps.Tracker.Balances()
		if !ok || bal.Account != account {
			if err := deps.Tracker.Refresh(r.Context()); err != nil {
				writeServiceError(w, r, err)
				return
			}
			bal, _ = deps.Tracker.Balances()
		}

		writeData(w, start, 0, balancesView{
			Account:         bal.Account.Hex(),
			RewardToken:     newAmount(bal.RewardToken, config.RewardTokenDecimals),
			Stablecoin:      newAmount(bal.Stablecoin, config.StablecoinDecimals),
			RewardAllowance: newAmount(bal.RewardAllowance, config.RewardTokenDecimals),
			StableAllowance: newAmount(bal.StableAllowance, config.StablecoinDecimals),
			MinerApproved:   bal.MinerApproved,
			FetchedAt:       bal.FetchedAt,
		})
	}
}

type poolView struct {
	Enabled   bool        `json:"enabled"`
	FeeBps    string      `json:"feeBps"`
	Price     *amountView `json:"price"`
	FetchedAt time.Time   `json:"fetchedAt"`
}

type previewView struct {
	Amount *amountView `json:"amount"`
	Gross  *amountView `json:"gross"`
	Fee    *amountView `json:"fee"`
	Net    *amountView `json:"net"`
}

// GetPool handles GET /api/pool.
func GetPool(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		state, err := deps.Pool.State(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, start, 0, newPoolView(state))
	}
}

func newPoolView(s models.PoolState) poolView {
	return poolView{
		Enabled:   s.Enabled,
		FeeBps:    s.FeeBps.String(),
		Price:     newAmount(s.Price, config.StablecoinDecimals),
		FetchedAt: s.FetchedAt,
	}
}

// PreviewSell handles GET /api/pool/preview?amount=. amount is in reward
// token units unless raw=true.
func PreviewSell(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		q := r.URL.Query()
		amount, ok := parseAmount(q.Get("amount"), q.Get("raw") == "true", config.RewardTokenDecimals)
		if !ok {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidInput, "amount must be a non-negative decimal")
			return
		}

		preview, err := deps.Pool.PreviewSell(r.Context(), amount)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeData(w, start, 0, previewView{
			Amount: newAmount(preview.Amount, config.RewardTokenDecimals),
			Gross:  newAmount(preview.Gross, config.StablecoinDecimals),
			Fee:    newAmount(preview.Fee, config.StablecoinDecimals),
			Net:    newAmount(preview.Net, config.StablecoinDecimals),
		})
	}
}
