package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Fantasim/minerstake/internal/config"
	"github.com/Fantasim/minerstake/internal/wallet"
)

type walletView struct {
	Connected       bool   `json:"connected"`
	Account         string `json:"account,omitempty"`
	ChainID         int64  `json:"chainId"`
	ExpectedChainID int64  `json:"expectedChainId"`
	WrongChain      bool   `json:"wrongChain"`
	ReadOnly        bool   `json:"readOnly"`
}

func newWalletView(s wallet.Status) walletView {
	v := walletView{
		Connected:       s.Connected,
		ChainID:         s.ChainID,
		ExpectedChainID: s.ExpectedChainID,
		WrongChain:      s.WrongChain,
		ReadOnly:        s.ReadOnly,
	}
	if s.Connected {
		v.Account = s.Account.Hex()
	}
	return v
}

// GetWallet handles GET /api/wallet.
func GetWallet(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writeData(w, start, 0, newWalletView(deps.Session.Status()))
	}
}

// ConnectWallet handles POST /api/wallet/connect.
func ConnectWallet(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if err := deps.Session.Connect(r.Context()); err != nil {
			slog.Warn("wallet connect failed", "error", err)
			writeServiceError(w, r, err)
			return
		}
		writeData(w, start, 0, newWalletView(deps.Session.Status()))
	}
}

// DisconnectWallet handles POST /api/wallet/disconnect.
func DisconnectWallet(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		deps.Session.Disconnect()
		writeData(w, start, 0, newWalletView(deps.Session.Status()))
	}
}

type switchRequest struct {
	ChainID int64  `json:"chainId,omitempty"`
	Account string `json:"account,omitempty"`
}

// SwitchWallet handles POST /api/wallet/switch. A chainId re-checks the
// provider's chain; an account switches to a read-only view of it.
func SwitchWallet(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req switchRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.ChainID == 0 && req.Account == "" {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidInput, "chainId or account is required")
			return
		}

		if req.Account != "" {
			if !common.IsHexAddress(req.Account) {
				writeError(w, http.StatusBadRequest, config.ErrorInvalidAddress, "account is not a hex address")
				return
			}
			if err := deps.Session.WatchAccount(common.HexToAddress(req.Account)); err != nil {
				writeServiceError(w, r, err)
				return
			}
		}
		if req.ChainID != 0 {
			if err := deps.Session.SwitchChain(r.Context(), req.ChainID); err != nil {
				slog.Warn("chain switch failed", "chainID", req.ChainID, "error", err)
				writeServiceError(w, r, err)
				return
			}
		}

		writeData(w, start, 0, newWalletView(deps.Session.Status()))
	}
}
