package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Fantasim/minerstake/internal/chain"
)

// HealthHandler returns a handler for the GET /api/health endpoint.
func HealthHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("health check requested", "remoteAddr", r.RemoteAddr)

		status := deps.Session.Status()
		body := map[string]interface{}{
			"status":     "ok",
			"version":    deps.Version,
			"chainId":    deps.Config.ChainID,
			"strategy":   deps.Tracker.Strategy(),
			"dbPath":     deps.Config.DBPath,
			"connected":  status.Connected,
			"sseClients": deps.Hub.ClientCount(),
		}
		if hr, ok := deps.Reader.(interface{ Health() chain.ReaderHealth }); ok {
			body["rpc"] = hr.Health()
		}
		writeJSON(w, http.StatusOK, body)
	}
}
