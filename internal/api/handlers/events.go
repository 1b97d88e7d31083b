package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Fantasim/minerstake/internal/config"
)

// Events handles GET /api/events, streaming notifications as server-sent events.
func Events(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			slog.Error("SSE not supported: response writer does not implement http.Flusher")
			writeError(w, http.StatusInternalServerError, config.ErrorInternal, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := deps.Hub.Subscribe()
		defer func() {
			deps.Hub.Unsubscribe(ch)
			slog.Info("SSE client disconnected", "remoteAddr", r.RemoteAddr)
		}()

		slog.Info("SSE client connected",
			"remoteAddr", r.RemoteAddr,
			"totalClients", deps.Hub.ClientCount(),
		)

		keepAlive := time.NewTicker(config.SSEKeepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}

				data, err := json.Marshal(event.Data)
				if err != nil {
					slog.Error("failed to marshal SSE event", "type", event.Type, "error", err)
					continue
				}

				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
				flusher.Flush()

			case <-keepAlive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()

			case <-r.Context().Done():
				return
			}
		}
	}
}
