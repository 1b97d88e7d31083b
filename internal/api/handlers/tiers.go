package handlers

import (
	"net/http"
	"time"
)

// ListTiers handles GET /api/tiers.
func ListTiers(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		all := deps.Tiers.All()
		writeData(w, start, int64(len(all)), all)
	}
}
