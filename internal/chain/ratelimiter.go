package chain

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound RPC requests to one endpoint.
// A JSON-RPC batch counts as a single request.
type RateLimiter struct {
	limiter  *rate.Limiter
	endpoint string
}

// NewRateLimiter allows rps requests per second against endpoint.
func NewRateLimiter(endpoint string, rps int) *RateLimiter {
	slog.Debug("rpc rate limiter created",
		"endpoint", endpoint,
		"rps", rps,
	)
	return &RateLimiter{
		// Burst of 1 spreads requests evenly; public BSC nodes throttle bursts.
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		endpoint: endpoint,
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		slog.Debug("rpc rate limiter wait cancelled",
			"endpoint", rl.endpoint,
			"error", err,
		)
		return err
	}
	return nil
}

// Endpoint returns the endpoint this limiter throttles.
func (rl *RateLimiter) Endpoint() string {
	return rl.endpoint
}
