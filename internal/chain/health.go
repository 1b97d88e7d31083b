package chain

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Fantasim/minerstake/internal/config"
)

// ChainIDReader is satisfied by every dialled endpoint.
type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// Probe names one endpoint to check.
type Probe struct {
	Name   string
	Client ChainIDReader
}

// ProbeResult holds the outcome of a single endpoint check.
type ProbeResult struct {
	Name    string
	OK      bool
	ChainID int64
	Latency time.Duration
	Error   error
}

// CheckEndpoints asks every endpoint for its chain id and logs the results.
// Failures and chain id mismatches are reported, never fatal.
func CheckEndpoints(ctx context.Context, expectedChainID int64, probes []Probe) []ProbeResult {
	slog.Info("running startup rpc health checks", "endpoints", len(probes))

	ctx, cancel := context.WithTimeout(ctx, config.RPCCallTimeout)
	defer cancel()

	var (
		results = make([]ProbeResult, len(probes))
		g       errgroup.Group
	)
	for i, p := range probes {
		g.Go(func() error {
			start := time.Now()
			id, err := p.Client.ChainID(ctx)
			res := ProbeResult{Name: p.Name, Latency: time.Since(start), Error: err}
			if err == nil {
				res.ChainID = id.Int64()
				res.OK = res.ChainID == expectedChainID
			}
			results[i] = res

			switch {
			case err != nil:
				slog.Warn("rpc health check FAILED",
					"endpoint", p.Name,
					"latency", res.Latency.Round(time.Millisecond),
					"error", err,
				)
			case !res.OK:
				slog.Warn("rpc endpoint on unexpected chain",
					"endpoint", p.Name,
					"chainID", res.ChainID,
					"expectedChainID", expectedChainID,
				)
			default:
				slog.Info("rpc health check OK",
					"endpoint", p.Name,
					"latency", res.Latency.Round(time.Millisecond),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	okCount := 0
	for _, r := range results {
		if r.OK {
			okCount++
		}
	}
	slog.Info("startup rpc health checks complete",
		"total", len(results),
		"ok", okCount,
		"failed", len(results)-okCount,
	)
	return results
}

// ReaderHealth is a point-in-time view of the read path.
type ReaderHealth struct {
	Endpoint            string `json:"endpoint,omitempty"`
	Circuit             string `json:"circuit"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
}

// Health reports the reader's circuit breaker state.
func (r *Reader) Health() ReaderHealth {
	h := ReaderHealth{Circuit: config.CircuitClosed}
	if r.rl != nil {
		h.Endpoint = r.rl.Endpoint()
	}
	if r.cb != nil {
		h.Circuit = r.cb.State()
		h.ConsecutiveFailures = r.cb.ConsecutiveFailures()
	}
	return h
}
