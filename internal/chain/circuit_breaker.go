package chain

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Fantasim/minerstake/internal/config"
)

// CircuitBreaker stops hammering an RPC endpoint that keeps failing.
//
// Closed passes every batch and counts transport failures. Reaching the
// threshold opens the circuit, which rejects batches until the cooldown has
// elapsed. The breaker then lets a single probe through (half-open): success
// closes it, failure reopens it.
type CircuitBreaker struct {
	mu               sync.Mutex
	endpoint         string
	state            string
	consecutiveFails int
	threshold        int
	cooldown         time.Duration
	openedAt         time.Time
	probes           int
	now              func() time.Time
}

// NewCircuitBreaker creates a closed breaker for endpoint.
func NewCircuitBreaker(endpoint string, threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		endpoint:  endpoint,
		state:     config.CircuitClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a batch may be sent now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case config.CircuitClosed:
		return true
	case config.CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		slog.Debug("rpc circuit half-open",
			"endpoint", cb.endpoint,
			"consecutiveFails", cb.consecutiveFails,
		)
		cb.state = config.CircuitHalfOpen
		cb.probes = 1
		return true
	case config.CircuitHalfOpen:
		if cb.probes < config.CircuitBreakerHalfOpenMax {
			cb.probes++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != config.CircuitClosed {
		slog.Info("rpc circuit closed",
			"endpoint", cb.endpoint,
			"previousState", cb.state,
		)
	}
	cb.state = config.CircuitClosed
	cb.consecutiveFails = 0
	cb.probes = 0
}

// RecordFailure counts a transport failure and may open the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++

	if cb.state == config.CircuitHalfOpen || cb.consecutiveFails >= cb.threshold {
		if cb.state != config.CircuitOpen {
			slog.Warn("rpc circuit opened",
				"endpoint", cb.endpoint,
				"consecutiveFails", cb.consecutiveFails,
				"cooldown", cb.cooldown,
			)
		}
		cb.state = config.CircuitOpen
		cb.openedAt = cb.now()
		cb.probes = 0
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current failure streak.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}
