package executor

import (
	"log/slog"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/harborlabs/bunkerplan/pkg/observability"
)

// breakerTripThreshold is the number of consecutive failures of one agent
// within a plan before the executor escalates to the supervisor stage.
const breakerTripThreshold = 3

// breakerSet holds one circuit breaker per agent id, scoped to a single
// plan execution.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerSet() *breakerSet {
	return &breakerSet{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *breakerSet) forAgent(agentID string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[agentID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: agentID,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				slog.Warn("Circuit breaker opened for agent", "agent", name)
				if pm := observability.GetGlobalMetrics(); pm != nil {
					pm.CircuitBreakerTrips.WithLabelValues(name).Inc()
				}
			}
		},
	})
	b.breakers[agentID] = cb
	return cb
}

// isOpen reports whether the agent's breaker currently rejects calls.
func (b *breakerSet) isOpen(agentID string) bool {
	return b.forAgent(agentID).State() == gobreaker.StateOpen
}
