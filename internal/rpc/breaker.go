// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package rpc

import (
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/shopmesh/shopmesh/internal/logging"
	"github.com/shopmesh/shopmesh/internal/metrics"
)

// BreakerSettings tunes the per-target circuit breaker.
type BreakerSettings struct {
	// FailThreshold is the number of consecutive failures that opens
	// the circuit.
	FailThreshold uint32

	// ResetTimeout is how long the circuit stays open before allowing a
	// single half-open probe.
	ResetTimeout time.Duration
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// newBreaker builds the per-target circuit breaker. MaxRequests of 1 means a
// single probe in half-open; its success closes the circuit, its failure
// re-opens it.
func newBreaker(target string, settings BreakerSettings) *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        target,
		MaxRequests: 1,
		Timeout:     settings.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("target", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}
