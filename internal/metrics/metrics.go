// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package metrics defines the Prometheus collectors shared by all services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP requests by service, method, path and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopmesh_http_requests_total",
		Help: "Total HTTP requests processed",
	}, []string{"service", "method", "path", "status"})

	// HTTPRequestDuration observes request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shopmesh_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "method", "path"})

	// CircuitBreakerState tracks breaker state per target: 0=closed, 1=half-open, 2=open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shopmesh_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"target"})

	// CircuitBreakerTransitions counts breaker state transitions.
	CircuitBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopmesh_circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"target", "from", "to"})

	// RPCRequestsTotal counts internal RPC calls by target, method and outcome.
	RPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopmesh_rpc_requests_total",
		Help: "Internal RPC calls by outcome (success, failure, rejected)",
	}, []string{"target", "method", "outcome"})

	// RPCRetriesTotal counts retry attempts beyond the first per target.
	RPCRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopmesh_rpc_retries_total",
		Help: "Internal RPC retry attempts",
	}, []string{"target", "method"})
)
