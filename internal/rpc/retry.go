// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package rpc

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopmesh/shopmesh/internal/logging"
	"github.com/shopmesh/shopmesh/internal/metrics"
)

// RetryPolicy controls the backoff applied between attempts of one logical
// call. MaxAttempts includes the original attempt.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// wait returns the sleep before attempt n+1 (n counted from 1):
// min(cap, base * 2^(n-1)) scaled by a jitter factor uniform in [1, 1.5).
func (p RetryPolicy) wait(attempt int) time.Duration {
	backoff := p.Base << (attempt - 1)
	if backoff > p.Cap || backoff <= 0 {
		backoff = p.Cap
	}
	jitter := 1 + rand.Float64()*0.5
	return time.Duration(float64(backoff) * jitter)
}

// do runs fn up to MaxAttempts times, sleeping between attempts. Only
// retryable transport errors are retried; logical failures and context
// cancellation abort immediately.
func (p RetryPolicy) do(ctx context.Context, target, method string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			logging.Ctx(ctx).Warn().
				Str("target", target).
				Str("method", method).
				Int("attempts", attempt).
				Err(err).
				Msg("RPC retries exhausted")
			return err
		}

		metrics.RPCRetriesTotal.WithLabelValues(target, method).Inc()
		wait := p.wait(attempt)
		logging.Ctx(ctx).Debug().
			Str("target", target).
			Str("method", method).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("RPC attempt failed, backing off")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
