// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/shopmesh/shopmesh/internal/logging"
)

// ErrUnauthenticated means the shared RPC secret was rejected. This is a
// deployment fault, never retried.
var ErrUnauthenticated = errors.New("internal rpc unauthenticated")

// TransportError wraps a failed delivery attempt. Retryable marks the
// conditions the retry policy may act on: connection failures, deadlines,
// and unavailable/resource-exhausted class statuses.
type TransportError struct {
	Target    string
	Status    int
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("rpc to %s: status %d", e.Target, e.Status)
	}
	return fmt.Sprintf("rpc to %s: %v", e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transport condition worth retrying.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}

// Caller performs single JSON-over-HTTP calls against one target's internal
// listener. Resilience is layered on top by Client.
type Caller struct {
	target   string
	base     string
	secret   string
	deadline time.Duration
	http     *http.Client
}

// NewCaller builds a transport for one target service.
func NewCaller(target, baseURL, secret string, deadline time.Duration) *Caller {
	return &Caller{
		target:   target,
		base:     baseURL,
		secret:   secret,
		deadline: deadline,
		http:     &http.Client{Timeout: deadline + time.Second},
	}
}

// retryableStatus lists server-side statuses in the unavailable and
// resource-exhausted classes.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// invoke performs one attempt: marshal, POST, classify, unmarshal.
func (c *Caller) invoke(ctx context.Context, path string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.secret)
	if id := logging.RequestIDFromContext(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		// The caller going away is not a dependency fault; abort quietly.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Target: c.target, Retryable: true, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		httpResp.Body.Close()
	}()

	switch {
	case httpResp.StatusCode == http.StatusOK:
		// fall through to decode
	case httpResp.StatusCode == http.StatusUnauthorized:
		return &TransportError{Target: c.target, Status: httpResp.StatusCode, Err: ErrUnauthenticated}
	case retryableStatus(httpResp.StatusCode):
		return &TransportError{Target: c.target, Status: httpResp.StatusCode, Retryable: true}
	default:
		return &TransportError{Target: c.target, Status: httpResp.StatusCode}
	}

	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		return &TransportError{Target: c.target, Retryable: true,
			Err: fmt.Errorf("decode rpc response: %w", err)}
	}
	return nil
}
