// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/shopmesh/shopmesh/internal/metrics"
)

// ErrDependencyUnavailable means a downstream service could not be reached:
// either retries were exhausted or the circuit is open. Handlers map it to a
// 503 and never persist partial work.
var ErrDependencyUnavailable = errors.New("dependency unavailable")

// ClientSettings bundles the resilience knobs for one target.
type ClientSettings struct {
	Target   string
	BaseURL  string
	Secret   string
	Deadline time.Duration
	Retry    RetryPolicy
	Breaker  BreakerSettings
}

// Client is the resilient RPC client for a single target: a circuit breaker
// wrapping a retry-wrapped transport. One Client.call is one attempt from
// the breaker's point of view, however many transport attempts the retry
// policy spends inside it.
type Client struct {
	target  string
	caller  *Caller
	retry   RetryPolicy
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewClient builds a resilient client for one target.
func NewClient(settings ClientSettings) *Client {
	return &Client{
		target:  settings.Target,
		caller:  NewCaller(settings.Target, settings.BaseURL, settings.Secret, settings.Deadline),
		retry:   settings.Retry,
		breaker: newBreaker(settings.Target, settings.Breaker),
	}
}

func (c *Client) call(ctx context.Context, method, path string, req, resp interface{}) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.retry.do(ctx, c.target, method, func(ctx context.Context) error {
			return c.caller.invoke(ctx, path, req, resp)
		})
	})

	switch {
	case err == nil:
		metrics.RPCRequestsTotal.WithLabelValues(c.target, method, "success").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RPCRequestsTotal.WithLabelValues(c.target, method, "rejected").Inc()
		return fmt.Errorf("%w: circuit open for %s", ErrDependencyUnavailable, c.target)
	case IsRetryable(err) || errors.Is(err, context.DeadlineExceeded):
		metrics.RPCRequestsTotal.WithLabelValues(c.target, method, "failure").Inc()
		return fmt.Errorf("%w: %s: %v", ErrDependencyUnavailable, c.target, err)
	default:
		metrics.RPCRequestsTotal.WithLabelValues(c.target, method, "failure").Inc()
		return err
	}
}

// IdPClient calls the identity provider's internal surface.
type IdPClient struct {
	client *Client
}

// NewIdPClient builds the orchestrator's client for the identity provider.
func NewIdPClient(settings ClientSettings) *IdPClient {
	return &IdPClient{client: NewClient(settings)}
}

// ValidateUser asks the identity provider whether an account exists and is
// in good standing. A negative answer arrives in-band as Valid=false, not
// as an error.
func (c *IdPClient) ValidateUser(ctx context.Context, userID int64, requestingService string) (*ValidateUserResponse, error) {
	req := ValidateUserRequest{UserID: userID, RequestingService: requestingService}
	var resp ValidateUserResponse
	if err := c.client.call(ctx, "ValidateUser", PathValidateUser, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CatalogClient calls the catalog's internal surface.
type CatalogClient struct {
	client *Client
}

// NewCatalogClient builds the orchestrator's client for the catalog.
func NewCatalogClient(settings ClientSettings) *CatalogClient {
	return &CatalogClient{client: NewClient(settings)}
}

// GetProductInfo fetches the purchase snapshot for one product.
func (c *CatalogClient) GetProductInfo(ctx context.Context, productID int64) (*ProductInfoResponse, error) {
	req := ProductInfoRequest{ProductID: productID}
	var resp ProductInfoResponse
	if err := c.client.call(ctx, "GetProductInfo", PathGetProductInfo, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckAvailability asks whether quantity units of a product are in stock.
func (c *CatalogClient) CheckAvailability(ctx context.Context, productID int64, quantity int32) (*AvailabilityResponse, error) {
	req := AvailabilityRequest{ProductID: productID, Quantity: quantity}
	var resp AvailabilityResponse
	if err := c.client.call(ctx, "CheckAvailability", PathCheckAvailability, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
