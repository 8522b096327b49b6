// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testSecret = "internal-test-secret"

// fastSettings returns client settings with millisecond backoff so tests
// complete quickly.
func fastSettings(target, baseURL string) ClientSettings {
	return ClientSettings{
		Target:   target,
		BaseURL:  baseURL,
		Secret:   testSecret,
		Deadline: 2 * time.Second,
		Retry:    RetryPolicy{MaxAttempts: 3, Base: time.Millisecond, Cap: 5 * time.Millisecond},
		Breaker:  BreakerSettings{FailThreshold: 5, ResetTimeout: 100 * time.Millisecond},
	}
}

func newTestRPCServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(testSecret)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return s, srv
}

func TestServerRoundTrip(t *testing.T) {
	s, srv := newTestRPCServer(t)
	Register(s, PathValidateUser, func(r *http.Request, req ValidateUserRequest) (ValidateUserResponse, error) {
		if req.RequestingService != "orders" {
			t.Errorf("requesting_service = %q", req.RequestingService)
		}
		return ValidateUserResponse{Valid: true, UserID: req.UserID, Username: "alice", IsActive: true}, nil
	})

	client := NewIdPClient(fastSettings("idp", srv.URL))
	resp, err := client.ValidateUser(context.Background(), 7, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Valid || resp.Username != "alice" || resp.UserID != 7 {
		t.Errorf("response = %+v", resp)
	}
}

func TestServerRejectsBadSecret(t *testing.T) {
	s, srv := newTestRPCServer(t)
	Register(s, PathValidateUser, func(r *http.Request, req ValidateUserRequest) (ValidateUserResponse, error) {
		return ValidateUserResponse{Valid: true}, nil
	})

	settings := fastSettings("idp", srv.URL)
	settings.Secret = "wrong"
	client := NewIdPClient(settings)

	_, err := client.ValidateUser(context.Background(), 7, "orders")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("error = %v, want ErrUnauthenticated", err)
	}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"available":true,"current_inventory":5}`))
	}))
	defer srv.Close()

	client := NewCatalogClient(fastSettings("catalog", srv.URL))
	resp, err := client.CheckAvailability(context.Background(), 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Available || resp.CurrentInventory != 5 {
		t.Errorf("response = %+v", resp)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestRetryExhaustionIsDependencyUnavailable(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewCatalogClient(fastSettings("catalog", srv.URL))
	_, err := client.CheckAvailability(context.Background(), 1, 2)
	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Fatalf("error = %v, want ErrDependencyUnavailable", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (retry budget)", got)
	}
}

func TestNoRetryOnNonRetryableStatus(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewCatalogClient(fastSettings("catalog", srv.URL))
	_, err := client.CheckAvailability(context.Background(), 1, 2)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrDependencyUnavailable) {
		t.Errorf("500 mapped to DependencyUnavailable: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry)", got)
	}
}

func TestLogicalFailureIsInBand(t *testing.T) {
	s, srv := newTestRPCServer(t)
	Register(s, PathValidateUser, func(r *http.Request, req ValidateUserRequest) (ValidateUserResponse, error) {
		return ValidateUserResponse{Valid: false, ErrorMessage: "user not found"}, nil
	})

	client := NewIdPClient(fastSettings("idp", srv.URL))
	resp, err := client.ValidateUser(context.Background(), 999, "orders")
	if err != nil {
		t.Fatalf("logical failure surfaced as transport error: %v", err)
	}
	if resp.Valid {
		t.Error("Valid = true for unknown user")
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var hits atomic.Int64
	healthy := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"available":true,"current_inventory":5}`))
	}))
	defer srv.Close()

	settings := fastSettings("catalog-breaker", srv.URL)
	settings.Retry = RetryPolicy{MaxAttempts: 1, Base: time.Millisecond, Cap: time.Millisecond}
	settings.Breaker = BreakerSettings{FailThreshold: 2, ResetTimeout: 100 * time.Millisecond}
	client := NewCatalogClient(settings)

	// Two consecutive failures open the circuit.
	for i := 0; i < 2; i++ {
		if _, err := client.CheckAvailability(context.Background(), 1, 1); !errors.Is(err, ErrDependencyUnavailable) {
			t.Fatalf("call %d error = %v", i, err)
		}
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("network attempts before open = %d, want 2", got)
	}

	// Open circuit rejects without touching the network.
	if _, err := client.CheckAvailability(context.Background(), 1, 1); !errors.Is(err, ErrDependencyUnavailable) {
		t.Fatalf("open-circuit error = %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("open circuit still reached the network: %d attempts", got)
	}

	// After the reset timeout the single half-open probe succeeds and
	// closes the circuit.
	healthy.Store(true)
	time.Sleep(150 * time.Millisecond)

	resp, err := client.CheckAvailability(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if !resp.Available {
		t.Errorf("response = %+v", resp)
	}
	if _, err := client.CheckAvailability(context.Background(), 1, 1); err != nil {
		t.Errorf("closed-circuit call failed: %v", err)
	}
}

func TestRetryWaitBounds(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Base: time.Second, Cap: 10 * time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		w := p.wait(attempt)
		base := time.Second << (attempt - 1)
		if base > p.Cap {
			base = p.Cap
		}
		if w < base || w > time.Duration(float64(base)*1.5) {
			t.Errorf("wait(%d) = %v outside [%v, %v]", attempt, w, base, time.Duration(float64(base)*1.5))
		}
	}
}

func TestCancellationAbortsRetries(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	settings := fastSettings("catalog", srv.URL)
	settings.Retry = RetryPolicy{MaxAttempts: 5, Base: 200 * time.Millisecond, Cap: time.Second}
	client := NewCatalogClient(settings)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := client.CheckAvailability(ctx, 1, 1)
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v, retries not aborted", elapsed)
	}
	if got := hits.Load(); got > 2 {
		t.Errorf("attempts after cancel = %d", got)
	}
}
