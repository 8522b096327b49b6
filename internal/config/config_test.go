// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INTERNAL_RPC_SECRET", "test-secret")

	cfg, err := Load(ServiceIdP)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.HTTP.Port != 8081 {
		t.Errorf("idp http port = %d, want 8081", cfg.HTTP.Port)
	}
	if cfg.RPC.Port != 50051 {
		t.Errorf("idp rpc port = %d, want 50051", cfg.RPC.Port)
	}
	if cfg.Tokens.AccessTTLSeconds != 900 || cfg.Tokens.RefreshTTLSeconds != 86400 {
		t.Errorf("token ttls = %d/%d, want 900/86400",
			cfg.Tokens.AccessTTLSeconds, cfg.Tokens.RefreshTTLSeconds)
	}
	if cfg.Resilience.CircuitFailThreshold != 5 {
		t.Errorf("fail threshold = %d, want 5", cfg.Resilience.CircuitFailThreshold)
	}
	if cfg.AccessTTL() != 15*time.Minute {
		t.Errorf("AccessTTL() = %v, want 15m", cfg.AccessTTL())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INTERNAL_RPC_SECRET", "test-secret")
	t.Setenv("FIELD_ENCRYPTION_KEY", strings.Repeat("k", 32))
	t.Setenv("IDP_PUBLIC_KEY_URL", "http://idp:8081/api/auth/public-key")
	t.Setenv("IDP_RPC_URL", "http://idp:50051")
	t.Setenv("CATALOG_RPC_URL", "http://catalog:50052")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("RETRY_BASE_SECONDS", "0.25")
	t.Setenv("CIRCUIT_RESET_SECONDS", "60")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(ServiceOrders)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.HTTP.Port != 9000 {
		t.Errorf("http port = %d, want 9000", cfg.HTTP.Port)
	}
	if cfg.RetryBase() != 250*time.Millisecond {
		t.Errorf("RetryBase() = %v, want 250ms", cfg.RetryBase())
	}
	if cfg.CircuitReset() != time.Minute {
		t.Errorf("CircuitReset() = %v, want 1m", cfg.CircuitReset())
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	if cfg.RPC.IdPURL != "http://idp:50051" {
		t.Errorf("idp rpc url = %q", cfg.RPC.IdPURL)
	}
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("INTERNAL_RPC_SECRET", "")
	if _, err := Load(ServiceIdP); err == nil {
		t.Error("Load succeeded without INTERNAL_RPC_SECRET")
	}
}

func TestLoadRejectsMissingEncryptionKey(t *testing.T) {
	t.Setenv("INTERNAL_RPC_SECRET", "test-secret")
	t.Setenv("IDP_RPC_URL", "http://idp:50051")
	t.Setenv("CATALOG_RPC_URL", "http://catalog:50052")
	t.Setenv("FIELD_ENCRYPTION_KEY", "")

	if _, err := Load(ServiceOrders); err == nil {
		t.Error("orders Load succeeded without FIELD_ENCRYPTION_KEY")
	}
}
