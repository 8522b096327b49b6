// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package config loads service configuration with koanf: typed defaults per
// service, overridden by environment variables. There are no config files;
// the deployment surface is environment-only.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Service names. Each binary loads its own default block.
const (
	ServiceIdP     = "idp"
	ServiceCatalog = "catalog"
	ServiceOrders  = "orders"
)

// Config is the full configuration tree for one service binary.
type Config struct {
	Service    string           `koanf:"service"`
	Log        LogConfig        `koanf:"log"`
	HTTP       HTTPConfig       `koanf:"http"`
	RPC        RPCConfig        `koanf:"rpc"`
	Database   DatabaseConfig   `koanf:"database"`
	Keys       KeysConfig       `koanf:"keys"`
	Tokens     TokenConfig      `koanf:"tokens"`
	Internal   InternalConfig   `koanf:"internal"`
	Resilience ResilienceConfig `koanf:"resilience"`
	Encryption EncryptionConfig `koanf:"encryption"`
}

// LogConfig controls the zerolog setup.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// HTTPConfig controls the public HTTP listener.
type HTTPConfig struct {
	Port            int `koanf:"port"`
	ShutdownSeconds int `koanf:"shutdown_seconds"`
}

// RPCConfig controls the internal RPC listener and the clients that call
// other services.
type RPCConfig struct {
	Port            int    `koanf:"port"`
	IdPURL          string `koanf:"idp_url"`
	CatalogURL      string `koanf:"catalog_url"`
	DeadlineSeconds int    `koanf:"deadline_seconds"`
}

// DatabaseConfig points at the service's private database.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// KeysConfig controls signing key storage and discovery. The identity
// provider owns Dir read-write; dependents read only the published public
// key from it, falling back to PublicKeyURL when the file is absent.
type KeysConfig struct {
	Dir          string `koanf:"dir"`
	PublicKeyURL string `koanf:"public_key_url"`
	Bits         int    `koanf:"bits"`
}

// TokenConfig controls issued token lifetimes.
type TokenConfig struct {
	Issuer            string `koanf:"issuer"`
	AccessTTLSeconds  int    `koanf:"access_ttl_seconds"`
	RefreshTTLSeconds int    `koanf:"refresh_ttl_seconds"`
}

// InternalConfig holds the shared secret for service-to-service RPC.
type InternalConfig struct {
	RPCSecret string `koanf:"rpc_secret"`
}

// ResilienceConfig tunes the retry and circuit breaker policies for
// outbound RPC.
type ResilienceConfig struct {
	CircuitFailThreshold uint32  `koanf:"circuit_fail_threshold"`
	CircuitResetSeconds  int     `koanf:"circuit_reset_seconds"`
	RetryMaxAttempts     int     `koanf:"retry_max_attempts"`
	RetryBaseSeconds     float64 `koanf:"retry_base_seconds"`
	RetryCapSeconds      float64 `koanf:"retry_cap_seconds"`
}

// EncryptionConfig holds the field encryption master key.
type EncryptionConfig struct {
	FieldKey string `koanf:"field_key"`
}

// envPaths maps the flat deployment environment variables onto the typed
// tree. Unlisted variables are ignored.
var envPaths = map[string]string{
	"LOG_LEVEL":              "log.level",
	"LOG_FORMAT":             "log.format",
	"HTTP_PORT":              "http.port",
	"RPC_PORT":               "rpc.port",
	"RPC_DEADLINE_SECONDS":   "rpc.deadline_seconds",
	"IDP_RPC_URL":            "rpc.idp_url",
	"CATALOG_RPC_URL":        "rpc.catalog_url",
	"DATABASE_URL":           "database.url",
	"KEY_DIR":                "keys.dir",
	"IDP_PUBLIC_KEY_URL":     "keys.public_key_url",
	"TOKEN_ISSUER":           "tokens.issuer",
	"ACCESS_TOKEN_TTL":       "tokens.access_ttl_seconds",
	"REFRESH_TOKEN_TTL":      "tokens.refresh_ttl_seconds",
	"INTERNAL_RPC_SECRET":    "internal.rpc_secret",
	"FIELD_ENCRYPTION_KEY":   "encryption.field_key",
	"CIRCUIT_FAIL_THRESHOLD": "resilience.circuit_fail_threshold",
	"CIRCUIT_RESET_SECONDS":  "resilience.circuit_reset_seconds",
	"RETRY_MAX_ATTEMPTS":     "resilience.retry_max_attempts",
	"RETRY_BASE_SECONDS":     "resilience.retry_base_seconds",
	"RETRY_CAP_SECONDS":      "resilience.retry_cap_seconds",
}

// defaults returns the baseline configuration for a service.
func defaults(service string) Config {
	cfg := Config{
		Service: service,
		Log:     LogConfig{Level: "info", Format: "json"},
		HTTP:    HTTPConfig{ShutdownSeconds: 10},
		RPC:     RPCConfig{DeadlineSeconds: 5},
		Keys:    KeysConfig{Bits: 4096},
		Tokens: TokenConfig{
			Issuer:            "shopmesh-idp",
			AccessTTLSeconds:  900,
			RefreshTTLSeconds: 86400,
		},
		Resilience: ResilienceConfig{
			CircuitFailThreshold: 5,
			CircuitResetSeconds:  30,
			RetryMaxAttempts:     3,
			RetryBaseSeconds:     1,
			RetryCapSeconds:      10,
		},
	}

	switch service {
	case ServiceIdP:
		cfg.HTTP.Port = 8081
		cfg.RPC.Port = 50051
		cfg.Database.URL = "data/idp.db"
		cfg.Keys.Dir = "data/keys"
	case ServiceCatalog:
		cfg.HTTP.Port = 8082
		cfg.RPC.Port = 50052
		cfg.Database.URL = "data/catalog.db"
		cfg.Keys.Dir = "data/keys"
		cfg.Keys.PublicKeyURL = "http://localhost:8081/api/v1/auth/public-key"
	case ServiceOrders:
		cfg.HTTP.Port = 8083
		cfg.Database.URL = "data/orders.db"
		cfg.Keys.Dir = "data/keys"
		cfg.Keys.PublicKeyURL = "http://localhost:8081/api/v1/auth/public-key"
		cfg.RPC.IdPURL = "http://localhost:50051"
		cfg.RPC.CatalogURL = "http://localhost:50052"
	}
	return cfg
}

// Load builds the configuration for a service from defaults plus environment
// overrides, then validates the parts that service cannot run without.
func Load(service string) (*Config, error) {
	k := koanf.New(".")

	base := defaults(service)
	if err := k.Load(structs.Provider(base, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	envProvider := env.Provider("", ".", func(key string) string {
		return envPaths[key]
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Service = service

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Port <= 0 {
		return errors.New("http port must be positive")
	}
	if c.Resilience.RetryMaxAttempts < 1 {
		return errors.New("retry max attempts must be at least 1")
	}

	switch c.Service {
	case ServiceIdP:
		if c.Keys.Dir == "" {
			return errors.New("KEY_DIR is required")
		}
		if c.Internal.RPCSecret == "" {
			return errors.New("INTERNAL_RPC_SECRET is required")
		}
	case ServiceCatalog:
		if c.Keys.PublicKeyURL == "" {
			return errors.New("IDP_PUBLIC_KEY_URL is required")
		}
		if c.Internal.RPCSecret == "" {
			return errors.New("INTERNAL_RPC_SECRET is required")
		}
	case ServiceOrders:
		if c.Keys.PublicKeyURL == "" {
			return errors.New("IDP_PUBLIC_KEY_URL is required")
		}
		if c.Internal.RPCSecret == "" {
			return errors.New("INTERNAL_RPC_SECRET is required")
		}
		if c.RPC.IdPURL == "" || c.RPC.CatalogURL == "" {
			return errors.New("IDP_RPC_URL and CATALOG_RPC_URL are required")
		}
		if c.Encryption.FieldKey == "" {
			return errors.New("FIELD_ENCRYPTION_KEY is required")
		}
	}
	return nil
}

// AccessTTL returns the access token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.Tokens.AccessTTLSeconds) * time.Second
}

// RefreshTTL returns the refresh token lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.Tokens.RefreshTTLSeconds) * time.Second
}

// RPCDeadline returns the per-call deadline for outbound RPC.
func (c *Config) RPCDeadline() time.Duration {
	return time.Duration(c.RPC.DeadlineSeconds) * time.Second
}

// CircuitReset returns how long an open circuit stays open.
func (c *Config) CircuitReset() time.Duration {
	return time.Duration(c.Resilience.CircuitResetSeconds) * time.Second
}

// RetryBase returns the first retry backoff interval.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.Resilience.RetryBaseSeconds * float64(time.Second))
}

// RetryCap returns the backoff ceiling.
func (c *Config) RetryCap() time.Duration {
	return time.Duration(c.Resilience.RetryCapSeconds * float64(time.Second))
}

// ShutdownTimeout returns how long graceful shutdown may take.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.HTTP.ShutdownSeconds) * time.Second
}
