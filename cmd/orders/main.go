// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package main is the entry point for the ShopMesh order orchestrator.
//
// The orchestrator creates orders by calling the identity provider and the
// catalog over internal RPC, each call wrapped in a retry policy and a
// per-target circuit breaker. Order owners are stored encrypted with
// AES-256-GCM; FIELD_ENCRYPTION_KEY supplies the 32-byte master key (raw,
// base64, or hex).
//
// The verification key is obtained at startup from the shared KEY_DIR when
// the published file is present, otherwise polled from IDP_PUBLIC_KEY_URL
// with exponential backoff so the services may start in any order. The
// single listener on HTTP_PORT (default 8083) serves the public REST API
// under /api/v1.
//
// Required environment: INTERNAL_RPC_SECRET, FIELD_ENCRYPTION_KEY. See
// internal/config for the full variable list.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shopmesh/shopmesh/internal/auth"
	"github.com/shopmesh/shopmesh/internal/config"
	"github.com/shopmesh/shopmesh/internal/database"
	"github.com/shopmesh/shopmesh/internal/fieldcrypt"
	"github.com/shopmesh/shopmesh/internal/keys"
	"github.com/shopmesh/shopmesh/internal/logging"
	"github.com/shopmesh/shopmesh/internal/middleware"
	"github.com/shopmesh/shopmesh/internal/orders"
	"github.com/shopmesh/shopmesh/internal/rpc"
)

// keyObtainTimeout bounds how long startup waits for the identity provider
// to publish its verification key.
const keyObtainTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(config.ServiceOrders)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logging.Info().Msg("Starting ShopMesh order orchestrator")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenFromURL(ctx, cfg.Database.URL)
	if err != nil {
		logging.Fatal().Err(err).Str("url", cfg.Database.URL).Msg("Failed to open database")
	}
	defer db.Close()

	store, err := orders.NewStore(ctx, db)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to bootstrap order store")
	}

	masterKey, err := fieldcrypt.DecodeKey(cfg.Encryption.FieldKey)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid field encryption key")
	}
	cipher, err := fieldcrypt.New(masterKey)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid field encryption key")
	}

	// Shared key directory first, HTTP second.
	source := keys.HTTPSource(cfg.Keys.PublicKeyURL, nil)
	if cfg.Keys.Dir != "" {
		source = keys.FallbackSource(keys.FileSource(keys.PublicKeyPath(cfg.Keys.Dir)), source)
	}
	obtainCtx, cancel := context.WithTimeout(ctx, keyObtainTimeout)
	initial, err := keys.Obtain(obtainCtx, source)
	cancel()
	if err != nil {
		logging.Fatal().Err(err).Str("url", cfg.Keys.PublicKeyURL).Msg("Failed to obtain verification key")
	}
	verifier := auth.NewVerifier(initial, source)

	retry := rpc.RetryPolicy{
		MaxAttempts: cfg.Resilience.RetryMaxAttempts,
		Base:        cfg.RetryBase(),
		Cap:         cfg.RetryCap(),
	}
	breaker := rpc.BreakerSettings{
		FailThreshold: cfg.Resilience.CircuitFailThreshold,
		ResetTimeout:  cfg.CircuitReset(),
	}
	idpClient := rpc.NewIdPClient(rpc.ClientSettings{
		Target:   "idp",
		BaseURL:  cfg.RPC.IdPURL,
		Secret:   cfg.Internal.RPCSecret,
		Deadline: cfg.RPCDeadline(),
		Retry:    retry,
		Breaker:  breaker,
	})
	catalogClient := rpc.NewCatalogClient(rpc.ClientSettings{
		Target:   "catalog",
		BaseURL:  cfg.RPC.CatalogURL,
		Secret:   cfg.Internal.RPCSecret,
		Deadline: cfg.RPCDeadline(),
		Retry:    retry,
		Breaker:  breaker,
	})

	service := orders.NewService(store, idpClient, catalogClient, cipher)
	handler := orders.NewHandler(service, verifier)

	root := chi.NewRouter()
	root.Use(middleware.RequestID)
	root.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	root.Use(middleware.PrometheusMetrics(config.ServiceOrders))
	root.Mount("/api/v1", handler.Routes())
	root.Handle("/metrics", promhttp.Handler())
	root.Get("/healthz", handler.Healthz)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info().Int("port", cfg.HTTP.Port).Msg("Public API listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("public listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("Listener shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
	logging.Info().Msg("Shutdown complete")
}
