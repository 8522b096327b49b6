// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package main is the entry point for the ShopMesh identity provider.
//
// The identity provider owns user accounts and issues RS256-signed JWTs.
// It runs two listeners:
//
//   - HTTP_PORT (default 8081): the public REST API under /api/v1, including
//     GET /api/v1/auth/public-key where the other services fetch the
//     verification key.
//   - RPC_PORT (default 50051): the internal RPC surface, authenticated with
//     INTERNAL_RPC_SECRET, where the order orchestrator validates users.
//
// The RSA signing key pair is loaded from KEY_DIR and generated on first
// start. Required environment: INTERNAL_RPC_SECRET. See internal/config for
// the full variable list.
//
// Shutdown on SIGINT/SIGTERM is graceful: both listeners stop accepting
// connections and in-flight requests get HTTP_SHUTDOWN_SECONDS to finish.
package main

import (
	"context"
	"crypto/rsa"
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
	"github.com/shopmesh/shopmesh/internal/idp"
	"github.com/shopmesh/shopmesh/internal/keys"
	"github.com/shopmesh/shopmesh/internal/logging"
	"github.com/shopmesh/shopmesh/internal/middleware"
)

func main() {
	cfg, err := config.Load(config.ServiceIdP)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logging.Info().Msg("Starting ShopMesh identity provider")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenFromURL(ctx, cfg.Database.URL)
	if err != nil {
		logging.Fatal().Err(err).Str("url", cfg.Database.URL).Msg("Failed to open database")
	}
	defer db.Close()

	pair, err := keys.LoadOrGenerate(cfg.Keys.Dir, cfg.Keys.Bits)
	if err != nil {
		logging.Fatal().Err(err).Str("dir", cfg.Keys.Dir).Msg("Failed to load signing keys")
	}

	store, err := idp.NewStore(ctx, db)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to bootstrap account store")
	}

	signer := auth.NewSigner(pair, cfg.Tokens.Issuer, cfg.AccessTTL(), cfg.RefreshTTL())
	verifier := auth.NewVerifier(map[string]*rsa.PublicKey{pair.KeyID: pair.Public}, keys.StaticSource(pair))
	service, err := idp.NewService(store, signer, verifier)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build identity service")
	}
	handler := idp.NewHandler(service, verifier, pair)

	root := chi.NewRouter()
	root.Use(middleware.RequestID)
	root.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	root.Use(middleware.PrometheusMetrics(config.ServiceIdP))
	root.Mount("/api/v1", handler.Routes())
	root.Handle("/metrics", promhttp.Handler())
	root.Get("/healthz", handler.Healthz)

	public := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	internal := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.RPC.Port),
		Handler:           idp.NewRPCServer(service, cfg.Internal.RPCSecret).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info().Int("port", cfg.HTTP.Port).Msg("Public API listening")
		if err := public.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("public listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logging.Info().Int("port", cfg.RPC.Port).Msg("Internal RPC listening")
		if err := internal.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("rpc listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := public.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("Public listener shutdown")
		}
		if err := internal.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("RPC listener shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
	logging.Info().Msg("Shutdown complete")
}
