// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package main is the entry point for the ShopMesh catalog service.
//
// The catalog owns products and inventory counts. It verifies access tokens
// with the identity provider's public key, obtained at startup from the
// shared KEY_DIR when the published file is present, otherwise polled from
// IDP_PUBLIC_KEY_URL with exponential backoff so the services may start in
// any order. It runs two listeners:
//
//   - HTTP_PORT (default 8082): the public REST API under /api/v1/products.
//   - RPC_PORT (default 50052): the internal RPC surface, authenticated with
//     INTERNAL_RPC_SECRET, where the order orchestrator snapshots products
//     and checks availability.
//
// Required environment: INTERNAL_RPC_SECRET. See internal/config for the
// full variable list.
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
	"github.com/shopmesh/shopmesh/internal/catalog"
	"github.com/shopmesh/shopmesh/internal/config"
	"github.com/shopmesh/shopmesh/internal/database"
	"github.com/shopmesh/shopmesh/internal/keys"
	"github.com/shopmesh/shopmesh/internal/logging"
	"github.com/shopmesh/shopmesh/internal/middleware"
)

// keyObtainTimeout bounds how long startup waits for the identity provider
// to publish its verification key.
const keyObtainTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(config.ServiceCatalog)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logging.Info().Msg("Starting ShopMesh catalog")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenFromURL(ctx, cfg.Database.URL)
	if err != nil {
		logging.Fatal().Err(err).Str("url", cfg.Database.URL).Msg("Failed to open database")
	}
	defer db.Close()

	store, err := catalog.NewStore(ctx, db)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to bootstrap product store")
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
	handler := catalog.NewHandler(store, verifier)

	root := chi.NewRouter()
	root.Use(middleware.RequestID)
	root.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	root.Use(middleware.PrometheusMetrics(config.ServiceCatalog))
	root.Mount("/api/v1/products", handler.Routes())
	root.Handle("/metrics", promhttp.Handler())
	root.Get("/healthz", handler.Healthz)

	public := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	internal := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.RPC.Port),
		Handler:           catalog.NewRPCServer(store, cfg.Internal.RPCSecret).Router(),
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
