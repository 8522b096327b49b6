// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package rpc

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/shopmesh/shopmesh/internal/logging"
	"github.com/shopmesh/shopmesh/internal/middleware"
)

// Server is the internal RPC listener. It lives on a separate port from the
// public API and accepts only calls carrying the shared bearer secret.
type Server struct {
	router chi.Router
	secret string
}

// NewServer builds an internal RPC server authenticated by secret.
func NewServer(secret string) *Server {
	s := &Server{router: chi.NewRouter(), secret: secret}
	s.router.Use(middleware.RequestID)
	s.router.Use(s.authenticate)
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return s
}

// Router returns the handler to mount on the internal listener.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) != 1 {
			logging.Ctx(r.Context()).Warn().
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Msg("Unauthenticated internal RPC rejected")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthenticated"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Register mounts a method handler at path. Handlers return in-band results
// for logical outcomes (unknown user, missing product); a returned error
// means the server itself failed and surfaces as a 500.
func Register[Req any, Resp any](s *Server, path string, handle func(r *http.Request, req Req) (Resp, error)) {
	s.router.Post(path, func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"malformed request"}`))
			return
		}

		resp, err := handle(r, req)
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Str("path", path).Msg("RPC handler failed")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"internal"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		data, err := json.Marshal(resp)
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Str("path", path).Msg("RPC response marshal failed")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}
