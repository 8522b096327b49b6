// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/shopmesh/shopmesh/internal/api"
)

type contextKey string

const callerKey contextKey = "caller"

// Caller is the authenticated principal attached to a request.
type Caller struct {
	Subject  int64
	Username string
	IsAdmin  bool
}

// CallerFromContext extracts the authenticated caller placed by
// RequireAccess.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey).(Caller)
	return caller, ok
}

// ContextWithCaller attaches a caller, used by tests to exercise protected
// handlers without minting tokens.
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// RequireAccess rejects requests without a valid bearer access token and
// attaches the Caller to the request context.
func RequireAccess(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				api.RespondAPIError(w, r, api.ErrAuthMissing())
				return
			}

			claims, err := verifier.Verify(r.Context(), token, KindAccess)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					api.RespondAPIError(w, r, api.ErrAuthExpired())
					return
				}
				api.RespondAPIError(w, r, api.ErrAuthInvalid())
				return
			}

			userID, err := claims.UserID()
			if err != nil {
				api.RespondAPIError(w, r, api.ErrAuthInvalid())
				return
			}

			caller := Caller{Subject: userID, Username: claims.Username, IsAdmin: claims.IsAdmin}
			next.ServeHTTP(w, r.WithContext(ContextWithCaller(r.Context(), caller)))
		})
	}
}

// RequireAdmin rejects non-admin callers. Must run after RequireAccess.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			api.RespondAPIError(w, r, api.ErrAuthMissing())
			return
		}
		if !caller.IsAdmin {
			api.RespondAPIError(w, r, api.ErrForbidden())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
