// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shopmesh/shopmesh/internal/keys"
)

func testPair(t *testing.T) *keys.Pair {
	t.Helper()
	pair, err := keys.LoadOrGenerate(t.TempDir(), 2048)
	if err != nil {
		t.Fatal(err)
	}
	return pair
}

func testSigner(pair *keys.Pair) *Signer {
	return NewSigner(pair, "shopmesh-idp", 15*time.Minute, 24*time.Hour)
}

var alice = Identity{UserID: 7, Username: "alice", IsAdmin: true, Version: 3}

func TestIssueAndVerify(t *testing.T) {
	pair := testPair(t)
	signer := testSigner(pair)
	verifier := NewVerifier(map[string]*rsa.PublicKey{pair.KeyID: pair.Public}, nil)

	tokens, err := signer.IssuePair(alice)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := verifier.Verify(context.Background(), tokens.Access, KindAccess)
	if err != nil {
		t.Fatalf("access token rejected: %v", err)
	}
	if claims.Username != "alice" || !claims.IsAdmin || claims.Version != 3 {
		t.Errorf("claims = %+v", claims)
	}
	userID, err := claims.UserID()
	if err != nil || userID != 7 {
		t.Errorf("UserID() = %d, %v", userID, err)
	}

	if _, err := verifier.Verify(context.Background(), tokens.Refresh, KindRefresh); err != nil {
		t.Errorf("refresh token rejected: %v", err)
	}
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	pair := testPair(t)
	signer := testSigner(pair)
	verifier := NewVerifier(map[string]*rsa.PublicKey{pair.KeyID: pair.Public}, nil)

	tokens, err := signer.IssuePair(alice)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := verifier.Verify(context.Background(), tokens.Refresh, KindAccess); !errors.Is(err, ErrWrongKind) {
		t.Errorf("refresh-as-access error = %v, want ErrWrongKind", err)
	}
	if _, err := verifier.Verify(context.Background(), tokens.Access, KindRefresh); !errors.Is(err, ErrWrongKind) {
		t.Errorf("access-as-refresh error = %v, want ErrWrongKind", err)
	}
}

func TestVerifyRejectsTampered(t *testing.T) {
	pair := testPair(t)
	signer := testSigner(pair)
	verifier := NewVerifier(map[string]*rsa.PublicKey{pair.KeyID: pair.Public}, nil)

	token, err := signer.IssueAccess(alice)
	if err != nil {
		t.Fatal(err)
	}

	// Flip a character inside the payload segment.
	parts := strings.Split(token, ".")
	payload := []byte(parts[1])
	if payload[10] == 'A' {
		payload[10] = 'B'
	} else {
		payload[10] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	if _, err := verifier.Verify(context.Background(), tampered, KindAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("tampered token error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	pair := testPair(t)
	signer := NewSigner(pair, "shopmesh-idp", -time.Minute, -time.Minute)
	verifier := NewVerifier(map[string]*rsa.PublicKey{pair.KeyID: pair.Public}, nil)

	token, err := signer.IssueAccess(alice)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.Verify(context.Background(), token, KindAccess); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired token error = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	pair := testPair(t)
	verifier := NewVerifier(map[string]*rsa.PublicKey{pair.KeyID: pair.Public}, nil)

	hsToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Kind: KindAccess})
	hsToken.Header["kid"] = pair.KeyID
	signed, err := hsToken.SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.Verify(context.Background(), signed, KindAccess); err == nil {
		t.Error("HS256 token accepted")
	}

	noneToken := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Kind: KindAccess})
	noneToken.Header["kid"] = pair.KeyID
	unsigned, err := noneToken.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.Verify(context.Background(), unsigned, KindAccess); err == nil {
		t.Error("alg=none token accepted")
	}
}

func TestVerifyRefreshesUnknownKey(t *testing.T) {
	oldPair := testPair(t)
	newPair := testPair(t)

	sourceCalls := 0
	source := keys.Source(func(context.Context) (map[string]*rsa.PublicKey, error) {
		sourceCalls++
		return map[string]*rsa.PublicKey{newPair.KeyID: newPair.Public}, nil
	})

	verifier := NewVerifier(map[string]*rsa.PublicKey{oldPair.KeyID: oldPair.Public}, source)

	token, err := testSigner(newPair).IssueAccess(alice)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := verifier.Verify(context.Background(), token, KindAccess); err != nil {
		t.Fatalf("token under rotated key rejected: %v", err)
	}
	if sourceCalls != 1 {
		t.Errorf("source called %d times, want 1", sourceCalls)
	}

	// The rotated key is cached; no second fetch.
	if _, err := verifier.Verify(context.Background(), token, KindAccess); err != nil {
		t.Fatal(err)
	}
	if sourceCalls != 1 {
		t.Errorf("source called %d times after cache, want 1", sourceCalls)
	}
}

func TestRequireAccess(t *testing.T) {
	pair := testPair(t)
	signer := testSigner(pair)
	verifier := NewVerifier(map[string]*rsa.PublicKey{pair.KeyID: pair.Public}, nil)

	var got Caller
	handler := RequireAccess(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := signer.IssueAccess(alice)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"malformed scheme", "Token " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer nonsense", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Errorf("status = %d, want %d", rec.Code, tc.status)
			}
		})
	}

	if got.Subject != 7 || got.Username != "alice" || !got.IsAdmin {
		t.Errorf("caller = %+v", got)
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ContextWithCaller(req.Context(), Caller{Subject: 1})))
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ContextWithCaller(req.Context(), Caller{Subject: 1, IsAdmin: true})))
	if rec.Code != http.StatusNoContent {
		t.Errorf("admin status = %d, want 204", rec.Code)
	}
}
