// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package idp

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/shopmesh/shopmesh/internal/keys"
	"github.com/shopmesh/shopmesh/internal/models"
)

func newJSONRequest(t *testing.T, method, path string, body interface{}) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req, httptest.NewRecorder()
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) *models.APIResponse {
	t.Helper()
	var envelope models.APIResponse
	raw := rec.Body.Bytes()
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, raw)
	}
	if data != nil && envelope.Data != nil {
		inner, err := json.Marshal(envelope.Data)
		if err != nil {
			t.Fatal(err)
		}
		if err := json.Unmarshal(inner, data); err != nil {
			t.Fatal(err)
		}
	}
	return &envelope
}

func newTestHandler(t *testing.T) (*Handler, *harness) {
	t.Helper()
	h := newHarness(t)
	pair, err := keys.LoadOrGenerate(t.TempDir(), 2048)
	if err != nil {
		t.Fatal(err)
	}
	return NewHandler(h.service, h.verifier, pair), h
}

func TestRegisterEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)
	router := handler.Routes()

	req, rec := newJSONRequest(t, http.MethodPost, "/auth/register", map[string]string{
		"username": "alice",
		"email":    "a@x.example.com",
		"password": "Passw0rd!",
	})
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var user UserProjection
	decodeEnvelope(t, rec, &user)
	if user.Username != "alice" {
		t.Errorf("user = %+v", user)
	}
}

func TestRegisterEndpointRejectsShortPassword(t *testing.T) {
	handler, _ := newTestHandler(t)
	router := handler.Routes()

	req, rec := newJSONRequest(t, http.MethodPost, "/auth/register", map[string]string{
		"username": "alice",
		"email":    "a@x.example.com",
		"password": "short",
	})
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	envelope := decodeEnvelope(t, rec, nil)
	if envelope.Error == nil || envelope.Error.Code != "INPUT_INVALID" {
		t.Errorf("error = %+v", envelope.Error)
	}
}

func TestTokenAndMeFlow(t *testing.T) {
	handler, h := newTestHandler(t)
	h.register(t, "alice")
	router := handler.Routes()

	req, rec := newJSONRequest(t, http.MethodPost, "/auth/token", map[string]string{
		"username": "alice",
		"password": "Passw0rd!",
	})
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var login LoginResult
	decodeEnvelope(t, rec, &login)
	if login.Tokens == nil {
		t.Fatal("no tokens in login response")
	}

	meReq, meRec := newJSONRequest(t, http.MethodGet, "/users/me", nil)
	meReq.Header.Set("Authorization", "Bearer "+login.Tokens.Access)
	router.ServeHTTP(meRec, meReq)
	if meRec.Code != http.StatusOK {
		t.Fatalf("me status = %d, body = %s", meRec.Code, meRec.Body.String())
	}

	var me UserProjection
	decodeEnvelope(t, meRec, &me)
	if me.Username != "alice" {
		t.Errorf("me = %+v", me)
	}

	// Tampered signature is rejected.
	badReq, badRec := newJSONRequest(t, http.MethodGet, "/users/me", nil)
	badReq.Header.Set("Authorization", "Bearer "+login.Tokens.Access+"x")
	router.ServeHTTP(badRec, badReq)
	if badRec.Code != http.StatusUnauthorized {
		t.Errorf("tampered token status = %d, want 401", badRec.Code)
	}
}

func TestPublicKeyEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)
	router := handler.Routes()

	req, rec := newJSONRequest(t, http.MethodGet, "/auth/public-key", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var artifact keys.Artifact
	decodeEnvelope(t, rec, &artifact)
	if artifact.Algorithm != "RS256" || artifact.KeyID == "" {
		t.Errorf("artifact = %+v", artifact)
	}
	if _, err := keys.ParsePublicPEM(artifact.PublicKey); err != nil {
		t.Errorf("published key unparseable: %v", err)
	}
}
