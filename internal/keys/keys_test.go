// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package keys

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

// 2048-bit keys keep test key generation fast.
const testBits = 2048

func TestLoadOrGeneratePersists(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrGenerate(dir, testBits)
	if err != nil {
		t.Fatal(err)
	}
	second, err := LoadOrGenerate(dir, testBits)
	if err != nil {
		t.Fatal(err)
	}

	if first.KeyID != second.KeyID {
		t.Errorf("reload produced a different key: %s != %s", first.KeyID, second.KeyID)
	}
	if first.Private.N.Cmp(second.Private.N) != 0 {
		t.Error("reload produced a different modulus")
	}

	info, err := os.Stat(filepath.Join(dir, "jwt_private.pem"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("private key permissions = %o, want 600", perm)
	}
	if _, err := os.Stat(filepath.Join(dir, "jwt_public.pem")); err != nil {
		t.Errorf("public key not written: %v", err)
	}
}

func TestPublicPEMRoundTrip(t *testing.T) {
	pair, err := LoadOrGenerate(t.TempDir(), testBits)
	if err != nil {
		t.Fatal(err)
	}

	pemStr, err := EncodePublicPEM(pair.Public)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParsePublicPEM(pemStr)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.N.Cmp(pair.Public.N) != 0 {
		t.Error("PEM round trip changed the key")
	}

	if _, err := ParsePublicPEM("not a pem"); err == nil {
		t.Error("ParsePublicPEM accepted garbage")
	}
}

func TestKeyIDStable(t *testing.T) {
	pair, err := LoadOrGenerate(t.TempDir(), testBits)
	if err != nil {
		t.Fatal(err)
	}
	again, err := KeyIDFor(pair.Public)
	if err != nil {
		t.Fatal(err)
	}
	if again != pair.KeyID {
		t.Errorf("key id not stable: %s != %s", again, pair.KeyID)
	}
	if len(pair.KeyID) != 16 {
		t.Errorf("key id length = %d, want 16", len(pair.KeyID))
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	pair, err := LoadOrGenerate(dir, testBits)
	if err != nil {
		t.Fatal(err)
	}

	fetched, err := FileSource(PublicKeyPath(dir))(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	pub, ok := fetched[pair.KeyID]
	if !ok {
		t.Fatalf("file keys missing id %s", pair.KeyID)
	}
	if pub.N.Cmp(pair.Public.N) != 0 {
		t.Error("file key does not match generated key")
	}

	if _, err := FileSource(filepath.Join(t.TempDir(), "jwt_public.pem"))(context.Background()); err == nil {
		t.Error("missing file yielded keys")
	}
}

func TestFallbackSourcePrefersFirst(t *testing.T) {
	pair, err := LoadOrGenerate(t.TempDir(), testBits)
	if err != nil {
		t.Fatal(err)
	}

	secondCalled := false
	second := Source(func(context.Context) (map[string]*rsa.PublicKey, error) {
		secondCalled = true
		return nil, errors.New("unreachable")
	})

	fetched, err := FallbackSource(StaticSource(pair), second)(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fetched[pair.KeyID]; !ok {
		t.Error("fallback lost the first source's keys")
	}
	if secondCalled {
		t.Error("second source consulted despite first succeeding")
	}

	// First failing falls through to the second.
	failing := Source(func(context.Context) (map[string]*rsa.PublicKey, error) {
		return nil, errors.New("no file")
	})
	fetched, err = FallbackSource(failing, StaticSource(pair))(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fetched[pair.KeyID]; !ok {
		t.Error("fallback did not reach the second source")
	}

	if _, err := FallbackSource(failing, second)(context.Background()); err == nil {
		t.Error("all-failing fallback yielded keys")
	}
}

func TestHTTPSource(t *testing.T) {
	pair, err := LoadOrGenerate(t.TempDir(), testBits)
	if err != nil {
		t.Fatal(err)
	}
	artifact, err := pair.Artifact()
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(artifact)
	}))
	defer srv.Close()

	keys, err := HTTPSource(srv.URL, srv.Client())(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	pub, ok := keys[pair.KeyID]
	if !ok {
		t.Fatalf("fetched keys missing id %s", pair.KeyID)
	}
	if pub.N.Cmp(pair.Public.N) != 0 {
		t.Error("fetched key does not match published key")
	}
}

func TestHTTPSourceRejectsUnknownAlgorithm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Artifact{PublicKey: "x", Algorithm: "HS256", KeyID: "k"})
	}))
	defer srv.Close()

	if _, err := HTTPSource(srv.URL, srv.Client())(context.Background()); err == nil {
		t.Error("HS256 artifact accepted")
	}
}

func TestObtainRetriesUntilSuccess(t *testing.T) {
	pair, err := LoadOrGenerate(t.TempDir(), testBits)
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	source := Source(func(context.Context) (map[string]*rsa.PublicKey, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("not ready")
		}
		return map[string]*rsa.PublicKey{pair.KeyID: pair.Public}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	keys, err := Obtain(ctx, source)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("source called %d times, want 3", calls)
	}
	if _, ok := keys[pair.KeyID]; !ok {
		t.Error("obtained keys missing expected id")
	}
}

func TestObtainHonorsContext(t *testing.T) {
	source := Source(func(context.Context) (map[string]*rsa.PublicKey, error) {
		return nil, errors.New("never ready")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := Obtain(ctx, source); err == nil {
		t.Error("Obtain returned without keys after context expiry")
	}
}
