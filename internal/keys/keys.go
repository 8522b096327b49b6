// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package keys manages the RSA keypair used for token signing. The identity
// provider generates the pair on first boot and persists it under the
// configured key directory; downstream services obtain the public half at
// startup — from the shared key directory when one is mounted, otherwise
// over HTTP — and never see the private key.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"

	"github.com/shopmesh/shopmesh/internal/logging"
)

const (
	privateFileName = "jwt_private.pem"
	publicFileName  = "jwt_public.pem"

	// DefaultBits is the RSA modulus size for generated signing keys.
	DefaultBits = 4096

	// SigningAlgorithm is advertised in the public key artifact.
	SigningAlgorithm = "RS256"
)

// Pair holds a signing keypair and its derived key identifier.
type Pair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
	KeyID   string
}

// Artifact is the JSON document served by the public key endpoint.
type Artifact struct {
	PublicKey string `json:"public_key"`
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"key_id"`
}

// LoadOrGenerate returns the keypair stored in dir, generating and persisting
// a fresh one if none exists. The private key is written with 0600
// permissions; the public key is written alongside it for inspection.
func LoadOrGenerate(dir string, bits int) (*Pair, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	privatePath := filepath.Join(dir, privateFileName)
	if data, err := os.ReadFile(privatePath); err == nil {
		return pairFromPrivatePEM(data)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	logging.Info().Str("dir", dir).Int("bits", bits).Msg("Generating signing keypair")

	private, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	privateDER, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateDER})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}

	publicPEM, err := EncodePublicPEM(&private.PublicKey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, publicFileName), []byte(publicPEM), 0o644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}

	return newPair(private)
}

func pairFromPrivatePEM(data []byte) (*Pair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("private key file contains no PEM block")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	private, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", parsed)
	}
	return newPair(private)
}

func newPair(private *rsa.PrivateKey) (*Pair, error) {
	kid, err := KeyIDFor(&private.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Pair{Private: private, Public: &private.PublicKey, KeyID: kid}, nil
}

// KeyIDFor derives a stable identifier from the public key: the first 16 hex
// characters of the SHA-256 digest of its PKIX encoding.
func KeyIDFor(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])[:16], nil
}

// EncodePublicPEM renders the public key as a PKIX PEM string.
func EncodePublicPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicPEM parses a PKIX PEM public key string.
func ParsePublicPEM(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, errors.New("public key contains no PEM block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", parsed)
	}
	return pub, nil
}

// Artifact returns the document served to downstream services.
func (p *Pair) Artifact() (Artifact, error) {
	pemStr, err := EncodePublicPEM(p.Public)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{PublicKey: pemStr, Algorithm: SigningAlgorithm, KeyID: p.KeyID}, nil
}

// Source yields the current set of verification keys, indexed by key ID.
type Source func(ctx context.Context) (map[string]*rsa.PublicKey, error)

// StaticSource returns a Source over a fixed keypair, used by the identity
// provider to verify its own tokens.
func StaticSource(pair *Pair) Source {
	keys := map[string]*rsa.PublicKey{pair.KeyID: pair.Public}
	return func(context.Context) (map[string]*rsa.PublicKey, error) {
		return keys, nil
	}
}

// PublicKeyPath returns where a key directory publishes the public half.
func PublicKeyPath(dir string) string {
	return filepath.Join(dir, publicFileName)
}

// FileSource returns a Source that reads the published public key PEM from a
// filesystem path, for deployments where the services share the key volume.
func FileSource(path string) Source {
	return func(context.Context) (map[string]*rsa.PublicKey, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read public key file: %w", err)
		}
		pub, err := ParsePublicPEM(string(data))
		if err != nil {
			return nil, err
		}
		kid, err := KeyIDFor(pub)
		if err != nil {
			return nil, err
		}
		return map[string]*rsa.PublicKey{kid: pub}, nil
	}
}

// FallbackSource consults each source in order and returns the first set of
// keys obtained. The last error wins when every source fails.
func FallbackSource(sources ...Source) Source {
	return func(ctx context.Context) (map[string]*rsa.PublicKey, error) {
		var lastErr error
		for _, source := range sources {
			fetched, err := source(ctx)
			if err == nil {
				return fetched, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}

// HTTPSource returns a Source that fetches the public key artifact from the
// identity provider's public key endpoint.
func HTTPSource(url string, client *http.Client) Source {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context) (map[string]*rsa.PublicKey, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build public key request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch public key: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch public key: unexpected status %d", resp.StatusCode)
		}

		var artifact Artifact
		if err := json.NewDecoder(resp.Body).Decode(&artifact); err != nil {
			return nil, fmt.Errorf("decode public key artifact: %w", err)
		}
		if artifact.Algorithm != SigningAlgorithm {
			return nil, fmt.Errorf("unsupported signing algorithm %q", artifact.Algorithm)
		}
		pub, err := ParsePublicPEM(artifact.PublicKey)
		if err != nil {
			return nil, err
		}
		return map[string]*rsa.PublicKey{artifact.KeyID: pub}, nil
	}
}

// Obtain polls the source until it yields keys or ctx expires. Services that
// cannot verify tokens must not serve traffic, so startup blocks here.
func Obtain(ctx context.Context, source Source) (map[string]*rsa.PublicKey, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 0 // bounded by ctx only

	var keys map[string]*rsa.PublicKey
	operation := func() error {
		fetched, err := source(ctx)
		if err != nil {
			logging.Warn().Err(err).Msg("Public key fetch failed, retrying")
			return err
		}
		keys = fetched
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("obtain verification keys: %w", err)
	}
	return keys, nil
}
