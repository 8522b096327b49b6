// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package totp implements RFC 6238 time-based one-time passwords as used by
// the second login factor: SHA-1 HMAC, 6 digits, 30-second time step, with a
// ±1 step acceptance window for clock drift. Secrets are base32 without
// padding, the format expected by authenticator apps.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // SHA-1 is mandated by RFC 6238 for TOTP
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// Period is the TOTP time step in seconds.
	Period = 30

	// Digits is the number of code digits.
	Digits = 6

	// secretBytes is the entropy of a generated shared secret (160 bits,
	// the RFC 4226 recommended minimum for SHA-1).
	secretBytes = 20
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh base32-encoded shared secret.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return b32.EncodeToString(raw), nil
}

// StepAt returns the TOTP step counter for the given time.
func StepAt(at time.Time) uint64 {
	return uint64(at.Unix() / Period)
}

// CodeAt computes the 6-digit code for the secret at the given time.
func CodeAt(secret string, at time.Time) (string, error) {
	return codeForStep(secret, StepAt(at))
}

func codeForStep(secret string, step uint64) (string, error) {
	key, err := b32.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil {
		return "", fmt.Errorf("decode totp secret: %w", err)
	}

	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], step)

	mac := hmac.New(sha1.New, key)
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	// RFC 4226 dynamic truncation.
	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%06d", value%1_000_000), nil
}

// Validate checks code against the secret at the given time, accepting a
// window of ±skew steps. On success it returns the step the code matched,
// which the caller must persist to reject replays within that step.
func Validate(secret, code string, at time.Time, skew int) (uint64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != Digits {
		return 0, false
	}

	center := int64(StepAt(at))
	for delta := -skew; delta <= skew; delta++ {
		step := center + int64(delta)
		if step < 0 {
			continue
		}
		expected, err := codeForStep(secret, uint64(step))
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return uint64(step), true
		}
	}
	return 0, false
}

// ProvisioningURI builds the otpauth:// URL consumed by authenticator apps.
// All parameters are explicit so the client cannot guess defaults.
func ProvisioningURI(issuer, account, secret string) string {
	label := url.PathEscape(issuer + ":" + account)
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprintf("%d", Digits))
	q.Set("period", fmt.Sprintf("%d", Period))
	return "otpauth://totp/" + label + "?" + q.Encode()
}
