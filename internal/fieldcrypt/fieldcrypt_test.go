// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package fieldcrypt

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T, seed byte) []byte {
	t.Helper()
	key := bytes.Repeat([]byte{seed}, 32)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(testKey(t, 0x41))
	if err != nil {
		t.Fatal(err)
	}

	blob, err := c.Encrypt("42")
	if err != nil {
		t.Fatal(err)
	}

	plaintext, err := c.Decrypt(blob)
	if err != nil {
		t.Fatal(err)
	}
	if plaintext != "42" {
		t.Errorf("round trip = %q, want \"42\"", plaintext)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	c, err := New(testKey(t, 0x41))
	if err != nil {
		t.Fatal(err)
	}

	a, err := c.Encrypt("42")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encrypt("42")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext are identical")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	c1, err := New(testKey(t, 0x41))
	if err != nil {
		t.Fatal(err)
	}
	c2, err := New(testKey(t, 0x42))
	if err != nil {
		t.Fatal(err)
	}

	blob, err := c1.Encrypt("42")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c2.Decrypt(blob); err == nil {
		t.Error("decryption under a different key succeeded")
	}
}

func TestDecryptTamperedFails(t *testing.T) {
	c, err := New(testKey(t, 0x41))
	if err != nil {
		t.Fatal(err)
	}

	blob, err := c.Encrypt("42")
	if err != nil {
		t.Fatal(err)
	}
	blob[len(blob)-1] ^= 0x01
	if _, err := c.Decrypt(blob); err == nil {
		t.Error("decryption of tampered blob succeeded")
	}
}

func TestDecryptTooShort(t *testing.T) {
	c, err := New(testKey(t, 0x41))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decrypt([]byte{1, 2, 3}); err == nil {
		t.Error("decryption of truncated blob succeeded")
	}
}

func TestHashDeterministicAndKeyed(t *testing.T) {
	c1, err := New(testKey(t, 0x41))
	if err != nil {
		t.Fatal(err)
	}
	c2, err := New(testKey(t, 0x42))
	if err != nil {
		t.Fatal(err)
	}

	if c1.Hash("42") != c1.Hash("42") {
		t.Error("hash of same plaintext differs")
	}
	if c1.Hash("42") == c1.Hash("43") {
		t.Error("hash of different plaintexts collides")
	}
	if c1.Hash("42") == c2.Hash("42") {
		t.Error("hash is not keyed")
	}
}

func TestDecodeKey(t *testing.T) {
	raw := strings.Repeat("k", 32)
	if _, err := DecodeKey(raw); err != nil {
		t.Errorf("raw 32-byte key rejected: %v", err)
	}

	b64 := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	if _, err := DecodeKey(b64); err != nil {
		t.Errorf("base64 key rejected: %v", err)
	}

	hexKey := strings.Repeat("ab", 32)
	if _, err := DecodeKey(hexKey); err != nil {
		t.Errorf("hex key rejected: %v", err)
	}

	if _, err := DecodeKey("short"); err == nil {
		t.Error("short key accepted")
	}
}

func TestNewRejectsBadKey(t *testing.T) {
	if _, err := New([]byte("short")); err == nil {
		t.Error("short master key accepted")
	}
}
