// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package fieldcrypt implements field-level encryption for sensitive columns.
//
// Encryption Algorithm:
//   - AES-256-GCM (authenticated encryption)
//   - 12-byte random nonce per encryption, framed ahead of the ciphertext
//   - Encryption and lookup keys derived from the configured master key
//     using HKDF-SHA256 with distinct info strings
//
// The in-memory type is always plaintext; the at-rest type is always opaque
// bytes. Because GCM ciphertexts are non-deterministic, equality lookups use
// a keyed HMAC-SHA256 digest (Hash) stored alongside the ciphertext; the
// database never sees plaintext for the column.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// derivationSalt binds derived keys to this application's field
	// encryption use case.
	derivationSalt = "shopmesh-field-encryption"

	encryptionInfo = "field-encryption-v1"
	lookupInfo     = "field-lookup-v1"

	aesKeySize   = 32
	gcmNonceSize = 12
)

var (
	// ErrInvalidKey is returned when the master key is not 32 bytes.
	ErrInvalidKey = errors.New("field encryption key must be 32 bytes")

	// ErrEmptyPlaintext is returned when attempting to encrypt empty data.
	ErrEmptyPlaintext = errors.New("plaintext cannot be empty")

	// ErrCiphertextTooShort is returned when the blob is shorter than a nonce.
	ErrCiphertextTooShort = errors.New("ciphertext too short")

	// ErrDecryptionFailed is returned for tampered data or a wrong key.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or authentication tag")
)

// Cipher provides AES-256-GCM encryption plus a deterministic keyed digest
// for equality lookups.
type Cipher struct {
	aead      cipher.AEAD
	lookupKey []byte
}

// New derives the encryption and lookup keys from the 32-byte master key and
// returns a ready Cipher.
func New(masterKey []byte) (*Cipher, error) {
	if len(masterKey) != aesKeySize {
		return nil, ErrInvalidKey
	}

	encKey, err := deriveKey(masterKey, encryptionInfo)
	if err != nil {
		return nil, err
	}
	lookupKey, err := deriveKey(masterKey, lookupInfo)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Cipher{aead: aead, lookupKey: lookupKey}, nil
}

func deriveKey(master []byte, info string) ([]byte, error) {
	reader := hkdf.New(sha256.New, master, []byte(derivationSalt), []byte(info))
	key := make([]byte, aesKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext and returns a self-framed blob: nonce followed by
// ciphertext and authentication tag. Each call produces a distinct blob.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, ErrEmptyPlaintext
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return append(nonce, sealed...), nil
}

// Decrypt opens a blob produced by Encrypt.
func (c *Cipher) Decrypt(blob []byte) (string, error) {
	if len(blob) < gcmNonceSize+c.aead.Overhead() {
		return "", ErrCiphertextTooShort
	}

	nonce, sealed := blob[:gcmNonceSize], blob[gcmNonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Hash returns a deterministic hex digest of plaintext under the lookup key.
// Used for equality queries against encrypted columns.
func (c *Cipher) Hash(plaintext string) string {
	mac := hmac.New(sha256.New, c.lookupKey)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// DecodeKey turns a configured key string into 32 raw bytes. Raw 32-byte
// strings, base64 and hex encodings are accepted.
func DecodeKey(s string) ([]byte, error) {
	if len(s) == aesKeySize {
		return []byte(s), nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil && len(decoded) == aesKeySize {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(s); err == nil && len(decoded) == aesKeySize {
		return decoded, nil
	}
	return nil, ErrInvalidKey
}
