/*
Copyright 2026 The Loader Engine Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package crypto implements authenticated symmetric encryption for
// persisted sensitive fields: loader query text and source database
// passwords.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	lerrors "github.com/signaldata/loaderengine/internal/errors"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12
	tagSize   = 16
	// minCiphertextLen is the smallest a valid ciphertext blob can be:
	// a 12-byte nonce plus a 16-byte GCM tag with zero-length plaintext.
	minCiphertextLen = nonceSize + tagSize
)

// Service provides Encrypt/Decrypt/IsEncrypted over a fixed 32-byte key
// supplied at startup.
type Service struct {
	aead cipher.AEAD
}

// NewService builds a Service from a base64-encoded 32-byte key. An
// empty or short key is a hard startup failure.
func NewService(base64Key string) (*Service, error) {
	if base64Key == "" {
		return nil, lerrors.New(lerrors.KindCryptoKeyInvalid, fmt.Errorf("encryption key is empty"))
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, lerrors.New(lerrors.KindCryptoKeyInvalid, fmt.Errorf("encryption key is not valid base64: %w", err))
	}
	if len(key) != keySize {
		return nil, lerrors.New(lerrors.KindCryptoKeyInvalid, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key)))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, lerrors.New(lerrors.KindCryptoKeyInvalid, fmt.Errorf("failed to construct AES cipher: %w", err))
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, lerrors.New(lerrors.KindCryptoKeyInvalid, fmt.Errorf("failed to construct GCM mode: %w", err))
	}

	return &Service{aead: aead}, nil
}

// Encrypt returns the base64 concatenation of a random nonce, the
// ciphertext, and the authentication tag. A nil/empty plain value
// passes through unchanged.
func (s *Service) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A nil/empty cipher value passes through
// unchanged. A wrong key or tampered ciphertext yields
// CRYPTO_DECRYPT_FAILED.
func (s *Service) Decrypt(cipherText string) (string, error) {
	if cipherText == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", lerrors.New(lerrors.KindCryptoDecryptFailed, fmt.Errorf("ciphertext is not valid base64: %w", err))
	}
	if len(raw) < minCiphertextLen {
		return "", lerrors.New(lerrors.KindCryptoDecryptFailed, fmt.Errorf("ciphertext is too short"))
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plain, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", lerrors.New(lerrors.KindCryptoDecryptFailed, fmt.Errorf("authentication failed: %w", err))
	}
	return string(plain), nil
}

// IsEncrypted heuristically reports whether s looks like one of this
// service's ciphertexts: valid base64 of at least minCiphertextLen raw
// bytes.
func IsEncrypted(s string) bool {
	if len(s) < 28 {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	return len(raw) >= minCiphertextLen
}
