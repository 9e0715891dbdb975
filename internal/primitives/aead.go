// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package primitives wraps the cryptographic building blocks used inside the
// enclave: Deoxys-II AEAD, label based key derivation, X25519 key agreement,
// secp256k1 sender recovery and salt seeded nonce generation.
package primitives

import (
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/oasisprotocol/deoxysii"
)

const (
	// KeySize is the size of every symmetric key handled by the enclave.
	KeySize = deoxysii.KeySize

	// NonceSize is the Deoxys-II nonce size.
	NonceSize = deoxysii.NonceSize

	// TagSize is the authentication tag appended to every ciphertext.
	TagSize = deoxysii.TagSize

	// AdSize is the size of the associated data block carried in front of
	// the ciphertext.
	AdSize = 16

	// Overhead is the number of bytes an encrypted blob adds to its plaintext.
	Overhead = NonceSize + AdSize + TagSize
)

var (
	// ErrCiphertextTooShort is returned when a blob cannot hold nonce, AD and tag.
	ErrCiphertextTooShort = errors.New("ciphertext too short")

	// ErrDecryptionFailed is returned on authentication tag mismatch.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidKeySize is returned when a key is not KeySize bytes long.
	ErrInvalidKeySize = errors.New("invalid key size")
)

// Seal encrypts plaintext under key with an explicit nonce and associated data
// and returns the blob nonce || ad || ciphertext || tag. Sealing is
// deterministic in (key, nonce, ad, plaintext).
func Seal(key []byte, nonce [NonceSize]byte, ad [AdSize]byte, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, NonceSize+AdSize+len(plaintext)+TagSize)
	out = append(out, nonce[:]...)
	out = append(out, ad[:]...)
	return aead.Seal(out, nonce[:], plaintext, ad[:]), nil
}

// Encrypt seals plaintext with a fresh random nonce and associated data.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	var (
		nonce [NonceSize]byte
		ad    [AdSize]byte
	)
	if err := ReadRandom(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to sample nonce: %w", err)
	}
	if err := ReadRandom(ad[:]); err != nil {
		return nil, fmt.Errorf("failed to sample associated data: %w", err)
	}
	return Seal(key, nonce, ad, plaintext)
}

// EncryptWithNonce seals plaintext with a caller supplied nonce and random
// associated data.
func EncryptWithNonce(key, plaintext []byte, nonce [NonceSize]byte) ([]byte, error) {
	var ad [AdSize]byte
	if err := ReadRandom(ad[:]); err != nil {
		return nil, fmt.Errorf("failed to sample associated data: %w", err)
	}
	return Seal(key, nonce, ad, plaintext)
}

// Decrypt opens a blob produced by Seal. An empty plaintext is returned as
// a non-nil empty slice.
func Decrypt(key, blob []byte) ([]byte, error) {
	if len(blob) < Overhead {
		return nil, ErrCiphertextTooShort
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := blob[:NonceSize]
	ad := blob[NonceSize : NonceSize+AdSize]
	plaintext, err := aead.Open(nil, nonce, blob[NonceSize+AdSize:], ad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// SplitNonce returns the nonce carried at the front of an encrypted blob.
func SplitNonce(blob []byte) ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if len(blob) < Overhead {
		return nonce, ErrCiphertextTooShort
	}
	copy(nonce[:], blob[:NonceSize])
	return nonce, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	aead, err := deoxysii.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	return aead, nil
}
