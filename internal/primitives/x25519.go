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

package primitives

import (
	"errors"
	"fmt"

	"github.com/oasisprotocol/curve25519-voi/primitives/x25519"
)

// PublicKeySize is the size of an X25519 public key.
const PublicKeySize = x25519.PointSize

// ErrInvalidPublicKey is returned for malformed or low order X25519 points.
var ErrInvalidPublicKey = errors.New("invalid x25519 public key")

// X25519PublicKey returns the public image of the given scalar.
func X25519PublicKey(secret [KeySize]byte) [PublicKeySize]byte {
	var pub [PublicKeySize]byte
	x25519.ScalarBaseMult(&pub, &secret)
	return pub
}

// ECDH computes the X25519 shared secret between a local scalar and a peer
// public key.
func ECDH(secret [KeySize]byte, peer []byte) ([KeySize]byte, error) {
	var shared [KeySize]byte
	if len(peer) != PublicKeySize {
		return shared, fmt.Errorf("%w: got %d bytes", ErrInvalidPublicKey, len(peer))
	}
	out, err := x25519.X25519(secret[:], peer)
	if err != nil {
		return shared, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	copy(shared[:], out)
	return shared, nil
}

// SharedKey derives the symmetric key two X25519 parties use for payload
// encryption.
func SharedKey(secret [KeySize]byte, peer []byte) ([KeySize]byte, error) {
	shared, err := ECDH(secret, peer)
	if err != nil {
		return [KeySize]byte{}, err
	}
	return Derive(shared[:], IOKeyLabel), nil
}

// GenerateX25519 samples a fresh scalar together with its public key.
func GenerateX25519() ([KeySize]byte, [PublicKeySize]byte, error) {
	var secret [KeySize]byte
	if err := ReadRandom(secret[:]); err != nil {
		return secret, [PublicKeySize]byte{}, err
	}
	return secret, X25519PublicKey(secret), nil
}
