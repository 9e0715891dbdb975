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
	"crypto/rand"
	"fmt"
	"io"
)

// Reader is the entropy source for keys and nonces. Inside Gramine the
// runtime backs crypto/rand with RDRAND, so no additional source is needed.
var Reader io.Reader = rand.Reader

// ReadRandom fills buf from Reader.
func ReadRandom(buf []byte) error {
	if _, err := io.ReadFull(Reader, buf); err != nil {
		return fmt.Errorf("entropy source failure: %w", err)
	}
	return nil
}

// RandomKey samples a fresh 32-byte key.
func RandomKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	err := ReadRandom(key[:])
	return key, err
}

// RandomNonce samples a fresh AEAD nonce.
func RandomNonce() ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	err := ReadRandom(nonce[:])
	return nonce, err
}
