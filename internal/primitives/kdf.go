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
	"crypto/hmac"
	"crypto/sha256"
)

// Labels used to derive the key hierarchy. Changing any of them breaks
// compatibility with sealed key files and encrypted state.
var (
	TxKeyLabel    = []byte("TransactionEncryptionKeyV1")
	StateKeyLabel = []byte("StateEncryptionKeyV1")
	IOKeyLabel    = []byte("IOEncryptionKeyV1")
)

// Derive computes HMAC-SHA256 keyed with info over secret. Note the roles are
// swapped with respect to a textbook HKDF-extract: the label is the HMAC key.
func Derive(secret, info []byte) [KeySize]byte {
	mac := hmac.New(sha256.New, info)
	mac.Write(secret)

	var out [KeySize]byte
	copy(out[:], mac.Sum(nil))
	return out
}
