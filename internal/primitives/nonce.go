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
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// StorageSalt binds a storage cell ciphertext to the cell location and to the
// block that wrote it.
func StorageSalt(contract common.Address, slot common.Hash, blockNumber, timestamp uint64) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], blockNumber)
	binary.BigEndian.PutUint64(buf[8:], timestamp)
	return crypto.Keccak256Hash(contract.Bytes(), slot.Bytes(), buf[:])
}

// SaltedNonce expands key and salt into a nonce and associated data block.
// The output is reproducible for the same inputs and unpredictable without
// the key.
func SaltedNonce(key [KeySize]byte, salt common.Hash) ([NonceSize]byte, [AdSize]byte, error) {
	var (
		nonce [NonceSize]byte
		ad    [AdSize]byte
		seed  [chacha20.KeySize]byte
	)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key[:], salt[:], []byte("StorageNonceV1")), seed[:]); err != nil {
		return nonce, ad, fmt.Errorf("failed to expand nonce seed: %w", err)
	}
	stream, err := chacha20.NewUnauthenticatedCipher(seed[:], make([]byte, chacha20.NonceSize))
	if err != nil {
		return nonce, ad, fmt.Errorf("failed to create nonce stream: %w", err)
	}
	stream.XORKeyStream(nonce[:], nonce[:])
	stream.XORKeyStream(ad[:], ad[:])
	return nonce, ad, nil
}
