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
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureSize is the length of an r || s || v signature.
const SignatureSize = crypto.SignatureLength

var (
	ErrInvalidSignatureLen = errors.New("invalid signature length")
	ErrInvalidSignature    = errors.New("invalid signature values")
)

// NormalizeSignature returns a copy of sig with v reduced to {0, 1}.
func NormalizeSignature(sig []byte) ([]byte, error) {
	if len(sig) != SignatureSize {
		return nil, ErrInvalidSignatureLen
	}
	out := common.CopyBytes(sig)
	if out[64] > 26 {
		out[64] -= 27
	}
	return out, nil
}

// RecoverSender recovers the address that produced sig over hash. High-s
// signatures are rejected (EIP-2).
func RecoverSender(hash common.Hash, sig []byte) (common.Address, error) {
	norm, err := NormalizeSignature(sig)
	if err != nil {
		return common.Address{}, err
	}
	r := new(big.Int).SetBytes(norm[:32])
	s := new(big.Int).SetBytes(norm[32:64])
	if !crypto.ValidateSignatureValues(norm[64], r, s, true) {
		return common.Address{}, ErrInvalidSignature
	}
	pub, err := crypto.Ecrecover(hash[:], norm)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(crypto.Keccak256(pub[1:])[12:]), nil
}
