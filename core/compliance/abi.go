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

// Package compliance defines the ABI of the compliance bridge precompile and
// a reference registry implementing it on a key/value store.
package compliance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ErrUnknownSelector is returned for calls outside the bridge ABI.
var ErrUnknownSelector = errors.New("unknown compliance selector")

// ErrReadOnly is returned for mutating calls made from a static context.
var ErrReadOnly = errors.New("compliance write in read-only context")

const bridgeABI = `[
	{
		"name": "addVerificationDetails",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "userAddress", "type": "address"},
			{"name": "verificationType", "type": "uint32"},
			{"name": "issuanceTimestamp", "type": "uint32"},
			{"name": "expirationTimestamp", "type": "uint32"},
			{"name": "proofData", "type": "bytes"}
		],
		"outputs": []
	},
	{
		"name": "hasVerification",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "userAddress", "type": "address"},
			{"name": "verificationType", "type": "uint32"},
			{"name": "expirationTimestamp", "type": "uint32"},
			{"name": "allowedIssuers", "type": "address[]"}
		],
		"outputs": [{"type": "bool"}]
	},
	{
		"name": "getVerificationData",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "userAddress", "type": "address"},
			{"name": "verificationType", "type": "uint32"}
		],
		"outputs": [
			{"name": "issuer", "type": "address"},
			{"name": "issuanceTimestamp", "type": "uint32"},
			{"name": "expirationTimestamp", "type": "uint32"},
			{"name": "proofData", "type": "bytes"}
		]
	}
]`

// ABI is the parsed bridge interface.
var ABI = mustParse(bridgeABI)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse compliance ABI: %v", err))
	}
	return parsed
}

// Lookup resolves the method addressed by input and reports whether it
// mutates state. Unknown selectors are rejected.
func Lookup(input []byte) (*abi.Method, bool, error) {
	if len(input) < 4 {
		return nil, false, fmt.Errorf("%w: input of %d bytes", ErrUnknownSelector, len(input))
	}
	method, err := ABI.MethodById(input[:4])
	if err != nil {
		return nil, false, fmt.Errorf("%w: %x", ErrUnknownSelector, input[:4])
	}
	return method, method.StateMutability != "view" && method.StateMutability != "pure", nil
}
