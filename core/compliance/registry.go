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

package compliance

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// KV is the storage the registry keeps verification records in.
type KV interface {
	Get(key []byte) ([]byte, error) // nil, nil when absent
	Put(key, value []byte) error
}

// Record is one stored verification.
type Record struct {
	Issuer              common.Address
	IssuanceTimestamp   uint32
	ExpirationTimestamp uint32
	ProofData           []byte
}

func recordKey(prefix []byte, user common.Address, verificationType uint32) []byte {
	key := append(append([]byte{}, prefix...), user.Bytes()...)
	return binary.BigEndian.AppendUint32(key, verificationType)
}

func encodeRecord(r Record) []byte {
	out := append([]byte{}, r.Issuer.Bytes()...)
	out = binary.BigEndian.AppendUint32(out, r.IssuanceTimestamp)
	out = binary.BigEndian.AppendUint32(out, r.ExpirationTimestamp)
	return append(out, r.ProofData...)
}

func decodeRecord(raw []byte) (Record, error) {
	if len(raw) < common.AddressLength+8 {
		return Record{}, fmt.Errorf("corrupt verification record of %d bytes", len(raw))
	}
	return Record{
		Issuer:              common.BytesToAddress(raw[:20]),
		IssuanceTimestamp:   binary.BigEndian.Uint32(raw[20:24]),
		ExpirationTimestamp: binary.BigEndian.Uint32(raw[24:28]),
		ProofData:           common.CopyBytes(raw[28:]),
	}, nil
}

// Registry executes bridge calls against a KV. It is what a host runs on
// its side of the compliance query.
type Registry struct {
	kv     KV
	prefix []byte
}

// NewRegistry returns a registry storing records under prefix.
func NewRegistry(kv KV, prefix []byte) *Registry {
	return &Registry{kv: kv, prefix: prefix}
}

// Handle executes one ABI call made by caller.
func (r *Registry) Handle(caller common.Address, input []byte, readOnly bool) ([]byte, error) {
	method, write, err := Lookup(input)
	if err != nil {
		return nil, err
	}
	if write && readOnly {
		return nil, ErrReadOnly
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method.Name, err)
	}
	switch method.Name {
	case "addVerificationDetails":
		rec := Record{
			Issuer:              caller,
			IssuanceTimestamp:   args[2].(uint32),
			ExpirationTimestamp: args[3].(uint32),
			ProofData:           args[4].([]byte),
		}
		if err := r.kv.Put(recordKey(r.prefix, args[0].(common.Address), args[1].(uint32)), encodeRecord(rec)); err != nil {
			return nil, err
		}
		return method.Outputs.Pack()

	case "hasVerification":
		rec, found, err := r.get(args[0].(common.Address), args[1].(uint32))
		if err != nil {
			return nil, err
		}
		ok := found && rec.ExpirationTimestamp >= args[2].(uint32)
		if issuers := args[3].([]common.Address); ok && len(issuers) > 0 {
			ok = false
			for _, issuer := range issuers {
				if issuer == rec.Issuer {
					ok = true
					break
				}
			}
		}
		return method.Outputs.Pack(ok)

	case "getVerificationData":
		rec, _, err := r.get(args[0].(common.Address), args[1].(uint32))
		if err != nil {
			return nil, err
		}
		if rec.ProofData == nil {
			rec.ProofData = []byte{}
		}
		return method.Outputs.Pack(rec.Issuer, rec.IssuanceTimestamp, rec.ExpirationTimestamp, rec.ProofData)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSelector, method.Name)
}

func (r *Registry) get(user common.Address, verificationType uint32) (Record, bool, error) {
	raw, err := r.kv.Get(recordKey(r.prefix, user, verificationType))
	if err != nil || raw == nil {
		return Record{}, false, err
	}
	rec, err := decodeRecord(raw)
	return rec, err == nil, err
}
