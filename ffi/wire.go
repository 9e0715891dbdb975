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

// Package ffi defines the protobuf messages exchanged across the enclave
// boundary: router requests and replies, and the typed queries the enclave
// sends back to the host key/value store. Messages are encoded directly with
// protowire so the schema needs no generated code inside the enclave.
package ffi

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrBadPayload is returned for messages that do not decode.
var ErrBadPayload = errors.New("bad payload")

// Message is implemented by every type in this package.
type Message interface {
	Marshal() []byte
	Unmarshal(b []byte) error
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendRepeatedBytes(b []byte, num protowire.Number, vs [][]byte) []byte {
	for _, v := range vs {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	}
	return b
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendUint64(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

// appendMessage always emits a present message, even when empty, so that
// oneof members without fields keep their discriminator.
func appendMessage(b []byte, num protowire.Number, m Message) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.Marshal())
}

func appendU256(b []byte, num protowire.Number, v *uint256.Int) []byte {
	if v == nil || v.IsZero() {
		return b
	}
	return appendBytes(b, num, v.Bytes())
}

// fieldFunc handles one field and returns the number of bytes consumed, or
// zero if the field is unknown and must be skipped.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func consumeFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrBadPayload, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrBadPayload, num, protowire.ParseError(m))
			}
		}
		b = b[m:]
	}
	return nil
}

func wireTypeError(num protowire.Number, typ protowire.Type) error {
	return fmt.Errorf("%w: field %d has unexpected wire type %d", ErrBadPayload, num, typ)
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, wireTypeError(num, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, fmt.Errorf("%w: field %d: %v", ErrBadPayload, num, protowire.ParseError(n))
	}
	*dst = append([]byte(nil), v...)
	return n, nil
}

func consumeRepeatedBytes(num protowire.Number, typ protowire.Type, b []byte, dst *[][]byte) (int, error) {
	var v []byte
	n, err := consumeBytes(num, typ, b, &v)
	if err != nil {
		return 0, err
	}
	*dst = append(*dst, v)
	return n, nil
}

func consumeString(num protowire.Number, typ protowire.Type, b []byte, dst *string) (int, error) {
	var v []byte
	n, err := consumeBytes(num, typ, b, &v)
	*dst = string(v)
	return n, err
}

func consumeUint64(num protowire.Number, typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, wireTypeError(num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, fmt.Errorf("%w: field %d: %v", ErrBadPayload, num, protowire.ParseError(n))
	}
	*dst = v
	return n, nil
}

func consumeUint32(num protowire.Number, typ protowire.Type, b []byte, dst *uint32) (int, error) {
	var v uint64
	n, err := consumeUint64(num, typ, b, &v)
	if err == nil && v > 1<<32-1 {
		return 0, fmt.Errorf("%w: field %d overflows uint32", ErrBadPayload, num)
	}
	*dst = uint32(v)
	return n, err
}

func consumeBool(num protowire.Number, typ protowire.Type, b []byte, dst *bool) (int, error) {
	var v uint64
	n, err := consumeUint64(num, typ, b, &v)
	*dst = v != 0
	return n, err
}

func consumeMessage(num protowire.Number, typ protowire.Type, b []byte, m Message) (int, error) {
	var v []byte
	n, err := consumeBytes(num, typ, b, &v)
	if err != nil {
		return 0, err
	}
	if err := m.Unmarshal(v); err != nil {
		return 0, err
	}
	return n, nil
}

func consumeU256(num protowire.Number, typ protowire.Type, b []byte, dst **uint256.Int) (int, error) {
	var v []byte
	n, err := consumeBytes(num, typ, b, &v)
	if err != nil {
		return 0, err
	}
	if len(v) > 32 {
		return 0, fmt.Errorf("%w: field %d holds %d bytes, want at most 32", ErrBadPayload, num, len(v))
	}
	*dst = new(uint256.Int).SetBytes(v)
	return n, nil
}
