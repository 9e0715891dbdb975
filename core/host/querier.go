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

// Package host connects the enclave's EVM state to the untrusted host
// key/value store through the typed query callback.
package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/swisstronik/evm-enclave/ffi"
)

// ErrHostUnavailable is returned when the host callback fails or answers
// with something that does not decode.
var ErrHostUnavailable = errors.New("host unavailable")

// Querier is the host callback. It receives an encoded ffi.QueryRequest and
// returns the encoded typed reply. Implementations are borrowed for the
// duration of one enclave request and must not be retained.
type Querier interface {
	Query(ctx context.Context, request []byte) ([]byte, error)
}

// QuerierFunc adapts a function to Querier.
type QuerierFunc func(ctx context.Context, request []byte) ([]byte, error)

func (f QuerierFunc) Query(ctx context.Context, request []byte) ([]byte, error) {
	return f(ctx, request)
}

// query sends req and decodes the reply into resp, which may be nil for
// write queries.
func query(ctx context.Context, q Querier, req *ffi.QueryRequest, resp ffi.Message) error {
	raw, err := q.Query(ctx, req.Marshal())
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrHostUnavailable, req.Kind(), err)
	}
	if resp == nil {
		return nil
	}
	if err := resp.Unmarshal(raw); err != nil {
		return fmt.Errorf("%w: %s reply: %v", ErrHostUnavailable, req.Kind(), err)
	}
	return nil
}
