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

package host

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/swisstronik/evm-enclave/ffi"
)

// Batch collects writes for one atomic host commit. Storage values are
// encrypted as they are added, so a failed encryption aborts before anything
// reaches the host.
type Batch struct {
	storage *Storage
	ops     []*ffi.QueryRequest
}

func (b *Batch) PutBalance(addr common.Address, balance *uint256.Int) error {
	b.ops = append(b.ops, balanceOp(addr, balance))
	return nil
}

func (b *Batch) PutNonce(addr common.Address, nonce uint64) error {
	b.ops = append(b.ops, nonceOp(addr, nonce))
	return nil
}

func (b *Batch) PutCode(addr common.Address, code []byte) error {
	b.ops = append(b.ops, codeOp(addr, code))
	return nil
}

func (b *Batch) PutStorage(addr common.Address, slot, value common.Hash) error {
	op, err := b.storage.storageOp(addr, slot, value)
	if err != nil {
		return err
	}
	b.ops = append(b.ops, op)
	return nil
}

func (b *Batch) RemoveStorage(addr common.Address, slot common.Hash) error {
	b.ops = append(b.ops, removeStorageOp(addr, slot))
	return nil
}

func (b *Batch) Remove(addr common.Address) error {
	b.ops = append(b.ops, removeOp(addr))
	return nil
}

// Len returns the number of queued operations.
func (b *Batch) Len() int { return len(b.ops) }

// Write sends the queued operations. Nothing is sent for an empty batch.
func (b *Batch) Write() error {
	if len(b.ops) == 0 {
		return nil
	}
	req := &ffi.QueryRequest{WriteBatch: &ffi.WriteBatch{Ops: b.ops}}
	if err := query(b.storage.ctx, b.storage.q, req, nil); err != nil {
		return err
	}
	log.Debug("Committed state batch", "ops", len(b.ops))
	b.ops = nil
	return nil
}
