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
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/swisstronik/evm-enclave/ffi"
	"github.com/swisstronik/evm-enclave/internal/primitives"
	"github.com/swisstronik/evm-enclave/keymanager"
)

// Block identifies the block whose number and timestamp salt storage
// writes.
type Block struct {
	Number    uint64
	Timestamp uint64
}

// ChainStore is the persistent state the overlayed backend reads through
// to and finally writes into.
type ChainStore interface {
	Contains(addr common.Address) (bool, error)
	Account(addr common.Address) (*uint256.Int, uint64, error)
	Code(addr common.Address) ([]byte, error)
	CodeSize(addr common.Address) (uint64, error)
	CodeHash(addr common.Address) (common.Hash, error)
	Storage(addr common.Address, slot common.Hash) (common.Hash, bool, error)
	BlockHash(number uint64) (common.Hash, error)
	ComplianceBridge(caller common.Address, input []byte, readOnly bool) ([]byte, error)

	StateWriter
}

// StateWriter receives the final changeset of a committed transaction.
type StateWriter interface {
	PutBalance(addr common.Address, balance *uint256.Int) error
	PutNonce(addr common.Address, nonce uint64) error
	PutCode(addr common.Address, code []byte) error
	PutStorage(addr common.Address, slot, value common.Hash) error
	RemoveStorage(addr common.Address, slot common.Hash) error
	Remove(addr common.Address) error
}

// Storage implements ChainStore on top of a Querier, encrypting storage
// values on the way out and decrypting them on the way in.
type Storage struct {
	ctx   context.Context
	q     Querier
	km    *keymanager.KeyManager
	block Block
}

// NewStorage returns a host-backed store for one request.
func NewStorage(ctx context.Context, q Querier, km *keymanager.KeyManager, block Block) *Storage {
	return &Storage{ctx: ctx, q: q, km: km, block: block}
}

func (s *Storage) Contains(addr common.Address) (bool, error) {
	var resp ffi.ContainsKeyResponse
	err := query(s.ctx, s.q, &ffi.QueryRequest{ContainsKey: &ffi.AddressQuery{Address: addr.Bytes()}}, &resp)
	return resp.Contains, err
}

func (s *Storage) Account(addr common.Address) (*uint256.Int, uint64, error) {
	var resp ffi.GetAccountResponse
	if err := query(s.ctx, s.q, &ffi.QueryRequest{GetAccount: &ffi.AddressQuery{Address: addr.Bytes()}}, &resp); err != nil {
		return nil, 0, err
	}
	balance := resp.Balance
	if balance == nil {
		balance = new(uint256.Int)
	}
	return balance, resp.Nonce, nil
}

func (s *Storage) Code(addr common.Address) ([]byte, error) {
	var resp ffi.BytesResponse
	err := query(s.ctx, s.q, &ffi.QueryRequest{GetAccountCode: &ffi.AddressQuery{Address: addr.Bytes()}}, &resp)
	return resp.Value, err
}

func (s *Storage) CodeSize(addr common.Address) (uint64, error) {
	var resp ffi.CodeSizeResponse
	err := query(s.ctx, s.q, &ffi.QueryRequest{GetAccountCodeSize: &ffi.AddressQuery{Address: addr.Bytes()}}, &resp)
	return resp.Size, err
}

// CodeHash returns the keccak of the account code, or the zero hash for
// accounts that do not exist.
func (s *Storage) CodeHash(addr common.Address) (common.Hash, error) {
	var resp ffi.BytesResponse
	if err := query(s.ctx, s.q, &ffi.QueryRequest{GetAccountCodeHash: &ffi.AddressQuery{Address: addr.Bytes()}}, &resp); err != nil {
		return common.Hash{}, err
	}
	if len(resp.Value) != 0 && len(resp.Value) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: code hash of %d bytes", ErrHostUnavailable, len(resp.Value))
	}
	return common.BytesToHash(resp.Value), nil
}

// Storage returns the decrypted value of a cell and whether it was set.
func (s *Storage) Storage(addr common.Address, slot common.Hash) (common.Hash, bool, error) {
	var resp ffi.BytesResponse
	req := &ffi.QueryRequest{GetStorageCell: &ffi.StorageQuery{Address: addr.Bytes(), Index: slot.Bytes()}}
	if err := query(s.ctx, s.q, req, &resp); err != nil {
		return common.Hash{}, false, err
	}
	if len(resp.Value) == 0 {
		return common.Hash{}, false, nil
	}
	plaintext, err := s.km.DecryptStorage(addr, resp.Value)
	if err != nil {
		return common.Hash{}, false, err
	}
	value := common.BytesToHash(plaintext)
	return value, value != (common.Hash{}), nil
}

func (s *Storage) BlockHash(number uint64) (common.Hash, error) {
	var resp ffi.BytesResponse
	if err := query(s.ctx, s.q, &ffi.QueryRequest{GetBlockHash: &ffi.BlockHashQuery{Number: number}}, &resp); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(resp.Value), nil
}

// ComplianceBridge forwards a compliance call to the host.
func (s *Storage) ComplianceBridge(caller common.Address, input []byte, readOnly bool) ([]byte, error) {
	var resp ffi.BytesResponse
	req := &ffi.QueryRequest{ComplianceBridge: &ffi.ComplianceBridgeQuery{
		Caller:   caller.Bytes(),
		Input:    input,
		ReadOnly: readOnly,
	}}
	err := query(s.ctx, s.q, req, &resp)
	return resp.Value, err
}

func (s *Storage) PutBalance(addr common.Address, balance *uint256.Int) error {
	return query(s.ctx, s.q, balanceOp(addr, balance), nil)
}

func (s *Storage) PutNonce(addr common.Address, nonce uint64) error {
	return query(s.ctx, s.q, nonceOp(addr, nonce), nil)
}

func (s *Storage) PutCode(addr common.Address, code []byte) error {
	return query(s.ctx, s.q, codeOp(addr, code), nil)
}

// PutStorage encrypts value under the contract's key, salted with the cell
// location and the current block.
func (s *Storage) PutStorage(addr common.Address, slot, value common.Hash) error {
	op, err := s.storageOp(addr, slot, value)
	if err != nil {
		return err
	}
	return query(s.ctx, s.q, op, nil)
}

func (s *Storage) RemoveStorage(addr common.Address, slot common.Hash) error {
	return query(s.ctx, s.q, removeStorageOp(addr, slot), nil)
}

func (s *Storage) Remove(addr common.Address) error {
	return query(s.ctx, s.q, removeOp(addr), nil)
}

// NewBatch returns a writer that collects mutations and sends them to the
// host as one atomic writeBatch query.
func (s *Storage) NewBatch() *Batch {
	return &Batch{storage: s}
}

func (s *Storage) storageOp(addr common.Address, slot, value common.Hash) (*ffi.QueryRequest, error) {
	salt := primitives.StorageSalt(addr, slot, s.block.Number, s.block.Timestamp)
	ciphertext, err := s.km.EncryptStorage(s.block.Number, addr, salt, value.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt storage of %s: %w", addr, err)
	}
	return &ffi.QueryRequest{InsertStorage: &ffi.InsertStorage{
		Address: addr.Bytes(),
		Index:   slot.Bytes(),
		Value:   ciphertext,
	}}, nil
}

func balanceOp(addr common.Address, balance *uint256.Int) *ffi.QueryRequest {
	return &ffi.QueryRequest{InsertBalance: &ffi.InsertBalance{Address: addr.Bytes(), Balance: balance}}
}

func nonceOp(addr common.Address, nonce uint64) *ffi.QueryRequest {
	return &ffi.QueryRequest{InsertNonce: &ffi.InsertNonce{Address: addr.Bytes(), Nonce: nonce}}
}

func codeOp(addr common.Address, code []byte) *ffi.QueryRequest {
	return &ffi.QueryRequest{InsertCode: &ffi.InsertCode{Address: addr.Bytes(), Code: code}}
}

func removeStorageOp(addr common.Address, slot common.Hash) *ffi.QueryRequest {
	return &ffi.QueryRequest{RemoveStorageCell: &ffi.StorageQuery{Address: addr.Bytes(), Index: slot.Bytes()}}
}

func removeOp(addr common.Address) *ffi.QueryRequest {
	return &ffi.QueryRequest{RemoveAccount: &ffi.AddressQuery{Address: addr.Bytes()}}
}

// emptyCodeHash is the code hash of existing accounts without code.
var emptyCodeHash = crypto.Keccak256Hash(nil)
