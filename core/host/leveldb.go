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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/swisstronik/evm-enclave/core/compliance"
	"github.com/swisstronik/evm-enclave/ffi"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key prefixes of the development store.
var (
	accountPrefix    = []byte("a") // a + address -> balance(32) || nonce(8)
	codePrefix       = []byte("c") // c + address -> code
	storagePrefix    = []byte("s") // s + address + slot -> ciphertext
	blockHashPrefix  = []byte("h") // h + number(8) -> hash
	compliancePrefix = []byte("v") // v + user + type -> verification record
)

// kvReader is satisfied by both *leveldb.DB and *leveldb.Transaction.
type kvReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	Has(key []byte, ro *opt.ReadOptions) (bool, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

// LevelDBHost plays the role of the host key/value store outside an
// enclave. It answers the same typed queries a production host does.
type LevelDBHost struct {
	db *leveldb.DB
}

// OpenLevelDBHost opens or creates a store at dir.
func OpenLevelDBHost(dir string) (*LevelDBHost, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open host database: %w", err)
	}
	log.Info("Opened development host database", "dir", dir)
	return &LevelDBHost{db: db}, nil
}

// NewMemoryHost returns a store kept in memory.
func NewMemoryHost() *LevelDBHost {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		panic(fmt.Sprintf("failed to open memory database: %v", err))
	}
	return &LevelDBHost{db: db}
}

// Close releases the database.
func (h *LevelDBHost) Close() error { return h.db.Close() }

func prefixed(prefix []byte, parts ...[]byte) []byte {
	key := append([]byte{}, prefix...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func accountKey(addr []byte) []byte { return prefixed(accountPrefix, addr) }
func codeKey(addr []byte) []byte    { return prefixed(codePrefix, addr) }

func storageKey(addr, slot []byte) []byte {
	return prefixed(storagePrefix, addr, common.LeftPadBytes(slot, common.HashLength))
}

func blockHashKey(number uint64) []byte {
	return binary.BigEndian.AppendUint64(prefixed(blockHashPrefix), number)
}

func get(r kvReader, key []byte) ([]byte, error) {
	v, err := r.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func readAccount(r kvReader, addr []byte) (*uint256.Int, uint64, bool, error) {
	raw, err := get(r, accountKey(addr))
	if err != nil || raw == nil {
		return new(uint256.Int), 0, false, err
	}
	if len(raw) != 40 {
		return nil, 0, false, fmt.Errorf("corrupt account record of %d bytes", len(raw))
	}
	return new(uint256.Int).SetBytes(raw[:32]), binary.BigEndian.Uint64(raw[32:]), true, nil
}

func encodeAccount(balance *uint256.Int, nonce uint64) []byte {
	raw := make([]byte, 40)
	if balance != nil {
		balance.WriteToSlice(raw[:32])
	}
	binary.BigEndian.PutUint64(raw[32:], nonce)
	return raw
}

// Query implements Querier. Writes, including every op of a writeBatch,
// are applied in one LevelDB transaction.
func (h *LevelDBHost) Query(_ context.Context, request []byte) ([]byte, error) {
	var req ffi.QueryRequest
	if err := req.Unmarshal(request); err != nil {
		return nil, err
	}
	if !req.IsWrite() && req.ComplianceBridge == nil {
		resp, err := h.read(h.db, &req)
		if err != nil {
			return nil, err
		}
		return resp.Marshal(), nil
	}
	tx, err := h.db.OpenTransaction()
	if err != nil {
		return nil, err
	}
	var resp ffi.Message
	if req.ComplianceBridge != nil {
		resp, err = h.compliance(tx, req.ComplianceBridge)
	} else {
		err = h.write(tx, &req)
	}
	if err != nil {
		tx.Discard()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	return resp.Marshal(), nil
}

func (h *LevelDBHost) read(r kvReader, req *ffi.QueryRequest) (ffi.Message, error) {
	switch {
	case req.GetAccount != nil:
		balance, nonce, _, err := readAccount(r, req.GetAccount.Address)
		return &ffi.GetAccountResponse{Balance: balance, Nonce: nonce}, err

	case req.ContainsKey != nil:
		_, _, ok, err := readAccount(r, req.ContainsKey.Address)
		if err == nil && !ok {
			ok, err = r.Has(codeKey(req.ContainsKey.Address), nil)
		}
		return &ffi.ContainsKeyResponse{Contains: ok}, err

	case req.GetStorageCell != nil:
		v, err := get(r, storageKey(req.GetStorageCell.Address, req.GetStorageCell.Index))
		return &ffi.BytesResponse{Value: v}, err

	case req.GetAccountCode != nil:
		v, err := get(r, codeKey(req.GetAccountCode.Address))
		return &ffi.BytesResponse{Value: v}, err

	case req.GetAccountCodeSize != nil:
		v, err := get(r, codeKey(req.GetAccountCodeSize.Address))
		return &ffi.CodeSizeResponse{Size: uint64(len(v))}, err

	case req.GetAccountCodeHash != nil:
		addr := req.GetAccountCodeHash.Address
		code, err := get(r, codeKey(addr))
		if err != nil {
			return nil, err
		}
		if code != nil {
			return &ffi.BytesResponse{Value: crypto.Keccak256(code)}, nil
		}
		if _, _, ok, err := readAccount(r, addr); err != nil || !ok {
			return &ffi.BytesResponse{}, err
		}
		return &ffi.BytesResponse{Value: emptyCodeHash.Bytes()}, nil

	case req.GetBlockHash != nil:
		v, err := get(r, blockHashKey(req.GetBlockHash.Number))
		return &ffi.BytesResponse{Value: v}, err
	}
	return nil, fmt.Errorf("unsupported query %s", req.Kind())
}

func (h *LevelDBHost) write(tx *leveldb.Transaction, req *ffi.QueryRequest) error {
	switch {
	case req.InsertBalance != nil:
		_, nonce, _, err := readAccount(tx, req.InsertBalance.Address)
		if err != nil {
			return err
		}
		return tx.Put(accountKey(req.InsertBalance.Address), encodeAccount(req.InsertBalance.Balance, nonce), nil)

	case req.InsertNonce != nil:
		balance, _, _, err := readAccount(tx, req.InsertNonce.Address)
		if err != nil {
			return err
		}
		return tx.Put(accountKey(req.InsertNonce.Address), encodeAccount(balance, req.InsertNonce.Nonce), nil)

	case req.InsertCode != nil:
		return tx.Put(codeKey(req.InsertCode.Address), req.InsertCode.Code, nil)

	case req.InsertStorage != nil:
		return tx.Put(storageKey(req.InsertStorage.Address, req.InsertStorage.Index), req.InsertStorage.Value, nil)

	case req.RemoveStorageCell != nil:
		return tx.Delete(storageKey(req.RemoveStorageCell.Address, req.RemoveStorageCell.Index), nil)

	case req.RemoveAccount != nil:
		addr := req.RemoveAccount.Address
		var keys [][]byte
		it := tx.NewIterator(util.BytesPrefix(prefixed(storagePrefix, addr)), nil)
		for it.Next() {
			keys = append(keys, append([]byte{}, it.Key()...))
		}
		it.Release()
		if err := it.Error(); err != nil {
			return err
		}
		keys = append(keys, accountKey(addr), codeKey(addr))
		for _, k := range keys {
			if err := tx.Delete(k, nil); err != nil {
				return err
			}
		}
		return nil

	case req.WriteBatch != nil:
		for _, op := range req.WriteBatch.Ops {
			if op.WriteBatch != nil || !op.IsWrite() {
				return fmt.Errorf("invalid batch op %s", op.Kind())
			}
			if err := h.write(tx, op); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported write %s", req.Kind())
}

// SetAccount seeds an account balance and nonce.
func (h *LevelDBHost) SetAccount(addr common.Address, balance *uint256.Int, nonce uint64) error {
	return h.db.Put(accountKey(addr.Bytes()), encodeAccount(balance, nonce), nil)
}

// SetBlockHash records the hash of a block for BLOCKHASH lookups.
func (h *LevelDBHost) SetBlockHash(number uint64, hash common.Hash) error {
	return h.db.Put(blockHashKey(number), hash.Bytes(), nil)
}

// RawStorage returns the ciphertext stored for a cell, for inspection.
func (h *LevelDBHost) RawStorage(addr common.Address, slot common.Hash) ([]byte, error) {
	return get(h.db, storageKey(addr.Bytes(), slot.Bytes()))
}

// txKV adapts a LevelDB transaction to the compliance registry.
type txKV struct{ tx *leveldb.Transaction }

func (kv txKV) Get(key []byte) ([]byte, error) { return get(kv.tx, key) }
func (kv txKV) Put(key, value []byte) error    { return kv.tx.Put(key, value, nil) }

func (h *LevelDBHost) compliance(tx *leveldb.Transaction, q *ffi.ComplianceBridgeQuery) (ffi.Message, error) {
	reg := compliance.NewRegistry(txKV{tx}, compliancePrefix)
	out, err := reg.Handle(common.BytesToAddress(q.Caller), q.Input, q.ReadOnly)
	if err != nil {
		return nil, err
	}
	return &ffi.BytesResponse{Value: out}, nil
}
