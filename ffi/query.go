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

package ffi

import (
	"fmt"

	"github.com/holiman/uint256"
	"google.golang.org/protobuf/encoding/protowire"
)

// AddressQuery addresses an account.
type AddressQuery struct {
	Address []byte // 1
}

func (m *AddressQuery) Marshal() []byte { return appendBytes(nil, 1, m.Address) }

func (m *AddressQuery) Unmarshal(b []byte) error {
	*m = AddressQuery{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeBytes(num, typ, b, &m.Address)
		}
		return 0, nil
	})
}

// StorageQuery addresses a storage cell.
type StorageQuery struct {
	Address []byte // 1
	Index   []byte // 2
}

func (m *StorageQuery) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, m.Address)
	b = appendBytes(b, 2, m.Index)
	return b
}

func (m *StorageQuery) Unmarshal(b []byte) error {
	*m = StorageQuery{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(num, typ, b, &m.Address)
		case 2:
			return consumeBytes(num, typ, b, &m.Index)
		}
		return 0, nil
	})
}

// BlockHashQuery asks for the hash of a block.
type BlockHashQuery struct {
	Number uint64 // 1
}

func (m *BlockHashQuery) Marshal() []byte { return appendUint64(nil, 1, m.Number) }

func (m *BlockHashQuery) Unmarshal(b []byte) error {
	*m = BlockHashQuery{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeUint64(num, typ, b, &m.Number)
		}
		return 0, nil
	})
}

// InsertBalance sets an account balance.
type InsertBalance struct {
	Address []byte       // 1
	Balance *uint256.Int // 2
}

func (m *InsertBalance) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, m.Address)
	b = appendU256(b, 2, m.Balance)
	return b
}

func (m *InsertBalance) Unmarshal(b []byte) error {
	*m = InsertBalance{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(num, typ, b, &m.Address)
		case 2:
			return consumeU256(num, typ, b, &m.Balance)
		}
		return 0, nil
	})
}

// InsertNonce sets an account nonce.
type InsertNonce struct {
	Address []byte // 1
	Nonce   uint64 // 2
}

func (m *InsertNonce) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, m.Address)
	b = appendUint64(b, 2, m.Nonce)
	return b
}

func (m *InsertNonce) Unmarshal(b []byte) error {
	*m = InsertNonce{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(num, typ, b, &m.Address)
		case 2:
			return consumeUint64(num, typ, b, &m.Nonce)
		}
		return 0, nil
	})
}

// InsertCode sets account code.
type InsertCode struct {
	Address []byte // 1
	Code    []byte // 2
}

func (m *InsertCode) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, m.Address)
	b = appendBytes(b, 2, m.Code)
	return b
}

func (m *InsertCode) Unmarshal(b []byte) error {
	*m = InsertCode{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(num, typ, b, &m.Address)
		case 2:
			return consumeBytes(num, typ, b, &m.Code)
		}
		return 0, nil
	})
}

// InsertStorage writes an encrypted storage cell.
type InsertStorage struct {
	Address []byte // 1
	Index   []byte // 2
	Value   []byte // 3, ciphertext
}

func (m *InsertStorage) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, m.Address)
	b = appendBytes(b, 2, m.Index)
	b = appendBytes(b, 3, m.Value)
	return b
}

func (m *InsertStorage) Unmarshal(b []byte) error {
	*m = InsertStorage{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(num, typ, b, &m.Address)
		case 2:
			return consumeBytes(num, typ, b, &m.Index)
		case 3:
			return consumeBytes(num, typ, b, &m.Value)
		}
		return 0, nil
	})
}

// WriteBatch groups mutating queries that the host applies atomically.
type WriteBatch struct {
	Ops []*QueryRequest // 1
}

func (m *WriteBatch) Marshal() []byte {
	var b []byte
	for _, op := range m.Ops {
		b = appendMessage(b, 1, op)
	}
	return b
}

func (m *WriteBatch) Unmarshal(b []byte) error {
	*m = WriteBatch{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			op := new(QueryRequest)
			n, err := consumeMessage(num, typ, b, op)
			if err == nil {
				m.Ops = append(m.Ops, op)
			}
			return n, err
		}
		return 0, nil
	})
}

// ComplianceBridgeQuery forwards a compliance precompile call to the host.
type ComplianceBridgeQuery struct {
	Caller   []byte // 1
	Input    []byte // 2
	ReadOnly bool   // 3
}

func (m *ComplianceBridgeQuery) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, m.Caller)
	b = appendBytes(b, 2, m.Input)
	b = appendBool(b, 3, m.ReadOnly)
	return b
}

func (m *ComplianceBridgeQuery) Unmarshal(b []byte) error {
	*m = ComplianceBridgeQuery{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(num, typ, b, &m.Caller)
		case 2:
			return consumeBytes(num, typ, b, &m.Input)
		case 3:
			return consumeBool(num, typ, b, &m.ReadOnly)
		}
		return 0, nil
	})
}

// QueryRequest is a typed query from the enclave to the host store.
// Exactly one field is set.
type QueryRequest struct {
	GetAccount         *AddressQuery          // 1
	ContainsKey        *AddressQuery          // 2
	GetStorageCell     *StorageQuery          // 3
	GetAccountCode     *AddressQuery          // 4
	GetAccountCodeSize *AddressQuery          // 5
	GetAccountCodeHash *AddressQuery          // 6
	GetBlockHash       *BlockHashQuery        // 7
	InsertBalance      *InsertBalance         // 8
	InsertNonce        *InsertNonce           // 9
	InsertCode         *InsertCode            // 10
	InsertStorage      *InsertStorage         // 11
	RemoveStorageCell  *StorageQuery          // 12
	RemoveAccount      *AddressQuery          // 13
	WriteBatch         *WriteBatch            // 14
	ComplianceBridge   *ComplianceBridgeQuery // 15
}

func (m *QueryRequest) fields() []requestField {
	var out []requestField
	add := func(num protowire.Number, name string, present bool, msg Message) {
		if present {
			out = append(out, requestField{num, name, msg})
		}
	}
	add(1, "getAccount", m.GetAccount != nil, m.GetAccount)
	add(2, "containsKey", m.ContainsKey != nil, m.ContainsKey)
	add(3, "getStorageCell", m.GetStorageCell != nil, m.GetStorageCell)
	add(4, "getAccountCode", m.GetAccountCode != nil, m.GetAccountCode)
	add(5, "getAccountCodeSize", m.GetAccountCodeSize != nil, m.GetAccountCodeSize)
	add(6, "getAccountCodeHash", m.GetAccountCodeHash != nil, m.GetAccountCodeHash)
	add(7, "getBlockHash", m.GetBlockHash != nil, m.GetBlockHash)
	add(8, "insertAccountBalance", m.InsertBalance != nil, m.InsertBalance)
	add(9, "insertAccountNonce", m.InsertNonce != nil, m.InsertNonce)
	add(10, "insertAccountCode", m.InsertCode != nil, m.InsertCode)
	add(11, "insertStorageCell", m.InsertStorage != nil, m.InsertStorage)
	add(12, "removeStorageCell", m.RemoveStorageCell != nil, m.RemoveStorageCell)
	add(13, "removeAccount", m.RemoveAccount != nil, m.RemoveAccount)
	add(14, "writeBatch", m.WriteBatch != nil, m.WriteBatch)
	add(15, "complianceBridge", m.ComplianceBridge != nil, m.ComplianceBridge)
	return out
}

// Kind names the populated oneof member, or "unknown".
func (m *QueryRequest) Kind() string {
	if f := m.fields(); len(f) == 1 {
		return f[0].name
	}
	return "unknown"
}

// IsWrite reports whether the query mutates host state.
func (m *QueryRequest) IsWrite() bool {
	return m.InsertBalance != nil || m.InsertNonce != nil || m.InsertCode != nil ||
		m.InsertStorage != nil || m.RemoveStorageCell != nil || m.RemoveAccount != nil ||
		m.WriteBatch != nil
}

func (m *QueryRequest) Marshal() []byte {
	var b []byte
	for _, f := range m.fields() {
		b = appendMessage(b, f.num, f.msg)
	}
	return b
}

func (m *QueryRequest) Unmarshal(b []byte) error {
	*m = QueryRequest{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			m.GetAccount = new(AddressQuery)
			return consumeMessage(num, typ, b, m.GetAccount)
		case 2:
			m.ContainsKey = new(AddressQuery)
			return consumeMessage(num, typ, b, m.ContainsKey)
		case 3:
			m.GetStorageCell = new(StorageQuery)
			return consumeMessage(num, typ, b, m.GetStorageCell)
		case 4:
			m.GetAccountCode = new(AddressQuery)
			return consumeMessage(num, typ, b, m.GetAccountCode)
		case 5:
			m.GetAccountCodeSize = new(AddressQuery)
			return consumeMessage(num, typ, b, m.GetAccountCodeSize)
		case 6:
			m.GetAccountCodeHash = new(AddressQuery)
			return consumeMessage(num, typ, b, m.GetAccountCodeHash)
		case 7:
			m.GetBlockHash = new(BlockHashQuery)
			return consumeMessage(num, typ, b, m.GetBlockHash)
		case 8:
			m.InsertBalance = new(InsertBalance)
			return consumeMessage(num, typ, b, m.InsertBalance)
		case 9:
			m.InsertNonce = new(InsertNonce)
			return consumeMessage(num, typ, b, m.InsertNonce)
		case 10:
			m.InsertCode = new(InsertCode)
			return consumeMessage(num, typ, b, m.InsertCode)
		case 11:
			m.InsertStorage = new(InsertStorage)
			return consumeMessage(num, typ, b, m.InsertStorage)
		case 12:
			m.RemoveStorageCell = new(StorageQuery)
			return consumeMessage(num, typ, b, m.RemoveStorageCell)
		case 13:
			m.RemoveAccount = new(AddressQuery)
			return consumeMessage(num, typ, b, m.RemoveAccount)
		case 14:
			m.WriteBatch = new(WriteBatch)
			return consumeMessage(num, typ, b, m.WriteBatch)
		case 15:
			m.ComplianceBridge = new(ComplianceBridgeQuery)
			return consumeMessage(num, typ, b, m.ComplianceBridge)
		}
		return 0, nil
	})
	if err != nil {
		return err
	}
	if n := len(m.fields()); n != 1 {
		return fmt.Errorf("%w: query sets %d oneof members", ErrBadPayload, n)
	}
	return nil
}

// GetAccountResponse is the reply to getAccount.
type GetAccountResponse struct {
	Balance *uint256.Int // 1
	Nonce   uint64       // 2
}

func (m *GetAccountResponse) Marshal() []byte {
	var b []byte
	b = appendU256(b, 1, m.Balance)
	b = appendUint64(b, 2, m.Nonce)
	return b
}

func (m *GetAccountResponse) Unmarshal(b []byte) error {
	*m = GetAccountResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeU256(num, typ, b, &m.Balance)
		case 2:
			return consumeUint64(num, typ, b, &m.Nonce)
		}
		return 0, nil
	})
}

// ContainsKeyResponse is the reply to containsKey.
type ContainsKeyResponse struct {
	Contains bool // 1
}

func (m *ContainsKeyResponse) Marshal() []byte { return appendBool(nil, 1, m.Contains) }

func (m *ContainsKeyResponse) Unmarshal(b []byte) error {
	*m = ContainsKeyResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeBool(num, typ, b, &m.Contains)
		}
		return 0, nil
	})
}

// BytesResponse is the reply to queries returning a single value: storage
// cells, code, code hashes, block hashes and compliance bridge output.
type BytesResponse struct {
	Value []byte // 1
}

func (m *BytesResponse) Marshal() []byte { return appendBytes(nil, 1, m.Value) }

func (m *BytesResponse) Unmarshal(b []byte) error {
	*m = BytesResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeBytes(num, typ, b, &m.Value)
		}
		return 0, nil
	})
}

// CodeSizeResponse is the reply to getAccountCodeSize.
type CodeSizeResponse struct {
	Size uint64 // 1
}

func (m *CodeSizeResponse) Marshal() []byte { return appendUint64(nil, 1, m.Size) }

func (m *CodeSizeResponse) Unmarshal(b []byte) error {
	*m = CodeSizeResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeUint64(num, typ, b, &m.Size)
		}
		return 0, nil
	})
}
