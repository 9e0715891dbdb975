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
	"github.com/holiman/uint256"
	"google.golang.org/protobuf/encoding/protowire"
)

// Transaction types carried in TransactionParams.TxType.
const (
	TxTypeLegacy     = 0
	TxTypeAccessList = 1
	TxTypeDynamicFee = 2
)

// AccessListItem is one entry of an EIP-2930 access list.
type AccessListItem struct {
	Address      []byte   // 1
	StorageSlots [][]byte // 2
}

func (m *AccessListItem) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, m.Address)
	b = appendRepeatedBytes(b, 2, m.StorageSlots)
	return b
}

func (m *AccessListItem) Unmarshal(b []byte) error {
	*m = AccessListItem{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(num, typ, b, &m.Address)
		case 2:
			return consumeRepeatedBytes(num, typ, b, &m.StorageSlots)
		}
		return 0, nil
	})
}

// TransactionParams are the signed transaction fields plus execution flags.
type TransactionParams struct {
	From                 []byte            // 1
	To                   []byte            // 2, empty for create
	Data                 []byte            // 3
	GasLimit             uint64            // 4
	GasPrice             *uint256.Int      // 5
	MaxFeePerGas         *uint256.Int      // 6
	MaxPriorityFeePerGas *uint256.Int      // 7
	Value                *uint256.Int      // 8
	AccessList           []*AccessListItem // 9
	Nonce                uint64            // 10
	ChainID              uint64            // 11
	Commit               bool              // 12
	Signature            []byte            // 13, r || s || v
	TxType               uint32            // 14
	Unencrypted          bool              // 15
}

func (m *TransactionParams) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, m.From)
	b = appendBytes(b, 2, m.To)
	b = appendBytes(b, 3, m.Data)
	b = appendUint64(b, 4, m.GasLimit)
	b = appendU256(b, 5, m.GasPrice)
	b = appendU256(b, 6, m.MaxFeePerGas)
	b = appendU256(b, 7, m.MaxPriorityFeePerGas)
	b = appendU256(b, 8, m.Value)
	for _, item := range m.AccessList {
		b = appendMessage(b, 9, item)
	}
	b = appendUint64(b, 10, m.Nonce)
	b = appendUint64(b, 11, m.ChainID)
	b = appendBool(b, 12, m.Commit)
	b = appendBytes(b, 13, m.Signature)
	b = appendUint64(b, 14, uint64(m.TxType))
	b = appendBool(b, 15, m.Unencrypted)
	return b
}

func (m *TransactionParams) Unmarshal(b []byte) error {
	*m = TransactionParams{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(num, typ, b, &m.From)
		case 2:
			return consumeBytes(num, typ, b, &m.To)
		case 3:
			return consumeBytes(num, typ, b, &m.Data)
		case 4:
			return consumeUint64(num, typ, b, &m.GasLimit)
		case 5:
			return consumeU256(num, typ, b, &m.GasPrice)
		case 6:
			return consumeU256(num, typ, b, &m.MaxFeePerGas)
		case 7:
			return consumeU256(num, typ, b, &m.MaxPriorityFeePerGas)
		case 8:
			return consumeU256(num, typ, b, &m.Value)
		case 9:
			item := new(AccessListItem)
			n, err := consumeMessage(num, typ, b, item)
			if err == nil {
				m.AccessList = append(m.AccessList, item)
			}
			return n, err
		case 10:
			return consumeUint64(num, typ, b, &m.Nonce)
		case 11:
			return consumeUint64(num, typ, b, &m.ChainID)
		case 12:
			return consumeBool(num, typ, b, &m.Commit)
		case 13:
			return consumeBytes(num, typ, b, &m.Signature)
		case 14:
			return consumeUint32(num, typ, b, &m.TxType)
		case 15:
			return consumeBool(num, typ, b, &m.Unencrypted)
		}
		return 0, nil
	})
}

// TransactionContext describes the block the transaction executes in.
type TransactionContext struct {
	BlockCoinbase      []byte       // 1
	BlockNumber        uint64       // 2
	BlockBaseFeePerGas *uint256.Int // 3
	BlockTimestamp     uint64       // 4
	BlockGasLimit      uint64       // 5
	ChainID            uint64       // 6
}

func (m *TransactionContext) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, m.BlockCoinbase)
	b = appendUint64(b, 2, m.BlockNumber)
	b = appendU256(b, 3, m.BlockBaseFeePerGas)
	b = appendUint64(b, 4, m.BlockTimestamp)
	b = appendUint64(b, 5, m.BlockGasLimit)
	b = appendUint64(b, 6, m.ChainID)
	return b
}

func (m *TransactionContext) Unmarshal(b []byte) error {
	*m = TransactionContext{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(num, typ, b, &m.BlockCoinbase)
		case 2:
			return consumeUint64(num, typ, b, &m.BlockNumber)
		case 3:
			return consumeU256(num, typ, b, &m.BlockBaseFeePerGas)
		case 4:
			return consumeUint64(num, typ, b, &m.BlockTimestamp)
		case 5:
			return consumeUint64(num, typ, b, &m.BlockGasLimit)
		case 6:
			return consumeUint64(num, typ, b, &m.ChainID)
		}
		return 0, nil
	})
}

// TransactionRequest is the body of call, create and estimateGas requests.
type TransactionRequest struct {
	Params  *TransactionParams  // 1
	Context *TransactionContext // 2
}

func (m *TransactionRequest) Marshal() []byte {
	var b []byte
	if m.Params != nil {
		b = appendMessage(b, 1, m.Params)
	}
	if m.Context != nil {
		b = appendMessage(b, 2, m.Context)
	}
	return b
}

func (m *TransactionRequest) Unmarshal(b []byte) error {
	*m = TransactionRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			m.Params = new(TransactionParams)
			return consumeMessage(num, typ, b, m.Params)
		case 2:
			m.Context = new(TransactionContext)
			return consumeMessage(num, typ, b, m.Context)
		}
		return 0, nil
	})
}

// Log is an EVM log record.
type Log struct {
	Address []byte   // 1
	Topics  [][]byte // 2
	Data    []byte   // 3
}

func (m *Log) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, m.Address)
	b = appendRepeatedBytes(b, 2, m.Topics)
	b = appendBytes(b, 3, m.Data)
	return b
}

func (m *Log) Unmarshal(b []byte) error {
	*m = Log{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(num, typ, b, &m.Address)
		case 2:
			return consumeRepeatedBytes(num, typ, b, &m.Topics)
		case 3:
			return consumeBytes(num, typ, b, &m.Data)
		}
		return 0, nil
	})
}

// TransactionResponse is the execution result returned to the host.
type TransactionResponse struct {
	Logs    []*Log // 1
	Data    []byte // 2
	GasUsed uint64 // 3
	VMError string // 4
}

func (m *TransactionResponse) Marshal() []byte {
	var b []byte
	for _, l := range m.Logs {
		b = appendMessage(b, 1, l)
	}
	b = appendBytes(b, 2, m.Data)
	b = appendUint64(b, 3, m.GasUsed)
	b = appendString(b, 4, m.VMError)
	return b
}

func (m *TransactionResponse) Unmarshal(b []byte) error {
	*m = TransactionResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			l := new(Log)
			n, err := consumeMessage(num, typ, b, l)
			if err == nil {
				m.Logs = append(m.Logs, l)
			}
			return n, err
		case 2:
			return consumeBytes(num, typ, b, &m.Data)
		case 3:
			return consumeUint64(num, typ, b, &m.GasUsed)
		case 4:
			return consumeString(num, typ, b, &m.VMError)
		}
		return 0, nil
	})
}
