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

package vm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Environment exposes the block and transaction context to the machine.
type Environment interface {
	ChainID() *uint256.Int
	BlockNumber() uint64
	BlockTimestamp() uint64
	BlockCoinbase() common.Address
	BlockDifficulty() *uint256.Int
	// BlockRandomness is nil when the chain does not provide one.
	BlockRandomness() *common.Hash
	BlockGasLimit() uint64
	BlockBaseFee() *uint256.Int
	BlockHash(number uint64) common.Hash
	GasPrice() *uint256.Int
	Origin() common.Address
}

// Backend is the state a machine reads and mutates. Reads see every change
// made by enclosing frames that have not been reverted.
type Backend interface {
	Environment

	Exists(addr common.Address) bool
	// Empty reports whether the account has no code, a zero nonce and a
	// zero balance.
	Empty(addr common.Address) bool
	Balance(addr common.Address) *uint256.Int
	Nonce(addr common.Address) uint64
	Code(addr common.Address) []byte
	CodeSize(addr common.Address) uint64
	CodeHash(addr common.Address) common.Hash
	Storage(addr common.Address, key common.Hash) common.Hash
	// OriginalStorage returns the value a cell had when the transaction
	// started.
	OriginalStorage(addr common.Address, key common.Hash) common.Hash
	TransientStorage(addr common.Address, key common.Hash) common.Hash

	SetStorage(addr common.Address, key, value common.Hash)
	SetTransientStorage(addr common.Address, key, value common.Hash)
	Log(addr common.Address, topics []common.Hash, data []byte)
	MarkDelete(addr common.Address)
	// CreatedInTx reports whether addr was deployed by the current
	// transaction.
	CreatedInTx(addr common.Address) bool
	Transfer(from, to common.Address, value *uint256.Int) error

	// IsCold reports whether the address, or the slot when it is non-nil,
	// has not been accessed yet in this transaction.
	IsCold(addr common.Address, slot *common.Hash) bool
	MarkHot(addr common.Address, slot *common.Hash)

	AddRefund(gas uint64)
	SubRefund(gas uint64)
}
