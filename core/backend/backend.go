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

// Package backend implements the overlayed EVM state: a stack of substates
// over the host chain store, collapsed into a changeset at the end of a
// transaction.
package backend

import (
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/swisstronik/evm-enclave/core/host"
	"github.com/swisstronik/evm-enclave/core/vm"
)

var (
	// ErrOutOfFund is returned when a withdrawal exceeds the balance.
	ErrOutOfFund = errors.New("out of fund")

	// ErrNoSubstate is returned when popping the root frame.
	ErrNoSubstate = errors.New("no substate to pop")
)

// Vicinity is the block and transaction context a backend executes in.
type Vicinity struct {
	ChainID        *uint256.Int
	BlockNumber    uint64
	BlockTimestamp uint64
	BlockCoinbase  common.Address
	BlockGasLimit  uint64
	BlockBaseFee   *uint256.Int
	GasPrice       *uint256.Int
	Origin         common.Address
}

type accessKey struct {
	addr    common.Address
	slot    common.Hash
	hasSlot bool
}

type account struct {
	balance *uint256.Int
	nonce   uint64
}

// Backend is the overlayed EVM backend. It is not safe for concurrent use;
// one backend serves exactly one transaction.
type Backend struct {
	vicinity Vicinity
	store    host.ChainStore
	substate *substate
	depth    int

	// accessed survives reverts.
	accessed map[accessKey]struct{}

	// read-through caches of the chain store
	accounts  map[common.Address]account
	codes     map[common.Address][]byte
	storage   map[storageKey]common.Hash
	blockHash map[uint64]common.Hash

	err error
}

// New returns a backend reading through to store.
func New(vicinity Vicinity, store host.ChainStore) *Backend {
	if vicinity.ChainID == nil {
		vicinity.ChainID = new(uint256.Int)
	}
	if vicinity.BlockBaseFee == nil {
		vicinity.BlockBaseFee = new(uint256.Int)
	}
	if vicinity.GasPrice == nil {
		vicinity.GasPrice = new(uint256.Int)
	}
	return &Backend{
		vicinity:  vicinity,
		store:     store,
		substate:  newSubstate(nil),
		accessed:  make(map[accessKey]struct{}),
		accounts:  make(map[common.Address]account),
		codes:     make(map[common.Address][]byte),
		storage:   make(map[storageKey]common.Hash),
		blockHash: make(map[uint64]common.Hash),
	}
}

// Err returns the first chain store failure. Once set, every read returns
// zero values and the transaction must be aborted.
func (b *Backend) Err() error {
	return b.err
}

func (b *Backend) fail(op string, err error) {
	if b.err == nil {
		log.Warn("Chain store read failed", "op", op, "err", err)
		b.err = fmt.Errorf("failed to %s: %w", op, err)
	}
}

// Depth returns the number of substates pushed on top of the root frame.
func (b *Backend) Depth() int { return b.depth }

// PushSubstate links a fresh empty frame as the new top.
func (b *Backend) PushSubstate() {
	b.substate = newSubstate(b.substate)
	b.depth++
}

// PopSubstate removes the top frame, folding it into its parent when the
// strategy is Commit.
func (b *Backend) PopSubstate(strategy MergeStrategy) error {
	top := b.substate
	if top.parent == nil {
		return ErrNoSubstate
	}
	b.substate = top.parent
	b.depth--
	if strategy == Commit {
		top.commitInto(b.substate)
	}
	return nil
}

// Environment

func (b *Backend) ChainID() *uint256.Int         { return b.vicinity.ChainID }
func (b *Backend) BlockNumber() uint64           { return b.vicinity.BlockNumber }
func (b *Backend) BlockTimestamp() uint64        { return b.vicinity.BlockTimestamp }
func (b *Backend) BlockCoinbase() common.Address { return b.vicinity.BlockCoinbase }
func (b *Backend) BlockDifficulty() *uint256.Int { return new(uint256.Int) }
func (b *Backend) BlockRandomness() *common.Hash { return nil }
func (b *Backend) BlockGasLimit() uint64         { return b.vicinity.BlockGasLimit }
func (b *Backend) BlockBaseFee() *uint256.Int    { return b.vicinity.BlockBaseFee }
func (b *Backend) GasPrice() *uint256.Int        { return b.vicinity.GasPrice }
func (b *Backend) Origin() common.Address        { return b.vicinity.Origin }

func (b *Backend) BlockHash(number uint64) common.Hash {
	if hash, ok := b.blockHash[number]; ok {
		return hash
	}
	hash, err := b.store.BlockHash(number)
	if err != nil {
		b.fail("read block hash", err)
		return common.Hash{}
	}
	b.blockHash[number] = hash
	return hash
}

// Base state

func (b *Backend) chainAccount(addr common.Address) account {
	if acc, ok := b.accounts[addr]; ok {
		return acc
	}
	balance, nonce, err := b.store.Account(addr)
	if err != nil {
		b.fail("read account", err)
		return account{balance: new(uint256.Int)}
	}
	acc := account{balance: balance, nonce: nonce}
	b.accounts[addr] = acc
	return acc
}

func (b *Backend) chainCode(addr common.Address) []byte {
	if code, ok := b.codes[addr]; ok {
		return code
	}
	code, err := b.store.Code(addr)
	if err != nil {
		b.fail("read code", err)
		return nil
	}
	b.codes[addr] = code
	return code
}

func (b *Backend) Exists(addr common.Address) bool {
	if b.substate.known(addr) {
		return true
	}
	ok, err := b.store.Contains(addr)
	if err != nil {
		b.fail("check account", err)
		return false
	}
	return ok
}

func (b *Backend) Empty(addr common.Address) bool {
	return b.Balance(addr).IsZero() && b.Nonce(addr) == 0 && b.CodeSize(addr) == 0
}

func (b *Backend) Balance(addr common.Address) *uint256.Int {
	if bal, ok := b.substate.balance(addr); ok {
		return bal
	}
	return b.chainAccount(addr).balance
}

func (b *Backend) Nonce(addr common.Address) uint64 {
	if nonce, ok := b.substate.nonce(addr); ok {
		return nonce
	}
	return b.chainAccount(addr).nonce
}

func (b *Backend) Code(addr common.Address) []byte {
	if code, ok := b.substate.code(addr); ok {
		return code
	}
	return b.chainCode(addr)
}

func (b *Backend) CodeSize(addr common.Address) uint64 {
	if code, ok := b.substate.code(addr); ok {
		return uint64(len(code))
	}
	if code, ok := b.codes[addr]; ok {
		return uint64(len(code))
	}
	size, err := b.store.CodeSize(addr)
	if err != nil {
		b.fail("read code size", err)
		return 0
	}
	return size
}

func (b *Backend) CodeHash(addr common.Address) common.Hash {
	if code, ok := b.substate.code(addr); ok {
		return crypto.Keccak256Hash(code)
	}
	hash, err := b.store.CodeHash(addr)
	if err != nil {
		b.fail("read code hash", err)
		return common.Hash{}
	}
	return hash
}

func (b *Backend) Storage(addr common.Address, slot common.Hash) common.Hash {
	if value, ok := b.substate.storage(addr, slot); ok {
		return value
	}
	return b.OriginalStorage(addr, slot)
}

// OriginalStorage returns the committed chain value of a cell, ignoring
// every frame.
func (b *Backend) OriginalStorage(addr common.Address, slot common.Hash) common.Hash {
	key := storageKey{addr, slot}
	if value, ok := b.storage[key]; ok {
		return value
	}
	value, _, err := b.store.Storage(addr, slot)
	if err != nil {
		b.fail("read storage", err)
		return common.Hash{}
	}
	b.storage[key] = value
	return value
}

func (b *Backend) TransientStorage(addr common.Address, slot common.Hash) common.Hash {
	return b.substate.transientStorage(addr, slot)
}

// Deleted reports whether the account was self-destructed in this
// transaction.
func (b *Backend) Deleted(addr common.Address) bool {
	return b.substate.deleted(addr)
}

// Runtime mutations

func (b *Backend) SetStorage(addr common.Address, slot, value common.Hash) {
	b.substate.storages[storageKey{addr, slot}] = value
}

func (b *Backend) SetTransientStorage(addr common.Address, slot, value common.Hash) {
	b.substate.transient[storageKey{addr, slot}] = value
}

func (b *Backend) Log(addr common.Address, topics []common.Hash, data []byte) {
	b.substate.logs = append(b.substate.logs, &types.Log{
		Address:     addr,
		Topics:      topics,
		Data:        data,
		BlockNumber: b.vicinity.BlockNumber,
	})
}

func (b *Backend) MarkDelete(addr common.Address) {
	b.substate.deletes[addr] = struct{}{}
}

// MarkCreated records that addr is being deployed by this transaction.
func (b *Backend) MarkCreated(addr common.Address) {
	b.substate.created[addr] = struct{}{}
}

// CreatedInTx reports whether addr was deployed earlier in this
// transaction and that deployment has not been reverted.
func (b *Backend) CreatedInTx(addr common.Address) bool {
	return b.substate.createdInTx(addr)
}

// ResetStorage makes every cell of addr read as zero from now on.
func (b *Backend) ResetStorage(addr common.Address) {
	top := b.substate
	for key := range top.storages {
		if key.addr == addr {
			delete(top.storages, key)
		}
	}
	top.resetStorage[addr] = struct{}{}
}

func (b *Backend) SetCode(addr common.Address, code []byte) {
	b.substate.codes[addr] = code
}

func (b *Backend) ResetBalance(addr common.Address) {
	b.substate.balances[addr] = new(uint256.Int)
}

// Deposit credits value to addr.
func (b *Backend) Deposit(addr common.Address, value *uint256.Int) {
	b.substate.balances[addr] = new(uint256.Int).Add(b.Balance(addr), value)
}

// Withdrawal debits value from addr.
func (b *Backend) Withdrawal(addr common.Address, value *uint256.Int) error {
	balance := b.Balance(addr)
	if balance.Lt(value) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrOutOfFund, addr, balance, value)
	}
	b.substate.balances[addr] = new(uint256.Int).Sub(balance, value)
	return nil
}

// Transfer moves value between two accounts. A failed withdrawal leaves
// both balances untouched.
func (b *Backend) Transfer(from, to common.Address, value *uint256.Int) error {
	if err := b.Withdrawal(from, value); err != nil {
		return err
	}
	b.Deposit(to, value)
	return nil
}

// IncNonce bumps the nonce of addr.
func (b *Backend) IncNonce(addr common.Address) error {
	nonce := b.Nonce(addr)
	if nonce == math.MaxUint64 {
		return vm.ErrNonceUintOverflow
	}
	b.substate.nonces[addr] = nonce + 1
	return nil
}

// SetNonce overwrites the nonce of addr.
func (b *Backend) SetNonce(addr common.Address, nonce uint64) {
	b.substate.nonces[addr] = nonce
}

func accessKeyOf(addr common.Address, slot *common.Hash) accessKey {
	if slot == nil {
		return accessKey{addr: addr}
	}
	return accessKey{addr: addr, slot: *slot, hasSlot: true}
}

// IsCold reports whether the address, or the slot when given, has not been
// touched in this transaction.
func (b *Backend) IsCold(addr common.Address, slot *common.Hash) bool {
	_, ok := b.accessed[accessKeyOf(addr, slot)]
	return !ok
}

func (b *Backend) MarkHot(addr common.Address, slot *common.Hash) {
	b.accessed[accessKeyOf(addr, slot)] = struct{}{}
}

func (b *Backend) AddRefund(gas uint64) {
	b.substate.refund += int64(gas)
}

func (b *Backend) SubRefund(gas uint64) {
	b.substate.refund -= int64(gas)
}

// Refund returns the refund counter accumulated by the live frames.
func (b *Backend) Refund() uint64 {
	if total := b.substate.totalRefund(); total > 0 {
		return uint64(total)
	}
	return 0
}

// Logs returns the logs of the live frames in emission order.
func (b *Backend) Logs() []*types.Log {
	var chain []*substate
	for frame := b.substate; frame != nil; frame = frame.parent {
		chain = append(chain, frame)
	}
	var logs []*types.Log
	for i := len(chain) - 1; i >= 0; i-- {
		logs = append(logs, chain[i].logs...)
	}
	for i, l := range logs {
		l.Index = uint(i)
	}
	return logs
}

// ComplianceBridge forwards a compliance call to the chain store.
func (b *Backend) ComplianceBridge(caller common.Address, input []byte, readOnly bool) ([]byte, error) {
	return b.store.ComplianceBridge(caller, input, readOnly)
}

var _ vm.Backend = (*Backend)(nil)
