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

// Package invoker drives a transaction through the trap-yielding machine,
// resolving sub-calls and sub-creates against the overlayed backend.
package invoker

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/swisstronik/evm-enclave/core/backend"
	"github.com/swisstronik/evm-enclave/core/vm"
)

// ErrIntrinsicGas is returned when the gas limit does not cover the
// intrinsic cost of the transaction.
var ErrIntrinsicGas = errors.New("intrinsic gas too low")

// Message is a transaction as seen by the invoker.
type Message struct {
	From common.Address
	// To is nil for contract creation.
	To         *common.Address
	Value      *uint256.Int
	Data       []byte
	GasLimit   uint64
	AccessList types.AccessList
	// Salt switches a creation to the CREATE2 address scheme.
	Salt *common.Hash
}

// Result is the outcome of a transaction.
type Result struct {
	// Err is nil on success and a *vm.ExitError otherwise.
	Err *vm.ExitError
	// ReturnData is the call output, the revert payload or, for creations,
	// the constructor output.
	ReturnData []byte
	// ContractAddress is set for creations.
	ContractAddress common.Address
	GasUsed         uint64
	Logs            []*types.Log
}

// Failed reports whether the transaction did not succeed.
func (r *Result) Failed() bool { return r.Err != nil }

// Invoker executes transactions with a fixed configuration.
type Invoker struct {
	cfg         *vm.Config
	precompiles vm.Precompiles
}

// New returns an invoker. A nil config selects the defaults.
func New(cfg *vm.Config) *Invoker {
	if cfg == nil {
		cfg = vm.DefaultConfig()
	}
	return &Invoker{
		cfg:         cfg,
		precompiles: vm.NewPrecompiles(cfg.Pairing),
	}
}

// Config returns the machine configuration.
func (inv *Invoker) Config() *vm.Config { return inv.cfg }

// Transact runs msg against b. Execution failures are reported through
// Result.Err; an error is only returned when the transaction could not be
// executed at all, including chain store failures.
func (inv *Invoker) Transact(b *backend.Backend, msg *Message) (*Result, error) {
	start := time.Now()
	value := msg.Value
	if value == nil {
		value = new(uint256.Int)
	}
	isCreate := msg.To == nil

	var slots int
	for _, tuple := range msg.AccessList {
		slots += len(tuple.StorageKeys)
	}
	intrinsic, err := vm.IntrinsicGas(msg.Data, len(msg.AccessList), slots, isCreate)
	if err != nil {
		return nil, err
	}
	if msg.GasLimit < intrinsic {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, msg.GasLimit, intrinsic)
	}
	if isCreate && len(msg.Data) > inv.cfg.MaxInitCodeSize {
		return nil, fmt.Errorf("%w: code size %d limit %d", vm.ErrMaxInitCodeSizeExceeded, len(msg.Data), inv.cfg.MaxInitCodeSize)
	}

	// Increment the sender nonce and derive the target.
	nonce := b.Nonce(msg.From)
	if err := b.IncNonce(msg.From); err != nil {
		return nil, err
	}
	var target common.Address
	switch {
	case !isCreate:
		target = *msg.To
	case msg.Salt != nil:
		target = crypto.CreateAddress2(msg.From, *msg.Salt, crypto.Keccak256(msg.Data))
	default:
		target = crypto.CreateAddress(msg.From, nonce)
	}

	b.PushSubstate()
	inv.warmUp(b, msg, target)

	var (
		e = &execution{
			cfg:         inv.cfg,
			precompiles: inv.precompiles,
			b:           b,
		}
		gas = msg.GasLimit - intrinsic
		res = &Result{}

		ret     []byte
		gasLeft uint64
	)
	if isCreate {
		ret, gasLeft, err = e.deploy(msg.From, target, value, msg.Data, gas, 0)
		res.ContractAddress = target
	} else {
		ret, gasLeft, err = e.call(&vm.CallTrap{
			Scheme:      vm.SchemeCall,
			Caller:      msg.From,
			Address:     target,
			CodeAddress: target,
			Value:       value,
			Transfer:    !value.IsZero(),
			Input:       msg.Data,
			Gas:         gas,
		})
	}
	if storeErr := b.Err(); storeErr != nil {
		b.PopSubstate(backend.Discard)
		return nil, storeErr
	}
	if err == nil {
		if err := b.PopSubstate(backend.Commit); err != nil {
			return nil, err
		}
	} else {
		if err := b.PopSubstate(backend.Revert); err != nil {
			return nil, err
		}
		res.Err = vm.NewExitError(err)
	}
	res.ReturnData = ret

	gasUsed := msg.GasLimit - gasLeft
	// EIP-3529: refunds are capped to a fifth of the gas used.
	refund := b.Refund()
	if max := gasUsed / params.RefundQuotientEIP3529; refund > max {
		refund = max
	}
	res.GasUsed = gasUsed - refund
	res.Logs = b.Logs()

	log.Debug("Executed transaction", "from", msg.From, "to", msg.To, "create", isCreate,
		"gas", res.GasUsed, "failed", res.Failed(), "elapsed", common.PrettyDuration(time.Since(start)))
	return res, nil
}

// warmUp marks the addresses and slots that start the transaction warm.
func (inv *Invoker) warmUp(b *backend.Backend, msg *Message, target common.Address) {
	b.MarkHot(msg.From, nil)
	b.MarkHot(target, nil)
	if inv.cfg.WarmCoinbase {
		b.MarkHot(b.BlockCoinbase(), nil)
	}
	for _, addr := range inv.precompiles.Addresses() {
		b.MarkHot(addr, nil)
	}
	for _, tuple := range msg.AccessList {
		b.MarkHot(tuple.Address, nil)
		for _, key := range tuple.StorageKeys {
			b.MarkHot(tuple.Address, &key)
		}
	}
}
