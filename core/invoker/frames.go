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

package invoker

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/swisstronik/evm-enclave/core/backend"
	"github.com/swisstronik/evm-enclave/core/vm"
)

// execution resolves the traps raised by the frames of one transaction.
// Every frame runs inside its own substate so a failed frame can be
// discarded without touching its parent.
type execution struct {
	cfg         *vm.Config
	precompiles vm.Precompiles
	b           *backend.Backend
}

// run drives m until it exits, resolving each trap before resuming.
func (e *execution) run(m *vm.Machine) ([]byte, uint64, error) {
	for {
		switch t := m.Run(e.b).(type) {
		case *vm.Exit:
			return t.Data, t.GasLeft, t.Err
		case *vm.CallTrap:
			ret, gasLeft, err := e.call(t)
			m.ResumeCall(err, ret, gasLeft)
		case *vm.CreateTrap:
			addr, ret, gasLeft, err := e.create(t)
			m.ResumeCreate(err, addr, ret, gasLeft)
		}
		if err := e.b.Err(); err != nil {
			return nil, 0, &vm.ExitError{Kind: vm.ExitFatal, Err: err}
		}
	}
}

// call executes a message call, either against a precompile or the code
// stored at the code address.
func (e *execution) call(t *vm.CallTrap) ([]byte, uint64, error) {
	if t.Depth > e.cfg.CallStackLimit {
		return nil, t.Gas, vm.ErrDepth
	}
	if t.Transfer && e.b.Balance(t.Caller).Lt(t.Value) {
		return nil, t.Gas, vm.ErrInsufficientBalance
	}
	e.b.PushSubstate()
	if t.Transfer {
		if err := e.b.Transfer(t.Caller, t.Address, t.Value); err != nil {
			e.b.PopSubstate(backend.Revert)
			return nil, t.Gas, vm.ErrInsufficientBalance
		}
	}

	var (
		ret     []byte
		gasLeft uint64
		err     error
	)
	if p, ok := e.precompiles.Get(t.CodeAddress); ok {
		ctx := &vm.PrecompileContext{
			Caller:      t.Caller,
			Origin:      e.b.Origin(),
			BlockNumber: e.b.BlockNumber(),
			Timestamp:   e.b.BlockTimestamp(),
			ReadOnly:    t.ReadOnly,
			Bridge:      e.b,
		}
		ret, gasLeft, err = vm.RunPrecompiledContract(ctx, p, t.Input, t.Gas)
		if err == nil {
			if storeErr := e.b.Err(); storeErr != nil {
				err = &vm.ExitError{Kind: vm.ExitFatal, Err: storeErr}
			}
		}
	} else {
		m := vm.NewMachine(e.cfg, t.Caller, t.Address, t.Value, e.b.Code(t.CodeAddress), t.Input, t.Gas, t.ReadOnly, t.Depth)
		ret, gasLeft, err = e.run(m)
	}
	return e.exit(ret, gasLeft, err)
}

// create derives the address of a contract created from inside a frame and
// deploys it.
func (e *execution) create(t *vm.CreateTrap) (common.Address, []byte, uint64, error) {
	if t.Depth > e.cfg.CallStackLimit {
		return common.Address{}, nil, t.Gas, vm.ErrDepth
	}
	if e.b.Balance(t.Caller).Lt(t.Value) {
		return common.Address{}, nil, t.Gas, vm.ErrInsufficientBalance
	}
	nonce := e.b.Nonce(t.Caller)
	if err := e.b.IncNonce(t.Caller); err != nil {
		return common.Address{}, nil, t.Gas, err
	}
	var addr common.Address
	switch t.Scheme {
	case vm.Create2:
		addr = crypto.CreateAddress2(t.Caller, t.Salt, crypto.Keccak256(t.InitCode))
	default:
		addr = crypto.CreateAddress(t.Caller, nonce)
	}
	ret, gasLeft, err := e.deploy(t.Caller, addr, t.Value, t.InitCode, t.Gas, t.Depth)
	return addr, ret, gasLeft, err
}

// deploy runs init code for addr and stores the returned runtime code.
func (e *execution) deploy(caller, addr common.Address, value *uint256.Int, initCode []byte, gas uint64, depth int) ([]byte, uint64, error) {
	e.b.MarkHot(addr, nil)
	if e.b.Nonce(addr) != 0 || e.b.CodeSize(addr) != 0 {
		return nil, 0, vm.ErrContractAddressCollision
	}
	e.b.PushSubstate()
	e.b.MarkCreated(addr)
	if e.b.Exists(addr) {
		e.b.ResetStorage(addr)
	}
	e.b.SetNonce(addr, 1)
	if err := e.b.Transfer(caller, addr, value); err != nil {
		e.b.PopSubstate(backend.Revert)
		return nil, gas, vm.ErrInsufficientBalance
	}

	m := vm.NewMachine(e.cfg, caller, addr, value, initCode, nil, gas, false, depth)
	ret, gasLeft, err := e.run(m)
	if err == nil {
		gasLeft, err = e.storeCode(addr, ret, gasLeft)
	}
	return e.exit(ret, gasLeft, err)
}

// storeCode validates the runtime code returned by init code and charges
// for storing it.
func (e *execution) storeCode(addr common.Address, code []byte, gas uint64) (uint64, error) {
	if len(code) > e.cfg.MaxCodeSize {
		return 0, vm.ErrMaxCodeSizeExceeded
	}
	// EIP-3541
	if len(code) > 0 && code[0] == 0xEF {
		return 0, vm.ErrInvalidCode
	}
	cost := uint64(len(code)) * params.CreateDataGas
	if gas < cost {
		return 0, vm.ErrCodeStoreOutOfGas
	}
	e.b.SetCode(addr, code)
	return gas - cost, nil
}

// exit pops the frame substate according to the outcome. A revert keeps
// the unused gas, every other failure consumes it.
func (e *execution) exit(ret []byte, gasLeft uint64, err error) ([]byte, uint64, error) {
	switch {
	case err == nil:
		e.b.PopSubstate(backend.Commit)
		return ret, gasLeft, nil
	case vm.Classify(err) == vm.ExitRevert:
		e.b.PopSubstate(backend.Revert)
		return ret, gasLeft, err
	default:
		e.b.PopSubstate(backend.Revert)
		return nil, 0, err
	}
}
