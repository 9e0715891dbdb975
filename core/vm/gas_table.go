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
	gmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/params"
)

type (
	executionFunc func(pc *uint64, m *Machine, b Backend) ([]byte, error)
	gasFunc       func(m *Machine, b Backend, memorySize uint64) (uint64, error)
	// memorySizeFunc returns the required size, and whether the operation overflowed a uint64
	memorySizeFunc func(*Stack) (size uint64, overflow bool)
)

// gasSLoad charges the cold or warm read cost and warms the slot.
func gasSLoad(m *Machine, b Backend, memorySize uint64) (uint64, error) {
	slot := common.Hash(m.stack.peek().Bytes32())
	if b.IsCold(m.address, &slot) {
		b.MarkHot(m.address, &slot)
		return params.ColdSloadCostEIP2929, nil
	}
	return params.WarmStorageReadCostEIP2929, nil
}

// gasSStore implements the net gas metering of EIP-2200 with the access
// costs of EIP-2929 and the reduced clearing refund of EIP-3529.
func gasSStore(m *Machine, b Backend, memorySize uint64) (uint64, error) {
	// If we fail the minimum gas availability invariant, fail (0)
	if m.gas <= params.SstoreSentryGasEIP2200 {
		return 0, ErrOutOfGas
	}
	var (
		y, x    = m.stack.Back(1), m.stack.peek()
		slot    = common.Hash(x.Bytes32())
		cost    = uint64(0)
		refund  = params.SstoreClearsScheduleRefundEIP3529
		resetGs = params.SstoreResetGasEIP2200 - params.ColdSloadCostEIP2929
	)
	// Check slot presence in the access list
	if b.IsCold(m.address, &slot) {
		cost = params.ColdSloadCostEIP2929
		b.MarkHot(m.address, &slot)
	}
	value := common.Hash(y.Bytes32())
	current := b.Storage(m.address, slot)

	if current == value { // noop (1)
		return cost + params.WarmStorageReadCostEIP2929, nil
	}
	original := b.OriginalStorage(m.address, slot)
	if original == current {
		if original == (common.Hash{}) { // create slot (2.1.1)
			return cost + params.SstoreSetGasEIP2200, nil
		}
		if value == (common.Hash{}) { // delete slot (2.1.2b)
			b.AddRefund(refund)
		}
		return cost + resetGs, nil // write existing slot (2.1.2)
	}
	if original != (common.Hash{}) {
		if current == (common.Hash{}) { // recreate slot (2.2.1.1)
			b.SubRefund(refund)
		} else if value == (common.Hash{}) { // delete slot (2.2.1.2)
			b.AddRefund(refund)
		}
	}
	if original == value {
		if original == (common.Hash{}) { // reset to original inexistent slot (2.2.2.1)
			b.AddRefund(params.SstoreSetGasEIP2200 - params.WarmStorageReadCostEIP2929)
		} else { // reset to original existing slot (2.2.2.2)
			b.AddRefund(resetGs - params.WarmStorageReadCostEIP2929)
		}
	}
	return cost + params.WarmStorageReadCostEIP2929, nil // dirty update (2.2)
}

// gasAccountCheck charges the cold surcharge for BALANCE, EXTCODESIZE and
// EXTCODEHASH. The warm cost is the constant part of the operation.
func gasAccountCheck(m *Machine, b Backend, memorySize uint64) (uint64, error) {
	addr := common.Address(m.stack.peek().Bytes20())
	if b.IsCold(addr, nil) {
		b.MarkHot(addr, nil)
		return params.ColdAccountAccessCostEIP2929 - params.WarmStorageReadCostEIP2929, nil
	}
	return 0, nil
}

func gasExtCodeCopy(m *Machine, b Backend, memorySize uint64) (uint64, error) {
	gas, err := memoryCopierGas(3)(m, b, memorySize)
	if err != nil {
		return 0, err
	}
	addr := common.Address(m.stack.peek().Bytes20())
	if b.IsCold(addr, nil) {
		b.MarkHot(addr, nil)
		return gas + params.ColdAccountAccessCostEIP2929 - params.WarmStorageReadCostEIP2929, nil
	}
	return gas, nil
}

// accessCost charges the cold surcharge of the call target.
func accessCost(b Backend, addr common.Address) uint64 {
	if b.IsCold(addr, nil) {
		b.MarkHot(addr, nil)
		return params.ColdAccountAccessCostEIP2929 - params.WarmStorageReadCostEIP2929
	}
	return 0
}

func gasCall(m *Machine, b Backend, memorySize uint64) (uint64, error) {
	var (
		gas            = accessCost(b, common.Address(m.stack.Back(1).Bytes20()))
		transfersValue = !m.stack.Back(2).IsZero()
		address        = common.Address(m.stack.Back(1).Bytes20())
	)
	if transfersValue && b.Empty(address) {
		gas += params.CallNewAccountGas
	}
	if transfersValue {
		gas += params.CallValueTransferGas
	}
	return finishCallGas(m, memorySize, gas)
}

func gasCallCode(m *Machine, b Backend, memorySize uint64) (uint64, error) {
	gas := accessCost(b, common.Address(m.stack.Back(1).Bytes20()))
	if !m.stack.Back(2).IsZero() {
		gas += params.CallValueTransferGas
	}
	return finishCallGas(m, memorySize, gas)
}

func gasDelegateOrStaticCall(m *Machine, b Backend, memorySize uint64) (uint64, error) {
	gas := accessCost(b, common.Address(m.stack.Back(1).Bytes20()))
	return finishCallGas(m, memorySize, gas)
}

// finishCallGas adds memory expansion to the base cost and reserves the gas
// forwarded to the callee.
func finishCallGas(m *Machine, memorySize, gas uint64) (uint64, error) {
	memoryGas, err := memoryGasCost(m.memory, memorySize)
	if err != nil {
		return 0, err
	}
	var overflow bool
	if gas, overflow = gmath.SafeAdd(gas, memoryGas); overflow {
		return 0, ErrGasUintOverflow
	}
	m.callGasTemp, err = callGas(m.gas, gas, m.stack.Back(0))
	if err != nil {
		return 0, err
	}
	if gas, overflow = gmath.SafeAdd(gas, m.callGasTemp); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

func gasSelfdestruct(m *Machine, b Backend, memorySize uint64) (uint64, error) {
	var (
		gas     uint64
		address = common.Address(m.stack.peek().Bytes20())
	)
	if b.IsCold(address, nil) {
		// If the caller cannot afford the cost, this change will be rolled back
		b.MarkHot(address, nil)
		gas = params.ColdAccountAccessCostEIP2929
	}
	// if empty and transfers value
	if b.Empty(address) && !b.Balance(m.address).IsZero() {
		gas += params.CreateBySelfdestructGas
	}
	return gas, nil
}
