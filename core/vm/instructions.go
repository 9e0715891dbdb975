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
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

func opAdd(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.Add(&x, y)
	return nil, nil
}

func opSub(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.Sub(&x, y)
	return nil, nil
}

func opMul(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.Mul(&x, y)
	return nil, nil
}

func opDiv(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.Div(&x, y)
	return nil, nil
}

func opSdiv(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.SDiv(&x, y)
	return nil, nil
}

func opMod(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.Mod(&x, y)
	return nil, nil
}

func opSmod(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.SMod(&x, y)
	return nil, nil
}

func opExp(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	base, exponent := m.stack.pop(), m.stack.peek()
	exponent.Exp(&base, exponent)
	return nil, nil
}

func opSignExtend(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	back, num := m.stack.pop(), m.stack.peek()
	num.ExtendSign(num, &back)
	return nil, nil
}

func opNot(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x := m.stack.peek()
	x.Not(x)
	return nil, nil
}

func opLt(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Lt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opGt(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Gt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opSlt(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Slt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opSgt(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Sgt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opEq(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Eq(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opIszero(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x := m.stack.peek()
	if x.IsZero() {
		x.SetOne()
	} else {
		x.Clear()
	}
	return nil, nil
}

func opAnd(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.And(&x, y)
	return nil, nil
}

func opOr(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.Or(&x, y)
	return nil, nil
}

func opXor(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.Xor(&x, y)
	return nil, nil
}

func opByte(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	th, val := m.stack.pop(), m.stack.peek()
	val.Byte(&th)
	return nil, nil
}

func opAddmod(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y, z := m.stack.pop(), m.stack.pop(), m.stack.peek()
	if z.IsZero() {
		z.Clear()
	} else {
		z.AddMod(&x, &y, z)
	}
	return nil, nil
}

func opMulmod(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x, y, z := m.stack.pop(), m.stack.pop(), m.stack.peek()
	z.MulMod(&x, &y, z)
	return nil, nil
}

// opSHL implements Shift Left
// The SHL instruction (shift left) pops 2 values from the stack, first arg1 and then arg2,
// and pushes on the stack arg2 shifted to the left by arg1 number of bits.
func opSHL(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	// Note, second operand is left in the stack; accumulate result into it, and no need to push it afterwards
	shift, value := m.stack.pop(), m.stack.peek()
	if shift.LtUint64(256) {
		value.Lsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil, nil
}

// opSHR implements Logical Shift Right
// The SHR instruction (logical shift right) pops 2 values from the stack, first arg1 and then arg2,
// and pushes on the stack arg2 shifted to the right by arg1 number of bits with zero fill.
func opSHR(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	// Note, second operand is left in the stack; accumulate result into it, and no need to push it afterwards
	shift, value := m.stack.pop(), m.stack.peek()
	if shift.LtUint64(256) {
		value.Rsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil, nil
}

// opSAR implements Arithmetic Shift Right
// The SAR instruction (arithmetic shift right) pops 2 values from the stack, first arg1 and then arg2,
// and pushes on the stack arg2 shifted to the right by arg1 number of bits with sign extension.
func opSAR(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	shift, value := m.stack.pop(), m.stack.peek()
	if shift.GtUint64(255) {
		if value.Sign() >= 0 {
			value.Clear()
		} else {
			// Max negative shift: all bits set
			value.SetAllOne()
		}
		return nil, nil
	}
	n := uint(shift.Uint64())
	value.SRsh(value, n)
	return nil, nil
}

func opKeccak256(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	offset, size := m.stack.pop(), m.stack.peek()
	data := m.memory.GetPtr(int64(offset.Uint64()), int64(size.Uint64()))

	if m.hasher == nil {
		m.hasher = sha3.NewLegacyKeccak256().(keccakState)
	} else {
		m.hasher.Reset()
	}
	m.hasher.Write(data)
	m.hasher.Read(m.hasherBuf[:])

	size.SetBytes(m.hasherBuf[:])
	return nil, nil
}

func opAddress(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).SetBytes(m.address.Bytes()))
	return nil, nil
}

func opBalance(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	slot := m.stack.peek()
	address := common.Address(slot.Bytes20())
	slot.Set(b.Balance(address))
	return nil, nil
}

func opOrigin(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).SetBytes(b.Origin().Bytes()))
	return nil, nil
}

func opCaller(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).SetBytes(m.caller.Bytes()))
	return nil, nil
}

func opCallValue(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).Set(m.value))
	return nil, nil
}

func opCallDataLoad(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	x := m.stack.peek()
	if offset, overflow := x.Uint64WithOverflow(); !overflow {
		data := getData(m.input, offset, 32)
		x.SetBytes(data)
	} else {
		x.Clear()
	}
	return nil, nil
}

func opCallDataSize(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).SetUint64(uint64(len(m.input))))
	return nil, nil
}

func opCallDataCopy(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	var (
		memOffset  = m.stack.pop()
		dataOffset = m.stack.pop()
		length     = m.stack.pop()
	)
	dataOffset64, overflow := dataOffset.Uint64WithOverflow()
	if overflow {
		dataOffset64 = 0xffffffffffffffff
	}
	// These values are checked for overflow during gas cost calculation
	memOffset64 := memOffset.Uint64()
	length64 := length.Uint64()
	m.memory.Set(memOffset64, length64, getData(m.input, dataOffset64, length64))
	return nil, nil
}

func opReturnDataSize(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).SetUint64(uint64(len(m.returnData))))
	return nil, nil
}

func opReturnDataCopy(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	var (
		memOffset  = m.stack.pop()
		dataOffset = m.stack.pop()
		length     = m.stack.pop()
	)

	offset64, overflow := dataOffset.Uint64WithOverflow()
	if overflow {
		return nil, ErrReturnDataOutOfBounds
	}
	// we can reuse dataOffset now (aliasing it for clarity)
	var end = dataOffset
	end.Add(&dataOffset, &length)
	end64, overflow := end.Uint64WithOverflow()
	if overflow || uint64(len(m.returnData)) < end64 {
		return nil, ErrReturnDataOutOfBounds
	}
	m.memory.Set(memOffset.Uint64(), length.Uint64(), m.returnData[offset64:end64])
	return nil, nil
}

func opExtCodeSize(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	slot := m.stack.peek()
	slot.SetUint64(b.CodeSize(slot.Bytes20()))
	return nil, nil
}

func opCodeSize(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).SetUint64(uint64(len(m.code))))
	return nil, nil
}

func opCodeCopy(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	var (
		memOffset  = m.stack.pop()
		codeOffset = m.stack.pop()
		length     = m.stack.pop()
	)
	uint64CodeOffset, overflow := codeOffset.Uint64WithOverflow()
	if overflow {
		uint64CodeOffset = 0xffffffffffffffff
	}
	codeCopy := getData(m.code, uint64CodeOffset, length.Uint64())
	m.memory.Set(memOffset.Uint64(), length.Uint64(), codeCopy)
	return nil, nil
}

func opExtCodeCopy(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	var (
		a          = m.stack.pop()
		memOffset  = m.stack.pop()
		codeOffset = m.stack.pop()
		length     = m.stack.pop()
	)
	uint64CodeOffset, overflow := codeOffset.Uint64WithOverflow()
	if overflow {
		uint64CodeOffset = 0xffffffffffffffff
	}
	addr := common.Address(a.Bytes20())
	codeCopy := getData(b.Code(addr), uint64CodeOffset, length.Uint64())
	m.memory.Set(memOffset.Uint64(), length.Uint64(), codeCopy)
	return nil, nil
}

// opExtCodeHash returns the code hash of a specified account. Accounts that
// do not exist or are empty yield zero.
func opExtCodeHash(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	slot := m.stack.peek()
	address := common.Address(slot.Bytes20())
	if b.Empty(address) {
		slot.Clear()
	} else {
		slot.SetBytes(b.CodeHash(address).Bytes())
	}
	return nil, nil
}

func opGasprice(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).Set(b.GasPrice()))
	return nil, nil
}

func opBlockhash(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	num := m.stack.peek()
	num64, overflow := num.Uint64WithOverflow()
	if overflow {
		num.Clear()
		return nil, nil
	}
	var upper, lower uint64
	upper = b.BlockNumber()
	if upper < 257 {
		lower = 0
	} else {
		lower = upper - 256
	}
	if num64 >= lower && num64 < upper {
		num.SetBytes(b.BlockHash(num64).Bytes())
	} else {
		num.Clear()
	}
	return nil, nil
}

func opCoinbase(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).SetBytes(b.BlockCoinbase().Bytes()))
	return nil, nil
}

func opTimestamp(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).SetUint64(b.BlockTimestamp()))
	return nil, nil
}

func opNumber(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).SetUint64(b.BlockNumber()))
	return nil, nil
}

// opDifficulty pushes PREVRANDAO when the chain provides one and the block
// difficulty otherwise.
func opDifficulty(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	if random := b.BlockRandomness(); random != nil {
		m.stack.push(new(uint256.Int).SetBytes(random.Bytes()))
		return nil, nil
	}
	m.stack.push(new(uint256.Int).Set(b.BlockDifficulty()))
	return nil, nil
}

func opGasLimit(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).SetUint64(b.BlockGasLimit()))
	return nil, nil
}

func opChainID(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).Set(b.ChainID()))
	return nil, nil
}

func opSelfBalance(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).Set(b.Balance(m.address)))
	return nil, nil
}

func opBaseFee(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).Set(b.BlockBaseFee()))
	return nil, nil
}

// opBlobHash always yields zero: transactions never carry blobs here.
func opBlobHash(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.peek().Clear()
	return nil, nil
}

func opBlobBaseFee(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int))
	return nil, nil
}

func opPop(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.pop()
	return nil, nil
}

func opMload(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	v := m.stack.peek()
	offset := int64(v.Uint64())
	v.SetBytes(m.memory.GetPtr(offset, 32))
	return nil, nil
}

func opMstore(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	mStart, val := m.stack.pop(), m.stack.pop()
	m.memory.Set32(mStart.Uint64(), &val)
	return nil, nil
}

func opMstore8(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	off, val := m.stack.pop(), m.stack.pop()
	m.memory.store[off.Uint64()] = byte(val.Uint64())
	return nil, nil
}

func opSload(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	loc := m.stack.peek()
	hash := common.Hash(loc.Bytes32())
	val := b.Storage(m.address, hash)
	loc.SetBytes(val.Bytes())
	return nil, nil
}

func opSstore(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	if m.readOnly {
		return nil, ErrWriteProtection
	}
	loc, val := m.stack.pop(), m.stack.pop()
	b.SetStorage(m.address, loc.Bytes32(), val.Bytes32())
	return nil, nil
}

func opJump(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	pos := m.stack.pop()
	if !m.validJumpdest(&pos) {
		return nil, ErrInvalidJump
	}
	*pc = pos.Uint64() - 1 // pc will be increased by the interpreter loop
	return nil, nil
}

func opJumpi(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	pos, cond := m.stack.pop(), m.stack.pop()
	if !cond.IsZero() {
		if !m.validJumpdest(&pos) {
			return nil, ErrInvalidJump
		}
		*pc = pos.Uint64() - 1 // pc will be increased by the interpreter loop
	}
	return nil, nil
}

func opJumpdest(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	return nil, nil
}

func opPc(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).SetUint64(*pc))
	return nil, nil
}

func opMsize(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).SetUint64(uint64(m.memory.Len())))
	return nil, nil
}

func opGas(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int).SetUint64(m.gas))
	return nil, nil
}

func opTload(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	loc := m.stack.peek()
	hash := common.Hash(loc.Bytes32())
	val := b.TransientStorage(m.address, hash)
	loc.SetBytes(val.Bytes())
	return nil, nil
}

func opTstore(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	if m.readOnly {
		return nil, ErrWriteProtection
	}
	loc, val := m.stack.pop(), m.stack.pop()
	b.SetTransientStorage(m.address, loc.Bytes32(), val.Bytes32())
	return nil, nil
}

func opMcopy(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	var (
		dst    = m.stack.pop()
		src    = m.stack.pop()
		length = m.stack.pop()
	)
	// These values are checked for overflow during memory expansion
	m.memory.Copy(dst.Uint64(), src.Uint64(), length.Uint64())
	return nil, nil
}

func opPush0(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	m.stack.push(new(uint256.Int))
	return nil, nil
}

func opCreate(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	if m.readOnly {
		return nil, ErrWriteProtection
	}
	var (
		value        = m.stack.pop()
		offset, size = m.stack.pop(), m.stack.pop()
		input        = m.memory.GetCopy(int64(offset.Uint64()), int64(size.Uint64()))
		gas          = m.gas
	)
	// Apply EIP150
	gas -= gas / 64
	m.gas -= gas

	m.pending = &CreateTrap{
		Scheme:   CreateLegacy,
		Caller:   m.address,
		Value:    &value,
		InitCode: input,
		Gas:      gas,
		Depth:    m.depth + 1,
	}
	return nil, errTrapToken
}

func opCreate2(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	if m.readOnly {
		return nil, ErrWriteProtection
	}
	var (
		endowment    = m.stack.pop()
		offset, size = m.stack.pop(), m.stack.pop()
		salt         = m.stack.pop()
		input        = m.memory.GetCopy(int64(offset.Uint64()), int64(size.Uint64()))
		gas          = m.gas
	)
	// Apply EIP150
	gas -= gas / 64
	m.gas -= gas

	m.pending = &CreateTrap{
		Scheme:   Create2,
		Caller:   m.address,
		Value:    &endowment,
		InitCode: input,
		Salt:     salt.Bytes32(),
		Gas:      gas,
		Depth:    m.depth + 1,
	}
	return nil, errTrapToken
}

func opCall(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	stack := m.stack
	// Pop gas. The actual gas in m.callGasTemp.
	stack.pop()
	gas := m.callGasTemp
	// Pop other call parameters.
	addr, value, inOffset, inSize, retOffset, retSize := stack.pop(), stack.pop(), stack.pop(), stack.pop(), stack.pop(), stack.pop()
	toAddr := common.Address(addr.Bytes20())
	// Get the arguments from the memory.
	args := m.memory.GetCopy(int64(inOffset.Uint64()), int64(inSize.Uint64()))

	if m.readOnly && !value.IsZero() {
		return nil, ErrWriteProtection
	}
	if !value.IsZero() {
		gas += params.CallStipend
	}
	m.suspendCall(&CallTrap{
		Scheme:      SchemeCall,
		Caller:      m.address,
		Address:     toAddr,
		CodeAddress: toAddr,
		Value:       &value,
		Transfer:    !value.IsZero(),
		Input:       args,
		Gas:         gas,
		ReadOnly:    m.readOnly,
		Depth:       m.depth + 1,
	}, retOffset.Uint64(), retSize.Uint64())
	return nil, errTrapToken
}

func opCallCode(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	stack := m.stack
	stack.pop()
	gas := m.callGasTemp
	addr, value, inOffset, inSize, retOffset, retSize := stack.pop(), stack.pop(), stack.pop(), stack.pop(), stack.pop(), stack.pop()
	toAddr := common.Address(addr.Bytes20())
	args := m.memory.GetCopy(int64(inOffset.Uint64()), int64(inSize.Uint64()))

	if !value.IsZero() {
		gas += params.CallStipend
	}
	// The value moves from the caller to itself, so only the balance check
	// of the transfer is observable.
	m.suspendCall(&CallTrap{
		Scheme:      SchemeCallCode,
		Caller:      m.address,
		Address:     m.address,
		CodeAddress: toAddr,
		Value:       &value,
		Transfer:    !value.IsZero(),
		Input:       args,
		Gas:         gas,
		ReadOnly:    m.readOnly,
		Depth:       m.depth + 1,
	}, retOffset.Uint64(), retSize.Uint64())
	return nil, errTrapToken
}

func opDelegateCall(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	stack := m.stack
	stack.pop()
	gas := m.callGasTemp
	addr, inOffset, inSize, retOffset, retSize := stack.pop(), stack.pop(), stack.pop(), stack.pop(), stack.pop()
	toAddr := common.Address(addr.Bytes20())
	args := m.memory.GetCopy(int64(inOffset.Uint64()), int64(inSize.Uint64()))

	m.suspendCall(&CallTrap{
		Scheme:      SchemeDelegateCall,
		Caller:      m.caller,
		Address:     m.address,
		CodeAddress: toAddr,
		Value:       new(uint256.Int).Set(m.value),
		Input:       args,
		Gas:         gas,
		ReadOnly:    m.readOnly,
		Depth:       m.depth + 1,
	}, retOffset.Uint64(), retSize.Uint64())
	return nil, errTrapToken
}

func opStaticCall(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	stack := m.stack
	stack.pop()
	gas := m.callGasTemp
	addr, inOffset, inSize, retOffset, retSize := stack.pop(), stack.pop(), stack.pop(), stack.pop(), stack.pop()
	toAddr := common.Address(addr.Bytes20())
	args := m.memory.GetCopy(int64(inOffset.Uint64()), int64(inSize.Uint64()))

	m.suspendCall(&CallTrap{
		Scheme:      SchemeStaticCall,
		Caller:      m.address,
		Address:     toAddr,
		CodeAddress: toAddr,
		Value:       new(uint256.Int),
		Input:       args,
		Gas:         gas,
		ReadOnly:    true,
		Depth:       m.depth + 1,
	}, retOffset.Uint64(), retSize.Uint64())
	return nil, errTrapToken
}

func opReturn(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	offset, size := m.stack.pop(), m.stack.pop()
	ret := m.memory.GetCopy(int64(offset.Uint64()), int64(size.Uint64()))
	return ret, errStopToken
}

func opRevert(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	offset, size := m.stack.pop(), m.stack.pop()
	ret := m.memory.GetCopy(int64(offset.Uint64()), int64(size.Uint64()))
	m.returnData = ret
	return ret, ErrExecutionReverted
}

func opUndefined(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	return nil, fmt.Errorf("%w: opcode %s at pc %d", ErrInvalidOpCode, OpCode(m.code[*pc]), *pc)
}

func opStop(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	return nil, errStopToken
}

// opSelfdestruct moves the balance to the beneficiary. Following EIP-6780
// the account is only marked for deletion when it was created in the same
// transaction.
func opSelfdestruct(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	if m.readOnly {
		return nil, ErrWriteProtection
	}
	bv := m.stack.pop()
	beneficiary := common.Address(bv.Bytes20())
	balance := new(uint256.Int).Set(b.Balance(m.address))
	if err := b.Transfer(m.address, beneficiary, balance); err != nil {
		return nil, err
	}
	if b.CreatedInTx(m.address) {
		b.MarkDelete(m.address)
	}
	return nil, errStopToken
}

// following functions are used by the instruction jump table

// make log instruction function
func makeLog(size int) executionFunc {
	return func(pc *uint64, m *Machine, b Backend) ([]byte, error) {
		if m.readOnly {
			return nil, ErrWriteProtection
		}
		topics := make([]common.Hash, size)
		stack := m.stack
		mStart, mSize := stack.pop(), stack.pop()
		for i := 0; i < size; i++ {
			addr := stack.pop()
			topics[i] = addr.Bytes32()
		}

		d := m.memory.GetCopy(int64(mStart.Uint64()), int64(mSize.Uint64()))
		b.Log(m.address, topics, d)
		return nil, nil
	}
}

// opPush1 is a specialized version of pushN
func opPush1(pc *uint64, m *Machine, b Backend) ([]byte, error) {
	var (
		codeLen = uint64(len(m.code))
		integer = new(uint256.Int)
	)
	*pc += 1
	if *pc < codeLen {
		m.stack.push(integer.SetUint64(uint64(m.code[*pc])))
	} else {
		m.stack.push(integer.Clear())
	}
	return nil, nil
}

// make push instruction function
func makePush(size uint64, pushByteSize int) executionFunc {
	return func(pc *uint64, m *Machine, b Backend) ([]byte, error) {
		codeLen := len(m.code)

		startMin := codeLen
		if int(*pc+1) < startMin {
			startMin = int(*pc + 1)
		}

		endMin := codeLen
		if startMin+pushByteSize < endMin {
			endMin = startMin + pushByteSize
		}

		integer := new(uint256.Int)
		m.stack.push(integer.SetBytes(common.RightPadBytes(
			m.code[startMin:endMin], pushByteSize)))

		*pc += size
		return nil, nil
	}
}

// make dup instruction function
func makeDup(size int64) executionFunc {
	return func(pc *uint64, m *Machine, b Backend) ([]byte, error) {
		m.stack.dup(int(size))
		return nil, nil
	}
}

// make swap instruction function
func makeSwap(size int64) executionFunc {
	// switch n + 1 otherwise n would be swapped with n
	size++
	return func(pc *uint64, m *Machine, b Backend) ([]byte, error) {
		m.stack.swap(int(size))
		return nil, nil
	}
}
