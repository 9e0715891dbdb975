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
	"hash"

	"github.com/ethereum/go-ethereum/common"
	gmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
)

// Config holds the limits a machine and its invoker enforce.
type Config struct {
	CallStackLimit  int
	MaxCodeSize     int
	MaxInitCodeSize int
	Pairing         PairingSchedule
	// WarmCoinbase pre-warms the block coinbase (EIP-3651).
	WarmCoinbase bool
}

// DefaultConfig returns the mainnet limits.
func DefaultConfig() *Config {
	return &Config{
		CallStackLimit:  1024,
		MaxCodeSize:     24576,
		MaxInitCodeSize: 49152,
		Pairing:         PairingDefault,
		WarmCoinbase:    true,
	}
}

// keccakState wraps sha3.state. In addition to the usual hash methods, it also supports
// Read to get a variable amount of data from the hash state. Read is faster than Sum
// because it doesn't copy the internal state, but also modifies the internal state.
type keccakState interface {
	hash.Hash
	Read([]byte) (int, error)
}

// Trap is what Run hands back to its driver: either a sub-call or sub-create
// the driver must resolve, or the final Exit of the frame.
type Trap interface {
	trap()
}

// CallScheme selects the message call flavour.
type CallScheme uint8

const (
	SchemeCall CallScheme = iota
	SchemeCallCode
	SchemeDelegateCall
	SchemeStaticCall
)

func (s CallScheme) String() string {
	switch s {
	case SchemeCall:
		return "CALL"
	case SchemeCallCode:
		return "CALLCODE"
	case SchemeDelegateCall:
		return "DELEGATECALL"
	case SchemeStaticCall:
		return "STATICCALL"
	}
	return fmt.Sprintf("CallScheme(%d)", uint8(s))
}

// CallTrap suspends the machine on a message call.
type CallTrap struct {
	Scheme CallScheme
	// Caller is the msg.sender of the new frame.
	Caller common.Address
	// Address is the account whose storage and balance the new frame uses.
	Address common.Address
	// CodeAddress is the account whose code the new frame executes.
	CodeAddress common.Address
	Value       *uint256.Int
	// Transfer is set when Value moves from the current frame to Address.
	Transfer bool
	Input    []byte
	Gas      uint64
	ReadOnly bool
	Depth    int
}

func (*CallTrap) trap() {}

// CreateScheme selects how the new contract address is derived.
type CreateScheme uint8

const (
	CreateLegacy CreateScheme = iota
	Create2
)

// CreateTrap suspends the machine on a contract creation.
type CreateTrap struct {
	Scheme   CreateScheme
	Caller   common.Address
	Value    *uint256.Int
	InitCode []byte
	Salt     common.Hash
	Gas      uint64
	Depth    int
}

func (*CreateTrap) trap() {}

// Exit is the final outcome of a frame. Err is nil on success; on revert it
// wraps ErrExecutionReverted and Data carries the revert payload.
type Exit struct {
	Err     error
	Data    []byte
	GasLeft uint64
}

func (*Exit) trap() {}

// Kind classifies the exit.
func (e *Exit) Kind() ExitKind {
	return Classify(e.Err)
}

// Machine is a single EVM frame. It never recurses: calls and creates are
// surfaced to the driver as traps and resumed once resolved.
type Machine struct {
	address  common.Address
	caller   common.Address
	value    *uint256.Int
	code     []byte
	input    []byte
	gas      uint64
	readOnly bool
	depth    int

	cfg   *Config
	table *JumpTable

	pc         uint64
	stack      *Stack
	memory     *Memory
	returnData []byte
	jumpdests  bitvec

	pending   Trap
	retOffset uint64
	retSize   uint64

	// callGasTemp holds the gas available for the current call. This is needed because the
	// available gas is calculated in gasCall* according to the 63/64 rule and later
	// applied in opCall*.
	callGasTemp uint64

	hasher    keccakState
	hasherBuf common.Hash
}

// NewMachine prepares a frame executing code on behalf of address.
func NewMachine(cfg *Config, caller, address common.Address, value *uint256.Int, code, input []byte, gas uint64, readOnly bool, depth int) *Machine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if value == nil {
		value = new(uint256.Int)
	}
	return &Machine{
		address:  address,
		caller:   caller,
		value:    value,
		code:     code,
		input:    input,
		gas:      gas,
		readOnly: readOnly,
		depth:    depth,
		cfg:      cfg,
		table:    &cancunInstructionSet,
		stack:    newstack(),
		memory:   NewMemory(),
	}
}

func (m *Machine) Address() common.Address { return m.address }
func (m *Machine) Caller() common.Address  { return m.caller }
func (m *Machine) Value() *uint256.Int     { return m.value }
func (m *Machine) Gas() uint64             { return m.gas }
func (m *Machine) Depth() int              { return m.depth }
func (m *Machine) ReadOnly() bool          { return m.readOnly }

// ReturnData is the output of the most recent sub-call.
func (m *Machine) ReturnData() []byte { return m.returnData }

// Memory exposes the frame memory.
func (m *Machine) Memory() *Memory { return m.memory }

// Stack exposes the operand stack.
func (m *Machine) Stack() *Stack { return m.stack }

func (m *Machine) suspendCall(t *CallTrap, retOffset, retSize uint64) {
	m.pending = t
	m.retOffset = retOffset
	m.retSize = retSize
}

// Run executes until the frame finishes or needs a sub-call resolved. The
// returned trap is either *CallTrap, *CreateTrap or *Exit. After a call or
// create trap the driver must call ResumeCall or ResumeCreate before running
// again.
func (m *Machine) Run(b Backend) Trap {
	if m.pending != nil {
		panic("vm: run with unresolved trap")
	}
	if len(m.code) == 0 {
		return &Exit{GasLeft: m.gas}
	}
	var (
		op         OpCode
		pc         = m.pc
		res        []byte
		err        error
		cost       uint64
		memorySize uint64
		operation  *operation
		codeLen    = uint64(len(m.code))
	)
	for {
		if pc < codeLen {
			op = OpCode(m.code[pc])
		} else {
			op = STOP
		}
		operation = m.table[op]
		cost = operation.constantGas
		// Validate stack
		if sLen := m.stack.len(); sLen < operation.minStack {
			err = fmt.Errorf("%w: have %d, want %d", ErrStackUnderflow, sLen, operation.minStack)
			break
		} else if sLen > operation.maxStack {
			err = fmt.Errorf("%w: have %d, limit %d", ErrStackOverflow, sLen, operation.maxStack)
			break
		}
		if m.gas < cost {
			err = ErrOutOfGas
			break
		}
		m.gas -= cost

		memorySize = 0
		if operation.dynamicGas != nil {
			// Calculate the new memory size and expand the memory to fit
			// the operation
			// Memory check needs to be done prior to evaluating the dynamic gas portion,
			// to detect calculation overflows
			if operation.memorySize != nil {
				memSize, overflow := operation.memorySize(m.stack)
				if overflow {
					err = ErrGasUintOverflow
					break
				}
				// memory is expanded in words of 32 bytes. Gas
				// is also calculated in words.
				if memorySize, overflow = gmath.SafeMul(toWordSize(memSize), 32); overflow {
					err = ErrGasUintOverflow
					break
				}
			}
			var dynamicCost uint64
			dynamicCost, err = operation.dynamicGas(m, b, memorySize)
			if err != nil {
				err = fmt.Errorf("%w: %w", ErrOutOfGas, err)
				break
			}
			if m.gas < dynamicCost {
				err = ErrOutOfGas
				break
			}
			m.gas -= dynamicCost
		}
		if memorySize > 0 {
			m.memory.Resize(memorySize)
		}
		res, err = operation.execute(&pc, m, b)
		if err != nil {
			break
		}
		pc++
	}

	switch {
	case err == errTrapToken:
		m.pc = pc + 1
		return m.pending
	case err == errStopToken:
		m.pc = pc
		return &Exit{Data: res, GasLeft: m.gas}
	case err == ErrExecutionReverted:
		m.pc = pc
		return &Exit{Err: NewExitError(err), Data: res, GasLeft: m.gas}
	}
	m.pc = pc
	m.gas = 0
	return &Exit{Err: NewExitError(err)}
}

// ResumeCall feeds the outcome of a sub-call back into the frame: it pushes
// the success flag, copies the output into the reserved memory window and
// returns the unused gas.
func (m *Machine) ResumeCall(err error, ret []byte, gasLeft uint64) {
	if _, ok := m.pending.(*CallTrap); !ok {
		panic("vm: resume call without pending call")
	}
	m.pending = nil

	temp := new(uint256.Int)
	if err != nil {
		temp.Clear()
	} else {
		temp.SetOne()
	}
	m.stack.push(temp)
	if err == nil || Classify(err) == ExitRevert {
		m.memory.Set(m.retOffset, m.retSize, common.CopyBytes(ret))
	}
	m.gas += gasLeft
	m.returnData = ret
}

// ResumeCreate feeds the outcome of a sub-create back into the frame. The
// new address is pushed on success and zero otherwise; return data is only
// kept when the init code reverted.
func (m *Machine) ResumeCreate(err error, addr common.Address, ret []byte, gasLeft uint64) {
	if _, ok := m.pending.(*CreateTrap); !ok {
		panic("vm: resume create without pending create")
	}
	m.pending = nil

	stackvalue := new(uint256.Int)
	if err == nil {
		stackvalue.SetBytes(addr.Bytes())
	}
	m.stack.push(stackvalue)
	m.gas += gasLeft

	if Classify(err) == ExitRevert {
		m.returnData = ret
	} else {
		m.returnData = nil
	}
}

// getData returns a slice from the data based on the start and size and pads
// up to size with zero's. This function is overflow safe.
func getData(data []byte, start uint64, size uint64) []byte {
	length := uint64(len(data))
	if start > length {
		start = length
	}
	end := start + size
	if end > length {
		end = length
	}
	return common.RightPadBytes(data[start:end], int(size))
}

func (m *Machine) validJumpdest(dest *uint256.Int) bool {
	udest, overflow := dest.Uint64WithOverflow()
	// PC cannot go beyond len(code) and certainly can't be bigger than 63bits.
	// Don't bother checking for JUMPDEST in that case.
	if overflow || udest >= uint64(len(m.code)) {
		return false
	}
	// Only JUMPDESTs allowed for destinations
	if OpCode(m.code[udest]) != JUMPDEST {
		return false
	}
	if m.jumpdests == nil {
		m.jumpdests = codeBitmap(m.code)
	}
	return m.jumpdests.codeSegment(udest)
}
