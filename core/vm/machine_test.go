package vm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

type slotKey struct {
	addr common.Address
	slot common.Hash
}

type testLog struct {
	addr   common.Address
	topics []common.Hash
	data   []byte
}

// testBackend is an in-memory Backend without substates.
type testBackend struct {
	balances  map[common.Address]*uint256.Int
	nonces    map[common.Address]uint64
	codes     map[common.Address][]byte
	storage   map[slotKey]common.Hash
	original  map[slotKey]common.Hash
	transient map[slotKey]common.Hash
	hot       map[slotKey]bool
	deleted   map[common.Address]bool
	created   map[common.Address]bool
	logs      []testLog
	refund    uint64
	number    uint64
}

func newTestBackend() *testBackend {
	return &testBackend{
		balances:  make(map[common.Address]*uint256.Int),
		nonces:    make(map[common.Address]uint64),
		codes:     make(map[common.Address][]byte),
		storage:   make(map[slotKey]common.Hash),
		original:  make(map[slotKey]common.Hash),
		transient: make(map[slotKey]common.Hash),
		hot:       make(map[slotKey]bool),
		deleted:   make(map[common.Address]bool),
		created:   make(map[common.Address]bool),
		number:    100,
	}
}

func (b *testBackend) ChainID() *uint256.Int         { return uint256.NewInt(1291) }
func (b *testBackend) BlockNumber() uint64           { return b.number }
func (b *testBackend) BlockTimestamp() uint64        { return 1700000000 }
func (b *testBackend) BlockCoinbase() common.Address { return common.HexToAddress("0xc0ffee") }
func (b *testBackend) BlockDifficulty() *uint256.Int { return new(uint256.Int) }
func (b *testBackend) BlockRandomness() *common.Hash { return nil }
func (b *testBackend) BlockGasLimit() uint64         { return 30_000_000 }
func (b *testBackend) BlockBaseFee() *uint256.Int    { return uint256.NewInt(7) }
func (b *testBackend) GasPrice() *uint256.Int        { return uint256.NewInt(10) }
func (b *testBackend) Origin() common.Address        { return common.HexToAddress("0x0a") }
func (b *testBackend) BlockHash(n uint64) common.Hash {
	return crypto.Keccak256Hash(new(uint256.Int).SetUint64(n).Bytes())
}

func (b *testBackend) Exists(addr common.Address) bool {
	_, ok := b.balances[addr]
	return ok || len(b.codes[addr]) > 0 || b.nonces[addr] > 0
}

func (b *testBackend) Empty(addr common.Address) bool {
	return b.Balance(addr).IsZero() && b.nonces[addr] == 0 && len(b.codes[addr]) == 0
}

func (b *testBackend) Balance(addr common.Address) *uint256.Int {
	if bal, ok := b.balances[addr]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (b *testBackend) Nonce(addr common.Address) uint64    { return b.nonces[addr] }
func (b *testBackend) Code(addr common.Address) []byte     { return b.codes[addr] }
func (b *testBackend) CodeSize(addr common.Address) uint64 { return uint64(len(b.codes[addr])) }
func (b *testBackend) CodeHash(addr common.Address) common.Hash {
	return crypto.Keccak256Hash(b.codes[addr])
}

func (b *testBackend) Storage(addr common.Address, key common.Hash) common.Hash {
	return b.storage[slotKey{addr, key}]
}

func (b *testBackend) OriginalStorage(addr common.Address, key common.Hash) common.Hash {
	return b.original[slotKey{addr, key}]
}

func (b *testBackend) TransientStorage(addr common.Address, key common.Hash) common.Hash {
	return b.transient[slotKey{addr, key}]
}

func (b *testBackend) SetStorage(addr common.Address, key, value common.Hash) {
	b.storage[slotKey{addr, key}] = value
}

func (b *testBackend) SetTransientStorage(addr common.Address, key, value common.Hash) {
	b.transient[slotKey{addr, key}] = value
}

func (b *testBackend) Log(addr common.Address, topics []common.Hash, data []byte) {
	b.logs = append(b.logs, testLog{addr, topics, data})
}

func (b *testBackend) MarkDelete(addr common.Address) { b.deleted[addr] = true }

func (b *testBackend) CreatedInTx(addr common.Address) bool { return b.created[addr] }

func (b *testBackend) Transfer(from, to common.Address, value *uint256.Int) error {
	if b.Balance(from).Lt(value) {
		return ErrInsufficientBalance
	}
	b.balances[from] = new(uint256.Int).Sub(b.Balance(from), value)
	b.balances[to] = new(uint256.Int).Add(b.Balance(to), value)
	return nil
}

func (b *testBackend) IsCold(addr common.Address, slot *common.Hash) bool {
	k := slotKey{addr: addr}
	if slot != nil {
		k.slot = *slot
	}
	return !b.hot[k]
}

func (b *testBackend) MarkHot(addr common.Address, slot *common.Hash) {
	k := slotKey{addr: addr}
	if slot != nil {
		k.slot = *slot
	}
	b.hot[k] = true
}

func (b *testBackend) AddRefund(gas uint64) { b.refund += gas }
func (b *testBackend) SubRefund(gas uint64) { b.refund -= gas }

var (
	testCaller   = common.HexToAddress("0x0a")
	testContract = common.HexToAddress("0x0b")
	testCallee   = common.HexToAddress("0x0c")
)

func push1(v byte) []byte { return []byte{byte(PUSH1), v} }

func program(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func op(ops ...OpCode) []byte {
	out := make([]byte, len(ops))
	for i, o := range ops {
		out[i] = byte(o)
	}
	return out
}

func runToExit(t *testing.T, m *Machine, b Backend) *Exit {
	t.Helper()
	exit, ok := m.Run(b).(*Exit)
	if !ok {
		t.Fatalf("expected exit trap")
	}
	return exit
}

func TestMachineArithmetic(t *testing.T) {
	code := program(push1(2), push1(3), op(ADD), push1(0), op(MSTORE), push1(32), push1(0), op(RETURN))
	m := NewMachine(nil, testCaller, testContract, nil, code, nil, 1000, false, 0)
	exit := runToExit(t, m, newTestBackend())
	if exit.Err != nil {
		t.Fatalf("unexpected error: %v", exit.Err)
	}
	if want := common.LeftPadBytes([]byte{5}, 32); !bytes.Equal(exit.Data, want) {
		t.Fatalf("return mismatch: have %x, want %x", exit.Data, want)
	}
	// 7 pushes/adds at 3 gas, MSTORE 3 plus one word of memory.
	if used := 1000 - exit.GasLeft; used != 24 {
		t.Fatalf("gas used mismatch: have %d, want 24", used)
	}
}

func TestMachineEmptyCode(t *testing.T) {
	m := NewMachine(nil, testCaller, testContract, nil, nil, nil, 500, false, 0)
	exit := runToExit(t, m, newTestBackend())
	if exit.Err != nil || exit.GasLeft != 500 {
		t.Fatalf("unexpected exit: %+v", exit)
	}
}

func TestMachineRevertKeepsGas(t *testing.T) {
	code := program(push1(0xaa), push1(0), op(MSTORE8), push1(1), push1(0), op(REVERT))
	m := NewMachine(nil, testCaller, testContract, nil, code, nil, 1000, false, 0)
	exit := runToExit(t, m, newTestBackend())
	if exit.Kind() != ExitRevert {
		t.Fatalf("kind mismatch: have %v, want revert", exit.Kind())
	}
	if !bytes.Equal(exit.Data, []byte{0xaa}) {
		t.Fatalf("revert data mismatch: %x", exit.Data)
	}
	if exit.GasLeft == 0 {
		t.Fatalf("revert must keep the remaining gas")
	}
}

func TestMachineExceptions(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		gas  uint64
		want error
	}{
		{"invalid jump", program(push1(3), op(JUMP)), 100, ErrInvalidJump},
		{"jump into push data", program(push1(4), op(JUMP), push1(byte(JUMPDEST))), 100, ErrInvalidJump},
		{"underflow", op(ADD), 100, ErrStackUnderflow},
		{"out of gas", program(push1(1), push1(1), op(ADD)), 8, ErrOutOfGas},
		{"undefined opcode", []byte{0x0c}, 100, ErrInvalidOpCode},
		{"returndatacopy out of bounds", program(push1(1), push1(0), push1(0), op(RETURNDATACOPY)), 100, ErrReturnDataOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil, testCaller, testContract, nil, tt.code, nil, tt.gas, false, 0)
			exit := runToExit(t, m, newTestBackend())
			if !errors.Is(exit.Err, tt.want) {
				t.Fatalf("error mismatch: have %v, want %v", exit.Err, tt.want)
			}
			if exit.Kind() != ExitException {
				t.Fatalf("kind mismatch: have %v", exit.Kind())
			}
			if exit.GasLeft != 0 {
				t.Fatalf("exception must consume all gas, left %d", exit.GasLeft)
			}
		})
	}
}

func TestMachineValidJump(t *testing.T) {
	// PUSH1 4 JUMP INVALID JUMPDEST STOP
	code := program(push1(4), op(JUMP), []byte{0xfe}, op(JUMPDEST, STOP))
	m := NewMachine(nil, testCaller, testContract, nil, code, nil, 100, false, 0)
	if exit := runToExit(t, m, newTestBackend()); exit.Err != nil {
		t.Fatalf("unexpected error: %v", exit.Err)
	}
}

func TestMachineStorage(t *testing.T) {
	b := newTestBackend()
	code := program(push1(0x2a), push1(1), op(SSTORE), push1(1), op(SLOAD), push1(0), op(MSTORE), push1(32), push1(0), op(RETURN))
	m := NewMachine(nil, testCaller, testContract, nil, code, nil, 100000, false, 0)
	exit := runToExit(t, m, b)
	if exit.Err != nil {
		t.Fatalf("unexpected error: %v", exit.Err)
	}
	slot := common.BytesToHash([]byte{1})
	if have := b.Storage(testContract, slot); have != common.BytesToHash([]byte{42}) {
		t.Fatalf("stored value mismatch: %x", have)
	}
	if !bytes.Equal(exit.Data, common.LeftPadBytes([]byte{0x2a}, 32)) {
		t.Fatalf("loaded value mismatch: %x", exit.Data)
	}
}

func TestMachineWriteProtection(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"sstore", program(push1(1), push1(1), op(SSTORE))},
		{"tstore", program(push1(1), push1(1), op(TSTORE))},
		{"log0", program(push1(0), push1(0), op(LOG0))},
		{"create", program(push1(0), push1(0), push1(0), op(CREATE))},
		{"selfdestruct", program(push1(0), op(SELFDESTRUCT))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil, testCaller, testContract, nil, tt.code, nil, 100000, true, 0)
			exit := runToExit(t, m, newTestBackend())
			if !errors.Is(exit.Err, ErrWriteProtection) {
				t.Fatalf("error mismatch: have %v", exit.Err)
			}
		})
	}
}

func TestMachineLog(t *testing.T) {
	b := newTestBackend()
	code := program(push1(0xff), push1(0), op(MSTORE8), push1(7), push1(1), push1(0), op(LOG1), op(STOP))
	m := NewMachine(nil, testCaller, testContract, nil, code, nil, 100000, false, 0)
	if exit := runToExit(t, m, b); exit.Err != nil {
		t.Fatalf("unexpected error: %v", exit.Err)
	}
	if len(b.logs) != 1 {
		t.Fatalf("log count mismatch: %d", len(b.logs))
	}
	log := b.logs[0]
	if log.addr != testContract || len(log.topics) != 1 || log.topics[0] != common.BytesToHash([]byte{7}) {
		t.Fatalf("unexpected log: %+v", log)
	}
	if !bytes.Equal(log.data, []byte{0xff}) {
		t.Fatalf("log data mismatch: %x", log.data)
	}
}

func TestMachineCallTrap(t *testing.T) {
	b := newTestBackend()
	code := program(
		push1(32), push1(0), push1(0), push1(0), push1(0), // retSize retOffset inSize inOffset value
		[]byte{byte(PUSH1) + 19}, testCallee.Bytes(),
		[]byte{byte(PUSH2), 0x27, 0x10}, // 10000 gas
		op(CALL),
		push1(32), op(MSTORE),
		push1(64), push1(0), op(RETURN),
	)
	m := NewMachine(nil, testCaller, testContract, nil, code, nil, 100000, false, 0)

	trap, ok := m.Run(b).(*CallTrap)
	if !ok {
		t.Fatalf("expected call trap")
	}
	if trap.Scheme != SchemeCall || trap.Address != testCallee || trap.CodeAddress != testCallee || trap.Caller != testContract {
		t.Fatalf("unexpected trap: %+v", trap)
	}
	if trap.Gas != 10000 || trap.Transfer || trap.Depth != 1 {
		t.Fatalf("unexpected trap gas/transfer/depth: %+v", trap)
	}
	before := m.Gas()

	ret := common.LeftPadBytes([]byte{0x99}, 32)
	m.ResumeCall(nil, ret, 4000)
	if m.Gas() != before+4000 {
		t.Fatalf("unused gas not returned: have %d, want %d", m.Gas(), before+4000)
	}
	exit := runToExit(t, m, b)
	if exit.Err != nil {
		t.Fatalf("unexpected error: %v", exit.Err)
	}
	want := append(common.CopyBytes(ret), common.LeftPadBytes([]byte{1}, 32)...)
	if !bytes.Equal(exit.Data, want) {
		t.Fatalf("return mismatch: have %x, want %x", exit.Data, want)
	}
}

func TestMachineCallFailure(t *testing.T) {
	code := program(
		push1(32), push1(0), push1(0), push1(0),
		[]byte{byte(PUSH1) + 19}, testCallee.Bytes(),
		push1(0xff),
		op(STATICCALL),
		push1(0), op(MSTORE),
		op(RETURNDATASIZE), push1(32), op(MSTORE),
		push1(64), push1(0), op(RETURN),
	)
	m := NewMachine(nil, testCaller, testContract, nil, code, nil, 100000, false, 0)
	trap, ok := m.Run(newTestBackend()).(*CallTrap)
	if !ok || trap.Scheme != SchemeStaticCall || !trap.ReadOnly {
		t.Fatalf("expected static call trap, got %+v", trap)
	}
	m.ResumeCall(NewExitError(ErrOutOfGas), nil, 0)
	exit := runToExit(t, m, newTestBackend())
	if exit.Err != nil {
		t.Fatalf("unexpected error: %v", exit.Err)
	}
	if !bytes.Equal(exit.Data, make([]byte, 64)) {
		t.Fatalf("failed call must push zero and clear return data: %x", exit.Data)
	}
}

func TestMachineCreateTrap(t *testing.T) {
	// MSTORE8 0x00 at offset 0, CREATE2(value 0, offset 0, size 1, salt 5)
	code := program(
		push1(0), push1(0), op(MSTORE8),
		push1(5), push1(1), push1(0), push1(0), op(CREATE2),
		push1(0), op(MSTORE),
		push1(32), push1(0), op(RETURN),
	)
	m := NewMachine(nil, testCaller, testContract, nil, code, nil, 100000, false, 3)
	trap, ok := m.Run(newTestBackend()).(*CreateTrap)
	if !ok {
		t.Fatalf("expected create trap")
	}
	if trap.Scheme != Create2 || trap.Salt != common.BytesToHash([]byte{5}) || !bytes.Equal(trap.InitCode, []byte{0}) {
		t.Fatalf("unexpected trap: %+v", trap)
	}
	if trap.Depth != 4 {
		t.Fatalf("depth mismatch: %d", trap.Depth)
	}
	// All but one 64th is forwarded.
	if left := m.Gas(); left != (left+trap.Gas)/64 {
		t.Fatalf("forwarded gas mismatch: kept %d, sent %d", left, trap.Gas)
	}
	created := common.HexToAddress("0x1234")
	m.ResumeCreate(nil, created, nil, 0)
	exit := runToExit(t, m, newTestBackend())
	if exit.Err != nil {
		t.Fatalf("unexpected error: %v", exit.Err)
	}
	if !bytes.Equal(exit.Data, common.LeftPadBytes(created.Bytes(), 32)) {
		t.Fatalf("address mismatch: %x", exit.Data)
	}
}

func TestMachineMaxInitCode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInitCodeSize = 16
	code := program(push1(32), push1(0), push1(0), op(CREATE))
	m := NewMachine(cfg, testCaller, testContract, nil, code, nil, 100000, false, 0)
	exit := runToExit(t, m, newTestBackend())
	if !errors.Is(exit.Err, ErrMaxInitCodeSizeExceeded) {
		t.Fatalf("error mismatch: %v", exit.Err)
	}
}

func TestMachineEnvironment(t *testing.T) {
	b := newTestBackend()
	code := program(op(CHAINID), push1(0), op(MSTORE), op(NUMBER), push1(32), op(MSTORE), op(CALLER), push1(64), op(MSTORE), push1(96), push1(0), op(RETURN))
	m := NewMachine(nil, testCaller, testContract, nil, code, nil, 1000, false, 0)
	exit := runToExit(t, m, b)
	if exit.Err != nil {
		t.Fatalf("unexpected error: %v", exit.Err)
	}
	if have := new(uint256.Int).SetBytes(exit.Data[:32]).Uint64(); have != 1291 {
		t.Fatalf("chain id mismatch: %d", have)
	}
	if have := new(uint256.Int).SetBytes(exit.Data[32:64]).Uint64(); have != b.number {
		t.Fatalf("block number mismatch: %d", have)
	}
	if common.BytesToAddress(exit.Data[64:]) != testCaller {
		t.Fatalf("caller mismatch: %x", exit.Data[64:])
	}
}

func TestCodeBitmap(t *testing.T) {
	code := program(push1(byte(JUMPDEST)), op(JUMPDEST), []byte{byte(PUSH32)}, make([]byte, 32), op(JUMPDEST))
	bits := codeBitmap(code)
	if bits.codeSegment(1) {
		t.Fatalf("push data marked as code")
	}
	if !bits.codeSegment(2) {
		t.Fatalf("jumpdest marked as data")
	}
	for i := uint64(4); i < 36; i++ {
		if bits.codeSegment(i) {
			t.Fatalf("push32 data at %d marked as code", i)
		}
	}
	if !bits.codeSegment(36) {
		t.Fatalf("trailing jumpdest marked as data")
	}
}

func TestMachineSelfdestruct(t *testing.T) {
	beneficiary := common.BytesToAddress([]byte{0xbb})
	for _, created := range []bool{false, true} {
		b := newTestBackend()
		b.balances[testContract] = uint256.NewInt(100)
		b.created[testContract] = created

		m := NewMachine(nil, testCaller, testContract, nil, program(push1(0xbb), op(SELFDESTRUCT)), nil, 100000, false, 0)
		if exit := runToExit(t, m, b); exit.Err != nil {
			t.Fatalf("created=%v: unexpected error: %v", created, exit.Err)
		}
		if have := b.Balance(beneficiary); !have.Eq(uint256.NewInt(100)) {
			t.Fatalf("created=%v: beneficiary balance mismatch: %v", created, have)
		}
		if b.deleted[testContract] != created {
			t.Fatalf("created=%v: deletion mismatch", created)
		}
	}
}
