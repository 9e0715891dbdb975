package invoker

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/swisstronik/evm-enclave/core/backend"
	"github.com/swisstronik/evm-enclave/core/host"
	"github.com/swisstronik/evm-enclave/core/vm"
	"github.com/swisstronik/evm-enclave/keymanager"
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	code  = common.HexToAddress("0xc0de000000000000000000000000000000000003")
)

func newTestStorage(t *testing.T) *host.Storage {
	t.Helper()
	db := host.NewMemoryHost()
	t.Cleanup(func() { db.Close() })
	km, err := keymanager.Random()
	require.NoError(t, err)
	s := host.NewStorage(context.Background(), db, km, host.Block{Number: 10, Timestamp: 1700000000})
	require.NoError(t, s.PutBalance(alice, uint256.NewInt(params.Ether)))
	return s
}

func newTestBackend(store host.ChainStore) *backend.Backend {
	return backend.New(backend.Vicinity{
		ChainID:        uint256.NewInt(1291),
		BlockNumber:    10,
		BlockTimestamp: 1700000000,
		BlockGasLimit:  30_000_000,
		BlockBaseFee:   new(uint256.Int),
		GasPrice:       new(uint256.Int),
		Origin:         alice,
	}, store)
}

// initCodeFor wraps runtime in init code that copies it to memory and
// returns it.
func initCodeFor(runtime []byte) []byte {
	n := byte(len(runtime))
	prefix := []byte{
		byte(vm.PUSH1), n, byte(vm.PUSH1), 12, byte(vm.PUSH1), 0, byte(vm.CODECOPY),
		byte(vm.PUSH1), n, byte(vm.PUSH1), 0, byte(vm.RETURN),
	}
	return append(prefix, runtime...)
}

func TestValueTransfer(t *testing.T) {
	b := newTestBackend(newTestStorage(t))
	res, err := New(nil).Transact(b, &Message{
		From:     alice,
		To:       &bob,
		Value:    uint256.NewInt(100),
		GasLimit: 50000,
	})
	require.NoError(t, err)
	require.False(t, res.Failed())
	require.Equal(t, params.TxGas, res.GasUsed)
	require.Equal(t, uint64(100), b.Balance(bob).Uint64())
	require.Equal(t, uint64(params.Ether-100), b.Balance(alice).Uint64())
	require.Equal(t, uint64(1), b.Nonce(alice))
}

func TestIntrinsicGasTooLow(t *testing.T) {
	b := newTestBackend(newTestStorage(t))
	_, err := New(nil).Transact(b, &Message{From: alice, To: &bob, GasLimit: 20000})
	require.ErrorIs(t, err, ErrIntrinsicGas)
	require.Zero(t, b.Nonce(alice))
}

func TestInsufficientBalance(t *testing.T) {
	b := newTestBackend(newTestStorage(t))
	res, err := New(nil).Transact(b, &Message{
		From:     alice,
		To:       &bob,
		Value:    uint256.NewInt(2 * params.Ether),
		GasLimit: 50000,
	})
	require.NoError(t, err)
	require.True(t, res.Failed())
	require.ErrorIs(t, res.Err, vm.ErrInsufficientBalance)
	require.Equal(t, vm.ExitException, res.Err.Kind)
	require.Equal(t, params.TxGas, res.GasUsed)
	require.Equal(t, uint64(1), b.Nonce(alice))
	require.True(t, b.Balance(bob).IsZero())
}

func TestDeployAndCall(t *testing.T) {
	b := newTestBackend(newTestStorage(t))
	inv := New(nil)

	// PUSH1 0x2a PUSH1 0 SSTORE STOP
	runtime := []byte{byte(vm.PUSH1), 0x2a, byte(vm.PUSH1), 0, byte(vm.SSTORE), byte(vm.STOP)}
	res, err := inv.Transact(b, &Message{From: alice, Data: initCodeFor(runtime), GasLimit: 200000})
	require.NoError(t, err)
	require.False(t, res.Failed())

	addr := crypto.CreateAddress(alice, 0)
	require.Equal(t, addr, res.ContractAddress)
	require.Equal(t, runtime, b.Code(addr))
	require.Equal(t, uint64(1), b.Nonce(addr))
	require.Equal(t, uint64(1), b.Nonce(alice))

	res, err = inv.Transact(b, &Message{From: alice, To: &addr, GasLimit: 100000})
	require.NoError(t, err)
	require.False(t, res.Failed())
	require.Equal(t, common.BytesToHash([]byte{0x2a}), b.Storage(addr, common.Hash{}))
	require.Equal(t, uint64(2), b.Nonce(alice))
}

func TestDeployWithSalt(t *testing.T) {
	b := newTestBackend(newTestStorage(t))
	initCode := initCodeFor([]byte{byte(vm.STOP)})
	salt := common.HexToHash("0x01")
	res, err := New(nil).Transact(b, &Message{From: alice, Data: initCode, Salt: &salt, GasLimit: 200000})
	require.NoError(t, err)
	require.False(t, res.Failed())
	require.Equal(t, crypto.CreateAddress2(alice, salt, crypto.Keccak256(initCode)), res.ContractAddress)
}

func TestDeployRejectsCode(t *testing.T) {
	tests := []struct {
		name    string
		runtime []byte
		cfg     func(*vm.Config)
		want    error
	}{
		{"ef-prefix", []byte{0xef, 0x00}, nil, vm.ErrInvalidCode},
		{"max-code-size", []byte{0x00, 0x00, 0x00, 0x00}, func(c *vm.Config) { c.MaxCodeSize = 2 }, vm.ErrMaxCodeSizeExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := vm.DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(cfg)
			}
			b := newTestBackend(newTestStorage(t))
			res, err := New(cfg).Transact(b, &Message{From: alice, Data: initCodeFor(tt.runtime), GasLimit: 200000})
			require.NoError(t, err)
			require.ErrorIs(t, res.Err, tt.want)
			require.Equal(t, uint64(200000), res.GasUsed)
			require.Zero(t, b.CodeSize(res.ContractAddress))
			require.Equal(t, uint64(1), b.Nonce(alice))
		})
	}
}

func TestInitCodeTooLarge(t *testing.T) {
	cfg := vm.DefaultConfig()
	cfg.MaxInitCodeSize = 4
	b := newTestBackend(newTestStorage(t))
	_, err := New(cfg).Transact(b, &Message{From: alice, Data: make([]byte, 5), GasLimit: 200000})
	require.ErrorIs(t, err, vm.ErrMaxInitCodeSizeExceeded)
}

func TestRevertKeepsGas(t *testing.T) {
	s := newTestStorage(t)
	// PUSH1 1 PUSH1 0 SSTORE PUSH1 0 PUSH1 0 REVERT
	require.NoError(t, s.PutCode(code, []byte{
		byte(vm.PUSH1), 1, byte(vm.PUSH1), 0, byte(vm.SSTORE),
		byte(vm.PUSH1), 0, byte(vm.PUSH1), 0, byte(vm.REVERT),
	}))
	b := newTestBackend(s)
	res, err := New(nil).Transact(b, &Message{From: alice, To: &code, Value: uint256.NewInt(5), GasLimit: 100000})
	require.NoError(t, err)
	require.Equal(t, vm.ExitRevert, res.Err.Kind)
	require.Less(t, res.GasUsed, uint64(100000))
	require.Equal(t, common.Hash{}, b.Storage(code, common.Hash{}))
	require.True(t, b.Balance(code).IsZero())
	require.Equal(t, uint64(1), b.Nonce(alice))
}

func TestRefundIsCapped(t *testing.T) {
	s := newTestStorage(t)
	// PUSH1 0 PUSH1 0 SSTORE STOP
	require.NoError(t, s.PutCode(code, []byte{byte(vm.PUSH1), 0, byte(vm.PUSH1), 0, byte(vm.SSTORE), byte(vm.STOP)}))
	require.NoError(t, s.PutStorage(code, common.Hash{}, common.BytesToHash([]byte{1})))
	b := newTestBackend(s)

	res, err := New(nil).Transact(b, &Message{From: alice, To: &code, GasLimit: 100000})
	require.NoError(t, err)
	require.False(t, res.Failed())
	raw := params.TxGas + 2*vm.GasFastestStep + params.SstoreResetGasEIP2200
	require.Equal(t, raw-params.SstoreClearsScheduleRefundEIP3529, res.GasUsed)
	require.Equal(t, common.Hash{}, b.Storage(code, common.Hash{}))
}

// callAndStore calls target with no value and stores the success flag in
// slot zero.
func callAndStore(target common.Address) []byte {
	out := []byte{
		byte(vm.PUSH1), 0, byte(vm.PUSH1), 0, byte(vm.PUSH1), 0, byte(vm.PUSH1), 0, byte(vm.PUSH1), 0,
		byte(vm.PUSH20),
	}
	out = append(out, target.Bytes()...)
	return append(out, byte(vm.GAS), byte(vm.CALL), byte(vm.PUSH1), 0, byte(vm.SSTORE), byte(vm.STOP))
}

func TestCallDepthLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  common.Hash
	}{
		{1024, common.BytesToHash([]byte{1})},
		{0, common.Hash{}},
	}
	for _, tt := range tests {
		s := newTestStorage(t)
		require.NoError(t, s.PutCode(code, callAndStore(bob)))
		cfg := vm.DefaultConfig()
		cfg.CallStackLimit = tt.limit
		b := newTestBackend(s)

		res, err := New(cfg).Transact(b, &Message{From: alice, To: &code, GasLimit: 200000})
		require.NoError(t, err)
		require.False(t, res.Failed())
		require.Equal(t, tt.want, b.Storage(code, common.Hash{}), "limit %d", tt.limit)
	}
}

func TestCallPrecompile(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.PutCode(code, callAndStore(vm.PrecompileAddress(4))))
	b := newTestBackend(s)
	res, err := New(nil).Transact(b, &Message{From: alice, To: &code, GasLimit: 200000})
	require.NoError(t, err)
	require.False(t, res.Failed())
	require.Equal(t, common.BytesToHash([]byte{1}), b.Storage(code, common.Hash{}))
}

func TestCreateFromContract(t *testing.T) {
	s := newTestStorage(t)
	// CREATE(0, 0, 1) deploying the single byte init code STOP, then store
	// the new address in slot zero.
	require.NoError(t, s.PutCode(code, []byte{
		byte(vm.PUSH1), 1, byte(vm.PUSH1), 0, byte(vm.PUSH1), 0, byte(vm.CREATE),
		byte(vm.PUSH1), 0, byte(vm.SSTORE), byte(vm.STOP),
	}))
	require.NoError(t, s.PutNonce(code, 1))
	b := newTestBackend(s)

	res, err := New(nil).Transact(b, &Message{From: alice, To: &code, GasLimit: 200000})
	require.NoError(t, err)
	require.False(t, res.Failed())

	child := crypto.CreateAddress(code, 1)
	require.Equal(t, common.BytesToHash(child.Bytes()), b.Storage(code, common.Hash{}))
	require.Equal(t, uint64(2), b.Nonce(code))
	require.Equal(t, uint64(1), b.Nonce(child))
}

func TestLogsAreCollected(t *testing.T) {
	s := newTestStorage(t)
	// PUSH1 0 PUSH1 0 LOG0 STOP
	require.NoError(t, s.PutCode(code, []byte{byte(vm.PUSH1), 0, byte(vm.PUSH1), 0, byte(vm.LOG0), byte(vm.STOP)}))
	b := newTestBackend(s)
	res, err := New(nil).Transact(b, &Message{From: alice, To: &code, GasLimit: 100000})
	require.NoError(t, err)
	require.Len(t, res.Logs, 1)
	require.Equal(t, code, res.Logs[0].Address)
	require.Equal(t, uint64(10), res.Logs[0].BlockNumber)
}

func TestStoreFailureAborts(t *testing.T) {
	km, err := keymanager.Random()
	require.NoError(t, err)
	failing := host.QuerierFunc(func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("host unavailable")
	})
	b := newTestBackend(host.NewStorage(context.Background(), failing, km, host.Block{}))
	_, err = New(nil).Transact(b, &Message{From: alice, To: &bob, GasLimit: 50000})
	require.Error(t, err)
}

func selfdestructTo(beneficiary common.Address) []byte {
	return append(append([]byte{byte(vm.PUSH20)}, beneficiary.Bytes()...), byte(vm.SELFDESTRUCT))
}

func TestSelfdestructKeepsExistingContract(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.PutCode(code, selfdestructTo(bob)))
	require.NoError(t, s.PutNonce(code, 1))
	require.NoError(t, s.PutBalance(code, uint256.NewInt(7)))
	b := newTestBackend(s)

	res, err := New(nil).Transact(b, &Message{From: alice, To: &code, GasLimit: 100000})
	require.NoError(t, err)
	require.False(t, res.Failed())
	require.False(t, b.Deleted(code))
	require.Equal(t, selfdestructTo(bob), b.Code(code))
	require.True(t, b.Balance(code).IsZero())
	require.Equal(t, uint64(7), b.Balance(bob).Uint64())
}

func TestSelfdestructInInitCodeDeletes(t *testing.T) {
	b := newTestBackend(newTestStorage(t))
	res, err := New(nil).Transact(b, &Message{
		From:     alice,
		Value:    uint256.NewInt(5),
		Data:     selfdestructTo(bob),
		GasLimit: 200000,
	})
	require.NoError(t, err)
	require.False(t, res.Failed())
	require.True(t, b.Deleted(res.ContractAddress))
	require.Equal(t, uint64(5), b.Balance(bob).Uint64())
}
