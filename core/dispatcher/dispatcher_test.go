package dispatcher

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/swisstronik/evm-enclave/core/host"
	"github.com/swisstronik/evm-enclave/core/invoker"
	"github.com/swisstronik/evm-enclave/core/vm"
	"github.com/swisstronik/evm-enclave/ffi"
	"github.com/swisstronik/evm-enclave/internal/primitives"
	"github.com/swisstronik/evm-enclave/keymanager"
)

const testChainID = 1291

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	echo  = common.HexToAddress("0xec40000000000000000000000000000000000003")

	// CALLDATASIZE PUSH1 0 PUSH1 0 CALLDATACOPY CALLDATASIZE PUSH1 0 RETURN
	echoCode = []byte{
		byte(vm.CALLDATASIZE), byte(vm.PUSH1), 0, byte(vm.PUSH1), 0, byte(vm.CALLDATACOPY),
		byte(vm.CALLDATASIZE), byte(vm.PUSH1), 0, byte(vm.RETURN),
	}
	// Three LOG0 then STOP.
	emitCode = []byte{
		byte(vm.PUSH1), 0, byte(vm.PUSH1), 0, byte(vm.LOG0),
		byte(vm.PUSH1), 0, byte(vm.PUSH1), 0, byte(vm.LOG0),
		byte(vm.PUSH1), 0, byte(vm.PUSH1), 0, byte(vm.LOG0),
		byte(vm.STOP),
	}
)

type testEnv struct {
	db *host.LevelDBHost
	km *keymanager.KeyManager
	d  *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := host.NewMemoryHost()
	t.Cleanup(func() { db.Close() })
	km, err := keymanager.Random()
	require.NoError(t, err)
	require.NoError(t, db.SetAccount(alice, uint256.NewInt(1000), 0))
	return &testEnv{db: db, km: km, d: New(invoker.New(nil))}
}

func (env *testEnv) store() *host.Storage {
	return host.NewStorage(context.Background(), env.db, env.km, host.Block{Number: 5, Timestamp: 1700000000})
}

func (env *testEnv) dispatch(t *testing.T, kind Kind, p *ffi.TransactionParams) *ffi.TransactionResponse {
	t.Helper()
	resp, err := env.d.Dispatch(context.Background(), env.db, env.km, kind, &ffi.TransactionRequest{
		Params:  p,
		Context: &ffi.TransactionContext{BlockNumber: 5, BlockTimestamp: 1700000000, BlockGasLimit: 30_000_000, ChainID: testChainID},
	})
	require.NoError(t, err)
	return resp
}

func (env *testEnv) account(t *testing.T, addr common.Address) (uint64, uint64) {
	t.Helper()
	balance, nonce, err := env.store().Account(addr)
	require.NoError(t, err)
	return balance.Uint64(), nonce
}

// initCodeFor wraps runtime in init code returning it.
func initCodeFor(runtime []byte) []byte {
	n := byte(len(runtime))
	prefix := []byte{
		byte(vm.PUSH1), n, byte(vm.PUSH1), 12, byte(vm.PUSH1), 0, byte(vm.CODECOPY),
		byte(vm.PUSH1), n, byte(vm.PUSH1), 0, byte(vm.RETURN),
	}
	return append(prefix, runtime...)
}

func TestPlaintextTransfer(t *testing.T) {
	env := newTestEnv(t)
	resp := env.dispatch(t, KindCall, &ffi.TransactionParams{
		From:     alice.Bytes(),
		To:       bob.Bytes(),
		Value:    uint256.NewInt(10),
		GasLimit: 200000,
		Commit:   true,
	})
	require.Empty(t, resp.VMError)
	require.Empty(t, resp.Data)
	require.Empty(t, resp.Logs)
	require.Equal(t, params.TxGas, resp.GasUsed)

	balance, nonce := env.account(t, alice)
	require.Equal(t, uint64(990), balance)
	require.Equal(t, uint64(1), nonce)
	balance, nonce = env.account(t, bob)
	require.Equal(t, uint64(10), balance)
	require.Zero(t, nonce)
}

func TestDeployThenCall(t *testing.T) {
	env := newTestEnv(t)
	resp := env.dispatch(t, KindCreate, &ffi.TransactionParams{
		From:        alice.Bytes(),
		Data:        initCodeFor(emitCode),
		GasLimit:    200000,
		Commit:      true,
		Unencrypted: true,
	})
	require.Empty(t, resp.VMError)
	contract := crypto.CreateAddress(alice, 0)
	require.Equal(t, contract.Bytes(), resp.Data)

	code, err := env.store().Code(contract)
	require.NoError(t, err)
	require.Equal(t, emitCode, code)

	resp = env.dispatch(t, KindCall, &ffi.TransactionParams{
		From:     alice.Bytes(),
		To:       contract.Bytes(),
		GasLimit: 200000,
		Commit:   true,
	})
	require.Empty(t, resp.VMError)
	require.Len(t, resp.Logs, 3)
	require.Equal(t, contract.Bytes(), resp.Logs[0].Address)
	require.Greater(t, resp.GasUsed, params.TxGas)
}

func TestDryRunDeploy(t *testing.T) {
	env := newTestEnv(t)
	resp := env.dispatch(t, KindCreate, &ffi.TransactionParams{
		From:        alice.Bytes(),
		Data:        initCodeFor(emitCode),
		GasLimit:    200000,
		Unencrypted: true,
	})
	require.Empty(t, resp.VMError)
	require.Equal(t, emitCode, resp.Data)

	code, err := env.store().Code(crypto.CreateAddress(alice, 0))
	require.NoError(t, err)
	require.Empty(t, code)
	_, nonce := env.account(t, alice)
	require.Zero(t, nonce)
}

func TestEstimateGasClearsOutput(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store().PutCode(echo, emitCode))
	resp := env.dispatch(t, KindEstimate, &ffi.TransactionParams{
		From:     alice.Bytes(),
		To:       echo.Bytes(),
		GasLimit: 200000,
		Commit:   true,
	})
	require.Empty(t, resp.VMError)
	require.Empty(t, resp.Logs)
	require.Empty(t, resp.Data)
	require.Greater(t, resp.GasUsed, params.TxGas)
	_, nonce := env.account(t, alice)
	require.Zero(t, nonce)
}

func TestEncryptedCallRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store().PutCode(echo, echoCode))

	csk, cpk, err := primitives.GenerateX25519()
	require.NoError(t, err)
	npk := env.km.PublicKey()
	shared, err := primitives.SharedKey(csk, npk[:])
	require.NoError(t, err)
	nonce, err := primitives.RandomNonce()
	require.NoError(t, err)

	plaintext := common.FromHex("0xa9059cbb0000000000000000000000000000000000000000000000000000000000000378")
	ciphertext, err := primitives.EncryptWithNonce(shared[:], plaintext, nonce)
	require.NoError(t, err)

	resp := env.dispatch(t, KindCall, &ffi.TransactionParams{
		From:     alice.Bytes(),
		To:       echo.Bytes(),
		Data:     append(cpk[:], ciphertext...),
		GasLimit: 200000,
	})
	require.Empty(t, resp.VMError)
	require.NotEqual(t, plaintext, resp.Data)

	replyNonce, err := primitives.SplitNonce(resp.Data)
	require.NoError(t, err)
	require.Equal(t, nonce, replyNonce)
	reply, err := primitives.Decrypt(shared[:], resp.Data)
	require.NoError(t, err)
	require.Equal(t, plaintext, reply)
}

func TestEncryptedEmptyInput(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store().PutCode(echo, echoCode))
	csk, cpk, err := primitives.GenerateX25519()
	require.NoError(t, err)

	resp := env.dispatch(t, KindCall, &ffi.TransactionParams{
		From:     alice.Bytes(),
		To:       echo.Bytes(),
		Data:     append(make([]byte, 4), cpk[:]...),
		GasLimit: 200000,
	})
	require.Empty(t, resp.VMError)

	npk := env.km.PublicKey()
	shared, err := primitives.SharedKey(csk, npk[:])
	require.NoError(t, err)
	reply, err := primitives.Decrypt(shared[:], resp.Data)
	require.NoError(t, err)
	require.Empty(t, reply)
}

func TestBadEnvelope(t *testing.T) {
	env := newTestEnv(t)
	tests := map[string][]byte{
		"short":   make([]byte, 40),
		"garbage": make([]byte, 100),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			data[0] = 1
			resp := env.dispatch(t, KindCall, &ffi.TransactionParams{
				From: alice.Bytes(), To: bob.Bytes(), Data: data, GasLimit: 200000, Commit: true,
			})
			require.NotEmpty(t, resp.VMError)
			require.Equal(t, params.TxGas, resp.GasUsed)
			_, nonce := env.account(t, alice)
			require.Zero(t, nonce)
		})
	}
}

func signedParams(t *testing.T, from common.Address) (*ffi.TransactionParams, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	chain := big.NewInt(testChainID)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chain,
		Nonce:     0,
		GasTipCap: new(big.Int),
		GasFeeCap: new(big.Int),
		Gas:       100000,
		To:        &bob,
		Value:     big.NewInt(10),
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chain), key)
	require.NoError(t, err)
	v, r, s := signed.RawSignatureValues()
	sig := make([]byte, 65)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:64])
	sig[64] = byte(v.Uint64())

	sender := crypto.PubkeyToAddress(key.PublicKey)
	if from == (common.Address{}) {
		from = sender
	}
	return &ffi.TransactionParams{
		From:      from.Bytes(),
		To:        bob.Bytes(),
		Value:     uint256.NewInt(10),
		GasLimit:  100000,
		ChainID:   testChainID,
		Signature: sig,
		TxType:    ffi.TxTypeDynamicFee,
		Commit:    true,
	}, sender
}

func TestSignatureVerified(t *testing.T) {
	env := newTestEnv(t)
	p, sender := signedParams(t, common.Address{})
	require.NoError(t, env.db.SetAccount(sender, uint256.NewInt(100), 0))

	resp := env.dispatch(t, KindCall, p)
	require.Empty(t, resp.VMError)
	_, nonce := env.account(t, sender)
	require.Equal(t, uint64(1), nonce)
}

func TestSignatureMismatch(t *testing.T) {
	env := newTestEnv(t)
	p, _ := signedParams(t, alice)

	resp := env.dispatch(t, KindCall, p)
	require.Contains(t, resp.VMError, ErrBadSignature.Error())
	require.Equal(t, params.TxGas, resp.GasUsed)
	balance, nonce := env.account(t, alice)
	require.Equal(t, uint64(1000), balance)
	require.Zero(t, nonce)
}

func TestFailedTransactionConsumesNonce(t *testing.T) {
	env := newTestEnv(t)
	// PUSH1 0 PUSH1 0 REVERT
	require.NoError(t, env.store().PutCode(echo, []byte{byte(vm.PUSH1), 0, byte(vm.PUSH1), 0, byte(vm.REVERT)}))
	resp := env.dispatch(t, KindCall, &ffi.TransactionParams{
		From: alice.Bytes(), To: echo.Bytes(), Value: uint256.NewInt(5), GasLimit: 100000, Commit: true,
	})
	require.Equal(t, vm.ErrExecutionReverted.Error(), resp.VMError)
	balance, nonce := env.account(t, alice)
	require.Equal(t, uint64(1000), balance)
	require.Equal(t, uint64(1), nonce)
}

func TestMalformedRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.d.Dispatch(ctx, env.db, env.km, KindCall, &ffi.TransactionRequest{})
	require.ErrorIs(t, err, ErrBadPayload)

	tests := []*ffi.TransactionParams{
		{From: []byte{1, 2, 3}, To: bob.Bytes()},
		{From: alice.Bytes()},
		{From: alice.Bytes(), To: bob.Bytes(), AccessList: []*ffi.AccessListItem{{Address: bob.Bytes(), StorageSlots: [][]byte{{1}}}}},
	}
	for i, p := range tests {
		_, err := env.d.Dispatch(ctx, env.db, env.km, KindCall, &ffi.TransactionRequest{Params: p, Context: &ffi.TransactionContext{}})
		require.ErrorIs(t, err, ErrBadPayload, "case %d", i)
	}
}

func TestHostFailure(t *testing.T) {
	env := newTestEnv(t)
	failing := host.QuerierFunc(func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("connection reset")
	})
	_, err := env.d.Dispatch(context.Background(), failing, env.km, KindCall, &ffi.TransactionRequest{
		Params:  &ffi.TransactionParams{From: alice.Bytes(), To: bob.Bytes(), GasLimit: 100000, Commit: true},
		Context: &ffi.TransactionContext{},
	})
	require.ErrorIs(t, err, host.ErrHostUnavailable)
}

func TestEffectiveGasPrice(t *testing.T) {
	baseFee := uint256.NewInt(10)
	p := &ffi.TransactionParams{TxType: ffi.TxTypeDynamicFee, MaxFeePerGas: uint256.NewInt(15), MaxPriorityFeePerGas: uint256.NewInt(3)}
	require.Equal(t, uint64(13), effectiveGasPrice(p, baseFee).Uint64())
	p.MaxPriorityFeePerGas = uint256.NewInt(8)
	require.Equal(t, uint64(15), effectiveGasPrice(p, baseFee).Uint64())
	p = &ffi.TransactionParams{GasPrice: uint256.NewInt(7)}
	require.Equal(t, uint64(7), effectiveGasPrice(p, baseFee).Uint64())
}
