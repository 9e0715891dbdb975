package enclave

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/swisstronik/evm-enclave/core/host"
	"github.com/swisstronik/evm-enclave/ffi"
	"github.com/swisstronik/evm-enclave/internal/config"
	"github.com/swisstronik/evm-enclave/internal/sgx"
	"github.com/swisstronik/evm-enclave/keymanager"
	"github.com/swisstronik/evm-enclave/provisioning"
	"github.com/swisstronik/evm-enclave/storage"
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
)

func TestMain(m *testing.M) {
	// goleveldb stops its memdb pool drainer asynchronously after Close.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/syndtr/goleveldb/leveldb.(*DB).mpoolDrain"))
}

func newTestEnclave(t *testing.T, mutate func(*config.Config)) *Enclave {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Bootstrap.ListenAddr = "127.0.0.1:0"
	cfg.Bootstrap.HandshakeTimeout = config.Duration{Duration: 5 * time.Second}
	cfg.Bootstrap.RateLimit = 0
	if mutate != nil {
		mutate(cfg)
	}
	e, err := New(Options{
		Config:   cfg,
		Store:    new(storage.MemoryStore),
		Attestor: sgx.NewMockAttestor(),
		Verifier: sgx.NewPolicyVerifier(sgx.DefaultMockCA().Roots(), false),
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func newHost(t *testing.T) *host.LevelDBHost {
	t.Helper()
	db := host.NewMemoryHost()
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.SetAccount(alice, uint256.NewInt(1000), 0))
	return db
}

func transfer() *ffi.TransactionRequest {
	return &ffi.TransactionRequest{
		Params: &ffi.TransactionParams{
			From:     alice.Bytes(),
			To:       bob.Bytes(),
			Value:    uint256.NewInt(10),
			GasLimit: 200000,
			Commit:   true,
		},
		Context: &ffi.TransactionContext{BlockNumber: 1, BlockTimestamp: 1700000000, BlockGasLimit: 30_000_000},
	}
}

func handle(t *testing.T, e *Enclave, q host.Querier, req *ffi.Request) *ffi.Response {
	t.Helper()
	raw := e.HandleRequest(context.Background(), q, req.Marshal())
	resp := new(ffi.Response)
	require.NoError(t, resp.Unmarshal(raw))
	return resp
}

func initialize(t *testing.T, e *Enclave) {
	t.Helper()
	resp := handle(t, e, nil, &ffi.Request{InitializeMasterKey: &ffi.InitializeMasterKeyRequest{}})
	require.Equal(t, ffi.StatusOK, resp.Status, resp.Error)
}

func TestNotInitialized(t *testing.T) {
	e := newTestEnclave(t, nil)
	require.False(t, e.IsInitialized())

	resp := handle(t, e, newHost(t), &ffi.Request{Call: transfer()})
	require.Equal(t, ffi.StatusNotInitialized, resp.Status)
	require.Nil(t, resp.Transaction)

	resp = handle(t, e, nil, &ffi.Request{PublicKey: &ffi.PublicKeyRequest{}})
	require.Equal(t, ffi.StatusNotInitialized, resp.Status)

	resp = handle(t, e, nil, &ffi.Request{IsInitialized: &ffi.Empty{}})
	require.Equal(t, ffi.StatusOK, resp.Status)
	require.False(t, resp.IsInitialized.Initialized)
}

func TestInitializeMasterKey(t *testing.T) {
	e := newTestEnclave(t, nil)
	initialize(t, e)
	require.True(t, e.IsInitialized())

	first := handle(t, e, nil, &ffi.Request{PublicKey: &ffi.PublicKeyRequest{}})
	require.Equal(t, ffi.StatusOK, first.Status)
	require.Len(t, first.PublicKey.PublicKey, 32)

	resp := handle(t, e, nil, &ffi.Request{InitializeMasterKey: &ffi.InitializeMasterKeyRequest{}})
	require.Equal(t, ffi.StatusAlreadyInitialized, resp.Status)

	resp = handle(t, e, nil, &ffi.Request{InitializeMasterKey: &ffi.InitializeMasterKeyRequest{ShouldReset: true}})
	require.Equal(t, ffi.StatusOK, resp.Status)

	second := handle(t, e, nil, &ffi.Request{PublicKey: &ffi.PublicKeyRequest{}})
	require.NotEqual(t, first.PublicKey.PublicKey, second.PublicKey.PublicKey)
}

func TestTransactionThroughRouter(t *testing.T) {
	e := newTestEnclave(t, nil)
	initialize(t, e)
	db := newHost(t)

	resp := handle(t, e, db, &ffi.Request{Call: transfer()})
	require.Equal(t, ffi.StatusOK, resp.Status, resp.Error)
	require.Empty(t, resp.Transaction.VMError)
	require.Equal(t, params.TxGas, resp.Transaction.GasUsed)

	resp = handle(t, e, db, &ffi.Request{EstimateGas: transfer()})
	require.Equal(t, ffi.StatusOK, resp.Status, resp.Error)
	require.Equal(t, params.TxGas, resp.Transaction.GasUsed)

	require.Equal(t, 2.0, testutil.ToFloat64(e.metrics.requests.WithLabelValues("call", "ok"))+
		testutil.ToFloat64(e.metrics.requests.WithLabelValues("estimateGas", "ok")))
}

func TestBadPayload(t *testing.T) {
	e := newTestEnclave(t, nil)

	raw := e.HandleRequest(context.Background(), nil, []byte{0xff, 0xff, 0xff})
	resp := new(ffi.Response)
	require.NoError(t, resp.Unmarshal(raw))
	require.Equal(t, ffi.StatusBadPayload, resp.Status)

	// Two oneof members.
	raw = e.HandleRequest(context.Background(), nil, (&ffi.Request{IsInitialized: &ffi.Empty{}, ListEpochs: &ffi.Empty{}}).Marshal())
	require.NoError(t, resp.Unmarshal(raw))
	require.Equal(t, ffi.StatusBadPayload, resp.Status)

	initialize(t, e)
	resp = handle(t, e, newHost(t), &ffi.Request{Call: &ffi.TransactionRequest{}})
	require.Equal(t, ffi.StatusBadPayload, resp.Status)
}

func TestHostUnavailable(t *testing.T) {
	e := newTestEnclave(t, nil)
	initialize(t, e)
	broken := host.QuerierFunc(func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("socket closed")
	})
	resp := handle(t, e, broken, &ffi.Request{Call: transfer()})
	require.Equal(t, ffi.StatusHostUnavailable, resp.Status)
}

func TestPanicRecovery(t *testing.T) {
	e := newTestEnclave(t, func(cfg *config.Config) { cfg.Doorbell.Slots = 1 })
	initialize(t, e)
	boom := host.QuerierFunc(func(context.Context, []byte) ([]byte, error) {
		panic("host exploded")
	})
	resp := handle(t, e, boom, &ffi.Request{Call: transfer()})
	require.Equal(t, ffi.StatusInternal, resp.Status)
	require.Empty(t, resp.Error)
	require.Nil(t, resp.Transaction)

	// The slot was released during the unwind.
	resp = handle(t, e, nil, &ffi.Request{IsInitialized: &ffi.Empty{}})
	require.Equal(t, ffi.StatusOK, resp.Status)
}

func TestReentrantQuerySkipsDoorbell(t *testing.T) {
	e := newTestEnclave(t, func(cfg *config.Config) {
		cfg.Doorbell.Slots = 1
		cfg.Doorbell.Timeout = config.Duration{Duration: 50 * time.Millisecond}
	})
	initialize(t, e)
	db := newHost(t)

	var nested []ffi.Status
	q := host.QuerierFunc(func(ctx context.Context, req []byte) ([]byte, error) {
		resp := e.Handle(ctx, nil, &ffi.Request{IsInitialized: &ffi.Empty{}})
		nested = append(nested, resp.Status)
		return db.Query(ctx, req)
	})
	resp := handle(t, e, q, &ffi.Request{Call: transfer()})
	require.Equal(t, ffi.StatusOK, resp.Status, resp.Error)
	require.NotEmpty(t, nested)
	for _, status := range nested {
		require.Equal(t, ffi.StatusOK, status)
	}
}

func TestDoorbellBusy(t *testing.T) {
	d := NewDoorbell(1, 20*time.Millisecond)

	ctx, release, err := d.Enter(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, Depth(ctx))

	_, _, err = d.Enter(context.Background())
	require.ErrorIs(t, err, ErrBusy)

	nested, releaseNested, err := d.Enter(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, Depth(nested))
	releaseNested()

	release()
	_, release, err = d.Enter(context.Background())
	require.NoError(t, err)
	release()
}

func TestBusyStatus(t *testing.T) {
	e := newTestEnclave(t, func(cfg *config.Config) {
		cfg.Doorbell.Slots = 1
		cfg.Doorbell.Timeout = config.Duration{Duration: 20 * time.Millisecond}
	})
	_, release, err := e.doorbell.Enter(context.Background())
	require.NoError(t, err)
	defer release()

	resp := handle(t, e, nil, &ffi.Request{IsInitialized: &ffi.Empty{}})
	require.Equal(t, ffi.StatusBusy, resp.Status)
	require.Equal(t, 1.0, testutil.ToFloat64(e.metrics.busy))
}

func TestEpochAdministration(t *testing.T) {
	e := newTestEnclave(t, nil)
	initialize(t, e)
	genesis := handle(t, e, nil, &ffi.Request{PublicKey: &ffi.PublicKeyRequest{}}).PublicKey.PublicKey

	resp := handle(t, e, nil, &ffi.Request{AddEpoch: &ffi.AddEpochRequest{StartingBlock: 100}})
	require.Equal(t, ffi.StatusOK, resp.Status, resp.Error)
	require.Len(t, resp.Epochs.Epochs, 2)
	require.Equal(t, uint32(1), resp.Epochs.Epochs[1].Number)
	require.Equal(t, uint64(100), resp.Epochs.Epochs[1].StartingBlock)

	at := handle(t, e, nil, &ffi.Request{PublicKey: &ffi.PublicKeyRequest{BlockNumber: 50}})
	require.Equal(t, genesis, at.PublicKey.PublicKey)
	latest := handle(t, e, nil, &ffi.Request{PublicKey: &ffi.PublicKeyRequest{}})
	require.Equal(t, resp.Epochs.Epochs[1].PublicKey, latest.PublicKey.PublicKey)

	resp = handle(t, e, nil, &ffi.Request{AddEpoch: &ffi.AddEpochRequest{StartingBlock: 100}})
	require.Equal(t, ffi.StatusInvalidEpoch, resp.Status)

	resp = handle(t, e, nil, &ffi.Request{RemoveLatestEpoch: &ffi.Empty{}})
	require.Equal(t, ffi.StatusOK, resp.Status)
	require.Len(t, resp.Epochs.Epochs, 1)

	resp = handle(t, e, nil, &ffi.Request{RemoveLatestEpoch: &ffi.Empty{}})
	require.Equal(t, ffi.StatusInvalidEpoch, resp.Status)

	resp = handle(t, e, nil, &ffi.Request{ListEpochs: &ffi.Empty{}})
	require.Len(t, resp.Epochs.Epochs, 1)
	require.Equal(t, genesis, resp.Epochs.Epochs[0].PublicKey)
}

func TestNodeStatus(t *testing.T) {
	e := newTestEnclave(t, nil)

	resp := handle(t, e, nil, &ffi.Request{NodeStatus: &ffi.Empty{}})
	require.Equal(t, ffi.StatusOK, resp.Status)
	require.False(t, resp.NodeStatus.Initialized)
	require.Equal(t, sgx.NewMockAttestor().MREnclave(), resp.NodeStatus.MREnclave)
	require.Empty(t, resp.NodeStatus.Certificate)

	initialize(t, e)
	resp = handle(t, e, nil, &ffi.Request{NodeStatus: &ffi.Empty{}})
	status := resp.NodeStatus
	require.True(t, status.Initialized)
	require.Equal(t, uint32(1), status.Epochs)
	require.Equal(t, Version, status.Version)

	cert, err := x509.ParseCertificate(status.Certificate)
	require.NoError(t, err)
	q, err := sgx.VerifyCertificate(sgx.NewPolicyVerifier(sgx.DefaultMockCA().Roots(), false), cert)
	require.NoError(t, err)
	require.NoError(t, sgx.CheckBinding(q, status.PublicKey))
}

func TestBootstrapAndAttest(t *testing.T) {
	provider := newTestEnclave(t, nil)
	joiner := newTestEnclave(t, nil)

	resp := handle(t, provider, nil, &ffi.Request{StartBootstrapServer: &ffi.StartBootstrapServerRequest{}})
	require.Equal(t, ffi.StatusNotInitialized, resp.Status)

	initialize(t, provider)
	resp = handle(t, provider, nil, &ffi.Request{StartBootstrapServer: &ffi.StartBootstrapServerRequest{}})
	require.Equal(t, ffi.StatusOK, resp.Status, resp.Error)
	addr := resp.BootstrapServer.ListenAddr

	again := handle(t, provider, nil, &ffi.Request{StartBootstrapServer: &ffi.StartBootstrapServerRequest{}})
	require.Equal(t, addr, again.BootstrapServer.ListenAddr)

	hostname, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 32)
	require.NoError(t, err)
	attest := &ffi.AttestationRequest{Hostname: hostname, Port: uint32(port)}

	resp = handle(t, joiner, nil, &ffi.Request{DCAPAttestation: attest})
	require.Equal(t, ffi.StatusOK, resp.Status, resp.Error)
	require.True(t, joiner.IsInitialized())

	want := handle(t, provider, nil, &ffi.Request{PublicKey: &ffi.PublicKeyRequest{}}).PublicKey.PublicKey
	got := handle(t, joiner, nil, &ffi.Request{PublicKey: &ffi.PublicKeyRequest{}}).PublicKey.PublicKey
	require.Equal(t, want, got)

	resp = handle(t, joiner, nil, &ffi.Request{EPIDAttestation: attest})
	require.Equal(t, ffi.StatusAlreadyInitialized, resp.Status)

	attest.ResetFlag = true
	resp = handle(t, joiner, nil, &ffi.Request{EPIDAttestation: attest})
	require.Equal(t, ffi.StatusOK, resp.Status, resp.Error)

	require.NoError(t, provider.Close())
	require.Equal(t, 2.0, testutil.ToFloat64(joiner.metrics.provisioning.WithLabelValues("requester", "success")))
}

func TestAttestFailure(t *testing.T) {
	e := newTestEnclave(t, func(cfg *config.Config) {
		cfg.Bootstrap.HandshakeTimeout = config.Duration{Duration: time.Second}
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	resp := handle(t, e, nil, &ffi.Request{DCAPAttestation: &ffi.AttestationRequest{Hostname: "127.0.0.1", Port: uint32(addr.Port)}})
	require.Equal(t, ffi.StatusAttestationFailed, resp.Status)
	require.False(t, e.IsInitialized())
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want ffi.Status
	}{
		{nil, ffi.StatusOK},
		{keymanager.ErrNotInitialized, ffi.StatusNotInitialized},
		{keymanager.ErrAlreadyInitialized, ffi.StatusAlreadyInitialized},
		{ErrBusy, ffi.StatusBusy},
		{fmt.Errorf("decode: %w", ffi.ErrBadPayload), ffi.StatusBadPayload},
		{keymanager.ErrCorruptCiphertext, ffi.StatusCorruptCiphertext},
		{host.ErrHostUnavailable, ffi.StatusHostUnavailable},
		{provisioning.ErrAttestationFailed, ffi.StatusAttestationFailed},
		{keymanager.ErrNoEpoch, ffi.StatusInvalidEpoch},
		{errors.New("boom"), ffi.StatusInternal},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Status(tt.err), "%v", tt.err)
	}
}
