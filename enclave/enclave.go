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

// Package enclave is the request router of the enclave. It decodes the
// framed protobuf requests handed over by the host, admits them through the
// doorbell and dispatches them to the transaction pipeline, the key manager
// or the provisioning endpoints.
package enclave

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/swisstronik/evm-enclave/core/dispatcher"
	"github.com/swisstronik/evm-enclave/core/host"
	"github.com/swisstronik/evm-enclave/core/invoker"
	"github.com/swisstronik/evm-enclave/core/vm"
	"github.com/swisstronik/evm-enclave/ffi"
	"github.com/swisstronik/evm-enclave/internal/config"
	"github.com/swisstronik/evm-enclave/internal/sgx"
	"github.com/swisstronik/evm-enclave/keymanager"
	"github.com/swisstronik/evm-enclave/provisioning"
	"github.com/swisstronik/evm-enclave/storage"
)

// Version is reported in the node status.
const Version = "1.0.0"

// Options wires an Enclave. Nil attestor and verifier are derived from the
// attestation section of Config.
type Options struct {
	Config   *config.Config
	Store    storage.SealedStore
	Attestor sgx.Attestor
	Verifier sgx.Verifier
	Registry prometheus.Registerer
}

// Enclave routes host requests. It is safe for concurrent use.
type Enclave struct {
	cfg        *config.Config
	vault      *keymanager.Vault
	attestor   sgx.Attestor
	verifier   sgx.Verifier
	dispatcher *dispatcher.Dispatcher
	doorbell   *Doorbell
	metrics    *metrics

	mu        sync.Mutex
	bootstrap *bootstrapServer
}

// New creates an enclave over the sealed store in opts.
func New(opts Options) (*Enclave, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Store == nil {
		return nil, errors.New("no sealed store")
	}
	attestor := opts.Attestor
	if attestor == nil {
		a, err := sgx.NewAttestor(cfg.Attestation.Mode)
		if err != nil {
			return nil, err
		}
		attestor = a
	}
	verifier := opts.Verifier
	if verifier == nil {
		roots, err := sgx.TrustedRoots(cfg.Attestation.Mode, cfg.Attestation.PCKRootCA)
		if err != nil {
			return nil, err
		}
		v, err := sgx.NewVerifierFromLists(roots, cfg.Attestation.AllowedMREnclaves, cfg.Attestation.AllowedMRSigners, cfg.Attestation.AllowDebug)
		if err != nil {
			return nil, err
		}
		verifier = v
	}
	m := newMetrics(opts.Registry)
	doorbell := NewDoorbell(cfg.Doorbell.Slots, cfg.Doorbell.Timeout.Duration)
	doorbell.metrics = m

	e := &Enclave{
		cfg:        cfg,
		vault:      keymanager.NewVault(opts.Store),
		attestor:   attestor,
		verifier:   verifier,
		dispatcher: dispatcher.New(invoker.New(VMConfig(cfg.EVM))),
		doorbell:   doorbell,
		metrics:    m,
	}
	log.Info("Enclave ready", "initialized", e.vault.IsInitialized(), "attestation", cfg.Attestation.Mode,
		"doorbell", cfg.Doorbell.Slots, "mrenclave", fmt.Sprintf("%x", attestor.MREnclave()))
	return e, nil
}

// VMConfig translates the EVM section of the configuration.
func VMConfig(c config.EVMConfig) *vm.Config {
	cfg := vm.DefaultConfig()
	if c.CallStackLimit > 0 {
		cfg.CallStackLimit = c.CallStackLimit
	}
	if c.MaxCodeSize > 0 {
		cfg.MaxCodeSize = c.MaxCodeSize
	}
	if c.MaxInitCodeSize > 0 {
		cfg.MaxInitCodeSize = c.MaxInitCodeSize
	}
	if c.PairingSchedule == config.PairingScheduleIstanbul {
		cfg.Pairing = vm.PairingIstanbul
	}
	cfg.WarmCoinbase = c.WarmCoinbase
	return cfg
}

// IsInitialized reports whether a master key is available.
func (e *Enclave) IsInitialized() bool {
	return e.vault.IsInitialized()
}

// HandleRequest decodes one encoded ffi.Request, handles it and returns the
// encoded ffi.Response. It never fails; errors travel in the status code.
func (e *Enclave) HandleRequest(ctx context.Context, q host.Querier, raw []byte) []byte {
	req := new(ffi.Request)
	if err := req.Unmarshal(raw); err != nil {
		e.metrics.requests.WithLabelValues("unknown", ffi.StatusBadPayload.String()).Inc()
		return errorResponse(err).Marshal()
	}
	return e.Handle(ctx, q, req).Marshal()
}

// Handle admits req through the doorbell and routes it. Panics are
// converted into an internal error response.
func (e *Enclave) Handle(ctx context.Context, q host.Querier, req *ffi.Request) (resp *ffi.Response) {
	kind := req.Kind()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("Request handler panicked", "kind", kind, "panic", r, "stack", string(debug.Stack()))
			resp = &ffi.Response{Status: ffi.StatusInternal}
		}
		e.metrics.requests.WithLabelValues(kind, resp.Status.String()).Inc()
		e.metrics.requestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	ctx, release, err := e.doorbell.Enter(ctx)
	if err != nil {
		log.Warn("Rejected request", "kind", kind, "err", err)
		return errorResponse(err)
	}
	defer release()

	resp, err = e.route(ctx, q, req)
	if err != nil {
		log.Debug("Request failed", "kind", kind, "err", err)
		return errorResponse(err)
	}
	return resp
}

func (e *Enclave) route(ctx context.Context, q host.Querier, req *ffi.Request) (*ffi.Response, error) {
	switch {
	case req.Call != nil:
		return e.transact(ctx, q, dispatcher.KindCall, req.Call)
	case req.Create != nil:
		return e.transact(ctx, q, dispatcher.KindCreate, req.Create)
	case req.EstimateGas != nil:
		return e.transact(ctx, q, dispatcher.KindEstimate, req.EstimateGas)
	case req.PublicKey != nil:
		return e.publicKey(req.PublicKey)
	case req.NodeStatus != nil:
		return e.nodeStatus()
	case req.InitializeMasterKey != nil:
		return e.initializeMasterKey(req.InitializeMasterKey)
	case req.StartBootstrapServer != nil:
		return e.startBootstrapServer(req.StartBootstrapServer)
	case req.EPIDAttestation != nil:
		return e.attest(ctx, "epid", req.EPIDAttestation)
	case req.DCAPAttestation != nil:
		return e.attest(ctx, "dcap", req.DCAPAttestation)
	case req.IsInitialized != nil:
		return &ffi.Response{IsInitialized: &ffi.IsInitializedResponse{Initialized: e.vault.IsInitialized()}}, nil
	case req.AddEpoch != nil:
		return e.addEpoch(req.AddEpoch)
	case req.RemoveLatestEpoch != nil:
		return e.removeLatestEpoch()
	case req.ListEpochs != nil:
		return e.listEpochs()
	}
	return nil, fmt.Errorf("%w: empty request", ffi.ErrBadPayload)
}

func (e *Enclave) transact(ctx context.Context, q host.Querier, kind dispatcher.Kind, req *ffi.TransactionRequest) (*ffi.Response, error) {
	km, err := e.vault.KeyManager()
	if err != nil {
		return nil, err
	}
	res, err := e.dispatcher.Dispatch(ctx, q, km, kind, req)
	if err != nil {
		return nil, err
	}
	e.metrics.gasUsed.Observe(float64(res.GasUsed))
	return &ffi.Response{Transaction: res}, nil
}

func (e *Enclave) publicKey(req *ffi.PublicKeyRequest) (*ffi.Response, error) {
	km, err := e.vault.KeyManager()
	if err != nil {
		return nil, err
	}
	pub := km.PublicKey()
	if req.BlockNumber != 0 {
		if pub, err = km.PublicKeyAt(req.BlockNumber); err != nil {
			return nil, err
		}
	}
	return &ffi.Response{PublicKey: &ffi.PublicKeyResponse{PublicKey: pub[:]}}, nil
}

// Close stops the bootstrap server if one is running.
func (e *Enclave) Close() error {
	e.mu.Lock()
	srv := e.bootstrap
	e.bootstrap = nil
	e.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.stop()
}

// Status maps an error onto the status code returned to the host.
func Status(err error) ffi.Status {
	switch {
	case err == nil:
		return ffi.StatusOK
	case errors.Is(err, keymanager.ErrNotInitialized):
		return ffi.StatusNotInitialized
	case errors.Is(err, keymanager.ErrAlreadyInitialized):
		return ffi.StatusAlreadyInitialized
	case errors.Is(err, ErrBusy):
		return ffi.StatusBusy
	case errors.Is(err, ffi.ErrBadPayload):
		return ffi.StatusBadPayload
	case errors.Is(err, keymanager.ErrCorruptCiphertext):
		return ffi.StatusCorruptCiphertext
	case errors.Is(err, host.ErrHostUnavailable):
		return ffi.StatusHostUnavailable
	case errors.Is(err, provisioning.ErrAttestationFailed):
		return ffi.StatusAttestationFailed
	case errors.Is(err, keymanager.ErrInvalidEpoch), errors.Is(err, keymanager.ErrNoEpoch):
		return ffi.StatusInvalidEpoch
	}
	return ffi.StatusInternal
}

func errorResponse(err error) *ffi.Response {
	status := Status(err)
	resp := &ffi.Response{Status: status}
	if status != ffi.StatusInternal {
		resp.Error = err.Error()
	}
	return resp
}
