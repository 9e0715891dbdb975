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

package enclave

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/ethereum/go-ethereum/log"
	"github.com/swisstronik/evm-enclave/ffi"
	"github.com/swisstronik/evm-enclave/internal/sgx"
	"github.com/swisstronik/evm-enclave/keymanager"
	"github.com/swisstronik/evm-enclave/provisioning"
)

type bootstrapServer struct {
	addr   string
	cancel context.CancelFunc
	done   chan error
}

func (s *bootstrapServer) stop() error {
	s.cancel()
	return <-s.done
}

func (e *Enclave) nodeStatus() (*ffi.Response, error) {
	status := &ffi.NodeStatusResponse{
		Initialized: e.vault.IsInitialized(),
		MREnclave:   e.attestor.MREnclave(),
		Version:     Version,
	}
	if status.Initialized {
		km, err := e.vault.KeyManager()
		if err != nil {
			return nil, err
		}
		pub := km.PublicKey()
		status.PublicKey = pub[:]
		status.Epochs = uint32(len(km.Epochs()))

		cert, err := sgx.NewCertificate(e.attestor, pub[:])
		if err != nil {
			return nil, fmt.Errorf("failed to create status certificate: %w", err)
		}
		status.Certificate = cert.Certificate[0]
	}
	return &ffi.Response{NodeStatus: status}, nil
}

func (e *Enclave) initializeMasterKey(req *ffi.InitializeMasterKeyRequest) (*ffi.Response, error) {
	km, err := e.vault.Initialize(req.ShouldReset)
	if err != nil {
		return nil, err
	}
	pub := km.PublicKey()
	log.Info("Initialized master key", "reset", req.ShouldReset, "pubkey", fmt.Sprintf("%x", pub))
	return &ffi.Response{IsInitialized: &ffi.IsInitializedResponse{Initialized: true}}, nil
}

// startBootstrapServer launches the provider in the background. A running
// server is reused.
func (e *Enclave) startBootstrapServer(req *ffi.StartBootstrapServerRequest) (*ffi.Response, error) {
	if !e.vault.IsInitialized() {
		return nil, keymanager.ErrNotInitialized
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bootstrap != nil {
		return &ffi.Response{BootstrapServer: &ffi.BootstrapServerResponse{ListenAddr: e.bootstrap.addr}}, nil
	}
	addr := req.ListenAddr
	if addr == "" {
		addr = e.cfg.Bootstrap.ListenAddr
	}
	provider, err := provisioning.NewProvider(e.attestor, e.verifier, e.vault, provisioning.ProviderConfig{
		HandshakeTimeout: e.cfg.Bootstrap.HandshakeTimeout.Duration,
		RateLimit:        e.cfg.Bootstrap.RateLimit,
		RateBurst:        e.cfg.Bootstrap.RateBurst,
	})
	if err != nil {
		return nil, err
	}
	provider.OnSession = func(err error) {
		e.metrics.provisioning.WithLabelValues("provider", result(err)).Inc()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := &bootstrapServer{addr: ln.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	go func() { srv.done <- provider.Serve(ctx, ln) }()
	e.bootstrap = srv
	return &ffi.Response{BootstrapServer: &ffi.BootstrapServerResponse{ListenAddr: srv.addr}}, nil
}

// attest obtains the master key from a bootstrap server. Both attestation
// flavours produce a DCAP quote through Gramine.
func (e *Enclave) attest(ctx context.Context, flavour string, req *ffi.AttestationRequest) (*ffi.Response, error) {
	if !req.ResetFlag && e.vault.IsInitialized() {
		return nil, keymanager.ErrAlreadyInitialized
	}
	addr := net.JoinHostPort(req.Hostname, strconv.FormatUint(uint64(req.Port), 10))
	log.Info("Requesting master key", "flavour", flavour, "server", addr, "reset", req.ResetFlag)

	requester := provisioning.NewRequester(e.attestor, e.verifier, e.cfg.Bootstrap.HandshakeTimeout.Duration)
	km, err := requester.Request(ctx, addr)
	if err == nil {
		err = e.vault.Install(km, req.ResetFlag)
	}
	e.metrics.provisioning.WithLabelValues("requester", result(err)).Inc()
	if err != nil {
		return nil, err
	}
	return &ffi.Response{IsInitialized: &ffi.IsInitializedResponse{Initialized: true}}, nil
}

func (e *Enclave) addEpoch(req *ffi.AddEpochRequest) (*ffi.Response, error) {
	km, err := e.vault.Update(func(km *keymanager.KeyManager) (*keymanager.KeyManager, error) {
		next, info, err := km.AddEpoch(req.StartingBlock)
		if err != nil {
			return nil, err
		}
		log.Info("Added key epoch", "epoch", info.Number, "start", info.StartingBlock)
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return epochsResponse(km), nil
}

func (e *Enclave) removeLatestEpoch() (*ffi.Response, error) {
	km, err := e.vault.Update((*keymanager.KeyManager).RemoveLatestEpoch)
	if err != nil {
		return nil, err
	}
	log.Warn("Removed latest key epoch", "remaining", len(km.Epochs()))
	return epochsResponse(km), nil
}

func (e *Enclave) listEpochs() (*ffi.Response, error) {
	km, err := e.vault.KeyManager()
	if err != nil {
		return nil, err
	}
	return epochsResponse(km), nil
}

func epochsResponse(km *keymanager.KeyManager) *ffi.Response {
	infos := km.Epochs()
	out := &ffi.EpochsResponse{Epochs: make([]*ffi.EpochMessage, 0, len(infos))}
	for _, info := range infos {
		out.Epochs = append(out.Epochs, &ffi.EpochMessage{
			Number:        uint32(info.Number),
			StartingBlock: info.StartingBlock,
			PublicKey:     info.PublicKey,
		})
	}
	return &ffi.Response{Epochs: out}
}
