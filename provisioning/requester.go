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

package provisioning

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/swisstronik/evm-enclave/ffi"
	"github.com/swisstronik/evm-enclave/internal/primitives"
	"github.com/swisstronik/evm-enclave/internal/sgx"
	"github.com/swisstronik/evm-enclave/keymanager"
)

// Requester obtains the master key from a bootstrap server.
type Requester struct {
	attestor sgx.Attestor
	verifier sgx.Verifier
	timeout  time.Duration
}

// NewRequester returns a requester. A zero timeout selects
// DefaultHandshakeTimeout.
func NewRequester(a sgx.Attestor, v sgx.Verifier, timeout time.Duration) *Requester {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	return &Requester{attestor: a, verifier: v, timeout: timeout}
}

// Request connects to addr and returns the key manager held by the
// provider. Nothing is sealed locally; the caller installs the result.
func (r *Requester) Request(ctx context.Context, addr string) (*keymanager.KeyManager, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	regKey, regPub, err := primitives.GenerateX25519()
	if err != nil {
		return nil, attestationFailure("registration key", err)
	}
	cert, err := sgx.NewCertificate(r.attestor, regPub[:])
	if err != nil {
		return nil, attestationFailure("certificate", err)
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: r.timeout},
		Config:    sgx.ClientConfig(cert, r.verifier),
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, attestationFailure("handshake", err)
	}
	defer conn.Close()
	return r.exchange(ctx, conn.(*tls.Conn), regKey, regPub)
}

func (r *Requester) exchange(ctx context.Context, conn *tls.Conn, regKey [primitives.KeySize]byte, regPub [primitives.PublicKeySize]byte) (*keymanager.KeyManager, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	quote, err := sgx.PeerQuote(r.verifier, conn.ConnectionState())
	if err != nil {
		return nil, attestationFailure("server quote", err)
	}
	if err := ffi.WriteFrame(conn, regPub[:]); err != nil {
		return nil, attestationFailure("send registration key", err)
	}
	reply, err := ffi.ReadFrame(bufio.NewReader(conn))
	if err != nil {
		return nil, attestationFailure("receive master key", err)
	}
	peerPub, wrapped, err := splitWrapped(reply)
	if err != nil {
		return nil, attestationFailure("receive master key", err)
	}
	if err := verifiedPeer(quote, peerPub); err != nil {
		return nil, attestationFailure("server binding", err)
	}
	km, err := keymanager.UnwrapFromPeer(regKey, peerPub, wrapped)
	if err != nil {
		return nil, attestationFailure("unwrap master key", err)
	}
	log.Info("Received master key", "server", conn.RemoteAddr(), "mrenclave", fmt.Sprintf("%x", quote.MREnclave), "epochs", len(km.Epochs()))
	return km, nil
}
