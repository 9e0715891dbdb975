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
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/swisstronik/evm-enclave/internal/primitives"
	"github.com/swisstronik/evm-enclave/internal/sgx"
	"github.com/swisstronik/evm-enclave/keymanager"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrRateLimited is logged for sessions dropped by the handshake limiter.
var ErrRateLimited = errors.New("handshake rate limit exceeded")

// ProviderConfig tunes a Provider.
type ProviderConfig struct {
	HandshakeTimeout time.Duration
	RateLimit        float64 // handshakes per second, zero disables limiting
	RateBurst        int
}

// Provider serves the master key to attested enclaves.
type Provider struct {
	attestor sgx.Attestor
	verifier sgx.Verifier
	vault    *keymanager.Vault
	timeout  time.Duration
	limiter  *rate.Limiter

	// OnSession is invoked after every session with its outcome.
	OnSession func(err error)
}

// NewProvider returns a provider serving the key held by vault.
func NewProvider(a sgx.Attestor, v sgx.Verifier, vault *keymanager.Vault, cfg ProviderConfig) (*Provider, error) {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Provider{
		attestor: a,
		verifier: v,
		vault:    vault,
		timeout:  timeout,
		limiter:  rate.NewLimiter(limit, burst),
	}, nil
}

// Serve accepts sessions on ln until ctx is cancelled or the listener
// fails. Sessions in flight are awaited before it returns.
func (p *Provider) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		return nil
	})
	log.Info("Bootstrap server started", "addr", ln.Addr())

	var err error
	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			if ctx.Err() == nil {
				err = aerr
			}
			break
		}
		if !p.limiter.Allow() {
			log.Warn("Dropped bootstrap session", "remote", conn.RemoteAddr(), "err", ErrRateLimited)
			conn.Close()
			continue
		}
		g.Go(func() error {
			p.ServeConn(ctx, conn)
			return nil
		})
	}
	cancel()
	g.Wait()
	log.Info("Bootstrap server stopped", "addr", ln.Addr())
	return err
}

// ServeConn runs one provider session on raw and closes it. The outcome is
// logged, reported to OnSession and returned.
func (p *Provider) ServeConn(ctx context.Context, raw net.Conn) error {
	session := uuid.New()
	start := time.Now()

	err := p.serve(ctx, raw)
	if err != nil {
		log.Warn("Bootstrap session failed", "session", session, "remote", raw.RemoteAddr(), "err", err)
	} else {
		log.Info("Provisioned master key", "session", session, "remote", raw.RemoteAddr(), "elapsed", time.Since(start))
	}
	if p.OnSession != nil {
		p.OnSession(err)
	}
	return err
}

func (p *Provider) serve(ctx context.Context, raw net.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// The registration key lives for this session only and is bound into
	// the certificate presented in its handshake.
	regKey, regPub, err := primitives.GenerateX25519()
	if err != nil {
		return attestationFailure("registration key", err)
	}
	certificate := func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		return sgx.NewCertificate(p.attestor, regPub[:])
	}
	conn := tls.Server(raw, sgx.ServerConfig(certificate, p.verifier))
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		return attestationFailure("handshake", err)
	}
	quote, err := sgx.PeerQuote(p.verifier, conn.ConnectionState())
	if err != nil {
		return attestationFailure("client quote", err)
	}
	peerPub, err := readRegistrationKey(bufio.NewReader(conn))
	if err != nil {
		return attestationFailure("receive registration key", err)
	}
	if err := verifiedPeer(quote, peerPub[:]); err != nil {
		return attestationFailure("client binding", err)
	}
	km, err := p.vault.KeyManager()
	if err != nil {
		return fmt.Errorf("failed to load master key: %w", err)
	}
	wrapped, err := km.WrapForPeer(regKey, peerPub[:])
	if err != nil {
		return attestationFailure("wrap master key", err)
	}
	if err := writeWrapped(conn, regPub, wrapped); err != nil {
		return attestationFailure("send master key", err)
	}
	return nil
}
