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

package sgx

import (
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrQuoteRejected is returned when a quote does not satisfy the policy.
var ErrQuoteRejected = errors.New("quote rejected")

// Verifier checks quotes presented by peers.
type Verifier interface {
	// VerifyQuote parses quote and checks it against the local policy.
	VerifyQuote(quote []byte) (*Quote, error)
}

// PolicyVerifier accepts quotes that are signed through a PCK chain ending
// in one of its roots and whose measurements are allowlisted. An empty
// allowlist accepts any value for that measurement.
//
// TCB status and revocation collateral are not evaluated.
type PolicyVerifier struct {
	roots *x509.CertPool

	mu               sync.RWMutex
	allowedMREnclave map[[32]byte]bool
	allowedMRSigner  map[[32]byte]bool
	allowDebug       bool
}

// NewPolicyVerifier returns a verifier trusting roots with empty
// allowlists. A nil pool rejects every quote.
func NewPolicyVerifier(roots *x509.CertPool, allowDebug bool) *PolicyVerifier {
	return &PolicyVerifier{
		roots:            roots,
		allowedMREnclave: make(map[[32]byte]bool),
		allowedMRSigner:  make(map[[32]byte]bool),
		allowDebug:       allowDebug,
	}
}

// VerifyQuote implements Verifier.
func (v *PolicyVerifier) VerifyQuote(quote []byte) (*Quote, error) {
	q, err := ParseQuote(quote)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteRejected, err)
	}
	if err := verifyQuoteSignature(quote, q.Version, q.AttestationKeyType, v.roots); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteRejected, err)
	}
	if q.Debug() && !v.allowDebug {
		return nil, fmt.Errorf("%w: debug enclave", ErrQuoteRejected)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.allowedMREnclave) > 0 && !v.allowedMREnclave[q.MREnclave] {
		return nil, fmt.Errorf("%w: MRENCLAVE %x not allowed", ErrQuoteRejected, q.MREnclave)
	}
	if len(v.allowedMRSigner) > 0 && !v.allowedMRSigner[q.MRSigner] {
		return nil, fmt.Errorf("%w: MRSIGNER %x not allowed", ErrQuoteRejected, q.MRSigner)
	}
	return q, nil
}

// AllowMREnclave adds a measurement to the MRENCLAVE allowlist.
func (v *PolicyVerifier) AllowMREnclave(m [32]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.allowedMREnclave[m] = true
}

// AllowMRSigner adds a measurement to the MRSIGNER allowlist.
func (v *PolicyVerifier) AllowMRSigner(m [32]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.allowedMRSigner[m] = true
}

// ParseMeasurement decodes a hex encoded 32 byte measurement.
func ParseMeasurement(s string) ([32]byte, error) {
	var m [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return m, fmt.Errorf("invalid measurement %q: %w", s, err)
	}
	if len(raw) != len(m) {
		return m, fmt.Errorf("invalid measurement %q: got %d bytes", s, len(raw))
	}
	copy(m[:], raw)
	return m, nil
}

// NewVerifierFromLists builds a policy verifier from hex encoded
// allowlists.
func NewVerifierFromLists(roots *x509.CertPool, mrenclaves, mrsigners []string, allowDebug bool) (*PolicyVerifier, error) {
	v := NewPolicyVerifier(roots, allowDebug)
	for _, s := range mrenclaves {
		m, err := ParseMeasurement(s)
		if err != nil {
			return nil, err
		}
		v.AllowMREnclave(m)
	}
	for _, s := range mrsigners {
		m, err := ParseMeasurement(s)
		if err != nil {
			return nil, err
		}
		v.AllowMRSigner(m)
	}
	return v, nil
}

// LoadRoots reads PEM encoded PCK root certificates from path.
func LoadRoots(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCK roots: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates in %s", path)
	}
	return pool, nil
}

// TrustedRoots returns the PCK roots for an attestation mode. A configured
// file always wins; mock mode otherwise trusts the default mock root.
func TrustedRoots(mode, path string) (*x509.CertPool, error) {
	if path != "" {
		return LoadRoots(path)
	}
	if mode == ModeMock {
		return DefaultMockCA().Roots(), nil
	}
	return nil, fmt.Errorf("attestation mode %q needs a PCK root certificate", mode)
}
