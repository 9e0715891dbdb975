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

// Package provisioning moves the master key between enclaves over mutually
// attested TLS. A joining enclave runs the Requester against a Provider
// hosted by an enclave that already holds the key.
//
// Each side generates an ephemeral X25519 registration key whose public
// half is bound into its RA-TLS quote. After the handshake the requester
// sends its registration key and the provider replies with its own
// registration key followed by the sealed key manager, encrypted under the
// key both sides derive from the X25519 exchange.
package provisioning

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/swisstronik/evm-enclave/ffi"
	"github.com/swisstronik/evm-enclave/internal/primitives"
	"github.com/swisstronik/evm-enclave/internal/sgx"
)

// DefaultHandshakeTimeout bounds one provisioning session.
const DefaultHandshakeTimeout = 30 * time.Second

// ErrAttestationFailed wraps every failure of a provisioning session.
var ErrAttestationFailed = errors.New("attestation failed")

// attestationFailure wraps err as a provisioning failure.
func attestationFailure(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrAttestationFailed, step, err)
}

// readRegistrationKey reads one frame holding an X25519 public key.
func readRegistrationKey(r *bufio.Reader) ([primitives.PublicKeySize]byte, error) {
	var pub [primitives.PublicKeySize]byte
	frame, err := ffi.ReadFrame(r)
	if err != nil {
		return pub, err
	}
	if len(frame) != len(pub) {
		return pub, fmt.Errorf("registration key has %d bytes", len(frame))
	}
	copy(pub[:], frame)
	return pub, nil
}

// writeWrapped sends the provider reply: own registration key || wrapped key.
func writeWrapped(w io.Writer, regPub [primitives.PublicKeySize]byte, wrapped []byte) error {
	msg := make([]byte, 0, len(regPub)+len(wrapped))
	msg = append(msg, regPub[:]...)
	msg = append(msg, wrapped...)
	return ffi.WriteFrame(w, msg)
}

// splitWrapped reverses writeWrapped.
func splitWrapped(msg []byte) ([]byte, []byte, error) {
	if len(msg) < primitives.PublicKeySize+primitives.Overhead {
		return nil, nil, fmt.Errorf("reply too short: %d bytes", len(msg))
	}
	return msg[:primitives.PublicKeySize], msg[primitives.PublicKeySize:], nil
}

// verifiedPeer checks that the peer quote commits to the registration key
// the peer presented.
func verifiedPeer(q *sgx.Quote, regPub []byte) error {
	if q == nil {
		return errors.New("peer not attested")
	}
	return sgx.CheckBinding(q, regPub)
}
