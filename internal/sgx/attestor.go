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

// Package sgx produces and checks SGX DCAP quotes through Gramine's
// /dev/attestation interface and binds them to TLS certificates.
package sgx

import (
	"fmt"
)

// ReportDataSize is the size of the user data carried in a quote.
const ReportDataSize = 64

// Attestation modes.
const (
	ModeMock    = "mock"
	ModeGramine = "gramine"
)

// Attestor produces quotes for the local enclave.
type Attestor interface {
	// Quote returns a quote whose report body carries reportData.
	Quote(reportData [ReportDataSize]byte) ([]byte, error)

	// MREnclave returns the measurement of the local enclave.
	MREnclave() []byte

	// MRSigner returns the hash of the enclave signer's key.
	MRSigner() []byte
}

// NewAttestor returns the attestor for mode.
func NewAttestor(mode string) (Attestor, error) {
	switch mode {
	case ModeGramine:
		return NewGramineAttestor()
	case ModeMock:
		return NewMockAttestor(), nil
	}
	return nil, fmt.Errorf("unknown attestation mode %q", mode)
}
