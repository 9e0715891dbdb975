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
	"fmt"

	"github.com/ethereum/go-ethereum/log"
)

// GramineAttestor implements Attestor on top of Gramine's
// /dev/attestation pseudo files.
type GramineAttestor struct {
	mrenclave []byte
	mrsigner  []byte
}

// NewGramineAttestor reads the local measurements. MRSIGNER is not exposed
// by /dev/attestation, so it is taken from a throwaway quote.
func NewGramineAttestor() (*GramineAttestor, error) {
	mrenclave, err := readMREnclave()
	if err != nil {
		return nil, fmt.Errorf("failed to read MRENCLAVE: %w", err)
	}
	a := &GramineAttestor{mrenclave: mrenclave}

	self, err := a.Quote([ReportDataSize]byte{})
	if err != nil {
		return nil, fmt.Errorf("failed to generate initial quote: %w", err)
	}
	q, err := ParseQuote(self)
	if err != nil {
		return nil, fmt.Errorf("failed to parse initial quote: %w", err)
	}
	a.mrsigner = q.MRSigner[:]
	log.Info("Initialized Gramine attestor", "mrenclave", fmt.Sprintf("%x", mrenclave), "mrsigner", fmt.Sprintf("%x", a.mrsigner))
	return a, nil
}

// Quote generates a quote with the given report data.
func (a *GramineAttestor) Quote(reportData [ReportDataSize]byte) ([]byte, error) {
	return generateQuoteViaGramine(reportData)
}

// MREnclave returns the MRENCLAVE of the local enclave.
func (a *GramineAttestor) MREnclave() []byte {
	return append([]byte(nil), a.mrenclave...)
}

// MRSigner returns the MRSIGNER of the local enclave.
func (a *GramineAttestor) MRSigner() []byte {
	return append([]byte(nil), a.mrsigner...)
}
