//go:build testenv
// +build testenv

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
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// testenvMeasurement is the MRENCLAVE reported by the synthetic device.
var testenvMeasurement = func() [32]byte {
	var m [32]byte
	for i := range m {
		m[i] = byte(i)
	}
	return m
}()

// generateQuoteViaGramine builds a DCAP v3 shaped quote in place of the
// attestation device.
func generateQuoteViaGramine(reportData [ReportDataSize]byte) ([]byte, error) {
	log.Debug("Generating synthetic quote", "reportdata", fmt.Sprintf("%x", reportData[:32]))
	return testenvAttestor().Quote(reportData)
}

// testenvAttestor signs synthetic quotes under the default mock root.
var testenvAttestor = sync.OnceValue(func() *MockAttestor {
	return NewMockAttestorWith(testenvMeasurement, [32]byte{})
})

func readMREnclave() ([]byte, error) {
	return append([]byte(nil), testenvMeasurement[:]...), nil
}
