//go:build !testenv
// +build !testenv

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
	"os"
)

const (
	userReportDataPath = "/dev/attestation/user_report_data"
	quotePath          = "/dev/attestation/quote"
	targetInfoPath     = "/dev/attestation/my_target_info"
)

// generateQuoteViaGramine writes the report data and reads back the quote
// Gramine produces for it.
func generateQuoteViaGramine(reportData [ReportDataSize]byte) ([]byte, error) {
	if err := os.WriteFile(userReportDataPath, reportData[:], 0600); err != nil {
		return nil, fmt.Errorf("failed to write user_report_data: %w", err)
	}
	quote, err := os.ReadFile(quotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote: %w", err)
	}
	return quote, nil
}

// readMREnclave reads MRENCLAVE from the enclave's own target info.
func readMREnclave() ([]byte, error) {
	targetInfo, err := os.ReadFile(targetInfoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", targetInfoPath, err)
	}
	if len(targetInfo) < 32 {
		return nil, fmt.Errorf("target_info too short: got %d bytes, need at least 32", len(targetInfo))
	}
	return append([]byte(nil), targetInfo[:32]...), nil
}
