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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/swisstronik/evm-enclave/internal/sgx"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate rejects impossible values.
func (c *Config) Validate() error {
	if c.SeedHome == "" {
		return fmt.Errorf("%w: seed home is empty", ErrInvalidConfig)
	}
	if c.SeedFile == "" || filepath.Base(c.SeedFile) != c.SeedFile {
		return fmt.Errorf("%w: seed file %q must be a plain file name", ErrInvalidConfig, c.SeedFile)
	}
	if c.Doorbell.Slots <= 0 {
		return fmt.Errorf("%w: doorbell slots must be positive, got %d", ErrInvalidConfig, c.Doorbell.Slots)
	}
	if c.Doorbell.Timeout.Duration <= 0 {
		return fmt.Errorf("%w: doorbell timeout must be positive", ErrInvalidConfig)
	}
	if c.EVM.CallStackLimit <= 0 || c.EVM.CallStackLimit > 1024 {
		return fmt.Errorf("%w: call stack limit %d out of range", ErrInvalidConfig, c.EVM.CallStackLimit)
	}
	if c.EVM.MaxCodeSize <= 0 || c.EVM.MaxInitCodeSize < c.EVM.MaxCodeSize {
		return fmt.Errorf("%w: code size limits %d/%d", ErrInvalidConfig, c.EVM.MaxCodeSize, c.EVM.MaxInitCodeSize)
	}
	switch c.EVM.PairingSchedule {
	case PairingScheduleDefault, PairingScheduleIstanbul:
	default:
		return fmt.Errorf("%w: unknown pairing schedule %q", ErrInvalidConfig, c.EVM.PairingSchedule)
	}
	switch c.Attestation.Mode {
	case AttestationMock, AttestationGramine:
	default:
		return fmt.Errorf("%w: unknown attestation mode %q", ErrInvalidConfig, c.Attestation.Mode)
	}
	if c.Attestation.Mode == AttestationGramine && c.Attestation.PCKRootCA == "" {
		return fmt.Errorf("%w: gramine attestation needs pck_root_ca", ErrInvalidConfig)
	}
	for _, list := range [][]string{c.Attestation.AllowedMREnclaves, c.Attestation.AllowedMRSigners} {
		for _, m := range list {
			if _, err := sgx.ParseMeasurement(m); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
		}
	}
	if c.Bootstrap.RateLimit <= 0 || c.Bootstrap.RateBurst <= 0 {
		return fmt.Errorf("%w: bootstrap rate limit must be positive", ErrInvalidConfig)
	}
	return nil
}

// ValidateManifestPinned checks that values fixed by the Gramine manifest
// were not overridden. Inside the enclave the manifest's loader.env is part
// of MRENCLAVE, so a seed home that differs from it would point at a mount
// that is not identity-bound.
func (c *Config) ValidateManifestPinned() error {
	pinned := os.Getenv(EnvSeedHome)
	if pinned == "" || c.Attestation.Mode != AttestationGramine {
		return nil
	}
	if filepath.Clean(pinned) != filepath.Clean(c.SeedHome) {
		return fmt.Errorf("%w: seed home mismatch: config=%s, manifest=%s. Manifest parameters cannot be overridden",
			ErrInvalidConfig, c.SeedHome, pinned)
	}
	return nil
}
