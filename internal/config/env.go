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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by ApplyEnv.
const (
	EnvSeedHome        = "SEED_HOME"
	EnvEnclaveHome     = "ENCLAVE_HOME"
	EnvManifest        = "SWTR_MANIFEST"
	EnvDoorbellSlots   = "SWTR_DOORBELL_SLOTS"
	EnvDoorbellTimeout = "SWTR_DOORBELL_TIMEOUT"
	EnvAttestationMode = "SWTR_ATTESTATION_MODE"
	EnvAllowedEnclaves = "SWTR_ALLOWED_MRENCLAVES"
	EnvBootstrapAddr   = "SWTR_BOOTSTRAP_ADDR"
	EnvPCKRootCA       = "SWTR_PCK_ROOT_CA"
)

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() error {
	c.SeedHome = getEnvOrDefault(EnvSeedHome, c.SeedHome)
	c.EnclaveHome = getEnvOrDefault(EnvEnclaveHome, c.EnclaveHome)
	c.ManifestPath = getEnvOrDefault(EnvManifest, c.ManifestPath)
	c.Attestation.Mode = getEnvOrDefault(EnvAttestationMode, c.Attestation.Mode)
	c.Bootstrap.ListenAddr = getEnvOrDefault(EnvBootstrapAddr, c.Bootstrap.ListenAddr)
	c.Attestation.PCKRootCA = getEnvOrDefault(EnvPCKRootCA, c.Attestation.PCKRootCA)

	if v := os.Getenv(EnvDoorbellSlots); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", EnvDoorbellSlots, v, err)
		}
		c.Doorbell.Slots = n
	}
	if v := os.Getenv(EnvDoorbellTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", EnvDoorbellTimeout, v, err)
		}
		c.Doorbell.Timeout = Duration{d}
	}
	if v := os.Getenv(EnvAllowedEnclaves); v != "" {
		c.Attestation.AllowedMREnclaves = nil
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				c.Attestation.AllowedMREnclaves = append(c.Attestation.AllowedMREnclaves, m)
			}
		}
	}
	return nil
}

// getEnvOrDefault retrieves an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
