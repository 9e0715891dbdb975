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

// Package config holds the enclave runtime configuration. Values come from
// defaults, an optional TOML file and finally the environment, which inside
// Gramine is fixed by the manifest's loader.env section.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/swisstronik/evm-enclave/internal/sgx"
	"github.com/swisstronik/evm-enclave/storage"
)

// Attestation modes.
const (
	AttestationMock    = sgx.ModeMock
	AttestationGramine = sgx.ModeGramine
)

// Pairing gas schedules.
const (
	PairingScheduleDefault  = "default"
	PairingScheduleIstanbul = "istanbul"
)

// Duration is a time.Duration that reads and writes as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the full enclave configuration.
type Config struct {
	SeedHome     string `toml:"seed_home"`
	SeedFile     string `toml:"seed_file"`
	EnclaveHome  string `toml:"enclave_home"`
	ManifestPath string `toml:"manifest_path,omitempty"`

	Doorbell    DoorbellConfig    `toml:"doorbell"`
	Bootstrap   BootstrapConfig   `toml:"bootstrap"`
	EVM         EVMConfig         `toml:"evm"`
	Attestation AttestationConfig `toml:"attestation"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Log         LogConfig         `toml:"log"`
	DevHost     DevHostConfig     `toml:"devhost"`
}

// DoorbellConfig bounds concurrent queries into the enclave.
type DoorbellConfig struct {
	Slots   int      `toml:"slots"`
	Timeout Duration `toml:"timeout"`
}

// BootstrapConfig configures the master key provider.
type BootstrapConfig struct {
	ListenAddr       string   `toml:"listen_addr"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	RateLimit        float64  `toml:"rate_limit"` // handshakes per second
	RateBurst        int      `toml:"rate_burst"`
}

// EVMConfig holds interpreter limits.
type EVMConfig struct {
	CallStackLimit  int    `toml:"call_stack_limit"`
	MaxCodeSize     int    `toml:"max_code_size"`
	MaxInitCodeSize int    `toml:"max_init_code_size"`
	PairingSchedule string `toml:"pairing_schedule"`
	WarmCoinbase    bool   `toml:"warm_coinbase"`
}

// AttestationConfig selects the attestation backend and peer policy.
type AttestationConfig struct {
	Mode              string   `toml:"mode"`
	AllowedMREnclaves []string `toml:"allowed_mrenclaves"`
	AllowedMRSigners  []string `toml:"allowed_mrsigners"`
	AllowDebug        bool     `toml:"allow_debug"`
	// PCKRootCA is a PEM file of roots that quote PCK chains must end in.
	// Mock mode falls back to the built in mock root.
	PCKRootCA string `toml:"pck_root_ca"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// LogConfig controls the root log handler.
type LogConfig struct {
	Level      string `toml:"level"`
	JSON       bool   `toml:"json"`
	File       string `toml:"file,omitempty"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// DevHostConfig configures the LevelDB host used outside the enclave.
type DevHostConfig struct {
	DataDir string `toml:"datadir"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	home := storage.DefaultHome()
	return &Config{
		SeedHome:    home,
		SeedFile:    storage.DefaultSeedFile,
		EnclaveHome: home,
		Doorbell: DoorbellConfig{
			Slots:   8,
			Timeout: Duration{30 * time.Second},
		},
		Bootstrap: BootstrapConfig{
			ListenAddr:       "0.0.0.0:8999",
			HandshakeTimeout: Duration{30 * time.Second},
			RateLimit:        1,
			RateBurst:        4,
		},
		EVM: EVMConfig{
			CallStackLimit:  1024,
			MaxCodeSize:     24576,
			MaxInitCodeSize: 49152,
			PairingSchedule: PairingScheduleDefault,
			WarmCoinbase:    true,
		},
		Attestation: AttestationConfig{
			Mode: AttestationMock,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:6060",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
		},
		DevHost: DevHostConfig{
			DataDir: "",
		},
	}
}

// Load builds the configuration from defaults, the optional TOML file at
// path and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateManifestPinned(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the TOML file at path. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Dump renders the configuration as TOML.
func (c *Config) Dump() ([]byte, error) {
	return toml.Marshal(c)
}

// StorageConfig returns the sealed store location.
func (c *Config) StorageConfig() storage.StorageConfig {
	return storage.StorageConfig{
		SeedHome:     c.SeedHome,
		SeedFile:     c.SeedFile,
		ManifestPath: c.ManifestPath,
	}
}
