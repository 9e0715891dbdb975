package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 8, cfg.Doorbell.Slots)
	require.Equal(t, 30*time.Second, cfg.Doorbell.Timeout.Duration)
	require.Equal(t, ".swtr_seed", cfg.SeedFile)
	require.Equal(t, 1024, cfg.EVM.CallStackLimit)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enclave.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
seed_home = "/data/seed"

[doorbell]
slots = 4
timeout = "5s"

[evm]
pairing_schedule = "istanbul"

[attestation]
mode = "gramine"
pck_root_ca = "/etc/swtr/pck_roots.pem"
allowed_mrenclaves = ["0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"]
`), 0600))

	t.Setenv(EnvDoorbellSlots, "16")
	t.Setenv(EnvSeedHome, "")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/data/seed", cfg.SeedHome)
	require.Equal(t, 16, cfg.Doorbell.Slots)
	require.Equal(t, 5*time.Second, cfg.Doorbell.Timeout.Duration)
	require.Equal(t, PairingScheduleIstanbul, cfg.EVM.PairingSchedule)
	require.Equal(t, AttestationGramine, cfg.Attestation.Mode)
	require.Len(t, cfg.Attestation.AllowedMREnclaves, 1)
	require.Equal(t, "/etc/swtr/pck_roots.pem", cfg.Attestation.PCKRootCA)

	// Defaults not named in the file survive.
	require.Equal(t, 24576, cfg.EVM.MaxCodeSize)
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enclave.toml")
	require.NoError(t, os.WriteFile(path, []byte("no_such_key = 1\n"), 0600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestDumpRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Doorbell.Timeout = Duration{time.Minute}
	out, err := cfg.Dump()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dump.toml")
	require.NoError(t, os.WriteFile(path, out, 0600))

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFile(path))
	require.Equal(t, cfg.Doorbell, loaded.Doorbell)
	require.Equal(t, cfg.EVM, loaded.EVM)
	require.Equal(t, cfg.Bootstrap, loaded.Bootstrap)
	require.Equal(t, cfg.SeedHome, loaded.SeedHome)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero slots", func(c *Config) { c.Doorbell.Slots = 0 }},
		{"zero timeout", func(c *Config) { c.Doorbell.Timeout = Duration{} }},
		{"seed file path", func(c *Config) { c.SeedFile = "../seed" }},
		{"deep stack", func(c *Config) { c.EVM.CallStackLimit = 2048 }},
		{"init code smaller than code", func(c *Config) { c.EVM.MaxInitCodeSize = 100 }},
		{"pairing schedule", func(c *Config) { c.EVM.PairingSchedule = "byzantium" }},
		{"attestation mode", func(c *Config) { c.Attestation.Mode = "epid" }},
		{"gramine without roots", func(c *Config) { c.Attestation.Mode = AttestationGramine }},
		{"bad mrenclave", func(c *Config) { c.Attestation.AllowedMREnclaves = []string{"abc"} }},
		{"rate limit", func(c *Config) { c.Bootstrap.RateLimit = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidateManifestPinned(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Attestation.Mode = AttestationGramine
	cfg.SeedHome = "/data/other"

	t.Setenv(EnvSeedHome, "/data/seed")
	require.ErrorIs(t, cfg.ValidateManifestPinned(), ErrInvalidConfig)

	cfg.SeedHome = "/data/seed/"
	require.NoError(t, cfg.ValidateManifestPinned())

	cfg.SeedHome = "/data/other"
	cfg.Attestation.Mode = AttestationMock
	require.NoError(t, cfg.ValidateManifestPinned())
}
