package main

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/swisstronik/evm-enclave/core/host"
	"github.com/swisstronik/evm-enclave/enclave"
	"github.com/swisstronik/evm-enclave/ffi"
	"github.com/swisstronik/evm-enclave/internal/config"
)

func testEnclave(t *testing.T) *enclave.Enclave {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SeedHome = t.TempDir()
	e, err := openEnclave(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestServeConn(t *testing.T) {
	e := testEnclave(t)
	db := host.NewMemoryHost()
	defer db.Close()

	client, server := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- serveConn(context.Background(), server, e, db) }()

	r := bufio.NewReader(client)
	exchange := func(req *ffi.Request) *ffi.Response {
		require.NoError(t, ffi.WriteFrame(client, req.Marshal()))
		raw, err := ffi.ReadFrame(r)
		require.NoError(t, err)
		resp := new(ffi.Response)
		require.NoError(t, resp.Unmarshal(raw))
		return resp
	}

	resp := exchange(&ffi.Request{IsInitialized: &ffi.Empty{}})
	require.Equal(t, ffi.StatusOK, resp.Status)
	require.False(t, resp.IsInitialized.Initialized)

	resp = exchange(&ffi.Request{InitializeMasterKey: &ffi.InitializeMasterKeyRequest{}})
	require.Equal(t, ffi.StatusOK, resp.Status)

	resp = exchange(&ffi.Request{PublicKey: &ffi.PublicKeyRequest{}})
	require.Equal(t, ffi.StatusOK, resp.Status)
	require.Len(t, resp.PublicKey.PublicKey, 32)

	require.NoError(t, client.Close())
	require.NoError(t, <-done)
}

func TestSealedKeySurvivesRestart(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SeedHome = t.TempDir()

	first, err := openEnclave(cfg, nil)
	require.NoError(t, err)
	resp, err := request(context.Background(), first, &ffi.Request{InitializeMasterKey: &ffi.InitializeMasterKeyRequest{}})
	require.NoError(t, err)
	require.True(t, resp.IsInitialized.Initialized)
	want, err := request(context.Background(), first, &ffi.Request{PublicKey: &ffi.PublicKeyRequest{}})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := openEnclave(cfg, nil)
	require.NoError(t, err)
	defer second.Close()
	got, err := request(context.Background(), second, &ffi.Request{PublicKey: &ffi.PublicKeyRequest{}})
	require.NoError(t, err)
	require.Equal(t, want.PublicKey.PublicKey, got.PublicKey.PublicKey)

	_, err = request(context.Background(), second, &ffi.Request{InitializeMasterKey: &ffi.InitializeMasterKeyRequest{}})
	require.ErrorContains(t, err, ffi.StatusAlreadyInitialized.String())
}

func TestSetupLoggingToFile(t *testing.T) {
	prev := log.Root()
	defer log.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "enclave.log")
	closer, err := setupLogging(config.LogConfig{Level: "debug", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	require.NotNil(t, closer)
	log.Info("Logging to file", "path", path)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "Logging to file")

	_, err = setupLogging(config.LogConfig{Level: "loud"})
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"trace": log.LevelTrace,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"crit":  log.LevelCrit,
	} {
		got, err := parseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}
