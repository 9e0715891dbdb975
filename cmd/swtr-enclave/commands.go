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

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/swisstronik/evm-enclave/enclave"
	"github.com/swisstronik/evm-enclave/ffi"
	"github.com/swisstronik/evm-enclave/internal/config"
	"github.com/urfave/cli/v2"
)

var (
	resetFlag = &cli.BoolFlag{
		Name:  "reset",
		Usage: "Replace an existing master key",
	}
	blockFlag = &cli.Uint64Flag{
		Name:  "block",
		Usage: "Return the key of the epoch covering this block (0 for the latest)",
	}
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "Listen address, defaults to the configured value",
	}
	hostFlag = &cli.StringFlag{
		Name:     "host",
		Usage:    "Bootstrap server host",
		Required: true,
	}
	portFlag = &cli.UintFlag{
		Name:     "port",
		Usage:    "Bootstrap server port",
		Required: true,
	}
	startFlag = &cli.Uint64Flag{
		Name:  "add",
		Usage: "Add an epoch starting at this block",
	}
	removeFlag = &cli.BoolFlag{
		Name:  "remove-latest",
		Usage: "Remove the latest epoch",
	}
)

var (
	initCommand = &cli.Command{
		Name:   "init",
		Usage:  "Generate and seal a fresh master key",
		Flags:  []cli.Flag{resetFlag},
		Action: initMasterKey,
	}
	statusCommand = &cli.Command{
		Name:   "status",
		Usage:  "Print the node status",
		Action: nodeStatus,
	}
	pubkeyCommand = &cli.Command{
		Name:   "pubkey",
		Usage:  "Print the node transaction public key",
		Flags:  []cli.Flag{blockFlag},
		Action: publicKey,
	}
	epochsCommand = &cli.Command{
		Name:   "epochs",
		Usage:  "List or modify key epochs",
		Flags:  []cli.Flag{startFlag, removeFlag},
		Action: epochs,
	}
	bootstrapCommand = &cli.Command{
		Name:   "bootstrap",
		Usage:  "Serve the master key to attested enclaves until interrupted",
		Flags:  []cli.Flag{listenFlag},
		Action: bootstrap,
	}
	provisionCommand = &cli.Command{
		Name:   "provision",
		Usage:  "Obtain the master key from a bootstrap server",
		Flags:  []cli.Flag{hostFlag, portFlag, resetFlag},
		Action: provision,
	}
	dumpConfigCommand = &cli.Command{
		Name:   "dumpconfig",
		Usage:  "Print the effective configuration as TOML",
		Action: dumpConfig,
	}
)

// openEnclave opens the sealed store and builds the router.
func openEnclave(cfg *config.Config, reg prometheus.Registerer) (*enclave.Enclave, error) {
	store, _, err := cfg.StorageConfig().Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed store: %w", err)
	}
	return enclave.New(enclave.Options{Config: cfg, Store: store, Registry: reg})
}

// request runs one router request and converts a failure status into an
// error.
func request(ctx context.Context, e *enclave.Enclave, req *ffi.Request) (*ffi.Response, error) {
	resp := e.Handle(ctx, nil, req)
	if resp.Status != ffi.StatusOK {
		if resp.Error != "" {
			return nil, fmt.Errorf("%s failed: %s: %s", req.Kind(), resp.Status, resp.Error)
		}
		return nil, fmt.Errorf("%s failed: %s", req.Kind(), resp.Status)
	}
	return resp, nil
}

func withEnclave(ctx *cli.Context, fn func(*enclave.Enclave) error) error {
	e, err := openEnclave(configFrom(ctx), nil)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func initMasterKey(ctx *cli.Context) error {
	return withEnclave(ctx, func(e *enclave.Enclave) error {
		req := &ffi.Request{InitializeMasterKey: &ffi.InitializeMasterKeyRequest{ShouldReset: ctx.Bool(resetFlag.Name)}}
		if _, err := request(ctx.Context, e, req); err != nil {
			return err
		}
		resp, err := request(ctx.Context, e, &ffi.Request{PublicKey: &ffi.PublicKeyRequest{}})
		if err != nil {
			return err
		}
		fmt.Println(hexutil.Encode(resp.PublicKey.PublicKey))
		return nil
	})
}

func nodeStatus(ctx *cli.Context) error {
	return withEnclave(ctx, func(e *enclave.Enclave) error {
		resp, err := request(ctx.Context, e, &ffi.Request{NodeStatus: &ffi.Empty{}})
		if err != nil {
			return err
		}
		s := resp.NodeStatus
		return printJSON(struct {
			Initialized bool          `json:"initialized"`
			PublicKey   hexutil.Bytes `json:"publicKey,omitempty"`
			MREnclave   string        `json:"mrenclave"`
			Epochs      uint32        `json:"epochs"`
			Version     string        `json:"version"`
			Certificate hexutil.Bytes `json:"certificate,omitempty"`
		}{s.Initialized, s.PublicKey, hex.EncodeToString(s.MREnclave), s.Epochs, s.Version, s.Certificate})
	})
}

func publicKey(ctx *cli.Context) error {
	return withEnclave(ctx, func(e *enclave.Enclave) error {
		resp, err := request(ctx.Context, e, &ffi.Request{PublicKey: &ffi.PublicKeyRequest{BlockNumber: ctx.Uint64(blockFlag.Name)}})
		if err != nil {
			return err
		}
		fmt.Println(hexutil.Encode(resp.PublicKey.PublicKey))
		return nil
	})
}

func epochs(ctx *cli.Context) error {
	req := &ffi.Request{ListEpochs: &ffi.Empty{}}
	switch {
	case ctx.IsSet(startFlag.Name) && ctx.Bool(removeFlag.Name):
		return fmt.Errorf("--%s and --%s are exclusive", startFlag.Name, removeFlag.Name)
	case ctx.IsSet(startFlag.Name):
		req = &ffi.Request{AddEpoch: &ffi.AddEpochRequest{StartingBlock: ctx.Uint64(startFlag.Name)}}
	case ctx.Bool(removeFlag.Name):
		req = &ffi.Request{RemoveLatestEpoch: &ffi.Empty{}}
	}
	return withEnclave(ctx, func(e *enclave.Enclave) error {
		resp, err := request(ctx.Context, e, req)
		if err != nil {
			return err
		}
		type epoch struct {
			Number        uint32        `json:"epochNumber"`
			StartingBlock uint64        `json:"startingBlock"`
			PublicKey     hexutil.Bytes `json:"publicKey"`
		}
		out := make([]epoch, 0, len(resp.Epochs.Epochs))
		for _, ep := range resp.Epochs.Epochs {
			out = append(out, epoch{ep.Number, ep.StartingBlock, ep.PublicKey})
		}
		return printJSON(out)
	})
}

func bootstrap(ctx *cli.Context) error {
	return withEnclave(ctx, func(e *enclave.Enclave) error {
		resp, err := request(ctx.Context, e, &ffi.Request{StartBootstrapServer: &ffi.StartBootstrapServerRequest{ListenAddr: ctx.String(listenFlag.Name)}})
		if err != nil {
			return err
		}
		log.Info("Serving master key", "addr", resp.BootstrapServer.ListenAddr)

		sigctx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-sigctx.Done()
		log.Info("Shutting down bootstrap server")
		return e.Close()
	})
}

func provision(ctx *cli.Context) error {
	return withEnclave(ctx, func(e *enclave.Enclave) error {
		req := &ffi.Request{DCAPAttestation: &ffi.AttestationRequest{
			Hostname:  ctx.String(hostFlag.Name),
			Port:      uint32(ctx.Uint(portFlag.Name)),
			ResetFlag: ctx.Bool(resetFlag.Name),
		}}
		if _, err := request(ctx.Context, e, req); err != nil {
			return err
		}
		resp, err := request(ctx.Context, e, &ffi.Request{PublicKey: &ffi.PublicKeyRequest{}})
		if err != nil {
			return err
		}
		fmt.Println(hexutil.Encode(resp.PublicKey.PublicKey))
		return nil
	})
}

func dumpConfig(ctx *cli.Context) error {
	out, err := configFrom(ctx).Dump()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
