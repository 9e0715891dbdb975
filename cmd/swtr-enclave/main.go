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

// swtr-enclave drives the confidential EVM enclave from the host side. It
// manages the sealed master key, runs the provisioning endpoints and serves
// framed router requests against a LevelDB development host.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/swisstronik/evm-enclave/enclave"
	"github.com/swisstronik/evm-enclave/internal/config"
	"github.com/urfave/cli/v2"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "TOML configuration file",
		EnvVars: []string{"SWTR_CONFIG"},
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "Log level (trace, debug, info, warn, error, crit)",
	}
	logJSONFlag = &cli.BoolFlag{
		Name:  "log.json",
		Usage: "Format logs as JSON",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Write logs to a rotated file instead of stderr",
	}
)

const configKey = "config"

func newApp() *cli.App {
	return &cli.App{
		Name:    "swtr-enclave",
		Usage:   "confidential EVM enclave host harness",
		Version: enclave.Version,
		Flags:   []cli.Flag{configFlag, logLevelFlag, logJSONFlag, logFileFlag},
		Before:  before,
		After:   after,
		Commands: []*cli.Command{
			initCommand,
			statusCommand,
			pubkeyCommand,
			epochsCommand,
			bootstrapCommand,
			provisionCommand,
			serveCommand,
			dumpConfigCommand,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// before loads the configuration and installs the root log handler.
func before(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}
	if ctx.IsSet(logLevelFlag.Name) {
		cfg.Log.Level = ctx.String(logLevelFlag.Name)
	}
	if ctx.IsSet(logJSONFlag.Name) {
		cfg.Log.JSON = ctx.Bool(logJSONFlag.Name)
	}
	if ctx.IsSet(logFileFlag.Name) {
		cfg.Log.File = ctx.String(logFileFlag.Name)
	}
	closer, err := setupLogging(cfg.Log)
	if err != nil {
		return err
	}
	if ctx.App.Metadata == nil {
		ctx.App.Metadata = make(map[string]interface{})
	}
	ctx.App.Metadata[configKey] = cfg
	ctx.App.Metadata["logcloser"] = closer
	log.Debug("Loaded configuration", "seedhome", cfg.SeedHome, "attestation", cfg.Attestation.Mode)
	return nil
}

func after(ctx *cli.Context) error {
	if closer, ok := ctx.App.Metadata["logcloser"].(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func configFrom(ctx *cli.Context) *config.Config {
	if cfg, ok := ctx.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.DefaultConfig()
}
