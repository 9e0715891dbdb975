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
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swisstronik/evm-enclave/core/host"
	"github.com/swisstronik/evm-enclave/enclave"
	"github.com/swisstronik/evm-enclave/ffi"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Serve framed router requests against the development host",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "Request listener address",
			Value: "127.0.0.1:8998",
		},
	},
	Action: serve,
}

func serve(ctx *cli.Context) error {
	cfg := configFrom(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	e, err := openEnclave(cfg, reg)
	if err != nil {
		return err
	}
	defer e.Close()

	var db *host.LevelDBHost
	if cfg.DevHost.DataDir != "" {
		if db, err = host.OpenLevelDBHost(cfg.DevHost.DataDir); err != nil {
			return err
		}
	} else {
		log.Warn("No development host datadir configured, state is kept in memory")
		db = host.NewMemoryHost()
	}
	defer db.Close()

	ln, err := net.Listen("tcp", ctx.String("addr"))
	if err != nil {
		return err
	}
	log.Info("Serving router requests", "addr", ln.Addr())

	sigctx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigctx)

	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		return nil
	})
	g.Go(func() error {
		return acceptRequests(gctx, ln, e, db)
	})
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		log.Info("Starting metrics server", "addr", cfg.Metrics.Addr)

		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}
	return g.Wait()
}

// acceptRequests serves every accepted connection until ctx is done.
func acceptRequests(ctx context.Context, ln net.Listener, e *enclave.Enclave, q host.Querier) error {
	var conns errgroup.Group
	defer conns.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		conns.Go(func() error {
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			defer stop()
			if err := serveConn(ctx, conn, e, q); err != nil {
				log.Debug("Request connection closed", "remote", conn.RemoteAddr(), "err", err)
			}
			return nil
		})
	}
}

// serveConn answers length prefixed requests on conn until the peer
// closes it.
func serveConn(ctx context.Context, conn net.Conn, e *enclave.Enclave, q host.Querier) error {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		req, err := ffi.ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := ffi.WriteFrame(conn, e.HandleRequest(ctx, q, req)); err != nil {
			return err
		}
	}
}
