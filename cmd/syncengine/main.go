// Copyright 2024 The Riftsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Command syncengine is a reference host for the sync engine: it opens
// a storage backend, starts the background sync cycle, and serves
// Prometheus metrics plus a JSON diagnostics endpoint until it receives
// a termination signal. An embedder linking package sync directly has
// no need for this binary; it exists to smoke-test a backend end to end
// and as a worked example of internal/wire's injector.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/riftsync/riftsync/internal/stopper"
	"github.com/riftsync/riftsync/internal/syncconfig"
	"github.com/riftsync/riftsync/internal/wire"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(); err != nil {
		logrus.WithError(err).Fatal("syncengine exited with an error")
	}
}

func run() error {
	cfg := &config{}
	cfg.bind(pflag.CommandLine)
	pflag.Parse()
	if err := cfg.preflight(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	ctx := stopper.New(context.Background())
	defer ctx.Stop()

	registry := syncconfig.NewRegistry()

	eng, cleanup, err := wire.Inject(ctx, &wire.Config{
		Backend:       wire.BackendKind(cfg.backend),
		ConnectString: cfg.connectString,
		Registry:      registry,
		SyncInterval:  cfg.syncInterval,
	})
	if err != nil {
		return errors.Wrap(err, "build sync engine")
	}
	defer cleanup()

	if !cfg.disableSync {
		if err := eng.Enable(ctx, true); err != nil {
			return errors.Wrap(err, "enable sync cycle")
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", newDiagnostics(eng))

	server := &http.Server{Addr: cfg.bindAddr, Handler: mux}
	ctx.Go(func() error {
		logrus.WithField("addr", cfg.bindAddr).Info("serving diagnostics and metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "diagnostics server")
		}
		return nil
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		logrus.Info("received shutdown signal")
	case <-ctx.Stopping():
	}

	_ = server.Shutdown(context.Background())
	ctx.Stop()
	return ctx.Wait()
}
