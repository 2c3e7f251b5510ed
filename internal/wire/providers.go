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

// Package wire assembles a sync.Engine from a BackendConfig, the way the
// teacher's source/mylogical and source/cdc packages assemble a
// *Handler from a *Config: small Provide* functions, each returning its
// value plus an optional cleanup func, composed by an injector.
//
// injector.go holds the wire.Build call read by `go generate`;
// wire_gen.go is the checked-in, hand-maintained equivalent (this repo
// vendors no code generator invocation, so the generated form is
// authored directly, matching the shape `go run github.com/google/wire/cmd/wire`
// would produce).
package wire

import (
	"time"

	"github.com/pkg/errors"

	"github.com/riftsync/riftsync/internal/memstore"
	"github.com/riftsync/riftsync/internal/sqlgen"
	"github.com/riftsync/riftsync/internal/stopper"
	"github.com/riftsync/riftsync/internal/syncconfig"
	"github.com/riftsync/riftsync/internal/types"
	rsync "github.com/riftsync/riftsync/sync"
)

// BackendKind selects which types.StorageBackend implementation
// ProvideBackend constructs.
type BackendKind string

const (
	// BackendMemory uses internal/memstore, an in-process map-backed
	// store with no persistence across restarts. Intended for tests and
	// for embedders that bring their own persistence.
	BackendMemory BackendKind = "memory"
	// BackendPostgres opens a *sql.DB against a Postgres/CockroachDB
	// connect string through internal/sqlgen.
	BackendPostgres BackendKind = "postgres"
	// BackendMySQL opens a *sql.DB against a MySQL/MariaDB connect
	// string through internal/sqlgen.
	BackendMySQL BackendKind = "mysql"
)

// Config is every input the injector needs to build a *sync.Engine.
type Config struct {
	// Backend selects the storage implementation.
	Backend BackendKind
	// ConnectString is the DSN for BackendPostgres/BackendMySQL. Ignored
	// for BackendMemory.
	ConnectString string
	// Schema describes every SQL-backed table's columns. Required for
	// BackendPostgres/BackendMySQL, ignored for BackendMemory.
	Schema *sqlgen.SchemaRegistry
	// Registry holds the per-table sync configuration (conflict
	// strategy, transport, first-load hook). Required.
	Registry *syncconfig.Registry
	// SyncInterval overrides rsync.DefaultSyncInterval when non-zero.
	SyncInterval time.Duration
}

// ProvideBackend opens the configured storage backend. The returned
// cleanup closes any driver-level resources; callers that go on to
// build a *sync.Engine should prefer Engine.Close, which already closes
// the backend, and only need this cleanup if engine construction itself
// fails first.
func ProvideBackend(ctx *stopper.Context, cfg *Config) (types.StorageBackend, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case BackendMemory, "":
		return memstore.New(), noop, nil
	case BackendPostgres:
		driver, err := sqlgen.OpenPostgres(ctx, cfg.ConnectString)
		if err != nil {
			return nil, noop, errors.Wrap(err, "open postgres backend")
		}
		backend := sqlgen.NewBackend(driver, cfg.Schema)
		if err := backend.UpgradeSchema(ctx); err != nil {
			_ = backend.Close()
			return nil, noop, errors.Wrap(err, "upgrade postgres schema")
		}
		return backend, func() { _ = backend.Close() }, nil
	case BackendMySQL:
		driver, err := sqlgen.OpenMySQL(ctx, cfg.ConnectString)
		if err != nil {
			return nil, noop, errors.Wrap(err, "open mysql backend")
		}
		backend := sqlgen.NewBackend(driver, cfg.Schema)
		if err := backend.UpgradeSchema(ctx); err != nil {
			_ = backend.Close()
			return nil, noop, errors.Wrap(err, "upgrade mysql schema")
		}
		return backend, func() { _ = backend.Close() }, nil
	default:
		return nil, noop, errors.Errorf("unknown backend kind %q", cfg.Backend)
	}
}

// ProvideEngineConfig adapts a wire Config plus an already-opened
// backend into the rsync.Config the engine constructor expects.
func ProvideEngineConfig(backend types.StorageBackend, cfg *Config) rsync.Config {
	return rsync.Config{
		Backend:      backend,
		Registry:     cfg.Registry,
		SyncInterval: cfg.SyncInterval,
	}
}

// ProvideEngine constructs the engine and hydrates its persisted state
// in one step, since every caller needs both before touching Enable or
// StartFirstLoad.
func ProvideEngine(ctx *stopper.Context, engCfg rsync.Config) (*rsync.Engine, error) {
	eng := rsync.New(engCfg)
	if err := eng.Hydrate(ctx); err != nil {
		return nil, errors.Wrap(err, "hydrate sync state")
	}
	return eng, nil
}
