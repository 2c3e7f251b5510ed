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

package sqlgen

import (
	"context"
	"database/sql"

	"github.com/riftsync/riftsync/internal/types"
)

// Backend is a types.StorageBackend over a live SQL connection pool,
// the counterpart to memstore.Backend for production deployments
// (§4.3).
type Backend struct {
	driver   *Driver
	registry *SchemaRegistry
}

// NewBackend wires a Driver and a SchemaRegistry into a StorageBackend.
func NewBackend(driver *Driver, registry *SchemaRegistry) *Backend {
	return &Backend{driver: driver, registry: registry}
}

var _ types.StorageBackend = (*Backend)(nil)

// UpgradeSchema creates every registered table that doesn't already
// exist. It never drops or alters existing columns: callers that need
// real migrations own that separately, matching the teacher's own
// "Needs retry"-commented, best-effort DDL in resolved_table.go.
func (b *Backend) UpgradeSchema(ctx context.Context) error {
	for _, t := range b.registry.tables {
		ddl := CreateTableDDL(b.driver.Dialect, t)
		if _, err := b.driver.DB.ExecContext(ctx, ddl); err != nil {
			return types.NewStorageError("upgrade_schema", t.Name, err)
		}
	}
	return nil
}

// DowngradeSchema drops every registered table. It exists for test
// teardown and for the rare operator-initiated full resync; the engine
// itself never calls it.
func (b *Backend) DowngradeSchema(ctx context.Context) error {
	for _, t := range b.registry.tables {
		ddl := "DROP TABLE IF EXISTS " + b.driver.Dialect.Quote(t.Name)
		if _, err := b.driver.DB.ExecContext(ctx, ddl); err != nil {
			return types.NewStorageError("downgrade_schema", t.Name, err)
		}
	}
	return nil
}

func (b *Backend) Table(_ context.Context, name string) (types.Table, error) {
	schema, ok := b.registry.Lookup(name)
	if !ok {
		return nil, types.NewLogicError("no schema registered for table " + name)
	}
	return &sqlTable{db: b.driver.DB, dialect: b.driver.Dialect, schema: schema}, nil
}

type ctxTxKey struct{}

func (b *Backend) Transaction(
	ctx context.Context, mode types.TxMode, tableNames []string,
	body func(ctx context.Context, tx types.TxHandle) error,
) error {
	if outer, ok := ctx.Value(ctxTxKey{}).(*sql.Tx); ok {
		return body(ctx, &txHandle{backend: b, tx: outer})
	}
	opts := &sql.TxOptions{ReadOnly: mode == types.TxReadOnly}
	tx, err := b.driver.DB.BeginTx(ctx, opts)
	if err != nil {
		return types.NewStorageError("transaction", "", err)
	}
	txCtx := context.WithValue(ctx, ctxTxKey{}, tx)
	if err := body(txCtx, &txHandle{backend: b, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return types.NewStorageError("transaction", "", err)
	}
	return nil
}

func (b *Backend) Close() error { return b.driver.Close() }

type txHandle struct {
	backend *Backend
	tx      *sql.Tx
}

func (h *txHandle) Table(name string) (types.Table, error) {
	schema, ok := h.backend.registry.Lookup(name)
	if !ok {
		return nil, types.NewLogicError("no schema registered for table " + name)
	}
	return &sqlTable{db: h.tx, dialect: h.backend.driver.Dialect, schema: schema}, nil
}
