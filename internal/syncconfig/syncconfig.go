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

// Package syncconfig declares the per-table configuration a caller
// registers before the sync engine starts, the way the teacher's
// applycfg.Configs is injected throughout provider.go and fixture.go.
package syncconfig

import (
	"context"

	"github.com/riftsync/riftsync/internal/types"
)

// TableConfig is the per-table configuration surface (§4.10).
type TableConfig struct {
	Name string

	// Conflict selects how the pull engine reconciles a remote change
	// against a pending local change on the same record. The zero value
	// is ConflictTryShallowMerge.
	Conflict types.ConflictStrategy

	// MissingRemoteRecordStrategy selects how the push engine handles a
	// remote Update call reporting the target record no longer exists.
	// The zero value is MissingInsertRemoteRecord.
	MissingRemoteRecordStrategy types.MissingRecordStrategy

	// OnAfterRemoteAdd, if set, is invoked after the push engine applies
	// a remote Create acknowledgement to the local record, and after a
	// remote-originated record is inserted locally during pull or
	// first-load.
	OnAfterRemoteAdd func(ctx context.Context, table string, item types.Record)

	// OnAfterMissingRemoteRecord, if set, is invoked after the push
	// engine applies MissingRemoteRecordStrategy for a record the
	// remote reports as gone.
	OnAfterMissingRemoteRecord func(ctx context.Context, table string, strategy types.MissingRecordStrategy, item types.Record)

	// FirstLoadPerTable, if set, bulk-loads this table starting after
	// lastID, returning the next page. An empty page signals
	// completion (§4.6 "Per-table" mode).
	FirstLoadPerTable func(ctx context.Context, lastID any) ([]types.Record, error)

	// Transport is the per-table remote contract used by pull/push when
	// the engine is not running in batch-transport mode.
	Transport types.Transport
}

// Registry holds every registered TableConfig.
type Registry struct {
	tables map[string]TableConfig
	order  []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]TableConfig)}
}

// Register adds cfg. Registering the reserved internal state table name
// is a LogicError, matching the teacher's config.Preflight fail-fast
// validation idiom.
func (r *Registry) Register(cfg TableConfig) error {
	if cfg.Name == types.StateTableName {
		return types.NewLogicError("cannot register reserved table " + types.StateTableName)
	}
	if _, exists := r.tables[cfg.Name]; !exists {
		r.order = append(r.order, cfg.Name)
	}
	r.tables[cfg.Name] = cfg
	return nil
}

// Lookup returns the TableConfig for name and whether it is a
// registered sync table.
func (r *Registry) Lookup(name string) (TableConfig, bool) {
	cfg, ok := r.tables[name]
	return cfg, ok
}

// Tables returns every registered sync table name, in registration
// order.
func (r *Registry) Tables() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
