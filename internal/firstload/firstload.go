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

// Package firstload bulk-loads every sync table once, the way the
// teacher's logical.Backfiller drains a changefeed's initial snapshot
// before switching to incremental resolved-timestamp processing (§4.6).
package firstload

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/riftsync/riftsync/internal/metrics"
	"github.com/riftsync/riftsync/internal/stamp"
	"github.com/riftsync/riftsync/internal/state"
	"github.com/riftsync/riftsync/internal/syncconfig"
	"github.com/riftsync/riftsync/internal/types"
)

// WriteBatchSize bounds the chunk size used when looking up existing
// rows by server_id during a non-first batch (§4.6).
const WriteBatchSize = 200

// YieldEvery is the API-batch count after which the runner yields to
// the scheduler, matching §4.6's "every 5 API batches, sleep 0."
const YieldEvery = 5

// Engine drives the first-load sequence for every registered sync
// table.
type Engine struct {
	backend  types.StorageBackend
	state    *state.Manager
	registry *syncconfig.Registry
}

// Progress reports cumulative first-load counters for one table,
// matching §6's observable `{table, inserted, updated, total}` shape.
type Progress struct {
	Table    string
	Inserted int
	Updated  int
	Total    int
}

// ProgressFunc receives a Progress report after every API batch Run
// applies. A nil ProgressFunc is valid and simply means no one is
// listening.
type ProgressFunc func(Progress)

// New wires the storage backend, state manager, and sync-table registry
// the first-load engine needs.
func New(backend types.StorageBackend, st *state.Manager, registry *syncconfig.Registry) *Engine {
	return &Engine{backend: backend, state: st, registry: registry}
}

// Run executes first-load for every registered table that has not yet
// completed it, surfacing the first error encountered while still
// marking first_load_done once every table has been attempted (§4.6
// "Set first_load_done at the end regardless of per-table errors").
// onProgress, if non-nil, is called after every API batch is applied
// with that table's cumulative counters (§6 `start_first_load`).
func (e *Engine) Run(ctx context.Context, onProgress ProgressFunc) error {
	if e.state.GetState().FirstLoadDone {
		return nil
	}

	var firstErr error
	batches := 0
	for _, name := range e.registry.Tables() {
		cfg, _ := e.registry.Lookup(name)
		if cfg.FirstLoadPerTable == nil && (cfg.Transport == nil || cfg.Transport.FirstLoadPerTable == nil) {
			continue
		}
		if err := e.runTable(ctx, name, cfg, &batches, onProgress); err != nil {
			log.WithError(err).WithField("table", name).Error("first load failed for table")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := e.state.SetFirstLoadDone(ctx, true); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) pageFunc(cfg syncconfig.TableConfig) func(context.Context, any) ([]types.Record, error) {
	if cfg.FirstLoadPerTable != nil {
		return cfg.FirstLoadPerTable
	}
	return cfg.Transport.FirstLoadPerTable
}

func (e *Engine) runTable(ctx context.Context, name string, cfg syncconfig.TableConfig, batches *int, onProgress ProgressFunc) error {
	load := e.pageFunc(cfg)
	var lastID any
	var inserted, updated int

	for {
		stop := metrics.ObserveDuration(metrics.FirstLoadDuration.WithLabelValues(name))
		page, err := load(ctx, lastID)
		stop()
		if err != nil {
			return errors.Wrapf(err, "first load page for table %s", name)
		}
		if len(page) == 0 {
			return nil
		}
		metrics.FirstLoadBatches.WithLabelValues(name).Inc()

		nextLastID, _ := page[len(page)-1].ServerID()
		if nextLastID != nil && lastID != nil && nextLastID == lastID {
			return errors.Errorf("first load for table %s did not advance past cursor %v", name, lastID)
		}

		batchInserted, batchUpdated, err := e.applyBatch(ctx, name, cfg, page)
		if err != nil {
			return err
		}
		inserted += batchInserted
		updated += batchUpdated
		if onProgress != nil {
			onProgress(Progress{Table: name, Inserted: inserted, Updated: updated, Total: inserted + updated})
		}
		lastID = nextLastID

		*batches++
		if *batches%YieldEvery == 0 {
			runtime.Gosched()
		}
	}
}

func (e *Engine) applyBatch(ctx context.Context, name string, cfg syncconfig.TableConfig, page []types.Record) (inserted, updated int, err error) {
	err = e.backend.Transaction(ctx, types.TxReadWrite, []string{name, types.StateTableName}, func(ctx context.Context, tx types.TxHandle) error {
		tbl, err := tx.Table(name)
		if err != nil {
			return err
		}

		count, err := tbl.FetchCount(ctx, nil, nil, types.QueryOptions{})
		if err != nil {
			return err
		}
		fastPath := count == 0

		watermark := stamp.Zero()
		var fresh []types.Record
		var updates map[string]types.Record

		if !fastPath {
			updates = map[string]types.Record{}
		}

		existingByServerID := map[any]types.Record{}
		if !fastPath {
			serverIDs := make([]any, 0, len(page))
			for _, rec := range page {
				if id, ok := rec.ServerID(); ok {
					serverIDs = append(serverIDs, id)
				}
			}
			for start := 0; start < len(serverIDs); start += WriteBatchSize {
				end := start + WriteBatchSize
				if end > len(serverIDs) {
					end = len(serverIDs)
				}
				chunk := serverIDs[start:end]
				rows, err := tbl.Where(types.FieldServerID).AnyOf(chunk).ToArray(ctx)
				if err != nil {
					return err
				}
				for _, r := range rows {
					if id, ok := r.ServerID(); ok {
						existingByServerID[id] = r
					}
				}
			}
		}

		for _, rec := range page {
			if rec.IsTombstone() {
				continue
			}
			clean := rec.Clone()
			delete(clean, types.FieldDeleted)

			if raw, ok := clean[types.FieldUpdatedAt].(string); ok {
				if s, err := stamp.Parse(raw); err == nil {
					watermark = stamp.Max(watermark, s)
				}
			}

			if fastPath {
				fresh = append(fresh, clean)
				continue
			}

			serverID, _ := clean[types.FieldServerID]
			if existing, ok := existingByServerID[serverID]; ok && serverID != nil {
				merged := existing.Clone()
				for k, v := range clean {
					merged[k] = v
				}
				merged[types.FieldLocalID] = existing.LocalID()
				updates[existing.LocalID()] = merged
				continue
			}
			fresh = append(fresh, clean)
		}

		if len(fresh) > 0 {
			if _, err := tbl.BulkAdd(ctx, fresh); err != nil {
				return err
			}
			if cfg.OnAfterRemoteAdd != nil {
				for _, r := range fresh {
					cfg.OnAfterRemoteAdd(ctx, name, r)
				}
			}
		}
		if len(updates) > 0 {
			if _, err := tbl.BulkUpdate(ctx, updates); err != nil {
				return err
			}
		}

		if !watermark.IsZero() {
			current, err := e.lastPulledLocked(ctx, tx, name)
			if err != nil {
				return err
			}
			if stamp.Compare(watermark, current) > 0 {
				if err := e.setLastPulledLocked(ctx, tx, name, watermark.String()); err != nil {
					return err
				}
			}
		}
		inserted, updated = len(fresh), len(updates)
		return nil
	})
	return inserted, updated, err
}

// lastPulledLocked and setLastPulledLocked read/write the watermark
// through state.Manager (GetState/SetLastPulled, which take the
// manager's own lock). ctx carries the enclosing transaction, which
// includes the state table, so SetLastPulled's persist joins it. tx is
// not used.
func (e *Engine) lastPulledLocked(ctx context.Context, tx types.TxHandle, table string) (stamp.Stamp, error) {
	s := e.state.GetState()
	raw, ok := s.LastPulled[table]
	if !ok {
		return stamp.Zero(), nil
	}
	return stamp.Parse(raw)
}

func (e *Engine) setLastPulledLocked(ctx context.Context, tx types.TxHandle, table, watermark string) error {
	return e.state.SetLastPulled(ctx, table, watermark)
}
