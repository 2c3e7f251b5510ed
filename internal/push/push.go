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

// Package push drains the pending-change queue against the remote, the
// way the teacher's util/msort orders a batch of mutations before
// applying them, generalized from HLC-time ordering to the action
// priority rule of §4.8.
package push

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/riftsync/riftsync/internal/metrics"
	"github.com/riftsync/riftsync/internal/state"
	"github.com/riftsync/riftsync/internal/syncconfig"
	"github.com/riftsync/riftsync/internal/types"
)

// Engine drains the pending queue for every registered sync table.
type Engine struct {
	backend  types.StorageBackend
	state    *state.Manager
	registry *syncconfig.Registry
}

// New wires the storage backend, state manager, and sync-table registry
// the push engine needs.
func New(backend types.StorageBackend, st *state.Manager, registry *syncconfig.Registry) *Engine {
	return &Engine{backend: backend, state: st, registry: registry}
}

// Run snapshots the pending queue, orders it per §4.8 (Create < Update <
// Remove, ties preserve insertion order), and pushes each entry through
// its table's Transport. The first error is surfaced after every entry
// has been attempted.
func (e *Engine) Run(ctx context.Context) error {
	snapshot := e.state.GetState().PendingChanges
	ordered := make([]types.PendingChange, len(snapshot))
	copy(ordered, snapshot)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Action.Priority() < ordered[j].Action.Priority()
	})

	var firstErr error
	for _, entry := range ordered {
		cfg, ok := e.registry.Lookup(entry.Table)
		if !ok || cfg.Transport == nil {
			continue
		}
		stop := metrics.ObserveDuration(metrics.PushDuration.WithLabelValues(entry.Table))
		err := e.pushEntry(ctx, cfg, entry)
		stop()
		metrics.PushEntries.WithLabelValues(entry.Table).Inc()
		if err != nil {
			metrics.PushErrors.WithLabelValues(entry.Table).Inc()
			log.WithError(err).WithFields(log.Fields{"table": entry.Table, "local_id": entry.LocalID}).
				Error("push failed for pending change")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Engine) pushEntry(ctx context.Context, cfg syncconfig.TableConfig, entry types.PendingChange) error {
	switch entry.Action {
	case types.ActionRemove:
		return e.pushRemove(ctx, cfg, entry)
	case types.ActionUpdate:
		return e.pushUpdate(ctx, cfg, entry)
	default:
		return e.pushCreate(ctx, cfg, entry)
	}
}

func (e *Engine) pushRemove(ctx context.Context, cfg syncconfig.TableConfig, entry types.PendingChange) error {
	if entry.ServerID == nil {
		return e.state.RemovePendingChange(ctx, entry.Table, entry.LocalID)
	}
	if err := cfg.Transport.Remove(ctx, entry.ServerID); err != nil {
		return errors.Wrapf(err, "removing remote record for table %s", entry.Table)
	}
	return e.state.RemovePendingChange(ctx, entry.Table, entry.LocalID)
}

func (e *Engine) pushUpdate(ctx context.Context, cfg syncconfig.TableConfig, entry types.PendingChange) error {
	if e.state.HasConflicts(entry.LocalID) {
		return nil
	}
	exists, err := cfg.Transport.Update(ctx, entry.ServerID, entry.Changes, entry.After)
	if err != nil {
		return errors.Wrapf(err, "pushing update for table %s", entry.Table)
	}
	if !exists {
		return e.handleMissingRemote(ctx, cfg, entry)
	}
	if e.state.SamePendingVersion(entry.Table, entry.LocalID, entry.Version) {
		return e.state.RemovePendingChange(ctx, entry.Table, entry.LocalID)
	}
	return e.state.SetPendingChangeBefore(ctx, entry.Table, entry.LocalID, entry.Changes)
}

func (e *Engine) pushCreate(ctx context.Context, cfg syncconfig.TableConfig, entry types.PendingChange) error {
	result, err := cfg.Transport.Add(ctx, entry.Changes)
	if err != nil {
		return errors.Wrapf(err, "pushing create for table %s", entry.Table)
	}

	if result == nil {
		if e.state.SamePendingVersion(entry.Table, entry.LocalID, entry.Version) {
			return e.state.RemovePendingChange(ctx, entry.Table, entry.LocalID)
		}
		return nil
	}

	var finalized types.Record
	rowGone := false
	err = e.backend.Transaction(ctx, types.TxReadWrite, []string{entry.Table}, func(ctx context.Context, tx types.TxHandle) error {
		tbl, err := tx.Table(entry.Table)
		if err != nil {
			return err
		}
		existing, err := tbl.Get(ctx, entry.LocalID)
		if err != nil {
			return err
		}
		if existing == nil {
			rowGone = true
			return nil
		}
		update := types.Record{types.FieldServerID: result.ID}
		if result.UpdatedAt != "" {
			update[types.FieldUpdatedAt] = result.UpdatedAt
		}
		if _, err := tbl.Update(ctx, entry.LocalID, update); err != nil {
			return err
		}
		finalized, err = tbl.Get(ctx, entry.LocalID)
		return err
	})
	if err != nil {
		return err
	}

	sameVersion := e.state.SamePendingVersion(entry.Table, entry.LocalID, entry.Version)
	switch {
	case rowGone:
		if err := e.state.UpdatePendingChange(ctx, entry.Table, entry.LocalID, types.ActionRemove, result.ID); err != nil {
			return err
		}
	case sameVersion:
		if err := e.state.RemovePendingChange(ctx, entry.Table, entry.LocalID); err != nil {
			return err
		}
	default:
		if err := e.state.UpdatePendingChange(ctx, entry.Table, entry.LocalID, types.ActionUpdate, result.ID); err != nil {
			return err
		}
	}

	if cfg.OnAfterRemoteAdd != nil && finalized != nil {
		cfg.OnAfterRemoteAdd(ctx, entry.Table, finalized)
	}
	return nil
}

func (e *Engine) handleMissingRemote(ctx context.Context, cfg syncconfig.TableConfig, entry types.PendingChange) error {
	strategy := cfg.MissingRemoteRecordStrategy

	err := e.backend.Transaction(ctx, types.TxReadWrite, []string{entry.Table, types.StateTableName}, func(ctx context.Context, tx types.TxHandle) error {
		tbl, err := tx.Table(entry.Table)
		if err != nil {
			return err
		}

		switch strategy {
		case types.MissingIgnore:
			return nil

		case types.MissingDeleteLocalRecord:
			return tbl.Delete(ctx, entry.LocalID)

		default: // types.MissingInsertRemoteRecord
			existing, err := tbl.Get(ctx, entry.LocalID)
			if err != nil || existing == nil {
				return err
			}
			fresh := existing.Clone()
			delete(fresh, types.FieldLocalID)
			delete(fresh, types.FieldServerID)
			newID, err := tbl.Add(ctx, fresh)
			if err != nil {
				return err
			}
			if err := tbl.Delete(ctx, entry.LocalID); err != nil {
				return err
			}
			after, err := tbl.Get(ctx, newID)
			if err != nil {
				return err
			}
			return e.state.AddPendingChange(ctx, types.PendingChange{
				Action: types.ActionCreate, Table: entry.Table, LocalID: newID,
				Changes: after.WithoutLocalFields(), After: after,
			})
		}
	})
	if err != nil {
		return err
	}

	if cfg.OnAfterMissingRemoteRecord != nil {
		item, _ := func() (types.Record, error) {
			tbl, err := e.backend.Table(ctx, entry.Table)
			if err != nil {
				return nil, err
			}
			return tbl.Get(ctx, entry.LocalID)
		}()
		cfg.OnAfterMissingRemoteRecord(ctx, entry.Table, strategy, item)
	}

	return e.state.RemovePendingChange(ctx, entry.Table, entry.LocalID)
}

// RunBatch drains the pending queue in one call through bt, the
// batch-mode variant of §4.8: one payload spans every configured sync
// table, and missing-remote is inferred from Success=false on an
// Update-action result.
func (e *Engine) RunBatch(ctx context.Context, bt types.BatchTransport) error {
	snapshot := e.state.GetState().PendingChanges
	ordered := make([]types.PendingChange, len(snapshot))
	copy(ordered, snapshot)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Action.Priority() < ordered[j].Action.Priority()
	})
	if len(ordered) == 0 {
		return nil
	}

	items := make([]types.PushItem, len(ordered))
	for i, entry := range ordered {
		items[i] = types.PushItem{
			Table: entry.Table, Action: entry.Action, LocalID: entry.LocalID,
			ServerID: entry.ServerID, Data: entry.Changes,
		}
	}

	results, err := bt.Push(ctx, items)
	if err != nil {
		return errors.Wrap(err, "batch push")
	}

	byLocalID := make(map[string]types.PushResult, len(results))
	for _, r := range results {
		byLocalID[r.LocalID] = r
	}

	var firstErr error
	for _, entry := range ordered {
		result, ok := byLocalID[entry.LocalID]
		cfg, _ := e.registry.Lookup(entry.Table)
		if !ok {
			continue
		}
		if err := e.applyBatchResult(ctx, cfg, entry, result); err != nil {
			metrics.PushErrors.WithLabelValues(entry.Table).Inc()
			if firstErr == nil {
				firstErr = err
			}
		}
		metrics.PushEntries.WithLabelValues(entry.Table).Inc()
	}
	return firstErr
}

func (e *Engine) applyBatchResult(ctx context.Context, cfg syncconfig.TableConfig, entry types.PendingChange, result types.PushResult) error {
	if !result.Success {
		if entry.Action == types.ActionUpdate {
			return e.handleMissingRemote(ctx, cfg, entry)
		}
		return errors.Errorf("batch push failed for %s/%s: %s", entry.Table, entry.LocalID, result.Error)
	}

	switch entry.Action {
	case types.ActionRemove:
		return e.state.RemovePendingChange(ctx, entry.Table, entry.LocalID)
	case types.ActionUpdate:
		if e.state.SamePendingVersion(entry.Table, entry.LocalID, entry.Version) {
			return e.state.RemovePendingChange(ctx, entry.Table, entry.LocalID)
		}
		return e.state.SetPendingChangeBefore(ctx, entry.Table, entry.LocalID, entry.Changes)
	default: // types.ActionCreate
		return e.finalizeBatchCreate(ctx, cfg, entry, result)
	}
}

func (e *Engine) finalizeBatchCreate(ctx context.Context, cfg syncconfig.TableConfig, entry types.PendingChange, result types.PushResult) error {
	var finalized types.Record
	rowGone := false
	err := e.backend.Transaction(ctx, types.TxReadWrite, []string{entry.Table}, func(ctx context.Context, tx types.TxHandle) error {
		tbl, err := tx.Table(entry.Table)
		if err != nil {
			return err
		}
		existing, err := tbl.Get(ctx, entry.LocalID)
		if err != nil {
			return err
		}
		if existing == nil {
			rowGone = true
			return nil
		}
		update := types.Record{types.FieldServerID: result.ID}
		if result.UpdatedAt != "" {
			update[types.FieldUpdatedAt] = result.UpdatedAt
		}
		if _, err := tbl.Update(ctx, entry.LocalID, update); err != nil {
			return err
		}
		finalized, err = tbl.Get(ctx, entry.LocalID)
		return err
	})
	if err != nil {
		return err
	}

	sameVersion := e.state.SamePendingVersion(entry.Table, entry.LocalID, entry.Version)
	switch {
	case rowGone:
		if err := e.state.UpdatePendingChange(ctx, entry.Table, entry.LocalID, types.ActionRemove, result.ID); err != nil {
			return err
		}
	case sameVersion:
		if err := e.state.RemovePendingChange(ctx, entry.Table, entry.LocalID); err != nil {
			return err
		}
	default:
		if err := e.state.UpdatePendingChange(ctx, entry.Table, entry.LocalID, types.ActionUpdate, result.ID); err != nil {
			return err
		}
	}

	if cfg.OnAfterRemoteAdd != nil && finalized != nil {
		cfg.OnAfterRemoteAdd(ctx, entry.Table, finalized)
	}
	return nil
}
