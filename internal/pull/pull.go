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

// Package pull requests incremental remote changes per table and
// reconciles them against local state, the way the teacher's
// resolver.readInto loop advances a changefeed watermark and applies
// the rows it reads (§4.7).
package pull

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/riftsync/riftsync/internal/metrics"
	"github.com/riftsync/riftsync/internal/notify"
	"github.com/riftsync/riftsync/internal/stamp"
	"github.com/riftsync/riftsync/internal/state"
	"github.com/riftsync/riftsync/internal/syncconfig"
	"github.com/riftsync/riftsync/internal/types"
)

// Engine drives one pull cycle across every registered sync table.
type Engine struct {
	backend  types.StorageBackend
	state    *state.Manager
	registry *syncconfig.Registry
	hub      notify.Hub[types.MutationEvent]
}

// New wires the storage backend, state manager, and sync-table registry
// the pull engine needs.
func New(backend types.StorageBackend, st *state.Manager, registry *syncconfig.Registry) *Engine {
	return &Engine{backend: backend, state: st, registry: registry}
}

// Subscribe registers fn to be called with every "pull" mutation event
// this engine emits.
func (e *Engine) Subscribe(fn func(types.MutationEvent)) notify.Unsubscribe {
	return e.hub.Subscribe(fn)
}

// Run pulls every registered table once. The first error encountered is
// returned after every table has been attempted.
func (e *Engine) Run(ctx context.Context) error {
	var firstErr error
	for _, name := range e.registry.Tables() {
		cfg, _ := e.registry.Lookup(name)
		if cfg.Transport == nil {
			continue
		}
		if err := e.pullTable(ctx, name, cfg); err != nil {
			log.WithError(err).WithField("table", name).Error("pull failed for table")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RunBatch pulls every registered table in one call through bt, the
// batch-mode variant of §4.7, then reconciles each table's rows through
// the same per-record logic Run uses.
func (e *Engine) RunBatch(ctx context.Context, bt types.BatchTransport) error {
	since := make(map[string]string, len(e.registry.Tables()))
	for _, name := range e.registry.Tables() {
		since[name] = e.state.GetState().LastPulled[name]
	}

	byTable, err := bt.Pull(ctx, since)
	if err != nil {
		return errors.Wrap(err, "batch pull")
	}

	var firstErr error
	for name, remote := range byTable {
		cfg, ok := e.registry.Lookup(name)
		if !ok || len(remote) == 0 {
			continue
		}
		if err := e.reconcileTable(ctx, name, cfg, remote); err != nil {
			log.WithError(err).WithField("table", name).Error("batch pull reconciliation failed for table")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Engine) pullTable(ctx context.Context, name string, cfg syncconfig.TableConfig) error {
	stop := metrics.ObserveDuration(metrics.PullDuration.WithLabelValues(name))
	defer stop()

	since := e.state.GetState().LastPulled[name]
	remote, err := cfg.Transport.List(ctx, since)
	if err != nil {
		return errors.Wrapf(err, "listing remote changes for table %s", name)
	}
	if len(remote) == 0 {
		return nil
	}
	return e.reconcileTable(ctx, name, cfg, remote)
}

// reconcileTable applies a page of remote records for one table inside
// a single transaction over the table and the state table, advancing
// the table's watermark and publishing one "pull" mutation event for
// every affected local_id (§4.7). Shared by both Run (per-table List)
// and RunBatch (one BatchTransport.Pull call).
func (e *Engine) reconcileTable(ctx context.Context, name string, cfg syncconfig.TableConfig, remote []types.Record) error {
	metrics.PullRecords.WithLabelValues(name).Add(float64(len(remote)))

	var keys []string
	watermark := stamp.Zero()

	err := e.backend.Transaction(ctx, types.TxReadWrite, []string{name, types.StateTableName}, func(ctx context.Context, tx types.TxHandle) error {
		tbl, err := tx.Table(name)
		if err != nil {
			return err
		}

		for _, remoteRec := range remote {
			if raw, ok := remoteRec[types.FieldUpdatedAt].(string); ok {
				if s, err := stamp.Parse(raw); err == nil {
					watermark = stamp.Max(watermark, s)
				}
			}

			serverID, hasServerID := remoteRec.ServerID()
			if e.state.HasPendingRemoveForServerID(name, serverID) {
				continue
			}

			var local types.Record
			if hasServerID {
				local, err = tbl.Where(types.FieldServerID).Equals(serverID).First(ctx)
				if err != nil {
					return err
				}
			}

			key, changed, err := e.reconcile(ctx, tbl, name, cfg, local, remoteRec)
			if err != nil {
				return err
			}
			if changed {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !watermark.IsZero() {
		if err := e.state.SetLastPulled(ctx, name, watermark.String()); err != nil {
			return err
		}
	}
	if len(keys) > 0 {
		e.hub.Publish(types.MutationEvent{Type: types.MutationPull, Table: name, Keys: keys})
	}
	return nil
}

// reconcile applies one remote record against its local counterpart (if
// any), returning the affected local_id and whether anything changed.
func (e *Engine) reconcile(ctx context.Context, tbl types.Table, name string, cfg syncconfig.TableConfig, local types.Record, remoteRec types.Record) (string, bool, error) {
	if remoteRec.IsTombstone() {
		if local == nil {
			return "", false, nil
		}
		localID := local.LocalID()
		if err := tbl.Delete(ctx, localID); err != nil {
			return "", false, err
		}
		return localID, true, nil
	}

	if local == nil {
		clean := remoteRec.Clone()
		delete(clean, types.FieldDeleted)
		delete(clean, types.FieldLocalID)
		localID, err := tbl.Add(ctx, clean)
		if err != nil {
			return "", false, err
		}
		if cfg.OnAfterRemoteAdd != nil {
			cfg.OnAfterRemoteAdd(ctx, name, clean)
		}
		return localID, true, nil
	}

	localID := local.LocalID()
	pending, hasPending := e.state.FindPendingChange(name, localID)
	if !hasPending {
		merged := local.Clone()
		for k, v := range remoteRec {
			if k == types.FieldLocalID {
				continue
			}
			merged[k] = v
		}
		delete(merged, types.FieldLocalID)
		if _, err := tbl.Update(ctx, localID, merged); err != nil {
			return "", false, err
		}
		return localID, true, nil
	}

	return e.resolveConflict(ctx, tbl, name, cfg, localID, local, remoteRec, pending)
}

func (e *Engine) resolveConflict(
	ctx context.Context, tbl types.Table, name string, cfg syncconfig.TableConfig,
	localID string, local, remoteRec types.Record, pending types.PendingChange,
) (string, bool, error) {
	switch cfg.Conflict {
	case types.ConflictLocalWins:
		return localID, false, nil

	case types.ConflictRemoteWins:
		merged := remoteRec.Clone()
		delete(merged, types.FieldDeleted)
		delete(merged, types.FieldLocalID)
		if _, err := tbl.Update(ctx, localID, merged); err != nil {
			return "", false, err
		}
		if err := e.state.RemovePendingChange(ctx, name, localID); err != nil {
			return "", false, err
		}
		return localID, true, nil

	default: // types.ConflictTryShallowMerge
		var conflicts []types.FieldConflict
		for key, remoteVal := range remoteRec {
			if key == types.FieldLocalID || key == types.FieldUpdatedAt || key == types.FieldDeleted {
				continue
			}
			if _, changedLocally := pending.Changes[key]; !changedLocally {
				continue
			}
			beforeVal, hadBefore := pending.Before[key]
			if hadBefore && valuesEqual(beforeVal, remoteVal) {
				continue
			}
			localVal := pending.Changes[key]
			if valuesEqual(localVal, remoteVal) {
				continue
			}
			conflicts = append(conflicts, types.FieldConflict{Key: key, LocalValue: localVal, RemoteValue: remoteVal})
		}

		if len(conflicts) > 0 {
			metrics.PullConflicts.WithLabelValues(name).Add(float64(len(conflicts)))
			if err := e.state.SetConflict(ctx, localID, &types.ConflictRecord{Table: name, Fields: conflicts}); err != nil {
				return "", false, err
			}
			return localID, true, nil
		}

		merged := local.Clone()
		for key, remoteVal := range remoteRec {
			if key == types.FieldLocalID || key == types.FieldDeleted {
				continue
			}
			if _, changedLocally := pending.Changes[key]; changedLocally {
				continue
			}
			merged[key] = remoteVal
		}
		delete(merged, types.FieldLocalID)
		if _, err := tbl.Update(ctx, localID, merged); err != nil {
			return "", false, err
		}
		if e.state.HasConflicts(localID) {
			if err := e.state.SetConflict(ctx, localID, nil); err != nil {
				return "", false, err
			}
		}
		return localID, true, nil
	}
}

func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
