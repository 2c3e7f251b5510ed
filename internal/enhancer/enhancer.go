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

// Package enhancer wraps a plain storage table with the bookkeeping
// every sync table needs: local_id/updated_at stamping, pending-change
// queuing, and mutation-event broadcast (§4.5). It plays the role the
// teacher's serialEvents.Apply plays for its own transactional
// apply-then-notify sequencing, generalized from "apply a batch of
// upstream mutations" to "apply one local caller-driven mutation."
package enhancer

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/riftsync/riftsync/internal/metrics"
	"github.com/riftsync/riftsync/internal/notify"
	"github.com/riftsync/riftsync/internal/stamp"
	"github.com/riftsync/riftsync/internal/state"
	"github.com/riftsync/riftsync/internal/syncconfig"
	"github.com/riftsync/riftsync/internal/types"
)

// Enhancer is the per-engine facility that mints enhanced table handles.
type Enhancer struct {
	backend  types.StorageBackend
	state    *state.Manager
	registry *syncconfig.Registry
	hub      notify.Hub[types.MutationEvent]
}

// New wires a storage backend, state manager, and sync-table registry
// into an Enhancer.
func New(backend types.StorageBackend, st *state.Manager, registry *syncconfig.Registry) *Enhancer {
	return &Enhancer{backend: backend, state: st, registry: registry}
}

// Subscribe registers fn to be called with every mutation event emitted
// by any table this Enhancer serves.
func (e *Enhancer) Subscribe(fn func(types.MutationEvent)) notify.Unsubscribe {
	return e.hub.Subscribe(fn)
}

// Table returns the enhanced handle for name: the full pending-change
// wrapper for a registered sync table, or the lightweight local_id-only
// wrapper otherwise (§4.5 "For non-sync tables").
func (e *Enhancer) Table(ctx context.Context, name string) (types.Table, error) {
	if name == types.StateTableName {
		return nil, types.NewLogicError("table " + name + " is managed internally and cannot be enhanced")
	}
	cfg, isSync := e.registry.Lookup(name)
	raw, err := e.backend.Table(ctx, name)
	if err != nil {
		return nil, err
	}
	return &enhancedTable{e: e, name: name, cfg: cfg, isSync: isSync, raw: raw}, nil
}

func (e *Enhancer) emit(event types.MutationEvent) {
	metrics.EnhancerMutations.WithLabelValues(event.Table, event.Type.String()).Inc()
	e.hub.Publish(event)
}

// enhancedTable implements types.Table, delegating reads directly to
// the underlying table and routing every write through stamping +
// (for sync tables) pending-change bookkeeping.
type enhancedTable struct {
	e      *Enhancer
	name   string
	cfg    syncconfig.TableConfig
	isSync bool
	raw    types.Table
}

var _ types.Table = (*enhancedTable)(nil)

func (t *enhancedTable) TableName() string { return t.name }

// Queryable reads pass straight through; the enhancer has nothing to
// add on the read path.
func (t *enhancedTable) Fetch(ctx context.Context, groups []types.AndGroup, predicate types.Predicate, opts types.QueryOptions) ([]types.Record, error) {
	return t.raw.Fetch(ctx, groups, predicate, opts)
}

func (t *enhancedTable) FetchCount(ctx context.Context, groups []types.AndGroup, predicate types.Predicate, opts types.QueryOptions) (int, error) {
	return t.raw.FetchCount(ctx, groups, predicate, opts)
}

func (t *enhancedTable) Where(column string) types.WhereClause { return types.NewWhereClause(t, column) }
func (t *enhancedTable) OrderBy(column string) types.Collection {
	return types.NewCollection(t).OrderBy(column)
}
func (t *enhancedTable) Reverse() types.Collection { return types.NewCollection(t).Reverse() }
func (t *enhancedTable) OffsetCollection(n int) types.Collection {
	return types.NewCollection(t).Offset(n)
}
func (t *enhancedTable) LimitCollection(n int) types.Collection {
	return types.NewCollection(t).Limit(n)
}

// Remove deletes every row matching the collection, routed one at a
// time through Delete so pending-change bookkeeping stays correct for
// arbitrary Collection-based bulk deletes, not just the explicit
// single-row Delete call.
func (t *enhancedTable) Remove(ctx context.Context, groups []types.AndGroup, predicate types.Predicate, opts types.QueryOptions) (int, error) {
	rows, err := t.raw.Fetch(ctx, groups, predicate, opts)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rows {
		if err := t.Delete(ctx, r.LocalID()); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Modify applies changes/mutator to every matching row through Update,
// for the same reason Remove routes through Delete.
func (t *enhancedTable) Modify(
	ctx context.Context, groups []types.AndGroup, predicate types.Predicate, opts types.QueryOptions,
	changes types.Record, mutator func(types.Record) types.Record,
) (int, error) {
	rows, err := t.raw.Fetch(ctx, groups, predicate, opts)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rows {
		var partial types.Record
		if mutator != nil {
			partial = mutator(r.CloneDeep())
		} else {
			partial = changes
		}
		count, err := t.Update(ctx, r.LocalID(), partial)
		if err != nil {
			return n, err
		}
		n += count
	}
	return n, nil
}

func (t *enhancedTable) Add(ctx context.Context, item types.Record) (string, error) {
	rec := item.CloneDeep()
	id := rec.LocalID()
	action := types.ActionCreate
	existed := false
	if id != "" {
		if existing, _ := t.raw.Get(ctx, id); existing != nil {
			existed = true
			action = types.ActionUpdate
		}
	} else {
		id = "" // assigned by the backend on Add
	}
	rec[types.FieldUpdatedAt] = stamp.Now().String()

	newID := id
	var err error
	if existed {
		err = t.raw.Put(ctx, rec)
	} else {
		newID, err = t.raw.Add(ctx, rec)
	}
	if err != nil {
		return "", err
	}
	if !existed {
		action = types.ActionCreate
	}

	if t.isSync {
		stored, _ := t.raw.Get(ctx, newID)
		if err := t.e.state.AddPendingChange(ctx, types.PendingChange{
			Action: action, Table: t.name, LocalID: newID,
			Changes: stored.WithoutLocalFields(), After: stored,
		}); err != nil {
			return "", err
		}
	}

	eventType := types.MutationAdd
	if existed {
		eventType = types.MutationUpdate
	}
	t.e.emit(types.MutationEvent{Type: eventType, Table: t.name, Keys: []string{newID}})
	return newID, nil
}

func (t *enhancedTable) Put(ctx context.Context, item types.Record) error {
	_, err := t.Add(ctx, item)
	return err
}

func (t *enhancedTable) Update(ctx context.Context, localID string, partial types.Record) (int, error) {
	existing, err := t.raw.Get(ctx, localID)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, nil
	}

	merged := partial.Clone()
	if merged == nil {
		merged = types.Record{}
	}
	merged[types.FieldUpdatedAt] = stamp.Now().String()

	n, err := t.raw.Update(ctx, localID, merged)
	if err != nil || n == 0 {
		return n, err
	}

	if t.isSync {
		after, _ := t.raw.Get(ctx, localID)
		if err := t.e.state.AddPendingChange(ctx, types.PendingChange{
			Action: types.ActionUpdate, Table: t.name, LocalID: localID,
			Changes: merged, Before: existing, After: after,
		}); err != nil {
			return n, err
		}
	}

	t.e.emit(types.MutationEvent{Type: types.MutationUpdate, Table: t.name, Keys: []string{localID}})
	return n, nil
}

func (t *enhancedTable) Get(ctx context.Context, localID string) (types.Record, error) {
	return t.raw.Get(ctx, localID)
}

func (t *enhancedTable) Delete(ctx context.Context, localID string) error {
	existing, err := t.raw.Get(ctx, localID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if err := t.raw.Delete(ctx, localID); err != nil {
		return err
	}
	if t.isSync {
		if err := t.e.state.AddPendingChange(ctx, types.PendingChange{
			Action: types.ActionRemove, Table: t.name, LocalID: localID,
			Before: existing,
		}); err != nil {
			return err
		}
	}
	t.e.emit(types.MutationEvent{Type: types.MutationDelete, Table: t.name, Keys: []string{localID}})
	return nil
}

func (t *enhancedTable) BulkAdd(ctx context.Context, items []types.Record) ([]string, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id, err := t.addWithoutEvent(ctx, item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	t.e.emit(types.MutationEvent{Type: types.MutationAdd, Table: t.name, Keys: ids})
	return ids, nil
}

// addWithoutEvent factors the per-row work of Add, skipping the
// per-call mutation event so bulk operations can emit a single event
// covering every affected key (§4.5 "emit one mutation event per
// call").
func (t *enhancedTable) addWithoutEvent(ctx context.Context, item types.Record) (string, error) {
	rec := item.CloneDeep()
	id := rec.LocalID()
	action := types.ActionCreate
	if id != "" {
		if existing, _ := t.raw.Get(ctx, id); existing != nil {
			action = types.ActionUpdate
		}
	}
	rec[types.FieldUpdatedAt] = stamp.Now().String()
	newID := id
	var err error
	if action == types.ActionUpdate {
		err = t.raw.Put(ctx, rec)
	} else {
		newID, err = t.raw.Add(ctx, rec)
	}
	if err != nil {
		return "", err
	}
	if t.isSync {
		stored, _ := t.raw.Get(ctx, newID)
		if err := t.e.state.AddPendingChange(ctx, types.PendingChange{
			Action: action, Table: t.name, LocalID: newID,
			Changes: stored.WithoutLocalFields(), After: stored,
		}); err != nil {
			return "", err
		}
	}
	return newID, nil
}

func (t *enhancedTable) BulkPut(ctx context.Context, items []types.Record) error {
	_, err := t.BulkAdd(ctx, items)
	return err
}

func (t *enhancedTable) BulkUpdate(ctx context.Context, updates map[string]types.Record) (int, error) {
	total := 0
	var keys []string
	for id, partial := range updates {
		existing, err := t.raw.Get(ctx, id)
		if err != nil {
			return total, err
		}
		if existing == nil {
			continue
		}
		merged := partial.Clone()
		if merged == nil {
			merged = types.Record{}
		}
		merged[types.FieldUpdatedAt] = stamp.Now().String()
		n, err := t.raw.Update(ctx, id, merged)
		if err != nil {
			return total, err
		}
		if n == 0 {
			continue
		}
		if t.isSync {
			after, _ := t.raw.Get(ctx, id)
			if err := t.e.state.AddPendingChange(ctx, types.PendingChange{
				Action: types.ActionUpdate, Table: t.name, LocalID: id,
				Changes: merged, Before: existing, After: after,
			}); err != nil {
				return total, err
			}
		}
		total += n
		keys = append(keys, id)
	}
	if total > 0 {
		t.e.emit(types.MutationEvent{Type: types.MutationUpdate, Table: t.name, Keys: keys})
	}
	return total, nil
}

func (t *enhancedTable) BulkDelete(ctx context.Context, localIDs []string) error {
	var keys []string
	for _, id := range localIDs {
		existing, err := t.raw.Get(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			continue
		}
		if err := t.raw.Delete(ctx, id); err != nil {
			return err
		}
		if t.isSync {
			if err := t.e.state.AddPendingChange(ctx, types.PendingChange{
				Action: types.ActionRemove, Table: t.name, LocalID: id,
				Before: existing,
			}); err != nil {
				return err
			}
		}
		keys = append(keys, id)
	}
	if len(keys) > 0 {
		t.e.emit(types.MutationEvent{Type: types.MutationDelete, Table: t.name, Keys: keys})
	}
	return nil
}

// Clear deletes every row and enqueues a Remove pending change per
// previously existing record (§4.5).
func (t *enhancedTable) Clear(ctx context.Context) error {
	existing, err := t.raw.OrderBy(types.FieldLocalID).ToArray(ctx)
	if err != nil {
		return err
	}
	if err := t.raw.Clear(ctx); err != nil {
		return err
	}
	var keys []string
	for _, r := range existing {
		id := r.LocalID()
		if t.isSync {
			if err := t.e.state.AddPendingChange(ctx, types.PendingChange{
				Action: types.ActionRemove, Table: t.name, LocalID: id,
				Before: r,
			}); err != nil {
				log.WithError(err).WithField("table", t.name).Error("could not queue pending remove during clear")
				continue
			}
		}
		keys = append(keys, id)
	}
	if len(keys) > 0 {
		t.e.emit(types.MutationEvent{Type: types.MutationDelete, Table: t.name, Keys: keys})
	}
	return nil
}
