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

package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/riftsync/riftsync/internal/types"
)

// recordStore is one table's guarded storage.
type recordStore struct {
	mu          sync.Mutex
	name        string
	data        map[string]types.Record // local_id -> record
	serverIndex map[string]string       // stringified server_id -> local_id
}

func newRecordStore(name string) *recordStore {
	return &recordStore{
		name:        name,
		data:        make(map[string]types.Record),
		serverIndex: make(map[string]string),
	}
}

func snapshotData(src map[string]types.Record) map[string]types.Record {
	out := make(map[string]types.Record, len(src))
	for k, v := range src {
		out[k] = v.CloneDeep()
	}
	return out
}

func (s *recordStore) rebuildIndex() {
	s.serverIndex = make(map[string]string, len(s.data))
	for id, rec := range s.data {
		if sid, ok := rec.ServerID(); ok {
			s.serverIndex[fmt.Sprint(sid)] = id
		}
	}
}

// Backend is the reference in-memory StorageBackend (§4.2).
type Backend struct {
	mu     sync.Mutex
	stores map[string]*recordStore
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{stores: make(map[string]*recordStore)}
}

var _ types.StorageBackend = (*Backend)(nil)

func (b *Backend) store(name string) *recordStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stores[name]
	if !ok {
		s = newRecordStore(name)
		b.stores[name] = s
	}
	return s
}

// Table returns a handle for name. Each call returns a new handle; the
// handles themselves are not memoized. Backing storage is created
// lazily and shared by every handle for the same name.
func (b *Backend) Table(_ context.Context, name string) (types.Table, error) {
	return &tableHandle{backend: b, name: name}, nil
}

// Close is a no-op for the in-memory backend; there is nothing external
// to release.
func (b *Backend) Close() error { return nil }

type ctxTxKey struct{}

type txState struct {
	backend   *Backend
	stores    map[string]*recordStore
	snapshots map[string]map[string]types.Record
	order     []string
}

type txHandle struct {
	state *txState
}

func (h *txHandle) Table(name string) (types.Table, error) {
	if _, ok := h.state.stores[name]; !ok {
		return nil, types.NewStorageError("transaction", name,
			fmt.Errorf("table %q was not included in this transaction's scope", name))
	}
	return &tableHandle{backend: h.state.backend, name: name}, nil
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Transaction implements types.StorageBackend. It locks the requested
// tables' mutexes in name-sorted order (§4.2 deadlock avoidance) and
// restores a deep snapshot of each on rollback. A nested call for the
// same backend is flat-composed into the outer transaction rather than
// taking a second lock (§4.1, §5 "Transaction nesting").
func (b *Backend) Transaction(
	ctx context.Context, _ types.TxMode, tableNames []string,
	body func(ctx context.Context, tx types.TxHandle) error,
) error {
	names := uniqueSorted(tableNames)

	if outer, ok := ctx.Value(ctxTxKey{}).(*txState); ok && outer.backend == b {
		for _, n := range names {
			if _, ok := outer.stores[n]; !ok {
				return types.NewStorageError("transaction", n,
					fmt.Errorf("nested transaction referenced table %q outside the outer transaction's scope", n))
			}
		}
		return body(ctx, &txHandle{state: outer})
	}

	st := &txState{
		backend:   b,
		stores:    make(map[string]*recordStore, len(names)),
		snapshots: make(map[string]map[string]types.Record, len(names)),
	}
	for _, n := range names {
		s := b.store(n)
		s.mu.Lock()
		st.stores[n] = s
		st.order = append(st.order, n)
		st.snapshots[n] = snapshotData(s.data)
	}
	defer func() {
		for i := len(st.order) - 1; i >= 0; i-- {
			st.stores[st.order[i]].mu.Unlock()
		}
	}()

	txCtx := context.WithValue(ctx, ctxTxKey{}, st)
	if err := body(txCtx, &txHandle{state: st}); err != nil {
		for name, store := range st.stores {
			store.data = st.snapshots[name]
			store.rebuildIndex()
		}
		return err
	}
	return nil
}

// tableHandle is the types.Table implementation returned both for
// standalone use and from within a transaction.
type tableHandle struct {
	backend *Backend
	name    string
}

var (
	_ types.Table     = (*tableHandle)(nil)
	_ types.Queryable = (*tableHandle)(nil)
)

func (t *tableHandle) TableName() string { return t.name }

// withStore runs fn holding the store's lock: reused from an enclosing
// transaction if one already covers this table, or acquired for the
// duration of this single call otherwise.
func (t *tableHandle) withStore(ctx context.Context, fn func(*recordStore) error) error {
	if st, ok := ctx.Value(ctxTxKey{}).(*txState); ok {
		if store, ok2 := st.stores[t.name]; ok2 {
			return fn(store)
		}
		return types.NewStorageError("query", t.name,
			fmt.Errorf("table %q accessed outside its transaction scope", t.name))
	}
	store := t.backend.store(t.name)
	store.mu.Lock()
	defer store.mu.Unlock()
	return fn(store)
}

func newLocalID() string { return uuid.NewString() }

func (t *tableHandle) Add(ctx context.Context, item types.Record) (string, error) {
	var id string
	err := t.withStore(ctx, func(s *recordStore) error {
		rec := item.CloneDeep()
		id = rec.LocalID()
		if id == "" {
			id = newLocalID()
			rec[types.FieldLocalID] = id
		}
		if _, exists := s.data[id]; exists {
			return types.NewStorageError("add", t.name, fmt.Errorf("local_id %q already exists", id))
		}
		if sid, ok := rec.ServerID(); ok {
			key := fmt.Sprint(sid)
			if _, exists := s.serverIndex[key]; exists {
				return types.NewStorageError("add", t.name, fmt.Errorf("server_id %v already exists", sid))
			}
			s.serverIndex[key] = id
		}
		s.data[id] = rec
		return nil
	})
	return id, err
}

func (t *tableHandle) Put(ctx context.Context, item types.Record) error {
	return t.withStore(ctx, func(s *recordStore) error {
		rec := item.CloneDeep()
		id := rec.LocalID()
		if id == "" {
			id = newLocalID()
			rec[types.FieldLocalID] = id
		}
		if old, exists := s.data[id]; exists {
			if oldSid, ok := old.ServerID(); ok {
				delete(s.serverIndex, fmt.Sprint(oldSid))
			}
		}
		if sid, ok := rec.ServerID(); ok {
			key := fmt.Sprint(sid)
			if owner, exists := s.serverIndex[key]; exists && owner != id {
				return types.NewStorageError("put", t.name, fmt.Errorf("server_id %v already exists", sid))
			}
			s.serverIndex[key] = id
		}
		s.data[id] = rec
		return nil
	})
}

func (t *tableHandle) Get(ctx context.Context, localID string) (types.Record, error) {
	var out types.Record
	err := t.withStore(ctx, func(s *recordStore) error {
		if rec, ok := s.data[localID]; ok {
			out = rec.CloneDeep()
		}
		return nil
	})
	return out, err
}

func (t *tableHandle) Update(ctx context.Context, localID string, partial types.Record) (int, error) {
	changed := 0
	err := t.withStore(ctx, func(s *recordStore) error {
		existing, ok := s.data[localID]
		if !ok {
			return nil
		}
		merged := existing.Clone()
		for k, v := range partial {
			merged[k] = v
		}
		if oldSid, ok := existing.ServerID(); ok {
			delete(s.serverIndex, fmt.Sprint(oldSid))
		}
		if sid, ok := merged.ServerID(); ok {
			s.serverIndex[fmt.Sprint(sid)] = localID
		}
		s.data[localID] = merged
		changed = 1
		return nil
	})
	return changed, err
}

func (t *tableHandle) Delete(ctx context.Context, localID string) error {
	return t.withStore(ctx, func(s *recordStore) error {
		if rec, ok := s.data[localID]; ok {
			if sid, ok := rec.ServerID(); ok {
				delete(s.serverIndex, fmt.Sprint(sid))
			}
			delete(s.data, localID)
		}
		return nil
	})
}

func (t *tableHandle) BulkAdd(ctx context.Context, items []types.Record) ([]string, error) {
	ids := make([]string, len(items))
	for i, item := range items {
		id, err := t.Add(ctx, item)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (t *tableHandle) BulkPut(ctx context.Context, items []types.Record) error {
	for _, item := range items {
		if err := t.Put(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (t *tableHandle) BulkUpdate(ctx context.Context, updates map[string]types.Record) (int, error) {
	total := 0
	for id, partial := range updates {
		n, err := t.Update(ctx, id, partial)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (t *tableHandle) BulkDelete(ctx context.Context, localIDs []string) error {
	for _, id := range localIDs {
		if err := t.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (t *tableHandle) Clear(ctx context.Context) error {
	return t.withStore(ctx, func(s *recordStore) error {
		s.data = make(map[string]types.Record)
		s.serverIndex = make(map[string]string)
		return nil
	})
}

func (t *tableHandle) Where(column string) types.WhereClause {
	return types.NewWhereClause(t, column)
}

func (t *tableHandle) OrderBy(column string) types.Collection {
	return types.NewCollection(t).OrderBy(column)
}

func (t *tableHandle) Reverse() types.Collection { return types.NewCollection(t).Reverse() }

func (t *tableHandle) OffsetCollection(n int) types.Collection {
	return types.NewCollection(t).Offset(n)
}

func (t *tableHandle) LimitCollection(n int) types.Collection {
	return types.NewCollection(t).Limit(n)
}
