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

// Package state holds the in-memory SyncState singleton and persists it
// to a single row in the internal state table, the way the teacher's
// Memo persists a key/value blob (§4.4).
package state

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/riftsync/riftsync/internal/metrics"
	"github.com/riftsync/riftsync/internal/notify"
	"github.com/riftsync/riftsync/internal/types"
)

// persistedRow is the JSON envelope stored under types.StateRowKey.
type persistedRow struct {
	FirstLoadDone  bool                             `json:"first_load_done"`
	PendingChanges []types.PendingChange            `json:"pending_changes"`
	LastPulled     map[string]string                `json:"last_pulled"`
	Conflicts      map[string]types.ConflictRecord  `json:"conflicts"`
}

// Manager owns the observable sync state and the single table row it is
// persisted to. All mutating methods serialize through mu so that
// "apply, persist, emit" (§4.4) happens as one indivisible step from the
// point of view of any observer.
type Manager struct {
	backend types.StorageBackend

	mu     sync.Mutex
	hub    *notify.Hub[types.ObservableState]
	varr   *notify.Var[types.ObservableState]
}

// New returns a Manager over backend. Hydrate must be called before any
// other method is meaningful.
func New(backend types.StorageBackend) *Manager {
	m := &Manager{backend: backend, hub: &notify.Hub[types.ObservableState]{}, varr: &notify.Var[types.ObservableState]{}}
	m.varr.Set(types.ObservableState{SyncState: types.NewSyncState(), Status: types.StatusDisabled})
	return m
}

// Subscribe registers fn to be called with every subsequent state
// snapshot, returning an unsubscribe function (§4.4).
func (m *Manager) Subscribe(fn func(types.ObservableState)) notify.Unsubscribe {
	return m.hub.Subscribe(fn)
}

// GetState returns a deep clone of the current observable state.
func (m *Manager) GetState() types.ObservableState {
	return cloneObservable(m.varr.Peek())
}

func cloneObservable(s types.ObservableState) types.ObservableState {
	out := s
	out.SyncState = s.SyncState.Clone()
	if s.ApiError != nil {
		errCopy := *s.ApiError
		out.ApiError = &errCopy
	}
	return out
}

// Hydrate loads the persisted row if present, otherwise seeds the
// defaults, and emits the result to observers exactly once (§4.4).
func (m *Manager) Hydrate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.varr.Peek().Hydrated {
		return nil
	}

	tbl, err := m.backend.Table(ctx, types.StateTableName)
	if err != nil {
		return err
	}
	row, err := tbl.Get(ctx, types.StateRowKey)
	if err != nil {
		return err
	}

	next := types.NewSyncState()
	if row != nil {
		raw, _ := row["value"].(string)
		if raw != "" {
			var persisted persistedRow
			if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
				return errors.Wrap(err, "could not decode persisted sync state")
			}
			next.FirstLoadDone = persisted.FirstLoadDone
			next.PendingChanges = persisted.PendingChanges
			if persisted.LastPulled != nil {
				next.LastPulled = persisted.LastPulled
			}
			if persisted.Conflicts != nil {
				next.Conflicts = persisted.Conflicts
			}
		}
	}

	obs := types.ObservableState{SyncState: next, Status: types.StatusIdle, Hydrated: true}
	m.varr.Set(cloneObservable(obs))
	m.hub.Publish(cloneObservable(obs))
	log.WithField("first_load_done", next.FirstLoadDone).Debug("sync state hydrated")
	return nil
}

// persistLocked writes the current SyncState to the state table. Caller
// must hold mu.
func (m *Manager) persistLocked(ctx context.Context, s types.SyncState) error {
	defer metrics.ObserveDuration(metrics.StatePersistDuration)()

	row := persistedRow{
		FirstLoadDone:  s.FirstLoadDone,
		PendingChanges: s.PendingChanges,
		LastPulled:     s.LastPulled,
		Conflicts:      s.Conflicts,
	}
	encoded, err := json.Marshal(row)
	if err != nil {
		return errors.Wrap(err, "could not encode sync state")
	}
	tbl, err := m.backend.Table(ctx, types.StateTableName)
	if err != nil {
		return err
	}
	return tbl.Put(ctx, types.Record{"local_id": types.StateRowKey, "value": string(encoded)})
}

// mutateLocked applies fn to a clone of the current state, persists the
// result, updates the observable var, and publishes to subscribers. It
// is the single choke point every public mutator below funnels through,
// implementing §4.4's "apply, persist, emit" sequencing.
func (m *Manager) mutateLocked(ctx context.Context, fn func(*types.SyncState)) error {
	current := m.varr.Peek()
	next := current.SyncState.Clone()
	fn(&next)

	if err := m.persistLocked(ctx, next); err != nil {
		return err
	}

	obs := current
	obs.SyncState = next
	obs = cloneObservable(obs)
	m.varr.Set(obs)
	m.hub.Publish(cloneObservable(obs))
	return nil
}

// SetState replaces the entire SyncState with updater's result. updater
// must be non-nil; there is no form that takes a replacement state
// value directly.
func (m *Manager) SetState(ctx context.Context, updater func(types.SyncState) types.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked(ctx, func(s *types.SyncState) {
		*s = updater(*s)
	})
}

// AddPendingChange applies §4.4's merge rule for a new entry on
// (change.Table, change.LocalID): tombstones win over any further
// change, a Remove always collapses the entry to Remove, and otherwise
// fields are shallow-merged and the version counter incremented. A
// brand-new entry is only appended when it carries a real change
// (Remove, or a non-empty payload once local-only fields are
// stripped).
func (m *Manager) AddPendingChange(ctx context.Context, change types.PendingChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked(ctx, func(s *types.SyncState) {
		for i, existing := range s.PendingChanges {
			if existing.Table != change.Table || existing.LocalID != change.LocalID {
				continue
			}
			if existing.Action == types.ActionRemove {
				return
			}
			existing.Version++
			if change.Action == types.ActionRemove {
				existing.Action = types.ActionRemove
			}
			if existing.Changes == nil {
				existing.Changes = types.Record{}
			}
			for k, v := range change.Changes {
				existing.Changes[k] = v
			}
			if change.After != nil {
				if existing.After == nil {
					existing.After = types.Record{}
				}
				for k, v := range change.After {
					existing.After[k] = v
				}
			}
			if change.ServerID != nil {
				existing.ServerID = change.ServerID
			}
			s.PendingChanges[i] = existing
			return
		}

		stripped := change.Changes.WithoutLocalFields()
		if change.Action != types.ActionRemove && len(stripped) == 0 {
			return
		}
		change.Version = 1
		s.PendingChanges = append(s.PendingChanges, change)
	})
}

// FindPendingChange returns the current pending entry for (table,
// localID), if any, as an independent clone.
func (m *Manager) FindPendingChange(table, localID string) (types.PendingChange, bool) {
	s := m.varr.Peek().SyncState
	for _, p := range s.PendingChanges {
		if p.Table == table && p.LocalID == localID {
			return p.Clone(), true
		}
	}
	return types.PendingChange{}, false
}

// HasPendingRemoveForServerID reports whether table has a pending
// Remove entry whose server_id matches serverID — used by the pull
// engine to skip a remote record it is about to delete anyway (§4.7).
func (m *Manager) HasPendingRemoveForServerID(table string, serverID any) bool {
	if serverID == nil {
		return false
	}
	s := m.varr.Peek().SyncState
	for _, p := range s.PendingChanges {
		if p.Table == table && p.Action == types.ActionRemove && p.ServerID == serverID {
			return true
		}
	}
	return false
}

// SamePendingVersion reports whether the current pending entry for
// (table, localID) still carries version v — used by push success
// handlers to detect that no local update raced the push (§4.4).
func (m *Manager) SamePendingVersion(table, localID string, v int64) bool {
	s := m.varr.Peek().SyncState
	for _, p := range s.PendingChanges {
		if p.Table == table && p.LocalID == localID {
			return p.Version == v
		}
	}
	return false
}

// RemovePendingChange drops the entry for (table, localID), if any.
func (m *Manager) RemovePendingChange(ctx context.Context, table, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked(ctx, func(s *types.SyncState) {
		out := s.PendingChanges[:0]
		for _, p := range s.PendingChanges {
			if p.Table == table && p.LocalID == localID {
				continue
			}
			out = append(out, p)
		}
		s.PendingChanges = out
	})
}

// UpdatePendingChange rewrites the action and, optionally, the server_id
// of an existing entry, used once a create has been acknowledged by the
// remote and the entry needs to continue life as an update/remove
// candidate.
func (m *Manager) UpdatePendingChange(ctx context.Context, table, localID string, action types.Action, serverID any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked(ctx, func(s *types.SyncState) {
		for i, p := range s.PendingChanges {
			if p.Table == table && p.LocalID == localID {
				p.Action = action
				if serverID != nil {
					p.ServerID = serverID
				}
				s.PendingChanges[i] = p
				return
			}
		}
	})
}

// SetPendingChangeBefore stamps the pre-image used for conflict
// resolution onto an existing pending entry.
func (m *Manager) SetPendingChangeBefore(ctx context.Context, table, localID string, before types.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked(ctx, func(s *types.SyncState) {
		for i, p := range s.PendingChanges {
			if p.Table == table && p.LocalID == localID {
				p.Before = before
				s.PendingChanges[i] = p
				return
			}
		}
	})
}

// HasConflicts reports whether localID currently has unresolved field
// conflicts recorded against it, across every table.
func (m *Manager) HasConflicts(localID string) bool {
	s := m.varr.Peek().SyncState
	_, ok := s.Conflicts[localID]
	return ok
}

// SetConflict records or clears the conflict for localID.
func (m *Manager) SetConflict(ctx context.Context, localID string, conflict *types.ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked(ctx, func(s *types.SyncState) {
		if conflict == nil {
			delete(s.Conflicts, localID)
			return
		}
		if s.Conflicts == nil {
			s.Conflicts = make(map[string]types.ConflictRecord)
		}
		s.Conflicts[localID] = *conflict
	})
}

// SetFirstLoadDone flips the first-load-complete flag.
func (m *Manager) SetFirstLoadDone(ctx context.Context, done bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked(ctx, func(s *types.SyncState) {
		s.FirstLoadDone = done
	})
}

// SetLastPulled records the pull watermark for table.
func (m *Manager) SetLastPulled(ctx context.Context, table, watermark string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked(ctx, func(s *types.SyncState) {
		if s.LastPulled == nil {
			s.LastPulled = make(map[string]string)
		}
		s.LastPulled[table] = watermark
	})
}

// SetSyncStatus updates the runtime-only Status field without touching
// persisted SyncState (status is never persisted, §3).
func (m *Manager) SetSyncStatus(status types.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.varr.Peek()
	current.Status = status
	current = cloneObservable(current)
	m.varr.Set(current)
	m.hub.Publish(cloneObservable(current))
}

// SetAPIError updates the runtime-only last-error field. A nil err
// clears it.
func (m *Manager) SetAPIError(err *types.ApiErrorInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.varr.Peek()
	current.ApiError = err
	current = cloneObservable(current)
	m.varr.Set(current)
	m.hub.Publish(cloneObservable(current))
}
