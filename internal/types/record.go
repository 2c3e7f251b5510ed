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

// Package types contains the data model and the storage/transport
// contracts shared by every other package in the sync engine. The goal
// of keeping them in one package, with no dependency on any concrete
// backend, is the same one the teacher states for its own types
// package: make it easy to compose functionality as the engine evolves.
package types

// Reserved record attributes. All other keys in a Record are
// user-defined and opaque to the engine.
const (
	FieldLocalID   = "local_id"
	FieldServerID  = "server_id"
	FieldUpdatedAt = "updated_at"
	FieldDeleted   = "deleted"
)

// StateTableName is the reserved internal table name holding the
// persisted SyncState singleton row. User code must not register a
// table with this name.
const StateTableName = "_sync_state"

// StateRowKey is the primary key of the single SyncState row within
// StateTableName.
const StateRowKey = "sync_state"

// SchemaVersionRowKey is the primary key of the row holding the applied
// SQL schema version, for SQL-backed drivers only.
const SchemaVersionRowKey = "sqlite_schema_version"

// A Record is a key/value object in a named table. Values are
// JSON-marshalable Go values (string, float64, bool, nil, []any,
// map[string]any, or time.Time, which is normalized to an ISO-8601
// string on the wire).
type Record map[string]any

// Clone returns a shallow copy of the record. Callers that need a deep
// copy of nested maps/slices should use CloneDeep.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// CloneDeep returns a deep copy, recursing into nested maps and slices.
// State-manager reads always hand out deep clones so observers can never
// see an interior mutation.
func (r Record) CloneDeep() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = deepCloneValue(v)
	}
	return out
}

func deepCloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.CloneDeep()
	case map[string]any:
		return Record(t).CloneDeep()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCloneValue(e)
		}
		return out
	default:
		return v
	}
}

// LocalID returns the record's local_id, or "" if unset or not a string.
func (r Record) LocalID() string {
	s, _ := r[FieldLocalID].(string)
	return s
}

// ServerID returns the record's server_id and whether it was present.
func (r Record) ServerID() (any, bool) {
	v, ok := r[FieldServerID]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// UpdatedAt returns the record's updated_at as a string, or "" if unset.
func (r Record) UpdatedAt() string {
	s, _ := r[FieldUpdatedAt].(string)
	return s
}

// IsTombstone reports whether the record carries a truthy deleted flag.
func (r Record) IsTombstone() bool {
	b, _ := r[FieldDeleted].(bool)
	return b
}

// WithoutLocalFields returns a copy of r with local-only reserved fields
// (local_id, updated_at) stripped, used when building the outgoing
// payload for a pending change (§3 invariants).
func (r Record) WithoutLocalFields() Record {
	out := r.Clone()
	delete(out, FieldLocalID)
	delete(out, FieldUpdatedAt)
	return out
}

// Action identifies the kind of pending change queued against the
// remote.
type Action int

const (
	// ActionCreate queues a remote Add call.
	ActionCreate Action = iota
	// ActionUpdate queues a remote Update call.
	ActionUpdate
	// ActionRemove queues a remote Remove call.
	ActionRemove
)

// String renders the action for logging.
func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Priority returns the push-ordering priority for the action:
// Create(1) < Update(2) < Remove(3), per §4.8.
func (a Action) Priority() int {
	switch a {
	case ActionCreate:
		return 1
	case ActionUpdate:
		return 2
	case ActionRemove:
		return 3
	default:
		return 99
	}
}

// ConflictStrategy selects how the pull engine reconciles a remote
// change against a pending local change on the same record.
type ConflictStrategy int

const (
	// ConflictTryShallowMerge is the default: field-by-field merge,
	// recording a conflict for any field both sides changed.
	ConflictTryShallowMerge ConflictStrategy = iota
	// ConflictLocalWins keeps the local record and drops the remote
	// change.
	ConflictLocalWins
	// ConflictRemoteWins overwrites the local record with the remote
	// one and drops the pending change.
	ConflictRemoteWins
)

// MissingRecordStrategy selects how the push engine handles a remote
// Update call reporting that the target record no longer exists.
type MissingRecordStrategy int

const (
	// MissingInsertRemoteRecord (the default) re-creates the record
	// locally under a fresh local_id and queues a Create.
	MissingInsertRemoteRecord MissingRecordStrategy = iota
	// MissingIgnore leaves the local record alone and drops the
	// pending entry.
	MissingIgnore
	// MissingDeleteLocalRecord removes the local record and drops the
	// pending entry.
	MissingDeleteLocalRecord
)

// PendingChange is one append-only entry in the sync queue (§3).
type PendingChange struct {
	Action   Action
	Table    string
	LocalID  string
	ServerID any    `json:"server_id,omitempty"`
	Version  int64  `json:"version"`
	Changes  Record `json:"changes,omitempty"`
	Before   Record `json:"before,omitempty"`
	After    Record `json:"after,omitempty"`
}

// Identity returns the (table, local_id) pair that uniquely identifies
// this entry within the pending queue.
func (p PendingChange) Identity() (table, localID string) {
	return p.Table, p.LocalID
}

// Clone returns a deep copy of the entry.
func (p PendingChange) Clone() PendingChange {
	p.Changes = p.Changes.CloneDeep()
	p.Before = p.Before.CloneDeep()
	p.After = p.After.CloneDeep()
	return p
}

// FieldConflict is one unresolved field within a ConflictRecord.
type FieldConflict struct {
	Key         string `json:"key"`
	LocalValue  any    `json:"local_value"`
	RemoteValue any    `json:"remote_value"`
}

// ConflictRecord groups the unresolved fields for one local_id (§3).
type ConflictRecord struct {
	Table  string          `json:"table"`
	Fields []FieldConflict `json:"fields"`
}

// Clone returns a deep-enough copy (Fields is replaced with a fresh
// slice; FieldConflict values are themselves immutable scalars-or-any).
func (c ConflictRecord) Clone() ConflictRecord {
	fields := make([]FieldConflict, len(c.Fields))
	copy(fields, c.Fields)
	c.Fields = fields
	return c
}

// Status is the runtime sync status surfaced on the observable view.
type Status int

const (
	StatusDisabled Status = iota
	StatusDisabling
	StatusIdle
	StatusSyncing
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusDisabling:
		return "disabling"
	case StatusIdle:
		return "idle"
	case StatusSyncing:
		return "syncing"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ApiErrorKind classifies an ApiError as network-related or not (§7).
type ApiErrorKind int

const (
	ApiErrorOther ApiErrorKind = iota
	ApiErrorNetwork
)

// SyncState is the persisted singleton synchronization state (§3),
// keyed StateRowKey within StateTableName.
type SyncState struct {
	FirstLoadDone  bool                      `json:"first_load_done"`
	PendingChanges []PendingChange           `json:"pending_changes"`
	LastPulled     map[string]string         `json:"last_pulled"`
	Conflicts      map[string]ConflictRecord `json:"conflicts"`
}

// NewSyncState returns the zero-value initial state used when no
// persisted row exists yet.
func NewSyncState() SyncState {
	return SyncState{
		PendingChanges: nil,
		LastPulled:     make(map[string]string),
		Conflicts:      make(map[string]ConflictRecord),
	}
}

// Clone returns a deep copy so that readers (including observers) never
// alias the state manager's interior slices/maps.
func (s SyncState) Clone() SyncState {
	out := SyncState{FirstLoadDone: s.FirstLoadDone}
	out.PendingChanges = make([]PendingChange, len(s.PendingChanges))
	for i, p := range s.PendingChanges {
		out.PendingChanges[i] = p.Clone()
	}
	out.LastPulled = make(map[string]string, len(s.LastPulled))
	for k, v := range s.LastPulled {
		out.LastPulled[k] = v
	}
	out.Conflicts = make(map[string]ConflictRecord, len(s.Conflicts))
	for k, v := range s.Conflicts {
		out.Conflicts[k] = v.Clone()
	}
	return out
}

// ObservableState is SyncState plus the runtime-only fields that are
// never persisted (§3 "Observable view").
type ObservableState struct {
	SyncState
	Status    Status
	Hydrated  bool
	ApiError  *ApiErrorInfo
}

// ApiErrorInfo is the observable representation of the last ApiError.
type ApiErrorInfo struct {
	Kind    ApiErrorKind
	Message string
}

// MutationType identifies the kind of mutation event emitted by the
// table enhancer (§4.5).
type MutationType int

const (
	MutationAdd MutationType = iota
	MutationUpdate
	MutationDelete
	MutationPull
)

func (m MutationType) String() string {
	switch m {
	case MutationAdd:
		return "add"
	case MutationUpdate:
		return "update"
	case MutationDelete:
		return "delete"
	case MutationPull:
		return "pull"
	default:
		return "unknown"
	}
}

// MutationEvent describes a local or pull-driven change in a table,
// consumed by reactive observers (§4.5).
type MutationEvent struct {
	Type  MutationType
	Table string
	Keys  []string
}
