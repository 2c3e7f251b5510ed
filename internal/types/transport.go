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

package types

import "context"

// AddResult is the outcome of a successful remote Add call. UpdatedAt is
// optional: some transports stamp it server-side, others leave it for
// the next pull.
type AddResult struct {
	ID        any
	UpdatedAt string
}

// Transport is the per-table remote contract of §6 ("per-table mode").
// The engine never talks to the network directly; it is handed a
// Transport per sync table by the caller.
type Transport interface {
	// Add pushes a newly created local record. A nil result (ok=false)
	// means the call produced no usable result and the push engine
	// should fall back to the version-matching rule of §4.8.
	Add(ctx context.Context, item Record) (result *AddResult, err error)

	// Update pushes a changed field set for an already-acknowledged
	// record. exists reports whether the server still has the targeted
	// record; false triggers the missing-record strategy.
	Update(ctx context.Context, serverID any, changes Record, after Record) (exists bool, err error)

	// Remove deletes an already-acknowledged record.
	Remove(ctx context.Context, serverID any) error

	// List returns every record updated strictly after since (an
	// ISO-8601 timestamp, "" meaning the beginning of time).
	List(ctx context.Context, since string) ([]Record, error)

	// FirstLoadPerTable, if non-nil, bulk-loads starting after lastID,
	// returning the next page. An empty page signals completion. It is
	// optional: a Transport that does not implement bulk first-load
	// simply leaves this unset and the engine uses List with an empty
	// watermark instead.
	FirstLoadPerTable(ctx context.Context, lastID any) ([]Record, error)
}

// PushItem is one outgoing entry in a BatchTransport.Push call.
type PushItem struct {
	Table    string
	Action   Action
	LocalID  string
	ServerID any
	Data     Record
}

// PushResult is the per-item outcome of a BatchTransport.Push call.
type PushResult struct {
	LocalID   string
	Success   bool
	ID        any
	UpdatedAt string
	Error     string
}

// FirstLoadBatchResult is the outcome of one BatchTransport.FirstLoad
// call.
type FirstLoadBatchResult struct {
	DataByTable    map[string][]Record
	CursorsByTable map[string]any
	HasMore        bool
}

// BatchTransport is the "batch mode" remote contract of §6: one Push
// and one Pull call span every configured sync table.
type BatchTransport interface {
	// SyncTables lists every table this transport serves.
	SyncTables() []string

	// Push sends every outgoing change in one call.
	Push(ctx context.Context, changes []PushItem) ([]PushResult, error)

	// Pull requests records updated after the given per-table watermark.
	Pull(ctx context.Context, since map[string]string) (map[string][]Record, error)

	// FirstLoad, if non-nil, bulk-loads every table in one call. It is
	// optional, like Transport.FirstLoadPerTable.
	FirstLoad(ctx context.Context, cursors map[string]any) (*FirstLoadBatchResult, error)
}
