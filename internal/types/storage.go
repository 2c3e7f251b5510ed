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

// TxMode selects read-only or read-write transaction semantics (§4.1).
type TxMode int

const (
	TxReadOnly TxMode = iota
	TxReadWrite
)

// Table is the uniform per-table contract every backend (the in-memory
// reference engine, the SQL compiler's driver, or a future native
// binding) must implement (§4.1). Table itself also satisfies Queryable
// so that Table.Where/OrderBy/Reverse/Offset/Limit can hand out
// Collections bound directly to it.
type Table interface {
	Queryable

	// Add inserts item, assigning and returning a fresh local_id if the
	// caller did not supply one. It fails if a uniqueness constraint
	// (local_id, or server_id when present) would be violated.
	Add(ctx context.Context, item Record) (localID string, err error)

	// Put upserts item by local_id.
	Put(ctx context.Context, item Record) error

	// Get returns the record for localID, or nil if absent.
	Get(ctx context.Context, localID string) (Record, error)

	// Update applies partial to the record for localID, returning 1 if
	// a row was changed, 0 if localID is absent.
	Update(ctx context.Context, localID string, partial Record) (int, error)

	// Delete removes the record for localID. It is idempotent: deleting
	// an absent localID is not an error.
	Delete(ctx context.Context, localID string) error

	// BulkAdd, BulkPut, BulkUpdate, BulkDelete are batched variants of
	// the singular operations above, sharing their semantics but
	// applying their side effects atomically as one unit.
	BulkAdd(ctx context.Context, items []Record) (localIDs []string, err error)
	BulkPut(ctx context.Context, items []Record) error
	BulkUpdate(ctx context.Context, updates map[string]Record) (changed int, err error)
	BulkDelete(ctx context.Context, localIDs []string) error

	// Clear empties the table.
	Clear(ctx context.Context) error

	// Where returns a WhereClause scoped to column, for building a
	// Collection via one of its comparison methods.
	Where(column string) WhereClause

	// OrderBy, Reverse, Offset, and Limit return a Collection over the
	// whole table, for callers that want ordering/paging without a
	// Where clause.
	OrderBy(column string) Collection
	Reverse() Collection
	OffsetCollection(n int) Collection
	LimitCollection(n int) Collection
}

// TxHandle maps table name to a Table view scoped to the enclosing
// transaction, handed to a Transaction body (§4.1).
type TxHandle interface {
	Table(name string) (Table, error)
}

// StorageBackend is the pluggable contract behind the storage
// abstraction layer (§4.1, §5). One StorageBackend exists per database
// name.
type StorageBackend interface {
	// Table returns a Table for name, creating backing storage on first
	// use if the backend requires it. The memstore and sqlgen backends
	// return a new handle on every call; handles for the same name share
	// the same underlying data.
	Table(ctx context.Context, name string) (Table, error)

	// Transaction runs body with a TxHandle scoped to tables, under the
	// given mode. Nested Transaction calls made from within body (using
	// the same backend) are flat-composed into the outer transaction;
	// on any error, the outer transaction rolls back in its entirety.
	Transaction(ctx context.Context, mode TxMode, tables []string, body func(ctx context.Context, tx TxHandle) error) error

	// Close releases any resources held by the backend. It is called
	// once, after the scheduler has stopped and the state manager has
	// flushed (§9 "Cyclic references").
	Close() error
}
