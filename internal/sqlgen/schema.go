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

package sqlgen

import "github.com/riftsync/riftsync/internal/types"

// TableSchema declares the physical shape of one sync table: its
// column list and which of those columns hold booleans stored as 0/1
// (§4.3 "numeric-like bools ... re-hydrated to booleans on columns
// declared boolean").
type TableSchema struct {
	Name        string
	Columns     []string
	BoolColumns []string
}

func (s TableSchema) boolSet() map[string]bool {
	out := make(map[string]bool, len(s.BoolColumns))
	for _, c := range s.BoolColumns {
		out[c] = true
	}
	return out
}

// SchemaRegistry is the set of table schemas a SQL backend serves.
// Sync tables must be registered before use; the reference memstore
// backend needs no such registration because it has no physical
// columns to declare.
type SchemaRegistry struct {
	tables map[string]TableSchema
}

// NewSchemaRegistry returns a registry seeded with the internal sync
// state table alongside any caller-supplied tables.
func NewSchemaRegistry(tables ...TableSchema) *SchemaRegistry {
	r := &SchemaRegistry{tables: make(map[string]TableSchema, len(tables)+1)}
	r.register(TableSchema{
		Name:    types.StateTableName,
		Columns: []string{"primary_key", "value"},
	})
	for _, t := range tables {
		r.register(t)
	}
	return r
}

func (r *SchemaRegistry) register(t TableSchema) {
	r.tables[t.Name] = t
}

// Lookup returns the schema for name.
func (r *SchemaRegistry) Lookup(name string) (TableSchema, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// CreateTableDDL renders a CREATE TABLE IF NOT EXISTS statement for the
// given schema, quoting identifiers per dialect. Column types are left
// generic (TEXT/JSON-ish storage) since the engine treats every
// non-reserved column as an opaque JSON-marshalable value; callers that
// need stronger typing supply their own migrations and skip this.
func CreateTableDDL(d Dialect, t TableSchema) string {
	sql := "CREATE TABLE IF NOT EXISTS " + d.Quote(t.Name) + " (\n"
	for i, c := range t.Columns {
		sql += "  " + d.Quote(c)
		if c == "local_id" || c == "primary_key" {
			sql += " TEXT PRIMARY KEY"
		} else if t.boolSet()[c] {
			sql += " SMALLINT"
		} else {
			sql += " TEXT"
		}
		if i < len(t.Columns)-1 {
			sql += ","
		}
		sql += "\n"
	}
	sql += ")"
	return sql
}
