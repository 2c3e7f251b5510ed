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

// Package ident holds quoted SQL identifiers shared by the storage
// interface and the SQL compiler, so that a table or column name is
// quoted exactly the same way regardless of which component emits it.
package ident

import "strings"

// An Ident is a single unquoted SQL identifier (a column or table name).
type Ident string

// Quoted renders the identifier surrounded by double quotes, doubling
// any embedded double quote, per the quoting rule in §4.3.
func (i Ident) Quoted() string {
	return `"` + strings.ReplaceAll(string(i), `"`, `""`) + `"`
}

// Raw returns the identifier without quoting.
func (i Ident) Raw() string { return string(i) }

// A Table identifies a table optionally scoped to a schema.
type Table struct {
	Schema Ident
	Name   Ident
}

// NewTable constructs a Table. schema may be empty for backends (like
// the in-memory reference engine) that have no schema concept.
func NewTable(schema, name Ident) Table {
	return Table{Schema: schema, Name: name}
}

// Quoted renders "schema"."name", or just "name" if Schema is empty.
func (t Table) Quoted() string {
	if t.Schema == "" {
		return t.Name.Quoted()
	}
	return t.Schema.Quoted() + "." + t.Name.Quoted()
}

// Raw renders schema.name, or just name if Schema is empty, without
// quoting.
func (t Table) Raw() string {
	if t.Schema == "" {
		return t.Name.Raw()
	}
	return t.Schema.Raw() + "." + t.Name.Raw()
}

// String implements fmt.Stringer for log messages.
func (t Table) String() string { return t.Raw() }
