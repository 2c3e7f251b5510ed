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

// Operator enumerates the WhereClause comparison operators of §4.1. All
// are case-sensitive unless the name carries "IgnoreCase".
type Operator int

const (
	OpEquals Operator = iota
	OpNotEqual
	OpAbove
	OpAboveOrEqual
	OpBelow
	OpBelowOrEqual
	OpBetween
	OpInAnyRange
	OpStartsWith
	OpStartsWithIgnoreCase
	OpStartsWithAnyOf
	OpStartsWithAnyOfIgnoreCase
	OpEqualsIgnoreCase
	OpAnyOf
	OpAnyOfIgnoreCase
	OpNoneOf
)

// Range is one (lower, upper) bound pair, used by Between and
// InAnyRange.
type Range struct {
	Lower, Upper               any
	IncludeLower, IncludeUpper bool
}

// Condition is a single operator applied to one column. Multiple
// Conditions within an AndGroup are conjoined; AndGroups within a
// Collection are disjoined, forming the DNF "sql_conditions" of the
// §4.1 algebraic model.
type Condition struct {
	Column string
	Op     Operator
	Values []any   // operand(s); meaning depends on Op
	Ranges []Range // only populated for OpInAnyRange and OpBetween
}

// AndGroup is a conjunction of Conditions.
type AndGroup []Condition

// QueryOptions are the order_by/reverse/offset/limit/distinct knobs of
// §4.1. A zero QueryOptions means "table order" (local_id ascending, no
// offset/limit, not distinct).
type QueryOptions struct {
	OrderBy  string
	Reverse  bool
	Offset   int
	Limit    int // 0 means unlimited
	Distinct bool
}

// Predicate is an opaque post-filter applied when a condition cannot be
// expressed in the backend — the §4.1 "js_predicate".
type Predicate func(Record) bool

// Queryable is implemented by a backend's table handle. A Collection
// carries only the algebra (groups, predicate, options); every terminal
// operation is delegated to a Queryable, which is responsible for
// evaluating it against that backend's storage.
type Queryable interface {
	// TableName returns the name this Queryable was bound to, for error
	// messages and metrics labels.
	TableName() string

	// Fetch evaluates the algebra and returns the matching records in
	// final (ordered, offset, limited) order.
	Fetch(ctx context.Context, groups []AndGroup, predicate Predicate, opts QueryOptions) ([]Record, error)

	// FetchCount evaluates the algebra and returns only the count,
	// which backends may compute without materializing every row.
	FetchCount(ctx context.Context, groups []AndGroup, predicate Predicate, opts QueryOptions) (int, error)

	// Remove evaluates the algebra and deletes every matching row,
	// returning the count deleted.
	Remove(ctx context.Context, groups []AndGroup, predicate Predicate, opts QueryOptions) (int, error)

	// Modify evaluates the algebra and applies changes (if non-nil) or
	// mutator (if changes is nil) to every matching row, returning the
	// count actually changed.
	Modify(ctx context.Context, groups []AndGroup, predicate Predicate, opts QueryOptions, changes Record, mutator func(Record) Record) (int, error)
}
