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

// Collection is a lazily-evaluated query: a DNF of conditions, an
// optional opaque predicate, and order/offset/limit/distinct options
// (§4.1, §9 "persistent data structure"). Every combinator below returns
// a new Collection value; none mutate the receiver, so a Collection may
// be branched and reused freely without aliasing bugs.
type Collection struct {
	q         Queryable
	groups    []AndGroup
	predicate Predicate
	opts      QueryOptions
}

// NewCollection returns the unfiltered Collection scanning every row of
// the table behind q, in default order (local_id ascending).
func NewCollection(q Queryable) Collection {
	return Collection{q: q}
}

func (c Collection) clone() Collection {
	out := c
	out.groups = append([]AndGroup{}, c.groups...)
	return out
}

// OrderBy returns a Collection sorted by column ascending (subject to
// Reverse). An unset OrderBy sorts by local_id ascending (§4.1 tie-break
// rule).
func (c Collection) OrderBy(column string) Collection {
	out := c.clone()
	out.opts.OrderBy = column
	return out
}

// Reverse toggles the current sort direction.
func (c Collection) Reverse() Collection {
	out := c.clone()
	out.opts.Reverse = !out.opts.Reverse
	return out
}

// Offset skips the first n matching rows.
func (c Collection) Offset(n int) Collection {
	out := c.clone()
	out.opts.Offset = n
	return out
}

// Limit caps the result to n rows; 0 means unlimited.
func (c Collection) Limit(n int) Collection {
	out := c.clone()
	out.opts.Limit = n
	return out
}

// Distinct deduplicates identical rows (meaningful mainly alongside
// SortBy/projection-style Modify use on backends that support it).
func (c Collection) Distinct() Collection {
	out := c.clone()
	out.opts.Distinct = true
	return out
}

// Filter attaches an opaque post-filter predicate, applied after
// backend evaluation of the DNF conditions (§4.1 js_predicate). Multiple
// Filter calls compose with logical AND.
func (c Collection) Filter(pred Predicate) Collection {
	out := c.clone()
	prior := out.predicate
	if prior == nil {
		out.predicate = pred
		return out
	}
	out.predicate = func(r Record) bool { return prior(r) && pred(r) }
	return out
}

// Or returns a WhereClause scoped to column whose terminal condition
// will be disjoined (OR) with this Collection's existing groups,
// implementing §4.1's "or(index_spec): disjunction with another
// where-clause on the same base."
func (c Collection) Or(column string) WhereClause {
	return WhereClause{q: c.q, column: column, base: c}
}

// fetch runs the algebra against the backend.
func (c Collection) fetch(ctx context.Context) ([]Record, error) {
	return c.q.Fetch(ctx, c.groups, c.predicate, c.opts)
}

// ToArray materializes every matching row.
func (c Collection) ToArray(ctx context.Context) ([]Record, error) {
	return c.fetch(ctx)
}

// First returns the first matching row, or nil if none match.
func (c Collection) First(ctx context.Context) (Record, error) {
	rows, err := c.Limit(1).fetch(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Last returns the last matching row under the current order, or nil if
// none match. It is implemented as Reverse().First() so backends need
// not special-case it.
func (c Collection) Last(ctx context.Context) (Record, error) {
	return c.Reverse().First(ctx)
}

// Each invokes fn for every matching row, in order, stopping early if fn
// returns an error.
func (c Collection) Each(ctx context.Context, fn func(Record) error) error {
	rows, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// EachKey invokes fn with the local_id of every matching row, in order.
func (c Collection) EachKey(ctx context.Context, fn func(string) error) error {
	return c.Each(ctx, func(r Record) error { return fn(r.LocalID()) })
}

// Keys returns the local_id of every matching row, in order (an alias
// for PrimaryKeys kept for parity with §4.1's naming).
func (c Collection) Keys(ctx context.Context) ([]string, error) {
	return c.PrimaryKeys(ctx)
}

// PrimaryKeys returns the local_id of every matching row, in order.
func (c Collection) PrimaryKeys(ctx context.Context) ([]string, error) {
	rows, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.LocalID()
	}
	return out, nil
}

// UniqueKeys returns the distinct local_id values of every matching row,
// preserving first-seen order.
func (c Collection) UniqueKeys(ctx context.Context) ([]string, error) {
	keys, err := c.PrimaryKeys(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out, nil
}

// Count returns the number of matching rows.
func (c Collection) Count(ctx context.Context) (int, error) {
	return c.q.FetchCount(ctx, c.groups, c.predicate, c.opts)
}

// SortBy returns every matching row's value for key, in the collection's
// current order — a thin projection over ToArray.
func (c Collection) SortBy(ctx context.Context, key string) ([]any, error) {
	rows, err := c.OrderBy(key).fetch(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[key]
	}
	return out, nil
}

// Delete removes every matching row, returning the count deleted.
func (c Collection) Delete(ctx context.Context) (int, error) {
	return c.q.Remove(ctx, c.groups, c.predicate, c.opts)
}

// Modify applies changes to every matching row, returning the count
// actually changed.
func (c Collection) Modify(ctx context.Context, changes Record) (int, error) {
	return c.q.Modify(ctx, c.groups, c.predicate, c.opts, changes, nil)
}

// ModifyFunc applies mutator to every matching row, returning the count
// actually changed. mutator receives the existing row and returns the
// replacement; returning the same value unchanged counts as not
// modified.
func (c Collection) ModifyFunc(ctx context.Context, mutator func(Record) Record) (int, error) {
	return c.q.Modify(ctx, c.groups, c.predicate, c.opts, nil, mutator)
}
