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

// WhereClause binds one column and accumulates the next Condition to be
// OR-ed onto a Collection's DNF. It is returned by Table.Where and by
// Collection.Or. Each comparison method below is a terminal: it returns
// the resulting Collection, leaving the WhereClause itself immutable so
// it can be reused to build several independent Collections.
type WhereClause struct {
	q      Queryable
	column string
	// base holds the groups/predicate/options to OR the new condition
	// into, when this WhereClause originated from Collection.Or.
	base Collection
}

// NewWhereClause constructs a WhereClause scoped to column, starting
// from an empty base. Table implementations call this from their
// Where method.
func NewWhereClause(q Queryable, column string) WhereClause {
	return WhereClause{q: q, column: column, base: Collection{q: q}}
}

func (w WhereClause) condition(c Condition) Collection {
	out := w.base
	out.groups = append(append([]AndGroup{}, w.base.groups...), AndGroup{c})
	return out
}

// Equals matches column == v.
func (w WhereClause) Equals(v any) Collection {
	return w.condition(Condition{Column: w.column, Op: OpEquals, Values: []any{v}})
}

// EqualsIgnoreCase matches column == v using case-insensitive string
// comparison.
func (w WhereClause) EqualsIgnoreCase(v any) Collection {
	return w.condition(Condition{Column: w.column, Op: OpEqualsIgnoreCase, Values: []any{v}})
}

// NotEqual matches column != v.
func (w WhereClause) NotEqual(v any) Collection {
	return w.condition(Condition{Column: w.column, Op: OpNotEqual, Values: []any{v}})
}

// Above matches column > v.
func (w WhereClause) Above(v any) Collection {
	return w.condition(Condition{Column: w.column, Op: OpAbove, Values: []any{v}})
}

// AboveOrEqual matches column >= v.
func (w WhereClause) AboveOrEqual(v any) Collection {
	return w.condition(Condition{Column: w.column, Op: OpAboveOrEqual, Values: []any{v}})
}

// Below matches column < v.
func (w WhereClause) Below(v any) Collection {
	return w.condition(Condition{Column: w.column, Op: OpBelow, Values: []any{v}})
}

// BelowOrEqual matches column <= v.
func (w WhereClause) BelowOrEqual(v any) Collection {
	return w.condition(Condition{Column: w.column, Op: OpBelowOrEqual, Values: []any{v}})
}

// Between matches lower (op1) column (op2) upper, where op1/op2 are
// selected by includeLower/includeUpper. Defaults in §4.1 are
// includeLower=true, includeUpper=false; callers that want the default
// should pass them explicitly since Go has no default arguments.
func (w WhereClause) Between(lower, upper any, includeLower, includeUpper bool) Collection {
	return w.condition(Condition{
		Column: w.column,
		Op:     OpBetween,
		Ranges: []Range{{Lower: lower, Upper: upper, IncludeLower: includeLower, IncludeUpper: includeUpper}},
	})
}

// InAnyRange matches column within any of ranges, i.e. an OR of Between
// conditions over the same column.
func (w WhereClause) InAnyRange(ranges []Range) Collection {
	return w.condition(Condition{Column: w.column, Op: OpInAnyRange, Ranges: ranges})
}

// StartsWith matches string-valued columns with prefix p.
func (w WhereClause) StartsWith(p string) Collection {
	return w.condition(Condition{Column: w.column, Op: OpStartsWith, Values: []any{p}})
}

// StartsWithIgnoreCase is the case-insensitive variant of StartsWith.
func (w WhereClause) StartsWithIgnoreCase(p string) Collection {
	return w.condition(Condition{Column: w.column, Op: OpStartsWithIgnoreCase, Values: []any{p}})
}

// StartsWithAnyOf matches any of the given prefixes.
func (w WhereClause) StartsWithAnyOf(prefixes []string) Collection {
	vals := make([]any, len(prefixes))
	for i, p := range prefixes {
		vals[i] = p
	}
	return w.condition(Condition{Column: w.column, Op: OpStartsWithAnyOf, Values: vals})
}

// StartsWithAnyOfIgnoreCase is the case-insensitive variant.
func (w WhereClause) StartsWithAnyOfIgnoreCase(prefixes []string) Collection {
	vals := make([]any, len(prefixes))
	for i, p := range prefixes {
		vals[i] = p
	}
	return w.condition(Condition{Column: w.column, Op: OpStartsWithAnyOfIgnoreCase, Values: vals})
}

// AnyOf matches column in vs.
func (w WhereClause) AnyOf(vs []any) Collection {
	return w.condition(Condition{Column: w.column, Op: OpAnyOf, Values: vs})
}

// AnyOfIgnoreCase is the case-insensitive variant of AnyOf.
func (w WhereClause) AnyOfIgnoreCase(vs []any) Collection {
	return w.condition(Condition{Column: w.column, Op: OpAnyOfIgnoreCase, Values: vs})
}

// NoneOf matches column not in vs.
func (w WhereClause) NoneOf(vs []any) Collection {
	return w.condition(Condition{Column: w.column, Op: OpNoneOf, Values: vs})
}
