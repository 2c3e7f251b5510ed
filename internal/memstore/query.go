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
	"sort"
	"strings"

	"github.com/riftsync/riftsync/internal/types"
)

func evalRange(v any, r types.Range) bool {
	if r.Lower != nil {
		c := compare(v, r.Lower)
		if r.IncludeLower {
			if c < 0 {
				return false
			}
		} else if c <= 0 {
			return false
		}
	}
	if r.Upper != nil {
		c := compare(v, r.Upper)
		if r.IncludeUpper {
			if c > 0 {
				return false
			}
		} else if c >= 0 {
			return false
		}
	}
	return true
}

func evalCondition(rec types.Record, c types.Condition) bool {
	v := rec[c.Column]
	switch c.Op {
	case types.OpEquals:
		return equalFold(v, c.Values[0], false)
	case types.OpEqualsIgnoreCase:
		return equalFold(v, c.Values[0], true)
	case types.OpNotEqual:
		return !equalFold(v, c.Values[0], false)
	case types.OpAbove:
		return compare(v, c.Values[0]) > 0
	case types.OpAboveOrEqual:
		return compare(v, c.Values[0]) >= 0
	case types.OpBelow:
		return compare(v, c.Values[0]) < 0
	case types.OpBelowOrEqual:
		return compare(v, c.Values[0]) <= 0
	case types.OpBetween:
		return len(c.Ranges) > 0 && evalRange(v, c.Ranges[0])
	case types.OpInAnyRange:
		for _, r := range c.Ranges {
			if evalRange(v, r) {
				return true
			}
		}
		return false
	case types.OpStartsWith, types.OpStartsWithIgnoreCase:
		s, ok := asString(v)
		if !ok {
			s = stringify(v)
		}
		p, _ := c.Values[0].(string)
		if c.Op == types.OpStartsWithIgnoreCase {
			return strings.HasPrefix(strings.ToLower(s), strings.ToLower(p))
		}
		return strings.HasPrefix(s, p)
	case types.OpStartsWithAnyOf, types.OpStartsWithAnyOfIgnoreCase:
		s, ok := asString(v)
		if !ok {
			s = stringify(v)
		}
		for _, pv := range c.Values {
			p, _ := pv.(string)
			if c.Op == types.OpStartsWithAnyOfIgnoreCase {
				if strings.HasPrefix(strings.ToLower(s), strings.ToLower(p)) {
					return true
				}
			} else if strings.HasPrefix(s, p) {
				return true
			}
		}
		return false
	case types.OpAnyOf:
		for _, want := range c.Values {
			if equalFold(v, want, false) {
				return true
			}
		}
		return false
	case types.OpAnyOfIgnoreCase:
		for _, want := range c.Values {
			if equalFold(v, want, true) {
				return true
			}
		}
		return false
	case types.OpNoneOf:
		for _, want := range c.Values {
			if equalFold(v, want, false) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// evalGroups evaluates the DNF: true if rec matches any AndGroup (or
// there are no groups at all, meaning "match everything"), and every
// Condition within that group matches.
func evalGroups(rec types.Record, groups []types.AndGroup) bool {
	if len(groups) == 0 {
		return true
	}
	for _, group := range groups {
		allMatch := true
		for _, c := range group {
			if !evalCondition(rec, c) {
				allMatch = false
				break
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}

// matchAll scans the store and returns every record satisfying groups
// and predicate, unordered.
func matchAll(s *recordStore, groups []types.AndGroup, predicate types.Predicate) []types.Record {
	out := make([]types.Record, 0, len(s.data))
	for _, rec := range s.data {
		if !evalGroups(rec, groups) {
			continue
		}
		if predicate != nil && !predicate(rec) {
			continue
		}
		out = append(out, rec.CloneDeep())
	}
	return out
}

// applyOrder sorts rows per opts (local_id ascending tie-break, §4.1) and
// applies Reverse/Offset/Limit/Distinct.
func applyOrder(rows []types.Record, opts types.QueryOptions) []types.Record {
	key := opts.OrderBy
	if key == "" {
		key = types.FieldLocalID
	}
	sort.SliceStable(rows, func(i, j int) bool {
		c := compare(rows[i][key], rows[j][key])
		if c == 0 {
			c = compare(rows[i].LocalID(), rows[j].LocalID())
		}
		return c < 0
	})
	if opts.Reverse {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	if opts.Distinct {
		rows = dedupe(rows)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[opts.Offset:]
		}
	}
	if opts.Limit > 0 && opts.Limit < len(rows) {
		rows = rows[:opts.Limit]
	}
	return rows
}

func dedupe(rows []types.Record) []types.Record {
	seen := make(map[string]struct{}, len(rows))
	out := make([]types.Record, 0, len(rows))
	for _, r := range rows {
		key := stringifyRecord(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func stringifyRecord(r types.Record) string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(stringify(r[k]))
		b.WriteByte(';')
	}
	return b.String()
}

func (t *tableHandle) Fetch(
	ctx context.Context, groups []types.AndGroup, predicate types.Predicate, opts types.QueryOptions,
) ([]types.Record, error) {
	var rows []types.Record
	err := t.withStore(ctx, func(s *recordStore) error {
		rows = applyOrder(matchAll(s, groups, predicate), opts)
		return nil
	})
	return rows, err
}

func (t *tableHandle) FetchCount(
	ctx context.Context, groups []types.AndGroup, predicate types.Predicate, opts types.QueryOptions,
) (int, error) {
	rows, err := t.Fetch(ctx, groups, predicate, opts)
	return len(rows), err
}

func (t *tableHandle) Remove(
	ctx context.Context, groups []types.AndGroup, predicate types.Predicate, opts types.QueryOptions,
) (int, error) {
	deleted := 0
	err := t.withStore(ctx, func(s *recordStore) error {
		rows := applyOrder(matchAll(s, groups, predicate), opts)
		for _, r := range rows {
			id := r.LocalID()
			if rec, ok := s.data[id]; ok {
				if sid, ok := rec.ServerID(); ok {
					delete(s.serverIndex, stringify(sid))
				}
				delete(s.data, id)
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}

func (t *tableHandle) Modify(
	ctx context.Context, groups []types.AndGroup, predicate types.Predicate, opts types.QueryOptions,
	changes types.Record, mutator func(types.Record) types.Record,
) (int, error) {
	updated := 0
	err := t.withStore(ctx, func(s *recordStore) error {
		rows := applyOrder(matchAll(s, groups, predicate), opts)
		for _, r := range rows {
			id := r.LocalID()
			existing, ok := s.data[id]
			if !ok {
				continue
			}
			var next types.Record
			if mutator != nil {
				next = mutator(existing.CloneDeep())
			} else {
				next = existing.Clone()
				for k, v := range changes {
					next[k] = v
				}
			}
			if recordsEqual(existing, next) {
				continue
			}
			if oldSid, ok := existing.ServerID(); ok {
				delete(s.serverIndex, stringify(oldSid))
			}
			if sid, ok := next.ServerID(); ok {
				s.serverIndex[stringify(sid)] = id
			}
			s.data[id] = next
			updated++
		}
		return nil
	})
	return updated, err
}

func recordsEqual(a, b types.Record) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || compare(v, bv) != 0 {
			return false
		}
	}
	return true
}
