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

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/riftsync/riftsync/internal/types"
)

func newLocalID() string { return uuid.NewString() }

// execer is satisfied by both *sql.DB and *sql.Tx, letting sqlTable run
// unmodified whether or not it is inside a Backend.Transaction call.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlTable struct {
	db      execer
	dialect Dialect
	schema  TableSchema
}

var (
	_ types.Table     = (*sqlTable)(nil)
	_ types.Queryable = (*sqlTable)(nil)
)

func (t *sqlTable) compiler() *compiler {
	return newCompiler(t.dialect, t.dialect.Quote(t.schema.Name))
}

func (t *sqlTable) TableName() string { return t.schema.Name }

func (t *sqlTable) scanRows(rows *sql.Rows) ([]types.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, types.NewStorageError("scan", t.schema.Name, err)
	}
	bools := t.schema.boolSet()
	var out []types.Record
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, types.NewStorageError("scan", t.schema.Name, err)
		}
		rec := make(types.Record, len(cols))
		for i, c := range cols {
			rec[c] = hydrate(raw[i], bools[c])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewStorageError("scan", t.schema.Name, err)
	}
	return out, nil
}

// hydrate converts a driver-native scan value into the engine's value
// domain: []byte becomes string, and bool-declared columns are
// rehydrated from their stored 0/1 (§4.3).
func hydrate(v any, isBool bool) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if !isBool {
		return v
	}
	switch t := v.(type) {
	case int64:
		return t != 0
	case string:
		return t == "1" || t == "true"
	case bool:
		return t
	default:
		return v
	}
}

func (t *sqlTable) Fetch(
	ctx context.Context, groups []types.AndGroup, predicate types.Predicate, opts types.QueryOptions,
) ([]types.Record, error) {
	hasPredicate := predicate != nil
	stmt := t.compiler().selectStatement(t.schema.Columns, groups, opts, hasPredicate)
	rows, err := t.db.QueryContext(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return nil, types.NewStorageError("fetch", t.schema.Name, err)
	}
	defer rows.Close()
	records, err := t.scanRows(rows)
	if err != nil {
		return nil, err
	}
	if !hasPredicate {
		return records, nil
	}
	filtered := records[:0]
	for _, r := range records {
		if predicate(r) {
			filtered = append(filtered, r)
		}
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			filtered = nil
		} else {
			filtered = filtered[opts.Offset:]
		}
	}
	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

func (t *sqlTable) FetchCount(
	ctx context.Context, groups []types.AndGroup, predicate types.Predicate, opts types.QueryOptions,
) (int, error) {
	if predicate != nil {
		rows, err := t.Fetch(ctx, groups, predicate, opts)
		return len(rows), err
	}
	stmt := t.compiler().countStatement(groups, opts.Distinct)
	var n int
	if err := t.db.QueryRowContext(ctx, stmt.sql, stmt.args...).Scan(&n); err != nil {
		return 0, types.NewStorageError("count", t.schema.Name, err)
	}
	return n, nil
}

// idsFor resolves the matching row identities when a predicate or
// offset/limit narrows the set beyond what a single SQL statement can
// express, so Remove/Modify can target exactly those rows.
func (t *sqlTable) idsFor(
	ctx context.Context, groups []types.AndGroup, predicate types.Predicate, opts types.QueryOptions,
) ([]string, error) {
	rows, err := t.Fetch(ctx, groups, predicate, opts)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.LocalID()
	}
	return ids, nil
}

func needsRowResolution(predicate types.Predicate, opts types.QueryOptions) bool {
	return predicate != nil || opts.Offset > 0 || opts.Limit > 0
}

func (t *sqlTable) Remove(
	ctx context.Context, groups []types.AndGroup, predicate types.Predicate, opts types.QueryOptions,
) (int, error) {
	var ids []string
	if needsRowResolution(predicate, opts) {
		var err error
		ids, err = t.idsFor(ctx, groups, predicate, opts)
		if err != nil {
			return 0, err
		}
		if len(ids) == 0 {
			return 0, nil
		}
	}
	stmt := t.compiler().deleteStatement(groups, ids)
	res, err := t.db.ExecContext(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return 0, types.NewStorageError("remove", t.schema.Name, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (t *sqlTable) Modify(
	ctx context.Context, groups []types.AndGroup, predicate types.Predicate, opts types.QueryOptions,
	changes types.Record, mutator func(types.Record) types.Record,
) (int, error) {
	if mutator != nil {
		return t.modifyWithMutator(ctx, groups, predicate, opts, mutator)
	}
	if len(changes) == 0 {
		return 0, nil
	}
	var ids []string
	if needsRowResolution(predicate, opts) {
		var err error
		ids, err = t.idsFor(ctx, groups, predicate, opts)
		if err != nil {
			return 0, err
		}
		if len(ids) == 0 {
			return 0, nil
		}
	}
	stmt := t.compiler().updateStatement(changes, ids)
	res, err := t.db.ExecContext(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return 0, types.NewStorageError("modify", t.schema.Name, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// modifyWithMutator has no SQL equivalent (the mutator is an opaque Go
// closure), so it reads each matching row, computes the replacement,
// and writes back only the changed columns.
func (t *sqlTable) modifyWithMutator(
	ctx context.Context, groups []types.AndGroup, predicate types.Predicate, opts types.QueryOptions,
	mutator func(types.Record) types.Record,
) (int, error) {
	rows, err := t.Fetch(ctx, groups, predicate, opts)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, existing := range rows {
		next := mutator(existing.CloneDeep())
		diff := diffRecord(existing, next)
		if len(diff) == 0 {
			continue
		}
		stmt := t.compiler().updateStatement(diff, []string{existing.LocalID()})
		if _, err := t.db.ExecContext(ctx, stmt.sql, stmt.args...); err != nil {
			return updated, types.NewStorageError("modify", t.schema.Name, err)
		}
		updated++
	}
	return updated, nil
}

func diffRecord(before, after types.Record) types.Record {
	out := make(types.Record)
	for k, v := range after {
		if old, ok := before[k]; !ok || fmt.Sprint(old) != fmt.Sprint(v) {
			out[k] = v
		}
	}
	return out
}

func (t *sqlTable) Where(column string) types.WhereClause {
	return types.NewWhereClause(t, column)
}

func (t *sqlTable) OrderBy(column string) types.Collection {
	return types.NewCollection(t).OrderBy(column)
}

func (t *sqlTable) Reverse() types.Collection { return types.NewCollection(t).Reverse() }

func (t *sqlTable) OffsetCollection(n int) types.Collection {
	return types.NewCollection(t).Offset(n)
}

func (t *sqlTable) LimitCollection(n int) types.Collection {
	return types.NewCollection(t).Limit(n)
}

func (t *sqlTable) Add(ctx context.Context, item types.Record) (string, error) {
	rec := item.CloneDeep()
	id := rec.LocalID()
	if id == "" {
		id = newLocalID()
		rec[types.FieldLocalID] = id
	}
	if err := t.upsert(ctx, rec); err != nil {
		return "", err
	}
	return id, nil
}

func (t *sqlTable) Put(ctx context.Context, item types.Record) error {
	rec := item.CloneDeep()
	if rec.LocalID() == "" {
		rec[types.FieldLocalID] = newLocalID()
	}
	return t.upsert(ctx, rec)
}

func (t *sqlTable) upsert(ctx context.Context, rec types.Record) error {
	var cols []string
	for _, c := range t.schema.Columns {
		if _, ok := rec[c]; ok {
			cols = append(cols, c)
		}
	}
	bools := t.schema.boolSet()
	args := make([]any, len(cols))
	for i, c := range cols {
		v := rec[c]
		if bools[c] {
			if b, ok := v.(bool); ok {
				if b {
					v = 1
				} else {
					v = 0
				}
			}
		}
		args[i] = v
	}
	primaryKey := types.FieldLocalID
	if t.schema.Name == types.StateTableName {
		primaryKey = "primary_key"
	}
	sql := t.dialect.Upsert(t.schema.Name, primaryKey, cols)
	_, err := t.db.ExecContext(ctx, sql, args...)
	if err != nil {
		return types.NewStorageError("put", t.schema.Name, err)
	}
	return nil
}

func (t *sqlTable) Get(ctx context.Context, localID string) (types.Record, error) {
	rows, err := t.Fetch(ctx, []types.AndGroup{{{Column: types.FieldLocalID, Op: types.OpEquals, Values: []any{localID}}}}, nil, types.QueryOptions{})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (t *sqlTable) Update(ctx context.Context, localID string, partial types.Record) (int, error) {
	if len(partial) == 0 {
		return 0, nil
	}
	stmt := t.compiler().updateStatement(partial, []string{localID})
	res, err := t.db.ExecContext(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return 0, types.NewStorageError("update", t.schema.Name, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (t *sqlTable) Delete(ctx context.Context, localID string) error {
	stmt := t.compiler().deleteStatement(nil, []string{localID})
	_, err := t.db.ExecContext(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return types.NewStorageError("delete", t.schema.Name, err)
	}
	return nil
}

func (t *sqlTable) BulkAdd(ctx context.Context, items []types.Record) ([]string, error) {
	ids := make([]string, len(items))
	for i, item := range items {
		id, err := t.Add(ctx, item)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (t *sqlTable) BulkPut(ctx context.Context, items []types.Record) error {
	for _, item := range items {
		if err := t.Put(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTable) BulkUpdate(ctx context.Context, updates map[string]types.Record) (int, error) {
	total := 0
	for id, partial := range updates {
		n, err := t.Update(ctx, id, partial)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (t *sqlTable) BulkDelete(ctx context.Context, localIDs []string) error {
	if len(localIDs) == 0 {
		return nil
	}
	stmt := t.compiler().deleteStatement(nil, localIDs)
	_, err := t.db.ExecContext(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return types.NewStorageError("delete", t.schema.Name, err)
	}
	return nil
}

func (t *sqlTable) Clear(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, "DELETE FROM "+t.dialect.Quote(t.schema.Name))
	if err != nil {
		return types.NewStorageError("clear", t.schema.Name, err)
	}
	return nil
}
