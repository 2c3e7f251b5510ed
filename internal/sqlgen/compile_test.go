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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftsync/riftsync/internal/types"
)

func TestQuoteDoublesEmbeddedQuotes(t *testing.T) {
	assert.Equal(t, `"weird""name"`, quoteIdent(`weird"name`))
}

func TestSelectStatementDefaultOrder(t *testing.T) {
	c := newCompiler(NewPostgresDialect(), `"widgets"`)
	stmt := c.selectStatement([]string{"local_id", "color"}, nil, types.QueryOptions{}, false)
	assert.Equal(t, `SELECT "local_id", "color" FROM "widgets" ORDER BY "local_id" ASC`, stmt.sql)
	assert.Empty(t, stmt.args)
}

func TestSelectStatementAppliesLimitOffset(t *testing.T) {
	c := newCompiler(NewPostgresDialect(), `"widgets"`)
	opts := types.QueryOptions{OrderBy: "rank", Limit: 5, Offset: 2}
	stmt := c.selectStatement([]string{"local_id", "rank"}, nil, opts, false)
	assert.Contains(t, stmt.sql, `ORDER BY "rank" ASC, "local_id" ASC`)
	assert.Contains(t, stmt.sql, "LIMIT 5")
	assert.Contains(t, stmt.sql, "OFFSET 2")
}

func TestSelectStatementSkipsLimitOffsetWithPredicate(t *testing.T) {
	c := newCompiler(NewPostgresDialect(), `"widgets"`)
	opts := types.QueryOptions{Limit: 5, Offset: 2}
	stmt := c.selectStatement([]string{"local_id"}, nil, opts, true)
	assert.NotContains(t, stmt.sql, "LIMIT")
	assert.NotContains(t, stmt.sql, "OFFSET")
}

func TestWhereClauseCompilesDNF(t *testing.T) {
	c := newCompiler(NewPostgresDialect(), `"widgets"`)
	groups := []types.AndGroup{
		{
			{Column: "color", Op: types.OpEquals, Values: []any{"red"}},
			{Column: "size", Op: types.OpAbove, Values: []any{1.0}},
		},
		{
			{Column: "color", Op: types.OpEquals, Values: []any{"blue"}},
		},
	}
	where, args := c.whereClause(groups, 1)
	assert.Equal(t, `("color" = $1 AND "size" > $2) OR ("color" = $3)`, where)
	assert.Equal(t, []any{"red", 1.0, "blue"}, args)
}

func TestConditionBetweenInclusivity(t *testing.T) {
	c := newCompiler(NewPostgresDialect(), `"widgets"`)
	n := 1
	cond := types.Condition{
		Column: "rank", Op: types.OpBetween,
		Ranges: []types.Range{{Lower: 1.0, Upper: 5.0, IncludeLower: true, IncludeUpper: false}},
	}
	term, args := c.condition(cond, &n)
	assert.Equal(t, `"rank" >= $1 AND "rank" < $2`, term)
	assert.Equal(t, []any{1.0, 5.0}, args)
}

func TestConditionAnyOfEmptyIsAlwaysFalse(t *testing.T) {
	c := newCompiler(NewPostgresDialect(), `"widgets"`)
	n := 1
	term, args := c.condition(types.Condition{Column: "color", Op: types.OpAnyOf}, &n)
	assert.Equal(t, "0 = 1", term)
	assert.Empty(t, args)
}

func TestConditionNoneOfEmptyIsAlwaysTrue(t *testing.T) {
	c := newCompiler(NewPostgresDialect(), `"widgets"`)
	n := 1
	term, args := c.condition(types.Condition{Column: "color", Op: types.OpNoneOf}, &n)
	assert.Equal(t, "1 = 1", term)
	assert.Empty(t, args)
}

func TestStartsWithEscapesMetacharacters(t *testing.T) {
	c := newCompiler(NewPostgresDialect(), `"widgets"`)
	n := 1
	_, args := c.condition(types.Condition{Column: "name", Op: types.OpStartsWith, Values: []any{"100%_off"}}, &n)
	require.Len(t, args, 1)
	assert.Equal(t, `100\%\_off%`, args[0])
}

func TestMySQLUpsertUsesQuestionMarks(t *testing.T) {
	d := NewMySQLDialect()
	sql := d.Upsert("widgets", "local_id", []string{"local_id", "color"})
	assert.Equal(t, `INSERT INTO "widgets" ("local_id", "color") VALUES (?, ?) ON DUPLICATE KEY UPDATE "color" = VALUES("color")`, sql)
}

func TestPostgresUpsertUsesDollarPlaceholders(t *testing.T) {
	d := NewPostgresDialect()
	sql := d.Upsert("widgets", "local_id", []string{"local_id", "color"})
	assert.Equal(t, `INSERT INTO "widgets" ("local_id", "color") VALUES ($1, $2) ON CONFLICT ("local_id") DO UPDATE SET "color" = EXCLUDED."color"`, sql)
}

func TestCreateTableDDLMarksBoolColumnsSmallint(t *testing.T) {
	schema := TableSchema{Name: "widgets", Columns: []string{"local_id", "active"}, BoolColumns: []string{"active"}}
	ddl := CreateTableDDL(NewPostgresDialect(), schema)
	assert.Contains(t, ddl, `"active" SMALLINT`)
	assert.Contains(t, ddl, `"local_id" TEXT PRIMARY KEY`)
}
