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
	"fmt"
	"strings"

	"github.com/riftsync/riftsync/internal/types"
)

// compiled is one fully-built statement ready for *sql.DB.
type compiled struct {
	sql  string
	args []any
}

// compiler turns the algebra into parameterized SQL for one dialect and
// one quoted table name.
type compiler struct {
	dialect Dialect
	table   string
}

func newCompiler(d Dialect, table string) *compiler {
	return &compiler{dialect: d, table: table}
}

// whereClause compiles groups into a WHERE clause body (without the
// leading "WHERE") and the bind arguments, numbering placeholders
// starting at startArg (1-based).
func (c *compiler) whereClause(groups []types.AndGroup, startArg int) (string, []any) {
	if len(groups) == 0 {
		return "", nil
	}
	var args []any
	n := startArg
	var orTerms []string
	for _, group := range groups {
		var andTerms []string
		for _, cond := range group {
			term, condArgs := c.condition(cond, &n)
			andTerms = append(andTerms, term)
			args = append(args, condArgs...)
		}
		orTerms = append(orTerms, "("+strings.Join(andTerms, " AND ")+")")
	}
	return strings.Join(orTerms, " OR "), args
}

func (c *compiler) ph(n *int) string {
	s := c.dialect.Placeholder(*n)
	*n++
	return s
}

func (c *compiler) condition(cond types.Condition, n *int) (string, []any) {
	col := c.dialect.Quote(cond.Column)
	switch cond.Op {
	case types.OpEquals:
		ph := c.ph(n)
		return fmt.Sprintf("%s = %s", col, ph), []any{cond.Values[0]}
	case types.OpEqualsIgnoreCase:
		ph := c.ph(n)
		return c.dialect.EqualsIgnoreCase(col, ph), []any{cond.Values[0]}
	case types.OpNotEqual:
		ph := c.ph(n)
		return fmt.Sprintf("%s != %s", col, ph), []any{cond.Values[0]}
	case types.OpAbove:
		ph := c.ph(n)
		return fmt.Sprintf("%s > %s", col, ph), []any{cond.Values[0]}
	case types.OpAboveOrEqual:
		ph := c.ph(n)
		return fmt.Sprintf("%s >= %s", col, ph), []any{cond.Values[0]}
	case types.OpBelow:
		ph := c.ph(n)
		return fmt.Sprintf("%s < %s", col, ph), []any{cond.Values[0]}
	case types.OpBelowOrEqual:
		ph := c.ph(n)
		return fmt.Sprintf("%s <= %s", col, ph), []any{cond.Values[0]}
	case types.OpBetween:
		if len(cond.Ranges) == 0 {
			return "1 = 0", nil
		}
		return c.rangeTerm(col, cond.Ranges[0], n)
	case types.OpInAnyRange:
		if len(cond.Ranges) == 0 {
			return "1 = 0", nil
		}
		var terms []string
		var args []any
		for _, r := range cond.Ranges {
			term, rArgs := c.rangeTerm(col, r, n)
			terms = append(terms, "("+term+")")
			args = append(args, rArgs...)
		}
		return strings.Join(terms, " OR "), args
	case types.OpStartsWith:
		ph := c.ph(n)
		return fmt.Sprintf("%s LIKE %s", col, ph), []any{escapeLikePrefix(cond.Values[0])}
	case types.OpStartsWithIgnoreCase:
		ph := c.ph(n)
		return c.dialect.StartsWithIgnoreCase(col, ph), []any{escapeLikePrefix(cond.Values[0])}
	case types.OpStartsWithAnyOf, types.OpStartsWithAnyOfIgnoreCase:
		var terms []string
		var args []any
		for _, v := range cond.Values {
			ph := c.ph(n)
			if cond.Op == types.OpStartsWithAnyOfIgnoreCase {
				terms = append(terms, c.dialect.StartsWithIgnoreCase(col, ph))
			} else {
				terms = append(terms, fmt.Sprintf("%s LIKE %s", col, ph))
			}
			args = append(args, escapeLikePrefix(v))
		}
		return strings.Join(terms, " OR "), args
	case types.OpAnyOf, types.OpAnyOfIgnoreCase:
		if len(cond.Values) == 0 {
			return "0 = 1", nil
		}
		return c.inList(col, cond.Values, cond.Op == types.OpAnyOfIgnoreCase, n)
	case types.OpNoneOf:
		if len(cond.Values) == 0 {
			return "1 = 1", nil
		}
		term, args := c.inList(col, cond.Values, false, n)
		return "NOT (" + term + ")", args
	default:
		return "1 = 1", nil
	}
}

func (c *compiler) rangeTerm(col string, r types.Range, n *int) (string, []any) {
	var terms []string
	var args []any
	if r.Lower != nil {
		ph := c.ph(n)
		op := ">"
		if r.IncludeLower {
			op = ">="
		}
		terms = append(terms, fmt.Sprintf("%s %s %s", col, op, ph))
		args = append(args, r.Lower)
	}
	if r.Upper != nil {
		ph := c.ph(n)
		op := "<"
		if r.IncludeUpper {
			op = "<="
		}
		terms = append(terms, fmt.Sprintf("%s %s %s", col, op, ph))
		args = append(args, r.Upper)
	}
	if len(terms) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(terms, " AND "), args
}

func (c *compiler) inList(col string, values []any, ignoreCase bool, n *int) (string, []any) {
	col2 := col
	if ignoreCase {
		col2 = "lower(" + col + ")"
	}
	var phs []string
	var args []any
	for _, v := range values {
		ph := c.ph(n)
		phs = append(phs, ph)
		if ignoreCase {
			if s, ok := v.(string); ok {
				v = strings.ToLower(s)
			}
		}
		args = append(args, v)
	}
	return fmt.Sprintf("%s IN (%s)", col2, strings.Join(phs, ", ")), args
}

// escapeLikePrefix escapes LIKE metacharacters in a starts_with prefix
// and appends the trailing wildcard (§4.3).
func escapeLikePrefix(v any) string {
	s, _ := v.(string)
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '%', '_', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('%')
	return b.String()
}

// orderBy compiles the ORDER BY clause, defaulting to local_id ascending
// per §4.1's tie-break rule, with local_id always appended as a final
// tie-break when a different column is requested.
func (c *compiler) orderBy(opts types.QueryOptions) string {
	col := opts.OrderBy
	if col == "" {
		col = types.FieldLocalID
	}
	dir := "ASC"
	if opts.Reverse {
		dir = "DESC"
	}
	clause := fmt.Sprintf("%s %s", c.dialect.Quote(col), dir)
	if col != types.FieldLocalID {
		clause += fmt.Sprintf(", %s %s", c.dialect.Quote(types.FieldLocalID), dir)
	}
	return clause
}

// selectStatement compiles a SELECT over every declared column.
// limitOffsetInMemory reports whether opts.Limit/Offset must instead be
// applied after predicate filtering in Go (§4.3: "if a collection
// carries a js_predicate, SQL is executed without LIMIT/OFFSET").
func (c *compiler) selectStatement(
	columns []string, groups []types.AndGroup, opts types.QueryOptions, hasPredicate bool,
) compiled {
	distinct := ""
	if opts.Distinct {
		distinct = "DISTINCT "
	}
	cols := joinQuoted(columns)
	sql := fmt.Sprintf("SELECT %s%s FROM %s", distinct, cols, c.table)
	where, args := c.whereClause(groups, 1)
	if where != "" {
		sql += " WHERE " + where
	}
	sql += " ORDER BY " + c.orderBy(opts)
	if !hasPredicate {
		if opts.Limit > 0 {
			sql += fmt.Sprintf(" LIMIT %d", opts.Limit)
		}
		if opts.Offset > 0 {
			sql += fmt.Sprintf(" OFFSET %d", opts.Offset)
		}
	}
	return compiled{sql: sql, args: args}
}

func (c *compiler) countStatement(groups []types.AndGroup, distinct bool) compiled {
	sel := "COUNT(*)"
	if distinct {
		sel = fmt.Sprintf("COUNT(DISTINCT %s)", c.dialect.Quote(types.FieldLocalID))
	}
	sql := fmt.Sprintf("SELECT %s FROM %s", sel, c.table)
	where, args := c.whereClause(groups, 1)
	if where != "" {
		sql += " WHERE " + where
	}
	return compiled{sql: sql, args: args}
}

func (c *compiler) deleteStatement(groups []types.AndGroup, ids []string) compiled {
	sql := fmt.Sprintf("DELETE FROM %s", c.table)
	var args []any
	if len(ids) > 0 {
		n := 1
		var phs []string
		for _, id := range ids {
			phs = append(phs, c.ph(&n))
			args = append(args, id)
		}
		sql += fmt.Sprintf(" WHERE %s IN (%s)", c.dialect.Quote(types.FieldLocalID), strings.Join(phs, ", "))
		return compiled{sql: sql, args: args}
	}
	where, whereArgs := c.whereClause(groups, 1)
	if where != "" {
		sql += " WHERE " + where
	}
	return compiled{sql: sql, args: whereArgs}
}

func (c *compiler) updateStatement(changes types.Record, ids []string) compiled {
	var cols []string
	for k := range changes {
		cols = append(cols, k)
	}
	n := 1
	var sets []string
	var args []any
	for _, k := range cols {
		ph := c.ph(&n)
		sets = append(sets, fmt.Sprintf("%s = %s", c.dialect.Quote(k), ph))
		args = append(args, changes[k])
	}
	sql := fmt.Sprintf("UPDATE %s SET %s", c.table, strings.Join(sets, ", "))
	if len(ids) > 0 {
		var phs []string
		for _, id := range ids {
			phs = append(phs, c.ph(&n))
			args = append(args, id)
		}
		sql += fmt.Sprintf(" WHERE %s IN (%s)", c.dialect.Quote(types.FieldLocalID), strings.Join(phs, ", "))
	}
	return compiled{sql: sql, args: args}
}
