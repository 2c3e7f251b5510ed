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

// Package sqlgen compiles the storage algebra (§4.1/§4.3) into
// parameterized SQL and provides a reference database/sql-backed
// implementation of the storage interface, usable against PostgreSQL,
// CockroachDB, or MySQL.
package sqlgen

import (
	"fmt"

	"github.com/riftsync/riftsync/internal/ident"
)

// Product identifies the SQL dialect a Dialect targets.
type Product int

const (
	ProductPostgres Product = iota
	ProductMySQL
)

func (p Product) String() string {
	switch p {
	case ProductPostgres:
		return "postgres"
	case ProductMySQL:
		return "mysql"
	default:
		return "unknown"
	}
}

// Dialect abstracts the handful of places the compiled SQL differs
// between backends: placeholder syntax, identifier quoting, upsert
// syntax, and case-insensitive comparison.
type Dialect interface {
	Product() Product
	// Placeholder returns the marker for the nth (1-based) bind
	// parameter in a statement.
	Placeholder(n int) string
	// Quote double-quotes ident, doubling any embedded quote, per
	// §4.3's identifier-quoting rule. MySQL in ANSI sql_mode (as set by
	// the reference driver's connection string) accepts the same
	// syntax, so both dialects share this implementation.
	Quote(ident string) string
	// EqualsIgnoreCase compiles a case-insensitive equality comparison
	// for column against placeholder ph.
	EqualsIgnoreCase(column, ph string) string
	// StartsWithIgnoreCase compiles a case-insensitive prefix match.
	StartsWithIgnoreCase(column, ph string) string
	// Upsert compiles an insert-or-replace statement for table with the
	// given column list, conflicting on the primary key column.
	Upsert(table, primaryKey string, columns []string) string
}

func quoteIdent(name string) string {
	return ident.Ident(name).Quoted()
}

// postgresDialect targets PostgreSQL and CockroachDB via pgx.
type postgresDialect struct{}

// NewPostgresDialect returns the Dialect used by pgx-backed connections.
func NewPostgresDialect() Dialect { return postgresDialect{} }

func (postgresDialect) Product() Product             { return ProductPostgres }
func (postgresDialect) Placeholder(n int) string      { return fmt.Sprintf("$%d", n) }
func (postgresDialect) Quote(ident string) string     { return quoteIdent(ident) }
func (postgresDialect) EqualsIgnoreCase(c, ph string) string {
	return fmt.Sprintf("lower(%s) = lower(%s)", c, ph)
}
func (postgresDialect) StartsWithIgnoreCase(c, ph string) string {
	return fmt.Sprintf("lower(%s) LIKE lower(%s)", c, ph)
}
func (d postgresDialect) Upsert(table, primaryKey string, columns []string) string {
	cols := joinQuoted(columns)
	phs := placeholdersFor(d, len(columns))
	sets := ""
	for _, c := range columns {
		if c == primaryKey {
			continue
		}
		if sets != "" {
			sets += ", "
		}
		sets += quoteIdent(c) + " = EXCLUDED." + quoteIdent(c)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		quoteIdent(table), cols, phs, quoteIdent(primaryKey), sets,
	)
}

// mysqlDialect targets MySQL/MariaDB via go-sql-driver/mysql, connected
// with sql_mode=ansi (§ stdpool grounding) so double-quoted identifiers
// behave like every other dialect here.
type mysqlDialect struct{}

// NewMySQLDialect returns the Dialect used by go-sql-driver/mysql
// connections opened with ANSI sql_mode.
func NewMySQLDialect() Dialect { return mysqlDialect{} }

func (mysqlDialect) Product() Product        { return ProductMySQL }
func (mysqlDialect) Placeholder(int) string  { return "?" }
func (mysqlDialect) Quote(ident string) string { return quoteIdent(ident) }
func (mysqlDialect) EqualsIgnoreCase(c, ph string) string {
	return fmt.Sprintf("LOWER(%s) = LOWER(%s)", c, ph)
}
func (mysqlDialect) StartsWithIgnoreCase(c, ph string) string {
	return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", c, ph)
}
func (d mysqlDialect) Upsert(table, primaryKey string, columns []string) string {
	cols := joinQuoted(columns)
	phs := placeholdersFor(d, len(columns))
	sets := ""
	for _, c := range columns {
		if c == primaryKey {
			continue
		}
		if sets != "" {
			sets += ", "
		}
		sets += quoteIdent(c) + " = VALUES(" + quoteIdent(c) + ")"
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		quoteIdent(table), cols, phs, sets,
	)
}

func joinQuoted(columns []string) string {
	out := ""
	for i, c := range columns {
		if i > 0 {
			out += ", "
		}
		out += quoteIdent(c)
	}
	return out
}

func placeholdersFor(d Dialect, n int) string {
	out := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ", "
		}
		out += d.Placeholder(i)
	}
	return out
}
