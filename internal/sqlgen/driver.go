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
	"database/sql"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	_ "github.com/jackc/pgx/v5/stdlib" // register "pgx" driver
	_ "github.com/go-sql-driver/mysql" // register "mysql" driver
	_ "github.com/lib/pq"              // registers "postgres", kept available for callers pinned to it

	"github.com/riftsync/riftsync/internal/stopper"
)

// Driver pairs an open connection pool with the Dialect used to
// compile statements against it. It is grounded on the teacher's
// stdpool package: one reference connection per target, opened once at
// startup and shared by every table handle.
type Driver struct {
	DB      *sql.DB
	Dialect Dialect
}

// Close releases the underlying connection pool.
func (d *Driver) Close() error { return d.DB.Close() }

// OpenPostgres opens a PostgreSQL/CockroachDB pool using pgx's
// database/sql shim, pinging with retry until the context's stopper
// signals shutdown, matching stdpool.OpenMySQLAsTarget's startup-wait
// behavior.
func OpenPostgres(ctx *stopper.Context, connectString string) (*Driver, error) {
	db, err := sql.Open("pgx", connectString)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ctx.Go(func() error {
		<-ctx.Stopping()
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("could not close database connection")
		}
		return nil
	})
	if err := pingWithRetry(ctx, db); err != nil {
		return nil, err
	}
	return &Driver{DB: db, Dialect: NewPostgresDialect()}, nil
}

// OpenMySQL opens a MySQL pool with sql_mode=ansi so double-quoted
// identifiers behave the way every other dialect here expects,
// mirroring stdpool.OpenMySQLAsTarget.
func OpenMySQL(ctx *stopper.Context, connectString string) (*Driver, error) {
	db, err := sql.Open("mysql", connectString+"?sql_mode=ansi")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ctx.Go(func() error {
		<-ctx.Stopping()
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("could not close database connection")
		}
		return nil
	})
	if err := pingWithRetry(ctx, db); err != nil {
		return nil, err
	}
	return &Driver{DB: db, Dialect: NewMySQLDialect()}, nil
}

func pingWithRetry(ctx *stopper.Context, db *sql.DB) error {
	for {
		if err := db.PingContext(ctx); err == nil {
			return nil
		} else {
			log.WithError(err).Info("waiting for database to become ready")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ctx.Stopping():
			return errors.New("stopped while waiting for database")
		case <-time.After(2 * time.Second):
		}
	}
}
