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

package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/riftsync/riftsync/internal/wire"
)

// config is the user-visible configuration for running the sync engine
// as a standalone process: a storage backend plus the HTTP surface that
// exposes its diagnostics and metrics. An embedder linking the sync
// package directly does not need any of this; it exists for the
// reference binary and for smoke-testing a backend end to end.
type config struct {
	backend       string
	connectString string
	bindAddr      string
	syncInterval  time.Duration
	disableSync   bool
}

// bind registers every flag against flags, following the teacher's
// source/server.Config.Bind shape: one FlagSet, no sub-commands.
func (c *config) bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.backend, "backend", string(wire.BackendMemory),
		"storage backend to use: memory, postgres, or mysql")
	flags.StringVar(&c.connectString, "connectString", "",
		"DSN for the postgres/mysql backend; ignored for the memory backend")
	flags.StringVar(&c.bindAddr, "bindAddr", ":26258",
		"network address the diagnostics and metrics HTTP server binds to")
	flags.DurationVar(&c.syncInterval, "syncInterval", 0,
		"background sync cycle interval; zero uses the engine default")
	flags.BoolVar(&c.disableSync, "disableSync", false,
		"start with the background sync cycle disabled")
}

// preflight validates flag values after parsing, following the
// teacher's Config.Preflight shape.
func (c *config) preflight() error {
	switch wire.BackendKind(c.backend) {
	case wire.BackendMemory:
	case wire.BackendPostgres, wire.BackendMySQL:
		if c.connectString == "" {
			return errors.Errorf("connectString is required for backend %q", c.backend)
		}
	default:
		return errors.Errorf("unknown backend %q", c.backend)
	}
	if c.bindAddr == "" {
		return errors.New("bindAddr unset")
	}
	return nil
}
