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

// Package sinktest provides a ready-to-use *sync.Engine for
// integration-style tests, the way the teacher's sinktest/all.Fixture
// bundles "a complete set of database-backed services" behind one
// struct. This package's Fixture bundles an in-memory backend, a table
// registry callers populate before Hydrate, and the engine built on
// top, plus a few polling helpers tests otherwise have to reimplement
// by hand (AwaitIdle, AwaitMutation).
package sinktest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riftsync/riftsync/internal/memstore"
	"github.com/riftsync/riftsync/internal/syncconfig"
	"github.com/riftsync/riftsync/internal/types"
	rsync "github.com/riftsync/riftsync/sync"
)

// Fixture bundles an in-process engine wired to an in-memory backend.
// Callers register sync tables on Registry before calling Hydrate.
type Fixture struct {
	t        *testing.T
	Backend  *memstore.Backend
	Registry *syncconfig.Registry
	Engine   *rsync.Engine
}

// NewFixture constructs a Fixture with a fresh, empty registry. Call
// Registry.Register for every table under test, then Hydrate.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	backend := memstore.New()
	registry := syncconfig.NewRegistry()
	return &Fixture{
		t:        t,
		Backend:  backend,
		Registry: registry,
		Engine:   rsync.New(rsync.Config{Backend: backend, Registry: registry, SyncInterval: time.Millisecond}),
	}
}

// Hydrate loads persisted sync state. Call once, after every table has
// been registered.
func (f *Fixture) Hydrate(ctx context.Context) {
	f.t.Helper()
	require.NoError(f.t, f.Engine.Hydrate(ctx))
}

// AwaitIdle enables the sync cycle (if not already enabled) and blocks
// until the engine reports types.StatusIdle at least once, then leaves
// the cycle running. Tests that need exactly one cycle should disable
// it again afterward.
func (f *Fixture) AwaitIdle(ctx context.Context, timeout time.Duration) {
	f.t.Helper()
	idle := make(chan struct{}, 1)
	unsub := f.Engine.OnStateChange(func(s types.ObservableState) {
		if s.Status == types.StatusIdle {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	require.NoError(f.t, f.Engine.Enable(ctx, true))
	select {
	case <-idle:
	case <-time.After(timeout):
		f.t.Fatal("timed out waiting for sync cycle to reach idle")
	}
}

// AwaitMutation subscribes for a mutation event matching match, calls
// trigger (expected to cause one), and blocks until that event arrives
// or timeout elapses. Subscribing before calling trigger avoids the
// race of publishing before anyone is listening.
func (f *Fixture) AwaitMutation(
	timeout time.Duration, match func(types.MutationEvent) bool, trigger func(),
) types.MutationEvent {
	f.t.Helper()
	found := make(chan types.MutationEvent, 1)
	unsub := f.Engine.OnMutation(func(ev types.MutationEvent) {
		if match(ev) {
			select {
			case found <- ev:
			default:
			}
		}
	})
	defer unsub()

	trigger()

	select {
	case ev := <-found:
		return ev
	case <-time.After(timeout):
		f.t.Fatal("timed out waiting for matching mutation event")
		return types.MutationEvent{}
	}
}

// Close stops the engine and releases the backend.
func (f *Fixture) Close() {
	f.t.Helper()
	require.NoError(f.t, f.Engine.Close())
}
