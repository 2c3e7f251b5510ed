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

package sync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftsync/riftsync/internal/firstload"
	"github.com/riftsync/riftsync/internal/memstore"
	"github.com/riftsync/riftsync/internal/syncconfig"
	"github.com/riftsync/riftsync/internal/types"
	rsync "github.com/riftsync/riftsync/sync"
)

type fakeTransport struct {
	listResult []types.Record
}

func (f *fakeTransport) Add(ctx context.Context, item types.Record) (*types.AddResult, error) {
	return nil, nil
}
func (f *fakeTransport) Update(ctx context.Context, serverID any, changes, after types.Record) (bool, error) {
	return true, nil
}
func (f *fakeTransport) Remove(ctx context.Context, serverID any) error { return nil }
func (f *fakeTransport) List(ctx context.Context, since string) ([]types.Record, error) {
	return f.listResult, nil
}
func (f *fakeTransport) FirstLoadPerTable(ctx context.Context, lastID any) ([]types.Record, error) {
	return nil, nil
}

func newEngine(t *testing.T, transport *fakeTransport) *rsync.Engine {
	t.Helper()
	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{Name: "widgets", Transport: transport}))
	eng := rsync.New(rsync.Config{Backend: memstore.New(), Registry: registry, SyncInterval: time.Millisecond})
	require.NoError(t, eng.Hydrate(context.Background()))
	return eng
}

func TestEnableRunsAPullCycleAndReachesIdle(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, &fakeTransport{listResult: []types.Record{
		{"server_id": "s1", "updated_at": "2024-01-01T00:00:00Z", "color": "red"},
	}})

	idle := make(chan struct{})
	eng.OnStateChange(func(s types.ObservableState) {
		if s.Status == types.StatusIdle {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})

	require.NoError(t, eng.Enable(ctx, true))
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scheduler to reach idle")
	}
	require.NoError(t, eng.Enable(ctx, false))

	tbl, err := eng.Table(ctx, "widgets")
	require.NoError(t, err)
	rows, err := tbl.OrderBy(types.FieldLocalID).ToArray(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "red", rows[0]["color"])
}

func TestStartFirstLoadReportsProgressAndSetsFlag(t *testing.T) {
	ctx := context.Background()
	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{
		Name: "widgets",
		FirstLoadPerTable: func(ctx context.Context, lastID any) ([]types.Record, error) {
			if lastID != nil {
				return nil, nil
			}
			return []types.Record{{"server_id": "s1", "updated_at": "2024-01-01T00:00:00Z", "color": "red"}}, nil
		},
	}))
	eng := rsync.New(rsync.Config{Backend: memstore.New(), Registry: registry})
	require.NoError(t, eng.Hydrate(ctx))

	var reports []firstload.Progress
	require.NoError(t, eng.StartFirstLoad(ctx, func(p firstload.Progress) {
		reports = append(reports, p)
	}))

	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Total)
	assert.True(t, eng.State().FirstLoadDone)
}

// seedConflict drives a genuine shallow-merge conflict through the real
// pull path: a local row is seeded directly against the raw backend (so
// no pending entry exists yet), a local edit is made through the
// enhanced table (producing an ActionUpdate pending change with
// Before=the seeded row), and one enable/disable cycle runs a pull that
// observes a remote edit to the same field, which the default
// ConflictTryShallowMerge strategy cannot reconcile.
func seedConflict(t *testing.T, ctx context.Context, backend types.StorageBackend, eng *rsync.Engine) string {
	t.Helper()
	raw, err := backend.Table(ctx, "widgets")
	require.NoError(t, err)
	localID, err := raw.Add(ctx, types.Record{"server_id": "s1", "updated_at": "2024-01-01T00:00:00Z", "color": "red"})
	require.NoError(t, err)

	enhanced, err := eng.Table(ctx, "widgets")
	require.NoError(t, err)
	_, err = enhanced.Update(ctx, localID, types.Record{"color": "blue"})
	require.NoError(t, err)

	idle := make(chan struct{})
	unsub := eng.OnStateChange(func(s types.ObservableState) {
		if s.Status == types.StatusIdle {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	require.NoError(t, eng.Enable(ctx, true))
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for conflict-producing cycle to reach idle")
	}
	require.NoError(t, eng.Enable(ctx, false))
	return localID
}

func TestResolveConflictKeepRemoteOverwritesAndClears(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	registry := syncconfig.NewRegistry()
	transport := &fakeTransport{listResult: []types.Record{
		{"server_id": "s1", "updated_at": "2024-01-02T00:00:00Z", "color": "green"},
	}}
	require.NoError(t, registry.Register(syncconfig.TableConfig{Name: "widgets", Transport: transport}))
	eng := rsync.New(rsync.Config{Backend: backend, Registry: registry, SyncInterval: time.Millisecond})
	require.NoError(t, eng.Hydrate(ctx))

	localID := seedConflict(t, ctx, backend, eng)
	require.Contains(t, eng.State().Conflicts, localID)

	require.NoError(t, eng.ResolveConflict(ctx, localID, false))

	enhanced, err := eng.Table(ctx, "widgets")
	require.NoError(t, err)
	got, err := enhanced.Get(ctx, localID)
	require.NoError(t, err)
	assert.Equal(t, "green", got["color"])
	assert.NotContains(t, eng.State().Conflicts, localID)
}

func TestResolveConflictKeepLocalLeavesValueAndClears(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	registry := syncconfig.NewRegistry()
	transport := &fakeTransport{listResult: []types.Record{
		{"server_id": "s1", "updated_at": "2024-01-02T00:00:00Z", "color": "green"},
	}}
	require.NoError(t, registry.Register(syncconfig.TableConfig{Name: "widgets", Transport: transport}))
	eng := rsync.New(rsync.Config{Backend: backend, Registry: registry, SyncInterval: time.Millisecond})
	require.NoError(t, eng.Hydrate(ctx))

	localID := seedConflict(t, ctx, backend, eng)
	require.Contains(t, eng.State().Conflicts, localID)

	require.NoError(t, eng.ResolveConflict(ctx, localID, true))

	enhanced, err := eng.Table(ctx, "widgets")
	require.NoError(t, err)
	got, err := enhanced.Get(ctx, localID)
	require.NoError(t, err)
	assert.Equal(t, "blue", got["color"])
	assert.NotContains(t, eng.State().Conflicts, localID)
}
