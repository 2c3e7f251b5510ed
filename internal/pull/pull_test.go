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

package pull_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftsync/riftsync/internal/memstore"
	"github.com/riftsync/riftsync/internal/pull"
	"github.com/riftsync/riftsync/internal/state"
	"github.com/riftsync/riftsync/internal/syncconfig"
	"github.com/riftsync/riftsync/internal/types"
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

func newHarness(t *testing.T, transport *fakeTransport, conflict types.ConflictStrategy) (*memstore.Backend, *state.Manager, *pull.Engine) {
	t.Helper()
	backend := memstore.New()
	st := state.New(backend)
	require.NoError(t, st.Hydrate(context.Background()))
	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{Name: "widgets", Conflict: conflict, Transport: transport}))
	return backend, st, pull.New(backend, st, registry)
}

func TestPullInsertsNewRemoteRecord(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{listResult: []types.Record{
		{"server_id": "s1", "updated_at": "2024-01-01T00:00:00Z", "color": "red"},
	}}
	backend, st, eng := newHarness(t, transport, types.ConflictTryShallowMerge)

	require.NoError(t, eng.Run(ctx))

	tbl, err := backend.Table(ctx, "widgets")
	require.NoError(t, err)
	rows, err := tbl.OrderBy(types.FieldLocalID).ToArray(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "red", rows[0]["color"])
	assert.Equal(t, "2024-01-01T00:00:00Z", st.GetState().LastPulled["widgets"])
}

func TestPullRemovesLocalOnRemoteTombstone(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	st := state.New(backend)
	require.NoError(t, st.Hydrate(ctx))
	tbl, err := backend.Table(ctx, "widgets")
	require.NoError(t, err)
	localID, err := tbl.Add(ctx, types.Record{"server_id": "s1", "color": "red"})
	require.NoError(t, err)

	transport := &fakeTransport{listResult: []types.Record{
		{"server_id": "s1", "updated_at": "2024-01-02T00:00:00Z", "deleted": true},
	}}
	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{Name: "widgets", Transport: transport}))
	eng := pull.New(backend, st, registry)

	require.NoError(t, eng.Run(ctx))

	got, err := tbl.Get(ctx, localID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPullSkipsRemoteWhenPendingRemoveForServerID(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	st := state.New(backend)
	require.NoError(t, st.Hydrate(ctx))
	require.NoError(t, st.AddPendingChange(ctx, types.PendingChange{
		Action: types.ActionRemove, Table: "widgets", LocalID: "l1", ServerID: "s1",
	}))

	transport := &fakeTransport{listResult: []types.Record{
		{"server_id": "s1", "updated_at": "2024-01-01T00:00:00Z", "color": "red"},
	}}
	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{Name: "widgets", Transport: transport}))
	eng := pull.New(backend, st, registry)

	require.NoError(t, eng.Run(ctx))

	tbl, err := backend.Table(ctx, "widgets")
	require.NoError(t, err)
	count, err := tbl.FetchCount(ctx, nil, nil, types.QueryOptions{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPullConflictLocalWinsKeepsLocalValue(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	st := state.New(backend)
	require.NoError(t, st.Hydrate(ctx))
	tbl, err := backend.Table(ctx, "widgets")
	require.NoError(t, err)
	localID, err := tbl.Add(ctx, types.Record{"server_id": "s1", "color": "green"})
	require.NoError(t, err)
	require.NoError(t, st.AddPendingChange(ctx, types.PendingChange{
		Action: types.ActionUpdate, Table: "widgets", LocalID: localID,
		Changes: types.Record{"color": "green"}, Before: types.Record{"color": "red"},
	}))

	transport := &fakeTransport{listResult: []types.Record{
		{"server_id": "s1", "updated_at": "2024-01-02T00:00:00Z", "color": "blue"},
	}}
	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{
		Name: "widgets", Conflict: types.ConflictLocalWins, Transport: transport,
	}))
	eng := pull.New(backend, st, registry)

	require.NoError(t, eng.Run(ctx))

	got, err := tbl.Get(ctx, localID)
	require.NoError(t, err)
	assert.Equal(t, "green", got["color"])
}

func TestPullConflictRemoteWinsOverwritesAndDropsPending(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	st := state.New(backend)
	require.NoError(t, st.Hydrate(ctx))
	tbl, err := backend.Table(ctx, "widgets")
	require.NoError(t, err)
	localID, err := tbl.Add(ctx, types.Record{"server_id": "s1", "color": "green"})
	require.NoError(t, err)
	require.NoError(t, st.AddPendingChange(ctx, types.PendingChange{
		Action: types.ActionUpdate, Table: "widgets", LocalID: localID,
		Changes: types.Record{"color": "green"}, Before: types.Record{"color": "red"},
	}))

	transport := &fakeTransport{listResult: []types.Record{
		{"server_id": "s1", "updated_at": "2024-01-02T00:00:00Z", "color": "blue"},
	}}
	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{
		Name: "widgets", Conflict: types.ConflictRemoteWins, Transport: transport,
	}))
	eng := pull.New(backend, st, registry)

	require.NoError(t, eng.Run(ctx))

	got, err := tbl.Get(ctx, localID)
	require.NoError(t, err)
	assert.Equal(t, "blue", got["color"])
	_, hasPending := st.FindPendingChange("widgets", localID)
	assert.False(t, hasPending)
}

func TestPullShallowMergeRecordsConflictOnDivergentField(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	st := state.New(backend)
	require.NoError(t, st.Hydrate(ctx))
	tbl, err := backend.Table(ctx, "widgets")
	require.NoError(t, err)
	localID, err := tbl.Add(ctx, types.Record{"server_id": "s1", "color": "green", "size": 1.0})
	require.NoError(t, err)
	require.NoError(t, st.AddPendingChange(ctx, types.PendingChange{
		Action: types.ActionUpdate, Table: "widgets", LocalID: localID,
		Changes: types.Record{"color": "green"}, Before: types.Record{"color": "red"},
	}))

	transport := &fakeTransport{listResult: []types.Record{
		{"server_id": "s1", "updated_at": "2024-01-02T00:00:00Z", "color": "blue", "size": 2.0},
	}}
	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{Name: "widgets", Transport: transport}))
	eng := pull.New(backend, st, registry)

	require.NoError(t, eng.Run(ctx))

	assert.True(t, st.HasConflicts(localID))
	got, err := tbl.Get(ctx, localID)
	require.NoError(t, err)
	assert.Equal(t, "green", got["color"])
}

func TestPullShallowMergeNoConflictMergesRemoteFields(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	st := state.New(backend)
	require.NoError(t, st.Hydrate(ctx))
	tbl, err := backend.Table(ctx, "widgets")
	require.NoError(t, err)
	localID, err := tbl.Add(ctx, types.Record{"server_id": "s1", "color": "green", "size": 1.0})
	require.NoError(t, err)
	require.NoError(t, st.AddPendingChange(ctx, types.PendingChange{
		Action: types.ActionUpdate, Table: "widgets", LocalID: localID,
		Changes: types.Record{"color": "green"}, Before: types.Record{"color": "green"},
	}))

	transport := &fakeTransport{listResult: []types.Record{
		{"server_id": "s1", "updated_at": "2024-01-02T00:00:00Z", "color": "green", "size": 5.0},
	}}
	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{Name: "widgets", Transport: transport}))
	eng := pull.New(backend, st, registry)

	require.NoError(t, eng.Run(ctx))

	assert.False(t, st.HasConflicts(localID))
	got, err := tbl.Get(ctx, localID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got["size"])
	assert.Equal(t, "green", got["color"])
}
