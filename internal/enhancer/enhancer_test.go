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

package enhancer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftsync/riftsync/internal/enhancer"
	"github.com/riftsync/riftsync/internal/memstore"
	"github.com/riftsync/riftsync/internal/state"
	"github.com/riftsync/riftsync/internal/syncconfig"
	"github.com/riftsync/riftsync/internal/types"
)

func newHarness(t *testing.T) (*enhancer.Enhancer, *state.Manager) {
	t.Helper()
	backend := memstore.New()
	st := state.New(backend)
	require.NoError(t, st.Hydrate(context.Background()))

	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{Name: "widgets"}))

	return enhancer.New(backend, st, registry), st
}

func TestAddOnSyncTableQueuesPendingCreate(t *testing.T) {
	ctx := context.Background()
	e, st := newHarness(t)

	tbl, err := e.Table(ctx, "widgets")
	require.NoError(t, err)

	id, err := tbl.Add(ctx, types.Record{"color": "red"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	stored, err := tbl.Get(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.UpdatedAt())

	s := st.GetState()
	require.Len(t, s.PendingChanges, 1)
	assert.Equal(t, types.ActionCreate, s.PendingChanges[0].Action)
	assert.Equal(t, "widgets", s.PendingChanges[0].Table)
	assert.Equal(t, id, s.PendingChanges[0].LocalID)
}

func TestUpdateOnSyncTableQueuesPendingUpdate(t *testing.T) {
	ctx := context.Background()
	e, st := newHarness(t)
	tbl, err := e.Table(ctx, "widgets")
	require.NoError(t, err)

	id, err := tbl.Add(ctx, types.Record{"color": "red"})
	require.NoError(t, err)
	require.NoError(t, st.RemovePendingChange(ctx, "widgets", id))

	n, err := tbl.Update(ctx, id, types.Record{"color": "blue"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s := st.GetState()
	require.Len(t, s.PendingChanges, 1)
	assert.Equal(t, types.ActionUpdate, s.PendingChanges[0].Action)
	assert.Equal(t, "blue", s.PendingChanges[0].Changes["color"])
}

func TestDeleteOnSyncTableQueuesPendingRemove(t *testing.T) {
	ctx := context.Background()
	e, st := newHarness(t)
	tbl, err := e.Table(ctx, "widgets")
	require.NoError(t, err)

	id, err := tbl.Add(ctx, types.Record{"color": "red"})
	require.NoError(t, err)
	require.NoError(t, st.RemovePendingChange(ctx, "widgets", id))

	require.NoError(t, tbl.Delete(ctx, id))

	got, err := tbl.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	s := st.GetState()
	require.Len(t, s.PendingChanges, 1)
	assert.Equal(t, types.ActionRemove, s.PendingChanges[0].Action)
}

func TestNonSyncTableSkipsPendingChanges(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	st := state.New(backend)
	require.NoError(t, st.Hydrate(ctx))
	e := enhancer.New(backend, st, syncconfig.NewRegistry())

	tbl, err := e.Table(ctx, "scratch")
	require.NoError(t, err)

	id, err := tbl.Add(ctx, types.Record{"note": "local only"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Empty(t, st.GetState().PendingChanges)
}

func TestMutationEventsArePublished(t *testing.T) {
	ctx := context.Background()
	e, _ := newHarness(t)
	tbl, err := e.Table(ctx, "widgets")
	require.NoError(t, err)

	var events []types.MutationEvent
	unsub := e.Subscribe(func(ev types.MutationEvent) { events = append(events, ev) })
	defer unsub()

	id, err := tbl.Add(ctx, types.Record{"color": "red"})
	require.NoError(t, err)
	_, err = tbl.Update(ctx, id, types.Record{"color": "blue"})
	require.NoError(t, err)
	require.NoError(t, tbl.Delete(ctx, id))

	require.Len(t, events, 3)
	assert.Equal(t, types.MutationAdd, events[0].Type)
	assert.Equal(t, types.MutationUpdate, events[1].Type)
	assert.Equal(t, types.MutationDelete, events[2].Type)
	for _, ev := range events {
		assert.Equal(t, "widgets", ev.Table)
		assert.Equal(t, []string{id}, ev.Keys)
	}
}

func TestClearQueuesRemoveForEveryRow(t *testing.T) {
	ctx := context.Background()
	e, st := newHarness(t)
	tbl, err := e.Table(ctx, "widgets")
	require.NoError(t, err)

	_, err = tbl.Add(ctx, types.Record{"color": "red"})
	require.NoError(t, err)
	_, err = tbl.Add(ctx, types.Record{"color": "blue"})
	require.NoError(t, err)
	require.NoError(t, st.SetState(ctx, func(s types.SyncState) types.SyncState {
		s.PendingChanges = nil
		return s
	}))

	require.NoError(t, tbl.Clear(ctx))

	count, err := tbl.FetchCount(ctx, nil, nil, types.QueryOptions{})
	require.NoError(t, err)
	assert.Zero(t, count)

	s := st.GetState()
	require.Len(t, s.PendingChanges, 2)
	for _, p := range s.PendingChanges {
		assert.Equal(t, types.ActionRemove, p.Action)
	}
}

func TestBulkAddQueuesOnePendingEntryPerRow(t *testing.T) {
	ctx := context.Background()
	e, st := newHarness(t)
	tbl, err := e.Table(ctx, "widgets")
	require.NoError(t, err)

	ids, err := tbl.BulkAdd(ctx, []types.Record{{"color": "red"}, {"color": "green"}})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Len(t, st.GetState().PendingChanges, 2)
}
