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

package firstload_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftsync/riftsync/internal/firstload"
	"github.com/riftsync/riftsync/internal/memstore"
	"github.com/riftsync/riftsync/internal/state"
	"github.com/riftsync/riftsync/internal/syncconfig"
	"github.com/riftsync/riftsync/internal/types"
)

func newHarness(t *testing.T) (*memstore.Backend, *state.Manager) {
	t.Helper()
	backend := memstore.New()
	st := state.New(backend)
	require.NoError(t, st.Hydrate(context.Background()))
	return backend, st
}

func pagedLoader(pages [][]types.Record) func(context.Context, any) ([]types.Record, error) {
	i := 0
	return func(ctx context.Context, lastID any) ([]types.Record, error) {
		if i >= len(pages) {
			return nil, nil
		}
		page := pages[i]
		i++
		return page, nil
	}
}

func TestRunBulkAddsFirstPage(t *testing.T) {
	ctx := context.Background()
	backend, st := newHarness(t)
	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{
		Name: "widgets",
		FirstLoadPerTable: pagedLoader([][]types.Record{
			{{"server_id": "s1", "updated_at": "2024-01-01T00:00:00Z", "color": "red"}},
		}),
	}))

	eng := firstload.New(backend, st, registry)
	require.NoError(t, eng.Run(ctx, nil))

	tbl, err := backend.Table(ctx, "widgets")
	require.NoError(t, err)
	rows, err := tbl.OrderBy(types.FieldLocalID).ToArray(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "red", rows[0]["color"])
	assert.True(t, st.GetState().FirstLoadDone)
	assert.Equal(t, "2024-01-01T00:00:00Z", st.GetState().LastPulled["widgets"])
}

func TestRunSkipsTombstonedRecords(t *testing.T) {
	ctx := context.Background()
	backend, st := newHarness(t)
	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{
		Name: "widgets",
		FirstLoadPerTable: pagedLoader([][]types.Record{
			{
				{"server_id": "s1", "updated_at": "2024-01-01T00:00:00Z", "color": "red"},
				{"server_id": "s2", "updated_at": "2024-01-02T00:00:00Z", "deleted": true},
			},
		}),
	}))

	eng := firstload.New(backend, st, registry)
	require.NoError(t, eng.Run(ctx, nil))

	tbl, err := backend.Table(ctx, "widgets")
	require.NoError(t, err)
	count, err := tbl.FetchCount(ctx, nil, nil, types.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunSetsFirstLoadDoneEvenOnError(t *testing.T) {
	ctx := context.Background()
	backend, st := newHarness(t)
	registry := syncconfig.NewRegistry()
	stalled := func(ctx context.Context, lastID any) ([]types.Record, error) {
		return []types.Record{{"server_id": "s1", "updated_at": "2024-01-01T00:00:00Z"}}, nil
	}
	require.NoError(t, registry.Register(syncconfig.TableConfig{Name: "widgets", FirstLoadPerTable: stalled}))

	eng := firstload.New(backend, st, registry)
	err := eng.Run(ctx, nil)
	assert.Error(t, err)
	assert.True(t, st.GetState().FirstLoadDone)
}

func TestRunReportsProgressPerBatch(t *testing.T) {
	ctx := context.Background()
	backend, st := newHarness(t)
	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{
		Name: "widgets",
		FirstLoadPerTable: pagedLoader([][]types.Record{
			{{"server_id": "s1", "updated_at": "2024-01-01T00:00:00Z", "color": "red"}},
			{{"server_id": "s2", "updated_at": "2024-01-02T00:00:00Z", "color": "blue"}},
		}),
	}))

	var reports []firstload.Progress
	eng := firstload.New(backend, st, registry)
	require.NoError(t, eng.Run(ctx, func(p firstload.Progress) {
		reports = append(reports, p)
	}))

	require.Len(t, reports, 2)
	assert.Equal(t, "widgets", reports[0].Table)
	assert.Equal(t, 1, reports[0].Total)
	assert.Equal(t, 2, reports[1].Total)
}

func TestRunIsNoOpOnceFirstLoadDone(t *testing.T) {
	ctx := context.Background()
	backend, st := newHarness(t)
	require.NoError(t, st.SetFirstLoadDone(ctx, true))

	calls := 0
	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{
		Name: "widgets",
		FirstLoadPerTable: func(ctx context.Context, lastID any) ([]types.Record, error) {
			calls++
			return nil, nil
		},
	}))

	eng := firstload.New(backend, st, registry)
	require.NoError(t, eng.Run(ctx, nil))
	assert.Zero(t, calls)
}
