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

package memstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftsync/riftsync/internal/memstore"
	"github.com/riftsync/riftsync/internal/types"
)

func TestAddAssignsLocalID(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()
	tbl, err := b.Table(ctx, "widgets")
	require.NoError(t, err)

	id, err := tbl.Add(ctx, types.Record{"name": "sprocket"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := tbl.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "sprocket", got["name"])
	assert.Equal(t, id, got.LocalID())
}

func TestAddRejectsDuplicateServerID(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()
	tbl, _ := b.Table(ctx, "widgets")

	_, err := tbl.Add(ctx, types.Record{"server_id": "s1"})
	require.NoError(t, err)
	_, err = tbl.Add(ctx, types.Record{"server_id": "s1"})
	require.Error(t, err)
	var storageErr *types.StorageError
	assert.True(t, errors.As(err, &storageErr))
}

func TestWhereEqualsFiltersRows(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()
	tbl, _ := b.Table(ctx, "widgets")

	_, _ = tbl.Add(ctx, types.Record{"color": "red", "size": 1.0})
	_, _ = tbl.Add(ctx, types.Record{"color": "blue", "size": 2.0})
	_, _ = tbl.Add(ctx, types.Record{"color": "red", "size": 3.0})

	rows, err := tbl.Where("color").Equals("red").ToArray(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "red", r["color"])
	}
}

func TestOrderByAndLimit(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()
	tbl, _ := b.Table(ctx, "widgets")

	for i := 0; i < 5; i++ {
		_, _ = tbl.Add(ctx, types.Record{"rank": float64(i)})
	}

	rows, err := tbl.OrderBy("rank").Reverse().Limit(2).ToArray(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 4.0, rows[0]["rank"])
	assert.Equal(t, 3.0, rows[1]["rank"])
}

func TestTotalOrderAcrossKinds(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()
	tbl, _ := b.Table(ctx, "mixed")

	_, _ = tbl.Add(ctx, types.Record{"v": "abc"})
	_, _ = tbl.Add(ctx, types.Record{"v": nil})
	_, _ = tbl.Add(ctx, types.Record{"v": true})
	_, _ = tbl.Add(ctx, types.Record{"v": 42.0})
	_, _ = tbl.Add(ctx, types.Record{"v": false})

	rows, err := tbl.OrderBy("v").ToArray(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Nil(t, rows[0]["v"])
	assert.Equal(t, false, rows[1]["v"])
	assert.Equal(t, true, rows[2]["v"])
	assert.Equal(t, 42.0, rows[3]["v"])
	assert.Equal(t, "abc", rows[4]["v"])
}

func TestModifyAndDelete(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()
	tbl, _ := b.Table(ctx, "widgets")

	id, _ := tbl.Add(ctx, types.Record{"color": "red"})
	_, _ = tbl.Add(ctx, types.Record{"color": "blue"})

	n, err := tbl.Where("color").Equals("red").Modify(ctx, types.Record{"color": "green"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := tbl.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "green", got["color"])

	n, err = tbl.Where("color").Equals("blue").Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := tbl.OrderBy("color").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()
	tbl, _ := b.Table(ctx, "widgets")
	_, _ = tbl.Add(ctx, types.Record{"color": "red"})

	sentinel := errors.New("boom")
	err := b.Transaction(ctx, types.TxReadWrite, []string{"widgets"}, func(ctx context.Context, tx types.TxHandle) error {
		wt, err := tx.Table("widgets")
		require.NoError(t, err)
		_, err = wt.Add(ctx, types.Record{"color": "blue"})
		require.NoError(t, err)
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	count, err := tbl.OrderBy("color").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTransactionCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()

	err := b.Transaction(ctx, types.TxReadWrite, []string{"widgets"}, func(ctx context.Context, tx types.TxHandle) error {
		wt, err := tx.Table("widgets")
		require.NoError(t, err)
		_, err = wt.Add(ctx, types.Record{"color": "blue"})
		return err
	})
	require.NoError(t, err)

	tbl, _ := b.Table(ctx, "widgets")
	count, err := tbl.OrderBy("color").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNestedTransactionRejectsOutOfScopeTable(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()

	err := b.Transaction(ctx, types.TxReadWrite, []string{"widgets"}, func(ctx context.Context, tx types.TxHandle) error {
		return b.Transaction(ctx, types.TxReadWrite, []string{"gadgets"}, func(ctx context.Context, tx types.TxHandle) error {
			return nil
		})
	})
	require.Error(t, err)
}

func TestBetweenOperator(t *testing.T) {
	ctx := context.Background()
	b := memstore.New()
	tbl, _ := b.Table(ctx, "widgets")

	for i := 0; i < 10; i++ {
		_, _ = tbl.Add(ctx, types.Record{"rank": float64(i)})
	}

	rows, err := tbl.Where("rank").Between(3.0, 6.0, true, false).ToArray(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
}
