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

package wire_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftsync/riftsync/internal/stopper"
	"github.com/riftsync/riftsync/internal/syncconfig"
	"github.com/riftsync/riftsync/internal/wire"
)

func TestInjectMemoryBackendHydratesEngine(t *testing.T) {
	ctx := stopper.New(context.Background())
	defer ctx.Stop()

	registry := syncconfig.NewRegistry()
	require.NoError(t, registry.Register(syncconfig.TableConfig{Name: "widgets"}))

	eng, cleanup, err := wire.Inject(ctx, &wire.Config{
		Backend:  wire.BackendMemory,
		Registry: registry,
	})
	require.NoError(t, err)
	defer cleanup()

	assert.False(t, eng.State().FirstLoadDone)
}

func TestInjectUnknownBackendReturnsError(t *testing.T) {
	ctx := stopper.New(context.Background())
	defer ctx.Stop()

	_, cleanup, err := wire.Inject(ctx, &wire.Config{
		Backend:  wire.BackendKind("bogus"),
		Registry: syncconfig.NewRegistry(),
	})
	require.Error(t, err)
	assert.Nil(t, cleanup)
}
