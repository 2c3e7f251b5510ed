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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftsync/riftsync/internal/memstore"
	"github.com/riftsync/riftsync/internal/syncconfig"
	rsync "github.com/riftsync/riftsync/sync"
)

func TestDiagnosticsReportsHealthyAfterHydrate(t *testing.T) {
	ctx := context.Background()
	eng := rsync.New(rsync.Config{Backend: memstore.New(), Registry: syncconfig.NewRegistry()})
	require.NoError(t, eng.Hydrate(ctx))

	d := newDiagnostics(eng)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Probes, 2)
	for _, p := range resp.Probes {
		assert.Empty(t, p.Error)
	}
}

func TestDiagnosticsRejectsNonGet(t *testing.T) {
	eng := rsync.New(rsync.Config{Backend: memstore.New(), Registry: syncconfig.NewRegistry()})
	d := newDiagnostics(eng)

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
