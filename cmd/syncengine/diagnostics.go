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

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/riftsync/riftsync/internal/diag"
	rsync "github.com/riftsync/riftsync/sync"
)

// diagnostics serves a health check plus the engine's observable state
// as JSON, the reference binary's stand-in for the teacher's per-sink
// webhook handler: one struct bound to the resource it reports on,
// registered against a mux by ServeHTTP.
type diagnostics struct {
	engine *rsync.Engine
	probes *diag.Diagnostics
}

// newDiagnostics registers the probes a standalone process can check
// without any caller-specific knowledge: has persisted state loaded,
// and is the last sync cycle free of an API error.
func newDiagnostics(engine *rsync.Engine) *diagnostics {
	probes := &diag.Diagnostics{}
	_ = probes.Register("hydrated", func(context.Context) error {
		if !engine.State().Hydrated {
			return errors.New("sync state not yet hydrated")
		}
		return nil
	})
	_ = probes.Register("api", func(context.Context) error {
		if info := engine.State().ApiError; info != nil {
			return errors.New(info.Message)
		}
		return nil
	})
	return &diagnostics{engine: engine, probes: probes}
}

type probeResult struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

type healthResponse struct {
	Probes []probeResult  `json:"probes"`
	State  map[string]any `json:"state"`
}

func (d *diagnostics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	results := d.probes.Check(r.Context())
	healthy := true
	probes := make([]probeResult, len(results))
	for i, res := range results {
		pr := probeResult{Name: res.Name}
		if res.Err != nil {
			healthy = false
			pr.Error = res.Err.Error()
		}
		probes[i] = pr
	}

	state := d.engine.State()
	body, err := json.Marshal(healthResponse{
		Probes: probes,
		State: map[string]any{
			"status":         state.Status.String(),
			"hydrated":       state.Hydrated,
			"firstLoadDone":  state.FirstLoadDone,
			"pendingChanges": len(state.PendingChanges),
			"conflicts":      len(state.Conflicts),
		},
	})
	if err != nil {
		logrus.WithError(err).Warn("failed to encode diagnostics response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write(body)
}
