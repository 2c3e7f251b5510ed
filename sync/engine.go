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

// Package sync composes the state manager, table enhancer, first-load,
// pull, push, and scheduler packages into the single observable surface
// an embedder drives: enable/disable, first load with progress, conflict
// resolution, and state/mutation subscriptions (§6). It plays the role
// the teacher's cdc.Handler plays for sinkprod/sinktest wiring: one type
// that owns the lifecycle of everything underneath it.
package sync

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/riftsync/riftsync/internal/enhancer"
	"github.com/riftsync/riftsync/internal/firstload"
	"github.com/riftsync/riftsync/internal/notify"
	"github.com/riftsync/riftsync/internal/pull"
	"github.com/riftsync/riftsync/internal/push"
	"github.com/riftsync/riftsync/internal/scheduler"
	"github.com/riftsync/riftsync/internal/state"
	"github.com/riftsync/riftsync/internal/syncconfig"
	"github.com/riftsync/riftsync/internal/types"
)

// DefaultSyncInterval is used whenever Config.SyncInterval is left zero.
// Config has no setting that turns periodic scheduling off.
const DefaultSyncInterval = 30 * time.Second

// Config bundles the pieces an embedder supplies to New.
type Config struct {
	Backend      types.StorageBackend
	Registry     *syncconfig.Registry
	SyncInterval time.Duration
}

// Engine is the top-level entry point: construct one per local
// datastore, register sync tables on its Registry before the first
// Enable call, then drive it through the observable surface below.
type Engine struct {
	backend   types.StorageBackend
	state     *state.Manager
	registry  *syncconfig.Registry
	enhancer  *enhancer.Enhancer
	firstLoad *firstload.Engine
	pull      *pull.Engine
	push      *push.Engine
	scheduler *scheduler.Scheduler
}

// New wires every subsystem together. Callers must Hydrate (via
// Engine.Hydrate) before calling Enable or StartFirstLoad.
func New(cfg Config) *Engine {
	st := state.New(cfg.Backend)
	interval := cfg.SyncInterval
	if interval == 0 {
		interval = DefaultSyncInterval
	}

	pullEng := pull.New(cfg.Backend, st, cfg.Registry)
	pushEng := push.New(cfg.Backend, st, cfg.Registry)
	sched := scheduler.New(pullEng, pushEng, st, interval)

	eng := &Engine{
		backend:   cfg.Backend,
		state:     st,
		registry:  cfg.Registry,
		enhancer:  enhancer.New(cfg.Backend, st, cfg.Registry),
		firstLoad: firstload.New(cfg.Backend, st, cfg.Registry),
		pull:      pullEng,
		push:      pushEng,
		scheduler: sched,
	}
	sched.SubscribeMutations(&enhancerMutationHub{e: eng.enhancer})
	return eng
}

// enhancerMutationHub adapts *enhancer.Enhancer's Subscribe method to
// the narrow interface scheduler.SubscribeMutations expects.
type enhancerMutationHub struct{ e *enhancer.Enhancer }

func (h *enhancerMutationHub) Subscribe(fn func(types.MutationEvent)) notify.Unsubscribe {
	return h.e.Subscribe(fn)
}

// Hydrate loads (or initializes) persisted sync state. Call once before
// Enable or StartFirstLoad.
func (e *Engine) Hydrate(ctx context.Context) error {
	return e.state.Hydrate(ctx)
}

// Table returns the enhanced table handle for name, the surface regular
// application code reads and writes through (§4.5).
func (e *Engine) Table(ctx context.Context, name string) (types.Table, error) {
	return e.enhancer.Table(ctx, name)
}

// Enable starts or stops the background sync cycle (§4.9, §6
// `sync.enable`).
func (e *Engine) Enable(ctx context.Context, on bool) error {
	return e.scheduler.Enable(ctx, on)
}

// StartFirstLoad runs the one-time bulk ingest for every registered
// table, reporting progress through onProgress if non-nil (§6
// `sync.start_first_load`). It is a no-op if first load already
// completed.
func (e *Engine) StartFirstLoad(ctx context.Context, onProgress func(firstload.Progress)) error {
	err := e.firstLoad.Run(ctx, onProgress)
	e.state.SetAPIError(types.ClassifyAPIError(err))
	return err
}

// ResolveConflict implements §6 `sync.resolve_conflict`: if keepLocal,
// the pending local change is left in place; otherwise the record's
// conflicting fields are overwritten with their stored remote values and
// the pending entry is dropped. Either way conflicts[local_id] is
// cleared.
func (e *Engine) ResolveConflict(ctx context.Context, localID string, keepLocal bool) error {
	conflict, ok := e.state.GetState().Conflicts[localID]
	if !ok {
		return nil
	}

	if !keepLocal {
		tbl, err := e.backend.Table(ctx, conflict.Table)
		if err != nil {
			return errors.Wrapf(err, "resolve conflict for table %s", conflict.Table)
		}
		overwrite := types.Record{}
		for _, f := range conflict.Fields {
			overwrite[f.Key] = f.RemoteValue
		}
		if _, err := tbl.Update(ctx, localID, overwrite); err != nil {
			return errors.Wrapf(err, "apply remote values for local_id %s", localID)
		}
		if err := e.state.RemovePendingChange(ctx, conflict.Table, localID); err != nil {
			return err
		}
	}

	return e.state.SetConflict(ctx, localID, nil)
}

// OnStateChange subscribes to every observable-state change (§6
// `sync.on_state_change`).
func (e *Engine) OnStateChange(fn func(types.ObservableState)) notify.Unsubscribe {
	return e.state.Subscribe(fn)
}

// OnMutation subscribes to every mutation event emitted by a sync or
// plain table (§6 `sync.on_mutation`).
func (e *Engine) OnMutation(fn func(types.MutationEvent)) notify.Unsubscribe {
	return e.enhancer.Subscribe(fn)
}

// State returns the current observable snapshot (§6 `sync.state`).
func (e *Engine) State() types.ObservableState {
	return e.state.GetState()
}

// OnVisibilityChange pauses/resumes the cycle loop, the Go-side stand-in
// for a host's visibility-change notification (§4.9).
func (e *Engine) OnVisibilityChange(ctx context.Context, hidden bool) error {
	return e.scheduler.OnVisibilityChange(ctx, hidden)
}

// Close stops the scheduler and releases the storage backend, in that
// order, so no in-flight cycle reaches a closed backend (§9).
func (e *Engine) Close() error {
	if err := e.scheduler.Close(); err != nil {
		return err
	}
	return e.backend.Close()
}
