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

// Package scheduler drives the periodic pull-then-push cycle and its
// Disabled/Idle/Syncing/Error/Disabling state machine (§4.9), the way
// the teacher's resolver loop pairs a cancellable timer with a
// stopper.Context-scoped goroutine, generalized from one changefeed
// loop to a coalesced, mutation- and visibility-triggered sync cycle.
package scheduler

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/riftsync/riftsync/internal/metrics"
	"github.com/riftsync/riftsync/internal/notify"
	"github.com/riftsync/riftsync/internal/stopper"
	"github.com/riftsync/riftsync/internal/types"
)

// Puller is satisfied by *pull.Engine.
type Puller interface {
	Run(ctx context.Context) error
}

// Pusher is satisfied by *push.Engine.
type Pusher interface {
	Run(ctx context.Context) error
}

// StatusSetter is satisfied by *state.Manager; kept as a narrow
// interface so the scheduler depends on only the two calls it needs.
type StatusSetter interface {
	SetSyncStatus(status types.Status)
	SetAPIError(err *types.ApiErrorInfo)
}

// Scheduler owns the Disabled/Idle/Syncing/Error/Disabling state
// machine of §4.9. The zero value is not usable; construct with New.
type Scheduler struct {
	pull     Puller
	push     Pusher
	state    StatusSetter
	interval time.Duration

	mu          sync.Mutex
	status      types.Status
	runCtx      *stopper.Context
	wantEnabled bool
	coalesce    bool
	inSyncOnce  bool

	mutations notify.Unsubscribe
}

// New wires the pull/push engines and the state manager's status
// surface into a Scheduler. interval is the sleep between cycles; zero
// disables periodic scheduling (mutation/visibility still drive a
// cycle, per the options table of §6).
func New(pull Puller, push Pusher, state StatusSetter, interval time.Duration) *Scheduler {
	return &Scheduler{pull: pull, push: push, state: state, interval: interval, status: types.StatusDisabled}
}

// Status returns the scheduler's current state-machine value.
func (s *Scheduler) Status() types.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Enable transitions Disabled → Idle and starts the cycle loop, or
// Idle/Syncing/Error → Disabling → Disabled and stops it, per §4.9.
// Enable(true) on an already-enabled scheduler (including one whose
// last cycle left it in Error) and Enable(false) on an already-disabled
// one are no-ops.
func (s *Scheduler) Enable(ctx context.Context, on bool) error {
	s.mu.Lock()
	s.wantEnabled = on
	s.mu.Unlock()
	if on {
		return s.start(ctx)
	}
	return s.stop()
}

func (s *Scheduler) start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == types.StatusIdle || s.status == types.StatusSyncing ||
		(s.status == types.StatusError && s.runCtx != nil) {
		s.mu.Unlock()
		return nil
	}
	s.runCtx = stopper.New(ctx)
	s.status = types.StatusIdle
	s.mu.Unlock()

	s.state.SetSyncStatus(types.StatusIdle)
	s.runCtx.Go(func() error {
		s.loop(s.runCtx)
		return nil
	})
	return nil
}

func (s *Scheduler) stop() error {
	s.mu.Lock()
	runCtx := s.runCtx
	if runCtx == nil {
		s.mu.Unlock()
		return nil
	}
	s.status = types.StatusDisabling
	s.mu.Unlock()
	s.state.SetSyncStatus(types.StatusDisabling)

	if err := runCtx.StopAndWait(); err != nil {
		log.WithError(err).Warn("sync scheduler loop exited with error")
	}

	s.mu.Lock()
	s.runCtx = nil
	s.status = types.StatusDisabled
	s.mu.Unlock()
	s.state.SetSyncStatus(types.StatusDisabled)
	return nil
}

// loop runs sync_once, sleeps for interval, and repeats until runCtx is
// stopped. With a zero interval it runs sync_once once and then waits
// for runCtx to stop; later cycles come only from Trigger, which runs
// them on its own goroutine.
func (s *Scheduler) loop(runCtx *stopper.Context) {
	for {
		s.syncOnce(runCtx)

		select {
		case <-runCtx.Stopping():
			return
		default:
		}

		if s.interval <= 0 {
			select {
			case <-runCtx.Stopping():
				return
			case <-runCtx.Done():
				return
			}
		}
		if err := stopper.Sleep(runCtx, s.interval); err != nil {
			return
		}
		select {
		case <-runCtx.Stopping():
			return
		default:
		}
	}
}

// Trigger requests an out-of-band sync_once, e.g. in response to a
// local mutation while enabled. It is a no-op while Disabled/Disabling.
// If a cycle is already running, the request is coalesced: the running
// cycle notices the flag once it finishes and immediately runs another.
func (s *Scheduler) Trigger(ctx context.Context) {
	s.mu.Lock()
	runCtx := s.runCtx
	status := s.status
	if runCtx == nil || status == types.StatusDisabling {
		s.mu.Unlock()
		return
	}
	if s.inSyncOnce {
		s.coalesce = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	runCtx.Go(func() error {
		s.syncOnce(runCtx)
		return nil
	})
}

// syncOnce implements the body of §4.9's sync_once: if a cycle is
// already running, it records the coalescing flag and returns; the
// running cycle's own completion handling notices the flag and loops
// again without the caller needing to wait.
func (s *Scheduler) syncOnce(ctx context.Context) {
	s.mu.Lock()
	if s.inSyncOnce {
		s.coalesce = true
		s.mu.Unlock()
		return
	}
	s.inSyncOnce = true
	s.status = types.StatusSyncing
	s.mu.Unlock()
	s.state.SetSyncStatus(types.StatusSyncing)

	for {
		stop := metrics.ObserveDuration(metrics.SyncCycleDuration)
		err := s.runCycle(ctx)
		stop()

		if err != nil {
			metrics.SyncCycles.WithLabelValues("error").Inc()
			log.WithError(err).Error("sync cycle failed")
			s.state.SetAPIError(types.ClassifyAPIError(err))
		} else {
			metrics.SyncCycles.WithLabelValues("ok").Inc()
			s.state.SetAPIError(nil)
		}

		s.mu.Lock()
		again := s.coalesce
		s.coalesce = false
		if !again {
			s.inSyncOnce = false
			if err != nil {
				s.status = types.StatusError
			} else {
				s.status = types.StatusIdle
			}
			finalStatus := s.status
			s.mu.Unlock()
			s.state.SetSyncStatus(finalStatus)
			return
		}
		s.mu.Unlock()
	}
}

// runCycle runs pull then push, per the "pull always precedes push"
// ordering guarantee of §5.
func (s *Scheduler) runCycle(ctx context.Context) error {
	if err := s.pull.Run(ctx); err != nil {
		return err
	}
	return s.push.Run(ctx)
}

// SubscribeMutations wires the scheduler to hub, triggering a
// debounced sync_once whenever a local add/update/delete mutation
// fires while enabled (§4.9). Pull-originated events are ignored to
// avoid a pull cycle immediately re-triggering itself.
func (s *Scheduler) SubscribeMutations(hub interface {
	Subscribe(fn func(types.MutationEvent)) notify.Unsubscribe
}) {
	s.mutations = hub.Subscribe(func(ev types.MutationEvent) {
		if ev.Type == types.MutationPull {
			return
		}
		s.Trigger(context.Background())
	})
}

// OnVisibilityChange pauses the cycle loop when the host becomes
// hidden and resumes it when it becomes visible again, per §4.9's
// visibility-change transition. It is a no-op while Disabled.
func (s *Scheduler) OnVisibilityChange(ctx context.Context, hidden bool) error {
	s.mu.Lock()
	wantEnabled := s.wantEnabled
	s.mu.Unlock()
	if !wantEnabled {
		return nil
	}
	if hidden {
		return s.stop()
	}
	return s.start(ctx)
}

// Close unsubscribes from mutation events and stops the loop if still
// running, for use during the engine's own shutdown sequence (§5).
func (s *Scheduler) Close() error {
	if s.mutations != nil {
		s.mutations()
	}
	return s.stop()
}
