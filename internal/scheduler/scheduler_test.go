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

package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftsync/riftsync/internal/notify"
	"github.com/riftsync/riftsync/internal/scheduler"
	"github.com/riftsync/riftsync/internal/types"
)

// countingRunner satisfies both scheduler.Puller and scheduler.Pusher.
// blockOnFirst, if non-nil, is read from before the first call returns,
// letting a test hold the scheduler in Syncing to exercise coalescing.
type countingRunner struct {
	mu           sync.Mutex
	calls        int
	signal       chan struct{}
	blockOnFirst chan struct{}
	err          error
}

func (r *countingRunner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.calls++
	n := r.calls
	block := r.blockOnFirst
	r.mu.Unlock()

	if r.signal != nil {
		select {
		case r.signal <- struct{}{}:
		default:
		}
	}
	if n == 1 && block != nil {
		<-block
	}
	return r.err
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeStatus struct {
	mu        sync.Mutex
	statuses  []types.Status
	idleCount int
	idleAfter int
	idleCh    chan struct{}
	lastErr   *types.ApiErrorInfo
}

func (f *fakeStatus) SetSyncStatus(s types.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
	if s == types.StatusIdle {
		f.idleCount++
		if f.idleCh != nil && f.idleCount == f.idleAfter {
			close(f.idleCh)
			f.idleCh = nil
		}
	}
}

func (f *fakeStatus) SetAPIError(err *types.ApiErrorInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastErr = err
}

func waitOrTimeout(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal("timed out waiting for expected scheduler transition")
	}
}

func TestEnableRunsCycleThenIdles(t *testing.T) {
	puller := &countingRunner{}
	pusher := &countingRunner{}
	status := &fakeStatus{idleAfter: 2, idleCh: make(chan struct{})}
	sched := scheduler.New(puller, pusher, status, 0)

	require.NoError(t, sched.Enable(context.Background(), true))
	waitOrTimeout(t, status.idleCh, time.Second)

	assert.Equal(t, 1, puller.count())
	assert.Equal(t, 1, pusher.count())

	require.NoError(t, sched.Enable(context.Background(), false))
	assert.Equal(t, types.StatusDisabled, sched.Status())
}

func TestPushDoesNotRunWhenPullStillInFlight(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	puller := &countingRunner{signal: started, blockOnFirst: block}
	pusher := &countingRunner{}
	status := &fakeStatus{idleAfter: 2, idleCh: make(chan struct{})}
	sched := scheduler.New(puller, pusher, status, 0)

	require.NoError(t, sched.Enable(context.Background(), true))
	waitOrTimeout(t, started, time.Second)
	assert.Zero(t, pusher.count(), "push must not start before pull.Run returns")

	close(block)
	waitOrTimeout(t, status.idleCh, time.Second)
	require.NoError(t, sched.Enable(context.Background(), false))

	assert.Equal(t, 1, puller.count())
	assert.Equal(t, 1, pusher.count())
}

func TestTriggerCoalescesDuringSync(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	puller := &countingRunner{signal: started, blockOnFirst: block}
	pusher := &countingRunner{}
	status := &fakeStatus{idleAfter: 2, idleCh: make(chan struct{})}
	sched := scheduler.New(puller, pusher, status, 0)

	require.NoError(t, sched.Enable(context.Background(), true))
	waitOrTimeout(t, started, time.Second)

	// A trigger while the first cycle is mid-flight must coalesce
	// rather than run concurrently.
	sched.Trigger(context.Background())
	close(block)

	waitOrTimeout(t, status.idleCh, time.Second)
	require.NoError(t, sched.Enable(context.Background(), false))

	assert.Equal(t, 2, puller.count())
	assert.Equal(t, 2, pusher.count())
}

func TestSyncErrorSetsApiErrorAndSkipsPush(t *testing.T) {
	puller := &countingRunner{err: errors.New("boom")}
	pusher := &countingRunner{}
	status := &fakeStatus{idleAfter: 1, idleCh: make(chan struct{})}
	sched := scheduler.New(puller, pusher, status, 0)

	require.NoError(t, sched.Enable(context.Background(), true))

	deadline := time.After(time.Second)
	for {
		status.mu.Lock()
		lastErr := status.lastErr
		status.mu.Unlock()
		if lastErr != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for api error to be recorded")
		case <-time.After(time.Millisecond):
		}
	}
	require.NoError(t, sched.Enable(context.Background(), false))

	assert.Zero(t, pusher.count(), "push should not run when pull fails")
}

func TestMutationEventTriggersSyncOnce(t *testing.T) {
	puller := &countingRunner{}
	pusher := &countingRunner{}
	status := &fakeStatus{idleAfter: 2, idleCh: make(chan struct{})}
	sched := scheduler.New(puller, pusher, status, 0)
	hub := &notify.Hub[types.MutationEvent]{}
	sched.SubscribeMutations(hub)

	require.NoError(t, sched.Enable(context.Background(), true))
	waitOrTimeout(t, status.idleCh, time.Second)

	hub.Publish(types.MutationEvent{Type: types.MutationAdd, Table: "widgets", Keys: []string{"l1"}})

	deadline := time.After(time.Second)
	for puller.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for mutation-triggered cycle")
		case <-time.After(time.Millisecond):
		}
	}
	require.NoError(t, sched.Enable(context.Background(), false))
}

func TestPullEventDoesNotTriggerSyncOnce(t *testing.T) {
	puller := &countingRunner{}
	pusher := &countingRunner{}
	status := &fakeStatus{idleAfter: 2, idleCh: make(chan struct{})}
	sched := scheduler.New(puller, pusher, status, 0)
	hub := &notify.Hub[types.MutationEvent]{}
	sched.SubscribeMutations(hub)

	require.NoError(t, sched.Enable(context.Background(), true))
	waitOrTimeout(t, status.idleCh, time.Second)

	hub.Publish(types.MutationEvent{Type: types.MutationPull, Table: "widgets"})
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sched.Enable(context.Background(), false))

	assert.Equal(t, 1, puller.count())
}

func TestVisibilityChangePausesAndResumesLoop(t *testing.T) {
	puller := &countingRunner{}
	pusher := &countingRunner{}
	status := &fakeStatus{idleAfter: 2, idleCh: make(chan struct{})}
	sched := scheduler.New(puller, pusher, status, 0)

	require.NoError(t, sched.Enable(context.Background(), true))
	waitOrTimeout(t, status.idleCh, time.Second)

	require.NoError(t, sched.OnVisibilityChange(context.Background(), true))
	assert.Equal(t, types.StatusDisabled, sched.Status())

	status.mu.Lock()
	status.idleAfter = status.idleCount + 2
	status.idleCh = make(chan struct{})
	resumeCh := status.idleCh
	status.mu.Unlock()

	require.NoError(t, sched.OnVisibilityChange(context.Background(), false))
	waitOrTimeout(t, resumeCh, time.Second)
	require.NoError(t, sched.Enable(context.Background(), false))
}

func TestEnableIsIdempotent(t *testing.T) {
	puller := &countingRunner{}
	pusher := &countingRunner{}
	status := &fakeStatus{idleAfter: 2, idleCh: make(chan struct{})}
	sched := scheduler.New(puller, pusher, status, 0)

	require.NoError(t, sched.Enable(context.Background(), true))
	require.NoError(t, sched.Enable(context.Background(), true))
	waitOrTimeout(t, status.idleCh, time.Second)
	require.NoError(t, sched.Enable(context.Background(), false))
	require.NoError(t, sched.Enable(context.Background(), false))
	assert.Equal(t, types.StatusDisabled, sched.Status())
}
