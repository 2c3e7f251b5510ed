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

// Package stopper provides a supervised-goroutine context: a
// context.Context that also tracks the goroutines launched under it so
// that a caller can request a clean shutdown and wait for every one of
// them to actually exit. The sync scheduler's cancellable cycle loop and
// the SQL driver's background connections are both built on this.
package stopper

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// A Context wraps a context.Context with goroutine supervision. The
// zero value is not usable; construct one with New.
type Context struct {
	context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping chan struct{}
	stopOnce sync.Once
	firstErr error
}

// New returns a Context derived from parent. Call Stop to begin a
// graceful shutdown and Wait to block until all supervised goroutines
// have returned.
func New(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		Context:  ctx,
		cancel:   cancel,
		stopping: make(chan struct{}),
	}
}

// Go launches fn in a supervised goroutine. If fn returns a non-nil
// error, it is recorded as the Context's first error and Stop is called
// so sibling goroutines begin winding down.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			c.mu.Lock()
			if c.firstErr == nil {
				c.firstErr = err
			}
			c.mu.Unlock()
			c.Stop()
		}
	}()
}

// Stopping returns a channel that is closed when Stop is first called.
// Long-running loops should select on this (or on Done(), which closes
// slightly later once the context itself is canceled) to notice a
// shutdown request.
func (c *Context) Stopping() <-chan struct{} {
	return c.stopping
}

// Stop requests a graceful shutdown: Stopping's channel closes
// immediately, and the underlying context.Context is canceled.
func (c *Context) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopping)
		c.cancel()
	})
}

// Wait blocks until every goroutine started with Go has returned. It
// does not itself call Stop.
func (c *Context) Wait() error {
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstErr
}

// StopAndWait is a convenience for the common close-down sequence: Stop
// followed by Wait.
func (c *Context) StopAndWait() error {
	c.Stop()
	return c.Wait()
}

// Sleep blocks for the duration or until the Context is stopped,
// whichever comes first. It returns an error only if the context's own
// deadline/cancellation (not Stop) fired without a Stop ever occurring,
// mirroring context.Context.Err() semantics for cancellable sleeps.
func Sleep(c *Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.Stopping():
		return nil
	case <-timer.C:
		return nil
	case <-c.Done():
		select {
		case <-c.Stopping():
			return nil
		default:
		}
		return errors.WithStack(c.Err())
	}
}
