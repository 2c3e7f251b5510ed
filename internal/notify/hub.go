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

package notify

import (
	"sort"
	"sync"
)

// Unsubscribe removes a listener previously registered with a Hub.
type Unsubscribe func()

// A Hub fans a value of type T out to any number of explicitly
// subscribed listener functions. Unlike Var, listeners are called
// synchronously and in subscription order from whatever goroutine calls
// Publish; it is used where observers need every event (mutation events,
// state-change snapshots), not just the latest value.
type Hub[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]func(T)
}

// Subscribe registers fn to be called on every future Publish. The
// returned Unsubscribe removes it; calling it more than once is a no-op.
func (h *Hub[T]) Subscribe(fn func(T)) Unsubscribe {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listeners == nil {
		h.listeners = make(map[uint64]func(T))
	}
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.listeners, id)
		})
	}
}

// Publish calls every currently-subscribed listener with value, in
// subscription order. Listeners registered or removed during Publish do
// not affect the current call.
func (h *Hub[T]) Publish(value T) {
	h.mu.Lock()
	ids := make([]uint64, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.listeners[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
}

// Len reports the current number of subscribed listeners; mainly useful
// in tests.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}
