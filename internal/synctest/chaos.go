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

// Package synctest collects test-only helpers for exercising the sync
// engine against an unreliable remote. WithChaos plays the role the
// teacher's logical.WithChaos plays for its Dialect: a delegating
// decorator that injects failures at a configurable rate so pull/push
// retry and error-propagation paths can be driven without a live flaky
// server.
package synctest

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/riftsync/riftsync/internal/types"
)

// ErrChaos is the error injected by a chaos-wrapped Transport.
var ErrChaos = errors.New("chaos")

// WithChaos returns a Transport that randomly fails each call with
// probability prob before delegating to transport. A prob of zero or
// less returns transport unchanged.
func WithChaos(transport types.Transport, prob float32) types.Transport {
	if prob <= 0 {
		return transport
	}
	return &chaosTransport{delegate: transport, prob: prob}
}

type chaosTransport struct {
	delegate types.Transport
	prob     float32
}

var _ types.Transport = (*chaosTransport)(nil)

func (t *chaosTransport) fails() bool { return rand.Float32() < t.prob }

func (t *chaosTransport) Add(ctx context.Context, item types.Record) (*types.AddResult, error) {
	if t.fails() {
		return nil, doChaos("Add")
	}
	return t.delegate.Add(ctx, item)
}

func (t *chaosTransport) Update(ctx context.Context, serverID any, changes, after types.Record) (bool, error) {
	if t.fails() {
		return false, doChaos("Update")
	}
	return t.delegate.Update(ctx, serverID, changes, after)
}

func (t *chaosTransport) Remove(ctx context.Context, serverID any) error {
	if t.fails() {
		return doChaos("Remove")
	}
	return t.delegate.Remove(ctx, serverID)
}

func (t *chaosTransport) List(ctx context.Context, since string) ([]types.Record, error) {
	if t.fails() {
		return nil, doChaos("List")
	}
	return t.delegate.List(ctx, since)
}

func (t *chaosTransport) FirstLoadPerTable(ctx context.Context, lastID any) ([]types.Record, error) {
	if t.fails() {
		return nil, doChaos("FirstLoadPerTable")
	}
	return t.delegate.FirstLoadPerTable(ctx, lastID)
}

// WithBatchChaos is the types.BatchTransport counterpart of WithChaos.
func WithBatchChaos(transport types.BatchTransport, prob float32) types.BatchTransport {
	if prob <= 0 {
		return transport
	}
	return &chaosBatchTransport{delegate: transport, prob: prob}
}

type chaosBatchTransport struct {
	delegate types.BatchTransport
	prob     float32
}

var _ types.BatchTransport = (*chaosBatchTransport)(nil)

func (t *chaosBatchTransport) fails() bool { return rand.Float32() < t.prob }

func (t *chaosBatchTransport) SyncTables() []string { return t.delegate.SyncTables() }

func (t *chaosBatchTransport) Pull(ctx context.Context, since map[string]string) (map[string][]types.Record, error) {
	if t.fails() {
		return nil, doChaos("Pull")
	}
	return t.delegate.Pull(ctx, since)
}

func (t *chaosBatchTransport) Push(ctx context.Context, changes []types.PushItem) ([]types.PushResult, error) {
	if t.fails() {
		return nil, doChaos("Push")
	}
	return t.delegate.Push(ctx, changes)
}

func (t *chaosBatchTransport) FirstLoad(ctx context.Context, cursors map[string]any) (*types.FirstLoadBatchResult, error) {
	if t.fails() {
		return nil, doChaos("FirstLoad")
	}
	return t.delegate.FirstLoad(ctx, cursors)
}

func doChaos(call string) error {
	return errors.WithMessage(ErrChaos, call)
}
