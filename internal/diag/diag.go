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

// Package diag provides a registry of named health probes that the
// engine's components register themselves with, and that a /healthz
// handler can query without needing direct references to every
// component.
package diag

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// A Probe reports whether a component is currently healthy.
type Probe func(ctx context.Context) error

// Diagnostics is a named registry of Probes. The zero value is ready to
// use.
type Diagnostics struct {
	mu     sync.Mutex
	probes map[string]Probe
}

// Register adds a named probe. It is an error to register the same name
// twice, mirroring the teacher's fail-fast Register semantics.
func (d *Diagnostics) Register(name string, probe Probe) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.probes == nil {
		d.probes = make(map[string]Probe)
	}
	if _, found := d.probes[name]; found {
		return errors.Errorf("diagnostic %q already registered", name)
	}
	d.probes[name] = probe
	return nil
}

// Unregister removes a named probe, if present.
func (d *Diagnostics) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.probes, name)
}

// Result is the outcome of running a single probe.
type Result struct {
	Name string
	Err  error
}

// Check runs every registered probe and returns one Result per probe,
// sorted by name for deterministic output.
func (d *Diagnostics) Check(ctx context.Context) []Result {
	d.mu.Lock()
	names := make([]string, 0, len(d.probes))
	probes := make(map[string]Probe, len(d.probes))
	for name, p := range d.probes {
		names = append(names, name)
		probes[name] = p
	}
	d.mu.Unlock()

	sort.Strings(names)
	results := make([]Result, len(names))
	for i, name := range names {
		results[i] = Result{Name: name, Err: probes[name](ctx)}
	}
	return results
}

// Healthy reports whether every registered probe currently succeeds.
func (d *Diagnostics) Healthy(ctx context.Context) bool {
	for _, r := range d.Check(ctx) {
		if r.Err != nil {
			return false
		}
	}
	return true
}
