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

//go:build wireinject
// +build wireinject

package wire

import (
	"github.com/google/wire"

	"github.com/riftsync/riftsync/internal/stopper"
	rsync "github.com/riftsync/riftsync/sync"
)

// Inject builds a *sync.Engine from cfg: opens the configured storage
// backend, hydrates persisted state, and hands back a cleanup that tears
// the backend down again. `go generate ./...` regenerates wire_gen.go
// from this file; it is never itself compiled (see the build tag above).
func Inject(ctx *stopper.Context, cfg *Config) (*rsync.Engine, func(), error) {
	panic(wire.Build(
		ProvideBackend,
		ProvideEngineConfig,
		ProvideEngine,
	))
}
