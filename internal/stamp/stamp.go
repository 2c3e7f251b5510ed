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

// Package stamp provides a comparable representation of the ISO-8601
// updated_at watermarks used throughout the sync engine. It plays the
// same role that an HLC timestamp plays in a changefeed pipeline: a
// monotonically-comparable marker of "how far have we gotten."
package stamp

import (
	"time"

	"github.com/pkg/errors"
)

// A Stamp is a parsed ISO-8601 timestamp that can be compared and
// serialized back to its canonical string form.
type Stamp struct {
	t time.Time
}

// Zero returns the stamp that compares less than any non-zero stamp.
func Zero() Stamp { return Stamp{} }

// Parse decodes an ISO-8601 (RFC3339) timestamp string. An empty string
// parses to the Zero stamp.
func Parse(s string) (Stamp, error) {
	if s == "" {
		return Zero(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Stamp{}, errors.Wrapf(err, "parsing watermark %q", s)
	}
	return Stamp{t: t.UTC()}, nil
}

// New constructs a Stamp from a time.Time.
func New(t time.Time) Stamp {
	return Stamp{t: t.UTC()}
}

// Now returns a Stamp for the current instant, truncated to millisecond
// precision so round-tripping through string serialization is lossless.
func Now() Stamp {
	return Stamp{t: time.Now().UTC().Truncate(time.Millisecond)}
}

// IsZero reports whether s is the Zero stamp.
func (s Stamp) IsZero() bool { return s.t.IsZero() }

// String renders the stamp as RFC3339Nano, the wire format for
// updated_at.
func (s Stamp) String() string {
	if s.IsZero() {
		return ""
	}
	return s.t.Format(time.RFC3339Nano)
}

// Time returns the underlying time.Time.
func (s Stamp) Time() time.Time { return s.t }

// Compare returns -1, 0, or 1 as a is before, equal to, or after b.
func Compare(a, b Stamp) int {
	switch {
	case a.t.Before(b.t):
		return -1
	case a.t.After(b.t):
		return 1
	default:
		return 0
	}
}

// Max returns whichever of a, b compares greater.
func Max(a, b Stamp) Stamp {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}
