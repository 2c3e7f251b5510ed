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

// Package memstore is the reference in-memory implementation of the
// storage interface (§4.2): every table is a map from local_id to
// record, guarded by a per-table mutex, and every WhereClause/Collection
// operator is evaluated directly against the value domain.
package memstore

import (
	"fmt"
	"strings"
	"time"
)

// orderClass assigns the total-order rank used when comparing values of
// different kinds: null < false < true < numbers < strings < arrays
// (§4.2).
func orderClass(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		if !t {
			return 1
		}
		return 2
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return 3
	case string:
		return 4
	case []any:
		return 5
	default:
		return 4 // unknown scalar kinds fold in with strings via %v
	}
}

// normalize converts a raw record value into the canonical comparable
// form: undefined/nil stays nil, time.Time becomes its epoch-millisecond
// value, and numeric kinds become float64.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return float64(t.UnixMilli())
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func asFloat(v any) (float64, bool) {
	f, ok := normalize(v).(float64)
	return f, ok
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// compare implements the §4.2 total order. It returns -1, 0, or 1.
func compare(a, b any) int {
	a, b = normalize(a), normalize(b)
	ca, cb := orderClass(a), orderClass(b)
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}
	switch ca {
	case 0, 1, 2:
		return 0 // null, false, true are each a single value within their class
	case 3:
		fa, _ := asFloat(a)
		fb, _ := asFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case 5:
		arrA, _ := a.([]any)
		arrB, _ := b.([]any)
		for i := 0; i < len(arrA) && i < len(arrB); i++ {
			if c := compare(arrA[i], arrB[i]); c != 0 {
				return c
			}
		}
		return compare(float64(len(arrA)), float64(len(arrB)))
	default:
		sa := stringify(a)
		sb := stringify(b)
		return strings.Compare(sa, sb)
	}
}

func stringify(v any) string {
	if s, ok := asString(v); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// equalFold compares two values for equality, folding case when both
// sides are strings.
func equalFold(a, b any, ignoreCase bool) bool {
	if ignoreCase {
		sa, aIsStr := asString(a)
		sb, bIsStr := asString(b)
		if aIsStr && bIsStr {
			return strings.EqualFold(sa, sb)
		}
	}
	return compare(a, b) == 0
}
