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

package types

import "github.com/pkg/errors"

// StorageError wraps a failure from a storage backend (schema,
// constraint, I/O). It is fatal to the current operation and rolls back
// the enclosing transaction (§7).
type StorageError struct {
	Op    string
	Table string
	Cause error
}

func (e *StorageError) Error() string {
	if e.Table != "" {
		return "storage: " + e.Op + " on " + e.Table + ": " + e.Cause.Error()
	}
	return "storage: " + e.Op + ": " + e.Cause.Error()
}

func (e *StorageError) Unwrap() error { return e.Cause }

// NewStorageError wraps cause as a StorageError, attaching a stack trace
// if it doesn't already carry one.
func NewStorageError(op, table string, cause error) error {
	if cause == nil {
		return nil
	}
	return &StorageError{Op: op, Table: table, Cause: errors.WithStack(cause)}
}

// ApiError wraps a remote-call failure, classified network vs other
// (§7). It is not fatal: the scheduler records it and continues on the
// next cycle.
type ApiError struct {
	Kind  ApiErrorKind
	Cause error
}

func (e *ApiError) Error() string {
	if e.Kind == ApiErrorNetwork {
		return "api (network): " + e.Cause.Error()
	}
	return "api: " + e.Cause.Error()
}

func (e *ApiError) Unwrap() error { return e.Cause }

// NewApiError wraps cause, classifying it network vs other.
func NewApiError(kind ApiErrorKind, cause error) error {
	if cause == nil {
		return nil
	}
	return &ApiError{Kind: kind, Cause: errors.WithStack(cause)}
}

// IsApiError reports whether err (or something it wraps) is an ApiError.
func IsApiError(err error) (*ApiError, bool) {
	var apiErr *ApiError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// ClassifyAPIError turns any non-nil error into the ApiErrorInfo the
// observable state surfaces, preserving the ApiError's Kind when err is
// one and falling back to ApiErrorOther otherwise. Every caller that
// records a failure into ObservableState.ApiError (the scheduler's
// sync cycle, first load) shares this so the two report failures the
// same way.
func ClassifyAPIError(err error) *ApiErrorInfo {
	if err == nil {
		return nil
	}
	if apiErr, ok := IsApiError(err); ok {
		return &ApiErrorInfo{Kind: apiErr.Kind, Message: apiErr.Error()}
	}
	return &ApiErrorInfo{Kind: ApiErrorOther, Message: err.Error()}
}

// LogicError indicates a fatal, non-retryable programming or schema
// error: a reserved column name, a missing primary key, a duplicate
// first-load page (§7).
type LogicError struct {
	Msg string
}

func (e *LogicError) Error() string { return "logic error: " + e.Msg }

// NewLogicError constructs a LogicError with a formatted message.
func NewLogicError(msg string) error {
	return &LogicError{Msg: msg}
}

// IsLogicError reports whether err (or something it wraps) is a
// LogicError.
func IsLogicError(err error) (*LogicError, bool) {
	var logicErr *LogicError
	ok := errors.As(err, &logicErr)
	return logicErr, ok
}

// ErrDuplicateFirstLoadPage is wrapped into a LogicError by the
// first-load engine when the same cursor is observed on two successive
// pages (S6).
var ErrDuplicateFirstLoadPage = errors.New("duplicate first-load page: cursor did not advance")

// ErrRecordNotFound is returned by Table.Get-adjacent helpers when a
// local_id has no corresponding row. It is not itself a StorageError:
// callers decide whether a miss is expected.
var ErrRecordNotFound = errors.New("record not found")

// ErrReservedTable is a LogicError cause for attempts to register the
// internal state table as a user sync table.
var ErrReservedTable = errors.New("table name is reserved for internal sync state")
