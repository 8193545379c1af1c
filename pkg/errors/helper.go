// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	stderrors "errors"

	"github.com/pingcap/errors"
)

// Re-export some common functions from github.com/pingcap/errors.
var (
	New         = errors.New
	Errorf      = errors.Errorf
	Trace       = errors.Trace
	Annotate    = errors.Annotate
	Annotatef   = errors.Annotatef
	Cause       = errors.Cause
	Is          = stderrors.Is
	As          = stderrors.As
	ErrorStack  = errors.ErrorStack
	WithMessage = errors.WithMessage
)

// WrapError generates a new error based on given `*errors.Error`, wraps the err
// as cause error.
// If given `err` is nil, returns a nil error, which a the different behavior
// against `Wrap` function in pingcap/errors.
func WrapError(rfcError *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return rfcError.Wrap(err).GenWithStackByCause(args...)
}

// RFCCode returns the RFC code of the normalized error carried by err, or an
// empty string if err isn't a normalized error.
func RFCCode(err error) errors.RFCErrorCode {
	var rfcErr *errors.Error
	if stderrors.As(err, &rfcErr) {
		return rfcErr.RFCCode()
	}
	return ""
}

// IsModelNotFound returns true if err is a resolution error.
func IsModelNotFound(err error) bool {
	return ErrModelNotFound.Equal(errors.Cause(err)) || stderrors.Is(err, ErrModelNotFound)
}

// IsRetryable returns false for errors that can't be fixed by running the
// same activity again with the same inputs.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, nonRetryable := range []*errors.Error{
		ErrModelNotFound,
		ErrModelCycle,
		ErrSelectorInvalid,
		ErrInvalidModelIdentifier,
		ErrInvalidArgument,
		ErrJobAlreadyTerminated,
		ErrRunCancelled,
	} {
		if stderrors.Is(err, nonRetryable) {
			return false
		}
	}
	return true
}
