package lavdgo

import (
	"errors"

	"github.com/lavdgo/lavdgo/internal/errdom"
)

// Error is the public, init-time/controller-surfaced error type (spec.md
// §7's propagation rule: "errors in the hot path never propagate; they
// are recorded as counters. Errors at init propagate to the entry
// point."). It is a thin re-export of errdom.Error -- the internal
// packages already construct and wrap errdom.Error values, this type
// just gives callers outside internal/ a name for it.
type Error = errdom.Error

// Code is the error taxonomy of spec.md §7: TransientResource,
// ClassificationUncertainty, ConfigurationError, InfrastructureFailure,
// ClockSkew.
type Code = errdom.Code

const (
	CodeTransientResource         = errdom.CodeTransientResource
	CodeClassificationUncertainty = errdom.CodeClassificationUncertainty
	CodeConfigurationError        = errdom.CodeConfigurationError
	CodeInfrastructureFailure     = errdom.CodeInfrastructureFailure
	CodeClockSkew                 = errdom.CodeClockSkew
)

// New constructs an *Error, matching errdom.New's signature so callers
// outside internal/ don't need to import it directly.
func New(code Code, op, msg string) *Error {
	return errdom.New(code, op, msg)
}

// Wrap attaches op/code context to an existing error. Returns nil if
// err is nil.
func Wrap(code Code, op string, err error) *Error {
	return errdom.Wrap(code, op, err)
}

// IsCode reports whether err is (or wraps) an *Error with the given
// code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
