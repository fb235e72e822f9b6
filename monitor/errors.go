package monitor

import (
	"github.com/pkg/errors"
)

var (
	// ErrFailure is a generic failure: worker spawn failure, native
	// registration failure.
	ErrFailure = errors.New("monitor failure")

	// ErrInvalidArgument is returned when variant-specific arguments are
	// malformed.
	ErrInvalidArgument = errors.New("invalid monitor argument")

	// ErrOutOfMemory is kept for parity with the result codes surfaced to
	// collaborators. The Go runtime does not report allocation failures, so
	// nothing in this package returns it.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrInvalidMonitorKind is returned for an unknown monitor selector.
	ErrInvalidMonitorKind = errors.New("invalid monitor kind")

	// ErrNotInitialized is returned for operations on a nil, destroyed or
	// discarded monitor.
	ErrNotInitialized = errors.New("monitor not initialized")

	// ErrInvalidState is returned when an operation is attempted outside of
	// the state it requires.
	ErrInvalidState = errors.New("invalid monitor state for operation")
)

// ResultCode is the numeric result surfaced to collaborators such as the
// command line front end.
type ResultCode int

const (
	CodeSuccess            ResultCode = 0
	CodeFailure            ResultCode = 1
	CodeInvalidArgument    ResultCode = 2
	CodeOutOfMemory        ResultCode = 3
	CodeInvalidMonitorKind ResultCode = 4
	CodeNotInitialized     ResultCode = 5
	CodeInvalidState       ResultCode = 7
)

// Code maps an error returned by this package to its result code. Errors
// that do not wrap one of the sentinels map to CodeFailure.
func Code(err error) ResultCode {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrOutOfMemory):
		return CodeOutOfMemory
	case errors.Is(err, ErrInvalidMonitorKind):
		return CodeInvalidMonitorKind
	case errors.Is(err, ErrNotInitialized):
		return CodeNotInitialized
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	default:
		return CodeFailure
	}
}
