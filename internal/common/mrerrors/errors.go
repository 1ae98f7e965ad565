// Package mrerrors contains the error types shared by the catalog, the worker pool and the processor.
// The command line maps these types onto process exit codes via ExitCode, looking through wrapped errors
// with errors.As.
//
// If multiple errors occur in some function (e.g., a catalog file with several malformed samples), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package mrerrors

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrPoolClosed is returned for tasks submitted to, or still queued in, a pool that is shutting down.
var ErrPoolClosed = errors.New("worker pool is closed")

// ErrCatalog is returned when a catalog definition is malformed, e.g., a leaf sample without files.
// Path identifies the offending sample as period/name/name...
type ErrCatalog struct {
	Path    string
	Message string
}

func (err *ErrCatalog) Error() string {
	if err.Path == "" {
		return fmt.Sprintf("catalog error: %s", err.Message)
	}
	return fmt.Sprintf("catalog error in %s: %s", err.Path, err.Message)
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found,
// e.g., a period or sample name requested for processing.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("%s %q does not exist", err.Type, err.Value)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "maxWorkers"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	} else {
		return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
	}
}

// ErrTaskFailed is returned when a map task fails, either because the analysis returned an error
// or because the worker executing it crashed.
type ErrTaskFailed struct {
	Key      string // Key of the leaf sample the task was computing
	WorkerId string // Worker the task ran on, empty if it never started
	Cause    error
}

func (err *ErrTaskFailed) Error() string {
	if err.WorkerId == "" {
		return fmt.Sprintf("task for sample %s failed: %s", err.Key, err.Cause)
	}
	return fmt.Sprintf("task for sample %s failed on worker %s: %s", err.Key, err.WorkerId, err.Cause)
}

func (err *ErrTaskFailed) Unwrap() error {
	return err.Cause
}

// ErrReduction is returned when the child results of a sample group cannot be combined,
// e.g., the same key holds a histogram in one child and a number in another.
type ErrReduction struct {
	Path    string // Key of the sample group being reduced
	Key     string // Result key that could not be merged
	Message string
}

func (err *ErrReduction) Error() string {
	if err.Path == "" {
		return fmt.Sprintf("cannot merge %q: %s", err.Key, err.Message)
	}
	return fmt.Sprintf("cannot merge %q for %s: %s", err.Key, err.Path, err.Message)
}

// ErrInvalidState is returned when an operation is not allowed in the current state of a component.
type ErrInvalidState struct {
	Component string
	State     string
	Operation string
}

func (err *ErrInvalidState) Error() string {
	return fmt.Sprintf("%s cannot %s while %s", err.Component, err.Operation, err.State)
}

// ErrWorkerUnavailable is returned when a worker could not be acquired from the local machine or the batch system.
type ErrWorkerUnavailable struct {
	Message string
	Cause   error
}

func (err *ErrWorkerUnavailable) Error() string {
	if err.Cause == nil {
		return fmt.Sprintf("worker unavailable: %s", err.Message)
	}
	return fmt.Sprintf("worker unavailable: %s: %s", err.Message, err.Cause)
}

func (err *ErrWorkerUnavailable) Unwrap() error {
	return err.Cause
}

// Exit codes returned by the command line for the different error classes.
const (
	ExitOK              = 0
	ExitUnknown         = 1
	ExitInvalidArgument = 2
	ExitCatalog         = 3
	ExitNotFound        = 4
	ExitTaskFailed      = 5
	ExitReduction       = 6
	ExitInfrastructure  = 7
	ExitCancelled       = 130
)

// ExitCode maps error types to process exit codes.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
// A multierror is classified by its first error.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var merr *multierror.Error
	if errors.As(err, &merr) && len(merr.Errors) > 0 {
		return ExitCode(merr.Errors[0])
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return ExitInvalidArgument
		}
	}
	{
		var e *ErrCatalog
		if errors.As(err, &e) {
			return ExitCatalog
		}
	}
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return ExitNotFound
		}
	}
	{
		var e *ErrReduction
		if errors.As(err, &e) {
			return ExitReduction
		}
	}
	{
		var e *ErrWorkerUnavailable
		if errors.As(err, &e) {
			return ExitInfrastructure
		}
	}
	{
		var e *ErrTaskFailed
		if errors.As(err, &e) {
			return ExitTaskFailed
		}
	}
	if errors.Is(err, context.Canceled) {
		return ExitCancelled
	}
	if errors.Is(err, ErrPoolClosed) {
		return ExitInfrastructure
	}
	return ExitUnknown
}
