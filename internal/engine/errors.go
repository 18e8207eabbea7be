package engine

import (
	"errors"
	"fmt"

	"github.com/seantiz/enginehost/internal/model"
)

var (
	// ErrThreadAffinity marks a call made off its required thread. It is a
	// programming error and is never retried.
	ErrThreadAffinity = errors.New("thread affinity violation")

	// ErrInvalidLifecycleState marks an operation that is not valid in the
	// current engine state.
	ErrInvalidLifecycleState = errors.New("invalid lifecycle state")

	// ErrInitialization marks a failed engine start.
	ErrInitialization = errors.New("engine initialization failed")

	// ErrDispatchRejected is returned by Invoke when the target thread does
	// not accept work. Post and PostDelayed report the same condition as false.
	ErrDispatchRejected = errors.New("dispatch rejected")

	// ErrDrainTimeout is reported by DrainResult.Err when outstanding
	// disposables remained at the deadline. Shutdown proceeds regardless.
	ErrDrainTimeout = errors.New("drain timed out")

	// ErrAlreadyResolved is returned when an initialization ticket is settled twice.
	ErrAlreadyResolved = errors.New("initialization already resolved")

	// ErrNotSettled is returned by Future.Err while the result is unknown.
	ErrNotSettled = errors.New("initialization not settled")

	// ErrAlreadyInstalled is returned by Install after a runtime was installed.
	ErrAlreadyInstalled = errors.New("runtime already installed")
)

// InitError describes a failed engine start.
type InitError struct {
	// Code is the engine exit code observed after the failure.
	Code model.ResultCode
	Err  error
}

func (e *InitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", ErrInitialization, e.Code)
	}
	return fmt.Sprintf("%s (%s): %v", ErrInitialization, e.Code, e.Err)
}

// Is lets errors.Is match ErrInitialization.
func (e *InitError) Is(target error) bool {
	return target == ErrInitialization
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// StateError reports an operation attempted in the wrong lifecycle state.
type StateError struct {
	Op    string
	State model.EngineState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s not allowed in state %s", ErrInvalidLifecycleState, e.Op, e.State)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidLifecycleState
}

func threadError(op string, want model.ThreadID) error {
	return fmt.Errorf("%w: %s must be called on the %s thread", ErrThreadAffinity, op, want)
}
