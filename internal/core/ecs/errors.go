package ecs

import (
	"errors"
	"fmt"

	"github.com/zeusync/nucleus/internal/core/ecs/scheduler"
)

var (
	ErrComponentNotFound     = errors.New("component not found")
	ErrComponentTypeMismatch = errors.New("component type mismatch")
	ErrBorrowConflict        = errors.New("component borrow conflict")
	ErrDuplicateComponent    = errors.New("component already registered")
	ErrDuplicateSystem       = errors.New("system already registered")
	ErrSystemNotFound        = errors.New("system not found")
	ErrUnknownComponent      = errors.New("snapshot references an unregistered component")
	ErrInvalidSnapshot       = errors.New("invalid snapshot")
	ErrTooManyComponents     = errors.New("component id space exhausted")
)

var (
	ErrStageNotFound       = scheduler.ErrStageNotFound
	ErrDuplicateStage      = scheduler.ErrDuplicateStage
	ErrStageBudgetExceeded = scheduler.ErrStageBudgetExceeded
)

// ResolverError reports a failure while setting up a system. The system is
// not registered.
type ResolverError struct {
	System string
	Err    error
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("resolve system %q: %v", e.System, e.Err)
}

func (e *ResolverError) Unwrap() error {
	return e.Err
}
