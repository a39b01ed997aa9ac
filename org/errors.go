package org

import (
	"errors"
	"fmt"
)

// Integrity faults. These indicate corrupt reference data and abort the
// operation that hit them; they are never user errors.
var (
	ErrCycle           = errors.New("department hierarchy contains a cycle")
	ErrUnknownParent   = errors.New("department parent does not exist")
	ErrUnknownCategory = errors.New("unknown department category")
	ErrDuplicateDept   = errors.New("duplicate department id")
)

// Lookup failures.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDepartmentNotFound = errors.New("department not found")
)

// CycleError names a department whose parent chain loops back on itself.
type CycleError struct {
	Department DepartmentID
	Path       []DepartmentID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("department hierarchy contains a cycle at %s (path %v)", e.Department, e.Path)
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// CategoryError is returned when stored data carries a category outside the
// closed set.
type CategoryError struct {
	Department DepartmentID
	Code       string
}

func (e *CategoryError) Error() string {
	if e.Department == "" {
		return fmt.Sprintf("unknown department category %q", e.Code)
	}
	return fmt.Sprintf("department %s has unknown category %q", e.Department, e.Code)
}

func (e *CategoryError) Unwrap() error { return ErrUnknownCategory }

// IsIntegrityFault reports whether err comes from malformed reference data.
func IsIntegrityFault(err error) bool {
	return errors.Is(err, ErrCycle) ||
		errors.Is(err, ErrUnknownParent) ||
		errors.Is(err, ErrUnknownCategory) ||
		errors.Is(err, ErrDuplicateDept)
}
