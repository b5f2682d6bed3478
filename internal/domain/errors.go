package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("not found")

// NotFoundError names the missing entity. errors.Is(err, ErrNotFound) holds.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError is a malformed or inconsistent request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// InvalidStateError is a state machine precondition violation.
type InvalidStateError struct {
	Kind   string
	ID     string
	Status string
	Action string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in status %s", e.Action, e.Kind, e.ID, e.Status)
}

// ForbiddenError indicates the actor may not perform the action.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return e.Reason
}

// ConflictError reports contention on a lease or on locked paths.
type ConflictError struct {
	Message string
	Paths   []string
}

func (e ConflictError) Error() string {
	if len(e.Paths) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Paths, ", "))
}

// UnavailableError reports an optional integration that is not configured.
type UnavailableError struct {
	Service string
}

func (e UnavailableError) Error() string {
	return e.Service + " integration is not configured"
}
