// Package remote defines the backend CRUD collaborator contract and its
// error taxonomy. The engine only ever sees two failure classes: transient
// (retry with backoff) and permanent (surface to the user).
package remote

import (
	"context"
	"errors"
	"fmt"

	"neuroflow/pkg/brainstate"
	"neuroflow/pkg/task"
)

// Class splits remote failures into the two classes the retry policy cares
// about.
type Class string

const (
	// ClassTransient covers network errors, timeouts and server
	// unavailability. Retried invisibly up to the retry budget.
	ClassTransient Class = "transient"

	// ClassPermanent covers rejections that retrying cannot fix: validation
	// failures and stale-version conflicts. Surfaced immediately.
	ClassPermanent Class = "permanent"
)

// Error is a classified remote failure.
type Error struct {
	Class  Class
	Status int // HTTP status when applicable, else 0
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote: %s (%s): %v", e.Msg, e.Class, e.Err)
	}
	return fmt.Sprintf("remote: %s (%s)", e.Msg, e.Class)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(msg string, err error) *Error {
	return &Error{Class: ClassTransient, Msg: msg, Err: err}
}

// Permanent wraps err as a non-retryable rejection.
func Permanent(status int, msg string) *Error {
	return &Error{Class: ClassPermanent, Status: status, Msg: msg}
}

// IsTransient reports whether err should be retried. Unclassified errors
// count as transient: a failure we cannot name must never drop user input.
func IsTransient(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Class == ClassTransient
	}
	return true
}

// Client is the backend CRUD collaborator. Implementations must return
// *Error for failures so the engine can classify them. Every call is bounded
// by the implementation's timeout (10s default for HTTP).
type Client interface {
	CreateTask(ctx context.Context, accountID string, t *task.Task) (*task.Task, error)
	UpdateTask(ctx context.Context, accountID string, t *task.Task) (*task.Task, error)
	DeleteTask(ctx context.Context, accountID, remoteID string, version int64) error
	ListTasks(ctx context.Context, accountID string) ([]task.Task, error)

	CreateSample(ctx context.Context, accountID string, s *brainstate.Sample) (*brainstate.Sample, error)
}
