package relay

import (
	"errors"
	"fmt"
)

// Collection names used in persistence errors and logs.
const (
	CollectionKnownUsers   = "known_users"
	CollectionBlockedUsers = "blocked_users"
	CollectionMessageMap   = "message_map"
)

// PersistenceError reports a failed write-through. The in-memory state has
// already been updated when it is returned.
type PersistenceError struct {
	Collection string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Collection, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError is a malformed command argument. It never changes state.
type ValidationError struct {
	Arg    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Reason)
}

var errMissingArg = errors.New("missing argument")
