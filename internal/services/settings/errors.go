package settings

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSettings means nothing has been persisted yet.
	ErrNoSettings = errors.New("no moisture settings persisted")
	// ErrStaleSettings is returned by Apply for a record older than the committed one.
	ErrStaleSettings = errors.New("settings record older than current")
)

// PersistenceError wraps a backing-store failure. In-memory state is untouched when it is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("settings %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
