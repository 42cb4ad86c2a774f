package history

import (
	"errors"
	"fmt"
)

// OpenError means the physical storage handle could not be acquired.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open history database %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// SchemaTooNewError means the persisted compatible-version exceeds what
// this build understands. The store must not be opened destructively.
type SchemaTooNewError struct {
	CompatibleVersion int
	CurrentVersion    int
}

func (e *SchemaTooNewError) Error() string {
	return fmt.Sprintf("history database requires version %d, this build understands %d",
		e.CompatibleVersion, e.CurrentVersion)
}

// MigrationError means one migration step failed. The store must be
// treated as unusable; there is no partial-migration fallback.
type MigrationError struct {
	FromVersion int
	Err         error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrate history database from version %d: %v", e.FromVersion, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// ErrSelfReferencingVisit is returned when a caller tries to write a visit
// row whose id equals its own referring_visit id. Such a row is corruption
// and must never be persisted.
var ErrSelfReferencingVisit = errors.New("visit refers to itself")

// ErrTransactionOpen is returned by maintenance operations that must not
// run while the owner holds an open transaction.
var ErrTransactionOpen = errors.New("operation not allowed inside a transaction")

// InitStatus classifies the outcome of opening a history database for
// owners that branch on it rather than inspecting error types.
type InitStatus int

const (
	InitOK InitStatus = iota
	InitFailure
	InitTooNew
)

// InitStatusFor maps an Open error to its InitStatus.
func InitStatusFor(err error) InitStatus {
	if err == nil {
		return InitOK
	}
	var tooNew *SchemaTooNewError
	if errors.As(err, &tooNew) {
		return InitTooNew
	}
	return InitFailure
}
