package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced account, event, rate or
	// report does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPeriod is returned when a report period starts after it ends.
	ErrInvalidPeriod = errors.New("invalid period: start is after end")

	// ErrInUse is returned when deleting or re-coding a row that live
	// ledger rows still reference.
	ErrInUse = errors.New("still referenced")
)

// FetchError reports a failed remote rate lookup.
type FetchError struct {
	Base       string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch rates for %s: status %d", e.Base, e.StatusCode)
	}
	return fmt.Sprintf("fetch rates for %s: %v", e.Base, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PersistError reports a failed write to the ledger store.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Persist wraps err as a PersistError unless it is nil, a not-found or an
// in-use condition.
func Persist(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInUse) {
		return err
	}
	var pe *PersistError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistError{Op: op, Err: err}
}

// IsValidation reports whether err is one of the input validation errors.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidDay, ErrInvalidMonth, ErrInvalidAmount, ErrInvalidType,
		ErrInvalidCurrency, ErrInvalidRate, ErrEmptyName, ErrMissingAccount,
		ErrMissingCategory, ErrSameAccount, ErrSameCurrency, ErrDescriptionLimit,
		ErrInvalidPeriod,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
