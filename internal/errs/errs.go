// Package errs holds the error taxonomy shared by the chat core.
package errs

import (
	"errors"
	"fmt"

	"cygnos/internal/models"
)

var (
	ErrEmptyInput        = errors.New("message is empty")
	ErrMissingCredential = errors.New("API key is not set")
	ErrNotFound          = errors.New("conversation not found")
)

// ValidationError rejects a send before any network call is made.
type ValidationError struct {
	Err      error
	Provider models.ProviderID
}

func (e *ValidationError) Error() string {
	if errors.Is(e.Err, ErrMissingCredential) && e.Provider != "" {
		return fmt.Sprintf("%s %v", e.Provider.Label(), e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ProviderError reports a failed provider call. Message is already suitable
// for display.
type ProviderError struct {
	Provider models.ProviderID
	Status   int
	Message  string
}

func (e *ProviderError) Error() string { return e.Message }

// PersistenceError wraps a failure to encode or write state to the KV store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsProvider(err error) bool {
	var p *ProviderError
	return errors.As(err, &p)
}
