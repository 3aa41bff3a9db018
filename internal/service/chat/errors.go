package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a send that was ignored without side effects.
	ErrValidation = errors.New("chat: request ignored")

	ErrBlankMessage = fmt.Errorf("%w: blank message", ErrValidation)
	ErrNoSession    = fmt.Errorf("%w: no session bound", ErrValidation)
	ErrBusy         = fmt.Errorf("%w: send already in progress", ErrValidation)
	ErrBlankDice    = fmt.Errorf("%w: blank dice notation", ErrValidation)

	ErrCharacterRequired = errors.New("character id is required")
	ErrMemoryRequired    = errors.New("memory content is required")
)

// PersistenceError wraps a store failure. Op names the failed step.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chat: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
