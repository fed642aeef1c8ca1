package service

import "errors"

// Domain errors for the attempt lifecycle. Handlers map these to typed
// response codes; anything else is an internal error.
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrNotStarted       = errors.New("attempt not started")
	ErrAlreadyFinalized = errors.New("attempt already finalized")
	ErrExpired          = errors.New("attempt expired")
)
