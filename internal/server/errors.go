package server

import "errors"

var (
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrNotBound         = errors.New("connection has no user, send setup first")
	ErrUserMismatch     = errors.New("user does not match connection")
	ErrReceiverNotFound = errors.New("receiver not found in conversation")
	ErrNotMember        = errors.New("sender is not a member of the conversation")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrTooManyEvents    = errors.New("too many pending events")
	// ErrInternal is what the client sees when a store call fails.
	ErrInternal = errors.New("internal server error")
)
