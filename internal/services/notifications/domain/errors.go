package domain

import "errors"

var (
	// ErrEventNotFound indicates a trigger named an unknown event.
	ErrEventNotFound = errors.New("event not found")
	// ErrUserNotFound indicates a trigger named an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidArgument indicates a malformed trigger request.
	ErrInvalidArgument = errors.New("invalid argument")
)
