package room

import "errors"

// Error taxonomy for room commands. NotFound, NotAuthorized and Validation
// errors are surfaced to the originating connection; InvalidState means the
// command was legal to attempt but has no effect in the round's current state
// and is dropped silently at the transport.
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrStoryNotFound = errors.New("story not found")
	ErrNotAuthorized = errors.New("not authorized")
	ErrInvalidState  = errors.New("invalid state for command")
	ErrValidation    = errors.New("validation failed")
)
