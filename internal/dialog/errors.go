package dialog

import (
	"errors"
	"fmt"
)

var (
	// ErrChatUnavailable means the chat backend could not be reached before
	// the first turn.
	ErrChatUnavailable = errors.New("chat backend unavailable")
	ErrUnknownUseCase  = errors.New("unknown use case")
	ErrNoSession       = errors.New("no active session")
	ErrEmptyReply      = errors.New("empty reply")
)

// ResponseError is a failed chat call for one turn. The session keeps every
// turn appended before the failure.
type ResponseError struct {
	Backend string
	Op      string
	Err     error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}
