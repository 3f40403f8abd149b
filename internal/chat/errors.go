package chat

import "errors"

var (
	ErrNotConnected   = errors.New("not connected")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRoomNotFound   = errors.New("room not found")
	ErrEmptyContent   = errors.New("message content is empty")
	ErrUnknownOp      = errors.New("unknown op")
	ErrMalformedFrame = errors.New("malformed frame")
)

// RemoteError is an error reported by the server through an "error" frame.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "server error: " + e.Message
}
