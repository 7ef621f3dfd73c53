// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Sentinels shared by the coordinator, resolver, broker and HTTP layer.
var (
	// ErrValidation indicates malformed input to a coordinator or resolver call.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrGroupNotFound indicates the referenced sync group does not exist.
	ErrGroupNotFound = errors.New("sync group not found")

	// ErrNoConnectedDisplays indicates conductor election found no live members.
	ErrNoConnectedDisplays = errors.New("no connected displays")

	// ErrNoContent indicates resume was called without a prior content run.
	ErrNoContent = errors.New("no content to resume")

	// ErrSync indicates a generic internal failure in coordinator operations.
	ErrSync = errors.New("sync error")
)

// Code returns the wire-level error code for a sentinel, used by the HTTP
// layer and websocket error payloads.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrGroupNotFound):
		return "GROUP_NOT_FOUND"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrNoConnectedDisplays):
		return "NO_CONNECTED_DISPLAYS"
	case errors.Is(err, ErrNoContent):
		return "NO_CONTENT"
	default:
		return "SYNC_ERROR"
	}
}
