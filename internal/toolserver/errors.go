package toolserver

import (
	"errors"

	"github.com/omnitech/omnidesk/internal/storage"
)

var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrNotFound is the storage sentinel re-exported for callers that only
	// talk to the tool server.
	ErrNotFound = storage.ErrNotFound
)

// Wire error codes carried in structured error results.
const (
	CodeToolNotFound     = "tool_not_found"
	CodeInvalidArguments = "invalid_arguments"
	CodeNotFound         = "not_found"
	CodeInternal         = "internal"
)

// ErrorCode classifies err into one of the wire error codes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrToolNotFound):
		return CodeToolNotFound
	case errors.Is(err, ErrInvalidArguments):
		return CodeInvalidArguments
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

// SentinelFor maps a wire error code back to its sentinel, or nil for
// internal and unknown codes.
func SentinelFor(code string) error {
	switch code {
	case CodeToolNotFound:
		return ErrToolNotFound
	case CodeInvalidArguments:
		return ErrInvalidArguments
	case CodeNotFound:
		return ErrNotFound
	}
	return nil
}

// ErrorPayload is the structured body of a failed tool result as it crosses
// the protocol boundary.
type ErrorPayload struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorPayload builds the wire form of err.
func NewErrorPayload(err error) ErrorPayload {
	return ErrorPayload{Error: ErrorDetail{Code: ErrorCode(err), Message: err.Error()}}
}
