package api

import (
	"errors"
	"fmt"

	"github.com/mangohabit/feedcore/internal/db"
	"github.com/mangohabit/feedcore/internal/draft"
	"github.com/mangohabit/feedcore/internal/feed"
	"github.com/mangohabit/feedcore/internal/like"
)

// Application error codes
const (
	ErrServer          = -32000
	ErrFetchFailed     = -32001
	ErrWriteFailed     = -32002
	ErrDraftDecision   = -32003
	ErrValidation      = -32004
	ErrMissingIdentity = -32005
)

// Error represents an API error
type Error struct {
	Code    int
	Message string
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// invalidParams is shorthand for an ErrInvalidParams error
func invalidParams(format string, args ...interface{}) *Error {
	return NewError(ErrInvalidParams, fmt.Sprintf(format, args...))
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// classify maps an error returned by a method to its JSON-RPC code and
// message
func classify(err error) (int, string) {
	var apiErr *Error
	var fetch *feed.FetchFailure
	var write *like.WriteFailure
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code, apiErr.Message
	case errors.Is(err, feed.ErrInvalidChannel),
		errors.Is(err, feed.ErrCursorMismatch),
		errors.Is(err, db.ErrBadToken):
		return ErrInvalidParams, "Invalid params"
	case errors.As(err, &fetch):
		return ErrFetchFailed, "Fetch failed"
	case errors.As(err, &write):
		return ErrWriteFailed, "Write failed"
	case errors.Is(err, draft.ErrDecisionPending), errors.Is(err, draft.ErrNoDecisionOpen):
		return ErrDraftDecision, "Draft decision"
	case errors.Is(err, draft.ErrTitleRequired), errors.Is(err, draft.ErrContentRequired):
		return ErrValidation, "Validation failed"
	case errors.Is(err, db.ErrPostNotFound), errors.Is(err, like.ErrItemNotCached):
		return ErrInvalidParams, "Unknown item"
	default:
		return ErrServer, "Server error"
	}
}
