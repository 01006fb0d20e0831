package sync

import (
	"errors"
	"fmt"

	"mailsync/internal/model"
)

// Origin tags a result with its freshness: whether the emit was driven
// by a remote fetch outcome or read back from the local store.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

// NoMoreConversationsCode is the application-level code distinguishing
// "pagination exhausted" from a transport failure.
const NoMoreConversationsCode = 723478

// APIError is a typed application error carried inside a Result.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// ErrNoMoreConversations is emitted when a remote page comes back empty.
var ErrNoMoreConversations = &APIError{
	Code:    NoMoreConversationsCode,
	Message: "no more conversations available",
}

// IsNoMoreConversations reports whether err is the pagination-exhausted
// sentinel.
func IsNoMoreConversations(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == NoMoreConversationsCode
}

// Result is one emission of the reconciliation stream: either data or
// an error, tagged with its origin. Nothing ever escapes the engine as
// a fault; transport failures arrive here as error results.
type Result struct {
	Origin        Origin
	Conversations []model.Conversation
	Err           error
}

// IsSuccess reports whether the result carries data rather than an error.
func (r Result) IsSuccess() bool {
	return r.Err == nil
}
