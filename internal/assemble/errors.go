package assemble

import (
	"errors"
	"fmt"
)

// ErrProviderUnavailable means no completion provider is configured for
// the conversation.
var ErrProviderUnavailable = errors.New("no completion provider available")

// ErrEmptyResponse means the provider answered but no usable reply text
// could be extracted.
var ErrEmptyResponse = errors.New("provider returned an empty response")

// RequestError wraps a failed provider call.
type RequestError struct {
	Provider string
	Cause    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("completion request to %s failed: %v", e.Provider, e.Cause)
}

func (e *RequestError) Unwrap() error { return e.Cause }

// UserMessage maps an assembly error to text safe to send back to the
// chat. Unknown errors get a generic apology rather than internals.
func UserMessage(err error) string {
	var reqErr *RequestError
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return "No language model is configured for this chat. Ask the operator to set an API key."
	case errors.Is(err, ErrEmptyResponse):
		return "The model returned an empty reply. Please try again."
	case errors.As(err, &reqErr):
		return fmt.Sprintf("The request to the model failed: %v. Please try again later.", reqErr.Cause)
	default:
		return "Something went wrong while handling your message."
	}
}
