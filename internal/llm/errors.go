package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrDisabled is returned when a provider has no credentials.
	ErrDisabled = errors.New("llm provider disabled")
	// ErrEmptyContent is returned when a provider answers without message text.
	ErrEmptyContent = errors.New("llm response missing message content")
	// ErrUnknownProvider is returned for provider kinds without an adapter.
	ErrUnknownProvider = errors.New("unknown llm provider")
)

const maxBodyExcerpt = 500

// ProviderCallError reports a non-success HTTP status from a provider.
type ProviderCallError struct {
	Provider   string
	Model      string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderCallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm call failed (%s/%s): %v", e.Provider, e.Model, e.Err)
	}
	return fmt.Sprintf("llm call failed (%d) %s/%s: %s", e.StatusCode, e.Provider, e.Model, e.Body)
}

func (e *ProviderCallError) Unwrap() error {
	return e.Err
}

// NetworkError reports a timeout or transport failure.
type NetworkError struct {
	Provider string
	Model    string
	Timeout  bool
	Err      error
}

func (e *NetworkError) Error() string {
	kind := "network failure"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("llm %s (%s/%s): %v", kind, e.Provider, e.Model, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned when every chain entry failed. It unwraps to the
// last provider error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d llm providers exhausted: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

func excerpt(body []byte) string {
	s := string(body)
	if len(s) > maxBodyExcerpt {
		return s[:maxBodyExcerpt]
	}
	return s
}
