package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModelUnavailable reports a provider that could not be reached or
// answered with something other than a model response.
type ErrModelUnavailable struct {
	Provider string
	Status   int
	Body     string
	Cause    error
}

func (e *ErrModelUnavailable) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("model provider %s unavailable: %v", e.Provider, e.Cause)
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("model provider %s unavailable (%d): %s", e.Provider, e.Status, e.Body)
	case e.Body != "":
		return fmt.Sprintf("model provider %s unavailable: %s", e.Provider, e.Body)
	default:
		return fmt.Sprintf("model provider %s unavailable", e.Provider)
	}
}

func (e *ErrModelUnavailable) Unwrap() error { return e.Cause }

// HandleError converts common SDK errors to user-friendly errors. An
// ErrModelUnavailable is already classified and passes through.
func HandleError(err error) error {
	if err == nil {
		return nil
	}
	var unavailable *ErrModelUnavailable
	if errors.As(err, &unavailable) {
		return err
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, "401", "403", "unauthorized", "invalid api key", "api key", "forbidden") {
		return fmt.Errorf("authentication failed: %w", err)
	}

	if containsAny(errStr, "429", "rate limit", "quota", "too many requests") {
		return fmt.Errorf("rate limited: %w", err)
	}

	if containsAny(errStr, "context length", "too many tokens", "max tokens", "token limit") {
		return fmt.Errorf("context too long: %w", err)
	}

	if containsAny(errStr, "model not found", "404", "not found") {
		return fmt.Errorf("model not found: %w", err)
	}

	if containsAny(errStr, "connection", "eof", "timeout", "dial", "refused") {
		return fmt.Errorf("connection error: %w", err)
	}

	return err
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
