package provider

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAuthFailed     = errors.New("authentication failed")
	ErrBuildNotFound  = errors.New("build not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrNetworkTimeout = errors.New("network timeout")
)

// StatusError is returned when a CI server answers with a non-200 status.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API request to %s failed with status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Unwrap maps well-known status codes onto the package sentinels so callers
// can use errors.Is.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusNotFound:
		return ErrBuildNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return nil
	}
}

// UserError wraps errors with user-friendly messages
type UserError struct {
	Message string
	Hint    string
	Err     error
}

func (e *UserError) Error() string {
	msg := e.Message
	if e.Hint != "" {
		msg += "\n\nHint: " + e.Hint
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\n\nDetails: %v", e.Err)
	}
	return msg
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// WrapError converts API errors to user-friendly messages
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrInvalidURL) {
		return &UserError{
			Message: "Invalid instance URL",
			Hint:    "Server URLs must be absolute, e.g. https://bamboo.example.com/\n  - Set BAMBOO_SERVERS or [bamboo].servers",
			Err:     err,
		}
	}

	if errors.Is(err, ErrAuthFailed) {
		return &UserError{
			Message: "Authentication failed",
			Hint:    "Check that the username and API key are valid and can read build plans.\n  - Set BAMBOO_USERNAME and BAMBOO_API_KEY",
			Err:     err,
		}
	}

	if errors.Is(err, ErrBuildNotFound) {
		return &UserError{
			Message: "Build not found",
			Hint:    "Check that the build URL is correct and you have access to the plan.",
			Err:     err,
		}
	}

	if errors.Is(err, ErrRateLimited) {
		return &UserError{
			Message: "Rate limited by the CI server",
			Hint:    "Increase the cron interval or lower instance_concurrency.",
			Err:     err,
		}
	}

	return err
}
