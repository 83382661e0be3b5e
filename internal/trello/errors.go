package trello

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is returned for any non-2xx Trello response
type APIError struct {
	// StatusCode is the HTTP status of the response
	StatusCode int

	// RetryAfter is the raw Retry-After header, if any
	RetryAfter string

	// Endpoint describes the operation, e.g. "fetching cards"
	Endpoint string

	// Message is the response body, truncated
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("trello API error while %s: HTTP %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("trello API error while %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// IsRateLimited reports whether the response was HTTP 429
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// AsAPIError unwraps err into an APIError
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
