// Package core holds the pure, network-free parts of the QuickBase local API.
//
// This package contains:
//   - The field catalog that maps app/table/field names to QuickBase ids
//   - The where-clause compiler that emits QuickBase query strings
//   - Sort and select compilers
//   - The record codec that converts between {value} wire records and documents
//   - Pagination arithmetic
//   - Error types shared with the transport and the operation façade
//
// Compiled queries are not a bit-exact rendering of a plain string join in
// two places. Under OR, a sub-level holding more than one atom is wrapped in
// its own parentheses, so or:[{a, b}, {c}] compiles to
// "((a AND b) OR c)" rather than "(a AND b OR c)". Quoted values escape a
// single quote as \', so Eq("O'Brien") compiles to {6.EX.'O\'Brien'}.
//
// Error types can be used for type assertions to handle specific error cases:
//
//	_, err := qb.FindByID(ctx, quickbase.FindByIDOptions{App: "crm", Table: "contacts", ID: 42})
//	if err != nil {
//	    var notFound *core.NotFoundError
//	    if errors.As(err, &notFound) {
//	        // Handle missing record
//	    }
//	}
package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// QuickbaseError is the base error type for all errors raised by the API.
//
// All specific error types (RateLimitError, NotFoundError, etc.) embed this type.
// The RayID field can be used for debugging with QuickBase support.
type QuickbaseError struct {
	Message     string `json:"message"`
	StatusCode  int    `json:"statusCode"`
	Description string `json:"description,omitempty"`
	RayID       string `json:"rayId,omitempty"`
	Cause       error  `json:"-"`
}

func (e *QuickbaseError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s (status: %d)", e.Message, e.Description, e.StatusCode)
	}
	return fmt.Sprintf("%s (status: %d)", e.Message, e.StatusCode)
}

func (e *QuickbaseError) Unwrap() error {
	return e.Cause
}

// RateLimitInfo contains information about a rate limit event.
//
// This is passed to the OnRateLimit callback and included in RateLimitError.
// The RetryAfter field indicates how long to wait before retrying (in seconds).
type RateLimitInfo struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestURL string    `json:"requestUrl"`
	HTTPStatus int       `json:"httpStatus"`
	RetryAfter int       `json:"retryAfter,omitempty"` // seconds
	CFRay      string    `json:"cfRay,omitempty"`
	TID        string    `json:"tid,omitempty"`
	QBAPIRay   string    `json:"qbApiRay,omitempty"`
	Attempt    int       `json:"attempt"`
}

// RateLimitError is returned when the API returns HTTP 429 and retries are exhausted.
type RateLimitError struct {
	QuickbaseError
	RetryAfter    int           `json:"retryAfter,omitempty"`
	RateLimitInfo RateLimitInfo `json:"rateLimitInfo"`
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %d seconds", e.RetryAfter)
	}
	return "rate limited"
}

// NewRateLimitError creates a new RateLimitError from rate limit info.
func NewRateLimitError(info RateLimitInfo, message string) *RateLimitError {
	if message == "" {
		if info.RetryAfter > 0 {
			message = fmt.Sprintf("Rate limited. Retry after %d seconds", info.RetryAfter)
		} else {
			message = "Rate limited"
		}
	}
	rayID := info.QBAPIRay
	if rayID == "" {
		rayID = info.CFRay
	}
	return &RateLimitError{
		QuickbaseError: QuickbaseError{
			Message:    message,
			StatusCode: http.StatusTooManyRequests,
			RayID:      rayID,
		},
		RetryAfter:    info.RetryAfter,
		RateLimitInfo: info,
	}
}

// AuthenticationError is returned when authentication fails (HTTP 401).
type AuthenticationError struct {
	QuickbaseError
}

// AuthorizationError is returned when authorization fails (HTTP 403).
type AuthorizationError struct {
	QuickbaseError
}

// NotFoundError is returned for HTTP 404 responses and when a lookup by
// record id matches no rows. Table and RecordID are set in the latter case.
type NotFoundError struct {
	QuickbaseError
	Table    string `json:"table,omitempty"`
	RecordID string `json:"recordId,omitempty"`
}

// NewNotFoundError creates a NotFoundError for an HTTP 404.
func NewNotFoundError(message string, rayID string) *NotFoundError {
	return &NotFoundError{
		QuickbaseError: QuickbaseError{
			Message:    message,
			StatusCode: http.StatusNotFound,
			RayID:      rayID,
		},
	}
}

// NewRecordNotFoundError creates a NotFoundError for a record id that matched nothing.
func NewRecordNotFoundError(table string, recordID any) *NotFoundError {
	id := fmt.Sprint(recordID)
	return &NotFoundError{
		QuickbaseError: QuickbaseError{
			Message:    fmt.Sprintf("record with id %s not found in table %s", id, table),
			StatusCode: http.StatusNotFound,
		},
		Table:    table,
		RecordID: id,
	}
}

// ValidationError is returned for bad requests (HTTP 400).
type ValidationError struct {
	QuickbaseError
	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string, rayID string, errors []FieldError) *ValidationError {
	return &ValidationError{
		QuickbaseError: QuickbaseError{
			Message:    message,
			StatusCode: http.StatusBadRequest,
			RayID:      rayID,
		},
		Errors: errors,
	}
}

// TimeoutError is returned when a request times out.
type TimeoutError struct {
	QuickbaseError
	TimeoutMs int `json:"timeoutMs"`
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %dms", e.TimeoutMs)
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(timeoutMs int, cause error) *TimeoutError {
	return &TimeoutError{
		QuickbaseError: QuickbaseError{
			Message: fmt.Sprintf("Request timed out after %dms", timeoutMs),
			Cause:   cause,
		},
		TimeoutMs: timeoutMs,
	}
}

// ServerError is returned for server errors (HTTP 5xx).
type ServerError struct {
	QuickbaseError
}

// MappingMissError is returned by strict catalog lookups when a table or
// field name has no entry in the mapping snapshot.
type MappingMissError struct {
	App        string
	Table      string
	Field      string // empty for table misses
	Suggestion string
}

func (e *MappingMissError) Error() string {
	var msg string
	if e.Field == "" {
		msg = fmt.Sprintf("unknown table '%s' in app '%s'", e.Table, e.App)
	} else {
		msg = fmt.Sprintf("unknown field '%s' in table '%s' of app '%s'", e.Field, e.Table, e.App)
	}
	if e.Suggestion != "" {
		msg += fmt.Sprintf(". Did you mean '%s'?", e.Suggestion)
	}
	return msg
}

// ConditionError is returned when a where clause cannot be turned into a
// condition, e.g. an unknown operator key or a malformed operand.
type ConditionError struct {
	Field    string
	Operator string
	Reason   string
}

func (e *ConditionError) Error() string {
	if e.Operator == "" {
		return fmt.Sprintf("invalid condition on field '%s': %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid condition on field '%s' (%s): %s", e.Field, e.Operator, e.Reason)
}

// ParseErrorResponse parses an HTTP error response into an appropriate error type.
func ParseErrorResponse(resp *http.Response, requestURL string) error {
	rayID := resp.Header.Get("qb-api-ray")
	if rayID == "" {
		rayID = resp.Header.Get("cf-ray")
	}

	var body struct {
		Message     string       `json:"message"`
		Description string       `json:"description"`
		Errors      []FieldError `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		body.Message = resp.Status
	}

	message := body.Message
	if message == "" {
		message = resp.Status
	}
	base := QuickbaseError{
		Message:     message,
		StatusCode:  resp.StatusCode,
		Description: body.Description,
		RayID:       rayID,
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return &ValidationError{QuickbaseError: base, Errors: body.Errors}
	case http.StatusUnauthorized:
		return &AuthenticationError{QuickbaseError: base}
	case http.StatusForbidden:
		return &AuthorizationError{QuickbaseError: base}
	case http.StatusNotFound:
		return &NotFoundError{QuickbaseError: base}
	case http.StatusTooManyRequests:
		retryAfter := 0
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			retryAfter, _ = strconv.Atoi(ra)
		}
		info := RateLimitInfo{
			Timestamp:  time.Now(),
			RequestURL: requestURL,
			HTTPStatus: http.StatusTooManyRequests,
			RetryAfter: retryAfter,
			CFRay:      resp.Header.Get("cf-ray"),
			TID:        resp.Header.Get("tid"),
			QBAPIRay:   resp.Header.Get("qb-api-ray"),
			Attempt:    1,
		}
		rl := NewRateLimitError(info, message)
		rl.Description = body.Description
		return rl
	default:
		if resp.StatusCode >= 500 {
			return &ServerError{QuickbaseError: base}
		}
		return &base
	}
}

// IsRetryableError returns true if the error should trigger a retry.
func IsRetryableError(err error) bool {
	switch err.(type) {
	case *RateLimitError:
		return true
	case *ServerError:
		return true
	case *TimeoutError:
		return true
	}
	return false
}
