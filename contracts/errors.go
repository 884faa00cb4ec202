package contracts

import (
	"errors"
	"fmt"
)

// ResponseStatus describes why processing of a message failed
type ResponseStatus struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// Error implements error
func (s *ResponseStatus) Error() string {
	if s.ErrorCode == "" {
		return s.Message
	}
	return fmt.Sprintf("%s: %s", s.ErrorCode, s.Message)
}

// NewResponseStatus builds a ResponseStatus from err. The error code is the
// error's type name unless err carries a code of its own.
func NewResponseStatus(err error) *ResponseStatus {
	if err == nil {
		return nil
	}

	var status *ResponseStatus
	if errors.As(err, &status) {
		return &ResponseStatus{ErrorCode: status.ErrorCode, Message: status.Message}
	}

	code := TypeNameOf(err)
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		code = coded.ErrorCode()
	}

	return &ResponseStatus{
		ErrorCode: code,
		Message:   err.Error(),
	}
}

// ErrorResponse is delivered to ReplyTo when processing a request fails
type ErrorResponse struct {
	RequestType    string          `json:"requestType"`
	ResponseStatus *ResponseStatus `json:"responseStatus"`
}

// Error implements error
func (r *ErrorResponse) Error() string {
	if r.ResponseStatus == nil {
		return fmt.Sprintf("%s failed", r.RequestType)
	}
	return r.ResponseStatus.Error()
}

// NewErrorResponse creates an error response for a failed request
func NewErrorResponse(requestType string, err error) *ErrorResponse {
	return &ErrorResponse{
		RequestType:    requestType,
		ResponseStatus: NewResponseStatus(err),
	}
}

// RetryableError wraps an error to mark whether it may be retried
type RetryableError struct {
	Err       error
	Retryable bool
}

// Error implements error interface
func (r RetryableError) Error() string {
	return r.Err.Error()
}

// IsRetryable indicates if the error is retryable
func (r RetryableError) IsRetryable() bool {
	return r.Retryable
}

// Unwrap returns the wrapped error
func (r RetryableError) Unwrap() error {
	return r.Err
}

// NonRetryable marks err so the broker dead-letters the message on first failure
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err, Retryable: false}
}

// IsRetryable reports whether a processing error may be retried.
// Errors that say nothing about it are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	return true
}
