// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bureau-foundation/chorus/lib/netutil"
)

// ErrClosed is returned by Dispatch after Close, and by calls still
// queued when the dispatcher abandons its queues.
var ErrClosed = errors.New("rest: dispatcher closed")

// APIError is a non-2xx, non-429 response. The platform returns a JSON
// body with a numeric error code and a message.
type APIError struct {
	// StatusCode is the HTTP response status code.
	StatusCode int

	// Code is the platform's JSON error code. Zero when the body was
	// not a JSON error object.
	Code int

	// Message is the platform's error message, or the raw body when it
	// was not JSON.
	Message string

	// Route is the bucket key of the failed request.
	Route string
}

func (err *APIError) Error() string {
	if err.Code != 0 {
		return fmt.Sprintf("rest: %s: HTTP %d (code %d): %s", err.Route, err.StatusCode, err.Code, err.Message)
	}
	return fmt.Sprintf("rest: %s: HTTP %d: %s", err.Route, err.StatusCode, err.Message)
}

// RateLimitExceededError is returned when a request was throttled more
// times than the dispatcher's retry budget allows.
type RateLimitExceededError struct {
	Route      string
	Attempts   int
	RetryAfter time.Duration
	Global     bool
}

func (err *RateLimitExceededError) Error() string {
	scope := "route"
	if err.Global {
		scope = "global"
	}
	return fmt.Sprintf("rest: %s: %s rate limit still exceeded after %d attempts (retry after %s)",
		err.Route, scope, err.Attempts, err.RetryAfter)
}

// InvalidRequestError reports a request rejected before any network
// call: a bad route parameter or an out-of-range argument.
type InvalidRequestError struct {
	Route  string
	Reason string
}

func (err *InvalidRequestError) Error() string {
	if err.Route == "" {
		return "rest: invalid request: " + err.Reason
	}
	return fmt.Sprintf("rest: invalid request for %s: %s", err.Route, err.Reason)
}

func invalidRequest(route, reason string) *InvalidRequestError {
	return &InvalidRequestError{Route: route, Reason: reason}
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusNotFound
}

// IsForbidden reports whether err is a 403 response, usually a missing
// permission.
func IsForbidden(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusForbidden
}

// IsUnauthorized reports whether err is a 401 response: the token was
// rejected.
func IsUnauthorized(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusUnauthorized
}

// IsInvalidRequest reports whether err was rejected before sending.
func IsInvalidRequest(err error) bool {
	var invalid *InvalidRequestError
	return errors.As(err, &invalid)
}

// IsRateLimitExceeded reports whether err is a *RateLimitExceededError.
func IsRateLimitExceeded(err error) bool {
	var exceeded *RateLimitExceededError
	return errors.As(err, &exceeded)
}

// parseAPIError builds an APIError from a response body. Bodies that
// are not a JSON error object become the message, cut to
// netutil.MaxErrorBody bytes.
func parseAPIError(statusCode int, route string, body []byte) *APIError {
	apiError := &APIError{StatusCode: statusCode, Route: route}
	var decoded struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Message != "" {
		apiError.Code = decoded.Code
		apiError.Message = decoded.Message
		return apiError
	}
	apiError.Message = netutil.ErrorBody(bytes.NewReader(body))
	if apiError.Message == "" {
		apiError.Message = http.StatusText(statusCode)
	}
	return apiError
}
