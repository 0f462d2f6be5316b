/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package etherscan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRateLimited is a sentinel error that marks a call rejected by the remote API
// because of rate limiting. Errors carrying this signal are not delivered to the caller
// when retry-on-forbidden is enabled; the request is re-queued instead.
// Use errors.Is to check for it.
var ErrRateLimited = errors.New("rate limited by remote API")

// TransportError is returned when the HTTP call itself fails (network, DNS, connection,
// canceled context). It is surfaced to the caller and not retried by the dispatcher.
type TransportError struct {
	Inner error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *TransportError) Unwrap() error {
	return e.Inner
}

// HTTPStatusError is returned when the remote API responds with a status code above 300.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("remote API responded with status %d: %s", e.StatusCode, e.Message)
}

// Is reports ErrRateLimited for the forbidden status the remote API uses
// to signal that the rate limit was exceeded.
func (e *HTTPStatusError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == 403
}

// MalformedResponseError is returned when the response body cannot be parsed as JSON.
type MalformedResponseError struct {
	Inner error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from remote API: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *MalformedResponseError) Unwrap() error {
	return e.Inner
}

// APIError is the remote API's own logical error (proxy-style "error" field
// or account-style message different from "OK").
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote API error: %s", e.Message)
}

// Is reports ErrRateLimited for the rate-limit message the account-style API mode returns.
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited && strings.Contains(strings.ToLower(e.Message), "rate limit")
}

// isRateLimited reports whether the error carries the remote rate-limiting signal.
func isRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// normalizeError guarantees the caller's completion callback always receives an error value,
// wrapping non-error panics from collaborators if needed.
func normalizeError(v interface{}) error {
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("%v", v)
}
