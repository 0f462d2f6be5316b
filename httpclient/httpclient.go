/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package httpclient provides the default HTTP transport used for calling the remote API.
// The constructed client retries temporary transport failures and 429/5xx statuses
// with backoff; all domain-level error handling stays in the etherscan package.
package httpclient

import (
	"net/http"
	"time"

	"github.com/acronis/go-etherscan-provider/log"
	"github.com/acronis/go-etherscan-provider/retry"
)

// DefaultClientTimeout is a default timeout for the whole request/response cycle.
const DefaultClientTimeout = 30 * time.Second

// Opts represents options for creating a new HTTP client.
type Opts struct {
	// Timeout is the per-request timeout of the constructed client.
	// By default, DefaultClientTimeout is used.
	Timeout time.Duration

	// UserAgent is a value of User-Agent HTTP header set in all outgoing requests.
	UserAgent string

	// MaxRetryAttempts determines how many maximum retry attempts can be done.
	MaxRetryAttempts int

	// BackoffPolicy is used for computing wait time between retry attempts.
	BackoffPolicy retry.Policy

	// Logger is used for logging.
	Logger log.FieldLogger
}

// New creates a new http.Client with retries and default options.
func New() (*http.Client, error) {
	return NewWithOpts(Opts{})
}

// NewWithOpts creates a new http.Client with retries and specified options.
func NewWithOpts(opts Opts) (*http.Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultClientTimeout
	}

	var transport http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()

	var err error
	transport, err = NewRetryableRoundTripperWithOpts(transport, RetryableRoundTripperOpts{
		Logger:           opts.Logger,
		MaxRetryAttempts: opts.MaxRetryAttempts,
		BackoffPolicy:    opts.BackoffPolicy,
	})
	if err != nil {
		return nil, err
	}

	if opts.UserAgent != "" {
		transport = NewUserAgentRoundTripper(transport, opts.UserAgent)
	}

	return &http.Client{Transport: transport, Timeout: opts.Timeout}, nil
}
