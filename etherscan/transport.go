/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package etherscan

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/acronis/go-etherscan-provider/log"
)

// Doer issues a single HTTP request. *http.Client implements it.
// The dispatcher treats it as a black box; callers relying on bounded latency
// should configure it with its own timeout (see the httpclient package).
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// buildAPIURL combines the scheme, the network-specific subdomain and the query string.
// The default network maps to the bare "api" subdomain, every other network name is prefixed.
// Query pairs go in a fixed order: module and action first, then the method params,
// then the API key if configured.
func buildAPIURL(scheme, network, baseDomain string, call apiCall, apiKey string) string {
	sub := "api"
	if network != "" && network != DefaultNetwork {
		sub = "api-" + network
	}

	var query strings.Builder
	writePair := func(k, v string) {
		if query.Len() > 0 {
			query.WriteByte('&')
		}
		query.WriteString(url.QueryEscape(k))
		query.WriteByte('=')
		query.WriteString(url.QueryEscape(v))
	}
	writePair("module", call.module)
	writePair("action", call.action)
	for _, p := range call.params {
		writePair(p.key, p.value)
	}
	if apiKey != "" {
		writePair("apikey", apiKey)
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     sub + "." + baseDomain,
		Path:     "/api",
		RawQuery: query.String(),
	}
	return u.String()
}

// apiEnvelope covers both response shapes of the remote API:
// proxy-style ({error, result}) and account-style ({message, result}).
type apiEnvelope struct {
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
	Result  json.RawMessage `json:"result"`
}

type apiEnvelopeError struct {
	Message string `json:"message"`
}

// call performs one translated remote call and normalizes the outcome:
// a raw JSON result on success, one of the typed errors otherwise.
func (p *Provider) call(ctx context.Context, scheme, network string, call apiCall) (json.RawMessage, error) {
	uri := buildAPIURL(scheme, network, p.baseDomain, call, p.apiKey)

	req, err := http.NewRequestWithContext(ctx, call.httpMethod, uri, nil)
	if err != nil {
		return nil, &TransportError{Inner: err}
	}

	p.logger.AtLevel(log.LevelDebug, func(logFn log.LogFunc) {
		logFn("sending remote API request",
			log.String("method", call.httpMethod),
			log.String("module", call.module),
			log.String("action", call.action),
		)
	})

	resp, err := p.doer.Do(req)
	if err != nil {
		return nil, &TransportError{Inner: normalizeError(err)}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Error("failed to close remote API response body", log.Error(closeErr))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Inner: err}
	}

	if resp.StatusCode > 300 {
		msg := strings.TrimSpace(resp.Status)
		if len(body) != 0 {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	var envelope apiEnvelope
	if err = json.Unmarshal(body, &envelope); err != nil {
		p.logger.Error("failed to parse remote API response",
			log.String("action", call.action), log.Error(err))
		return nil, &MalformedResponseError{Inner: err}
	}

	if call.module == moduleAccount {
		return normalizeAccountResponse(&envelope)
	}
	return normalizeProxyResponse(&envelope)
}

// normalizeProxyResponse handles the JSON-RPC-like envelope:
// any non-null "error" field fails the call with the error's message (or its raw value).
func normalizeProxyResponse(envelope *apiEnvelope) (json.RawMessage, error) {
	if len(envelope.Error) != 0 && string(envelope.Error) != "null" {
		var envErr apiEnvelopeError
		if err := json.Unmarshal(envelope.Error, &envErr); err == nil && envErr.Message != "" {
			return nil, &APIError{Message: envErr.Message}
		}
		return nil, &APIError{Message: string(envelope.Error)}
	}
	return envelope.Result, nil
}

// normalizeAccountResponse handles the message/result envelope:
// anything but the literal "OK" message fails the call.
func normalizeAccountResponse(envelope *apiEnvelope) (json.RawMessage, error) {
	if envelope.Message != "OK" {
		msg := envelope.Message
		var detail string
		if err := json.Unmarshal(envelope.Result, &detail); err == nil && detail != "" {
			msg = detail
		}
		return nil, &APIError{Message: msg}
	}
	return envelope.Result, nil
}
