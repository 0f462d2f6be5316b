/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package etherscan

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-etherscan-provider/log/logtest"
)

// fakeDoer is a scriptable transport collaborator recording every issued request.
type fakeDoer struct {
	mu      sync.Mutex
	handler func(req *http.Request) (*http.Response, error)
	reqs    []*http.Request
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	handler := d.handler
	d.mu.Unlock()
	if handler == nil {
		return jsonResponse(http.StatusOK, `{"result":"0x1"}`), nil
	}
	return handler(req)
}

func (d *fakeDoer) requests() []*http.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*http.Request(nil), d.reqs...)
}

func jsonResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Status:     fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func newTestConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	cfg.MaxRequestsPerSecond = 1000
	return cfg
}

func newTestProvider(t *testing.T, cfg *Config, doer Doer) *Provider {
	t.Helper()
	provider, err := NewWithOpts(cfg, Opts{Doer: doer})
	require.NoError(t, err)
	t.Cleanup(provider.Stop)
	return provider
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition was not met in time")
}

func TestProviderDispatchesFIFO(t *testing.T) {
	doer := &fakeDoer{}
	cfg := newTestConfig()
	cfg.MaxItemsPerTick = 1
	provider := newTestProvider(t, cfg, doer)

	const total = 6
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		tag := fmt.Sprintf("0x%x", i)
		provider.HandleRequest(
			Payload{Method: "eth_getBlockTransactionCountByNumber", Params: []interface{}{tag}},
			func() { t.Error("next should not be called") },
			func(err error, result json.RawMessage) {
				assert.NoError(t, err)
				wg.Done()
			},
		)
	}
	wg.Wait()

	reqs := doer.requests()
	require.Len(t, reqs, total)
	for i, req := range reqs {
		require.Equal(t, fmt.Sprintf("0x%x", i), req.URL.Query().Get("tag"))
	}
}

func TestProviderStartStopIdempotent(t *testing.T) {
	provider := newTestProvider(t, newTestConfig(), &fakeDoer{})

	provider.Stop() // Stop before any Start must be a no-op.
	require.False(t, provider.Running())

	provider.Start()
	provider.Start()
	require.True(t, provider.Running())

	provider.Stop()
	provider.Stop()
	require.False(t, provider.Running())
}

func TestProviderStopKeepsQueuedItems(t *testing.T) {
	cfg := newTestConfig()
	cfg.TickInterval = time.Hour // Nothing is drained during the test.
	provider := newTestProvider(t, cfg, &fakeDoer{})

	ended := make(chan struct{}, 1)
	provider.HandleRequest(
		Payload{Method: "eth_blockNumber"},
		func() {},
		func(err error, result json.RawMessage) { ended <- struct{}{} },
	)
	require.True(t, provider.Running())

	provider.Stop()
	require.False(t, provider.Running())
	require.Equal(t, 1, provider.QueueLength())
	select {
	case <-ended:
		t.Fatal("completion must not fire after stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProviderParksWhenIdleAndResumesOnSubmit(t *testing.T) {
	doer := &fakeDoer{}
	provider := newTestProvider(t, newTestConfig(), doer)

	done := make(chan struct{})
	provider.HandleRequest(Payload{Method: "eth_blockNumber"}, func() {},
		func(err error, result json.RawMessage) { close(done) })
	<-done

	// The drain loop must deschedule itself once the queue empties.
	waitFor(t, time.Second, func() bool { return !provider.Running() })

	// A new submission re-arms it without an explicit Start.
	done2 := make(chan struct{})
	provider.HandleRequest(Payload{Method: "eth_blockNumber"}, func() {},
		func(err error, result json.RawMessage) { close(done2) })
	<-done2
	require.Len(t, doer.requests(), 2)
}

func TestProviderParkingKeepsInFlightCallsAlive(t *testing.T) {
	// A Doer that honors the request context, like the default http.Client does.
	doer := &fakeDoer{handler: func(req *http.Request) (*http.Response, error) {
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(30 * time.Millisecond):
			return jsonResponse(http.StatusOK, `{"result":"0x1"}`), nil
		}
	}}
	provider := newTestProvider(t, newTestConfig(), doer)

	errCh := make(chan error, 1)
	provider.HandleRequest(Payload{Method: "eth_blockNumber"}, func() {},
		func(err error, result json.RawMessage) { errCh <- err })

	// The drain loop parks right after launching the call; the call must not be cancelled.
	require.NoError(t, <-errCh)
}

func TestProviderUnrecognizedMethodFallsThrough(t *testing.T) {
	doer := &fakeDoer{}
	provider := newTestProvider(t, newTestConfig(), doer)

	next := make(chan struct{})
	provider.HandleRequest(
		Payload{Method: "eth_subscribe"},
		func() { close(next) },
		func(err error, result json.RawMessage) { t.Error("end should not be called") },
	)
	<-next
	require.Empty(t, doer.requests(), "unrecognized methods must never touch the transport")
}

func TestProviderRequeuesRateLimitedForever(t *testing.T) {
	doer := &fakeDoer{handler: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusForbidden, "Forbidden: Access is denied."), nil
	}}
	provider := newTestProvider(t, newTestConfig(), doer)

	provider.HandleRequest(
		Payload{Method: "eth_blockNumber"},
		func() { t.Error("next should not be called") },
		func(err error, result json.RawMessage) { t.Error("completion must never fire for a perpetually rate-limited item") },
	)

	// The item must keep cycling through the queue: several drain cycles, no completion.
	waitFor(t, 2*time.Second, func() bool { return len(doer.requests()) >= 3 })
}

func TestProviderLogsRequeueOnRateLimit(t *testing.T) {
	doer := &fakeDoer{handler: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusForbidden, "Forbidden: Access is denied."), nil
	}}
	logRecorder := logtest.NewRecorder()
	provider, err := NewWithOpts(newTestConfig(), Opts{Doer: doer, Logger: logRecorder})
	require.NoError(t, err)
	t.Cleanup(provider.Stop)

	provider.HandleRequest(Payload{Method: "eth_blockNumber"}, func() {},
		func(error, json.RawMessage) { t.Error("completion must not fire while re-queueing") })

	waitFor(t, 2*time.Second, func() bool {
		entry, found := logRecorder.FindEntry("request rejected by remote rate limit, re-queueing")
		if !found {
			return false
		}
		methodField, found := entry.FindField("rpc_method")
		require.True(t, found)
		require.Equal(t, "eth_blockNumber", string(methodField.Bytes))
		return true
	})
}

func TestProviderRateLimitDeliveredWhenRetryDisabled(t *testing.T) {
	doer := &fakeDoer{handler: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusForbidden, "Forbidden: Access is denied."), nil
	}}
	cfg := newTestConfig()
	cfg.RetryOnForbidden = false
	provider := newTestProvider(t, cfg, doer)

	errCh := make(chan error, 1)
	provider.HandleRequest(Payload{Method: "eth_blockNumber"}, func() {},
		func(err error, result json.RawMessage) { errCh <- err })

	err := <-errCh
	require.True(t, isRateLimited(err))
}

func TestProviderRateCap(t *testing.T) {
	doer := &fakeDoer{}
	cfg := newTestConfig()
	cfg.MaxRequestsPerSecond = 20
	cfg.MaxItemsPerTick = 10
	provider := newTestProvider(t, cfg, doer)

	const total = 6
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		provider.HandleRequest(Payload{Method: "eth_blockNumber"}, func() {},
			func(err error, result json.RawMessage) { wg.Done() })
	}
	start := time.Now()
	wg.Wait()
	elapsed := time.Since(start)

	// 6 executions at 20 rps cannot begin faster than ~250ms; allow slack for the timer.
	require.GreaterOrEqual(t, elapsed, 125*time.Millisecond,
		"executions began faster than the configured rate cap allows")
}

func TestProviderCapturesNetworkAtSubmitTime(t *testing.T) {
	doer := &fakeDoer{}
	cfg := newTestConfig()
	cfg.TickInterval = 50 * time.Millisecond
	provider := newTestProvider(t, cfg, doer)

	done := make(chan struct{})
	provider.HandleRequest(Payload{Method: "eth_blockNumber"}, func() {},
		func(err error, result json.RawMessage) { close(done) })

	// Reconfiguring after submit must not affect the queued item.
	provider.SetNetwork("sepolia")
	<-done

	reqs := doer.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "api.etherscan.io", reqs[0].URL.Host)
}
