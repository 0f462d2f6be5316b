/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/acronis/go-etherscan-provider/httpclient"
	"github.com/acronis/go-etherscan-provider/log"
)

// Payload is a JSON-RPC shaped request: a method name and an ordered parameter list.
type Payload struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// EndFunc is invoked exactly once with the terminal outcome of a request.
// On success result holds the raw JSON value of the remote call.
type EndFunc func(err error, result json.RawMessage)

// NextFunc is invoked with no arguments when the method is unrecognized
// and should be offered to the next handler in the pipeline.
type NextFunc func()

// Handler is the contract a request pipeline element must satisfy.
// Provider implements it.
type Handler interface {
	HandleRequest(payload Payload, next NextFunc, end EndFunc)
}

// queuedItem is a submitted request plus the connection parameters in effect
// at submit time. Scheme and network are captured once and never change,
// so in-flight items are unaffected by later reconfiguration.
type queuedItem struct {
	id      xid.ID
	payload Payload
	next    NextFunc
	end     EndFunc
	scheme  string
	network string
}

// Provider dispatches JSON-RPC shaped Ethereum calls to an Etherscan-style HTTP API.
//
// It owns an unbounded FIFO queue of pending requests, a periodic drain trigger
// and a per-call rate limiter. Requests are accepted immediately and completed
// asynchronously via their callbacks. The drain loop parks itself when the queue
// empties and is re-armed by the next submitted request, so an idle Provider
// does not wake up periodically.
type Provider struct {
	logger  log.FieldLogger
	metrics MetricsCollector
	doer    Doer

	apiKey           string
	baseDomain       string
	scheme           string
	maxItemsPerTick  int
	tickInterval     time.Duration
	retryOnForbidden bool

	limiter *rate.Limiter

	mu          sync.Mutex
	queue       []*queuedItem
	cancelDrain context.CancelFunc
	network     string

	running atomic.Bool
}

var _ Handler = (*Provider)(nil)

// Opts contains optional parameters for constructing Provider.
type Opts struct {
	// Doer issues the HTTP calls. By default, a client from the httpclient package is used.
	Doer Doer

	// Logger is used for logging. By default, logging is disabled.
	Logger log.FieldLogger

	// Metrics is a collector of the dispatcher's metrics. By default, metrics are disabled.
	Metrics MetricsCollector
}

// New creates a new Provider with the passed configuration.
func New(cfg *Config) (*Provider, error) {
	return NewWithOpts(cfg, Opts{})
}

// NewWithOpts creates a new Provider with the passed configuration and options.
func NewWithOpts(cfg *Config, opts Opts) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = disabledMetricsCollector{}
	}
	if opts.Doer == nil {
		doer, err := httpclient.NewWithOpts(httpclient.Opts{
			UserAgent: "go-etherscan-provider",
			Logger:    opts.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create default http client: %w", err)
		}
		opts.Doer = doer
	}

	scheme := "http"
	if cfg.UseHTTPS {
		scheme = "https"
	}

	return &Provider{
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		doer:             opts.Doer,
		apiKey:           cfg.APIKey,
		baseDomain:       cfg.BaseDomain,
		scheme:           scheme,
		maxItemsPerTick:  cfg.MaxItemsPerTick,
		tickInterval:     cfg.TickInterval,
		retryOnForbidden: cfg.RetryOnForbidden,
		network:          cfg.Network,
		// Burst of 1 keeps execution starts evenly spaced, so the cap holds
		// for any sliding one-second window.
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1),
	}, nil
}

// HandleRequest accepts a request for dispatching and returns immediately.
// The terminal outcome always arrives asynchronously: end is called exactly once
// with the normalized result or error, or next is called when the method
// is not handled by this dispatcher. Safe for concurrent use.
func (p *Provider) HandleRequest(payload Payload, next NextFunc, end EndFunc) {
	item := &queuedItem{id: xid.New(), payload: payload, next: next}
	item.end = p.wrapEnd(item, end)

	p.mu.Lock()
	defer p.mu.Unlock()
	item.scheme, item.network = p.scheme, p.network
	p.pushLocked(item)
	p.startLocked()
}

// wrapEnd intercepts the remote rate-limiting signal: instead of failing the caller,
// the item is pushed back onto the tail of the queue. Retries are unbounded.
func (p *Provider) wrapEnd(item *queuedItem, end EndFunc) EndFunc {
	return func(err error, result json.RawMessage) {
		if p.retryOnForbidden && isRateLimited(err) {
			p.logger.Debug("request rejected by remote rate limit, re-queueing",
				log.String("request_id", item.id.String()),
				log.String("rpc_method", item.payload.Method))
			p.metrics.IncRetriedOnRateLimit(item.payload.Method)
			p.mu.Lock()
			defer p.mu.Unlock()
			p.pushLocked(item)
			p.startLocked()
			return
		}
		end(normalizeError(err), result)
	}
}

// Start arms the periodic drain loop. It is idempotent: calling it on a running
// Provider does nothing. Submitting a request starts the loop as well, so calling
// Start explicitly is only needed to resume dispatching after Stop.
func (p *Provider) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startLocked()
}

func (p *Provider) startLocked() {
	if p.running.Load() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancelDrain = cancel
	p.running.Store(true)
	go p.drainLoop(ctx)
}

// Stop cancels the periodic drain loop. It is idempotent and may be called before Start.
//
// Queued items stay queued and will be dispatched after the next Start (or submit).
// Throttled dispatches not yet admitted by the rate limiter are cancelled and also
// stay queued. Calls already handed to the transport are cancelled through their
// context; each of them still invokes its original completion callback exactly once
// (with a transport error if the cancellation interrupted it).
func (p *Provider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running.Load() {
		return
	}
	p.cancelDrain()
	p.cancelDrain = nil
	p.running.Store(false)
}

// Running reports whether the drain loop is currently armed.
func (p *Provider) Running() bool {
	return p.running.Load()
}

// QueueLength returns the current number of queued requests.
func (p *Provider) QueueLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Network returns the network identifier for subsequently submitted requests.
func (p *Provider) Network() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.network
}

// SetNetwork switches the target network for subsequently submitted requests.
// Items already queued or in flight keep the network captured at submit time.
func (p *Provider) SetNetwork(network string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.network = network
}

func (p *Provider) pushLocked(item *queuedItem) {
	p.queue = append(p.queue, item)
	p.metrics.SetQueueLength(len(p.queue))
}

// popBatch removes up to maxItemsPerTick items from the head of the queue, FIFO.
func (p *Provider) popBatch() []*queuedItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.maxItemsPerTick
	if n > len(p.queue) {
		n = len(p.queue)
	}
	batch := p.queue[:n:n]
	p.queue = p.queue[n:]
	p.metrics.SetQueueLength(len(p.queue))
	return batch
}

// requeueFront puts items back onto the head of the queue preserving their order.
// Used when the drain loop is stopped while part of a batch is still throttled.
func (p *Provider) requeueFront(items []*queuedItem) {
	if len(items) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(append(make([]*queuedItem, 0, len(items)+len(p.queue)), items...), p.queue...)
	p.metrics.SetQueueLength(len(p.queue))
}

// drainLoop wakes up every tickInterval, releases a bounded batch of queued items
// to the rate limiter and hands each admitted item to its own execution goroutine.
// When a tick leaves the queue empty, the loop parks itself. Only Stop cancels ctx:
// parking leaves it intact so executions launched by the last tick can finish.
func (p *Provider) drainLoop(ctx context.Context) {
	p.logger.Debug("drain loop armed", log.Duration("tick_interval", p.tickInterval))

	timer := time.NewTimer(p.tickInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("drain loop stopped")
			return
		case <-timer.C:
		}

		batch := p.popBatch()
		for i, item := range batch {
			if !isKnownMethod(item.payload.Method) {
				// Unhandled methods never touch the remote API and don't consume rate.
				go item.next()
				continue
			}
			if err := p.limiter.Wait(ctx); err != nil {
				// Stopped while throttled; unsent items stay queued for the next run.
				p.requeueFront(batch[i:])
				return
			}
			go p.execute(ctx, item)
		}

		p.mu.Lock()
		if len(p.queue) == 0 {
			if ctx.Err() == nil {
				p.running.Store(false)
				p.cancelDrain = nil
			}
			p.mu.Unlock()
			p.logger.Debug("drain loop parked on empty queue")
			return
		}
		p.mu.Unlock()
		timer.Reset(p.tickInterval)
	}
}

// execute performs exactly one translate-and-call-and-normalize cycle.
func (p *Provider) execute(ctx context.Context, item *queuedItem) {
	start := time.Now()

	var result json.RawMessage
	var err error
	if item.payload.Method == methodGetLogs {
		result, err = p.aggregateLogs(ctx, item)
	} else {
		var call apiCall
		if call, err = translators[item.payload.Method](item.payload.Params); err == nil {
			result, err = p.call(ctx, item.scheme, item.network, call)
		}
	}

	status := DispatchStatusOK
	switch {
	case isRateLimited(err):
		status = DispatchStatusRateLimited
	case err != nil:
		status = DispatchStatusError
	}
	p.metrics.ObserveDispatch(item.payload.Method, status, start)

	if err != nil {
		item.end(err, nil)
		return
	}
	item.end(nil, result)
}
