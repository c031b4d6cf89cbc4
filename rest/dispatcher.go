// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/chorus/cache"
	"github.com/bureau-foundation/chorus/lib/clock"
	"github.com/bureau-foundation/chorus/lib/credential"
	"github.com/bureau-foundation/chorus/lib/netutil"
	"github.com/bureau-foundation/chorus/lib/secret"
	"github.com/bureau-foundation/chorus/lib/snowflake"
	"github.com/bureau-foundation/chorus/lib/version"
)

const (
	// DefaultBaseURL is the versioned API root.
	DefaultBaseURL = "https://discord.com/api/v10"

	// DefaultMaxRateLimitRetries bounds how many 429 responses one
	// request absorbs before failing.
	DefaultMaxRateLimitRetries = 5

	// DefaultGlobalLimit is the aggregate requests-per-second cap.
	DefaultGlobalLimit = 50

	// DefaultTimeout bounds one HTTP attempt.
	DefaultTimeout = 30 * time.Second
)

// ShutdownPolicy selects what Close does with queued requests.
type ShutdownPolicy int

const (
	// ShutdownDrain rejects new requests and waits for queued ones.
	ShutdownDrain ShutdownPolicy = iota

	// ShutdownAbandon cancels in-flight requests and fails queued ones
	// with ErrClosed.
	ShutdownAbandon
)

func (p ShutdownPolicy) String() string {
	if p == ShutdownAbandon {
		return "abandon"
	}
	return "drain"
}

// ParseShutdownPolicy parses "drain" or "abandon". Empty is drain.
func ParseShutdownPolicy(text string) (ShutdownPolicy, error) {
	switch text {
	case "", "drain":
		return ShutdownDrain, nil
	case "abandon":
		return ShutdownAbandon, nil
	default:
		return 0, fmt.Errorf("rest: unknown shutdown policy %q", text)
	}
}

// BodyEncoder produces a request body, typically multipart form data
// carrying file attachments. It is called once per Dispatch; the bytes
// are resent unchanged on retries.
type BodyEncoder func() (contentType string, body []byte, err error)

// Config holds configuration for a Dispatcher.
type Config struct {
	// BaseURL is the API root. Defaults to DefaultBaseURL.
	BaseURL string

	// Token supplies the bot token. Required. It is fetched once, on
	// the first request, and held in locked memory until Close.
	Token credential.Provider

	// HTTPClient is used for all requests. Defaults to a client with
	// Timeout set.
	HTTPClient *http.Client

	// Timeout bounds one HTTP attempt when HTTPClient is nil. Defaults
	// to DefaultTimeout.
	Timeout time.Duration

	// Cache receives entity payloads from successful responses. Nil
	// disables upserts.
	Cache *cache.Cache

	// MaxRateLimitRetries defaults to DefaultMaxRateLimitRetries.
	MaxRateLimitRetries int

	// GlobalLimit defaults to DefaultGlobalLimit.
	GlobalLimit int

	// UserAgent defaults to version.UserAgent().
	UserAgent string

	// Clock provides time operations. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Request is the body and side effects of one call.
type Request struct {
	// Query is appended to the compiled path.
	Query url.Values

	// Body is encoded as JSON. Ignored when Encoder is set.
	Body any

	// Encoder produces a non-JSON body.
	Encoder BodyEncoder

	// Reason is sent as X-Audit-Log-Reason.
	Reason string

	// Upsert names the entity kind of the response payload. A
	// successful response is upserted into the cache with Scope as the
	// parent ID. Zero skips the upsert.
	Upsert cache.Kind
	Scope  snowflake.ID
}

// Response is a successful (2xx) response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// RequestID correlates the response with dispatcher log lines.
	RequestID string
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := netutil.DecodeResponse(bytes.NewReader(r.Body), v); err != nil {
		return fmt.Errorf("rest: decoding response: %w", err)
	}
	return nil
}

// Dispatcher executes API calls with per-bucket ordering and rate
// limiting. It is safe for concurrent use.
type Dispatcher struct {
	baseURL    string
	provider   credential.Provider
	httpClient *http.Client
	cache      *cache.Cache
	maxRetries int
	userAgent  string
	clock      clock.Clock
	logger     *slog.Logger
	global     *globalBucket

	// root is cancelled by ShutdownAbandon.
	root       context.Context
	cancelRoot context.CancelFunc
	workers    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	queues  map[string]*queue
	buckets map[string]*Bucket

	tokenMu sync.Mutex
	token   *secret.Buffer

	closeOnce sync.Once
	closeErr  error
}

// queue is the FIFO of one bucket. running is true while a worker
// goroutine is draining it.
type queue struct {
	bucket  *Bucket
	pending []*call
	running bool
}

type call struct {
	ctx         context.Context
	route       CompiledRoute
	request     Request
	contentType string
	body        []byte
	requestID   string
	done        chan result
}

type result struct {
	response *Response
	err      error
}

// New creates a Dispatcher.
func New(config Config) (*Dispatcher, error) {
	if config.Token == nil {
		return nil, errors.New("rest: Token provider is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("rest: invalid BaseURL %q", config.BaseURL)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	maxRetries := config.MaxRateLimitRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRateLimitRetries
	}
	globalLimit := config.GlobalLimit
	if globalLimit <= 0 {
		globalLimit = DefaultGlobalLimit
	}
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	root, cancelRoot := context.WithCancel(context.Background())
	return &Dispatcher{
		baseURL:    baseURL,
		provider:   config.Token,
		httpClient: httpClient,
		cache:      config.Cache,
		maxRetries: maxRetries,
		userAgent:  userAgent,
		clock:      clk,
		logger:     logger,
		global:     newGlobalBucket(globalLimit, clk),
		root:       root,
		cancelRoot: cancelRoot,
		queues:     make(map[string]*queue),
		buckets:    make(map[string]*Bucket),
	}, nil
}

// Dispatch enqueues a call on its route's bucket and waits for the
// final outcome. Throttled responses are retried internally; the
// caller sees a *Response, an *APIError, a *RateLimitExceededError,
// ErrClosed, a transport error, or ctx's error.
func (d *Dispatcher) Dispatch(ctx context.Context, route CompiledRoute, request Request) (*Response, error) {
	if route.Bucket == "" || route.Path == "" {
		return nil, invalidRequest(route.Template, "route was not compiled")
	}

	pending := &call{
		ctx:       ctx,
		route:     route,
		request:   request,
		requestID: uuid.NewString(),
		done:      make(chan result, 1),
	}
	if err := pending.encode(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	q := d.queues[route.Bucket]
	if q == nil {
		q = &queue{bucket: d.bucketLocked(route.Bucket)}
		d.queues[route.Bucket] = q
	}
	q.pending = append(q.pending, pending)
	if !q.running {
		q.running = true
		d.workers.Add(1)
		go d.drain(route.Bucket, q)
	}
	d.mu.Unlock()

	select {
	case outcome := <-pending.done:
		return outcome.response, outcome.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Bucket returns the bucket for key, creating an unknown one if
// needed.
func (d *Dispatcher) Bucket(key string) *Bucket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bucketLocked(key)
}

func (d *Dispatcher) bucketLocked(key string) *Bucket {
	bucket := d.buckets[key]
	if bucket == nil {
		bucket = NewBucket(key, d.clock)
		d.buckets[key] = bucket
	}
	return bucket
}

// GlobalSuspendedUntil reports the end of the current global 429
// suspension, or the zero time.
func (d *Dispatcher) GlobalSuspendedUntil() time.Time {
	return d.global.suspended()
}

// drain runs the calls of one bucket in submission order and exits
// when the queue is empty.
func (d *Dispatcher) drain(key string, q *queue) {
	defer d.workers.Done()
	for {
		d.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		d.mu.Unlock()

		if err := next.ctx.Err(); err != nil {
			next.done <- result{err: err}
			continue
		}
		response, err := d.execute(next, q.bucket)
		next.done <- result{response: response, err: err}
	}
}

// execute performs one logical call, retrying on 429 up to maxRetries
// times and, for idempotent methods, once on transport failure.
func (d *Dispatcher) execute(pending *call, bucket *Bucket) (*Response, error) {
	ctx, cancel := context.WithCancel(pending.ctx)
	defer cancel()
	stop := context.AfterFunc(d.root, cancel)
	defer stop()

	logger := d.logger.With(
		"request_id", pending.requestID,
		"method", pending.route.Method,
		"bucket", pending.route.Bucket,
	)

	throttled := 0
	transportRetried := false
	for {
		if err := bucket.acquire(ctx); err != nil {
			return nil, d.cancelled(err)
		}
		if err := d.global.acquire(ctx); err != nil {
			return nil, d.cancelled(err)
		}

		response, body, err := d.send(ctx, pending)
		if err != nil {
			if ctx.Err() != nil {
				return nil, d.cancelled(ctx.Err())
			}
			if idempotent(pending.route.Method) && !transportRetried {
				transportRetried = true
				logger.Warn("request failed, retrying once", "error", err)
				continue
			}
			return nil, err
		}

		bucket.update(response.Header)

		if response.StatusCode == http.StatusTooManyRequests {
			limit := parseThrottle(response.Header, body)
			if throttled >= d.maxRetries {
				return nil, &RateLimitExceededError{
					Route:      pending.route.Bucket,
					Attempts:   throttled + 1,
					RetryAfter: limit.retryAfter,
					Global:     limit.global,
				}
			}
			throttled++
			if limit.global {
				d.global.suspend(limit.retryAfter)
			} else {
				bucket.exhaust(limit.retryAfter)
			}
			logger.Info("rate limited, backing off",
				"duration", limit.retryAfter,
				"global", limit.global,
				"attempt", throttled,
			)
			continue
		}

		if response.StatusCode < 200 || response.StatusCode >= 300 {
			return nil, parseAPIError(response.StatusCode, pending.route.Bucket, body)
		}

		if pending.request.Upsert != 0 && d.cache != nil && len(body) > 0 {
			if _, err := d.cache.UpsertRaw(pending.request.Upsert, pending.request.Scope, body); err != nil {
				logger.Warn("response payload not cached", "kind", pending.request.Upsert.String(), "error", err)
			}
		}

		return &Response{
			StatusCode: response.StatusCode,
			Header:     response.Header,
			Body:       body,
			RequestID:  pending.requestID,
		}, nil
	}
}

// cancelled maps a context error caused by ShutdownAbandon to
// ErrClosed.
func (d *Dispatcher) cancelled(err error) error {
	if d.root.Err() != nil {
		return ErrClosed
	}
	return err
}

// send performs one HTTP attempt and reads the whole body.
func (d *Dispatcher) send(ctx context.Context, pending *call) (*http.Response, []byte, error) {
	token, err := d.tokenValue(ctx)
	if err != nil {
		return nil, nil, err
	}

	target := d.baseURL + pending.route.Path
	if len(pending.request.Query) > 0 {
		target += "?" + pending.request.Query.Encode()
	}

	var bodyReader io.Reader
	if pending.body != nil {
		bodyReader = bytes.NewReader(pending.body)
	}
	request, err := http.NewRequestWithContext(ctx, pending.route.Method, target, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("rest: creating request: %w", err)
	}
	request.Header.Set("Authorization", "Bot "+token)
	request.Header.Set("User-Agent", d.userAgent)
	if pending.contentType != "" {
		request.Header.Set("Content-Type", pending.contentType)
	}
	if pending.request.Reason != "" {
		request.Header.Set("X-Audit-Log-Reason", url.PathEscape(pending.request.Reason))
	}

	response, err := d.httpClient.Do(request)
	if err != nil {
		return nil, nil, fmt.Errorf("rest: %s %s: %w", pending.route.Method, pending.route.Path, err)
	}
	defer response.Body.Close()

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("rest: reading response body: %w", err)
	}
	return response, body, nil
}

// tokenValue fetches the token on first use. A failed fetch is retried
// by the next request.
func (d *Dispatcher) tokenValue(ctx context.Context) (string, error) {
	d.tokenMu.Lock()
	defer d.tokenMu.Unlock()
	if d.token != nil {
		return d.token.String(), nil
	}
	token, err := d.provider.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("rest: fetching token: %w", err)
	}
	d.token = token
	return token.String(), nil
}

// Close stops the dispatcher. New calls fail with ErrClosed. With
// ShutdownDrain, Close waits for queued calls until ctx ends, then
// abandons the rest. With ShutdownAbandon, in-flight calls are
// cancelled and queued ones fail with ErrClosed. Close is idempotent;
// later calls return the first result.
func (d *Dispatcher) Close(ctx context.Context, policy ShutdownPolicy) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		if policy == ShutdownAbandon {
			d.abandon()
		} else {
			finished := make(chan struct{})
			go func() {
				d.workers.Wait()
				close(finished)
			}()
			select {
			case <-finished:
			case <-ctx.Done():
				d.logger.Warn("drain interrupted, abandoning queued requests", "error", ctx.Err())
				d.abandon()
				d.closeErr = ctx.Err()
			}
		}
		d.cancelRoot()

		d.tokenMu.Lock()
		if d.token != nil {
			d.token.Close()
			d.token = nil
		}
		d.tokenMu.Unlock()
	})
	return d.closeErr
}

// abandon fails every queued call, cancels in-flight ones and waits
// for the workers to exit.
func (d *Dispatcher) abandon() {
	d.mu.Lock()
	for _, q := range d.queues {
		for _, pending := range q.pending {
			pending.done <- result{err: ErrClosed}
		}
		q.pending = nil
	}
	d.mu.Unlock()
	d.cancelRoot()
	d.workers.Wait()
}

// encode resolves the request body once, before queueing.
func (c *call) encode() error {
	if c.request.Encoder != nil {
		contentType, body, err := c.request.Encoder()
		if err != nil {
			return fmt.Errorf("rest: encoding request body: %w", err)
		}
		c.contentType = contentType
		c.body = body
		return nil
	}
	if c.request.Body != nil {
		body, err := json.Marshal(c.request.Body)
		if err != nil {
			return fmt.Errorf("rest: encoding request body: %w", err)
		}
		c.contentType = "application/json"
		c.body = body
	}
	return nil
}

func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}
