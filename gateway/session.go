// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/chorus/cache"
	"github.com/bureau-foundation/chorus/events"
	"github.com/bureau-foundation/chorus/lib/clock"
	"github.com/bureau-foundation/chorus/lib/credential"
	"github.com/bureau-foundation/chorus/lib/netutil"
	"github.com/bureau-foundation/chorus/lib/secret"
)

const (
	// DefaultVersion is the gateway protocol version.
	DefaultVersion = 10

	// DefaultMaxBackoff caps the reconnect delay.
	DefaultMaxBackoff = 2 * time.Minute

	// DefaultLargeThreshold is the member count above which GUILD_CREATE
	// omits offline members.
	DefaultLargeThreshold = 50

	// baseBackoff is the first non-zero reconnect delay.
	baseBackoff = time.Second

	// maxMissedAcks is how many heartbeats may go unacknowledged before
	// the connection is considered dead.
	maxMissedAcks = 2

	// maxProtocolErrors is how many consecutive malformed or unexpected
	// frames are dropped before the connection is torn down.
	maxProtocolErrors = 5

	// frameQueue is how many decoded frames may wait for processLoop
	// before readLoop stops reading.
	frameQueue = 256

	// sendLimit and sendBurst allow 120 outbound commands per minute.
	sendLimit = rate.Limit(2)
	sendBurst = 120
)

// State is a session's position in its lifecycle.
//
// A fresh connection moves Connecting, Identifying, Ready. A resumed
// one moves Resuming, Ready and never enters Identifying. A lost
// connection moves Disconnected, Reconnecting, then Connecting or
// Resuming again. Closed is final. Idle is only seen before Run.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateIdentifying
	StateReady
	StateResuming
	StateDisconnected
	StateReconnecting
	StateClosed
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateConnecting:   "connecting",
	StateIdentifying:  "identifying",
	StateReady:        "ready",
	StateResuming:     "resuming",
	StateDisconnected: "disconnected",
	StateReconnecting: "reconnecting",
	StateClosed:       "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// ResumeState is what a session needs to resume after a restart.
type ResumeState struct {
	ShardID    int    `json:"shard_id" cbor:"shard_id"`
	ShardCount int    `json:"shard_count" cbor:"shard_count"`
	SessionID  string `json:"session_id" cbor:"session_id"`
	ResumeURL  string `json:"resume_url" cbor:"resume_url"`
	Sequence   int64  `json:"sequence" cbor:"sequence"`
}

// Valid reports whether the state can be used to resume.
func (r ResumeState) Valid() bool { return r.SessionID != "" && r.Sequence > 0 }

// Config configures a Session.
type Config struct {
	ShardID    int
	ShardCount int

	// URL is the gateway URL from GET /gateway/bot. Required.
	URL string

	// Version defaults to DefaultVersion.
	Version int

	// Encoding is EncodingJSON (default) or EncodingCBOR.
	Encoding string

	// Compress asks the server for zlib-compressed payloads.
	Compress bool

	Intents Intents

	// LargeThreshold defaults to DefaultLargeThreshold.
	LargeThreshold int

	// Token supplies the bot token. Required.
	Token credential.Provider

	// Dialer defaults to WebsocketDialer{}.
	Dialer Dialer

	// Cache receives every entity the session observes. Defaults to a
	// cache with every kind enabled.
	Cache *cache.Cache

	// Bus receives typed events. Defaults to a new bus.
	Bus *events.Bus

	// IdentifyLimiter is shared by every shard of one bot. Defaults to
	// a private limiter with one slot.
	IdentifyLimiter *IdentifyLimiter

	// MaxBackoff defaults to DefaultMaxBackoff.
	MaxBackoff time.Duration

	// MaxReconnectAttempts ends Run with ErrReconnectExhausted after
	// that many consecutive connections fail before reaching Ready.
	// Zero retries forever.
	MaxReconnectAttempts int

	// PreserveOnClose closes the socket with a resumable code on
	// shutdown so the session can be resumed from a snapshot. By
	// default shutdown closes with 1000, which ends the session.
	PreserveOnClose bool

	// OnStateChange is called synchronously on every transition.
	OnStateChange func(from, to State)

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Random returns values in [0, 1) for heartbeat and backoff
	// jitter. Defaults to math/rand/v2.Float64.
	Random func() float64
}

// Session is one shard's gateway connection and its reconnect loop.
type Session struct {
	shardID         int
	shardCount      int
	gatewayURL      string
	version         int
	codec           frameCodec
	compress        bool
	intents         Intents
	largeThreshold  int
	provider        credential.Provider
	dialer          Dialer
	cache           *cache.Cache
	bus             *events.Bus
	identify        *IdentifyLimiter
	sendLimiter     *rate.Limiter
	maxBackoff      time.Duration
	maxAttempts     int
	preserveOnClose bool
	onStateChange   func(from, to State)
	clock           clock.Clock
	logger          *slog.Logger
	random          func() float64

	state   atomic.Int32
	closing atomic.Bool
	done    chan struct{}
	once    sync.Once
	result  error

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	sessionID string
	resumeURL string
	sequence  int64
	active    *connection
	latency   time.Duration

	tokenMu sync.Mutex
	token   *secret.Buffer
}

// NewSession validates config and returns an idle session.
func NewSession(config Config) (*Session, error) {
	if config.URL == "" {
		return nil, errors.New("gateway: URL is required")
	}
	if config.Token == nil {
		return nil, errors.New("gateway: Token provider is required")
	}
	if config.ShardCount < 1 {
		config.ShardCount = 1
	}
	if config.ShardID < 0 || config.ShardID >= config.ShardCount {
		return nil, fmt.Errorf("gateway: shard %d outside [0, %d)", config.ShardID, config.ShardCount)
	}
	frameCodec, err := newFrameCodec(config.Encoding)
	if err != nil {
		return nil, err
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := config.Version
	if version == 0 {
		version = DefaultVersion
	}
	largeThreshold := config.LargeThreshold
	if largeThreshold == 0 {
		largeThreshold = DefaultLargeThreshold
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	entityCache := config.Cache
	if entityCache == nil {
		entityCache = cache.New(cache.Config{Policy: cache.AllEnabled(), Logger: logger})
	}
	bus := config.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}
	identify := config.IdentifyLimiter
	if identify == nil {
		identify = NewIdentifyLimiter(DefaultIdentifyInterval, 1, clk)
	}
	maxBackoff := config.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	random := config.Random
	if random == nil {
		random = rand.Float64
	}

	session := &Session{
		shardID:         config.ShardID,
		shardCount:      config.ShardCount,
		gatewayURL:      config.URL,
		version:         version,
		codec:           frameCodec,
		compress:        config.Compress,
		intents:         config.Intents,
		largeThreshold:  largeThreshold,
		provider:        config.Token,
		dialer:          dialer,
		cache:           entityCache,
		bus:             bus,
		identify:        identify,
		sendLimiter:     rate.NewLimiter(sendLimit, sendBurst),
		maxBackoff:      maxBackoff,
		maxAttempts:     config.MaxReconnectAttempts,
		preserveOnClose: config.PreserveOnClose,
		onStateChange:   config.OnStateChange,
		clock:           clk,
		logger:          logger.With("shard_id", config.ShardID),
		random:          random,
		done:            make(chan struct{}),
	}
	return session, nil
}

// ShardID returns the session's shard.
func (s *Session) ShardID() int { return s.shardID }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until Run returns and reports its result.
func (s *Session) Wait() error {
	<-s.done
	return s.result
}

// Latency is the round trip of the last acknowledged heartbeat.
func (s *Session) Latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency
}

// ResumeState returns the stored session, for persisting across
// restarts.
func (s *Session) ResumeState() ResumeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ResumeState{
		ShardID:    s.shardID,
		ShardCount: s.shardCount,
		SessionID:  s.sessionID,
		ResumeURL:  s.resumeURL,
		Sequence:   s.sequence,
	}
}

// WithResumeState seeds the session with a persisted session so the
// first connection resumes. State recorded for a different shard
// layout is ignored. Returns false when the state was not applied.
func (s *Session) WithResumeState(state ResumeState) bool {
	if !state.Valid() || state.ShardID != s.shardID || state.ShardCount != s.shardCount {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.sessionID = state.SessionID
	s.resumeURL = state.ResumeURL
	s.sequence = state.Sequence
	return true
}

// Run connects and keeps the session alive until Close, ctx ends, or a
// fatal close. It returns nil after Close, ctx's error after
// cancellation, a *FatalError for non-resumable close codes, and
// ErrReconnectExhausted when MaxReconnectAttempts is exceeded. Run may
// be called once.
func (s *Session) Run(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	defer func() { s.finish(err) }()
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("gateway session panicked", "panic", recovered)
			err = fmt.Errorf("gateway: shard %d panicked: %v", s.shardID, recovered)
		}
	}()
	defer s.releaseToken()
	defer s.setState(StateClosed)
	defer cancel()

	failures := 0
	for {
		resume := s.canResume()
		if resume {
			s.setState(StateResuming)
		} else {
			s.setState(StateConnecting)
		}

		reachedReady, end := s.connect(ctx, resume)
		if s.closing.Load() {
			if !s.preserveOnClose {
				s.clearSession()
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger := s.logger.With(
			"close_code", end.code,
			"remote", end.remote,
			"action", end.action.String(),
			"reason", end.reason,
		)
		if end.err != nil {
			logger = logger.With("error", end.err)
		}

		switch end.action {
		case ActionFatal:
			logger.Error("gateway session ended")
			return &FatalError{ShardID: s.shardID, Code: end.code, Reason: end.reason}
		case ActionReidentify:
			// The next READY rebuilds this shard's guilds. Entries from
			// the dead session would otherwise linger.
			s.clearSession()
			s.cache.ClearShard(s.shardID, s.shardCount)
		}

		if reachedReady {
			failures = 0
		} else {
			failures++
		}
		if s.maxAttempts > 0 && failures > s.maxAttempts {
			logger.Error("giving up reconnecting", "attempts", failures)
			return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, failures, end)
		}

		s.setState(StateDisconnected)
		delay := s.backoff(failures)
		level := slog.LevelInfo
		if end.abrupt {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "gateway disconnected, reconnecting", "delay", delay, "attempt", failures)
		s.setState(StateReconnecting)
		if err := sleep(ctx, s.clock, delay); err != nil {
			if s.closing.Load() {
				return nil
			}
			return err
		}
	}
}

// Close ends the session. Heartbeat timers and backoff waits are
// cancelled immediately and the socket is closed. Close is idempotent
// and does not wait for Run to return; use Done for that.
func (s *Session) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	if !s.running {
		// Run was never called; mark it as done so it refuses to start.
		s.running = true
		s.mu.Unlock()
		s.setState(StateClosed)
		s.finish(nil)
		return nil
	}
	cancel := s.cancel
	s.mu.Unlock()
	cancel()
	return nil
}

func (s *Session) finish(err error) {
	s.once.Do(func() {
		s.result = err
		close(s.done)
	})
}

// Send writes an outbound command. Commands share a 120-per-minute
// budget; Send waits for budget on the session clock.
func (s *Session) Send(ctx context.Context, op Opcode, data any) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return ErrNotConnected
	}
	return s.send(ctx, active, op, data)
}

// backoff returns the delay before reconnect attempt failures. The
// first reconnect after a healthy connection is immediate; later ones
// grow from baseBackoff, doubling up to maxBackoff, with jitter over
// the upper half of the delay.
func (s *Session) backoff(failures int) time.Duration {
	return backoffDelay(failures, s.maxBackoff, s.random)
}

func backoffDelay(failures int, maxBackoff time.Duration, random func() float64) time.Duration {
	if failures <= 0 {
		return 0
	}
	delay := baseBackoff
	for range failures - 1 {
		delay *= 2
		if delay >= maxBackoff {
			delay = maxBackoff
			break
		}
	}
	half := delay / 2
	return half + time.Duration(float64(half)*random())
}

func (s *Session) setState(next State) {
	previous := State(s.state.Swap(int32(next)))
	if previous == next {
		return
	}
	s.logger.Debug("gateway state changed", "from", previous.String(), "to", next.String())
	if s.onStateChange != nil {
		s.onStateChange(previous, next)
	}
}

func (s *Session) canResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID != "" && s.sequence > 0
}

// clearSession forgets the session so the next connection identifies.
func (s *Session) clearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = ""
	s.resumeURL = ""
	s.sequence = 0
}

func (s *Session) setSequence(sequence int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sequence > s.sequence {
		s.sequence = sequence
	}
}

func (s *Session) lastSequence() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence, s.sequence > 0
}

func (s *Session) dialURL(resume bool) (string, error) {
	s.mu.Lock()
	base := s.gatewayURL
	if resume && s.resumeURL != "" {
		base = s.resumeURL
	}
	s.mu.Unlock()

	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("gateway: parsing URL %q: %w", base, err)
	}
	query := parsed.Query()
	query.Set("v", strconv.Itoa(s.version))
	query.Set("encoding", s.codec.name())
	parsed.RawQuery = query.Encode()
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return parsed.String(), nil
}

// tokenValue fetches the token on first use and keeps it for the
// session's lifetime.
func (s *Session) tokenValue(ctx context.Context) (string, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	if s.token == nil {
		token, err := s.provider.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("gateway: fetching token: %w", err)
		}
		s.token = token
	}
	return s.token.String(), nil
}

func (s *Session) releaseToken() {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	if s.token != nil {
		s.token.Close()
		s.token = nil
	}
}

// connection is the state of one socket.
type connection struct {
	id   string
	conn Conn

	writeMu sync.Mutex

	failOnce sync.Once
	end      *disconnect

	mu             sync.Mutex
	unacked        int
	lastBeat       time.Time
	helloSeen      bool
	ready          bool
	protocolErrors int
}

// fail records why the connection ends and closes the socket. Only the
// first call has an effect. It returns the recorded reason.
func (c *connection) fail(end *disconnect) error {
	c.failOnce.Do(func() {
		c.end = end
		_ = c.conn.Close(end.code, end.reason)
	})
	return c.end
}

func (c *connection) markReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = true
}

func (c *connection) isReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// connect runs one socket until it ends. It reports whether the
// connection reached Ready (or resumed) and why it ended.
func (s *Session) connect(ctx context.Context, resume bool) (bool, *disconnect) {
	target, err := s.dialURL(resume)
	if err != nil {
		return false, &disconnect{action: ActionFatal, reason: "invalid gateway URL", err: err}
	}
	conn, err := s.dialer.Dial(ctx, target)
	if err != nil {
		action := ActionReidentify
		if resume {
			action = ActionResume
		}
		return false, &disconnect{code: CloseGoingAway, action: action, reason: "dial failed", err: err}
	}

	active := &connection{id: uuid.NewString(), conn: conn}
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.active == active {
			s.active = nil
		}
		s.mu.Unlock()
	}()

	s.logger.Info("gateway connected", "connection_id", active.id, "resume", resume)

	group, groupCtx := errgroup.WithContext(ctx)
	frames := make(chan Frame, frameQueue)
	group.Go(func() error { return s.readLoop(groupCtx, active, frames) })
	group.Go(func() error { return s.processLoop(groupCtx, group, active, frames, resume) })
	group.Go(func() error {
		<-groupCtx.Done()
		code := closeIntentionalShutdown
		if s.preserveOnClose {
			code = closeReconnectLocally
		}
		return active.fail(&disconnect{code: code, shutdown: true, action: ActionReidentify, reason: "shutting down"})
	})
	_ = group.Wait()

	return active.isReady(), active.end
}

// readLoop reads and decodes frames in arrival order. Heartbeat
// traffic is answered here; every other frame is queued for
// processLoop. A handler blocked on identify spacing or on a slow
// subscriber therefore never holds back an ack, until the frame queue
// fills.
func (s *Session) readLoop(ctx context.Context, active *connection, frames chan<- Frame) error {
	for {
		messageType, message, err := active.conn.ReadMessage()
		if err != nil {
			return active.fail(readFailure(err))
		}
		frame, err := s.decodeMessage(messageType, message)
		if err != nil {
			if failure := s.protocolError(active, err); failure != nil {
				return failure
			}
			continue
		}
		s.protocolOK(active)

		switch frame.Op {
		case OpHeartbeatAck:
			s.acknowledge(active)
			continue
		case OpHeartbeat:
			if err := s.sendHeartbeat(ctx, active, false); err != nil {
				return active.fail(writeFailure(err))
			}
			continue
		}

		select {
		case frames <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func readFailure(err error) *disconnect {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return &disconnect{
			code:   closeErr.Code,
			remote: true,
			action: ClassifyCloseCode(closeErr.Code),
			reason: closeErr.Reason,
			err:    err,
		}
	}
	failure := &disconnect{code: closeReconnectLocally, remote: true, action: ActionResume, err: err}
	switch {
	case netutil.IsTimeout(err):
		failure.reason = "read timed out"
		failure.abrupt = true
	case netutil.IsExpectedCloseError(err):
		failure.reason = "connection closed"
	default:
		failure.reason = "connection lost"
		failure.abrupt = true
	}
	return failure
}

// acknowledge records a heartbeat ack and the beat's round trip.
func (s *Session) acknowledge(active *connection) {
	now := s.clock.Now()
	active.mu.Lock()
	active.unacked = 0
	latency := now.Sub(active.lastBeat)
	active.mu.Unlock()
	s.mu.Lock()
	s.latency = latency
	s.mu.Unlock()
}

func (s *Session) decodeMessage(messageType int, message []byte) (Frame, error) {
	if messageType == BinaryMessage && isZlib(message) {
		inflated, err := inflate(message)
		if err != nil {
			return Frame{}, err
		}
		message = inflated
	}
	return s.codec.decode(message)
}

// protocolError logs a dropped frame and tears the connection down
// once more than maxProtocolErrors happen in a row.
func (s *Session) protocolError(active *connection, err error) error {
	active.mu.Lock()
	active.protocolErrors++
	count := active.protocolErrors
	active.mu.Unlock()

	s.logger.Warn("dropping gateway frame", "error", err, "consecutive", count)
	if count > maxProtocolErrors {
		return active.fail(&disconnect{
			code:   closeReconnectLocally,
			action: ActionResume,
			reason: "too many protocol errors",
			err:    err,
		})
	}
	return nil
}

func (s *Session) protocolOK(active *connection) {
	active.mu.Lock()
	active.protocolErrors = 0
	active.mu.Unlock()
}

// processLoop handles frames one at a time, in arrival order. A panic
// while handling a frame drops the connection for a resume.
func (s *Session) processLoop(ctx context.Context, group *errgroup.Group, active *connection, frames <-chan Frame, resume bool) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("panic handling gateway frame", "panic", recovered)
			err = active.fail(&disconnect{
				code:   closeReconnectLocally,
				action: ActionResume,
				reason: "panic handling frame",
				err:    fmt.Errorf("%v", recovered),
			})
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-frames:
			err := s.handleFrame(ctx, group, active, frame, resume)
			var end *disconnect
			switch {
			case err == nil:
			case errors.As(err, &end):
				return err
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				if failure := s.protocolError(active, err); failure != nil {
					return failure
				}
			}
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, group *errgroup.Group, active *connection, frame Frame, resume bool) error {
	switch frame.Op {
	case OpHello:
		return s.handleHello(ctx, group, active, frame, resume)

	case OpReconnect:
		s.logger.Info("server requested reconnect")
		return active.fail(&disconnect{code: closeReconnectLocally, remote: true, action: ActionResume, reason: "server requested reconnect"})

	case OpInvalidSession:
		var resumable bool
		if len(frame.Data) > 0 {
			if err := s.codec.unmarshal(frame.Data, &resumable); err != nil {
				return fmt.Errorf("gateway: decoding invalid session: %w", err)
			}
		}
		if resumable {
			s.logger.Info("session invalidated, retrying resume")
			return active.fail(&disconnect{code: closeReconnectLocally, remote: true, action: ActionResume, reason: "invalid session (resumable)"})
		}
		s.logger.Warn("session invalidated, identifying again")
		s.clearSession()
		s.cache.ClearShard(s.shardID, s.shardCount)
		return active.fail(&disconnect{code: closeReconnectLocally, remote: true, action: ActionReidentify, reason: "invalid session"})

	case OpDispatch:
		if frame.HasSeq {
			s.setSequence(frame.Sequence)
		}
		return s.dispatch(active, frame)

	default:
		return fmt.Errorf("gateway: unexpected opcode %s", frame.Op)
	}
}

func (s *Session) handleHello(ctx context.Context, group *errgroup.Group, active *connection, frame Frame, resume bool) error {
	var payload hello
	if err := s.codec.unmarshal(frame.Data, &payload); err != nil {
		return fmt.Errorf("gateway: decoding hello: %w", err)
	}
	if payload.HeartbeatInterval <= 0 {
		return fmt.Errorf("gateway: hello with heartbeat interval %d", payload.HeartbeatInterval)
	}
	active.mu.Lock()
	repeated := active.helloSeen
	active.helloSeen = true
	active.mu.Unlock()
	if repeated {
		return errors.New("gateway: repeated hello")
	}

	interval := time.Duration(payload.HeartbeatInterval) * time.Millisecond
	group.Go(func() error { return s.heartbeatLoop(ctx, active, interval) })

	token, err := s.tokenValue(ctx)
	if err != nil {
		return active.fail(&disconnect{code: closeIntentionalShutdown, action: ActionFatal, reason: "no token", err: err})
	}

	if resume {
		s.mu.Lock()
		payload := resumePayload{Token: token, SessionID: s.sessionID, Sequence: s.sequence}
		s.mu.Unlock()
		s.logger.Info("resuming session", "sequence", payload.Sequence)
		if err := s.send(ctx, active, OpResume, payload); err != nil {
			return active.fail(writeFailure(err))
		}
		return nil
	}

	s.setState(StateIdentifying)
	if err := s.identify.Wait(ctx, s.shardID); err != nil {
		return err
	}
	identify := identifyPayload{
		Token:   token,
		Intents: s.intents,
		Shard:   [2]int{s.shardID, s.shardCount},
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: "chorus",
			Device:  "chorus",
		},
		LargeThreshold: s.largeThreshold,
		Compress:       s.compress,
	}
	s.logger.Info("identifying", "shard_count", s.shardCount, "intents", s.intents.String())
	if err := s.send(ctx, active, OpIdentify, identify); err != nil {
		return active.fail(writeFailure(err))
	}
	return nil
}

// heartbeatLoop beats every interval, starting after a random fraction
// of the first interval. A beat that finds maxMissedAcks beats still
// unacknowledged closes the connection for a resume.
func (s *Session) heartbeatLoop(ctx context.Context, active *connection, interval time.Duration) error {
	timer := s.clock.NewTimer(time.Duration(float64(interval) * s.random()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		active.mu.Lock()
		missed := active.unacked
		active.mu.Unlock()
		if missed >= maxMissedAcks {
			s.logger.Warn("heartbeat not acknowledged, reconnecting", "missed", missed, "interval", interval)
			return active.fail(&disconnect{code: closeReconnectLocally, action: ActionResume, reason: "heartbeat not acknowledged"})
		}
		if err := s.sendHeartbeat(ctx, active, true); err != nil {
			return active.fail(writeFailure(err))
		}
		timer.Reset(interval)
	}
}

// sendHeartbeat writes op 1 with the last sequence. Heartbeats bypass
// the command budget. counted beats expect an ack.
func (s *Session) sendHeartbeat(ctx context.Context, active *connection, counted bool) error {
	var data any
	if sequence, ok := s.lastSequence(); ok {
		data = sequence
	}
	if counted {
		active.mu.Lock()
		active.unacked++
		active.lastBeat = s.clock.Now()
		active.mu.Unlock()
	}
	return s.write(active, OpHeartbeat, data)
}

// send waits for command budget and writes one frame.
func (s *Session) send(ctx context.Context, active *connection, op Opcode, data any) error {
	now := s.clock.Now()
	reservation := s.sendLimiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		s.logger.Debug("gateway send budget exhausted, waiting", "delay", delay, "op", op.String())
		if err := sleep(ctx, s.clock, delay); err != nil {
			reservation.CancelAt(s.clock.Now())
			return err
		}
	}
	return s.write(active, op, data)
}

func (s *Session) write(active *connection, op Opcode, data any) error {
	messageType, message, err := s.codec.encode(op, data)
	if err != nil {
		return err
	}
	active.writeMu.Lock()
	defer active.writeMu.Unlock()
	if err := active.conn.WriteMessage(messageType, message); err != nil {
		return fmt.Errorf("gateway: writing %s: %w", op, err)
	}
	return nil
}

func writeFailure(err error) *disconnect {
	return &disconnect{code: closeReconnectLocally, action: ActionResume, reason: "write failed", err: err}
}
