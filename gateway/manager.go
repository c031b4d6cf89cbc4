// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/chorus/lib/clock"
	"github.com/bureau-foundation/chorus/rest"
)

// GatewayResolver reports the gateway URL, recommended shard count and
// identify concurrency. *rest.Dispatcher implements it.
type GatewayResolver interface {
	GatewayBot(ctx context.Context) (*rest.GatewayBotInfo, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Session is the template for every shard. ShardID, ShardCount and
	// IdentifyLimiter are set by the manager.
	Session Config

	// ShardCount of zero asks Resolver.
	ShardCount int

	// Shards restricts this process to a subset of shard IDs. Empty
	// runs every shard.
	Shards []int

	// Resolver is consulted when ShardCount is zero, Session.URL is
	// empty or MaxConcurrency is zero.
	Resolver GatewayResolver

	// IdentifyInterval defaults to DefaultIdentifyInterval.
	IdentifyInterval time.Duration

	// MaxConcurrency is the number of identify slots per interval.
	MaxConcurrency int

	// Resume seeds shards with persisted sessions. Entries recorded
	// with a different shard count are ignored.
	Resume []ResumeState
}

// Manager runs and supervises the sessions of one bot.
type Manager struct {
	config ManagerConfig
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	identify *IdentifyLimiter
	count    int
	sessions map[int]*Session
	resume   map[int]ResumeState
	cancel   context.CancelFunc
	running  bool
	closed   bool
}

// NewManager returns a manager. Nothing connects until Run.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.ShardCount < 0 {
		return nil, fmt.Errorf("gateway: negative shard count %d", config.ShardCount)
	}
	if config.Resolver == nil && (config.ShardCount == 0 || config.Session.URL == "") {
		return nil, errors.New("gateway: Resolver is required without ShardCount and URL")
	}
	if config.Session.Token == nil {
		return nil, errors.New("gateway: Token provider is required")
	}
	clk := config.Session.Clock
	if clk == nil {
		clk = clock.Real()
		config.Session.Clock = clk
	}
	logger := config.Session.Logger
	if logger == nil {
		logger = slog.Default()
		config.Session.Logger = logger
	}
	if config.Session.Random == nil {
		config.Session.Random = rand.Float64
	}
	if config.Session.MaxBackoff <= 0 {
		config.Session.MaxBackoff = DefaultMaxBackoff
	}

	resume := make(map[int]ResumeState, len(config.Resume))
	for _, state := range config.Resume {
		resume[state.ShardID] = state
	}
	return &Manager{
		config:   config,
		clock:    clk,
		logger:   logger,
		sessions: make(map[int]*Session),
		resume:   resume,
	}, nil
}

// Run resolves the shard layout, starts every shard and supervises
// them until ctx ends, Close is called, or a shard fails fatally. A
// fatal failure closes every other shard and is returned.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running || m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	if err := m.resolve(ctx); err != nil {
		return err
	}

	shards := m.config.Shards
	if len(shards) == 0 {
		shards = make([]int, m.count)
		for index := range shards {
			shards[index] = index
		}
	}
	for _, shardID := range shards {
		if shardID < 0 || shardID >= m.count {
			return fmt.Errorf("gateway: shard %d outside [0, %d)", shardID, m.count)
		}
	}

	m.logger.Info("starting shards",
		"shard_count", m.count,
		"shards", len(shards),
		"identify_interval", m.identify.Interval(),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, shardID := range shards {
		group.Go(func() error { return m.supervise(groupCtx, shardID) })
	}
	err := group.Wait()
	m.closeSessions()

	if m.isClosed() {
		return nil
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// resolve fills in the shard count, URL and identify limiter.
func (m *Manager) resolve(ctx context.Context) error {
	count := m.config.ShardCount
	concurrency := m.config.MaxConcurrency
	if count == 0 || m.config.Session.URL == "" || concurrency == 0 {
		if m.config.Resolver == nil {
			if count == 0 || m.config.Session.URL == "" {
				return errors.New("gateway: no resolver for shard count or URL")
			}
		} else {
			info, err := m.config.Resolver.GatewayBot(ctx)
			if err != nil {
				return fmt.Errorf("gateway: resolving gateway: %w", err)
			}
			if count == 0 {
				count = info.Shards
			}
			if m.config.Session.URL == "" {
				m.config.Session.URL = info.URL
			}
			if concurrency == 0 {
				concurrency = info.SessionStartLimit.MaxConcurrency
			}
			m.logger.Info("resolved gateway",
				"url", info.URL,
				"recommended_shards", info.Shards,
				"max_concurrency", info.SessionStartLimit.MaxConcurrency,
				"session_starts_remaining", info.SessionStartLimit.Remaining,
			)
		}
	}
	if count < 1 {
		count = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.count = count
	m.identify = NewIdentifyLimiter(m.config.IdentifyInterval, concurrency, m.clock)
	return nil
}

// Spawn constructs one session, seeds it with any stored resume state
// and starts it. The session waits on the shared identify limiter
// before identifying.
func (m *Manager) Spawn(ctx context.Context, shardID, shardCount int) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.identify == nil {
		m.identify = NewIdentifyLimiter(m.config.IdentifyInterval, m.config.MaxConcurrency, m.clock)
	}
	config := m.config.Session
	config.ShardID = shardID
	config.ShardCount = shardCount
	config.IdentifyLimiter = m.identify
	resume, hasResume := m.resume[shardID]
	m.mu.Unlock()

	session, err := NewSession(config)
	if err != nil {
		return nil, err
	}
	if hasResume && !session.WithResumeState(resume) {
		m.logger.Info("discarding stored session for a different shard layout",
			"shard_id", shardID,
			"stored_shard_count", resume.ShardCount,
			"shard_count", shardCount,
		)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.sessions[shardID] = session
	m.mu.Unlock()

	go session.Run(ctx)
	return session, nil
}

// supervise runs one shard, respawning it after non-fatal failures.
func (m *Manager) supervise(ctx context.Context, shardID int) error {
	logger := m.logger.With("shard_id", shardID)
	failures := 0
	for {
		session, err := m.Spawn(ctx, shardID, m.count)
		if errors.Is(err, ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		err = session.Wait()
		m.keepResumeState(session)

		switch {
		case m.isClosed() || ctx.Err() != nil:
			return nil
		case err == nil:
			return nil
		case IsFatal(err):
			logger.Error("shard failed fatally, stopping all shards", "error", err)
			return err
		}

		failures++
		delay := backoffDelay(failures, m.config.Session.MaxBackoff, m.config.Session.Random)
		logger.Warn("shard stopped, respawning", "error", err, "delay", delay, "attempt", failures)
		if err := sleep(ctx, m.clock, delay); err != nil {
			return nil
		}
	}
}

func (m *Manager) keepResumeState(session *Session) {
	state := session.ResumeState()
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.Valid() {
		m.resume[state.ShardID] = state
	} else {
		delete(m.resume, state.ShardID)
	}
}

func (m *Manager) closeSessions() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.Unlock()
	for _, session := range sessions {
		session.Close()
	}
	for _, session := range sessions {
		<-session.Done()
		m.keepResumeState(session)
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close stops every shard and waits for their sessions to end. It is
// idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.closeSessions()
	return nil
}

// Session returns the live session for shardID.
func (m *Manager) Session(shardID int) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[shardID]
	return session, ok
}

// ShardCount returns the resolved shard count, zero before Run.
func (m *Manager) ShardCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// ResumeStates returns the resumable sessions of every shard, ordered
// by shard ID. Call it after Close to persist sessions.
func (m *Manager) ResumeStates() []ResumeState {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	states := make(map[int]ResumeState, len(m.resume))
	for shardID, state := range m.resume {
		states[shardID] = state
	}
	m.mu.Unlock()

	for _, session := range sessions {
		if state := session.ResumeState(); state.Valid() {
			states[state.ShardID] = state
		}
	}
	result := make([]ResumeState, 0, len(states))
	for _, state := range states {
		result = append(result, state)
	}
	slices.SortFunc(result, func(a, b ResumeState) int { return a.ShardID - b.ShardID })
	return result
}
