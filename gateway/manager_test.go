// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/chorus/lib/clock"
	"github.com/bureau-foundation/chorus/lib/credential"
	"github.com/bureau-foundation/chorus/lib/testutil"
	"github.com/bureau-foundation/chorus/rest"
)

type fakeResolver struct {
	info  rest.GatewayBotInfo
	err   error
	calls int
}

func (r *fakeResolver) GatewayBot(context.Context) (*rest.GatewayBotInfo, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	info := r.info
	return &info, nil
}

type managerHarness struct {
	t       *testing.T
	clock   *clock.FakeClock
	dialer  *fakeDialer
	manager *Manager
	runErr  chan error
}

func newManagerHarness(t *testing.T, mutate func(*ManagerConfig)) *managerHarness {
	t.Helper()
	h := &managerHarness{
		t:      t,
		clock:  clock.Fake(testEpoch),
		dialer: newFakeDialer(),
		runErr: make(chan error, 1),
	}
	config := ManagerConfig{
		Session: Config{
			Token:  credential.Static("test-token"),
			Dialer: h.dialer,
			Clock:  h.clock,
			Random: func() float64 { return 0 },
		},
		Resolver: &fakeResolver{info: rest.GatewayBotInfo{
			URL:               "wss://gateway.test",
			Shards:            2,
			SessionStartLimit: rest.SessionStartLimit{Total: 1000, Remaining: 999, MaxConcurrency: 1},
		}},
	}
	if mutate != nil {
		mutate(&config)
	}
	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h.manager = manager
	t.Cleanup(func() { manager.Close() })
	return h
}

func (h *managerHarness) start() {
	go func() { h.runErr <- h.manager.Run(context.Background()) }()
}

func (h *managerHarness) accept() *fakeConn {
	h.t.Helper()
	return testutil.RequireReceive(h.t, h.dialer.conns, testTimeout, "waiting for dial")
}

func sendHello(t *testing.T, conn *fakeConn) {
	t.Helper()
	conn.send(t, OpHello, map[string]any{"heartbeat_interval": testInterval.Milliseconds()})
}

func TestManagerSpacesIdentifies(t *testing.T) {
	h := newManagerHarness(t, nil)
	h.start()
	first, second := h.accept(), h.accept()
	for _, conn := range []*fakeConn{first, second} {
		sendHello(t, conn)
		if frame := conn.next(t); frame.Op != OpHeartbeat {
			t.Fatalf("first frame = op %s, want heartbeat", frame.Op)
		}
	}

	// One shard identifies at once; the other waits on the shared
	// limiter while both keep heartbeating.
	h.clock.WaitForTimers(3)
	waitFor(t, "first identify", func() bool { return len(first.outbound)+len(second.outbound) == 1 })

	h.clock.Advance(DefaultIdentifyInterval)
	var shards [][2]int
	for _, conn := range []*fakeConn{first, second} {
		frame := conn.next(t)
		if frame.Op != OpIdentify {
			t.Fatalf("got op %s, want identify", frame.Op)
		}
		var payload identifyPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			t.Fatalf("decoding identify: %v", err)
		}
		shards = append(shards, payload.Shard)
	}
	slices.SortFunc(shards, func(a, b [2]int) int { return a[0] - b[0] })
	if !slices.Equal(shards, [][2]int{{0, 2}, {1, 2}}) {
		t.Errorf("identified shards %v", shards)
	}
	if h.manager.ShardCount() != 2 {
		t.Errorf("ShardCount = %d", h.manager.ShardCount())
	}
}

func TestManagerFatalStopsEveryShard(t *testing.T) {
	h := newManagerHarness(t, nil)
	h.start()
	first, second := h.accept(), h.accept()

	first.serverClose(CloseDisallowedIntents)
	err := testutil.RequireReceive(t, h.runErr, testTimeout, "waiting for Run")
	var fatal *FatalError
	if !errors.As(err, &fatal) || fatal.Code != CloseDisallowedIntents {
		t.Fatalf("Run = %v, want FatalError 4014", err)
	}
	testutil.RequireClosed(t, second.closed, testTimeout, "surviving shard was not closed")
	if h.dialer.dials() != 2 {
		t.Errorf("dials = %d after a fatal close", h.dialer.dials())
	}
}

func TestManagerRespawnsExhaustedShard(t *testing.T) {
	h := newManagerHarness(t, func(config *ManagerConfig) {
		config.Resolver = nil
		config.ShardCount = 1
		config.Session.URL = "wss://gateway.test"
		config.Session.MaxReconnectAttempts = 1
	})
	h.dialer.failures = 2
	h.start()

	// Session backoff after the first failed dial.
	h.clock.WaitForTimers(1)
	h.clock.Advance(500 * time.Millisecond)
	// Supervisor backoff after the session gave up.
	h.clock.WaitForTimers(1)
	h.clock.Advance(500 * time.Millisecond)

	conn := h.accept()
	sendHello(t, conn)
	conn.expect(t, OpHeartbeat, OpIdentify)
	if h.dialer.dials() != 3 {
		t.Errorf("dials = %d, want 3", h.dialer.dials())
	}
}

func TestManagerCloseKeepsResumeStates(t *testing.T) {
	h := newManagerHarness(t, func(config *ManagerConfig) {
		config.Resolver = nil
		config.ShardCount = 1
		config.Session.URL = "wss://gateway.test"
		config.Session.PreserveOnClose = true
	})
	h.start()
	conn := h.accept()
	sendHello(t, conn)
	conn.expect(t, OpHeartbeat, OpIdentify)
	conn.dispatch(t, "READY", 7, map[string]any{
		"session_id":         "session-1",
		"resume_gateway_url": "wss://resume.test",
		"user":               map[string]any{"id": "10"},
	})
	session, ok := h.manager.Session(0)
	if !ok {
		t.Fatal("no session for shard 0")
	}
	waitFor(t, "ready", func() bool { return session.State() == StateReady })

	h.manager.Close()
	if err := testutil.RequireReceive(t, h.runErr, testTimeout, "waiting for Run"); err != nil {
		t.Fatalf("Run after Close = %v", err)
	}
	states := h.manager.ResumeStates()
	want := []ResumeState{{ShardID: 0, ShardCount: 1, SessionID: "session-1", ResumeURL: "wss://resume.test", Sequence: 7}}
	if !slices.Equal(states, want) {
		t.Errorf("ResumeStates = %+v, want %+v", states, want)
	}
	if err := h.manager.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Run after Close = %v, want ErrClosed", err)
	}
}

func TestManagerResumesStoredSessions(t *testing.T) {
	h := newManagerHarness(t, func(config *ManagerConfig) {
		config.ShardCount = 2
		config.Shards = []int{1}
		config.Resume = []ResumeState{
			{ShardID: 1, ShardCount: 2, SessionID: "stored", ResumeURL: "wss://resume.test", Sequence: 9},
		}
	})
	h.start()
	conn := h.accept()
	if parsed, _ := url.Parse(conn.url); parsed.Host != "resume.test" {
		t.Errorf("dialed %q, want the stored resume URL", conn.url)
	}
	sendHello(t, conn)
	frames := conn.expect(t, OpHeartbeat, OpResume)
	var payload resumePayload
	if err := json.Unmarshal(frames[OpResume], &payload); err != nil {
		t.Fatalf("decoding resume: %v", err)
	}
	if payload.SessionID != "stored" || payload.Sequence != 9 {
		t.Errorf("resume = %+v", payload)
	}
	select {
	case extra := <-h.dialer.conns:
		t.Errorf("dialed shard outside the configured subset: %s", extra.url)
	default:
	}
}

func TestManagerResolverFailure(t *testing.T) {
	h := newManagerHarness(t, func(config *ManagerConfig) {
		config.Resolver = &fakeResolver{err: errors.New("boom")}
	})
	h.start()
	err := testutil.RequireReceive(t, h.runErr, testTimeout, "waiting for Run")
	if err == nil || h.dialer.dials() != 0 {
		t.Fatalf("Run = %v after %d dials", err, h.dialer.dials())
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(ManagerConfig{Session: Config{Token: credential.Static("x")}}); err == nil {
		t.Error("accepted a manager with no resolver, shard count or URL")
	}
	if _, err := NewManager(ManagerConfig{ShardCount: 1, Session: Config{URL: "wss://gateway.test"}}); err == nil {
		t.Error("accepted a manager with no token")
	}
}
