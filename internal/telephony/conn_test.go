package telephony

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeSession is a scriptable control-plane session.
type fakeSession struct {
	events chan Event
	closed bool
	mu     sync.Mutex
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan Event, 8)}
}

func (s *fakeSession) Events() <-chan Event { return s.events }

func (s *fakeSession) Info(context.Context) (string, error) { return "fake-1.0", nil }

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSession) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) Answer(context.Context, string) error { return nil }
func (s *fakeSession) Hangup(context.Context, string) error { return nil }
func (s *fakeSession) Originate(context.Context, OriginateRequest) (string, error) {
	return "ch", nil
}
func (s *fakeSession) SetChannelVar(context.Context, string, string, string) error { return nil }
func (s *fakeSession) ContinueInDialplan(context.Context, string, string, string, int) error {
	return nil
}
func (s *fakeSession) CreateBridge(context.Context, string) (string, error) { return "br", nil }
func (s *fakeSession) AddChannel(context.Context, string, string) error     { return nil }
func (s *fakeSession) DestroyBridge(context.Context, string) error          { return nil }

func waitStatus(t *testing.T, c *Conn, want Status) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if got, _ := c.Status(); got == want {
			return
		}
		select {
		case <-deadline:
			got, msg := c.Status()
			t.Fatalf("status = %q (%s), want %q", got, msg, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestConnGivesUpAfterMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	dial := func(ctx context.Context) (session, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, errors.New("connection refused")
	}

	c := newConn(dial, 3, time.Millisecond, slog.Default())

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not give up")
	}

	status, msg := c.Status()
	if status != StatusError {
		t.Errorf("status = %q, want error", status)
	}
	if msg != "connection refused" {
		t.Errorf("lastErr = %q", msg)
	}
	mu.Lock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	mu.Unlock()

	// The merged stream is closed on give-up so the dispatcher drains.
	if _, ok := <-c.Events(); ok {
		t.Error("events channel still open after give-up")
	}
}

func TestConnReconnectsAndResetsBudget(t *testing.T) {
	s1 := newFakeSession()
	s2 := newFakeSession()
	var mu sync.Mutex
	attempts := 0

	// Dial script: two failures, first session, one more failure after
	// the drop, second session. Three failures total; only a reset
	// budget after the first connect keeps that under the cap of 3
	// consecutive.
	dial := func(ctx context.Context) (session, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		switch attempts {
		case 1, 2, 4:
			return nil, errors.New("refused")
		case 3:
			return s1, nil
		default:
			return s2, nil
		}
	}

	c := newConn(dial, 3, time.Millisecond, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	waitStatus(t, c, StatusConnected)

	// Drop the first session.
	close(s1.events)

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := attempts
		mu.Unlock()
		if n >= 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("redial stalled after %d attempts", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	waitStatus(t, c, StatusConnected)

	if !s1.wasClosed() {
		t.Error("dropped session not closed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestConnForwardsEvents(t *testing.T) {
	sess := newFakeSession()
	dial := func(ctx context.Context) (session, error) { return sess, nil }

	c := newConn(dial, 3, time.Millisecond, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitStatus(t, c, StatusConnected)

	sess.events <- StasisStart{Application: "app", Channel: ChannelData{ID: "ch-1"}}

	select {
	case ev := <-c.Events():
		ss, ok := ev.(StasisStart)
		if !ok || ss.Channel.ID != "ch-1" {
			t.Errorf("forwarded event = %#v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not forwarded")
	}

	// Commands reach the live session.
	if err := c.Answer(ctx, "ch-1"); err != nil {
		t.Errorf("Answer() error: %v", err)
	}
	if v, err := c.Info(ctx); err != nil || v != "fake-1.0" {
		t.Errorf("Info() = %q, %v", v, err)
	}
}

func TestConnCommandsFailWhileDisconnected(t *testing.T) {
	c := newConn(func(ctx context.Context) (session, error) {
		return nil, errors.New("refused")
	}, 1, time.Millisecond, slog.Default())

	if err := c.Answer(context.Background(), "ch"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Answer() error = %v, want ErrNotConnected", err)
	}
	if _, err := c.Originate(context.Background(), OriginateRequest{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Originate() error = %v, want ErrNotConnected", err)
	}
	status, _ := c.Status()
	if status != StatusDisconnected {
		t.Errorf("status = %q, want disconnected before Run", status)
	}
}

func TestConnClosesSessionOnCancel(t *testing.T) {
	sess := newFakeSession()
	dial := func(ctx context.Context) (session, error) { return sess, nil }

	c := newConn(dial, 3, time.Millisecond, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	waitStatus(t, c, StatusConnected)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	if !sess.wasClosed() {
		t.Error("session not closed on shutdown")
	}
}
