package telephony

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Status is the health of the control-plane connection.
type Status string

const (
	// StatusConnected means the event stream is live.
	StatusConnected Status = "connected"
	// StatusDisconnected means the stream is down and reconnection is
	// still being attempted.
	StatusDisconnected Status = "disconnected"
	// StatusError means the reconnection budget is exhausted and the
	// subsystem has given up. Terminal.
	StatusError Status = "error"
)

// ErrNotConnected is returned by commands issued while the control
// plane is unreachable.
var ErrNotConnected = errors.New("telephony: not connected")

// session is one live control-plane connection. The real implementation
// wraps an ARI client; tests substitute their own.
type session interface {
	Client
	// Events returns the event stream. The channel closes when the
	// underlying connection drops.
	Events() <-chan Event
	// Info probes the control plane and returns its version string.
	Info(ctx context.Context) (string, error)
	Close()
}

// dialFunc establishes one session attempt.
type dialFunc func(ctx context.Context) (session, error)

// Conn is a supervised control-plane connection. It owns reconnection:
// a dropped session is re-dialed with exponential backoff up to a fixed
// attempt cap, after which the Conn reports StatusError and stops
// rather than retrying forever. Commands delegate to the live session.
type Conn struct {
	dial        dialFunc
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger

	events chan Event

	mu      sync.RWMutex
	sess    session
	status  Status
	lastErr string
}

func newConn(dial dialFunc, maxAttempts int, baseDelay time.Duration, logger *slog.Logger) *Conn {
	return &Conn{
		dial:        dial,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger.With("subsystem", "telephony"),
		events:      make(chan Event, 64),
		status:      StatusDisconnected,
	}
}

// Events returns the merged event stream across reconnections. The
// channel closes when the Conn gives up or the run context ends.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Status returns the connection status and, when not connected, the
// last error message.
func (c *Conn) Status() (Status, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status, c.lastErr
}

// Run drives the connection until ctx is canceled or the reconnection
// budget is exhausted. It is meant to be run in its own goroutine.
func (c *Conn) Run(ctx context.Context) {
	defer close(c.events)

	bo := newBackoff(c.baseDelay)
	failures := 0

	for {
		sess, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			c.setStatus(StatusDisconnected, err.Error())
			if failures >= c.maxAttempts {
				c.logger.Error("giving up on control plane",
					"attempts", failures,
					"error", err,
				)
				c.setStatus(StatusError, err.Error())
				return
			}
			delay := bo.next()
			c.logger.Warn("control plane connect failed",
				"error", err,
				"attempt", failures,
				"retry_in", delay.String(),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		failures = 0
		bo.reset()
		c.setSession(sess)
		c.setStatus(StatusConnected, "")
		c.logger.Info("control plane connected")

		c.pump(ctx, sess)

		c.setSession(nil)
		sess.Close()
		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected, "shutting down")
			return
		}
		c.setStatus(StatusDisconnected, "event stream closed")
		c.logger.Warn("control plane connection lost, reconnecting")
	}
}

// pump forwards session events to the merged stream until the session's
// channel closes or ctx ends.
func (c *Conn) pump(ctx context.Context, sess session) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			select {
			case c.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Conn) setStatus(s Status, errMsg string) {
	c.mu.Lock()
	c.status = s
	c.lastErr = errMsg
	c.mu.Unlock()
}

func (c *Conn) setSession(s session) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
}

func (c *Conn) session() (session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

// Info probes the control plane through the live session.
func (c *Conn) Info(ctx context.Context) (string, error) {
	s, err := c.session()
	if err != nil {
		return "", err
	}
	return s.Info(ctx)
}

// Client delegation. Each command requires a live session.

func (c *Conn) Answer(ctx context.Context, channelID string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.Answer(ctx, channelID)
}

func (c *Conn) Hangup(ctx context.Context, channelID string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.Hangup(ctx, channelID)
}

func (c *Conn) Originate(ctx context.Context, req OriginateRequest) (string, error) {
	s, err := c.session()
	if err != nil {
		return "", err
	}
	return s.Originate(ctx, req)
}

func (c *Conn) SetChannelVar(ctx context.Context, channelID, name, value string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.SetChannelVar(ctx, channelID, name, value)
}

func (c *Conn) ContinueInDialplan(ctx context.Context, channelID, dialplanCtx, extension string, priority int) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.ContinueInDialplan(ctx, channelID, dialplanCtx, extension, priority)
}

func (c *Conn) CreateBridge(ctx context.Context, bridgeType string) (string, error) {
	s, err := c.session()
	if err != nil {
		return "", err
	}
	return s.CreateBridge(ctx, bridgeType)
}

func (c *Conn) AddChannel(ctx context.Context, bridgeID, channelID string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.AddChannel(ctx, bridgeID, channelID)
}

func (c *Conn) DestroyBridge(ctx context.Context, bridgeID string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.DestroyBridge(ctx, bridgeID)
}
