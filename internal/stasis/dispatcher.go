// Package stasis contains the call orchestrators: the single-leg AI
// flow, the two-leg agent/customer bridge flow, and the dispatcher that
// routes control-plane events to them.
package stasis

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dialhub/dialhub/internal/telephony"
)

// Handler drives the call flow for one stasis application. StasisStart
// is routed by application name; channel and bridge teardown events
// fan out to every handler, which ignores channels it does not own.
type Handler interface {
	HandleStasisStart(ctx context.Context, ev telephony.StasisStart)
	HandleChannelDestroyed(ctx context.Context, ev telephony.ChannelDestroyed)
	HandleChannelStateChange(ctx context.Context, ev telephony.ChannelStateChange)
	HandleBridgeDestroyed(ctx context.Context, ev telephony.BridgeDestroyed)
}

// Dispatcher routes control-plane events to registered handlers.
//
// Ordering contract: events are serialized per channel (and per
// bridge), so a destroy handler never runs while the same channel's
// start handler is still mutating shared state. Events for different
// channels are processed fully in parallel, and no handler may block
// the intake loop.
type Dispatcher struct {
	logger *slog.Logger

	mu     sync.Mutex
	apps   map[string]Handler
	all    []Handler
	queues map[string]*eventQueue

	wg sync.WaitGroup
}

// eventQueue serializes work for one channel or bridge. The queue is
// removed from the map once drained; a later event for the same key
// starts a fresh one.
type eventQueue struct {
	pending []func()
	running bool
}

// NewDispatcher creates an empty dispatcher. Register handlers before
// calling Run.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger.With("subsystem", "dispatcher"),
		apps:   make(map[string]Handler),
		queues: make(map[string]*eventQueue),
	}
}

// Register binds a stasis application name to its handler.
func (d *Dispatcher) Register(app string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.apps[app] = h
	d.all = append(d.all, h)
}

// Run consumes events until the channel closes, then waits for all
// in-flight handlers to finish.
func (d *Dispatcher) Run(ctx context.Context, events <-chan telephony.Event) {
	for ev := range events {
		d.route(ctx, ev)
	}
	d.wg.Wait()
}

func (d *Dispatcher) route(ctx context.Context, ev telephony.Event) {
	switch e := ev.(type) {
	case telephony.StasisStart:
		d.mu.Lock()
		h, ok := d.apps[e.Application]
		d.mu.Unlock()
		if !ok {
			// Channel belongs to some other stasis application.
			d.logger.Debug("ignoring stasis start for unregistered app",
				"application", e.Application,
				"channel_id", e.Channel.ID,
			)
			return
		}
		d.enqueue("ch:"+e.Channel.ID, func() { h.HandleStasisStart(ctx, e) })

	case telephony.ChannelDestroyed:
		for _, h := range d.handlers() {
			h := h
			d.enqueue("ch:"+e.Channel.ID, func() { h.HandleChannelDestroyed(ctx, e) })
		}

	case telephony.ChannelStateChange:
		for _, h := range d.handlers() {
			h := h
			d.enqueue("ch:"+e.Channel.ID, func() { h.HandleChannelStateChange(ctx, e) })
		}

	case telephony.BridgeCreated:
		d.logger.Debug("bridge created", "bridge_id", e.Bridge.ID)

	case telephony.BridgeDestroyed:
		for _, h := range d.handlers() {
			h := h
			d.enqueue("br:"+e.Bridge.ID, func() { h.HandleBridgeDestroyed(ctx, e) })
		}

	default:
		// Unknown event types pass through without error.
		d.logger.Debug("ignoring event", "type", ev.Type())
	}
}

func (d *Dispatcher) handlers() []Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.all
}

// enqueue appends fn to the key's serial queue, starting a drain
// goroutine if none is running for that key.
func (d *Dispatcher) enqueue(key string, fn func()) {
	d.mu.Lock()
	q, ok := d.queues[key]
	if !ok {
		q = &eventQueue{}
		d.queues[key] = q
	}
	q.pending = append(q.pending, fn)
	if !q.running {
		q.running = true
		d.wg.Add(1)
		go d.drain(key, q)
	}
	d.mu.Unlock()
}

// drain runs the key's queued work in FIFO order and removes the queue
// once empty.
func (d *Dispatcher) drain(key string, q *eventQueue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending = q.pending[1:]
		d.mu.Unlock()

		fn()
	}
}
