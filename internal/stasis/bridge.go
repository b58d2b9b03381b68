package stasis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dialhub/dialhub/internal/call"
	"github.com/dialhub/dialhub/internal/database"
	"github.com/dialhub/dialhub/internal/database/models"
	"github.com/dialhub/dialhub/internal/registry"
	"github.com/dialhub/dialhub/internal/telephony"
)

// BridgeConfig is the dial-out configuration for the manual flow.
type BridgeConfig struct {
	// App is the stasis application the customer leg is originated
	// into, which must be the same application this flow is registered
	// under.
	App string
	// TrunkEndpoint is the outbound endpoint template, %s replaced
	// with the customer number.
	TrunkEndpoint string
	// CallerID is presented on the customer leg.
	CallerID string
	// AgentReadyDelay is how long to wait between the agent leg coming
	// up and dialing the customer, so the agent's audio path settles.
	AgentReadyDelay time.Duration
	// RatePerMinute prices completed calls.
	RatePerMinute float64
}

// BridgeFlow drives two-leg manual calls. The agent dials into the
// stasis application with the call identifiers in the app args; the
// flow answers the agent, dials the customer over the trunk into the
// same application, and joins both legs in a mixing bridge. Either
// leg dying, or the bridge dying, ends the call; teardown is
// idempotent so it does not matter which of those events lands first.
type BridgeFlow struct {
	client     telephony.Client
	reconciler *call.Reconciler
	registry   *registry.Registry
	contacts   database.ContactRepository
	cfg        BridgeConfig
	logger     *slog.Logger
	clock      func() time.Time
	sleep      func(time.Duration)

	mu       sync.Mutex
	calls    map[string]*bridgeCall // call ID -> state
	channels map[string]string      // channel ID -> call ID
	bridges  map[string]string      // bridge ID -> call ID
}

// customerLegArg marks legs this flow originated itself, so routing
// never depends on in-memory state that teardown may have cleared.
const customerLegArg = "customer"

type bridgeCall struct {
	callID          string
	contactID       string
	agentChannelID  string
	customerChannel string
	bridgeID        string
	// bridgedAt is stamped when the mixing bridge comes up; billed
	// duration runs from here, not from agent entry.
	bridgedAt time.Time
}

// NewBridgeFlow creates the manual call orchestrator.
func NewBridgeFlow(client telephony.Client, reconciler *call.Reconciler, reg *registry.Registry, contacts database.ContactRepository, cfg BridgeConfig, logger *slog.Logger) *BridgeFlow {
	return &BridgeFlow{
		client:     client,
		reconciler: reconciler,
		registry:   reg,
		contacts:   contacts,
		cfg:        cfg,
		logger:     logger.With("subsystem", "bridge_flow"),
		clock:      time.Now,
		sleep:      time.Sleep,
		calls:      make(map[string]*bridgeCall),
		channels:   make(map[string]string),
		bridges:    make(map[string]string),
	}
}

// ActiveCalls returns the number of manual calls currently in flight.
func (f *BridgeFlow) ActiveCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// ActiveCallIDs returns the call IDs currently in flight, sorted.
func (f *BridgeFlow) ActiveCallIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.calls))
	for id := range f.calls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HandleStasisStart routes a channel entering the application.
// Customer legs carry the marker arg this flow stamped on them at
// originate time; everything else is an agent dialing in. The channel
// map is checked too so a customer leg is recognized even if some
// upstream dialer strips the args.
func (f *BridgeFlow) HandleStasisStart(ctx context.Context, ev telephony.StasisStart) {
	f.mu.Lock()
	callID, known := f.channels[ev.Channel.ID]
	f.mu.Unlock()
	if known {
		f.customerEntered(ctx, ev.Channel.ID, callID)
		return
	}
	if len(ev.Args) >= 3 && ev.Args[2] == customerLegArg {
		f.customerEntered(ctx, ev.Channel.ID, ev.Args[0])
		return
	}
	f.agentEntered(ctx, ev)
}

func (f *BridgeFlow) agentEntered(ctx context.Context, ev telephony.StasisStart) {
	channelID := ev.Channel.ID
	if len(ev.Args) < 2 {
		f.logger.Error("agent leg missing app args, hanging up",
			"channel_id", channelID,
			"args", ev.Args,
		)
		if err := f.client.Hangup(ctx, channelID); err != nil {
			f.logger.Error("hanging up unidentified leg failed", "channel_id", channelID, "error", err)
		}
		return
	}

	bc := &bridgeCall{
		callID:         ev.Args[0],
		contactID:      ev.Args[1],
		agentChannelID: channelID,
	}

	f.mu.Lock()
	if _, dup := f.calls[bc.callID]; dup {
		f.mu.Unlock()
		f.logger.Error("second agent leg for active call, hanging up",
			"call_id", bc.callID,
			"channel_id", channelID,
		)
		if err := f.client.Hangup(ctx, channelID); err != nil {
			f.logger.Debug("hangup on duplicate agent leg", "channel_id", channelID, "error", err)
		}
		return
	}
	f.calls[bc.callID] = bc
	f.channels[channelID] = bc.callID
	f.mu.Unlock()
	f.registry.Register(channelID, bc.callID, registry.RoleAgent)

	logger := f.logger.With("call_id", bc.callID, "agent_channel_id", channelID)
	logger.Info("agent entered stasis", "contact_id", bc.contactID)

	if err := f.client.Answer(ctx, channelID); err != nil {
		logger.Error("answering agent leg failed", "error", err)
		f.failCall(ctx, bc, "answer failed: "+err.Error())
		return
	}

	f.reconciler.MarkInProgress(ctx, bc.callID)
	f.reconciler.AppendEvent(ctx, bc.callID, models.EventAgentConnected, map[string]string{
		"channel_id": channelID,
	})

	contact, err := f.contacts.GetByID(ctx, bc.contactID)
	if err != nil {
		logger.Error("loading contact failed", "contact_id", bc.contactID, "error", err)
		f.failCall(ctx, bc, "contact lookup failed: "+err.Error())
		return
	}

	// Give the agent's audio path a beat before the customer's phone
	// starts ringing.
	f.sleep(f.cfg.AgentReadyDelay)

	custID, err := f.client.Originate(ctx, telephony.OriginateRequest{
		Endpoint: fmt.Sprintf(f.cfg.TrunkEndpoint, contact.Phone),
		App:      f.cfg.App,
		AppArgs:  []string{bc.callID, bc.contactID, customerLegArg},
		CallerID: f.cfg.CallerID,
	})
	if err != nil {
		logger.Error("originating customer leg failed", "phone", contact.Phone, "error", err)
		f.failCall(ctx, bc, "customer originate failed: "+err.Error())
		return
	}

	// The customer's StasisStart may have beaten us here, or the call
	// may already be gone; only adopt the leg if the call is still live.
	f.mu.Lock()
	_, live := f.calls[bc.callID]
	if live && bc.customerChannel == "" {
		bc.customerChannel = custID
		f.channels[custID] = bc.callID
	}
	f.mu.Unlock()
	if !live {
		logger.Warn("call ended during customer originate, hanging up", "customer_channel_id", custID)
		if err := f.client.Hangup(ctx, custID); err != nil {
			f.logger.Debug("hangup on orphaned customer leg", "channel_id", custID, "error", err)
		}
		return
	}
	f.registry.Register(custID, bc.callID, registry.RoleCustomer)

	logger.Info("customer leg originated", "customer_channel_id", custID, "phone", contact.Phone)
}

// customerEntered joins a just-answered customer leg to its agent in a
// fresh mixing bridge.
func (f *BridgeFlow) customerEntered(ctx context.Context, channelID, callID string) {
	f.mu.Lock()
	bc, ok := f.calls[callID]
	if ok && bc.customerChannel == "" {
		// The leg entered stasis before the originate call returned.
		bc.customerChannel = channelID
		f.channels[channelID] = callID
	}
	f.mu.Unlock()
	if !ok {
		// Call torn down while the customer was still ringing.
		f.logger.Warn("customer answered for finished call, hanging up",
			"channel_id", channelID,
			"call_id", callID,
		)
		if err := f.client.Hangup(ctx, channelID); err != nil {
			f.logger.Debug("hangup on stale customer leg", "channel_id", channelID, "error", err)
		}
		return
	}
	f.registry.Register(channelID, callID, registry.RoleCustomer)

	logger := f.logger.With("call_id", callID, "customer_channel_id", channelID)

	// Originated legs are up by the time they enter stasis; an answer
	// failure here is not fatal.
	if err := f.client.Answer(ctx, channelID); err != nil {
		logger.Debug("answering customer leg", "error", err)
	}

	bridgeID, err := f.client.CreateBridge(ctx, "mixing")
	if err != nil {
		logger.Error("creating bridge failed", "error", err)
		f.failCall(ctx, bc, "bridge create failed: "+err.Error())
		return
	}

	f.mu.Lock()
	bc.bridgeID = bridgeID
	bc.bridgedAt = f.clock()
	f.bridges[bridgeID] = callID
	f.mu.Unlock()

	if err := f.client.AddChannel(ctx, bridgeID, bc.agentChannelID); err != nil {
		logger.Error("adding agent to bridge failed", "bridge_id", bridgeID, "error", err)
		f.failCall(ctx, bc, "bridge add agent failed: "+err.Error())
		return
	}
	if err := f.client.AddChannel(ctx, bridgeID, channelID); err != nil {
		logger.Error("adding customer to bridge failed", "bridge_id", bridgeID, "error", err)
		f.failCall(ctx, bc, "bridge add customer failed: "+err.Error())
		return
	}

	f.reconciler.AppendEvent(ctx, callID, models.EventBridgeCreated, map[string]string{
		"bridge_id":           bridgeID,
		"agent_channel_id":    bc.agentChannelID,
		"customer_channel_id": channelID,
	})
	logger.Info("legs bridged", "bridge_id", bridgeID)
}

// HandleChannelDestroyed tears the call down when either leg dies.
func (f *BridgeFlow) HandleChannelDestroyed(ctx context.Context, ev telephony.ChannelDestroyed) {
	f.mu.Lock()
	callID, ok := f.channels[ev.Channel.ID]
	f.mu.Unlock()
	if !ok {
		return
	}
	f.teardown(ctx, callID, ev.Channel.ID, call.OutcomeForCause(ev.CauseText), ev.CauseText)
}

// HandleBridgeDestroyed tears the call down when the bridge goes away
// before either leg's destroy event arrives.
func (f *BridgeFlow) HandleBridgeDestroyed(ctx context.Context, ev telephony.BridgeDestroyed) {
	f.mu.Lock()
	callID, ok := f.bridges[ev.Bridge.ID]
	f.mu.Unlock()
	if !ok {
		return
	}
	f.teardown(ctx, callID, "", models.OutcomeCompleted, "bridge destroyed")
}

// HandleChannelStateChange records state transitions on owned legs.
func (f *BridgeFlow) HandleChannelStateChange(ctx context.Context, ev telephony.ChannelStateChange) {
	f.mu.Lock()
	callID, ok := f.channels[ev.Channel.ID]
	f.mu.Unlock()
	if !ok {
		return
	}
	f.reconciler.AppendEvent(ctx, callID, models.EventChannelStateChange, map[string]string{
		"channel_id": ev.Channel.ID,
		"state":      ev.Channel.State,
	})
}

// teardown ends the call once, whichever event got here first: drop
// whatever of the bridge and legs still exists, then finalize.
// deadChannel is the leg whose destruction triggered this, already
// gone on the control plane.
func (f *BridgeFlow) teardown(ctx context.Context, callID, deadChannel string, outcome models.Outcome, cause string) {
	bc := f.release(callID)
	if bc == nil {
		return
	}

	logger := f.logger.With("call_id", callID)
	logger.Info("tearing down manual call", "cause", cause, "outcome", string(outcome))

	if bc.bridgeID != "" {
		if err := f.client.DestroyBridge(ctx, bc.bridgeID); err != nil {
			logger.Debug("destroying bridge", "bridge_id", bc.bridgeID, "error", err)
		}
	}
	for _, ch := range []string{bc.agentChannelID, bc.customerChannel} {
		if ch == "" || ch == deadChannel {
			continue
		}
		if err := f.client.Hangup(ctx, ch); err != nil {
			logger.Debug("hanging up surviving leg", "channel_id", ch, "error", err)
		}
	}

	// Billed time runs from bridge creation; a call torn down before
	// the legs were ever bridged has zero conversation time.
	var duration time.Duration
	if !bc.bridgedAt.IsZero() {
		duration = f.clock().Sub(bc.bridgedAt)
	}
	cost := call.Cost(duration, f.cfg.RatePerMinute)
	f.reconciler.AppendEvent(ctx, callID, models.EventCallCompleted, map[string]any{
		"cause":      cause,
		"duration_s": int(duration.Seconds()),
		"outcome":    string(outcome),
	})
	f.reconciler.Finalize(ctx, callID, outcome, duration, cost)
}

// failCall is the setup-error path: record the failure, write the
// terminal failed state and drop everything the call had allocated.
func (f *BridgeFlow) failCall(ctx context.Context, bc *bridgeCall, reason string) {
	if f.release(bc.callID) == nil {
		return
	}

	f.reconciler.AppendEvent(ctx, bc.callID, models.EventCallError, map[string]string{
		"error": reason,
	})
	f.reconciler.MarkFailed(ctx, bc.callID, models.OutcomeFailed)

	if bc.bridgeID != "" {
		if err := f.client.DestroyBridge(ctx, bc.bridgeID); err != nil {
			f.logger.Debug("destroying bridge on failure", "bridge_id", bc.bridgeID, "error", err)
		}
	}
	for _, ch := range []string{bc.agentChannelID, bc.customerChannel} {
		if ch == "" {
			continue
		}
		if err := f.client.Hangup(ctx, ch); err != nil {
			f.logger.Debug("hangup on failed call", "channel_id", ch, "error", err)
		}
	}
}

// release removes all of a call's tracking state and returns it, or
// nil if another teardown path already claimed the call.
func (f *BridgeFlow) release(callID string) *bridgeCall {
	f.mu.Lock()
	bc, ok := f.calls[callID]
	if !ok {
		f.mu.Unlock()
		return nil
	}
	delete(f.calls, callID)
	delete(f.channels, bc.agentChannelID)
	if bc.customerChannel != "" {
		delete(f.channels, bc.customerChannel)
	}
	if bc.bridgeID != "" {
		delete(f.bridges, bc.bridgeID)
	}
	f.mu.Unlock()

	f.registry.Unregister(bc.agentChannelID)
	if bc.customerChannel != "" {
		f.registry.Unregister(bc.customerChannel)
	}
	return bc
}
