package stasis

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dialhub/dialhub/internal/call"
	"github.com/dialhub/dialhub/internal/database/models"
	"github.com/dialhub/dialhub/internal/registry"
	"github.com/dialhub/dialhub/internal/telephony"
)

// AIFlow drives single-leg AI calls. The dialer originates a customer
// leg into the AI stasis application with the call identifiers in the
// app args; once the channel lands here the flow answers it, stamps the
// correlation variables onto it and hands it to the dialplan context
// where the conversation engine lives. The channel's destruction is the
// only teardown trigger: whatever happened in between, that event
// closes the books on the call.
type AIFlow struct {
	client        telephony.Client
	reconciler    *call.Reconciler
	registry      *registry.Registry
	engineContext string
	ratePerMinute float64
	logger        *slog.Logger
	clock         func() time.Time

	mu     sync.Mutex
	active map[string]*aiCall // channel ID -> call
}

type aiCall struct {
	callID     string
	phone      string
	campaignID string
	startedAt  time.Time
}

// NewAIFlow creates the AI call orchestrator. engineContext is the
// dialplan context channels are handed to; ratePerMinute prices
// completed calls.
func NewAIFlow(client telephony.Client, reconciler *call.Reconciler, reg *registry.Registry, engineContext string, ratePerMinute float64, logger *slog.Logger) *AIFlow {
	return &AIFlow{
		client:        client,
		reconciler:    reconciler,
		registry:      reg,
		engineContext: engineContext,
		ratePerMinute: ratePerMinute,
		logger:        logger.With("subsystem", "ai_flow"),
		clock:         time.Now,
		active:        make(map[string]*aiCall),
	}
}

// ActiveCalls returns the number of AI calls currently in flight.
func (f *AIFlow) ActiveCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

// ActiveCallIDs returns the call IDs currently in flight, sorted.
func (f *AIFlow) ActiveCallIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.active))
	for _, call := range f.active {
		ids = append(ids, call.callID)
	}
	sort.Strings(ids)
	return ids
}

// HandleStasisStart brings a freshly originated AI leg live: answer,
// mark the call in progress, stamp the engine variables and continue
// into the dialplan.
func (f *AIFlow) HandleStasisStart(ctx context.Context, ev telephony.StasisStart) {
	channelID := ev.Channel.ID
	if len(ev.Args) < 2 {
		// Originated without correlation args: there is no call record
		// to update, so just drop the leg.
		f.logger.Error("ai leg missing app args, hanging up",
			"channel_id", channelID,
			"args", ev.Args,
		)
		if err := f.client.Hangup(ctx, channelID); err != nil {
			f.logger.Error("hanging up unidentified leg failed", "channel_id", channelID, "error", err)
		}
		return
	}

	ac := &aiCall{
		callID:    ev.Args[0],
		phone:     ev.Args[1],
		startedAt: f.clock(),
	}
	if len(ev.Args) > 2 {
		ac.campaignID = ev.Args[2]
	}

	f.mu.Lock()
	f.active[channelID] = ac
	f.mu.Unlock()
	f.registry.Register(channelID, ac.callID, registry.RoleAI)

	logger := f.logger.With("call_id", ac.callID, "channel_id", channelID)
	logger.Info("ai leg entered stasis", "phone", ac.phone, "campaign_id", ac.campaignID)

	if err := f.client.Answer(ctx, channelID); err != nil {
		logger.Error("answering ai leg failed", "error", err)
		f.failCall(ctx, channelID, ac, "answer failed: "+err.Error())
		return
	}

	f.reconciler.MarkInProgress(ctx, ac.callID)
	f.reconciler.AppendEvent(ctx, ac.callID, models.EventAICallStarted, map[string]string{
		"channel_id":  channelID,
		"phone":       ac.phone,
		"campaign_id": ac.campaignID,
	})

	vars := []struct{ name, value string }{
		{"CALL_ID", ac.callID},
		{"CONTACT_PHONE", ac.phone},
		{"CAMPAIGN_ID", ac.campaignID},
	}
	for _, v := range vars {
		if err := f.client.SetChannelVar(ctx, channelID, v.name, v.value); err != nil {
			logger.Error("setting channel variable failed", "variable", v.name, "error", err)
			f.failCall(ctx, channelID, ac, "setting "+v.name+" failed: "+err.Error())
			return
		}
	}

	if err := f.client.ContinueInDialplan(ctx, channelID, f.engineContext, ac.phone, 1); err != nil {
		logger.Error("continuing to engine context failed", "error", err)
		f.failCall(ctx, channelID, ac, "dialplan continue failed: "+err.Error())
		return
	}

	logger.Info("ai leg handed to engine", "context", f.engineContext)
}

// HandleChannelDestroyed finalizes the call when its one leg dies. The
// hangup cause decides the outcome; duration is wall time since the leg
// entered stasis.
func (f *AIFlow) HandleChannelDestroyed(ctx context.Context, ev telephony.ChannelDestroyed) {
	channelID := ev.Channel.ID
	f.mu.Lock()
	ac, ok := f.active[channelID]
	if ok {
		delete(f.active, channelID)
	}
	f.mu.Unlock()
	if !ok {
		return
	}
	f.registry.Unregister(channelID)

	duration := f.clock().Sub(ac.startedAt)
	outcome := call.OutcomeForCause(ev.CauseText)
	cost := call.Cost(duration, f.ratePerMinute)

	f.reconciler.AppendEvent(ctx, ac.callID, models.EventAICallEnded, map[string]any{
		"channel_id": channelID,
		"cause":      ev.Cause,
		"cause_text": ev.CauseText,
		"duration_s": int(duration.Seconds()),
		"outcome":    string(outcome),
	})
	f.reconciler.Finalize(ctx, ac.callID, outcome, duration, cost)

	f.logger.Info("ai call ended",
		"call_id", ac.callID,
		"channel_id", channelID,
		"cause_text", ev.CauseText,
		"outcome", string(outcome),
	)
}

// HandleChannelStateChange records state transitions on owned legs for
// the audit trail.
func (f *AIFlow) HandleChannelStateChange(ctx context.Context, ev telephony.ChannelStateChange) {
	f.mu.Lock()
	ac, ok := f.active[ev.Channel.ID]
	f.mu.Unlock()
	if !ok {
		return
	}
	f.reconciler.AppendEvent(ctx, ac.callID, models.EventChannelStateChange, map[string]string{
		"channel_id": ev.Channel.ID,
		"state":      ev.Channel.State,
	})
}

// HandleBridgeDestroyed is a no-op: AI calls never own a bridge.
func (f *AIFlow) HandleBridgeDestroyed(ctx context.Context, ev telephony.BridgeDestroyed) {}

// failCall is the setup-error path: record the failure, write the
// terminal failed state and drop the leg. The later ChannelDestroyed
// for this channel finds no state and the finalize guard absorbs its
// write.
func (f *AIFlow) failCall(ctx context.Context, channelID string, ac *aiCall, reason string) {
	f.mu.Lock()
	delete(f.active, channelID)
	f.mu.Unlock()
	f.registry.Unregister(channelID)

	f.reconciler.AppendEvent(ctx, ac.callID, models.EventCallError, map[string]string{
		"channel_id": channelID,
		"error":      reason,
	})
	f.reconciler.MarkFailed(ctx, ac.callID, models.OutcomeFailed)

	if err := f.client.Hangup(ctx, channelID); err != nil {
		// Leg may already be gone; nothing left to clean up either way.
		f.logger.Debug("hangup on failed call", "channel_id", channelID, "error", err)
	}
}
