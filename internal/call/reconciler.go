package call

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dialhub/dialhub/internal/database"
	"github.com/dialhub/dialhub/internal/database/models"
)

// Reconciler owns every mutation of call records. Orchestrators report
// what happened on the wire; the reconciler turns that into exactly one
// terminal row write per call plus an append-only event trail.
//
// Persistence failures on the event trail are a data-loss risk and are
// logged loudly, but they never propagate: the telephony state machine
// must keep tearing calls down even when the audit trail is incomplete.
type Reconciler struct {
	calls    database.CallRepository
	events   database.CallEventRepository
	contacts database.ContactRepository
	logger   *slog.Logger
	clock    func() time.Time
}

// NewReconciler creates a Reconciler over the given repositories.
func NewReconciler(calls database.CallRepository, events database.CallEventRepository, contacts database.ContactRepository, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		calls:    calls,
		events:   events,
		contacts: contacts,
		logger:   logger.With("subsystem", "reconciler"),
		clock:    time.Now,
	}
}

// AppendEvent records an audit trail entry. The payload is marshaled to
// JSON; failures are logged and swallowed.
func (r *Reconciler) AppendEvent(ctx context.Context, callID, eventType string, payload any) {
	data := "{}"
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			r.logger.Error("marshaling call event payload",
				"call_id", callID,
				"event_type", eventType,
				"error", err,
			)
		} else {
			data = string(b)
		}
	}

	ev := &models.CallEvent{
		CallID:    callID,
		Type:      eventType,
		Payload:   data,
		Timestamp: r.clock().UTC(),
	}
	if err := r.events.Append(ctx, ev); err != nil {
		// Data-loss risk: the call proceeds, the trail has a hole.
		r.logger.Error("persisting call event failed",
			"call_id", callID,
			"event_type", eventType,
			"error", err,
		)
	}
}

// MarkInProgress records that the call's first channel came up.
func (r *Reconciler) MarkInProgress(ctx context.Context, callID string) {
	if err := r.calls.MarkInProgress(ctx, callID, r.clock().UTC()); err != nil {
		r.logger.Error("marking call in progress failed", "call_id", callID, "error", err)
	}
}

// Finalize writes a call's terminal completed state: outcome, duration,
// cost and the aggregated transcript. It is safe to call more than once
// for the same call; only the first invocation mutates the row, and the
// return value reports whether this one did.
func (r *Reconciler) Finalize(ctx context.Context, callID string, outcome models.Outcome, duration time.Duration, cost float64) bool {
	transcript, err := r.Transcript(ctx, callID)
	if err != nil {
		r.logger.Error("aggregating transcript failed", "call_id", callID, "error", err)
		transcript = ""
	}

	now := r.clock().UTC()
	applied, err := r.calls.Finalize(ctx, callID, database.CallFinal{
		Outcome:    outcome,
		Duration:   int(duration.Seconds()),
		Cost:       cost,
		Transcript: transcript,
		EndedAt:    now,
	})
	if err != nil {
		r.logger.Error("finalizing call failed", "call_id", callID, "error", err)
		return false
	}
	if !applied {
		// Lost the race against another teardown path. Expected.
		r.logger.Debug("call already finalized", "call_id", callID)
		return false
	}

	r.applyContactOutcome(ctx, callID, outcome, now)

	r.logger.Info("call finalized",
		"call_id", callID,
		"outcome", string(outcome),
		"duration_s", int(duration.Seconds()),
		"cost", cost,
	)
	return true
}

// MarkFailed writes a call's terminal failed state under the same
// only-once guard as Finalize.
func (r *Reconciler) MarkFailed(ctx context.Context, callID string, outcome models.Outcome) bool {
	now := r.clock().UTC()
	applied, err := r.calls.MarkFailed(ctx, callID, outcome, now)
	if err != nil {
		r.logger.Error("marking call failed errored", "call_id", callID, "error", err)
		return false
	}
	if applied {
		r.applyContactOutcome(ctx, callID, outcome, now)
	}
	return applied
}

// Transcript reconstructs the conversation from ai_conversation events
// in timestamp order. Each event may carry a customer utterance and an
// AI reply; lines come out speaker-labeled, newline-delimited.
func (r *Reconciler) Transcript(ctx context.Context, callID string) (string, error) {
	events, err := r.events.ListByType(ctx, callID, models.EventAIConversation)
	if err != nil {
		return "", fmt.Errorf("listing conversation events: %w", err)
	}

	var b strings.Builder
	for _, ev := range events {
		var turn struct {
			UserInput  string `json:"user_input"`
			AIResponse string `json:"ai_response"`
		}
		if err := json.Unmarshal([]byte(ev.Payload), &turn); err != nil {
			r.logger.Warn("skipping malformed conversation event",
				"call_id", callID,
				"event_id", ev.ID,
				"error", err,
			)
			continue
		}
		if turn.UserInput != "" {
			fmt.Fprintf(&b, "Customer: %s\n", turn.UserInput)
		}
		if turn.AIResponse != "" {
			fmt.Fprintf(&b, "AI: %s\n", turn.AIResponse)
		}
	}
	return b.String(), nil
}

func (r *Reconciler) applyContactOutcome(ctx context.Context, callID string, outcome models.Outcome, at time.Time) {
	c, err := r.calls.GetByID(ctx, callID)
	if err != nil {
		r.logger.Error("loading call for contact update failed", "call_id", callID, "error", err)
		return
	}
	if c.ContactID == "" {
		return
	}
	if err := r.contacts.ApplyOutcome(ctx, c.ContactID, outcome, at); err != nil {
		r.logger.Error("updating contact from outcome failed",
			"call_id", callID,
			"contact_id", c.ContactID,
			"error", err,
		)
	}
}
