package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dialhub/dialhub/internal/database"
	"github.com/dialhub/dialhub/internal/database/models"
	"github.com/dialhub/dialhub/internal/telephony"
)

// dialAIRequest is the payload for starting an AI-driven call.
type dialAIRequest struct {
	ContactID  string `json:"contact_id"`
	CampaignID string `json:"campaign_id"`
}

// dialManualRequest is the payload for starting an agent call.
type dialManualRequest struct {
	ContactID     string `json:"contact_id"`
	AgentEndpoint string `json:"agent_endpoint"`
}

// dialResponse acknowledges an accepted dial-out.
type dialResponse struct {
	CallID    string `json:"call_id"`
	ChannelID string `json:"channel_id"`
	Status    string `json:"status"`
}

// handleDialAI creates a call record and originates the customer leg
// into the AI application. The record exists before the channel does so
// the stasis handler always finds it.
func (s *Server) handleDialAI(w http.ResponseWriter, r *http.Request) {
	var req dialAIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateID("contact_id", req.ContactID); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ctx := r.Context()
	contact, err := s.contacts.GetByID(ctx, req.ContactID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "loading contact failed")
		return
	}
	if msg := validatePhone("contact phone", contact.Phone); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}
	if req.CampaignID != "" {
		if _, err := s.campaigns.GetByID(ctx, req.CampaignID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				writeError(w, http.StatusNotFound, "campaign not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "loading campaign failed")
			return
		}
	}

	c := &models.Call{
		ID:         uuid.NewString(),
		CampaignID: req.CampaignID,
		ContactID:  contact.ID,
		Direction:  models.DirectionOutbound,
		Initiator:  models.InitiatorAI,
		Status:     models.CallStatusInitiated,
		FromNumber: s.cfg.CallerID,
		ToNumber:   contact.Phone,
	}
	if err := s.calls.Create(ctx, c); err != nil {
		writeError(w, http.StatusInternalServerError, "creating call record failed")
		return
	}

	channelID, err := s.client.Originate(ctx, telephony.OriginateRequest{
		Endpoint: fmt.Sprintf(s.cfg.TrunkEndpoint, contact.Phone),
		App:      s.cfg.AIApp,
		AppArgs:  []string{c.ID, contact.Phone, req.CampaignID},
		CallerID: s.cfg.CallerID,
	})
	if err != nil {
		s.reconciler.AppendEvent(ctx, c.ID, models.EventCallError, map[string]string{
			"error": "originate failed: " + err.Error(),
		})
		s.reconciler.MarkFailed(ctx, c.ID, models.OutcomeFailed)
		writeError(w, http.StatusBadGateway, "originating call failed")
		return
	}

	writeJSON(w, http.StatusAccepted, dialResponse{
		CallID:    c.ID,
		ChannelID: channelID,
		Status:    string(models.CallStatusInitiated),
	})
}

// handleDialManual creates a call record and originates the agent leg
// into the bridge application. The customer is dialed by the bridge
// flow once the agent is up.
func (s *Server) handleDialManual(w http.ResponseWriter, r *http.Request) {
	var req dialManualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateID("contact_id", req.ContactID); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateEndpoint("agent_endpoint", req.AgentEndpoint); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ctx := r.Context()
	contact, err := s.contacts.GetByID(ctx, req.ContactID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "loading contact failed")
		return
	}

	c := &models.Call{
		ID:         uuid.NewString(),
		ContactID:  contact.ID,
		AgentID:    middlewareAgentID(r),
		Direction:  models.DirectionOutbound,
		Initiator:  models.InitiatorAgent,
		Status:     models.CallStatusInitiated,
		FromNumber: s.cfg.CallerID,
		ToNumber:   contact.Phone,
	}
	if err := s.calls.Create(ctx, c); err != nil {
		writeError(w, http.StatusInternalServerError, "creating call record failed")
		return
	}

	channelID, err := s.client.Originate(ctx, telephony.OriginateRequest{
		Endpoint: req.AgentEndpoint,
		App:      s.cfg.BridgeApp,
		AppArgs:  []string{c.ID, contact.ID},
		CallerID: s.cfg.CallerID,
	})
	if err != nil {
		s.reconciler.AppendEvent(ctx, c.ID, models.EventCallError, map[string]string{
			"error": "agent originate failed: " + err.Error(),
		})
		s.reconciler.MarkFailed(ctx, c.ID, models.OutcomeFailed)
		writeError(w, http.StatusBadGateway, "originating agent leg failed")
		return
	}

	writeJSON(w, http.StatusAccepted, dialResponse{
		CallID:    c.ID,
		ChannelID: channelID,
		Status:    string(models.CallStatusInitiated),
	})
}

// handleListCalls returns recent call records, newest first.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = v
	}

	calls, err := s.calls.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing calls failed")
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

// handleGetCall returns one call record by ID.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.calls.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "loading call failed")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// callEventResponse serves a call event with its payload as raw JSON
// rather than a doubly encoded string.
type callEventResponse struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// handleListCallEvents returns a call's audit trail in timestamp order.
func (s *Server) handleListCallEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	if _, err := s.calls.GetByID(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "loading call failed")
		return
	}

	events, err := s.events.ListByCall(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing call events failed")
		return
	}

	out := make([]callEventResponse, len(events))
	for i, ev := range events {
		payload := json.RawMessage(ev.Payload)
		if !json.Valid(payload) {
			payload, _ = json.Marshal(ev.Payload)
		}
		out[i] = callEventResponse{
			ID:        ev.ID,
			Type:      ev.Type,
			Payload:   payload,
			Timestamp: ev.Timestamp,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
