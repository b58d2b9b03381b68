package models

import "time"

// CallStatus is the technical lifecycle state of a call record.
type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// Terminal reports whether the status is final. A call receives exactly
// one terminal status write; later attempts are absorbed by the store.
func (s CallStatus) Terminal() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}

// Outcome is the disposition of a call, distinct from its technical
// status (a call can be status=completed with outcome=no_answer).
// The automated hangup-cause mapping only ever produces completed,
// no_answer and busy; the rest are entered by agents.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeNoAnswer      Outcome = "no_answer"
	OutcomeBusy          Outcome = "busy"
	OutcomeScheduled     Outcome = "scheduled"
	OutcomeInterested    Outcome = "interested"
	OutcomeNotInterested Outcome = "not_interested"
	OutcomeCallback      Outcome = "callback"
	OutcomeVoicemail     Outcome = "voicemail"
	OutcomeWrongNumber   Outcome = "wrong_number"
	OutcomeDNCRequest    Outcome = "dnc_request"
	OutcomeFailed        Outcome = "failed"
)

// Call initiator values.
const (
	InitiatorAI    = "ai"
	InitiatorAgent = "agent"
)

// Call direction values.
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// Call represents one logical telephone conversation. The ID is assigned
// before any telephony channel exists for it.
type Call struct {
	ID             string
	OrganizationID string
	CampaignID     string
	ContactID      string
	AgentID        string
	Direction      string
	Initiator      string // "ai" | "agent"
	Status         CallStatus
	Outcome        Outcome
	Duration       int // seconds
	Cost           float64
	Transcript     string
	FromNumber     string
	ToNumber       string
	CreatedAt      time.Time
	StartedAt      *time.Time
	EndedAt        *time.Time
}

// Well-known call event types. The set is open: unknown types are
// stored and served as-is, never rejected.
const (
	EventAICallStarted      = "ai_call_started"
	EventAICallEnded        = "ai_call_ended"
	EventAIConversation     = "ai_conversation"
	EventAgentConnected     = "agent_connected"
	EventBridgeCreated      = "bridge_created"
	EventCallCompleted      = "call_completed"
	EventCallError          = "call_error"
	EventChannelStateChange = "channel_state_change"
)

// CallEvent is one append-only audit trail entry for a call. Rows are
// never mutated after insert; timestamp order is what transcript
// reconstruction relies on.
type CallEvent struct {
	ID        int64
	CallID    string
	Type      string
	Payload   string // JSON
	Timestamp time.Time
}

// Contact status values.
const (
	ContactStatusNew       = "new"
	ContactStatusContacted = "contacted"
	ContactStatusRetry     = "retry"
	ContactStatusDNC       = "dnc"
)

// Contact is a dialable person belonging to a campaign.
type Contact struct {
	ID            string
	CampaignID    string
	Name          string
	Phone         string
	Status        string
	LastContacted *time.Time
	CreatedAt     time.Time
}

// Campaign groups contacts and calls. Scheduling and pacing live
// outside this subsystem; only the reference data is kept here.
type Campaign struct {
	ID             string
	OrganizationID string
	Name           string
	Status         string
	CreatedAt      time.Time
}
