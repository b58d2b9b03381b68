package database

import (
	"context"
	"errors"
	"time"

	"github.com/dialhub/dialhub/internal/database/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// CallRepository manages call records. A call row is created before any
// telephony channel exists and is finalized at most once: Finalize and
// MarkFailed carry a guard so that only the first terminal write takes
// effect, no matter how many times teardown paths race into them.
type CallRepository interface {
	Create(ctx context.Context, call *models.Call) error
	GetByID(ctx context.Context, id string) (*models.Call, error)
	// MarkInProgress records the transition out of initiated when the
	// first channel for the call comes up.
	MarkInProgress(ctx context.Context, id string, startedAt time.Time) error
	// Finalize writes the terminal completed state. It reports whether
	// the write was applied; false means the call already had a
	// terminal status and nothing changed.
	Finalize(ctx context.Context, id string, fin CallFinal) (bool, error)
	// MarkFailed writes the terminal failed state under the same guard
	// as Finalize.
	MarkFailed(ctx context.Context, id string, outcome models.Outcome, endedAt time.Time) (bool, error)
	ListRecent(ctx context.Context, limit int) ([]models.Call, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// CallFinal carries the computed fields of a completed call.
type CallFinal struct {
	Outcome    models.Outcome
	Duration   int // seconds
	Cost       float64
	Transcript string
	EndedAt    time.Time
}

// CallEventRepository is the append-only audit trail for calls.
type CallEventRepository interface {
	Append(ctx context.Context, ev *models.CallEvent) error
	// ListByCall returns all events for a call in timestamp order.
	ListByCall(ctx context.Context, callID string) ([]models.CallEvent, error)
	// ListByType returns the call's events of one type in timestamp order.
	ListByType(ctx context.Context, callID, eventType string) ([]models.CallEvent, error)
}

// ContactRepository manages dialable contacts.
type ContactRepository interface {
	Create(ctx context.Context, c *models.Contact) error
	GetByID(ctx context.Context, id string) (*models.Contact, error)
	// ApplyOutcome updates the contact's status from a finished call's
	// outcome and stamps last_contacted.
	ApplyOutcome(ctx context.Context, id string, outcome models.Outcome, at time.Time) error
}

// CampaignRepository manages campaign reference data.
type CampaignRepository interface {
	Create(ctx context.Context, c *models.Campaign) error
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
}
