package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dialhub/dialhub/internal/database/models"
)

// contactRepo implements ContactRepository.
type contactRepo struct {
	db *DB
}

// NewContactRepository creates a new ContactRepository.
func NewContactRepository(db *DB) ContactRepository {
	return &contactRepo{db: db}
}

// Create inserts a new contact.
func (r *contactRepo) Create(ctx context.Context, c *models.Contact) error {
	if c.Status == "" {
		c.Status = models.ContactStatusNew
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO contacts (id, campaign_id, name, phone, status, last_contacted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CampaignID, c.Name, c.Phone, c.Status, c.LastContacted, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting contact: %w", err)
	}
	return nil
}

// GetByID returns a contact by ID.
func (r *contactRepo) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	var c models.Contact
	var lastContacted sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, campaign_id, name, phone, status, last_contacted, created_at
		 FROM contacts WHERE id = ?`, id,
	).Scan(&c.ID, &c.CampaignID, &c.Name, &c.Phone, &c.Status, &lastContacted, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning contact: %w", err)
	}
	if lastContacted.Valid {
		c.LastContacted = &lastContacted.Time
	}
	return &c, nil
}

// ApplyOutcome moves the contact's status according to how the call
// went: reached outcomes mark it contacted, unanswered ones queue a
// retry, a do-not-call request parks it permanently. Every other
// outcome leaves the status alone but still stamps last_contacted.
func (r *contactRepo) ApplyOutcome(ctx context.Context, id string, outcome models.Outcome, at time.Time) error {
	status := ""
	switch outcome {
	case models.OutcomeCompleted, models.OutcomeInterested, models.OutcomeScheduled:
		status = models.ContactStatusContacted
	case models.OutcomeNoAnswer, models.OutcomeBusy:
		status = models.ContactStatusRetry
	case models.OutcomeDNCRequest:
		status = models.ContactStatusDNC
	}

	var err error
	if status == "" {
		_, err = r.db.ExecContext(ctx,
			`UPDATE contacts SET last_contacted = ? WHERE id = ?`, at.UTC(), id)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE contacts SET status = ?, last_contacted = ? WHERE id = ?`,
			status, at.UTC(), id)
	}
	if err != nil {
		return fmt.Errorf("applying contact outcome: %w", err)
	}
	return nil
}
