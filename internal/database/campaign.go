package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dialhub/dialhub/internal/database/models"
)

// campaignRepo implements CampaignRepository.
type campaignRepo struct {
	db *DB
}

// NewCampaignRepository creates a new CampaignRepository.
func NewCampaignRepository(db *DB) CampaignRepository {
	return &campaignRepo{db: db}
}

// Create inserts a new campaign.
func (r *campaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	if c.Status == "" {
		c.Status = "active"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, organization_id, name, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.OrganizationID, c.Name, c.Status, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID.
func (r *campaignRepo) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	var c models.Campaign
	err := r.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, status, created_at
		 FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Status, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning campaign: %w", err)
	}
	return &c, nil
}
