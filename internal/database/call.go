package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dialhub/dialhub/internal/database/models"
)

// callRepo implements CallRepository.
type callRepo struct {
	db *DB
}

// NewCallRepository creates a new CallRepository.
func NewCallRepository(db *DB) CallRepository {
	return &callRepo{db: db}
}

// Create inserts a new call record in the initiated state.
func (r *callRepo) Create(ctx context.Context, call *models.Call) error {
	if call.Status == "" {
		call.Status = models.CallStatusInitiated
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (id, organization_id, campaign_id, contact_id, agent_id,
		 direction, initiator, status, outcome, duration, cost, transcript,
		 from_number, to_number, created_at, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.OrganizationID, call.CampaignID, call.ContactID, call.AgentID,
		call.Direction, call.Initiator, call.Status, call.Outcome, call.Duration,
		call.Cost, call.Transcript, call.FromNumber, call.ToNumber,
		call.CreatedAt, call.StartedAt, call.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}
	return nil
}

// GetByID returns a call by ID.
func (r *callRepo) GetByID(ctx context.Context, id string) (*models.Call, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, organization_id, campaign_id, contact_id, agent_id, direction,
		 initiator, status, outcome, duration, cost, transcript, from_number,
		 to_number, created_at, started_at, ended_at
		 FROM calls WHERE id = ?`, id,
	))
}

// MarkInProgress moves an initiated call to in_progress. Calls that
// already moved past initiated are left untouched.
func (r *callRepo) MarkInProgress(ctx context.Context, id string, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE calls SET status = ?, started_at = ?
		 WHERE id = ? AND status = ?`,
		models.CallStatusInProgress, startedAt.UTC(), id, models.CallStatusInitiated,
	)
	if err != nil {
		return fmt.Errorf("marking call in progress: %w", err)
	}
	return nil
}

// Finalize writes the terminal completed state. The WHERE clause is the
// idempotence guard: a second finalize attempt matches zero rows and is
// reported as not applied.
func (r *callRepo) Finalize(ctx context.Context, id string, fin CallFinal) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE calls SET status = ?, outcome = ?, duration = ?, cost = ?,
		 transcript = ?, ended_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		models.CallStatusCompleted, fin.Outcome, fin.Duration, fin.Cost,
		fin.Transcript, fin.EndedAt.UTC(),
		id, models.CallStatusCompleted, models.CallStatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("finalizing call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finalizing call: rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkFailed writes the terminal failed state under the same guard as
// Finalize.
func (r *callRepo) MarkFailed(ctx context.Context, id string, outcome models.Outcome, endedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE calls SET status = ?, outcome = ?, ended_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		models.CallStatusFailed, outcome, endedAt.UTC(),
		id, models.CallStatusCompleted, models.CallStatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("marking call failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking call failed: rows affected: %w", err)
	}
	return n > 0, nil
}

// ListRecent returns the most recently created calls.
func (r *callRepo) ListRecent(ctx context.Context, limit int) ([]models.Call, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, organization_id, campaign_id, contact_id, agent_id, direction,
		 initiator, status, outcome, duration, cost, transcript, from_number,
		 to_number, created_at, started_at, ended_at
		 FROM calls ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing calls: %w", err)
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *call)
	}
	return calls, rows.Err()
}

// CountByStatus returns call counts grouped by status.
func (r *callRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM calls GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting calls by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning call count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *callRepo) scanOne(row *sql.Row) (*models.Call, error) {
	call, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return call, err
}

func scanCall(row rowScanner) (*models.Call, error) {
	var call models.Call
	var startedAt, endedAt sql.NullTime
	err := row.Scan(
		&call.ID, &call.OrganizationID, &call.CampaignID, &call.ContactID,
		&call.AgentID, &call.Direction, &call.Initiator, &call.Status,
		&call.Outcome, &call.Duration, &call.Cost, &call.Transcript,
		&call.FromNumber, &call.ToNumber, &call.CreatedAt, &startedAt, &endedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning call: %w", err)
	}
	if startedAt.Valid {
		call.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		call.EndedAt = &endedAt.Time
	}
	return &call, nil
}
