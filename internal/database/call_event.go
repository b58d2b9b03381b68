package database

import (
	"context"
	"fmt"
	"time"

	"github.com/dialhub/dialhub/internal/database/models"
)

// callEventRepo implements CallEventRepository.
type callEventRepo struct {
	db *DB
}

// NewCallEventRepository creates a new CallEventRepository.
func NewCallEventRepository(db *DB) CallEventRepository {
	return &callEventRepo{db: db}
}

// Append inserts a new audit event. Rows are never updated or deleted.
func (r *callEventRepo) Append(ctx context.Context, ev *models.CallEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Payload == "" {
		ev.Payload = "{}"
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO call_events (call_id, event_type, event_data, timestamp)
		 VALUES (?, ?, ?, ?)`,
		ev.CallID, ev.Type, ev.Payload, ev.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting call event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	ev.ID = id
	return nil
}

// ListByCall returns all events for a call ordered by timestamp.
func (r *callEventRepo) ListByCall(ctx context.Context, callID string) ([]models.CallEvent, error) {
	return r.list(ctx,
		`SELECT id, call_id, event_type, event_data, timestamp
		 FROM call_events WHERE call_id = ? ORDER BY timestamp ASC, id ASC`,
		callID)
}

// ListByType returns the call's events of one type ordered by timestamp.
func (r *callEventRepo) ListByType(ctx context.Context, callID, eventType string) ([]models.CallEvent, error) {
	return r.list(ctx,
		`SELECT id, call_id, event_type, event_data, timestamp
		 FROM call_events WHERE call_id = ? AND event_type = ?
		 ORDER BY timestamp ASC, id ASC`,
		callID, eventType)
}

func (r *callEventRepo) list(ctx context.Context, query string, args ...any) ([]models.CallEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing call events: %w", err)
	}
	defer rows.Close()

	var events []models.CallEvent
	for rows.Next() {
		var ev models.CallEvent
		if err := rows.Scan(&ev.ID, &ev.CallID, &ev.Type, &ev.Payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning call event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
