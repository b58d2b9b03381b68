package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dialhub/dialhub/internal/database/models"
)

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	// Verify database file was created.
	dbPath := filepath.Join(dir, "dialhub.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	// Verify WAL mode is active.
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	// Verify all tables exist.
	tables := []string{"schema_migrations", "campaigns", "contacts", "calls", "call_events"}
	for _, table := range tables {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	// Open twice to verify migrations don't fail on re-run.
	db1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	db1.Close()

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	db2.Close()
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCallRepositoryLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db)
	ctx := context.Background()

	call := &models.Call{
		ID:         "call-1",
		CampaignID: "camp-1",
		ContactID:  "contact-1",
		Direction:  models.DirectionOutbound,
		Initiator:  models.InitiatorAI,
		ToNumber:   "+15551230000",
	}
	if err := repo.Create(ctx, call); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.GetByID(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Status != models.CallStatusInitiated {
		t.Errorf("Status = %q, want initiated", got.Status)
	}

	started := time.Now().UTC()
	if err := repo.MarkInProgress(ctx, "call-1", started); err != nil {
		t.Fatalf("MarkInProgress() error: %v", err)
	}
	got, _ = repo.GetByID(ctx, "call-1")
	if got.Status != models.CallStatusInProgress {
		t.Errorf("Status = %q, want in_progress", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt not set")
	}

	applied, err := repo.Finalize(ctx, "call-1", CallFinal{
		Outcome:    models.OutcomeCompleted,
		Duration:   45,
		Cost:       0.0083,
		Transcript: "Customer: hi\nAI: hello\n",
		EndedAt:    started.Add(45 * time.Second),
	})
	if err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	if !applied {
		t.Fatal("first Finalize() not applied")
	}

	got, _ = repo.GetByID(ctx, "call-1")
	if got.Status != models.CallStatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.Duration != 45 {
		t.Errorf("Duration = %d, want 45", got.Duration)
	}
	if got.Cost != 0.0083 {
		t.Errorf("Cost = %v, want 0.0083", got.Cost)
	}
}

func TestCallFinalizeIdempotent(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db)
	ctx := context.Background()

	call := &models.Call{ID: "call-2", Initiator: models.InitiatorAI}
	if err := repo.Create(ctx, call); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	fin := CallFinal{Outcome: models.OutcomeCompleted, Duration: 10, Cost: 0.0018, EndedAt: time.Now()}
	applied, err := repo.Finalize(ctx, "call-2", fin)
	if err != nil || !applied {
		t.Fatalf("first Finalize() = (%v, %v), want (true, nil)", applied, err)
	}

	// Second terminal write must be a no-op: zero rows affected.
	fin.Duration = 999
	applied, err = repo.Finalize(ctx, "call-2", fin)
	if err != nil {
		t.Fatalf("second Finalize() error: %v", err)
	}
	if applied {
		t.Error("second Finalize() applied, want no-op")
	}

	// MarkFailed after completion must also be absorbed.
	applied, err = repo.MarkFailed(ctx, "call-2", models.OutcomeFailed, time.Now())
	if err != nil {
		t.Fatalf("MarkFailed() error: %v", err)
	}
	if applied {
		t.Error("MarkFailed() after Finalize() applied, want no-op")
	}

	got, _ := repo.GetByID(ctx, "call-2")
	if got.Duration != 10 {
		t.Errorf("Duration = %d, want 10 (first write must win)", got.Duration)
	}
	if got.Status != models.CallStatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
}

func TestCallGetByIDNotFound(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db)

	if _, err := repo.GetByID(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCallEventOrdering(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallEventRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Insert out of timestamp order.
	events := []models.CallEvent{
		{CallID: "call-3", Type: models.EventAIConversation, Payload: `{"seq":2}`, Timestamp: base.Add(2 * time.Second)},
		{CallID: "call-3", Type: models.EventAIConversation, Payload: `{"seq":0}`, Timestamp: base},
		{CallID: "call-3", Type: models.EventAIConversation, Payload: `{"seq":1}`, Timestamp: base.Add(time.Second)},
		{CallID: "other", Type: models.EventAIConversation, Payload: `{"seq":9}`, Timestamp: base},
	}
	for i := range events {
		if err := repo.Append(ctx, &events[i]); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	got, err := repo.ListByType(ctx, "call-3", models.EventAIConversation)
	if err != nil {
		t.Fatalf("ListByType() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []string{`{"seq":0}`, `{"seq":1}`, `{"seq":2}`}
	for i, ev := range got {
		if ev.Payload != want[i] {
			t.Errorf("event %d payload = %s, want %s", i, ev.Payload, want[i])
		}
	}
}

func TestCallEventUnknownTypePassThrough(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallEventRepository(db)
	ctx := context.Background()

	ev := &models.CallEvent{CallID: "call-4", Type: "some_future_event", Payload: `{"x":1}`}
	if err := repo.Append(ctx, ev); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	got, err := repo.ListByCall(ctx, "call-4")
	if err != nil {
		t.Fatalf("ListByCall() error: %v", err)
	}
	if len(got) != 1 || got[0].Type != "some_future_event" {
		t.Errorf("got %+v, want one some_future_event entry", got)
	}
}

func TestContactApplyOutcome(t *testing.T) {
	db := openTestDB(t)
	repo := NewContactRepository(db)
	ctx := context.Background()

	tests := []struct {
		outcome models.Outcome
		want    string
	}{
		{models.OutcomeCompleted, models.ContactStatusContacted},
		{models.OutcomeInterested, models.ContactStatusContacted},
		{models.OutcomeScheduled, models.ContactStatusContacted},
		{models.OutcomeNoAnswer, models.ContactStatusRetry},
		{models.OutcomeBusy, models.ContactStatusRetry},
		{models.OutcomeDNCRequest, models.ContactStatusDNC},
		// Agent-entered and error outcomes say nothing about
		// reachability; the status stays where it was.
		{models.OutcomeNotInterested, models.ContactStatusNew},
		{models.OutcomeCallback, models.ContactStatusNew},
		{models.OutcomeVoicemail, models.ContactStatusNew},
		{models.OutcomeFailed, models.ContactStatusNew},
	}
	for i, tt := range tests {
		id := string(rune('a' + i))
		if err := repo.Create(ctx, &models.Contact{ID: id, Phone: "+15550000000"}); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
		if err := repo.ApplyOutcome(ctx, id, tt.outcome, time.Now()); err != nil {
			t.Fatalf("ApplyOutcome(%s) error: %v", tt.outcome, err)
		}
		got, err := repo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID() error: %v", err)
		}
		if got.Status != tt.want {
			t.Errorf("outcome %s: status = %q, want %q", tt.outcome, got.Status, tt.want)
		}
		if got.LastContacted == nil {
			t.Errorf("outcome %s: LastContacted not set", tt.outcome)
		}
	}
}
