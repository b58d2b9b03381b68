package call

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dialhub/dialhub/internal/database"
	"github.com/dialhub/dialhub/internal/database/models"
)

func newTestReconciler(t *testing.T) (*Reconciler, database.CallRepository, database.CallEventRepository, database.ContactRepository) {
	t.Helper()
	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	calls := database.NewCallRepository(db)
	events := database.NewCallEventRepository(db)
	contacts := database.NewContactRepository(db)
	rec := NewReconciler(calls, events, contacts, slog.Default())
	return rec, calls, events, contacts
}

func TestFinalizeOnce(t *testing.T) {
	rec, calls, _, _ := newTestReconciler(t)
	ctx := context.Background()

	if err := calls.Create(ctx, &models.Call{ID: "c1", Initiator: models.InitiatorAI}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if !rec.Finalize(ctx, "c1", models.OutcomeCompleted, 45*time.Second, 0.0083) {
		t.Fatal("first Finalize() reported not applied")
	}
	// Delivering the destroyed event twice must not double-charge.
	if rec.Finalize(ctx, "c1", models.OutcomeCompleted, 90*time.Second, 0.0165) {
		t.Fatal("second Finalize() reported applied")
	}

	got, err := calls.GetByID(ctx, "c1")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Duration != 45 {
		t.Errorf("Duration = %d, want 45", got.Duration)
	}
	if got.Cost != 0.0083 {
		t.Errorf("Cost = %v, want 0.0083", got.Cost)
	}
	if got.Status != models.CallStatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
}

func TestTranscriptTimestampOrder(t *testing.T) {
	rec, calls, events, _ := newTestReconciler(t)
	ctx := context.Background()

	if err := calls.Create(ctx, &models.Call{ID: "c2", Initiator: models.InitiatorAI}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	// Inserted out of timestamp order on purpose.
	turns := []models.CallEvent{
		{CallID: "c2", Type: models.EventAIConversation,
			Payload: `{"user_input":"how much is it","ai_response":"twenty dollars"}`, Timestamp: base.Add(10 * time.Second)},
		{CallID: "c2", Type: models.EventAIConversation,
			Payload: `{"user_input":"hello","ai_response":"hi, this is the sales team"}`, Timestamp: base},
		{CallID: "c2", Type: models.EventAIConversation,
			Payload: `{"user_input":"goodbye","ai_response":"thanks for your time"}`, Timestamp: base.Add(20 * time.Second)},
	}
	for i := range turns {
		if err := events.Append(ctx, &turns[i]); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	got, err := rec.Transcript(ctx, "c2")
	if err != nil {
		t.Fatalf("Transcript() error: %v", err)
	}
	want := "Customer: hello\nAI: hi, this is the sales team\n" +
		"Customer: how much is it\nAI: twenty dollars\n" +
		"Customer: goodbye\nAI: thanks for your time\n"
	if got != want {
		t.Errorf("Transcript() =\n%s\nwant:\n%s", got, want)
	}
}

func TestTranscriptSkipsMalformedTurns(t *testing.T) {
	rec, calls, events, _ := newTestReconciler(t)
	ctx := context.Background()

	if err := calls.Create(ctx, &models.Call{ID: "c3", Initiator: models.InitiatorAI}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	evs := []models.CallEvent{
		{CallID: "c3", Type: models.EventAIConversation, Payload: `not json`},
		{CallID: "c3", Type: models.EventAIConversation, Payload: `{"user_input":"hi"}`},
	}
	for i := range evs {
		if err := events.Append(ctx, &evs[i]); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	got, err := rec.Transcript(ctx, "c3")
	if err != nil {
		t.Fatalf("Transcript() error: %v", err)
	}
	if got != "Customer: hi\n" {
		t.Errorf("Transcript() = %q, want %q", got, "Customer: hi\n")
	}
}

func TestFinalizeAttachesTranscript(t *testing.T) {
	rec, calls, events, _ := newTestReconciler(t)
	ctx := context.Background()

	if err := calls.Create(ctx, &models.Call{ID: "c4", Initiator: models.InitiatorAI}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	ev := models.CallEvent{CallID: "c4", Type: models.EventAIConversation,
		Payload: `{"user_input":"yes","ai_response":"great"}`}
	if err := events.Append(ctx, &ev); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	rec.Finalize(ctx, "c4", models.OutcomeCompleted, time.Minute, 0.011)

	got, err := calls.GetByID(ctx, "c4")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Transcript != "Customer: yes\nAI: great\n" {
		t.Errorf("Transcript = %q", got.Transcript)
	}
}

func TestFinalizeUpdatesContact(t *testing.T) {
	rec, calls, _, contacts := newTestReconciler(t)
	ctx := context.Background()

	if err := contacts.Create(ctx, &models.Contact{ID: "ct1", Phone: "+15551230000"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := calls.Create(ctx, &models.Call{ID: "c5", ContactID: "ct1", Initiator: models.InitiatorAI}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	rec.Finalize(ctx, "c5", models.OutcomeNoAnswer, 0, 0)

	got, err := contacts.GetByID(ctx, "ct1")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Status != models.ContactStatusRetry {
		t.Errorf("contact status = %q, want retry", got.Status)
	}
}

func TestMarkFailedGuarded(t *testing.T) {
	rec, calls, _, _ := newTestReconciler(t)
	ctx := context.Background()

	if err := calls.Create(ctx, &models.Call{ID: "c6", Initiator: models.InitiatorAgent}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	rec.Finalize(ctx, "c6", models.OutcomeCompleted, time.Minute, 0.011)
	if rec.MarkFailed(ctx, "c6", models.OutcomeFailed) {
		t.Error("MarkFailed() applied after Finalize()")
	}

	got, _ := calls.GetByID(ctx, "c6")
	if got.Status != models.CallStatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
}

func TestAppendEventSurvivesBadPayload(t *testing.T) {
	rec, calls, events, _ := newTestReconciler(t)
	ctx := context.Background()

	if err := calls.Create(ctx, &models.Call{ID: "c7", Initiator: models.InitiatorAI}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Channels cannot be marshaled; the event is still recorded with an
	// empty payload instead of being dropped.
	rec.AppendEvent(ctx, "c7", models.EventCallError, map[string]any{"ch": make(chan int)})

	got, err := events.ListByCall(ctx, "c7")
	if err != nil {
		t.Fatalf("ListByCall() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Payload != "{}" {
		t.Errorf("Payload = %q, want {}", got[0].Payload)
	}
}
