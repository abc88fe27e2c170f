package sequences

import (
	"testing"

	"github.com/google/uuid"
)

func TestBeginRejectsDuplicateActive(t *testing.T) {
	store := NewStore()
	leadID := uuid.New()

	if !store.Begin(leadID, "no_show_recovery") {
		t.Fatal("expected first Begin to succeed")
	}
	if store.Begin(leadID, "no_show_recovery") {
		t.Fatal("expected duplicate Begin to be rejected while active")
	}

	store.Finish(leadID, "no_show_recovery", StateCompleted)
	if !store.Begin(leadID, "no_show_recovery") {
		t.Fatal("expected Begin to succeed after sequence finished")
	}
}

func TestAdvanceRequiresActiveSequence(t *testing.T) {
	store := NewStore()
	leadID := uuid.New()

	if got := store.Advance(leadID, "follow_up"); got != -1 {
		t.Fatalf("expected -1 for unknown sequence, got %d", got)
	}

	store.Begin(leadID, "follow_up")
	if got := store.Advance(leadID, "follow_up"); got != 1 {
		t.Fatalf("expected step 1, got %d", got)
	}
	if got := store.Advance(leadID, "follow_up"); got != 2 {
		t.Fatalf("expected step 2, got %d", got)
	}

	store.Finish(leadID, "follow_up", StateCancelled)
	if got := store.Advance(leadID, "follow_up"); got != -1 {
		t.Fatalf("expected -1 after cancellation, got %d", got)
	}
}

func TestActiveCount(t *testing.T) {
	store := NewStore()

	store.Begin(uuid.New(), "a")
	store.Begin(uuid.New(), "b")
	lead := uuid.New()
	store.Begin(lead, "c")
	store.Finish(lead, "c", StateCompleted)

	if got := store.ActiveCount(); got != 2 {
		t.Fatalf("expected 2 active sequences, got %d", got)
	}
}
