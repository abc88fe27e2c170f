package notification

import (
	"context"
	"errors"
	"testing"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/ports"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeWriter struct {
	created []Notification
	err     error
}

func (f *fakeWriter) Create(_ context.Context, n *Notification) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, *n)
	return nil
}

func TestNotifyStoresAlert(t *testing.T) {
	writer := &fakeWriter{}
	module := New(writer, logger.New("test"))
	leadID := uuid.New()

	module.Notify(context.Background(), ports.Alert{
		Kind: "rep_call", LeadID: leadID, Title: "Call this lead", Body: "Second no-show",
	})

	if len(writer.created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(writer.created))
	}
	if writer.created[0].Kind != "rep_call" || writer.created[0].LeadID != leadID {
		t.Fatalf("unexpected notification %+v", writer.created[0])
	}
}

func TestNotifySwallowsStorageFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("insert failed")}
	module := New(writer, logger.New("test"))

	// Must not panic or propagate.
	module.Notify(context.Background(), ports.Alert{Kind: "escalation", LeadID: uuid.New()})
}

func TestRegisterHandlersCreatesFromEvents(t *testing.T) {
	writer := &fakeWriter{}
	module := New(writer, logger.New("test"))
	bus := events.NewInMemoryBus(logger.New("test"))
	module.RegisterHandlers(bus)

	leadID := uuid.New()
	if err := bus.PublishSync(context.Background(), events.EscalationRaised{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		Reason:    "repeated_no_show",
		Context:   "3 missed meetings",
	}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := bus.PublishSync(context.Background(), events.HotLeadDetected{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		Score:     92,
	}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if len(writer.created) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(writer.created))
	}
	if writer.created[0].Kind != "escalation" || writer.created[1].Kind != "hot_lead" {
		t.Fatalf("unexpected kinds: %+v", writer.created)
	}
}
