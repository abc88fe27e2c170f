// Package notification turns domain events and direct alerts into in-app
// notifications for the sales team. Delivery is fire-and-forget: a missed
// notification never fails the producing flow.
package notification

import (
	"context"
	"fmt"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/ports"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// NotificationWriter is the storage the module writes through.
type NotificationWriter interface {
	Create(ctx context.Context, n *Notification) error
}

// Module implements ports.Notifier and subscribes to the events that
// warrant a human's attention.
type Module struct {
	writer NotificationWriter
	log    *logger.Logger
}

func New(writer NotificationWriter, log *logger.Logger) *Module {
	return &Module{writer: writer, log: log}
}

// Notify stores an alert. Failures are logged, never returned.
func (m *Module) Notify(ctx context.Context, alert ports.Alert) {
	m.create(ctx, alert.LeadID, alert.Kind, alert.Title, alert.Body)
}

// RegisterHandlers subscribes the module to the event bus.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.EscalationRaised{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.EscalationRaised)
		if !ok {
			return nil
		}
		m.create(ctx, e.LeadID, "escalation", "Lead escalated: "+e.Reason, e.Context)
		return nil
	}))

	bus.Subscribe(events.HotLeadDetected{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.HotLeadDetected)
		if !ok {
			return nil
		}
		m.create(ctx, e.LeadID, "hot_lead", "Hot lead detected", fmt.Sprintf("Lead scored %d and moved to the hot tier", e.Score))
		return nil
	}))

	bus.Subscribe(events.DocumentGenerated{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.DocumentGenerated)
		if !ok {
			return nil
		}
		m.create(ctx, e.LeadID, "document", "Document ready: "+e.Title, fmt.Sprintf("A new %s was generated", e.Kind))
		return nil
	}))
}

func (m *Module) create(ctx context.Context, leadID uuid.UUID, kind, title, body string) {
	err := m.writer.Create(ctx, &Notification{
		LeadID: leadID,
		Kind:   kind,
		Title:  title,
		Body:   body,
	})
	if err != nil {
		m.log.Error("failed to store notification", "kind", kind, "leadId", leadID, "error", err)
	}
}
