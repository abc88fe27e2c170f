// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"leadflow_backend/platform/events"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var (
	NewBaseEvent = events.NewBaseEvent
)

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Leads Domain Events
// =============================================================================

// LeadCreated is published when a new lead enters the pipeline.
type LeadCreated struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	Source string    `json:"source,omitempty"`
	Email  string    `json:"email"`
}

func (e LeadCreated) EventName() string { return "leads.lead.created" }

// StageChanged is published after every successful stage transition.
type StageChanged struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	FromStage string    `json:"fromStage"`
	ToStage   string    `json:"toStage"`
	Reason    string    `json:"reason"`
	Automated bool      `json:"automated"`
}

func (e StageChanged) EventName() string { return "leads.stage.changed" }

// HotLeadDetected is published when scoring promotes a lead to the hot tier.
type HotLeadDetected struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	Score  int       `json:"score"`
}

func (e HotLeadDetected) EventName() string { return "leads.hot.detected" }

// InboundMessageReceived is published when the lead replies on any channel.
type InboundMessageReceived struct {
	BaseEvent
	LeadID  uuid.UUID `json:"leadId"`
	Subject string    `json:"subject"`
}

func (e InboundMessageReceived) EventName() string { return "leads.message.inbound" }

// =============================================================================
// Meeting Events
// =============================================================================

// MeetingScheduled is published when a meeting is booked for a lead.
type MeetingScheduled struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	MeetingID uuid.UUID `json:"meetingId"`
}

func (e MeetingScheduled) EventName() string { return "meetings.scheduled" }

// MeetingMarkedNoShow is published when the no-show scan (or a human) flags
// a missed meeting.
type MeetingMarkedNoShow struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	MeetingID   uuid.UUID `json:"meetingId"`
	NoShowCount int       `json:"noShowCount"`
	Strategy    string    `json:"strategy"`
}

func (e MeetingMarkedNoShow) EventName() string { return "meetings.no_show" }

// =============================================================================
// Escalation / Document Events
// =============================================================================

// EscalationRaised is published when a lead needs human review.
type EscalationRaised struct {
	BaseEvent
	LeadID  uuid.UUID `json:"leadId"`
	Reason  string    `json:"reason"`
	Context string    `json:"context"`
}

func (e EscalationRaised) EventName() string { return "leads.escalation.raised" }

// DocumentGenerated is published when a capability stores a new document.
type DocumentGenerated struct {
	BaseEvent
	LeadID     uuid.UUID `json:"leadId"`
	DocumentID uuid.UUID `json:"documentId"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
}

func (e DocumentGenerated) EventName() string { return "documents.generated" }
