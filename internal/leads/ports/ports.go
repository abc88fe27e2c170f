// Package ports defines the narrow interfaces the leads orchestration core
// needs from its external collaborators. Implementations live in
// internal/scheduler, internal/email, internal/notification and
// internal/adapters; the core never imports those packages directly.
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskScheduler enqueues durable, optionally delayed work items. Implemented
// by the asynq-backed scheduler client.
type TaskScheduler interface {
	// EnqueueNewLeadPipeline starts the full intake pipeline for a lead.
	EnqueueNewLeadPipeline(ctx context.Context, leadID uuid.UUID) error
	// EnqueueProcessLead schedules a single pipeline step after the delay.
	EnqueueProcessLead(ctx context.Context, leadID uuid.UUID, step string, delay time.Duration) error
	// EnqueueNoShowFollowUp schedules one no-show recovery step.
	EnqueueNoShowFollowUp(ctx context.Context, leadID, meetingID uuid.UUID, step string, delay time.Duration) error
	// EnqueueCapabilityHandoff chains the next capability with the previous
	// result's data as input.
	EnqueueCapabilityHandoff(ctx context.Context, leadID uuid.UUID, capability string, input map[string]any) error
}

// Message is rendered outbound content.
type Message struct {
	To      string
	Subject string
	Body    string
}

// SendResult reports a completed delivery.
type SendResult struct {
	MessageID string
}

// MessageSender delivers a rendered message. Implementations classify
// transport failures as transient (retryable) or permanent via apperr kinds.
type MessageSender interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// GeneratedContent is the structured output of content generation.
type GeneratedContent struct {
	Subject string
	Body    string
}

// LeadContext carries the lead fields content generation may reference.
type LeadContext struct {
	LeadID    uuid.UUID
	FirstName string
	LastName  string
	Company   string
	Stage     string
	Score     int
}

// ContentGenerator produces message content of a given kind
// ("acknowledgment", "follow_up", "no_show_apology", ...).
type ContentGenerator interface {
	Generate(ctx context.Context, kind string, lead LeadContext) (GeneratedContent, error)
}

// Alert is a structured notification pushed to humans.
type Alert struct {
	Kind   string
	LeadID uuid.UUID
	Title  string
	Body   string
}

// Notifier pushes alerts fire-and-forget. Implementations swallow and log
// their own failures; a lost alert must never fail the originating task.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

// DocumentStore persists generated artifacts in object storage.
type DocumentStore interface {
	Put(ctx context.Context, objectKey string, contentType string, data []byte) error
	PresignGet(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}
