package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Activity is the audit record attached to a lead. Scoring, capability runs,
// follow-ups and stage changes all land here; the stale-lead scan reads the
// same table to decide inactivity.
type Activity struct {
	ID        uuid.UUID      `db:"id"`
	LeadID    uuid.UUID      `db:"lead_id"`
	Type      string         `db:"type"`
	Actor     string         `db:"actor"`
	Title     string         `db:"title"`
	Summary   string         `db:"summary"`
	Automated bool           `db:"automated"`
	Metadata  map[string]any `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
}

// Communication is one inbound or outbound message on the lead's thread.
// Outbound rows double as the idempotency guard for re-delivered send tasks.
type Communication struct {
	ID        uuid.UUID `db:"id"`
	LeadID    uuid.UUID `db:"lead_id"`
	Direction string    `db:"direction"` // "inbound" | "outbound"
	Subject   string    `db:"subject"`
	Body      string    `db:"body"`
	MessageID string    `db:"message_id"`
	SentAt    time.Time `db:"sent_at"`
}

// Escalation flags a lead for human review.
type Escalation struct {
	ID        uuid.UUID `db:"id"`
	LeadID    uuid.UUID `db:"lead_id"`
	Reason    string    `db:"reason"`
	Context   string    `db:"context"`
	Resolved  bool      `db:"resolved"`
	CreatedAt time.Time `db:"created_at"`
}

// Document records a generated artifact stored in object storage.
type Document struct {
	ID        uuid.UUID `db:"id"`
	LeadID    uuid.UUID `db:"lead_id"`
	Kind      string    `db:"kind"`
	Title     string    `db:"title"`
	ObjectKey string    `db:"object_key"`
	CreatedAt time.Time `db:"created_at"`
}

// LogActivityParams describes one activity insert.
type LogActivityParams struct {
	LeadID    uuid.UUID
	Type      string
	Actor     string
	Title     string
	Summary   string
	Automated bool
	Metadata  map[string]any
}

// LogActivity appends an activity record and returns its id.
func (r *Repository) LogActivity(ctx context.Context, params LogActivityParams) (uuid.UUID, error) {
	id := uuid.New()

	var metadata []byte
	if params.Metadata != nil {
		var err error
		metadata, err = json.Marshal(params.Metadata)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to marshal activity metadata: %w", err)
		}
	}

	query := `INSERT INTO activities (id, lead_id, type, actor, title, summary, automated, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		id, params.LeadID, params.Type, params.Actor, params.Title, params.Summary,
		params.Automated, metadata, time.Now(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to log activity: %w", err)
	}

	return id, nil
}

// CountAutomatedActivities counts automated activities of one type for a
// lead. The stale-lead scan uses this to bound follow-up touches.
func (r *Repository) CountAutomatedActivities(ctx context.Context, leadID uuid.UUID, activityType string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM activities WHERE lead_id = $1 AND type = $2 AND automated = TRUE`

	if err := r.pool.QueryRow(ctx, query, leadID, activityType).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}

	return count, nil
}

// ListActivities returns a lead's activities, newest first.
func (r *Repository) ListActivities(ctx context.Context, leadID uuid.UUID, limit int) ([]Activity, error) {
	query := `SELECT id, lead_id, type, actor, title, summary, automated, metadata, created_at
		FROM activities WHERE lead_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var activities []Activity
	for rows.Next() {
		var a Activity
		var metadata []byte
		if err := rows.Scan(&a.ID, &a.LeadID, &a.Type, &a.Actor, &a.Title, &a.Summary, &a.Automated, &metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &a.Metadata)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}

	return activities, nil
}

// CreateCommunication appends a message record to the lead's thread.
func (r *Repository) CreateCommunication(ctx context.Context, comm *Communication) error {
	query := `INSERT INTO communications (id, lead_id, direction, subject, body, message_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		comm.ID, comm.LeadID, comm.Direction, comm.Subject, comm.Body, comm.MessageID, comm.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create communication: %w", err)
	}

	return nil
}

// HasInboundSinceLastOutbound reports whether the lead has responded since
// our most recent outbound message. Leads with no outbound yet count as
// responded if any inbound exists.
func (r *Repository) HasInboundSinceLastOutbound(ctx context.Context, leadID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (
		SELECT 1 FROM communications c
		WHERE c.lead_id = $1 AND c.direction = 'inbound'
		  AND c.sent_at > COALESCE(
			(SELECT MAX(o.sent_at) FROM communications o WHERE o.lead_id = $1 AND o.direction = 'outbound'),
			'-infinity'::timestamptz
		  )
	)`

	if err := r.pool.QueryRow(ctx, query, leadID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check inbound communications: %w", err)
	}

	return exists, nil
}

// HasOutboundWithSubject reports whether an outbound message with this exact
// subject was already sent to the lead. This is the idempotency guard for
// re-delivered send tasks.
func (r *Repository) HasOutboundWithSubject(ctx context.Context, leadID uuid.UUID, subject string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (
		SELECT 1 FROM communications WHERE lead_id = $1 AND direction = 'outbound' AND subject = $2
	)`

	if err := r.pool.QueryRow(ctx, query, leadID, subject).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check outbound subject: %w", err)
	}

	return exists, nil
}

// CountInboundCommunications counts messages received from the lead.
func (r *Repository) CountInboundCommunications(ctx context.Context, leadID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM communications WHERE lead_id = $1 AND direction = 'inbound'`

	if err := r.pool.QueryRow(ctx, query, leadID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count inbound communications: %w", err)
	}

	return count, nil
}

// ListCommunications returns the lead's message thread, newest first.
func (r *Repository) ListCommunications(ctx context.Context, leadID uuid.UUID, limit int) ([]Communication, error) {
	query := `SELECT id, lead_id, direction, subject, body, message_id, sent_at
		FROM communications WHERE lead_id = $1 ORDER BY sent_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list communications: %w", err)
	}
	defer rows.Close()

	var comms []Communication
	for rows.Next() {
		var c Communication
		if err := rows.Scan(&c.ID, &c.LeadID, &c.Direction, &c.Subject, &c.Body, &c.MessageID, &c.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan communication: %w", err)
		}
		comms = append(comms, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate communications: %w", err)
	}

	return comms, nil
}

// CreateEscalation flags the lead for human review.
func (r *Repository) CreateEscalation(ctx context.Context, leadID uuid.UUID, reason, context string) (uuid.UUID, error) {
	id := uuid.New()
	query := `INSERT INTO escalations (id, lead_id, reason, context, resolved, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)`

	_, err := r.pool.Exec(ctx, query, id, leadID, reason, context, time.Now())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create escalation: %w", err)
	}

	return id, nil
}

// ListEscalations returns a lead's escalations, newest first.
func (r *Repository) ListEscalations(ctx context.Context, leadID uuid.UUID) ([]Escalation, error) {
	query := `SELECT id, lead_id, reason, context, resolved, created_at
		FROM escalations WHERE lead_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	defer rows.Close()

	var escalations []Escalation
	for rows.Next() {
		var e Escalation
		if err := rows.Scan(&e.ID, &e.LeadID, &e.Reason, &e.Context, &e.Resolved, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		escalations = append(escalations, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate escalations: %w", err)
	}

	return escalations, nil
}

// CreateDocument records a generated document stored in object storage.
func (r *Repository) CreateDocument(ctx context.Context, doc *Document) error {
	query := `INSERT INTO documents (id, lead_id, kind, title, object_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query, doc.ID, doc.LeadID, doc.Kind, doc.Title, doc.ObjectKey, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

// FunnelCounts aggregates leads per stage for the analytics capability.
func (r *Repository) FunnelCounts(ctx context.Context) (map[string]int, error) {
	query := `SELECT stage, COUNT(*) FROM leads WHERE deleted_at IS NULL GROUP BY stage`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate funnel: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var stage string
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, fmt.Errorf("failed to scan funnel row: %w", err)
		}
		counts[stage] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate funnel rows: %w", err)
	}

	return counts, nil
}
