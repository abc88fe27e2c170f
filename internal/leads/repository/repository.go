// Package repository provides database access for the leads bounded context.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadflow_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Lead represents the lead database model.
type Lead struct {
	ID        uuid.UUID  `db:"id"`
	FirstName string     `db:"first_name"`
	LastName  string     `db:"last_name"`
	Email     string     `db:"email"`
	Phone     string     `db:"phone"`
	Company   string     `db:"company"`
	Source    string     `db:"source"`
	Score     int        `db:"score"`
	Stage     string     `db:"stage"`
	Category  string     `db:"category"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// StageHistoryEntry is the immutable audit record of one stage transition.
type StageHistoryEntry struct {
	ID         uuid.UUID `db:"id"`
	LeadID     uuid.UUID `db:"lead_id"`
	FromStage  string    `db:"from_stage"`
	ToStage    string    `db:"to_stage"`
	Reason     string    `db:"reason"`
	Automated  bool      `db:"automated"`
	OccurredAt time.Time `db:"occurred_at"`
}

// Repository provides database operations for leads.
type Repository struct {
	pool *pgxpool.Pool
}

const leadNotFoundMsg = "lead not found"

// New creates a new leads repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const leadColumns = `id, first_name, last_name, email, phone, company, source, score, stage, category, created_at, updated_at, deleted_at`

func scanLead(row pgx.Row) (*Lead, error) {
	var lead Lead
	err := row.Scan(
		&lead.ID, &lead.FirstName, &lead.LastName, &lead.Email, &lead.Phone,
		&lead.Company, &lead.Source, &lead.Score, &lead.Stage, &lead.Category,
		&lead.CreatedAt, &lead.UpdatedAt, &lead.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// Create inserts a new lead.
func (r *Repository) Create(ctx context.Context, lead *Lead) error {
	query := `
		INSERT INTO leads (
			id, first_name, last_name, email, phone, company, source, score, stage, category, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		lead.ID, lead.FirstName, lead.LastName, lead.Email, lead.Phone,
		lead.Company, lead.Source, lead.Score, lead.Stage, lead.Category,
		lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create lead: %w", err)
	}

	return nil
}

// GetByID retrieves a lead by its ID. Soft-deleted leads are not returned.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1 AND deleted_at IS NULL`

	lead, err := scanLead(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(leadNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}

	return lead, nil
}

// GetByEmail retrieves a lead by email, used by inbound webhooks.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT 1`

	lead, err := scanLead(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(leadNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to get lead by email: %w", err)
	}

	return lead, nil
}

// UpdateScore sets the score and derived category.
func (r *Repository) UpdateScore(ctx context.Context, id uuid.UUID, score int, category string) error {
	query := `UPDATE leads SET score = $2, category = $3, updated_at = $4 WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.pool.Exec(ctx, query, id, score, category, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update lead score: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(leadNotFoundMsg)
	}

	return nil
}

// UpdateContact patches the mutable contact fields.
func (r *Repository) UpdateContact(ctx context.Context, id uuid.UUID, firstName, lastName, email, phone, company string) error {
	query := `UPDATE leads SET first_name = $2, last_name = $3, email = $4, phone = $5, company = $6, updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.pool.Exec(ctx, query, id, firstName, lastName, email, phone, company, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update lead contact: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(leadNotFoundMsg)
	}

	return nil
}

// SoftDelete marks a lead deleted without removing history.
func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE leads SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.pool.Exec(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to delete lead: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(leadNotFoundMsg)
	}

	return nil
}

// TransitionParams describes one stage transition write.
type TransitionParams struct {
	LeadID    uuid.UUID
	FromStage string
	ToStage   string
	Reason    string
	Automated bool
}

// TransitionStage atomically moves a lead between stages: the conditional
// stage update, the stage_history insert, and the audit activity happen in a
// single transaction. Returns false (and no error) when the lead was no
// longer in FromStage, so the caller can treat the race as a skipped
// transition rather than a failure.
func (r *Repository) TransitionStage(ctx context.Context, params TransitionParams) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now()

	result, err := tx.Exec(ctx,
		`UPDATE leads SET stage = $3, updated_at = $4 WHERE id = $1 AND stage = $2 AND deleted_at IS NULL`,
		params.LeadID, params.FromStage, params.ToStage, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update lead stage: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO stage_history (id, lead_id, from_stage, to_stage, reason, automated, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), params.LeadID, params.FromStage, params.ToStage, params.Reason, params.Automated, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert stage history: %w", err)
	}

	actor := "System"
	if !params.Automated {
		actor = "User"
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO activities (id, lead_id, type, actor, title, summary, automated, created_at)
		 VALUES ($1, $2, 'stage_change', $3, $4, $5, $6, $7)`,
		uuid.New(), params.LeadID, actor,
		fmt.Sprintf("Stage changed to %s", params.ToStage),
		fmt.Sprintf("%s -> %s: %s", params.FromStage, params.ToStage, params.Reason),
		params.Automated, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert transition activity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transition: %w", err)
	}

	return true, nil
}

// ListStageHistory returns the full transition audit trail, oldest first.
func (r *Repository) ListStageHistory(ctx context.Context, leadID uuid.UUID) ([]StageHistoryEntry, error) {
	query := `SELECT id, lead_id, from_stage, to_stage, reason, automated, occurred_at
		FROM stage_history WHERE lead_id = $1 ORDER BY occurred_at ASC`

	rows, err := r.pool.Query(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage history: %w", err)
	}
	defer rows.Close()

	var entries []StageHistoryEntry
	for rows.Next() {
		var entry StageHistoryEntry
		if err := rows.Scan(&entry.ID, &entry.LeadID, &entry.FromStage, &entry.ToStage, &entry.Reason, &entry.Automated, &entry.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage history: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stage history: %w", err)
	}

	return entries, nil
}

// ListStaleLeads finds leads sitting in the given stages with no activity
// since the inactivity cutoff and created before the age cutoff. Used by the
// stale-lead scan.
func (r *Repository) ListStaleLeads(ctx context.Context, stages []string, inactiveSince, createdBefore time.Time, limit int) ([]Lead, error) {
	query := `SELECT ` + leadColumns + `
		FROM leads l
		WHERE l.stage = ANY($1)
		  AND l.deleted_at IS NULL
		  AND l.created_at < $3
		  AND NOT EXISTS (
			SELECT 1 FROM activities a WHERE a.lead_id = l.id AND a.created_at > $2
		  )
		ORDER BY l.updated_at ASC
		LIMIT $4`

	rows, err := r.pool.Query(ctx, query, stages, inactiveSince, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale leads: %w", err)
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale lead: %w", err)
		}
		leads = append(leads, *lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stale leads: %w", err)
	}

	return leads, nil
}

// ListParams contains parameters for listing leads.
type ListParams struct {
	Stage    string
	Page     int
	PageSize int
}

// List retrieves leads with optional stage filtering, newest first.
func (r *Repository) List(ctx context.Context, params ListParams) ([]Lead, int, error) {
	baseQuery := `FROM leads WHERE deleted_at IS NULL`
	args := []interface{}{}
	if params.Stage != "" {
		baseQuery += ` AND stage = $1`
		args = append(args, params.Stage)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count leads: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	selectQuery := fmt.Sprintf(`SELECT `+leadColumns+` %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		baseQuery, len(args)+1, len(args)+2)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list leads: %w", err)
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, *lead)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate leads: %w", err)
	}

	return leads, total, nil
}
