package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadflow_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Meeting represents the meeting database model.
type Meeting struct {
	ID        uuid.UUID `db:"id"`
	LeadID    uuid.UUID `db:"lead_id"`
	Title     string    `db:"title"`
	StartTime time.Time `db:"start_time"`
	EndTime   time.Time `db:"end_time"`
	Status    string    `db:"status"`
	Outcome   *string   `db:"outcome"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

const meetingNotFoundMsg = "meeting not found"

const meetingColumns = `id, lead_id, title, start_time, end_time, status, outcome, created_at, updated_at`

func scanMeeting(row pgx.Row) (*Meeting, error) {
	var m Meeting
	err := row.Scan(&m.ID, &m.LeadID, &m.Title, &m.StartTime, &m.EndTime, &m.Status, &m.Outcome, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMeeting inserts a new meeting.
func (r *Repository) CreateMeeting(ctx context.Context, meeting *Meeting) error {
	query := `
		INSERT INTO meetings (id, lead_id, title, start_time, end_time, status, outcome, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		meeting.ID, meeting.LeadID, meeting.Title, meeting.StartTime, meeting.EndTime,
		meeting.Status, meeting.Outcome, meeting.CreatedAt, meeting.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create meeting: %w", err)
	}

	return nil
}

// GetMeetingByID retrieves a meeting by its ID.
func (r *Repository) GetMeetingByID(ctx context.Context, id uuid.UUID) (*Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1`

	meeting, err := scanMeeting(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(meetingNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}

	return meeting, nil
}

// UpdateMeetingStatus moves a meeting between statuses conditionally on its
// current status. Returns false when the meeting already left fromStatus,
// which callers treat as a lost race, not an error.
func (r *Repository) UpdateMeetingStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string, outcome *string) (bool, error) {
	query := `UPDATE meetings SET status = $3, outcome = COALESCE($4, outcome), updated_at = $5
		WHERE id = $1 AND status = $2`

	result, err := r.pool.Exec(ctx, query, id, fromStatus, toStatus, outcome, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to update meeting status: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ListOverdueScheduledMeetings finds meetings still marked scheduled whose
// end time falls inside the no-show detection window and that have no
// recorded outcome. The window keeps a meeting that merely ran long out of
// the scan, and stops very old unresolved meetings from being reprocessed on
// every tick.
func (r *Repository) ListOverdueScheduledMeetings(ctx context.Context, endedAfter, endedBefore time.Time, limit int) ([]Meeting, error) {
	query := `SELECT ` + meetingColumns + `
		FROM meetings
		WHERE status = 'scheduled'
		  AND outcome IS NULL
		  AND end_time >= $1
		  AND end_time <= $2
		ORDER BY end_time ASC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, endedAfter, endedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue meetings: %w", err)
	}
	defer rows.Close()

	var meetings []Meeting
	for rows.Next() {
		meeting, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meeting: %w", err)
		}
		meetings = append(meetings, *meeting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meetings: %w", err)
	}

	return meetings, nil
}

// CountNoShows returns the lead's total number of no-show meetings. Always
// computed on demand; the value drives strategy selection and must never be
// cached across task invocations.
func (r *Repository) CountNoShows(ctx context.Context, leadID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM meetings WHERE lead_id = $1 AND status = 'no_show'`

	if err := r.pool.QueryRow(ctx, query, leadID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count no-shows: %w", err)
	}

	return count, nil
}

// CountMeetingsByStatus counts the lead's meetings in one status.
func (r *Repository) CountMeetingsByStatus(ctx context.Context, leadID uuid.UUID, status string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM meetings WHERE lead_id = $1 AND status = $2`

	if err := r.pool.QueryRow(ctx, query, leadID, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count meetings by status: %w", err)
	}

	return count, nil
}

// HasUpcomingMeeting reports whether the lead has a scheduled or confirmed
// meeting that has not ended yet. Used as a follow-up guard.
func (r *Repository) HasUpcomingMeeting(ctx context.Context, leadID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (
		SELECT 1 FROM meetings
		WHERE lead_id = $1 AND status IN ('scheduled', 'confirmed') AND end_time > $2
	)`

	if err := r.pool.QueryRow(ctx, query, leadID, time.Now()).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check upcoming meetings: %w", err)
	}

	return exists, nil
}

// ListMeetings returns all meetings for a lead, newest first.
func (r *Repository) ListMeetings(ctx context.Context, leadID uuid.UUID) ([]Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE lead_id = $1 ORDER BY start_time DESC`

	rows, err := r.pool.Query(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	defer rows.Close()

	var meetings []Meeting
	for rows.Next() {
		meeting, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meeting: %w", err)
		}
		meetings = append(meetings, *meeting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meetings: %w", err)
	}

	return meetings, nil
}
