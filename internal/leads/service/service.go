// Package service implements the lead management operations behind the HTTP
// API: intake, detail reads, meetings and the inbound message webhook. The
// automated journey itself runs in the task queue; this service only creates
// work for it.
package service

import (
	"context"
	"strings"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/ports"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/transport"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"

	"github.com/google/uuid"
)

// Store is the repository surface the management service needs.
type Store interface {
	Create(ctx context.Context, lead *repository.Lead) error
	GetByID(ctx context.Context, id uuid.UUID) (*repository.Lead, error)
	GetByEmail(ctx context.Context, email string) (*repository.Lead, error)
	List(ctx context.Context, params repository.ListParams) ([]repository.Lead, int, error)
	ListStageHistory(ctx context.Context, leadID uuid.UUID) ([]repository.StageHistoryEntry, error)
	ListActivities(ctx context.Context, leadID uuid.UUID, limit int) ([]repository.Activity, error)
	ListMeetings(ctx context.Context, leadID uuid.UUID) ([]repository.Meeting, error)
	ListCommunications(ctx context.Context, leadID uuid.UUID, limit int) ([]repository.Communication, error)
	ListEscalations(ctx context.Context, leadID uuid.UUID) ([]repository.Escalation, error)
	LogActivity(ctx context.Context, params repository.LogActivityParams) (uuid.UUID, error)
	CreateCommunication(ctx context.Context, comm *repository.Communication) error
	CreateMeeting(ctx context.Context, meeting *repository.Meeting) error
	GetMeetingByID(ctx context.Context, id uuid.UUID) (*repository.Meeting, error)
	UpdateMeetingStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string, outcome *string) (bool, error)
}

// NoShowProcessor starts the recovery sequence for a meeting a human just
// resolved as a no-show.
type NoShowProcessor interface {
	ProcessMeeting(ctx context.Context, meeting repository.Meeting) error
}

// StageEngine applies guarded stage transitions. Consumer-driven interface
// implemented by the orchestration engine.
type StageEngine interface {
	TransitionIfLegal(ctx context.Context, leadID uuid.UUID, fromStage, toStage, reason string) (bool, error)
}

// Service provides lead management operations.
type Service struct {
	store     Store
	engine    StageEngine
	scheduler ports.TaskScheduler
	noShows   NoShowProcessor
	bus       events.Bus
	log       *logger.Logger
}

func New(store Store, engine StageEngine, scheduler ports.TaskScheduler, noShows NoShowProcessor, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		engine:    engine,
		scheduler: scheduler,
		noShows:   noShows,
		bus:       bus,
		log:       log,
	}
}

// CreateLead stores a new lead in stage NEW and kicks off the intake
// pipeline. The lead is returned immediately; qualification happens in the
// background.
func (s *Service) CreateLead(ctx context.Context, req transport.CreateLeadRequest) (*repository.Lead, error) {
	now := time.Now()
	lead := &repository.Lead{
		ID:        uuid.New(),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:     phone.NormalizeE164(req.Phone),
		Company:   strings.TrimSpace(req.Company),
		Source:    strings.ToLower(strings.TrimSpace(req.Source)),
		Stage:     domain.StageNew,
		Category:  domain.CategoryCold,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, lead); err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, events.LeadCreated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		Source:    lead.Source,
		Email:     lead.Email,
	})

	if err := s.scheduler.EnqueueNewLeadPipeline(ctx, lead.ID); err != nil {
		// The lead exists; the stale scan will pick it up if the intake
		// task was lost.
		s.log.Error("failed to enqueue intake pipeline", "leadId", lead.ID, "error", err)
	}

	return lead, nil
}

// GetLeadDetail returns the lead with its full audit trail.
func (s *Service) GetLeadDetail(ctx context.Context, id uuid.UUID) (*transport.LeadDetailResponse, error) {
	lead, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	history, err := s.store.ListStageHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	activities, err := s.store.ListActivities(ctx, id, 100)
	if err != nil {
		return nil, err
	}
	meetings, err := s.store.ListMeetings(ctx, id)
	if err != nil {
		return nil, err
	}
	communications, err := s.store.ListCommunications(ctx, id, 100)
	if err != nil {
		return nil, err
	}

	return &transport.LeadDetailResponse{
		LeadResponse:   transport.ToLeadResponse(lead),
		StageHistory:   history,
		Activities:     activities,
		Meetings:       meetings,
		Communications: communications,
	}, nil
}

// ListLeads returns a page of leads.
func (s *Service) ListLeads(ctx context.Context, query transport.ListLeadsQuery) (*transport.ListLeadsResponse, error) {
	if query.Stage != "" && !domain.IsKnownStage(query.Stage) {
		return nil, apperr.New(apperr.KindValidation, "unknown stage filter")
	}

	leadRows, total, err := s.store.List(ctx, repository.ListParams{
		Stage:    query.Stage,
		Page:     query.Page,
		PageSize: query.PageSize,
	})
	if err != nil {
		return nil, err
	}

	resp := &transport.ListLeadsResponse{Total: total, Leads: make([]transport.LeadResponse, 0, len(leadRows))}
	for i := range leadRows {
		resp.Leads = append(resp.Leads, transport.ToLeadResponse(&leadRows[i]))
	}
	return resp, nil
}

// TriggerStep enqueues one pipeline step to run immediately.
func (s *Service) TriggerStep(ctx context.Context, leadID uuid.UUID, step string) error {
	if _, err := s.store.GetByID(ctx, leadID); err != nil {
		return err
	}
	return s.scheduler.EnqueueProcessLead(ctx, leadID, step, 0)
}

// ScheduleMeeting books a meeting and moves the lead to MEETING_SCHEDULED
// when its current stage permits.
func (s *Service) ScheduleMeeting(ctx context.Context, leadID uuid.UUID, req transport.CreateMeetingRequest) (*repository.Meeting, error) {
	if !req.EndTime.After(req.StartTime) {
		return nil, apperr.New(apperr.KindValidation, "meeting must end after it starts")
	}

	lead, err := s.store.GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}

	meeting := &repository.Meeting{
		ID:        uuid.New(),
		LeadID:    leadID,
		Title:     strings.TrimSpace(req.Title),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Status:    domain.MeetingScheduled,
	}
	if err := s.store.CreateMeeting(ctx, meeting); err != nil {
		return nil, err
	}

	if lead.Stage != domain.StageMeetingScheduled {
		if _, err := s.engine.TransitionIfLegal(ctx, leadID, lead.Stage, domain.StageMeetingScheduled, "meeting booked"); err != nil {
			return nil, err
		}
	}

	s.bus.Publish(ctx, events.MeetingScheduled{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		MeetingID: meeting.ID,
	})

	return meeting, nil
}

// RecordMeetingOutcome resolves a meeting. A manual no-show resolution runs
// the same recovery path as the scanner; other outcomes just settle the
// record with an audit entry.
func (s *Service) RecordMeetingOutcome(ctx context.Context, meetingID uuid.UUID, outcome string) error {
	meeting, err := s.store.GetMeetingByID(ctx, meetingID)
	if err != nil {
		return err
	}

	if meeting.Status != domain.MeetingScheduled && meeting.Status != domain.MeetingConfirmed {
		return apperr.New(apperr.KindConflict, "meeting is already resolved")
	}

	if outcome == domain.MeetingNoShow {
		return s.noShows.ProcessMeeting(ctx, *meeting)
	}

	flipped, err := s.store.UpdateMeetingStatus(ctx, meetingID, meeting.Status, outcome, &outcome)
	if err != nil {
		return err
	}
	if !flipped {
		return apperr.New(apperr.KindConflict, "meeting was resolved concurrently")
	}

	_, err = s.store.LogActivity(ctx, repository.LogActivityParams{
		LeadID:  meeting.LeadID,
		Type:    "meeting_outcome",
		Actor:   "Human",
		Title:   "Meeting " + outcome,
		Summary: meeting.Title,
	})
	return err
}

// RecordInboundMessage stores a message from the lead. Pending follow-up
// tasks observe the new inbound message at execution time and stand down.
func (s *Service) RecordInboundMessage(ctx context.Context, req transport.InboundMessageRequest) (*repository.Lead, error) {
	lead, err := s.store.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateCommunication(ctx, &repository.Communication{
		ID:        uuid.New(),
		LeadID:    lead.ID,
		Direction: "inbound",
		Subject:   req.Subject,
		Body:      req.Body,
		SentAt:    time.Now(),
	}); err != nil {
		return nil, err
	}

	if _, err := s.store.LogActivity(ctx, repository.LogActivityParams{
		LeadID:  lead.ID,
		Type:    "inbound_message",
		Actor:   "Lead",
		Title:   "Inbound message received",
		Summary: req.Subject,
	}); err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, events.InboundMessageReceived{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		Subject:   req.Subject,
	})

	return lead, nil
}

// ListEscalations returns the lead's open review items.
func (s *Service) ListEscalations(ctx context.Context, leadID uuid.UUID) ([]repository.Escalation, error) {
	if _, err := s.store.GetByID(ctx, leadID); err != nil {
		return nil, err
	}
	return s.store.ListEscalations(ctx, leadID)
}
