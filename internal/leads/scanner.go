package leads

import (
	"context"
	"fmt"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/ports"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/sequences"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const scanBatchLimit = 200
const scanConcurrency = 8

// Stages the stale scan watches. NEW is excluded because intake owns a
// fresh lead until its first pipeline step runs; terminal stages and stages
// with their own cadence (meetings booked, proposals out) are excluded too.
var staleScanStages = []string{
	domain.StageQualifying,
	domain.StageHotEngaged,
	domain.StageWarmNurturing,
}

// ScannerStore is the data access both periodic scans share.
type ScannerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*repository.Lead, error)
	ListStaleLeads(ctx context.Context, stages []string, inactiveSince, createdBefore time.Time, limit int) ([]repository.Lead, error)
	CountAutomatedActivities(ctx context.Context, leadID uuid.UUID, activityType string) (int, error)
	ListOverdueScheduledMeetings(ctx context.Context, endedAfter, endedBefore time.Time, limit int) ([]repository.Meeting, error)
	UpdateMeetingStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string, outcome *string) (bool, error)
	CountNoShows(ctx context.Context, leadID uuid.UUID) (int, error)
	LogActivity(ctx context.Context, params repository.LogActivityParams) (uuid.UUID, error)
	CreateCommunication(ctx context.Context, comm *repository.Communication) error
	HasOutboundWithSubject(ctx context.Context, leadID uuid.UUID, subject string) (bool, error)
	CreateEscalation(ctx context.Context, leadID uuid.UUID, reason, context string) (uuid.UUID, error)
}

// StaleLeadScanner finds leads that have gone quiet and either nudges them
// with another follow-up or archives them once the automated budget is
// spent. Archiving happens through the transition engine, so a lead racing
// into a meeting keeps its stage.
type StaleLeadScanner struct {
	store     ScannerStore
	engine    *Engine
	scheduler ports.TaskScheduler
	policy    config.PipelineConfig
	log       *logger.Logger
}

// NewStaleLeadScanner creates the stale-lead scan.
func NewStaleLeadScanner(store ScannerStore, engine *Engine, scheduler ports.TaskScheduler, policy config.PipelineConfig, log *logger.Logger) *StaleLeadScanner {
	return &StaleLeadScanner{store: store, engine: engine, scheduler: scheduler, policy: policy, log: log}
}

// RunOnce executes a single scan pass. Per-lead failures are logged and do
// not stop the batch.
func (s *StaleLeadScanner) RunOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-s.policy.GetStaleInactivityWindow())

	stale, err := s.store.ListStaleLeads(ctx, staleScanStages, cutoff, cutoff, scanBatchLimit)
	if err != nil {
		return fmt.Errorf("stale scan query failed: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	s.log.Info("stale scan found leads", "count", len(stale))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	for _, lead := range stale {
		lead := lead
		g.Go(func() error {
			if err := s.processStale(gctx, lead); err != nil {
				s.log.Error("stale lead processing failed", "leadId", lead.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *StaleLeadScanner) processStale(ctx context.Context, lead repository.Lead) error {
	sent, err := s.store.CountAutomatedActivities(ctx, lead.ID, "follow_up")
	if err != nil {
		return err
	}

	if sent < s.policy.GetMaxAutomatedFollowUps() {
		return s.scheduler.EnqueueProcessLead(ctx, lead.ID, StepFollowUp, 0)
	}

	// Budget spent. The conditional transition makes archiving exactly-once:
	// a second pass sees the lead out of the scanned stages.
	applied, err := s.engine.TransitionIfLegal(ctx, lead.ID, lead.Stage, domain.StageColdArchived,
		"inactive with automated follow-ups exhausted")
	if err != nil {
		return err
	}
	if applied {
		s.log.Info("stale lead archived", "leadId", lead.ID, "fromStage", lead.Stage)
	}
	return nil
}

// NoShowScanner flags scheduled meetings whose end time passed without an
// outcome, selects a recovery strategy from the lead's no-show history and
// enqueues its delayed steps. The conditional status update is the
// exactly-once gate: only the pass that flips scheduled to no_show owns the
// rest of the handling.
type NoShowScanner struct {
	store     ScannerStore
	sequences *sequences.Store
	scheduler ports.TaskScheduler
	sender    ports.MessageSender
	content   ports.ContentGenerator
	notifier  ports.Notifier
	bus       events.Bus
	policy    config.PipelineConfig
	log       *logger.Logger
}

// NewNoShowScanner creates the no-show detection scan.
func NewNoShowScanner(
	store ScannerStore,
	seq *sequences.Store,
	scheduler ports.TaskScheduler,
	sender ports.MessageSender,
	content ports.ContentGenerator,
	notifier ports.Notifier,
	bus events.Bus,
	policy config.PipelineConfig,
	log *logger.Logger,
) *NoShowScanner {
	return &NoShowScanner{
		store:     store,
		sequences: seq,
		scheduler: scheduler,
		sender:    sender,
		content:   content,
		notifier:  notifier,
		bus:       bus,
		policy:    policy,
		log:       log,
	}
}

// RunOnce executes a single scan pass over the detection window. Meetings
// older than the window maximum are left for manual triage rather than
// flagged long after the fact.
func (s *NoShowScanner) RunOnce(ctx context.Context) error {
	now := time.Now()
	endedBefore := now.Add(-s.policy.GetNoShowWindowMin())
	endedAfter := now.Add(-s.policy.GetNoShowWindowMax())

	overdue, err := s.store.ListOverdueScheduledMeetings(ctx, endedAfter, endedBefore, scanBatchLimit)
	if err != nil {
		return fmt.Errorf("no-show scan query failed: %w", err)
	}
	if len(overdue) == 0 {
		return nil
	}

	s.log.Info("no-show scan found overdue meetings", "count", len(overdue))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	for _, meeting := range overdue {
		meeting := meeting
		g.Go(func() error {
			if err := s.ProcessMeeting(gctx, meeting); err != nil {
				s.log.Error("no-show handling failed", "meetingId", meeting.ID, "leadId", meeting.LeadID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ProcessMeeting flags one meeting as a no-show and starts its recovery
// strategy. Also the path for humans resolving a meeting the scan window no
// longer covers. The flip is conditional on the status the caller observed,
// so a confirmed meeting resolves the same way a scheduled one does and a
// concurrent resolution loses exactly one of the two writers.
func (s *NoShowScanner) ProcessMeeting(ctx context.Context, meeting repository.Meeting) error {
	if meeting.Status != domain.MeetingScheduled && meeting.Status != domain.MeetingConfirmed {
		return nil
	}

	flipped, err := s.store.UpdateMeetingStatus(ctx, meeting.ID, meeting.Status, domain.MeetingNoShow, nil)
	if err != nil {
		return err
	}
	if !flipped {
		// Someone recorded an outcome between the query and now.
		return nil
	}

	noShowCount, err := s.store.CountNoShows(ctx, meeting.LeadID)
	if err != nil {
		return err
	}

	strategy := domain.SelectNoShowStrategy(noShowCount)

	if _, err := s.store.LogActivity(ctx, repository.LogActivityParams{
		LeadID:    meeting.LeadID,
		Type:      "no_show",
		Actor:     "System",
		Title:     fmt.Sprintf("Meeting marked no-show (%d total)", noShowCount),
		Summary:   fmt.Sprintf("Recovery strategy: %s", strategy.Name),
		Automated: true,
		Metadata:  map[string]any{"meetingId": meeting.ID.String(), "strategy": strategy.Name},
	}); err != nil {
		return err
	}

	s.sequences.Begin(meeting.LeadID, noShowSequenceName)

	for _, step := range strategy.Steps {
		if err := s.scheduler.EnqueueNoShowFollowUp(ctx, meeting.LeadID, meeting.ID, step.Step, step.Delay); err != nil {
			return fmt.Errorf("failed to enqueue no-show step %s: %w", step.Step, err)
		}
	}

	if strategy.Escalate {
		detail := fmt.Sprintf("Lead has missed %d meetings; strategy %s", noShowCount, strategy.Name)
		if _, err := s.store.CreateEscalation(ctx, meeting.LeadID, "repeated_no_show", detail); err != nil {
			return err
		}
		s.bus.Publish(ctx, events.EscalationRaised{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    meeting.LeadID,
			Reason:    "repeated_no_show",
			Context:   detail,
		})
		s.notifier.Notify(ctx, ports.Alert{
			Kind:   "escalation",
			LeadID: meeting.LeadID,
			Title:  "Repeated no-shows",
			Body:   detail,
		})
	}

	// First touch goes out right away; the strategy's delayed apology step
	// carries the full recovery message later. Best-effort: the meeting is
	// already flagged and its steps enqueued, so a failed send here must not
	// fail the handler.
	if err := s.sendFirstTouch(ctx, meeting); err != nil {
		s.log.Error("no-show first touch failed", "meetingId", meeting.ID, "leadId", meeting.LeadID, "error", err)
	}

	s.bus.Publish(ctx, events.MeetingMarkedNoShow{
		BaseEvent:   events.NewBaseEvent(),
		LeadID:      meeting.LeadID,
		MeetingID:   meeting.ID,
		NoShowCount: noShowCount,
		Strategy:    strategy.Name,
	})

	return nil
}

func (s *NoShowScanner) sendFirstTouch(ctx context.Context, meeting repository.Meeting) error {
	lead, err := s.store.GetByID(ctx, meeting.LeadID)
	if err != nil {
		return err
	}
	if lead.Email == "" {
		s.log.Warn("cannot send first touch, lead has no email", "leadId", lead.ID)
		return nil
	}

	subject := fmt.Sprintf("We missed you on %s", meeting.StartTime.Format("Jan 2"))
	sent, err := s.store.HasOutboundWithSubject(ctx, lead.ID, subject)
	if err != nil {
		return err
	}
	if sent {
		return nil
	}

	content, err := s.content.Generate(ctx, "no_show_apology", ports.LeadContext{
		LeadID:    lead.ID,
		FirstName: lead.FirstName,
		LastName:  lead.LastName,
		Company:   lead.Company,
		Stage:     lead.Stage,
		Score:     lead.Score,
	})
	if err != nil {
		return err
	}

	result, err := s.sender.Send(ctx, ports.Message{To: lead.Email, Subject: subject, Body: content.Body})
	if err != nil {
		return err
	}

	return s.store.CreateCommunication(ctx, &repository.Communication{
		ID:        uuid.New(),
		LeadID:    lead.ID,
		Direction: "outbound",
		Subject:   subject,
		Body:      content.Body,
		MessageID: result.MessageID,
		SentAt:    time.Now(),
	})
}
