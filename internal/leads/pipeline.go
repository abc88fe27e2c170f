package leads

import (
	"context"
	"fmt"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/ports"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/scoring"
	"leadflow_backend/internal/leads/sequences"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// Pipeline step names carried in task payloads.
const (
	StepQualification = "qualification"
	StepEnrichment    = "enrichment"
	StepFollowUp      = "follow_up"
)

const nurtureSequenceName = "standard_nurture"
const noShowSequenceName = "no_show_recovery"

// PipelineStore is the data access the step handlers need.
type PipelineStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*repository.Lead, error)
	UpdateScore(ctx context.Context, id uuid.UUID, score int, category string) error
	LogActivity(ctx context.Context, params repository.LogActivityParams) (uuid.UUID, error)
	CountAutomatedActivities(ctx context.Context, leadID uuid.UUID, activityType string) (int, error)
	CreateCommunication(ctx context.Context, comm *repository.Communication) error
	HasInboundSinceLastOutbound(ctx context.Context, leadID uuid.UUID) (bool, error)
	HasOutboundWithSubject(ctx context.Context, leadID uuid.UUID, subject string) (bool, error)
	CountInboundCommunications(ctx context.Context, leadID uuid.UUID) (int, error)
	CountMeetingsByStatus(ctx context.Context, leadID uuid.UUID, status string) (int, error)
	CountNoShows(ctx context.Context, leadID uuid.UUID) (int, error)
	HasUpcomingMeeting(ctx context.Context, leadID uuid.UUID) (bool, error)
	GetMeetingByID(ctx context.Context, id uuid.UUID) (*repository.Meeting, error)
	CreateEscalation(ctx context.Context, leadID uuid.UUID, reason, context string) (uuid.UUID, error)
}

// Pipeline runs the automated lead journey: intake, qualification,
// enrichment, delayed follow-ups and no-show recovery steps. Every handler
// is written to be re-invoked safely; the queue delivers at least once.
type Pipeline struct {
	store     PipelineStore
	engine    *Engine
	scorer    *scoring.Service
	sequences *sequences.Store
	scheduler ports.TaskScheduler
	sender    ports.MessageSender
	content   ports.ContentGenerator
	notifier  ports.Notifier
	bus       events.Bus
	policy    config.PipelineConfig
	log       *logger.Logger
}

// NewPipeline wires the pipeline step handlers.
func NewPipeline(
	store PipelineStore,
	engine *Engine,
	scorer *scoring.Service,
	seq *sequences.Store,
	scheduler ports.TaskScheduler,
	sender ports.MessageSender,
	content ports.ContentGenerator,
	notifier ports.Notifier,
	bus events.Bus,
	policy config.PipelineConfig,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		store:     store,
		engine:    engine,
		scorer:    scorer,
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

// HandleNewLead runs the intake sequence for a freshly created lead:
// qualification, enrichment, and scheduling of the first delayed follow-up.
// Qualification and enrichment are each best-effort; a failure in either is
// logged and the lead still gets its follow-up, re-qualified from whatever
// data it has when that step runs.
func (p *Pipeline) HandleNewLead(ctx context.Context, leadID uuid.UUID) error {
	lead, err := p.store.GetByID(ctx, leadID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			p.log.Warn("new-lead task for missing lead, dropping", "leadId", leadID)
			return nil
		}
		return err
	}

	if err := p.runQualification(ctx, lead); err != nil {
		p.log.Error("qualification failed, continuing intake", "leadId", leadID, "error", err)
	}

	if err := p.runEnrichment(ctx, leadID); err != nil {
		p.log.Error("enrichment failed, continuing intake", "leadId", leadID, "error", err)
	}

	p.sequences.Begin(leadID, nurtureSequenceName)

	if err := p.scheduler.EnqueueProcessLead(ctx, leadID, StepFollowUp, p.policy.GetFollowUpDelay()); err != nil {
		return fmt.Errorf("failed to schedule first follow-up: %w", err)
	}

	p.log.Info("intake pipeline completed", "leadId", leadID)
	return nil
}

// HandleProcessLead executes one named pipeline step for a lead.
func (p *Pipeline) HandleProcessLead(ctx context.Context, leadID uuid.UUID, step string) error {
	lead, err := p.store.GetByID(ctx, leadID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			p.log.Warn("process task for missing lead, dropping", "leadId", leadID, "step", step)
			return nil
		}
		return err
	}

	if domain.IsTerminal(lead.Stage) {
		p.log.Info("skipping step for closed lead", "leadId", leadID, "stage", lead.Stage, "step", step)
		return nil
	}

	switch step {
	case StepQualification:
		return p.runQualification(ctx, lead)
	case StepEnrichment:
		return p.runEnrichment(ctx, leadID)
	case StepFollowUp:
		return p.runFollowUp(ctx, lead)
	default:
		return apperr.BadRequest(fmt.Sprintf("unknown pipeline step %q", step))
	}
}

// runQualification recomputes the score, promotes NEW leads into
// QUALIFYING, promotes hot scores into HOT_ENGAGED, and sends the one-time
// acknowledgment message.
func (p *Pipeline) runQualification(ctx context.Context, lead *repository.Lead) error {
	result, err := p.rescore(ctx, lead)
	if err != nil {
		return err
	}

	if lead.Stage == domain.StageNew {
		if _, err := p.engine.TransitionIfLegal(ctx, lead.ID, domain.StageNew, domain.StageQualifying,
			"automated qualification"); err != nil {
			return err
		}
	}

	if result.TotalScore >= domain.HotScoreThreshold {
		applied, err := p.engine.TransitionIfLegal(ctx, lead.ID, domain.StageQualifying, domain.StageHotEngaged,
			"score crossed hot threshold")
		if err != nil {
			return err
		}
		if applied {
			p.bus.Publish(ctx, events.HotLeadDetected{
				BaseEvent: events.NewBaseEvent(),
				LeadID:    lead.ID,
				Score:     result.TotalScore,
			})
			p.notifier.Notify(ctx, ports.Alert{
				Kind:   "hot_lead",
				LeadID: lead.ID,
				Title:  "Hot lead detected",
				Body:   fmt.Sprintf("%s %s at %s scored %d", lead.FirstName, lead.LastName, lead.Company, result.TotalScore),
			})
		}
	}

	return p.sendAcknowledgment(ctx, lead)
}

// runEnrichment fills in missing context for the lead. It is a best-effort
// step; a transient failure propagates so the queue retries it, anything
// else is swallowed by the caller.
func (p *Pipeline) runEnrichment(ctx context.Context, leadID uuid.UUID) error {
	lead, err := p.store.GetByID(ctx, leadID)
	if err != nil {
		return err
	}

	content, err := p.content.Generate(ctx, "research_summary", leadContextFrom(lead))
	if err != nil {
		return err
	}

	_, err = p.store.LogActivity(ctx, repository.LogActivityParams{
		LeadID:    leadID,
		Type:      "enrichment",
		Actor:     "AI",
		Title:     "Lead enriched",
		Summary:   content.Body,
		Automated: true,
		Metadata:  map[string]any{"company": lead.Company, "source": lead.Source},
	})
	return err
}

// runFollowUp sends one nurture touch unless a guard says the lead does not
// need it: the lead replied since our last message, a meeting is on the
// calendar, or the automated follow-up budget is spent.
func (p *Pipeline) runFollowUp(ctx context.Context, lead *repository.Lead) error {
	replied, err := p.store.HasInboundSinceLastOutbound(ctx, lead.ID)
	if err != nil {
		return err
	}
	if replied {
		p.log.Info("follow-up skipped, lead already replied", "leadId", lead.ID)
		p.sequences.Finish(lead.ID, nurtureSequenceName, sequences.StateCompleted)
		return nil
	}

	hasMeeting, err := p.store.HasUpcomingMeeting(ctx, lead.ID)
	if err != nil {
		return err
	}
	if hasMeeting {
		p.log.Info("follow-up skipped, meeting already booked", "leadId", lead.ID)
		p.sequences.Finish(lead.ID, nurtureSequenceName, sequences.StateCompleted)
		return nil
	}

	sent, err := p.store.CountAutomatedActivities(ctx, lead.ID, "follow_up")
	if err != nil {
		return err
	}
	if sent >= p.policy.GetMaxAutomatedFollowUps() {
		p.log.Info("follow-up budget exhausted", "leadId", lead.ID, "sent", sent)
		p.sequences.Finish(lead.ID, nurtureSequenceName, sequences.StateCancelled)
		return nil
	}

	content, err := p.content.Generate(ctx, "follow_up", leadContextFrom(lead))
	if err != nil {
		return p.swallowPermanent(err, "follow-up content generation failed", lead.ID)
	}

	touch := p.sequences.Advance(lead.ID, nurtureSequenceName)
	subject := content.Subject
	if subject == "" {
		subject = fmt.Sprintf("Checking in, %s (touch %d)", lead.FirstName, touch)
	}

	if err := p.sendAndLog(ctx, lead, subject, content.Body); err != nil {
		return err
	}

	if _, err := p.store.LogActivity(ctx, repository.LogActivityParams{
		LeadID:    lead.ID,
		Type:      "follow_up",
		Actor:     "AI",
		Title:     fmt.Sprintf("Automated follow-up %d sent", sent+1),
		Summary:   subject,
		Automated: true,
	}); err != nil {
		return err
	}

	return p.scheduler.EnqueueProcessLead(ctx, lead.ID, StepFollowUp, p.policy.GetFollowUpDelay())
}

// HandleNoShowFollowUp executes one step of a no-show recovery strategy.
// Every step re-checks that the meeting is still a no-show; a reschedule or
// cancellation in the meantime voids the rest of the sequence.
func (p *Pipeline) HandleNoShowFollowUp(ctx context.Context, leadID, meetingID uuid.UUID, step string) error {
	meeting, err := p.store.GetMeetingByID(ctx, meetingID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			p.log.Warn("no-show task for missing meeting, dropping", "meetingId", meetingID)
			return nil
		}
		return err
	}
	if meeting.Status != domain.MeetingNoShow {
		p.log.Info("no-show step voided, meeting status changed",
			"meetingId", meetingID, "status", meeting.Status, "step", step)
		p.sequences.Finish(leadID, noShowSequenceName, sequences.StateCancelled)
		return nil
	}

	lead, err := p.store.GetByID(ctx, leadID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}

	switch step {
	case domain.NoShowStepApology:
		return p.runNoShowApology(ctx, lead, meeting)
	case domain.NoShowStepRepCall:
		return p.runNoShowRepCall(ctx, lead)
	case domain.NoShowStepFormalReschedule:
		return p.runNoShowReschedule(ctx, lead, meeting)
	case domain.NoShowStepFinalize:
		return p.runNoShowFinalize(ctx, lead)
	default:
		return apperr.BadRequest(fmt.Sprintf("unknown no-show step %q", step))
	}
}

func (p *Pipeline) runNoShowApology(ctx context.Context, lead *repository.Lead, meeting *repository.Meeting) error {
	// Subject is deterministic per meeting so redelivered tasks cannot
	// send twice.
	subject := fmt.Sprintf("Sorry we missed you on %s", meeting.StartTime.Format("Jan 2"))

	already, err := p.store.HasOutboundWithSubject(ctx, lead.ID, subject)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	content, err := p.content.Generate(ctx, "no_show_apology", leadContextFrom(lead))
	if err != nil {
		return p.swallowPermanent(err, "apology content generation failed", lead.ID)
	}

	p.sequences.Advance(lead.ID, noShowSequenceName)
	return p.sendAndLog(ctx, lead, subject, content.Body)
}

func (p *Pipeline) runNoShowRepCall(ctx context.Context, lead *repository.Lead) error {
	p.sequences.Advance(lead.ID, noShowSequenceName)

	if _, err := p.store.LogActivity(ctx, repository.LogActivityParams{
		LeadID:    lead.ID,
		Type:      "rep_call_request",
		Actor:     "AI",
		Title:     "Personal call requested",
		Summary:   "Second missed meeting, a rep should call instead of rebooking",
		Automated: true,
	}); err != nil {
		return err
	}

	p.notifier.Notify(ctx, ports.Alert{
		Kind:   "rep_call",
		LeadID: lead.ID,
		Title:  "Call this lead personally",
		Body:   fmt.Sprintf("%s %s missed a second meeting; reach out by phone", lead.FirstName, lead.LastName),
	})
	return nil
}

func (p *Pipeline) runNoShowReschedule(ctx context.Context, lead *repository.Lead, meeting *repository.Meeting) error {
	subject := fmt.Sprintf("Shall we find a new time? (re: %s)", meeting.StartTime.Format("Jan 2"))

	already, err := p.store.HasOutboundWithSubject(ctx, lead.ID, subject)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	content, err := p.content.Generate(ctx, "no_show_reschedule", leadContextFrom(lead))
	if err != nil {
		return p.swallowPermanent(err, "reschedule content generation failed", lead.ID)
	}

	p.sequences.Advance(lead.ID, noShowSequenceName)
	return p.sendAndLog(ctx, lead, subject, content.Body)
}

// runNoShowFinalize closes the recovery sequence: applies the score penalty,
// moves the lead to its derived stage and raises an escalation when the
// lead is too valuable to demote silently.
func (p *Pipeline) runNoShowFinalize(ctx context.Context, lead *repository.Lead) error {
	outcome := domain.FinalizeNoShow(domain.LeadSnapshot{
		Score:    lead.Score,
		Stage:    lead.Stage,
		Category: lead.Category,
	}, p.policy.GetNoShowScorePenalty())

	if err := p.store.UpdateScore(ctx, lead.ID, outcome.NewScore, domain.DeriveCategory(outcome.NewScore)); err != nil {
		return err
	}

	if lead.Stage != outcome.TargetStage {
		if _, err := p.engine.TransitionIfLegal(ctx, lead.ID, lead.Stage, outcome.TargetStage,
			"no-show recovery finalized"); err != nil {
			return err
		}
	}

	if outcome.Escalate {
		detail := fmt.Sprintf("High-value lead missed a meeting; score now %d in stage %s", outcome.NewScore, outcome.TargetStage)
		if _, err := p.store.CreateEscalation(ctx, lead.ID, "no_show_high_value", detail); err != nil {
			return err
		}
		p.bus.Publish(ctx, events.EscalationRaised{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    lead.ID,
			Reason:    "no_show_high_value",
			Context:   detail,
		})
		p.notifier.Notify(ctx, ports.Alert{
			Kind:   "escalation",
			LeadID: lead.ID,
			Title:  "High-value no-show needs review",
			Body:   detail,
		})
	}

	if _, err := p.store.LogActivity(ctx, repository.LogActivityParams{
		LeadID:    lead.ID,
		Type:      "no_show_finalize",
		Actor:     "AI",
		Title:     "No-show recovery finalized",
		Summary:   fmt.Sprintf("score %d -> %d, stage %s", lead.Score, outcome.NewScore, outcome.TargetStage),
		Automated: true,
		Metadata:  map[string]any{"escalated": outcome.Escalate},
	}); err != nil {
		return err
	}

	p.sequences.Finish(lead.ID, noShowSequenceName, sequences.StateCompleted)
	return nil
}

// sendAcknowledgment sends the one-time welcome message. The subject is
// deterministic per lead; the outbound log is the idempotency record.
func (p *Pipeline) sendAcknowledgment(ctx context.Context, lead *repository.Lead) error {
	subject := fmt.Sprintf("Thanks for reaching out, %s", lead.FirstName)

	already, err := p.store.HasOutboundWithSubject(ctx, lead.ID, subject)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	content, err := p.content.Generate(ctx, "acknowledgment", leadContextFrom(lead))
	if err != nil {
		return p.swallowPermanent(err, "acknowledgment content generation failed", lead.ID)
	}

	return p.sendAndLog(ctx, lead, subject, content.Body)
}

// sendAndLog delivers a message and records the outbound communication. The
// log write happens after the send; if it fails the handler errors so the
// task retries, and the subject guard on the retry path keeps a logged send
// from repeating.
func (p *Pipeline) sendAndLog(ctx context.Context, lead *repository.Lead, subject, body string) error {
	if lead.Email == "" {
		p.log.Warn("cannot send, lead has no email", "leadId", lead.ID)
		return nil
	}

	result, err := p.sender.Send(ctx, ports.Message{To: lead.Email, Subject: subject, Body: body})
	if err != nil {
		return p.swallowPermanent(err, "message send failed", lead.ID)
	}

	return p.store.CreateCommunication(ctx, &repository.Communication{
		ID:        uuid.New(),
		LeadID:    lead.ID,
		Direction: "outbound",
		Subject:   subject,
		Body:      body,
		MessageID: result.MessageID,
		SentAt:    time.Now(),
	})
}

// swallowPermanent returns the error when it is retryable (so the queue
// backs off and tries again) and converts permanent collaborator failures
// into a logged skip, keeping the lead's journey moving.
func (p *Pipeline) swallowPermanent(err error, msg string, leadID uuid.UUID) error {
	if apperr.IsRetryable(err) {
		return err
	}
	p.log.Error(msg, "leadId", leadID, "error", err)
	return nil
}

func leadContextFrom(lead *repository.Lead) ports.LeadContext {
	return ports.LeadContext{
		LeadID:    lead.ID,
		FirstName: lead.FirstName,
		LastName:  lead.LastName,
		Company:   lead.Company,
		Stage:     lead.Stage,
		Score:     lead.Score,
	}
}

func (p *Pipeline) rescore(ctx context.Context, lead *repository.Lead) (scoring.Result, error) {
	inbound, err := p.store.CountInboundCommunications(ctx, lead.ID)
	if err != nil {
		return scoring.Result{}, err
	}
	held, err := p.store.CountMeetingsByStatus(ctx, lead.ID, domain.MeetingCompleted)
	if err != nil {
		return scoring.Result{}, err
	}
	noShows, err := p.store.CountNoShows(ctx, lead.ID)
	if err != nil {
		return scoring.Result{}, err
	}

	result := p.scorer.Score(ctx, scoring.Input{
		Lead:         *lead,
		InboundCount: inbound,
		MeetingsHeld: held,
		NoShowCount:  noShows,
	})

	if err := p.store.UpdateScore(ctx, lead.ID, result.TotalScore, result.Category); err != nil {
		return scoring.Result{}, err
	}

	if _, err := p.store.LogActivity(ctx, repository.LogActivityParams{
		LeadID:    lead.ID,
		Type:      "scoring",
		Actor:     "AI",
		Title:     fmt.Sprintf("Lead scored %d (%s)", result.TotalScore, result.Category),
		Automated: true,
		Metadata:  map[string]any{"version": result.Version, "breakdown": result.Breakdown},
	}); err != nil {
		return scoring.Result{}, err
	}

	lead.Score = result.TotalScore
	lead.Category = result.Category
	return result, nil
}
