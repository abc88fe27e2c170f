// Package leads implements the lead pipeline orchestration core: the stage
// transition engine, the task-driven pipeline processor, and the periodic
// scanners.
package leads

import (
	"context"
	"errors"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// TransitionStore is the data access the engine needs. Consumer-driven
// interface implemented by repository.Repository.
type TransitionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*repository.Lead, error)
	TransitionStage(ctx context.Context, params repository.TransitionParams) (bool, error)
}

// Engine validates and executes lead stage changes against the static
// transition table. It is pure validation plus a single transactional write;
// transitions are never retried by the engine itself.
type Engine struct {
	store    TransitionStore
	eventBus events.Bus
	log      *logger.Logger
}

// NewEngine creates a stage transition engine.
func NewEngine(store TransitionStore, eventBus events.Bus, log *logger.Logger) *Engine {
	return &Engine{store: store, eventBus: eventBus, log: log}
}

// Transition moves a lead from fromStage to toStage when the transition
// table permits it. On success the stage update, history entry and audit
// activity are committed atomically and a StageChanged event is published.
// Illegal transitions and lost concurrent races both return
// *domain.InvalidTransitionError; callers in automated flows skip on it,
// manual callers surface it.
func (e *Engine) Transition(ctx context.Context, leadID uuid.UUID, fromStage, toStage, reason string, automated bool) error {
	lead, err := e.store.GetByID(ctx, leadID)
	if err != nil {
		return err
	}

	if lead.Stage != fromStage {
		return &domain.InvalidTransitionError{From: fromStage, To: toStage, Reason: "lead is in stage " + lead.Stage}
	}

	snapshot := domain.LeadSnapshot{Score: lead.Score, Stage: lead.Stage, Category: lead.Category}
	if err := domain.ValidateTransition(snapshot, fromStage, toStage); err != nil {
		return err
	}

	applied, err := e.store.TransitionStage(ctx, repository.TransitionParams{
		LeadID:    leadID,
		FromStage: fromStage,
		ToStage:   toStage,
		Reason:    reason,
		Automated: automated,
	})
	if err != nil {
		return err
	}
	if !applied {
		// Another writer moved the lead between our read and the
		// conditional update. Same contract as an illegal transition.
		return &domain.InvalidTransitionError{From: fromStage, To: toStage, Reason: "lead moved concurrently"}
	}

	e.log.Info("lead stage transitioned",
		"leadId", leadID, "from", fromStage, "to", toStage, "automated", automated)

	e.eventBus.Publish(ctx, events.StageChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		FromStage: fromStage,
		ToStage:   toStage,
		Reason:    reason,
		Automated: automated,
	})

	return nil
}

// TransitionIfLegal runs Transition but swallows InvalidTransitionError,
// returning whether the transition was applied. Automated background steps
// racing with manual changes use this so a lost race never crashes the
// pipeline.
func (e *Engine) TransitionIfLegal(ctx context.Context, leadID uuid.UUID, fromStage, toStage, reason string) (bool, error) {
	err := e.Transition(ctx, leadID, fromStage, toStage, reason, true)
	if err == nil {
		return true, nil
	}
	if IsInvalidTransition(err) {
		e.log.Info("automated transition skipped",
			"leadId", leadID, "from", fromStage, "to", toStage, "reason", err.Error())
		return false, nil
	}
	return false, err
}

// IsInvalidTransition reports whether err is a transition table rejection.
func IsInvalidTransition(err error) bool {
	var invalid *domain.InvalidTransitionError
	return errors.As(err, &invalid)
}
