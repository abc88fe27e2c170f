package agent

import (
	"context"
	"fmt"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/ports"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/scoring"

	"github.com/google/uuid"
)

// DataStore is the read/write surface the built-in capabilities share.
type DataStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*repository.Lead, error)
	UpdateScore(ctx context.Context, id uuid.UUID, score int, category string) error
	CountInboundCommunications(ctx context.Context, leadID uuid.UUID) (int, error)
	CountMeetingsByStatus(ctx context.Context, leadID uuid.UUID, status string) (int, error)
	CountNoShows(ctx context.Context, leadID uuid.UUID) (int, error)
	HasUpcomingMeeting(ctx context.Context, leadID uuid.UUID) (bool, error)
	CreateDocument(ctx context.Context, doc *repository.Document) error
	FunnelCounts(ctx context.Context) (map[string]int, error)
}

// StageChanger promotes leads whose recomputed score crosses a threshold.
type StageChanger interface {
	TransitionIfLegal(ctx context.Context, leadID uuid.UUID, fromStage, toStage, reason string) (bool, error)
}

// ScoringCapability recomputes a lead's score from fresh engagement
// aggregates and persists it. A score at or above the hot threshold also
// attempts the QUALIFYING to HOT_ENGAGED promotion.
type ScoringCapability struct {
	store  DataStore
	scorer *scoring.Service
	stages StageChanger
}

func NewScoringCapability(store DataStore, scorer *scoring.Service, stages StageChanger) *ScoringCapability {
	return &ScoringCapability{store: store, scorer: scorer, stages: stages}
}

func (c *ScoringCapability) Name() string { return CapabilityScoring }

func (c *ScoringCapability) Execute(ctx context.Context, _ map[string]any, ac Context) (Result, error) {
	lead, err := c.store.GetByID(ctx, ac.LeadID)
	if err != nil {
		return Result{}, err
	}

	inbound, err := c.store.CountInboundCommunications(ctx, ac.LeadID)
	if err != nil {
		return Result{}, err
	}
	held, err := c.store.CountMeetingsByStatus(ctx, ac.LeadID, domain.MeetingCompleted)
	if err != nil {
		return Result{}, err
	}
	noShows, err := c.store.CountNoShows(ctx, ac.LeadID)
	if err != nil {
		return Result{}, err
	}

	result := c.scorer.Score(ctx, scoring.Input{
		Lead:         *lead,
		InboundCount: inbound,
		MeetingsHeld: held,
		NoShowCount:  noShows,
	})

	if err := c.store.UpdateScore(ctx, ac.LeadID, result.TotalScore, result.Category); err != nil {
		return Result{}, err
	}

	if result.TotalScore >= domain.HotScoreThreshold {
		if _, err := c.stages.TransitionIfLegal(ctx, ac.LeadID, domain.StageQualifying, domain.StageHotEngaged,
			"score crossed hot threshold"); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Success: true,
		Action:  "scored",
		Data: map[string]any{
			"score":    result.TotalScore,
			"category": result.Category,
			"version":  result.Version,
		},
		Reasoning: fmt.Sprintf("score %d (%s) from %d inbound, %d meetings held, %d no-shows",
			result.TotalScore, result.Category, inbound, held, noShows),
	}, nil
}

// ContentCapability renders outbound message content for a lead. The kind
// comes from the input ("follow_up" when absent).
type ContentCapability struct {
	store     DataStore
	generator ports.ContentGenerator
}

func NewContentCapability(store DataStore, generator ports.ContentGenerator) *ContentCapability {
	return &ContentCapability{store: store, generator: generator}
}

func (c *ContentCapability) Name() string { return CapabilityContentGeneration }

func (c *ContentCapability) Execute(ctx context.Context, input map[string]any, ac Context) (Result, error) {
	kind := "follow_up"
	if k, ok := input["kind"].(string); ok && k != "" {
		kind = k
	}

	lead, err := c.store.GetByID(ctx, ac.LeadID)
	if err != nil {
		return Result{}, err
	}

	content, err := c.generator.Generate(ctx, kind, leadContext(lead))
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success: true,
		Action:  "content_generated",
		Data: map[string]any{
			"kind":    kind,
			"subject": content.Subject,
			"body":    content.Body,
		},
		Reasoning: fmt.Sprintf("generated %s content for stage %s", kind, lead.Stage),
	}, nil
}

// ResearchCapability enriches a lead with a synthesized profile summary and
// hands off to scoring so the fresh context is reflected in the score.
type ResearchCapability struct {
	store     DataStore
	generator ports.ContentGenerator
}

func NewResearchCapability(store DataStore, generator ports.ContentGenerator) *ResearchCapability {
	return &ResearchCapability{store: store, generator: generator}
}

func (c *ResearchCapability) Name() string { return CapabilityResearch }

func (c *ResearchCapability) Execute(ctx context.Context, _ map[string]any, ac Context) (Result, error) {
	lead, err := c.store.GetByID(ctx, ac.LeadID)
	if err != nil {
		return Result{}, err
	}

	content, err := c.generator.Generate(ctx, "research_summary", leadContext(lead))
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success: true,
		Action:  "researched",
		Data: map[string]any{
			"summary": content.Body,
			"company": lead.Company,
			"source":  lead.Source,
		},
		Reasoning:      fmt.Sprintf("compiled research profile for %s (%s)", lead.Company, lead.Source),
		NextCapability: CapabilityScoring,
	}, nil
}

// SchedulingDecisionCapability recommends meeting parameters from the lead's
// reliability record. Read-only.
type SchedulingDecisionCapability struct {
	store DataStore
}

func NewSchedulingDecisionCapability(store DataStore) *SchedulingDecisionCapability {
	return &SchedulingDecisionCapability{store: store}
}

func (c *SchedulingDecisionCapability) Name() string { return CapabilitySchedulingDecision }

func (c *SchedulingDecisionCapability) Execute(ctx context.Context, _ map[string]any, ac Context) (Result, error) {
	lead, err := c.store.GetByID(ctx, ac.LeadID)
	if err != nil {
		return Result{}, err
	}

	noShows, err := c.store.CountNoShows(ctx, ac.LeadID)
	if err != nil {
		return Result{}, err
	}
	hasUpcoming, err := c.store.HasUpcomingMeeting(ctx, ac.LeadID)
	if err != nil {
		return Result{}, err
	}

	rec := scheduleRecommendation(lead.Score, noShows, hasUpcoming)

	return Result{
		Success: true,
		Action:  "scheduling_decided",
		Data: map[string]any{
			"shouldSchedule":  rec.shouldSchedule,
			"durationMinutes": rec.durationMinutes,
			"channel":         rec.channel,
		},
		Reasoning: rec.reason,
	}, nil
}

type scheduleRec struct {
	shouldSchedule  bool
	durationMinutes int
	channel         string
	reason          string
}

func scheduleRecommendation(score, noShows int, hasUpcoming bool) scheduleRec {
	switch {
	case hasUpcoming:
		return scheduleRec{reason: "a meeting is already on the calendar"}
	case noShows >= 3:
		return scheduleRec{
			shouldSchedule: true, durationMinutes: 0, channel: "async",
			reason: fmt.Sprintf("%d no-shows, offer an async alternative instead of live time", noShows),
		}
	case noShows > 0:
		return scheduleRec{
			shouldSchedule: true, durationMinutes: 15, channel: "video",
			reason: fmt.Sprintf("%d prior no-show(s), propose a shorter slot", noShows),
		}
	case score >= domain.HotScoreThreshold:
		return scheduleRec{
			shouldSchedule: true, durationMinutes: 45, channel: "video",
			reason: "hot lead, full discovery call",
		}
	default:
		return scheduleRec{
			shouldSchedule: true, durationMinutes: 30, channel: "video",
			reason: "standard intro call",
		}
	}
}

// DocumentCapability generates a proposal-style artifact, stores it in
// object storage and records the document row.
type DocumentCapability struct {
	store     DataStore
	objects   ports.DocumentStore
	generator ports.ContentGenerator
	bus       events.Bus
}

func NewDocumentCapability(store DataStore, objects ports.DocumentStore, generator ports.ContentGenerator, bus events.Bus) *DocumentCapability {
	return &DocumentCapability{store: store, objects: objects, generator: generator, bus: bus}
}

func (c *DocumentCapability) Name() string { return CapabilityDocumentGeneration }

func (c *DocumentCapability) Execute(ctx context.Context, input map[string]any, ac Context) (Result, error) {
	kind := "proposal"
	if k, ok := input["kind"].(string); ok && k != "" {
		kind = k
	}

	lead, err := c.store.GetByID(ctx, ac.LeadID)
	if err != nil {
		return Result{}, err
	}

	content, err := c.generator.Generate(ctx, "document_"+kind, leadContext(lead))
	if err != nil {
		return Result{}, err
	}

	docID := uuid.New()
	objectKey := fmt.Sprintf("leads/%s/documents/%s-%s.md", ac.LeadID, kind, docID)
	if err := c.objects.Put(ctx, objectKey, "text/markdown", []byte(content.Body)); err != nil {
		return Result{}, err
	}

	doc := &repository.Document{
		ID:        docID,
		LeadID:    ac.LeadID,
		Kind:      kind,
		Title:     content.Subject,
		ObjectKey: objectKey,
	}
	if err := c.store.CreateDocument(ctx, doc); err != nil {
		return Result{}, err
	}

	c.bus.Publish(ctx, events.DocumentGenerated{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     ac.LeadID,
		DocumentID: docID,
		Kind:       kind,
		Title:      content.Subject,
	})

	url, err := c.objects.PresignGet(ctx, objectKey, 24*time.Hour)
	if err != nil {
		// The document exists; a broken presign only degrades the result payload.
		url = ""
	}

	return Result{
		Success: true,
		Action:  "document_generated",
		Data: map[string]any{
			"documentId": docID.String(),
			"kind":       kind,
			"title":      content.Subject,
			"objectKey":  objectKey,
			"url":        url,
		},
		Reasoning: fmt.Sprintf("generated %s %q for %s", kind, content.Subject, lead.Company),
	}, nil
}

// AnalyticsCapability reports the current funnel shape. Lead-independent.
type AnalyticsCapability struct {
	store DataStore
}

func NewAnalyticsCapability(store DataStore) *AnalyticsCapability {
	return &AnalyticsCapability{store: store}
}

func (c *AnalyticsCapability) Name() string { return CapabilityAnalytics }

func (c *AnalyticsCapability) Execute(ctx context.Context, _ map[string]any, _ Context) (Result, error) {
	counts, err := c.store.FunnelCounts(ctx)
	if err != nil {
		return Result{}, err
	}

	total := 0
	funnel := make(map[string]any, len(counts))
	for stage, n := range counts {
		total += n
		funnel[stage] = n
	}

	return Result{
		Success:   true,
		Action:    "funnel_reported",
		Data:      map[string]any{"total": total, "byStage": funnel},
		Reasoning: fmt.Sprintf("funnel snapshot across %d leads", total),
	}, nil
}

func leadContext(lead *repository.Lead) ports.LeadContext {
	return ports.LeadContext{
		LeadID:    lead.ID,
		FirstName: lead.FirstName,
		LastName:  lead.LastName,
		Company:   lead.Company,
		Stage:     lead.Stage,
		Score:     lead.Score,
	}
}
