package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/transport"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type svcStore struct {
	mu             sync.Mutex
	leads          map[uuid.UUID]*repository.Lead
	meetings       map[uuid.UUID]*repository.Meeting
	activities     []repository.LogActivityParams
	communications []repository.Communication
	escalations    map[uuid.UUID][]repository.Escalation
	transitions    []string
}

func newSvcStore() *svcStore {
	return &svcStore{
		leads:       make(map[uuid.UUID]*repository.Lead),
		meetings:    make(map[uuid.UUID]*repository.Meeting),
		escalations: make(map[uuid.UUID][]repository.Escalation),
	}
}

func (s *svcStore) Create(_ context.Context, lead *repository.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[lead.ID] = lead
	return nil
}

func (s *svcStore) GetByID(_ context.Context, id uuid.UUID) (*repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "lead not found")
	}
	cp := *lead
	return &cp, nil
}

func (s *svcStore) GetByEmail(_ context.Context, email string) (*repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lead := range s.leads {
		if lead.Email == email {
			cp := *lead
			return &cp, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "lead not found")
}

func (s *svcStore) List(_ context.Context, params repository.ListParams) ([]repository.Lead, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.Lead
	for _, lead := range s.leads {
		if params.Stage != "" && lead.Stage != params.Stage {
			continue
		}
		out = append(out, *lead)
	}
	return out, len(out), nil
}

func (s *svcStore) ListStageHistory(_ context.Context, _ uuid.UUID) ([]repository.StageHistoryEntry, error) {
	return nil, nil
}

func (s *svcStore) ListActivities(_ context.Context, _ uuid.UUID, _ int) ([]repository.Activity, error) {
	return nil, nil
}

func (s *svcStore) ListMeetings(_ context.Context, leadID uuid.UUID) ([]repository.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.Meeting
	for _, m := range s.meetings {
		if m.LeadID == leadID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *svcStore) ListCommunications(_ context.Context, _ uuid.UUID, _ int) ([]repository.Communication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.Communication(nil), s.communications...), nil
}

func (s *svcStore) ListEscalations(_ context.Context, leadID uuid.UUID) ([]repository.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalations[leadID], nil
}

func (s *svcStore) LogActivity(_ context.Context, params repository.LogActivityParams) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, params)
	return uuid.New(), nil
}

func (s *svcStore) CreateCommunication(_ context.Context, comm *repository.Communication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communications = append(s.communications, *comm)
	return nil
}

func (s *svcStore) CreateMeeting(_ context.Context, meeting *repository.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meetings[meeting.ID] = meeting
	return nil
}

func (s *svcStore) GetMeetingByID(_ context.Context, id uuid.UUID) (*repository.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "meeting not found")
	}
	cp := *m
	return &cp, nil
}

func (s *svcStore) UpdateMeetingStatus(_ context.Context, id uuid.UUID, fromStatus, toStatus string, outcome *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok || m.Status != fromStatus {
		return false, nil
	}
	m.Status = toStatus
	m.Outcome = outcome
	return true, nil
}

// TransitionStage lets the same fake back the transition engine.
func (s *svcStore) TransitionStage(_ context.Context, params repository.TransitionParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[params.LeadID]
	if !ok || lead.Stage != params.FromStage {
		return false, nil
	}
	lead.Stage = params.ToStage
	s.transitions = append(s.transitions, params.FromStage+">"+params.ToStage)
	return true, nil
}

// svcEngine validates against the real transition table and applies legal
// moves through the store, matching the orchestration engine's contract of
// swallowing illegal transitions.
type svcEngine struct {
	store *svcStore
}

func (e *svcEngine) TransitionIfLegal(ctx context.Context, leadID uuid.UUID, fromStage, toStage, reason string) (bool, error) {
	lead, err := e.store.GetByID(ctx, leadID)
	if err != nil {
		return false, err
	}
	snapshot := domain.LeadSnapshot{Score: lead.Score, Stage: lead.Stage, Category: lead.Category}
	if domain.ValidateTransition(snapshot, fromStage, toStage) != nil {
		return false, nil
	}
	return e.store.TransitionStage(ctx, repository.TransitionParams{
		LeadID:    leadID,
		FromStage: fromStage,
		ToStage:   toStage,
		Reason:    reason,
		Automated: true,
	})
}

type svcScheduler struct {
	mu       sync.Mutex
	pipeline []uuid.UUID
	steps    []string
}

func (s *svcScheduler) EnqueueNewLeadPipeline(_ context.Context, leadID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipeline = append(s.pipeline, leadID)
	return nil
}

func (s *svcScheduler) EnqueueProcessLead(_ context.Context, _ uuid.UUID, step string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
	return nil
}

func (s *svcScheduler) EnqueueNoShowFollowUp(_ context.Context, _, _ uuid.UUID, _ string, _ time.Duration) error {
	return nil
}

func (s *svcScheduler) EnqueueCapabilityHandoff(_ context.Context, _ uuid.UUID, _ string, _ map[string]any) error {
	return nil
}

type svcNoShows struct {
	mu        sync.Mutex
	processed []uuid.UUID
}

func (n *svcNoShows) ProcessMeeting(_ context.Context, meeting repository.Meeting) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.processed = append(n.processed, meeting.ID)
	return nil
}

type svcBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *svcBus) Publish(ctx context.Context, event events.Event) { _ = b.PublishSync(ctx, event) }

func (b *svcBus) PublishSync(_ context.Context, event events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
	return nil
}

func (b *svcBus) Subscribe(_ string, _ events.Handler) {}

func (b *svcBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, e := range b.published {
		out = append(out, e.EventName())
	}
	return out
}

type svcFixture struct {
	svc       *Service
	store     *svcStore
	scheduler *svcScheduler
	noShows   *svcNoShows
	bus       *svcBus
}

func newFixture(t *testing.T) *svcFixture {
	t.Helper()
	log := logger.New("test")
	store := newSvcStore()
	bus := &svcBus{}
	scheduler := &svcScheduler{}
	noShows := &svcNoShows{}
	engine := &svcEngine{store: store}
	return &svcFixture{
		svc:       New(store, engine, scheduler, noShows, bus, log),
		store:     store,
		scheduler: scheduler,
		noShows:   noShows,
		bus:       bus,
	}
}

func (f *svcFixture) seedLead(stage string) *repository.Lead {
	lead := &repository.Lead{
		ID:    uuid.New(),
		Email: "ada@example.com",
		Stage: stage,
		Score: 55,
	}
	f.store.leads[lead.ID] = lead
	return lead
}

func TestCreateLeadEnqueuesIntake(t *testing.T) {
	f := newFixture(t)

	lead, err := f.svc.CreateLead(context.Background(), transport.CreateLeadRequest{
		FirstName: "Ada",
		Email:     "Ada@Example.com ",
		Source:    "Website",
	})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}

	if lead.Stage != domain.StageNew {
		t.Fatalf("stage = %q, want NEW", lead.Stage)
	}
	if lead.Email != "ada@example.com" {
		t.Fatalf("email not normalized: %q", lead.Email)
	}
	if lead.Source != "website" {
		t.Fatalf("source not normalized: %q", lead.Source)
	}
	if len(f.scheduler.pipeline) != 1 || f.scheduler.pipeline[0] != lead.ID {
		t.Fatalf("intake pipeline not enqueued: %v", f.scheduler.pipeline)
	}

	names := f.bus.names()
	if len(names) != 1 || names[0] != "leads.lead.created" {
		t.Fatalf("events = %v, want leads.lead.created", names)
	}
}

func TestListLeadsRejectsUnknownStage(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListLeads(context.Background(), transport.ListLeadsQuery{Stage: "LUKEWARM"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestTriggerStepRequiresLead(t *testing.T) {
	f := newFixture(t)

	err := f.svc.TriggerStep(context.Background(), uuid.New(), "follow_up")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}

	lead := f.seedLead(domain.StageQualifying)
	if err := f.svc.TriggerStep(context.Background(), lead.ID, "follow_up"); err != nil {
		t.Fatalf("TriggerStep: %v", err)
	}
	if len(f.scheduler.steps) != 1 || f.scheduler.steps[0] != "follow_up" {
		t.Fatalf("steps = %v", f.scheduler.steps)
	}
}

func TestScheduleMeetingTransitionsAndPublishes(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(domain.StageHotEngaged)

	start := time.Now().Add(24 * time.Hour)
	meeting, err := f.svc.ScheduleMeeting(context.Background(), lead.ID, transport.CreateMeetingRequest{
		Title:     "Intro call",
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("ScheduleMeeting: %v", err)
	}

	if meeting.Status != domain.MeetingScheduled {
		t.Fatalf("status = %q", meeting.Status)
	}
	if f.store.leads[lead.ID].Stage != domain.StageMeetingScheduled {
		t.Fatalf("stage = %q, want MEETING_SCHEDULED", f.store.leads[lead.ID].Stage)
	}

	var saw bool
	for _, name := range f.bus.names() {
		if name == "meetings.scheduled" {
			saw = true
		}
	}
	if !saw {
		t.Fatalf("meetings.scheduled not published: %v", f.bus.names())
	}
}

func TestScheduleMeetingRejectsInvertedWindow(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(domain.StageHotEngaged)

	start := time.Now().Add(24 * time.Hour)
	_, err := f.svc.ScheduleMeeting(context.Background(), lead.ID, transport.CreateMeetingRequest{
		Title:     "Intro call",
		StartTime: start,
		EndTime:   start,
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestRecordMeetingOutcomeCompleted(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(domain.StageMeetingScheduled)
	meeting := &repository.Meeting{
		ID:     uuid.New(),
		LeadID: lead.ID,
		Title:  "Intro call",
		Status: domain.MeetingScheduled,
	}
	f.store.meetings[meeting.ID] = meeting

	if err := f.svc.RecordMeetingOutcome(context.Background(), meeting.ID, domain.MeetingCompleted); err != nil {
		t.Fatalf("RecordMeetingOutcome: %v", err)
	}

	if meeting.Status != domain.MeetingCompleted {
		t.Fatalf("status = %q", meeting.Status)
	}
	if len(f.store.activities) != 1 || f.store.activities[0].Type != "meeting_outcome" {
		t.Fatalf("activities = %+v", f.store.activities)
	}
	if len(f.noShows.processed) != 0 {
		t.Fatalf("no-show path ran for a completed meeting")
	}
}

func TestRecordMeetingOutcomeNoShowRunsRecovery(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(domain.StageMeetingScheduled)
	meeting := &repository.Meeting{
		ID:     uuid.New(),
		LeadID: lead.ID,
		Status: domain.MeetingScheduled,
	}
	f.store.meetings[meeting.ID] = meeting

	if err := f.svc.RecordMeetingOutcome(context.Background(), meeting.ID, domain.MeetingNoShow); err != nil {
		t.Fatalf("RecordMeetingOutcome: %v", err)
	}

	if len(f.noShows.processed) != 1 || f.noShows.processed[0] != meeting.ID {
		t.Fatalf("recovery not started: %v", f.noShows.processed)
	}
}

func TestRecordMeetingOutcomeConflictsWhenResolved(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(domain.StageMeetingScheduled)
	meeting := &repository.Meeting{
		ID:     uuid.New(),
		LeadID: lead.ID,
		Status: domain.MeetingCompleted,
	}
	f.store.meetings[meeting.ID] = meeting

	err := f.svc.RecordMeetingOutcome(context.Background(), meeting.ID, domain.MeetingCancelled)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestRecordInboundMessageLogsAndPublishes(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(domain.StageQualifying)

	got, err := f.svc.RecordInboundMessage(context.Background(), transport.InboundMessageRequest{
		Email:   "ada@example.com",
		Subject: "Re: pricing",
		Body:    "Sounds good, send the details.",
	})
	if err != nil {
		t.Fatalf("RecordInboundMessage: %v", err)
	}
	if got.ID != lead.ID {
		t.Fatalf("resolved wrong lead")
	}

	if len(f.store.communications) != 1 || f.store.communications[0].Direction != "inbound" {
		t.Fatalf("communications = %+v", f.store.communications)
	}
	if len(f.store.activities) != 1 || f.store.activities[0].Type != "inbound_message" {
		t.Fatalf("activities = %+v", f.store.activities)
	}

	var saw bool
	for _, name := range f.bus.names() {
		if name == "leads.message.inbound" {
			saw = true
		}
	}
	if !saw {
		t.Fatalf("inbound event not published: %v", f.bus.names())
	}
}

func TestRecordInboundMessageUnknownSender(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecordInboundMessage(context.Background(), transport.InboundMessageRequest{
		Email: "stranger@example.com",
		Body:  "hello",
	})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
