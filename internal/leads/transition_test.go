package leads

import (
	"context"
	"sync"
	"testing"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeStore backs the engine, pipeline and scanner tests with in-memory
// state.
type fakeStore struct {
	mu sync.Mutex

	leads    map[uuid.UUID]*repository.Lead
	meetings map[uuid.UUID]*repository.Meeting

	activities     []repository.LogActivityParams
	communications []repository.Communication
	escalations    []string
	documents      []repository.Document

	transitions []repository.TransitionParams
	// raceStage, when set, makes the next TransitionStage call report a
	// lost race without moving the lead.
	loseRace bool

	inboundSinceOutbound bool
	upcomingMeeting      bool
	inboundCount         int
	meetingsHeld         int

	staleLeads       []repository.Lead
	staleQueryStages []string
	overdueMeetings  []repository.Meeting
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		leads:    make(map[uuid.UUID]*repository.Lead),
		meetings: make(map[uuid.UUID]*repository.Meeting),
	}
}

func (f *fakeStore) addLead(lead repository.Lead) *repository.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := lead
	f.leads[lead.ID] = &copied
	return &copied
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*repository.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[id]
	if !ok {
		return nil, apperr.NotFound("lead not found")
	}
	copied := *lead
	return &copied, nil
}

func (f *fakeStore) UpdateScore(_ context.Context, id uuid.UUID, score int, category string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lead, ok := f.leads[id]; ok {
		lead.Score = score
		lead.Category = category
	}
	return nil
}

func (f *fakeStore) TransitionStage(_ context.Context, params repository.TransitionParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loseRace {
		f.loseRace = false
		return false, nil
	}
	lead, ok := f.leads[params.LeadID]
	if !ok || lead.Stage != params.FromStage {
		return false, nil
	}
	lead.Stage = params.ToStage
	f.transitions = append(f.transitions, params)
	return true, nil
}

func (f *fakeStore) LogActivity(_ context.Context, params repository.LogActivityParams) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, params)
	return uuid.New(), nil
}

func (f *fakeStore) CountAutomatedActivities(_ context.Context, leadID uuid.UUID, activityType string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, act := range f.activities {
		if act.LeadID == leadID && act.Type == activityType && act.Automated {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) CreateCommunication(_ context.Context, comm *repository.Communication) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.communications = append(f.communications, *comm)
	return nil
}

func (f *fakeStore) HasInboundSinceLastOutbound(_ context.Context, _ uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inboundSinceOutbound, nil
}

func (f *fakeStore) HasOutboundWithSubject(_ context.Context, leadID uuid.UUID, subject string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, comm := range f.communications {
		if comm.LeadID == leadID && comm.Direction == "outbound" && comm.Subject == subject {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CountInboundCommunications(_ context.Context, _ uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inboundCount, nil
}

func (f *fakeStore) CountMeetingsByStatus(_ context.Context, _ uuid.UUID, status string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == domain.MeetingCompleted {
		return f.meetingsHeld, nil
	}
	return 0, nil
}

func (f *fakeStore) CountNoShows(_ context.Context, leadID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, m := range f.meetings {
		if m.LeadID == leadID && m.Status == domain.MeetingNoShow {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) HasUpcomingMeeting(_ context.Context, _ uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upcomingMeeting, nil
}

func (f *fakeStore) GetMeetingByID(_ context.Context, id uuid.UUID) (*repository.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meeting, ok := f.meetings[id]
	if !ok {
		return nil, apperr.NotFound("meeting not found")
	}
	copied := *meeting
	return &copied, nil
}

func (f *fakeStore) UpdateMeetingStatus(_ context.Context, id uuid.UUID, fromStatus, toStatus string, outcome *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meeting, ok := f.meetings[id]
	if !ok || meeting.Status != fromStatus {
		return false, nil
	}
	meeting.Status = toStatus
	meeting.Outcome = outcome
	return true, nil
}

func (f *fakeStore) CreateEscalation(_ context.Context, leadID uuid.UUID, reason, _ string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations = append(f.escalations, reason)
	return uuid.New(), nil
}

func (f *fakeStore) CreateDocument(_ context.Context, doc *repository.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = append(f.documents, *doc)
	return nil
}

func (f *fakeStore) FunnelCounts(context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for _, lead := range f.leads {
		counts[lead.Stage]++
	}
	return counts, nil
}

func (f *fakeStore) ListStaleLeads(_ context.Context, stages []string, _, _ time.Time, _ int) ([]repository.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staleQueryStages = stages
	return f.staleLeads, nil
}

func (f *fakeStore) ListOverdueScheduledMeetings(context.Context, time.Time, time.Time, int) ([]repository.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overdueMeetings, nil
}

// fakeBus records published events synchronously.
type fakeBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakeBus) Publish(_ context.Context, event events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeBus) PublishSync(_ context.Context, event events.Event) error {
	f.Publish(context.Background(), event)
	return nil
}

func (f *fakeBus) Subscribe(string, events.Handler) {}

func (f *fakeBus) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.events))
	for i, e := range f.events {
		names[i] = e.EventName()
	}
	return names
}

func testEngine(store *fakeStore, bus *fakeBus) *Engine {
	return NewEngine(store, bus, logger.New("test"))
}

func TestTransitionLegalEdge(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	lead := store.addLead(repository.Lead{ID: uuid.New(), Stage: domain.StageNew, Score: 40})

	engine := testEngine(store, bus)
	err := engine.Transition(context.Background(), lead.ID, domain.StageNew, domain.StageQualifying, "intake", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := store.GetByID(context.Background(), lead.ID)
	if got.Stage != domain.StageQualifying {
		t.Fatalf("expected QUALIFYING, got %s", got.Stage)
	}

	names := bus.names()
	if len(names) != 1 || names[0] != "leads.stage.changed" {
		t.Fatalf("expected a single StageChanged event, got %v", names)
	}
}

func TestTransitionIllegalEdge(t *testing.T) {
	store := newFakeStore()
	lead := store.addLead(repository.Lead{ID: uuid.New(), Stage: domain.StageNew, Score: 40})

	engine := testEngine(store, &fakeBus{})
	err := engine.Transition(context.Background(), lead.ID, domain.StageNew, domain.StageClosedWon, "nope", false)
	if !IsInvalidTransition(err) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	got, _ := store.GetByID(context.Background(), lead.ID)
	if got.Stage != domain.StageNew {
		t.Fatalf("stage must not change on illegal transition, got %s", got.Stage)
	}
}

func TestTransitionStaleFromStage(t *testing.T) {
	store := newFakeStore()
	lead := store.addLead(repository.Lead{ID: uuid.New(), Stage: domain.StageWarmNurturing, Score: 40})

	engine := testEngine(store, &fakeBus{})
	err := engine.Transition(context.Background(), lead.ID, domain.StageQualifying, domain.StageWarmNurturing, "stale", true)
	if !IsInvalidTransition(err) {
		t.Fatalf("expected InvalidTransitionError for stale from-stage, got %v", err)
	}
}

func TestTransitionGuardRejected(t *testing.T) {
	store := newFakeStore()
	lead := store.addLead(repository.Lead{ID: uuid.New(), Stage: domain.StageQualifying, Score: 79})

	engine := testEngine(store, &fakeBus{})
	err := engine.Transition(context.Background(), lead.ID, domain.StageQualifying, domain.StageHotEngaged, "promote", true)
	if !IsInvalidTransition(err) {
		t.Fatalf("expected guard rejection, got %v", err)
	}
}

func TestTransitionLostRace(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	lead := store.addLead(repository.Lead{ID: uuid.New(), Stage: domain.StageNew, Score: 40})
	store.loseRace = true

	engine := testEngine(store, bus)
	err := engine.Transition(context.Background(), lead.ID, domain.StageNew, domain.StageQualifying, "intake", true)
	if !IsInvalidTransition(err) {
		t.Fatalf("expected InvalidTransitionError on lost race, got %v", err)
	}
	if len(bus.names()) != 0 {
		t.Fatal("no event must be published for a lost race")
	}
}

func TestTransitionIfLegalSwallowsInvalid(t *testing.T) {
	store := newFakeStore()
	lead := store.addLead(repository.Lead{ID: uuid.New(), Stage: domain.StageClosedWon, Score: 90})

	engine := testEngine(store, &fakeBus{})
	applied, err := engine.TransitionIfLegal(context.Background(), lead.ID, domain.StageClosedWon, domain.StageQualifying, "undo")
	if err != nil {
		t.Fatalf("invalid transition must be swallowed, got %v", err)
	}
	if applied {
		t.Fatal("transition out of a terminal stage must not apply")
	}
}
