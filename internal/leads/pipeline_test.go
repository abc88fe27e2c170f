package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/ports"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/scoring"
	"leadflow_backend/internal/leads/sequences"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type testPolicy struct{}

func (testPolicy) GetFollowUpDelay() time.Duration         { return 48 * time.Hour }
func (testPolicy) GetMaxAutomatedFollowUps() int           { return 3 }
func (testPolicy) GetStaleScanInterval() time.Duration     { return 24 * time.Hour }
func (testPolicy) GetStaleInactivityWindow() time.Duration { return 48 * time.Hour }
func (testPolicy) GetNoShowScanInterval() time.Duration    { return 15 * time.Minute }
func (testPolicy) GetNoShowWindowMin() time.Duration       { return 15 * time.Minute }
func (testPolicy) GetNoShowWindowMax() time.Duration       { return 2 * time.Hour }
func (testPolicy) GetNoShowScorePenalty() int              { return 10 }

type enqueuedTask struct {
	kind      string
	leadID    uuid.UUID
	meetingID uuid.UUID
	step      string
	delay     time.Duration
}

type stubScheduler struct {
	mu    sync.Mutex
	tasks []enqueuedTask
}

func (s *stubScheduler) EnqueueNewLeadPipeline(_ context.Context, leadID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, enqueuedTask{kind: "new", leadID: leadID})
	return nil
}

func (s *stubScheduler) EnqueueProcessLead(_ context.Context, leadID uuid.UUID, step string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, enqueuedTask{kind: "process", leadID: leadID, step: step, delay: delay})
	return nil
}

func (s *stubScheduler) EnqueueNoShowFollowUp(_ context.Context, leadID, meetingID uuid.UUID, step string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, enqueuedTask{kind: "noshow", leadID: leadID, meetingID: meetingID, step: step, delay: delay})
	return nil
}

func (s *stubScheduler) EnqueueCapabilityHandoff(_ context.Context, leadID uuid.UUID, capability string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, enqueuedTask{kind: "handoff", leadID: leadID, step: capability})
	return nil
}

func (s *stubScheduler) byKind(kind string) []enqueuedTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []enqueuedTask
	for _, task := range s.tasks {
		if task.kind == kind {
			out = append(out, task)
		}
	}
	return out
}

type stubSender struct {
	mu   sync.Mutex
	sent []ports.Message
	err  error
}

func (s *stubSender) Send(_ context.Context, msg ports.Message) (ports.SendResult, error) {
	if s.err != nil {
		return ports.SendResult{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return ports.SendResult{MessageID: fmt.Sprintf("msg-%d", len(s.sent))}, nil
}

type stubContent struct {
	err error
}

func (s *stubContent) Generate(_ context.Context, kind string, lead ports.LeadContext) (ports.GeneratedContent, error) {
	if s.err != nil {
		return ports.GeneratedContent{}, s.err
	}
	return ports.GeneratedContent{
		Subject: "Re " + kind + " for " + lead.FirstName,
		Body:    "rendered " + kind,
	}, nil
}

type stubNotifier struct {
	mu     sync.Mutex
	alerts []ports.Alert
}

func (s *stubNotifier) Notify(_ context.Context, alert ports.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
}

type pipelineFixture struct {
	store     *fakeStore
	scheduler *stubScheduler
	sender    *stubSender
	content   *stubContent
	notifier  *stubNotifier
	bus       *fakeBus
	sequences *sequences.Store
	pipeline  *Pipeline
}

func newPipelineFixture() *pipelineFixture {
	store := newFakeStore()
	scheduler := &stubScheduler{}
	sender := &stubSender{}
	content := &stubContent{}
	notifier := &stubNotifier{}
	bus := &fakeBus{}
	seq := sequences.NewStore()
	log := logger.New("test")

	engine := NewEngine(store, bus, log)
	pipeline := NewPipeline(store, engine, scoring.New(), seq, scheduler, sender, content, notifier, bus, testPolicy{}, log)

	return &pipelineFixture{
		store:     store,
		scheduler: scheduler,
		sender:    sender,
		content:   content,
		notifier:  notifier,
		bus:       bus,
		sequences: seq,
		pipeline:  pipeline,
	}
}

func lowValueLead() repository.Lead {
	return repository.Lead{
		ID:        uuid.New(),
		Email:     "lead@example.com",
		Source:    "cold_list",
		Stage:     domain.StageNew,
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
	}
}

func highValueLead() repository.Lead {
	return repository.Lead{
		ID:        uuid.New(),
		FirstName: "Dana",
		LastName:  "Reyes",
		Email:     "dana@acme.test",
		Phone:     "+15551234567",
		Company:   "ACME",
		Source:    "referral",
		Stage:     domain.StageNew,
		CreatedAt: time.Now(),
	}
}

func TestHandleNewLeadIntake(t *testing.T) {
	f := newPipelineFixture()
	lead := f.store.addLead(lowValueLead())

	if err := f.pipeline.HandleNewLead(context.Background(), lead.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := f.store.GetByID(context.Background(), lead.ID)
	if got.Stage != domain.StageQualifying {
		t.Fatalf("expected QUALIFYING after intake, got %s", got.Stage)
	}
	if got.Score == 0 {
		t.Fatal("expected a persisted score")
	}

	if len(f.sender.sent) != 1 {
		t.Fatalf("expected 1 acknowledgment send, got %d", len(f.sender.sent))
	}
	if !strings.HasPrefix(f.store.communications[0].Subject, "Thanks for reaching out") {
		t.Fatalf("unexpected ack subject %q", f.store.communications[0].Subject)
	}

	followUps := f.scheduler.byKind("process")
	if len(followUps) != 1 || followUps[0].step != StepFollowUp {
		t.Fatalf("expected one scheduled follow-up, got %+v", followUps)
	}
	if followUps[0].delay != 48*time.Hour {
		t.Fatalf("expected the policy delay, got %v", followUps[0].delay)
	}

	if _, ok := f.sequences.Get(lead.ID, nurtureSequenceName); !ok {
		t.Fatal("expected nurture sequence to begin")
	}
}

func TestHandleNewLeadHotPromotion(t *testing.T) {
	f := newPipelineFixture()
	f.store.inboundCount = 2
	f.store.meetingsHeld = 1
	lead := f.store.addLead(highValueLead())

	if err := f.pipeline.HandleNewLead(context.Background(), lead.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := f.store.GetByID(context.Background(), lead.ID)
	if got.Stage != domain.StageHotEngaged {
		t.Fatalf("expected HOT_ENGAGED, got %s (score %d)", got.Stage, got.Score)
	}

	found := false
	for _, name := range f.bus.names() {
		if name == "leads.hot.detected" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected HotLeadDetected event")
	}

	if len(f.notifier.alerts) == 0 || f.notifier.alerts[0].Kind != "hot_lead" {
		t.Fatalf("expected hot_lead alert, got %+v", f.notifier.alerts)
	}
}

func TestHandleNewLeadAckIdempotent(t *testing.T) {
	f := newPipelineFixture()
	lead := f.store.addLead(lowValueLead())

	if err := f.pipeline.HandleNewLead(context.Background(), lead.ID); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := f.pipeline.HandleNewLead(context.Background(), lead.ID); err != nil {
		t.Fatalf("redelivered run failed: %v", err)
	}

	if len(f.sender.sent) != 1 {
		t.Fatalf("acknowledgment must send once, got %d sends", len(f.sender.sent))
	}
}

func TestHandleNewLeadQualificationFailureStillSchedulesFollowUp(t *testing.T) {
	f := newPipelineFixture()
	lead := f.store.addLead(lowValueLead())
	f.sender.err = apperr.Transient("smtp timeout", errors.New("dial tcp: i/o timeout"))

	if err := f.pipeline.HandleNewLead(context.Background(), lead.ID); err != nil {
		t.Fatalf("intake must be best-effort, got %v", err)
	}

	followUps := f.scheduler.byKind("process")
	if len(followUps) != 1 || followUps[0].step != StepFollowUp {
		t.Fatalf("follow-up not scheduled despite qualification failure: %+v", followUps)
	}
}

func TestHandleNewLeadMissingLeadDropped(t *testing.T) {
	f := newPipelineFixture()

	if err := f.pipeline.HandleNewLead(context.Background(), uuid.New()); err != nil {
		t.Fatalf("missing lead must not error, got %v", err)
	}
}

func TestHandleProcessLeadSkipsClosed(t *testing.T) {
	f := newPipelineFixture()
	lead := lowValueLead()
	lead.Stage = domain.StageClosedWon
	f.store.addLead(lead)

	if err := f.pipeline.HandleProcessLead(context.Background(), lead.ID, StepFollowUp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("closed lead must not receive messages")
	}
}

func TestHandleProcessLeadUnknownStep(t *testing.T) {
	f := newPipelineFixture()
	lead := f.store.addLead(lowValueLead())

	err := f.pipeline.HandleProcessLead(context.Background(), lead.ID, "teleport")
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestFollowUpSkipsWhenLeadReplied(t *testing.T) {
	f := newPipelineFixture()
	lead := lowValueLead()
	lead.Stage = domain.StageWarmNurturing
	f.store.addLead(lead)
	f.store.inboundSinceOutbound = true
	f.sequences.Begin(lead.ID, nurtureSequenceName)

	if err := f.pipeline.HandleProcessLead(context.Background(), lead.ID, StepFollowUp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.sender.sent) != 0 {
		t.Fatal("no follow-up must be sent when the lead replied")
	}
	if seq, ok := f.sequences.Get(lead.ID, nurtureSequenceName); !ok || seq.State != sequences.StateCompleted {
		t.Fatal("nurture sequence should complete when the lead replied")
	}
}

func TestFollowUpSkipsWhenMeetingBooked(t *testing.T) {
	f := newPipelineFixture()
	lead := lowValueLead()
	lead.Stage = domain.StageWarmNurturing
	f.store.addLead(lead)
	f.store.upcomingMeeting = true

	if err := f.pipeline.HandleProcessLead(context.Background(), lead.ID, StepFollowUp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("no follow-up must be sent with a meeting booked")
	}
}

func TestFollowUpStopsAtBudget(t *testing.T) {
	f := newPipelineFixture()
	lead := lowValueLead()
	lead.Stage = domain.StageWarmNurturing
	f.store.addLead(lead)
	for i := 0; i < 3; i++ {
		f.store.activities = append(f.store.activities, repository.LogActivityParams{
			LeadID: lead.ID, Type: "follow_up", Automated: true,
		})
	}

	if err := f.pipeline.HandleProcessLead(context.Background(), lead.ID, StepFollowUp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("follow-up budget must cap automated sends")
	}
	if len(f.scheduler.byKind("process")) != 0 {
		t.Fatal("no further follow-up must be scheduled past the budget")
	}
}

func TestFollowUpSendsAndReschedules(t *testing.T) {
	f := newPipelineFixture()
	lead := lowValueLead()
	lead.Stage = domain.StageWarmNurturing
	f.store.addLead(lead)

	if err := f.pipeline.HandleProcessLead(context.Background(), lead.ID, StepFollowUp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.sender.sent) != 1 {
		t.Fatalf("expected 1 follow-up send, got %d", len(f.sender.sent))
	}
	if len(f.store.communications) != 1 {
		t.Fatal("the send must be logged as an outbound communication")
	}

	var followUpLogged bool
	for _, act := range f.store.activities {
		if act.Type == "follow_up" && act.Automated {
			followUpLogged = true
		}
	}
	if !followUpLogged {
		t.Fatal("expected a follow_up activity record")
	}

	next := f.scheduler.byKind("process")
	if len(next) != 1 || next[0].delay != 48*time.Hour {
		t.Fatalf("expected the next follow-up scheduled at the policy delay, got %+v", next)
	}
}

func TestFollowUpTransientSendFailurePropagates(t *testing.T) {
	f := newPipelineFixture()
	lead := lowValueLead()
	lead.Stage = domain.StageWarmNurturing
	f.store.addLead(lead)
	f.sender.err = apperr.Transient("smtp timeout", errors.New("dial timeout"))

	err := f.pipeline.HandleProcessLead(context.Background(), lead.ID, StepFollowUp)
	if err == nil {
		t.Fatal("transient send failure must propagate for retry")
	}
	if len(f.store.communications) != 0 {
		t.Fatal("a failed send must not be logged")
	}
}

func TestFollowUpPermanentContentFailureSwallowed(t *testing.T) {
	f := newPipelineFixture()
	lead := lowValueLead()
	lead.Stage = domain.StageWarmNurturing
	f.store.addLead(lead)
	f.content.err = apperr.New(apperr.KindValidation, "prompt rejected")

	if err := f.pipeline.HandleProcessLead(context.Background(), lead.ID, StepFollowUp); err != nil {
		t.Fatalf("permanent collaborator failure must be swallowed, got %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("nothing must be sent without content")
	}
}

func noShowMeeting(leadID uuid.UUID) repository.Meeting {
	start := time.Now().Add(-90 * time.Minute)
	return repository.Meeting{
		ID:        uuid.New(),
		LeadID:    leadID,
		Title:     "Discovery call",
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
		Status:    domain.MeetingNoShow,
	}
}

func TestNoShowStepVoidedAfterReschedule(t *testing.T) {
	f := newPipelineFixture()
	lead := f.store.addLead(lowValueLead())
	meeting := noShowMeeting(lead.ID)
	meeting.Status = domain.MeetingRescheduled
	f.store.meetings[meeting.ID] = &meeting

	if err := f.pipeline.HandleNoShowFollowUp(context.Background(), lead.ID, meeting.ID, domain.NoShowStepApology); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("rescheduled meeting must void the recovery step")
	}
}

func TestNoShowApologySendsOnce(t *testing.T) {
	f := newPipelineFixture()
	lead := f.store.addLead(lowValueLead())
	meeting := noShowMeeting(lead.ID)
	f.store.meetings[meeting.ID] = &meeting

	for i := 0; i < 2; i++ {
		if err := f.pipeline.HandleNoShowFollowUp(context.Background(), lead.ID, meeting.ID, domain.NoShowStepApology); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	if len(f.sender.sent) != 1 {
		t.Fatalf("apology must send once, got %d", len(f.sender.sent))
	}
}

func TestNoShowRepCallRaisesAlert(t *testing.T) {
	f := newPipelineFixture()
	lead := f.store.addLead(lowValueLead())
	meeting := noShowMeeting(lead.ID)
	f.store.meetings[meeting.ID] = &meeting

	if err := f.pipeline.HandleNoShowFollowUp(context.Background(), lead.ID, meeting.ID, domain.NoShowStepRepCall); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.notifier.alerts) != 1 || f.notifier.alerts[0].Kind != "rep_call" {
		t.Fatalf("expected rep_call alert, got %+v", f.notifier.alerts)
	}
	var logged bool
	for _, act := range f.store.activities {
		if act.Type == "rep_call_request" {
			logged = true
		}
	}
	if !logged {
		t.Fatal("expected rep_call_request activity")
	}
}

func TestNoShowFinalizeHighValueParksAndEscalates(t *testing.T) {
	f := newPipelineFixture()
	lead := repository.Lead{ID: uuid.New(), Score: 75, Stage: domain.StageHotEngaged, Category: domain.CategoryHot}
	f.store.addLead(lead)
	meeting := noShowMeeting(lead.ID)
	f.store.meetings[meeting.ID] = &meeting

	if err := f.pipeline.HandleNoShowFollowUp(context.Background(), lead.ID, meeting.ID, domain.NoShowStepFinalize); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := f.store.GetByID(context.Background(), lead.ID)
	if got.Score != 65 {
		t.Fatalf("expected score 65 after penalty, got %d", got.Score)
	}
	if got.Stage != domain.StageWarmNurturing {
		t.Fatalf("high-value lead must park in WARM_NURTURING, got %s", got.Stage)
	}
	if len(f.store.escalations) != 1 || f.store.escalations[0] != "no_show_high_value" {
		t.Fatalf("expected a high-value escalation, got %v", f.store.escalations)
	}
}

func TestNoShowFinalizeLowValueArchives(t *testing.T) {
	f := newPipelineFixture()
	lead := repository.Lead{ID: uuid.New(), Score: 40, Stage: domain.StageMeetingScheduled, Category: domain.CategoryCold}
	f.store.addLead(lead)
	meeting := noShowMeeting(lead.ID)
	f.store.meetings[meeting.ID] = &meeting

	if err := f.pipeline.HandleNoShowFollowUp(context.Background(), lead.ID, meeting.ID, domain.NoShowStepFinalize); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := f.store.GetByID(context.Background(), lead.ID)
	if got.Score != 30 {
		t.Fatalf("expected score 30, got %d", got.Score)
	}
	if got.Stage != domain.StageColdArchived {
		t.Fatalf("low-value lead must archive, got %s", got.Stage)
	}
	if len(f.store.escalations) != 0 {
		t.Fatal("low-value finalize must not escalate")
	}
}

func TestNoShowFinalizeMidValueNurtures(t *testing.T) {
	f := newPipelineFixture()
	lead := repository.Lead{ID: uuid.New(), Score: 62, Stage: domain.StageMeetingScheduled, Category: domain.CategoryWarm}
	f.store.addLead(lead)
	meeting := noShowMeeting(lead.ID)
	f.store.meetings[meeting.ID] = &meeting

	if err := f.pipeline.HandleNoShowFollowUp(context.Background(), lead.ID, meeting.ID, domain.NoShowStepFinalize); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := f.store.GetByID(context.Background(), lead.ID)
	if got.Stage != domain.StageWarmNurturing {
		t.Fatalf("mid-value lead must nurture, got %s", got.Stage)
	}
	if len(f.store.escalations) != 0 {
		t.Fatal("mid-value finalize must not escalate")
	}
}
