// Package leads is the lead pipeline bounded context: the stage machine,
// the automated journey, the scanners and the capability registry. This file
// wires the context together and registers its HTTP routes.
package leads

import (
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/leads/agent"
	"leadflow_backend/internal/leads/handler"
	"leadflow_backend/internal/leads/ports"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/scoring"
	"leadflow_backend/internal/leads/sequences"
	"leadflow_backend/internal/leads/service"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the leads bounded context implementing http.Module.
type Module struct {
	handler  *handler.Handler
	service  *service.Service
	pipeline *Pipeline
	registry *agent.Registry
	stale    *StaleLeadScanner
	noShows  *NoShowScanner
}

// Deps are the cross-context collaborators the module needs. The composition
// root builds them once and shares them between the API and the worker.
type Deps struct {
	Pool      *pgxpool.Pool
	EventBus  events.Bus
	Scheduler ports.TaskScheduler
	Sender    ports.MessageSender
	Content   ports.ContentGenerator
	Notifier  ports.Notifier
	Documents ports.DocumentStore
	Validator *validator.Validator
	Config    *config.Config
	Logger    *logger.Logger
}

// NewModule creates and initializes the leads module with all its dependencies.
func NewModule(d Deps) *Module {
	repo := repository.New(d.Pool)
	engine := NewEngine(repo, d.EventBus, d.Logger)
	scorer := scoring.New()
	seq := sequences.NewStore()

	pipeline := NewPipeline(repo, engine, scorer, seq, d.Scheduler, d.Sender, d.Content, d.Notifier, d.EventBus, d.Config, d.Logger)
	stale := NewStaleLeadScanner(repo, engine, d.Scheduler, d.Config, d.Logger)
	noShows := NewNoShowScanner(repo, seq, d.Scheduler, d.Sender, d.Content, d.Notifier, d.EventBus, d.Config, d.Logger)

	registry := agent.NewRegistry(repo, d.Scheduler, d.Logger,
		agent.NewScoringCapability(repo, scorer, engine),
		agent.NewContentCapability(repo, d.Content),
		agent.NewResearchCapability(repo, d.Content),
		agent.NewSchedulingDecisionCapability(repo),
		agent.NewDocumentCapability(repo, d.Documents, d.Content, d.EventBus),
		agent.NewAnalyticsCapability(repo),
	)

	svc := service.New(repo, engine, d.Scheduler, noShows, d.EventBus, d.Logger)
	h := handler.New(svc, registry, stale, noShows, d.Validator)

	return &Module{
		handler:  h,
		service:  svc,
		pipeline: pipeline,
		registry: registry,
		stale:    stale,
		noShows:  noShows,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Pipeline returns the task handlers for the worker process.
func (m *Module) Pipeline() *Pipeline {
	return m.pipeline
}

// Registry returns the capability registry for the worker process.
func (m *Module) Registry() *agent.Registry {
	return m.registry
}

// StaleScanner returns the stale lead scan for the worker's scan runner.
func (m *Module) StaleScanner() *StaleLeadScanner {
	return m.stale
}

// NoShowScanner returns the no-show scan for the worker's scan runner.
func (m *Module) NoShowScanner() *NoShowScanner {
	return m.noShows
}

// RegisterRoutes mounts the lead routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/leads"))
	m.handler.RegisterMeetingRoutes(ctx.Protected.Group("/meetings"))
	m.handler.RegisterScanRoutes(ctx.Protected.Group("/scans"))
	m.handler.RegisterWebhookRoutes(ctx.V1.Group("/webhooks"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
