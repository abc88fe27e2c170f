// Package agent implements the capability registry: named, dispatchable
// units of lead work (scoring, content generation, research, scheduling
// decisions, document generation, analytics) chained together through a
// result-driven hand-off protocol.
package agent

import (
	"context"
	"fmt"

	"leadflow_backend/internal/leads/ports"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// Capability names resolvable through the registry.
const (
	CapabilityScoring            = "scoring"
	CapabilityContentGeneration  = "content_generation"
	CapabilityResearch           = "research"
	CapabilitySchedulingDecision = "scheduling_decision"
	CapabilityDocumentGeneration = "document_generation"
	CapabilityAnalytics          = "analytics"
)

const maxReasoningLen = 500

// Context carries per-invocation scope.
type Context struct {
	LeadID uuid.UUID
	Manual bool
}

// Result is the uniform outcome of a capability run. A non-empty
// NextCapability asks the dispatcher to chain another capability with Data
// as its input.
type Result struct {
	Success        bool           `json:"success"`
	Action         string         `json:"action"`
	Data           map[string]any `json:"data,omitempty"`
	Reasoning      string         `json:"reasoning,omitempty"`
	NextCapability string         `json:"nextCapability,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Capability is one dispatchable unit of lead work.
type Capability interface {
	Name() string
	Execute(ctx context.Context, input map[string]any, c Context) (Result, error)
}

// UnknownCapabilityError is returned when no capability matches the
// requested name. A typed result rather than a crash, so new capability
// names degrade gracefully on older deployments.
type UnknownCapabilityError struct {
	Name string
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown capability %q", e.Name)
}

// Store is the data access the registry needs for audit logging.
type Store interface {
	LogActivity(ctx context.Context, params repository.LogActivityParams) (uuid.UUID, error)
}

// Registry resolves capabilities by name and runs them. The capability set
// is fixed at startup.
type Registry struct {
	capabilities map[string]Capability
	store        Store
	scheduler    ports.TaskScheduler
	log          *logger.Logger
}

// NewRegistry creates a registry over the given capabilities.
func NewRegistry(store Store, scheduler ports.TaskScheduler, log *logger.Logger, capabilities ...Capability) *Registry {
	byName := make(map[string]Capability, len(capabilities))
	for _, c := range capabilities {
		byName[c.Name()] = c
	}
	return &Registry{
		capabilities: byName,
		store:        store,
		scheduler:    scheduler,
		log:          log,
	}
}

// Names returns the registered capability names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	return names
}

// Execute runs the named capability. Every invocation, successful or not, is
// recorded as an activity on the lead. When the result names a successor
// capability, a hand-off task is enqueued carrying the result's data as the
// next input.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any, c Context) (Result, error) {
	capability, ok := r.capabilities[name]
	if !ok {
		return Result{}, &UnknownCapabilityError{Name: name}
	}

	result, err := capability.Execute(ctx, input, c)
	if err != nil {
		result.Success = false
		if result.Error == "" {
			result.Error = err.Error()
		}
	}

	r.logInvocation(ctx, name, c, result)

	if err != nil {
		return result, err
	}

	if result.NextCapability != "" {
		if _, ok := r.capabilities[result.NextCapability]; !ok {
			r.log.Warn("capability requested unknown successor",
				"capability", name, "next", result.NextCapability, "leadId", c.LeadID)
		} else if hErr := r.scheduler.EnqueueCapabilityHandoff(ctx, c.LeadID, result.NextCapability, result.Data); hErr != nil {
			r.log.Error("failed to enqueue capability hand-off",
				"capability", name, "next", result.NextCapability, "leadId", c.LeadID, "error", hErr)
		}
	}

	return result, nil
}

func (r *Registry) logInvocation(ctx context.Context, name string, c Context, result Result) {
	reasoning := result.Reasoning
	if len(reasoning) > maxReasoningLen {
		reasoning = reasoning[:maxReasoningLen]
	}

	title := fmt.Sprintf("Capability %s: %s", name, result.Action)
	if result.Action == "" {
		title = fmt.Sprintf("Capability %s", name)
	}

	_, err := r.store.LogActivity(ctx, repository.LogActivityParams{
		LeadID:    c.LeadID,
		Type:      "capability",
		Actor:     "AI",
		Title:     title,
		Summary:   reasoning,
		Automated: !c.Manual,
		Metadata: map[string]any{
			"capability": name,
			"action":     result.Action,
			"success":    result.Success,
			"next":       result.NextCapability,
			"error":      result.Error,
		},
	})
	if err != nil {
		// Audit failure must not fail the capability run.
		r.log.Error("failed to log capability activity", "capability", name, "leadId", c.LeadID, "error", err)
	}
}
