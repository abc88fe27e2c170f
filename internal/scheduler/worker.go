package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/leads/agent"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Worker consumes pipeline tasks and dispatches them to the orchestration
// core. Handler errors that are not retryable are wrapped with
// asynq.SkipRetry so a bad payload or permanently failed lead does not churn
// through the retry schedule.
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	pipeline *leads.Pipeline
	registry *agent.Registry
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, pipeline *leads.Pipeline, registry *agent.Registry, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetQueueConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
		RetryDelayFunc: retryDelay,
		ErrorHandler:   asynq.ErrorHandlerFunc(errorHandler(log)),
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		pipeline: pipeline,
		registry: registry,
		log:      log,
	}

	mux.HandleFunc(TaskNewLeadPipeline, w.handleNewLeadPipeline)
	mux.HandleFunc(TaskProcessLead, w.handleProcessLead)
	mux.HandleFunc(TaskNoShowFollowUp, w.handleNoShowFollowUp)
	mux.HandleFunc(TaskCapabilityHandoff, w.handleCapabilityHandoff)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleNewLeadPipeline(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseNewLeadPipelinePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	return classify(w.pipeline.HandleNewLead(ctx, leadID))
}

func (w *Worker) handleProcessLead(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseProcessLeadPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	return classify(w.pipeline.HandleProcessLead(ctx, leadID, payload.Step))
}

func (w *Worker) handleNoShowFollowUp(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseNoShowFollowUpPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	meetingID, err := uuid.Parse(payload.MeetingID)
	if err != nil {
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	return classify(w.pipeline.HandleNoShowFollowUp(ctx, leadID, meetingID, payload.Step))
}

func (w *Worker) handleCapabilityHandoff(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseCapabilityHandoffPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	_, err = w.registry.Execute(ctx, payload.Capability, payload.Input, agent.Context{LeadID: leadID})
	if err != nil {
		var unknown *agent.UnknownCapabilityError
		if errors.As(err, &unknown) {
			w.log.Warn("dropping hand-off to unknown capability", "capability", payload.Capability, "leadId", leadID)
			return nil
		}
		return classify(err)
	}
	return nil
}

// classify marks permanently failed work as non-retryable for asynq.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if !apperr.IsRetryable(err) {
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}
	return err
}

// retryDelay backs off exponentially with jitter: roughly 10s, 20s, 40s...
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	backoff := 10 * time.Second * time.Duration(math.Pow(2, float64(n)))
	if backoff > 30*time.Minute {
		backoff = 30 * time.Minute
	}
	jitter := time.Duration(rand.Int63n(int64(backoff) / 5))
	return backoff + jitter
}

func errorHandler(log *logger.Logger) func(ctx context.Context, task *asynq.Task, err error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried >= maxRetry {
			log.Error("task exhausted retries, moving to dead queue",
				"task", task.Type(), "retried", retried, "error", err)
			return
		}
		log.Warn("task failed, will retry",
			"task", task.Type(), "retried", retried, "maxRetry", maxRetry, "error", err)
	}
}
