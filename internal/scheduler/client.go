package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"leadflow_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Client enqueues pipeline tasks. It implements ports.TaskScheduler for the
// leads orchestration core.
type Client struct {
	client      *asynq.Client
	queue       string
	maxAttempts int
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return newClientWithOpt(opt, cfg), nil
}

func newClientWithOpt(opt asynq.RedisClientOpt, cfg config.SchedulerConfig) *Client {
	queue := cfg.GetQueueName()
	if queue == "" {
		queue = "default"
	}

	maxAttempts := cfg.GetTaskMaxAttempts()
	if maxAttempts < 1 {
		maxAttempts = 5
	}

	return &Client{
		client:      asynq.NewClient(opt),
		queue:       queue,
		maxAttempts: maxAttempts,
	}
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) EnqueueNewLeadPipeline(ctx context.Context, leadID uuid.UUID) error {
	task, err := NewNewLeadPipelineTask(NewLeadPipelinePayload{LeadID: leadID.String()})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, 0)
}

func (c *Client) EnqueueProcessLead(ctx context.Context, leadID uuid.UUID, step string, delay time.Duration) error {
	task, err := NewProcessLeadTask(ProcessLeadPayload{LeadID: leadID.String(), Step: step})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, delay)
}

func (c *Client) EnqueueNoShowFollowUp(ctx context.Context, leadID, meetingID uuid.UUID, step string, delay time.Duration) error {
	task, err := NewNoShowFollowUpTask(NoShowFollowUpPayload{
		LeadID:    leadID.String(),
		MeetingID: meetingID.String(),
		Step:      step,
	})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, delay)
}

func (c *Client) EnqueueCapabilityHandoff(ctx context.Context, leadID uuid.UUID, capability string, input map[string]any) error {
	task, err := NewCapabilityHandoffTask(CapabilityHandoffPayload{
		LeadID:     leadID.String(),
		Capability: capability,
		Input:      input,
	})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, 0)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, delay time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}

	opts := []asynq.Option{
		asynq.Queue(c.queue),
		asynq.MaxRetry(c.maxAttempts - 1),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	_, err := c.client.EnqueueContext(ctx, task, opts...)
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
