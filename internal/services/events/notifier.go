package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	types "github.com/quillbase/quillbase-backend/internal/domain"
	"github.com/quillbase/quillbase-backend/internal/platform/logger"
)

// JobEvent is published when an ingestion job reaches a terminal status.
type JobEvent struct {
	Event     string    `json:"event"`
	JobID     string    `json:"job_id"`
	ChatbotID string    `json:"chatbot_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type JobNotifier interface {
	JobCompleted(ctx context.Context, job *types.IngestionJob)
	JobFailed(ctx context.Context, job *types.IngestionJob)
}

// ---------------- Redis-backed notifier ----------------

type redisNotifier struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewRedisNotifier(log *logger.Logger) (JobNotifier, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_CHANNEL"))
	if ch == "" {
		ch = "ingestion_jobs"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisNotifier{
		log:     log.With("service", "RedisJobNotifier"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (n *redisNotifier) publish(ctx context.Context, ev JobEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		n.log.Warn("Job event marshal failed", "job_id", ev.JobID, "error", err)
		return
	}
	if err := n.rdb.Publish(ctx, n.channel, raw).Err(); err != nil {
		// Notification is best effort; job state lives in the durable store.
		n.log.Warn("Job event publish failed", "job_id", ev.JobID, "error", err)
	}
}

func (n *redisNotifier) JobCompleted(ctx context.Context, job *types.IngestionJob) {
	n.publish(ctx, JobEvent{
		Event:     "ingestion.completed",
		JobID:     job.ID.String(),
		ChatbotID: job.ChatbotID.String(),
		Kind:      job.Kind,
		Status:    job.Status,
		At:        time.Now().UTC(),
	})
}

func (n *redisNotifier) JobFailed(ctx context.Context, job *types.IngestionJob) {
	n.publish(ctx, JobEvent{
		Event:     "ingestion.failed",
		JobID:     job.ID.String(),
		ChatbotID: job.ChatbotID.String(),
		Kind:      job.Kind,
		Status:    job.Status,
		Error:     job.LastError,
		At:        time.Now().UTC(),
	})
}

// ---------------- No-op notifier ----------------

type noopNotifier struct{}

// NewNoopNotifier is used when Redis is not configured (local/dev, tests).
func NewNoopNotifier() JobNotifier { return noopNotifier{} }

func (noopNotifier) JobCompleted(context.Context, *types.IngestionJob) {}
func (noopNotifier) JobFailed(context.Context, *types.IngestionJob)    {}
