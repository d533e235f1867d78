package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"perfeval-dashboard/internal/models"
)

// ExportQueueName is the Redis list report downloads are queued on.
const ExportQueueName = "queue:report-export"

var ErrQueueFull = errors.New("export queue is full")

// Queue carries export jobs from the scoring client to the pool.
// Pop returns (nil, nil) when no job arrived within its poll window.
type Queue interface {
	Push(ctx context.Context, job *models.ExportJob) error
	Pop(ctx context.Context) (*models.ExportJob, error)
}

// MemoryQueue is a bounded in-process queue used when Redis is not configured.
type MemoryQueue struct {
	jobs        chan *models.ExportJob
	pollTimeout time.Duration
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		jobs:        make(chan *models.ExportJob, size),
		pollTimeout: 5 * time.Second,
	}
}

func (q *MemoryQueue) Push(ctx context.Context, job *models.ExportJob) error {
	j := *job
	select {
	case q.jobs <- &j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) (*models.ExportJob, error) {
	timer := time.NewTimer(q.pollTimeout)
	defer timer.Stop()

	select {
	case job := <-q.jobs:
		return job, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

// RedisQueue shares export jobs between gateway replicas through a Redis list.
type RedisQueue struct {
	client      *redis.Client
	name        string
	pollTimeout time.Duration
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:      client,
		name:        ExportQueueName,
		pollTimeout: 30 * time.Second,
	}
}

func (q *RedisQueue) Push(ctx context.Context, job *models.ExportJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode export job: %w", err)
	}
	if err := q.client.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to queue export job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (*models.ExportJob, error) {
	result, err := q.client.BLPop(ctx, q.pollTimeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	return decodeJob(result[1])
}

func decodeJob(raw string) (*models.ExportJob, error) {
	var job models.ExportJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to parse export job: %w", err)
	}
	return &job, nil
}
