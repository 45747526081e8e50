package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/draftforge/api/internal/model"
)

// ErrSkipRetry marks a job error as terminal: the job goes straight to the
// dead-letter list without consuming remaining attempts.
var ErrSkipRetry = errors.New("skip retry")

// Terminal wraps err so the queue treats the failure as non-retryable.
func Terminal(err error) error {
	return fmt.Errorf("%w: %w", ErrSkipRetry, err)
}

// Options control retry behaviour for one job.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration // base for exponential backoff
}

// DefaultOptions mirror the original pipeline defaults: 3 attempts with a 1s
// exponential base.
func DefaultOptions() Options {
	return Options{MaxAttempts: 3, Backoff: time.Second}
}

// Retention controls housekeeping of finished jobs. Completed jobs are pruned
// aggressively; terminal failures stick around for diagnosis.
type Retention struct {
	CompletedCount int
	CompletedAge   time.Duration
	FailedAge      time.Duration
}

// Queue is a priority-ordered, retryable job queue on Redis. Ready jobs live
// in a ZSET scored by priority with a monotonic sequence number embedded in
// the member for FIFO tie-break; delayed jobs live in a second ZSET scored by
// their visibility time.
type Queue struct {
	client    *redis.Client
	retention Retention
}

func New(client *redis.Client, retention Retention) *Queue {
	if retention.CompletedCount <= 0 {
		retention.CompletedCount = 1000
	}
	if retention.CompletedAge <= 0 {
		retention.CompletedAge = 24 * time.Hour
	}
	if retention.FailedAge <= 0 {
		retention.FailedAge = 7 * 24 * time.Hour
	}
	return &Queue{client: client, retention: retention}
}

func readyKey(queue string) string     { return "queue:" + queue + ":ready" }
func delayedKey(queue string) string   { return "queue:" + queue + ":delayed" }
func seqKey(queue string) string       { return "queue:" + queue + ":seq" }
func completedKey(queue string) string { return "queue:" + queue + ":completed" }
func deadKey(queue string) string      { return "queue:" + queue + ":dead" }
func jobKey(queue, id string) string   { return "queue:" + queue + ":job:" + id }

// member encodes priority and enqueue order next to the job id so that a
// ZPOPMIN on the ready set (scored by priority) breaks score ties in FIFO
// order lexicographically, and so promotion from the delayed set can restore
// the ready score without a lookup.
func member(priority model.Priority, seq int64, jobID string) string {
	return fmt.Sprintf("%d:%020d:%s", priority, seq, jobID)
}

func parseMember(m string) (priority model.Priority, jobID string, err error) {
	parts := strings.SplitN(m, ":", 3)
	if len(parts) != 3 {
		return 0, "", fmt.Errorf("malformed queue member %q", m)
	}
	p, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fmt.Errorf("malformed queue member %q: %w", m, err)
	}
	return model.Priority(p), parts[2], nil
}

// Enqueue creates a job and makes it visible immediately.
func (q *Queue) Enqueue(ctx context.Context, queueName string, payload any, priority model.Priority, opts Options) (string, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultOptions().Backoff
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:            uuid.New().String(),
		QueueName:     queueName,
		Payload:       data,
		Priority:      priority,
		Attempt:       0,
		MaxAttempts:   opts.MaxAttempts,
		NextVisibleAt: now,
		BackoffBase:   opts.Backoff,
		State:         model.JobStateWaiting,
		EnqueuedAt:    now,
	}

	seq, err := q.client.Incr(ctx, seqKey(queueName)).Result()
	if err != nil {
		return "", fmt.Errorf("allocate sequence: %w", err)
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(queueName, job.ID), raw, 0)
	pipe.ZAdd(ctx, readyKey(queueName), redis.Z{
		Score:  float64(priority),
		Member: member(priority, seq, job.ID),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return job.ID, nil
}

// Dequeue claims the highest-priority visible job, or returns nil when the
// queue is empty. Callers poll; admission control happens in the worker pool.
func (q *Queue) Dequeue(ctx context.Context, queueName string) (*model.Job, error) {
	if err := q.promoteDue(ctx, queueName, time.Now()); err != nil {
		return nil, err
	}

	popped, err := q.client.ZPopMin(ctx, readyKey(queueName), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("pop ready job: %w", err)
	}
	if len(popped) == 0 {
		return nil, nil
	}

	_, jobID, err := parseMember(popped[0].Member.(string))
	if err != nil {
		return nil, err
	}

	job, err := q.load(ctx, queueName, jobID)
	if err != nil {
		return nil, err
	}

	job.Attempt++
	job.State = model.JobStateActive
	if err := q.save(ctx, job, 0); err != nil {
		return nil, err
	}
	return job, nil
}

// Ack marks a job completed and schedules it for pruning.
func (q *Queue) Ack(ctx context.Context, job *model.Job) error {
	now := time.Now().UTC()
	job.State = model.JobStateCompleted
	job.CompletedAt = &now

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.QueueName, job.ID), raw, q.retention.CompletedAge)
	pipe.LPush(ctx, completedKey(job.QueueName), job.ID)
	pipe.LTrim(ctx, completedKey(job.QueueName), 0, int64(q.retention.CompletedCount)-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Fail records a failed execution. Retryable failures are returned to the
// waiting state with an exponential delay; exhausted or terminal failures go
// to the dead-letter list and are never re-dequeued.
func (q *Queue) Fail(ctx context.Context, job *model.Job, cause error) error {
	job.LastError = cause.Error()

	if errors.Is(cause, ErrSkipRetry) || job.Attempt >= job.MaxAttempts {
		return q.deadLetter(ctx, job, cause)
	}

	delay := job.BackoffBase
	if delay <= 0 {
		delay = DefaultOptions().Backoff
	}
	delay *= 1 << job.Attempt
	job.State = model.JobStateWaiting
	job.NextVisibleAt = time.Now().UTC().Add(delay)

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	seq, err := q.client.Incr(ctx, seqKey(job.QueueName)).Result()
	if err != nil {
		return fmt.Errorf("allocate sequence: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.QueueName, job.ID), raw, 0)
	pipe.ZAdd(ctx, delayedKey(job.QueueName), redis.Z{
		Score:  float64(job.NextVisibleAt.UnixMilli()),
		Member: member(job.Priority, seq, job.ID),
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (q *Queue) deadLetter(ctx context.Context, job *model.Job, cause error) error {
	now := time.Now().UTC()
	job.State = model.JobStateFailed
	job.CompletedAt = &now

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.QueueName, job.ID), raw, q.retention.FailedAge)
	pipe.RPush(ctx, deadKey(job.QueueName), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	// Terminal failures must never vanish silently.
	log.Printf("queue %s: job %s dead-lettered after %d attempt(s): %v",
		job.QueueName, job.ID, job.Attempt, cause)
	return nil
}

// promoteDue moves delayed jobs whose visibility time has passed back into
// the ready set.
func (q *Queue) promoteDue(ctx context.Context, queueName string, now time.Time) error {
	members, err := q.client.ZRangeByScore(ctx, delayedKey(queueName), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("scan delayed jobs: %w", err)
	}
	if len(members) == 0 {
		return nil
	}

	pipe := q.client.TxPipeline()
	for _, m := range members {
		priority, _, err := parseMember(m)
		if err != nil {
			continue
		}
		pipe.ZRem(ctx, delayedKey(queueName), m)
		pipe.ZAdd(ctx, readyKey(queueName), redis.Z{Score: float64(priority), Member: m})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Job returns the stored state of a job, for status endpoints and tests.
func (q *Queue) Job(ctx context.Context, queueName, jobID string) (*model.Job, error) {
	return q.load(ctx, queueName, jobID)
}

// DeadLetters returns up to n dead-lettered jobs, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, queueName string, n int64) ([]*model.Job, error) {
	ids, err := q.client.LRange(ctx, deadKey(queueName), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.load(ctx, queueName, id)
		if err != nil {
			continue // pruned by retention
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Depth returns the number of visible ready jobs.
func (q *Queue) Depth(ctx context.Context, queueName string) (int64, error) {
	return q.client.ZCard(ctx, readyKey(queueName)).Result()
}

func (q *Queue) load(ctx context.Context, queueName, jobID string) (*model.Job, error) {
	raw, err := q.client.Get(ctx, jobKey(queueName, jobID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("job %s not found in queue %s", jobID, queueName)
	}
	if err != nil {
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}

func (q *Queue) save(ctx context.Context, job *model.Job, ttl time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.Set(ctx, jobKey(job.QueueName, job.ID), raw, ttl).Err()
}
