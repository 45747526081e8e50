package worker

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/draftforge/api/internal/config"
	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/websocket"
)

// Handler processes one claimed job. A nil return acks the job; an error
// routes it through queue retry, or straight to the dead-letter list when
// wrapped with queue.Terminal.
type Handler interface {
	Handle(ctx context.Context, job *model.Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *model.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *model.Job) error { return f(ctx, job) }

// Pool polls one queue and dispatches claimed jobs to a handler. Admission
// is gated by a Limiter: a bounded number of jobs in flight and a bounded
// dequeue rate. Job lifecycle transitions are broadcast to the session room.
type Pool struct {
	queueName string
	queue     *queue.Queue
	limiter   *queue.Limiter
	handler   Handler
	hub       websocket.Broadcaster
	poll      time.Duration
}

func NewPool(queueName string, q *queue.Queue, cfg config.PoolConfig, handler Handler, hub websocket.Broadcaster) *Pool {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &Pool{
		queueName: queueName,
		queue:     q,
		limiter:   queue.NewLimiter(cfg.Concurrency, cfg.MaxOpsPerWindow, cfg.Window),
		handler:   handler,
		hub:       hub,
		poll:      poll,
	}
}

// Run polls until the context is cancelled, then waits for in-flight jobs.
func (p *Pool) Run(ctx context.Context) {
	log.Printf("worker pool for queue %s started", p.queueName)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if err := p.limiter.Acquire(ctx); err != nil {
			return
		}

		job, err := p.queue.Dequeue(ctx, p.queueName)
		if err != nil {
			p.limiter.Release()
			if ctx.Err() != nil {
				return
			}
			log.Printf("queue %s: dequeue failed: %v", p.queueName, err)
			if !sleep(ctx, p.poll) {
				return
			}
			continue
		}
		if job == nil {
			p.limiter.Release()
			if !sleep(ctx, p.poll) {
				return
			}
			continue
		}

		wg.Add(1)
		go func(job *model.Job) {
			defer wg.Done()
			defer p.limiter.Release()
			p.process(ctx, job)
		}(job)
	}
}

func (p *Pool) process(ctx context.Context, job *model.Job) {
	room, hasRoom := jobRoom(job)
	if hasRoom {
		_, _ = p.hub.BroadcastToRoom(room, model.NewWireMessage(model.WSEventJobStarted, model.JobEventPayload{
			JobID:     job.ID,
			QueueName: job.QueueName,
			SessionID: room.ID,
		}))
	}

	if err := p.handler.Handle(ctx, job); err != nil {
		log.Printf("queue %s: job %s attempt %d failed: %v", p.queueName, job.ID, job.Attempt, err)
		if failErr := p.queue.Fail(ctx, job, err); failErr != nil {
			log.Printf("queue %s: recording failure of job %s: %v", p.queueName, job.ID, failErr)
		}
		if hasRoom {
			_, _ = p.hub.BroadcastToRoom(room, model.NewWireMessage(model.WSEventJobFailed, model.JobEventPayload{
				JobID:     job.ID,
				QueueName: job.QueueName,
				SessionID: room.ID,
				Error:     err.Error(),
			}))
		}
		return
	}

	if err := p.queue.Ack(ctx, job); err != nil {
		log.Printf("queue %s: ack of job %s: %v", p.queueName, job.ID, err)
	}
	if hasRoom {
		_, _ = p.hub.BroadcastToRoom(room, model.NewWireMessage(model.WSEventJobCompleted, model.JobEventPayload{
			JobID:     job.ID,
			QueueName: job.QueueName,
			SessionID: room.ID,
		}))
	}
}

// jobRoom derives the session room from the payload. Every stage payload
// carries a sessionId; jobs without one are processed silently.
func jobRoom(job *model.Job) (model.Room, bool) {
	var meta struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(job.Payload, &meta); err != nil || meta.SessionID == "" {
		return model.Room{}, false
	}
	return model.Room{Type: model.RoomSession, ID: meta.SessionID}, true
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
