package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"missionctl/internal/metrics"
	"missionctl/internal/observability"
)

// FailureFunc is told about every failed gateway call after it happens.
type FailureFunc func(ctx context.Context, taskID string, err error)

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	OnFailure FailureFunc
}

// Queue hands task ids to a fixed pool of workers that call the gateway.
// Enqueue never blocks; a full queue drops the id.
type Queue struct {
	gw        Gateway
	jobs      chan string
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Recorder
	onFailure FailureFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewQueue(gw Gateway, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultGatewayTimeout
	}
	if opts.Logger == nil {
		opts.Logger = observability.Logger()
	}
	q := &Queue{
		gw:        gw,
		jobs:      make(chan string, opts.QueueSize),
		timeout:   opts.Timeout,
		logger:    opts.Logger.With("component", "dispatch"),
		metrics:   opts.Metrics,
		onFailure: opts.OnFailure,
	}
	q.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go q.work()
	}
	return q
}

// Enqueue schedules a dispatch and reports whether it was accepted.
func (q *Queue) Enqueue(taskID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("dispatch queue closed", "task_id", taskID)
		q.metrics.ObserveDispatch(metrics.DispatchDropped)
		return false
	}
	select {
	case q.jobs <- taskID:
		return true
	default:
		q.logger.Warn("dispatch queue full, dropping", "task_id", taskID)
		q.metrics.ObserveDispatch(metrics.DispatchDropped)
		return false
	}
}

// Close stops accepting work and waits for queued dispatches to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) work() {
	defer q.wg.Done()
	for taskID := range q.jobs {
		q.deliver(taskID)
	}
}

func (q *Queue) deliver(taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	err := q.gw.DispatchTask(ctx, taskID)
	cancel()
	if err == nil {
		q.logger.Debug("task dispatched", "task_id", taskID)
		q.metrics.ObserveDispatch(metrics.DispatchSuccess)
		return
	}
	q.logger.Warn("task dispatch failed", "task_id", taskID, "error", err.Error())
	q.metrics.ObserveDispatch(metrics.DispatchFailure)
	if q.onFailure != nil {
		q.onFailure(context.Background(), taskID, err)
	}
}
