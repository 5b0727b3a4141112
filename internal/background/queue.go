// Package background runs best-effort jobs after a successful write: read-back verification and
// integrity checks. Jobs are not durable and are lost on restart.
package background

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultWorkers    = 2
	DefaultBuffer     = 256
	DefaultJobTimeout = 10 * time.Second
)

// Job is one unit of background work.
type Job struct {
	Name string
	// Key coalesces jobs: while a job with the same non-empty key is queued or running, further
	// submissions with that key are folded into it.
	Key string
	Run func(ctx context.Context) error
}

// Config sizes the queue.
type Config struct {
	Workers    int
	Buffer     int
	JobTimeout time.Duration
}

// ErrorFunc receives every job failure, panics included.
type ErrorFunc func(job string, err error)

// Queue is a bounded job channel drained by a fixed worker pool.
type Queue struct {
	cfg     Config
	log     *zap.Logger
	onError ErrorFunc

	jobs chan Job
	sf   singleflight.Group

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
	wg      sync.WaitGroup

	dropped   atomic.Int64
	processed atomic.Int64
}

// New builds a queue. Zero config fields take defaults. A nil onError logs failures.
func New(cfg Config, log *zap.Logger, onError ErrorFunc) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("background")
	if onError == nil {
		onError = func(job string, err error) {
			log.Warn("background job failed", zap.String("job", job), zap.Error(err))
		}
	}
	return &Queue{
		cfg:     cfg,
		log:     log,
		onError: onError,
		jobs:    make(chan Job, cfg.Buffer),
		pending: make(map[string]struct{}),
	}
}

// Start launches the workers. Job contexts derive from ctx.
func (q *Queue) Start(ctx context.Context) {
	q.log.Info("starting background workers", zap.Int("workers", q.cfg.Workers))
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.loop(ctx)
	}
}

// Submit enqueues job without blocking. It returns false when the job was dropped because the
// queue is full or stopped.
func (q *Queue) Submit(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.dropped.Add(1)
		return false
	}
	if job.Key != "" {
		if _, ok := q.pending[job.Key]; ok {
			return true
		}
	}
	select {
	case q.jobs <- job:
		if job.Key != "" {
			q.pending[job.Key] = struct{}{}
		}
		return true
	default:
		q.dropped.Add(1)
		q.log.Warn("background queue full, job dropped", zap.String("job", job.Name))
		return false
	}
}

// Stop refuses new jobs, lets the workers finish what is queued and waits for them.
func (q *Queue) Stop() {
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

// Dropped returns how many jobs were rejected.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Processed returns how many jobs finished, successfully or not.
func (q *Queue) Processed() int64 { return q.processed.Load() }

func (q *Queue) loop(ctx context.Context) {
	defer q.wg.Done()
	for job := range q.jobs {
		q.run(ctx, job)
	}
}

func (q *Queue) run(ctx context.Context, job Job) {
	if job.Key != "" {
		q.mu.Lock()
		delete(q.pending, job.Key)
		q.mu.Unlock()
	}
	defer q.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			q.onError(job.Name, fmt.Errorf("panic: %v", r))
		}
	}()

	jctx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	defer cancel()

	var err error
	if job.Key != "" {
		_, err, _ = q.sf.Do(job.Key, func() (any, error) {
			return nil, job.Run(jctx)
		})
	} else {
		err = job.Run(jctx)
	}
	if err != nil {
		q.onError(job.Name, err)
	}
}
