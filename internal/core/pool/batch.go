package pool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
	"go.uber.org/zap"
)

// ErrBatchConsumed is the panic value when a BatchRunner is used again after
// RunAndWait.
var ErrBatchConsumed = errors.New("pool: batch runner already consumed")

// BatchRunner collects jobs, then runs them all on a private pool and blocks
// until every one has finished. It is single use: the pool is stopped once
// the wait returns.
type BatchRunner struct {
	size int
	log  *zap.Logger

	mu       sync.Mutex
	pending  deque.Deque[func() error]
	barrier  *Barrier
	consumed bool

	failures atomic.Int64
}

// NewBatchRunner returns a runner backed by size workers. size <= 0 uses
// one worker per CPU.
func NewBatchRunner(size int, log *zap.Logger) *BatchRunner {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &BatchRunner{
		size:    size,
		log:     log,
		barrier: NewBarrier(1),
	}
}

// Append queues job. Panics with ErrBatchConsumed after RunAndWait.
func (r *BatchRunner) Append(job func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumed {
		panic(ErrBatchConsumed)
	}
	r.pending.PushBack(job)
	r.barrier.Register()
}

// Len returns the number of queued jobs.
func (r *BatchRunner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.Len()
}

// RunAndWait runs every queued job and returns when all have signalled
// completion, whether they succeeded, failed or panicked.
func (r *BatchRunner) RunAndWait() {
	r.mu.Lock()
	if r.consumed {
		r.mu.Unlock()
		panic(ErrBatchConsumed)
	}
	r.consumed = true
	jobs := make([]func() error, 0, r.pending.Len())
	for r.pending.Len() > 0 {
		jobs = append(jobs, r.pending.PopFront())
	}
	r.mu.Unlock()

	p := Build("BlockingThreadPool", r.size, NormPriority, r.log, WithQueueCapacity(len(jobs)))
	for i, job := range jobs {
		p.Execute(r.wrap(i, job))
	}
	r.barrier.ArriveAndAwaitAdvance()
	p.ShutdownNow()

	if n := r.failures.Load(); n > 0 {
		r.log.Warn("batch finished with failures", zap.Int("jobs", len(jobs)), zap.Int64("failed", n))
	}
}

func (r *BatchRunner) wrap(i int, job func() error) func() {
	return func() {
		defer r.barrier.ArriveAndDeregister()
		defer func() {
			if rec := recover(); rec != nil {
				r.failures.Add(1)
				r.log.Error("batch job panicked", zap.Int("job", i), zap.Error(fmt.Errorf("panic: %v", rec)))
			}
		}()
		if err := job(); err != nil {
			r.failures.Add(1)
			r.log.Error("batch job failed", zap.Int("job", i), zap.Error(err))
		}
	}
}

// Failures returns how many jobs returned an error or panicked.
func (r *BatchRunner) Failures() int {
	return int(r.failures.Load())
}
