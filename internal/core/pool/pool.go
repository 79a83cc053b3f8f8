package pool

import (
	"context"
	"runtime/pprof"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Priority is a scheduling hint for pool workers, 1 (lowest) to 10 (highest).
type Priority int

const (
	MinPriority  Priority = 1
	NormPriority Priority = 5
	MaxPriority  Priority = 10
)

const (
	// DefaultKeepAlive is how long an idle worker waits for work before exiting.
	DefaultKeepAlive = 2 * time.Minute
	// DefaultQueueCapacity bounds jobs waiting for a free worker.
	DefaultQueueCapacity = 1024
)

const (
	stateRunning int32 = iota
	stateShutdown
	stateStopped
)

// Option customizes a pool built by Build.
type Option func(*Pool)

func WithQueueCapacity(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.queueCap = n
		}
	}
}

func WithKeepAlive(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.keepAlive = d
		}
	}
}

// Pool is a fixed-size, lazily started worker pool.
//
// Workers are started one per submission until size workers exist, and an
// idle worker exits after the keep-alive elapses, so a quiet pool holds no
// goroutines. When every worker is busy and the queue is full, the job runs
// on the submitting goroutine. Once the pool is shut down, new jobs are
// discarded. Both overflow outcomes are logged, rate-limited.
type Pool struct {
	name      string
	size      int
	priority  Priority
	keepAlive time.Duration
	queueCap  int
	log       *zap.Logger
	advisory  *rate.Limiter

	jobs chan func()
	stop chan struct{}

	mu         sync.Mutex
	state      int32
	workers    int
	nextWorker int
	wg         sync.WaitGroup

	terminated chan struct{}
	termOnce   sync.Once

	submitted  atomic.Uint64
	completed  atomic.Uint64
	callerRuns atomic.Uint64
	discarded  atomic.Uint64
	suppressed atomic.Uint64
}

// Build creates a pool named name with at most size workers running at
// priority. No worker is started until the first job arrives.
func Build(name string, size int, priority Priority, log *zap.Logger, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	if priority < MinPriority || priority > MaxPriority {
		priority = NormPriority
	}
	p := &Pool{
		name:       name,
		size:       size,
		priority:   priority,
		keepAlive:  DefaultKeepAlive,
		queueCap:   DefaultQueueCapacity,
		log:        log.With(zap.String("pool", name)),
		advisory:   rate.NewLimiter(rate.Every(time.Second), 5),
		stop:       make(chan struct{}),
		terminated: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.jobs = make(chan func(), p.queueCap)
	return p
}

func (p *Pool) Name() string { return p.name }
func (p *Pool) Size() int    { return p.size }

// Execute submits job. It never blocks on a full queue and never returns an
// error: overflow runs job on the caller, and a shut down pool discards it.
func (p *Pool) Execute(job func()) {
	p.submitted.Add(1)

	p.mu.Lock()
	if p.state != stateRunning {
		p.mu.Unlock()
		p.discarded.Add(1)
		p.advise("task discarded by pool")
		return
	}
	if p.workers < p.size {
		p.workers++
		id := p.nextWorker
		p.nextWorker++
		p.wg.Add(1)
		p.mu.Unlock()
		go p.worker(id, job)
		return
	}
	select {
	case p.jobs <- job:
		p.mu.Unlock()
		return
	default:
	}
	p.mu.Unlock()

	p.callerRuns.Add(1)
	p.advise("task executed on calling goroutine")
	p.run(job)
}

func (p *Pool) advise(msg string) {
	if !p.advisory.Allow() {
		n := p.suppressed.Add(1)
		p.log.Debug("pool advisory suppressed", zap.String("advisory", msg), zap.Uint64("suppressed", n))
		return
	}
	p.log.Warn(msg,
		zap.Int("size", p.size),
		zap.Int("queue", len(p.jobs)),
	)
}

func (p *Pool) worker(id int, first func()) {
	defer p.wg.Done()

	labels := pprof.Labels("pool", p.name, "worker", strconv.Itoa(id))
	pprof.Do(context.Background(), labels, func(context.Context) {
		applyPriority(p.priority, p.log)

		p.run(first)

		idle := time.NewTimer(p.keepAlive)
		defer idle.Stop()
		for {
			select {
			case job := <-p.jobs:
				p.run(job)
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(p.keepAlive)
			case <-p.stop:
				p.drain()
				p.retire()
				return
			case <-idle.C:
				if p.tryRetire() {
					return
				}
				idle.Reset(p.keepAlive)
			}
		}
	})
}

// drain runs whatever is still queued after Shutdown.
func (p *Pool) drain() {
	for {
		select {
		case job := <-p.jobs:
			p.run(job)
		default:
			return
		}
	}
}

// tryRetire lets an idle worker exit unless work arrived in the meantime.
// Enqueueing happens under the same mutex, so a job is never stranded.
func (p *Pool) tryRetire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.jobs) > 0 {
		return false
	}
	p.workers--
	p.log.Debug("idle worker exited", zap.Int("workers", p.workers))
	return true
}

func (p *Pool) retire() {
	p.mu.Lock()
	p.workers--
	p.mu.Unlock()
}

func (p *Pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pool job panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		p.completed.Add(1)
	}()
	job()
}

// Shutdown stops accepting jobs. Queued jobs still run.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateRunning {
		return
	}
	p.state = stateShutdown
	close(p.stop)
	p.watchTermination()
}

// ShutdownNow stops accepting jobs and returns the ones still queued, which
// will not run. Jobs already executing are left to finish.
func (p *Pool) ShutdownNow() []func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	var dropped []func()
	for {
		select {
		case job := <-p.jobs:
			dropped = append(dropped, job)
			continue
		default:
		}
		break
	}
	if p.state == stateRunning {
		close(p.stop)
		p.watchTermination()
	}
	p.state = stateStopped
	return dropped
}

// watchTermination must be called with mu held, after the state left
// running, so no further wg.Add can race the Wait.
func (p *Pool) watchTermination() {
	p.termOnce.Do(func() {
		go func() {
			p.wg.Wait()
			close(p.terminated)
		}()
	})
}

// AwaitTermination blocks until every worker has exited after a shutdown,
// or ctx is done.
func (p *Pool) AwaitTermination(ctx context.Context) error {
	select {
	case <-p.terminated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShutdown reports whether Shutdown or ShutdownNow was called.
func (p *Pool) IsShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != stateRunning
}

// Stats is a point-in-time view of pool counters.
type Stats struct {
	Workers    int
	Queued     int
	Submitted  uint64
	Completed  uint64
	CallerRuns uint64
	Discarded  uint64
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()
	return Stats{
		Workers:    workers,
		Queued:     len(p.jobs),
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		CallerRuns: p.callerRuns.Load(),
		Discarded:  p.discarded.Load(),
	}
}
