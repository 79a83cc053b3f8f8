package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := Build("Update-Thread", 4, NormPriority, zap.NewNop())

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Execute(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()

	if got := peak.Load(); got > 4 {
		t.Fatalf("peak concurrency = %d, want <= 4", got)
	}
	if s := p.Stats(); s.Workers > 4 {
		t.Fatalf("workers = %d, want <= 4", s.Workers)
	}
	p.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.AwaitTermination(ctx); err != nil {
		t.Fatalf("await termination: %v", err)
	}
}

func TestPoolStartsWorkersLazily(t *testing.T) {
	p := Build("lazy", 8, NormPriority, zap.NewNop())
	if s := p.Stats(); s.Workers != 0 {
		t.Fatalf("workers before first job = %d, want 0", s.Workers)
	}
	done := make(chan struct{})
	p.Execute(func() { close(done) })
	<-done
	if s := p.Stats(); s.Workers != 1 {
		t.Fatalf("workers after one job = %d, want 1", s.Workers)
	}
	p.ShutdownNow()
}

func TestPoolIdleWorkersExit(t *testing.T) {
	p := Build("idle", 2, NormPriority, zap.NewNop(), WithKeepAlive(20*time.Millisecond))
	var wg sync.WaitGroup
	wg.Add(2)
	p.Execute(wg.Done)
	p.Execute(wg.Done)
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Workers != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("workers still alive after keep-alive: %d", p.Stats().Workers)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// the pool keeps working after every worker retired
	done := make(chan struct{})
	p.Execute(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job not run after workers retired")
	}
	p.Shutdown()
}

func TestPoolOverflowRunsOnCaller(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := Build("tiny", 1, NormPriority, zap.New(core), WithQueueCapacity(1))

	release := make(chan struct{})
	started := make(chan struct{})
	p.Execute(func() { close(started); <-release }) // occupies the only worker
	<-started
	p.Execute(func() {}) // fills the queue

	var ranOnCaller bool
	p.Execute(func() { ranOnCaller = true })
	if !ranOnCaller {
		t.Fatal("overflow job should run synchronously on the caller")
	}
	close(release)

	if s := p.Stats(); s.CallerRuns != 1 {
		t.Fatalf("caller runs = %d, want 1", s.CallerRuns)
	}
	if logs.FilterMessage("task executed on calling goroutine").Len() != 1 {
		t.Fatalf("expected caller-runs advisory, got %v", logs.All())
	}
	p.Shutdown()
}

func TestPoolDiscardsAfterShutdown(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := Build("closed", 2, NormPriority, zap.New(core))
	p.Shutdown()

	var ran atomic.Bool
	p.Execute(func() { ran.Store(true) })
	time.Sleep(10 * time.Millisecond)
	if ran.Load() {
		t.Fatal("job submitted after shutdown must not run")
	}
	if s := p.Stats(); s.Discarded != 1 {
		t.Fatalf("discarded = %d, want 1", s.Discarded)
	}
	if logs.FilterMessage("task discarded by pool").Len() != 1 {
		t.Fatalf("expected discard advisory, got %v", logs.All())
	}
}

func TestPoolShutdownDrainsQueue(t *testing.T) {
	p := Build("drain", 1, NormPriority, zap.NewNop())
	release := make(chan struct{})
	p.Execute(func() { <-release })

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		p.Execute(func() { count.Add(1) })
	}
	p.Shutdown()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.AwaitTermination(ctx); err != nil {
		t.Fatalf("await termination: %v", err)
	}
	if count.Load() != 5 {
		t.Fatalf("drained %d jobs, want 5", count.Load())
	}
}

func TestPoolShutdownNowReturnsQueued(t *testing.T) {
	p := Build("now", 1, NormPriority, zap.NewNop())
	release := make(chan struct{})
	started := make(chan struct{})
	p.Execute(func() { close(started); <-release })
	<-started

	for i := 0; i < 3; i++ {
		p.Execute(func() {})
	}
	dropped := p.ShutdownNow()
	close(release)
	if len(dropped) != 3 {
		t.Fatalf("dropped = %d, want 3", len(dropped))
	}
}

func TestPoolSurvivesPanics(t *testing.T) {
	p := Build("panics", 1, NormPriority, zap.NewNop())
	p.Execute(func() { panic("boom") })

	done := make(chan struct{})
	p.Execute(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking job")
	}
	p.Shutdown()
}
