package pool

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBatchRunnerWaitsForAllJobs(t *testing.T) {
	r := NewBatchRunner(4, zap.NewNop())
	var done atomic.Int32
	for i := 0; i < 50; i++ {
		r.Append(func() error {
			time.Sleep(time.Millisecond)
			done.Add(1)
			return nil
		})
	}
	if r.Len() != 50 {
		t.Fatalf("pending = %d, want 50", r.Len())
	}
	r.RunAndWait()
	if done.Load() != 50 {
		t.Fatalf("completed %d jobs before return, want 50", done.Load())
	}
	if r.Failures() != 0 {
		t.Fatalf("failures = %d, want 0", r.Failures())
	}
}

func TestBatchRunnerCountsFailuresAndPanics(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r := NewBatchRunner(2, zap.New(core))
	var ok atomic.Int32
	r.Append(func() error { return errors.New("disk full") })
	r.Append(func() error { panic("corrupt state") })
	for i := 0; i < 3; i++ {
		r.Append(func() error { ok.Add(1); return nil })
	}
	r.RunAndWait()

	if ok.Load() != 3 {
		t.Fatalf("healthy jobs = %d, want 3", ok.Load())
	}
	if r.Failures() != 2 {
		t.Fatalf("failures = %d, want 2", r.Failures())
	}
	if logs.FilterMessage("batch job failed").Len() != 1 || logs.FilterMessage("batch job panicked").Len() != 1 {
		t.Fatalf("unexpected logs: %v", logs.All())
	}
}

func TestBatchRunnerEmpty(t *testing.T) {
	r := NewBatchRunner(0, zap.NewNop())
	finished := make(chan struct{})
	go func() {
		r.RunAndWait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("empty batch did not return")
	}
}

func TestBatchRunnerSingleUse(t *testing.T) {
	r := NewBatchRunner(1, zap.NewNop())
	r.RunAndWait()

	assertPanics(t, "Append", func() { r.Append(func() error { return nil }) })
	assertPanics(t, "RunAndWait", r.RunAndWait)
}

func assertPanics(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatalf("%s after RunAndWait did not panic", name)
		}
		if err, ok := rec.(error); !ok || !errors.Is(err, ErrBatchConsumed) {
			t.Fatalf("%s panicked with %v, want ErrBatchConsumed", name, rec)
		}
	}()
	fn()
}
