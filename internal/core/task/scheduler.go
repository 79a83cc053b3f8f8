package task

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Scheduler advances deferred actions once per tick.
//
// Submit may be called from any goroutine; tasks queue until the start of
// the next Tick. Tick, CancelKey and Active belong to the tick driver.
type Scheduler struct {
	log *zap.Logger

	mu      sync.Mutex
	pending []*Task

	active []*Task
	ticks  uint64
	fired  uint64
	failed uint64
}

func NewScheduler(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// Submit validates t and schedules it. The first firing happens on a
// later Tick, never during the current one.
func (s *Scheduler) Submit(t *Task) error {
	if t.body == nil {
		return ErrNilBody
	}
	if t.Period() < 1 {
		return ErrInvalidPeriod
	}
	if !t.state.CompareAndSwap(int32(Pending), int32(Running)) {
		return ErrAlreadySubmitted
	}
	if t.immediate {
		t.counter = 1
	} else {
		t.counter = int32(t.Period())
	}
	s.mu.Lock()
	s.pending = append(s.pending, t)
	s.mu.Unlock()
	return nil
}

// Tick activates newly submitted tasks, fires every task whose countdown
// elapsed, and sweeps tasks that are no longer running.
func (s *Scheduler) Tick() {
	s.ticks++

	s.mu.Lock()
	if len(s.pending) > 0 {
		s.active = append(s.active, s.pending...)
		s.pending = nil
	}
	s.mu.Unlock()

	for _, t := range s.active {
		if !t.IsRunning() {
			continue
		}
		if t.bound && !t.owner.Alive() {
			t.Cancel()
			continue
		}
		t.counter--
		if t.counter > 0 {
			continue
		}
		ok := s.fire(t)
		if !t.IsRunning() {
			continue
		}
		if t.once && ok {
			t.complete()
			continue
		}
		t.counter = int32(t.Period())
	}

	live := s.active[:0]
	for _, t := range s.active {
		if t.IsRunning() {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(s.active); i++ {
		s.active[i] = nil
	}
	s.active = live
}

// fire runs the body and reports whether it succeeded. A failing body is
// logged and keeps its schedule; a one-shot fires again next period.
func (s *Scheduler) fire(t *Task) (ok bool) {
	s.fired++
	defer func() {
		if r := recover(); r != nil {
			ok = false
			s.failed++
			s.log.Error("task panicked",
				zap.String("task", t.name),
				zap.Uint64("tick", s.ticks),
				zap.Error(fmt.Errorf("panic: %v", r)),
				zap.Stack("stack"),
			)
		}
	}()
	if err := t.body(t); err != nil {
		s.failed++
		s.log.Error("task failed",
			zap.String("task", t.name),
			zap.Uint64("tick", s.ticks),
			zap.Error(err),
		)
		return false
	}
	return true
}

// CancelKey cancels every scheduled task attached to key and returns how
// many were cancelled.
func (s *Scheduler) CancelKey(key any) int {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.pending)+len(s.active))
	tasks = append(tasks, s.pending...)
	s.mu.Unlock()
	tasks = append(tasks, s.active...)

	n := 0
	for _, t := range tasks {
		if t.key == key && t.IsRunning() {
			t.Cancel()
			n++
		}
	}
	return n
}

// CancelAll cancels every scheduled task. Used on shutdown so cancel hooks
// get a chance to release what they hold.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	tasks := append(s.pending[:len(s.pending):len(s.pending)], s.active...)
	s.pending = nil
	s.mu.Unlock()
	for _, t := range tasks {
		t.Cancel()
	}
	s.active = nil
}

// Active returns the number of scheduled tasks, including ones submitted
// since the last tick.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) + len(s.active)
}

// Stats is a point-in-time view of scheduler counters.
type Stats struct {
	Ticks  uint64
	Active int
	Fired  uint64
	Failed uint64
}

func (s *Scheduler) Stats() Stats {
	return Stats{Ticks: s.ticks, Active: s.Active(), Fired: s.fired, Failed: s.failed}
}
