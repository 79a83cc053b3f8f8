package task

import (
	"errors"
	"sync/atomic"

	"github.com/l1jgo/worldtick/internal/core/entity"
)

var (
	ErrInvalidPeriod    = errors.New("task: period must be at least one tick")
	ErrAlreadySubmitted = errors.New("task: already submitted or cancelled")
	ErrNilBody          = errors.New("task: nil body")
)

// State is the lifecycle position of a Task.
type State int32

const (
	Pending   State = iota // built, not yet submitted
	Running                // submitted; fires every period
	Cancelled              // never fires again
	Completed              // one-shot task that has fired
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Cancelled:
		return "cancelled"
	case Completed:
		return "completed"
	}
	return "unknown"
}

// Task is a deferred action advanced by a Scheduler once per tick.
//
// The body receives the task itself so it can cancel or re-period it.
// Cancel and SetPeriod are safe from any goroutine; everything else is
// configured before Submit.
type Task struct {
	name      string
	period    atomic.Int32
	immediate bool
	once      bool
	body      func(*Task) error
	onCancel  func(*Task)
	owner     entity.Handle
	bound     bool
	key       any

	state   atomic.Int32
	counter int32 // scheduler goroutine only
}

// New returns a repeating task that fires every period ticks. An immediate
// task fires on the first tick after submission.
func New(period int, immediate bool, body func(*Task) error) *Task {
	t := &Task{immediate: immediate, body: body}
	t.period.Store(int32(period))
	return t
}

// Once returns a task that fires a single time, delay ticks after submission.
func Once(delay int, body func(*Task) error) *Task {
	t := New(delay, false, body)
	t.once = true
	return t
}

// Until returns an immediate listener task that checks done every period
// ticks, cancelling itself once done reports true and calling run otherwise.
func Until(period int, done func() bool, run func()) *Task {
	return New(period, true, func(t *Task) error {
		if done() {
			t.Cancel()
			return nil
		}
		run()
		return nil
	})
}

func (t *Task) Named(name string) *Task { t.name = name; return t }

// OnCancel sets a hook that runs exactly once, on the goroutine that
// cancels the task. It never runs for a task that completed normally.
func (t *Task) OnCancel(fn func(*Task)) *Task { t.onCancel = fn; return t }

// Bind ties the task to an actor. The scheduler cancels the task at the
// next tick on which the actor is no longer registered.
func (t *Task) Bind(owner entity.Handle) *Task {
	t.owner = owner
	t.bound = true
	return t
}

// Attach tags the task with key so a group can be cancelled with
// Scheduler.CancelKey.
func (t *Task) Attach(key any) *Task { t.key = key; return t }

func (t *Task) Name() string          { return t.name }
func (t *Task) Owner() entity.Handle  { return t.owner }
func (t *Task) Key() any              { return t.key }
func (t *Task) Immediate() bool       { return t.immediate }
func (t *Task) Period() int           { return int(t.period.Load()) }
func (t *Task) State() State          { return State(t.state.Load()) }
func (t *Task) IsRunning() bool       { return t.State() == Running }
func (t *Task) SetPeriod(n int) error { return t.setPeriod(n) }

func (t *Task) setPeriod(n int) error {
	if n < 1 {
		return ErrInvalidPeriod
	}
	t.period.Store(int32(n))
	return nil
}

// Cancel stops the task. Cancelling twice, or cancelling a completed task,
// is a no-op; the cancel hook runs at most once.
func (t *Task) Cancel() {
	for {
		s := t.state.Load()
		if State(s) == Cancelled || State(s) == Completed {
			return
		}
		if t.state.CompareAndSwap(s, int32(Cancelled)) {
			break
		}
	}
	if t.onCancel != nil {
		t.onCancel(t)
	}
}

func (t *Task) complete() bool {
	return t.state.CompareAndSwap(int32(Running), int32(Completed))
}
