package world

import "github.com/gammazero/deque"

// maxQueuedSteps bounds how far ahead a client may queue walking.
const maxQueuedSteps = 50

// MovementQueue holds pending steps. Each tick the actor walks one step,
// or two when running.
type MovementQueue struct {
	steps   deque.Deque[Direction]
	running bool
}

// Push queues a step; invalid directions and overflow are ignored.
func (q *MovementQueue) Push(d Direction) bool {
	if !d.Valid() || q.steps.Len() >= maxQueuedSteps {
		return false
	}
	q.steps.PushBack(d)
	return true
}

func (q *MovementQueue) SetRunning(r bool) { q.running = r }
func (q *MovementQueue) Running() bool     { return q.running }
func (q *MovementQueue) Len() int          { return q.steps.Len() }
func (q *MovementQueue) Clear()            { q.steps.Clear() }

// next pops the walk step and, when running, the run step.
func (q *MovementQueue) next() (walk, run Direction) {
	walk, run = DirNone, DirNone
	if q.steps.Len() == 0 {
		return
	}
	walk = q.steps.PopFront()
	if q.running && q.steps.Len() > 0 {
		run = q.steps.PopFront()
	}
	return
}
