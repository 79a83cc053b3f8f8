package system

import "time"

const phaseCount = int(PhaseCleanup) + 1

// Runner holds systems bucketed by phase. Systems sharing a phase run in
// registration order.
type Runner struct {
	byPhase [phaseCount][]System
	n       int
}

func NewRunner() *Runner {
	return &Runner{}
}

// Register adds s to its phase bucket. It panics on a phase outside the
// known range, which is a programming error.
func (r *Runner) Register(s System) {
	p := s.Phase()
	if p < 0 || int(p) >= phaseCount {
		panic("system: unknown phase " + p.String())
	}
	r.byPhase[p] = append(r.byPhase[p], s)
	r.n++
}

// Tick runs every system, phase by phase.
func (r *Runner) Tick(dt time.Duration) {
	for p := range r.byPhase {
		r.TickPhase(Phase(p), dt)
	}
}

// TickPhase runs only the systems registered for phase. The world tick
// interleaves these calls with the actor update sequence.
func (r *Runner) TickPhase(phase Phase, dt time.Duration) {
	if phase < 0 || int(phase) >= phaseCount {
		return
	}
	for _, s := range r.byPhase[phase] {
		s.Update(dt)
	}
}

// Len returns the number of registered systems.
func (r *Runner) Len() int { return r.n }

// PhaseLen returns the number of systems registered for phase.
func (r *Runner) PhaseLen(phase Phase) int {
	if phase < 0 || int(phase) >= phaseCount {
		return 0
	}
	return len(r.byPhase[phase])
}
