package system

import "time"

// Phase orders auxiliary systems around the actor update sequence.
type Phase int

const (
	PhaseInput      Phase = iota // 0: session intake, script reload
	PhasePreUpdate               // 1: after deferred actions, before actor pre-update
	PhaseUpdate                  // 2: after pre-update, before parallel dispatch
	PhasePostUpdate              // 3: after actor post-update
	PhaseOutput                  // 4: flush session output
	PhasePersist                 // 5: autosave
	PhaseCleanup                 // 6: end-of-tick housekeeping
)

var phaseNames = [...]string{"input", "pre-update", "update", "post-update", "output", "persist", "cleanup"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// System is work the tick driver runs once per tick at a fixed phase.
// Systems run on the driver goroutine and may touch registries freely.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
