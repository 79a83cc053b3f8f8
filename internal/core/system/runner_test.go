package system

import (
	"testing"
	"time"
)

type recorder struct {
	phase Phase
	name  string
	log   *[]string
}

func (r recorder) Phase() Phase         { return r.phase }
func (r recorder) Update(time.Duration) { *r.log = append(*r.log, r.name) }

func TestRunnerOrdersByPhaseStable(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(recorder{PhasePersist, "autosave", &log})
	r.Register(recorder{PhaseInput, "intake", &log})
	r.Register(recorder{PhaseInput, "reload", &log})
	r.Register(recorder{PhaseCleanup, "sweep", &log})

	r.Tick(time.Millisecond)
	want := []string{"intake", "reload", "autosave", "sweep"}
	if len(log) != len(want) {
		t.Fatalf("ran %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("ran %v, want %v", log, want)
		}
	}
}

func TestRunnerTickPhase(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(recorder{PhaseInput, "intake", &log})
	r.Register(recorder{PhasePersist, "autosave", &log})

	r.TickPhase(PhasePersist, time.Millisecond)
	if len(log) != 1 || log[0] != "autosave" {
		t.Fatalf("ran %v, want [autosave]", log)
	}
	if PhasePersist.String() != "persist" {
		t.Fatalf("phase name = %q", PhasePersist.String())
	}
}

func TestRunnerRejectsUnknownPhase(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(recorder{PhaseOutput, "flush", &log})
	if r.Len() != 1 || r.PhaseLen(PhaseOutput) != 1 || r.PhaseLen(PhaseInput) != 0 {
		t.Fatalf("len = %d", r.Len())
	}
	defer func() {
		if recover() == nil {
			t.Fatal("unknown phase registered")
		}
	}()
	r.Register(recorder{Phase(42), "stray", &log})
}
