package event

import "testing"

type ping struct{ n int }

func TestEventsDeliveredNextTick(t *testing.T) {
	b := NewBus()
	var got []int
	Subscribe(b, func(p ping) { got = append(got, p.n) })

	Emit(b, ping{1})
	Emit(b, ping{2})
	if b.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", b.Pending())
	}
	b.DispatchAll()
	if len(got) != 0 {
		t.Fatal("events delivered before swap")
	}

	b.SwapBuffers()
	Emit(b, ping{3}) // belongs to the following tick
	b.DispatchAll()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("delivered %v, want [1 2]", got)
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 3 || got[2] != 3 {
		t.Fatalf("delivered %v, want [1 2 3]", got)
	}
}

func TestHandlersOnlySeeTheirType(t *testing.T) {
	b := NewBus()
	evictions := 0
	Subscribe(b, func(PlayerEvicted) { evictions++ })

	Emit(b, NpcRemoved{Reason: "died"})
	Emit(b, PlayerEvicted{Name: "Zezima", Reason: "timeout"})
	b.SwapBuffers()
	b.DispatchAll()
	if evictions != 1 {
		t.Fatalf("evictions = %d, want 1", evictions)
	}
}
