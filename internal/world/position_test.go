package world

import "testing"

func TestDistanceIsChebyshev(t *testing.T) {
	a := Position{X: 10, Y: 10}
	if d := a.Distance(Position{X: 13, Y: 8}); d != 3 {
		t.Fatalf("distance = %d, want 3", d)
	}
	if d := a.Distance(Position{X: 10, Y: 10, MapID: 4}); d != -1 {
		t.Fatalf("cross-map distance = %d, want -1", d)
	}
	if a.Within(Position{X: 10, Y: 10, MapID: 4}, 100) {
		t.Fatal("positions on different maps are never within range")
	}
}

func TestDirectionToStepsCloser(t *testing.T) {
	from := Position{X: 0, Y: 0}
	for _, to := range []Position{{X: 5, Y: 0}, {X: -3, Y: 4}, {X: 2, Y: -7}, {X: -1, Y: -1}} {
		d := from.DirectionTo(to)
		if !d.Valid() {
			t.Fatalf("no direction from %v to %v", from, to)
		}
		if got := from.Step(d).Distance(to); got != from.Distance(to)-1 {
			t.Fatalf("step %v toward %v leaves distance %d", d, to, got)
		}
	}
	if d := from.DirectionTo(from); d != DirNone {
		t.Fatalf("direction to self = %v, want none", d)
	}
}

func TestMovementQueue(t *testing.T) {
	var q MovementQueue
	if q.Push(DirNone) {
		t.Fatal("invalid direction accepted")
	}
	for i := 0; i < maxQueuedSteps+5; i++ {
		q.Push(DirNorth)
	}
	if q.Len() != maxQueuedSteps {
		t.Fatalf("len = %d, want %d", q.Len(), maxQueuedSteps)
	}
	q.Clear()

	q.Push(DirEast)
	q.Push(DirSouth)
	q.Push(DirWest)
	walk, run := q.next()
	if walk != DirEast || run != DirNone {
		t.Fatalf("walking: got %v/%v", walk, run)
	}
	q.SetRunning(true)
	walk, run = q.next()
	if walk != DirSouth || run != DirWest {
		t.Fatalf("running: got %v/%v", walk, run)
	}
	if walk, _ = q.next(); walk != DirNone {
		t.Fatal("empty queue should yield no step")
	}
}

func TestUpdateFlags(t *testing.T) {
	var f UpdateFlags
	f.Set(FlagChat)
	f.Set(FlagHit)
	if !f.Has(FlagChat) || !f.Has(FlagHit) || f.Has(FlagAppearance) {
		t.Fatalf("flags = %s", f)
	}
	f.Clear(FlagChat)
	if f.Has(FlagChat) {
		t.Fatal("clear failed")
	}
	f.Reset()
	if f.Any() {
		t.Fatal("reset failed")
	}
}

func TestAOIGridNearby(t *testing.T) {
	g := NewAOIGrid(ViewDistance)
	a := Position{X: 10, Y: 10}
	g.Add(1, a)
	g.Add(2, Position{X: 20, Y: 20})
	g.Add(3, Position{X: 200, Y: 200})

	near := g.Nearby(a)
	seen := map[uint64]bool{}
	for _, id := range near {
		seen[uint64(id)] = true
	}
	if !seen[1] || !seen[2] || seen[3] {
		t.Fatalf("nearby = %v", near)
	}

	g.Move(2, Position{X: 20, Y: 20}, Position{X: 300, Y: 300})
	for _, id := range g.Nearby(a) {
		if id == 2 {
			t.Fatal("moved entity still nearby")
		}
	}
	g.Remove(1, a)
	g.Remove(2, Position{X: 300, Y: 300})
	g.Remove(3, Position{X: 200, Y: 200})
	if g.Len() != 0 {
		t.Fatalf("empty cells kept: %d", g.Len())
	}
}
