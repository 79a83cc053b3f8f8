package pool

import (
	"context"
	"sync"
)

// Barrier is a reusable phase barrier with a dynamic party count.
//
// Parties register before a phase; the phase advances when every registered
// party has arrived. ArriveAndDeregister lets a party leave without waiting,
// which is how one-shot units of work signal completion to a waiting
// coordinator.
type Barrier struct {
	mu      sync.Mutex
	parties int
	arrived int
	phase   int
	advance chan struct{}
}

func NewBarrier(parties int) *Barrier {
	if parties < 0 {
		parties = 0
	}
	return &Barrier{parties: parties, advance: make(chan struct{})}
}

// Register adds one party to the current phase.
func (b *Barrier) Register() int { return b.BulkRegister(1) }

// BulkRegister adds n parties and returns the current phase.
func (b *Barrier) BulkRegister(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > 0 {
		b.parties += n
	}
	return b.phase
}

// Arrive records one arrival without waiting and returns the arrival phase.
func (b *Barrier) Arrive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustHaveParties("arrive")
	phase := b.phase
	b.arrived++
	b.tryAdvanceLocked()
	return phase
}

// ArriveAndDeregister records one arrival and removes that party for
// subsequent phases.
func (b *Barrier) ArriveAndDeregister() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustHaveParties("deregister")
	phase := b.phase
	b.parties--
	b.tryAdvanceLocked()
	return phase
}

// ArriveAndAwaitAdvance arrives and blocks until the phase advances.
// There is no timeout: the wait ends only when every party has arrived.
func (b *Barrier) ArriveAndAwaitAdvance() int {
	phase := b.Arrive()
	<-b.Done(phase)
	return phase + 1
}

// AwaitAdvance blocks until phase has advanced or ctx is done.
func (b *Barrier) AwaitAdvance(ctx context.Context, phase int) error {
	select {
	case <-b.Done(phase):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed once phase has advanced.
func (b *Barrier) Done(phase int) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if phase < b.phase {
		return closedCh
	}
	return b.advance
}

func (b *Barrier) Phase() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// Parties returns the number of registered parties.
func (b *Barrier) Parties() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parties
}

// Unarrived returns how many registered parties have not arrived yet.
func (b *Barrier) Unarrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parties - b.arrived
}

func (b *Barrier) mustHaveParties(op string) {
	if b.parties-b.arrived <= 0 {
		panic("pool: barrier " + op + " with no unarrived parties")
	}
}

func (b *Barrier) tryAdvanceLocked() {
	if b.arrived < b.parties {
		return
	}
	b.phase++
	b.arrived = 0
	close(b.advance)
	b.advance = make(chan struct{})
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
