package entity

import "sync"

// Container is a fixed-capacity slot registry for actors of one kind.
// Each slot is empty or holds exactly one live actor; slots are never
// compacted, and the lowest free slot is always reused first.
//
// Structural changes (Add, Remove) happen on the tick driver. Reads may come
// from any goroutine. Each reads one slot at a time and invokes the visitor
// without holding the lock, so a visitor may remove actors (including the
// one it was handed).
type Container[T Actor] struct {
	mu          sync.RWMutex
	slots       []T
	occupied    []bool
	generations []uint32
	lowestFree  int // no free slot below this index
	highWater   int // no occupied slot at or above this index
	size        int
}

func NewContainer[T Actor](capacity int) *Container[T] {
	if capacity < 0 {
		capacity = 0
	}
	gens := make([]uint32, capacity)
	for i := range gens {
		gens[i] = 1
	}
	return &Container[T]{
		slots:       make([]T, capacity),
		occupied:    make([]bool, capacity),
		generations: gens,
	}
}

// Add places a in the lowest free slot and assigns its ID. It returns false
// when the container is full or a is already registered here.
func (c *Container[T]) Add(a T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.containsLocked(a.EntityID()) {
		return false
	}
	if c.size == len(c.slots) {
		return false
	}
	idx := c.lowestFree
	for idx < len(c.slots) && c.occupied[idx] {
		idx++
	}
	if idx == len(c.slots) {
		return false
	}
	c.slots[idx] = a
	c.occupied[idx] = true
	c.size++
	c.lowestFree = idx + 1
	if idx+1 > c.highWater {
		c.highWater = idx + 1
	}
	a.SetEntityID(NewID(uint32(idx), c.generations[idx]))
	return true
}

// Remove clears a's slot. Removing an actor that is not registered here
// (never added, already removed, or holding a stale ID) is a no-op and
// returns false.
func (c *Container[T]) Remove(a T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := a.EntityID()
	if !c.containsLocked(id) {
		return false
	}
	idx := int(id.Index())
	var zero T
	c.slots[idx] = zero
	c.occupied[idx] = false
	c.size--
	c.generations[idx]++
	if c.generations[idx] == 0 {
		c.generations[idx] = 1
	}
	if idx < c.lowestFree {
		c.lowestFree = idx
	}
	for c.highWater > 0 && !c.occupied[c.highWater-1] {
		c.highWater--
	}
	a.SetEntityID(0)
	return true
}

func (c *Container[T]) containsLocked(id ID) bool {
	if id.IsZero() {
		return false
	}
	idx := int(id.Index())
	return idx < len(c.slots) && c.occupied[idx] && c.generations[idx] == id.Generation()
}

// Alive reports whether id names a currently registered actor.
func (c *Container[T]) Alive(id ID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.containsLocked(id)
}

// Get returns the actor registered under id.
func (c *Container[T]) Get(id ID) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.containsLocked(id) {
		var zero T
		return zero, false
	}
	return c.slots[id.Index()], true
}

// Handle returns a weak reference to a. The handle is dead if a is not
// registered.
func (c *Container[T]) Handle(a T) Handle {
	return NewHandle(a.EntityID(), c)
}

// slot reads a single slot under the read lock.
func (c *Container[T]) slot(i int) (T, bool, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i >= c.highWater {
		var zero T
		return zero, false, c.highWater
	}
	return c.slots[i], c.occupied[i], c.highWater
}

// Each calls fn for every occupied slot in slot order. Slots cleared during
// iteration are skipped if not yet reached.
func (c *Container[T]) Each(fn func(T)) {
	for i := 0; ; i++ {
		a, ok, hw := c.slot(i)
		if i >= hw {
			return
		}
		if ok {
			fn(a)
		}
	}
}

// Search returns the first actor, in slot order, for which pred is true.
func (c *Container[T]) Search(pred func(T) bool) (T, bool) {
	for i := 0; ; i++ {
		a, ok, hw := c.slot(i)
		if i >= hw {
			var zero T
			return zero, false
		}
		if ok && pred(a) {
			return a, true
		}
	}
}

// Snapshot returns the registered actors in slot order.
func (c *Container[T]) Snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, c.size)
	for i := 0; i < c.highWater; i++ {
		if c.occupied[i] {
			out = append(out, c.slots[i])
		}
	}
	return out
}

func (c *Container[T]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

func (c *Container[T]) Capacity() int { return len(c.slots) }
