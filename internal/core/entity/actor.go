package entity

import "sync/atomic"

// Actor is anything a Container can hold. The container assigns the ID on
// Add and clears it on Remove.
type Actor interface {
	EntityID() ID
	SetEntityID(ID)
}

// Base implements Actor. Embed it in concrete actor types.
// The ID is read by update workers while the driver owns the slot, so it is
// stored atomically.
type Base struct {
	id atomic.Uint64
}

func (b *Base) EntityID() ID      { return ID(b.id.Load()) }
func (b *Base) SetEntityID(id ID) { b.id.Store(uint64(id)) }

// Registered reports whether the actor currently occupies a slot.
func (b *Base) Registered() bool { return b.id.Load() != 0 }

// Liveness answers whether an ID still names a live actor.
type Liveness interface {
	Alive(id ID) bool
}

// Handle is a weak reference to an actor: it never keeps the actor
// registered and goes dead as soon as the slot is released or reused.
type Handle struct {
	id  ID
	src Liveness
}

func NewHandle(id ID, src Liveness) Handle {
	return Handle{id: id, src: src}
}

func (h Handle) ID() ID       { return h.id }
func (h Handle) IsZero() bool { return h.src == nil || h.id.IsZero() }

// Alive reports whether the referenced actor is still registered.
func (h Handle) Alive() bool {
	if h.IsZero() {
		return false
	}
	return h.src.Alive(h.id)
}
