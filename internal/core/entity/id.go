package entity

import "fmt"

// ID encodes a 32-bit slot index in the lower bits and a 32-bit generation
// in the upper bits. Generations start at 1, so the zero ID never names a
// live actor. The generation increments when a slot is released, which
// invalidates every stale reference to the previous occupant.
type ID uint64

func NewID(index uint32, generation uint32) ID {
	return ID(uint64(generation)<<32 | uint64(index))
}

func (id ID) Index() uint32      { return uint32(id) }
func (id ID) Generation() uint32 { return uint32(id >> 32) }
func (id ID) IsZero() bool       { return id == 0 }

func (id ID) String() string {
	if id.IsZero() {
		return "entity(-)"
	}
	return fmt.Sprintf("entity(%d#%d)", id.Index(), id.Generation())
}
