package world

// Kind tags the closed set of actor kinds the tick knows how to update.
type Kind int

const (
	KindPlayer Kind = iota // primary, session backed
	KindNpc                // secondary, driven by players' updates
)

func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindNpc:
		return "npc"
	}
	return "unknown"
}

// Parallel reports whether the kind's update phase is dispatched to the
// update pool. Npcs are observed through players' updates and have no
// update of their own.
func (k Kind) Parallel() bool {
	return k == KindPlayer
}
