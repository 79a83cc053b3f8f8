package world

import (
	"github.com/l1jgo/worldtick/internal/core/entity"
	"github.com/l1jgo/worldtick/internal/data"
	"github.com/l1jgo/worldtick/internal/net/packet"
)

// Npc is a secondary actor. All of its state is owned by the tick driver;
// during the update phase players only read it.
type Npc struct {
	entity.Base

	tmpl         *data.NpcTemplate
	home         Position
	wanderRadius int32
	respawnTicks int

	pos       Position
	moves     MovementQueue
	walkDir   Direction
	flags     UpdateFlags
	target    entity.Handle
	idleTicks int
}

// NewNpc creates an npc of template tmpl standing at home. wanderRadius
// bounds random walking around home; respawnTicks is the delay after
// death, or 0 for no respawn.
func NewNpc(tmpl *data.NpcTemplate, home Position, wanderRadius int32, respawnTicks int) *Npc {
	return &Npc{
		tmpl:         tmpl,
		home:         home,
		pos:          home,
		wanderRadius: wanderRadius,
		respawnTicks: respawnTicks,
		walkDir:      DirNone,
	}
}

func (n *Npc) Template() *data.NpcTemplate { return n.tmpl }
func (n *Npc) TemplateID() int32           { return n.tmpl.NpcID }
func (n *Npc) Name() string                { return n.tmpl.Name }
func (n *Npc) Home() Position              { return n.home }
func (n *Npc) Position() Position          { return n.pos }
func (n *Npc) WanderRadius() int32         { return n.wanderRadius }
func (n *Npc) Target() entity.Handle       { return n.target }
func (n *Npc) Flags() UpdateFlags          { return n.flags }
func (n *Npc) Moves() *MovementQueue       { return &n.moves }
func (n *Npc) Aggressive() bool            { return n.tmpl.Agro }

// SetTarget makes the npc chase the player behind h.
func (n *Npc) SetTarget(h entity.Handle) {
	n.target = h
	n.flags.Set(FlagFaceEntity)
}

func (n *Npc) ClearTarget() {
	n.target = entity.Handle{}
	n.moves.Clear()
}

// Flag raises an update flag without payload.
func (n *Npc) Flag(f UpdateFlag) { n.flags.Set(f) }

func (n *Npc) aggroRange() int32 {
	if n.tmpl.AgroRange > 0 {
		return n.tmpl.AgroRange
	}
	return DefaultAggroRange
}

func (n *Npc) chaseRange() int32 {
	if n.tmpl.ChaseRange > 0 {
		return n.tmpl.ChaseRange
	}
	return DefaultChaseRange
}

// UpdateBlock encodes the npc's change set. Npcs have no lock and no cache:
// the block is rebuilt for every observer from state that is stable during
// the update phase.
func (n *Npc) UpdateBlock() []byte {
	w := packet.NewWriter()
	defer w.Release()
	w.WriteH(uint16(n.flags))
	w.WriteC(byte(n.walkDir))
	if n.flags.Has(FlagAppearance) {
		w.WriteD(n.tmpl.NpcID)
		w.WriteD(n.pos.X)
		w.WriteD(n.pos.Y)
	}
	if n.flags.Has(FlagFaceEntity) {
		w.WriteD(int32(n.target.ID().Index()))
	}
	return w.RawBytes()
}

func (n *Npc) resetTick() {
	n.flags.Reset()
	n.walkDir = DirNone
}
