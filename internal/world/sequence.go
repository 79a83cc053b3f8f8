package world

import (
	"errors"
	"fmt"
	"time"

	"github.com/l1jgo/worldtick/internal/core/entity"
	"github.com/l1jgo/worldtick/internal/net/packet"
)

var (
	// ErrSessionTimeout means the client went silent for longer than the
	// session timeout and was disconnected.
	ErrSessionTimeout = errors.New("session timed out")
	// ErrUpdateNotSupported is returned by the update phase of kinds that
	// are not dispatched in parallel.
	ErrUpdateNotSupported = errors.New("update phase not supported for this kind")
)

// Sequence is the three-phase update strategy for one actor kind.
// PreUpdate and PostUpdate run serially on the tick driver; Update runs on
// the update pool, concurrently with other actors' Update.
type Sequence[T entity.Actor] interface {
	PreUpdate(a T) error
	Update(a T) error
	PostUpdate(a T) error
}

// Brain picks a wander step for scripted npcs without a target.
type Brain interface {
	Think(n *Npc) (Direction, bool)
}

// PlayerSequence updates session-backed players.
type PlayerSequence struct{ w *World }

func (s PlayerSequence) PreUpdate(p *Player) error {
	if since := p.session.SinceLastContact(); since > s.w.opts.SessionTimeout {
		p.session.Disconnect()
		return fmt.Errorf("%w after %s", ErrSessionTimeout, since.Truncate(time.Millisecond))
	}
	s.w.provoke(p)
	s.w.walkPlayer(p)
	return nil
}

// Update builds the player's view of its surroundings and buffers it on the
// session. Other players' blocks are fetched through their own locks
// before this player's lock is taken, so two players seeing each other
// cannot deadlock.
func (s PlayerSequence) Update(p *Player) error {
	w := s.w
	self := p.EntityID()

	var (
		players     []entity.ID
		playerBlock [][]byte
		npcs        []entity.ID
		npcBlock    [][]byte
	)
	for _, id := range w.playerGrid.Nearby(p.pos) {
		if id == self {
			continue
		}
		o, ok := w.players.Get(id)
		if !ok || !p.pos.Within(o.pos, ViewDistance) {
			continue
		}
		players = append(players, id)
		playerBlock = append(playerBlock, o.UpdateBlock())
	}
	for _, id := range w.npcGrid.Nearby(p.pos) {
		n, ok := w.npcs.Get(id)
		if !ok || !p.pos.Within(n.pos, ViewDistance) {
			continue
		}
		npcs = append(npcs, id)
		npcBlock = append(npcBlock, n.UpdateBlock())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.commitLocal(players, npcs)

	pw := packet.NewWriterWithOpcode(packet.S_OPCODE_PLAYER_UPDATE)
	pw.WriteBlock(p.updateBlockLocked())
	pw.WriteH(uint16(len(players)))
	for i, id := range players {
		pw.WriteD(int32(id.Index()))
		pw.WriteBlock(playerBlock[i])
	}
	p.session.Send(pw.Bytes())
	pw.Release()

	nw := packet.NewWriterWithOpcode(packet.S_OPCODE_NPC_UPDATE)
	nw.WriteH(uint16(len(npcs)))
	for i, id := range npcs {
		nw.WriteD(int32(id.Index()))
		nw.WriteBlock(npcBlock[i])
	}
	p.session.Send(nw.Bytes())
	nw.Release()
	return nil
}

func (s PlayerSequence) PostUpdate(p *Player) error {
	p.resetTick()
	return nil
}

// NpcSequence updates npcs. Their visible changes reach clients through
// players' updates, so they have no update phase of their own.
type NpcSequence struct{ w *World }

func (s NpcSequence) PreUpdate(n *Npc) error {
	w := s.w
	if !n.target.IsZero() {
		t, ok := w.players.Get(n.target.ID())
		switch {
		case !ok || !n.pos.Within(t.pos, n.chaseRange()):
			n.ClearTarget()
		case n.pos.Distance(t.pos) > 1:
			n.moves.Clear()
			n.moves.Push(n.pos.DirectionTo(t.pos))
		}
	}
	if n.target.IsZero() {
		w.wander(n)
	}
	w.walkNpc(n)
	return nil
}

func (NpcSequence) Update(*Npc) error { return ErrUpdateNotSupported }

func (NpcSequence) PostUpdate(n *Npc) error {
	n.resetTick()
	return nil
}

// provoke lets aggressive npcs near p that have no target pick p.
func (w *World) provoke(p *Player) {
	for _, id := range w.npcGrid.Nearby(p.pos) {
		n, ok := w.npcs.Get(id)
		if !ok || !n.Aggressive() || n.target.Alive() {
			continue
		}
		if p.pos.Within(n.pos, n.aggroRange()) {
			n.SetTarget(w.players.Handle(p))
		}
	}
}

func (w *World) walkPlayer(p *Player) {
	walk, run := p.moves.next()
	if walk == DirNone {
		return
	}
	from := p.pos
	p.pos = p.pos.Step(walk).Step(run)
	p.walkDir, p.runDir = walk, run
	w.playerGrid.Move(p.EntityID(), from, p.pos)
}

func (w *World) walkNpc(n *Npc) {
	walk, _ := n.moves.next()
	if walk == DirNone {
		return
	}
	from := n.pos
	n.pos = n.pos.Step(walk)
	n.walkDir = walk
	w.npcGrid.Move(n.EntityID(), from, n.pos)
}

// wander queues an idle step: scripted npcs ask the brain, the rest walk
// randomly every PassiveSpeed ticks. Steps never leave the wander radius.
func (w *World) wander(n *Npc) {
	if n.moves.Len() > 0 {
		return
	}
	var (
		dir Direction
		ok  bool
	)
	switch {
	case w.brain != nil && n.tmpl.Script != "":
		dir, ok = w.brain.Think(n)
	case n.tmpl.PassiveSpeed > 0 && n.wanderRadius > 0:
		n.idleTicks++
		if n.idleTicks >= int(n.tmpl.PassiveSpeed) {
			n.idleTicks = 0
			dir, ok = Direction(w.rng.Intn(8)), true
		}
	}
	if !ok || !dir.Valid() {
		return
	}
	if n.wanderRadius > 0 && !n.pos.Step(dir).Within(n.home, n.wanderRadius) {
		return
	}
	n.moves.Push(dir)
}
