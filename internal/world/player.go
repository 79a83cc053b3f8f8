package world

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/l1jgo/worldtick/internal/core/entity"
	"github.com/l1jgo/worldtick/internal/net/packet"
	"github.com/l1jgo/worldtick/internal/persist"
	"golang.org/x/text/cases"
)

// playerKeySpace namespaces persistence keys derived from player names.
var playerKeySpace = uuid.MustParse("6f1c2b0e-7d1a-4b8e-9c3f-5a2e4d6b8c10")

// Player is a session-backed actor.
//
// Fields without a note are owned by the tick driver: written during
// pre-update, post-update and between ticks, and only read during the
// update phase. mu guards the update-phase mutation region.
type Player struct {
	entity.Base

	key        uuid.UUID
	name       string
	foldedName string
	session    Session
	loggedInAt time.Time

	pos     Position
	level   int16
	moves   MovementQueue
	walkDir Direction
	runDir  Direction
	flags   UpdateFlags
	chat    string
	forced  string

	mu           sync.Mutex
	cachedBlock  []byte      // guarded by mu
	localPlayers []entity.ID // guarded by mu
	localNpcs    []entity.ID // guarded by mu
}

func NewPlayer(name string, sess Session, pos Position) *Player {
	return &Player{
		key:        PlayerKey(name),
		name:       name,
		foldedName: foldName(name),
		session:    sess,
		loggedInAt: time.Now(),
		pos:        pos,
		level:      1,
		walkDir:    DirNone,
		runDir:     DirNone,
	}
}

// PlayerKey derives the stable persistence key for a player name. Names
// differing only in case share a key.
func PlayerKey(name string) uuid.UUID {
	return uuid.NewSHA1(playerKeySpace, []byte(foldName(name)))
}

func foldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

func (p *Player) Key() uuid.UUID        { return p.key }
func (p *Player) Name() string          { return p.name }
func (p *Player) Session() Session      { return p.session }
func (p *Player) Position() Position    { return p.pos }
func (p *Player) Level() int16          { return p.level }
func (p *Player) Flags() UpdateFlags    { return p.flags }
func (p *Player) Moves() *MovementQueue { return &p.moves }

// Restore places a player that has not been registered yet at its saved
// position and level.
func (p *Player) Restore(pos Position, level int16) {
	p.pos = pos
	if level > 0 {
		p.level = level
	}
}

// SetLevel changes the level and raises the appearance flag.
func (p *Player) SetLevel(lvl int16) {
	p.level = lvl
	p.flags.Set(FlagAppearance)
}

// Say queues public chat for this tick.
func (p *Player) Say(msg string) {
	p.chat = msg
	p.flags.Set(FlagChat)
}

// ForceChat makes the player shout text above its head this tick.
func (p *Player) ForceChat(msg string) {
	p.forced = msg
	p.flags.Set(FlagForcedChat)
}

// Flag raises an update flag without payload (graphics, hits...).
func (p *Player) Flag(f UpdateFlag) { p.flags.Set(f) }

// LocalPlayers returns the players this one saw in its last update.
func (p *Player) LocalPlayers() []entity.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]entity.ID(nil), p.localPlayers...)
}

// LocalNpcs returns the npcs this one saw in its last update.
func (p *Player) LocalNpcs() []entity.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]entity.ID(nil), p.localNpcs...)
}

// UpdateBlock returns this tick's encoded change set, building and caching
// it on first use. Other players' update workers call it concurrently.
func (p *Player) UpdateBlock() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updateBlockLocked()
}

func (p *Player) updateBlockLocked() []byte {
	if p.cachedBlock == nil {
		p.cachedBlock = p.encodeBlock()
	}
	return p.cachedBlock
}

// block layout: [H flags][C walk][C run] then, per raised flag in order,
// its payload.
func (p *Player) encodeBlock() []byte {
	w := packet.NewWriter()
	defer w.Release()
	w.WriteH(uint16(p.flags))
	w.WriteC(byte(p.walkDir))
	w.WriteC(byte(p.runDir))
	if p.flags.Has(FlagAppearance) {
		w.WriteS(p.name)
		w.WriteH(uint16(p.level))
		w.WriteD(p.pos.X)
		w.WriteD(p.pos.Y)
		w.WriteH(uint16(p.pos.MapID))
	}
	if p.flags.Has(FlagChat) {
		w.WriteS(p.chat)
	}
	if p.flags.Has(FlagForcedChat) {
		w.WriteS(p.forced)
	}
	return w.RawBytes()
}

// commitLocal records the visible sets. Called with mu held.
func (p *Player) commitLocal(players, npcs []entity.ID) {
	p.localPlayers = players
	p.localNpcs = npcs
}

// resetTick clears per-tick state after the update phase.
func (p *Player) resetTick() {
	p.flags.Reset()
	p.walkDir, p.runDir = DirNone, DirNone
	p.chat, p.forced = "", ""
	p.mu.Lock()
	p.cachedBlock = nil
	p.mu.Unlock()
	p.session.ResetPacketCount()
}

// Snapshot captures the persistent state. Driver only.
func (p *Player) Snapshot() persist.Snapshot {
	return persist.Snapshot{
		Key:        p.key,
		Kind:       KindPlayer.String(),
		Name:       p.name,
		X:          p.pos.X,
		Y:          p.pos.Y,
		MapID:      p.pos.MapID,
		Level:      p.level,
		LoggedInAt: p.loggedInAt,
		TakenAt:    time.Now(),
	}
}

// PersistJob returns a job that saves the player's current state to store.
// The state is captured now, so the job may run on any goroutine later.
func (p *Player) PersistJob(store persist.Store, timeout time.Duration) func() error {
	snap := p.Snapshot()
	if timeout <= 0 {
		timeout = defaultSaveTimeout
	}
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return store.SaveSnapshot(ctx, snap)
	}
}
