package handler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/l1jgo/worldtick/internal/net"
	"github.com/l1jgo/worldtick/internal/net/packet"
	"github.com/l1jgo/worldtick/internal/persist"
	"github.com/l1jgo/worldtick/internal/world"
	"go.uber.org/zap"
)

// SnapshotLoader reads a player's last saved state. A nil snapshot with a
// nil error means the player has never been saved.
type SnapshotLoader interface {
	Load(ctx context.Context, key uuid.UUID) (*persist.Snapshot, error)
}

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	World     *world.World
	Online    *Online
	Spawn     world.Position
	Snapshots SnapshotLoader // optional; nil enters every player at Spawn
	LoadLimit time.Duration  // per-login snapshot read; 0 = 2s
	Log       *zap.Logger
}

// Online maps in-world sessions to their players. Tick driver only.
type Online struct {
	bySession map[uint64]*world.Player
}

func NewOnline() *Online {
	return &Online{bySession: make(map[uint64]*world.Player)}
}

func (o *Online) Bind(sessID uint64, p *world.Player) { o.bySession[sessID] = p }
func (o *Online) Player(sessID uint64) *world.Player  { return o.bySession[sessID] }
func (o *Online) Len() int                            { return len(o.bySession) }

// Unbind forgets the session and returns the player it carried, if any.
func (o *Online) Unbind(sessID uint64) *world.Player {
	p := o.bySession[sessID]
	delete(o.bySession, sessID)
	return p
}

// RegisterAll registers all packet handlers into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	reg.Register(packet.C_OPCODE_LOGIN,
		[]packet.SessionState{packet.StateConnected},
		func(sess any, r *packet.Reader) {
			HandleLogin(sess.(*net.Session), r, deps)
		},
	)

	inWorld := []packet.SessionState{packet.StateInWorld}
	reg.Register(packet.C_OPCODE_MOVE, inWorld,
		func(sess any, r *packet.Reader) {
			HandleMove(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_CHAT, inWorld,
		func(sess any, r *packet.Reader) {
			HandleChat(sess.(*net.Session), r, deps)
		},
	)

	// Keepalive carries nothing; the read loop already refreshed contact.
	reg.Register(packet.C_OPCODE_KEEPALIVE,
		[]packet.SessionState{packet.StateConnected, packet.StateInWorld},
		func(any, *packet.Reader) {},
	)
	reg.Register(packet.C_OPCODE_QUIT,
		[]packet.SessionState{packet.StateConnected, packet.StateInWorld},
		func(sess any, r *packet.Reader) {
			HandleQuit(sess.(*net.Session), r, deps)
		},
	)
}
