package system

import (
	"fmt"
	"time"

	coresys "github.com/l1jgo/worldtick/internal/core/system"
	"github.com/l1jgo/worldtick/internal/handler"
	"github.com/l1jgo/worldtick/internal/net"
	"github.com/l1jgo/worldtick/internal/world"
	"go.uber.org/zap"
)

// CleanupSystem forgets closed sessions at tick end and evicts the player
// each one carried. Players the world already evicted are skipped by the
// world itself. Phase 6 (Cleanup).
type CleanupSystem struct {
	store  *net.SessionStore
	online *handler.Online
	world  *world.World
	log    *zap.Logger
}

func NewCleanupSystem(store *net.SessionStore, online *handler.Online, w *world.World, log *zap.Logger) *CleanupSystem {
	return &CleanupSystem{store: store, online: online, world: w, log: log}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	var closed []uint64
	s.store.ForEach(func(sess *net.Session) {
		if sess.IsClosed() {
			closed = append(closed, sess.ID)
		}
	})
	for _, id := range closed {
		s.store.Remove(id)
		if p := s.online.Unbind(id); p != nil {
			s.world.EvictPlayer(p, "disconnected")
		}
		s.log.Info(fmt.Sprintf("連線關閉  session=%d", id))
	}
}
