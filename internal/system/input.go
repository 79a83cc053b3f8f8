package system

import (
	"time"

	coresys "github.com/l1jgo/worldtick/internal/core/system"
	"github.com/l1jgo/worldtick/internal/net"
	"github.com/l1jgo/worldtick/internal/net/packet"
	"go.uber.org/zap"
)

// InputSystem admits newly accepted sessions and drains each session's
// packet queue through the packet registry, within the session's per-tick
// budget. Phase 0 (Input).
type InputSystem struct {
	incoming <-chan *net.Session
	registry *packet.Registry
	store    *net.SessionStore
	log      *zap.Logger
}

func NewInputSystem(incoming <-chan *net.Session, registry *packet.Registry, store *net.SessionStore, log *zap.Logger) *InputSystem {
	return &InputSystem{
		incoming: incoming,
		registry: registry,
		store:    store,
		log:      log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	// Accept new sessions
accept:
	for {
		select {
		case sess := <-s.incoming:
			s.store.Add(sess)
		default:
			break accept
		}
	}

	s.store.ForEach(func(sess *net.Session) {
		if sess.IsClosed() {
			return
		}
		// In-world budgets are restored by the player's post-update.
		if sess.State() != packet.StateInWorld {
			sess.ResetPacketCount()
		}
		for sess.TakePacket() {
			select {
			case data := <-sess.InQueue:
				if err := s.registry.Dispatch(sess, sess.State(), data); err != nil {
					s.log.Debug("封包分派錯誤",
						zap.Uint64("session", sess.ID),
						zap.Error(err),
					)
				}
			default:
				return
			}
		}
	})
}
