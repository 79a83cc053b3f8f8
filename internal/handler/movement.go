package handler

import (
	"github.com/l1jgo/worldtick/internal/net"
	"github.com/l1jgo/worldtick/internal/net/packet"
	"github.com/l1jgo/worldtick/internal/world"
)

// HandleMove processes C_MOVE: [C heading 0-7][C running]. The step is
// queued; the player's pre-update walks it.
func HandleMove(sess *net.Session, r *packet.Reader, deps *Deps) {
	heading := world.Direction(r.ReadC())
	running := r.ReadC() != 0
	if !heading.Valid() {
		return
	}
	player := deps.Online.Player(sess.ID)
	if player == nil {
		return
	}
	q := player.Moves()
	q.SetRunning(running)
	q.Push(heading)
}
