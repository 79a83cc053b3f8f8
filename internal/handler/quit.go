package handler

import (
	"fmt"

	"github.com/l1jgo/worldtick/internal/net"
	"github.com/l1jgo/worldtick/internal/net/packet"
)

// HandleQuit processes C_QUIT. It only closes the session; the intake
// system evicts the player when it sees the closed session.
func HandleQuit(sess *net.Session, _ *packet.Reader, deps *Deps) {
	deps.Log.Info(fmt.Sprintf("玩家登出  session=%d  角色=%s", sess.ID, sess.CharName))
	sess.Close()
}
