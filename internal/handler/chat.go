package handler

import (
	"strings"

	"github.com/l1jgo/worldtick/internal/net"
	"github.com/l1jgo/worldtick/internal/net/packet"
	"go.uber.org/zap"
)

// shoutPrefix turns normal chat into forced text over the player's head.
const shoutPrefix = "!"

// HandleChat processes C_CHAT: [S text]. Nearby players receive it with
// the next update.
func HandleChat(sess *net.Session, r *packet.Reader, deps *Deps) {
	text := strings.TrimSpace(r.ReadS())
	if text == "" {
		return
	}
	player := deps.Online.Player(sess.ID)
	if player == nil {
		return
	}

	deps.Log.Debug("C_Chat", zap.String("player", player.Name()), zap.String("text", text))

	if shout, ok := strings.CutPrefix(text, shoutPrefix); ok {
		if shout = strings.TrimSpace(shout); shout != "" {
			player.ForceChat(shout)
		}
		return
	}
	player.Say(text)
}
