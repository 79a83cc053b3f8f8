package handler

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/l1jgo/worldtick/internal/net"
	"github.com/l1jgo/worldtick/internal/net/packet"
	"github.com/l1jgo/worldtick/internal/world"
	"go.uber.org/zap"
)

const (
	maxNameLen       = 16
	defaultLoadLimit = 2 * time.Second
)

// HandleLogin processes C_LOGIN: [S name]. A returning player enters where
// it was last saved; everyone else enters at the configured spawn point.
func HandleLogin(sess *net.Session, r *packet.Reader, deps *Deps) {
	name := r.ReadS()
	if !validName(name) {
		sendLoginRefused(sess, packet.RefuseInvalidName)
		return
	}

	p := world.NewPlayer(name, sess, deps.Spawn)
	restore(p, deps)
	if err := deps.World.RegisterPlayer(p); err != nil {
		reason := packet.RefuseWorldFull
		if errors.Is(err, world.ErrNameInUse) {
			reason = packet.RefuseNameInUse
		}
		deps.Log.Info("登入被拒", zap.String("name", name), zap.Error(err))
		sendLoginRefused(sess, reason)
		return
	}

	sess.CharName = name
	sess.SetState(packet.StateInWorld)
	deps.Online.Bind(sess.ID, p)

	pos := p.Position()
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_LOGIN_OK)
	w.WriteD(int32(p.EntityID().Index()))
	w.WriteD(pos.X)
	w.WriteD(pos.Y)
	w.WriteH(uint16(pos.MapID))
	sess.Send(w.Bytes())
	w.Release()

	deps.Log.Info(fmt.Sprintf("玩家進入世界  session=%d  角色=%s", sess.ID, name))
}

// restore applies the last saved snapshot to a fresh player. A failed read
// is logged and the player keeps the spawn point.
func restore(p *world.Player, deps *Deps) {
	if deps.Snapshots == nil {
		return
	}
	limit := deps.LoadLimit
	if limit <= 0 {
		limit = defaultLoadLimit
	}
	ctx, cancel := context.WithTimeout(context.Background(), limit)
	defer cancel()
	snap, err := deps.Snapshots.Load(ctx, p.Key())
	if err != nil {
		deps.Log.Warn("讀取角色快照失敗，使用出生點", zap.String("name", p.Name()), zap.Error(err))
		return
	}
	if snap == nil {
		return
	}
	p.Restore(world.Position{X: snap.X, Y: snap.Y, MapID: snap.MapID}, snap.Level)
}

func validName(name string) bool {
	n := utf8.RuneCountInString(name)
	if n == 0 || n > maxNameLen {
		return false
	}
	for _, c := range name {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			return false
		}
	}
	return true
}

func sendLoginRefused(sess *net.Session, reason byte) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_LOGIN_REFUSED)
	w.WriteC(reason)
	sess.Send(w.Bytes())
	w.Release()
}
