package system

import (
	"time"

	coresys "github.com/l1jgo/worldtick/internal/core/system"
	"github.com/l1jgo/worldtick/internal/core/task"
	"github.com/l1jgo/worldtick/internal/scripting"
	"github.com/l1jgo/worldtick/internal/world"
	"go.uber.org/zap"
)

// scriptTimers tags the deferred actions created for Lua timers.
type scriptTimers struct{}

// ScriptSystem binds the Lua engine to the world: it installs the host API
// and the npc brain, keeps one deferred action per Lua timer, and reloads
// scripts between ticks when the watcher saw a change. Phase 0 (Input).
type ScriptSystem struct {
	engine  *scripting.Engine
	watcher *scripting.Watcher
	world   *world.World
	log     *zap.Logger

	scheduled bool
}

// NewScriptSystem wires engine into w. watcher may be nil to disable hot
// reload.
func NewScriptSystem(engine *scripting.Engine, watcher *scripting.Watcher, w *world.World, log *zap.Logger) *ScriptSystem {
	engine.SetHost(scripting.Host{
		Broadcast:   w.Broadcast,
		PlayerCount: w.PlayerCount,
		NpcCount:    w.NpcCount,
	})
	w.SetBrain(&ScriptBrain{engine: engine, world: w})
	return &ScriptSystem{engine: engine, watcher: watcher, world: w, log: log}
}

func (s *ScriptSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *ScriptSystem) Update(_ time.Duration) {
	if s.watcher != nil && s.watcher.TakePending() {
		if err := s.engine.Reload(); err != nil {
			s.log.Error("lua reload failed; keeping previous scripts", zap.Error(err))
		} else {
			s.scheduled = false
		}
	}
	if !s.scheduled {
		s.scheduleTimers()
		s.scheduled = true
	}
}

func (s *ScriptSystem) scheduleTimers() {
	tasks := s.world.Tasks()
	tasks.CancelKey(scriptTimers{})
	for _, t := range s.engine.Timers() {
		name := t.Name
		tk := task.New(t.Period, false, func(*task.Task) error {
			return s.engine.FireTimer(name, s.world.TickCount())
		}).Named("lua:" + name).Attach(scriptTimers{})
		if err := tasks.Submit(tk); err != nil {
			s.log.Error("schedule lua timer", zap.String("timer", name), zap.Error(err))
		}
	}
}

// ScriptBrain lets scripted npc templates pick their idle steps in Lua.
type ScriptBrain struct {
	engine *scripting.Engine
	world  *world.World
}

func (b *ScriptBrain) Think(n *world.Npc) (world.Direction, bool) {
	pos, home := n.Position(), n.Home()
	dir, ok := b.engine.NpcThink(n.Template().Script, scripting.ThinkContext{
		NpcID:        int(n.TemplateID()),
		Name:         n.Name(),
		X:            int(pos.X),
		Y:            int(pos.Y),
		MapID:        int(pos.MapID),
		HomeX:        int(home.X),
		HomeY:        int(home.Y),
		WanderRadius: int(n.WanderRadius()),
		Tick:         b.world.TickCount(),
	})
	if !ok {
		return world.DirNone, false
	}
	return world.Direction(dir), true
}
