package scripting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// APIVersion is the host API exposed to scripts. A script may declare
// API_REQUIRES = "<constraint>" to refuse loading against an incompatible
// host.
const APIVersion = "1.0.0"

// scriptDirs are loaded in order; missing ones are skipped.
var scriptDirs = []string{"core", "npc", "world"}

var ErrNoFunction = errors.New("lua function not found")

// Host is the server surface scripts can call. Nil members are no-ops.
type Host struct {
	Broadcast   func(msg string)
	PlayerCount func() int
	NpcCount    func() int
}

// Timer is a periodic world script declared in the global timers table:
//
//	timers.announce = { period = 100, run = function(tick) ... end }
type Timer struct {
	Name   string
	Period int
}

// Engine wraps a single gopher-lua VM. Every call happens on the tick
// driver; Reload replaces the VM between ticks.
type Engine struct {
	dir  string
	log  *zap.Logger
	api  *semver.Version
	host Host

	vm     *lua.LState
	timers []Timer
}

// NewEngine creates a Lua engine and loads all scripts under dir.
func NewEngine(dir string, log *zap.Logger) (*Engine, error) {
	e := &Engine{
		dir: dir,
		log: log,
		api: semver.MustParse(APIVersion),
	}
	vm, timers, err := e.load()
	if err != nil {
		return nil, err
	}
	e.vm, e.timers = vm, timers
	return e, nil
}

// SetHost installs the host callbacks. Scripts see them from the next
// call on, including after reloads.
func (e *Engine) SetHost(h Host) { e.host = h }

func (e *Engine) Dir() string { return e.dir }

// Reload builds a fresh VM from disk. On failure the running VM is kept.
func (e *Engine) Reload() error {
	vm, timers, err := e.load()
	if err != nil {
		return err
	}
	e.vm.Close()
	e.vm, e.timers = vm, timers
	e.log.Info("lua scripts reloaded", zap.Int("timers", len(timers)))
	return nil
}

func (e *Engine) load() (*lua.LState, []Timer, error) {
	vm := lua.NewState()
	vm.SetGlobal("API_VERSION", lua.LString(APIVersion))
	vm.SetGlobal("timers", vm.NewTable())
	e.registerHost(vm)

	for _, sub := range scriptDirs {
		if err := e.loadDir(vm, filepath.Join(e.dir, sub)); err != nil {
			vm.Close()
			return nil, nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}
	return vm, readTimers(vm), nil
}

// loadDir loads all .lua files in a directory, in name order.
func (e *Engine) loadDir(vm *lua.LState, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		vm.SetGlobal("API_REQUIRES", lua.LNil)
		if err := vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		if err := e.checkRequires(vm, path); err != nil {
			return err
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

func (e *Engine) checkRequires(vm *lua.LState, path string) error {
	req, ok := vm.GetGlobal("API_REQUIRES").(lua.LString)
	if !ok {
		return nil
	}
	c, err := semver.NewConstraint(string(req))
	if err != nil {
		return fmt.Errorf("%s: parse API_REQUIRES %q: %w", path, string(req), err)
	}
	if !c.Check(e.api) {
		return fmt.Errorf("%s: requires API %s, host provides %s", path, string(req), APIVersion)
	}
	return nil
}

func readTimers(vm *lua.LState) []Timer {
	tbl, ok := vm.GetGlobal("timers").(*lua.LTable)
	if !ok {
		return nil
	}
	var out []Timer
	tbl.ForEach(func(k, v lua.LValue) {
		row, ok := v.(*lua.LTable)
		if !ok {
			return
		}
		if _, ok := row.RawGetString("run").(*lua.LFunction); !ok {
			return
		}
		if period := lInt(row, "period"); period > 0 {
			out = append(out, Timer{Name: lua.LVAsString(k), Period: period})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Timers returns the periodic scripts of the loaded VM.
func (e *Engine) Timers() []Timer { return e.timers }

// FireTimer runs timers[name].run(tick).
func (e *Engine) FireTimer(name string, tick uint64) error {
	tbl, ok := e.vm.GetGlobal("timers").(*lua.LTable)
	if !ok {
		return fmt.Errorf("timer %s: %w", name, ErrNoFunction)
	}
	row, ok := tbl.RawGetString(name).(*lua.LTable)
	if !ok {
		return fmt.Errorf("timer %s: %w", name, ErrNoFunction)
	}
	fn, ok := row.RawGetString("run").(*lua.LFunction)
	if !ok {
		return fmt.Errorf("timer %s: %w", name, ErrNoFunction)
	}
	if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lua.LNumber(tick)); err != nil {
		return fmt.Errorf("timer %s: %w", name, err)
	}
	return nil
}

// --- NPC think bridge ---

// ThinkContext holds pre-packed npc state for a think function.
type ThinkContext struct {
	NpcID        int
	Name         string
	X, Y         int
	MapID        int
	HomeX, HomeY int
	WanderRadius int
	Tick         uint64
}

// HasFunction reports whether a global Lua function named name exists.
func (e *Engine) HasFunction(name string) bool {
	_, ok := e.vm.GetGlobal(name).(*lua.LFunction)
	return ok
}

// NpcThink calls the Lua function fn(ctx), which returns a heading 0-7 or
// nil to stand still. ok is false when the script declined to move or
// failed.
func (e *Engine) NpcThink(fn string, ctx ThinkContext) (dir int, ok bool) {
	f, found := e.vm.GetGlobal(fn).(*lua.LFunction)
	if !found {
		return -1, false
	}

	t := e.vm.NewTable()
	t.RawSetString("npc_id", lua.LNumber(ctx.NpcID))
	t.RawSetString("name", lua.LString(ctx.Name))
	t.RawSetString("x", lua.LNumber(ctx.X))
	t.RawSetString("y", lua.LNumber(ctx.Y))
	t.RawSetString("map_id", lua.LNumber(ctx.MapID))
	t.RawSetString("home_x", lua.LNumber(ctx.HomeX))
	t.RawSetString("home_y", lua.LNumber(ctx.HomeY))
	t.RawSetString("wander_radius", lua.LNumber(ctx.WanderRadius))
	t.RawSetString("tick", lua.LNumber(ctx.Tick))

	if err := e.vm.CallByParam(lua.P{
		Fn:      f,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua npc think error", zap.String("func", fn), zap.Int("npc_id", ctx.NpcID), zap.Error(err))
		return -1, false
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)

	n, isNum := result.(lua.LNumber)
	if !isNum || n < 0 || n > 7 {
		return -1, false
	}
	return int(n), true
}

// --- host API ---

func (e *Engine) registerHost(vm *lua.LState) {
	vm.SetGlobal("broadcast", vm.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		if e.host.Broadcast != nil {
			e.host.Broadcast(msg)
		}
		return 0
	}))
	vm.SetGlobal("player_count", vm.NewFunction(func(L *lua.LState) int {
		n := 0
		if e.host.PlayerCount != nil {
			n = e.host.PlayerCount()
		}
		L.Push(lua.LNumber(n))
		return 1
	}))
	vm.SetGlobal("npc_count", vm.NewFunction(func(L *lua.LState) int {
		n := 0
		if e.host.NpcCount != nil {
			n = e.host.NpcCount()
		}
		L.Push(lua.LNumber(n))
		return 1
	}))
	vm.SetGlobal("log", vm.NewFunction(func(L *lua.LState) int {
		e.log.Info("lua", zap.String("msg", L.CheckString(1)))
		return 0
	}))
}

// --- Lua helpers ---

// lInt reads an integer field from a Lua table.
func lInt(t *lua.LTable, key string) int {
	return int(lua.LVAsNumber(t.RawGetString(key)))
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
