package world

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/l1jgo/worldtick/internal/config"
	"github.com/l1jgo/worldtick/internal/core/entity"
	"github.com/l1jgo/worldtick/internal/core/event"
	"github.com/l1jgo/worldtick/internal/core/pool"
	coresys "github.com/l1jgo/worldtick/internal/core/system"
	"github.com/l1jgo/worldtick/internal/core/task"
	"github.com/l1jgo/worldtick/internal/net/packet"
	"github.com/l1jgo/worldtick/internal/persist"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	ViewDistance      int32 = 15
	DefaultAggroRange int32 = 8
	DefaultChaseRange int32 = 16

	defaultSaveTimeout = 5 * time.Second
)

var (
	ErrWorldFull   = errors.New("world is full")
	ErrNameInUse   = errors.New("name already in use")
	ErrWorldClosed = errors.New("world is shut down")
)

// EmergencySaver persists every player after a tick failed as a whole.
type EmergencySaver interface {
	SaveAll(ctx context.Context, snaps []persist.Snapshot) error
}

// Options configures a World.
type Options struct {
	TickRate        time.Duration
	UpdateWorkers   int // 0 = one per CPU
	UpdateQueue     int
	SessionTimeout  time.Duration
	MaxPlayers      int
	MaxNpcs         int
	SaveTimeout     time.Duration
	ShutdownWorkers int // 0 = one per CPU
}

// OptionsFromConfig maps the [tick] and [persist] sections onto Options.
func OptionsFromConfig(tick config.TickConfig, p config.PersistConfig) Options {
	return Options{
		TickRate:        tick.Rate,
		UpdateWorkers:   tick.UpdateWorkers,
		UpdateQueue:     tick.UpdateQueue,
		SessionTimeout:  tick.SessionTimeout,
		MaxPlayers:      tick.MaxPlayers,
		MaxNpcs:         tick.MaxNpcs,
		SaveTimeout:     p.SaveTimeout,
		ShutdownWorkers: p.ShutdownWorkers,
	}
}

func (o *Options) normalize() {
	if o.TickRate <= 0 {
		o.TickRate = 600 * time.Millisecond
	}
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = 5 * time.Second
	}
	if o.MaxPlayers <= 0 {
		o.MaxPlayers = 1000
	}
	if o.MaxNpcs <= 0 {
		o.MaxNpcs = 1500
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = defaultSaveTimeout
	}
}

type updateFailure struct {
	player *Player
	err    error
}

// World drives the tick. Tick, the register/evict methods and Shutdown
// must all be called from one goroutine, the tick driver.
type World struct {
	log  *zap.Logger
	opts Options

	players    *entity.Container[*Player]
	npcs       *entity.Container[*Npc]
	playerGrid *AOIGrid
	npcGrid    *AOIGrid

	playerSeq Sequence[*Player]
	npcSeq    Sequence[*Npc]

	tasks       *task.Scheduler
	runner      *coresys.Runner
	bus         *event.Bus
	updatePool  *pool.Pool
	servicePool *pool.Pool
	barrier     *pool.Barrier

	store     persist.Store
	emergency EmergencySaver
	brain     Brain
	rng       *rand.Rand

	failMu sync.Mutex
	failed []updateFailure

	tick      atomic.Uint64
	lastTick  atomic.Int64 // nanoseconds
	abandoned atomic.Uint64
	evictions atomic.Uint64
	closed    atomic.Bool
}

// New builds a world. store receives eviction and shutdown saves and may be
// nil; emergency may be nil as well.
func New(opts Options, store persist.Store, emergency EmergencySaver, log *zap.Logger) *World {
	opts.normalize()
	workers := opts.UpdateWorkers
	if workers <= 0 {
		workers = runtimeWorkers()
	}
	w := &World{
		log:        log,
		opts:       opts,
		players:    entity.NewContainer[*Player](opts.MaxPlayers),
		npcs:       entity.NewContainer[*Npc](opts.MaxNpcs),
		playerGrid: NewAOIGrid(ViewDistance),
		npcGrid:    NewAOIGrid(ViewDistance),
		tasks:      task.NewScheduler(log.Named("tasks")),
		runner:     coresys.NewRunner(),
		bus:        event.NewBus(),
		updatePool: pool.Build("Update-Thread", workers, pool.MaxPriority, log,
			pool.WithQueueCapacity(opts.UpdateQueue)),
		servicePool: pool.Build("Service-Thread", 1, pool.MinPriority, log),
		barrier:     pool.NewBarrier(1),
		store:       store,
		emergency:   emergency,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	w.playerSeq = PlayerSequence{w: w}
	w.npcSeq = NpcSequence{w: w}
	return w
}

func (w *World) Tasks() *task.Scheduler  { return w.tasks }
func (w *World) Runner() *coresys.Runner { return w.runner }
func (w *World) Bus() *event.Bus         { return w.bus }
func (w *World) Options() Options        { return w.opts }
func (w *World) TickCount() uint64       { return w.tick.Load() }

// SetBrain installs the npc wander brain. Driver only.
func (w *World) SetBrain(b Brain) { w.brain = b }

// Players returns the player registry.
func (w *World) Players() *entity.Container[*Player] { return w.players }

// Npcs returns the npc registry.
func (w *World) Npcs() *entity.Container[*Npc] { return w.npcs }

func (w *World) PlayerCount() int { return w.players.Size() }
func (w *World) NpcCount() int    { return w.npcs.Size() }

// Tick advances the world by one interval:
//
//	deliver events, input systems
//	deferred actions, pre-update systems, serial pre-update
//	parallel update of players, barrier, deferred update-phase evictions
//	serial post-update, post-update/output/persist/cleanup systems
//
// A failure escaping any of this abandons the tick and triggers the
// emergency save; the next Tick starts normally.
func (w *World) Tick() {
	if w.closed.Load() {
		return
	}
	start := time.Now()
	n := w.tick.Add(1)
	defer func() {
		if r := recover(); r != nil {
			w.abandon(n, r)
		}
		w.lastTick.Store(int64(time.Since(start)))
	}()

	dt := w.opts.TickRate
	w.bus.SwapBuffers()
	w.bus.DispatchAll()
	w.runner.TickPhase(coresys.PhaseInput, dt)

	w.tasks.Tick()
	w.runner.TickPhase(coresys.PhasePreUpdate, dt)
	preUpdate(w, KindPlayer, w.players, w.playerSeq, w.evictPlayer)
	preUpdate(w, KindNpc, w.npcs, w.npcSeq, w.removeNpc)

	w.runner.TickPhase(coresys.PhaseUpdate, dt)
	if KindPlayer.Parallel() {
		dispatchUpdates(w, w.players.Snapshot(), w.playerSeq)
	}
	w.awaitUpdates()
	w.applyUpdateFailures()

	postUpdate(w, KindPlayer, w.players, w.playerSeq, w.evictPlayer)
	postUpdate(w, KindNpc, w.npcs, w.npcSeq, w.removeNpc)

	w.runner.TickPhase(coresys.PhasePostUpdate, dt)
	w.runner.TickPhase(coresys.PhaseOutput, dt)
	w.runner.TickPhase(coresys.PhasePersist, dt)
	w.runner.TickPhase(coresys.PhaseCleanup, dt)

	if elapsed := time.Since(start); elapsed > dt {
		w.log.Warn("tick overran interval",
			zap.Uint64("tick", n),
			zap.Duration("elapsed", elapsed),
			zap.Duration("interval", dt),
		)
	}
}

// guard runs fn, turning a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func preUpdate[T entity.Actor](w *World, kind Kind, c *entity.Container[T], seq Sequence[T], evict func(T, string)) {
	c.Each(func(a T) {
		if err := guard(func() error { return seq.PreUpdate(a) }); err != nil {
			evict(a, w.phaseFailed(kind, a.EntityID(), "pre-update", err))
		}
	})
}

func postUpdate[T entity.Actor](w *World, kind Kind, c *entity.Container[T], seq Sequence[T], evict func(T, string)) {
	c.Each(func(a T) {
		if err := guard(func() error { return seq.PostUpdate(a) }); err != nil {
			evict(a, w.phaseFailed(kind, a.EntityID(), "post-update", err))
		}
	})
}

// dispatchUpdates submits one update unit per actor. Every unit
// deregisters from the barrier when it ends, however it ends. Failures are
// recorded and applied by the driver after the barrier.
func dispatchUpdates(w *World, players []*Player, seq Sequence[*Player]) {
	if len(players) == 0 {
		return
	}
	w.barrier.BulkRegister(len(players))
	for _, p := range players {
		p := p
		w.updatePool.Execute(func() {
			defer w.barrier.ArriveAndDeregister()
			if err := guard(func() error { return seq.Update(p) }); err != nil {
				w.failMu.Lock()
				w.failed = append(w.failed, updateFailure{player: p, err: err})
				w.failMu.Unlock()
			}
		})
	}
}

// awaitUpdates blocks until every update unit has finished. The wait has
// no deadline; past one tick interval it is logged.
func (w *World) awaitUpdates() {
	phase := w.barrier.Arrive()
	done := w.barrier.Done(phase)
	select {
	case <-done:
		return
	default:
	}
	timer := time.NewTimer(w.opts.TickRate)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		w.log.Warn("update phase exceeded tick interval; still waiting",
			zap.Uint64("tick", w.tick.Load()),
			zap.Int("outstanding", w.barrier.Unarrived()),
		)
		<-done
	}
}

func (w *World) applyUpdateFailures() {
	w.failMu.Lock()
	failed := w.failed
	w.failed = nil
	w.failMu.Unlock()
	for _, f := range failed {
		w.evictPlayer(f.player, w.phaseFailed(KindPlayer, f.player.EntityID(), "update", f.err))
	}
}

// phaseFailed logs a per-actor failure and returns the eviction reason.
func (w *World) phaseFailed(kind Kind, id entity.ID, phase string, err error) string {
	if errors.Is(err, ErrSessionTimeout) {
		w.log.Info("session timed out", zap.Stringer("actor", id), zap.Error(err))
		return "timeout"
	}
	w.log.Error("actor phase failed; evicting",
		zap.Stringer("kind", kind),
		zap.Stringer("actor", id),
		zap.String("phase", phase),
		zap.Error(err),
	)
	return phase + " failed"
}

// abandon handles a failure that escaped the whole tick: log it, save every
// player and carry on with the next tick.
func (w *World) abandon(tick uint64, cause any) {
	w.abandoned.Add(1)
	w.log.Error("tick abandoned",
		zap.Uint64("tick", tick),
		zap.Any("cause", cause),
		zap.Stack("stack"),
	)
	w.failMu.Lock()
	w.failed = nil
	w.failMu.Unlock()

	event.Emit(w.bus, event.TickAbandoned{Tick: tick, Cause: fmt.Sprint(cause)})
	if w.emergency == nil {
		return
	}
	snaps := w.snapshotPlayers()
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.SaveTimeout)
	defer cancel()
	if err := w.emergency.SaveAll(ctx, snaps); err != nil {
		w.log.Error("emergency save incomplete", zap.Error(err))
	}
}

// snapshotPlayers captures every registered player, skipping any whose
// state cannot be captured.
func (w *World) snapshotPlayers() []persist.Snapshot {
	snaps := make([]persist.Snapshot, 0, w.players.Size())
	w.players.Each(func(p *Player) {
		err := guard(func() error {
			snaps = append(snaps, p.Snapshot())
			return nil
		})
		if err != nil {
			w.log.Error("snapshot failed", zap.String("player", p.name), zap.Error(err))
		}
	})
	return snaps
}

// RegisterPlayer adds p to the world.
func (w *World) RegisterPlayer(p *Player) error {
	if w.closed.Load() {
		return ErrWorldClosed
	}
	if _, taken := w.PlayerByName(p.name); taken {
		return ErrNameInUse
	}
	if !w.players.Add(p) {
		return ErrWorldFull
	}
	w.playerGrid.Add(p.EntityID(), p.pos)
	p.flags.Set(FlagAppearance)
	w.log.Info("player registered",
		zap.String("name", p.name),
		zap.Stringer("actor", p.EntityID()),
		zap.Int("online", w.players.Size()),
	)
	return nil
}

// EvictPlayer removes p, disconnects it and saves it in the background.
func (w *World) EvictPlayer(p *Player, reason string) { w.evictPlayer(p, reason) }

func (w *World) evictPlayer(p *Player, reason string) {
	id := p.EntityID()
	if !w.players.Alive(id) {
		return
	}
	w.playerGrid.Remove(id, p.pos)
	w.players.Remove(p)
	w.evictions.Add(1)
	p.session.Disconnect()
	w.saveAsync(p)
	event.Emit(w.bus, event.PlayerEvicted{EntityID: id, Key: p.key, Name: p.name, Reason: reason})
	w.log.Info("player evicted", zap.String("name", p.name), zap.String("reason", reason))
}

func (w *World) saveAsync(p *Player) {
	if w.store == nil {
		return
	}
	job := p.PersistJob(w.store, w.opts.SaveTimeout)
	name := p.name
	w.servicePool.Execute(func() {
		if err := job(); err != nil {
			w.log.Error("save player failed", zap.String("name", name), zap.Error(err))
		}
	})
}

// SaveAll queues a background save of every player.
func (w *World) SaveAll() int {
	n := 0
	w.players.Each(func(p *Player) {
		w.saveAsync(p)
		n++
	})
	return n
}

// RegisterNpc adds n to the world. It returns false when the npc registry
// is full.
func (w *World) RegisterNpc(n *Npc) bool {
	if !w.npcs.Add(n) {
		return false
	}
	w.npcGrid.Add(n.EntityID(), n.pos)
	n.flags.Set(FlagAppearance)
	return true
}

// RemoveNpc removes n without respawn.
func (w *World) RemoveNpc(n *Npc, reason string) { w.removeNpc(n, reason) }

func (w *World) removeNpc(n *Npc, reason string) {
	id := n.EntityID()
	if !w.npcs.Alive(id) {
		return
	}
	w.npcGrid.Remove(id, n.pos)
	w.npcs.Remove(n)
	event.Emit(w.bus, event.NpcRemoved{EntityID: id, TemplateID: n.tmpl.NpcID, Reason: reason})
}

// KillNpc removes n and, if its spawn respawns, schedules a fresh npc of
// the same template at its home after the respawn delay.
func (w *World) KillNpc(n *Npc) {
	w.removeNpc(n, "killed")
	if n.respawnTicks <= 0 {
		return
	}
	tmpl, home, radius, delay := n.tmpl, n.home, n.wanderRadius, n.respawnTicks
	respawn := task.Once(delay, func(*task.Task) error {
		if !w.RegisterNpc(NewNpc(tmpl, home, radius, delay)) {
			return fmt.Errorf("respawn %s: npc registry full", tmpl.Name)
		}
		return nil
	}).Named("npc-respawn")
	if err := w.tasks.Submit(respawn); err != nil {
		w.log.Error("schedule respawn", zap.String("npc", tmpl.Name), zap.Error(err))
	}
}

// PlayerByName finds a player by name, ignoring case.
func (w *World) PlayerByName(name string) (*Player, bool) {
	folded := foldName(name)
	return w.players.Search(func(p *Player) bool { return p.foldedName == folded })
}

// PlayerByKey finds a player by persistence key.
func (w *World) PlayerByKey(key uuid.UUID) (*Player, bool) {
	return w.players.Search(func(p *Player) bool { return p.key == key })
}

// Broadcast sends a server message to every player.
func (w *World) Broadcast(msg string) {
	pw := packet.NewWriterWithOpcode(packet.S_OPCODE_MESSAGE)
	pw.WriteS(msg)
	data := pw.Bytes()
	pw.Release()
	w.players.Each(func(p *Player) { p.session.Send(data) })
}

// RunService queues job on the single-worker service pool, which also
// carries eviction saves. Jobs run in submission order.
func (w *World) RunService(job func()) { w.servicePool.Execute(job) }

// Submit schedules a deferred action. Safe from any goroutine.
func (w *World) Submit(t *task.Task) error {
	return w.tasks.Submit(t)
}

// Shutdown saves every player through a blocking batch, then drains the
// worker pools. It must run on the driver after the last Tick returned.
func (w *World) Shutdown(ctx context.Context) error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.tasks.CancelAll()

	var errs error
	if w.store != nil {
		batch := pool.NewBatchRunner(w.opts.ShutdownWorkers, w.log)
		w.players.Each(func(p *Player) {
			batch.Append(p.PersistJob(w.store, w.opts.SaveTimeout))
		})
		batch.RunAndWait()
		if n := batch.Failures(); n > 0 {
			errs = multierr.Append(errs, fmt.Errorf("shutdown save: %d players failed", n))
		}
	}
	w.players.Each(func(p *Player) { p.session.Disconnect() })

	w.updatePool.Shutdown()
	w.servicePool.Shutdown()
	errs = multierr.Append(errs, w.updatePool.AwaitTermination(ctx))
	errs = multierr.Append(errs, w.servicePool.AwaitTermination(ctx))
	return errs
}

// Stats is a point-in-time view of the world.
type Stats struct {
	Tick       uint64
	LastTick   time.Duration
	Players    int
	Npcs       int
	Tasks      int
	Evictions  uint64
	Abandoned  uint64
	UpdatePool pool.Stats
}

// Stats is safe from any goroutine except for Tasks, which is read racily.
func (w *World) Stats() Stats {
	return Stats{
		Tick:       w.tick.Load(),
		LastTick:   time.Duration(w.lastTick.Load()),
		Players:    w.players.Size(),
		Npcs:       w.npcs.Size(),
		Tasks:      w.tasks.Active(),
		Evictions:  w.evictions.Load(),
		Abandoned:  w.abandoned.Load(),
		UpdatePool: w.updatePool.Stats(),
	}
}
