package system

import (
	"context"
	"time"

	"github.com/l1jgo/worldtick/internal/core/event"
	coresys "github.com/l1jgo/worldtick/internal/core/system"
	"github.com/l1jgo/worldtick/internal/persist"
	"github.com/l1jgo/worldtick/internal/world"
	"go.uber.org/zap"
)

// Journal records notable world events.
type Journal interface {
	Append(ctx context.Context, entries []persist.JournalEntry) error
}

// PersistenceSystem queues an autosave of every player every interval
// ticks and writes evictions, npc removals and abandoned ticks to the
// journal. Writes happen on the world's service pool, never on the tick.
// Phase 5 (Persist).
type PersistenceSystem struct {
	world    *world.World
	journal  Journal
	log      *zap.Logger
	timeout  time.Duration
	interval int

	tickCount int
	pending   []persist.JournalEntry
}

// NewPersistenceSystem subscribes to the world's events. journal may be
// nil; interval <= 0 disables autosave.
func NewPersistenceSystem(w *world.World, journal Journal, intervalTicks int, log *zap.Logger) *PersistenceSystem {
	s := &PersistenceSystem{
		world:    w,
		journal:  journal,
		log:      log,
		timeout:  w.Options().SaveTimeout,
		interval: intervalTicks,
	}
	bus := w.Bus()
	event.Subscribe(bus, func(e event.PlayerEvicted) {
		s.record("player_evicted", e.Name, e.Reason)
	})
	event.Subscribe(bus, func(e event.NpcRemoved) {
		s.record("npc_removed", e.EntityID.String(), e.Reason)
	})
	event.Subscribe(bus, func(e event.TickAbandoned) {
		s.pending = append(s.pending, persist.JournalEntry{Tick: e.Tick, Kind: "tick_abandoned", Detail: e.Cause})
	})
	return s
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) record(kind, subject, detail string) {
	s.pending = append(s.pending, persist.JournalEntry{
		Tick:    s.world.TickCount(),
		Kind:    kind,
		Subject: subject,
		Detail:  detail,
	})
}

func (s *PersistenceSystem) Update(_ time.Duration) {
	s.flushJournal()

	if s.interval <= 0 {
		return
	}
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	if n := s.world.SaveAll(); n > 0 {
		s.log.Info("自動存檔排入", zap.Int("players", n))
	}
}

func (s *PersistenceSystem) flushJournal() {
	if len(s.pending) == 0 {
		return
	}
	entries := s.pending
	s.pending = nil
	if s.journal == nil {
		return
	}
	s.world.RunService(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.journal.Append(ctx, entries); err != nil {
			s.log.Error("事件日誌寫入失敗", zap.Int("entries", len(entries)), zap.Error(err))
		}
	})
}
