package world

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/l1jgo/worldtick/internal/core/event"
	coresys "github.com/l1jgo/worldtick/internal/core/system"
	"github.com/l1jgo/worldtick/internal/data"
	"github.com/l1jgo/worldtick/internal/net/packet"
	"github.com/l1jgo/worldtick/internal/persist"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSession struct {
	silent  time.Duration
	onSend  func()
	inspect func(data []byte)

	mu   sync.Mutex
	sent [][]byte

	contacts     atomic.Int32
	resets       atomic.Int32
	disconnected atomic.Bool
}

func (s *fakeSession) SinceLastContact() time.Duration {
	s.contacts.Add(1)
	return s.silent
}

func (s *fakeSession) Disconnect() { s.disconnected.Store(true) }

func (s *fakeSession) Send(data []byte) {
	if s.onSend != nil {
		s.onSend()
	}
	if s.inspect != nil {
		s.inspect(data)
	}
	s.mu.Lock()
	s.sent = append(s.sent, data)
	s.mu.Unlock()
}

func (s *fakeSession) ResetPacketCount() { s.resets.Add(1) }

func (s *fakeSession) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type memStore struct {
	mu    sync.Mutex
	saved map[string]persist.Snapshot
}

func newMemStore() *memStore { return &memStore{saved: make(map[string]persist.Snapshot)} }

func (m *memStore) SaveSnapshot(_ context.Context, s persist.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[s.Name] = s
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

type fakeSaver struct {
	calls atomic.Int32
	snaps atomic.Int32
}

func (f *fakeSaver) SaveAll(_ context.Context, snaps []persist.Snapshot) error {
	f.calls.Add(1)
	f.snaps.Store(int32(len(snaps)))
	return nil
}

func testOptions() Options {
	return Options{
		TickRate:       50 * time.Millisecond,
		UpdateWorkers:  4,
		SessionTimeout: 5 * time.Second,
		MaxPlayers:     200,
		MaxNpcs:        50,
	}
}

func newTestWorld(t *testing.T, store persist.Store, saver EmergencySaver, log *zap.Logger) *World {
	t.Helper()
	if log == nil {
		log = zap.NewNop()
	}
	w := New(testOptions(), store, saver, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		w.Shutdown(ctx)
	})
	return w
}

func addPlayers(t *testing.T, w *World, n int, setup func(i int, s *fakeSession)) []*fakeSession {
	t.Helper()
	sessions := make([]*fakeSession, n)
	for i := range sessions {
		s := &fakeSession{}
		if setup != nil {
			setup(i, s)
		}
		sessions[i] = s
		p := NewPlayer(fmt.Sprintf("player%d", i), s, Position{X: 100 + int32(i%10), Y: 100 + int32(i/10)})
		if err := w.RegisterPlayer(p); err != nil {
			t.Fatalf("register player %d: %v", i, err)
		}
	}
	return sessions
}

func TestTickRunsUpdatesOnBoundedWorkers(t *testing.T) {
	w := newTestWorld(t, nil, nil, nil)

	var inFlight, peak atomic.Int32
	track := func() {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(200 * time.Microsecond)
		inFlight.Add(-1)
	}
	sessions := addPlayers(t, w, 100, func(_ int, s *fakeSession) { s.onSend = track })

	w.Tick()

	if p := peak.Load(); p > 4 {
		t.Fatalf("peak concurrent updates = %d, want <= 4", p)
	}
	for i, s := range sessions {
		// player update plus npc update
		if got := s.sentCount(); got != 2 {
			t.Fatalf("session %d sent %d packets by end of tick, want 2", i, got)
		}
		if s.resets.Load() != 1 {
			t.Fatalf("session %d post-updated %d times, want 1", i, s.resets.Load())
		}
	}
	if w.TickCount() != 1 {
		t.Fatalf("tick count = %d", w.TickCount())
	}
}

func TestUpdateFailureEvictsOnlyThatPlayer(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	w := newTestWorld(t, nil, nil, zap.New(core))

	sessions := addPlayers(t, w, 100, func(i int, s *fakeSession) {
		if i == 42 {
			s.onSend = func() { panic("socket exploded") }
		}
	})

	w.Tick()

	if w.PlayerCount() != 99 {
		t.Fatalf("players = %d, want 99", w.PlayerCount())
	}
	bad := sessions[42]
	if !bad.disconnected.Load() {
		t.Fatal("failed player was not disconnected")
	}
	if bad.resets.Load() != 0 {
		t.Fatal("evicted player must not be post-updated")
	}
	for i, s := range sessions {
		if i == 42 {
			continue
		}
		if s.contacts.Load() != 1 || s.resets.Load() != 1 {
			t.Fatalf("session %d: pre=%d post=%d, want 1/1", i, s.contacts.Load(), s.resets.Load())
		}
		if s.disconnected.Load() {
			t.Fatalf("session %d disconnected", i)
		}
	}
	if logs.FilterMessage("actor phase failed; evicting").Len() != 1 {
		t.Fatal("expected one eviction log")
	}
	if w.Stats().Abandoned != 0 {
		t.Fatal("a single failed update must not abandon the tick")
	}
}

func TestSessionTimeoutEvicts(t *testing.T) {
	w := newTestWorld(t, nil, nil, nil)
	sessions := addPlayers(t, w, 3, func(i int, s *fakeSession) {
		if i == 1 {
			s.silent = 10 * time.Second
		}
	})

	var evicted []event.PlayerEvicted
	event.Subscribe(w.Bus(), func(e event.PlayerEvicted) { evicted = append(evicted, e) })

	w.Tick()
	if w.PlayerCount() != 2 || !sessions[1].disconnected.Load() {
		t.Fatalf("players = %d, timed out session disconnected = %v", w.PlayerCount(), sessions[1].disconnected.Load())
	}
	if sessions[1].sentCount() != 0 {
		t.Fatal("timed out player was updated")
	}

	w.Tick()
	if len(evicted) != 1 || evicted[0].Name != "player1" || evicted[0].Reason != "timeout" {
		t.Fatalf("evicted events = %+v", evicted)
	}
}

type panicSystem struct {
	left int
}

func (s *panicSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *panicSystem) Update(time.Duration) {
	if s.left > 0 {
		s.left--
		panic("persist phase broke")
	}
}

func TestTickFailureTriggersEmergencySave(t *testing.T) {
	saver := &fakeSaver{}
	w := newTestWorld(t, nil, saver, nil)
	sessions := addPlayers(t, w, 5, nil)
	w.Runner().Register(&panicSystem{left: 1})

	var abandoned []event.TickAbandoned
	event.Subscribe(w.Bus(), func(e event.TickAbandoned) { abandoned = append(abandoned, e) })

	w.Tick()
	if saver.calls.Load() != 1 || saver.snaps.Load() != 5 {
		t.Fatalf("emergency save calls=%d snaps=%d, want 1/5", saver.calls.Load(), saver.snaps.Load())
	}
	if w.Stats().Abandoned != 1 {
		t.Fatal("abandoned counter not raised")
	}

	w.Tick()
	if len(abandoned) != 1 || abandoned[0].Tick != 1 {
		t.Fatalf("abandoned events = %+v", abandoned)
	}
	if saver.calls.Load() != 1 {
		t.Fatal("second tick should run normally")
	}
	for i, s := range sessions {
		if s.resets.Load() != 2 {
			t.Fatalf("session %d post-updated %d times, want 2", i, s.resets.Load())
		}
	}
	if w.PlayerCount() != 5 {
		t.Fatalf("players = %d, want 5", w.PlayerCount())
	}
}

func TestTickFailureSurvivesPanickingEmergencyStore(t *testing.T) {
	broken := persist.StoreFunc(func(context.Context, persist.Snapshot) error { panic("driver bug") })
	core, logs := observer.New(zapcore.ErrorLevel)
	saver := persist.NewEmergencySaver(broken, 2, zap.NewNop())
	w := newTestWorld(t, nil, saver, zap.New(core))
	addPlayers(t, w, 3, nil)
	w.Runner().Register(&panicSystem{left: 1})

	w.Tick()
	if logs.FilterMessage("emergency save incomplete").Len() != 1 {
		t.Fatalf("expected the failed emergency save to be logged, got %v", logs.All())
	}
	w.Tick()
	if w.TickCount() != 2 || w.PlayerCount() != 3 {
		t.Fatalf("ticks = %d players = %d after abandoned tick", w.TickCount(), w.PlayerCount())
	}
}

func TestShutdownSavesEveryPlayer(t *testing.T) {
	store := newMemStore()
	w := New(testOptions(), store, nil, zap.NewNop())
	sessions := addPlayers(t, w, 20, func(i int, s *fakeSession) {
		if i == 0 {
			s.silent = time.Minute
		}
	})
	w.Tick()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	// 19 batch saves plus the evicted player's background save
	if got := store.count(); got != 20 {
		t.Fatalf("saved %d players, want 20", got)
	}
	for i, s := range sessions {
		if !s.disconnected.Load() {
			t.Fatalf("session %d still connected", i)
		}
	}
	if err := w.RegisterPlayer(NewPlayer("late", &fakeSession{}, Position{})); !errors.Is(err, ErrWorldClosed) {
		t.Fatalf("register after shutdown: %v", err)
	}
	w.Tick()
	if w.TickCount() != 1 {
		t.Fatal("tick ran after shutdown")
	}
	if err := w.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestRegisterPlayerRules(t *testing.T) {
	opts := testOptions()
	opts.MaxPlayers = 2
	w := New(opts, nil, nil, zap.NewNop())
	defer w.Shutdown(context.Background())

	if err := w.RegisterPlayer(NewPlayer("Alice", &fakeSession{}, Position{})); err != nil {
		t.Fatal(err)
	}
	if err := w.RegisterPlayer(NewPlayer("ALICE", &fakeSession{}, Position{})); !errors.Is(err, ErrNameInUse) {
		t.Fatalf("case-folded duplicate: %v", err)
	}
	if err := w.RegisterPlayer(NewPlayer("Bob", &fakeSession{}, Position{})); err != nil {
		t.Fatal(err)
	}
	if err := w.RegisterPlayer(NewPlayer("Carol", &fakeSession{}, Position{})); !errors.Is(err, ErrWorldFull) {
		t.Fatalf("third player: %v", err)
	}
	p, ok := w.PlayerByName("alice")
	if !ok || p.Name() != "Alice" {
		t.Fatal("lookup by folded name failed")
	}
	if byKey, ok := w.PlayerByKey(PlayerKey("aLiCe")); !ok || byKey != p {
		t.Fatal("lookup by key failed")
	}
	if !p.Flags().Has(FlagAppearance) {
		t.Fatal("new player should announce its appearance")
	}
}

func TestKillNpcRespawns(t *testing.T) {
	w := newTestWorld(t, nil, nil, nil)
	tmpl := &data.NpcTemplate{NpcID: 45001, Name: "wolf"}
	home := Position{X: 30, Y: 30}
	n := NewNpc(tmpl, home, 0, 2)
	if !w.RegisterNpc(n) {
		t.Fatal("register npc")
	}

	var removed []event.NpcRemoved
	event.Subscribe(w.Bus(), func(e event.NpcRemoved) { removed = append(removed, e) })

	w.KillNpc(n)
	if w.NpcCount() != 0 {
		t.Fatal("killed npc still registered")
	}
	w.Tick()
	if w.NpcCount() != 0 {
		t.Fatal("respawned too early")
	}
	w.Tick()
	if w.NpcCount() != 1 {
		t.Fatalf("npcs = %d after respawn delay, want 1", w.NpcCount())
	}
	if len(removed) != 1 || removed[0].TemplateID != 45001 || removed[0].Reason != "killed" {
		t.Fatalf("removed events = %+v", removed)
	}
	back, _ := w.Npcs().Search(func(*Npc) bool { return true })
	if back == n || back.Position() != home {
		t.Fatal("respawn should be a fresh npc at home")
	}
}

func TestRespawnRetriesWhenRegistryFull(t *testing.T) {
	opts := testOptions()
	opts.MaxNpcs = 1
	w := New(opts, nil, nil, zap.NewNop())
	t.Cleanup(func() { w.Shutdown(context.Background()) })

	n := NewNpc(&data.NpcTemplate{NpcID: 7, Name: "boar"}, Position{X: 5, Y: 5}, 0, 1)
	if !w.RegisterNpc(n) {
		t.Fatal("register npc")
	}
	w.KillNpc(n)
	blocker := NewNpc(&data.NpcTemplate{NpcID: 8, Name: "rock"}, Position{X: 9, Y: 9}, 0, 0)
	if !w.RegisterNpc(blocker) {
		t.Fatal("register blocker")
	}

	w.Tick()
	if w.NpcCount() != 1 || w.Tasks().Active() != 1 {
		t.Fatalf("npcs = %d tasks = %d, want the respawn still pending", w.NpcCount(), w.Tasks().Active())
	}
	w.RemoveNpc(blocker, "despawn")
	w.Tick()
	back, ok := w.Npcs().Search(func(*Npc) bool { return true })
	if !ok || back.TemplateID() != 7 {
		t.Fatal("respawn did not retry once the registry had room")
	}
	if w.Tasks().Active() != 0 {
		t.Fatalf("tasks = %d after successful respawn", w.Tasks().Active())
	}
}

func TestAggressiveNpcChasesPlayer(t *testing.T) {
	w := newTestWorld(t, nil, nil, nil)
	tmpl := &data.NpcTemplate{NpcID: 1, Name: "orc", Agro: true, AgroRange: 4}
	n := NewNpc(tmpl, Position{X: 10, Y: 10}, 0, 0)
	w.RegisterNpc(n)
	p := NewPlayer("hero", &fakeSession{}, Position{X: 13, Y: 10})
	if err := w.RegisterPlayer(p); err != nil {
		t.Fatal(err)
	}

	w.Tick()
	if !n.Target().Alive() || n.Target().ID() != p.EntityID() {
		t.Fatal("npc did not pick the player as target")
	}
	if d := n.Position().Distance(p.Position()); d != 2 {
		t.Fatalf("distance after one tick = %d, want 2", d)
	}

	w.EvictPlayer(p, "logout")
	w.Tick()
	if !n.Target().IsZero() {
		t.Fatal("target not cleared after the player left")
	}
}

func TestUpdateSeesNeighbours(t *testing.T) {
	w := newTestWorld(t, nil, nil, nil)
	a := NewPlayer("a", &fakeSession{}, Position{X: 0, Y: 0})
	b := NewPlayer("b", &fakeSession{}, Position{X: 3, Y: 3})
	far := NewPlayer("far", &fakeSession{}, Position{X: 500, Y: 500})
	for _, p := range []*Player{a, b, far} {
		if err := w.RegisterPlayer(p); err != nil {
			t.Fatal(err)
		}
	}
	w.RegisterNpc(NewNpc(&data.NpcTemplate{NpcID: 7, Name: "deer"}, Position{X: 1, Y: 1}, 0, 0))

	w.Tick()
	if got := a.LocalPlayers(); len(got) != 1 || got[0] != b.EntityID() {
		t.Fatalf("a sees %v, want [b]", got)
	}
	if len(a.LocalNpcs()) != 1 {
		t.Fatalf("a sees %d npcs, want 1", len(a.LocalNpcs()))
	}
	if len(far.LocalPlayers()) != 0 || len(far.LocalNpcs()) != 0 {
		t.Fatal("far player should see nothing")
	}
	if a.Flags().Any() {
		t.Fatal("flags survive post-update")
	}
}

// splitPlayerUpdate decodes a player update packet into the sender's own
// block and the blocks of the players it sees, keyed by slot index.
func splitPlayerUpdate(data []byte) (self []byte, others map[int32][]byte) {
	off := 1
	block := func() []byte {
		n := int(binary.LittleEndian.Uint16(data[off:]))
		b := data[off+2 : off+2+n]
		off += 2 + n
		return b
	}
	self = block()
	count := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	others = make(map[int32][]byte, count)
	for i := 0; i < count; i++ {
		idx := int32(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		others[idx] = block()
	}
	return self, others
}

func TestConcurrentUpdatesReadWholeBlocks(t *testing.T) {
	w := newTestWorld(t, nil, nil, nil)
	const n = 40

	var (
		mu    sync.Mutex
		reads = make(map[int32][][]byte)
		views int
	)
	inspect := func(data []byte) {
		if data[0] != packet.S_OPCODE_PLAYER_UPDATE {
			return
		}
		_, others := splitPlayerUpdate(data)
		mu.Lock()
		defer mu.Unlock()
		views++
		for idx, b := range others {
			reads[idx] = append(reads[idx], append([]byte(nil), b...))
		}
	}
	addPlayers(t, w, n, func(_ int, s *fakeSession) { s.inspect = inspect })
	w.Tick()

	mu.Lock()
	reads = make(map[int32][][]byte)
	views = 0
	mu.Unlock()

	want := make(map[int32][]byte, n)
	w.Players().Each(func(p *Player) {
		p.Say("hello from " + p.Name())
		p.SetLevel(int16(len(p.Name())))
		want[int32(p.EntityID().Index())] = p.encodeBlock()
	})
	w.Tick()

	mu.Lock()
	defer mu.Unlock()
	if views != n {
		t.Fatalf("player updates = %d, want %d", views, n)
	}
	if len(reads) != n {
		t.Fatalf("blocks read for %d players, want %d", len(reads), n)
	}
	for idx, got := range reads {
		if len(got) != n-1 {
			t.Fatalf("player %d read by %d neighbours, want %d", idx, len(got), n-1)
		}
		for _, b := range got {
			if !bytes.Equal(b, want[idx]) {
				t.Fatalf("player %d block read as %v, want %v", idx, b, want[idx])
			}
		}
	}
}

func TestBroadcastReachesEveryPlayer(t *testing.T) {
	w := newTestWorld(t, nil, nil, nil)
	sessions := addPlayers(t, w, 3, nil)
	w.Broadcast("server restarting")
	for i, s := range sessions {
		if s.sentCount() != 1 {
			t.Fatalf("session %d got %d packets", i, s.sentCount())
		}
	}
}
