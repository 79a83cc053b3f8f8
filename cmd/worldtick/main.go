package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l1jgo/worldtick/internal/config"
	"github.com/l1jgo/worldtick/internal/data"
	"github.com/l1jgo/worldtick/internal/handler"
	gonet "github.com/l1jgo/worldtick/internal/net"
	"github.com/l1jgo/worldtick/internal/net/packet"
	"github.com/l1jgo/worldtick/internal/persist"
	"github.com/l1jgo/worldtick/internal/scripting"
	"github.com/l1jgo/worldtick/internal/system"
	"github.com/l1jgo/worldtick/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             WorldTick  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m        多角色模擬 · 世界時脈伺服器        \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s \033[90m(編號: %d)\033[0m\n\n", serverName, serverID)
}

// displayWidth counts CJK characters as two columns.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		if r > 0x7F {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func printSection(title string) {
	lineLen := max(46-displayWidth(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := max(42-displayWidth(label)-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("WORLDTICK_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	// 3. Persistence: PostgreSQL when configured, log-only otherwise
	printSection("資料庫")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		base      persist.Store
		journal   system.Journal
		snapshots handler.SnapshotLoader
	)
	if cfg.Database.DSN == "" {
		base = persist.NewLogStore(log.Named("store"))
		printOK("未設定資料庫，快照僅寫入日誌")
	} else {
		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL 連線成功")

		if err := persist.RunMigrations(ctx, db.Pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		version, err := persist.SchemaVersion(ctx, db.Pool)
		if err != nil {
			return fmt.Errorf("schema version: %w", err)
		}
		printOK(fmt.Sprintf("資料庫遷移完成 (版本 %d)", version))

		repo := persist.NewSnapshotRepo(db)
		if n, err := repo.Count(ctx); err == nil {
			printStat("已存角色快照", n)
		}
		base = repo
		snapshots = repo
		journal = persist.NewJournalRepo(db)
	}
	store := persist.NewDedupStore(base)
	emergency := persist.NewEmergencySaver(base, cfg.Persist.EmergencyConcurrency, log.Named("emergency"))
	fmt.Println()

	// 4. Load static data
	printSection("遊戲資料")
	npcTable, err := data.LoadNpcTable(cfg.Data.NpcList)
	if err != nil {
		return fmt.Errorf("npc table: %w", err)
	}
	printStat("NPC 模板", npcTable.Count())
	spawns, err := data.LoadSpawnList(cfg.Data.SpawnList)
	if err != nil {
		return fmt.Errorf("spawn list: %w", err)
	}
	printStat("生怪點", len(spawns))
	fmt.Println()

	// 5. World
	w := world.New(world.OptionsFromConfig(cfg.Tick, cfg.Persist), store, emergency, log.Named("world"))
	spawned := spawnNpcs(w, npcTable, spawns, cfg.Tick.Rate, log)

	// 6. Scripts
	printSection("腳本")
	engine, err := scripting.NewEngine(cfg.Scripting.Dir, log.Named("lua"))
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer engine.Close()
	printStat("Lua 計時器", len(engine.Timers()))
	var watcher *scripting.Watcher
	if cfg.Scripting.HotReload {
		watcher, err = scripting.NewWatcher(cfg.Scripting.Dir, log.Named("lua"))
		if err != nil {
			return fmt.Errorf("script watcher: %w", err)
		}
		defer watcher.Close()
		printOK("腳本熱重載已啟用")
	}
	fmt.Println()

	// 7. Network
	netServer, err := gonet.NewServer(cfg.Network.BindAddress, gonet.SessionOptions{
		InQueueSize:    cfg.Network.InQueueSize,
		OutQueueSize:   cfg.Network.OutQueueSize,
		PacketsPerTick: cfg.Network.PacketsPerTick,
		WriteTimeout:   cfg.Network.WriteTimeout,
		ReadTimeout:    cfg.Network.ReadTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go netServer.AcceptLoop()

	online := handler.NewOnline()
	pktReg := packet.NewRegistry(log)
	handler.RegisterAll(pktReg, &handler.Deps{
		World:     w,
		Online:    online,
		Spawn:     world.Position{X: cfg.Server.StartX, Y: cfg.Server.StartY, MapID: cfg.Server.StartMap},
		Snapshots: snapshots,
		LoadLimit: cfg.Persist.SaveTimeout,
		Log:       log,
	})

	// 8. Systems
	sessions := gonet.NewSessionStore()
	runner := w.Runner()
	runner.Register(system.NewInputSystem(netServer.NewSessions(), pktReg, sessions, log))
	runner.Register(system.NewScriptSystem(engine, watcher, w, log.Named("lua")))
	runner.Register(system.NewOutputSystem(sessions))
	runner.Register(system.NewPersistenceSystem(w, journal, cfg.Persist.AutosaveTicks, log))
	runner.Register(system.NewCleanupSystem(sessions, online, w, log))

	// 9. Tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Tick.Rate)
	defer ticker.Stop()

	printSection("伺服器就緒")
	printStat("NPC 生成", spawned)
	printReady(fmt.Sprintf("監聽位址 %s", netServer.Addr().String()))
	printReady(fmt.Sprintf("世界時脈啟動 (tick: %s)", cfg.Tick.Rate))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			w.Tick()
		case sig := <-shutdownCh:
			log.Info("收到關閉信號", zap.String("signal", sig.String()))
			netServer.Shutdown()

			sctx, scancel := context.WithTimeout(context.Background(), cfg.Persist.SaveTimeout*2)
			defer scancel()
			if err := w.Shutdown(sctx); err != nil {
				log.Error("關閉時存檔未完成", zap.Error(err))
			}
			st := w.Stats()
			log.Info("伺服器已停止",
				zap.Uint64("ticks", st.Tick),
				zap.Uint64("evictions", st.Evictions),
				zap.Uint64("abandoned", st.Abandoned),
				zap.Uint64("dedup_skipped", store.Skipped()),
			)
			return nil
		}
	}
}

// spawnNpcs places every spawn entry's npcs around its point. Respawn
// delays are converted from seconds to ticks.
func spawnNpcs(w *world.World, npcs *data.NpcTable, spawns []data.SpawnEntry, rate time.Duration, log *zap.Logger) int {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	count := 0
	for _, sp := range spawns {
		tmpl := npcs.Get(sp.NpcID)
		if tmpl == nil {
			log.Warn("生怪點引用未知 NPC", zap.Int32("npc_id", sp.NpcID))
			continue
		}
		radius := max(sp.RandomX, sp.RandomY)
		respawnTicks := 0
		if sp.RespawnDelay > 0 {
			respawnTicks = max(int(time.Duration(sp.RespawnDelay)*time.Second/rate), 1)
		}
		for i := 0; i < sp.Count; i++ {
			home := world.Position{X: sp.X, Y: sp.Y, MapID: sp.MapID}
			if sp.RandomX > 0 {
				home.X += int32(rng.Intn(int(sp.RandomX)*2+1)) - sp.RandomX
			}
			if sp.RandomY > 0 {
				home.Y += int32(rng.Intn(int(sp.RandomY)*2+1)) - sp.RandomY
			}
			if !w.RegisterNpc(world.NewNpc(tmpl, home, radius, respawnTicks)) {
				log.Warn("NPC 容量已滿，停止生怪", zap.Int("spawned", count))
				return count
			}
			count++
		}
	}
	return count
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
