// Command dotclawd is the daemon entrypoint: it wires the durable queue,
// memory store, model registry, lane scheduler, sandbox orchestrator,
// cron/interval scheduler, message pipeline and IPC dispatcher into one
// running process, then starts whichever chat adapters are configured.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/dotclaw/host/internal/audit"
	"github.com/dotclaw/host/internal/bus"
	"github.com/dotclaw/host/internal/channels"
	"github.com/dotclaw/host/internal/config"
	"github.com/dotclaw/host/internal/groups"
	"github.com/dotclaw/host/internal/ipc"
	"github.com/dotclaw/host/internal/lanes"
	"github.com/dotclaw/host/internal/mcp"
	"github.com/dotclaw/host/internal/memory"
	"github.com/dotclaw/host/internal/models"
	otelx "github.com/dotclaw/host/internal/otel"
	"github.com/dotclaw/host/internal/pipeline"
	"github.com/dotclaw/host/internal/policy"
	"github.com/dotclaw/host/internal/queue"
	"github.com/dotclaw/host/internal/ratelimit"
	"github.com/dotclaw/host/internal/sandbox"
	"github.com/dotclaw/host/internal/schedule"
	"github.com/dotclaw/host/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s [-home DIR] [-quiet]     Start the daemon in the foreground

The daemon reads its configuration from DIR/config/*.json (default
DIR = $DOTCLAW_HOME, or ~/.dotclaw) and persists durable state under
DIR/data/. See SPEC_FULL.md §6 for the full file layout.

`, os.Args[0], os.Args[0])
}

func main() {
	homeFlag := flag.String("home", "", "home directory (overrides DOTCLAW_HOME)")
	quiet := flag.Bool("quiet", false, "suppress human-readable stderr logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	homeDir := *homeFlag
	if homeDir == "" {
		homeDir = config.HomeDir()
	}

	if err := run(homeDir, *quiet); err != nil {
		fmt.Fprintf(os.Stderr, "dotclawd: %v\n", err)
		os.Exit(1)
	}
}

func run(homeDir string, quiet bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := config.LoadRuntimeConfig(homeDir)
	if err != nil {
		return fmt.Errorf("load runtime config: %w", err)
	}
	if err := config.EnsureHomeLayout(homeDir, rt.Groups); err != nil {
		return fmt.Errorf("prepare home directory: %w", err)
	}

	if err := audit.Init(homeDir); err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}
	defer audit.Close()

	logger, closer, err := telemetry.NewLogger(homeDir, rt.LogLevel, quiet)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded")

	otelProvider, err := otelx.Init(ctx, otelx.Config{
		Enabled:     rt.OTelExporter != "" && rt.OTelExporter != "none",
		Exporter:    rt.OTelExporter,
		Endpoint:    rt.OTelEndpoint,
		ServiceName: "dotclawd",
	})
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer otelProvider.Shutdown(context.Background())

	eventBus := bus.NewWithLogger(logger)

	dataDir := filepath.Join(homeDir, "data")

	queueStore, err := queue.Open(filepath.Join(dataDir, "message-queue.db"))
	if err != nil {
		return fmt.Errorf("open message queue: %w", err)
	}
	defer queueStore.Close()
	if n, err := queueStore.ResetStalled(ctx, 0); err != nil {
		return fmt.Errorf("reset stalled messages: %w", err)
	} else if n > 0 {
		logger.Warn("reset messages left processing by a previous crash", "count", n)
	}
	logger.Info("startup phase", "phase", "recovery_scan_completed")

	memStore, err := memory.Open(filepath.Join(dataDir, "memory.db"))
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer memStore.Close()

	cooldowns, err := models.OpenCooldownStore(filepath.Join(dataDir, "failover-cooldowns.json"))
	if err != nil {
		return fmt.Errorf("open cooldown store: %w", err)
	}
	registry, err := models.OpenRegistryStore(filepath.Join(homeDir, "config", "model.json"), cooldowns)
	if err != nil {
		return fmt.Errorf("open model registry: %w", err)
	}
	logger.Info("startup phase", "phase", "stores_opened")

	groupsReg, err := groups.OpenRegistry(filepath.Join(dataDir, "registered_groups.json"))
	if err != nil {
		return fmt.Errorf("open group registry: %w", err)
	}
	for _, name := range rt.Groups {
		if groups.IsMain(name) {
			continue
		}
		_ = groupsReg.Register(groups.Group{Name: name})
	}

	sessions, err := groups.OpenSessions(filepath.Join(dataDir, "sessions.json"))
	if err != nil {
		return fmt.Errorf("open chat sessions: %w", err)
	}
	taskThreads, err := groups.OpenTaskThreads(filepath.Join(dataDir, "task-threads.json"))
	if err != nil {
		return fmt.Errorf("open task threads: %w", err)
	}
	logger.Info("startup phase", "phase", "groups_loaded")

	sem := lanes.New(lanes.Config{Capacity: rt.LaneCapacity})
	defer sem.Close()
	logger.Info("startup phase", "phase", "lanes_ready")

	orch := sandbox.NewOrchestrator()
	for _, name := range groupsReg.List() {
		cfg := sandbox.GroupConfig{
			Group:  name.Name,
			Mode:   sandbox.ModeDaemon,
			IPCDir: filepath.Join(dataDir, "ipc", name.Name),
		}
		if err := orch.RegisterGroup(ctx, cfg); err != nil {
			logger.Warn("failed to register sandbox group", "group", name.Name, "error", err)
		}
	}

	limiter := ratelimit.New(rt.RateLimitPerMin, time.Minute, rt.RateLimitBurst)
	go limiter.StartEviction(ctx, 5*time.Minute, 30*time.Minute)

	scheduleStore, err := schedule.Open(filepath.Join(dataDir, "schedule.db"))
	if err != nil {
		return fmt.Errorf("open scheduler store: %w", err)
	}
	defer scheduleStore.Close()

	pol, err := policy.LoadJSON(filepath.Join(homeDir, "config", "mount-allowlist.json"), filepath.Join(homeDir, "config", "tool-policy.json"))
	if err != nil {
		return fmt.Errorf("load tool policy: %w", err)
	}

	mcpServers, err := config.LoadMCPServers(homeDir)
	if err != nil {
		return fmt.Errorf("load mcp config: %w", err)
	}
	mcpManager := mcp.NewManager(mcpServers, pol, logger)
	defer mcpManager.Stop()
	for _, name := range groupsReg.List() {
		if err := mcpManager.ConnectAgentServers(ctx, name.Name, mcpServers); err != nil {
			logger.Warn("failed to connect mcp servers for group", "group", name.Name, "error", err)
		}
	}

	toolPolicy, _ := config.LoadToolPolicy(homeDir)
	if toolPolicy == nil {
		toolPolicy = map[string]any{}
	}
	toolPolicy["allow_capabilities"] = pol.AllowCapabilities
	toolPolicy["allow_domains"] = pol.AllowDomains
	toolPolicy["policy_version"] = pol.PolicyVersion()
	toolPolicy["mcp_servers"] = mcpManager.ServerNames("main")

	behaviorConfig, _ := config.LoadBehaviorConfig(homeDir)

	channelRegistry := channelRegistryT{group: "main"}
	channelRegistry.setPolicy(toolPolicy, behaviorConfig)

	var wg sync.WaitGroup
	cfgWatcher := config.NewWatcher(homeDir, logger)
	if err := cfgWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start", "error", err)
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range cfgWatcher.Events() {
				newPol, err := policy.LoadJSON(filepath.Join(homeDir, "config", "mount-allowlist.json"), filepath.Join(homeDir, "config", "tool-policy.json"))
				if err != nil {
					logger.Warn("policy reload failed, keeping previous policy", "error", err)
					continue
				}
				newToolPolicy, _ := config.LoadToolPolicy(homeDir)
				if newToolPolicy == nil {
					newToolPolicy = map[string]any{}
				}
				newToolPolicy["allow_capabilities"] = newPol.AllowCapabilities
				newToolPolicy["allow_domains"] = newPol.AllowDomains
				newToolPolicy["policy_version"] = newPol.PolicyVersion()
				newToolPolicy["mcp_servers"] = mcpManager.ServerNames("main")
				newBehaviorConfig, _ := config.LoadBehaviorConfig(homeDir)
				channelRegistry.setPolicy(newToolPolicy, newBehaviorConfig)
				logger.Info("tool policy reloaded", "policy_version", newPol.PolicyVersion())
			}
		}()
	}

	dispatcher := schedule.NewDispatcher(schedule.DispatcherConfig{
		Store:  scheduleStore,
		Lanes:  sem,
		Run:    scheduledRunFunc(orch, taskThreads, &channelRegistry),
		Logger: logger,
	})
	dispatcher.Start(ctx)
	logger.Info("startup phase", "phase", "scheduler_started")

	pipe := pipeline.New(pipeline.Config{
		QueueStore:   queueStore,
		MemoryStore:  memStore,
		Registry:     registry,
		Lanes:        sem,
		Orchestrator: orch,
		Sessions:     sessions,
		Limiter:      limiter,
		Bus:          eventBus,
		Logger:       logger,
		Deliver:      channelRegistry.deliver,
		Attachments:  channelRegistry.attachments,
		Bindings:     channelRegistry.binding,
	})
	logger.Info("startup phase", "phase", "pipeline_ready")

	// Wake-recovery resequencing: any chat left with pending messages from
	// before a restart (queued but never drained) gets its drain loop
	// restarted now, rather than waiting for its next inbound message.
	if pending, perr := queueStore.ChatsWithPending(ctx); perr != nil {
		logger.Warn("failed to list chats with pending messages", "error", perr)
	} else {
		for _, chatID := range pending {
			pipe.TryDrain(ctx, chatID)
		}
	}

	disp := ipc.NewDispatcher(ipc.Config{
		Memory:       memStore,
		Schedule:     scheduleStore,
		Registry:     registry,
		Groups:       groupsReg,
		Threads:      taskThreads,
		Orchestrator: orch,
		Editor:       &channelRegistry,
		ReadConfig: func() map[string]any {
			tp, bc := channelRegistry.currentPolicy()
			return map[string]any{
				"tool_policy": tp,
				"behavior":    bc,
			}
		},
		Logger: logger,
	})

	for _, name := range groupsReg.List() {
		watcher, err := ipc.NewGroupWatcher(ipc.WatcherConfig{
			RootDir: filepath.Join(dataDir, "ipc"),
			Group:   name.Name,
		}, disp, logger)
		if err != nil {
			logger.Warn("failed to start ipc watcher", "group", name.Name, "error", err)
			continue
		}
		wg.Add(1)
		go func(w *ipc.GroupWatcher) {
			defer wg.Done()
			defer w.Close()
			if err := w.Run(ctx); err != nil {
				logger.Error("ipc watcher stopped", "error", err)
			}
		}(watcher)
	}

	if rt.TelegramToken != "" {
		tg := channels.NewTelegramChannel(rt.TelegramToken, rt.TelegramUserIDs, "main", pipe, logger)
		channelRegistry.register(tg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tg.Start(ctx); err != nil {
				logger.Error("telegram channel stopped", "error", err)
			}
		}()
	}
	if rt.DiscordToken != "" {
		dc := channels.NewDiscordChannel(rt.DiscordToken, rt.DiscordGuildID, "main", pipe, logger)
		channelRegistry.register(dc)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dc.Start(ctx); err != nil {
				logger.Error("discord channel stopped", "error", err)
			}
		}()
	}

	logger.Info("dotclawd started", "home", homeDir, "groups", len(groupsReg.List()))
	<-ctx.Done()
	logger.Info("dotclawd shutting down")
	wg.Wait()
	return nil
}
