package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/burrow/internal/agent"
	"github.com/user/burrow/internal/config"
	ctxengine "github.com/user/burrow/internal/context"
	"github.com/user/burrow/internal/delivery"
	"github.com/user/burrow/internal/directory"
	"github.com/user/burrow/internal/events"
	"github.com/user/burrow/internal/gateway"
	"github.com/user/burrow/internal/providers"
	"github.com/user/burrow/internal/runtime"
	"github.com/user/burrow/internal/runtime/tools"
	"github.com/user/burrow/internal/scheduler"
	"github.com/user/burrow/internal/server"
	"github.com/user/burrow/internal/state"
	"github.com/user/burrow/internal/supervisor"
	"github.com/user/burrow/internal/telegram"
	"github.com/user/burrow/internal/types"
)

const (
	queueDrainTimeout = 30 * time.Second
	agentDrainTimeout = 10 * time.Second
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the burrow daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFile)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// openAgentStore opens the configured agent store and returns its closer.
func openAgentStore(cfg *config.Config) (directory.Store, func(), error) {
	if cfg.Storage.Driver == "sqlite" {
		s, err := directory.OpenSQLite(filepath.Join(cfg.DataDir, "agents.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Warn("close agent store", "error", err)
			}
		}, nil
	}
	return directory.NewFileStore(filepath.Join(cfg.DataDir, "agents")), func() {}, nil
}

// baseTools builds the tools shared by the main conversation and agents.
func baseTools(ctx context.Context, cfg *config.Config) (*runtime.Registry, []*tools.MCPSource) {
	policy := &tools.Policy{
		Root:     cfg.Tools.WorkDir,
		Hidden:   cfg.Tools.Hidden,
		ReadOnly: cfg.Tools.ReadOnly,
	}
	reg := runtime.NewRegistry()
	for _, t := range tools.Filesystem(policy) {
		reg.Register(t)
	}
	reg.Register(
		tools.NewRunCommand(policy, cfg.Tools.AllowedCommands, cfg.CommandTimeout()),
		tools.NewReadURL(cfg.FetchTimeout()),
	)
	if cfg.Brave.APIKey != "" {
		reg.Register(tools.NewWebSearch(cfg.Brave.APIKey, cfg.FetchTimeout()))
	}

	servers := make([]tools.MCPServer, 0, len(cfg.MCPServers))
	for _, s := range cfg.MCPServers {
		servers = append(servers, tools.MCPServer{
			Name:             s.Name,
			Command:          s.Command,
			Args:             s.Args,
			Env:              s.Env,
			HandshakeTimeout: time.Duration(s.HandshakeTimeoutSeconds) * time.Second,
		})
	}
	sources := tools.ConnectAll(ctx, servers)
	for _, src := range sources {
		for _, t := range src.Tools() {
			reg.Register(t)
		}
	}
	return reg, sources
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.New()

	// Providers
	provs, err := providers.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}
	defer provs.Close()
	primary, err := provs.Resolve("")
	if err != nil {
		return err
	}

	// Tools
	base, sources := baseTools(ctx, cfg)
	defer func() {
		for _, src := range sources {
			src.Close()
		}
	}()
	memory := tools.NewMemory(filepath.Join(cfg.DataDir, "memory.md"))

	// Stores
	transcript := state.NewTranscript(filepath.Join(cfg.DataDir, "conversation"))
	taskStore := state.NewTaskStore(filepath.Join(cfg.DataDir, "tasks.json"))
	agentStore, closeStore, err := openAgentStore(cfg)
	if err != nil {
		return fmt.Errorf("open agent store: %w", err)
	}
	defer closeStore()
	dir := directory.New(agentStore, bus, cfg.Retention())

	// Coordinator and agents
	coord := gateway.New(transcript, primary.Provider, primary.Budget, bus)
	sup := supervisor.New(ctx, int64(cfg.Agents.MaxConcurrent))
	agents := agent.New(agent.Options{
		Directory:     dir,
		Providers:     provs.Registry,
		Tools:         base,
		Reporter:      coord,
		Supervisor:    sup,
		Bus:           bus,
		MaxIterations: cfg.Agents.MaxIterations,
		MinTaskLength: cfg.Agents.MinTaskLength,
		Cooldown:      cfg.CreateCooldown(),
		WorkDir:       cfg.Tools.WorkDir,
	})

	mainTools := base.With(agents.Tools()...)
	for _, t := range memory.Tools() {
		mainTools.Register(t)
	}

	rt := runtime.New(runtime.Options{
		Transcript:  transcript,
		Provider:    primary.Provider,
		Budget:      primary.Budget,
		MaxTokens:   primary.MaxTokens,
		Temperature: primary.Temperature,
		Engine:      ctxengine.New(primary.Model),
		Registry:    mainTools,
		Bus:         bus,
		MaxRounds:   cfg.Main.MaxToolRounds,
		Prompt: func(_ context.Context, reg *runtime.Registry) string {
			out, err := ctxengine.RenderMain(cfg.Main.SystemPrompt, ctxengine.MainPromptData{
				Tools:     reg.Names(),
				Memory:    memory.Render(),
				WorkDir:   cfg.Tools.WorkDir,
				AgentList: agents.Describe(),
			})
			if err != nil {
				slog.Error("render system prompt", "error", err)
			}
			return out
		},
	})
	coord.SetProcessor(rt.ProcessInteraction)
	coord.Start(ctx)

	recovered, err := agents.Restore(ctx)
	if err != nil {
		slog.Error("restore agents", "error", err)
	}

	slog.Info("burrow started",
		"data_dir", cfg.DataDir,
		"provider", primary.ID,
		"model", primary.Model,
		"tools", len(mainTools.Names()),
		"agents_recovered", recovered,
		"storage", cfg.Storage.Driver,
		"pid_file", pidPath,
	)

	// Delivery of scheduled replies
	deliveryReg := delivery.NewRegistry()
	deliveryReg.Register("", func(_ context.Context, origin types.Origin, message string) error {
		slog.Info("task reply", "origin", origin, "chars", len(message))
		return nil
	})

	// Telegram
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, coord, agents, cfg.Telegram.AllowedUsers)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		deliveryReg.Register("telegram:", adapter.Deliver)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Scheduler
	sched := scheduler.New(taskStore, func(task *state.Task) {
		_, err := coord.SubmitUser(task.Prompt, task.Source(), func(reply string) {
			if reply == "" || task.DeliverTo == "" {
				return
			}
			if err := deliveryReg.Deliver(ctx, task.DeliverTo, reply); err != nil {
				slog.Error("task delivery failed", "task", task.Name, "deliver_to", task.DeliverTo, "error", err)
			}
		})
		if err != nil {
			slog.Error("submit scheduled task", "task", task.Name, "error", err)
		}
	}, scheduler.Job{
		Name:     "agent-gc",
		Schedule: cfg.Agents.GCInterval,
		Run: func() {
			if n := dir.CollectGarbage(ctx, time.Now()); n > 0 {
				slog.Info("agent gc", "removed", n)
			}
		},
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	slog.Info("scheduler started")

	// HTTP API
	var httpServer *http.Server
	if cfg.HTTP.Enabled {
		httpServer = &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: server.New(coord, agents, transcript, taskStore, bus),
		}
		go func() {
			slog.Info("http server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-sigChan
	slog.Info("shutting down", "signal", sig)

	if httpServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		httpServer.Shutdown(shutdownCtx)
		done()
	}
	sched.Stop()
	if !coord.WaitIdle(queueDrainTimeout) {
		slog.Warn("queue did not drain", "pending", coord.Len())
	}
	coord.Stop()
	if !sup.WaitIdle(agentDrainTimeout) {
		slog.Warn("suspending running agents", "in_flight", sup.InFlight())
	}
	sup.Stop()
	cancel()

	if sig == syscall.SIGHUP {
		return restart(pidPath)
	}
	return nil
}

// restart replaces the process with a fresh copy of itself.
func restart(pidPath string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	os.Remove(pidPath)
	slog.Info("restarting")
	if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("re-exec: %w", err)
	}
	return nil
}
