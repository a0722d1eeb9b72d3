package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gohothothot/GohotBlenderAgent/internal/agent"
	"github.com/gohothothot/GohotBlenderAgent/internal/bus"
	"github.com/gohothothot/GohotBlenderAgent/internal/channel"
	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
	"github.com/gohothothot/GohotBlenderAgent/internal/host"
	"github.com/gohothothot/GohotBlenderAgent/internal/meshy"
	"github.com/gohothothot/GohotBlenderAgent/internal/metrics"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sidecar for the Blender add-on panel",
		Long:  "Starts the websocket endpoint the add-on connects to and the agent loop behind it. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	log := buildLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	messageBus := bus.New(100, log)
	defer messageBus.Close()

	prov, model, err := buildProvider(cfg, log)
	if err != nil {
		return err
	}

	// The loop is constructed after the panel exists, so route the
	// abort frame through a late-bound reference.
	var loop *agent.Loop
	aborter := aborterFunc(func(key string) bool {
		if loop == nil {
			return false
		}
		return loop.Abort(key)
	})

	panel := channel.NewPanel(channel.Config{
		Host:    cfg.Panel.Host,
		Port:    cfg.Panel.Port,
		Path:    cfg.Panel.Path,
		Logger:  log,
		Metrics: metrics.Collector.Handler(),
	}, messageBus, aborter)

	// Scene operations funnel through the bounded host bridge so they
	// reach the add-on one at a time, in order.
	executor := host.NewExecutor(
		cfg.Host.QueueSize,
		time.Duration(cfg.Host.TimeoutSeconds)*time.Second,
		log,
	)
	go drainHostQueue(ctx, executor)

	registry, err := buildRegistry(bindDeps{
		cfg:     cfg,
		store:   store,
		runner:  executor,
		sceneOp: panel.ExecuteHostOp,
		progress: func(task meshy.Task) {
			messageBus.Emit(domain.AgentEvent{
				Type:     domain.EventMeshyProgress,
				Content:  task.Status,
				Progress: task.Progress,
			})
		},
		logger: log,
	})
	if err != nil {
		return err
	}

	guard := buildGuard(cfg, store, log)

	loop = agent.NewLoop(agent.LoopDeps{
		Provider:  prov,
		Registry:  registry,
		Gate:      guard,
		Confirmer: panel,
		Emitter:   messageBus,
		Store:     store,
		Prompt:    agent.NewPromptBuilder(""),
		Logger:    log,
	}, loopConfig(cfg, model))

	go consumeTurns(ctx, loop, messageBus, log)

	log.Info("blenderagent serving",
		"addr", cfg.Panel.Host, "port", cfg.Panel.Port, "path", cfg.Panel.Path,
		"provider", prov.Name(), "mode", cfg.Agent.Mode)

	return panel.Start(ctx)
}

// consumeTurns runs the agent loop over the inbound turn stream. Each
// turn runs to completion before the next is taken; a fresh turn for
// the same session aborts the previous one inside HandleTurn.
func consumeTurns(ctx context.Context, loop *agent.Loop, b *bus.InMemoryBus, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case turn, ok := <-b.Turns():
			if !ok {
				return
			}
			if turn.SessionKey == "" {
				turn.SessionKey = defaultSession
			}
			if _, err := loop.HandleTurn(ctx, turn); err != nil {
				log.Error("turn failed", "session", turn.SessionKey, "err", err)
			}
		}
	}
}

// drainHostQueue is the single consumer of the host bridge. It forwards
// queued scene operations to the connected add-on.
func drainHostQueue(ctx context.Context, executor *host.Executor) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			executor.Drain(16)
		}
	}
}

type aborterFunc func(string) bool

func (f aborterFunc) Abort(key string) bool { return f(key) }
