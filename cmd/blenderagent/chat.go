package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gohothothot/GohotBlenderAgent/internal/agent"
	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
	"github.com/gohothothot/GohotBlenderAgent/internal/host"
	"github.com/gohothothot/GohotBlenderAgent/internal/meshy"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat on the terminal, without Blender",
		Long:  "Runs the agent loop against stdin. Scene tools are unavailable; search, knowledge and file tools work normally.",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	log := buildLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	prov, model, err := buildProvider(cfg, log)
	if err != nil {
		return err
	}

	// No Blender on the other end: scene operations fail with a clear
	// message instead of hanging.
	sceneOp := func(ctx context.Context, toolName string, opArgs map[string]any) (any, error) {
		return nil, fmt.Errorf("%s needs a connected Blender add-on; run 'blenderagent serve'", toolName)
	}

	registry, err := buildRegistry(bindDeps{
		cfg:     cfg,
		store:   store,
		runner:  host.Inline{},
		sceneOp: sceneOp,
		progress: func(task meshy.Task) {
			fmt.Printf("  [meshy] %s %d%%\n", task.Status, task.Progress)
		},
		logger: log,
	})
	if err != nil {
		return err
	}

	guard := buildGuard(cfg, store, log)

	loop := agent.NewLoop(agent.LoopDeps{
		Provider:  prov,
		Registry:  registry,
		Gate:      guard,
		Confirmer: stdinConfirmer{},
		Emitter:   printEmitter{},
		Store:     store,
		Prompt:    agent.NewPromptBuilder(""),
		Logger:    log,
	}, loopConfig(cfg, model))

	sessionKey := fmt.Sprintf("cli-%d", time.Now().Unix())
	fmt.Printf("blenderagent chat (%s). Type 'exit' to quit.\n", prov.Name())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		final, err := loop.HandleTurn(ctx, domain.UserTurn{
			SessionKey: sessionKey,
			Content:    line,
			Timestamp:  time.Now(),
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Println(final)
	}
}

// stdinConfirmer answers permission requests on the terminal.
type stdinConfirmer struct{}

func (stdinConfirmer) Await(ctx context.Context, dec domain.PermissionDecision) (domain.Confirmation, error) {
	fmt.Fprintf(os.Stderr, "\nPermission: %s (%s) - %s\n", dec.Tool, dec.Risk, dec.Reason)
	fmt.Fprint(os.Stderr, "Allow? [y]es once / [r]emember / [n]o: ")

	answerCh := make(chan string, 1)
	go func() {
		var response string
		fmt.Scanln(&response) //nolint:errcheck
		answerCh <- strings.ToLower(strings.TrimSpace(response))
	}()

	select {
	case <-ctx.Done():
		return domain.Confirmation{}, ctx.Err()
	case response := <-answerCh:
		conf := domain.Confirmation{Tool: dec.Tool, Scope: domain.ScopeOnce}
		switch response {
		case "y", "yes":
			conf.Approved = true
		case "r", "remember":
			conf.Approved = true
			conf.Scope = domain.ScopeRemember
		}
		return conf, nil
	}
}

// printEmitter renders loop events for the terminal.
type printEmitter struct{}

func (printEmitter) Emit(ev domain.AgentEvent) {
	switch ev.Type {
	case domain.EventToolStart:
		fmt.Printf("  [tool] %s\n", ev.Tool)
	case domain.EventToolEnd:
		if ev.IsError {
			fmt.Printf("  [tool] %s failed: %s\n", ev.Tool, ev.Content)
		}
	case domain.EventModeFallback:
		fmt.Println("  [mode] falling back to tagged tool syntax")
	case domain.EventError:
		fmt.Fprintln(os.Stderr, "  [error]", ev.Content)
	}
}
