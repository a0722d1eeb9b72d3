package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gohothothot/GohotBlenderAgent/internal/agent"
	"github.com/gohothothot/GohotBlenderAgent/internal/config"
	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
	"github.com/gohothothot/GohotBlenderAgent/internal/host"
	"github.com/gohothothot/GohotBlenderAgent/internal/knowledge"
	"github.com/gohothothot/GohotBlenderAgent/internal/memory"
	"github.com/gohothothot/GohotBlenderAgent/internal/meshy"
	"github.com/gohothothot/GohotBlenderAgent/internal/permission"
	"github.com/gohothothot/GohotBlenderAgent/internal/provider"
	"github.com/gohothothot/GohotBlenderAgent/internal/tool"
)

// defaultSession keys conversation history and the action log when the
// panel does not name one.
const defaultSession = "panel"

// hostOpFunc executes one scene operation on the host application.
type hostOpFunc func(ctx context.Context, toolName string, args map[string]any) (any, error)

func buildStore(cfg *config.Config, log *slog.Logger) (*memory.SQLiteStore, error) {
	store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	return store, nil
}

func buildProvider(cfg *config.Config, log *slog.Logger) (domain.Provider, string, error) {
	name := cfg.General.DefaultProvider
	pc, ok := cfg.Providers[name]
	if !ok || !pc.Enabled {
		return nil, "", fmt.Errorf("provider %q is not configured or disabled", name)
	}
	p, err := provider.New(name, pc, log)
	if err != nil {
		return nil, "", err
	}
	return p, pc.DefaultModel, nil
}

// buildGuard wires the permission guard, with its audit trail feeding
// the action log when enabled.
func buildGuard(cfg *config.Config, store *memory.SQLiteStore, log *slog.Logger) *permission.Guard {
	var audit func(domain.AuditEntry)
	if cfg.Permission.AuditLog && store != nil {
		audit = func(e domain.AuditEntry) {
			entry := domain.ActionEntry{
				Type:    "permission",
				Tool:    e.ToolName,
				Success: e.Result == "allowed" || e.Result == "confirmed",
				Summary: e.Action + ": " + e.Result,
				Error:   e.Details,
			}
			if err := store.LogAction(context.Background(), defaultSession, entry); err != nil {
				log.Warn("audit entry not persisted", "err", err)
			}
		}
	}
	return permission.New(permission.Options{
		Level:            cfg.Permission.PolicyLevel(),
		ConfirmHighRisk:  cfg.Permission.ConfirmHighRisk,
		AllowDestructive: cfg.Permission.AllowDestructiveTools,
		AllowFileWrite:   cfg.Permission.AllowFileWriteTools,
		AllowNetwork:     cfg.Permission.AllowNetworkTools,
	}, log, audit)
}

func loopConfig(cfg *config.Config, model string) agent.LoopConfig {
	return agent.LoopConfig{
		Mode:           cfg.Agent.Mode,
		AutoFallback:   cfg.Agent.AutoFallback,
		MaxToolRounds:  cfg.Agent.MaxToolRounds,
		HistoryLimit:   cfg.Agent.HistoryLimit,
		MaxTokens:      cfg.Agent.MaxTokens,
		Temperature:    cfg.Agent.Temperature,
		Model:          model,
		ConfirmTimeout: time.Duration(cfg.Permission.ConfirmTimeoutSeconds) * time.Second,
	}
}

// bindDeps carries the collaborators the catalog binder hands to each
// tool implementation.
type bindDeps struct {
	cfg      *config.Config
	store    *memory.SQLiteStore
	runner   host.Runner
	sceneOp  hostOpFunc
	progress meshy.ProgressFunc
	logger   *slog.Logger
}

// newBinder maps every catalog definition to its implementation. Scene
// operations go through the host bridge; the rest run in-process.
func newBinder(deps bindDeps) tool.Binder {
	var meshyClient *meshy.Client
	if deps.cfg.Meshy.Enabled {
		meshyClient = meshy.NewClient(meshy.Config{
			APIBase:      deps.cfg.Meshy.APIBase,
			APIKey:       deps.cfg.Meshy.APIKey,
			PollInterval: time.Duration(deps.cfg.Meshy.PollSeconds) * time.Second,
			Model:        deps.cfg.Meshy.DefaultModel,
			Logger:       deps.logger,
		})
	}
	importer := &hostImporter{runner: deps.runner, op: deps.sceneOp}

	return func(def domain.ToolDefinition) domain.Tool {
		switch def.Name {
		case "kb_search":
			return knowledge.NewSearchTool(deps.store, deps.logger)
		case "kb_save":
			return knowledge.NewSaveTool(deps.store, deps.logger)
		case "web_search":
			return tool.NewWebSearchTool()
		case "web_fetch":
			return tool.NewWebFetchTool()
		case "file_read":
			return tool.NewFileReadTool(deps.cfg.General.ProjectDir)
		case "file_write":
			return tool.NewFileWriteTool(deps.cfg.General.ProjectDir)
		case "file_list":
			return tool.NewFileListTool(deps.cfg.General.ProjectDir)
		case "get_action_log":
			return tool.NewActionLogTool(deps.store, defaultSession)
		case "meshy_text_to_3d":
			if meshyClient == nil {
				return tool.NewDisabledTool(def.Name, "set meshy.enabled and an API key in the config")
			}
			return meshy.NewGenerateTool(meshyClient, importer, deps.progress)
		case "meshy_image_to_3d":
			if meshyClient == nil {
				return tool.NewDisabledTool(def.Name, "set meshy.enabled and an API key in the config")
			}
			return meshy.NewImageTool(meshyClient, importer, deps.progress)
		case "execute_python":
			return tool.NewDisabledTool(def.Name, "arbitrary Python execution is not available")
		default:
			// Everything else mutates or reads the Blender scene, so it
			// goes through the host bridge.
			name := def.Name
			return host.NewTool(name, deps.runner, func(ctx context.Context, args map[string]any) (any, error) {
				return deps.sceneOp(ctx, name, args)
			})
		}
	}
}

func buildRegistry(deps bindDeps) (*tool.Registry, error) {
	reg := tool.NewRegistry(deps.logger, tool.Options{Strict: true})
	n, failed, err := tool.LoadCatalog(reg, newBinder(deps))
	if err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("catalog tools failed to bind: %v", failed)
	}
	deps.logger.Info("tool catalog loaded", "tools", n)
	return reg, nil
}

// hostImporter loads a downloaded Meshy model through the host bridge.
type hostImporter struct {
	runner host.Runner
	op     hostOpFunc
}

func (h *hostImporter) ImportModel(ctx context.Context, path, name string) (any, error) {
	return h.runner.Submit(ctx, func(ctx context.Context) (any, error) {
		return h.op(ctx, "import_model", map[string]any{"path": path, "name": name})
	})
}
