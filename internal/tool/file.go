package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
)

// resolvePath resolves a path relative to the project directory and
// prevents traversal outside it.
func resolvePath(projectDir, path string) (string, error) {
	path = strings.TrimSpace(path)
	if !filepath.IsAbs(path) && projectDir != "" {
		path = filepath.Join(projectDir, path)
	}
	resolved, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if projectDir != "" {
		pdAbs, err := filepath.Abs(projectDir)
		if err != nil {
			return "", fmt.Errorf("resolve project dir: %w", err)
		}
		if !strings.HasPrefix(resolved, pdAbs+string(filepath.Separator)) && resolved != pdAbs {
			return "", fmt.Errorf("path %q is outside the project directory", path)
		}
	}
	return resolved, nil
}

// FileReadTool implements file_read inside the project directory.
type FileReadTool struct {
	projectDir string
}

func NewFileReadTool(projectDir string) *FileReadTool {
	return &FileReadTool{projectDir: projectDir}
}

func (t *FileReadTool) Name() string { return "file_read" }

func (t *FileReadTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("missing argument: path")
	}
	resolved, err := resolvePath(t.projectDir, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return map[string]any{"path": path, "content": string(data)}, nil
}

// FileWriteTool implements file_write, creating parent directories as
// needed.
type FileWriteTool struct {
	projectDir string
}

func NewFileWriteTool(projectDir string) *FileWriteTool {
	return &FileWriteTool{projectDir: projectDir}
}

func (t *FileWriteTool) Name() string { return "file_write" }

func (t *FileWriteTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return nil, fmt.Errorf("missing argument: path")
	}
	resolved, err := resolvePath(t.projectDir, path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return map[string]any{"path": path, "bytes": len(content)}, nil
}

// FileListTool implements file_list.
type FileListTool struct {
	projectDir string
}

func NewFileListTool(projectDir string) *FileListTool {
	return &FileListTool{projectDir: projectDir}
}

func (t *FileListTool) Name() string { return "file_list" }

func (t *FileListTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	resolved, err := resolvePath(t.projectDir, path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list dir: %w", err)
	}
	files := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		entry := map[string]any{"name": e.Name(), "dir": e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			entry["size"] = info.Size()
		}
		files = append(files, entry)
	}
	return map[string]any{"path": path, "entries": files}, nil
}

var (
	_ domain.Tool = (*FileReadTool)(nil)
	_ domain.Tool = (*FileWriteTool)(nil)
	_ domain.Tool = (*FileListTool)(nil)
)
