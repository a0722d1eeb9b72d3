package meshy

import (
	"context"
	"fmt"
	"strings"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
)

// Importer loads a downloaded model file into the host scene. It is
// backed by a host-thread operation; nil means download only.
type Importer interface {
	ImportModel(ctx context.Context, path, name string) (any, error)
}

// GenerateTool implements meshy_text_to_3d: preview, optional refine,
// download, import.
type GenerateTool struct {
	client     *Client
	importer   Importer
	onProgress ProgressFunc
}

func NewGenerateTool(client *Client, importer Importer, onProgress ProgressFunc) *GenerateTool {
	return &GenerateTool{client: client, importer: importer, onProgress: onProgress}
}

func (t *GenerateTool) Name() string { return "meshy_text_to_3d" }

func (t *GenerateTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	prompt, _ := args["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt must not be empty")
	}
	refine := true
	if v, ok := args["refine"].(bool); ok {
		refine = v
	}

	previewID, err := t.client.TextTo3DPreview(ctx, prompt)
	if err != nil {
		return nil, err
	}
	task, err := t.client.WaitForTask(ctx, previewID, "text-to-3d", t.onProgress)
	if err != nil {
		return nil, err
	}

	if refine {
		refineID, err := t.client.TextTo3DRefine(ctx, previewID, true)
		if err != nil {
			return nil, err
		}
		task, err = t.client.WaitForTask(ctx, refineID, "text-to-3d", t.onProgress)
		if err != nil {
			return nil, err
		}
	}

	return finishTask(ctx, t.client, t.importer, task, modelName(prompt))
}

// ImageTool implements meshy_image_to_3d.
type ImageTool struct {
	client     *Client
	importer   Importer
	onProgress ProgressFunc
}

func NewImageTool(client *Client, importer Importer, onProgress ProgressFunc) *ImageTool {
	return &ImageTool{client: client, importer: importer, onProgress: onProgress}
}

func (t *ImageTool) Name() string { return "meshy_image_to_3d" }

func (t *ImageTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	imageURL, _ := args["image_url"].(string)
	if strings.TrimSpace(imageURL) == "" {
		return nil, fmt.Errorf("image_url must not be empty")
	}

	taskID, err := t.client.ImageTo3D(ctx, imageURL, true)
	if err != nil {
		return nil, err
	}
	task, err := t.client.WaitForTask(ctx, taskID, "image-to-3d", t.onProgress)
	if err != nil {
		return nil, err
	}

	return finishTask(ctx, t.client, t.importer, task, "MeshyModel")
}

func finishTask(ctx context.Context, client *Client, importer Importer, task *Task, name string) (any, error) {
	path, err := client.DownloadGLB(ctx, task, name)
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"task_id":   task.ID,
		"status":    task.Status,
		"file_path": path,
		"model":     name,
	}
	if importer != nil {
		imported, err := importer.ImportModel(ctx, path, name)
		if err != nil {
			return nil, fmt.Errorf("import model: %w", err)
		}
		result["imported"] = imported
	}
	return result, nil
}

// modelName derives a short object name from the prompt.
func modelName(prompt string) string {
	fields := strings.Fields(prompt)
	if len(fields) > 3 {
		fields = fields[:3]
	}
	name := strings.Join(fields, "_")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" {
		name = "MeshyModel"
	}
	return name
}

var (
	_ domain.Tool = (*GenerateTool)(nil)
	_ domain.Tool = (*ImageTool)(nil)
)
