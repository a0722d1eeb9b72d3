// Package meshy talks to the Meshy generation API: submit a task, poll
// it to completion, download the resulting GLB.
package meshy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	defaultAPIBase = "https://api.meshy.ai"
	defaultModel   = "meshy-6"

	textTo3DEndpoint  = "/openapi/v2/text-to-3d"
	imageTo3DEndpoint = "/openapi/v1/image-to-3d"
)

// ErrTaskFailed is wrapped into the error returned when the remote task
// ends in FAILED state.
var ErrTaskFailed = errors.New("meshy task failed")

// Task is a snapshot of a generation task's remote state.
type Task struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Status       string            `json:"status"`
	Progress     int               `json:"progress"`
	ModelURLs    map[string]string `json:"model_urls,omitempty"`
	ThumbnailURL string            `json:"thumbnail_url,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// ProgressFunc receives a task snapshot after every poll.
type ProgressFunc func(task Task)

type Config struct {
	APIBase      string
	APIKey       string
	PollInterval time.Duration
	Model        string
	Logger       *slog.Logger
}

type Client struct {
	base   string
	apiKey string
	model  string
	poll   time.Duration
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		base:   cfg.APIBase,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		poll:   cfg.PollInterval,
		http:   &http.Client{Timeout: 60 * time.Second},
		logger: cfg.Logger,
	}
}

func (c *Client) request(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("meshy request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("meshy response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("meshy API error %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("meshy response decode: %w", err)
		}
	}
	return nil
}

type submitResponse struct {
	Result string `json:"result"`
}

// TextTo3DPreview submits a preview-quality generation and returns the
// task id.
func (c *Client) TextTo3DPreview(ctx context.Context, prompt string) (string, error) {
	var out submitResponse
	err := c.request(ctx, http.MethodPost, textTo3DEndpoint, map[string]any{
		"mode":     "preview",
		"prompt":   prompt,
		"ai_model": c.model,
	}, &out)
	if err != nil {
		return "", err
	}
	c.logger.Info("meshy preview submitted", "task", out.Result)
	return out.Result, nil
}

// TextTo3DRefine submits the refine stage for a finished preview task.
func (c *Client) TextTo3DRefine(ctx context.Context, previewTaskID string, enablePBR bool) (string, error) {
	var out submitResponse
	err := c.request(ctx, http.MethodPost, textTo3DEndpoint, map[string]any{
		"mode":            "refine",
		"preview_task_id": previewTaskID,
		"enable_pbr":      enablePBR,
	}, &out)
	if err != nil {
		return "", err
	}
	c.logger.Info("meshy refine submitted", "task", out.Result)
	return out.Result, nil
}

// ImageTo3D submits an image-to-model generation and returns the task id.
func (c *Client) ImageTo3D(ctx context.Context, imageURL string, enablePBR bool) (string, error) {
	var out submitResponse
	err := c.request(ctx, http.MethodPost, imageTo3DEndpoint, map[string]any{
		"image_url":      imageURL,
		"enable_pbr":     enablePBR,
		"ai_model":       c.model,
		"should_texture": true,
	}, &out)
	if err != nil {
		return "", err
	}
	c.logger.Info("meshy image task submitted", "task", out.Result)
	return out.Result, nil
}

type statusResponse struct {
	Status       string            `json:"status"`
	Progress     int               `json:"progress"`
	ModelURLs    map[string]string `json:"model_urls"`
	ThumbnailURL string            `json:"thumbnail_url"`
	TaskError    struct {
		Message string `json:"message"`
	} `json:"task_error"`
}

// WaitForTask polls the task until it reaches SUCCEEDED or FAILED,
// calling onProgress after every poll. A FAILED task returns an error
// wrapping ErrTaskFailed.
func (c *Client) WaitForTask(ctx context.Context, taskID, taskType string, onProgress ProgressFunc) (*Task, error) {
	endpoint := textTo3DEndpoint
	if taskType == "image-to-3d" {
		endpoint = imageTo3DEndpoint
	}

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		var status statusResponse
		if err := c.request(ctx, http.MethodGet, endpoint+"/"+taskID, nil, &status); err != nil {
			return nil, err
		}

		task := Task{
			ID:           taskID,
			Type:         taskType,
			Status:       status.Status,
			Progress:     status.Progress,
			ModelURLs:    status.ModelURLs,
			ThumbnailURL: status.ThumbnailURL,
			ErrorMessage: status.TaskError.Message,
		}
		if onProgress != nil {
			onProgress(task)
		}

		switch task.Status {
		case "SUCCEEDED":
			return &task, nil
		case "FAILED":
			msg := task.ErrorMessage
			if msg == "" {
				msg = "unknown error"
			}
			return &task, fmt.Errorf("%w: %s", ErrTaskFailed, msg)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DownloadGLB fetches the task's GLB into the system temp directory and
// returns the file path. The host side imports from that path.
func (c *Client) DownloadGLB(ctx context.Context, task *Task, name string) (string, error) {
	glbURL := task.ModelURLs["glb"]
	if glbURL == "" {
		return "", fmt.Errorf("task %s has no glb url", task.ID)
	}

	dir := filepath.Join(os.TempDir(), "meshy_models")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".glb")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, glbURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("download model: HTTP %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write model file: %w", err)
	}

	c.logger.Info("meshy model downloaded", "task", task.ID, "path", path)
	return path, nil
}
