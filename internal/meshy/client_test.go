package meshy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func testClient(url string) *Client {
	return NewClient(Config{
		APIBase:      url,
		APIKey:       "test-key",
		PollInterval: time.Millisecond,
		Logger:       testLogger(),
	})
}

func TestClient_TextTo3DPreviewSubmitsTask(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openapi/v2/text-to-3d" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got) //nolint:errcheck
		json.NewEncoder(w).Encode(map[string]string{"result": "task-123"})
	}))
	defer srv.Close()

	id, err := testClient(srv.URL).TextTo3DPreview(context.Background(), "a red dragon")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "task-123" {
		t.Fatalf("task id: %s", id)
	}
	if got["mode"] != "preview" || got["prompt"] != "a red dragon" || got["ai_model"] != "meshy-6" {
		t.Fatalf("request body: %v", got)
	}
}

func TestClient_WaitForTaskPollsToSuccess(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openapi/v2/text-to-3d/task-1" {
			t.Errorf("path: %s", r.URL.Path)
		}
		n := polls.Add(1)
		if n < 3 {
			json.NewEncoder(w).Encode(map[string]any{"status": "IN_PROGRESS", "progress": int(n) * 30})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "SUCCEEDED", "progress": 100,
			"model_urls": map[string]string{"glb": "https://cdn.example/model.glb"},
		})
	}))
	defer srv.Close()

	var seen []int
	task, err := testClient(srv.URL).WaitForTask(context.Background(), "task-1", "text-to-3d", func(t Task) {
		seen = append(seen, t.Progress)
	})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if task.Status != "SUCCEEDED" || task.ModelURLs["glb"] == "" {
		t.Fatalf("task: %+v", task)
	}
	if len(seen) != 3 || seen[0] != 30 || seen[2] != 100 {
		t.Fatalf("progress callbacks: %v", seen)
	}
}

func TestClient_WaitForTaskFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "FAILED",
			"task_error": map[string]string{"message": "content policy"},
		})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).WaitForTask(context.Background(), "task-1", "text-to-3d", nil)
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}
}

func TestClient_WaitForTaskHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "PENDING"})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := testClient(srv.URL).WaitForTask(ctx, "task-1", "text-to-3d", nil)
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestClient_ImageTaskPollsImageEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openapi/v1/image-to-3d/task-9" {
			t.Errorf("path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "SUCCEEDED"})
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).WaitForTask(context.Background(), "task-9", "image-to-3d", nil); err != nil {
		t.Fatal(err)
	}
}

type fakeImporter struct {
	path, name string
}

func (f *fakeImporter) ImportModel(ctx context.Context, path, name string) (any, error) {
	f.path, f.name = path, name
	return map[string]any{"objects": []string{name}}, nil
}

func TestGenerateTool_PreviewRefineDownloadImport(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	submissions := 0
	mux.HandleFunc("POST /openapi/v2/text-to-3d", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		submissions++
		switch submissions {
		case 1:
			if body["mode"] != "preview" {
				t.Errorf("first submission should be preview: %v", body)
			}
			json.NewEncoder(w).Encode(map[string]string{"result": "prev-1"})
		case 2:
			if body["mode"] != "refine" || body["preview_task_id"] != "prev-1" {
				t.Errorf("second submission should refine prev-1: %v", body)
			}
			json.NewEncoder(w).Encode(map[string]string{"result": "ref-1"})
		default:
			t.Error("too many submissions")
		}
	})
	mux.HandleFunc("GET /openapi/v2/text-to-3d/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "SUCCEEDED", "progress": 100,
			"model_urls": map[string]string{"glb": srv.URL + "/model.glb"},
		})
	})
	mux.HandleFunc("GET /model.glb", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("glTF-binary-bytes"))
	})

	imp := &fakeImporter{}
	tool := NewGenerateTool(testClient(srv.URL), imp, nil)

	result, err := tool.Execute(context.Background(), map[string]any{"prompt": "a red dragon statue"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if submissions != 2 {
		t.Fatalf("expected preview then refine, got %d submissions", submissions)
	}

	m := result.(map[string]any)
	if m["task_id"] != "ref-1" || m["file_path"] == "" {
		t.Fatalf("result: %v", m)
	}
	if imp.name != "a_red_dragon" {
		t.Fatalf("model name from prompt: %q", imp.name)
	}
	if imp.path != m["file_path"] {
		t.Fatal("importer should get the downloaded path")
	}
}

func TestGenerateTool_RefineFalseStopsAtPreview(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	submissions := 0
	mux.HandleFunc("POST /openapi/v2/text-to-3d", func(w http.ResponseWriter, r *http.Request) {
		submissions++
		json.NewEncoder(w).Encode(map[string]string{"result": "prev-1"})
	})
	mux.HandleFunc("GET /openapi/v2/text-to-3d/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "SUCCEEDED",
			"model_urls": map[string]string{"glb": srv.URL + "/model.glb"},
		})
	})
	mux.HandleFunc("GET /model.glb", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bytes"))
	})

	tool := NewGenerateTool(testClient(srv.URL), nil, nil)
	if _, err := tool.Execute(context.Background(), map[string]any{"prompt": "cube", "refine": false}); err != nil {
		t.Fatal(err)
	}
	if submissions != 1 {
		t.Fatalf("refine=false should submit once, got %d", submissions)
	}
}

func TestImageTool(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("POST /openapi/v1/image-to-3d", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		if body["image_url"] != "https://example.com/ref.png" || body["should_texture"] != true {
			t.Errorf("request body: %v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"result": "img-1"})
	})
	mux.HandleFunc("GET /openapi/v1/image-to-3d/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "SUCCEEDED",
			"model_urls": map[string]string{"glb": srv.URL + "/model.glb"},
		})
	})
	mux.HandleFunc("GET /model.glb", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bytes"))
	})

	tool := NewImageTool(testClient(srv.URL), nil, nil)
	result, err := tool.Execute(context.Background(), map[string]any{"image_url": "https://example.com/ref.png"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.(map[string]any)["task_id"] != "img-1" {
		t.Fatalf("result: %v", result)
	}

	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("missing image_url should error")
	}
}
