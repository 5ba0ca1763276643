package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loomworks/loom/internal/blob"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/conn"
	"github.com/loomworks/loom/internal/credits"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/run"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/internal/tools"
	"github.com/loomworks/loom/pkg/models"
)

// echoProvider answers every completion with one fixed text chunk.
type echoProvider struct{ text string }

func (p echoProvider) Complete(ctx context.Context, req *llm.Request) (<-chan *llm.Chunk, error) {
	out := make(chan *llm.Chunk, 2)
	out <- &llm.Chunk{Text: p.text}
	out <- &llm.Chunk{Usage: &models.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}, Done: true}
	close(out)
	return out, nil
}

func (echoProvider) Name() string        { return "openai" }
func (echoProvider) Models() []llm.Model { return nil }
func (echoProvider) SupportsTools() bool { return true }

func newGatewayServer(t *testing.T, baseURL string) (*Server, store.Stores) {
	t.Helper()

	blobs, err := blob.NewLocalStorage(t.TempDir(), baseURL)
	if err != nil {
		t.Fatal(err)
	}
	stores := store.NewMemoryStores(blobs)
	if err := stores.Agents.Put(context.Background(), &models.AgentConfig{
		ID:           "agent-1",
		Name:         "Helper",
		Model:        "gpt-4o",
		Mode:         models.AgentModeLocal,
		Instructions: "You are helpful.",
	}); err != nil {
		t.Fatal(err)
	}

	manager := conn.NewChannelManager(nil)
	providers := llm.NewProviderRegistry("openai")
	providers.Register(echoProvider{text: "hello back"})
	toolReg := tools.NewRegistry()

	orch := run.NewOrchestrator(run.Options{
		Stores:    stores,
		Manager:   manager,
		Tools:     toolReg,
		Runner:    tools.NewRunner(toolReg, time.Second, nil, nil),
		Providers: providers,
		Credits:   credits.NewTable(nil, 0),
	})

	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second, MaxUploadBytes: 1 << 20}
	return NewServer(cfg, run.NewEntry(orch, nil), manager, stores, nil), stores
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	srv, _ := newGatewayServer(t, "")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestFileUploadAndStreamDownload(t *testing.T) {
	srv, _ := newGatewayServer(t, "")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	body, contentType := multipartBody(t, "file", "notes.txt", "file contents")
	resp, err := http.Post(ts.URL+"/v1/files", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}

	var uploaded fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		t.Fatal(err)
	}
	if uploaded.FileID == "" || uploaded.Size != int64(len("file contents")) {
		t.Fatalf("unexpected response: %+v", uploaded)
	}

	// Without a presigned URL the bytes stream directly.
	dl, err := http.Get(ts.URL + "/v1/files/" + uploaded.FileID)
	if err != nil {
		t.Fatal(err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", dl.StatusCode)
	}
	var got bytes.Buffer
	if _, err := got.ReadFrom(dl.Body); err != nil {
		t.Fatal(err)
	}
	if got.String() != "file contents" {
		t.Errorf("downloaded %q", got.String())
	}
}

func TestFileDownloadRedirectsToPresignedURL(t *testing.T) {
	srv, _ := newGatewayServer(t, "http://files.test")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	body, contentType := multipartBody(t, "file", "pic.png", "png-bytes")
	resp, err := http.Post(ts.URL+"/v1/files", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var uploaded fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		t.Fatal(err)
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	dl, err := client.Get(ts.URL + "/v1/files/" + uploaded.FileID)
	if err != nil {
		t.Fatal(err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusFound {
		t.Fatalf("status = %d", dl.StatusCode)
	}
	if loc := dl.Header.Get("Location"); !strings.HasPrefix(loc, "http://files.test/") {
		t.Errorf("location = %q", loc)
	}
}

func TestFileDownloadMissing(t *testing.T) {
	srv, _ := newGatewayServer(t, "")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/files/file_nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestFileUploadTooLarge(t *testing.T) {
	srv, _ := newGatewayServer(t, "")
	srv.cfg.MaxUploadBytes = 16
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	body, contentType := multipartBody(t, "file", "big.bin", strings.Repeat("x", 1024))
	resp, err := http.Post(ts.URL+"/v1/files", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestWebSocketTriggersRun(t *testing.T) {
	srv, stores := newGatewayServer(t, "")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chan-1"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	inbound, _ := json.Marshal(map[string]any{
		"message":  "hi",
		"agentId":  "agent-1",
		"threadId": "thread-1",
		"runId":    "run-1",
	})
	if err := client.WriteMessage(websocket.TextMessage, inbound); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var sawText, sawClose bool
	for !sawClose {
		_ = client.SetReadDeadline(deadline)
		_, data, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("read failed before terminal frame: %v", err)
		}
		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		if frame.RunID != "run-1" {
			t.Errorf("run id = %q", frame.RunID)
		}
		switch frame.Event {
		case models.FrameEventMessage:
			if frame.Message != nil && strings.Contains(frame.Message.Text(), "hello back") {
				sawText = true
			}
		case models.FrameEventClose:
			sawClose = true
		case models.FrameEventError:
			t.Fatalf("unexpected error frame: %s", data)
		}
	}
	if !sawText {
		t.Error("no streamed text observed")
	}

	// The run persisted behind the socket.
	waitFor(t, func() bool {
		run, err := stores.Runs.Get(context.Background(), "run-1")
		return err == nil && run != nil && run.Status == models.RunStatusCompleted
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(fmt.Errorf("condition not met before deadline"))
}
