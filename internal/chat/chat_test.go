package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/openai/openai-go/v3/option"

	"hark/internal/dialog"
	"hark/pkg/protocol"
)

func quiet() *log.Logger {
	return log.New(log.NewTextHandler(io.Discard, nil))
}

var history = []dialog.Turn{
	{Role: dialog.System, Content: "You are a smart thermostat."},
	{Role: dialog.Control, Content: "thinking"},
	{Role: dialog.User, Content: "I feel cold."},
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   *bool         `json:"stream"`
}

func decodeRequest(t *testing.T, r *http.Request) wireRequest {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Errorf("read body: %v", err)
	}
	var req wireRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		t.Errorf("decode body %s: %v", body, err)
	}
	return req
}

func checkRoles(t *testing.T, msgs []wireMessage) {
	t.Helper()
	want := []string{"system", "control", "user"}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %+v", len(want), msgs)
	}
	for i, m := range msgs {
		if m.Role != want[i] {
			t.Errorf("message %d role %q, want %q", i, m.Role, want[i])
		}
	}
}

func ollamaServer(t *testing.T, models []string) (*httptest.Server, *[]wireRequest, *[]string) {
	t.Helper()
	var chats []wireRequest
	var pulls []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/api/chat":
			chats = append(chats, decodeRequest(t, r))
			fmt.Fprintln(w, `{"model":"granite3.2:2b","message":{"role":"assistant","content":"Warming up."},"done":true,"done_reason":"stop"}`)
		case r.URL.Path == "/api/tags":
			var items []string
			for _, m := range models {
				items = append(items, fmt.Sprintf(`{"name":%q,"model":%q}`, m, m))
			}
			fmt.Fprintf(w, `{"models":[%s]}`, strings.Join(items, ","))
		case r.URL.Path == "/api/pull":
			body, _ := io.ReadAll(r.Body)
			pulls = append(pulls, string(body))
			fmt.Fprintln(w, `{"status":"pulling manifest"}`)
			fmt.Fprintln(w, `{"status":"success"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &chats, &pulls
}

func TestOllamaChat(t *testing.T) {
	srv, chats, _ := ollamaServer(t, nil)
	o, err := NewOllama(srv.URL, srv.Client(), quiet())
	if err != nil {
		t.Fatalf("NewOllama() returned error: %v", err)
	}

	got, err := o.Chat(context.Background(), "granite3.2:2b", history)
	if err != nil {
		t.Fatalf("Chat() returned error: %v", err)
	}
	if got != "Warming up." {
		t.Fatalf("unexpected reply %q", got)
	}

	req := (*chats)[0]
	if req.Model != "granite3.2:2b" || req.Stream == nil || *req.Stream {
		t.Fatalf("unexpected request %+v", req)
	}
	checkRoles(t, req.Messages)
}

func TestOllamaHealth(t *testing.T) {
	srv, _, _ := ollamaServer(t, nil)
	o, _ := NewOllama(srv.URL, srv.Client(), quiet())
	if err := o.Health(context.Background()); err != nil {
		t.Fatalf("Health() returned error: %v", err)
	}

	srv.Close()
	if err := o.Health(context.Background()); !errors.Is(err, dialog.ErrChatUnavailable) {
		t.Fatalf("expected ErrChatUnavailable, got %v", err)
	}
}

func TestOllamaEnsureModel(t *testing.T) {
	tests := []struct {
		name   string
		models []string
		want   string
		pulled bool
	}{
		{"present", []string{"granite3.2:2b"}, "granite3.2:2b", false},
		{"implicit latest", []string{"llama3:latest"}, "llama3", false},
		{"missing", []string{"llama3:latest"}, "granite3.2:2b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, pulls := ollamaServer(t, tt.models)
			o, _ := NewOllama(srv.URL, srv.Client(), quiet())

			if err := o.EnsureModel(context.Background(), tt.want); err != nil {
				t.Fatalf("EnsureModel() returned error: %v", err)
			}
			if pulled := len(*pulls) > 0; pulled != tt.pulled {
				t.Fatalf("pulled=%v, want %v", pulled, tt.pulled)
			}
			if tt.pulled && !strings.Contains((*pulls)[0], tt.want) {
				t.Errorf("pull request %s does not name the model", (*pulls)[0])
			}
		})
	}
}

func TestOpenAIChat(t *testing.T) {
	var got wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			got = decodeRequest(t, r)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":0,"model":"granite3.2:2b",`+
				`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Set to 22."}}],`+
				`"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13}}`)
		case "/v1/models":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"object":"list","data":[{"id":"granite3.2:2b","object":"model","created":0,"owned_by":"library"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	o := NewOpenAI(srv.URL+"/v1/", "test", srv.Client(), quiet(), option.WithMaxRetries(0))

	reply, err := o.Chat(context.Background(), "granite3.2:2b", history)
	if err != nil {
		t.Fatalf("Chat() returned error: %v", err)
	}
	if reply != "Set to 22." {
		t.Fatalf("unexpected reply %q", reply)
	}
	if got.Model != "granite3.2:2b" {
		t.Errorf("unexpected model %q", got.Model)
	}
	checkRoles(t, got.Messages)
	if got.Messages[1].Content != "thinking" {
		t.Errorf("control content %q", got.Messages[1].Content)
	}

	if err := o.Health(context.Background()); err != nil {
		t.Fatalf("Health() returned error: %v", err)
	}
}

func TestOpenAIHealthUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	o := NewOpenAI(url+"/v1/", "test", http.DefaultClient, quiet(), option.WithMaxRetries(0))
	if err := o.Health(context.Background()); !errors.Is(err, dialog.ErrChatUnavailable) {
		t.Fatalf("expected ErrChatUnavailable, got %v", err)
	}
}

func TestNewBackend(t *testing.T) {
	for _, name := range []string{"ollama", "openai", "llamacli", ""} {
		b, err := New(Config{Backend: name, BaseURL: "http://127.0.0.1:11434"}, quiet())
		if err != nil {
			t.Fatalf("New(%q) returned error: %v", name, err)
		}
		want := name
		if want == "" {
			want = BackendOllama
		}
		if b.Name() != want {
			t.Errorf("New(%q).Name() = %q", name, b.Name())
		}
	}
	if _, err := New(Config{Backend: "bard"}, quiet()); err == nil {
		t.Fatal("unknown backend accepted")
	}
}

func TestNewBackendURLFromEnvironment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/v1/models":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"object":"list","data":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tests := []struct {
		backend string
		env     map[string]string
	}{
		{BackendOllama, map[string]string{"OLLAMA_HOST": srv.URL}},
		{BackendOpenAI, map[string]string{"OPENAI_BASE_URL": srv.URL + "/v1/", "OPENAI_API_KEY": "test"}},
	}

	for _, tc := range tests {
		t.Run(tc.backend, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			b, err := New(Config{Backend: tc.backend}, quiet())
			if err != nil {
				t.Fatalf("New() returned error: %v", err)
			}
			if err := b.Health(context.Background()); err != nil {
				t.Fatalf("Health() returned error: %v", err)
			}
		})
	}
}

func TestRenderPrompt(t *testing.T) {
	got, err := RenderPrompt(history[:1])
	if err != nil {
		t.Fatalf("RenderPrompt() returned error: %v", err)
	}
	want := "<|start_of_role|>system<|end_of_role|>You are a smart thermostat.<|end_of_text|>\n" +
		"<|start_of_role|>assistant<|end_of_role|>"
	if got != want {
		t.Fatalf("RenderPrompt() = %q, want %q", got, want)
	}

	full, _ := RenderPrompt(history)
	if !strings.Contains(full, "<|start_of_role|>control<|end_of_role|>thinking<|end_of_text|>") {
		t.Errorf("control turn not rendered: %q", full)
	}

	if _, err := RenderPrompt([]dialog.Turn{{Role: dialog.Role(42)}}); err == nil {
		t.Error("unknown role rendered")
	}
}

func TestModelPath(t *testing.T) {
	l := NewLlamaCLI("", "models", quiet())
	tests := []struct{ in, want string }{
		{"granite3.2:2b", filepath.Join("models", "granite3.2-2b.gguf")},
		{"gemma3-1b", filepath.Join("models", "gemma3-1b.gguf")},
		{"/opt/m/custom.gguf", "/opt/m/custom.gguf"},
		{"weights/granite.gguf", "weights/granite.gguf"},
	}
	for _, tt := range tests {
		if got := l.ModelPath(tt.in); got != tt.want {
			t.Errorf("ModelPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// helperCommand runs this test binary as a fake llama-cli.
func helperCommand(mode string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "HARK_HELPER_PROCESS=1", "HARK_HELPER_MODE="+mode)
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("HARK_HELPER_PROCESS") != "1" {
		return
	}
	in, _ := io.ReadAll(os.Stdin)
	switch os.Getenv("HARK_HELPER_MODE") {
	case "ok":
		if !strings.HasSuffix(strings.TrimSpace(string(in)), "<|start_of_role|>assistant<|end_of_role|>") {
			fmt.Fprint(os.Stderr, "prompt not open for assistant")
			os.Exit(3)
		}
		fmt.Fprint(os.Stdout, "It is 22 degrees. [end of text]\n\nllama_perf_sampler_print: sampling time")
		os.Exit(0)
	case "truncated":
		fmt.Fprint(os.Stdout, "It is")
		fmt.Fprint(os.Stderr, "loading model\nerror: failed to load model")
		os.Exit(1)
	}
	os.Exit(2)
}

func TestLlamaCLIChat(t *testing.T) {
	l := NewLlamaCLI("llama-cli", t.TempDir(), quiet())
	l.command = helperCommand("ok")

	got, err := l.Chat(context.Background(), "granite3.2:2b", history)
	if err != nil {
		t.Fatalf("Chat() returned error: %v", err)
	}
	if got != "It is 22 degrees." {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestLlamaCLIChatTruncated(t *testing.T) {
	l := NewLlamaCLI("llama-cli", t.TempDir(), quiet())
	l.command = helperCommand("truncated")

	_, err := l.Chat(context.Background(), "granite3.2:2b", history)
	var pe *protocol.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if !strings.Contains(err.Error(), "failed to load model") {
		t.Errorf("stderr not surfaced: %v", err)
	}
}

func TestLlamaCLIEnsureModel(t *testing.T) {
	dir := t.TempDir()
	l := NewLlamaCLI("llama-cli", dir, quiet())

	if err := l.EnsureModel(context.Background(), "granite3.2:2b"); err == nil {
		t.Fatal("missing model file accepted")
	}
	if err := os.WriteFile(filepath.Join(dir, "granite3.2-2b.gguf"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.EnsureModel(context.Background(), "granite3.2:2b"); err != nil {
		t.Fatalf("EnsureModel() returned error: %v", err)
	}
}

func TestLlamaCLIHealth(t *testing.T) {
	l := NewLlamaCLI("definitely-not-a-llama-binary", "", quiet())
	if err := l.Health(context.Background()); !errors.Is(err, dialog.ErrChatUnavailable) {
		t.Fatalf("expected ErrChatUnavailable, got %v", err)
	}
}
