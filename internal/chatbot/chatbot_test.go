package chatbot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TypeChat/internal/backend"
	"TypeChat/internal/config"
	"TypeChat/internal/ui"
)

type scriptedEndpoint struct {
	err error
}

func (s *scriptedEndpoint) Name() string { return "scripted" }

func (s *scriptedEndpoint) Send(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	last := req.Messages[len(req.Messages)-1]
	return &backend.ChatResponse{Message: backend.ChatMessage{Role: "assistant", Content: "re: " + last.Content}}, nil
}

type streamingEndpoint struct {
	scriptedEndpoint
}

func (s *streamingEndpoint) Stream(ctx context.Context, req backend.ChatRequest, onChunk func(string)) (*backend.ChatResponse, error) {
	onChunk("par")
	onChunk("partial")
	return &backend.ChatResponse{Message: backend.ChatMessage{Role: "assistant", Content: "partial"}}, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Store = config.StoreMemory
	cfg.Finalize()
	return cfg
}

func newTestBot(t *testing.T, cfg config.Config, ep backend.Endpoint) (*ChatBot, *bytes.Buffer) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var out bytes.Buffer
	cb, err := newChatBot(context.Background(), cfg, ep, &out)
	require.NoError(t, err)
	t.Cleanup(cb.Close)
	return cb, &out
}

func TestSendAndReply(t *testing.T) {
	cb, out := newTestBot(t, testConfig(t), &scriptedEndpoint{})

	quit := cb.handleInput(context.Background(), "Hello there")
	assert.False(t, quit)
	assert.Contains(t, out.String(), "re: Hello there")

	active := cb.ctrl.Active()
	assert.Equal(t, "Hello there", active.Title)
	assert.Len(t, active.Messages, 2)
}

func TestBlankInputIgnored(t *testing.T) {
	cb, out := newTestBot(t, testConfig(t), &scriptedEndpoint{})

	assert.False(t, cb.handleInput(context.Background(), "   "))
	assert.Empty(t, out.String())
	assert.Empty(t, cb.ctrl.Active().Messages)
}

func TestSendFailureShowsError(t *testing.T) {
	ep := &scriptedEndpoint{err: fmt.Errorf("%w: connection refused", backend.ErrTransport)}
	cb, out := newTestBot(t, testConfig(t), ep)

	cb.handleInput(context.Background(), "Hello")
	assert.Contains(t, out.String(), "Error: failed to get reply")
	assert.Contains(t, out.String(), "connection refused")
	assert.Len(t, cb.ctrl.Active().Messages, 1)
	assert.Error(t, cb.ctrl.Err())
}

func TestStreamedReply(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stream = true
	cb, out := newTestBot(t, cfg, &streamingEndpoint{})

	cb.handleInput(context.Background(), "Hi")
	assert.Contains(t, out.String(), "partial\n")
	assert.NotContains(t, out.String(), "Thinking")
	assert.Equal(t, "partial", cb.ctrl.Active().Messages[1].Content)
}

func TestSessionCommands(t *testing.T) {
	cb, out := newTestBot(t, testConfig(t), &scriptedEndpoint{})
	ctx := context.Background()

	cb.handleInput(ctx, "first topic")
	first := cb.ctrl.Active().ID

	cb.handleInput(ctx, "/new")
	assert.NotEqual(t, first, cb.ctrl.Active().ID)
	cb.handleInput(ctx, "second topic")

	out.Reset()
	cb.handleInput(ctx, "/sessions")
	assert.Contains(t, out.String(), "1. second topic")
	assert.Contains(t, out.String(), "2. first topic")
	assert.Contains(t, out.String(), "• 2 messages")

	out.Reset()
	cb.handleInput(ctx, "/select 2")
	assert.Equal(t, first, cb.ctrl.Active().ID)
	assert.Contains(t, out.String(), "Switched to session: first topic")
	assert.Contains(t, out.String(), "re: first topic")

	cb.handleInput(ctx, "/rename  Renamed topic ")
	assert.Equal(t, "Renamed topic", cb.ctrl.Active().Title)

	out.Reset()
	cb.handleInput(ctx, "/history")
	assert.Contains(t, out.String(), "Renamed topic")
	assert.Contains(t, out.String(), "first topic")

	cb.handleInput(ctx, "/delete")
	assert.NotEqual(t, first, cb.ctrl.Active().ID)
	assert.Len(t, cb.ctrl.Sessions(), 2, "second topic plus the fresh session")

	out.Reset()
	cb.handleInput(ctx, "/select "+first)
	assert.Contains(t, out.String(), "session not found")
}

func TestClearCommand(t *testing.T) {
	cb, out := newTestBot(t, testConfig(t), &scriptedEndpoint{})
	ctx := context.Background()

	cb.handleInput(ctx, "keep this")
	old := cb.ctrl.Active().ID

	cb.handleInput(ctx, "/clear")
	assert.NotEqual(t, old, cb.ctrl.Active().ID)
	assert.Empty(t, cb.ctrl.Active().Messages)
	assert.Contains(t, out.String(), "Chat cleared")
}

func TestCommandErrors(t *testing.T) {
	cb, out := newTestBot(t, testConfig(t), &scriptedEndpoint{})
	ctx := context.Background()

	tests := []struct {
		input string
		want  string
	}{
		{"/rename", "usage: /rename <title>"},
		{"/select", "usage: /select"},
		{"/bogus", "unknown command: /bogus"},
		{"/models", "only available for the ollama backend"},
		{"/delete nope", "session not found"},
	}
	for _, tt := range tests {
		out.Reset()
		assert.False(t, cb.handleInput(ctx, tt.input), tt.input)
		assert.Contains(t, out.String(), tt.want, tt.input)
	}
}

func TestQuitAndHelp(t *testing.T) {
	cb, out := newTestBot(t, testConfig(t), &scriptedEndpoint{})
	ctx := context.Background()

	assert.False(t, cb.handleInput(ctx, "/help"))
	assert.Contains(t, out.String(), "/sessions")
	assert.True(t, cb.handleInput(ctx, "/quit"))
	assert.True(t, cb.handleInput(ctx, "/exit"))
}

func TestModelsCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama3:latest","size":2147483648},{"name":"mistral:7b","size":1073741824}]}`)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.CacheResponses = true
	ep := backend.NewOllama(srv.URL, "llama3:latest", 0, backend.Options{})
	cb, out := newTestBot(t, cfg, ep)

	cb.handleInput(context.Background(), "/models")
	assert.Contains(t, out.String(), "1. llama3:latest - 2.00 GB (current)")
	assert.Contains(t, out.String(), "2. mistral:7b - 1.00 GB")
}

func TestSessionsSurviveRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store = config.StoreFile

	cb, _ := newTestBot(t, cfg, &scriptedEndpoint{})
	cb.handleInput(context.Background(), "remember me")
	id := cb.ctrl.Active().ID
	cb.Close()

	cfg.SessionID = id
	again, out := newTestBot(t, cfg, &scriptedEndpoint{})
	assert.Equal(t, id, again.ctrl.Active().ID)

	again.handleInput(context.Background(), "/history")
	assert.Contains(t, out.String(), "re: remember me")
	assert.FileExists(t, filepath.Join(cfg.DataDir, "sessions.json"))
	assert.FileExists(t, filepath.Join(cfg.LogDir, "typechat.log"))
}

// syncBuffer lets the test read output while a reply is still being typed
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInterruptCutsTypingShort(t *testing.T) {
	cb, _ := newTestBot(t, testConfig(t), &scriptedEndpoint{})
	out := &syncBuffer{}
	cb.ui = ui.NewRenderer(out, ui.WithTypingSpeed(time.Hour))

	assert.False(t, cb.interrupt(), "nothing to stop yet")

	done := make(chan struct{})
	go func() {
		defer close(done)
		cb.handleInput(context.Background(), "Hello")
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Bot:")
	}, 5*time.Second, 5*time.Millisecond)
	assert.True(t, cb.interrupt())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("typing animation was not interrupted")
	}
	assert.Contains(t, out.String(), "re: Hello")
	assert.Len(t, cb.ctrl.Active().Messages, 2, "the reply is kept")
}
