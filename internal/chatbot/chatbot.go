package chatbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/peterh/liner"

	"TypeChat/internal/backend"
	"TypeChat/internal/cache"
	"TypeChat/internal/chat"
	"TypeChat/internal/config"
	"TypeChat/internal/session"
	"TypeChat/internal/storage"
	"TypeChat/internal/telemetry"
	"TypeChat/internal/ui"
)

// ChatBot represents the main application
type ChatBot struct {
	config config.Config
	logger *slog.Logger
	ctrl   *chat.Controller
	mirror *storage.Mirror
	ui     *ui.Renderer

	// stream is the reply being printed while chunks arrive
	stream *ui.Stream

	replyMu     sync.Mutex
	cancelReply context.CancelFunc

	closers []func()
}

// NewChatBot creates a new ChatBot instance writing to stdout
func NewChatBot(cfg config.Config) (*ChatBot, error) {
	return newChatBot(context.Background(), cfg, nil, os.Stdout)
}

// newChatBot wires the application. A nil endpoint is built from cfg.
func newChatBot(ctx context.Context, cfg config.Config, endpoint backend.Endpoint, out io.Writer) (*ChatBot, error) {
	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cb := &ChatBot{
		config: cfg,
		logger: logger,
	}
	cb.closers = append(cb.closers, func() {
		if err := logFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	})

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir, cfg.Telemetry)
	if err != nil {
		cb.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	cb.closers = append(cb.closers, cleanup)

	kv, err := storage.Open(ctx, cfg)
	if err != nil {
		cb.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	cb.mirror = storage.NewMirror(kv, logger)
	cb.closers = append(cb.closers, func() {
		if err := cb.mirror.Close(); err != nil {
			logger.Error("failed to close session store", "error", err)
		}
	})

	if endpoint == nil {
		endpoint, err = backend.New(cfg, backend.Options{Tracer: tracer, Meter: meter})
		if err != nil {
			cb.Close()
			return nil, fmt.Errorf("failed to create backend: %w", err)
		}
	}
	if cfg.CacheResponses {
		endpoint = cache.New(endpoint, cfg.CacheTTL, logger)
	}

	var renderOpts []ui.Option
	if f, ok := out.(*os.File); ok && ui.IsTerminal(f) {
		if cfg.Markdown {
			renderOpts = append(renderOpts, ui.WithMarkdown(80))
		}
		renderOpts = append(renderOpts, ui.WithTypingSpeed(cfg.TypingSpeed))
	}
	cb.ui = ui.NewRenderer(out, renderOpts...)

	store := session.NewStore(
		session.WithDefaultTitle(cfg.DefaultTitle),
		session.WithTitleMaxLength(cfg.TitleMaxLength),
	)

	cb.ctrl, err = chat.New(ctx, chat.Options{
		Endpoint: endpoint,
		Store:    store,
		Mirror:   cb.mirror,
		Logger:   logger,
		Tracer:   tracer,
		Meter:    meter,
		Stream:   cfg.Stream,
		OnChunk:  cb.onChunk,
		ResumeID: cfg.SessionID,
	})
	if err != nil {
		cb.Close()
		return nil, fmt.Errorf("failed to create chat controller: %w", err)
	}

	logger.Info("chatbot ready", "backend", endpoint.Name(), "store", cfg.Store, "session_id", cb.ctrl.Active().ID)
	return cb, nil
}

// Close flushes pending writes and releases every resource, newest first
func (cb *ChatBot) Close() {
	if cb.ctrl != nil {
		cb.ctrl.Close()
		cb.ctrl = nil
	}
	for i := len(cb.closers) - 1; i >= 0; i-- {
		cb.closers[i]()
	}
	cb.closers = nil
}

func (cb *ChatBot) onChunk(content string) {
	if cb.stream == nil {
		cb.stream = cb.ui.NewStream()
	}
	cb.stream.Update(content)
}

// sendMessage sends input and prints the reply or the failure
func (cb *ChatBot) sendMessage(ctx context.Context, input string) {
	ctx, cancel := context.WithCancel(ctx)
	cb.replyMu.Lock()
	cb.cancelReply = cancel
	cb.replyMu.Unlock()
	defer func() {
		cb.replyMu.Lock()
		cb.cancelReply = nil
		cb.replyMu.Unlock()
		cancel()
	}()

	cb.stream = nil
	if !cb.config.Stream {
		cb.ui.Thinking()
	}

	reply, err := cb.ctrl.SendMessage(ctx, input)
	streamed := cb.stream != nil && cb.stream.Started()
	if streamed {
		cb.stream.Finish()
	}
	cb.stream = nil

	switch {
	case errors.Is(err, chat.ErrCancelled):
		cb.ui.Info("[Stopped]")
	case err != nil:
		cb.ui.Error(err)
	case reply == nil:
	case !streamed:
		cb.ui.Reply(ctx, reply.Content)
	}
}

// interrupt stops the pending reply, or cuts its typing animation short
// once it has arrived. It reports whether there was anything to stop.
func (cb *ChatBot) interrupt() bool {
	stopped := cb.ctrl.Stop()

	cb.replyMu.Lock()
	cancel := cb.cancelReply
	cb.replyMu.Unlock()
	if cancel == nil {
		return stopped
	}
	cancel()
	return true
}

// resolveSession maps a 1-based list position or a session ID to an ID
func (cb *ChatBot) resolveSession(arg string) string {
	if n, err := strconv.Atoi(arg); err == nil {
		sessions := cb.ctrl.Sessions()
		if n >= 1 && n <= len(sessions) {
			return sessions[n-1].ID
		}
	}
	return arg
}

func (cb *ChatBot) ollama() (*backend.Ollama, bool) {
	ep := cb.ctrl.Endpoint()
	if wrapped, ok := ep.(interface{ Unwrap() backend.Endpoint }); ok {
		ep = wrapped.Unwrap()
	}
	o, ok := ep.(*backend.Ollama)
	return o, ok
}

// handleCommand handles special commands
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}
	rest := strings.TrimSpace(strings.TrimPrefix(cmd, parts[0]))

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		s := cb.ctrl.CreateSession()
		cb.ui.Info("Started new session: %s", s.ID)
		return false, nil

	case "/clear":
		s := cb.ctrl.ClearChat()
		cb.ui.Info("Chat cleared. Started new session: %s", s.ID)
		return false, nil

	case "/rename":
		if rest == "" {
			return false, errors.New("usage: /rename <title>")
		}
		active := cb.ctrl.Active()
		if err := cb.ctrl.RenameSession(active.ID, rest); err != nil {
			return false, err
		}
		cb.ui.Info("Session renamed to: %s", cb.ctrl.Active().Title)
		return false, nil

	case "/sessions":
		cb.ui.SessionList(cb.ctrl.Sessions(), cb.ctrl.Active().ID)
		return false, nil

	case "/select":
		if len(parts) < 2 {
			return false, errors.New("usage: /select <number|id>")
		}
		if err := cb.ctrl.SelectSession(cb.resolveSession(parts[1])); err != nil {
			return false, err
		}
		active := cb.ctrl.Active()
		cb.ui.Info("Switched to session: %s", active.Title)
		cb.ui.History(active)
		return false, nil

	case "/delete":
		id := cb.ctrl.Active().ID
		if len(parts) >= 2 {
			id = cb.resolveSession(parts[1])
		}
		if err := cb.ctrl.DeleteSession(id); err != nil {
			return false, err
		}
		cb.ui.Info("Deleted session: %s", id)
		return false, nil

	case "/history":
		cb.ui.History(cb.ctrl.Active())
		return false, nil

	case "/models":
		o, ok := cb.ollama()
		if !ok {
			return false, errors.New("model listing is only available for the ollama backend")
		}
		models, err := o.ListModels(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to list Ollama models: %w", err)
		}
		cb.ui.Info("\nAvailable Ollama models:")
		for i, model := range models {
			sizeGB := float64(model.Size) / (1024 * 1024 * 1024)
			current := ""
			if model.Name == o.Model() {
				current = " (current)"
			}
			cb.ui.Info("%d. %s - %.2f GB%s", i+1, model.Name, sizeGB, current)
		}
		cb.ui.Info("")
		return false, nil

	case "/help":
		cb.ui.Info("Available commands:")
		cb.ui.Info("  /new                  - Start a new chat session")
		cb.ui.Info("  /clear                - Clear the chat and start over")
		cb.ui.Info("  /rename <title>       - Rename the current session")
		cb.ui.Info("  /sessions             - List sessions, most recent first")
		cb.ui.Info("  /select <number|id>   - Switch to another session")
		cb.ui.Info("  /delete [number|id]   - Delete a session (default: current)")
		cb.ui.Info("  /history              - Show the current conversation")
		cb.ui.Info("  /models               - List available Ollama models")
		cb.ui.Info("  /help                 - Show this help message")
		cb.ui.Info("  /quit, /exit          - Exit")
		cb.ui.Info("Press Ctrl+C while waiting for a reply to stop it.")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

// handleInput processes one line of input and reports whether to quit
func (cb *ChatBot) handleInput(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}

	if strings.HasPrefix(input, "/") {
		shouldQuit, err := cb.handleCommand(ctx, input)
		if err != nil {
			cb.ui.Error(err)
			cb.logger.Error("command error", "error", err)
		}
		return shouldQuit
	}

	cb.sendMessage(ctx, input)
	return false
}

func (cb *ChatBot) historyFile() string {
	return filepath.Join(cb.config.DataDir, "history")
}

// Run starts the chat bot
func (cb *ChatBot) Run() error {
	defer cb.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(cb.historyFile()); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	cb.ui.Banner(cb.ctrl.Active(), cb.ctrl.Endpoint().Name())

	// Ctrl+C outside the prompt stops the pending reply or its animation
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer func() {
		signal.Stop(sigChan)
		close(sigChan)
	}()
	go func() {
		for range sigChan {
			if cb.interrupt() {
				cb.logger.Info("reply stopped by user")
			}
		}
	}()

	ctx := context.Background()
	for {
		input, err := line.Prompt(cb.ui.UserPrompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to read input: %w", err)
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if cb.handleInput(ctx, input) {
			break
		}
	}

	if err := os.MkdirAll(cb.config.DataDir, 0755); err == nil {
		if f, err := os.OpenFile(cb.historyFile(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}

	cb.ui.Info("Goodbye!")
	return nil
}
