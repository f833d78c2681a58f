package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"TypeChat/internal/backend"
	"TypeChat/internal/session"
)

var (
	// ErrSendInProgress is returned when a send is attempted while another is pending
	ErrSendInProgress = errors.New("a message is already being sent")

	// ErrCancelled is returned by a send that was abandoned before its reply arrived
	ErrCancelled = errors.New("send cancelled")

	// ErrSessionNotFound is returned for unknown session IDs
	ErrSessionNotFound = errors.New("session not found")
)

// Outcome is the result of the most recent send
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "none"
	}
}

// Mirror is the durable copy of the session set
type Mirror interface {
	LoadAll(ctx context.Context) []*session.Session
	SaveSession(ctx context.Context, s *session.Session)
	DeleteSession(ctx context.Context, sessionID string)
}

type nopMirror struct{}

func (nopMirror) LoadAll(context.Context) []*session.Session    { return nil }
func (nopMirror) SaveSession(context.Context, *session.Session) {}
func (nopMirror) DeleteSession(context.Context, string)         {}

// Options configures a Controller
type Options struct {
	Endpoint backend.Endpoint
	Store    *session.Store // defaults to session.NewStore()
	Mirror   Mirror         // defaults to no persistence
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Meter    metric.Meter

	// Stream requests partial replies when the endpoint supports them;
	// OnChunk then receives the reply text so far.
	Stream  bool
	OnChunk func(content string)

	// ResumeID activates a stored session at startup instead of a fresh one
	ResumeID string
}

// View is a consistent copy of the state the rendering boundary shows
type View struct {
	Active  *session.Session
	Loading bool
	Err     error
	Outcome Outcome
}

// pending is the handle of the in-flight send
type pending struct {
	sessionID string
	cancel    context.CancelFunc
}

// Controller owns the session set, the active session and the send state.
// All methods are safe for concurrent use; the endpoint call runs without
// holding the lock.
type Controller struct {
	store    *session.Store
	endpoint backend.Endpoint
	writes   *writer
	logger   *slog.Logger
	tracer   trace.Tracer
	stream   bool
	onChunk  func(content string)

	messages     metric.Int64Counter
	failures     metric.Int64Counter
	sendDuration metric.Float64Histogram

	mu       sync.Mutex
	sessions map[string]*session.Session
	active   *session.Session
	loading  bool
	err      error
	outcome  Outcome
	inflight *pending
}

// New loads the stored sessions and activates ResumeID or a fresh session
func New(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Endpoint == nil {
		return nil, errors.New("chat endpoint is required")
	}
	if opts.Store == nil {
		opts.Store = session.NewStore()
	}
	if opts.Mirror == nil {
		opts.Mirror = nopMirror{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("chat")
	}
	if opts.Meter == nil {
		opts.Meter = metricnoop.NewMeterProvider().Meter("chat")
	}

	c := &Controller{
		store:    opts.Store,
		endpoint: opts.Endpoint,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		stream:   opts.Stream,
		onChunk:  opts.OnChunk,
		sessions: make(map[string]*session.Session),
	}
	if err := c.initMetrics(opts.Meter); err != nil {
		return nil, err
	}

	for _, s := range opts.Mirror.LoadAll(ctx) {
		c.sessions[s.ID] = s
	}
	c.logger.Info("loaded sessions", "count", len(c.sessions))

	if opts.ResumeID != "" {
		if s, ok := c.sessions[opts.ResumeID]; ok {
			c.active = s
			c.logger.Info("resumed session", "session_id", s.ID)
		} else {
			c.logger.Warn("session to resume not found, creating new one", "session_id", opts.ResumeID)
		}
	}
	if c.active == nil {
		c.activateNew()
	}

	c.writes = newWriter(opts.Mirror, c.logger)
	return c, nil
}

func (c *Controller) initMetrics(meter metric.Meter) error {
	var err error
	c.messages, err = meter.Int64Counter(
		"chat.messages",
		metric.WithDescription("Messages appended to sessions"),
	)
	if err != nil {
		return fmt.Errorf("failed to create message counter: %w", err)
	}
	c.failures, err = meter.Int64Counter(
		"chat.send.failures",
		metric.WithDescription("Sends that ended with an endpoint error"),
	)
	if err != nil {
		return fmt.Errorf("failed to create failure counter: %w", err)
	}
	c.sendDuration, err = meter.Float64Histogram(
		"chat.send.duration",
		metric.WithDescription("Time from send to reply in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create send duration histogram: %w", err)
	}
	return nil
}

// SendMessage appends content as a user message, sends the conversation to
// the endpoint and appends the reply. Blank content is ignored and returns
// a nil message and nil error.
func (c *Controller) SendMessage(ctx context.Context, content string) (*session.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}

	c.mu.Lock()
	if c.inflight != nil {
		c.mu.Unlock()
		return nil, ErrSendInProgress
	}

	sess := c.active
	c.store.AppendMessage(sess, session.RoleUser, content)
	c.sessions[sess.ID] = sess
	c.persistLocked(sess)

	sendCtx, cancel := context.WithCancel(ctx)
	p := &pending{sessionID: sess.ID, cancel: cancel}
	c.inflight = p
	c.loading = true
	c.err = nil
	c.outcome = OutcomeNone
	req := backend.ChatRequest{Messages: backend.MessagesFrom(sess.Messages)}
	c.mu.Unlock()

	c.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("role", string(session.RoleUser))))

	start := time.Now()
	resp, err := c.call(sendCtx, sess.ID, req)
	cancel()
	c.sendDuration.Record(ctx, float64(time.Since(start).Milliseconds()))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight != p {
		c.logger.Info("discarding reply to abandoned send", "session_id", p.sessionID)
		return nil, ErrCancelled
	}
	c.inflight = nil
	c.loading = false

	if err != nil {
		if ctx.Err() != nil {
			c.outcome = OutcomeCancelled
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		c.err = fmt.Errorf("failed to get reply: %w", err)
		c.outcome = OutcomeFailed
		c.failures.Add(ctx, 1)
		c.logger.Error("failed to send message", "session_id", p.sessionID, "error", err)
		return nil, c.err
	}

	target, ok := c.sessions[p.sessionID]
	if !ok {
		c.outcome = OutcomeCancelled
		return nil, ErrCancelled
	}

	reply := c.store.AppendMessage(target, session.RoleAssistant, resp.Message.Content)
	c.persistLocked(target)
	c.outcome = OutcomeSucceeded
	c.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("role", string(session.RoleAssistant))))
	c.logger.Info("reply received", "session_id", target.ID, "message_count", len(target.Messages))

	return &reply, nil
}

// call sends req, streaming when configured and supported
func (c *Controller) call(ctx context.Context, sessionID string, req backend.ChatRequest) (*backend.ChatResponse, error) {
	ctx, span := c.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("llm.backend", c.endpoint.Name()),
		attribute.Int("message_count", len(req.Messages)),
	))
	defer span.End()

	var (
		resp *backend.ChatResponse
		err  error
	)
	if streamer, ok := c.endpoint.(backend.StreamEndpoint); ok && c.stream {
		req.Stream = true
		resp, err = streamer.Stream(ctx, req, c.chunk)
	} else {
		resp, err = c.endpoint.Send(ctx, req)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}

func (c *Controller) chunk(content string) {
	if c.onChunk != nil {
		c.onChunk(content)
	}
}

// Stop abandons the in-flight send; its reply is ignored when it arrives.
// It reports whether a send was pending.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abandonLocked()
}

func (c *Controller) abandonLocked() bool {
	if c.inflight == nil {
		return false
	}
	c.inflight.cancel()
	c.logger.Info("send abandoned", "session_id", c.inflight.sessionID)
	c.inflight = nil
	c.loading = false
	c.outcome = OutcomeCancelled
	return true
}

// ClearChat abandons any pending send and replaces the active session with
// a fresh one. The previous session is not deleted from storage.
func (c *Controller) ClearChat() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.abandonLocked()
	c.err = nil
	c.dropIfEmptyLocked(c.active)
	return c.activateNew().Clone()
}

// CreateSession activates a fresh session, keeping the previous one listed
func (c *Controller) CreateSession() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropIfEmptyLocked(c.active)
	return c.activateNew().Clone()
}

// SelectSession makes the session with the given ID active
func (c *Controller) SelectSession(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s != c.active {
		c.dropIfEmptyLocked(c.active)
		c.active = s
		c.err = nil
	}
	c.logger.Info("selected session", "session_id", id)
	return nil
}

// RenameSession sets the title of a session. Blank titles are ignored.
func (c *Controller) RenameSession(id, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	c.store.RenameSession(s, title)
	c.persistLocked(s)
	return nil
}

// DeleteSession removes a session from memory and storage. Deleting the
// active session activates a fresh one.
func (c *Controller) DeleteSession(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if c.inflight != nil && c.inflight.sessionID == id {
		c.abandonLocked()
	}

	delete(c.sessions, id)
	c.writes.delete(id)
	c.logger.Info("deleted session", "session_id", id)

	if s == c.active {
		c.err = nil
		c.activateNew()
	}
	return nil
}

// Sessions returns copies of all known sessions, most recently updated first
func (c *Controller) Sessions() []*session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*session.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.Clone())
	}
	session.SortByUpdated(out)
	return out
}

// Active returns a copy of the active session
func (c *Controller) Active() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active.Clone()
}

// Loading reports whether a send is pending
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the error of the last failed send, cleared by the next send
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Snapshot returns the active session and send state in one consistent read
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		Active:  c.active.Clone(),
		Loading: c.loading,
		Err:     c.err,
		Outcome: c.outcome,
	}
}

// Endpoint returns the endpoint replies come from
func (c *Controller) Endpoint() backend.Endpoint {
	return c.endpoint
}

// Flush waits until all queued writes have reached the mirror
func (c *Controller) Flush() {
	c.writes.flush()
}

// Close abandons any pending send, drains queued writes and stops the writer
func (c *Controller) Close() {
	c.Stop()
	c.writes.close()
}

func (c *Controller) activateNew() *session.Session {
	s := c.store.CreateSession()
	c.sessions[s.ID] = s
	c.active = s
	c.logger.Info("created new session", "session_id", s.ID)
	return s
}

// dropIfEmptyLocked forgets s when it holds no messages; such sessions were
// never persisted.
func (c *Controller) dropIfEmptyLocked(s *session.Session) {
	if s != nil && s.IsEmpty() {
		delete(c.sessions, s.ID)
	}
}

func (c *Controller) persistLocked(s *session.Session) {
	if s.IsEmpty() {
		return
	}
	c.writes.save(s.Clone())
}
