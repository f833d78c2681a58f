package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"TypeChat/internal/session"
)

var (
	// ErrTransport marks network failures and non-success HTTP statuses
	ErrTransport = errors.New("chat endpoint request failed")

	// ErrMalformedResponse marks replies that cannot be decoded or carry no content
	ErrMalformedResponse = errors.New("malformed chat endpoint response")

	// ErrMissingAPIKey is returned when a provider key is not configured
	ErrMissingAPIKey = errors.New("api key not set")
)

// ChatMessage is one turn of a request or reply, without identity or time
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries the ordered conversation sent to an endpoint
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// ChatResponse is a single reply from an endpoint
type ChatResponse struct {
	ID      string      `json:"id"`
	Message ChatMessage `json:"message"`
	Created int64       `json:"created"`
}

// Endpoint sends a conversation to a completion service and returns the reply
type Endpoint interface {
	Name() string
	Send(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// StreamEndpoint is an Endpoint that can also deliver partial replies.
// onChunk receives the cumulative reply text so far.
type StreamEndpoint interface {
	Endpoint
	Stream(ctx context.Context, req ChatRequest, onChunk func(content string)) (*ChatResponse, error)
}

// MessagesFrom converts session history into request messages, dropping
// identity and timestamps.
func MessagesFrom(messages []session.Message) []ChatMessage {
	out := make([]ChatMessage, len(messages))
	for i, msg := range messages {
		out[i] = ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return out
}

// Options carries shared dependencies for endpoint construction
type Options struct {
	HTTPClient *http.Client
	Tracer     trace.Tracer
	Meter      metric.Meter
}

func (o Options) httpClient(timeout time.Duration) *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: timeout}
}

// instruments records a span and a latency sample for every endpoint call
type instruments struct {
	tracer   trace.Tracer
	duration metric.Float64Histogram
	tokens   metric.Int64Counter
}

func newInstruments(opts Options) instruments {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("backend")
	}
	meter := opts.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("backend")
	}

	in := instruments{tracer: tracer}

	duration, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		in.duration = metricnoop.Float64Histogram{}
	} else {
		in.duration = duration
	}

	tokens, err := meter.Int64Counter(
		"llm.usage.tokens",
		metric.WithDescription("Tokens reported by the completion service"),
	)
	if err != nil {
		in.tokens = metricnoop.Int64Counter{}
	} else {
		in.tokens = tokens
	}

	return in
}

// start opens a span for one call; the returned func ends it.
func (in instruments) start(ctx context.Context, spanName, backendName string) (context.Context, func(error)) {
	attrs := attribute.String("llm.backend", backendName)
	ctx, span := in.tracer.Start(ctx, spanName, trace.WithAttributes(attrs))
	start := time.Now()

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		in.duration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs))
		span.End()
	}
}

func (in instruments) recordUsage(ctx context.Context, backendName string, input, output int) {
	if input > 0 {
		in.tokens.Add(ctx, int64(input), metric.WithAttributes(
			attribute.String("llm.backend", backendName),
			attribute.String("llm.token.type", "input"),
		))
	}
	if output > 0 {
		in.tokens.Add(ctx, int64(output), metric.WithAttributes(
			attribute.String("llm.backend", backendName),
			attribute.String("llm.token.type", "output"),
		))
	}
}

// postJSON sends body as JSON and returns the raw response of a 200 reply.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) ([]byte, error) {
	resp, err := doJSON(ctx, client, url, headers, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrTransport, err)
	}
	return data, nil
}

// doJSON sends body as JSON; the caller owns the body of the returned response.
func doJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %w", ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: API error: %s - %s", ErrTransport, resp.Status, string(bytes.TrimSpace(msg)))
	}
	return resp, nil
}

func decodeJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: failed to unmarshal response: %w", ErrMalformedResponse, err)
	}
	return nil
}
