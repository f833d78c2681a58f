package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openaiapi "github.com/sashabaranov/go-openai"
)

// OpenAI calls an OpenAI-compatible chat completions API. Grok is served by
// the same client pointed at the x.ai base URL.
type OpenAI struct {
	name      string
	apiKey    string
	keyEnv    string
	model     string
	maxTokens int
	api       *openaiapi.Client
	inst      instruments
}

// NewOpenAI creates a client for api.openai.com, or baseURL when set
func NewOpenAI(baseURL, apiKey, model string, maxTokens int, timeout time.Duration, opts Options) *OpenAI {
	return newOpenAICompatible("openai", "OPENAI_API_KEY", baseURL, apiKey, model, maxTokens, timeout, opts)
}

// NewGrok creates a client for the xAI API
func NewGrok(baseURL, apiKey, model string, maxTokens int, timeout time.Duration, opts Options) *OpenAI {
	return newOpenAICompatible("grok", "GROK_API_KEY", baseURL, apiKey, model, maxTokens, timeout, opts)
}

func newOpenAICompatible(name, keyEnv, baseURL, apiKey, model string, maxTokens int, timeout time.Duration, opts Options) *OpenAI {
	cfg := openaiapi.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = opts.httpClient(timeout)

	return &OpenAI{
		name:      name,
		apiKey:    apiKey,
		keyEnv:    keyEnv,
		model:     model,
		maxTokens: maxTokens,
		api:       openaiapi.NewClientWithConfig(cfg),
		inst:      newInstruments(opts),
	}
}

func (o *OpenAI) Name() string {
	return o.name
}

func (o *OpenAI) request(req ChatRequest, stream bool) openaiapi.ChatCompletionRequest {
	msgs := make([]openaiapi.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openaiapi.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openaiapi.ChatCompletionRequest{
		Model:     o.model,
		Messages:  msgs,
		MaxTokens: o.maxTokens,
		Stream:    stream,
	}
}

// Send calls the chat completions API
func (o *OpenAI) Send(ctx context.Context, req ChatRequest) (resp *ChatResponse, err error) {
	ctx, end := o.inst.start(ctx, o.name+"_api_call", o.Name())
	defer func() { end(err) }()

	if o.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", o.keyEnv, ErrMissingAPIKey)
	}

	apiResp, err := o.api.CreateChatCompletion(ctx, o.request(req, false))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create chat completion: %w", ErrTransport, err)
	}

	o.inst.recordUsage(ctx, o.Name(), apiResp.Usage.PromptTokens, apiResp.Usage.CompletionTokens)

	if len(apiResp.Choices) == 0 || apiResp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%w: empty response from %s", ErrMalformedResponse, o.name)
	}

	return &ChatResponse{
		ID:      apiResp.ID,
		Message: ChatMessage{Role: "assistant", Content: apiResp.Choices[0].Message.Content},
		Created: apiResp.Created,
	}, nil
}

// Stream calls the chat completions API with server-sent deltas and hands
// onChunk the accumulated text after every delta.
func (o *OpenAI) Stream(ctx context.Context, req ChatRequest, onChunk func(content string)) (resp *ChatResponse, err error) {
	ctx, end := o.inst.start(ctx, o.name+"_api_stream", o.Name())
	defer func() { end(err) }()

	if o.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", o.keyEnv, ErrMissingAPIKey)
	}

	stream, err := o.api.CreateChatCompletionStream(ctx, o.request(req, true))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open chat completion stream: %w", ErrTransport, err)
	}
	defer stream.Close()

	var (
		id      string
		created int64
		text    strings.Builder
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read stream: %w", ErrTransport, err)
		}

		id, created = chunk.ID, chunk.Created
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		text.WriteString(chunk.Choices[0].Delta.Content)
		if onChunk != nil {
			onChunk(text.String())
		}
	}

	if text.Len() == 0 {
		return nil, fmt.Errorf("%w: empty stream from %s", ErrMalformedResponse, o.name)
	}

	return &ChatResponse{
		ID:      id,
		Message: ChatMessage{Role: "assistant", Content: text.String()},
		Created: created,
	}, nil
}
