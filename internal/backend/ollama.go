package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaRequest represents the request body for Ollama API
type OllamaRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// OllamaResponse represents the response from Ollama API
type OllamaResponse struct {
	Model           string      `json:"model"`
	CreatedAt       string      `json:"created_at"`
	Message         ChatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// OllamaTagsResponse represents the response from Ollama /api/tags endpoint
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel represents a single model in the Ollama tags response
type OllamaModel struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// Ollama calls a local Ollama server
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
	inst       instruments
}

// NewOllama creates a client for the server at baseURL using model
func NewOllama(baseURL, model string, timeout time.Duration, opts Options) *Ollama {
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: opts.httpClient(timeout),
		inst:       newInstruments(opts),
	}
}

func (o *Ollama) Name() string {
	return "ollama"
}

// Model returns the model specification in use
func (o *Ollama) Model() string {
	return o.model
}

// Send calls the Ollama chat API
func (o *Ollama) Send(ctx context.Context, req ChatRequest) (resp *ChatResponse, err error) {
	ctx, end := o.inst.start(ctx, "ollama_api_call", o.Name())
	defer func() { end(err) }()

	reqBody := OllamaRequest{
		Model:    o.model,
		Messages: req.Messages,
		Stream:   false,
	}

	body, err := postJSON(ctx, o.httpClient, o.baseURL+"/api/chat", nil, reqBody)
	if err != nil {
		return nil, err
	}

	var apiResp OllamaResponse
	if err := decodeJSON(body, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.Message.Content == "" {
		return nil, fmt.Errorf("%w: empty response from Ollama", ErrMalformedResponse)
	}

	o.inst.recordUsage(ctx, o.Name(), apiResp.PromptEvalCount, apiResp.EvalCount)

	var created int64
	if t, err := time.Parse(time.RFC3339Nano, apiResp.CreatedAt); err == nil {
		created = t.Unix()
	}

	return &ChatResponse{
		Message: ChatMessage{Role: "assistant", Content: apiResp.Message.Content},
		Created: created,
	}, nil
}

// ListModels fetches the list of available Ollama models
func (o *Ollama) ListModels(ctx context.Context) ([]OllamaModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request (is Ollama running?): %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API error: %s - %s", ErrTransport, resp.Status, string(body))
	}

	var tagsResp OllamaTagsResponse
	if err := decodeJSON(body, &tagsResp); err != nil {
		return nil, err
	}

	return tagsResp.Models, nil
}
