package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AnthropicRequest represents the request body for Anthropic API
type AnthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []AnthropicMessage `json:"messages"`
}

// AnthropicMessage represents a message in the conversation
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicContent represents one content block of a reply
type AnthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// AnthropicResponse represents the response from Anthropic API
type AnthropicResponse struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Role         string             `json:"role"`
	Content      []AnthropicContent `json:"content"`
	Model        string             `json:"model"`
	StopReason   string             `json:"stop_reason"`
	StopSequence string             `json:"stop_sequence"`
	Usage        AnthropicUsage     `json:"usage"`
}

// AnthropicUsage reports token counts for one call
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Anthropic calls the Anthropic Messages API
type Anthropic struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	inst       instruments
}

// NewAnthropic creates a Messages API client
func NewAnthropic(baseURL, apiKey, model string, maxTokens int, timeout time.Duration, opts Options) *Anthropic {
	return &Anthropic{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
		httpClient: opts.httpClient(timeout),
		inst:       newInstruments(opts),
	}
}

func (a *Anthropic) Name() string {
	return "anthropic"
}

// Send calls the Anthropic API
func (a *Anthropic) Send(ctx context.Context, req ChatRequest) (resp *ChatResponse, err error) {
	ctx, end := a.inst.start(ctx, "anthropic_api_call", a.Name())
	defer func() { end(err) }()

	if a.apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY: %w", ErrMissingAPIKey)
	}

	// System turns go in the top-level field; the API rejects them inline.
	var system []string
	reqMessages := make([]AnthropicMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		reqMessages = append(reqMessages, AnthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	reqBody := AnthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    strings.Join(system, "\n\n"),
		Messages:  reqMessages,
	}

	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": "2023-06-01",
	}

	body, err := postJSON(ctx, a.httpClient, a.baseURL+"/v1/messages", headers, reqBody)
	if err != nil {
		return nil, err
	}

	var apiResp AnthropicResponse
	if err := decodeJSON(body, &apiResp); err != nil {
		return nil, err
	}

	a.inst.recordUsage(ctx, a.Name(), apiResp.Usage.InputTokens, apiResp.Usage.OutputTokens)

	var text strings.Builder
	for _, content := range apiResp.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("%w: empty response from Anthropic", ErrMalformedResponse)
	}

	return &ChatResponse{
		ID:      apiResp.ID,
		Message: ChatMessage{Role: "assistant", Content: text.String()},
		Created: time.Now().Unix(),
	}, nil
}
