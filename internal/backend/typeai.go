package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TypeAI talks to the TypeAI chat API: POST {base}/chat for a whole reply
// and POST {base}/chat/stream for newline-delimited cumulative chunks.
type TypeAI struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	inst       instruments
}

// NewTypeAI creates a client for the API rooted at baseURL
func NewTypeAI(baseURL, authToken string, timeout time.Duration, opts Options) *TypeAI {
	return &TypeAI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
		httpClient: opts.httpClient(timeout),
		inst:       newInstruments(opts),
	}
}

func (t *TypeAI) Name() string {
	return "typeai"
}

func (t *TypeAI) headers() map[string]string {
	if t.authToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + t.authToken}
}

// Send posts the conversation and waits for the full reply
func (t *TypeAI) Send(ctx context.Context, req ChatRequest) (resp *ChatResponse, err error) {
	ctx, end := t.inst.start(ctx, "typeai_api_call", t.Name())
	defer func() { end(err) }()

	req.Stream = false
	body, err := postJSON(ctx, t.httpClient, t.baseURL+"/chat", t.headers(), req)
	if err != nil {
		return nil, err
	}

	var apiResp ChatResponse
	if err := decodeJSON(body, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.Message.Content == "" {
		return nil, fmt.Errorf("%w: empty response from TypeAI", ErrMalformedResponse)
	}
	return &apiResp, nil
}

// Stream posts the conversation to the streaming route. Each line of the
// reply is a ChatResponse carrying the reply text so far; the last one wins.
func (t *TypeAI) Stream(ctx context.Context, req ChatRequest, onChunk func(content string)) (resp *ChatResponse, err error) {
	ctx, end := t.inst.start(ctx, "typeai_api_stream", t.Name())
	defer func() { end(err) }()

	req.Stream = true
	httpResp, err := doJSON(ctx, t.httpClient, t.baseURL+"/chat/stream", t.headers(), req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var last *ChatResponse
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		line = bytes.TrimPrefix(line, []byte("data:"))
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var chunk ChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("%w: failed to unmarshal stream chunk: %w", ErrMalformedResponse, err)
		}
		last = &chunk
		if onChunk != nil {
			onChunk(chunk.Message.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read stream: %w", ErrTransport, err)
	}

	if last == nil || last.Message.Content == "" {
		return nil, fmt.Errorf("%w: empty stream from TypeAI", ErrMalformedResponse)
	}
	return last, nil
}
