package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"TypeChat/internal/backend"
)

// CachedResponse represents a cached API response
type CachedResponse struct {
	Response  backend.ChatResponse
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from messages
func GenerateCacheKey(messages []backend.ChatMessage) string {
	h := sha256.New()
	for _, msg := range messages {
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Endpoint answers repeated conversations from memory and forwards the rest
// to the wrapped endpoint. Entries older than the TTL are refetched; a zero
// TTL keeps entries for the life of the process.
type Endpoint struct {
	next   backend.Endpoint
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
	cache  sync.Map
}

// New wraps next with a response cache
func New(next backend.Endpoint, ttl time.Duration, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	return &Endpoint{
		next:   next,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

func (e *Endpoint) Name() string {
	return e.next.Name()
}

// Unwrap returns the decorated endpoint
func (e *Endpoint) Unwrap() backend.Endpoint {
	return e.next
}

// Send returns a cached reply for an identical conversation or calls through
func (e *Endpoint) Send(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error) {
	cacheKey := GenerateCacheKey(req.Messages)
	if resp, ok := e.checkCache(cacheKey); ok {
		return resp, nil
	}

	resp, err := e.next.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	e.storeCache(cacheKey, resp)
	return resp, nil
}

// Stream serves cached replies as a single chunk. Uncached conversations
// stream from the wrapped endpoint when it supports streaming.
func (e *Endpoint) Stream(ctx context.Context, req backend.ChatRequest, onChunk func(content string)) (*backend.ChatResponse, error) {
	cacheKey := GenerateCacheKey(req.Messages)
	if resp, ok := e.checkCache(cacheKey); ok {
		if onChunk != nil {
			onChunk(resp.Message.Content)
		}
		return resp, nil
	}

	var (
		resp *backend.ChatResponse
		err  error
	)
	if streamer, ok := e.next.(backend.StreamEndpoint); ok {
		resp, err = streamer.Stream(ctx, req, onChunk)
	} else {
		resp, err = e.next.Send(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	e.storeCache(cacheKey, resp)
	return resp, nil
}

// Len reports the number of live entries
func (e *Endpoint) Len() int {
	n := 0
	e.cache.Range(func(_, val any) bool {
		if !e.expired(val.(CachedResponse)) {
			n++
		}
		return true
	})
	return n
}

func (e *Endpoint) expired(cached CachedResponse) bool {
	return e.ttl > 0 && e.now().Sub(cached.Timestamp) > e.ttl
}

// checkCache checks if a response is cached
func (e *Endpoint) checkCache(cacheKey string) (*backend.ChatResponse, bool) {
	val, ok := e.cache.Load(cacheKey)
	if !ok {
		return nil, false
	}
	cached := val.(CachedResponse)
	if e.expired(cached) {
		e.cache.Delete(cacheKey)
		e.logger.Debug("cache entry expired", "key", cacheKey[:16])
		return nil, false
	}
	e.logger.Info("cache hit", "key", cacheKey[:16])
	resp := cached.Response
	return &resp, true
}

// storeCache stores a response in cache
func (e *Endpoint) storeCache(cacheKey string, resp *backend.ChatResponse) {
	e.cache.Store(cacheKey, CachedResponse{
		Response:  *resp,
		Timestamp: e.now(),
	})
	e.logger.Info("cached response", "key", cacheKey[:16])
}
