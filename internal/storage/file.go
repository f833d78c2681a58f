package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// errCorruptDocument marks a sessions document that exists but does not parse
var errCorruptDocument = errors.New("corrupt sessions document")

// FileKV stores every session in one JSON document keyed by session ID.
type FileKV struct {
	path string
	mu   sync.Mutex
}

// NewFileKV creates a file-backed store at path, creating its directory.
func NewFileKV(path string) (*FileKV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileKV{path: path}, nil
}

// Path returns the location of the backing document
func (f *FileKV) Path() string {
	return f.path
}

func (f *FileKV) All(ctx context.Context) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(doc))
	for k, v := range doc {
		out[k] = []byte(v)
	}
	return out, nil
}

func (f *FileKV) Put(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("refusing to store invalid JSON for %s", key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if errors.Is(err, errCorruptDocument) {
		if err := f.quarantine(); err != nil {
			return err
		}
		doc, err = map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return err
	}
	doc[key] = json.RawMessage(value)
	return f.write(doc)
}

func (f *FileKV) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return f.write(doc)
}

func (f *FileKV) Close() error {
	return nil
}

func (f *FileKV) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", errCorruptDocument, f.path, err)
	}
	return doc, nil
}

// quarantine moves an unparseable document aside so the next write starts a
// fresh one without losing what was there.
func (f *FileKV) quarantine() error {
	aside := fmt.Sprintf("%s.corrupt-%d", f.path, time.Now().UnixNano())
	if err := os.Rename(f.path, aside); err != nil {
		return fmt.Errorf("failed to move corrupt %s aside: %w", f.path, err)
	}
	slog.Warn("moved corrupt sessions document aside", "path", f.path, "moved_to", aside)
	return nil
}

// write replaces the document atomically via a synced temp file.
func (f *FileKV) write(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}
