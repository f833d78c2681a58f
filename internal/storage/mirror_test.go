package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TypeChat/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleSession(id string, base time.Time) *session.Session {
	return &session.Session{
		ID:    id,
		Title: "Hello there",
		Messages: []session.Message{
			{ID: id + "-m1", Role: session.RoleUser, Content: "Hello there", Timestamp: base.Add(time.Second)},
			{ID: id + "-m2", Role: session.RoleAssistant, Content: "Hi! **How** can I help?", Timestamp: base.Add(2 * time.Second)},
			{ID: id + "-m3", Role: session.RoleUser, Content: "multi\nline ✓", Timestamp: base.Add(3*time.Second + 123456789)},
		},
		CreatedAt: base,
		UpdatedAt: base.Add(3*time.Second + 123456789),
	}
}

type kvFactory struct {
	name string
	open func(t *testing.T) KV
}

func kvFactories() []kvFactory {
	return []kvFactory{
		{"memory", func(t *testing.T) KV { return NewMemoryKV() }},
		{"file", func(t *testing.T) KV {
			kv, err := NewFileKV(filepath.Join(t.TempDir(), "sessions.json"))
			require.NoError(t, err)
			return kv
		}},
		{"sqlite", func(t *testing.T) KV {
			kv, err := NewSQLiteKV(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
			require.NoError(t, err)
			return kv
		}},
	}
}

func TestMirror_RoundTrip(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	for _, f := range kvFactories() {
		t.Run(f.name, func(t *testing.T) {
			kv := f.open(t)
			defer kv.Close()
			m := NewMirror(kv, discardLogger())
			ctx := context.Background()

			want := sampleSession("s1", base)
			m.SaveSession(ctx, want)

			loaded := m.LoadAll(ctx)
			require.Len(t, loaded, 1)
			if diff := cmp.Diff(want, loaded[0]); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMirror_SaveOverwrites(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	for _, f := range kvFactories() {
		t.Run(f.name, func(t *testing.T) {
			kv := f.open(t)
			defer kv.Close()
			m := NewMirror(kv, discardLogger())
			ctx := context.Background()

			s := sampleSession("s1", base)
			m.SaveSession(ctx, s)

			s.Title = "Renamed"
			s.Messages = append(s.Messages, session.Message{
				ID: "s1-m4", Role: session.RoleAssistant, Content: "Sure", Timestamp: base.Add(time.Minute),
			})
			s.UpdatedAt = base.Add(time.Minute)
			m.SaveSession(ctx, s)

			loaded := m.LoadAll(ctx)
			require.Len(t, loaded, 1)
			assert.Equal(t, "Renamed", loaded[0].Title)
			assert.Len(t, loaded[0].Messages, 4)
		})
	}
}

func TestMirror_DeleteSession(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	for _, f := range kvFactories() {
		t.Run(f.name, func(t *testing.T) {
			kv := f.open(t)
			defer kv.Close()
			m := NewMirror(kv, discardLogger())
			ctx := context.Background()

			m.SaveSession(ctx, sampleSession("keep", base))
			m.SaveSession(ctx, sampleSession("drop", base))

			m.DeleteSession(ctx, "drop")
			m.DeleteSession(ctx, "never-existed")

			loaded := m.LoadAll(ctx)
			require.Len(t, loaded, 1)
			assert.Equal(t, "keep", loaded[0].ID)
		})
	}
}

func TestMirror_LoadAllSortedByUpdate(t *testing.T) {
	m := NewMirror(NewMemoryKV(), discardLogger())
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	older := sampleSession("older", base)
	newer := sampleSession("newer", base.Add(time.Hour))
	m.SaveSession(ctx, older)
	m.SaveSession(ctx, newer)

	loaded := m.LoadAll(ctx)
	require.Len(t, loaded, 2)
	assert.Equal(t, "newer", loaded[0].ID)
	assert.Equal(t, "older", loaded[1].ID)
}

func TestMirror_LoadAllSkipsBadEntries(t *testing.T) {
	kv := NewMemoryKV()
	m := NewMirror(kv, discardLogger())
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	m.SaveSession(ctx, sampleSession("good", base))
	require.NoError(t, kv.Put(ctx, "garbage", []byte("{not json")))
	require.NoError(t, kv.Put(ctx, "bad-time", []byte(`{"id":"bad-time","title":"x","messages":[],"createdAt":"yesterday","updatedAt":"today"}`)))
	require.NoError(t, kv.Put(ctx, "bad-role", []byte(`{"id":"bad-role","title":"x","createdAt":"2025-03-01T09:30:00Z","updatedAt":"2025-03-01T09:30:00Z","messages":[{"id":"m","role":"robot","content":"x","timestamp":"2025-03-01T09:30:00Z"}]}`)))

	loaded := m.LoadAll(ctx)
	require.Len(t, loaded, 1)
	assert.Equal(t, "good", loaded[0].ID)
}

func TestMirror_MissingIDFallsBackToKey(t *testing.T) {
	kv := NewMemoryKV()
	m := NewMirror(kv, discardLogger())
	ctx := context.Background()

	require.NoError(t, kv.Put(ctx, "from-key", []byte(`{"title":"x","createdAt":"2025-03-01T09:30:00Z","updatedAt":"2025-03-01T09:30:00Z","messages":[]}`)))

	loaded := m.LoadAll(ctx)
	require.Len(t, loaded, 1)
	assert.Equal(t, "from-key", loaded[0].ID)
}

func TestMirror_SkipsEntryStoredUnderAnotherKey(t *testing.T) {
	kv := NewMemoryKV()
	m := NewMirror(kv, discardLogger())
	ctx := context.Background()

	s := sampleSession("real-id", time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC))
	m.SaveSession(ctx, s)
	data, err := encodeSession(s)
	require.NoError(t, err)
	require.NoError(t, kv.Put(ctx, "other-key", data))

	loaded := m.LoadAll(ctx)
	require.Len(t, loaded, 1)
	assert.Equal(t, "real-id", loaded[0].ID)

	m.DeleteSession(ctx, "real-id")
	assert.Empty(t, m.LoadAll(ctx))
}

func TestMirror_CorruptFileYieldsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("this is not json"), 0644))

	kv, err := NewFileKV(path)
	require.NoError(t, err)
	m := NewMirror(kv, discardLogger())
	ctx := context.Background()

	assert.Empty(t, m.LoadAll(ctx))

	// Writes recover the document.
	m.SaveSession(ctx, sampleSession("fresh", time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)))
	assert.Len(t, m.LoadAll(ctx), 1)
}

func TestMirror_SaveOverCorruptDocumentKeepsOldSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	kv, err := NewFileKV(path)
	require.NoError(t, err)
	m := NewMirror(kv, discardLogger())
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	m.SaveSession(ctx, sampleSession("first", base))

	// A hand edit leaves a trailing comma behind.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	trimmed := bytes.TrimSuffix(bytes.TrimSpace(data), []byte("}"))
	broken := append(trimmed, []byte(",\n}")...)
	require.NoError(t, os.WriteFile(path, broken, 0644))

	m.SaveSession(ctx, sampleSession("second", base.Add(time.Minute)))

	loaded := m.LoadAll(ctx)
	require.Len(t, loaded, 1)
	assert.Equal(t, "second", loaded[0].ID)

	aside, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, aside, 1)
	kept, err := os.ReadFile(aside[0])
	require.NoError(t, err)
	assert.Equal(t, string(broken), string(kept))
	assert.Contains(t, string(kept), `"first"`)
}

type failingKV struct{}

var errBroken = errors.New("disk on fire")

func (failingKV) All(ctx context.Context) (map[string][]byte, error)      { return nil, errBroken }
func (failingKV) Put(ctx context.Context, key string, value []byte) error { return errBroken }
func (failingKV) Delete(ctx context.Context, key string) error            { return errBroken }
func (failingKV) Close() error                                            { return nil }

func TestMirror_FailuresAreAbsorbed(t *testing.T) {
	m := NewMirror(failingKV{}, discardLogger())
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.SaveSession(ctx, sampleSession("s1", time.Now()))
		m.DeleteSession(ctx, "s1")
	})
	loaded := m.LoadAll(ctx)
	assert.NotNil(t, loaded)
	assert.Empty(t, loaded)
}

func TestFileKV_DocumentFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.json")
	kv, err := NewFileKV(path)
	require.NoError(t, err)
	m := NewMirror(kv, discardLogger())

	base := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	m.SaveSession(context.Background(), sampleSession("s1", base))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Contains(t, doc, "s1")
	assert.Equal(t, "2025-03-01T09:30:00Z", doc["s1"]["createdAt"])

	msgs, ok := doc["s1"]["messages"].([]any)
	require.True(t, ok)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "2025-03-01T09:30:01Z", first["timestamp"])
}

func TestEncodeSession_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	s := sampleSession("s1", time.Date(2025, 3, 1, 14, 30, 0, 0, loc))

	data, err := encodeSession(s)
	require.NoError(t, err)

	decoded, err := decodeSession("s1", data)
	require.NoError(t, err)
	assert.True(t, decoded.CreatedAt.Equal(s.CreatedAt))
	assert.Equal(t, time.UTC, decoded.CreatedAt.Location())
}
