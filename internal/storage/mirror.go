package storage

import (
	"context"
	"log/slog"

	"TypeChat/internal/session"
)

// Mirror keeps a KV store in step with in-memory sessions. Storage failures
// are logged and absorbed so a broken store never takes the chat down.
type Mirror struct {
	kv     KV
	logger *slog.Logger
}

// NewMirror creates a Mirror over kv
func NewMirror(kv KV, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{kv: kv, logger: logger}
}

// LoadAll reads every stored session, most recently updated first.
// Unreadable stores yield no sessions; undecodable entries are skipped.
func (m *Mirror) LoadAll(ctx context.Context) []*session.Session {
	entries, err := m.kv.All(ctx)
	if err != nil {
		m.logger.Error("failed to load chat sessions", "error", err)
		return []*session.Session{}
	}

	sessions := make([]*session.Session, 0, len(entries))
	for key, data := range entries {
		s, err := decodeSession(key, data)
		if err != nil {
			m.logger.Warn("skipping unreadable chat session", "session_id", key, "error", err)
			continue
		}
		sessions = append(sessions, s)
	}

	session.SortByUpdated(sessions)

	m.logger.Info("loaded chat sessions", "count", len(sessions))
	return sessions
}

// SaveSession writes a full snapshot of s under its ID
func (m *Mirror) SaveSession(ctx context.Context, s *session.Session) {
	data, err := encodeSession(s)
	if err != nil {
		m.logger.Error("failed to encode chat session", "session_id", s.ID, "error", err)
		return
	}

	if err := m.kv.Put(ctx, s.ID, data); err != nil {
		m.logger.Error("failed to save chat session", "session_id", s.ID, "error", err)
		return
	}

	m.logger.Debug("session saved", "session_id", s.ID, "message_count", len(s.Messages))
}

// DeleteSession removes the stored entry for sessionID, if any
func (m *Mirror) DeleteSession(ctx context.Context, sessionID string) {
	if err := m.kv.Delete(ctx, sessionID); err != nil {
		m.logger.Error("failed to delete chat session", "session_id", sessionID, "error", err)
		return
	}
	m.logger.Info("session deleted", "session_id", sessionID)
}

// Close closes the underlying store
func (m *Mirror) Close() error {
	return m.kv.Close()
}
