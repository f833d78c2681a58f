package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"TypeChat/internal/session"
)

// timeLayout is the string form of every persisted time value.
const timeLayout = time.RFC3339Nano

// sessionRecord is the persisted shape of a session
type sessionRecord struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Messages  []messageRecord `json:"messages"`
	CreatedAt string          `json:"createdAt"`
	UpdatedAt string          `json:"updatedAt"`
}

// messageRecord is the persisted shape of a message
type messageRecord struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return t, nil
}

// encodeSession serializes a full snapshot of s
func encodeSession(s *session.Session) ([]byte, error) {
	rec := sessionRecord{
		ID:        s.ID,
		Title:     s.Title,
		Messages:  make([]messageRecord, len(s.Messages)),
		CreatedAt: formatTime(s.CreatedAt),
		UpdatedAt: formatTime(s.UpdatedAt),
	}
	for i, msg := range s.Messages {
		rec.Messages[i] = messageRecord{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: formatTime(msg.Timestamp),
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

// decodeSession rebuilds the session stored under key. A blob without an id
// takes the key; one whose id names another session is rejected.
func decodeSession(key string, data []byte) (*session.Session, error) {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	switch rec.ID {
	case "":
		rec.ID = key
	case key:
	default:
		return nil, fmt.Errorf("session id %q does not match its key %q", rec.ID, key)
	}

	createdAt, err := parseTime("createdAt", rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime("updatedAt", rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	s := &session.Session{
		ID:        rec.ID,
		Title:     rec.Title,
		Messages:  make([]session.Message, 0, len(rec.Messages)),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}

	for i, m := range rec.Messages {
		role, err := session.ParseRole(m.Role)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		ts, err := parseTime("timestamp", m.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		s.Messages = append(s.Messages, session.Message{
			ID:        m.ID,
			Role:      role,
			Content:   m.Content,
			Timestamp: ts,
		})
	}

	return s, nil
}
