package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTitle          = "New Chat"
	DefaultTitleMaxLength = 50

	ellipsis = "..."
)

// Clock supplies the current time
type Clock func() time.Time

// IDGenerator supplies fresh, unique identifiers
type IDGenerator func() string

// Store creates and mutates sessions. It holds no sessions itself; the
// caller owns them and passes them in.
type Store struct {
	now          Clock
	newID        IDGenerator
	defaultTitle string
	titleMaxLen  int
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(c Clock) Option {
	return func(s *Store) { s.now = c }
}

// WithIDGenerator overrides the identity source
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) { s.newID = g }
}

// WithDefaultTitle sets the title given to fresh sessions
func WithDefaultTitle(title string) Option {
	return func(s *Store) {
		if strings.TrimSpace(title) != "" {
			s.defaultTitle = title
		}
	}
}

// WithTitleMaxLength sets the maximum length of derived titles, in runes
func WithTitleMaxLength(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.titleMaxLen = n
		}
	}
}

// NewStore creates a Store using wall-clock time and random UUIDs unless
// overridden.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:          time.Now,
		newID:        uuid.NewString,
		defaultTitle: DefaultTitle,
		titleMaxLen:  DefaultTitleMaxLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultTitle returns the title assigned to fresh sessions
func (st *Store) DefaultTitle() string {
	return st.defaultTitle
}

// CreateSession creates a new empty session
func (st *Store) CreateSession() *Session {
	now := st.now()
	return &Session{
		ID:        st.newID(),
		Title:     st.defaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendMessage adds a message to the end of s and returns it. The first
// user message of an untitled session also names the session.
func (st *Store) AppendMessage(s *Session, role Role, content string) Message {
	msg := Message{
		ID:        st.newID(),
		Role:      role,
		Content:   content,
		Timestamp: st.now(),
	}

	if role == RoleUser && len(s.Messages) == 0 && s.Title == st.defaultTitle {
		if title := GenerateTitle(content, st.titleMaxLen); title != "" {
			s.Title = title
		}
	}

	s.Messages = append(s.Messages, msg)
	st.touch(s, msg.Timestamp)
	return msg
}

// RenameSession replaces the title of s when title is non-blank
func (st *Store) RenameSession(s *Session, title string) *Session {
	title = strings.TrimSpace(title)
	if title == "" {
		return s
	}
	s.Title = title
	st.touch(s, st.now())
	return s
}

// touch moves UpdatedAt forward, never backward.
func (st *Store) touch(s *Session, t time.Time) {
	if t.After(s.UpdatedAt) {
		s.UpdatedAt = t
	}
	if s.UpdatedAt.Before(s.CreatedAt) {
		s.UpdatedAt = s.CreatedAt
	}
}

// GenerateTitle derives a session title from the first line of content.
func GenerateTitle(content string, maxLen int) string {
	firstLine, _, _ := strings.Cut(content, "\n")
	firstLine = strings.TrimSpace(strings.TrimSuffix(firstLine, "\r"))
	return Truncate(firstLine, maxLen)
}

// Truncate shortens str to at most maxLen runes, ending in "..." when cut.
// A non-positive maxLen disables truncation.
func Truncate(str string, maxLen int) string {
	if maxLen <= 0 {
		return str
	}
	runes := []rune(str)
	if len(runes) <= maxLen {
		return str
	}
	if maxLen <= len(ellipsis) {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-len(ellipsis)]) + ellipsis
}
