package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"TypeChat/internal/session"
)

// TimestampLayout is how session update times are shown in lists
const TimestampLayout = "Jan 2, 3:04 PM"

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	activeStyle    = lipgloss.NewStyle().Bold(true)
)

// IsTerminal reports whether f is attached to a terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Renderer writes the conversation to a terminal
type Renderer struct {
	out         io.Writer
	markdown    *glamour.TermRenderer
	typingSpeed time.Duration
	loc         *time.Location
	sleep       func(ctx context.Context, d time.Duration) bool
}

// Option configures a Renderer
type Option func(*Renderer)

// WithMarkdown renders assistant replies as markdown wrapped at width
func WithMarkdown(width int) Option {
	return func(r *Renderer) {
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			// fall back to plain text
			return
		}
		r.markdown = md
	}
}

// WithTypingSpeed sets the per-rune delay of the typing animation; zero
// prints replies at once.
func WithTypingSpeed(d time.Duration) Option {
	return func(r *Renderer) { r.typingSpeed = d }
}

// WithLocation sets the zone timestamps are shown in
func WithLocation(loc *time.Location) Option {
	return func(r *Renderer) { r.loc = loc }
}

// NewRenderer creates a Renderer writing to out
func NewRenderer(out io.Writer, opts ...Option) *Renderer {
	r := &Renderer{
		out:   out,
		loc:   time.Local,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Writer returns the underlying output
func (r *Renderer) Writer() io.Writer {
	return r.out
}

// Banner prints the greeting shown at startup
func (r *Renderer) Banner(s *session.Session, backendName string) {
	fmt.Fprintln(r.out, titleStyle.Render("=== TypeChat ==="))
	fmt.Fprintf(r.out, "Session: %s (%s)\n", s.Title, s.ID)
	fmt.Fprintf(r.out, "Backend: %s\n", backendName)
	fmt.Fprintln(r.out, dimStyle.Render("Type /help for commands, /quit to exit"))
	fmt.Fprintln(r.out)
}

// UserPrompt is the input prompt label
func (r *Renderer) UserPrompt() string {
	return "You: "
}

// AssistantLabel prints the label that precedes a reply
func (r *Renderer) AssistantLabel() {
	fmt.Fprint(r.out, assistantStyle.Render("Bot:")+" ")
}

// Thinking prints the pending-reply indicator
func (r *Renderer) Thinking() {
	fmt.Fprintln(r.out, dimStyle.Render("Thinking... (Ctrl+C to stop)"))
}

func (r *Renderer) format(content string) string {
	if r.markdown == nil {
		return content
	}
	rendered, err := r.markdown.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(rendered, "\n")
}

// Reply prints an assistant reply with the typing animation. Cancelling ctx
// prints the remainder at once.
func (r *Renderer) Reply(ctx context.Context, content string) {
	r.AssistantLabel()
	text := r.format(content)

	if r.typingSpeed <= 0 {
		fmt.Fprintln(r.out, text)
		fmt.Fprintln(r.out)
		return
	}

	runes := []rune(text)
	for i, ch := range runes {
		fmt.Fprint(r.out, string(ch))
		if !r.sleep(ctx, r.typingSpeed) {
			fmt.Fprint(r.out, string(runes[i+1:]))
			break
		}
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out)
}

// Stream prints a reply as it arrives; Update takes the reply text so far.
type Stream struct {
	r       *Renderer
	printed string
	started bool
}

// NewStream starts printing a streamed reply
func (r *Renderer) NewStream() *Stream {
	return &Stream{r: r}
}

// Update prints whatever content adds beyond what is already shown. A chunk
// that does not extend the shown text is printed on a fresh line.
func (s *Stream) Update(content string) {
	if !s.started {
		s.r.AssistantLabel()
		s.started = true
	}
	if strings.HasPrefix(content, s.printed) {
		fmt.Fprint(s.r.out, content[len(s.printed):])
	} else {
		fmt.Fprint(s.r.out, "\n"+content)
	}
	s.printed = content
}

// Started reports whether any chunk was printed
func (s *Stream) Started() bool {
	return s.started
}

// Finish ends the streamed reply
func (s *Stream) Finish() {
	if s.started {
		fmt.Fprintln(s.r.out)
		fmt.Fprintln(s.r.out)
	}
}

// Error prints err inline
func (r *Renderer) Error(err error) {
	fmt.Fprintln(r.out, errorStyle.Render("Error: "+err.Error()))
}

// Info prints a status line
func (r *Renderer) Info(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

// FormatSessionLine describes a session for the session list
func (r *Renderer) FormatSessionLine(s *session.Session) string {
	return fmt.Sprintf("%s — %s • %d messages",
		s.Title,
		s.UpdatedAt.In(r.loc).Format(TimestampLayout),
		len(s.Messages),
	)
}

// SessionList prints sessions numbered from 1, marking the active one
func (r *Renderer) SessionList(sessions []*session.Session, activeID string) {
	if len(sessions) == 0 {
		fmt.Fprintln(r.out, "No sessions.")
		return
	}
	fmt.Fprintln(r.out, "\nSessions:")
	for i, s := range sessions {
		marker := " "
		line := r.FormatSessionLine(s)
		if s.ID == activeID {
			marker = "*"
			line = activeStyle.Render(line)
		}
		fmt.Fprintf(r.out, "%s %d. %s\n", marker, i+1, line)
	}
	fmt.Fprintln(r.out)
}

// History prints every message of s
func (r *Renderer) History(s *session.Session) {
	if s.IsEmpty() {
		fmt.Fprintln(r.out, "No messages yet.")
		return
	}
	fmt.Fprintln(r.out, titleStyle.Render(s.Title))
	for _, msg := range s.Messages {
		label := string(msg.Role)
		switch msg.Role {
		case session.RoleUser:
			label = userStyle.Render("You:")
		case session.RoleAssistant:
			label = assistantStyle.Render("Bot:")
		}
		stamp := dimStyle.Render("[" + msg.Timestamp.In(r.loc).Format(time.Kitchen) + "]")
		fmt.Fprintf(r.out, "%s %s %s\n", stamp, label, msg.Content)
	}
	fmt.Fprintln(r.out)
}
