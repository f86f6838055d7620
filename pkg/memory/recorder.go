package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// AuthorUser marks transcript events typed or spoken by the person on the
// other end of the socket. Every other author maps to the assistant role.
const AuthorUser = "user"

const createdAtLayout = "2006-01-02T15:04:05.000000Z07:00"

// Event is one utterance captured during a live session.
type Event struct {
	ID        string
	Author    string
	Text      string
	Timestamp time.Time
}

// Recorder accumulates the textual transcript of one live session so it can
// be flushed to long-term memory when the session ends.
type Recorder struct {
	userID    string
	sessionID string

	mu     sync.Mutex
	events []Event
	saved  bool

	now func() time.Time
}

func NewRecorder(userID, sessionID string) *Recorder {
	return &Recorder{
		userID:    userID,
		sessionID: sessionID,
		now:       time.Now,
	}
}

func (r *Recorder) UserID() string    { return r.userID }
func (r *Recorder) SessionID() string { return r.sessionID }

// Record appends one utterance. Blank text is dropped so transcripts carry
// only events worth remembering.
func (r *Recorder) Record(author, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{
		ID:        "ev_" + ulid.Make().String(),
		Author:    author,
		Text:      text,
		Timestamp: r.now().UTC(),
	})
}

// RecordUser appends an utterance authored by the user.
func (r *Recorder) RecordUser(text string) {
	r.Record(AuthorUser, text)
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// HasUserText reports whether any captured event came from the user.
func (r *Recorder) HasUserText() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if strings.EqualFold(ev.Author, AuthorUser) {
			return true
		}
	}
	return false
}

// Events returns a copy of the captured transcript.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// markSaved flips the recorder into its saved state and reports whether the
// caller is the first to do so. The flush on disconnect runs at most once.
func (r *Recorder) markSaved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved {
		return false
	}
	r.saved = true
	return true
}

// Messages converts the transcript into the wire shape the memory service
// ingests. Newlines collapse to spaces and empty events are dropped.
func (r *Recorder) Messages() []Message {
	events := r.Events()
	msgs := make([]Message, 0, len(events))
	for _, ev := range events {
		content := strings.TrimSpace(strings.ReplaceAll(ev.Text, "\n", " "))
		if content == "" {
			continue
		}
		role := "assistant"
		if strings.EqualFold(ev.Author, AuthorUser) {
			role = "user"
		}
		msgs = append(msgs, Message{
			RoleType: role,
			Content:  content,
			Metadata: map[string]any{
				"session_id": r.sessionID,
				"event_id":   ev.ID,
				"author":     ev.Author,
			},
			CreatedAt: ev.Timestamp.Format(createdAtLayout),
		})
	}
	return msgs
}
