package memory

import (
	"context"
	"log/slog"
	"time"
)

// A session needs at least this many events before it is worth persisting.
const minEventsToSave = 2

const defaultSaveTimeout = 15 * time.Second

// Saver flushes session transcripts to the memory service when sessions end.
// The flush is best effort: failures are logged, never retried, and never
// surfaced to the client.
type Saver struct {
	client  *Client
	logger  *slog.Logger
	timeout time.Duration
}

func NewSaver(client *Client, logger *slog.Logger) *Saver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Saver{
		client:  client,
		logger:  logger,
		timeout: defaultSaveTimeout,
	}
}

// SaveSession persists the recorder's transcript and reports whether anything
// was written. Sessions with fewer than two events, or without any user
// utterance, are skipped. Each recorder is flushed at most once.
func (s *Saver) SaveSession(ctx context.Context, rec *Recorder) bool {
	if s == nil || rec == nil {
		return false
	}
	if !s.client.Configured() {
		s.logger.Debug("memory service not configured, skipping save", "session_id", rec.SessionID())
		return false
	}
	if !rec.markSaved() {
		return false
	}
	if rec.Len() < minEventsToSave {
		s.logger.Debug("session too short for memory storage", "session_id", rec.SessionID(), "events", rec.Len())
		return false
	}
	if !rec.HasUserText() {
		s.logger.Debug("session has no user messages, skipping memory storage", "session_id", rec.SessionID())
		return false
	}

	msgs := rec.Messages()
	if len(msgs) == 0 {
		return false
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	userID := rec.UserID()
	sessionID := rec.SessionID()

	if err := s.client.EnsureUser(ctx, userID); err != nil {
		s.logger.Warn("memory flush failed", "session_id", sessionID, "user_id", userID, "error", err)
		return false
	}
	if err := s.client.AddSession(ctx, userID, sessionID); err != nil {
		s.logger.Warn("memory flush failed", "session_id", sessionID, "user_id", userID, "error", err)
		return false
	}
	if err := s.client.AddSessionMessages(ctx, sessionID, msgs); err != nil {
		s.logger.Warn("memory flush failed", "session_id", sessionID, "user_id", userID, "error", err)
		return false
	}

	s.logger.Info("session saved to memory", "session_id", sessionID, "user_id", userID, "messages", len(msgs))
	return true
}
