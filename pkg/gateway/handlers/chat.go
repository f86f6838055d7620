package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumenlabs/lumen/pkg/agent"
	"github.com/lumenlabs/lumen/pkg/gateway/apierror"
	"github.com/lumenlabs/lumen/pkg/gateway/config"
	"github.com/lumenlabs/lumen/pkg/gateway/live/protocol"
	"github.com/lumenlabs/lumen/pkg/gateway/live/session"
	"github.com/lumenlabs/lumen/pkg/gateway/live/sessions"
	"github.com/lumenlabs/lumen/pkg/gateway/ratelimit"
	"github.com/lumenlabs/lumen/pkg/memory"
	"github.com/lumenlabs/lumen/pkg/metrics"
	"github.com/lumenlabs/lumen/pkg/users"
)

const (
	maxChatMessageBytes = 1 << 20

	// Microphone frames arrive at well under 50/s; anything past these
	// budgets is a misbehaving client, not speech.
	maxAudioFPS            = 50
	maxAudioBytesPerSecond = 256 << 10
	audioBurstSeconds      = 2
)

// ChatHandler upgrades /ws/{session_id} connections and runs the chat
// session to completion.
type ChatHandler struct {
	Config   config.Config
	Factory  *agent.Factory
	Saver    *memory.Saver
	Metrics  *metrics.Metrics
	Limiter  *ratelimit.Limiter
	Sessions *sessions.Tracker
	Logger   *slog.Logger
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	if h.Sessions.Draining() {
		writeError(w, r, http.StatusServiceUnavailable, &apierror.Error{
			Type:    apierror.ErrUnavailable,
			Message: "server is draining",
			Code:    "draining",
		})
		return
	}
	if !h.originAllowed(r) {
		writeError(w, r, http.StatusForbidden, &apierror.Error{
			Type:    apierror.ErrAuthentication,
			Message: "origin is not allowed",
		})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Validation past this point happens on the socket: the handshake
	// already succeeded, so errors go out as frames.
	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	if sessionID == "" {
		h.wsError(conn, "bad_request", "session id is required")
		return
	}
	userID := users.NormalizeID(r.URL.Query().Get("user_id"))
	if userID == "" {
		h.wsError(conn, "bad_request", "user_id query parameter is required")
		return
	}
	audio, _ := strconv.ParseBool(r.URL.Query().Get("is_audio"))

	if h.Limiter != nil {
		dec := h.Limiter.AcquireSession()
		if !dec.Allowed {
			h.wsError(conn, "rate_limited", "too many active sessions")
			return
		}
		defer dec.Permit.Release()
	}

	assistant, err := h.Factory.Build(r.Context(), userID, audio)
	if err != nil {
		h.log().Error("assistant build failed", "user_id", userID, "error", err)
		h.wsError(conn, "internal", "failed to prepare assistant")
		return
	}
	defer assistant.Close()

	s, err := session.New(session.Dependencies{
		Conn:   conn,
		Logger: h.Logger,
		Start: func(ctx context.Context, audio bool) (session.ModelConversation, error) {
			return assistant.StartMode(ctx, audio)
		},
		Recorder:  memory.NewRecorder(userID, sessionID),
		Saver:     h.Saver,
		Metrics:   h.Metrics,
		SessionID: sessionID,
		UserID:    userID,
		RequestID: requestIDFromContext(r.Context()),
		Audio:     audio,
		Config: session.Config{
			MaxMessageBytes:        maxChatMessageBytes,
			MaxAudioFPS:            maxAudioFPS,
			MaxAudioBytesPerSecond: maxAudioBytesPerSecond,
			AudioBurstSeconds:      audioBurstSeconds,
			PingInterval:           h.Config.WSPingInterval,
			WriteTimeout:           h.Config.WSWriteTimeout,
			// Dead peers show up as missed pongs.
			ReadTimeout: 3 * h.Config.WSPingInterval,
		},
	})
	if err != nil {
		h.wsError(conn, "internal", "failed to initialize session")
		return
	}

	unregister := func() {}
	if h.Sessions != nil {
		unregister = h.Sessions.Register(sessionID, sessions.Handle{
			UserID: userID,
			Mode:   modeOf(audio),
			Cancel: s.Cancel,
			Warn:   s.SendWarning,
		})
	}
	defer unregister()

	if err := s.Run(); err != nil {
		h.log().Warn("chat session ended with error",
			"session_id", sessionID,
			"user_id", userID,
			"request_id", requestIDFromContext(r.Context()),
			"error", err)
	}
}

func (h ChatHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

// wsError reports a pre-session failure on an upgraded socket: an error
// frame so the client can show something, then a policy-violation close.
func (h ChatHandler) wsError(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(protocol.NewErrorFrame(code, message))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(2*time.Second))
}

func (h ChatHandler) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func modeOf(audio bool) string {
	if audio {
		return protocol.ModeAudio
	}
	return protocol.ModeText
}
