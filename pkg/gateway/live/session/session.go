// Package session runs one chat connection: a WebSocket carrying JSON
// frames on one side, the live model conversation on the other, and a
// transcript that flushes to long-term memory once the client is gone.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumenlabs/lumen/pkg/agent"
	"github.com/lumenlabs/lumen/pkg/gateway/live/protocol"
	"github.com/lumenlabs/lumen/pkg/memory"
	"github.com/lumenlabs/lumen/pkg/metrics"
)

const (
	outboundPriorityQueueSize = 8
	defaultOutboundQueueSize  = 128
	defaultFlushTimeout       = 20 * time.Second
)

var errBackpressure = errors.New("chat outbound backpressure")

// ModelConversation is the live model stream the session bridges to.
// *agent.Conversation satisfies it.
type ModelConversation interface {
	Events() <-chan agent.Event
	SendText(text string) error
	SendAudio(pcm []byte) error
	Close() error
}

// Starter opens a model conversation with the given response modality.
type Starter func(ctx context.Context, audio bool) (ModelConversation, error)

type Config struct {
	MaxMessageBytes        int64
	MaxAudioFPS            int
	MaxAudioBytesPerSecond int64
	AudioBurstSeconds      int
	OutboundQueueSize      int
	PingInterval           time.Duration
	WriteTimeout           time.Duration
	ReadTimeout            time.Duration
	FlushTimeout           time.Duration
}

type Dependencies struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Start     Starter
	Recorder  *memory.Recorder
	Saver     *memory.Saver
	Metrics   *metrics.Metrics
	SessionID string
	UserID    string
	RequestID string
	Audio     bool
	Config    Config
	Now       func() time.Time
}

// ChatSession bridges one client socket to one model conversation.
// Everything except Cancel and SendWarning runs on the Run goroutine.
type ChatSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	start     Starter
	recorder  *memory.Recorder
	saver     *memory.Saver
	metrics   *metrics.Metrics
	sessionID string
	userID    string
	requestID string
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	// Run-loop state. The main loop is the only goroutine touching these.
	conv      ModelConversation
	events    <-chan agent.Event
	audioMode bool
	audioIn   *audioLimiter
	turn      strings.Builder
	userTurn  strings.Builder
}

type outboundFrame struct {
	payload []byte
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*ChatSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Start == nil {
		return nil, fmt.Errorf("conversation starter is required")
	}
	if strings.TrimSpace(deps.SessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(deps.UserID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = defaultOutboundQueueSize
	}
	if deps.Config.FlushTimeout <= 0 {
		deps.Config.FlushTimeout = defaultFlushTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ChatSession{
		conn:             deps.Conn,
		logger:           deps.Logger.With("session_id", deps.SessionID, "user_id", deps.UserID),
		start:            deps.Start,
		recorder:         deps.Recorder,
		saver:            deps.Saver,
		metrics:          deps.Metrics,
		sessionID:        deps.SessionID,
		userID:           deps.UserID,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		audioMode:        deps.Audio,
		audioIn:          newAudioLimiter(deps.Now, deps.Config.MaxAudioFPS, deps.Config.MaxAudioBytesPerSecond, deps.Config.AudioBurstSeconds),
	}, nil
}

// Run drives the session until the client disconnects, the model stream
// ends, or the session is canceled. It always flushes the transcript to
// memory before returning.
func (s *ChatSession) Run() error {
	started := s.now()
	status := "ok"
	if s.metrics != nil {
		s.metrics.RecordSessionStart()
	}

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
		// A dead writer must also unblock the run loop.
		s.cancel()
	}()

	readCh := make(chan inboundFrame, 64)
	go s.readLoop(readCh)

	var runErr error
	conv, err := s.start(s.ctx, s.audioMode)
	if err != nil {
		s.logger.Error("conversation start failed", "error", err)
		_ = s.sendError("unavailable", "assistant is unavailable right now")
		status = "error"
		runErr = err
	} else {
		s.conv = conv
		s.events = conv.Events()
		s.logger.Info("chat session started", "mode", modeString(s.audioMode))

	loop:
		for {
			select {
			case <-s.ctx.Done():
				break loop

			case werr, ok := <-writerErrCh:
				if ok && werr != nil {
					// Write failures mean the client is gone.
					s.logger.Debug("socket writer ended", "error", werr)
				}
				break loop

			case in, ok := <-readCh:
				if !ok {
					break loop
				}
				if in.err != nil {
					s.logger.Debug("client read ended", "error", in.err)
					break loop
				}
				if ferr := s.handleClientFrame(in); ferr != nil {
					status = "error"
					runErr = ferr
					break loop
				}

			case ev, ok := <-s.events:
				if !ok {
					status = "model_closed"
					s.logger.Info("model stream closed")
					_ = s.sendError("model_closed", "assistant stream ended")
					break loop
				}
				s.handleModelEvent(ev)
			}
		}
	}

	if s.conv != nil {
		_ = s.conv.Close()
	}
	s.cancel()

	// Let the writer flush queued priority frames and the close handshake.
	drain := time.NewTimer(200 * time.Millisecond)
	select {
	case <-writerErrCh:
	case <-drain.C:
	}
	drain.Stop()

	s.flushMemory()

	duration := s.now().Sub(started)
	if s.metrics != nil {
		s.metrics.RecordSessionEnd(modeString(s.audioMode), status, duration)
	}
	s.logger.Info("chat session ended", "status", status, "duration_ms", duration.Milliseconds())
	return runErr
}

// Cancel tears the session down from outside the run loop.
func (s *ChatSession) Cancel() {
	s.cancel()
}

// SendWarning pushes an error frame ahead of streamed output. Used to
// notify clients about impending shutdown.
func (s *ChatSession) SendWarning(code, message string) error {
	return s.sendJSONPriority(protocol.NewErrorFrame(code, message))
}

func (s *ChatSession) handleClientFrame(in inboundFrame) error {
	if in.messageType == websocket.BinaryMessage {
		s.countFrame("in", "invalid")
		_ = s.sendError("bad_request", "expected JSON text frames")
		return nil
	}

	msg, err := protocol.DecodeClientFrame(in.data)
	if err != nil {
		s.countFrame("in", "invalid")
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			_ = s.sendError(de.Code, de.Error())
		} else {
			_ = s.sendError("bad_request", "malformed frame")
		}
		return nil
	}

	switch m := msg.(type) {
	case protocol.ClientText:
		s.countFrame("in", "text")
		if s.recorder != nil {
			s.recorder.RecordUser(m.Data)
		}
		if err := s.conv.SendText(m.Data); err != nil {
			_ = s.sendError("model_send_failed", "could not reach the assistant")
			return fmt.Errorf("send text: %w", err)
		}

	case protocol.ClientAudio:
		if !s.audioIn.Allow(len(m.Data)) {
			s.countFrame("in", "audio_dropped")
			s.logger.Debug("inbound audio dropped", "bytes", len(m.Data))
			return nil
		}
		s.countFrame("in", "audio")
		if s.metrics != nil {
			s.metrics.RecordAudioBytes("in", len(m.Data))
		}
		if err := s.conv.SendAudio(m.Data); err != nil {
			_ = s.sendError("model_send_failed", "could not reach the assistant")
			return fmt.Errorf("send audio: %w", err)
		}

	case protocol.ClientModeChange:
		s.countFrame("in", "mode_change")
		s.changeMode(m.Mode)
	}
	return nil
}

// changeMode reopens the model conversation with the requested response
// modality. The live stream's modality is fixed at connect time, so an
// actual switch means a reconnect; asking for the current mode just acks.
func (s *ChatSession) changeMode(mode string) {
	target := mode == protocol.ModeAudio
	if target == s.audioMode {
		_ = s.sendJSONPriority(protocol.NewModeChangeAck(mode, true))
		s.countFrame("out", "mode_ack")
		return
	}

	nc, err := s.start(s.ctx, target)
	if err != nil {
		s.logger.Error("mode change failed", "mode", mode, "error", err)
		_ = s.sendJSONPriority(protocol.NewModeChangeAck(mode, false))
		_ = s.sendError("mode_change_failed", "could not switch response mode")
		return
	}

	s.commitTurn()
	old := s.conv
	s.conv = nc
	s.events = nc.Events()
	s.audioMode = target
	if old != nil {
		_ = old.Close()
	}

	_ = s.sendJSONPriority(protocol.NewModeChangeAck(mode, true))
	s.countFrame("out", "mode_ack")
	s.logger.Info("mode changed", "mode", mode)
}

func (s *ChatSession) handleModelEvent(ev agent.Event) {
	if ev.UserTranscript != "" {
		s.userTurn.WriteString(ev.UserTranscript)
	}
	if ev.Text != "" {
		s.turn.WriteString(ev.Text)
		if s.sendJSON(protocol.TextFrame(ev.Text)) == nil {
			s.countFrame("out", "text")
		}
	}
	if len(ev.Audio) > 0 {
		if s.sendJSON(protocol.AudioFrame(ev.Audio)) == nil {
			s.countFrame("out", "audio")
			if s.metrics != nil {
				s.metrics.RecordAudioBytes("out", len(ev.Audio))
			}
		}
	}
	if ev.TurnComplete || ev.Interrupted {
		s.commitTurn()
		_ = s.sendJSONPriority(protocol.TurnSignal{TurnComplete: ev.TurnComplete, Interrupted: ev.Interrupted})
		s.countFrame("out", "signal")
		outcome := "complete"
		if ev.Interrupted {
			outcome = "interrupted"
		}
		if s.metrics != nil {
			s.metrics.RecordTurn(outcome)
		}
	}
}

// commitTurn moves the accumulated transcript text for the current turn
// into memory, heard user speech first so the transcript reads in order.
func (s *ChatSession) commitTurn() {
	heard := s.userTurn.String()
	s.userTurn.Reset()
	text := s.turn.String()
	s.turn.Reset()
	if s.recorder == nil {
		return
	}
	if heard != "" {
		s.recorder.RecordUser(heard)
	}
	if text != "" {
		s.recorder.Record(protocol.RoleModel, text)
	}
}

// flushMemory persists the transcript under a detached context: the
// socket is gone, but the flush still gets its own budget.
func (s *ChatSession) flushMemory() {
	if s.saver == nil || s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
	defer cancel()
	saved := s.saver.SaveSession(ctx, s.recorder)
	if s.metrics != nil {
		s.metrics.RecordMemoryFlush(saved)
	}
}

func (s *ChatSession) sendError(code, message string) error {
	err := s.sendJSONPriority(protocol.NewErrorFrame(code, message))
	if err == nil {
		s.countFrame("out", "error")
	}
	return err
}

func (s *ChatSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{payload: payload})
}

func (s *ChatSession) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(outboundFrame{payload: payload})
}

// enqueueNormal blocks until the writer has room, mirroring the socket's
// own flow control back onto the model stream. Cancellation unblocks it.
func (s *ChatSession) enqueueNormal(frame outboundFrame) error {
	select {
	case s.outboundNormal <- frame:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// enqueuePriority never blocks: when the queue is full the oldest frame
// is evicted so the newest signal still goes out.
func (s *ChatSession) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (s *ChatSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ChatSession) countFrame(direction, kind string) {
	if s.metrics != nil {
		s.metrics.RecordFrame(direction, kind)
	}
}

func modeString(audio bool) string {
	if audio {
		return protocol.ModeAudio
	}
	return protocol.ModeText
}
