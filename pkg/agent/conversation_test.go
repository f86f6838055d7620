package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSession struct {
	recv     chan *genai.LiveServerMessage
	toolDone chan struct{}

	mu        sync.Mutex
	contents  []genai.LiveClientContentInput
	realtime  []genai.LiveRealtimeInput
	toolResps []genai.LiveToolResponseInput
	closed    bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		recv:     make(chan *genai.LiveServerMessage, 16),
		toolDone: make(chan struct{}, 4),
	}
}

func (s *fakeSession) SendClientContent(in genai.LiveClientContentInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents = append(s.contents, in)
	return nil
}

func (s *fakeSession) SendRealtimeInput(in genai.LiveRealtimeInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realtime = append(s.realtime, in)
	return nil
}

func (s *fakeSession) SendToolResponse(in genai.LiveToolResponseInput) error {
	s.mu.Lock()
	s.toolResps = append(s.toolResps, in)
	s.mu.Unlock()
	s.toolDone <- struct{}{}
	return nil
}

func (s *fakeSession) Receive() (*genai.LiveServerMessage, error) {
	msg, ok := <-s.recv
	if !ok {
		return nil, io.EOF
	}
	return msg, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.recv)
	}
	return nil
}

func (s *fakeSession) lastToolResponse(t *testing.T) *genai.FunctionResponse {
	t.Helper()
	select {
	case <-s.toolDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tool response")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := s.toolResps[len(s.toolResps)-1]
	if len(resp.FunctionResponses) != 1 {
		t.Fatalf("function responses = %d", len(resp.FunctionResponses))
	}
	return resp.FunctionResponses[0]
}

func startConversation(t *testing.T, cfg Config) (*Conversation, *fakeSession, *genai.LiveConnectConfig) {
	t.Helper()
	fs := newFakeSession()
	var captured *genai.LiveConnectConfig
	connect := func(_ context.Context, _ string, config *genai.LiveConnectConfig) (LiveSession, error) {
		captured = config
		return fs, nil
	}
	conv, err := Start(context.Background(), connect, cfg, discardLogger())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { conv.Close() })
	return conv, fs, captured
}

func collectEvents(t *testing.T, conv *Conversation) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-conv.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out collecting events")
		}
	}
}

func TestConversationTextTurn(t *testing.T) {
	conv, fs, cfg := startConversation(t, Config{Instruction: "be brief"})

	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != genai.ModalityText {
		t.Errorf("modalities = %v", cfg.ResponseModalities)
	}
	if cfg.InputAudioTranscription != nil || cfg.OutputAudioTranscription != nil {
		t.Error("text sessions should not transcribe")
	}
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "be brief" {
		t.Errorf("system instruction = %+v", cfg.SystemInstruction)
	}

	fs.recv <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		ModelTurn: &genai.Content{Parts: []*genai.Part{{Text: "Hel"}}},
	}}
	fs.recv <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		ModelTurn: &genai.Content{Parts: []*genai.Part{{Text: "lo."}}},
	}}
	fs.recv <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{TurnComplete: true}}
	fs.Close()

	events := collectEvents(t, conv)
	if len(events) != 3 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Text != "Hel" || events[1].Text != "lo." {
		t.Errorf("text deltas = %q %q", events[0].Text, events[1].Text)
	}
	if !events[2].TurnComplete {
		t.Error("missing turn completion")
	}
}

func TestConversationAudioTurn(t *testing.T) {
	conv, fs, cfg := startConversation(t, Config{AudioOutput: true, Voice: "Aoede"})

	if cfg.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("modalities = %v", cfg.ResponseModalities)
	}
	if cfg.InputAudioTranscription == nil {
		t.Error("audio sessions should transcribe input")
	}
	if cfg.OutputAudioTranscription == nil {
		t.Error("audio sessions should transcribe output")
	}
	if got := cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Aoede" {
		t.Errorf("voice = %q", got)
	}

	pcm := []byte{1, 2, 3, 4}
	fs.recv <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		InputTranscription: &genai.Transcription{Text: "Hi there."},
	}}
	fs.recv <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		ModelTurn: &genai.Content{Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: pcm}},
		}},
	}}
	fs.recv <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		OutputTranscription: &genai.Transcription{Text: "Hello."},
	}}
	fs.recv <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{Interrupted: true, TurnComplete: true}}
	fs.Close()

	events := collectEvents(t, conv)
	if len(events) != 4 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].UserTranscript != "Hi there." {
		t.Errorf("user transcript = %q", events[0].UserTranscript)
	}
	if string(events[1].Audio) != string(pcm) {
		t.Errorf("audio = %v", events[1].Audio)
	}
	if events[2].Text != "Hello." {
		t.Errorf("transcript = %q", events[2].Text)
	}
	if !events[3].Interrupted || !events[3].TurnComplete {
		t.Errorf("final event = %+v", events[3])
	}
}

func TestConversationToolCalls(t *testing.T) {
	called := make(chan map[string]any, 1)
	tools := []Tool{
		{
			Name: "ping",
			Run: func(_ context.Context, args map[string]any) (map[string]any, error) {
				called <- args
				return map[string]any{"pong": true}, nil
			},
		},
		{
			Name: "broken",
			Run: func(context.Context, map[string]any) (map[string]any, error) {
				return nil, fmt.Errorf("backend down")
			},
		},
	}
	_, fs, cfg := startConversation(t, Config{Tools: tools, Search: true})

	if len(cfg.Tools) != 2 {
		t.Fatalf("tool blocks = %d", len(cfg.Tools))
	}
	if cfg.Tools[0].GoogleSearch == nil {
		t.Error("expected search tool first")
	}
	if len(cfg.Tools[1].FunctionDeclarations) != 2 {
		t.Errorf("declarations = %d", len(cfg.Tools[1].FunctionDeclarations))
	}

	fs.recv <- &genai.LiveServerMessage{ToolCall: &genai.LiveServerToolCall{
		FunctionCalls: []*genai.FunctionCall{{ID: "call-1", Name: "ping", Args: map[string]any{"n": float64(1)}}},
	}}
	fr := fs.lastToolResponse(t)
	if fr.ID != "call-1" || fr.Name != "ping" {
		t.Errorf("response = %+v", fr)
	}
	if fr.Response["pong"] != true {
		t.Errorf("response payload = %v", fr.Response)
	}
	if args := <-called; args["n"] != float64(1) {
		t.Errorf("args = %v", args)
	}

	fs.recv <- &genai.LiveServerMessage{ToolCall: &genai.LiveServerToolCall{
		FunctionCalls: []*genai.FunctionCall{{Name: "broken"}},
	}}
	fr = fs.lastToolResponse(t)
	if got, _ := fr.Response["error"].(string); got != "backend down" {
		t.Errorf("error payload = %v", fr.Response)
	}

	fs.recv <- &genai.LiveServerMessage{ToolCall: &genai.LiveServerToolCall{
		FunctionCalls: []*genai.FunctionCall{{Name: "missing"}},
	}}
	fr = fs.lastToolResponse(t)
	if got, _ := fr.Response["error"].(string); got == "" {
		t.Errorf("expected unknown-tool error, got %v", fr.Response)
	}
}

func TestConversationSend(t *testing.T) {
	conv, fs, _ := startConversation(t, Config{})

	if err := conv.SendText("hello there"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := conv.SendAudio([]byte{9, 9}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.contents) != 1 {
		t.Fatalf("contents = %d", len(fs.contents))
	}
	turn := fs.contents[0]
	if !turn.TurnComplete {
		t.Error("text turns must complete the turn")
	}
	if turn.Turns[0].Role != "user" || turn.Turns[0].Parts[0].Text != "hello there" {
		t.Errorf("turn = %+v", turn.Turns[0])
	}
	if len(fs.realtime) != 1 || fs.realtime[0].Media.MIMEType != "audio/pcm" {
		t.Fatalf("realtime = %+v", fs.realtime)
	}
}

func TestConversationCloseEndsEvents(t *testing.T) {
	conv, _, _ := startConversation(t, Config{})

	if err := conv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conv.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, ok := <-conv.Events():
		if ok {
			t.Fatal("unexpected event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel did not close")
	}
}

func TestStartConnectError(t *testing.T) {
	connect := func(context.Context, string, *genai.LiveConnectConfig) (LiveSession, error) {
		return nil, fmt.Errorf("upstream refused")
	}
	if _, err := Start(context.Background(), connect, Config{}, discardLogger()); err == nil {
		t.Fatal("expected connect error")
	}
}
