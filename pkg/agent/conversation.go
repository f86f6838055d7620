package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// Model and voice defaults for the hosted live API.
const (
	DefaultLiveModel     = "gemini-2.0-flash-exp"
	DefaultSubAgentModel = "gemini-2.0-flash"
	DefaultEmailModel    = "gemini-2.5-flash-lite"
	DefaultVoice         = "Aoede"
)

// LiveSession is the bidirectional stream surface of the hosted live
// API. *genai.Session satisfies it.
type LiveSession interface {
	SendClientContent(input genai.LiveClientContentInput) error
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// Connector opens a live session against a model.
type Connector func(ctx context.Context, model string, config *genai.LiveConnectConfig) (LiveSession, error)

// GenAIConnector adapts the hosted client to the Connector type.
func GenAIConnector(client *genai.Client) Connector {
	return func(ctx context.Context, model string, config *genai.LiveConnectConfig) (LiveSession, error) {
		return client.Live.Connect(ctx, model, config)
	}
}

// Config describes one live conversation.
type Config struct {
	Model       string
	Voice       string
	Instruction string
	AudioOutput bool // answer with speech instead of text
	Search      bool // expose the hosted web search tool
	Tools       []Tool
}

// Event is one unit of model output. Text carries partial deltas, and in
// audio mode the transcript of the spoken answer. UserTranscript carries
// what the model heard the user say. TurnComplete and Interrupted mark
// turn boundaries.
type Event struct {
	Text           string
	UserTranscript string
	Audio          []byte
	TurnComplete   bool
	Interrupted    bool
}

// Conversation is an open live session. Model output arrives on Events
// until the session ends, at which point the channel closes.
type Conversation struct {
	session LiveSession
	tools   map[string]Tool
	logger  *slog.Logger
	events  chan Event

	sendMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Start connects a live session and begins pumping model output.
func Start(ctx context.Context, connect Connector, cfg Config, logger *slog.Logger) (*Conversation, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLiveModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}

	modality := genai.ModalityText
	if cfg.AudioOutput {
		modality = genai.ModalityAudio
	}
	lcc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{modality},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		},
		Tools: liveTools(cfg),
	}
	if cfg.Instruction != "" {
		lcc.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(cfg.Instruction)}}
	}
	if cfg.AudioOutput {
		lcc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		lcc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}

	session, err := connect(ctx, cfg.Model, lcc)
	if err != nil {
		return nil, fmt.Errorf("live connect: %w", err)
	}

	c := &Conversation{
		session: session,
		tools:   toolIndex(cfg.Tools),
		logger:  logger,
		events:  make(chan Event, 64),
	}
	go c.receive(ctx)
	return c, nil
}

// Events delivers model output in arrival order.
func (c *Conversation) Events() <-chan Event { return c.events }

// SendText submits one complete user turn.
func (c *Conversation) SendText(text string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.session.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{
			{Role: "user", Parts: []*genai.Part{genai.NewPartFromText(text)}},
		},
		TurnComplete: true,
	})
}

// SendAudio streams one chunk of 16 kHz PCM microphone audio.
func (c *Conversation) SendAudio(pcm []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: pcm, MIMEType: "audio/pcm"},
	})
}

// Close tears down the live session. The events channel closes once the
// receive loop observes the closed stream.
func (c *Conversation) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

func (c *Conversation) receive(ctx context.Context) {
	defer close(c.events)
	for {
		msg, err := c.session.Receive()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug("live stream ended", "error", err)
			}
			return
		}
		if msg == nil {
			continue
		}
		if msg.ToolCall != nil {
			// Tools can take a while. Answering off the receive loop
			// keeps audio flowing during the call.
			go c.respondToolCall(ctx, msg.ToolCall)
			continue
		}
		ev, ok := eventFrom(msg.ServerContent)
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func eventFrom(sc *genai.LiveServerContent) (Event, bool) {
	if sc == nil {
		return Event{}, false
	}
	ev := Event{TurnComplete: sc.TurnComplete, Interrupted: sc.Interrupted}
	if sc.InputTranscription != nil {
		ev.UserTranscript += sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ev.Text += sc.OutputTranscription.Text
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.Text != "" {
				ev.Text += p.Text
			}
			if p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, "audio/pcm") {
				ev.Audio = append(ev.Audio, p.InlineData.Data...)
			}
		}
	}
	if ev.Text == "" && ev.UserTranscript == "" && len(ev.Audio) == 0 && !ev.TurnComplete && !ev.Interrupted {
		return Event{}, false
	}
	return ev, true
}

func (c *Conversation) respondToolCall(ctx context.Context, tc *genai.LiveServerToolCall) {
	responses := make([]*genai.FunctionResponse, 0, len(tc.FunctionCalls))
	for _, fc := range tc.FunctionCalls {
		if fc == nil {
			continue
		}
		responses = append(responses, &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: c.runTool(ctx, fc),
		})
	}
	if len(responses) == 0 {
		return
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses}); err != nil {
		c.logger.Warn("tool response send failed", "error", err)
	}
}

func (c *Conversation) runTool(ctx context.Context, fc *genai.FunctionCall) map[string]any {
	tool, ok := c.tools[fc.Name]
	if !ok {
		c.logger.Warn("model called unknown tool", "tool", fc.Name)
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", fc.Name)}
	}
	c.logger.Debug("tool call", "tool", fc.Name)
	out, err := tool.Run(ctx, fc.Args)
	if err != nil {
		c.logger.Warn("tool failed", "tool", fc.Name, "error", err)
		return map[string]any{"error": err.Error()}
	}
	return out
}
