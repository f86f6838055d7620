package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Frame mime types. Client frames carry a mime_type envelope; the server
// additionally emits bare turn-signal frames with no mime_type at all.
const (
	MIMEText          = "text/plain"
	MIMEAudioPCM      = "audio/pcm"
	MIMEModeChange    = "application/mode-change"
	MIMEModeChangeAck = "application/mode-change-ack"
	MIMEError         = "application/error"
)

// Response modes for a chat session.
const (
	ModeText  = "text"
	ModeAudio = "audio"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ClientText is a typed chat message from the user.
type ClientText struct {
	Data string
	Role string
}

// ClientAudio is one microphone frame; Data holds the decoded PCM bytes.
type ClientAudio struct {
	Data []byte
	Role string
}

// ClientModeChange asks the server to switch the response modality.
type ClientModeChange struct {
	Mode string
}

type clientEnvelope struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
	Role     string `json:"role,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// DecodeClientFrame parses one inbound JSON frame into a typed client
// message. Errors are *DecodeError values suitable for an error frame.
func DecodeClientFrame(data []byte) (any, error) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, badRequest("frame is not valid JSON", "")
	}

	mime := strings.TrimSpace(env.MIMEType)
	if mime == "" {
		return nil, badRequest("mime_type is required", "mime_type")
	}

	switch mime {
	case MIMEText:
		if env.Data == "" {
			return nil, badRequest("data is required", "data")
		}
		role := env.Role
		if role == "" {
			role = RoleUser
		}
		return ClientText{Data: env.Data, Role: role}, nil

	case MIMEAudioPCM:
		if env.Data == "" {
			return nil, badRequest("data is required", "data")
		}
		pcm, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return nil, badRequest("data must be standard base64", "data")
		}
		role := env.Role
		if role == "" {
			role = RoleUser
		}
		return ClientAudio{Data: pcm, Role: role}, nil

	case MIMEModeChange:
		// Clients have sent the target mode in either field.
		mode := strings.ToLower(strings.TrimSpace(env.Mode))
		if mode == "" {
			mode = strings.ToLower(strings.TrimSpace(env.Data))
		}
		if mode != ModeText && mode != ModeAudio {
			return nil, badRequest(`mode must be "text" or "audio"`, "mode")
		}
		return ClientModeChange{Mode: mode}, nil

	default:
		return nil, unsupported("unsupported mime_type", "mime_type")
	}
}

// ServerFrame is a streamed model output frame.
type ServerFrame struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
	Role     string `json:"role"`
}

// TextFrame wraps one partial text delta from the model.
func TextFrame(delta string) ServerFrame {
	return ServerFrame{MIMEType: MIMEText, Data: delta, Role: RoleModel}
}

// AudioFrame wraps one chunk of model audio as base64 PCM.
func AudioFrame(pcm []byte) ServerFrame {
	return ServerFrame{
		MIMEType: MIMEAudioPCM,
		Data:     base64.StdEncoding.EncodeToString(pcm),
		Role:     RoleModel,
	}
}

// TurnSignal marks the end (or interruption) of a model turn. It is sent as
// a bare object so clients can cheaply test for the turn_complete key.
type TurnSignal struct {
	TurnComplete bool `json:"turn_complete"`
	Interrupted  bool `json:"interrupted"`
}

// ModeChangeAck confirms a modality switch back to the client.
type ModeChangeAck struct {
	MIMEType string `json:"mime_type"`
	Mode     string `json:"mode"`
	Success  bool   `json:"success"`
}

func NewModeChangeAck(mode string, success bool) ModeChangeAck {
	return ModeChangeAck{MIMEType: MIMEModeChangeAck, Mode: mode, Success: success}
}

// ErrorFrame reports a per-frame or session-level failure to the client.
type ErrorFrame struct {
	MIMEType string    `json:"mime_type"`
	Error    ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorFrame(code, message string) ErrorFrame {
	return ErrorFrame{
		MIMEType: MIMEError,
		Error:    ErrorBody{Code: code, Message: message},
	}
}
