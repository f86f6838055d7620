package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const maxRequestBody = 1 << 20

// Responder produces the assistant's reply to one inbound peer message.
type Responder func(ctx context.Context, message string) (string, error)

// Server answers agent card and message/send requests from peer agents.
type Server struct {
	card    Card
	respond Responder
	logger  *slog.Logger
}

func NewServer(card Card, respond Responder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{card: card, respond: respond, logger: logger}
}

func (s *Server) Card() Card { return s.card }

// CardHandler serves the agent card at the well-known path.
func (s *Server) CardHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.card); err != nil {
			s.logger.Warn("agent card write failed", "error", err)
		}
	}
}

// MessageHandler answers message/send JSON-RPC calls with a completed
// task holding the assistant's text reply.
func (s *Server) MessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			writeRPCError(w, "", codeParseError, "request body unreadable")
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeRPCError(w, "", codeParseError, "request is not valid JSON")
			return
		}
		if req.Method != methodMessageSend {
			writeRPCError(w, req.ID, codeMethodNotFound, fmt.Sprintf("unsupported method %q", req.Method))
			return
		}
		var params sendParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeRPCError(w, req.ID, codeInvalidParams, "params do not decode")
			return
		}
		text := textOf(params.Message.Parts)
		if strings.TrimSpace(text) == "" {
			writeRPCError(w, req.ID, codeInvalidParams, "message has no text parts")
			return
		}

		s.logger.Info("a2a message received", "context_id", params.Message.ContextID, "chars", len(text))
		out, err := s.respond(r.Context(), text)
		if err != nil {
			s.logger.Warn("a2a responder failed", "error", err)
			writeRPCError(w, req.ID, codeInternalError, err.Error())
			return
		}

		contextID := params.Message.ContextID
		if contextID == "" {
			contextID = uuid.NewString()
		}
		writeRPC(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: Task{
			ID:        uuid.NewString(),
			ContextID: contextID,
			Kind:      "task",
			Status:    TaskStatus{State: "completed"},
			Artifacts: []Artifact{{
				ArtifactID: uuid.NewString(),
				Parts:      []Part{{Type: "text", Text: out}},
			}},
		}})
	}
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCError(w http.ResponseWriter, id string, code int, message string) {
	writeRPC(w, rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}
