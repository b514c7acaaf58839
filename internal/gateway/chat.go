package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/voxhaus/voxd/internal/events"
	"github.com/voxhaus/voxd/internal/memory"
	"github.com/voxhaus/voxd/internal/prompt"
)

// DefaultMaxTokens is used when a chat request does not specify one.
const DefaultMaxTokens = 512

// ChatRequest is the /api/chat request body.
type ChatRequest struct {
	Message   string `json:"message"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ChatResponse is the /api/chat success body.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// handleChat runs one chat turn: validate, persist the user message,
// build the prompt, call the generation backend, persist the reply.
//
// The user entry is persisted before the backend call on purpose: if
// the backend fails we still keep an accurate record of what was
// asked, at the cost of occasionally storing a question with no
// matching answer.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, errTypeValidation, "invalid request body", nil)
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		s.errorResponse(w, http.StatusBadRequest, errTypeValidation, "message is required", nil)
		return
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	// Context is read before the append so the new message is not
	// rendered twice in the prompt.
	context := s.store.RecentContext(s.cfg.History.ContextEntries)

	s.store.AppendUser(message)
	s.recordTurn(memory.RoleUser, message)

	p := prompt.Build(s.persona, context, message)
	reply, err := s.generator.Generate(r.Context(), p, maxTokens)
	if err != nil {
		// Memory is not mutated further; the user turn stays recorded.
		s.backendError(w, err)
		return
	}

	reply = strings.TrimSpace(reply)
	s.store.AppendAssistant(reply)
	s.recordTurn(memory.RoleAssistant, reply)

	s.bus.Publish(events.Event{
		Source: events.SourceGateway,
		Kind:   events.KindChatTurn,
		Data:   map[string]any{"message_len": len(message), "reply_len": len(reply)},
	})

	s.writeJSON(w, ChatResponse{Reply: reply})
}

// recordTurn appends to the transcript archive when one is configured.
// Archive failures are logged and swallowed; the archive is
// observability, not the durability store.
func (s *Server) recordTurn(role, content string) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Record(role, content); err != nil {
		s.log.Warn("transcript archive write failed", "error", err)
	}
}
