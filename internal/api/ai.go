package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/example/site-scaffolder/internal/completion"
	"github.com/example/site-scaffolder/internal/models"
)

// streamStatusHeader is sent as a trailer on /ai/chat: "ok" or "error".
const streamStatusHeader = "X-Stream-Status"

type templateRequest struct {
	Message string `json:"message"`
}

type templateResponse struct {
	Kind      completion.Kind `json:"kind"`
	Prompts   []string        `json:"prompts"`
	UIPrompts []string        `json:"uiPrompts"`
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	cls, err := s.completion.Classify(r.Context(), req.Message)
	var cerr *completion.ClassificationError
	switch {
	case errors.As(err, &cerr):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error":    "Unexpected response from AI",
			"received": cerr.Answer,
		})
		return
	case err != nil:
		s.logger.Error("classification failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "classification failed")
		return
	}
	respondJSON(w, http.StatusOK, templateResponse{
		Kind:      cls.Kind,
		Prompts:   cls.Prompts,
		UIPrompts: []string{cls.UIArtifact},
	})
}

type chatRequest struct {
	Messages []models.ChatMessage `json:"messages"`
}

// handleChat relays the model's answer as plain text while it streams. A
// failure after the headers are sent is reported in-band as a final
// <error>…</error> line and in the status trailer.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Messages) == 0 {
		respondError(w, http.StatusBadRequest, "messages must be a non-empty list")
		return
	}
	for i, m := range req.Messages {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("message %d has unknown role %q", i, m.Role))
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Trailer", streamStatusHeader)
	w.WriteHeader(http.StatusOK)

	fw := &flushWriter{w: w, rc: http.NewResponseController(w)}
	if err := s.completion.ConverseTo(r.Context(), req.Messages, fw); err != nil {
		s.logger.Warn("chat stream failed", zap.Error(err))
		if fw.n > 0 {
			_, _ = fw.Write([]byte("\n"))
		}
		_, _ = fmt.Fprintf(fw, "<error>%s</error>", err)
		w.Header().Set(streamStatusHeader, "error")
		return
	}
	w.Header().Set(streamStatusHeader, "ok")
}

// flushWriter pushes every write to the client.
type flushWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
	n  int
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.n += n
	if err != nil {
		return n, err
	}
	_ = f.rc.Flush()
	return n, nil
}
