package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/site-scaffolder/internal/brief"
	"github.com/example/site-scaffolder/internal/completion"
	"github.com/example/site-scaffolder/internal/filetree"
	"github.com/example/site-scaffolder/internal/orchestrator"
)

type startSessionRequest struct {
	Prompt    string       `json:"prompt"`
	ProjectID string       `json:"projectId"`
	Brief     *briefUpload `json:"brief,omitempty"`
}

// briefUpload is a brief file sent inline; Data is base64 or a data: URL.
type briefUpload struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if req.Brief != nil {
		text, err := s.briefText(r, req.Brief)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		prompt = strings.TrimSpace(prompt + "\n\n" + text)
	}
	if req.ProjectID != "" && s.store != nil {
		ok, err := s.store.IsMember(r.Context(), req.ProjectID, userID(r))
		if err != nil {
			s.storeError(w, err)
			return
		}
		if !ok {
			respondError(w, http.StatusForbidden, "user does not belong to this project")
			return
		}
	}

	snap, err := s.orch.Start(r.Context(), prompt, req.ProjectID)
	if err != nil {
		s.sessionError(w, snap, err)
		return
	}
	respondJSON(w, http.StatusCreated, snap)
}

func (s *Server) briefText(r *http.Request, b *briefUpload) (string, error) {
	data, err := brief.DecodeBase64(b.Data)
	if err != nil {
		return "", err
	}
	out, err := brief.Extract(r.Context(), data, b.Name, b.ContentType, s.briefLimits)
	if err != nil {
		return "", err
	}
	s.logger.Info("brief extracted", zap.String("kind", out.Kind), zap.Int("bytes", out.Bytes), zap.Int("pages", out.Pages))
	return out.Text, nil
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.orch.List())
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.orch.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.sessionError(w, snap, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSessionPrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.orch.Prompt(r.Context(), chi.URLParam(r, "sessionID"), req.Prompt)
	if err != nil {
		s.sessionError(w, snap, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStepComplete(w http.ResponseWriter, r *http.Request) {
	stepID, err := strconv.Atoi(chi.URLParam(r, "stepID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "step id must be an integer")
		return
	}
	snap, err := s.orch.MarkCompleted(chi.URLParam(r, "sessionID"), stepID)
	if err != nil {
		s.sessionError(w, snap, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSessionMount(w http.ResponseWriter, r *http.Request) {
	snap, err := s.orch.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.sessionError(w, snap, err)
		return
	}
	respondJSON(w, http.StatusOK, filetree.ToMount(snap.Tree, filetree.WithDefaultPackageJSON("")))
}

func (s *Server) handleSessionDownload(w http.ResponseWriter, r *http.Request) {
	snap, err := s.orch.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.sessionError(w, snap, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="project.zip"`)
	if err := filetree.WriteZip(w, snap.Tree); err != nil {
		s.logger.Error("failed to write archive", zap.String("session", snap.ID), zap.Error(err))
	}
}

// sessionError maps orchestrator errors to responses. A generation failure
// still carries the session, which now records the error in its history.
func (s *Server) sessionError(w http.ResponseWriter, snap orchestrator.Snapshot, err error) {
	var cerr *completion.ClassificationError
	switch {
	case errors.As(err, &cerr):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error":    "Unexpected response from AI",
			"received": cerr.Answer,
		})
	case errors.Is(err, completion.ErrEmptyPrompt):
		respondError(w, http.StatusBadRequest, "prompt is required")
	case errors.Is(err, orchestrator.ErrNotFound), errors.Is(err, orchestrator.ErrStepNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrBusy):
		respondError(w, http.StatusConflict, err.Error())
	case snap.ID != "":
		respondJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "session": snap})
	default:
		s.logger.Error("session request failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, err.Error())
	}
}
