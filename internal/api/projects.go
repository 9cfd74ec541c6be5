package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type createProjectRequest struct {
	Name string `json:"name"`
}

type addUsersRequest struct {
	ProjectID string   `json:"projectId"`
	Users     []string `json:"users"`
}

// withUser rejects requests that carry no caller identity.
func (s *Server) withUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "project store is not configured")
		return "", false
	}
	id := userID(r)
	if id == "" {
		respondError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
		return "", false
	}
	return id, true
}

func (s *Server) handleProjectCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := s.withUser(w, r)
	if !ok {
		return
	}
	var req createProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.store.Create(r.Context(), req.Name, user)
	if err != nil {
		s.storeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request) {
	user, ok := s.withUser(w, r)
	if !ok {
		return
	}
	recs, err := s.store.ListByUser(r.Context(), user)
	if err != nil {
		s.storeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"projects": recs})
}

func (s *Server) handleProjectAddUsers(w http.ResponseWriter, r *http.Request) {
	user, ok := s.withUser(w, r)
	if !ok {
		return
	}
	var req addUsersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.store.AddUsers(r.Context(), req.ProjectID, user, req.Users)
	if err != nil {
		s.storeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleProjectGet(w http.ResponseWriter, r *http.Request) {
	user, ok := s.withUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "projectID")
	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	member := false
	for _, u := range rec.Users {
		if u == user {
			member = true
			break
		}
	}
	if !member {
		respondError(w, http.StatusForbidden, "user does not belong to this project")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}
