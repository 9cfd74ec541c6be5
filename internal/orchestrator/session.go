package orchestrator

import (
	"slices"
	"sync"
	"time"

	"github.com/example/site-scaffolder/internal/completion"
	"github.com/example/site-scaffolder/internal/filetree"
	"github.com/example/site-scaffolder/internal/models"
)

type session struct {
	mu sync.Mutex

	id      string
	room    string
	kind    completion.Kind
	prompts []string // scaffold context, sent ahead of every turn
	project *models.Project
	tree    []*models.FileNode
	history []models.ChatMessage
	busy    bool

	createdAt time.Time
	updatedAt time.Time
}

// Snapshot is a copy of a session safe to hand out and encode.
type Snapshot struct {
	ID        string               `json:"id"`
	ProjectID string               `json:"projectId"`
	Kind      completion.Kind      `json:"kind"`
	Project   *models.Project      `json:"project"`
	Tree      []*models.FileNode   `json:"tree"`
	History   []models.ChatMessage `json:"history"`
	Busy      bool                 `json:"busy"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *s.project
	p.Steps = slices.Clone(s.project.Steps)
	tree := filetree.Clone(s.tree)
	if tree == nil {
		tree = []*models.FileNode{}
	}
	return Snapshot{
		ID:        s.id,
		ProjectID: s.room,
		Kind:      s.kind,
		Project:   &p,
		Tree:      tree,
		History:   slices.Clone(s.history),
		Busy:      s.busy,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

// conversation is the model request for a new turn: the scaffold prompts,
// the successful turns so far and prompt. Failed turns are left out.
// Caller holds s.mu.
func (s *session) conversation(prompt string) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(s.prompts)+len(s.history)+1)
	for _, p := range s.prompts {
		out = append(out, models.ChatMessage{Role: models.RoleUser, Content: p})
	}
	for i := 0; i < len(s.history); i++ {
		if i+1 < len(s.history) && isErrorMessage(s.history[i+1]) {
			i++
			continue
		}
		out = append(out, s.history[i])
	}
	return append(out, models.ChatMessage{Role: models.RoleUser, Content: prompt})
}
