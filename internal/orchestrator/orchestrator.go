// Package orchestrator runs scaffolding sessions: it threads the project,
// the file tree and the conversation through classification, generation,
// parsing and reduction, one request at a time per session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/site-scaffolder/internal/artifact"
	"github.com/example/site-scaffolder/internal/completion"
	"github.com/example/site-scaffolder/internal/filetree"
	"github.com/example/site-scaffolder/internal/logging"
	"github.com/example/site-scaffolder/internal/models"
	"github.com/example/site-scaffolder/internal/project"
	"github.com/example/site-scaffolder/internal/relay"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrStepNotFound = errors.New("step not found")
	ErrBusy         = errors.New("session is busy")
)

// Events published to a session's room.
const (
	EventStatus = "session-status"
	EventSteps  = "steps"
	EventTree   = "tree"
	EventError  = "error"
)

type Orchestrator struct {
	completion *completion.Client
	parser     *artifact.Parser
	reducer    *filetree.Reducer
	hub        *relay.Hub
	logger     *zap.Logger
	deadline   time.Duration
	policy     project.CompletionPolicy
	tokenEvery time.Duration

	mu       sync.RWMutex
	sessions map[string]*session

	newID func() string
	now   func() time.Time
}

type Option func(*Orchestrator)

// WithRelay publishes session events and coalesced model output to hub.
func WithRelay(hub *relay.Hub) Option { return func(o *Orchestrator) { o.hub = hub } }

// WithDeadline bounds every model request; zero means no deadline.
func WithDeadline(d time.Duration) Option { return func(o *Orchestrator) { o.deadline = d } }

func WithCompletionPolicy(p project.CompletionPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = logging.OrNop(l) } }

func New(client *completion.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		completion: client,
		logger:     zap.NewNop(),
		policy:     project.PerBatch,
		tokenEvery: 100 * time.Millisecond,
		sessions:   map[string]*session{},
		newID:      uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.parser = artifact.NewParser(o.logger)
	o.reducer = filetree.NewReducer(o.logger)
	return o
}

// Start classifies prompt, seeds a session with the scaffold's files and
// asks the model for the first batch of changes. The session is published
// to the room projectID, or to its own id when projectID is empty.
//
// A classification failure creates no session. A generation failure leaves
// the session in place, records the error in its history and is returned
// together with the snapshot.
func (o *Orchestrator) Start(ctx context.Context, prompt, projectID string) (Snapshot, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Snapshot{}, completion.ErrEmptyPrompt
	}
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	cls, err := o.completion.Classify(ctx, prompt)
	if err != nil {
		return Snapshot{}, err
	}
	base := o.parser.ParseArtifact(cls.UIArtifact)

	now := o.now()
	s := &session{
		id:        o.newID(),
		room:      projectID,
		kind:      cls.Kind,
		prompts:   cls.Prompts,
		project:   project.Merge(project.WithOverview(base.Title), base.Steps),
		history:   []models.ChatMessage{},
		busy:      true,
		createdAt: now,
		updatedAt: now,
	}
	if s.room == "" {
		s.room = s.id
	}
	s.mu.Lock()
	o.reduce(s)
	s.mu.Unlock()

	o.mu.Lock()
	o.sessions[s.id] = s
	o.mu.Unlock()
	o.logger.Info("session started",
		zap.String("session", s.id), zap.String("room", s.room), zap.String("kind", string(cls.Kind)))

	err = o.generate(ctx, s, prompt)
	return s.snapshot(), err
}

// Prompt sends a follow-up message in session id. It fails with ErrBusy
// while another request of the same session is in flight.
func (o *Orchestrator) Prompt(ctx context.Context, id, text string) (Snapshot, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Snapshot{}, completion.ErrEmptyPrompt
	}
	s, err := o.session(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return Snapshot{}, ErrBusy
	}
	s.busy = true
	s.mu.Unlock()

	ctx, cancel := o.withDeadline(ctx)
	defer cancel()
	err = o.generate(ctx, s, text)
	return s.snapshot(), err
}

// MarkCompleted marks one step of session id as completed.
func (o *Orchestrator) MarkCompleted(id string, stepID int) (Snapshot, error) {
	s, err := o.session(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	ok := project.MarkCompleted(s.project, stepID)
	if ok {
		s.updatedAt = o.now()
		o.publish(s.room, EventSteps, s.id, s.project)
	}
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrStepNotFound, stepID)
	}
	return s.snapshot(), nil
}

func (o *Orchestrator) Get(id string) (Snapshot, error) {
	s, err := o.session(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// List returns every session, oldest first.
func (o *Orchestrator) List() []Snapshot {
	o.mu.RLock()
	out := make([]Snapshot, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s.snapshot())
	}
	o.mu.RUnlock()
	slices.SortFunc(out, func(a, b Snapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (o *Orchestrator) session(id string) (*session, error) {
	o.mu.RLock()
	s, ok := o.sessions[id]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// generate runs one model turn for s, which must be marked busy by the
// caller. The busy flag is cleared on return.
func (o *Orchestrator) generate(ctx context.Context, s *session, prompt string) error {
	s.mu.Lock()
	conversation := s.conversation(prompt)
	o.publish(s.room, EventStatus, s.id, map[string]any{"busy": true})
	s.mu.Unlock()

	var observe func(string)
	var restart func()
	var tokens *relay.TokenStream
	if o.hub != nil {
		tokens = o.hub.Tokens(s.room, s.id, o.tokenEvery)
		observe, restart = tokens.Append, tokens.Reset
	}
	started := o.now()
	answer, err := o.completion.CompleteObserved(ctx, conversation, observe, restart)
	if tokens != nil {
		tokens.Close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		s.busy = false
		s.updatedAt = o.now()
		o.publish(s.room, EventStatus, s.id, map[string]any{"busy": false})
	}()

	s.history = append(s.history, models.ChatMessage{Role: models.RoleUser, Content: prompt})
	if err != nil {
		s.history = append(s.history, models.ChatMessage{Role: models.RoleAssistant, Content: errorMessage(err)})
		o.publish(s.room, EventError, s.id, map[string]any{"error": err.Error()})
		o.logger.Error("generation failed", zap.String("session", s.id), zap.Error(err))
		return err
	}
	s.history = append(s.history, models.ChatMessage{Role: models.RoleAssistant, Content: answer})

	steps := o.parser.Parse(answer)
	s.project = project.Merge(s.project, steps)
	o.reduce(s)
	o.logger.Info("generation applied",
		zap.String("session", s.id),
		zap.Int("steps", len(steps)),
		zap.Duration("elapsed", o.now().Sub(started)))
	return nil
}

// reduce applies the pending steps of s to its tree. Caller holds s.mu.
func (o *Orchestrator) reduce(s *session) {
	res := o.reducer.Reduce(s.tree, project.Pending(s.project))
	s.tree = res.Tree
	project.Complete(s.project, res.Applied, o.policy)
	o.publish(s.room, EventSteps, s.id, s.project)
	o.publish(s.room, EventTree, s.id, s.tree)
}

func (o *Orchestrator) publish(room, event, sessionID string, payload any) {
	if o.hub == nil {
		return
	}
	o.hub.Publish(room, relay.Event{Event: event, Payload: map[string]any{"session": sessionID, "data": payload}})
}

func (o *Orchestrator) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.deadline <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.deadline)
}

const (
	errorOpen  = "<error>"
	errorClose = "</error>"
)

func errorMessage(err error) string { return errorOpen + err.Error() + errorClose }

func isErrorMessage(m models.ChatMessage) bool {
	return m.Role == models.RoleAssistant && strings.HasPrefix(m.Content, errorOpen)
}
