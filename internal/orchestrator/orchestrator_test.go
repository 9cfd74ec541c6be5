package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/example/site-scaffolder/internal/completion"
	"github.com/example/site-scaffolder/internal/filetree"
	"github.com/example/site-scaffolder/internal/models"
	"github.com/example/site-scaffolder/internal/project"
	"github.com/example/site-scaffolder/internal/providers/llm"
	"github.com/example/site-scaffolder/internal/relay"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const followUp = `Adding a page.
<boltArtifact id="about" title="About page">
<boltAction type="file" filePath="src/About.tsx">export const About = () => <p>About</p>;</boltAction>
<boltAction type="shell">npm run dev</boltAction>
</boltArtifact>`

func newTestOrchestrator(mock *llm.MockClient, opts ...Option) *Orchestrator {
	client := completion.New(mock, completion.WithRetryPolicy(completion.RetryPolicy{
		MaxAttempts: 3,
		Backoff:     func(int, bool) time.Duration { return 0 },
	}))
	return New(client, opts...)
}

func TestStart(t *testing.T) {
	mock := llm.NewMockClient()
	o := newTestOrchestrator(mock)

	snap, err := o.Start(context.Background(), "a bakery landing page", "")
	require.NoError(t, err)

	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, snap.ID, snap.ProjectID)
	assert.Equal(t, completion.KindReact, snap.Kind)
	assert.False(t, snap.Busy)

	steps := snap.Project.Steps
	require.NotEmpty(t, steps)
	assert.Equal(t, models.KindOverview, steps[0].Kind)
	assert.Equal(t, "Project Files", steps[0].Description)
	for i, s := range steps {
		assert.Equal(t, i+1, s.ID, "ids are allocated in order")
		assert.Equal(t, models.StatusCompleted, s.Status, s.Title)
	}
	assert.Equal(t, len(steps)+1, snap.Project.NextID)

	app := filetree.Find(snap.Tree, "/src/App.tsx")
	require.NotNil(t, app)
	assert.Contains(t, app.Content, "a bakery landing page")
	assert.NotNil(t, filetree.Find(snap.Tree, "/package.json"))
	assert.Equal(t, "src", snap.Tree[0].Name)

	require.Len(t, snap.History, 2)
	assert.Equal(t, models.ChatMessage{Role: models.RoleUser, Content: "a bakery landing page"}, snap.History[0])
	assert.Equal(t, models.RoleAssistant, snap.History[1].Role)

	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 16, reqs[0].MaxTokens)
	conv := reqs[1].Messages
	require.Len(t, conv, 3)
	assert.Equal(t, completion.BasePrompt, conv[0].Content)
	assert.Contains(t, conv[1].Content, "Project Files")
	assert.Equal(t, "a bakery landing page", conv[2].Content)
}

func TestStart_ClassificationFailureCreatesNoSession(t *testing.T) {
	mock := llm.NewMockClient(llm.Text("typescript"))
	o := newTestOrchestrator(mock)

	_, err := o.Start(context.Background(), "something", "")
	var cerr *completion.ClassificationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "typescript", cerr.Answer)
	assert.Empty(t, o.List())
}

func TestStart_EmptyPrompt(t *testing.T) {
	mock := llm.NewMockClient()
	o := newTestOrchestrator(mock)
	_, err := o.Start(context.Background(), "   ", "")
	assert.ErrorIs(t, err, completion.ErrEmptyPrompt)
	assert.Empty(t, mock.Requests())
}

func TestStart_Deadline(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Delay = time.Second
	o := newTestOrchestrator(mock, WithDeadline(20*time.Millisecond))

	_, err := o.Start(context.Background(), "a blog", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPrompt_FollowUp(t *testing.T) {
	mock := llm.NewMockClient()
	o := newTestOrchestrator(mock)
	first, err := o.Start(context.Background(), "a portfolio", "")
	require.NoError(t, err)

	mock.Push(llm.Text(followUp))
	snap, err := o.Prompt(context.Background(), first.ID, "add an about page")
	require.NoError(t, err)

	steps := snap.Project.Steps
	require.Len(t, steps, len(first.Project.Steps)+2)
	added := steps[len(steps)-2:]
	assert.Equal(t, first.Project.NextID, added[0].ID)
	assert.Equal(t, "src/About.tsx", added[0].Path)
	assert.Equal(t, models.KindRunScript, added[1].Kind)
	for _, s := range added {
		assert.Equal(t, models.StatusCompleted, s.Status)
	}
	assert.NotNil(t, filetree.Find(snap.Tree, "/src/About.tsx"))
	assert.NotNil(t, filetree.Find(snap.Tree, "/src/App.tsx"))
	assert.Len(t, snap.History, 4)

	reqs := mock.Requests()
	conv := reqs[len(reqs)-1].Messages
	require.Len(t, conv, 5)
	assert.Equal(t, "a portfolio", conv[2].Content)
	assert.Equal(t, models.RoleAssistant, conv[3].Role)
	assert.Equal(t, "add an about page", conv[4].Content)
}

func TestPrompt_FailureIsRecordedAndSkippedLater(t *testing.T) {
	mock := llm.NewMockClient()
	o := newTestOrchestrator(mock)
	first, err := o.Start(context.Background(), "a portfolio", "")
	require.NoError(t, err)

	mock.Push(llm.Fail(errors.New("invalid request")))
	snap, err := o.Prompt(context.Background(), first.ID, "make it blue")
	var sf *completion.StreamFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, first.Project, snap.Project)
	assert.Equal(t, first.Tree, snap.Tree)
	require.Len(t, snap.History, 4)
	assert.Equal(t, "make it blue", snap.History[2].Content)
	assert.True(t, strings.HasPrefix(snap.History[3].Content, "<error>"))
	assert.True(t, strings.HasSuffix(snap.History[3].Content, "</error>"))
	assert.False(t, snap.Busy)

	_, err = o.Prompt(context.Background(), first.ID, "make it green")
	require.NoError(t, err)
	reqs := mock.Requests()
	conv := reqs[len(reqs)-1].Messages
	require.Len(t, conv, 5)
	assert.Equal(t, "make it green", conv[4].Content)
	for _, m := range conv {
		assert.NotContains(t, m.Content, "make it blue")
	}
}

func TestPrompt_Busy(t *testing.T) {
	o := newTestOrchestrator(llm.NewMockClient())
	snap, err := o.Start(context.Background(), "a shop", "")
	require.NoError(t, err)

	s, err := o.session(snap.ID)
	require.NoError(t, err)
	s.mu.Lock()
	s.busy = true
	s.mu.Unlock()

	_, err = o.Prompt(context.Background(), snap.ID, "again")
	assert.ErrorIs(t, err, ErrBusy)
}

func TestPrompt_UnknownSession(t *testing.T) {
	o := newTestOrchestrator(llm.NewMockClient())
	_, err := o.Prompt(context.Background(), "nope", "hello")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = o.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkCompleted(t *testing.T) {
	mock := llm.NewMockClient()
	o := newTestOrchestrator(mock)
	snap, err := o.Start(context.Background(), "a shop", "")
	require.NoError(t, err)

	_, err = o.MarkCompleted(snap.ID, 9999)
	assert.ErrorIs(t, err, ErrStepNotFound)

	got, err := o.MarkCompleted(snap.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Project.Steps[0].Status)
}

func TestCompletionPolicyAllSteps(t *testing.T) {
	mock := llm.NewMockClient()
	o := newTestOrchestrator(mock, WithCompletionPolicy(project.AllSteps))
	snap, err := o.Start(context.Background(), "a shop", "")
	require.NoError(t, err)
	for _, s := range snap.Project.Steps {
		assert.Equal(t, models.StatusCompleted, s.Status)
	}
}

func TestList(t *testing.T) {
	o := newTestOrchestrator(llm.NewMockClient())
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	o.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	a, err := o.Start(context.Background(), "first", "")
	require.NoError(t, err)
	b, err := o.Start(context.Background(), "second", "")
	require.NoError(t, err)

	list := o.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}

func TestSnapshotIsACopy(t *testing.T) {
	o := newTestOrchestrator(llm.NewMockClient())
	snap, err := o.Start(context.Background(), "a shop", "")
	require.NoError(t, err)

	snap.Project.Steps[0].Title = "changed"
	snap.Tree[0].Name = "changed"
	again, err := o.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, project.OverviewTitle, again.Project.Steps[0].Title)
	assert.Equal(t, "src", again.Tree[0].Name)
}

func TestRelayEvents(t *testing.T) {
	hub := relay.NewHub(nil)
	_, ch, leave := hub.Subscribe("room-1")
	defer leave()

	o := newTestOrchestrator(llm.NewMockClient(), WithRelay(hub))
	_, err := o.Start(context.Background(), "a gallery", "room-1")
	require.NoError(t, err)

	var events []string
	var streamed strings.Builder
	for len(ch) > 0 {
		var ev struct {
			Event   string          `json:"event"`
			Room    string          `json:"room"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(<-ch, &ev))
		assert.Equal(t, "room-1", ev.Room)
		events = append(events, ev.Event)
		if ev.Event == relay.EventToken {
			var tok map[string]string
			require.NoError(t, json.Unmarshal(ev.Payload, &tok))
			streamed.WriteString(tok["chunk"])
		}
	}
	assert.Equal(t, []string{
		EventSteps, EventTree,
		EventStatus, relay.EventToken,
		EventSteps, EventTree, EventStatus,
	}, events)
	assert.Contains(t, streamed.String(), "a gallery")
}

func TestConversationSkipsFailedTurns(t *testing.T) {
	s := &session{
		prompts: []string{"p1"},
		history: []models.ChatMessage{
			{Role: models.RoleUser, Content: "a"},
			{Role: models.RoleAssistant, Content: "ok"},
			{Role: models.RoleUser, Content: "b"},
			{Role: models.RoleAssistant, Content: "<error>boom</error>"},
		},
	}
	got := s.conversation("c")
	var contents []string
	for _, m := range got {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"p1", "a", "ok", "c"}, contents)
}
