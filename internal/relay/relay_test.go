package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/example/site-scaffolder/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func decode(t *testing.T, b []byte) (Event, models.RelayMessage) {
	t.Helper()
	var raw struct {
		Event   string              `json:"event"`
		Room    string              `json:"room"`
		Payload models.RelayMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(b, &raw))
	return Event{Event: raw.Event, Room: raw.Room}, raw.Payload
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	h := NewHub(nil)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	alice, aliceCh, leaveA := h.Subscribe("p1")
	_, bobCh, leaveB := h.Subscribe("p1")
	_, otherCh, leaveO := h.Subscribe("p2")
	defer leaveA()
	defer leaveB()
	defer leaveO()

	n := h.Broadcast("p1", alice, models.RelayMessage{Text: "hi", Sender: "alice", SenderEmail: "a@example.com"})
	assert.Equal(t, 1, n)

	select {
	case b := <-bobCh:
		ev, msg := decode(t, b)
		assert.Equal(t, EventProjectMessage, ev.Event)
		assert.Equal(t, "p1", ev.Room)
		assert.Equal(t, models.RelayMessage{Text: "hi", Sender: "alice", SenderEmail: "a@example.com", Timestamp: fixed}, msg)
	default:
		t.Fatal("bob did not receive the message")
	}
	assert.Empty(t, aliceCh)
	assert.Empty(t, otherCh)
}

func TestHub_PublishReachesEveryone(t *testing.T) {
	h := NewHub(nil)
	_, a, leaveA := h.Subscribe("p1")
	_, b, leaveB := h.Subscribe("p1")
	defer leaveA()
	defer leaveB()

	assert.Equal(t, 2, h.Publish("p1", Event{Event: "steps", Payload: []int{1}}))
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
	assert.Equal(t, 0, h.Publish("nobody-here", Event{Event: "steps"}))
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(nil)
	_, ch, leave := h.Subscribe("p1")
	defer leave()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range h.buffer + 5 {
			h.Publish("p1", Event{Event: "tick"})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, h.buffer)
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(nil)
	_, ch, leave := h.Subscribe("p1")
	assert.Equal(t, 1, h.Count("p1"))

	leave()
	leave()

	assert.Equal(t, 0, h.Count("p1"))
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Publish("p1", Event{Event: "late"}))
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return conn
}

func waitForCount(t *testing.T, h *Hub, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Count(room) == n }, time.Second, 5*time.Millisecond)
}

func TestHandler_RelaysBetweenParticipants(t *testing.T) {
	h := NewHub(nil)
	handler := NewHandler(h, nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Serve(w, r, "room-1")
	}))
	defer srv.Close()

	alice := dial(t, srv)
	bob := dial(t, srv)
	waitForCount(t, h, "room-1", 2)

	require.NoError(t, alice.WriteJSON(models.RelayMessage{Text: "hello bob", Sender: "alice"}))

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := bob.ReadMessage()
	require.NoError(t, err)
	_, msg := decode(t, data)
	assert.Equal(t, "hello bob", msg.Text)
	assert.Equal(t, "alice", msg.Sender)
	assert.False(t, msg.Timestamp.IsZero())

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err = alice.ReadMessage()
	assert.Error(t, err, "sender must not receive its own message")

	require.NoError(t, alice.Close())
	require.NoError(t, bob.Close())
	waitForCount(t, h, "room-1", 0)
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, originChecker(nil)(req("https://evil.example")))
	assert.True(t, originChecker([]string{"*"})(req("https://evil.example")))

	check := originChecker([]string{"http://localhost:5173/"})
	assert.True(t, check(req("http://localhost:5173")))
	assert.True(t, check(req("")))
	assert.False(t, check(req("https://evil.example")))
}

func TestTokens_CoalescesAndFlushesOnClose(t *testing.T) {
	h := NewHub(nil)
	_, ch, leave := h.Subscribe("p1")
	defer leave()

	// A long interval leaves all flushing to Close.
	s := h.Tokens("p1", "session-1", time.Hour)
	s.Append("<boltArtifact")
	s.Append("")
	s.Append(" id=\"x\">")
	s.Close()
	s.Close()

	var ev struct {
		Event   string            `json:"event"`
		Room    string            `json:"room"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(<-ch, &ev))
	assert.Equal(t, EventToken, ev.Event)
	assert.Equal(t, "p1", ev.Room)
	assert.Equal(t, map[string]string{"stream": "session-1", "chunk": `<boltArtifact id="x">`}, ev.Payload)
	assert.Empty(t, ch)
}

func TestTokens_ResetDiscardsPending(t *testing.T) {
	h := NewHub(nil)
	_, ch, leave := h.Subscribe("p1")
	defer leave()

	s := h.Tokens("p1", "s", time.Hour)
	s.Append("partial")
	s.Reset()
	s.Append("fresh")
	s.Close()

	var events []string
	for len(ch) > 0 {
		var ev struct {
			Event   string            `json:"event"`
			Payload map[string]string `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(<-ch, &ev))
		events = append(events, ev.Event+":"+ev.Payload["chunk"])
	}
	assert.Equal(t, []string{EventTokenReset + ":", EventToken + ":fresh"}, events)
}

func TestTokens_PeriodicFlush(t *testing.T) {
	h := NewHub(nil)
	_, ch, leave := h.Subscribe("p1")
	defer leave()

	s := h.Tokens("p1", "s", 5*time.Millisecond)
	defer s.Close()
	s.Append("hello")

	select {
	case b := <-ch:
		assert.Contains(t, string(b), `"chunk":"hello"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no token event")
	}
}
