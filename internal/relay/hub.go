// Package relay fans messages out to everyone connected to a project room.
package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/site-scaffolder/internal/logging"
	"github.com/example/site-scaffolder/internal/models"
)

const EventProjectMessage = "project-message"

// Event is the envelope of everything written to a room.
type Event struct {
	Event   string `json:"event"`
	Room    string `json:"room"`
	Payload any    `json:"payload,omitempty"`
}

type subscriber struct {
	id string
	ch chan []byte
}

type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*subscriber]struct{} // room -> set of subscribers
	buffer int
	logger *zap.Logger
	now    func() time.Time
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		rooms:  map[string]map[*subscriber]struct{}{},
		buffer: 16,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// Subscribe joins room and returns the subscriber id, a channel of
// JSON-encoded events and a function that leaves the room and closes the
// channel. The function may be called more than once.
func (h *Hub) Subscribe(room string) (string, <-chan []byte, func()) {
	sub := &subscriber{id: uuid.NewString(), ch: make(chan []byte, h.buffer)}
	h.mu.Lock()
	set := h.rooms[room]
	if set == nil {
		set = map[*subscriber]struct{}{}
		h.rooms[room] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.rooms[room]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.rooms, room)
				}
			}
			close(sub.ch)
			h.mu.Unlock()
		})
	}
	return sub.id, sub.ch, unsubscribe
}

// Publish delivers ev to every subscriber of room and returns how many
// received it.
func (h *Hub) Publish(room string, ev Event) int {
	ev.Room = room
	return h.publish(room, "", ev)
}

// Broadcast relays a participant's message to the rest of the room. The
// sender does not receive its own message.
func (h *Hub) Broadcast(room, senderID string, msg models.RelayMessage) int {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now().UTC()
	}
	return h.publish(room, senderID, Event{Event: EventProjectMessage, Room: room, Payload: msg})
}

// Count returns the number of subscribers in room.
func (h *Hub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) publish(room, exclude string, ev Event) int {
	b, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode relay event", zap.String("event", ev.Event), zap.Error(err))
		return 0
	}
	delivered := 0
	h.mu.RLock()
	for sub := range h.rooms[room] {
		if sub.id == exclude {
			continue
		}
		// non-blocking send
		select {
		case sub.ch <- b:
			delivered++
		default:
			h.logger.Debug("dropping event for slow subscriber",
				zap.String("room", room), zap.String("subscriber", sub.id), zap.String("event", ev.Event))
		}
	}
	h.mu.RUnlock()
	return delivered
}
