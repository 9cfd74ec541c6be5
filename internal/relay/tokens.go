package relay

import (
	"strings"
	"sync"
	"time"
)

const (
	EventToken      = "token"
	EventTokenReset = "token-reset"
)

// TokenStream coalesces model output for one room and publishes it as token
// events at a fixed cadence, so subscribers are not flooded with one event
// per delta.
type TokenStream struct {
	hub  *Hub
	room string
	key  string

	mu  sync.Mutex
	buf strings.Builder

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Tokens starts a coalescer publishing to room every interval. key tells
// subscribers which stream the chunks belong to. Close must be called.
func (h *Hub) Tokens(room, key string, interval time.Duration) *TokenStream {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	s := &TokenStream{
		hub:  h,
		room: room,
		key:  key,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.flushLoop(interval)
	return s
}

func (s *TokenStream) Append(chunk string) {
	if chunk == "" {
		return
	}
	s.mu.Lock()
	s.buf.WriteString(chunk)
	s.mu.Unlock()
}

// Reset drops anything not yet flushed and tells subscribers to discard what
// they have received for this stream.
func (s *TokenStream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
	s.hub.Publish(s.room, Event{Event: EventTokenReset, Payload: map[string]any{"stream": s.key}})
}

// Close stops the coalescer and flushes leftovers synchronously.
func (s *TokenStream) Close() {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		s.flush()
	})
}

func (s *TokenStream) flushLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// flush publishes under the lock so a Reset cannot overtake it.
func (s *TokenStream) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunk := s.buf.String()
	s.buf.Reset()
	if chunk == "" {
		return
	}
	s.hub.Publish(s.room, Event{Event: EventToken, Payload: map[string]any{"stream": s.key, "chunk": chunk}})
}
