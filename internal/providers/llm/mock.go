package llm

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"
)

// MockReply scripts one provider call: the chunks are delivered in order and
// then Err, if set, is returned.
type MockReply struct {
	Chunks []string
	Err    error
}

// Text replies with s in one chunk.
func Text(s string) MockReply { return MockReply{Chunks: []string{s}} }

// Fail replies with err before any output.
func Fail(err error) MockReply { return MockReply{Err: err} }

// MockClient is used when no real provider is configured, and by tests.
// Scripted replies are consumed first; after that it answers with canned
// output derived from the request.
type MockClient struct {
	// Delay is waited before each chunk.
	Delay time.Duration

	mu       sync.Mutex
	script   []MockReply
	requests []Request
}

func NewMockClient(replies ...MockReply) *MockClient {
	return &MockClient{script: replies}
}

// Push appends replies to the script.
func (m *MockClient) Push(replies ...MockReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, replies...)
}

// Requests returns the requests seen so far.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockClient) Name() string { return "mock" }

func (m *MockClient) GenerateText(ctx context.Context, req Request) (string, error) {
	var b strings.Builder
	err := m.GenerateTextStream(ctx, req, func(chunk string) error {
		b.WriteString(chunk)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func (m *MockClient) GenerateTextStream(ctx context.Context, req Request, onDelta func(chunk string) error) error {
	reply := m.next(req)
	for _, chunk := range reply.Chunks {
		if m.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.Delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onDelta(chunk); err != nil {
			return err
		}
	}
	return reply.Err
}

func (m *MockClient) next(req Request) MockReply {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.script) > 0 {
		r := m.script[0]
		m.script = m.script[1:]
		return r
	}
	return Text(canned(req))
}

// canned answers a short request with a scaffold kind and anything else with
// a one-file artifact that echoes the prompt.
func canned(req Request) string {
	var last string
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}
	if req.MaxTokens > 0 && req.MaxTokens <= 32 {
		p := strings.ToLower(last)
		if strings.Contains(p, "api") || strings.Contains(p, "server") || strings.Contains(p, "node") {
			return "node"
		}
		return "react"
	}
	return fmt.Sprintf(`<boltArtifact id="mock" title="Mock Project">
<boltAction type="file" filePath="src/App.tsx">
export default function App() {
  return <main>%s</main>;
}
</boltAction>
</boltArtifact>`, html.EscapeString(strings.TrimSpace(last)))
}
