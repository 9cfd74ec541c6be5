package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/example/site-scaffolder/internal/models"
)

const defaultGeminiModel = "gemini-2.0-flash"

type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*GeminiClient, error) {
	if model == "" {
		model = defaultGeminiModel
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	c, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: c, model: model}, nil
}

func (g *GeminiClient) Name() string { return "gemini/" + g.model }

func (g *GeminiClient) Close() error { return g.client.Close() }

func (g *GeminiClient) GenerateText(ctx context.Context, req Request) (string, error) {
	cs, last, err := g.chat(req)
	if err != nil {
		return "", err
	}
	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return responseText(resp), nil
}

func (g *GeminiClient) GenerateTextStream(ctx context.Context, req Request, onDelta func(chunk string) error) error {
	cs, last, err := g.chat(req)
	if err != nil {
		return err
	}
	iter := cs.SendMessageStream(ctx, last...)
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		if text := responseText(resp); text != "" {
			if err := onDelta(text); err != nil {
				return err
			}
		}
	}
}

// chat prepares a session whose history is every message but the last,
// which is returned as the parts to send.
func (g *GeminiClient) chat(req Request) (*genai.ChatSession, []genai.Part, error) {
	if len(req.Messages) == 0 {
		return nil, nil, ErrNoMessages
	}
	m := g.client.GenerativeModel(g.model)
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	cs := m.StartChat()
	n := len(req.Messages) - 1
	for _, msg := range req.Messages[:n] {
		cs.History = append(cs.History, &genai.Content{
			Role:  geminiRole(msg.Role),
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return cs, []genai.Part{genai.Text(req.Messages[n].Content)}, nil
}

// Gemini names the assistant side "model".
func geminiRole(r models.Role) string {
	if r == models.RoleAssistant {
		return "model"
	}
	return "user"
}

func responseText(r *genai.GenerateContentResponse) string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range r.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	return b.String()
}
