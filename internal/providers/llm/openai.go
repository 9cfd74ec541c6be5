package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/example/site-scaffolder/internal/models"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient talks to any endpoint speaking the OpenAI chat completions
// protocol.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient accepts a base URL with or without the /v1 suffix; empty
// selects api.openai.com.
func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	if model == "" {
		model = defaultOpenAIModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimRight(baseURL, "/"); base != "" {
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		cfg.BaseURL = base
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

func (c *OpenAIClient) Name() string { return "openai/" + c.model }

func (c *OpenAIClient) GenerateText(ctx context.Context, req Request) (string, error) {
	creq, err := c.request(req)
	if err != nil {
		return "", err
	}
	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai generate: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) GenerateTextStream(ctx context.Context, req Request, onDelta func(chunk string) error) error {
	creq, err := c.request(req)
	if err != nil {
		return err
	}
	stream, err := c.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai stream: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onDelta(resp.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}

func (c *OpenAIClient) request(req Request) (openai.ChatCompletionRequest, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionRequest{}, ErrNoMessages
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
	}, nil
}
