package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/example/site-scaffolder/internal/logging"
)

type Config struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	GoogleAPIKey  string `yaml:"google_api_key"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_api_base"`
}

// New returns a Client for cfg.
// Supported providers:
//   - gemini: GoogleAPIKey, optional Model
//   - openai: OpenAIAPIKey, optional Model and OpenAIBaseURL
//   - mock
//
// With no provider named, the first configured key wins (Gemini, then
// OpenAI). If nothing is configured, returns a MockClient.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Client, error) {
	logger = logging.OrNop(logger)
	prov := strings.ToLower(strings.TrimSpace(cfg.Provider))
	googleKey := strings.TrimSpace(cfg.GoogleAPIKey)
	openaiKey := strings.TrimSpace(cfg.OpenAIAPIKey)

	switch prov {
	case "gemini":
		if googleKey == "" {
			return nil, fmt.Errorf("provider gemini requires GOOGLE_API_KEY")
		}
		return newGemini(ctx, googleKey, cfg.Model)
	case "openai":
		if openaiKey == "" {
			return nil, fmt.Errorf("provider openai requires OPENAI_API_KEY")
		}
		return NewOpenAIClient(openaiKey, cfg.Model, cfg.OpenAIBaseURL), nil
	case "mock":
		return NewMockClient(), nil
	case "":
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	// Auto-detect by API key presence if provider not specified
	if googleKey != "" {
		return newGemini(ctx, googleKey, cfg.Model)
	}
	if openaiKey != "" {
		return NewOpenAIClient(openaiKey, cfg.Model, cfg.OpenAIBaseURL), nil
	}
	logger.Warn("no llm provider configured, using mock client")
	return NewMockClient(), nil
}

func newGemini(ctx context.Context, key, model string) (Client, error) {
	c, err := NewGeminiClient(ctx, key, model)
	if err != nil {
		return nil, err
	}
	return c, nil
}
