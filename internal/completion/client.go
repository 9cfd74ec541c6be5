// Package completion is the scaffolder's view of the language model: it
// classifies a prompt into a scaffold and streams conversation turns with
// bounded retries.
package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/site-scaffolder/internal/logging"
	"github.com/example/site-scaffolder/internal/models"
	"github.com/example/site-scaffolder/internal/providers/llm"
)

const (
	DefaultMaxOutputTokens = 12000
	classifyMaxTokens      = 16
)

// Classification is the scaffold chosen for a prompt. Prompts seed the model
// conversation; UIArtifact is the base artifact the UI parses into the
// initial tree.
type Classification struct {
	Kind       Kind     `json:"kind"`
	Prompts    []string `json:"prompts"`
	UIArtifact string   `json:"uiArtifact"`
}

// Chunk is one element of a conversation stream. A chunk with Err set is
// always the last one.
type Chunk struct {
	Text string
	Err  error
}

type Client struct {
	provider  llm.Client
	policy    RetryPolicy
	maxTokens int
	system    string
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error
}

type Option func(*Client)

func WithRetryPolicy(p RetryPolicy) Option { return func(c *Client) { c.policy = p } }

func WithMaxOutputTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithSystemPrompt(s string) Option { return func(c *Client) { c.system = s } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = logging.OrNop(l) } }

func New(provider llm.Client, opts ...Option) *Client {
	c := &Client{
		provider:  provider,
		policy:    DefaultRetryPolicy(),
		maxTokens: DefaultMaxOutputTokens,
		system:    SystemPrompt,
		logger:    zap.NewNop(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify asks the model whether prompt is a node or react project. The
// answer is matched by substring, react first.
func (c *Client) Classify(ctx context.Context, prompt string) (Classification, error) {
	if strings.TrimSpace(prompt) == "" {
		return Classification{}, ErrEmptyPrompt
	}
	req := llm.UserPrompt(classifySystem, prompt, classifyMaxTokens)
	var answer string
	err := c.retry(ctx, "classify", func() error {
		var err error
		answer, err = c.provider.GenerateText(ctx, req)
		return err
	})
	if err != nil {
		return Classification{}, fmt.Errorf("classify: %w", err)
	}

	normalized := strings.ToLower(strings.TrimSpace(answer))
	var kind Kind
	switch {
	case strings.Contains(normalized, string(KindReact)):
		kind = KindReact
	case strings.Contains(normalized, string(KindNode)):
		kind = KindNode
	default:
		c.logger.Warn("unrecognized classification", zap.String("answer", answer))
		return Classification{}, &ClassificationError{Answer: normalized}
	}
	artifact, _ := Scaffold(kind)
	return Classification{
		Kind:       kind,
		Prompts:    []string{BasePrompt, contextPrompt(artifact)},
		UIArtifact: artifact,
	}, nil
}

// Converse streams the model's answer to history. The channel is closed after
// the last chunk; a failure is reported as a final chunk carrying a
// *StreamFailure, or the context error when ctx ends first. The caller must
// drain the channel or cancel ctx.
func (c *Client) Converse(ctx context.Context, history []models.ChatMessage) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		err := c.stream(ctx, history, func(s string) error {
			select {
			case out <- Chunk{Text: s}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}, nil)
		if err != nil {
			select {
			case out <- Chunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

// ConverseTo copies the answer to history into w as it arrives.
func (c *Client) ConverseTo(ctx context.Context, history []models.ChatMessage, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for chunk := range c.Converse(ctx, history) {
		if chunk.Err != nil {
			return chunk.Err
		}
		if _, err := io.WriteString(w, chunk.Text); err != nil {
			return fmt.Errorf("failed to relay stream: %w", err)
		}
	}
	return ctx.Err()
}

// Complete returns the full answer to history. Nothing is relayed before the
// stream ends, so a failed attempt is always retried from scratch.
func (c *Client) Complete(ctx context.Context, history []models.ChatMessage) (string, error) {
	return c.CompleteObserved(ctx, history, nil, nil)
}

// CompleteObserved is Complete with progress: observe sees every delta and
// restart is called before a retry discards the deltas seen so far. Either
// may be nil.
func (c *Client) CompleteObserved(ctx context.Context, history []models.ChatMessage, observe func(string), restart func()) (string, error) {
	var b strings.Builder
	err := c.stream(ctx, history, func(s string) error {
		b.WriteString(s)
		if observe != nil {
			observe(s)
		}
		return nil
	}, func() {
		b.Reset()
		if restart != nil {
			restart()
		}
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// stream runs the conversation under the retry policy. Without reset, an
// attempt that already emitted output is not repeated.
func (c *Client) stream(ctx context.Context, history []models.ChatMessage, emit func(string) error, reset func()) error {
	req := llm.Request{System: c.system, Messages: history, MaxTokens: c.maxTokens}
	limit := c.policy.attempts()
	for attempt := 1; ; attempt++ {
		relayed := false
		err := c.provider.GenerateTextStream(ctx, req, func(s string) error {
			if s == "" {
				return nil
			}
			relayed = true
			return emit(s)
		})
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if relayed && reset == nil {
			c.logger.Error("stream failed after partial output",
				zap.Int("attempt", attempt), zap.Error(err))
			return &StreamFailure{Attempts: attempt, Err: err, Partial: true}
		}
		if !llm.IsTransient(err) || attempt >= limit {
			c.logger.Error("stream failed",
				zap.Int("attempts", attempt), zap.Error(err))
			return &StreamFailure{Attempts: attempt, Err: err}
		}
		if reset != nil {
			reset()
		}
		if err := c.backoff(ctx, "converse", attempt, err); err != nil {
			return err
		}
	}
}

// retry runs a call that produces no partial output.
func (c *Client) retry(ctx context.Context, op string, call func() error) error {
	limit := c.policy.attempts()
	for attempt := 1; ; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !llm.IsTransient(err) || attempt >= limit {
			return err
		}
		if err := c.backoff(ctx, op, attempt, err); err != nil {
			return err
		}
	}
}

func (c *Client) backoff(ctx context.Context, op string, attempt int, cause error) error {
	overloaded := llm.IsOverloaded(cause)
	d := c.policy.delay(attempt, overloaded)
	c.logger.Warn("retrying provider call",
		zap.String("op", op),
		zap.Int("attempt", attempt),
		zap.Bool("overloaded", overloaded),
		zap.Duration("backoff", d),
		zap.Error(cause))
	if err := c.sleep(ctx, d); err != nil {
		return errors.Join(cause, err)
	}
	return nil
}
