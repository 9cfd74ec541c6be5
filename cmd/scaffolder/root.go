package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/site-scaffolder/internal/completion"
	"github.com/example/site-scaffolder/internal/config"
	"github.com/example/site-scaffolder/internal/logging"
	"github.com/example/site-scaffolder/internal/orchestrator"
	"github.com/example/site-scaffolder/internal/project"
	"github.com/example/site-scaffolder/internal/providers/llm"
)

// app holds what every command shares once flags are parsed.
type app struct {
	configPath string
	envFile    string
	logLevel   string
	provider   string
	model      string

	cfg      *config.Config
	logger   *zap.Logger
	closeLog func() error
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "scaffolder",
		Short: "Generate websites from a prompt with a language model",
		Long: `Scaffolder turns a natural-language description into a project file tree.

It picks a starter template, asks the model for the files to create and
applies them to an in-memory tree, which can be served over HTTP, written
to disk, zipped or run in a local sandbox.

Available commands:
  serve     - HTTP API with sessions, projects and realtime rooms
  generate  - one-shot generation from a prompt or brief file
  parse     - parse an artifact into steps, a tree or a mount structure`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "scaffolder.yaml", "YAML config file (optional)")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file (optional)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.StringVar(&a.provider, "provider", "", "LLM provider override (gemini, openai, mock)")
	pf.StringVar(&a.model, "model", "", "LLM model override")

	root.AddCommand(newServeCmd(a), newGenerateCmd(a), newParseCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if flags.Changed("provider") {
		cfg.LLM.Provider = a.provider
	}
	if flags.Changed("model") {
		cfg.LLM.Model = a.model
	}
	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.closeLog = cfg, logger, closeLog
	return nil
}

func (a *app) close() error {
	if a.closeLog == nil {
		return nil
	}
	return a.closeLog()
}

// completionClient builds the model client from the configuration. The
// returned function releases the provider.
func (a *app) completionClient(ctx context.Context) (*completion.Client, func(), error) {
	provider, err := llm.New(ctx, a.cfg.LLM, a.logger)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if c, ok := provider.(io.Closer); ok {
			_ = c.Close()
		}
	}
	policy := completion.DefaultRetryPolicy()
	policy.MaxAttempts = a.cfg.Completion.RetryAttempts
	client := completion.New(provider,
		completion.WithRetryPolicy(policy),
		completion.WithMaxOutputTokens(a.cfg.Completion.MaxOutputTokens),
		completion.WithLogger(a.logger))
	a.logger.Info("language model ready", zap.String("provider", provider.Name()))
	return client, release, nil
}

func (a *app) orchestratorOptions() []orchestrator.Option {
	policy := project.PerBatch
	if a.cfg.Completion.CompleteAllSteps {
		policy = project.AllSteps
	}
	return []orchestrator.Option{
		orchestrator.WithDeadline(a.cfg.GetRequestTimeout()),
		orchestrator.WithCompletionPolicy(policy),
		orchestrator.WithLogger(a.logger),
	}
}
