package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/site-scaffolder/internal/brief"
	"github.com/example/site-scaffolder/internal/filetree"
	"github.com/example/site-scaffolder/internal/models"
	"github.com/example/site-scaffolder/internal/orchestrator"
	"github.com/example/site-scaffolder/internal/sandbox"
)

type generateOptions struct {
	briefPath string
	followUps []string
	outDir    string
	zipPath   string
	run       bool
}

func newGenerateCmd(a *app) *cobra.Command {
	var opts generateOptions
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate a project from a prompt or a brief file",
		Example: `  scaffolder generate "a landing page for a bakery" --out ./bakery
  scaffolder generate --brief brief.pdf --zip site.zip
  scaffolder generate "a todo app" -f "add dark mode" --run`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := ""
			if len(args) == 1 {
				prompt = args[0]
			}
			return generate(cmd, a, prompt, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.briefPath, "brief", "", "text, Markdown, HTML or PDF file (or http URL) describing the site")
	f.StringArrayVarP(&opts.followUps, "follow-up", "f", nil, "follow-up prompt, may be repeated")
	f.StringVar(&opts.outDir, "out", "", "write the project into this directory")
	f.StringVar(&opts.zipPath, "zip", "", "write the project as a zip archive")
	f.BoolVar(&opts.run, "run", false, "run the project's scripts in the sandbox until interrupted")
	return cmd
}

func generate(cmd *cobra.Command, a *app, prompt string, opts generateOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if opts.briefPath != "" {
		b, err := brief.Load(ctx, opts.briefPath, brief.Limits{
			MaxBytes: a.cfg.Brief.MaxBytes,
			MaxPages: a.cfg.Brief.MaxPages,
			Timeout:  a.cfg.GetBriefTimeout(),
		})
		if err != nil {
			return err
		}
		prompt = strings.TrimSpace(prompt + "\n\n" + b.Text)
	}
	if strings.TrimSpace(prompt) == "" {
		return errors.New("a prompt or --brief is required")
	}

	client, release, err := a.completionClient(ctx)
	if err != nil {
		return err
	}
	defer release()
	orch := orchestrator.New(client, a.orchestratorOptions()...)

	snap, err := orch.Start(ctx, prompt, "")
	if err != nil {
		return err
	}
	for _, p := range opts.followUps {
		if snap, err = orch.Prompt(ctx, snap.ID, p); err != nil {
			return err
		}
	}

	printTree(out, snap.Tree)
	if opts.outDir != "" {
		if err := filetree.WriteDir(opts.outDir, snap.Tree); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", opts.outDir)
	}
	if opts.zipPath != "" {
		if err := writeZipFile(opts.zipPath, snap.Tree); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", opts.zipPath)
	}
	if opts.run {
		return runSandbox(cmd, a, snap)
	}
	return nil
}

func writeZipFile(path string, tree []*models.FileNode) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := filetree.WriteZip(f, tree); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// runSandbox mounts the project and runs its scripts, falling back to an
// install and dev server when the model asked for none.
func runSandbox(cmd *cobra.Command, a *app, snap orchestrator.Snapshot) error {
	ctx := cmd.Context()
	rt, err := sandbox.NewLocalRuntime(a.cfg.Sandbox.Dir, a.logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	scripts := sandbox.Scripts(snap.Project.Steps)
	if len(scripts) == 0 {
		scripts = []string{"npm install", "npm run dev"}
	}
	mount := filetree.ToMount(snap.Tree, filetree.WithDefaultPackageJSON(""))
	sr, err := sandbox.Execute(ctx, rt, mount, scripts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if sr == nil {
		return nil
	}
	a.logger.Info("server ready", zap.Int("port", sr.Port), zap.String("url", sr.URL))
	fmt.Fprintf(cmd.OutOrStdout(), "preview at %s (ctrl-c to stop)\n", sr.URL)
	<-ctx.Done()
	return nil
}

func printTree(w io.Writer, tree []*models.FileNode) {
	filetree.Walk(tree, func(n *models.FileNode) bool {
		depth := strings.Count(n.Path, "/") - 1
		name := n.Name
		if n.IsFolder() {
			name += "/"
		}
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), name)
		return true
	})
}
