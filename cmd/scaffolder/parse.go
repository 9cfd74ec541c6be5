package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/site-scaffolder/internal/artifact"
	"github.com/example/site-scaffolder/internal/filetree"
	"github.com/example/site-scaffolder/internal/project"
)

func newParseCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse a model response into steps, a file tree or a mount structure",
		Long: `Parse reads a model response containing a boltArtifact from a file, or
from stdin when no file is given, and prints it as JSON.

Formats:
  steps  - the parsed steps (default)
  tree   - the file tree after applying the steps
  mount  - the sandbox mount structure of that tree`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			raw, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return printParsed(cmd.OutOrStdout(), a, string(raw), format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "steps", "output format: steps, tree or mount")
	return cmd
}

func printParsed(w io.Writer, a *app, raw, format string) error {
	res := artifact.NewParser(a.logger).ParseArtifact(raw)
	var v any
	switch format {
	case "steps":
		v = res.Steps
	case "tree", "mount":
		p := project.Merge(nil, res.Steps)
		tree := filetree.NewReducer(a.logger).Reduce(nil, project.Pending(p)).Tree
		if format == "tree" {
			v = tree
		} else {
			v = filetree.ToMount(tree)
		}
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
