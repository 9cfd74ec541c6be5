package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/site-scaffolder/internal/models"
)

const sample = "```xml\n" + `<boltArtifact id="demo" title="Demo">
<boltAction type="file" filePath="src/main.ts">console.log("hi")</boltAction>
<boltAction type="shell">npm start</boltAction>
<boltAction type="file" filePath="README.md"># Demo</boltAction>
</boltArtifact>` + "\n```"

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	t.Cleanup(func() { _ = a.close() })
	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--config", "", "--env-file", "", "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestParse_Steps(t *testing.T) {
	out, err := run(t, sample, "parse")
	require.NoError(t, err)

	var steps []models.Step
	require.NoError(t, json.Unmarshal([]byte(out), &steps))
	require.Len(t, steps, 3)
	assert.Equal(t, "src/main.ts", steps[0].Path)
	assert.Equal(t, models.KindRunScript, steps[1].Kind)
	assert.Equal(t, []int{1, 2, 3}, []int{steps[0].ID, steps[1].ID, steps[2].ID})
}

func TestParse_TreeAndMount(t *testing.T) {
	out, err := run(t, sample, "parse", "--format", "tree")
	require.NoError(t, err)
	var tree []*models.FileNode
	require.NoError(t, json.Unmarshal([]byte(out), &tree))
	require.Len(t, tree, 2)
	assert.Equal(t, "src", tree[0].Name)
	assert.Equal(t, "README.md", tree[1].Name)

	out, err = run(t, sample, "parse", "--format", "mount")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"src": {"directory": {"main.ts": {"file": {"contents": "console.log(\"hi\")"}}}},
		"README.md": {"file": {"contents": "# Demo"}}
	}`, out)
}

func TestParse_FromFileAndBadFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "response.txt")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	out, err := run(t, "", "parse", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"path": "README.md"`)

	_, err = run(t, sample, "parse", "--format", "yaml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestGenerate_WithMockProvider(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "site")
	zipPath := filepath.Join(dir, "site.zip")

	out, err := run(t, "", "generate", "a bakery landing page",
		"--provider", "mock", "-f", "add a contact form", "--out", outDir, "--zip", zipPath)
	require.NoError(t, err)
	assert.Contains(t, out, "src/\n")
	assert.Contains(t, out, "  App.tsx\n")

	page, err := os.ReadFile(filepath.Join(outDir, "src", "App.tsx"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "add a contact form")
	assert.FileExists(t, filepath.Join(outDir, "package.json"))
	assert.FileExists(t, zipPath)
}

func TestGenerate_RequiresPrompt(t *testing.T) {
	_, err := run(t, "", "generate", "--provider", "mock")
	assert.ErrorContains(t, err, "prompt or --brief")
}
