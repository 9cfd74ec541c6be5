package filetree

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/site-scaffolder/internal/models"
)

var ignoreIDs = cmpopts.IgnoreFields(models.FileNode{}, "ID")

func fileStep(id int, path, content string) models.Step {
	return models.Step{ID: id, Kind: models.KindCreateFile, Status: models.StatusPending, Path: path, Content: content}
}

func folder(path string, children ...*models.FileNode) *models.FileNode {
	segs := Segments(path)
	if children == nil {
		children = []*models.FileNode{}
	}
	return &models.FileNode{Name: segs[len(segs)-1], Kind: models.NodeFolder, Path: Canonical(path), Children: children}
}

func file(path, content string) *models.FileNode {
	segs := Segments(path)
	return &models.FileNode{Name: segs[len(segs)-1], Kind: models.NodeFile, Path: Canonical(path), Content: content}
}

func TestReduce_Scenario(t *testing.T) {
	steps := []models.Step{
		fileStep(1, "a/b.txt", "hello"),
		{ID: 2, Kind: models.KindRunScript, Status: models.StatusPending, Content: "npm install"},
	}

	res := Reduce(nil, steps)

	want := []*models.FileNode{folder("a", file("a/b.txt", "hello"))}
	if diff := cmp.Diff(want, res.Tree, ignoreIDs); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{1, 2}, res.Applied)
	assert.Empty(t, res.Warnings)
}

func TestReduce_Idempotent(t *testing.T) {
	step := fileStep(1, "src/index.js", "v1")
	first := Reduce(nil, []models.Step{step})

	step.Content = "v2"
	second := Reduce(first.Tree, []models.Step{step})

	want := []*models.FileNode{folder("src", file("src/index.js", "v2"))}
	if diff := cmp.Diff(want, second.Tree, ignoreIDs); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, first.Tree[0].ID, second.Tree[0].ID, "existing folder is reused")
	assert.Equal(t, first.Tree[0].Children[0].ID, second.Tree[0].Children[0].ID, "existing file is overwritten in place")
}

func TestReduce_PathNormalization(t *testing.T) {
	a := Reduce(nil, []models.Step{fileStep(1, "a/b/c.txt", "x")})
	b := Reduce(nil, []models.Step{fileStep(1, "/a/b/c.txt", "x")})
	c := Reduce(nil, []models.Step{fileStep(1, "a//b/c.txt/", "x")})

	if diff := cmp.Diff(a.Tree, b.Tree, ignoreIDs); diff != "" {
		t.Errorf("leading slash changed the tree:\n%s", diff)
	}
	if diff := cmp.Diff(a.Tree, c.Tree, ignoreIDs); diff != "" {
		t.Errorf("empty segments changed the tree:\n%s", diff)
	}

	both := Reduce(nil, []models.Step{fileStep(1, "a/b/c.txt", "x"), fileStep(2, "/a/b/c.txt", "y")})
	var files int
	Walk(both.Tree, func(n *models.FileNode) bool {
		if !n.IsFolder() {
			files++
		}
		return true
	})
	assert.Equal(t, 1, files)
	assert.Equal(t, "y", Find(both.Tree, "a/b/c.txt").Content)
}

func TestReduce_FolderAutoCreation(t *testing.T) {
	res := Reduce(nil, []models.Step{fileStep(1, "src/components/Button.jsx", "export default 1")})

	var folders, files []string
	Walk(res.Tree, func(n *models.FileNode) bool {
		if n.IsFolder() {
			folders = append(folders, n.Path)
		} else {
			files = append(files, n.Path)
		}
		return true
	})
	assert.Equal(t, []string{"/src", "/src/components"}, folders)
	assert.Equal(t, []string{"/src/components/Button.jsx"}, files)

	require.Len(t, res.Tree, 1)
	require.Len(t, res.Tree[0].Children, 1)
	assert.Equal(t, "Button.jsx", res.Tree[0].Children[0].Children[0].Name)
}

func TestReduce_Ordering(t *testing.T) {
	res := Reduce(nil, []models.Step{
		fileStep(1, "README.md", ""),
		fileStep(2, "package.json", ""),
		fileStep(3, "public/favicon.ico", ""),
		fileStep(4, "src/main.tsx", ""),
		fileStep(5, "src/App.tsx", ""),
		fileStep(6, "src/components/Nav.tsx", ""),
		fileStep(7, "src/src/deep.ts", ""),
		fileStep(8, "apps/x.ts", ""),
		fileStep(9, "index.html", ""),
	})

	names := func(level []*models.FileNode) []string {
		var out []string
		for _, n := range level {
			out = append(out, n.Name)
		}
		return out
	}
	assert.Equal(t, []string{"src", "apps", "public", "index.html", "package.json", "README.md"}, names(res.Tree))
	src := Find(res.Tree, "src")
	assert.Equal(t, []string{"src", "components", "App.tsx", "main.tsx"}, names(src.Children))
}

func TestReduce_SkipsCollisions(t *testing.T) {
	base := Reduce(nil, []models.Step{fileStep(1, "lib", "file body"), fileStep(2, "docs/readme.md", "r")})

	res := Reduce(base.Tree, []models.Step{
		fileStep(3, "lib/util.js", "u"),
		fileStep(4, "docs", "clobber"),
		fileStep(5, "///", "nowhere"),
		fileStep(6, "ok.txt", "fine"),
	})

	assert.Equal(t, []int{3, 4, 5, 6}, res.Applied)
	assert.Len(t, res.Warnings, 3)
	assert.Equal(t, "file body", Find(res.Tree, "lib").Content)
	assert.True(t, Find(res.Tree, "docs").IsFolder())
	assert.Equal(t, "fine", Find(res.Tree, "ok.txt").Content)
}

func TestReduce_OnlyPendingSteps(t *testing.T) {
	done := fileStep(1, "old.txt", "stale")
	done.Status = models.StatusCompleted

	res := Reduce(nil, []models.Step{done, fileStep(2, "new.txt", "fresh")})

	assert.Nil(t, Find(res.Tree, "old.txt"))
	assert.NotNil(t, Find(res.Tree, "new.txt"))
	assert.Equal(t, []int{2}, res.Applied)
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	in := Reduce(nil, []models.Step{fileStep(1, "b.txt", "one"), fileStep(2, "a/x.txt", "x")}).Tree
	snapshot := Clone(in)

	_ = Reduce(in, []models.Step{fileStep(3, "b.txt", "two"), fileStep(4, "a/y.txt", "y"), fileStep(5, "src/z.txt", "z")})

	if diff := cmp.Diff(snapshot, in); diff != "" {
		t.Errorf("input tree changed (-before +after):\n%s", diff)
	}
}

func TestReduce_UniqueIDs(t *testing.T) {
	res := Reduce(nil, []models.Step{fileStep(1, "a/b.txt", ""), fileStep(2, "a/c.txt", ""), fileStep(3, "d.txt", "")})
	seen := map[string]bool{}
	Walk(res.Tree, func(n *models.FileNode) bool {
		assert.NotEmpty(t, n.ID)
		assert.False(t, seen[n.ID], "duplicate id %s", n.ID)
		seen[n.ID] = true
		return true
	})
	assert.Len(t, seen, 4)
}

func TestFind(t *testing.T) {
	tree := []*models.FileNode{folder("a", folder("a/b", file("a/b/c.txt", "c")))}

	assert.Equal(t, "c", Find(tree, "/a/b/c.txt").Content)
	assert.True(t, Find(tree, "a/b/").IsFolder())
	assert.Nil(t, Find(tree, "a/missing"))
	assert.Nil(t, Find(tree, ""))
}
