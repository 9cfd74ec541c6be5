// Package filetree folds scaffolding steps into a hierarchical file tree and
// converts that tree into the forms the rest of the system consumes: the
// sandbox mount structure, a zip archive and an on-disk directory.
package filetree

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/site-scaffolder/internal/logging"
	"github.com/example/site-scaffolder/internal/models"
)

// Result is the outcome of one reduction. Applied holds the ids of every
// pending step that was consumed, in step order, including steps that had
// no effect on the tree.
type Result struct {
	Tree     []*models.FileNode
	Applied  []int
	Warnings []string
}

type Reducer struct {
	logger *zap.Logger
	newID  func() string
}

func NewReducer(logger *zap.Logger) *Reducer {
	return &Reducer{logger: logging.OrNop(logger), newID: uuid.NewString}
}

var defaultReducer = NewReducer(nil)

// Reduce applies steps to a copy of tree using a reducer that discards
// warnings.
func Reduce(tree []*models.FileNode, steps []models.Step) Result {
	return defaultReducer.Reduce(tree, steps)
}

// Reduce applies the pending steps to a deep copy of tree and returns the
// sorted copy. The input tree is never modified.
func (r *Reducer) Reduce(tree []*models.FileNode, steps []models.Step) Result {
	res := Result{Tree: Clone(tree), Applied: []int{}}
	for _, step := range steps {
		if step.Status != models.StatusPending {
			continue
		}
		if step.Kind == models.KindCreateFile {
			if msg := r.createFile(&res.Tree, step); msg != "" {
				res.Warnings = append(res.Warnings, msg)
				r.logger.Warn("step skipped by reducer",
					zap.Int("step", step.ID),
					zap.String("path", step.Path),
					zap.String("reason", msg))
			}
		}
		res.Applied = append(res.Applied, step.ID)
	}
	Sort(res.Tree)
	return res
}

// createFile walks or creates the folders leading to step.Path and writes the
// file at its end. A non-empty return explains why nothing was written.
func (r *Reducer) createFile(root *[]*models.FileNode, step models.Step) string {
	segs := Segments(step.Path)
	if len(segs) == 0 {
		return fmt.Sprintf("step %d: path %q is empty after normalization", step.ID, step.Path)
	}

	level := root
	prefix := ""
	for i, seg := range segs {
		prefix += "/" + seg
		node := lookup(*level, prefix)
		last := i == len(segs)-1

		if !last {
			switch {
			case node == nil:
				node = &models.FileNode{
					ID:       r.newID(),
					Name:     seg,
					Kind:     models.NodeFolder,
					Path:     prefix,
					Children: []*models.FileNode{},
				}
				*level = append(*level, node)
			case !node.IsFolder():
				return fmt.Sprintf("step %d: %s is a file, cannot descend into it", step.ID, prefix)
			}
			level = &node.Children
			continue
		}

		switch {
		case node == nil:
			*level = append(*level, &models.FileNode{
				ID:      r.newID(),
				Name:    seg,
				Kind:    models.NodeFile,
				Path:    prefix,
				Content: step.Content,
			})
		case node.IsFolder():
			return fmt.Sprintf("step %d: %s is a folder, cannot write a file there", step.ID, prefix)
		default:
			node.Content = step.Content
		}
	}
	return ""
}

func lookup(level []*models.FileNode, path string) *models.FileNode {
	for _, n := range level {
		if n.Path == path {
			return n
		}
	}
	return nil
}

// Segments splits p on "/" and drops empty segments, so "a/b" and "/a//b/"
// both yield [a b].
func Segments(p string) []string {
	parts := strings.Split(p, "/")
	segs := parts[:0]
	for _, s := range parts {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// Canonical returns the "/a/b" form of p, or "" if p has no segments.
func Canonical(p string) string {
	segs := Segments(p)
	if len(segs) == 0 {
		return ""
	}
	return "/" + strings.Join(segs, "/")
}

// Clone deep-copies a tree.
func Clone(tree []*models.FileNode) []*models.FileNode {
	out := make([]*models.FileNode, 0, len(tree))
	for _, n := range tree {
		c := *n
		if n.Children != nil {
			c.Children = Clone(n.Children)
		}
		out = append(out, &c)
	}
	return out
}

// Find returns the node at path p (in any separator form), or nil.
func Find(tree []*models.FileNode, p string) *models.FileNode {
	segs := Segments(p)
	level := tree
	prefix := ""
	var node *models.FileNode
	for _, seg := range segs {
		prefix += "/" + seg
		node = lookup(level, prefix)
		if node == nil {
			return nil
		}
		level = node.Children
	}
	return node
}

// Walk visits every node depth-first in tree order. Returning false from fn
// skips the node's children.
func Walk(tree []*models.FileNode, fn func(n *models.FileNode) bool) {
	for _, n := range tree {
		if fn(n) && n.IsFolder() {
			Walk(n.Children, fn)
		}
	}
}
