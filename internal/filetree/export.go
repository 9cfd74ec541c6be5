package filetree

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/site-scaffolder/internal/models"
)

// WriteZip streams tree as a zip archive. Empty folders are kept as
// directory entries.
func WriteZip(w io.Writer, tree []*models.FileNode) error {
	zw := zip.NewWriter(w)
	var err error
	Walk(tree, func(n *models.FileNode) bool {
		if err != nil {
			return false
		}
		name := strings.TrimPrefix(n.Path, "/")
		if n.IsFolder() {
			if len(n.Children) == 0 {
				_, err = zw.Create(name + "/")
			}
			return true
		}
		var f io.Writer
		if f, err = zw.Create(name); err != nil {
			return false
		}
		_, err = io.WriteString(f, n.Content)
		return false
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

// WriteDir materializes tree under dir, creating it if needed. Node paths
// that would escape dir are rejected.
func WriteDir(dir string, tree []*models.FileNode) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", root, err)
	}
	Walk(tree, func(n *models.FileNode) bool {
		if err != nil {
			return false
		}
		target := filepath.Join(root, filepath.FromSlash(Canonical(n.Path)))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			err = fmt.Errorf("path %q escapes %s", n.Path, root)
			return false
		}
		if n.IsFolder() {
			if err = os.MkdirAll(target, 0o755); err != nil {
				err = fmt.Errorf("failed to create %s: %w", target, err)
				return false
			}
			return true
		}
		if err = os.MkdirAll(filepath.Dir(target), 0o755); err == nil {
			err = os.WriteFile(target, []byte(n.Content), 0o644)
		}
		if err != nil {
			err = fmt.Errorf("failed to write %s: %w", target, err)
		}
		return false
	})
	return err
}
