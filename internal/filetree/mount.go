package filetree

import "github.com/example/site-scaffolder/internal/models"

// DefaultPackageJSON is mounted at the root when a tree has no package.json
// of its own, so the sandbox always has a dev script to run.
const DefaultPackageJSON = `{
  "name": "web-project",
  "version": "1.0.0",
  "scripts": {
    "dev": "npx vite --host",
    "build": "vite build",
    "serve": "vite preview"
  },
  "dependencies": {
    "react": "^18.2.0",
    "react-dom": "^18.2.0"
  },
  "devDependencies": {
    "vite": "^4.3.9"
  }
}`

type mountOptions struct {
	packageJSON string
}

type MountOption func(*mountOptions)

// WithDefaultPackageJSON adds contents as /package.json when the tree lacks
// one. An empty string selects DefaultPackageJSON.
func WithDefaultPackageJSON(contents string) MountOption {
	return func(o *mountOptions) {
		if contents == "" {
			contents = DefaultPackageJSON
		}
		o.packageJSON = contents
	}
}

// ToMount converts tree into the nested name → {file}|{directory} structure
// accepted by the sandbox runtime.
func ToMount(tree []*models.FileNode, opts ...MountOption) models.MountTree {
	var o mountOptions
	for _, opt := range opts {
		opt(&o)
	}
	m := toMount(tree)
	if o.packageJSON != "" {
		if _, ok := m["package.json"]; !ok {
			m["package.json"] = &models.MountEntry{File: &models.MountFile{Contents: o.packageJSON}}
		}
	}
	return m
}

func toMount(level []*models.FileNode) models.MountTree {
	m := make(models.MountTree, len(level))
	for _, n := range level {
		if n.IsFolder() {
			m[n.Name] = &models.MountEntry{Directory: toMount(n.Children)}
			continue
		}
		m[n.Name] = &models.MountEntry{File: &models.MountFile{Contents: n.Content}}
	}
	return m
}
