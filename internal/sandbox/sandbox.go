// Package sandbox runs generated projects: it mounts a file tree, spawns
// commands inside it and reports when a dev server starts listening.
package sandbox

import (
	"context"
	"regexp"
	"strconv"

	"github.com/example/site-scaffolder/internal/models"
)

// Runtime is a single-instance, mutable environment owned by one session.
// Implementations serialize Mount and Spawn.
type Runtime interface {
	Mount(ctx context.Context, tree models.MountTree) error
	Spawn(ctx context.Context, name string, args ...string) (*Process, error)
	ServerReady() <-chan ServerReady
	Close() error
}

// ServerReady announces a server reachable at URL.
type ServerReady struct {
	Port int    `json:"port"`
	URL  string `json:"url"`
}

var serverURL = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1?\]|[\w.-]+):(\d{2,5})/?`)

// DetectServer looks for a local server URL in one line of process output.
func DetectServer(line string) (ServerReady, bool) {
	m := serverURL.FindStringSubmatch(stripANSI(line))
	if m == nil {
		return ServerReady{}, false
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port <= 0 || port > 65535 {
		return ServerReady{}, false
	}
	return ServerReady{Port: port, URL: m[0]}, true
}

var ansi = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

func stripANSI(s string) string { return ansi.ReplaceAllString(s, "") }
