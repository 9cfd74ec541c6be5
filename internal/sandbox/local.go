package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/example/site-scaffolder/internal/logging"
	"github.com/example/site-scaffolder/internal/models"
)

var ErrClosed = errors.New("sandbox: runtime closed")

// LocalRuntime mounts into a directory on disk and runs commands with
// os/exec. It is meant for development hosts, not untrusted code.
type LocalRuntime struct {
	dir    string
	logger *zap.Logger
	ready  chan ServerReady

	mu      sync.Mutex // serializes Mount and Spawn
	closed  bool
	running map[*Process]struct{}
}

func NewLocalRuntime(dir string, logger *zap.Logger) (*LocalRuntime, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox dir: %w", err)
	}
	return &LocalRuntime{
		dir:     abs,
		logger:  logging.OrNop(logger),
		ready:   make(chan ServerReady, 4),
		running: map[*Process]struct{}{},
	}, nil
}

func (r *LocalRuntime) Dir() string { return r.dir }

func (r *LocalRuntime) ServerReady() <-chan ServerReady { return r.ready }

// Mount writes tree into the runtime directory, replacing files that already
// exist. Files not in tree are left in place.
func (r *LocalRuntime) Mount(ctx context.Context, tree models.MountTree) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return r.mount(ctx, r.dir, tree)
}

func (r *LocalRuntime) mount(ctx context.Context, dir string, tree models.MountTree) error {
	for name, entry := range tree {
		if err := ctx.Err(); err != nil {
			return err
		}
		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("sandbox: invalid entry name %q", name)
		}
		target := filepath.Join(dir, name)
		if entry.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}
			if err := r.mount(ctx, target, entry.Directory); err != nil {
				return err
			}
			continue
		}
		if err := os.WriteFile(target, []byte(entry.File.Contents), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}
	}
	return nil
}

// Spawn starts name with args in the runtime directory. Output lines are
// scanned for server URLs, which are announced on ServerReady.
func (r *LocalRuntime) Spawn(ctx context.Context, name string, args ...string) (*Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), "FORCE_COLOR=0", "CI=1")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	p := &Process{
		cmd:    cmd,
		output: make(chan string, 64),
		done:   make(chan struct{}),
	}
	r.running[p] = struct{}{}
	log := r.logger.With(zap.String("cmd", name), zap.Int("pid", cmd.Process.Pid))
	log.Info("process started", zap.Strings("args", args))

	var wg sync.WaitGroup
	wg.Add(2)
	go r.scan(&wg, stdout, p)
	go r.scan(&wg, stderr, p)
	go func() {
		wg.Wait()
		p.exitErr = cmd.Wait()
		if cmd.ProcessState != nil {
			p.exitCode = cmd.ProcessState.ExitCode()
		}
		close(p.output)
		close(p.done)
		r.mu.Lock()
		delete(r.running, p)
		r.mu.Unlock()
		log.Info("process exited", zap.Int("code", p.exitCode))
	}()
	return p, nil
}

func (r *LocalRuntime) scan(wg *sync.WaitGroup, rd io.Reader, p *Process) {
	defer wg.Done()
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if sr, ok := DetectServer(line); ok {
			select {
			case r.ready <- sr:
			default:
			}
		}
		select {
		case p.output <- line:
		default:
			p.dropped.Add(1)
		}
	}
	if err := sc.Err(); err != nil {
		r.logger.Warn("output scan stopped, discarding the rest", zap.Error(err))
		_, _ = io.Copy(io.Discard, rd)
	}
}

// Close kills every running process and waits for it to exit.
func (r *LocalRuntime) Close() error {
	r.mu.Lock()
	r.closed = true
	procs := make([]*Process, 0, len(r.running))
	for p := range r.running {
		procs = append(procs, p)
	}
	r.mu.Unlock()
	for _, p := range procs {
		_ = p.Kill()
		<-p.done
	}
	return nil
}
