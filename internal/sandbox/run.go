package sandbox

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/example/site-scaffolder/internal/models"
)

// ScriptError reports a script that exited with a non-zero code.
type ScriptError struct {
	Script string
	Code   int
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("sandbox: %q exited with code %d", e.Script, e.Code)
}

// Scripts returns the commands of the project's run-script steps, in order.
func Scripts(steps []models.Step) []string {
	var out []string
	for _, s := range steps {
		if s.Kind == models.KindRunScript && strings.TrimSpace(s.Content) != "" {
			out = append(out, s.Content)
		}
	}
	return out
}

// Execute mounts tree and runs scripts one after another with "sh -c",
// copying their output to out. When a script announces a server, Execute
// returns the announcement and leaves that script running; closing the
// runtime stops it. out may be written to after Execute returns in that case.
func Execute(ctx context.Context, rt Runtime, tree models.MountTree, scripts []string, out io.Writer) (*ServerReady, error) {
	if err := rt.Mount(ctx, tree); err != nil {
		return nil, err
	}
	for _, script := range scripts {
		drain(rt.ServerReady())
		p, err := rt.Spawn(ctx, "sh", "-c", script)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "$ %s\n", script)
		pumped := make(chan struct{})
		go func() {
			defer close(pumped)
			for line := range p.Output() {
				fmt.Fprintln(out, line)
			}
		}()

		exited := make(chan struct{})
		var code int
		var waitErr error
		go func() {
			defer close(exited)
			code, waitErr = p.Wait(context.Background())
		}()

		select {
		case sr := <-rt.ServerReady():
			return &sr, nil
		case <-ctx.Done():
			_ = p.Kill()
			<-exited
			<-pumped
			return nil, ctx.Err()
		case <-exited:
			<-pumped
			if waitErr != nil {
				return nil, fmt.Errorf("sandbox: %q failed: %w", script, waitErr)
			}
			if code != 0 {
				return nil, &ScriptError{Script: script, Code: code}
			}
		}
	}
	return nil, nil
}

func drain(ch <-chan ServerReady) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
