// Package compose runs the orchestration CLI (docker compose) for scenes.
package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/dcompose/workbench/internal/model"
)

var ErrInProgress = errors.New("compose command in progress")

// CommandError is returned when the CLI exits with a non zero code. Output
// holds the combined stdout and stderr.
type CommandError struct {
	Args     []string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: exit code %d", strings.Join(e.Args, " "), e.ExitCode)
	}
	return fmt.Sprintf("%s: exit code %d: %s", strings.Join(e.Args, " "), e.ExitCode, out)
}

type Command struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

type Result struct {
	Args    []string
	Started time.Time
	Stopped time.Time
	Output  string
}

// DirFunc maps a scene name to the directory holding its manifest.
type DirFunc func(scene string) string

// Invoker runs at most one command per scene at a time.
type Invoker struct {
	binary  string
	args    []string
	timeout time.Duration
	dir     DirFunc

	mx      sync.Mutex
	running map[string]struct{}
}

func NewInvoker(cfg model.Compose, dir DirFunc) (*Invoker, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	return &Invoker{
		binary:  cfg.Binary,
		args:    append([]string(nil), cfg.Args...),
		timeout: timeout,
		dir:     dir,
		running: make(map[string]struct{}),
	}, nil
}

// ProjectName normalizes a scene name the way compose normalizes project
// names: lower case letters, digits, dashes and underscores, starting with a
// letter or digit.
func ProjectName(scene string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(scene) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '.':
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), "-_")
}

// Up starts the whole scene, or only service when not empty, detached.
func (i *Invoker) Up(ctx context.Context, scene, service string) (Result, error) {
	args := []string{"up", "--detach"}
	if service != "" {
		args = append(args, service)
	}
	return i.run(ctx, scene, args)
}

// Down removes the scene's containers. With a service only its container is
// stopped and removed.
func (i *Invoker) Down(ctx context.Context, scene, service string) (Result, error) {
	args := []string{"down"}
	if service != "" {
		args = []string{"rm", "--stop", "--force", service}
	}
	return i.run(ctx, scene, args)
}

func (i *Invoker) run(ctx context.Context, scene string, sub []string) (Result, error) {
	i.mx.Lock()
	if _, ok := i.running[scene]; ok {
		i.mx.Unlock()
		return Result{}, fmt.Errorf("%s: %w", scene, ErrInProgress)
	}
	i.running[scene] = struct{}{}
	i.mx.Unlock()
	defer func() {
		i.mx.Lock()
		delete(i.running, scene)
		i.mx.Unlock()
	}()

	args := append([]string(nil), i.args...)
	args = append(args, "--project-name", ProjectName(scene))
	args = append(args, sub...)

	return Run(ctx, Command{
		Path:    i.binary,
		Args:    args,
		Dir:     i.dir(scene),
		Timeout: i.timeout,
	})
}

// Run executes cmd and waits for it. A non zero exit is a *CommandError.
func Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Timeout == 0 {
		slog.WarnContext(ctx, "command has no timeout", "path", cmd.Path)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	res := Result{
		Args: append([]string{cmd.Path}, cmd.Args...),
	}
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	var buf bytes.Buffer
	c.Stdout = &buf
	c.Stderr = &buf

	slog.DebugContext(ctx, "running", "args", res.Args, "dir", cmd.Dir)
	res.Started = time.Now().UTC()
	err := c.Run()
	res.Stopped = time.Now().UTC()
	res.Output = buf.String()

	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &CommandError{
			Args:     res.Args,
			ExitCode: exitErr.ExitCode(),
			Output:   res.Output,
		}
	}
	return res, fmt.Errorf("running %s: %w", cmd.Path, err)
}
