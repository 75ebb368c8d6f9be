// Package app wires the workbench components and exposes them as named
// commands taking JSON arguments.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dcompose/workbench/internal/bridge"
	"github.com/dcompose/workbench/internal/compose"
	"github.com/dcompose/workbench/internal/docker"
	"github.com/dcompose/workbench/internal/model"
	"github.com/dcompose/workbench/internal/scene"
	"github.com/dcompose/workbench/internal/watch"
)

var ErrUnknownCommand = errors.New("unknown command")

// Handler runs a command with its raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Runtime is what App needs from the container runtime.
type Runtime interface {
	watch.Runtime
	ListProject(ctx context.Context, project string) ([]docker.Container, error)
	Close() error
}

// Orchestrator runs compose commands for a scene.
type Orchestrator interface {
	Up(ctx context.Context, scene, service string) (compose.Result, error)
	Down(ctx context.Context, scene, service string) (compose.Result, error)
}

type App struct {
	Store      *scene.Store
	Bus        *bridge.Bus
	Supervisor *watch.Supervisor

	runtime  Runtime
	compose  Orchestrator
	commands map[string]Handler
}

// New connects to the container runtime and builds every component from cfg.
func New(cfg model.Config, logger *slog.Logger) (*App, error) {
	dir, err := cfg.ScenesDir()
	if err != nil {
		return nil, err
	}
	store, err := scene.NewStore(dir)
	if err != nil {
		return nil, err
	}
	rt, err := docker.New(cfg.Runtime.Host)
	if err != nil {
		return nil, err
	}
	inv, err := compose.NewInvoker(cfg.Compose, store.Dir)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	opts, err := watch.OptionsFromConfig(cfg.Watch, compose.ProjectName)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return NewWith(store, rt, inv, bridge.NewBus(logger), opts), nil
}

// NewWith assembles an App from already built parts.
func NewWith(store *scene.Store, rt Runtime, orch Orchestrator, bus *bridge.Bus, opts watch.Options) *App {
	a := &App{
		Store:      store,
		Bus:        bus,
		Supervisor: watch.NewSupervisor(rt, bus, store, opts),
		runtime:    rt,
		compose:    orch,
	}
	a.commands = a.registerCommands()
	return a
}

// Commands lists the command names, sorted.
func (a *App) Commands() []string {
	out := make([]string, 0, len(a.commands))
	for name := range a.commands {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke runs the named command. Empty args are treated as {}.
func (a *App) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	h, ok := a.commands[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	slog.DebugContext(ctx, "invoke", "command", name)
	return h(ctx, args)
}

// Close closes the bus first so no watcher waits on a subscriber, then
// stops every watcher and the runtime client.
func (a *App) Close() error {
	busErr := a.Bus.Close()
	a.Supervisor.Close()
	return errors.Join(busErr, a.runtime.Close())
}
