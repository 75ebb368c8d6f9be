package watch

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/dcompose/workbench/internal/docker"
	"github.com/dcompose/workbench/internal/log"
	"github.com/dcompose/workbench/internal/model"
)

// Runtime is the part of the container runtime client the watchers use.
type Runtime interface {
	ResolveContainer(ctx context.Context, project, service string) (string, bool, error)
	Inspect(ctx context.Context, name string) (docker.ContainerState, error)
	Logs(ctx context.Context, name string, follow bool) iter.Seq2[docker.LogLine, error]
}

// Emitter delivers a payload on a named channel. Nothing is delivered once
// ctx is done.
type Emitter interface {
	Emit(ctx context.Context, channel string, payload any) error
}

// SceneResolver lists the service ids reachable from a scene.
type SceneResolver interface {
	ServiceIDs(scene string) ([]string, error)
}

type Options struct {
	StatusInterval  time.Duration // single service status
	SceneInterval   time.Duration // every service of a scene
	ResolveInterval time.Duration // while no container is found
	StopGrace       time.Duration
	// Project maps a scene to its compose project name.
	Project func(scene string) string
}

func OptionsFromConfig(cfg model.Watch, project func(string) string) (Options, error) {
	d, err := cfg.Durations()
	if err != nil {
		return Options{}, err
	}
	return Options{
		StatusInterval:  d.Status,
		SceneInterval:   d.Scene,
		ResolveInterval: d.Resolve,
		StopGrace:       d.StopGrace,
		Project:         project,
	}, nil
}

// Supervisor starts and stops watchers. It is safe for concurrent use.
type Supervisor struct {
	rt     Runtime
	em     Emitter
	scenes SceneResolver
	opts   Options
	reg    *Registry
}

func NewSupervisor(rt Runtime, em Emitter, scenes SceneResolver, opts Options) *Supervisor {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = time.Second
	}
	if opts.SceneInterval <= 0 {
		opts.SceneInterval = 3 * time.Second
	}
	if opts.ResolveInterval <= 0 {
		opts.ResolveInterval = time.Second
	}
	if opts.Project == nil {
		opts.Project = func(scene string) string { return scene }
	}
	return &Supervisor{
		rt:     rt,
		em:     em,
		scenes: scenes,
		opts:   opts,
		reg:    NewRegistry(),
	}
}

// Registry exposes the handle tables.
func (s *Supervisor) Registry() *Registry {
	return s.reg
}

func (s *Supervisor) project(scene string) string {
	return s.opts.Project(scene)
}

// taskContext detaches the task from the request which started it while
// keeping its log attributes.
func taskContext(ctx context.Context, kind string, key model.WatchKey) context.Context {
	return log.WatchAttrs(context.WithoutCancel(ctx), kind, key)
}

func validKey(key model.WatchKey) error {
	if key.Scene == "" || key.Service == "" {
		return fmt.Errorf("%w: scene and service are required", model.ErrInvalidArgument)
	}
	return nil
}

// StartServiceStatus emits the status of one service every StatusInterval.
func (s *Supervisor) StartServiceStatus(ctx context.Context, key model.WatchKey) error {
	if err := validKey(key); err != nil {
		return err
	}
	h := newHandle(taskContext(ctx, "status", key), "status "+key.String(), s.opts.StopGrace,
		func(ctx context.Context) { s.statusLoop(ctx, key, s.opts.StatusInterval) })
	if err := s.reg.Register(StatusTable, key, h); err != nil {
		return err
	}
	h.start()
	slog.InfoContext(ctx, "watching service status", "scene", key.Scene, "service", key.Service)
	return nil
}

func (s *Supervisor) StopServiceStatus(ctx context.Context, key model.WatchKey) error {
	if err := s.reg.CancelAndUnregister(StatusTable, key); err != nil {
		return err
	}
	slog.InfoContext(ctx, "stopped watching service status", "scene", key.Scene, "service", key.Service)
	return nil
}

// StartSceneStatus emits the status of every service reachable from scene,
// one task per service, every SceneInterval.
func (s *Supervisor) StartSceneStatus(ctx context.Context, scene string) error {
	if scene == "" {
		return fmt.Errorf("%w: scene is required", model.ErrInvalidArgument)
	}
	ids, err := s.scenes.ServiceIDs(scene)
	if err != nil {
		return err
	}
	handles := make([]*Handle, 0, len(ids))
	for _, id := range ids {
		key := model.WatchKey{Scene: scene, Service: id}
		handles = append(handles, newHandle(taskContext(ctx, "scene-status", key), "scene status "+key.String(), s.opts.StopGrace,
			func(ctx context.Context) { s.statusLoop(ctx, key, s.opts.SceneInterval) }))
	}
	if err := s.reg.RegisterBatch(scene, handles); err != nil {
		return err
	}
	for _, h := range handles {
		h.start()
	}
	slog.InfoContext(ctx, "watching scene status", "scene", scene, "services", len(ids))
	return nil
}

func (s *Supervisor) StopSceneStatus(ctx context.Context, scene string) error {
	if err := s.reg.CancelAndUnregisterBatch(scene); err != nil {
		return err
	}
	slog.InfoContext(ctx, "stopped watching scene status", "scene", scene)
	return nil
}

// StartServiceLogs streams the logs of one service.
func (s *Supervisor) StartServiceLogs(ctx context.Context, key model.WatchKey) error {
	if err := validKey(key); err != nil {
		return err
	}
	h := newHandle(taskContext(ctx, "logs", key), "logs "+key.String(), s.opts.StopGrace,
		func(ctx context.Context) { s.logLoop(ctx, key) })
	if err := s.reg.Register(LogTable, key, h); err != nil {
		return err
	}
	h.start()
	slog.InfoContext(ctx, "watching service logs", "scene", key.Scene, "service", key.Service)
	return nil
}

func (s *Supervisor) StopServiceLogs(ctx context.Context, key model.WatchKey) error {
	if err := s.reg.CancelAndUnregister(LogTable, key); err != nil {
		return err
	}
	slog.InfoContext(ctx, "stopped watching service logs", "scene", key.Scene, "service", key.Service)
	return nil
}

// Close stops every watcher.
func (s *Supervisor) Close() {
	s.reg.Close()
}

// emit delivers payload unless the task was cancelled meanwhile.
func (s *Supervisor) emit(ctx context.Context, channel string, payload any) {
	if ctx.Err() != nil {
		return
	}
	if err := s.em.Emit(ctx, channel, payload); err != nil && ctx.Err() == nil {
		slog.WarnContext(ctx, "emitting event failed", "channel", channel, "err", err)
	}
}
