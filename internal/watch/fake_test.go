package watch_test

import (
	"context"
	"iter"
	"sync"

	"github.com/dcompose/workbench/internal/docker"
	"github.com/dcompose/workbench/internal/model"
)

// fakeRuntime serves containers keyed by "project/service".
type fakeRuntime struct {
	mx         sync.Mutex
	resolveErr error
	names      map[string]string
	states     map[string]docker.ContainerState
	inspectErr error
	lines      map[string][]docker.LogLine
	streamErr  error
	follow     bool
	inspects   int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		names:  make(map[string]string),
		states: make(map[string]docker.ContainerState),
		lines:  make(map[string][]docker.LogLine),
	}
}

func (f *fakeRuntime) setContainer(project, service, name string, st docker.ContainerState) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.names[project+"/"+service] = name
	f.states[name] = st
}

func (f *fakeRuntime) removeContainer(project, service string) {
	f.mx.Lock()
	defer f.mx.Unlock()
	name := f.names[project+"/"+service]
	delete(f.names, project+"/"+service)
	delete(f.states, name)
}

func (f *fakeRuntime) setResolveErr(err error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.resolveErr = err
}

func (f *fakeRuntime) setInspectErr(err error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.inspectErr = err
}

func (f *fakeRuntime) setLines(name string, lines ...docker.LogLine) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.lines[name] = lines
}

func (f *fakeRuntime) ResolveContainer(_ context.Context, project, service string) (string, bool, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.resolveErr != nil {
		return "", false, f.resolveErr
	}
	name, ok := f.names[project+"/"+service]
	return name, ok, nil
}

func (f *fakeRuntime) Inspect(_ context.Context, name string) (docker.ContainerState, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.inspects++
	if f.inspectErr != nil {
		return docker.ContainerState{}, f.inspectErr
	}
	st, ok := f.states[name]
	if !ok {
		return docker.ContainerState{}, model.ErrContainerNotFound
	}
	return st, nil
}

func (f *fakeRuntime) Logs(ctx context.Context, name string, _ bool) iter.Seq2[docker.LogLine, error] {
	f.mx.Lock()
	lines := append([]docker.LogLine(nil), f.lines[name]...)
	streamErr := f.streamErr
	follow := f.follow
	f.mx.Unlock()

	return func(yield func(docker.LogLine, error) bool) {
		for _, l := range lines {
			if !yield(l, nil) {
				return
			}
		}
		if streamErr != nil {
			yield(docker.LogLine{}, streamErr)
			return
		}
		if follow {
			<-ctx.Done()
		}
	}
}

type event struct {
	channel string
	payload any
}

type fakeEmitter struct {
	mx     sync.Mutex
	events []event
	err    error
	// before, when set, runs once ahead of the next Emit
	before func(ctx context.Context)
}

func (e *fakeEmitter) Emit(ctx context.Context, channel string, payload any) error {
	e.mx.Lock()
	before := e.before
	e.before = nil
	e.mx.Unlock()
	if before != nil {
		before(ctx)
	}

	e.mx.Lock()
	defer e.mx.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	e.events = append(e.events, event{channel: channel, payload: payload})
	return e.err
}

func (e *fakeEmitter) on(channel string) []any {
	e.mx.Lock()
	defer e.mx.Unlock()
	var out []any
	for _, ev := range e.events {
		if ev.channel == channel {
			out = append(out, ev.payload)
		}
	}
	return out
}

func (e *fakeEmitter) statuses(channel string) []model.StatusEvent {
	var out []model.StatusEvent
	for _, p := range e.on(channel) {
		out = append(out, p.(model.StatusEvent))
	}
	return out
}

func (e *fakeEmitter) logs(channel string) []model.LogEvent {
	var out []model.LogEvent
	for _, p := range e.on(channel) {
		out = append(out, p.(model.LogEvent))
	}
	return out
}

func (e *fakeEmitter) count() int {
	e.mx.Lock()
	defer e.mx.Unlock()
	return len(e.events)
}

type fakeScenes map[string][]string

func (f fakeScenes) ServiceIDs(scene string) ([]string, error) {
	ids, ok := f[scene]
	if !ok {
		return nil, model.ErrSceneNotFound
	}
	if ids == nil {
		return nil, model.ErrCyclicInclude
	}
	return ids, nil
}
