package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dcompose/workbench/internal/docker"
	"github.com/dcompose/workbench/internal/model"
)

// Classify maps a container state to a service status. Health, when the
// container has a healthcheck, wins over the container status.
func Classify(st docker.ContainerState) model.StatusEvent {
	if st.Health != nil {
		msg := "Status: " + string(st.Health.Status)
		switch st.Health.Status {
		case docker.HealthStarting:
			return model.NewStatusEvent(model.StatusLoading, msg)
		case docker.HealthHealthy:
			return model.NewStatusEvent(model.StatusRunning, msg)
		case docker.HealthUnhealthy:
			return model.NewStatusEvent(model.StatusError, msg)
		}
	}

	msg := "Status: " + string(st.Status)
	switch st.Status {
	case docker.StatusCreated, docker.StatusRemoving, docker.StatusRestarting:
		return model.NewStatusEvent(model.StatusLoading, msg)
	case docker.StatusRunning:
		return model.NewStatusEvent(model.StatusRunning, msg)
	case docker.StatusExited:
		code := "unknown"
		if st.ExitCode != nil {
			code = fmt.Sprint(*st.ExitCode)
		}
		return model.NewStatusEvent(model.StatusPaused, "Container has exited with exit code "+code)
	case docker.StatusDead, docker.StatusPaused:
		return model.NewStatusEvent(model.StatusPaused, msg)
	default:
		return model.NewStatusEvent(model.StatusPaused, "Status: unknown")
	}
}

// Status resolves the container of key and classifies its state once. The
// boolean reports whether a container was found.
func (s *Supervisor) Status(ctx context.Context, key model.WatchKey) (model.StatusEvent, bool) {
	name, ok, err := s.rt.ResolveContainer(ctx, s.project(key.Scene), key.Service)
	switch {
	case err != nil:
		return model.NewStatusEvent(model.StatusError, "Error while resolving container: "+err.Error()), false
	case !ok:
		return model.StatusEvent{Status: model.StatusPaused}, false
	}

	st, err := s.rt.Inspect(ctx, name)
	switch {
	case errors.Is(err, model.ErrContainerNotFound):
		return model.StatusEvent{Status: model.StatusPaused}, false
	case err != nil:
		return model.NewStatusEvent(model.StatusError, "Error while retrieving service status: "+err.Error()), true
	}
	return Classify(st), true
}

// statusLoop emits the status of key every interval until ctx is done.
// While no container is resolved it polls at the resolve interval.
func (s *Supervisor) statusLoop(ctx context.Context, key model.WatchKey, interval time.Duration) {
	channel := key.StatusChannel()
	slog.DebugContext(ctx, "status watch started", "interval", interval)
	defer slog.DebugContext(ctx, "status watch stopped")

	for {
		ev, found := s.Status(ctx, key)
		if ctx.Err() != nil {
			return
		}
		s.emit(ctx, channel, ev)

		wait := interval
		if !found {
			wait = s.opts.ResolveInterval
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
