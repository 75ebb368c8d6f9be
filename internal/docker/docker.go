// Package docker is a thin client over the container runtime API. It answers
// "which container runs this service", "what state is it in" and streams its
// logs. It does not retry; callers loop.
package docker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dcompose/workbench/internal/model"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// labels set by docker compose on every container it creates
const (
	LabelProject = "com.docker.compose.project"
	LabelService = "com.docker.compose.service"
)

type Status string

const (
	StatusCreated    Status = "created"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusRestarting Status = "restarting"
	StatusRemoving   Status = "removing"
	StatusExited     Status = "exited"
	StatusDead       Status = "dead"
	StatusUnknown    Status = "unknown"
)

type HealthStatus string

const (
	HealthStarting  HealthStatus = "starting"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type Health struct {
	Status HealthStatus
}

// ContainerState is the normalized subset of inspect data used for status
// classification. Health is nil when the container has no healthcheck.
type ContainerState struct {
	Status   Status
	ExitCode *int
	Health   *Health
}

// Container is a compose managed container.
type Container struct {
	ID      string
	Name    string
	Service string
	State   Status
}

type Client struct {
	api *client.Client
}

// New connects to host, or to the environment default (DOCKER_HOST) when host
// is empty. No request is made until the first call.
func New(host string) (*Client, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrRuntimeUnavailable, err)
	}
	return &Client{api: api}, nil
}

func (c *Client) Close() error {
	return c.api.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return wrap(model.ErrRuntimeUnavailable, err)
	}
	return nil
}

// ContainerExists reports whether a container named name exists, regardless
// of its state.
func (c *Client) ContainerExists(ctx context.Context, name string) (bool, error) {
	list, err := c.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return false, wrap(model.ErrRuntimeUnavailable, err)
	}
	// the name filter matches substrings
	for _, ctr := range list {
		for _, n := range ctr.Names {
			if strings.TrimPrefix(n, "/") == name {
				return true, nil
			}
		}
	}
	return false, nil
}

// ListProject returns containers of a compose project sorted by name.
func (c *Client) ListProject(ctx context.Context, project string) ([]Container, error) {
	list, err := c.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelProject+"="+project)),
	})
	if err != nil {
		return nil, wrap(model.ErrRuntimeUnavailable, err)
	}
	out := make([]Container, 0, len(list))
	for _, ctr := range list {
		out = append(out, Container{
			ID:      ctr.ID,
			Name:    primaryName(ctr.Names),
			Service: ctr.Labels[LabelService],
			State:   normalizeStatus(string(ctr.State)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ResolveContainer maps a compose project and service to a container name.
// Running containers win over stopped ones. When no labelled container
// exists the legacy "<project>-<service>" name is tried.
func (c *Client) ResolveContainer(ctx context.Context, project, service string) (string, bool, error) {
	list, err := c.api.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", LabelProject+"="+project),
			filters.Arg("label", LabelService+"="+service),
		),
	})
	if err != nil {
		return "", false, wrap(model.ErrRuntimeUnavailable, err)
	}

	var name string
	for _, ctr := range list {
		n := primaryName(ctr.Names)
		if n == "" {
			continue
		}
		if string(ctr.State) == string(StatusRunning) {
			return n, true, nil
		}
		if name == "" || n < name {
			name = n
		}
	}
	if name != "" {
		return name, true, nil
	}

	legacy := project + "-" + service
	ok, err := c.ContainerExists(ctx, legacy)
	if err != nil || !ok {
		return "", false, err
	}
	return legacy, true, nil
}

// Inspect returns the normalized state of a container. A missing container
// yields model.ErrContainerNotFound.
func (c *Client) Inspect(ctx context.Context, name string) (ContainerState, error) {
	info, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		switch {
		case client.IsErrNotFound(err):
			return ContainerState{}, fmt.Errorf("%s: %w", name, model.ErrContainerNotFound)
		case client.IsErrConnectionFailed(err):
			return ContainerState{}, wrap(model.ErrRuntimeUnavailable, err)
		default:
			return ContainerState{}, wrap(model.ErrInspectFailed, err)
		}
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return ContainerState{Status: StatusUnknown}, nil
	}

	st := ContainerState{
		Status: normalizeStatus(string(info.State.Status)),
	}
	if st.Status == StatusExited || st.Status == StatusDead {
		code := info.State.ExitCode
		st.ExitCode = &code
	}
	if h := info.State.Health; h != nil {
		switch HealthStatus(h.Status) {
		case HealthStarting, HealthHealthy, HealthUnhealthy:
			st.Health = &Health{Status: HealthStatus(h.Status)}
		}
	}
	return st, nil
}

func normalizeStatus(s string) Status {
	switch st := Status(strings.ToLower(s)); st {
	case StatusCreated, StatusRunning, StatusPaused, StatusRestarting,
		StatusRemoving, StatusExited, StatusDead:
		return st
	default:
		return StatusUnknown
	}
}

func primaryName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

func wrap(sentinel, err error) error {
	if client.IsErrConnectionFailed(err) && !errors.Is(sentinel, model.ErrRuntimeUnavailable) {
		return fmt.Errorf("%w: %w", model.ErrRuntimeUnavailable, err)
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
