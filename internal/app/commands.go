package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dcompose/workbench/internal/compose"
	"github.com/dcompose/workbench/internal/manifest"
	"github.com/dcompose/workbench/internal/model"
	"github.com/dcompose/workbench/internal/parallel"
	"github.com/dcompose/workbench/internal/scene"
)

const statusConcurrency = 8

type sceneArgs struct {
	SceneName string `json:"sceneName"`
}

type serviceArgs struct {
	SceneName string `json:"sceneName"`
	ServiceID string `json:"serviceId"`
}

func (a serviceArgs) key() model.WatchKey {
	return model.WatchKey{Scene: a.SceneName, Service: a.ServiceID}
}

type includeArgs struct {
	SceneName         string `json:"sceneName"`
	IncludedSceneName string `json:"includedSceneName"`
}

type serviceCodeArgs struct {
	SceneName     string `json:"sceneName"`
	ServiceID     string `json:"serviceId"`
	PrevServiceID string `json:"prevServiceId"`
	Code          string `json:"code"`
}

type dependencyArgs struct {
	SceneName string             `json:"sceneName"`
	TargetID  string             `json:"targetId"`
	SourceID  string             `json:"sourceId"`
	Condition manifest.Condition `json:"condition"`
}

// command decodes the arguments strictly before calling fn.
func command[A any](fn func(ctx context.Context, args A) (any, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args A
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&args); err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrInvalidArgument, err)
		}
		return fn(ctx, args)
	}
}

func done(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func output(res compose.Result, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]string{"output": res.Output}, nil
}

func (a *App) registerCommands() map[string]Handler {
	return map[string]Handler{
		// scenes
		"get_scenes": command(func(context.Context, struct{}) (any, error) {
			scenes, err := a.Store.List()
			if scenes == nil {
				scenes = []scene.Scene{}
			}
			return scenes, err
		}),
		"create_scene": command(func(_ context.Context, args sceneArgs) (any, error) {
			return a.Store.Create(args.SceneName)
		}),
		"delete_scene": command(func(ctx context.Context, args sceneArgs) (any, error) {
			if err := a.Supervisor.StopSceneStatus(ctx, args.SceneName); err == nil {
				slog.InfoContext(ctx, "stopped scene status watch of deleted scene", "scene", args.SceneName)
			}
			return done(a.Store.Delete(args.SceneName))
		}),
		"get_included_scenes": command(func(_ context.Context, args sceneArgs) (any, error) {
			scenes, err := a.Store.Included(args.SceneName)
			if scenes == nil {
				scenes = []scene.Scene{}
			}
			return scenes, err
		}),
		"import_scene": command(func(_ context.Context, args includeArgs) (any, error) {
			return done(a.Store.Import(args.SceneName, args.IncludedSceneName))
		}),
		"detach_scene": command(func(_ context.Context, args includeArgs) (any, error) {
			return done(a.Store.Detach(args.SceneName, args.IncludedSceneName))
		}),
		"get_scene_services": command(func(_ context.Context, args sceneArgs) (any, error) {
			services, err := a.Store.Services(args.SceneName)
			if services == nil {
				services = []scene.Service{}
			}
			return services, err
		}),
		"get_scene_status":     command(a.sceneStatus),
		"get_scene_containers": command(a.sceneContainers),
		"run_scene": command(func(ctx context.Context, args sceneArgs) (any, error) {
			return output(a.compose.Up(ctx, args.SceneName, ""))
		}),
		"stop_scene": command(func(ctx context.Context, args sceneArgs) (any, error) {
			return output(a.compose.Down(ctx, args.SceneName, ""))
		}),

		// services
		"get_service": command(func(_ context.Context, args serviceArgs) (any, error) {
			return a.Store.ServiceCode(args.SceneName, args.ServiceID)
		}),
		"create_service": command(func(_ context.Context, args serviceCodeArgs) (any, error) {
			return done(a.Store.CreateService(args.SceneName, args.ServiceID, args.Code))
		}),
		"update_service": command(func(_ context.Context, args serviceCodeArgs) (any, error) {
			prev := args.PrevServiceID
			if prev == "" {
				prev = args.ServiceID
			}
			return done(a.Store.UpdateService(args.SceneName, args.ServiceID, prev, args.Code))
		}),
		"delete_service": command(func(_ context.Context, args serviceArgs) (any, error) {
			return done(a.Store.DeleteService(args.SceneName, args.ServiceID))
		}),
		"get_service_assets": command(func(_ context.Context, args serviceArgs) (any, error) {
			return a.Store.Assets(args.SceneName, args.ServiceID)
		}),
		"run_service": command(func(ctx context.Context, args serviceArgs) (any, error) {
			return output(a.compose.Up(ctx, args.SceneName, args.ServiceID))
		}),
		"stop_service": command(func(ctx context.Context, args serviceArgs) (any, error) {
			return output(a.compose.Down(ctx, args.SceneName, args.ServiceID))
		}),

		// dependencies
		"create_dependency": command(func(_ context.Context, args dependencyArgs) (any, error) {
			return done(a.Store.AddDependency(args.SceneName, args.TargetID, args.SourceID))
		}),
		"delete_dependency": command(func(_ context.Context, args dependencyArgs) (any, error) {
			return done(a.Store.RemoveDependency(args.SceneName, args.TargetID, args.SourceID))
		}),
		"set_dependency_condition": command(func(_ context.Context, args dependencyArgs) (any, error) {
			return done(a.Store.SetDependencyCondition(args.SceneName, args.TargetID, args.SourceID, args.Condition))
		}),

		// watchers
		"start_emitting_service_status": command(func(ctx context.Context, args serviceArgs) (any, error) {
			return done(a.Supervisor.StartServiceStatus(ctx, args.key()))
		}),
		"stop_emitting_service_status": command(func(ctx context.Context, args serviceArgs) (any, error) {
			return done(a.Supervisor.StopServiceStatus(ctx, args.key()))
		}),
		"start_emitting_scene_status": command(func(ctx context.Context, args sceneArgs) (any, error) {
			return done(a.Supervisor.StartSceneStatus(ctx, args.SceneName))
		}),
		"stop_emitting_scene_status": command(func(ctx context.Context, args sceneArgs) (any, error) {
			return done(a.Supervisor.StopSceneStatus(ctx, args.SceneName))
		}),
		"start_emitting_service_logs": command(func(ctx context.Context, args serviceArgs) (any, error) {
			return done(a.Supervisor.StartServiceLogs(ctx, args.key()))
		}),
		"stop_emitting_service_logs": command(func(ctx context.Context, args serviceArgs) (any, error) {
			return done(a.Supervisor.StopServiceLogs(ctx, args.key()))
		}),
	}
}

// sceneStatus classifies every service of the scene once, concurrently.
func (a *App) sceneStatus(ctx context.Context, args sceneArgs) (any, error) {
	ids, err := a.Store.ServiceIDs(args.SceneName)
	if err != nil {
		return nil, err
	}
	return parallel.Map(ctx, statusConcurrency, ids, func(ctx context.Context, id string) (model.StatusEvent, error) {
		ev, _ := a.Supervisor.Status(ctx, model.WatchKey{Scene: args.SceneName, Service: id})
		return ev, nil
	})
}

func (a *App) sceneContainers(ctx context.Context, args sceneArgs) (any, error) {
	if _, err := a.Store.Manifest(args.SceneName); err != nil {
		return nil, err
	}
	return a.runtime.ListProject(ctx, compose.ProjectName(args.SceneName))
}
