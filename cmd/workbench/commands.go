package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/dcompose/workbench/internal/app"
	"github.com/dcompose/workbench/internal/log"
	"github.com/dcompose/workbench/internal/model"
	"github.com/dcompose/workbench/internal/scene"
	"github.com/dcompose/workbench/internal/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the scene commands and live events over HTTP",
	Args:  cobra.NoArgs,
	RunE:  doServe,
}

var invokeCmd = &cobra.Command{
	Use:   "invoke <command> [json-args]",
	Short: "invoke a command on a running server and print its JSON result",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  doInvoke,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "follow live events of a running server",
}

var watchStatusCmd = &cobra.Command{
	Use:   "status <scene> [service]",
	Short: "follow the status of a service, or of every service of a scene",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  doWatchStatus,
}

var watchLogsCmd = &cobra.Command{
	Use:   "logs <scene> <service>",
	Short: "follow the logs of a service",
	Args:  cobra.ExactArgs(2),
	RunE:  doWatchLogs,
}

var sceneCmd = &cobra.Command{
	Use:   "scene",
	Short: "inspect the scenes directory",
}

var sceneListCmd = &cobra.Command{
	Use:   "list",
	Short: "list scenes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		scenes, err := store.List()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "NAME\tPATH")
		for _, s := range scenes {
			_, _ = fmt.Fprintf(tw, "%s\t%s\n", s.Name, s.Path)
		}
		return tw.Flush()
	},
}

var sceneServicesCmd = &cobra.Command{
	Use:   "services <scene>",
	Short: "list services reachable from a scene, including imported scenes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		services, err := store.Services(args[0])
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "SERVICE\tTYPE\tSCENE\tDEPENDS ON")
		for _, s := range services {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", s.ID, s.Type, s.SceneName, s.DependsOn)
		}
		return tw.Flush()
	},
}

func openStore() (*scene.Store, error) {
	dir, err := config.ScenesDir()
	if err != nil {
		return nil, err
	}
	return scene.NewStore(dir)
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	ctx = log.ContextAttrs(ctx, slog.Group("workbench",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	))

	a, err := app.New(config, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.WarnContext(ctx, "closing", "err", err)
		}
	}()
	durations, err := config.Watch.Durations()
	if err != nil {
		return err
	}

	srv := server.New(a, a.Bus)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, config.Server.Listen, durations.StopGrace)
	})
	g.Go(func() error {
		return a.Store.Notify(gctx, func(name string) {
			slog.DebugContext(gctx, "scene changed", "scene", name)
			if err := a.Bus.Emit(gctx, model.ScenesChangedChannel, model.SceneChange{Scene: name}); err != nil {
				slog.WarnContext(gctx, "emitting scene change", "err", err)
			}
		})
	})
	return g.Wait()
}

func client() (*server.Client, error) {
	url := flagServer
	if url == "" {
		url = "http://" + config.Server.Listen
	}
	return server.NewClient(url)
}

func doInvoke(cmd *cobra.Command, args []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	var body json.RawMessage
	if len(args) == 2 {
		body = json.RawMessage(args[1])
	}
	out, err := c.Invoke(cmd.Context(), args[0], body)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

type serviceRef struct {
	SceneName string `json:"sceneName"`
	ServiceID string `json:"serviceId,omitempty"`
}

func (r serviceRef) args() json.RawMessage {
	b, _ := json.Marshal(r)
	return b
}

// follow relays the events of channels to the command output until
// interrupted. The watcher is started after the streams are requested and
// stopped on the way out.
func follow(cmd *cobra.Command, c *server.Client, channels []string, start, stop string, ref serviceRef) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var (
		mx  sync.Mutex
		out = cmd.OutOrStdout()
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range channels {
		g.Go(func() error {
			for ev, err := range c.Events(gctx, ch) {
				if err != nil {
					return err
				}
				mx.Lock()
				_, _ = fmt.Fprintf(out, "%s %s\n", ev.Channel, ev.Payload)
				mx.Unlock()
			}
			return nil
		})
	}

	if _, err := c.Invoke(ctx, start, ref.args()); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	err := g.Wait()
	if _, stopErr := c.Invoke(context.WithoutCancel(cmd.Context()), stop, ref.args()); stopErr != nil {
		slog.WarnContext(cmd.Context(), "stopping watch", "err", stopErr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func doWatchStatus(cmd *cobra.Command, args []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	ref := serviceRef{SceneName: args[0]}
	if len(args) == 2 {
		ref.ServiceID = args[1]
		key := model.WatchKey{Scene: ref.SceneName, Service: ref.ServiceID}
		return follow(cmd, c, []string{key.StatusChannel()}, "start_emitting_service_status", "stop_emitting_service_status", ref)
	}

	raw, err := c.Invoke(cmd.Context(), "get_scene_services", ref.args())
	if err != nil {
		return err
	}
	var services []scene.Service
	if err := json.Unmarshal(raw, &services); err != nil {
		return fmt.Errorf("decoding services: %w", err)
	}
	channels := make([]string, 0, len(services))
	for _, s := range services {
		channels = append(channels, model.WatchKey{Scene: ref.SceneName, Service: s.ID}.StatusChannel())
	}
	return follow(cmd, c, channels, "start_emitting_scene_status", "stop_emitting_scene_status", ref)
}

func doWatchLogs(cmd *cobra.Command, args []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	ref := serviceRef{SceneName: args[0], ServiceID: args[1]}
	key := model.WatchKey{Scene: ref.SceneName, Service: ref.ServiceID}
	return follow(cmd, c, []string{key.LogChannel()}, "start_emitting_service_logs", "stop_emitting_service_logs", ref)
}
