package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dcompose/workbench/internal/app"
	"github.com/dcompose/workbench/internal/bridge"
	"github.com/dcompose/workbench/internal/compose"
	"github.com/dcompose/workbench/internal/model"
	"github.com/dcompose/workbench/internal/server"
	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	mx   sync.Mutex
	args map[string]string
}

func (f *fakeInvoker) Invoke(_ context.Context, name string, args json.RawMessage) (any, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.args == nil {
		f.args = make(map[string]string)
	}
	f.args[name] = string(args)
	switch name {
	case "get_scenes":
		return []map[string]string{{"name": "shop"}}, nil
	case "get_service":
		return nil, fmt.Errorf("web: %w", model.ErrServiceNotFound)
	case "run_scene":
		return nil, &compose.CommandError{Args: []string{"docker", "compose", "up"}, ExitCode: 1, Output: "no such image"}
	default:
		return nil, fmt.Errorf("%w: %s", app.ErrUnknownCommand, name)
	}
}

func (f *fakeInvoker) Commands() []string {
	return []string{"get_scenes", "get_service", "run_scene"}
}

func newServer(t *testing.T) (*server.Client, *fakeInvoker, *bridge.Bus, *httptest.Server) {
	t.Helper()
	inv := &fakeInvoker{}
	bus := bridge.NewBus(nil)
	srv := httptest.NewServer(server.New(inv, bus))
	t.Cleanup(func() {
		srv.Close()
		_ = bus.Close()
	})
	c, err := server.NewClient(srv.URL)
	require.NoError(t, err)
	return c, inv, bus, srv
}

func TestInvoke(t *testing.T) {
	c, inv, _, srv := newServer(t)

	out, err := c.Invoke(t.Context(), "get_scenes", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.JSONEq(t, `[{"name":"shop"}]`, string(out))
	require.Equal(t, `{}`, inv.args["get_scenes"])

	_, err = c.Invoke(t.Context(), "get_service", json.RawMessage(`{"sceneName":"shop","serviceId":"web"}`))
	require.EqualError(t, err, "status code: 404, detail: web: service not found")

	_, err = c.Invoke(t.Context(), "run_scene", nil)
	require.ErrorContains(t, err, "status code: 502")
	require.ErrorContains(t, err, "no such image")

	_, err = c.Invoke(t.Context(), "launch_rockets", nil)
	require.ErrorContains(t, err, "status code: 404")

	resp, err := http.Post(srv.URL+"/api/invoke/get_scenes", "application/json", strings.NewReader(`{"sceneName":`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	var p server.Problem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	require.Equal(t, http.StatusBadRequest, p.Status)
}

func TestRoutes(t *testing.T) {
	_, _, _, srv := newServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/commands", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req-1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "req-1", resp.Header.Get("X-Request-Id"))
	var names []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&names))
	require.Equal(t, []string{"get_scenes", "get_service", "run_scene"}, names)

	resp, err = http.Get(srv.URL + "/api/invoke/get_scenes")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEvents(t *testing.T) {
	c, _, bus, _ := newServer(t)
	key := model.WatchKey{Scene: "shop", Service: "web"}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	// events published before the stream subscribes are dropped, keep emitting
	go func() {
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			_ = bus.Emit(ctx, key.StatusChannel(), model.NewStatusEvent(model.StatusRunning, fmt.Sprint(i)))
		}
	}()

	var got []bridge.Event
	for ev, err := range c.Events(ctx, key.StatusChannel()) {
		require.NoError(t, err)
		got = append(got, ev)
		if len(got) == 3 {
			break
		}
	}
	cancel()

	require.Len(t, got, 3)
	var prev int
	for i, ev := range got {
		require.Equal(t, key.StatusChannel(), ev.Channel)
		require.NotEmpty(t, ev.ID)
		var st model.StatusEvent
		require.NoError(t, json.Unmarshal(ev.Payload, &st))
		require.Equal(t, model.StatusRunning, st.Status)
		var n int
		_, err := fmt.Sscan(st.MessageOr(""), &n)
		require.NoError(t, err)
		if i > 0 {
			require.Equal(t, prev+1, n, "events arrive in order")
		}
		prev = n
	}
}

func TestStatusCode(t *testing.T) {
	var testCases = []struct {
		scenario string
		given    error
		then     int
	}{
		{"already watching", model.ErrAlreadyWatching, http.StatusConflict},
		{"in progress", fmt.Errorf("shop: %w", compose.ErrInProgress), http.StatusConflict},
		{"not watching", model.ErrNotWatching, http.StatusNotFound},
		{"scene not found", fmt.Errorf("x: %w", model.ErrSceneNotFound), http.StatusNotFound},
		{"unknown command", app.ErrUnknownCommand, http.StatusNotFound},
		{"cyclic", model.ErrCyclicInclude, http.StatusBadRequest},
		{"overlap", model.ErrOverlappingServices, http.StatusBadRequest},
		{"runtime", model.ErrRuntimeUnavailable, http.StatusBadGateway},
		{"compose exit", &compose.CommandError{ExitCode: 1}, http.StatusBadGateway},
		{"other", context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			require.Equal(t, tt.then, server.StatusCode(tt.given))
		})
	}
}

func TestNewClient(t *testing.T) {
	_, err := server.NewClient("127.0.0.1:7456")
	require.Error(t, err)
	_, err = server.NewClient("http://127.0.0.1:7456/api")
	require.Error(t, err)
	_, err = server.NewClient("http://127.0.0.1:7456/")
	require.NoError(t, err)
}
