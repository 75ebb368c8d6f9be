package watch_test

import (
	"testing"
	"time"

	"github.com/dcompose/workbench/internal/bridge"
	"github.com/dcompose/workbench/internal/docker"
	"github.com/dcompose/workbench/internal/model"
	"github.com/dcompose/workbench/internal/watch"
	"github.com/stretchr/testify/require"
)

func TestStatusWatch_subscriberNeverReads(t *testing.T) {
	rt := newFakeRuntime()
	rt.setContainer("shop", "web", "shop-web-1", docker.ContainerState{Status: docker.StatusRunning})
	bus := bridge.NewBusWithQueue(nil, 2)
	t.Cleanup(func() { _ = bus.Close() })
	s := watch.NewSupervisor(rt, bus, nil, watch.Options{StatusInterval: time.Millisecond})
	t.Cleanup(s.Close)

	key := model.WatchKey{Scene: "shop", Service: "web"}
	_, err := bus.Subscribe(t.Context(), key.StatusChannel())
	require.NoError(t, err)
	require.NoError(t, s.StartServiceStatus(t.Context(), key))
	require.Eventually(t, func() bool {
		rt.mx.Lock()
		defer rt.mx.Unlock()
		return rt.inspects > 10
	}, 5*time.Second, time.Millisecond, "the watcher outruns the subscriber")

	// the bus stays usable for other channels
	logs, err := bus.Subscribe(t.Context(), key.LogChannel())
	require.NoError(t, err)
	go func() {
		_ = bus.Emit(t.Context(), key.LogChannel(), model.LogEvent{Text: "ready"})
	}()
	select {
	case ev := <-logs:
		require.Equal(t, key.LogChannel(), ev.Channel)
	case <-time.After(5 * time.Second):
		t.Fatal("no log event")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- s.StopServiceStatus(t.Context(), key) }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stop waits on the subscriber")
	}
}
