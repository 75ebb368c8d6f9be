package bridge_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dcompose/workbench/internal/bridge"
	"github.com/dcompose/workbench/internal/model"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, events <-chan bridge.Event) bridge.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
		return bridge.Event{}
	}
}

func TestBus(t *testing.T) {
	bus := bridge.NewBus(nil)
	t.Cleanup(func() { _ = bus.Close() })

	key := model.WatchKey{Scene: "shop", Service: "web"}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	events, err := bus.Subscribe(ctx, key.StatusChannel())
	require.NoError(t, err)

	// nobody listens on the log channel
	require.NoError(t, bus.Emit(ctx, key.LogChannel(), model.LogEvent{Text: "dropped"}))

	go func() {
		for i := range 20 {
			_ = bus.Emit(ctx, key.StatusChannel(), model.NewStatusEvent(model.StatusRunning, string(rune('a'+i))))
		}
		_ = bus.Emit(ctx, key.StatusChannel(), model.StatusEvent{Status: model.StatusPaused})
	}()

	for i := range 20 {
		ev := next(t, events)
		require.Equal(t, key.StatusChannel(), ev.Channel)
		require.NotEmpty(t, ev.ID)

		var got model.StatusEvent
		require.NoError(t, json.Unmarshal(ev.Payload, &got))
		require.Equal(t, model.StatusRunning, got.Status)
		require.Equal(t, string(rune('a'+i)), got.MessageOr(""), "events keep publish order")
	}

	ev := next(t, events)
	require.JSONEq(t, `{"status":"paused","message":null}`, string(ev.Payload))

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-events
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBus_payloads(t *testing.T) {
	bus := bridge.NewBus(nil)
	t.Cleanup(func() { _ = bus.Close() })

	events, err := bus.Subscribe(t.Context(), "shop-api-log-event")
	require.NoError(t, err)

	go func() {
		_ = bus.Emit(t.Context(), "shop-api-log-event", model.LogEvent{
			Text:      "hello world",
			Timestamp: "2024-01-01T00:00:00Z",
			Type:      model.LogStdout,
		})
	}()
	ev := next(t, events)
	require.JSONEq(t, `{"text":"hello world","timestamp":"2024-01-01T00:00:00Z","type":"stdout","clear":false}`, string(ev.Payload))
}

func TestBus_errors(t *testing.T) {
	bus := bridge.NewBus(nil)

	require.Error(t, bus.Emit(t.Context(), "bad", make(chan int)))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, bus.Emit(ctx, "shop-web-status-event", model.StatusEvent{Status: model.StatusRunning}), context.Canceled)

	require.NoError(t, bus.Close())
	require.Error(t, bus.Emit(t.Context(), "shop-web-status-event", model.StatusEvent{Status: model.StatusRunning}))
}

func TestBus_slowSubscriber(t *testing.T) {
	bus := bridge.NewBusWithQueue(nil, 4)
	t.Cleanup(func() { _ = bus.Close() })

	const channel = "shop-web-status-event"
	stalled, err := bus.Subscribe(t.Context(), channel)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 50 {
			_ = bus.Emit(t.Context(), channel, model.NewStatusEvent(model.StatusRunning, string(rune('a'+i))))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("emit waits on a subscriber that never reads")
	}

	// other channels keep working
	logs, err := bus.Subscribe(t.Context(), "shop-web-log-event")
	require.NoError(t, err)
	go func() {
		_ = bus.Emit(t.Context(), "shop-web-log-event", model.LogEvent{Text: "ready"})
	}()
	ev := next(t, logs)
	require.Equal(t, "shop-web-log-event", ev.Channel)

	// the stalled subscriber gets at most what fit in its queue, then is dropped
	var got int
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-stalled:
			if !ok {
				return true
			}
			got++
		default:
		}
		return false
	}, 5*time.Second, time.Millisecond)
	require.LessOrEqual(t, got, 5)
}
