package watch

import (
	"context"
	"sync"
	"time"

	"vawter.tech/stopper"
)

type handleState int

const (
	handleIdle handleState = iota
	handleRunning
	handleStopped
)

// Handle owns a single background task. It is created idle, started once
// and cancelled once; further calls are no-ops.
type Handle struct {
	name  string
	task  func(ctx context.Context)
	grace time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mx    sync.Mutex
	state handleState
	sctx  *stopper.Context
}

func newHandle(parent context.Context, name string, grace time.Duration, task func(ctx context.Context)) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		name:   name,
		task:   task,
		grace:  grace,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (h *Handle) String() string {
	return h.name
}

// start runs the task in a goroutine tracked by a stopper context.
func (h *Handle) start() {
	h.mx.Lock()
	defer h.mx.Unlock()
	if h.state != handleIdle {
		return
	}
	h.state = handleRunning
	h.sctx = stopper.WithContext(h.ctx)
	h.sctx.Go(func(*stopper.Context) error {
		defer close(h.done)
		h.task(h.ctx)
		return nil
	})
}

// stop signals the task to end. It does not wait.
func (h *Handle) stop() {
	h.mx.Lock()
	prev := h.state
	h.state = handleStopped
	sctx := h.sctx
	h.mx.Unlock()

	switch prev {
	case handleIdle:
		h.cancel()
		close(h.done)
	case handleRunning:
		h.cancel()
		sctx.Stop(h.grace)
	}
}

// wait blocks until the task returned.
func (h *Handle) wait() {
	<-h.done
	h.mx.Lock()
	sctx := h.sctx
	h.mx.Unlock()
	if sctx != nil {
		_ = sctx.Wait()
	}
}

// Done is closed once the task returned, on its own or after stop.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// stopAll signals every handle first and then waits for all of them, so
// the grace periods overlap.
func stopAll(handles []*Handle) {
	for _, h := range handles {
		h.stop()
	}
	for _, h := range handles {
		h.wait()
	}
}
