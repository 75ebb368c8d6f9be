package watch

import (
	"fmt"
	"sync"

	"github.com/dcompose/workbench/internal/model"
)

// Table selects one of the per service handle tables.
type Table int

const (
	StatusTable Table = iota
	LogTable
)

func (t Table) String() string {
	switch t {
	case StatusTable:
		return "status"
	case LogTable:
		return "logs"
	default:
		return fmt.Sprintf("table(%d)", int(t))
	}
}

// Registry holds the handles of running watchers. The mutex only guards the
// maps; handles are stopped and waited for after it is released.
type Registry struct {
	mx     sync.Mutex
	status map[model.WatchKey]*Handle
	logs   map[model.WatchKey]*Handle
	scenes map[string][]*Handle
}

func NewRegistry() *Registry {
	return &Registry{
		status: make(map[model.WatchKey]*Handle),
		logs:   make(map[model.WatchKey]*Handle),
		scenes: make(map[string][]*Handle),
	}
}

func (r *Registry) table(t Table) map[model.WatchKey]*Handle {
	if t == LogTable {
		return r.logs
	}
	return r.status
}

// Register stores h under key. An active handle already stored there is
// kept and model.ErrAlreadyWatching returned; a handle whose task has
// already returned is replaced.
func (r *Registry) Register(t Table, key model.WatchKey, h *Handle) error {
	r.mx.Lock()
	m := r.table(t)
	prev, ok := m[key]
	if ok && !prev.finished() {
		r.mx.Unlock()
		return fmt.Errorf("%s %s: %w", t, key, model.ErrAlreadyWatching)
	}
	m[key] = h
	r.mx.Unlock()

	if ok {
		stopAll([]*Handle{prev})
	}
	return nil
}

// Unregister removes and returns the handle stored under key without
// stopping it.
func (r *Registry) Unregister(t Table, key model.WatchKey) (*Handle, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	m := r.table(t)
	h, ok := m[key]
	if ok {
		delete(m, key)
	}
	return h, ok
}

// CancelAndUnregister removes the handle stored under key, then stops it and
// waits for its task to return.
func (r *Registry) CancelAndUnregister(t Table, key model.WatchKey) error {
	h, ok := r.Unregister(t, key)
	if !ok {
		return fmt.Errorf("%s %s: %w", t, key, model.ErrNotWatching)
	}
	stopAll([]*Handle{h})
	return nil
}

// RegisterBatch stores the handles of a scene watch. A non-empty batch whose
// tasks have all returned is replaced. An empty batch stays registered until
// it is cancelled.
func (r *Registry) RegisterBatch(scene string, handles []*Handle) error {
	r.mx.Lock()
	prev, ok := r.scenes[scene]
	if ok && !allFinished(prev) {
		r.mx.Unlock()
		return fmt.Errorf("scene %s: %w", scene, model.ErrAlreadyWatching)
	}
	r.scenes[scene] = handles
	r.mx.Unlock()

	if ok {
		stopAll(prev)
	}
	return nil
}

func allFinished(handles []*Handle) bool {
	if len(handles) == 0 {
		return false
	}
	for _, h := range handles {
		if !h.finished() {
			return false
		}
	}
	return true
}

// CancelAndUnregisterBatch removes the handles of a scene watch, then stops
// all of them. Tasks that already returned on their own are fine.
func (r *Registry) CancelAndUnregisterBatch(scene string) error {
	r.mx.Lock()
	handles, ok := r.scenes[scene]
	delete(r.scenes, scene)
	r.mx.Unlock()

	if !ok {
		return fmt.Errorf("scene %s: %w", scene, model.ErrNotWatching)
	}
	stopAll(handles)
	return nil
}

// Keys lists the keys of table t, in no particular order.
func (r *Registry) Keys(t Table) []model.WatchKey {
	r.mx.Lock()
	defer r.mx.Unlock()
	m := r.table(t)
	out := make([]model.WatchKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Scenes lists the scenes with a registered batch.
func (r *Registry) Scenes() []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	out := make([]string, 0, len(r.scenes))
	for s := range r.scenes {
		out = append(out, s)
	}
	return out
}

// Close empties every table and stops all handles.
func (r *Registry) Close() {
	r.mx.Lock()
	var all []*Handle
	for _, h := range r.status {
		all = append(all, h)
	}
	for _, h := range r.logs {
		all = append(all, h)
	}
	for _, hs := range r.scenes {
		all = append(all, hs...)
	}
	r.status = make(map[model.WatchKey]*Handle)
	r.logs = make(map[model.WatchKey]*Handle)
	r.scenes = make(map[string][]*Handle)
	r.mx.Unlock()

	stopAll(all)
}
