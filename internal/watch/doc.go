// Package watch observes container status and logs of scene services and
// emits what it sees as named events.
//
// Overview
// The Supervisor is the entry point. Each start request creates a Handle
// wrapping one background task, reserves it in the Registry and only then
// starts it. Only one active task per key may exist in a table; a second
// start returns model.ErrAlreadyWatching. Stop requests remove the handle
// from the Registry, then cancel it and wait for the task to unwind outside
// of the registry lock.
//
// Tables:
//   - status:  WatchKey -> Handle, single service status (1s interval)
//   - logs:    WatchKey -> Handle, single service log stream
//   - scenes:  scene    -> []Handle, one status task per scene service (3s)
//
// A status task never ends on its own. Every round it resolves the compose
// container, inspects it, classifies the state and emits a StatusEvent.
// Runtime failures become error events and the loop continues.
//
// A log task waits for the container, then follows its log stream until the
// stream fails or ends, which terminates the task. The handle stays in the
// Registry until stopped; a new start replaces such a finished handle.
//
// Data flow:
//
//   Supervisor          Registry            Handle{task}          Runtime / Emitter
//       |                  |                    |                       |
//   start -> newHandle --->| Register           |                       |
//       | start() -------------------------->   | go task(ctx)          |
//       |                  |                    | Resolve/Inspect ----->|
//       |                  |                    | Emit(ctx, channel) -->|
//   stop -> CancelAndUnregister --> cancel() -->| ctx.Done, return      |
//       |                  |<------ wait -------|                       |
//
// Invariants:
//   - At most one active handle per (table, key).
//   - Events of one task are emitted in order, by that task only.
//   - No event is emitted once Stop returned.
//   - Emission failures are logged and never stop a task.
package watch
