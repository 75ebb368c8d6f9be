package model

import "fmt"

// WatchKey identifies a single service of a scene.
type WatchKey struct {
	Scene   string
	Service string
}

func (k WatchKey) String() string {
	return k.Scene + "/" + k.Service
}

// StatusChannel is the event channel status updates for k are emitted on.
func (k WatchKey) StatusChannel() string {
	return fmt.Sprintf("%s-%s-status-event", k.Scene, k.Service)
}

// LogChannel is the event channel log lines for k are emitted on.
func (k WatchKey) LogChannel() string {
	return fmt.Sprintf("%s-%s-log-event", k.Scene, k.Service)
}

type ServiceStatus string

const (
	StatusRunning ServiceStatus = "running"
	StatusPaused  ServiceStatus = "paused"
	StatusLoading ServiceStatus = "loading"
	StatusError   ServiceStatus = "error"
)

// StatusEvent is the payload of a status channel.
type StatusEvent struct {
	Status  ServiceStatus `json:"status"`
	Message *string       `json:"message"`
}

func NewStatusEvent(status ServiceStatus, msg string) StatusEvent {
	return StatusEvent{Status: status, Message: &msg}
}

func ErrorStatus(err error) StatusEvent {
	return NewStatusEvent(StatusError, err.Error())
}

// MessageOr returns the message or def when there is none.
func (e StatusEvent) MessageOr(def string) string {
	if e.Message == nil {
		return def
	}
	return *e.Message
}

type LogKind string

const (
	LogStdout LogKind = "stdout"
	LogStderr LogKind = "stderr"
)

// LogEvent is the payload of a log channel. Clear asks the subscriber to
// discard what it has shown so far.
type LogEvent struct {
	Text      string  `json:"text"`
	Timestamp string  `json:"timestamp"`
	Type      LogKind `json:"type"`
	Clear     bool    `json:"clear"`
}

// ScenesChangedChannel carries SceneChange events when the scenes directory
// changes on disk.
const ScenesChangedChannel = "scenes-changed"

type SceneChange struct {
	Scene string `json:"scene"`
}
