package watch

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/araddon/dateparse"

	"github.com/dcompose/workbench/internal/model"
)

const msgContainerNotFound = "container not found"

// ParseLine splits a runtime log line at its first whitespace into the
// leading timestamp and the text. The timestamp is normalized to RFC 3339 in
// UTC. A line without whitespace has an empty timestamp and is returned
// whole. So is a line whose first word dateparse rejects: such text keeps
// its first word rather than being guessed at.
func ParseLine(line string) (timestamp, text string) {
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return "", line
	}
	t, err := dateparse.ParseStrict(line[:i])
	if err != nil {
		return "", line
	}
	_, size := utf8.DecodeRuneInString(line[i:])
	return t.UTC().Format(time.RFC3339Nano), line[i+size:]
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func clearEvent(text string) model.LogEvent {
	return model.LogEvent{
		Text:      text,
		Timestamp: now(),
		Type:      model.LogStderr,
		Clear:     true,
	}
}

// logLoop waits for the container of key, then follows its logs until the
// stream ends, fails or ctx is done. It does not restart.
func (s *Supervisor) logLoop(ctx context.Context, key model.WatchKey) {
	channel := key.LogChannel()
	slog.DebugContext(ctx, "log watch started")
	defer slog.DebugContext(ctx, "log watch stopped")

	var name string
	for {
		n, ok, err := s.rt.ResolveContainer(ctx, s.project(key.Scene), key.Service)
		if ctx.Err() != nil {
			return
		}
		if ok {
			name = n
			break
		}
		text := msgContainerNotFound
		if err != nil {
			text = "Could not retrieve service logs: " + err.Error()
		}
		s.emit(ctx, channel, clearEvent(text))
		if !sleep(ctx, s.opts.ResolveInterval) {
			return
		}
	}

	for line, err := range s.rt.Logs(ctx, name, true) {
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.WarnContext(ctx, "log stream interrupted", "container", name, "err", err)
			s.emit(ctx, channel, clearEvent("Log stream interrupted: "+err.Error()))
			return
		}
		ts, text := ParseLine(line.Text)
		s.emit(ctx, channel, model.LogEvent{
			Text:      text,
			Timestamp: ts,
			Type:      line.Stream,
		})
	}
	if ctx.Err() != nil {
		return
	}
	s.emit(ctx, channel, model.LogEvent{
		Text:      "log stream ended",
		Timestamp: now(),
		Type:      model.LogStderr,
	})
}
