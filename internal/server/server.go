// Package server exposes the workbench commands and event channels over
// HTTP for the UI. Commands are invoked with a JSON body, events are
// streamed as server-sent events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dcompose/workbench/internal/app"
	"github.com/dcompose/workbench/internal/bridge"
	"github.com/dcompose/workbench/internal/compose"
	"github.com/dcompose/workbench/internal/log"
	"github.com/dcompose/workbench/internal/model"

	"github.com/google/uuid"
)

const (
	invokePath  = "/api/invoke/"
	eventsPath  = "/api/events/"
	problemType = "application/problem+json"
	maxBody     = 4 << 20
)

// Invoker runs named commands.
type Invoker interface {
	Invoke(ctx context.Context, name string, args json.RawMessage) (any, error)
	Commands() []string
}

// Subscriber streams the events of a channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan bridge.Event, error)
}

// Problem is the error body, see RFC 9457.
type Problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

type Server struct {
	invoker Invoker
	events  Subscriber
	mux     *http.ServeMux
}

func New(invoker Invoker, events Subscriber) *Server {
	s := &Server{
		invoker: invoker,
		events:  events,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /healthz", s.healthz)
	s.mux.HandleFunc("GET /api/commands", s.commands)
	s.mux.HandleFunc("POST "+invokePath+"{command}", s.invoke)
	s.mux.HandleFunc("GET "+eventsPath+"{channel}", s.stream)
	return s
}

// ServeHTTP tags the request context with a request id before routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("X-Request-Id")
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", id)
	ctx := log.ContextAttrs(r.Context(), slog.Group("http",
		slog.String("request_id", id),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	))
	s.mux.ServeHTTP(w, r.WithContext(ctx))
}

// ListenAndServe serves on addr until ctx is done, then shuts down giving
// in-flight requests grace to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errs := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "listening", "addr", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("serving %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) commands(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, s.invoker.Commands())
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("command")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeProblem(ctx, w, fmt.Errorf("%w: reading body: %w", model.ErrInvalidArgument, err))
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		writeProblem(ctx, w, fmt.Errorf("%w: body is not valid JSON", model.ErrInvalidArgument))
		return
	}

	start := time.Now()
	out, err := s.invoker.Invoke(ctx, name, body)
	if err != nil {
		slog.WarnContext(ctx, "command failed", "command", name, "err", err, "elapsed", time.Since(start))
		writeProblem(ctx, w, err)
		return
	}
	slog.DebugContext(ctx, "command done", "command", name, "elapsed", time.Since(start))
	writeJSON(ctx, w, http.StatusOK, out)
}

// stream relays the events of a channel until the client goes away.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channel := r.PathValue("channel")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(ctx, w, errors.New("streaming is not supported"))
		return
	}
	events, err := s.events.Subscribe(ctx, channel)
	if err != nil {
		writeProblem(ctx, w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	slog.DebugContext(ctx, "streaming events", "channel", channel)
	for ev := range events {
		if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Channel, ev.Payload); err != nil {
			slog.DebugContext(ctx, "event stream closed", "channel", channel, "err", err)
			return
		}
		flusher.Flush()
	}
}

// StatusCode maps an error to the HTTP status reported to the client.
func StatusCode(err error) int {
	var cmdErr *compose.CommandError
	switch {
	case errors.Is(err, model.ErrAlreadyWatching),
		errors.Is(err, model.ErrSceneExists),
		errors.Is(err, model.ErrServiceExists),
		errors.Is(err, compose.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotWatching),
		errors.Is(err, model.ErrSceneNotFound),
		errors.Is(err, model.ErrServiceNotFound),
		errors.Is(err, model.ErrContainerNotFound),
		errors.Is(err, app.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidArgument),
		errors.Is(err, model.ErrInvalidSceneName),
		errors.Is(err, model.ErrOverlappingServices),
		errors.Is(err, model.ErrCyclicInclude):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrRuntimeUnavailable),
		errors.Is(err, model.ErrInspectFailed),
		errors.Is(err, model.ErrStreamFailed),
		errors.As(err, &cmdErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeProblem(ctx context.Context, w http.ResponseWriter, err error) {
	code := StatusCode(err)
	w.Header().Set("Content-Type", problemType)
	w.WriteHeader(code)
	p := Problem{
		Title:  http.StatusText(code),
		Status: code,
		Detail: err.Error(),
	}
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.DebugContext(ctx, "writing problem", "err", err)
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.DebugContext(ctx, "writing response", "err", err)
	}
}
