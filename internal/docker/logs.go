package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/dcompose/workbench/internal/model"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// LogLine is a single line of container output. Text still carries the
// runtime timestamp prefix ("2024-01-01T00:00:00.000000000Z message").
type LogLine struct {
	Stream model.LogKind
	Text   string
}

// Logs streams the backlog and, with follow, every new line of the container
// output. The sequence ends when the stream closes, on the first error or
// when ctx is cancelled. Breaking out of the loop releases the stream.
func (c *Client) Logs(ctx context.Context, name string, follow bool) iter.Seq2[LogLine, error] {
	return func(yield func(LogLine, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		info, err := c.api.ContainerInspect(ctx, name)
		if err != nil {
			if client.IsErrNotFound(err) {
				err = fmt.Errorf("%s: %w", name, model.ErrContainerNotFound)
			} else {
				err = wrap(model.ErrStreamFailed, err)
			}
			yield(LogLine{}, err)
			return
		}
		tty := info.Config != nil && info.Config.Tty

		rc, err := c.api.ContainerLogs(ctx, name, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     follow,
			Timestamps: true,
		})
		if err != nil {
			yield(LogLine{}, wrap(model.ErrStreamFailed, err))
			return
		}

		lines := make(chan LogLine)
		errc := make(chan error, 1)
		go func() {
			defer close(lines)
			errc <- copyLines(ctx, rc, tty, lines)
		}()

		for line := range lines {
			if !yield(line, nil) {
				cancel()
				_ = rc.Close()
				for range lines {
				}
				return
			}
		}
		_ = rc.Close()
		if err := <-errc; err != nil && ctx.Err() == nil {
			yield(LogLine{}, wrap(model.ErrStreamFailed, err))
		}
	}
}

// copyLines splits r into lines and sends them to out. Non tty output is
// multiplexed with the stdcopy framing, tty output is plain stdout.
func copyLines(ctx context.Context, r io.Reader, tty bool, out chan<- LogLine) error {
	stdout := &lineWriter{ctx: ctx, stream: model.LogStdout, out: out}
	stderr := &lineWriter{ctx: ctx, stream: model.LogStderr, out: out}

	var err error
	if tty {
		_, err = io.Copy(stdout, bufio.NewReader(r))
	} else {
		_, err = stdcopy.StdCopy(stdout, stderr, r)
	}
	if errors.Is(err, io.EOF) {
		err = nil
	}
	if ferr := stdout.flush(); err == nil {
		err = ferr
	}
	if ferr := stderr.flush(); err == nil {
		err = ferr
	}
	return err
}

// lineWriter buffers partial writes and emits one LogLine per newline. Both
// writers of a stream share out, so lines keep the order of the frames.
type lineWriter struct {
	ctx    context.Context
	stream model.LogKind
	out    chan<- LogLine
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf[:i], "\r"))
		w.buf = w.buf[i+1:]
		if err := w.send(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *lineWriter) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	line := string(bytes.TrimRight(w.buf, "\r"))
	w.buf = nil
	return w.send(line)
}

func (w *lineWriter) send(line string) error {
	select {
	case w.out <- LogLine{Stream: w.stream, Text: line}:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}
