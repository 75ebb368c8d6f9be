package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/dcompose/workbench/internal/bridge"
)

// Client talks to a running workbench server.
type Client struct {
	baseURL *url.URL
	client  *http.Client
}

func NewClient(serverURL string) (*Client, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")

	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path != "" {
		return nil, errors.New("please define the server url with a scheme and without path, e.g. `http://127.0.0.1:7456`")
	}

	return &Client{
		baseURL: parsedURL,
		client:  &http.Client{},
	}, nil
}

func (c *Client) url(path string) string {
	u := *c.baseURL
	u.Path = path
	return u.String()
}

// Invoke runs a command on the server and returns its JSON result.
func (c *Client) Invoke(ctx context.Context, command string, args json.RawMessage) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(invokePath+url.PathEscape(command)), bytes.NewReader(args))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeProblem(resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return bytes.TrimSpace(raw), nil
}

// Events follows the events of channel until ctx is done or the server
// closes the stream.
func (c *Client) Events(ctx context.Context, channel string) iter.Seq2[bridge.Event, error] {
	return func(yield func(bridge.Event, error) bool) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(eventsPath+url.PathEscape(channel)), nil)
		if err != nil {
			yield(bridge.Event{}, err)
			return
		}
		req.Header.Set("Accept", "text/event-stream")
		resp, err := c.client.Do(req)
		if err != nil {
			yield(bridge.Event{}, err)
			return
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			yield(bridge.Event{}, decodeProblem(resp))
			return
		}

		var ev bridge.Event
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), maxBody)
		for sc.Scan() {
			field, value, _ := strings.Cut(sc.Text(), ": ")
			switch field {
			case "id":
				ev.ID = value
			case "event":
				ev.Channel = value
			case "data":
				ev.Payload = json.RawMessage(value)
			case "":
				if ev.Payload == nil {
					continue
				}
				if !yield(ev, nil) {
					return
				}
				ev = bridge.Event{}
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			yield(bridge.Event{}, err)
		}
	}
}

func decodeProblem(resp *http.Response) error {
	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err == nil && contentType == problemType {
		var p Problem
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return fmt.Errorf("decoding problem response failed: %w", err)
		}
		return fmt.Errorf("status code: %d, detail: %s", resp.StatusCode, p.Detail)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(respBody))
}
