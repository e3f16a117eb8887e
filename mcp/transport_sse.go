package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// sseEndpointTimeout bounds the wait for the server's endpoint event after
// the stream opens.
const sseEndpointTimeout = 10 * time.Second

// SSETransport talks to a remote MCP server over a server-sent event
// stream. Inbound frames arrive as "message" events on a long-lived GET;
// outbound frames are POSTed to the endpoint the server announces in its
// first "endpoint" event.
type SSETransport struct {
	config ServerConfig
	logger *slog.Logger
	client *http.Client

	frames chan json.RawMessage

	endpointOnce  sync.Once
	endpointReady chan struct{}
	endpoint      string

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
}

var _ Transport = (*SSETransport)(nil)

// NewSSETransport creates a transport for a remote event-stream server.
// Returns ErrInvalidConfig if URL is empty.
func NewSSETransport(cfg ServerConfig) (*SSETransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: sse transport requires url", ErrInvalidConfig)
	}
	return &SSETransport{
		config:        cfg,
		logger:        slog.Default(),
		client:        &http.Client{},
		frames:        make(chan json.RawMessage, 16),
		endpointReady: make(chan struct{}),
	}, nil
}

// SetLogger replaces the transport's logger. Must be called before Start.
func (t *SSETransport) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Start opens the event stream and launches the background receive loop.
// It blocks until the server announces its message endpoint so that the
// first Send has somewhere to go.
func (t *SSETransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.started = true
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.config.URL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp: sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp: sse connect %s: %w", t.config.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mcp: sse connect %s: status %d", t.config.URL, resp.StatusCode)
	}

	go t.receiveLoop(resp)

	select {
	case <-t.endpointReady:
		return nil
	case <-time.After(sseEndpointTimeout):
		t.Stop()
		return fmt.Errorf("mcp: sse connect %s: no endpoint event", t.config.URL)
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// Send POSTs one frame to the announced message endpoint.
func (t *SSETransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	if !t.started || t.stopped {
		t.mu.Unlock()
		return ErrNotStarted
	}
	t.mu.Unlock()

	select {
	case <-t.endpointReady:
	case <-ctx.Done():
		return ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("mcp: sse post: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("mcp: sse post: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mcp: sse post: status %d", resp.StatusCode)
	}
	return nil
}

// Frames returns the inbound frame channel. Closed when the event stream
// ends.
func (t *SSETransport) Frames() <-chan json.RawMessage {
	return t.frames
}

// receiveLoop parses the event stream. An "endpoint" event carries the
// message POST target (possibly relative to the stream URL); "message"
// events carry JSON-RPC frames.
func (t *SSETransport) receiveLoop(resp *http.Response) {
	defer close(t.frames)
	defer resp.Body.Close()

	var event, data string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			t.handleEvent(event, data)
			event, data = "", ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data != "" {
				data += "\n"
			}
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("sse receive loop ended", "url", t.config.URL, "error", err)
	}
}

func (t *SSETransport) handleEvent(event, data string) {
	switch event {
	case "endpoint":
		t.endpointOnce.Do(func() {
			t.endpoint = t.resolveEndpoint(data)
			close(t.endpointReady)
		})
	case "message":
		raw := []byte(data)
		if !json.Valid(raw) {
			t.logger.Debug("discarding non-JSON message event", "url", t.config.URL)
			return
		}
		t.frames <- json.RawMessage(raw)
	}
}

// resolveEndpoint makes the announced endpoint absolute against the stream
// URL.
func (t *SSETransport) resolveEndpoint(raw string) string {
	base, err := url.Parse(t.config.URL)
	if err != nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}

// Stop closes the event stream. Idempotent and safe to call concurrently.
func (t *SSETransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.stopped {
		return nil
	}
	t.stopped = true
	t.cancel()
	return nil
}
