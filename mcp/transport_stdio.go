package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// stdioWaitTimeout bounds each wait after a terminate or kill signal.
	stdioWaitTimeout = time.Second

	// maxFrameSize is the largest single JSON line the receive loop accepts.
	maxFrameSize = 1 << 20
)

// StdioTransport talks to a subprocess MCP server over its stdin/stdout
// with newline-delimited JSON frames. Lines that fail to decode (startup
// banners, stray prints) are discarded without being treated as fatal.
type StdioTransport struct {
	config ServerConfig
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	frames chan json.RawMessage
	waitCh chan error

	sendMu sync.Mutex

	// mu serializes Start/Stop so teardown is idempotent and safe under
	// concurrent invocation.
	mu      sync.Mutex
	started bool
	stopped bool
}

var _ Transport = (*StdioTransport)(nil)

// NewStdioTransport creates a transport for a subprocess server.
// Returns ErrInvalidConfig if Command is empty.
func NewStdioTransport(cfg ServerConfig) (*StdioTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: stdio transport requires command", ErrInvalidConfig)
	}
	return &StdioTransport{
		config: cfg,
		logger: slog.Default(),
		frames: make(chan json.RawMessage, 16),
		waitCh: make(chan error, 1),
	}, nil
}

// SetLogger replaces the transport's logger. Must be called before Start.
func (t *StdioTransport) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Start spawns the subprocess and launches the background receive loop.
func (t *StdioTransport) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}

	cmd := exec.Command(t.config.Command, expandHome(t.config.Args)...)
	cmd.Env = mergeEnv(os.Environ(), t.config.Env)
	cmd.Dir = t.config.Cwd

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mcp: start %s: %w", t.config.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.started = true

	go t.receiveLoop(stdout)
	go func() { t.waitCh <- cmd.Wait() }()
	return nil
}

// Send writes one frame followed by a newline to the subprocess's stdin.
func (t *StdioTransport) Send(_ context.Context, frame []byte) error {
	t.mu.Lock()
	if !t.started || t.stopped {
		t.mu.Unlock()
		return ErrNotStarted
	}
	stdin := t.stdin
	t.mu.Unlock()

	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if _, err := stdin.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("mcp: write frame: %w", err)
	}
	return nil
}

// Frames returns the inbound frame channel. Closed when the subprocess's
// stdout reaches EOF.
func (t *StdioTransport) Frames() <-chan json.RawMessage {
	return t.frames
}

// receiveLoop reads stdout line by line, decodes each line as JSON and
// delivers decoded frames. Undecodable lines are logged and dropped.
func (t *StdioTransport) receiveLoop(stdout io.Reader) {
	defer close(t.frames)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			t.logger.Debug("discarding non-JSON line from server",
				"command", t.config.Command, "line", string(line))
			continue
		}
		frame := make(json.RawMessage, len(line))
		copy(frame, line)
		t.frames <- frame
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("stdio receive loop ended", "error", err)
	}
}

// Stop tears the subprocess down: terminate signal, bounded wait, force
// kill, bounded wait, then give up and log. Idempotent; every step is
// best-effort and a failed step never prevents the next one.
func (t *StdioTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.stopped {
		return nil
	}
	t.stopped = true

	_ = t.stdin.Close()

	if t.cmd.Process != nil {
		_ = t.cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-t.waitCh:
		t.cmd = nil
		return nil
	case <-time.After(stdioWaitTimeout):
	}

	t.logger.Warn("force killing server process after timeout",
		"command", t.config.Command)
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	select {
	case <-t.waitCh:
	case <-time.After(stdioWaitTimeout):
		t.logger.Error("server process did not respond to SIGKILL",
			"command", t.config.Command)
	}
	t.cmd = nil
	return nil
}

// expandHome replaces a leading ~ in each argument with the user's home
// directory, matching what a shell would have done for the command line in
// the server config.
func expandHome(args []string) []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return args
	}
	expanded := make([]string, len(args))
	for i, a := range args {
		if a == "~" || strings.HasPrefix(a, "~/") {
			expanded[i] = home + strings.TrimPrefix(a, "~")
		} else {
			expanded[i] = a
		}
	}
	return expanded
}

// mergeEnv overlays extra variables onto the parent environment.
func mergeEnv(parent []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return parent
	}
	merged := make([]string, 0, len(parent)+len(extra))
	for _, kv := range parent {
		key := kv[:strings.IndexByte(kv, '=')+1]
		if _, ok := extra[strings.TrimSuffix(key, "=")]; !ok {
			merged = append(merged, kv)
		}
	}
	for k, v := range extra {
		merged = append(merged, k+"="+v)
	}
	return merged
}
