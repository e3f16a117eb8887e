package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFrame(t *testing.T, frames <-chan json.RawMessage) json.RawMessage {
	t.Helper()
	select {
	case frame, ok := <-frames:
		require.True(t, ok, "frame channel closed early")
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestNewStdioTransportRequiresCommand(t *testing.T) {
	_, err := NewStdioTransport(ServerConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewTransportSelectsByShape(t *testing.T) {
	stdio, err := NewTransport(ServerConfig{Command: "cat"})
	require.NoError(t, err)
	assert.IsType(t, &StdioTransport{}, stdio)

	sse, err := NewTransport(ServerConfig{URL: "http://localhost:9000/sse"})
	require.NoError(t, err)
	assert.IsType(t, &SSETransport{}, sse)

	_, err = NewTransport(ServerConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStdioTransportSkipsBannerLines(t *testing.T) {
	tr, err := NewStdioTransport(ServerConfig{
		Command: "sh",
		Args:    []string{"-c", `echo "server v1.2 starting"; printf '{"jsonrpc":"2.0","id":1,"result":{}}\n'`},
	})
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	frame := readFrame(t, tr.Frames())
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, string(frame))
}

func TestStdioTransportRoundTrip(t *testing.T) {
	tr, err := NewStdioTransport(ServerConfig{Command: "cat"})
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	sent := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	require.NoError(t, tr.Send(context.Background(), sent))

	frame := readFrame(t, tr.Frames())
	assert.JSONEq(t, string(sent), string(frame))
}

func TestStdioTransportFramesClosedAfterExit(t *testing.T) {
	tr, err := NewStdioTransport(ServerConfig{
		Command: "sh",
		Args:    []string{"-c", `printf '{"a":1}\n'`},
	})
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	readFrame(t, tr.Frames())

	select {
	case _, ok := <-tr.Frames():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("frame channel not closed after process exit")
	}
}

func TestStdioTransportStopIdempotent(t *testing.T) {
	tr, err := NewStdioTransport(ServerConfig{Command: "cat"})
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tr.Stop())
		}()
	}
	wg.Wait()
	assert.NoError(t, tr.Stop())

	assert.ErrorIs(t, tr.Send(context.Background(), []byte(`{}`)), ErrNotStarted)
}

func TestStdioTransportSendBeforeStart(t *testing.T) {
	tr, err := NewStdioTransport(ServerConfig{Command: "cat"})
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Send(context.Background(), []byte(`{}`)), ErrNotStarted)
}

func TestStdioTransportMergesEnv(t *testing.T) {
	tr, err := NewStdioTransport(ServerConfig{
		Command: "sh",
		Args:    []string{"-c", `printf '{"key":"%s"}\n' "$API_KEY"`},
		Env:     map[string]string{"API_KEY": "secret"},
	})
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	frame := readFrame(t, tr.Frames())
	assert.JSONEq(t, `{"key":"secret"}`, string(frame))
}
