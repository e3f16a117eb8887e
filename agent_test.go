package mcpflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangxiaoyao391/MCP-Flow/chat"
	"github.com/zhangxiaoyao391/MCP-Flow/internal/usage"
	"github.com/zhangxiaoyao391/MCP-Flow/provider"
)

// fakeGen replays canned results; the last one repeats if the loop asks
// for more rounds than scripted.
type fakeGen struct {
	results  []provider.Result
	requests []provider.Request
}

func (f *fakeGen) Name() string { return "fake" }

func (f *fakeGen) Generate(_ context.Context, req provider.Request) provider.Result {
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i]
}

func (f *fakeGen) GenerateStream(ctx context.Context, req provider.Request) <-chan provider.Chunk {
	result := f.Generate(ctx, req)
	out := make(chan provider.Chunk, 4)
	// Split the text into two deltas to exercise fragment handling.
	if n := len(result.AssistantText); n > 1 {
		out <- provider.Chunk{Text: result.AssistantText[:n/2], Delta: true}
		out <- provider.Chunk{Text: result.AssistantText[n/2:], Delta: true}
	} else if n == 1 {
		out <- provider.Chunk{Text: result.AssistantText, Delta: true}
	}
	out <- provider.Chunk{
		Text:      result.AssistantText,
		ToolCalls: result.ToolCalls,
		Usage:     result.Usage,
	}
	close(out)
	return out
}

type fakeRouter struct {
	catalogue  []chat.FunctionDef
	dispatched []chat.ToolCall
	response   string
	stopped    bool
}

func (f *fakeRouter) Catalogue() []chat.FunctionDef { return f.catalogue }
func (f *fakeRouter) StopAll()                      { f.stopped = true }

func (f *fakeRouter) Dispatch(_ context.Context, call chat.ToolCall) chat.Message {
	f.dispatched = append(f.dispatched, call)
	return chat.ToolResult(call.ID, call.Function.Name, f.response)
}

func searchCall(id string) chat.ToolCall {
	return chat.ToolCall{
		ID:       id,
		Type:     "function",
		Function: chat.FunctionCall{Name: "web_search", Arguments: `{"query":"go"}`},
	}
}

func testAgent(gen provider.Provider, router toolRouter) *Agent {
	return &Agent{
		id:               "agt_test",
		gen:              gen,
		router:           router,
		cfg:              provider.Config{Provider: "openai", Model: "gpt-4o"},
		logger:           slog.Default(),
		tracker:          usage.NewTracker(nil),
		maxTurns:         DefaultMaxTurns,
		streamBufferSize: DefaultStreamBufferSize,
		conversation:     []chat.Message{chat.SystemMessage("You are a helpful assistant.")},
	}
}

func TestPromptToolLoop(t *testing.T) {
	gen := &fakeGen{results: []provider.Result{
		{AssistantText: "", ToolCalls: []chat.ToolCall{searchCall("call_1")}},
		{AssistantText: "Go is a programming language."},
	}}
	router := &fakeRouter{response: `{"hits":3}`}
	a := testAgent(gen, router)

	answer, err := a.Prompt(context.Background(), "what is go?")
	require.NoError(t, err)
	assert.Equal(t, "Go is a programming language.", answer)

	require.Len(t, router.dispatched, 1)
	assert.Equal(t, "web_search", router.dispatched[0].Function.Name)

	// system, user, assistant with tool call, tool result, final assistant.
	conversation := a.Conversation()
	require.Len(t, conversation, 5)
	assert.Equal(t, chat.RoleTool, conversation[3].Role)
	assert.Equal(t, "call_1", conversation[3].ToolCallID)

	// The second round must have seen the tool result.
	require.Len(t, gen.requests, 2)
	assert.Equal(t, chat.RoleTool, gen.requests[1].Conversation[3].Role)
}

func TestPromptStreamMatchesBuffered(t *testing.T) {
	results := []provider.Result{
		{ToolCalls: []chat.ToolCall{searchCall("call_1")}},
		{AssistantText: "Go is a programming language."},
	}
	router := &fakeRouter{response: `{"hits":3}`}

	buffered := testAgent(&fakeGen{results: results}, router)
	answer, err := buffered.Prompt(context.Background(), "what is go?")
	require.NoError(t, err)

	streamed := testAgent(&fakeGen{results: results}, &fakeRouter{response: `{"hits":3}`})
	stream := streamed.PromptStream(context.Background(), "what is go?")
	for stream.Next() {
	}
	require.NoError(t, stream.Err())

	assert.Equal(t, answer, stream.Text())
	assert.Equal(t, buffered.Conversation(), streamed.Conversation())
}

func TestPromptOneStep(t *testing.T) {
	gen := &fakeGen{results: []provider.Result{
		{ToolCalls: []chat.ToolCall{searchCall("call_1")}},
	}}
	router := &fakeRouter{response: `{"hits":3}`}
	a := testAgent(gen, router)

	_, err := a.Prompt(context.Background(), "search go", WithOneStep())
	require.NoError(t, err)

	// One generation round: the tool was dispatched but the model was not
	// asked to continue.
	assert.Len(t, gen.requests, 1)
	assert.Len(t, router.dispatched, 1)
	assert.Equal(t, chat.RoleTool, a.Conversation()[3].Role)
}

func TestProposeToolCalls(t *testing.T) {
	gen := &fakeGen{results: []provider.Result{
		{ToolCalls: []chat.ToolCall{searchCall("call_1")}},
	}}
	router := &fakeRouter{}
	a := testAgent(gen, router)

	calls, err := a.ProposeToolCalls(context.Background(), "search go")
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "web_search", calls[0].Function.Name)
	assert.Empty(t, router.dispatched, "proposed calls must not be dispatched")
}

func TestPromptUsageAccumulates(t *testing.T) {
	gen := &fakeGen{results: []provider.Result{
		{ToolCalls: []chat.ToolCall{searchCall("call_1")}, Usage: provider.Usage{InputTokens: 10, OutputTokens: 5}},
		{AssistantText: "done", Usage: provider.Usage{InputTokens: 20, OutputTokens: 7}},
	}}
	a := testAgent(gen, &fakeRouter{response: `{}`})

	_, err := a.Prompt(context.Background(), "search go")
	require.NoError(t, err)
	assert.Equal(t, usage.Counts{InputTokens: 30, OutputTokens: 12}, a.Usage())
}

func TestCleanup(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "messages.jsonl")
	gen := &fakeGen{results: []provider.Result{{AssistantText: "hi"}}}
	router := &fakeRouter{catalogue: []chat.FunctionDef{{Name: "web_search"}}}
	a := testAgent(gen, router)
	a.messageLogPath = logPath

	_, err := a.Prompt(context.Background(), "hello")
	require.NoError(t, err)

	require.NoError(t, a.Cleanup())
	require.NoError(t, a.Cleanup())
	assert.True(t, router.stopped)

	_, err = a.Prompt(context.Background(), "again")
	assert.ErrorIs(t, err, ErrClosed)

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var functions struct {
		Functions []chat.FunctionDef `json:"functions"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &functions))
	assert.Len(t, functions.Functions, 1)

	var messages struct {
		Messages []chat.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &messages))
	assert.Len(t, messages.Messages, 3)
}

func TestNewWithLocalToolsOnly(t *testing.T) {
	type echoInput struct {
		Text string `json:"text" jsonschema:"required,description=Text to echo"`
	}
	tool := NewLocalTool("echo", "Echo the input back",
		func(_ context.Context, in echoInput) (any, error) {
			return map[string]string{"echo": in.Text}, nil
		})

	a, err := New(context.Background(),
		WithProviderConfig(provider.Config{Provider: "groq", Model: "mixtral"}),
		WithLocalTools("local", tool),
	)
	require.NoError(t, err)
	defer a.Cleanup()

	defs := a.Catalogue()
	require.Len(t, defs, 1)
	assert.Equal(t, "local_echo", defs[0].Name)

	// Unknown backends surface as assistant text, never as an error.
	answer, err := a.Prompt(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Unsupported provider 'groq'", answer)
}
