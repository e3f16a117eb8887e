package provider

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangxiaoyao391/MCP-Flow/chat"
)

func TestRateLimitInterval(t *testing.T) {
	assert.Equal(t, 15*time.Second, rateLimitInterval(Config{RateLimitSeconds: 15}))

	t.Setenv("ANTHROPIC_RATE_LIMIT_SECONDS", "30")
	assert.Equal(t, 30*time.Second, rateLimitInterval(Config{}))
	// Config wins over the environment.
	assert.Equal(t, 15*time.Second, rateLimitInterval(Config{RateLimitSeconds: 15}))

	t.Setenv("ANTHROPIC_RATE_LIMIT_SECONDS", "")
	assert.Equal(t, 60*time.Second, rateLimitInterval(Config{}))
}

func TestSplitConversation(t *testing.T) {
	conversation := []chat.Message{
		chat.SystemMessage("be brief"),
		chat.SystemMessage("cite sources"),
		chat.UserMessage("search for go"),
		{
			Role:    chat.RoleAssistant,
			Content: "Searching.",
			ToolCalls: []chat.ToolCall{
				{ID: "call_1", Type: "function", Function: chat.FunctionCall{Name: "web_search", Arguments: `{"query":"go"}`}},
				{ID: "call_2", Type: "function", Function: chat.FunctionCall{Name: "web_news", Arguments: `{}`}},
			},
		},
		chat.ToolResult("call_1", "web_search", `{"hits":3}`),
		chat.ToolResult("call_2", "web_news", `{"hits":0}`),
		chat.UserMessage("thanks"),
	}

	system, messages := splitConversation(conversation)
	assert.Equal(t, "be brief\n\ncite sources", system)

	// user, assistant, one merged tool-result turn, user.
	require.Len(t, messages, 4)
	assert.Len(t, messages[1].Content, 3)
	assert.Len(t, messages[2].Content, 2, "consecutive tool results merge into one turn")
}

func TestToAnthropicSchema(t *testing.T) {
	schema := toAnthropicSchema([]byte(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`))
	assert.NotNil(t, schema.Properties)
	assert.Equal(t, []string{"query"}, schema.Required)

	empty := toAnthropicSchema(nil)
	assert.Nil(t, empty.Properties)
}

func TestAnthropicMessageParams(t *testing.T) {
	temp := float32(0.5)
	p := newAnthropic(Config{
		Provider:       "anthropic",
		Model:          "claude-sonnet-4-0",
		APIKey:         "k",
		Temperature:    &temp,
		CachingEnabled: true,
	}, slog.Default())

	params := p.messageParams(Request{
		Conversation: []chat.Message{
			chat.SystemMessage("be brief"),
			chat.UserMessage("hi"),
		},
		Functions: []chat.FunctionDef{{Name: "web_search", Description: "Search", Parameters: []byte(`{"type":"object"}`)}},
	})

	assert.EqualValues(t, "claude-sonnet-4-0", params.Model)
	assert.EqualValues(t, defaultAnthropicMaxTokens, params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "be brief", params.System[0].Text)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "web_search", params.Tools[0].OfTool.Name)
	assert.True(t, params.Temperature.Valid())
}
