package claude

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestConvertOpenAIRequestToClaudeBasics(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"max_tokens": 256,
		"temperature": 0.2,
		"stop": ["END"],
		"messages": [
			{"role": "system", "content": "sys one"},
			{"role": "system", "content": [{"type": "text", "text": "sys two"}]},
			{"role": "user", "content": [
				{"type": "text", "text": "look at this"},
				{"type": "image_url", "image_url": {"url": "data:image/jpeg;base64,Zm9v"}},
				{"type": "image_url", "image_url": {"url": "https://example.com/cat.png"}}
			]}
		]
	}`)

	out := gjson.ParseBytes(ConvertOpenAIRequestToClaude("gemini-3-flash", body, true))

	assert.Equal(t, "gemini-3-flash", out.Get("model").String())
	assert.True(t, out.Get("stream").Bool())
	assert.Equal(t, "sys one\nsys two", out.Get("system").String())
	assert.Equal(t, int64(256), out.Get("max_tokens").Int())
	assert.Equal(t, "END", out.Get("stop_sequences.0").String())

	blocks := out.Get("messages.0.content").Array()
	assert.Len(t, blocks, 3)
	assert.Equal(t, "look at this", blocks[0].Get("text").String())

	// Data URLs become image blocks; other URLs stay as a textual note.
	assert.Equal(t, "image", blocks[1].Get("type").String())
	assert.Equal(t, "image/jpeg", blocks[1].Get("source.media_type").String())
	assert.Equal(t, "Zm9v", blocks[1].Get("source.data").String())
	assert.Equal(t, "[image_url] https://example.com/cat.png", blocks[2].Get("text").String())

	assert.Equal(t, "openai", out.Get("metadata.source").String())
}

func TestConvertOpenAIRequestToClaudeToolRoundTrip(t *testing.T) {
	request := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "user", "content": "weather?"},
			{"role": "assistant", "content": null, "tool_calls": [
				{"id": "call_9", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Oslo\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_9", "content": "12C"}
		],
		"tools": [{"type": "function", "function": {"name": "get_weather", "description": "d", "parameters": {"type": "object"}}}],
		"extra": {"user_id": "u-1"}
	}`)

	out := gjson.ParseBytes(ConvertOpenAIRequestToClaude("m", request, false))

	toolUse := out.Get("messages.1.content.0")
	assert.Equal(t, "tool_use", toolUse.Get("type").String())
	assert.Equal(t, "call_9", toolUse.Get("id").String())
	assert.Equal(t, "Oslo", toolUse.Get("input.city").String())

	toolResult := out.Get("messages.2.content.0")
	assert.Equal(t, "tool_result", toolResult.Get("type").String())
	assert.Equal(t, "call_9", toolResult.Get("tool_use_id").String())
	assert.Equal(t, "12C", toolResult.Get("content").String())

	tool := out.Get("tools.0")
	assert.Equal(t, "get_weather", tool.Get("name").String())
	assert.Equal(t, "object", tool.Get("input_schema.type").String())

	assert.Equal(t, "u-1", out.Get("metadata.user_id").String())
	assert.Equal(t, "openai", out.Get("metadata.source").String())
}

func TestConvertClaudeResponseToOpenAINonStream(t *testing.T) {
	body := []byte(`{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "x",
		"content": [
			{"type": "thinking", "thinking": "hmm"},
			{"type": "text", "text": "Hello "},
			{"type": "text", "text": "world"},
			{"type": "tool_use", "id": "toolu_2", "name": "lookup", "input": {"q": "go"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 11, "output_tokens": 7}
	}`)

	out := gjson.Parse(ConvertClaudeResponseToOpenAINonStream(context.Background(), "gpt-4o", nil, nil, body, nil))

	assert.Equal(t, "chat.completion", out.Get("object").String())
	assert.Equal(t, "gpt-4o", out.Get("model").String())
	assert.Equal(t, "Hello world", out.Get("choices.0.message.content").String())
	assert.Equal(t, "hmm", out.Get("choices.0.message.reasoning_content").String())
	assert.Equal(t, "tool_calls", out.Get("choices.0.finish_reason").String())

	call := out.Get("choices.0.message.tool_calls.0")
	assert.Equal(t, "toolu_2", call.Get("id").String())
	assert.Equal(t, "lookup", call.Get("function.name").String())
	assert.Equal(t, gjson.String, call.Get("function.arguments").Type)
	assert.Equal(t, "go", gjson.Get(call.Get("function.arguments").String(), "q").String())

	assert.Equal(t, int64(11), out.Get("usage.prompt_tokens").Int())
	assert.Equal(t, int64(7), out.Get("usage.completion_tokens").Int())
	assert.Equal(t, int64(18), out.Get("usage.total_tokens").Int())
}

func TestConvertClaudeResponseToOpenAIStringToolInput(t *testing.T) {
	body := []byte(`{
		"content": [{"type": "tool_use", "id": "toolu_3", "name": "echo", "input": "foo"}],
		"stop_reason": "tool_use"
	}`)

	out := gjson.Parse(ConvertClaudeResponseToOpenAINonStream(context.Background(), "m", nil, nil, body, nil))

	// A string input lands verbatim, not wrapped in another layer of quotes.
	assert.Equal(t, "foo", out.Get("choices.0.message.tool_calls.0.function.arguments").String())
}

func TestConvertClaudeResponseToOpenAIFinishReasons(t *testing.T) {
	for claudeStop, openaiFinish := range map[string]string{
		"end_turn":      "stop",
		"stop_sequence": "stop",
		"max_tokens":    "length",
		"tool_use":      "tool_calls",
	} {
		raw := []byte(`{"content":[{"type":"text","text":"x"}],"stop_reason":"` + claudeStop + `"}`)
		out := gjson.Parse(ConvertClaudeResponseToOpenAINonStream(context.Background(), "m", nil, nil, raw, nil))
		assert.Equal(t, openaiFinish, out.Get("choices.0.finish_reason").String(), claudeStop)
	}
}
