package claude

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var claudeStopToOpenAIFinish = map[string]string{
	"end_turn":      "stop",
	"stop_sequence": "stop",
	"max_tokens":    "length",
	"tool_use":      "tool_calls",
}

// ConvertClaudeResponseToOpenAINonStream aggregates a complete Anthropic
// Messages response into an OpenAI chat.completion body. Text blocks join
// into message.content, thinking blocks into reasoning_content, and tool_use
// blocks become tool_calls entries with JSON-stringified arguments.
func ConvertClaudeResponseToOpenAINonStream(_ context.Context, modelName string, _, _, rawJSON []byte, _ *any) string {
	root := gjson.ParseBytes(rawJSON)

	out := `{"id":"","object":"chat.completion","created":0,"model":"","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"stop"}]}`
	out, _ = sjson.Set(out, "id", "chatcmpl-"+uuid.NewString())
	out, _ = sjson.Set(out, "created", time.Now().Unix())
	out, _ = sjson.Set(out, "model", modelName)

	var content, reasoning string
	toolCallsJSON := "[]"
	hasToolCalls := false

	root.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			content += block.Get("text").String()
		case "thinking":
			reasoning += block.Get("thinking").String()
		case "tool_use":
			callJSON := `{"id":"","type":"function","function":{"name":"","arguments":""}}`
			callJSON, _ = sjson.Set(callJSON, "id", block.Get("id").String())
			callJSON, _ = sjson.Set(callJSON, "function.name", block.Get("name").String())
			input := block.Get("input")
			args := input.Raw
			if input.Type == gjson.String {
				// String inputs pass through as-is, without re-quoting.
				args = input.String()
			}
			if args == "" {
				args = "{}"
			}
			callJSON, _ = sjson.Set(callJSON, "function.arguments", args)
			toolCallsJSON, _ = sjson.SetRaw(toolCallsJSON, "-1", callJSON)
			hasToolCalls = true
		}
		return true
	})

	out, _ = sjson.Set(out, "choices.0.message.content", content)
	if reasoning != "" {
		out, _ = sjson.Set(out, "choices.0.message.reasoning_content", reasoning)
	}
	if hasToolCalls {
		out, _ = sjson.SetRaw(out, "choices.0.message.tool_calls", toolCallsJSON)
	}

	finishReason := "stop"
	if mapped, ok := claudeStopToOpenAIFinish[root.Get("stop_reason").String()]; ok {
		finishReason = mapped
	}
	out, _ = sjson.Set(out, "choices.0.finish_reason", finishReason)

	inputTokens := root.Get("usage.input_tokens").Int()
	outputTokens := root.Get("usage.output_tokens").Int()
	usage := map[string]int64{
		"prompt_tokens":     inputTokens,
		"completion_tokens": outputTokens,
		"total_tokens":      inputTokens + outputTokens,
	}
	usageJSON, _ := json.Marshal(usage)
	out, _ = sjson.SetRaw(out, "usage", string(usageJSON))

	return out
}
