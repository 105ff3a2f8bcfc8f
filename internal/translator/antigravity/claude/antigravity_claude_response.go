package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Params carries the state of one Anthropic SSE stream across translator
// calls. Block states: 0=none, 1=text, 2=thinking, 3=tool_use.
type Params struct {
	MessageID        string
	HasFirstResponse bool
	ResponseType     int
	ResponseIndex    int
	UsedTool         bool
	FinishReason     string
	InputTokens      int64
	OutputTokens     int64

	// CurrentThinkingText accumulates the open thinking block; it resets
	// when the block's signature arrives.
	CurrentThinkingText strings.Builder
	ThinkingSignature   string
}

var geminiFinishToClaudeStop = map[string]string{
	"STOP":       "end_turn",
	"MAX_TOKENS": "max_tokens",
}

// ConvertAntigravityResponseToClaude converts one internal stream payload
// into Anthropic SSE events. Each returned string is a complete frame ready
// to write. The final call receives the literal payload "[DONE]" and emits
// the closing content_block_stop, message_delta, and message_stop events.
func ConvertAntigravityResponseToClaude(_ context.Context, modelName string, _, _ []byte, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &Params{MessageID: "msg_" + uuid.NewString()}
	}
	p := (*param).(*Params)

	if string(rawJSON) == "[DONE]" {
		return p.finishEvents()
	}

	if !gjson.ValidBytes(rawJSON) {
		// A malformed frame is reported but does not kill the stream.
		errJSON, _ := sjson.Set(`{"type":"error","error":{"type":"api_error","message":""}}`,
			"error.message", "upstream sent an unparseable stream chunk")
		return []string{sseEvent("error", errJSON)}
	}

	root := gjson.ParseBytes(rawJSON)
	if inner := root.Get("response"); inner.Exists() {
		root = inner
	}

	var events []string

	if !p.HasFirstResponse {
		p.HasFirstResponse = true
		messageStart := `{"type":"message_start","message":{"id":"","type":"message","role":"assistant","content":[],"model":"","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}}`
		messageStart, _ = sjson.Set(messageStart, "message.id", p.MessageID)
		messageStart, _ = sjson.Set(messageStart, "message.model", modelName)
		if prompt := root.Get("usageMetadata.promptTokenCount"); prompt.Exists() {
			messageStart, _ = sjson.Set(messageStart, "message.usage.input_tokens", prompt.Int())
		}
		events = append(events, sseEvent("message_start", messageStart))
	}

	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		events = p.appendPartEvents(events, part)
		return true
	})

	if usage := root.Get("usageMetadata"); usage.Exists() {
		if prompt := usage.Get("promptTokenCount"); prompt.Exists() {
			p.InputTokens = prompt.Int()
		}
		if candidates := usage.Get("candidatesTokenCount"); candidates.Exists() {
			p.OutputTokens = candidates.Int() + usage.Get("thoughtsTokenCount").Int()
		}
	}
	if finish := root.Get("candidates.0.finishReason"); finish.Exists() {
		p.FinishReason = finish.String()
	}

	return events
}

// appendPartEvents emits the events for one part, closing and opening content
// blocks as the part type changes.
func (p *Params) appendPartEvents(events []string, part gjson.Result) []string {
	text := part.Get("text")
	functionCall := part.Get("functionCall")
	signature := part.Get("thoughtSignature")

	if signature.Exists() && signature.String() != "" && p.ResponseType == 2 {
		p.ThinkingSignature = signature.String()
		data, _ := sjson.Set(fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"signature_delta","signature":""}}`, p.ResponseIndex), "delta.signature", signature.String())
		events = append(events, sseEvent("content_block_delta", data))
		p.CurrentThinkingText.Reset()
		if text.String() == "" && !functionCall.Exists() {
			return events
		}
	}

	switch {
	case text.Exists() && part.Get("thought").Bool():
		if p.ResponseType != 2 {
			events = p.closeBlock(events)
			events = append(events, sseEvent("content_block_start",
				fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"thinking","thinking":""}}`, p.ResponseIndex)))
			p.ResponseType = 2
			p.ThinkingSignature = ""
		}
		p.CurrentThinkingText.WriteString(text.String())
		data, _ := sjson.Set(fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"thinking_delta","thinking":""}}`, p.ResponseIndex), "delta.thinking", text.String())
		events = append(events, sseEvent("content_block_delta", data))

	case functionCall.Exists():
		events = p.closeBlock(events)
		p.UsedTool = true
		name := functionCall.Get("name").String()

		data := fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"tool_use","id":"","name":"","input":{}}}`, p.ResponseIndex)
		id := functionCall.Get("id").String()
		if id == "" {
			id = name + "-" + uuid.NewString()
		}
		data, _ = sjson.Set(data, "content_block.id", id)
		data, _ = sjson.Set(data, "content_block.name", name)
		events = append(events, sseEvent("content_block_start", data))

		if args := functionCall.Get("args"); args.Exists() {
			data, _ = sjson.Set(fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"input_json_delta","partial_json":""}}`, p.ResponseIndex), "delta.partial_json", args.Raw)
			events = append(events, sseEvent("content_block_delta", data))
		}
		p.ResponseType = 3

	case text.Exists() && text.String() != "":
		if p.ResponseType != 1 {
			events = p.closeBlock(events)
			events = append(events, sseEvent("content_block_start",
				fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"text","text":""}}`, p.ResponseIndex)))
			p.ResponseType = 1
		}
		data, _ := sjson.Set(fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"text_delta","text":""}}`, p.ResponseIndex), "delta.text", text.String())
		events = append(events, sseEvent("content_block_delta", data))
	}

	return events
}

// closeBlock ends the open content block, emitting the signature delta first
// when the block is a thinking block that never received one.
func (p *Params) closeBlock(events []string) []string {
	if p.ResponseType == 0 {
		return events
	}
	if p.ResponseType == 2 && p.ThinkingSignature == "" {
		events = append(events, sseEvent("content_block_delta",
			fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"signature_delta","signature":""}}`, p.ResponseIndex)))
	}
	events = append(events, sseEvent("content_block_stop",
		fmt.Sprintf(`{"type":"content_block_stop","index":%d}`, p.ResponseIndex)))
	p.ResponseIndex++
	p.ResponseType = 0
	return events
}

// finishEvents closes the stream: remaining block stop, message_delta with
// the final stop reason and usage, then message_stop.
func (p *Params) finishEvents() []string {
	var events []string
	events = p.closeBlock(events)

	stopReason := "end_turn"
	if mapped, ok := geminiFinishToClaudeStop[p.FinishReason]; ok {
		stopReason = mapped
	}
	if p.UsedTool {
		stopReason = "tool_use"
	}

	messageDelta := `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"input_tokens":0,"output_tokens":0}}`
	messageDelta, _ = sjson.Set(messageDelta, "delta.stop_reason", stopReason)
	messageDelta, _ = sjson.Set(messageDelta, "usage.input_tokens", p.InputTokens)
	messageDelta, _ = sjson.Set(messageDelta, "usage.output_tokens", p.OutputTokens)
	events = append(events, sseEvent("message_delta", messageDelta))
	events = append(events, sseEvent("message_stop", `{"type":"message_stop"}`))
	return events
}

func sseEvent(event, data string) string {
	return "event: " + event + "\ndata: " + data + "\n\n"
}

// ConvertAntigravityResponseToClaudeNonStream rebuilds a complete internal
// generateContent response as an Anthropic message.
func ConvertAntigravityResponseToClaudeNonStream(_ context.Context, modelName string, _, _ []byte, rawJSON []byte, _ *any) string {
	root := gjson.ParseBytes(rawJSON)
	if inner := root.Get("response"); inner.Exists() {
		root = inner
	}

	out := `{"id":"","type":"message","role":"assistant","model":"","content":[],"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}`
	out, _ = sjson.Set(out, "id", "msg_"+uuid.NewString())
	out, _ = sjson.Set(out, "model", modelName)

	usedTool := false
	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("functionCall").Exists():
			usedTool = true
			functionCall := part.Get("functionCall")
			blockJSON := `{"type":"tool_use","id":"","name":"","input":{}}`
			id := functionCall.Get("id").String()
			if id == "" {
				id = functionCall.Get("name").String() + "-" + uuid.NewString()
			}
			blockJSON, _ = sjson.Set(blockJSON, "id", id)
			blockJSON, _ = sjson.Set(blockJSON, "name", functionCall.Get("name").String())
			if args := functionCall.Get("args"); args.Exists() {
				blockJSON, _ = sjson.SetRaw(blockJSON, "input", args.Raw)
			}
			out, _ = sjson.SetRaw(out, "content.-1", blockJSON)
		case part.Get("thought").Bool():
			blockJSON, _ := sjson.Set(`{"type":"thinking","thinking":""}`, "thinking", part.Get("text").String())
			if signature := part.Get("thoughtSignature"); signature.Exists() {
				blockJSON, _ = sjson.Set(blockJSON, "signature", signature.String())
			}
			out, _ = sjson.SetRaw(out, "content.-1", blockJSON)
		case part.Get("text").Exists():
			blockJSON, _ := sjson.Set(`{"type":"text","text":""}`, "text", part.Get("text").String())
			out, _ = sjson.SetRaw(out, "content.-1", blockJSON)
		}
		return true
	})

	stopReason := "end_turn"
	if mapped, ok := geminiFinishToClaudeStop[root.Get("candidates.0.finishReason").String()]; ok {
		stopReason = mapped
	}
	if usedTool {
		stopReason = "tool_use"
	}
	out, _ = sjson.Set(out, "stop_reason", stopReason)

	usage := root.Get("usageMetadata")
	out, _ = sjson.Set(out, "usage.input_tokens", usage.Get("promptTokenCount").Int())
	out, _ = sjson.Set(out, "usage.output_tokens", usage.Get("candidatesTokenCount").Int()+usage.Get("thoughtsTokenCount").Int())

	return out
}
