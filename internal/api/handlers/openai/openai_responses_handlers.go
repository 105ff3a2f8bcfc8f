package openai

import (
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/AntigravityProxyAPI/internal/api/handlers"
)

// OpenAIResponsesAPIHandler serves POST /v1/responses by normalizing the
// request into chat completions form and running it through the same
// pipeline as /v1/chat/completions.
type OpenAIResponsesAPIHandler struct {
	*OpenAIAPIHandler
}

// NewOpenAIResponsesAPIHandler creates the responses frontend.
func NewOpenAIResponsesAPIHandler(base *handlers.BaseAPIHandler) *OpenAIResponsesAPIHandler {
	return &OpenAIResponsesAPIHandler{OpenAIAPIHandler: NewOpenAIAPIHandler(base)}
}

// Responses handles POST /v1/responses for both modes.
func (h *OpenAIResponsesAPIHandler) Responses(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		writeInvalidRequest(c, err)
		return
	}

	chatJSON := convertResponsesRequestToChat(rawJSON)
	if gjson.GetBytes(rawJSON, "stream").Type == gjson.True {
		h.handleStreamingResponse(c, chatJSON, nil)
		return
	}
	h.handleNonStreamingResponse(c, chatJSON, nil)
}

// convertResponsesRequestToChat normalizes a responses body into chat
// completions messages. Function-call items become assistant tool_calls
// turns and function_call_output items become tool turns; the call_id to
// tool-name table built from the call items names the outputs.
func convertResponsesRequestToChat(rawJSON []byte) []byte {
	root := gjson.ParseBytes(rawJSON)

	out := `{"model":"","messages":[]}`
	out, _ = sjson.Set(out, "model", root.Get("model").String())

	if instructions := root.Get("instructions"); instructions.Exists() && instructions.String() != "" {
		msg, _ := sjson.Set(`{"role":"system","content":""}`, "content", instructions.String())
		out, _ = sjson.SetRaw(out, "messages.-1", msg)
	}

	input := root.Get("input")
	switch {
	case input.IsArray():
		callNames := map[string]string{}
		input.ForEach(func(_, item gjson.Result) bool {
			if item.Get("type").String() == "function_call" {
				callNames[item.Get("call_id").String()] = item.Get("name").String()
			}
			return true
		})
		input.ForEach(func(_, item gjson.Result) bool {
			out = appendResponsesItem(out, item, callNames)
			return true
		})
	case input.Exists():
		msg, _ := sjson.Set(`{"role":"user","content":""}`, "content", input.String())
		out, _ = sjson.SetRaw(out, "messages.-1", msg)
	}

	if tools := root.Get("tools"); tools.IsArray() {
		tools.ForEach(func(_, tool gjson.Result) bool {
			entry := `{"type":"function","function":{}}`
			entry, _ = sjson.Set(entry, "function.name", tool.Get("name").String())
			if desc := tool.Get("description"); desc.Exists() {
				entry, _ = sjson.Set(entry, "function.description", desc.String())
			}
			if params := tool.Get("parameters"); params.Exists() {
				entry, _ = sjson.SetRaw(entry, "function.parameters", params.Raw)
			}
			out, _ = sjson.SetRaw(out, "tools.-1", entry)
			return true
		})
	}

	if maxTokens := root.Get("max_output_tokens"); maxTokens.Exists() {
		out, _ = sjson.Set(out, "max_tokens", maxTokens.Int())
	}
	for _, field := range []string{"temperature", "top_p", "stream"} {
		if v := root.Get(field); v.Exists() {
			out, _ = sjson.SetRaw(out, field, v.Raw)
		}
	}
	return []byte(out)
}

func appendResponsesItem(out string, item gjson.Result, callNames map[string]string) string {
	switch item.Get("type").String() {
	case "function_call":
		call := `{"index":0,"id":"","type":"function","function":{"name":"","arguments":""}}`
		call, _ = sjson.Set(call, "id", item.Get("call_id").String())
		call, _ = sjson.Set(call, "function.name", item.Get("name").String())
		call, _ = sjson.Set(call, "function.arguments", item.Get("arguments").String())
		msg, _ := sjson.SetRaw(`{"role":"assistant","content":null,"tool_calls":[]}`, "tool_calls.0", call)
		out, _ = sjson.SetRaw(out, "messages.-1", msg)
	case "function_call_output":
		callID := item.Get("call_id").String()
		msg := `{"role":"tool","tool_call_id":"","content":""}`
		msg, _ = sjson.Set(msg, "tool_call_id", callID)
		msg, _ = sjson.Set(msg, "content", item.Get("output").String())
		if name, ok := callNames[callID]; ok && name != "" {
			msg, _ = sjson.Set(msg, "name", name)
		}
		out, _ = sjson.SetRaw(out, "messages.-1", msg)
	default:
		role := item.Get("role").String()
		if role == "" {
			return out
		}
		msg, _ := sjson.Set(`{"role":"","content":""}`, "role", role)
		msg, _ = sjson.Set(msg, "content", responsesItemText(item.Get("content")))
		out, _ = sjson.SetRaw(out, "messages.-1", msg)
	}
	return out
}

func responsesItemText(content gjson.Result) string {
	if !content.IsArray() {
		return content.String()
	}
	text := ""
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "input_text", "output_text", "text":
			text += part.Get("text").String()
		}
		return true
	})
	return text
}
