// Package claude translates between Anthropic Messages format and the
// antigravity internal generateContent format. Requests are wrapped in the
// internal envelope with the project field left empty for the dispatcher to
// fill in; responses come back as generateContent payloads and are rebuilt
// into Anthropic messages and SSE events.
package claude

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertClaudeRequestToAntigravity builds the internal envelope from an
// Anthropic Messages request. Messages become Gemini-style contents, the
// system prompt becomes a text-only systemInstruction, and tools become
// functionDeclarations. The envelope never carries a session identifier.
func ConvertClaudeRequestToAntigravity(modelName string, inputRawJSON []byte, _ bool) []byte {
	rawJSON := bytes.Clone(inputRawJSON)
	root := gjson.ParseBytes(rawJSON)

	out := `{"project":"","requestId":"","request":{"contents":[]},"model":"","userAgent":"antigravity","requestType":"generate-content"}`
	out, _ = sjson.Set(out, "requestId", uuid.NewString())
	out, _ = sjson.Set(out, "model", modelName)

	// tool_result blocks reference a tool_use id; the function name has to be
	// recovered from the assistant turn that issued the call.
	toolNames := map[string]string{}
	root.Get("messages").ForEach(func(_, message gjson.Result) bool {
		message.Get("content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "tool_use" {
				toolNames[block.Get("id").String()] = block.Get("name").String()
			}
			return true
		})
		return true
	})

	contentsJSON := "[]"
	root.Get("messages").ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		if role == "assistant" {
			role = "model"
		}
		contentJSON := `{"role":"","parts":[]}`
		contentJSON, _ = sjson.Set(contentJSON, "role", role)

		content := message.Get("content")
		if content.Type == gjson.String {
			if content.String() != "" {
				partJSON, _ := sjson.Set(`{"text":""}`, "text", content.String())
				contentJSON, _ = sjson.SetRaw(contentJSON, "parts.-1", partJSON)
			}
		} else if content.IsArray() {
			content.ForEach(func(_, block gjson.Result) bool {
				contentJSON = appendPart(contentJSON, block, toolNames)
				return true
			})
		}

		if len(gjson.Get(contentJSON, "parts").Array()) > 0 {
			contentsJSON, _ = sjson.SetRaw(contentsJSON, "-1", contentJSON)
		}
		return true
	})
	out, _ = sjson.SetRaw(out, "request.contents", contentsJSON)

	if systemText := systemPromptText(root.Get("system")); systemText != "" {
		instructionJSON := `{"role":"user","parts":[{"text":""}]}`
		instructionJSON, _ = sjson.Set(instructionJSON, "parts.0.text", systemText)
		out, _ = sjson.SetRaw(out, "request.systemInstruction", instructionJSON)
	}

	out = setGenerationConfig(out, root)
	out = setTools(out, root)

	return []byte(out)
}

// appendPart converts one Anthropic content block into a generateContent part.
func appendPart(contentJSON string, block gjson.Result, toolNames map[string]string) string {
	switch block.Get("type").String() {
	case "text":
		partJSON, _ := sjson.Set(`{"text":""}`, "text", block.Get("text").String())
		contentJSON, _ = sjson.SetRaw(contentJSON, "parts.-1", partJSON)
	case "thinking":
		partJSON, _ := sjson.Set(`{"text":"","thought":true}`, "text", block.Get("thinking").String())
		if signature := block.Get("signature"); signature.Exists() && signature.String() != "" {
			partJSON, _ = sjson.Set(partJSON, "thoughtSignature", signature.String())
		}
		contentJSON, _ = sjson.SetRaw(contentJSON, "parts.-1", partJSON)
	case "image":
		if block.Get("source.type").String() == "base64" {
			partJSON := `{"inlineData":{"mimeType":"","data":""}}`
			partJSON, _ = sjson.Set(partJSON, "inlineData.mimeType", block.Get("source.media_type").String())
			partJSON, _ = sjson.Set(partJSON, "inlineData.data", block.Get("source.data").String())
			contentJSON, _ = sjson.SetRaw(contentJSON, "parts.-1", partJSON)
		}
	case "tool_use":
		partJSON := `{"functionCall":{"id":"","name":"","args":{}}}`
		partJSON, _ = sjson.Set(partJSON, "functionCall.id", block.Get("id").String())
		partJSON, _ = sjson.Set(partJSON, "functionCall.name", block.Get("name").String())
		if input := block.Get("input"); input.Exists() && input.IsObject() {
			partJSON, _ = sjson.SetRaw(partJSON, "functionCall.args", input.Raw)
		}
		contentJSON, _ = sjson.SetRaw(contentJSON, "parts.-1", partJSON)
	case "tool_result":
		toolUseID := block.Get("tool_use_id").String()
		partJSON := `{"functionResponse":{"id":"","name":"","response":{}}}`
		partJSON, _ = sjson.Set(partJSON, "functionResponse.id", toolUseID)
		partJSON, _ = sjson.Set(partJSON, "functionResponse.name", toolNames[toolUseID])
		partJSON, _ = sjson.Set(partJSON, "functionResponse.response.result", toolResultText(block.Get("content")))
		contentJSON, _ = sjson.SetRaw(contentJSON, "parts.-1", partJSON)
	}
	return contentJSON
}

// systemPromptText flattens the Anthropic system field, which can be a plain
// string or an array of text blocks. Non-text blocks are dropped.
func systemPromptText(system gjson.Result) string {
	if system.Type == gjson.String {
		return system.String()
	}
	if system.IsArray() {
		var buf bytes.Buffer
		system.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				if buf.Len() > 0 {
					buf.WriteString("\n")
				}
				buf.WriteString(block.Get("text").String())
			}
			return true
		})
		return buf.String()
	}
	return ""
}

func toolResultText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var buf bytes.Buffer
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				buf.WriteString(block.Get("text").String())
			}
			return true
		})
		return buf.String()
	}
	return content.Raw
}

func setGenerationConfig(out string, root gjson.Result) string {
	configJSON := "{}"
	hasConfig := false

	if maxTokens := root.Get("max_tokens"); maxTokens.Exists() {
		configJSON, _ = sjson.Set(configJSON, "maxOutputTokens", maxTokens.Int())
		hasConfig = true
	}
	if temp := root.Get("temperature"); temp.Exists() {
		configJSON, _ = sjson.Set(configJSON, "temperature", temp.Float())
		hasConfig = true
	}
	if topP := root.Get("top_p"); topP.Exists() {
		configJSON, _ = sjson.Set(configJSON, "topP", topP.Float())
		hasConfig = true
	}
	if topK := root.Get("top_k"); topK.Exists() {
		configJSON, _ = sjson.Set(configJSON, "topK", topK.Int())
		hasConfig = true
	}
	if stops := root.Get("stop_sequences"); stops.Exists() && stops.IsArray() {
		configJSON, _ = sjson.SetRaw(configJSON, "stopSequences", stops.Raw)
		hasConfig = true
	}
	if thinking := root.Get("thinking"); thinking.Get("type").String() == "enabled" {
		configJSON, _ = sjson.Set(configJSON, "thinkingConfig.includeThoughts", true)
		if budget := thinking.Get("budget_tokens"); budget.Exists() {
			configJSON, _ = sjson.Set(configJSON, "thinkingConfig.thinkingBudget", budget.Int())
		}
		hasConfig = true
	}

	if hasConfig {
		out, _ = sjson.SetRaw(out, "request.generationConfig", configJSON)
	}
	return out
}

func setTools(out string, root gjson.Result) string {
	tools := root.Get("tools")
	if !tools.Exists() || !tools.IsArray() || len(tools.Array()) == 0 {
		return out
	}

	declarationsJSON := "[]"
	tools.ForEach(func(_, tool gjson.Result) bool {
		declJSON := `{"name":"","description":""}`
		declJSON, _ = sjson.Set(declJSON, "name", tool.Get("name").String())
		declJSON, _ = sjson.Set(declJSON, "description", tool.Get("description").String())
		if schema := tool.Get("input_schema"); schema.Exists() {
			declJSON, _ = sjson.SetRaw(declJSON, "parameters", schema.Raw)
		}
		declarationsJSON, _ = sjson.SetRaw(declarationsJSON, "-1", declJSON)
		return true
	})
	out, _ = sjson.SetRaw(out, "request.tools.0.functionDeclarations", declarationsJSON)

	if choice := root.Get("tool_choice"); choice.Exists() {
		mode := ""
		switch choice.Get("type").String() {
		case "auto":
			mode = "AUTO"
		case "any":
			mode = "ANY"
		case "tool":
			mode = "ANY"
		}
		if mode != "" {
			out, _ = sjson.Set(out, "request.toolConfig.functionCallingConfig.mode", mode)
			if name := choice.Get("name"); name.Exists() && choice.Get("type").String() == "tool" {
				out, _ = sjson.Set(out, "request.toolConfig.functionCallingConfig.allowedFunctionNames.0", name.String())
			}
		}
	}
	return out
}
