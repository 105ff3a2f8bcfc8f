// Package claude provides request translation from OpenAI Chat Completions
// format to Anthropic Messages format. It folds system messages into a single
// system string, rebuilds tool traffic as tool_use / tool_result blocks, and
// converts data-URL images into Anthropic image sources.
package claude

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertOpenAIRequestToClaude parses and transforms an OpenAI Chat
// Completions request into Anthropic Messages format. System messages are
// newline-joined into one system string, assistant tool_calls become tool_use
// blocks, and tool role messages become user messages carrying a tool_result
// block keyed by tool_call_id.
func ConvertOpenAIRequestToClaude(modelName string, inputRawJSON []byte, stream bool) []byte {
	rawJSON := bytes.Clone(inputRawJSON)
	out := `{"model":"","messages":[]}`

	root := gjson.ParseBytes(rawJSON)

	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "stream", stream)

	if maxTokens := root.Get("max_tokens"); maxTokens.Exists() {
		out, _ = sjson.Set(out, "max_tokens", maxTokens.Int())
	}
	if temp := root.Get("temperature"); temp.Exists() {
		out, _ = sjson.Set(out, "temperature", temp.Float())
	}
	if topP := root.Get("top_p"); topP.Exists() {
		out, _ = sjson.Set(out, "top_p", topP.Float())
	}
	if stop := root.Get("stop"); stop.Exists() {
		if stop.IsArray() {
			out, _ = sjson.SetRaw(out, "stop_sequences", stop.Raw)
		} else {
			out, _ = sjson.Set(out, "stop_sequences.0", stop.String())
		}
	}

	var systemParts []string
	messagesJSON := "[]"

	if messages := root.Get("messages"); messages.Exists() && messages.IsArray() {
		messages.ForEach(func(_, message gjson.Result) bool {
			role := message.Get("role").String()
			content := message.Get("content")

			switch role {
			case "system":
				// System messages collapse into one newline-joined string.
				systemParts = append(systemParts, contentText(content))
			case "tool":
				toolCallID := message.Get("tool_call_id").String()
				if toolCallID == "" {
					toolCallID = "tool-" + uuid.NewString()
				}
				msgJSON := `{"role":"user","content":[{"type":"tool_result","tool_use_id":"","content":""}]}`
				msgJSON, _ = sjson.Set(msgJSON, "content.0.tool_use_id", toolCallID)
				msgJSON, _ = sjson.Set(msgJSON, "content.0.content", contentText(content))
				messagesJSON, _ = sjson.SetRaw(messagesJSON, "-1", msgJSON)
			case "user", "assistant":
				msgJSON := `{"role":"","content":[]}`
				msgJSON, _ = sjson.Set(msgJSON, "role", role)
				msgJSON = appendContentBlocks(msgJSON, content)

				if role == "assistant" {
					if toolCalls := message.Get("tool_calls"); toolCalls.Exists() && toolCalls.IsArray() {
						toolCalls.ForEach(func(_, call gjson.Result) bool {
							blockJSON := `{"type":"tool_use","id":"","name":"","input":{}}`
							blockJSON, _ = sjson.Set(blockJSON, "id", call.Get("id").String())
							blockJSON, _ = sjson.Set(blockJSON, "name", call.Get("function.name").String())
							args := call.Get("function.arguments").String()
							if gjson.Valid(args) {
								blockJSON, _ = sjson.SetRaw(blockJSON, "input", args)
							}
							msgJSON, _ = sjson.SetRaw(msgJSON, "content.-1", blockJSON)
							return true
						})
					}
				}

				if len(gjson.Get(msgJSON, "content").Array()) > 0 {
					messagesJSON, _ = sjson.SetRaw(messagesJSON, "-1", msgJSON)
				}
			}
			return true
		})
	}

	if len(systemParts) > 0 {
		out, _ = sjson.Set(out, "system", strings.Join(systemParts, "\n"))
	}
	out, _ = sjson.SetRaw(out, "messages", messagesJSON)

	// Tools map by stripping the OpenAI function wrapper.
	if tools := root.Get("tools"); tools.Exists() && tools.IsArray() {
		toolsJSON := "[]"
		tools.ForEach(func(_, tool gjson.Result) bool {
			claudeToolJSON := `{"name":"","description":"","input_schema":{}}`
			claudeToolJSON, _ = sjson.Set(claudeToolJSON, "name", tool.Get("function.name").String())
			claudeToolJSON, _ = sjson.Set(claudeToolJSON, "description", tool.Get("function.description").String())
			if params := tool.Get("function.parameters"); params.Exists() {
				claudeToolJSON, _ = sjson.SetRaw(claudeToolJSON, "input_schema", params.Raw)
			}
			toolsJSON, _ = sjson.SetRaw(toolsJSON, "-1", claudeToolJSON)
			return true
		})
		if len(gjson.Parse(toolsJSON).Array()) > 0 {
			out, _ = sjson.SetRaw(out, "tools", toolsJSON)
		}
	}

	// Metadata merges request.extra with the protocol source marker.
	metadata := map[string]any{"source": "openai"}
	if extra := root.Get("extra"); extra.Exists() && extra.IsObject() {
		for key, value := range extra.Map() {
			metadata[key] = value.Value()
		}
	}
	metadataJSON, _ := json.Marshal(metadata)
	out, _ = sjson.SetRaw(out, "metadata", string(metadataJSON))

	return []byte(out)
}

// contentText flattens an OpenAI message content value (string or parts
// array) into plain text.
func contentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var parts []string
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "text" {
				parts = append(parts, part.Get("text").String())
			}
			return true
		})
		return strings.Join(parts, "")
	}
	return content.String()
}

// appendContentBlocks converts an OpenAI content value into Anthropic content
// blocks appended to msgJSON. Data-URL images become image blocks; other
// image URLs are preserved as a textual note.
func appendContentBlocks(msgJSON string, content gjson.Result) string {
	if content.Type == gjson.String {
		if content.String() != "" {
			blockJSON, _ := sjson.Set(`{"type":"text","text":""}`, "text", content.String())
			msgJSON, _ = sjson.SetRaw(msgJSON, "content.-1", blockJSON)
		}
		return msgJSON
	}
	if !content.IsArray() {
		return msgJSON
	}

	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text":
			blockJSON, _ := sjson.Set(`{"type":"text","text":""}`, "text", part.Get("text").String())
			msgJSON, _ = sjson.SetRaw(msgJSON, "content.-1", blockJSON)
		case "image_url":
			imageURL := part.Get("image_url.url").String()
			if mediaType, data, ok := parseDataURL(imageURL); ok {
				blockJSON := `{"type":"image","source":{"type":"base64","media_type":"","data":""}}`
				blockJSON, _ = sjson.Set(blockJSON, "source.media_type", mediaType)
				blockJSON, _ = sjson.Set(blockJSON, "source.data", data)
				msgJSON, _ = sjson.SetRaw(msgJSON, "content.-1", blockJSON)
			} else {
				blockJSON, _ := sjson.Set(`{"type":"text","text":""}`, "text", "[image_url] "+imageURL)
				msgJSON, _ = sjson.SetRaw(msgJSON, "content.-1", blockJSON)
			}
		}
		return true
	})
	return msgJSON
}

// parseDataURL splits a data:<mime>;base64,<data> URI.
func parseDataURL(rawURL string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(rawURL, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(rawURL, "data:")
	meta, payload, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(meta, ";base64"), payload, true
}
