package orchestrator

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const streamScannerBuffer = 20 * 1024 * 1024

var dataPrefix = []byte("data: ")

func newStreamScanner(body io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024*1024), streamScannerBuffer)
	return scanner
}

// ssePayload extracts the JSON payload of one SSE line, or nil for framing
// lines and the terminator.
func ssePayload(line []byte) []byte {
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil
	}
	payload := bytes.TrimSpace(bytes.TrimPrefix(line, dataPrefix))
	if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
		return nil
	}
	return payload
}

// accumulateStream folds a streamGenerateContent body into one unary-shaped
// response. Consecutive text parts with the same thought flag merge into one
// part; function calls and inline data pass through untouched. It returns nil
// when the stream carried no parts at all.
func accumulateStream(body io.Reader) ([]byte, error) {
	type textRun struct {
		thought   bool
		text      *bytes.Buffer
		signature string
	}

	var parts []any
	var openRun *textRun
	finishReason := "STOP"
	usageJSON := ""

	flushRun := func() {
		if openRun == nil {
			return
		}
		part := map[string]any{"text": openRun.text.String()}
		if openRun.thought {
			part["thought"] = true
		}
		if openRun.signature != "" {
			part["thoughtSignature"] = openRun.signature
		}
		parts = append(parts, part)
		openRun = nil
	}

	scanner := newStreamScanner(body)
	for scanner.Scan() {
		payload := ssePayload(scanner.Bytes())
		if payload == nil {
			continue
		}
		root := gjson.ParseBytes(payload)
		if inner := root.Get("response"); inner.Exists() {
			root = inner
		}

		root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Exists() && !part.Get("functionCall").Exists() {
				thought := part.Get("thought").Bool()
				if openRun == nil || openRun.thought != thought {
					flushRun()
					openRun = &textRun{thought: thought, text: &bytes.Buffer{}}
				}
				openRun.text.WriteString(text.String())
				if signature := part.Get("thoughtSignature"); signature.String() != "" {
					openRun.signature = signature.String()
				}
				return true
			}
			flushRun()
			if value, ok := part.Value().(map[string]any); ok {
				parts = append(parts, value)
			}
			return true
		})

		if finish := root.Get("candidates.0.finishReason"); finish.Exists() {
			finishReason = finish.String()
		}
		if usage := root.Get("usageMetadata"); usage.Exists() {
			usageJSON = usage.Raw
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flushRun()

	if len(parts) == 0 {
		return nil, nil
	}

	partsJSON, err := json.Marshal(parts)
	if err != nil {
		return nil, err
	}

	out := `{"candidates":[{"content":{"role":"model","parts":[]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":0,"candidatesTokenCount":0,"totalTokenCount":0}}`
	out, _ = sjson.SetRaw(out, "candidates.0.content.parts", string(partsJSON))
	out, _ = sjson.Set(out, "candidates.0.finishReason", finishReason)
	if usageJSON != "" {
		out, _ = sjson.SetRaw(out, "usageMetadata", usageJSON)
	}
	return []byte(out), nil
}

const streamSliceSize = 80

// chatCompletionToChunks slices a unary chat.completion into synthetic
// chat.completion.chunk payloads for clients that insisted on streaming.
// Content splits into rune-safe slices of at most 80 characters.
func chatCompletionToChunks(body []byte) [][]byte {
	root := gjson.ParseBytes(body)

	base := `{"id":"","object":"chat.completion.chunk","created":0,"model":"","choices":[{"index":0,"delta":{},"finish_reason":null}]}`
	base, _ = sjson.Set(base, "id", root.Get("id").String())
	base, _ = sjson.Set(base, "created", root.Get("created").Int())
	base, _ = sjson.Set(base, "model", root.Get("model").String())

	var chunks [][]byte
	message := root.Get("choices.0.message")

	first := true
	appendChunk := func(build func(chunk string) string) {
		chunk := base
		if first {
			chunk, _ = sjson.Set(chunk, "choices.0.delta.role", "assistant")
			first = false
		}
		chunks = append(chunks, []byte(build(chunk)))
	}

	if reasoning := message.Get("reasoning_content").String(); reasoning != "" {
		for _, slice := range sliceRunes(reasoning, streamSliceSize) {
			appendChunk(func(chunk string) string {
				chunk, _ = sjson.Set(chunk, "choices.0.delta.reasoning_content", slice)
				return chunk
			})
		}
	}
	if content := message.Get("content").String(); content != "" {
		for _, slice := range sliceRunes(content, streamSliceSize) {
			appendChunk(func(chunk string) string {
				chunk, _ = sjson.Set(chunk, "choices.0.delta.content", slice)
				return chunk
			})
		}
	}
	if toolCalls := message.Get("tool_calls"); toolCalls.Exists() && len(toolCalls.Array()) > 0 {
		appendChunk(func(chunk string) string {
			calls := "[]"
			toolCalls.ForEach(func(key, call gjson.Result) bool {
				entry, _ := sjson.SetRaw(`{"index":0}`, "index", key.Raw)
				entry, _ = sjson.Set(entry, "id", call.Get("id").String())
				entry, _ = sjson.Set(entry, "type", "function")
				entry, _ = sjson.Set(entry, "function.name", call.Get("function.name").String())
				entry, _ = sjson.Set(entry, "function.arguments", call.Get("function.arguments").String())
				calls, _ = sjson.SetRaw(calls, "-1", entry)
				return true
			})
			chunk, _ = sjson.SetRaw(chunk, "choices.0.delta.tool_calls", calls)
			return chunk
		})
	}

	final := base
	if first {
		final, _ = sjson.Set(final, "choices.0.delta.role", "assistant")
		final, _ = sjson.Set(final, "choices.0.delta.content", "")
	}
	finishReason := root.Get("choices.0.finish_reason").String()
	if finishReason == "" {
		finishReason = "stop"
	}
	final, _ = sjson.Set(final, "choices.0.finish_reason", finishReason)
	if usage := root.Get("usage"); usage.Exists() {
		final, _ = sjson.SetRaw(final, "usage", usage.Raw)
	}
	chunks = append(chunks, []byte(final))

	return chunks
}

func sliceRunes(s string, size int) []string {
	runes := []rune(s)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
