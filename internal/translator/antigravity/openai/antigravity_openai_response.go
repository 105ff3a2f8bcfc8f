package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	agclaude "github.com/router-for-me/AntigravityProxyAPI/internal/translator/antigravity/claude"
	oaiclaude "github.com/router-for-me/AntigravityProxyAPI/internal/translator/openai/claude"
)

// Params carries the state of one OpenAI chunk stream across translator calls.
type Params struct {
	ID         string
	Created    int64
	SentRole   bool
	SawContent bool
	FinishSent bool

	InputTokens  int64
	OutputTokens int64
}

var geminiFinishToOpenAI = map[string]string{
	"STOP":       "stop",
	"MAX_TOKENS": "length",
	"SAFETY":     "content_filter",
	"RECITATION": "content_filter",
}

func openAIFinishReason(geminiFinish string) string {
	if mapped, ok := geminiFinishToOpenAI[geminiFinish]; ok {
		return mapped
	}
	return strings.ToLower(geminiFinish)
}

// ConvertAntigravityResponseToOpenAI converts one internal stream payload
// into OpenAI chat.completion.chunk JSON objects. Thought parts surface as
// reasoning_content, function calls as tool_calls deltas, and inline images
// as markdown data URIs. The final "[DONE]" call emits a single empty chunk
// when the stream produced nothing at all.
func ConvertAntigravityResponseToOpenAI(_ context.Context, modelName string, _, _ []byte, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &Params{ID: "chatcmpl-" + uuid.NewString(), Created: time.Now().Unix()}
	}
	p := (*param).(*Params)

	if string(rawJSON) == "[DONE]" {
		if p.SawContent || p.FinishSent {
			return nil
		}
		chunk := p.newChunk(modelName)
		chunk, _ = sjson.Set(chunk, "choices.0.delta.content", "")
		chunk, _ = sjson.Set(chunk, "choices.0.finish_reason", "stop")
		p.FinishSent = true
		return []string{chunk}
	}

	if !gjson.ValidBytes(rawJSON) {
		return nil
	}

	root := gjson.ParseBytes(rawJSON)
	if inner := root.Get("response"); inner.Exists() {
		root = inner
	}

	var chunks []string

	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		chunk := p.newChunk(modelName)
		switch {
		case part.Get("functionCall").Exists():
			functionCall := part.Get("functionCall")
			name := functionCall.Get("name").String()
			callJSON := `{"index":0,"id":"","type":"function","function":{"name":"","arguments":""}}`
			id := functionCall.Get("id").String()
			if id == "" {
				id = name + "-" + uuid.NewString()
			}
			callJSON, _ = sjson.Set(callJSON, "id", id)
			callJSON, _ = sjson.Set(callJSON, "function.name", name)
			args := functionCall.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			callJSON, _ = sjson.Set(callJSON, "function.arguments", args)
			chunk, _ = sjson.SetRaw(chunk, "choices.0.delta.tool_calls.0", callJSON)
		case part.Get("inlineData").Exists():
			inline := part.Get("inlineData")
			image := fmt.Sprintf("\n\n![Generated Image](data:%s;base64,%s)\n\n", inline.Get("mimeType").String(), inline.Get("data").String())
			chunk, _ = sjson.Set(chunk, "choices.0.delta.content", image)
		case part.Get("thought").Bool():
			chunk, _ = sjson.Set(chunk, "choices.0.delta.reasoning_content", part.Get("text").String())
		case part.Get("text").Exists() && part.Get("text").String() != "":
			chunk, _ = sjson.Set(chunk, "choices.0.delta.content", part.Get("text").String())
		default:
			return true
		}
		p.SawContent = true
		chunks = append(chunks, chunk)
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

	if finish := root.Get("candidates.0.finishReason"); finish.Exists() && !p.FinishSent {
		finishReason := openAIFinishReason(finish.String())
		chunk := p.newChunk(modelName)
		chunk, _ = sjson.Set(chunk, "choices.0.finish_reason", finishReason)
		usage := map[string]int64{
			"prompt_tokens":     p.InputTokens,
			"completion_tokens": p.OutputTokens,
			"total_tokens":      p.InputTokens + p.OutputTokens,
		}
		usageJSON, _ := json.Marshal(usage)
		chunk, _ = sjson.SetRaw(chunk, "usage", string(usageJSON))
		chunks = append(chunks, chunk)
		p.FinishSent = true
	}

	return chunks
}

// newChunk builds the chunk skeleton; the first chunk of the stream carries
// the assistant role in its delta.
func (p *Params) newChunk(modelName string) string {
	chunk := `{"id":"","object":"chat.completion.chunk","created":0,"model":"","choices":[{"index":0,"delta":{},"finish_reason":null}]}`
	chunk, _ = sjson.Set(chunk, "id", p.ID)
	chunk, _ = sjson.Set(chunk, "created", p.Created)
	chunk, _ = sjson.Set(chunk, "model", modelName)
	if !p.SentRole {
		chunk, _ = sjson.Set(chunk, "choices.0.delta.role", "assistant")
		p.SentRole = true
	}
	return chunk
}

// ConvertAntigravityResponseToOpenAINonStream rebuilds a complete internal
// response as an OpenAI chat.completion by composing the antigravity to
// Anthropic and Anthropic to OpenAI conversions.
func ConvertAntigravityResponseToOpenAINonStream(ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) string {
	claudeJSON := agclaude.ConvertAntigravityResponseToClaudeNonStream(ctx, modelName, originalRequestRawJSON, requestRawJSON, rawJSON, param)
	return oaiclaude.ConvertClaudeResponseToOpenAINonStream(ctx, modelName, originalRequestRawJSON, requestRawJSON, []byte(claudeJSON), param)
}
