// Package openai implements the OpenAI-compatible frontend: chat
// completions, legacy text completions, the responses endpoint, image
// generation, and audio transcription, all served over the shared
// orchestrator.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/AntigravityProxyAPI/internal/api/handlers"
	. "github.com/router-for-me/AntigravityProxyAPI/internal/constant"
	"github.com/router-for-me/AntigravityProxyAPI/internal/interfaces"
	"github.com/router-for-me/AntigravityProxyAPI/internal/registry"
)

// OpenAIAPIHandler serves the OpenAI-compatible endpoints.
type OpenAIAPIHandler struct {
	*handlers.BaseAPIHandler
}

// NewOpenAIAPIHandler creates the OpenAI frontend over the base handler.
func NewOpenAIAPIHandler(base *handlers.BaseAPIHandler) *OpenAIAPIHandler {
	return &OpenAIAPIHandler{BaseAPIHandler: base}
}

// HandlerType returns the protocol identifier for this frontend.
func (h *OpenAIAPIHandler) HandlerType() string {
	return OpenAI
}

// OpenAIModels handles GET /v1/models.
func (h *OpenAIAPIHandler) OpenAIModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   registry.OpenAIModelList(),
	})
}

// ChatCompletions handles POST /v1/chat/completions for both modes.
func (h *OpenAIAPIHandler) ChatCompletions(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		writeInvalidRequest(c, err)
		return
	}

	if gjson.GetBytes(rawJSON, "stream").Type == gjson.True {
		h.handleStreamingResponse(c, rawJSON, nil)
		return
	}
	h.handleNonStreamingResponse(c, rawJSON, nil)
}

// Completions handles POST /v1/completions. The prompt is folded into a
// single user message and the chat completion comes back reshaped as a
// text_completion.
func (h *OpenAIAPIHandler) Completions(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		writeInvalidRequest(c, err)
		return
	}

	chatJSON := convertCompletionsRequestToChat(rawJSON)
	if gjson.GetBytes(rawJSON, "stream").Type == gjson.True {
		h.handleStreamingResponse(c, chatJSON, convertChatChunkToCompletions)
		return
	}
	h.handleNonStreamingResponse(c, chatJSON, convertChatResponseToCompletions)
}

func writeInvalidRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, handlers.ErrorResponse{
		Error: handlers.ErrorDetail{
			Message: fmt.Sprintf("invalid request: %v", err),
			Type:    "invalid_request_error",
		},
	})
}

// handleNonStreamingResponse runs the request unary and writes the JSON
// body, passing it through transform when the endpoint reshapes responses.
func (h *OpenAIAPIHandler) handleNonStreamingResponse(c *gin.Context, rawJSON []byte, transform func([]byte) []byte) {
	c.Header("Content-Type", "application/json")
	ctx, cancel := h.GetContextWithCancel(c, context.Background())

	modelName := gjson.GetBytes(rawJSON, "model").String()

	resp, errMsg := h.Execute(ctx, h.HandlerType(), modelName, rawJSON)
	if errMsg != nil {
		h.WriteErrorResponse(c, h.HandlerType(), errMsg)
		cancel(errMsg.Error)
		return
	}
	if transform != nil {
		resp = transform(resp)
	}
	_, _ = c.Writer.Write(resp)
	cancel(resp)
}

// handleStreamingResponse serves an SSE stream of data frames terminated by
// a single [DONE]. transform reshapes each chunk; a nil return drops it.
func (h *OpenAIAPIHandler) handleStreamingResponse(c *gin.Context, rawJSON []byte, transform func([]byte) []byte) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, handlers.ErrorResponse{
			Error: handlers.ErrorDetail{
				Message: "streaming not supported",
				Type:    "server_error",
			},
		})
		return
	}

	modelName := gjson.GetBytes(rawJSON, "model").String()
	ctx, cancel := h.GetContextWithCancel(c, context.Background())

	dataChan, errChan := h.ExecuteStream(ctx, h.HandlerType(), modelName, rawJSON)
	h.forwardStream(c, flusher, cancel, dataChan, errChan, transform)
}

func (h *OpenAIAPIHandler) forwardStream(c *gin.Context, flusher http.Flusher, cancel handlers.APIHandlerCancelFunc, data <-chan []byte, errs <-chan *interfaces.ErrorMessage, transform func([]byte) []byte) {
	sentAny := false
	for {
		select {
		case <-c.Request.Context().Done():
			cancel(c.Request.Context().Err())
			return
		case chunk, ok := <-data:
			if !ok {
				// A terminal failure may still sit buffered on the error
				// channel when the data channel closes first.
				select {
				case errMsg := <-errs:
					if errMsg != nil {
						h.writeStreamError(c, errMsg, sentAny)
						flusher.Flush()
						cancel(errMsg.Error)
						return
					}
				default:
				}
				_, _ = fmt.Fprintf(c.Writer, "data: [DONE]\n\n")
				flusher.Flush()
				cancel()
				return
			}
			if transform != nil {
				if chunk = transform(chunk); chunk == nil {
					continue
				}
			}
			_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", chunk)
			flusher.Flush()
			sentAny = true
		case errMsg, ok := <-errs:
			if !ok {
				continue
			}
			if errMsg != nil {
				h.writeStreamError(c, errMsg, sentAny)
				flusher.Flush()
				cancel(errMsg.Error)
				return
			}
			cancel()
			return
		case <-time.After(500 * time.Millisecond):
			flusher.Flush()
		}
	}
}

// writeStreamError renders a failure as a normal error response when no
// frame has been written yet, and as a data frame otherwise.
func (h *OpenAIAPIHandler) writeStreamError(c *gin.Context, errMsg *interfaces.ErrorMessage, sentAny bool) {
	if !sentAny {
		h.WriteErrorResponse(c, h.HandlerType(), errMsg)
		return
	}
	payload, _ := sjson.Set(`{"error":{"message":"","type":"api_error"}}`, "error.message", errMsg.Error.Error())
	_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
}

// convertCompletionsRequestToChat rewrites a legacy completions body as a
// chat completions body. Array prompts are joined with newlines.
func convertCompletionsRequestToChat(rawJSON []byte) []byte {
	root := gjson.ParseBytes(rawJSON)

	out := `{"model":"","messages":[{"role":"user","content":""}]}`
	out, _ = sjson.Set(out, "model", root.Get("model").String())
	out, _ = sjson.Set(out, "messages.0.content", completionsPrompt(root.Get("prompt")))

	for _, field := range []string{"max_tokens", "temperature", "top_p", "frequency_penalty", "presence_penalty", "stop", "stream", "user"} {
		if v := root.Get(field); v.Exists() {
			out, _ = sjson.SetRaw(out, field, v.Raw)
		}
	}
	return []byte(out)
}

func completionsPrompt(prompt gjson.Result) string {
	if prompt.IsArray() {
		var parts []string
		prompt.ForEach(func(_, entry gjson.Result) bool {
			parts = append(parts, entry.String())
			return true
		})
		return strings.Join(parts, "\n")
	}
	return prompt.String()
}

// convertChatResponseToCompletions reshapes a chat.completion body into the
// text_completion shape.
func convertChatResponseToCompletions(rawJSON []byte) []byte {
	root := gjson.ParseBytes(rawJSON)

	out := `{"id":"","object":"text_completion","created":0,"model":"","choices":[]}`
	out, _ = sjson.Set(out, "id", root.Get("id").String())
	out, _ = sjson.Set(out, "created", root.Get("created").Int())
	out, _ = sjson.Set(out, "model", root.Get("model").String())
	if usage := root.Get("usage"); usage.Exists() {
		out, _ = sjson.SetRaw(out, "usage", usage.Raw)
	}

	root.Get("choices").ForEach(func(_, choice gjson.Result) bool {
		entry := `{"index":0,"text":"","finish_reason":null}`
		entry, _ = sjson.Set(entry, "index", choice.Get("index").Int())
		entry, _ = sjson.Set(entry, "text", choice.Get("message.content").String())
		if finish := choice.Get("finish_reason"); finish.Exists() && finish.Type != gjson.Null {
			entry, _ = sjson.Set(entry, "finish_reason", finish.String())
		}
		out, _ = sjson.SetRaw(out, "choices.-1", entry)
		return true
	})
	return []byte(out)
}

// convertChatChunkToCompletions reshapes one chat.completion.chunk into a
// text_completion stream frame. Chunks with neither content nor a finish
// reason return nil and are dropped.
func convertChatChunkToCompletions(chunk []byte) []byte {
	root := gjson.ParseBytes(chunk)

	text := root.Get("choices.0.delta.content").String()
	finish := root.Get("choices.0.finish_reason")
	if text == "" && (!finish.Exists() || finish.Type == gjson.Null) {
		return nil
	}

	out := `{"id":"","object":"text_completion","created":0,"model":"","choices":[{"index":0,"text":"","finish_reason":null}]}`
	out, _ = sjson.Set(out, "id", root.Get("id").String())
	out, _ = sjson.Set(out, "created", root.Get("created").Int())
	out, _ = sjson.Set(out, "model", root.Get("model").String())
	out, _ = sjson.Set(out, "choices.0.text", text)
	if finish.Exists() && finish.Type != gjson.Null {
		out, _ = sjson.Set(out, "choices.0.finish_reason", finish.String())
	}
	return []byte(out)
}
