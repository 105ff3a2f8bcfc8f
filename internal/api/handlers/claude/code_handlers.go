// Package claude implements the Anthropic Messages frontend. Requests are
// handed to the orchestrator and responses stream back as Anthropic SSE
// events.
package claude

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/AntigravityProxyAPI/internal/api/handlers"
	. "github.com/router-for-me/AntigravityProxyAPI/internal/constant"
	"github.com/router-for-me/AntigravityProxyAPI/internal/interfaces"
	"github.com/router-for-me/AntigravityProxyAPI/internal/registry"
)

// ClaudeAPIHandler serves the Anthropic-compatible endpoints.
type ClaudeAPIHandler struct {
	*handlers.BaseAPIHandler
}

// NewClaudeAPIHandler creates the Anthropic frontend over the base handler.
func NewClaudeAPIHandler(base *handlers.BaseAPIHandler) *ClaudeAPIHandler {
	return &ClaudeAPIHandler{BaseAPIHandler: base}
}

// HandlerType returns the protocol identifier for this frontend.
func (h *ClaudeAPIHandler) HandlerType() string {
	return Claude
}

// ClaudeModels lists the exposed models in the Anthropic shape.
func (h *ClaudeAPIHandler) ClaudeModels(c *gin.Context) {
	models := registry.AntigravityModels()
	data := make([]map[string]any, 0, len(models))
	for _, model := range models {
		data = append(data, map[string]any{
			"id":           model.ID,
			"type":         "model",
			"display_name": model.DisplayName,
			"created_at":   time.Unix(registry.ModelCreated, 0).UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"data":     data,
		"has_more": false,
	})
}

// ClaudeMessages handles POST /v1/messages for both modes.
func (h *ClaudeAPIHandler) ClaudeMessages(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "invalid_request_error",
				"message": fmt.Sprintf("invalid request: %v", err),
			},
		})
		return
	}

	if stream := gjson.GetBytes(rawJSON, "stream"); stream.Exists() && stream.Type == gjson.True {
		h.handleStreamingResponse(c, rawJSON)
		return
	}
	h.handleNonStreamingResponse(c, rawJSON)
}

func (h *ClaudeAPIHandler) handleNonStreamingResponse(c *gin.Context, rawJSON []byte) {
	c.Header("Content-Type", "application/json")
	ctx, cancel := h.GetContextWithCancel(c, context.Background())

	modelName := gjson.GetBytes(rawJSON, "model").String()

	resp, errMsg := h.Execute(ctx, h.HandlerType(), modelName, rawJSON)
	if errMsg != nil {
		h.WriteErrorResponse(c, h.HandlerType(), errMsg)
		cancel(errMsg.Error)
		return
	}
	_, _ = c.Writer.Write(resp)
	cancel(resp)
}

func (h *ClaudeAPIHandler) handleStreamingResponse(c *gin.Context, rawJSON []byte) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "api_error",
				"message": "streaming not supported",
			},
		})
		return
	}

	modelName := gjson.GetBytes(rawJSON, "model").String()
	ctx, cancel := h.GetContextWithCancel(c, context.Background())

	dataChan, errChan := h.ExecuteStream(ctx, h.HandlerType(), modelName, rawJSON)
	h.forwardClaudeStream(c, flusher, cancel, dataChan, errChan)
}

// forwardClaudeStream relays translated SSE frames to the client, emitting
// an error event on stream failure and a keepalive tick while idle.
func (h *ClaudeAPIHandler) forwardClaudeStream(c *gin.Context, flusher http.Flusher, cancel handlers.APIHandlerCancelFunc, data <-chan []byte, errs <-chan *interfaces.ErrorMessage) {
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
						h.writeStreamError(c, errMsg)
						flusher.Flush()
						cancel(errMsg.Error)
						return
					}
				default:
				}
				flusher.Flush()
				cancel()
				return
			}
			_, _ = c.Writer.Write(chunk)
			flusher.Flush()
		case errMsg, ok := <-errs:
			if !ok {
				continue
			}
			if errMsg != nil {
				h.writeStreamError(c, errMsg)
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

func (h *ClaudeAPIHandler) writeStreamError(c *gin.Context, errMsg *interfaces.ErrorMessage) {
	payload, _ := sjson.Set(`{"type":"error","error":{"type":"api_error","message":""}}`, "error.message", errMsg.Error.Error())
	_, _ = fmt.Fprintf(c.Writer, "event: error\ndata: %s\n\n", payload)
}
