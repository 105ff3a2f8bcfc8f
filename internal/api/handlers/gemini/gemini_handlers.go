// Package gemini implements the native Gemini frontend under /v1beta:
// model listing, generateContent, streamGenerateContent, and countTokens.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/AntigravityProxyAPI/internal/api/handlers"
	. "github.com/router-for-me/AntigravityProxyAPI/internal/constant"
	"github.com/router-for-me/AntigravityProxyAPI/internal/interfaces"
	"github.com/router-for-me/AntigravityProxyAPI/internal/registry"
)

// GeminiAPIHandler serves the native Gemini endpoints.
type GeminiAPIHandler struct {
	*handlers.BaseAPIHandler
}

// NewGeminiAPIHandler creates the Gemini frontend over the base handler.
func NewGeminiAPIHandler(base *handlers.BaseAPIHandler) *GeminiAPIHandler {
	return &GeminiAPIHandler{BaseAPIHandler: base}
}

// HandlerType returns the protocol identifier for this frontend.
func (h *GeminiAPIHandler) HandlerType() string {
	return Gemini
}

// GeminiModels handles GET /v1beta/models.
func (h *GeminiAPIHandler) GeminiModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": registry.GeminiModelList()})
}

// ModelDetail handles GET /v1beta/models/:modelAction.
func (h *GeminiAPIHandler) ModelDetail(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("modelAction"), "models/")
	model := registry.LookupModel(name)
	if model == nil {
		h.writeGeminiError(c, http.StatusNotFound, fmt.Sprintf("model %q not found", name), "NOT_FOUND")
		return
	}
	c.JSON(http.StatusOK, registry.GeminiModelEntry(model))
}

// ModelAction handles POST /v1beta/models/:modelAction where the wildcard
// carries "model:action".
func (h *GeminiAPIHandler) ModelAction(c *gin.Context) {
	modelAction := strings.TrimPrefix(c.Param("modelAction"), "/")
	model, action, found := strings.Cut(modelAction, ":")
	if !found {
		h.writeGeminiError(c, http.StatusBadRequest, "expected models/{model}:{action}", "INVALID_ARGUMENT")
		return
	}
	model = strings.TrimPrefix(model, "models/")

	switch action {
	case "generateContent":
		h.generateContent(c, model)
	case "streamGenerateContent":
		h.streamGenerateContent(c, model)
	case "countTokens":
		h.countTokens(c)
	default:
		h.writeGeminiError(c, http.StatusNotFound, fmt.Sprintf("unknown action %q", action), "NOT_FOUND")
	}
}

// CountTokens handles POST /v1beta/models/:model/countTokens.
func (h *GeminiAPIHandler) CountTokens(c *gin.Context) {
	h.countTokens(c)
}

// countTokens answers locally. Upstream has no token counting endpoint, so
// clients that gate on it always pass.
func (h *GeminiAPIHandler) countTokens(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"totalTokens": 0})
}

func (h *GeminiAPIHandler) generateContent(c *gin.Context, model string) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		h.writeGeminiError(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err), "INVALID_ARGUMENT")
		return
	}

	c.Header("Content-Type", "application/json")
	ctx, cancel := h.GetContextWithCancel(c, context.Background())

	resp, errMsg := h.Execute(ctx, h.HandlerType(), model, rawJSON)
	if errMsg != nil {
		h.WriteErrorResponse(c, h.HandlerType(), errMsg)
		cancel(errMsg.Error)
		return
	}
	_, _ = c.Writer.Write(resp)
	cancel(resp)
}

func (h *GeminiAPIHandler) streamGenerateContent(c *gin.Context, model string) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		h.writeGeminiError(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err), "INVALID_ARGUMENT")
		return
	}

	alt := h.GetAlt(c)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.writeGeminiError(c, http.StatusInternalServerError, "streaming not supported", "INTERNAL")
		return
	}

	ctx, cancel := h.GetContextWithCancel(c, context.Background())
	dataChan, errChan := h.ExecuteStream(ctx, h.HandlerType(), model, rawJSON)
	h.forwardGeminiStream(c, flusher, cancel, alt, dataChan, errChan)
}

// forwardGeminiStream relays frames as data lines. A non-SSE alt value
// renders the chunks as one JSON array instead, the way the upstream API
// answers when alt is unset.
func (h *GeminiAPIHandler) forwardGeminiStream(c *gin.Context, flusher http.Flusher, cancel handlers.APIHandlerCancelFunc, alt string, data <-chan []byte, errs <-chan *interfaces.ErrorMessage) {
	asArray := alt != ""
	if asArray {
		c.Header("Content-Type", "application/json")
		_, _ = c.Writer.Write([]byte("["))
	}
	sentAny := false

	finish := func() {
		if asArray {
			_, _ = c.Writer.Write([]byte("]"))
		}
		flusher.Flush()
	}

	writeChunk := func(chunk []byte) {
		if asArray {
			if sentAny {
				_, _ = c.Writer.Write([]byte(","))
			}
			_, _ = c.Writer.Write(chunk)
		} else {
			_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", chunk)
		}
		flusher.Flush()
		sentAny = true
	}

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
						finish()
						cancel(errMsg.Error)
						return
					}
				default:
				}
				finish()
				cancel()
				return
			}
			writeChunk(chunk)
		case errMsg, ok := <-errs:
			if !ok {
				continue
			}
			if errMsg != nil {
				h.writeStreamError(c, errMsg, sentAny)
				finish()
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

func (h *GeminiAPIHandler) writeStreamError(c *gin.Context, errMsg *interfaces.ErrorMessage, sentAny bool) {
	if !sentAny {
		h.WriteErrorResponse(c, h.HandlerType(), errMsg)
		return
	}
	status := handlers.StatusForError(errMsg)
	payload := `{"error":{"code":0,"message":"","status":"INTERNAL"}}`
	payload, _ = sjson.Set(payload, "error.code", status)
	payload, _ = sjson.Set(payload, "error.message", errMsg.Error.Error())
	_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
}

func (h *GeminiAPIHandler) writeGeminiError(c *gin.Context, code int, message, status string) {
	c.JSON(code, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
}
