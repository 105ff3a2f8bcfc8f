// Package handlers provides the shared plumbing for the protocol frontends:
// the base handler that delegates to the orchestrator, request-scoped context
// management, and error rendering in the shape of whichever protocol the
// client spoke.
package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/router-for-me/AntigravityProxyAPI/internal/config"
	"github.com/router-for-me/AntigravityProxyAPI/internal/constant"
	"github.com/router-for-me/AntigravityProxyAPI/internal/interfaces"
	"github.com/router-for-me/AntigravityProxyAPI/internal/orchestrator"
)

// ErrorResponse is the OpenAI-style error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the rendered error fields.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// APIHandlerCancelFunc finishes a request-scoped context, optionally
// recording the response payload for the request logger.
type APIHandlerCancelFunc func(params ...any)

// BaseAPIHandler is embedded by every protocol frontend.
type BaseAPIHandler struct {
	Cfg          *config.Config
	Orchestrator *orchestrator.Orchestrator
}

// NewBaseAPIHandler wires the base handler.
func NewBaseAPIHandler(cfg *config.Config, orch *orchestrator.Orchestrator) *BaseAPIHandler {
	return &BaseAPIHandler{Cfg: cfg, Orchestrator: orch}
}

// UpdateConfig swaps the configuration after a reload.
func (h *BaseAPIHandler) UpdateConfig(cfg *config.Config) {
	h.Cfg = cfg
}

// GetAlt extracts the alt query parameter, treating "sse" as unset.
func (h *BaseAPIHandler) GetAlt(c *gin.Context) string {
	alt, hasAlt := c.GetQuery("alt")
	if !hasAlt {
		alt, _ = c.GetQuery("$alt")
	}
	if alt == "sse" {
		return ""
	}
	return alt
}

// GetContextWithCancel derives the request context and returns a cancel
// function that records the response body for the request logger when
// request logging is on.
func (h *BaseAPIHandler) GetContextWithCancel(c *gin.Context, ctx context.Context) (context.Context, APIHandlerCancelFunc) {
	newCtx, cancel := context.WithCancel(ctx)
	return newCtx, func(params ...any) {
		if h.Cfg != nil && h.Cfg.RequestLog && len(params) == 1 {
			switch data := params[0].(type) {
			case []byte:
				c.Set("API_RESPONSE", data)
			case string:
				c.Set("API_RESPONSE", []byte(data))
			case error:
				c.Set("API_RESPONSE", []byte(data.Error()))
			}
		}
		cancel()
	}
}

// Execute forwards a non-streaming request to the orchestrator.
func (h *BaseAPIHandler) Execute(ctx context.Context, handlerType, modelName string, rawJSON []byte) ([]byte, *interfaces.ErrorMessage) {
	return h.Orchestrator.Execute(ctx, handlerType, modelName, rawJSON)
}

// ExecuteStream forwards a streaming request to the orchestrator.
func (h *BaseAPIHandler) ExecuteStream(ctx context.Context, handlerType, modelName string, rawJSON []byte) (<-chan []byte, <-chan *interfaces.ErrorMessage) {
	return h.Orchestrator.ExecuteStream(ctx, handlerType, modelName, rawJSON)
}

// statusMapping is evaluated in order; the first substring hit wins.
var statusMapping = []struct {
	status   int
	keywords []string
}{
	{503, []string{"all accounts failed", "unhealthy"}},
	{429, []string{"exhausted", "no available accounts"}},
	{503, []string{"socket hang up", "econnreset", "eai_again", "secure tls connection", "network socket disconnected"}},
	{401, []string{"401", "unauthorized"}},
	{403, []string{"403", "forbidden"}},
	{429, []string{"429", "rate limit", "quota"}},
	{503, []string{"503", "service unavailable"}},
	{502, []string{"502", "bad gateway"}},
	{504, []string{"504", "timeout"}},
}

// StatusForError maps an upstream failure message onto the client-facing
// HTTP status.
func StatusForError(errMsg *interfaces.ErrorMessage) int {
	if errMsg == nil {
		return 500
	}
	message := ""
	if errMsg.Error != nil {
		message = strings.ToLower(errMsg.Error.Error())
	}
	for _, entry := range statusMapping {
		for _, keyword := range entry.keywords {
			if strings.Contains(message, keyword) {
				return entry.status
			}
		}
	}
	if errMsg.StatusCode >= 400 && errMsg.StatusCode < 600 {
		return errMsg.StatusCode
	}
	return 500
}

func errorTypeForStatus(status int) string {
	switch status {
	case 401:
		return "authentication_error"
	case 403:
		return "permission_error"
	case 429:
		return "rate_limit_error"
	case 400:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

func googleStatusForCode(status int) string {
	switch status {
	case 400:
		return "INVALID_ARGUMENT"
	case 401:
		return "UNAUTHENTICATED"
	case 403:
		return "PERMISSION_DENIED"
	case 429:
		return "RESOURCE_EXHAUSTED"
	case 503:
		return "UNAVAILABLE"
	case 504:
		return "DEADLINE_EXCEEDED"
	default:
		return "INTERNAL"
	}
}

// WriteErrorResponse renders an upstream failure in the protocol the client
// spoke.
func (h *BaseAPIHandler) WriteErrorResponse(c *gin.Context, handlerType string, errMsg *interfaces.ErrorMessage) {
	status := StatusForError(errMsg)
	message := "internal error"
	if errMsg != nil && errMsg.Error != nil {
		message = errMsg.Error.Error()
	}

	switch handlerType {
	case constant.Claude:
		c.JSON(status, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    errorTypeForStatus(status),
				"message": message,
			},
		})
	case constant.Gemini:
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    status,
				"message": message,
				"status":  googleStatusForCode(status),
			},
		})
	default:
		c.JSON(status, ErrorResponse{Error: ErrorDetail{
			Message: message,
			Type:    errorTypeForStatus(status),
		}})
	}
}
