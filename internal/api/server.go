// Package api assembles the HTTP server: the gin engine, the middleware
// chain, the three protocol frontends, and the management API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/AntigravityProxyAPI/internal/api/handlers"
	"github.com/router-for-me/AntigravityProxyAPI/internal/api/handlers/claude"
	"github.com/router-for-me/AntigravityProxyAPI/internal/api/handlers/gemini"
	"github.com/router-for-me/AntigravityProxyAPI/internal/api/handlers/management"
	"github.com/router-for-me/AntigravityProxyAPI/internal/api/handlers/openai"
	"github.com/router-for-me/AntigravityProxyAPI/internal/api/middleware"
	"github.com/router-for-me/AntigravityProxyAPI/internal/auth"
	"github.com/router-for-me/AntigravityProxyAPI/internal/config"
	"github.com/router-for-me/AntigravityProxyAPI/internal/logging"
	"github.com/router-for-me/AntigravityProxyAPI/internal/orchestrator"
	"github.com/router-for-me/AntigravityProxyAPI/internal/pool"
)

// Server is the running HTTP server with its handlers and configuration.
type Server struct {
	engine         *gin.Engine
	server         *http.Server
	handlers       *handlers.BaseAPIHandler
	cfg            *config.Config
	requestLogger  *logging.FileRequestLogger
	configFilePath string
	mgmt           *management.Handler
}

// NewServer builds the server over an orchestrator and the account pool.
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, store auth.CloudAccountStore, tokenPool *pool.TokenPool, configFilePath string) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())

	requestLogger := logging.NewFileRequestLogger(cfg.RequestLog, "logs")
	engine.Use(middleware.RequestLogging(requestLogger))
	engine.Use(corsMiddleware())

	s := &Server{
		engine:         engine,
		handlers:       handlers.NewBaseAPIHandler(cfg, orch),
		cfg:            cfg,
		requestLogger:  requestLogger,
		configFilePath: configFilePath,
	}
	s.mgmt = management.NewHandler(cfg, configFilePath, store, tokenPool, s.UpdateConfig)

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Proxy.Port),
		Handler: engine,
	}
	return s
}

func (s *Server) setupRoutes() {
	openaiHandlers := openai.NewOpenAIAPIHandler(s.handlers)
	responsesHandlers := openai.NewOpenAIResponsesAPIHandler(s.handlers)
	claudeHandlers := claude.NewClaudeAPIHandler(s.handlers)
	geminiHandlers := gemini.NewGeminiAPIHandler(s.handlers)

	apiKeyAuth := middleware.APIKeyAuth(func() string { return s.cfg.Proxy.APIKey })

	v1 := s.engine.Group("/v1")
	v1.Use(apiKeyAuth)
	{
		v1.GET("/models", s.unifiedModelsHandler(openaiHandlers, claudeHandlers))
		v1.POST("/chat/completions", s.requireEnabled(openaiHandlers.ChatCompletions))
		v1.POST("/completions", s.requireEnabled(openaiHandlers.Completions))
		v1.POST("/responses", s.requireEnabled(responsesHandlers.Responses))
		v1.POST("/images/generations", s.requireEnabled(openaiHandlers.ImagesGenerations))
		v1.POST("/images/edits", s.requireEnabled(openaiHandlers.ImagesEdits))
		v1.POST("/audio/transcriptions", s.requireEnabled(openaiHandlers.AudioTranscriptions))
		v1.POST("/messages", s.requireEnabled(claudeHandlers.ClaudeMessages))
	}

	v1beta := s.engine.Group("/v1beta")
	v1beta.Use(apiKeyAuth)
	{
		v1beta.GET("/models", geminiHandlers.GeminiModels)
		v1beta.GET("/models/:modelAction", geminiHandlers.ModelDetail)
		v1beta.POST("/models/:modelAction", s.requireEnabled(geminiHandlers.ModelAction))
		v1beta.POST("/models/:modelAction/countTokens", geminiHandlers.CountTokens)
	}

	s.mgmt.RegisterRoutes(s.engine.Group("/v0/management"))
}

// requireEnabled blocks generation routes while the proxy core is disabled.
func (s *Server) requireEnabled(handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.Proxy.Enabled {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": gin.H{
					"message": "proxy is disabled",
					"type":    "service_unavailable",
				},
			})
			return
		}
		handler(c)
	}
}

// unifiedModelsHandler serves /v1/models for both OpenAI and Anthropic
// clients. The Claude CLI identifies itself by User-Agent and expects the
// Anthropic list shape.
func (s *Server) unifiedModelsHandler(openaiHandler *openai.OpenAIAPIHandler, claudeHandler *claude.ClaudeAPIHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.GetHeader("User-Agent"), "claude-cli") {
			claudeHandler.ClaudeModels(c)
			return
		}
		openaiHandler.OpenAIModels(c)
	}
}

// Start runs the HTTP server until Stop or a listener error.
func (s *Server) Start() error {
	log.Infof("starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	log.Debug("API server stopped")
	return nil
}

// UpdateConfig swaps the live configuration after a reload, adjusting the
// log level and request logging on the fly.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.cfg = cfg
	s.handlers.UpdateConfig(cfg)
	s.handlers.Orchestrator.UpdateConfig(cfg)
	s.mgmt.SetConfig(cfg)
	s.requestLogger.SetEnabled(cfg.RequestLog)
	logging.SetLogLevel(cfg.Debug)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, x-api-key, x-goog-api-key, anthropic-version, anthropic-beta")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
