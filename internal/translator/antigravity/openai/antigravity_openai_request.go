// Package openai translates between OpenAI Chat Completions format and the
// antigravity internal generateContent format. Requests route through the
// Anthropic representation so tool and image handling stays in one place;
// stream responses map frame by frame onto chat.completion.chunk objects.
package openai

import (
	agclaude "github.com/router-for-me/AntigravityProxyAPI/internal/translator/antigravity/claude"
	oaiclaude "github.com/router-for-me/AntigravityProxyAPI/internal/translator/openai/claude"
)

// ConvertOpenAIRequestToAntigravity builds the internal envelope from an
// OpenAI Chat Completions request by composing the OpenAI to Anthropic and
// Anthropic to antigravity conversions.
func ConvertOpenAIRequestToAntigravity(modelName string, rawJSON []byte, stream bool) []byte {
	claudeJSON := oaiclaude.ConvertOpenAIRequestToClaude(modelName, rawJSON, stream)
	return agclaude.ConvertClaudeRequestToAntigravity(modelName, claudeJSON, stream)
}
