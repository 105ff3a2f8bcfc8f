// Package registry owns model identity: the catalog of model IDs the proxy
// exposes on its listing endpoints, the image-variant grid, and the routing
// rules that turn a client-supplied model name into the upstream model ID.
package registry

import (
	"fmt"
	"strings"
)

// Catalog constants for the listing endpoints.
const (
	// ModelOwner is the owned_by value reported for every exposed model.
	ModelOwner = "antigravity"

	// ModelCreated is the fixed created timestamp reported for every model.
	ModelCreated = 1770652800
)

// ModelInfo describes one model exposed by the listing endpoints.
type ModelInfo struct {
	ID                  string
	DisplayName         string
	Description         string
	ContextLength       int
	MaxCompletionTokens int
	Thinking            bool
}

// baseModels is the upstream generation set. Image variants are appended
// dynamically by AntigravityModels.
var baseModels = []*ModelInfo{
	{ID: "gemini-3-pro-preview", DisplayName: "Gemini 3 Pro Preview", Description: "Gemini 3 Pro preview channel", ContextLength: 1_048_576, MaxCompletionTokens: 65_536, Thinking: true},
	{ID: "gemini-3-pro-high", DisplayName: "Gemini 3 Pro High", Description: "Gemini 3 Pro with high reasoning effort", ContextLength: 1_048_576, MaxCompletionTokens: 65_536, Thinking: true},
	{ID: "gemini-3-flash", DisplayName: "Gemini 3 Flash", Description: "Gemini 3 Flash", ContextLength: 1_048_576, MaxCompletionTokens: 65_536, Thinking: true},
	{ID: "gemini-3-flash-preview", DisplayName: "Gemini 3 Flash Preview", Description: "Gemini 3 Flash preview channel", ContextLength: 1_048_576, MaxCompletionTokens: 65_536, Thinking: true},
	{ID: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", Description: "Gemini 2.5 Flash", ContextLength: 1_048_576, MaxCompletionTokens: 65_536, Thinking: true},
	{ID: "gemini-2.5-flash-lite", DisplayName: "Gemini 2.5 Flash Lite", Description: "Gemini 2.5 Flash Lite", ContextLength: 1_048_576, MaxCompletionTokens: 65_536, Thinking: true},
	{ID: "gemini-3-pro-image-preview", DisplayName: "Gemini 3 Pro Image Preview", Description: "Gemini 3 Pro image generation, preview channel", ContextLength: 32_768, MaxCompletionTokens: 8_192},
	{ID: "claude-sonnet-4-5", DisplayName: "Claude Sonnet 4.5", Description: "Claude Sonnet 4.5", ContextLength: 200_000, MaxCompletionTokens: 64_000},
	{ID: "claude-sonnet-4-5-thinking", DisplayName: "Claude Sonnet 4.5 Thinking", Description: "Claude Sonnet 4.5 with extended thinking", ContextLength: 200_000, MaxCompletionTokens: 64_000, Thinking: true},
	{ID: "claude-opus-4-5-thinking", DisplayName: "Claude Opus 4.5 Thinking", Description: "Claude Opus 4.5 with extended thinking", ContextLength: 200_000, MaxCompletionTokens: 64_000, Thinking: true},
}

// Image variant grid. The bare size and bare aspect combine with each other
// and with the base id, giving 21 image model IDs in total.
var (
	imageVariantSizes   = []string{"", "-2k", "-4k"}
	imageVariantAspects = []string{"", "-1x1", "-4x3", "-3x4", "-16x9", "-9x16", "-21x9"}
)

// ImageBaseModel is the upstream model behind every image variant ID.
const ImageBaseModel = "gemini-3-pro-image"

// ImageVariantIDs returns the full image model grid, base id included.
func ImageVariantIDs() []string {
	ids := make([]string, 0, len(imageVariantSizes)*len(imageVariantAspects))
	for _, size := range imageVariantSizes {
		for _, aspect := range imageVariantAspects {
			ids = append(ids, ImageBaseModel+size+aspect)
		}
	}
	return ids
}

// ParseImageVariant splits an image variant ID into the upstream base model
// and its generation knobs. ok is false for non-image models.
func ParseImageVariant(modelID string) (base, imageSize, aspectRatio string, ok bool) {
	if !strings.HasPrefix(modelID, ImageBaseModel) {
		return "", "", "", false
	}
	suffix := strings.TrimPrefix(modelID, ImageBaseModel)
	if suffix == "-preview" {
		return "gemini-3-pro-image-preview", "", "", true
	}
	rest := suffix
	for _, size := range []string{"-2k", "-4k"} {
		if strings.HasPrefix(rest, size) {
			imageSize = strings.ToUpper(strings.TrimPrefix(size, "-"))
			rest = strings.TrimPrefix(rest, size)
			break
		}
	}
	if rest != "" {
		aspect := strings.TrimPrefix(rest, "-")
		parts := strings.Split(aspect, "x")
		if len(parts) != 2 {
			return "", "", "", false
		}
		aspectRatio = parts[0] + ":" + parts[1]
	}
	return ImageBaseModel, imageSize, aspectRatio, true
}

// AntigravityModels returns the complete exposed catalog: the base set plus
// every image variant.
func AntigravityModels() []*ModelInfo {
	models := make([]*ModelInfo, 0, len(baseModels)+21)
	models = append(models, baseModels...)
	for _, id := range ImageVariantIDs() {
		info := &ModelInfo{
			ID:                  id,
			DisplayName:         "Gemini 3 Pro Image",
			Description:         "Gemini 3 Pro image generation",
			ContextLength:       32_768,
			MaxCompletionTokens: 8_192,
		}
		if _, size, aspect, _ := ParseImageVariant(id); size != "" || aspect != "" {
			info.Description = fmt.Sprintf("Gemini 3 Pro image generation (%s)", strings.TrimPrefix(id, ImageBaseModel+"-"))
		}
		models = append(models, info)
	}
	return models
}

// LookupModel returns the catalog entry for id, or nil when unknown.
func LookupModel(id string) *ModelInfo {
	for _, m := range AntigravityModels() {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// OpenAIModelList renders the catalog in the OpenAI models list shape.
func OpenAIModelList() []map[string]any {
	models := AntigravityModels()
	out := make([]map[string]any, 0, len(models))
	for _, m := range models {
		out = append(out, map[string]any{
			"id":       m.ID,
			"object":   "model",
			"created":  ModelCreated,
			"owned_by": ModelOwner,
		})
	}
	return out
}

// GeminiModelEntry renders one catalog entry in the Gemini models shape.
func GeminiModelEntry(m *ModelInfo) map[string]any {
	return map[string]any{
		"name":                       "models/" + m.ID,
		"version":                    "001",
		"displayName":                m.DisplayName,
		"description":                m.Description,
		"inputTokenLimit":            m.ContextLength,
		"outputTokenLimit":           m.MaxCompletionTokens,
		"supportedGenerationMethods": []string{"generateContent", "streamGenerateContent", "countTokens"},
	}
}

// GeminiModelList renders the catalog in the Gemini models list shape.
func GeminiModelList() []map[string]any {
	models := AntigravityModels()
	out := make([]map[string]any, 0, len(models))
	for _, m := range models {
		out = append(out, GeminiModelEntry(m))
	}
	return out
}
