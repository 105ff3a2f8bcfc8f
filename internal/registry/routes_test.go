package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveModelRoutePriorities(t *testing.T) {
	custom := map[string]string{
		"gpt-4": "custom-target",
	}
	openaiFamily := map[string]string{
		FamilyGPT4: "family-target",
	}

	// Custom exact beats the family group and the static table.
	assert.Equal(t, "custom-target", ResolveModelRoute("gpt-4", custom, openaiFamily, nil))

	// Family group beats the static table.
	assert.Equal(t, "family-target", ResolveModelRoute("gpt-4-0613", nil, openaiFamily, nil))

	// Static table applies when nothing is configured.
	assert.Equal(t, "gemini-3-pro-high", ResolveModelRoute("gpt-4", nil, nil, nil))

	// Identity for unknown names.
	assert.Equal(t, "my-own-model", ResolveModelRoute("my-own-model", nil, nil, nil))
}

func TestResolveModelRouteWildcards(t *testing.T) {
	custom := map[string]string{
		"claude-*":          "wildcard-target",
		"claude-sonnet-4-5": "exact-target",
	}

	// Wildcard patterns are evaluated before exact entries.
	assert.Equal(t, "wildcard-target", ResolveModelRoute("claude-sonnet-4-5", custom, nil, nil))

	// Case-insensitive, anchored.
	assert.Equal(t, "wildcard-target", ResolveModelRoute("CLAUDE-OPUS-4-5", custom, nil, nil))
	assert.Equal(t, "not-claude-x", ResolveModelRoute("not-claude-x", map[string]string{"claude-*": "t"}, nil, nil))
}

func TestResolveModelRouteStripsModelsPrefix(t *testing.T) {
	assert.Equal(t, "gemini-3-flash", ResolveModelRoute("models/gpt-4o", nil, nil, nil))
	assert.Equal(t, "gemini-2.5-flash", ResolveModelRoute("models/gemini-2.5-flash", nil, nil, nil))
}

func TestResolveModelRouteOpenAIFamilies(t *testing.T) {
	openaiFamily := map[string]string{
		FamilyGPT4:  "four",
		FamilyGPT4o: "four-o",
	}

	// Classic GPT-4 and the o1/o3 reasoning line.
	assert.Equal(t, "four", ResolveModelRoute("gpt-4-32k", nil, openaiFamily, nil))
	assert.Equal(t, "four", ResolveModelRoute("o1-preview", nil, openaiFamily, nil))
	assert.Equal(t, "four", ResolveModelRoute("o3", nil, openaiFamily, nil))

	// Mini, turbo, 4o, and 3.5 blends land in the 4o bucket.
	assert.Equal(t, "four-o", ResolveModelRoute("gpt-4o", nil, openaiFamily, nil))
	assert.Equal(t, "four-o", ResolveModelRoute("gpt-4-turbo", nil, openaiFamily, nil))
	assert.Equal(t, "four-o", ResolveModelRoute("gpt-3.5-turbo", nil, openaiFamily, nil))
	assert.Equal(t, "four-o", ResolveModelRoute("o1-mini", nil, openaiFamily, nil))

	// GPT-5 falls back to the GPT-4 mapping when it has no key of its own.
	assert.Equal(t, "four", ResolveModelRoute("gpt-5", nil, openaiFamily, nil))
	openaiFamily[FamilyGPT5] = "five"
	assert.Equal(t, "five", ResolveModelRoute("gpt-5-codex", nil, openaiFamily, nil))
}

func TestResolveModelRouteClaudeFamilies(t *testing.T) {
	anthropicFamily := map[string]string{
		FamilyClaude45:      "route-45",
		FamilyClaude35:      "route-35",
		FamilyClaudeDefault: "route-default",
	}

	assert.Equal(t, "route-45", ResolveModelRoute("claude-sonnet-4-5", nil, nil, anthropicFamily))
	assert.Equal(t, "route-45", ResolveModelRoute("claude-opus-4.5", nil, nil, anthropicFamily))
	assert.Equal(t, "route-35", ResolveModelRoute("claude-3-5-haiku-20241022", nil, nil, anthropicFamily))
	assert.Equal(t, "route-default", ResolveModelRoute("claude-2.1", nil, nil, anthropicFamily))

	// A missing specific key falls back to claude-default.
	partial := map[string]string{FamilyClaudeDefault: "route-default"}
	assert.Equal(t, "route-default", ResolveModelRoute("claude-sonnet-4-5", nil, nil, partial))
}

func TestResolveModelRouteStaticAliases(t *testing.T) {
	assert.Equal(t, "claude-opus-4-5-thinking", ResolveModelRoute("claude-opus-4-5", nil, nil, nil))
	assert.Equal(t, "claude-sonnet-4-5", ResolveModelRoute("claude-3-5-sonnet-20241022", nil, nil, nil))
	assert.Equal(t, "gemini-2.5-flash", ResolveModelRoute("claude-3-5-haiku-20241022", nil, nil, nil))
	assert.Equal(t, "gemini-3-pro-preview", ResolveModelRoute("gemini-1.5-pro", nil, nil, nil))

	// Upstream-native IDs resolve by identity.
	assert.Equal(t, "claude-sonnet-4-5-thinking", ResolveModelRoute("claude-sonnet-4-5-thinking", nil, nil, nil))
	assert.Equal(t, "gemini-3-pro-preview", ResolveModelRoute("gemini-3-pro-preview", nil, nil, nil))
}

func TestImageVariantGrid(t *testing.T) {
	ids := ImageVariantIDs()
	assert.Len(t, ids, 21)
	assert.Contains(t, ids, "gemini-3-pro-image")
	assert.Contains(t, ids, "gemini-3-pro-image-2k")
	assert.Contains(t, ids, "gemini-3-pro-image-4k-21x9")
	assert.Contains(t, ids, "gemini-3-pro-image-9x16")

	// Variants route by identity; the request builder splits the suffix.
	assert.Equal(t, "gemini-3-pro-image-4k-16x9", ResolveModelRoute("gemini-3-pro-image-4k-16x9", nil, nil, nil))
}

func TestParseImageVariant(t *testing.T) {
	base, size, aspect, ok := ParseImageVariant("gemini-3-pro-image")
	assert.True(t, ok)
	assert.Equal(t, "gemini-3-pro-image", base)
	assert.Empty(t, size)
	assert.Empty(t, aspect)

	base, size, aspect, ok = ParseImageVariant("gemini-3-pro-image-4k-16x9")
	assert.True(t, ok)
	assert.Equal(t, "gemini-3-pro-image", base)
	assert.Equal(t, "4K", size)
	assert.Equal(t, "16:9", aspect)

	base, size, aspect, ok = ParseImageVariant("gemini-3-pro-image-1x1")
	assert.True(t, ok)
	assert.Equal(t, "gemini-3-pro-image", base)
	assert.Empty(t, size)
	assert.Equal(t, "1:1", aspect)

	base, _, _, ok = ParseImageVariant("gemini-3-pro-image-preview")
	assert.True(t, ok)
	assert.Equal(t, "gemini-3-pro-image-preview", base)

	_, _, _, ok = ParseImageVariant("gemini-3-flash")
	assert.False(t, ok)
}

func TestModelCatalog(t *testing.T) {
	models := AntigravityModels()
	byID := map[string]*ModelInfo{}
	for _, m := range models {
		byID[m.ID] = m
	}

	// The catalog carries the base generation set plus all 21 image IDs.
	assert.Contains(t, byID, "gemini-3-pro-high")
	assert.Contains(t, byID, "claude-sonnet-4-5-thinking")
	assert.Contains(t, byID, "gemini-3-pro-image-2k-1x1")
	assert.Len(t, models, len(baseModels)+21)

	list := OpenAIModelList()
	assert.Len(t, list, len(models))
	for _, entry := range list {
		assert.Equal(t, ModelOwner, entry["owned_by"])
		assert.Equal(t, ModelCreated, entry["created"])
		assert.Equal(t, "model", entry["object"])
	}

	gemini := GeminiModelList()
	assert.Len(t, gemini, len(models))
	assert.Equal(t, "models/gemini-3-pro-preview", gemini[0]["name"])
}
