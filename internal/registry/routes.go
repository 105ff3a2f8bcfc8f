package registry

import (
	"regexp"
	"strings"
	"sync"
)

// Family group keys accepted in the mapping configuration.
const (
	FamilyGPT4          = "gpt-4-series"
	FamilyGPT4o         = "gpt-4o-series"
	FamilyGPT5          = "gpt-5-series"
	FamilyClaude45      = "claude-4.5-series"
	FamilyClaude35      = "claude-3.5-series"
	FamilyClaudeDefault = "claude-default"
)

// claudeToGemini is the static alias table consulted after the configured
// overrides. Upstream-native IDs resolve by identity and are not listed.
var claudeToGemini = map[string]string{
	"claude-opus-4-5":            "claude-opus-4-5-thinking",
	"claude-sonnet-4-20250514":   "claude-sonnet-4-5",
	"claude-3-7-sonnet-20250219": "claude-sonnet-4-5",
	"claude-3-5-sonnet-20241022": "claude-sonnet-4-5",
	"claude-3-5-haiku-20241022":  "gemini-2.5-flash",
	"claude-3-haiku-20240307":    "gemini-2.5-flash-lite",

	"gpt-4":         "gemini-3-pro-high",
	"gpt-4-turbo":   "gemini-3-pro-preview",
	"gpt-4o":        "gemini-3-flash",
	"gpt-4o-mini":   "gemini-2.5-flash",
	"gpt-3.5-turbo": "gemini-2.5-flash-lite",
	"gpt-5":         "gemini-3-pro-high",
	"o1":            "gemini-3-pro-high",
	"o1-preview":    "gemini-3-pro-high",
	"o1-mini":       "gemini-3-flash",
	"o3":            "gemini-3-pro-high",
	"o3-mini":       "gemini-3-flash",

	"gemini-pro":       "gemini-3-pro-preview",
	"gemini-1.5-pro":   "gemini-3-pro-preview",
	"gemini-1.5-flash": "gemini-2.5-flash",
	"gemini-2.0-flash": "gemini-2.5-flash",
}

var (
	wildcardMu    sync.Mutex
	wildcardCache = map[string]*regexp.Regexp{}
)

// wildcardPattern compiles a "*" mapping key into a case-insensitive anchored
// regexp. Compiled patterns are cached; mapping keys are config-bounded.
func wildcardPattern(key string) *regexp.Regexp {
	wildcardMu.Lock()
	defer wildcardMu.Unlock()
	if re, ok := wildcardCache[key]; ok {
		return re
	}
	parts := strings.Split(key, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("(?i)^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil
	}
	wildcardCache[key] = re
	return re
}

// ResolveModelRoute maps a client-supplied model name to the upstream model
// ID. Lookup order: custom wildcard patterns, custom exact names, family
// groups, the static alias table, then identity. The custom and family maps
// come from configuration and stay separate so overrides cannot shadow each
// other accidentally.
func ResolveModelRoute(model string, custom, openaiFamily, anthropicFamily map[string]string) string {
	model = strings.TrimPrefix(model, "models/")
	if model == "" {
		return model
	}

	// Wildcard keys win over exact keys so a broad "claude-*" redirect
	// keeps working when narrower exact entries exist alongside it.
	for key, target := range custom {
		if !strings.Contains(key, "*") {
			continue
		}
		if re := wildcardPattern(key); re != nil && re.MatchString(model) {
			return target
		}
	}
	if target, ok := custom[model]; ok {
		return target
	}

	if target, ok := resolveFamily(model, openaiFamily, anthropicFamily); ok {
		return target
	}

	if target, ok := claudeToGemini[model]; ok {
		return target
	}

	return model
}

func resolveFamily(model string, openaiFamily, anthropicFamily map[string]string) (string, bool) {
	lower := strings.ToLower(model)

	if strings.Contains(lower, "claude") {
		var keys []string
		switch {
		case strings.Contains(lower, "4-5"), strings.Contains(lower, "4.5"):
			keys = []string{FamilyClaude45, FamilyClaudeDefault}
		case strings.Contains(lower, "3-5"), strings.Contains(lower, "3.5"):
			keys = []string{FamilyClaude35, FamilyClaudeDefault}
		default:
			keys = []string{FamilyClaudeDefault}
		}
		for _, key := range keys {
			if target, ok := anthropicFamily[key]; ok && target != "" {
				return target, true
			}
		}
		return "", false
	}

	switch openAIFamilyKey(lower) {
	case FamilyGPT5:
		if target, ok := openaiFamily[FamilyGPT5]; ok && target != "" {
			return target, true
		}
		// The GPT-5 series rides the GPT-4 mapping until it gets its own.
		if target, ok := openaiFamily[FamilyGPT4]; ok && target != "" {
			return target, true
		}
	case FamilyGPT4o:
		if target, ok := openaiFamily[FamilyGPT4o]; ok && target != "" {
			return target, true
		}
	case FamilyGPT4:
		if target, ok := openaiFamily[FamilyGPT4]; ok && target != "" {
			return target, true
		}
	}
	return "", false
}

// openAIFamilyKey buckets an OpenAI model name into its mapping family.
// The 4o/3.5 bucket collects every mini, turbo, and "o" blend; the GPT-4
// bucket keeps the classic models plus the o1/o3 reasoning line.
func openAIFamilyKey(lower string) string {
	isOpenAI := strings.HasPrefix(lower, "gpt-") ||
		strings.HasPrefix(lower, "o1") ||
		strings.HasPrefix(lower, "o3")
	if !isOpenAI {
		return ""
	}
	if strings.HasPrefix(lower, "gpt-5") {
		return FamilyGPT5
	}
	if strings.Contains(lower, "4o") || strings.Contains(lower, "mini") ||
		strings.Contains(lower, "turbo") || strings.Contains(lower, "3.5") {
		return FamilyGPT4o
	}
	if strings.HasPrefix(lower, "gpt-4") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3") {
		return FamilyGPT4
	}
	return ""
}
