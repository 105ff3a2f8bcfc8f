package translator

import (
	_ "github.com/router-for-me/AntigravityProxyAPI/internal/translator/antigravity/claude"
	_ "github.com/router-for-me/AntigravityProxyAPI/internal/translator/antigravity/gemini"
	_ "github.com/router-for-me/AntigravityProxyAPI/internal/translator/antigravity/openai"
)
