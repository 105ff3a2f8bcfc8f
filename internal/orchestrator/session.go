package orchestrator

import (
	"github.com/tidwall/gjson"

	"github.com/router-for-me/AntigravityProxyAPI/internal/constant"
)

// sessionIdentityFields are probed in order inside the protocol's metadata
// container; the first string value wins.
var sessionIdentityFields = []string{"session_id", "sessionId", "user_id", "userId"}

// sessionKey derives the sticky-session key for a request, or "" when the
// request carries no usable identity.
func sessionKey(handlerType string, rawJSON []byte) string {
	var container, prefix string
	switch handlerType {
	case constant.Claude:
		container, prefix = "metadata", "anthropic:"
	case constant.OpenAI, constant.OpenAIResponse:
		container, prefix = "extra", "openai:"
	default:
		return ""
	}

	for _, field := range sessionIdentityFields {
		value := gjson.GetBytes(rawJSON, container+"."+field)
		if value.Type == gjson.String && value.String() != "" {
			return prefix + value.String()
		}
	}
	return ""
}
