package gemini

import (
	"context"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// internal-only response fields never shown to public Gemini clients.
var scrubbedFields = []string{
	"createTime",
	"responseId",
	"traceId",
	"usageMetadata.trafficType",
	"usageMetadata.promptTokensDetails",
	"usageMetadata.candidatesTokensDetails",
}

func unwrapAndScrub(rawJSON []byte) string {
	body := string(rawJSON)
	if inner := gjson.Get(body, "response"); inner.Exists() {
		body = inner.Raw
	}
	for _, field := range scrubbedFields {
		body, _ = sjson.Delete(body, field)
	}
	return body
}

// ConvertAntigravityResponseToGemini unwraps one internal stream frame into a
// public Gemini streamGenerateContent chunk.
func ConvertAntigravityResponseToGemini(_ context.Context, _ string, _, _ []byte, rawJSON []byte, _ *any) []string {
	if string(rawJSON) == "[DONE]" {
		return nil
	}
	if !gjson.ValidBytes(rawJSON) {
		return nil
	}
	return []string{unwrapAndScrub(rawJSON)}
}

// ConvertAntigravityResponseToGeminiNonStream unwraps a complete internal
// response into a public Gemini generateContent body.
func ConvertAntigravityResponseToGeminiNonStream(_ context.Context, _ string, _, _ []byte, rawJSON []byte, _ *any) string {
	return unwrapAndScrub(rawJSON)
}
