// Package gemini translates between the public Gemini generateContent format
// and the antigravity internal envelope. The request direction is a thin
// wrapper; the response direction unwraps the internal envelope and scrubs
// internal-only metadata.
package gemini

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertGeminiRequestToAntigravity wraps a public Gemini request in the
// internal envelope. The model moves out of the body, snake_case field names
// are normalized, safetySettings are dropped, and content roles default to
// "user" with "assistant" rewritten to "model".
func ConvertGeminiRequestToAntigravity(modelName string, inputRawJSON []byte, _ bool) []byte {
	rawJSON := bytes.Clone(inputRawJSON)

	rawJSON, _ = sjson.DeleteBytes(rawJSON, "model")
	rawJSON, _ = sjson.DeleteBytes(rawJSON, "safetySettings")
	rawJSON, _ = sjson.DeleteBytes(rawJSON, "safety_settings")

	if instruction := gjson.GetBytes(rawJSON, "system_instruction"); instruction.Exists() {
		rawJSON, _ = sjson.SetRawBytes(rawJSON, "systemInstruction", []byte(instruction.Raw))
		rawJSON, _ = sjson.DeleteBytes(rawJSON, "system_instruction")
	}
	if config := gjson.GetBytes(rawJSON, "generation_config"); config.Exists() {
		rawJSON, _ = sjson.SetRawBytes(rawJSON, "generationConfig", []byte(config.Raw))
		rawJSON, _ = sjson.DeleteBytes(rawJSON, "generation_config")
	}

	gjson.GetBytes(rawJSON, "contents").ForEach(func(key, content gjson.Result) bool {
		path := "contents." + key.String() + ".role"
		switch content.Get("role").String() {
		case "":
			rawJSON, _ = sjson.SetBytes(rawJSON, path, "user")
		case "assistant":
			rawJSON, _ = sjson.SetBytes(rawJSON, path, "model")
		}
		return true
	})

	// Tool declarations use the JSON-schema parameter field upstream.
	gjson.GetBytes(rawJSON, "tools").ForEach(func(toolKey, tool gjson.Result) bool {
		tool.Get("functionDeclarations").ForEach(func(declKey, decl gjson.Result) bool {
			if params := decl.Get("parameters"); params.Exists() {
				base := "tools." + toolKey.String() + ".functionDeclarations." + declKey.String()
				rawJSON, _ = sjson.SetRawBytes(rawJSON, base+".parametersJsonSchema", []byte(params.Raw))
				rawJSON, _ = sjson.DeleteBytes(rawJSON, base+".parameters")
			}
			return true
		})
		return true
	})

	out := `{"project":"","requestId":"","request":{},"model":"","userAgent":"antigravity","requestType":"generate-content"}`
	out, _ = sjson.Set(out, "requestId", uuid.NewString())
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.SetRaw(out, "request", string(rawJSON))

	return []byte(out)
}
