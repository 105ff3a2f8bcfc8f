// Package constant defines protocol format identifiers used throughout the
// Antigravity Proxy API. These constants name the client-facing protocols and
// the internal backend format, ensuring consistent naming across the
// application.
package constant

const (
	// OpenAI represents the OpenAI chat-completions protocol identifier.
	OpenAI = "openai"

	// OpenAIResponse represents the OpenAI responses protocol identifier.
	OpenAIResponse = "openai-response"

	// Claude represents the Anthropic messages protocol identifier.
	Claude = "claude"

	// Gemini represents the public Gemini generateContent protocol identifier.
	Gemini = "gemini"

	// Antigravity represents the internal cloudcode generation backend identifier.
	Antigravity = "antigravity"
)
