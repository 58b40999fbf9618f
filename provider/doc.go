// Package provider implements the translation layer between the internal
// message model and each upstream chat-completion service.
//
// Each translator owns its provider's wire dialect end to end: it renders
// the outbound JSON request (system extraction, role mapping, tool-call
// re-encoding), parses the response envelope into an assistant message
// with normalized usage, and decodes the provider's SSE stream through
// the shared parser in package sse.
//
// Translators are pure about conversion: the encode/decode helpers take
// and return values with no transport state, and the HTTP client around
// them is replaceable for tests via WithBaseURL and WithHTTPClient.
//
// Supported dialects:
//
//   - OpenAI-style function calling (openai.go)
//   - Anthropic-style content blocks (anthropic.go)
//   - Gemini-style parts (gemini.go)
//   - Anthropic on AWS Bedrock, reusing the Anthropic wire body with the
//     AWS SDK as signed transport (bedrock.go)
package provider
