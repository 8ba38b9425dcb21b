// Package types defines core data structures for the bridge API surface.
// The client-facing types are compatible with OpenAI's Chat Completion API
// format; the bridge types mirror the payload consumed by the browser peer.
package types //nolint:revive // package name is intentional

// ChatRequest represents an OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	N           int           `json:"n,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	User        string        `json:"user,omitempty"`
}

// ChatMessage represents a single message in the conversation.
type ChatMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
	Name    string         `json:"name,omitempty"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// EstimatePromptTokens applies the rough len/4 heuristic over all text
// parts of the request messages.
func (r *ChatRequest) EstimatePromptTokens() int {
	total := 0
	for _, msg := range r.Messages {
		total += len(msg.Content.PlainText()) / 4
	}
	return total
}
