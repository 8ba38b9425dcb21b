package types //nolint:revive // package name is intentional

import "github.com/goccy/go-json"

// BridgePayload is the simplified payload the browser peer replays into the
// upstream web application.
type BridgePayload struct {
	MessageTemplates []MessageTemplate `json:"message_templates"`
	TargetModelID    *string           `json:"target_model_id"`
	SessionID        string            `json:"session_id"`
	MessageID        string            `json:"message_id"`
	IsImageRequest   bool              `json:"is_image_request,omitempty"`
}

// MessageTemplate is one upstream message with its attachments and the
// participant position assigned by the active session mode.
type MessageTemplate struct {
	Role                    string       `json:"role"`
	Content                 string       `json:"content"`
	Attachments             []Attachment `json:"attachments"`
	ExperimentalAttachments []Attachment `json:"experimental_attachments,omitempty"`
	ParticipantPosition     string       `json:"participantPosition,omitempty"`
}

// Attachment references an uploaded or inline file.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

// PeerRequest is the envelope the bridge sends to the browser peer for one
// relayed completion.
type PeerRequest struct {
	RequestID string        `json:"request_id"`
	Payload   BridgePayload `json:"payload"`
}

// PeerCommand is an out-of-band instruction to the browser peer.
type PeerCommand struct {
	Command string `json:"command"`
}

// Peer commands.
const (
	CommandRefresh           = "refresh"
	CommandReconnect         = "reconnect"
	CommandActivateIDCapture = "activate_id_capture"
	CommandSendPageSource    = "send_page_source"
)

// PeerMessage is one inbound WebSocket message from the browser peer.
// Data is a raw fragment: a string, a list of strings, an {error} object,
// a {retry_info} object, or the literal "[DONE]" sentinel.
type PeerMessage struct {
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// RetryInfo describes an upstream-side retry reported by the peer.
type RetryInfo struct {
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	Reason      string `json:"reason"`
	DelayMillis int64  `json:"delay"`
}
