package types //nolint:revive // package name is intentional

import "github.com/goccy/go-json"

// MessageContent is the OpenAI message content variant: either a plain
// string or a list of typed parts. It round-trips both wire shapes.
type MessageContent struct {
	Text  string
	Parts []ContentPart
	// IsParts distinguishes an empty part list from a plain string.
	IsParts bool
}

// ContentPart is one element of a multimodal content list.
type ContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *ImageURLRef `json:"image_url,omitempty"`
}

// ImageURLRef references an image by URL or data URI. Detail carries the
// original filename when the client supplies one.
type ImageURLRef struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Part type discriminators.
const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

// TextContent wraps a plain string as MessageContent.
func TextContent(s string) MessageContent {
	return MessageContent{Text: s}
}

// PartsContent wraps a part list as MessageContent.
func PartsContent(parts []ContentPart) MessageContent {
	return MessageContent{Parts: parts, IsParts: true}
}

// MarshalJSON renders the original wire shape: a JSON string for plain
// content, an array for multimodal content.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsParts {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts either a JSON string or a part array.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = MessageContent{Text: s}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	*c = MessageContent{Parts: parts, IsParts: true}
	return nil
}

// PlainText joins the text parts with a blank line, or returns the string
// content unchanged.
func (c MessageContent) PlainText() string {
	if !c.IsParts {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type != PartTypeText {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += p.Text
	}
	return out
}
