// Package translator converts OpenAI chat requests into the simplified
// payload the browser peer replays upstream.
package translator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/lumabridge/lumabridge/internal/config"
	"github.com/lumabridge/lumabridge/internal/filebed"
	"github.com/lumabridge/lumabridge/pkg/types"
)

var (
	thinkPrefixPattern   = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)
	markdownImagePattern = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)
	dataURIPattern       = regexp.MustCompile(`data:([a-zA-Z0-9./+-]+);base64,([A-Za-z0-9+/=]+)`)
)

// Params carries one request through translation. Mode and BattleTarget are
// already resolved against the endpoint override and config defaults.
type Params struct {
	Messages      []types.ChatMessage
	ModelType     string
	Mode          string
	BattleTarget  string
	TargetModelID *string
	SessionID     string
	MessageID     string
}

// Translator builds upstream payloads. The file-bed uploader is optional;
// without it inline base64 images pass through untouched.
type Translator struct {
	cfg      func() *config.Config
	uploader *filebed.Uploader
	logger   *slog.Logger
}

// New creates a translator.
func New(cfg func() *config.Config, uploader *filebed.Uploader, logger *slog.Logger) *Translator {
	return &Translator{cfg: cfg, uploader: uploader, logger: logger}
}

// Build runs the full translation pipeline and assembles the peer payload.
func (t *Translator) Build(ctx context.Context, p Params) (types.BridgePayload, error) {
	cfg := t.cfg()

	messages, err := t.offloadInlineImages(ctx, cfg, p.Messages)
	if err != nil {
		return types.BridgePayload{}, err
	}

	messages = stripHistoryReasoning(cfg, messages)
	messages = normalizeRoles(messages)

	templates := make([]types.MessageTemplate, 0, len(messages)+1)
	for _, msg := range messages {
		templates = append(templates, convertMessage(msg))
	}

	if cfg.TavernModeEnabled {
		templates = mergeSystemMessages(templates)
	}
	if p.ModelType == config.ModelTypeImage && cfg.ImageAttachmentBypassEnabled {
		templates = splitLastUserImageMessage(templates)
	}

	assignParticipantPositions(templates, p.Mode, p.BattleTarget)

	if cfg.EffectiveBypass(p.ModelType) {
		inject := cfg.BypassMessageFor()
		templates = append(templates, types.MessageTemplate{
			Role:                inject.Role,
			Content:             inject.Content,
			Attachments:         []types.Attachment{},
			ParticipantPosition: inject.ParticipantPosition,
		})
	}

	payload := types.BridgePayload{
		MessageTemplates: templates,
		TargetModelID:    p.TargetModelID,
		SessionID:        p.SessionID,
		MessageID:        p.MessageID,
		IsImageRequest:   p.ModelType == config.ModelTypeImage,
	}
	return payload, nil
}

// stripHistoryReasoning removes leading <think> blocks from assistant
// history so replayed conversations do not echo old reasoning.
func stripHistoryReasoning(cfg *config.Config, messages []types.ChatMessage) []types.ChatMessage {
	if !cfg.StripReasoningFromHistory || cfg.ReasoningOutputMode != config.ReasoningModeThinkTag {
		return messages
	}
	out := make([]types.ChatMessage, len(messages))
	copy(out, messages)
	for i, msg := range out {
		if msg.Role != types.RoleAssistant || msg.Content.IsParts {
			continue
		}
		out[i].Content = types.TextContent(thinkPrefixPattern.ReplaceAllString(msg.Content.Text, ""))
	}
	return out
}

func normalizeRoles(messages []types.ChatMessage) []types.ChatMessage {
	out := make([]types.ChatMessage, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Role == types.RoleDeveloper {
			out[i].Role = types.RoleSystem
		}
	}
	return out
}

// convertMessage flattens one OpenAI message into an upstream template.
// Assistant images go to experimental_attachments, everything else to
// attachments.
func convertMessage(msg types.ChatMessage) types.MessageTemplate {
	tmpl := types.MessageTemplate{
		Role:        msg.Role,
		Attachments: []types.Attachment{},
	}

	if !msg.Content.IsParts {
		text := msg.Content.Text
		if msg.Role == types.RoleAssistant {
			text = extractMarkdownImages(text, &tmpl.ExperimentalAttachments)
		}
		tmpl.Content = text
	} else {
		var textParts []string
		for _, part := range msg.Content.Parts {
			switch part.Type {
			case types.PartTypeText:
				textParts = append(textParts, part.Text)
			case types.PartTypeImageURL:
				if part.ImageURL == nil {
					continue
				}
				att := attachmentFromURL(part.ImageURL.URL, part.ImageURL.Detail, len(tmpl.Attachments)+len(tmpl.ExperimentalAttachments))
				if msg.Role == types.RoleAssistant {
					tmpl.ExperimentalAttachments = append(tmpl.ExperimentalAttachments, att)
				} else {
					tmpl.Attachments = append(tmpl.Attachments, att)
				}
			}
		}
		tmpl.Content = strings.Join(textParts, "\n\n")
	}

	if msg.Role == types.RoleUser && tmpl.Content == "" {
		tmpl.Content = " "
	}
	return tmpl
}

// extractMarkdownImages strips ![alt](url) links from assistant text and
// appends them to dst.
func extractMarkdownImages(text string, dst *[]types.Attachment) string {
	matches := markdownImagePattern.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		alt, url := m[1], m[2]
		name := alt
		if name == "" {
			name = fileNameForURL(url, len(*dst))
		}
		*dst = append(*dst, types.Attachment{
			Name:        name,
			ContentType: inferContentType(url),
			URL:         url,
		})
	}
	stripped := markdownImagePattern.ReplaceAllString(text, "")
	return strings.TrimSpace(stripped)
}

func attachmentFromURL(url, detail string, index int) types.Attachment {
	name := detail
	if name == "" {
		name = fileNameForURL(url, index)
	}
	return types.Attachment{
		Name:        name,
		ContentType: inferContentType(url),
		URL:         url,
	}
}

// mergeSystemMessages folds every system message into one leading template
// with no attachments, preserving the order of the rest.
func mergeSystemMessages(templates []types.MessageTemplate) []types.MessageTemplate {
	var systemParts []string
	rest := make([]types.MessageTemplate, 0, len(templates))
	for _, tmpl := range templates {
		if tmpl.Role == types.RoleSystem {
			systemParts = append(systemParts, tmpl.Content)
			continue
		}
		rest = append(rest, tmpl)
	}
	if len(systemParts) == 0 {
		return templates
	}

	merged := make([]types.MessageTemplate, 0, len(rest)+1)
	merged = append(merged, types.MessageTemplate{
		Role:        types.RoleSystem,
		Content:     strings.Join(systemParts, "\n\n"),
		Attachments: []types.Attachment{},
	})
	return append(merged, rest...)
}

// splitLastUserImageMessage separates text and images of the final user
// message so image models see the attachment and the prompt as consecutive
// turns.
func splitLastUserImageMessage(templates []types.MessageTemplate) []types.MessageTemplate {
	if len(templates) == 0 {
		return templates
	}
	last := len(templates) - 1
	tmpl := templates[last]
	if tmpl.Role != types.RoleUser || len(tmpl.Attachments) == 0 || strings.TrimSpace(tmpl.Content) == "" {
		return templates
	}

	imageOnly := types.MessageTemplate{
		Role:        types.RoleUser,
		Content:     " ",
		Attachments: tmpl.Attachments,
	}
	textOnly := types.MessageTemplate{
		Role:        types.RoleUser,
		Content:     tmpl.Content,
		Attachments: []types.Attachment{},
	}
	out := make([]types.MessageTemplate, 0, len(templates)+1)
	out = append(out, templates[:last]...)
	return append(out, imageOnly, textOnly)
}

// assignParticipantPositions applies the session-mode position scheme.
func assignParticipantPositions(templates []types.MessageTemplate, mode, battleTarget string) {
	target := strings.ToLower(battleTarget)
	if target != "a" && target != "b" {
		target = "a"
	}
	for i := range templates {
		if mode == config.ModeBattle {
			templates[i].ParticipantPosition = target
			continue
		}
		if templates[i].Role == types.RoleSystem {
			templates[i].ParticipantPosition = "b"
		} else {
			templates[i].ParticipantPosition = "a"
		}
	}
}

// offloadInlineImages replaces base64 data URIs with file-bed URLs, both in
// markdown inside string content and in image_url parts. Identical payloads
// hit the uploader's hash cache.
func (t *Translator) offloadInlineImages(ctx context.Context, cfg *config.Config, messages []types.ChatMessage) ([]types.ChatMessage, error) {
	if !cfg.FileBedEnabled || t.uploader == nil {
		return messages, nil
	}

	out := make([]types.ChatMessage, len(messages))
	copy(out, messages)
	for i, msg := range out {
		if !msg.Content.IsParts {
			replaced, err := t.replaceDataURIs(ctx, msg.Content.Text)
			if err != nil {
				return nil, err
			}
			out[i].Content = types.TextContent(replaced)
			continue
		}

		parts := make([]types.ContentPart, len(msg.Content.Parts))
		copy(parts, msg.Content.Parts)
		for j, part := range parts {
			if part.Type != types.PartTypeImageURL || part.ImageURL == nil {
				continue
			}
			m := dataURIPattern.FindStringSubmatch(part.ImageURL.URL)
			if m == nil {
				continue
			}
			url, err := t.uploader.UploadBase64(ctx, m[2], m[1], uploadFileName(m[1], part.ImageURL.Detail, j))
			if err != nil {
				return nil, err
			}
			ref := *part.ImageURL
			ref.URL = url
			parts[j].ImageURL = &ref
		}
		out[i].Content = types.PartsContent(parts)
	}
	return out, nil
}

func (t *Translator) replaceDataURIs(ctx context.Context, text string) (string, error) {
	matches := dataURIPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}
	for idx, m := range matches {
		url, err := t.uploader.UploadBase64(ctx, m[2], m[1], uploadFileName(m[1], "", idx))
		if err != nil {
			return "", err
		}
		text = strings.Replace(text, m[0], url, 1)
	}
	return text, nil
}

func uploadFileName(contentType, detail string, index int) string {
	if detail != "" {
		return detail
	}
	return fmt.Sprintf("image_%d%s", index, extensionFor(contentType))
}
