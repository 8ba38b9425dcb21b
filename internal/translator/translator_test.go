package translator

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumabridge/lumabridge/internal/config"
	"github.com/lumabridge/lumabridge/internal/filebed"
	"github.com/lumabridge/lumabridge/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func translatorFor(cfg *config.Config) *Translator {
	return New(func() *config.Config { return cfg }, nil, discardLogger())
}

func user(text string) types.ChatMessage {
	return types.ChatMessage{Role: types.RoleUser, Content: types.TextContent(text)}
}

func system(text string) types.ChatMessage {
	return types.ChatMessage{Role: types.RoleSystem, Content: types.TextContent(text)}
}

func TestBuildPlainRequest(t *testing.T) {
	cfg := config.DefaultConfig()
	tr := translatorFor(cfg)

	payload, err := tr.Build(context.Background(), Params{
		Messages:  []types.ChatMessage{user("Hi")},
		ModelType: config.ModelTypeText,
		Mode:      config.ModeDirectChat,
		SessionID: "s",
		MessageID: "m",
	})
	require.NoError(t, err)

	require.Len(t, payload.MessageTemplates, 1)
	assert.Equal(t, "user", payload.MessageTemplates[0].Role)
	assert.Equal(t, "Hi", payload.MessageTemplates[0].Content)
	assert.Equal(t, "a", payload.MessageTemplates[0].ParticipantPosition)
	assert.Equal(t, "s", payload.SessionID)
	assert.False(t, payload.IsImageRequest)
}

func TestTavernMerge(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TavernModeEnabled = true
	tr := translatorFor(cfg)

	payload, err := tr.Build(context.Background(), Params{
		Messages: []types.ChatMessage{
			system("S1"),
			user("U"),
			system("S2"),
		},
		ModelType: config.ModelTypeText,
		Mode:      config.ModeDirectChat,
	})
	require.NoError(t, err)

	templates := payload.MessageTemplates
	require.Len(t, templates, 2)
	assert.Equal(t, types.RoleSystem, templates[0].Role)
	assert.Equal(t, "S1\n\nS2", templates[0].Content)
	assert.Empty(t, templates[0].Attachments)
	assert.Equal(t, types.RoleUser, templates[1].Role)

	// exactly one system message in the output
	count := 0
	for _, tmpl := range templates {
		if tmpl.Role == types.RoleSystem {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestImageModelAttachmentSplit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ImageAttachmentBypassEnabled = true
	tr := translatorFor(cfg)

	payload, err := tr.Build(context.Background(), Params{
		Messages: []types.ChatMessage{
			{Role: types.RoleUser, Content: types.PartsContent([]types.ContentPart{
				{Type: types.PartTypeText, Text: "draw variant"},
				{Type: types.PartTypeImageURL, ImageURL: &types.ImageURLRef{URL: "https://x/base.png"}},
			})},
		},
		ModelType: config.ModelTypeImage,
		Mode:      config.ModeDirectChat,
	})
	require.NoError(t, err)

	templates := payload.MessageTemplates
	require.Len(t, templates, 2)
	assert.Equal(t, " ", templates[0].Content)
	require.Len(t, templates[0].Attachments, 1)
	assert.Equal(t, "https://x/base.png", templates[0].Attachments[0].URL)
	assert.Equal(t, "draw variant", templates[1].Content)
	assert.Empty(t, templates[1].Attachments)
	assert.True(t, payload.IsImageRequest)
}

func TestBypassInjection(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BypassEnabled = false
	tr := translatorFor(cfg)

	payload, err := tr.Build(context.Background(), Params{
		Messages:  []types.ChatMessage{user("Hi")},
		ModelType: config.ModelTypeText,
		Mode:      config.ModeDirectChat,
	})
	require.NoError(t, err)
	assert.Len(t, payload.MessageTemplates, 1, "bypass off appends nothing")

	cfg.BypassEnabled = true
	cfg.BypassInjection.Custom = &config.BypassMessage{Role: "user", Content: "x", ParticipantPosition: "b"}

	payload, err = tr.Build(context.Background(), Params{
		Messages:  []types.ChatMessage{user("Hi")},
		ModelType: config.ModelTypeText,
		Mode:      config.ModeDirectChat,
	})
	require.NoError(t, err)

	templates := payload.MessageTemplates
	require.Len(t, templates, 2)
	last := templates[len(templates)-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "x", last.Content)
	assert.Equal(t, "b", last.ParticipantPosition, "injected message keeps its configured position")
}

func TestParticipantPositions(t *testing.T) {
	messages := []types.ChatMessage{system("sys"), user("u"),
		{Role: types.RoleAssistant, Content: types.TextContent("a")}}

	tests := []struct {
		name   string
		mode   string
		target string
		want   []string
	}{
		{"direct chat", config.ModeDirectChat, "", []string{"b", "a", "a"}},
		{"battle target A", config.ModeBattle, "A", []string{"a", "a", "a"}},
		{"battle target B", config.ModeBattle, "B", []string{"b", "b", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := translatorFor(config.DefaultConfig())
			payload, err := tr.Build(context.Background(), Params{
				Messages:     messages,
				ModelType:    config.ModelTypeText,
				Mode:         tt.mode,
				BattleTarget: tt.target,
			})
			require.NoError(t, err)
			var got []string
			for _, tmpl := range payload.MessageTemplates {
				got = append(got, tmpl.ParticipantPosition)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeveloperRoleBecomesSystem(t *testing.T) {
	tr := translatorFor(config.DefaultConfig())
	payload, err := tr.Build(context.Background(), Params{
		Messages: []types.ChatMessage{
			{Role: types.RoleDeveloper, Content: types.TextContent("rules")},
			user("hi"),
		},
		ModelType: config.ModelTypeText,
		Mode:      config.ModeDirectChat,
	})
	require.NoError(t, err)
	assert.Equal(t, types.RoleSystem, payload.MessageTemplates[0].Role)
}

func TestStripHistoryReasoning(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StripReasoningFromHistory = true
	cfg.ReasoningOutputMode = config.ReasoningModeThinkTag
	tr := translatorFor(cfg)

	payload, err := tr.Build(context.Background(), Params{
		Messages: []types.ChatMessage{
			{Role: types.RoleAssistant, Content: types.TextContent("<think>hidden\nreasoning</think>\nanswer")},
			user("next"),
		},
		ModelType: config.ModelTypeText,
		Mode:      config.ModeDirectChat,
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", payload.MessageTemplates[0].Content)

	// openai mode leaves history untouched
	cfg.ReasoningOutputMode = config.ReasoningModeOpenAI
	payload, err = tr.Build(context.Background(), Params{
		Messages: []types.ChatMessage{
			{Role: types.RoleAssistant, Content: types.TextContent("<think>h</think>answer")},
		},
		ModelType: config.ModelTypeText,
		Mode:      config.ModeDirectChat,
	})
	require.NoError(t, err)
	assert.Contains(t, payload.MessageTemplates[0].Content, "<think>")
}

func TestAssistantMarkdownImagesBecomeExperimentalAttachments(t *testing.T) {
	tr := translatorFor(config.DefaultConfig())
	payload, err := tr.Build(context.Background(), Params{
		Messages: []types.ChatMessage{
			{Role: types.RoleAssistant, Content: types.TextContent("here ![pic](https://x/a.png) done")},
		},
		ModelType: config.ModelTypeText,
		Mode:      config.ModeDirectChat,
	})
	require.NoError(t, err)

	tmpl := payload.MessageTemplates[0]
	require.Len(t, tmpl.ExperimentalAttachments, 1)
	assert.Equal(t, "pic", tmpl.ExperimentalAttachments[0].Name)
	assert.Equal(t, "image/png", tmpl.ExperimentalAttachments[0].ContentType)
	assert.Equal(t, "https://x/a.png", tmpl.ExperimentalAttachments[0].URL)
	assert.Equal(t, "here  done", tmpl.Content)
	assert.Empty(t, tmpl.Attachments)
}

func TestEmptyUserContentBecomesSpace(t *testing.T) {
	tr := translatorFor(config.DefaultConfig())
	payload, err := tr.Build(context.Background(), Params{
		Messages:  []types.ChatMessage{user("")},
		ModelType: config.ModelTypeText,
		Mode:      config.ModeDirectChat,
	})
	require.NoError(t, err)
	assert.Equal(t, " ", payload.MessageTemplates[0].Content)
}

func TestListContentTextJoin(t *testing.T) {
	tr := translatorFor(config.DefaultConfig())
	payload, err := tr.Build(context.Background(), Params{
		Messages: []types.ChatMessage{
			{Role: types.RoleUser, Content: types.PartsContent([]types.ContentPart{
				{Type: types.PartTypeText, Text: "one"},
				{Type: types.PartTypeText, Text: "two"},
				{Type: types.PartTypeImageURL, ImageURL: &types.ImageURLRef{URL: "https://x/i.jpg", Detail: "photo.jpg"}},
			})},
		},
		ModelType: config.ModelTypeText,
		Mode:      config.ModeDirectChat,
	})
	require.NoError(t, err)

	tmpl := payload.MessageTemplates[0]
	assert.Equal(t, "one\n\ntwo", tmpl.Content)
	require.Len(t, tmpl.Attachments, 1)
	assert.Equal(t, "photo.jpg", tmpl.Attachments[0].Name)
	assert.Equal(t, "image/jpeg", tmpl.Attachments[0].ContentType)
}

func TestInlineImageOffloadToFileBed(t *testing.T) {
	var uploadCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploadCalls.Add(1)
		w.Write([]byte(`{"url":"https://bed.example/u.png"}`))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.FileBedEnabled = true
	cfg.FileBedEndpoints = []config.FileBedEndpoint{
		{Name: "bed", URL: srv.URL, ResponseType: "json"},
	}
	cfgFn := func() *config.Config { return cfg }
	uploader := filebed.New(cfgFn, discardLogger())
	tr := New(cfgFn, uploader, discardLogger())

	payload := base64.StdEncoding.EncodeToString([]byte("img-bytes"))
	dataURI := "data:image/png;base64," + payload

	out, err := tr.Build(context.Background(), Params{
		Messages: []types.ChatMessage{
			{Role: types.RoleUser, Content: types.PartsContent([]types.ContentPart{
				{Type: types.PartTypeText, Text: "look"},
				{Type: types.PartTypeImageURL, ImageURL: &types.ImageURLRef{URL: dataURI}},
			})},
		},
		ModelType: config.ModelTypeText,
		Mode:      config.ModeDirectChat,
	})
	require.NoError(t, err)

	require.Len(t, out.MessageTemplates[0].Attachments, 1)
	assert.Equal(t, "https://bed.example/u.png", out.MessageTemplates[0].Attachments[0].URL)
	assert.Equal(t, int32(1), uploadCalls.Load())

	// identical payload inside the TTL reuses the cached URL
	_, err = tr.Build(context.Background(), Params{
		Messages: []types.ChatMessage{
			{Role: types.RoleUser, Content: types.TextContent("inline ![i](" + dataURI + ")")},
		},
		ModelType: config.ModelTypeText,
		Mode:      config.ModeDirectChat,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), uploadCalls.Load(), "hash cache prevents a second upload")
}

func TestInferContentType(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"data:image/webp;base64,AAAA", "image/webp"},
		{"https://x/a.png", "image/png"},
		{"https://x/a.JPG?sig=1", "image/jpeg"},
		{"https://x/a.gif#frag", "image/gif"},
		{"https://x/noext", "image/png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, inferContentType(tt.url), tt.url)
	}
}
