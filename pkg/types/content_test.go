package types //nolint:revive // package name is intentional

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContentUnmarshal(t *testing.T) {
	var plain MessageContent
	require.NoError(t, json.Unmarshal([]byte(`"hello"`), &plain))
	assert.False(t, plain.IsParts)
	assert.Equal(t, "hello", plain.Text)

	var parts MessageContent
	raw := `[{"type":"text","text":"describe this"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA","detail":"photo.png"}}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &parts))
	require.True(t, parts.IsParts)
	require.Len(t, parts.Parts, 2)
	assert.Equal(t, PartTypeImageURL, parts.Parts[1].Type)
	assert.Equal(t, "photo.png", parts.Parts[1].ImageURL.Detail)

	var bad MessageContent
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestMessageContentMarshalRoundTrip(t *testing.T) {
	plain, err := json.Marshal(TextContent("hi"))
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, string(plain))

	list, err := json.Marshal(PartsContent([]ContentPart{{Type: PartTypeText, Text: "hi"}}))
	require.NoError(t, err)
	assert.Equal(t, `[{"type":"text","text":"hi"}]`, string(list))
}

func TestPlainTextJoinsTextParts(t *testing.T) {
	c := PartsContent([]ContentPart{
		{Type: PartTypeText, Text: "first"},
		{Type: PartTypeImageURL, ImageURL: &ImageURLRef{URL: "data:image/png;base64,AAAA"}},
		{Type: PartTypeText, Text: "second"},
	})
	assert.Equal(t, "first\n\nsecond", c.PlainText())

	assert.Equal(t, "as is", TextContent("as is").PlainText())
	assert.Equal(t, "", PartsContent(nil).PlainText())
}
