package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBearer(t *testing.T) {
	tests := []struct {
		name   string
		header string
		token  string
		ok     bool
	}{
		{"valid", "Bearer sk-test", "sk-test", true},
		{"padded", "Bearer   sk-test  ", "sk-test", true},
		{"empty token", "Bearer ", "", false},
		{"no prefix", "sk-test", "", false},
		{"basic auth", "Basic abc", "", false},
		{"empty header", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, ok := ParseBearer(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestStaticServiceValidate(t *testing.T) {
	ctx := context.Background()

	open := NewStaticService("")
	info, err := open.Validate(ctx, "anything")
	require.NoError(t, err)
	assert.Equal(t, "default", info.Name)

	keyed := NewStaticService("sk-secret")
	_, err = keyed.Validate(ctx, "wrong")
	assert.ErrorIs(t, err, ErrInvalidToken)

	info, err = keyed.Validate(ctx, "sk-secret")
	require.NoError(t, err)
	assert.False(t, info.Expired())
}

func TestTokenInfoExpired(t *testing.T) {
	assert.False(t, (&TokenInfo{}).Expired())
	assert.True(t, (&TokenInfo{ExpiresAt: time.Now().Add(-time.Minute)}).Expired())
	assert.False(t, (&TokenInfo{ExpiresAt: time.Now().Add(time.Minute)}).Expired())
}

func TestStaticServiceLogUsage(t *testing.T) {
	svc := NewStaticService("")
	require.NoError(t, svc.LogUsage(context.Background(), UsageRecord{Model: "m1", TokenName: "default"}))
	require.NoError(t, svc.LogUsage(context.Background(), UsageRecord{Model: "m2", Failed: true, ErrorKind: "peer_timeout"}))

	records := svc.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "m1", records[0].Model)
	assert.True(t, records[1].Failed)
}
