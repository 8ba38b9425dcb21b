package filebed

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
	"github.com/lumabridge/lumabridge/pkg/errors"
)

var testPayload = base64.StdEncoding.EncodeToString([]byte("fake image bytes"))

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func uploaderFor(endpoints []config.FileBedEndpoint, strategy string) *Uploader {
	cfg := config.DefaultConfig()
	cfg.FileBedEnabled = true
	cfg.FileBedEndpoints = endpoints
	cfg.FileBedSelectionStrategy = strategy
	return New(func() *config.Config { return cfg }, discardLogger())
}

func TestUploadJSONResponse(t *testing.T) {
	var gotField string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		if _, hdr, err := r.FormFile("image"); err == nil {
			gotField = hdr.Filename
		}
		assert.Equal(t, "v1", r.FormValue("extra"))
		assert.Equal(t, "secret", r.FormValue("key"))
		w.Write([]byte(`{"data":{"url":"https://bed.example/i/1.png"}}`))
	}))
	defer srv.Close()

	u := uploaderFor([]config.FileBedEndpoint{{
		Name:           "bed-a",
		URL:            srv.URL,
		FormFileField:  "image",
		FormDataFields: map[string]string{"extra": "v1"},
		ResponseType:   "json",
		JSONURLKey:     "data.url",
		APIKey:         "secret",
		APIKeyField:    "key",
	}}, config.StrategyFailover)

	url, err := u.UploadBase64(context.Background(), testPayload, "image/png", "img.png")
	require.NoError(t, err)
	assert.Equal(t, "https://bed.example/i/1.png", url)
	assert.Equal(t, "img.png", gotField)
}

func TestUploadFailoverDisablesAndCaches(t *testing.T) {
	var aCalls, bCalls atomic.Int32
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		aCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bCalls.Add(1)
		w.Write([]byte("https://bed-b.example/i/2.png"))
	}))
	defer srvB.Close()

	u := uploaderFor([]config.FileBedEndpoint{
		{Name: "bed-a", URL: srvA.URL},
		{Name: "bed-b", URL: srvB.URL},
	}, config.StrategyFailover)

	url, err := u.UploadBase64(context.Background(), testPayload, "image/png", "img.png")
	require.NoError(t, err)
	assert.Equal(t, "https://bed-b.example/i/2.png", url)
	assert.Equal(t, int32(1), aCalls.Load())

	// second identical upload is served from the hash cache
	url2, err := u.UploadBase64(context.Background(), testPayload, "image/png", "img.png")
	require.NoError(t, err)
	assert.Equal(t, url, url2)
	assert.Equal(t, int32(1), bCalls.Load(), "cached upload must not hit the endpoint")

	// a different payload skips the disabled endpoint entirely
	other := base64.StdEncoding.EncodeToString([]byte("other bytes"))
	_, err = u.UploadBase64(context.Background(), other, "image/png", "img.png")
	require.NoError(t, err)
	assert.Equal(t, int32(1), aCalls.Load(), "disabled endpoint is skipped")

	stats := u.Stats()
	assert.Contains(t, stats.Disabled, "bed-a")
	assert.Equal(t, int64(2), stats.Uploads)
	assert.Equal(t, int64(1), stats.CacheHits)
}

func TestUploadAllEndpointsExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	u := uploaderFor([]config.FileBedEndpoint{{Name: "only", URL: srv.URL}}, config.StrategyRandom)

	_, err := u.UploadBase64(context.Background(), testPayload, "image/png", "img.png")
	require.Error(t, err)
	var bridgeErr *errors.BridgeError
	require.ErrorAs(t, err, &bridgeErr)
	assert.Equal(t, errors.KindAttachmentProcessing, bridgeErr.Kind)
	assert.Equal(t, http.StatusInternalServerError, bridgeErr.HTTPStatusCode())
}

func TestUploadRejectsBadBase64(t *testing.T) {
	u := uploaderFor([]config.FileBedEndpoint{{Name: "x", URL: "http://unused.invalid"}}, config.StrategyRandom)
	_, err := u.UploadBase64(context.Background(), "not-base64!!!", "image/png", "img.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid base64")
}

func TestUploadLocationHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://bed.example/loc.png")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	u := uploaderFor([]config.FileBedEndpoint{{Name: "loc", URL: srv.URL}}, config.StrategyFailover)
	url, err := u.UploadBase64(context.Background(), testPayload, "image/png", "img.png")
	require.NoError(t, err)
	assert.Equal(t, "https://bed.example/loc.png", url)
}

func TestExtractURL(t *testing.T) {
	tests := []struct {
		name    string
		ep      config.FileBedEndpoint
		body    string
		want    string
		wantErr bool
	}{
		{
			name: "json dotted path",
			ep:   config.FileBedEndpoint{ResponseType: "json", JSONURLKey: "result.link"},
			body: `{"result":{"link":"https://x/a.png"}}`,
			want: "https://x/a.png",
		},
		{
			name: "json default key",
			ep:   config.FileBedEndpoint{ResponseType: "json"},
			body: `{"url":"https://x/b.png"}`,
			want: "https://x/b.png",
		},
		{
			name: "plain text url",
			ep:   config.FileBedEndpoint{},
			body: "uploaded to https://x/c.png ok",
			want: "https://x/c.png",
		},
		{
			name: "wget shorthand",
			ep:   config.FileBedEndpoint{},
			body: "wget https://x/d.png",
			want: "https://x/d.png",
		},
		{
			name:    "missing json key",
			ep:      config.FileBedEndpoint{ResponseType: "json", JSONURLKey: "nope"},
			body:    `{"url":"https://x"}`,
			wantErr: true,
		},
		{
			name:    "no url in text",
			ep:      config.FileBedEndpoint{},
			body:    "nothing here",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractURL(tt.ep, []byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCandidatesRoundRobinRotates(t *testing.T) {
	u := uploaderFor([]config.FileBedEndpoint{
		{Name: "e0", URL: "http://e0.invalid"},
		{Name: "e1", URL: "http://e1.invalid"},
		{Name: "e2", URL: "http://e2.invalid"},
	}, config.StrategyRoundRobin)

	first := u.candidates()
	second := u.candidates()
	third := u.candidates()
	fourth := u.candidates()

	assert.Equal(t, "e0", first[0].Name)
	assert.Equal(t, "e1", second[0].Name)
	assert.Equal(t, "e2", third[0].Name)
	assert.Equal(t, "e0", fourth[0].Name)
	assert.Len(t, first, 3, "rotation keeps every endpoint as fallback")
}

func TestCandidatesSkipsDisabledFlag(t *testing.T) {
	off := false
	u := uploaderFor([]config.FileBedEndpoint{
		{Name: "off", URL: "http://off.invalid", Enabled: &off},
		{Name: "on", URL: "http://on.invalid"},
	}, config.StrategyFailover)

	cands := u.candidates()
	require.Len(t, cands, 1)
	assert.Equal(t, "on", cands[0].Name)
}
