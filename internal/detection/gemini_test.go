package detection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var payload struct {
			Contents []struct {
				Parts []map[string]interface{} `json:"parts"`
			} `json:"contents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Contents, 1)
		require.Len(t, payload.Contents[0].Parts, 2)
		assert.Equal(t, "find weapons", payload.Contents[0].Parts[0]["text"])

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestGeminiGenerateContent(t *testing.T) {
	srv := geminiServer(t, http.StatusOK,
		`{"candidates":[{"content":{"parts":[{"text":"{\"weapons\": []}"}]}}]}`)
	defer srv.Close()

	g := NewGeminiClient("test-key", "", time.Second).WithBaseURL(srv.URL)
	assert.True(t, g.Configured())

	text, err := g.GenerateContent(context.Background(), "find weapons", []byte{0xFF, 0xD8})
	require.NoError(t, err)
	assert.Equal(t, `{"weapons": []}`, text)
}

func TestGeminiErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := geminiServer(t, http.StatusTooManyRequests, `{"error":{"message":"quota"}}`)
		defer srv.Close()

		g := NewGeminiClient("test-key", "", time.Second).WithBaseURL(srv.URL)
		_, err := g.GenerateContent(context.Background(), "find weapons", []byte{1})
		assert.ErrorContains(t, err, "status 429")

		var malformed *MalformedResponseError
		assert.False(t, errors.As(err, &malformed))
	})

	t.Run("no candidates", func(t *testing.T) {
		srv := geminiServer(t, http.StatusOK, `{"candidates":[]}`)
		defer srv.Close()

		g := NewGeminiClient("test-key", "", time.Second).WithBaseURL(srv.URL)
		_, err := g.GenerateContent(context.Background(), "find weapons", []byte{1})
		var malformed *MalformedResponseError
		assert.True(t, errors.As(err, &malformed))
	})

	t.Run("missing key", func(t *testing.T) {
		g := NewGeminiClient("", "", time.Second)
		assert.False(t, g.Configured())
		_, err := g.GenerateContent(context.Background(), "find weapons", []byte{1})
		assert.Error(t, err)
	})
}
