// internal/vision/client_test.go
package vision

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/internal/config"
)

func testLLMConfig(endpoint string) config.LLMConfig {
	return config.LLMConfig{
		APIKey:      "test-key",
		Model:       "gemini-2.0-flash",
		Endpoint:    endpoint,
		APITimeout:  5 * time.Second,
		Temperature: 0.1,
		MaxTokens:   1024,
	}
}

func candidateResponse(text string) string {
	payload := map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"content": map[string]interface{}{
					"parts": []map[string]interface{}{{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func TestNewGeminiClient_RequiresAPIKey(t *testing.T) {
	_, err := NewGeminiClient(config.LLMConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestGenerateVision(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(candidateResponse(`{"ready": true}`)))
	}))
	defer server.Close()

	client, err := NewGeminiClient(testLLMConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	out, err := client.GenerateVision(context.Background(), "system", "user prompt", []byte{0x89, 0x50})
	require.NoError(t, err)
	assert.Equal(t, `{"ready": true}`, out)

	// The screenshot travelled as inline data alongside the text part.
	contents := gotBody["contents"].([]interface{})
	parts := contents[0].(map[string]interface{})["parts"].([]interface{})
	require.Len(t, parts, 2)
	assert.Equal(t, "user prompt", parts[0].(map[string]interface{})["text"])
	inline := parts[1].(map[string]interface{})["inline_data"].(map[string]interface{})
	assert.Equal(t, "image/png", inline["mime_type"])
	assert.NotEmpty(t, inline["data"])
}

func TestGenerateVision_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(candidateResponse("ok")))
	}))
	defer server.Close()

	client, err := NewGeminiClient(testLLMConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	out, err := client.GenerateVision(context.Background(), "s", "u", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestGenerateVision_PermanentErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewGeminiClient(testLLMConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = client.GenerateVision(context.Background(), "s", "u", []byte("png"))
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateVision_BlockedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
	}))
	defer server.Close()

	client, err := NewGeminiClient(testLLMConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = client.GenerateVision(context.Background(), "s", "u", []byte("png"))
	assert.ErrorContains(t, err, "SAFETY")
}
