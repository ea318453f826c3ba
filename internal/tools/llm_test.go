package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"bare array", `[1,2,3]`, `[1,2,3]`, true},
		{"fenced", "Here you go:\n```json\n{\"a\": 1}\n```\nDone.", `{"a": 1}`, true},
		{"fenced no lang", "```\n[{\"q\": \"x\"}]\n```", `[{"q": "x"}]`, true},
		{"surrounded by prose", `Sure! The answer is {"a": 1} as requested.`, `{"a": 1}`, true},
		{"no json", "I cannot answer that.", "", false},
		{"broken json", `{"a": `, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSON(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func geminiBody(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	})
	return string(b)
}

func testClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewGeminiClient("test-key", "test-model", 5*time.Second, 0, zap.NewNop())
	c.endpoint = srv.URL + "/%s:generateContent"
	return c
}

func TestCompleteWithoutCredentialDegrades(t *testing.T) {
	c := NewGeminiClient("", "test-model", time.Second, 0, zap.NewNop())
	res := c.Complete(context.Background(), "hello", 0.5)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Text)
	assert.Contains(t, res.Reason, "credential")
}

func TestCompleteReturnsText(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		w.Write([]byte(geminiBody("the answer")))
	})
	res := c.Complete(context.Background(), "question", 0.7)
	require.False(t, res.Degraded, res.Reason)
	assert.Equal(t, "the answer", res.Text)
}

func TestCompleteDegradesOnServerError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})
	res := c.Complete(context.Background(), "question", 0.7)
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Reason, "429")
}

func TestCompleteDegradesOnEmptyCompletion(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	})
	res := c.Complete(context.Background(), "question", 0.7)
	assert.True(t, res.Degraded)
}

func TestCompleteJSONDecodesFencedOutput(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(geminiBody("```json\n{\"domain\": \"DNA storage\"}\n```")))
	})
	var out struct {
		Domain string `json:"domain"`
	}
	res := c.CompleteJSON(context.Background(), "extract", 0.5, &out)
	require.False(t, res.Degraded, res.Reason)
	assert.Equal(t, "DNA storage", out.Domain)
}

func TestCompleteJSONDegradesOnProseOnly(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(geminiBody("I am unable to produce structured output.")))
	})
	var out map[string]any
	res := c.CompleteJSON(context.Background(), "extract", 0.5, &out)
	assert.True(t, res.Degraded)
}

func TestResultConstructors(t *testing.T) {
	ok := Ok("text")
	assert.False(t, ok.Degraded)
	assert.Equal(t, "text", ok.Text)

	fb := Fallback("sub", "provider down")
	assert.True(t, fb.Degraded)
	assert.Equal(t, "sub", fb.Text)
	assert.Equal(t, "provider down", fb.Reason)
}
