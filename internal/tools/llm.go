package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sagelab/researchd/internal/metrics"
)

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

// LLM produces text completions. Implementations must respect the
// context deadline and never block indefinitely.
type LLM interface {
	Complete(ctx context.Context, prompt string, temperature float64) Result
	CompleteJSON(ctx context.Context, prompt string, temperature float64, out any) Result
}

// GeminiClient calls the Gemini generateContent REST API, pacing requests
// with a per-minute rate limit. A missing credential degrades every call
// immediately instead of failing the stage.
type GeminiClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *Breaker
	logger   *zap.Logger
}

// NewGeminiClient builds an LLM client for the given model. rpm bounds
// requests per minute; zero disables pacing.
func NewGeminiClient(apiKey, model string, timeout time.Duration, rpm int, logger *zap.Logger) *GeminiClient {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
	}
	return &GeminiClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: geminiEndpoint,
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
		breaker:  NewBreaker("llm", 5, 30*time.Second, logger),
		logger:   logger,
	}
}

type geminiRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Complete returns the model's text for the prompt, or a degraded empty
// result when the provider is unavailable, times out, or answers with an
// unusable body.
func (c *GeminiClient) Complete(ctx context.Context, prompt string, temperature float64) Result {
	if c.apiKey == "" {
		metrics.DegradedResults.WithLabelValues("llm").Inc()
		return Fallback("", "no LLM credential configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.DegradedResults.WithLabelValues("llm").Inc()
		return Fallback("", fmt.Sprintf("rate limit wait: %v", err))
	}
	if !c.breaker.Allow() {
		return c.degraded("llm circuit open")
	}

	start := time.Now()
	defer func() {
		metrics.ToolCallDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	}()

	var req geminiRequest
	req.Contents = make([]struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	}, 1)
	req.Contents[0].Parts = []struct {
		Text string `json:"text"`
	}{{Text: prompt}}
	req.GenerationConfig.Temperature = temperature
	req.GenerationConfig.MaxOutputTokens = 2048

	body, err := json.Marshal(req)
	if err != nil {
		return c.degraded(fmt.Sprintf("encode request: %v", err))
	}

	url := fmt.Sprintf(c.endpoint, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return c.degraded(fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.breaker.Record(false)
		return c.degraded(fmt.Sprintf("llm call failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.breaker.Record(false)
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return c.degraded(fmt.Sprintf("llm status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	c.breaker.Record(true)

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return c.degraded(fmt.Sprintf("decode response: %v", err))
	}
	var parts []string
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		break
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		return c.degraded("empty completion")
	}
	metrics.ToolCalls.WithLabelValues("llm", "ok").Inc()
	return Ok(text)
}

// CompleteJSON asks for JSON-only output and decodes it into out. Model
// output wrapped in code fences or surrounded by prose is tolerated.
func (c *GeminiClient) CompleteJSON(ctx context.Context, prompt string, temperature float64, out any) Result {
	full := prompt + "\n\nReturn ONLY valid JSON, no markdown or explanation."
	res := c.Complete(ctx, full, temperature)
	if res.Degraded {
		return res
	}
	raw, ok := ExtractJSON(res.Text)
	if !ok {
		return c.degraded("no JSON object in completion")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return c.degraded(fmt.Sprintf("malformed JSON in completion: %v", err))
	}
	return Ok(raw)
}

func (c *GeminiClient) degraded(reason string) Result {
	metrics.ToolCalls.WithLabelValues("llm", "degraded").Inc()
	metrics.DegradedResults.WithLabelValues("llm").Inc()
	c.logger.Debug("LLM call degraded", zap.String("reason", reason))
	return Fallback("", reason)
}

var (
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\}|\\[.*?\\])\\s*```")
	looseJSON  = regexp.MustCompile(`(?s)(\{.*\}|\[.*\])`)
)

// ExtractJSON pulls the first JSON object or array out of model text,
// preferring fenced blocks.
func ExtractJSON(text string) (string, bool) {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return trimmed, true
	}
	if m := looseJSON.FindStringSubmatch(text); m != nil {
		if json.Valid([]byte(m[1])) {
			return m[1], true
		}
	}
	return "", false
}
