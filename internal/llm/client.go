// Package llm talks to the Gemini API over REST. It exposes the two call
// shapes the pipeline needs: a fast JSON classification call and the single
// per-turn generation call.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"attune/internal/types"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// Minimum gap between requests. Keeps a chatty session under the
	// free-tier rate limit.
	minRequestGap = 100 * time.Millisecond

	maxRetries = 3
)

// Config selects models and credentials for both call shapes.
type Config struct {
	APIKey  string `yaml:"api_key" env:"GEMINI_API_KEY"`
	BaseURL string `yaml:"base_url" env:"GEMINI_BASE_URL"`

	// FastModel serves classification and detection. Cheap and low latency.
	FastModel string `yaml:"fast_model" env:"ATTUNE_FAST_MODEL"`

	// GenerationModel serves the single per-turn reply.
	GenerationModel string `yaml:"generation_model" env:"ATTUNE_GENERATION_MODEL"`

	Timeout         time.Duration `yaml:"timeout" env:"ATTUNE_LLM_TIMEOUT"`
	MaxOutputTokens int           `yaml:"max_output_tokens" env:"ATTUNE_LLM_MAX_OUTPUT_TOKENS"`
}

// DefaultConfig reads the API key from the environment.
func DefaultConfig() Config {
	return Config{
		APIKey:          os.Getenv("GEMINI_API_KEY"),
		BaseURL:         defaultBaseURL,
		FastModel:       "gemini-2.5-flash-lite",
		GenerationModel: "gemini-2.5-flash",
		Timeout:         60 * time.Second,
		MaxOutputTokens: 2048,
	}
}

// WithDefaults fills every unset field from DefaultConfig, so a caller may
// override a single model without losing the rest.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.APIKey == "" {
		c.APIKey = d.APIKey
	}
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.FastModel == "" {
		c.FastModel = d.FastModel
	}
	if c.GenerationModel == "" {
		c.GenerationModel = d.GenerationModel
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = d.MaxOutputTokens
	}
	return c
}

// Client implements types.FastClassifier and types.Generator against the
// Gemini REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

var (
	_ types.FastClassifier = (*Client)(nil)
	_ types.Generator      = (*Client)(nil)
)

// NewClient builds a client. It does not validate the key; auth failures
// surface on the first call.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CALLS
// =============================================================================

// ClassifyJSON runs the fast model with JSON output forced on. The raw JSON
// string comes back for the caller to parse.
func (c *Client) ClassifyJSON(ctx context.Context, prompt string) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      0.1,
			MaxOutputTokens:  256,
			ResponseMimeType: "application/json",
		},
	}
	return c.call(ctx, c.cfg.FastModel, req)
}

// Generate runs the generation model with the finalized system prompt and
// message history. Called exactly once per turn.
func (c *Client) Generate(ctx context.Context, systemPrompt string, messages []types.Message) (string, error) {
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	req := geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     1.0,
			MaxOutputTokens: c.cfg.MaxOutputTokens,
		},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	return c.call(ctx, c.cfg.GenerationModel, req)
}

func (c *Client) call(ctx context.Context, model string, reqBody geminiRequest) (string, error) {
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("gemini API key not configured")
	}
	if model == "" {
		return "", fmt.Errorf("model not configured")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	c.throttle()

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, model, c.cfg.APIKey)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, retryable, err := c.doRequest(ctx, url, jsonData)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
		c.logger.Warn("gemini request failed, retrying",
			zap.String("model", model),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", fmt.Errorf("gemini request exhausted retries: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, url string, body []byte) (text string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", true, fmt.Errorf("rate limit exceeded (429)")
	case resp.StatusCode >= 500:
		return "", true, fmt.Errorf("server error %d: %s", resp.StatusCode, string(raw))
	case resp.StatusCode != http.StatusOK:
		return "", false, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", false, fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("API error: %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", false, fmt.Errorf("empty response")
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), false, nil
}

func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := time.Since(c.lastRequest); elapsed < minRequestGap {
		time.Sleep(minRequestGap - elapsed)
	}
	c.lastRequest = time.Now()
}
