// Package genai provides a client for Google's Gemini generative
// language API. Requests are rate limited per API key so a burst of
// notification fires never trips the upstream quota.
package genai

import (
	"bytes"
	"context"
	"encoding/json/v2"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chimeapp/chime-server/internal/ratelimit"
)

const (
	// DefaultBaseURL is the production Gemini endpoint. Tests point
	// the client at an httptest server instead.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultModel is the model used for reminder message generation.
	DefaultModel = "gemini-1.5-flash"

	requestTimeout = 15 * time.Second

	// Gemini free tier allows 15 requests per minute per key.
	requestsPerSecond = 0.25
	burstSize         = 2
)

// Client calls the Gemini generateContent endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	limiter    *ratelimit.KeyedRateLimiter
	logger     *slog.Logger
}

// New creates a Gemini client. An empty baseURL or model falls back to
// the defaults.
func New(baseURL, model string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
		model:      model,
		limiter:    ratelimit.New(requestsPerSecond, burstSize),
		logger:     logger.With("component", "genai"),
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate sends prompt to the model and returns the first candidate's
// text. The apiKey both authenticates the request and keys the rate
// limiter.
func (c *Client) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx, apiKey); err != nil {
		return "", fmt.Errorf("genai: waiting for rate limit: %w", err)
	}

	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("genai: encoding request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("genai: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("genai: sending request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("generate request completed",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrInvalidKey
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimited
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: status %d: %s", ErrBadRequest, resp.StatusCode, body)
	}

	var gr generateResponse
	if err := json.UnmarshalRead(resp.Body, &gr); err != nil {
		return "", fmt.Errorf("genai: decoding response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	text := gr.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
