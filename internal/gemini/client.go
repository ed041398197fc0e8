// Package gemini implements the generation backend against the Google
// Generative Language API (v1beta generateContent).
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roundtable-ai/roundtable/internal/config"
	"github.com/roundtable-ai/roundtable/internal/gateway"
)

// Client talks to the Gemini REST API. It implements gateway.Generator.
type Client struct {
	cfg    config.GeminiConfig
	client *http.Client
}

func NewClient(cfg config.GeminiConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"` // user, model
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiTool struct {
	GoogleSearchRetrieval map[string]any `json:"google_search_retrieval,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings   []geminiSafetySetting   `json:"safetySettings,omitempty"`
	Tools            []geminiTool            `json:"tools,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// The room relies on selection and post-processing for content control,
// so provider-side blocking is disabled across all categories.
var safetyOff = []geminiSafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
}

// Generate performs one generateContent call and maps the response to the
// gateway result shape, including usage metadata.
func (c *Client) Generate(ctx context.Context, req *gateway.Request) (*gateway.Result, error) {
	body := geminiRequest{
		Contents:       make([]geminiContent, 0, len(req.Contents)),
		SafetySettings: safetyOff,
	}
	for _, turn := range req.Contents {
		body.Contents = append(body.Contents, geminiContent{
			Role:  turn.Role,
			Parts: []geminiPart{{Text: turn.Text}},
		})
	}

	gc := &geminiGenerationConfig{MaxOutputTokens: req.MaxOutputTokens}
	if req.Sampling != nil {
		gc.Temperature = req.Sampling.Temperature
		gc.TopK = req.Sampling.TopK
		gc.TopP = req.Sampling.TopP
	}
	body.GenerationConfig = gc

	if req.EnableSearch {
		body.Tools = []geminiTool{{GoogleSearchRetrieval: map[string]any{}}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling gemini: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, msg)
	}

	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	result := &gateway.Result{Text: strings.TrimSpace(sb.String())}
	if parsed.UsageMetadata != nil {
		result.Usage = gateway.Usage{
			PromptTokens:    parsed.UsageMetadata.PromptTokenCount,
			CandidateTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:     parsed.UsageMetadata.TotalTokenCount,
		}
		slog.Debug("gemini token usage",
			"prompt", result.Usage.PromptTokens,
			"candidates", result.Usage.CandidateTokens,
			"total", result.Usage.TotalTokens,
		)
	}
	return result, nil
}
