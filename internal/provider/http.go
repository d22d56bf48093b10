// ABOUTME: HTTP client implementation of the Provider interface
// ABOUTME: Single round-trip generateContent call against a Gemini-style REST API

package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPClient calls a Gemini-style generateContent REST endpoint
type HTTPClient struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a provider client. The timeout bounds each generate
// call; a hung provider surfaces as an error, not an indefinite wait.
func NewHTTPClient(baseURL, model, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: slog.Default().With("component", "provider"),
	}
}

// wire types for the generateContent request/response

type wirePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *wireInlineData `json:"inlineData,omitempty"`
}

type wireInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type wireContent struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

type wireGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type wireRequest struct {
	Contents         []wireContent         `json:"contents"`
	GenerationConfig *wireGenerationConfig `json:"generationConfig,omitempty"`
}

type wireResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the full history plus the new turn and returns the model's text
func (c *HTTPClient) Generate(ctx context.Context, history []Turn, parts []Part, opts Options) (*Result, error) {
	contents := make([]wireContent, 0, len(history)+1)
	for _, turn := range history {
		contents = append(contents, wireContent{
			Role:  turn.Role,
			Parts: encodeParts(turn.Parts),
		})
	}
	contents = append(contents, wireContent{
		Role:  "user",
		Parts: encodeParts(parts),
	})

	req := wireRequest{Contents: contents}
	if opts.MaxOutputTokens > 0 {
		req.GenerationConfig = &wireGenerationConfig{MaxOutputTokens: opts.MaxOutputTokens}
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-goog-api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var wireResp wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, fmt.Errorf("parsing provider response: %w", err)
	}

	if wireResp.Error != nil {
		return nil, fmt.Errorf("provider error %d: %s", wireResp.Error.Code, wireResp.Error.Message)
	}

	var text strings.Builder
	if len(wireResp.Candidates) > 0 {
		for _, p := range wireResp.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	if text.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	c.logger.Debug("generate completed",
		"model", c.model,
		"history_turns", len(history),
		"duration", time.Since(start))

	return &Result{Text: text.String()}, nil
}

func encodeParts(parts []Part) []wirePart {
	out := make([]wirePart, 0, len(parts))
	for _, p := range parts {
		if len(p.Data) > 0 {
			out = append(out, wirePart{
				InlineData: &wireInlineData{
					MimeType: p.MimeType,
					Data:     base64.StdEncoding.EncodeToString(p.Data),
				},
			})
			continue
		}
		out = append(out, wirePart{Text: p.Text})
	}
	return out
}

// Ensure HTTPClient implements Provider
var _ Provider = (*HTTPClient)(nil)
