package xai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.x.ai"
	defaultModel   = "grok"
)

// Client requests arbitration verdicts from the xAI chat-completions API. It
// implements workflow.ResolutionProvider.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient builds an xAI client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Resolve builds the arbitration prompt from the statements in positional
// order and returns the model's verdict text. Malformed or empty responses
// are errors; the dispute stays open for retry.
func (c *Client) Resolve(ctx context.Context, partyStatements []string) (string, error) {
	if len(partyStatements) == 0 {
		return "", fmt.Errorf("xai: no statements to resolve")
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: buildPrompt(partyStatements)}},
	})
	if err != nil {
		return "", fmt.Errorf("xai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("xai: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("xai: request verdict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("xai: request verdict: status %d", resp.StatusCode)
	}

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("xai: decode response: %w", err)
	}
	if len(payload.Choices) == 0 || payload.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("xai: empty verdict in response")
	}

	return payload.Choices[0].Message.Content, nil
}

// buildPrompt names each party positionally: Party1, Party2, and so on.
// Unsubmitted parties arrive as empty strings and keep their position.
func buildPrompt(statements []string) string {
	var b strings.Builder
	b.WriteString("Resolve fairly:")
	for i, stmt := range statements {
		fmt.Fprintf(&b, " Party%d: %s", i+1, stmt)
	}
	return b.String()
}
