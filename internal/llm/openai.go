// Package llm provides a minimal OpenAI chat-completions client used for
// reply generation and the startup connection probe.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/grannylabs/granny-voice/internal/config"
	"github.com/grannylabs/granny-voice/internal/observability"
	"github.com/grannylabs/granny-voice/internal/resilience"
)

// Message is one turn of a chat completion request
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Client calls the OpenAI chat-completions API
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates an OpenAI chat client from configuration
func NewClient(cfg *config.Config) *Client {
	return &Client{
		apiKey:     cfg.OpenAIAPIKey,
		baseURL:    cfg.OpenAIBaseURL,
		model:      cfg.OpenAIModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     observability.WithComponent("llm"),
	}
}

// Complete runs one chat completion and returns the assistant content
func (c *Client) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	start := time.Now()
	content, err := c.complete(ctx, messages, maxTokens)
	observability.RecordLLMRequest(err == nil, time.Since(start).Seconds())
	if err != nil {
		observability.RecordError("llm")
	}
	return content, err
}

func (c *Client) complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	payload := chatRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("openai chat API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openai chat API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai chat API returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

// GenerateReply produces a single assistant reply following the given
// instructions. Used for the session greeting and turn responses.
func (c *Client) GenerateReply(ctx context.Context, instructions string, userText string) (string, error) {
	messages := []Message{{Role: "system", Content: instructions}}
	if userText != "" {
		messages = append(messages, Message{Role: "user", Content: userText})
	}
	return c.Complete(ctx, messages, 0)
}

// Probe sends a tiny round-trip request to verify the API key actually
// works before the agent goes live. Transient network failures are
// retried, auth errors surface immediately.
func (c *Client) Probe(ctx context.Context) error {
	c.logger.Info().Msg("Testing OpenAI API connection")

	var reply string
	err := resilience.Retry(func() error {
		var err error
		reply, err = c.Complete(ctx, []Message{
			{Role: "user", Content: "Say 'test successful' and nothing else"},
		}, 10)
		return err
	}, resilience.DefaultRetryConfig(), resilience.IsRetryableNetworkError)
	if err != nil {
		c.logger.Error().Err(err).Msg("OpenAI API test failed")
		return fmt.Errorf("openai API key is invalid or connection failed: %w", err)
	}

	c.logger.Info().Str("response", reply).Msg("OpenAI API test passed")
	return nil
}
