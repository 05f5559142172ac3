package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ClientConfig holds the advisory LLM client configuration.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:     "https://api.anthropic.com/v1/messages",
		Model:       "claude-sonnet-4-20250514",
		MaxTokens:   16,
		Temperature: 0.2,
		Timeout:     30 * time.Second,
	}
}

// Client asks an LLM for a single-token market vote. The prompt constrains
// the reply to BUY, SELL or HOLD and ParseVote rejects everything else.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(config ClientConfig, logger zerolog.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger.With().Str("component", "advisor").Logger(),
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type chatResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

const systemPrompt = "You are a spot trading assistant. Reply with exactly one word: BUY, SELL or HOLD. No punctuation, no explanation."

func (c *Client) Advise(ctx context.Context, s MarketSummary) (Vote, error) {
	prompt := fmt.Sprintf(
		"Symbol %s, price %.8f, fast MA %.8f, slow MA %.8f, RSI %.2f, volatility %.6f, currently holding: %t. One word verdict.",
		s.Symbol, s.Price, s.FastMA, s.SlowMA, s.RSI, s.Volatility, s.IsLong)

	body, err := json.Marshal(chatRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		System:      systemPrompt,
		Messages:    []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return Abstain, fmt.Errorf("marshal advisory request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Abstain, fmt.Errorf("build advisory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Abstain, fmt.Errorf("advisory request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Abstain, fmt.Errorf("read advisory response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Abstain, fmt.Errorf("advisory service returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Abstain, fmt.Errorf("decode advisory response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return Abstain, fmt.Errorf("empty advisory response")
	}

	vote, err := ParseVote(parsed.Content[0].Text)
	if err != nil {
		c.logger.Warn().Err(err).Msg("advisory reply did not match the token contract")
		return Abstain, err
	}
	return vote, nil
}

var _ Advisor = (*Client)(nil)
var _ Advisor = Nop{}
