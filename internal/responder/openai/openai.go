// Package openai implements the responder against the OpenAI chat
// completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/versiful/versiful/internal/config"
	"github.com/versiful/versiful/internal/responder"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const apiBaseURL = "https://api.openai.com/v1"

const systemPrompt = "You are a compassionate guide offering biblical wisdom and encouragement. " +
	"Respond with a short, warm message grounded in scripture, suitable for SMS. " +
	"Keep responses under 300 characters and cite the verse you draw on."

type Client struct {
	log     *zap.Logger
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

type Params struct {
	fx.In

	Log    *zap.Logger
	Config *config.Config
}

func NewClient(p Params) responder.Responder {
	return &Client{
		log:     p.Log.Named("responder.openai"),
		apiKey:  p.Config.OpenAIAPIKey,
		model:   p.Config.OpenAIModel,
		baseURL: apiBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithBaseURL is used by tests to point at a local server.
func NewClientWithBaseURL(log *zap.Logger, apiKey, model, baseURL string) *Client {
	return &Client{
		log:     log.Named("responder.openai"),
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Reply(ctx context.Context, prompt string, history []responder.Turn) (string, error) {
	messages := make([]chatMessage, 0, len(history)+2)
	messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	for _, turn := range history {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	payload, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: 200,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("chat completion: status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("chat completion: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
