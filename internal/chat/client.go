// Package chat is the concrete message-send capability: a minimal bot-API
// client that delivers one text message to one chat handle. The bot's
// conversational surface lives elsewhere; the engine only needs send.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Client struct {
	botToken   string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithBaseURL(u string) Option {
	return func(cl *Client) {
		cl.baseURL = u
	}
}

func NewClient(botToken string, opts ...Option) *Client {
	c := &Client{
		botToken:   botToken,
		baseURL:    "https://api.telegram.org",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the bot token is set.
func (c *Client) Configured() bool {
	return c.botToken != ""
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Send delivers text to the recipient chat. A non-OK response is an error;
// the reminder queue decides whether to retry.
func (c *Client) Send(ctx context.Context, recipient, text string) error {
	if !c.Configured() {
		return fmt.Errorf("chat client not configured: missing bot token")
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: recipient, Text: text})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("chat API error: status %d", resp.StatusCode)
	}

	var smr sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&smr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !smr.OK {
		return fmt.Errorf("chat API rejected message: %s", smr.Description)
	}

	return nil
}
