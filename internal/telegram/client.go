// Package telegram is the delivery channel client: one sendMessage call with a
// typed rate-limit error so the exporter can honor the provider's cooldown.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// RetryAfterError signals the provider's "rate limited, retry after" condition.
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.After)
}

// Bot sends messages through the Bot API.
type Bot struct {
	token string
	base  string
	http  *http.Client
}

// NewBot constructs a bot client. An empty apiBase selects the public endpoint.
func NewBot(token, apiBase string) *Bot {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Bot{token: token, base: apiBase, http: &http.Client{}}
}

type inlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	ReplyMarkup           struct {
		InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
	} `json:"reply_markup"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Parameters  struct {
		RetryAfter int64 `json:"retry_after"`
	} `json:"parameters"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// SendMessage delivers a MarkdownV2 message with a single inline link button
// and returns the resulting message id.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text, buttonText, buttonURL string) (int64, error) {
	payload := sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "MarkdownV2",
		DisableWebPagePreview: true,
	}
	payload.ReplyMarkup.InlineKeyboard = [][]inlineButton{{{Text: buttonText, URL: buttonURL}}}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", b.base, b.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	var out sendMessageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, err
	}
	if !out.OK {
		if out.Parameters.RetryAfter > 0 {
			return 0, &RetryAfterError{After: time.Duration(out.Parameters.RetryAfter) * time.Second}
		}
		return 0, fmt.Errorf("sendMessage failed: %d %s", out.ErrorCode, out.Description)
	}
	return out.Result.MessageID, nil
}
