package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramBot sends messages and photos to one chat
type TelegramBot struct {
	botToken   string
	chatID     string
	apiBase    string
	httpClient *http.Client
}

// TelegramResponse represents the response from Telegram API
type TelegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// NewTelegramBot creates a new Telegram bot instance
func NewTelegramBot(botToken, chatID string) *TelegramBot {
	return &TelegramBot{
		botToken:   botToken,
		chatID:     chatID,
		apiBase:    defaultAPIBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithAPIBase points the bot at another API root (used by tests)
func (tb *TelegramBot) WithAPIBase(u string) *TelegramBot {
	tb.apiBase = u
	return tb
}

// Configured reports whether a token and chat are set
func (tb *TelegramBot) Configured() bool {
	return tb.botToken != "" && tb.chatID != ""
}

// SendMessage sends an HTML text message
func (tb *TelegramBot) SendMessage(ctx context.Context, message string) error {
	if !tb.Configured() {
		return fmt.Errorf("telegram bot token or chat ID not configured")
	}

	payload := map[string]interface{}{
		"chat_id":    tb.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tb.methodURL("sendMessage"), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return tb.do(req)
}

// SendPhoto sends a JPEG with an HTML caption
func (tb *TelegramBot) SendPhoto(ctx context.Context, photoData []byte, caption string) error {
	if !tb.Configured() {
		return fmt.Errorf("telegram bot token or chat ID not configured")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", tb.chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "alert_frame.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tb.methodURL("sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return tb.do(req)
}

// GetBotInfo retrieves information about the bot
func (tb *TelegramBot) GetBotInfo(ctx context.Context) (map[string]interface{}, error) {
	if tb.botToken == "" {
		return nil, fmt.Errorf("bot token not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tb.methodURL("getMe"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := tb.send(req)
	if err != nil {
		return nil, err
	}

	var info map[string]interface{}
	if err := json.Unmarshal(resp.Result, &info); err != nil {
		return nil, fmt.Errorf("unexpected response format: %w", err)
	}
	return info, nil
}

// GetUpdates fetches updates after offset, waiting up to timeout seconds for one to arrive
func (tb *TelegramBot) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	if tb.botToken == "" {
		return nil, fmt.Errorf("bot token not configured")
	}

	u := fmt.Sprintf("%s?offset=%d&timeout=%d", tb.methodURL("getUpdates"), offset, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := tb.send(req)
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("failed to parse updates: %w", err)
	}
	return updates, nil
}

// ChatID returns the chat alerts and replies go to
func (tb *TelegramBot) ChatID() string { return tb.chatID }

func (tb *TelegramBot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", tb.apiBase, tb.botToken, method)
}

func (tb *TelegramBot) do(req *http.Request) error {
	_, err := tb.send(req)
	return err
}

func (tb *TelegramBot) send(req *http.Request) (*TelegramResponse, error) {
	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !telegramResp.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}
	return &telegramResp, nil
}
