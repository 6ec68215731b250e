package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tccp/tipbot-backend/internal/sysutil"
)

const defaultAPIBase = "https://api.telegram.org"

// Client is a minimal Telegram Bot API client covering the methods the
// service layer needs. It satisfies services.Notifier.
type Client struct {
	token   string
	baseURL string
	httpc   *http.Client
}

// NewClient builds a client for the given bot token. baseURL may be empty,
// in which case the public API endpoint is used; tests point it at a local
// server.
func NewClient(token, baseURL string) *Client {
	return &Client{
		token:   token,
		baseURL: sysutil.FirstNonEmpty(baseURL, defaultAPIBase),
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// apiResponse is the envelope every Bot API method returns.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// SendToUser delivers a direct message. Telegram addresses private chats by
// the user's id, so this is sendMessage with the user id as chat id.
func (c *Client) SendToUser(ctx context.Context, userID int64, text string) error {
	return c.SendToChat(ctx, userID, text)
}

// SendToChat delivers a plain-text message to a chat.
func (c *Client) SendToChat(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
}

// SendImage posts an image by URL with a caption.
func (c *Client) SendImage(ctx context.Context, chatID int64, url, caption string) error {
	return c.call(ctx, "sendPhoto", map[string]any{
		"chat_id": chatID,
		"photo":   url,
		"caption": caption,
	})
}

// SetWebhook registers the webhook URL with the platform, pinning the secret
// token the router later checks on every delivery.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	payload := map[string]any{"url": url}
	if secret != "" {
		payload["secret_token"] = secret
	}
	return c.call(ctx, "setWebhook", payload)
}

func (c *Client) call(ctx context.Context, method string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode %s response (http %d): %w", method, resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("%s rejected (code %d): %s", method, out.ErrorCode, out.Description)
	}
	return nil
}
