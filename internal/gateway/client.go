package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatbridge/internal/config"
	"chatbridge/internal/constants"
	"chatbridge/internal/logger"
	"chatbridge/pkg/circuitbreaker"
	"chatbridge/pkg/errors"
	"chatbridge/pkg/metrics"
	"chatbridge/pkg/retry"
)

// Client is a thin adapter over the messaging gateway's HTTP API. All
// operations are session-scoped and authenticated with a bearer token.
type Client struct {
	baseURL string
	session string
	token   string
	client  *http.Client
	logger  logger.Logger
	cb      *circuitbreaker.Wrapper
}

func NewClient(cfg config.GatewayConfig, log logger.Logger, cb *circuitbreaker.Wrapper) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultUpstreamTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		session: cfg.Session,
		token:   cfg.Token,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: log,
		cb:     cb,
	}
}

// SendText delivers a plain text message to a phone number.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	return c.doJSON(ctx, http.MethodPost, "send-message", "send_text", sendTextRequest{
		Phone:   phone,
		Message: text,
	}, nil)
}

// SendFileBase64 delivers a file. The payload must already be framed as
// a data URI ("data:<mime>;base64,<payload>"); the gateway rejects raw
// base64 with an empty_file error.
func (c *Client) SendFileBase64(ctx context.Context, phone, dataURI, filename, caption string) error {
	if !strings.HasPrefix(dataURI, "data:") {
		return errors.ErrMalformed.WithDetail("reason", "send-file payload must be a data URI")
	}
	return c.doJSON(ctx, http.MethodPost, "send-file-base64", "send_file", sendFileRequest{
		Phone:    phone,
		Base64:   dataURI,
		Filename: filename,
		Caption:  caption,
	}, nil)
}

// SendVoiceBase64 delivers a voice note (ogg/opus payloads only).
func (c *Client) SendVoiceBase64(ctx context.Context, phone, dataURI string) error {
	if !strings.HasPrefix(dataURI, "data:") {
		return errors.ErrMalformed.WithDetail("reason", "send-voice payload must be a data URI")
	}
	return c.doJSON(ctx, http.MethodPost, "send-voice-base64", "send_voice", sendVoiceRequest{
		Phone:  phone,
		Base64: dataURI,
	}, nil)
}

// ListChats returns the session's chats that have unread messages.
// Retried briefly: the poller depends on it and it is idempotent.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	var out apiResponse[[]Chat]
	req := listChatsRequest{OnlyWithUnreadMessages: true}
	err := retry.Retry(ctx, retry.UpstreamPolicy(), func() error {
		return c.doJSON(ctx, http.MethodPost, "list-chats", "list_chats", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Response, nil
}

// ListMessages returns the most recent count messages in a chat, oldest
// of the fetched batch first.
func (c *Client) ListMessages(ctx context.Context, chatID string, count int) ([]EventMessage, error) {
	var out apiResponse[[]EventMessage]
	path := fmt.Sprintf("all-messages-in-chat/%s?count=%d", chatID, count)
	err := retry.Retry(ctx, retry.UpstreamPolicy(), func() error {
		return c.doJSON(ctx, http.MethodGet, path, "list_messages", nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Response, nil
}

// DownloadMedia fetches a message's media at full quality.
func (c *Client) DownloadMedia(ctx context.Context, messageID string) (*DownloadedMedia, error) {
	var out apiResponse[DownloadedMedia]
	path := "get-media-by-message/" + messageID
	if err := c.doJSON(ctx, http.MethodGet, path, "download_media", nil, &out); err != nil {
		return nil, err
	}
	if out.Response.Base64 == "" {
		return nil, errors.ErrNoAttachment.WithDetail("message_id", messageID)
	}
	return &out.Response, nil
}

// DownloadMediaLegacy is the older download endpoint, kept as the last
// fallback for gateway versions where the full-quality route 404s.
func (c *Client) DownloadMediaLegacy(ctx context.Context, messageID string) (*DownloadedMedia, error) {
	var out DownloadedMedia
	path := "download-media/" + messageID
	if err := c.doJSON(ctx, http.MethodGet, path, "download_media_legacy", nil, &out); err != nil {
		return nil, err
	}
	if out.Base64 == "" {
		return nil, errors.ErrNoAttachment.WithDetail("message_id", messageID)
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, operation string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.ErrInternal.WithCause(err)
		}
		reqBody = bytes.NewReader(raw)
	}

	url := fmt.Sprintf("%s/api/%s/%s", c.baseURL, c.session, path)

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return errors.ErrInternal.WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.execute(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.ObserveUpstreamRequest("gateway", operation, "error", duration)
		return errors.ErrUpstreamUnavailable.WithCause(err).WithDetail("operation", operation)
	}
	defer resp.Body.Close()

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		metrics.ObserveUpstreamRequest("gateway", operation, fmt.Sprintf("%d", resp.StatusCode), duration)
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.ErrUpstreamUnavailable.
			WithDetail("operation", operation).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", string(raw))
	}

	metrics.ObserveUpstreamRequest("gateway", operation, "ok", duration)

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.ErrMalformed.WithCause(err).WithDetail("operation", operation)
	}

	return nil
}

func (c *Client) execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.cb == nil {
		return c.client.Do(req)
	}

	result, err := c.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return c.client.Do(req)
	})

	c.cb.RecordRequest(err == nil)

	if err != nil {
		if c.cb.IsOpen() {
			return nil, fmt.Errorf("circuit breaker open for gateway: %w", err)
		}
		return nil, err
	}

	return result.(*http.Response), nil
}
