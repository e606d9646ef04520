package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatbridge/internal/config"
	"chatbridge/internal/constants"
	"chatbridge/internal/logger"
	"chatbridge/pkg/circuitbreaker"
	"chatbridge/pkg/errors"
	"chatbridge/pkg/metrics"
	"chatbridge/pkg/models"
	"chatbridge/pkg/retry"
)

// Client is a thin adapter over the inbox platform's account-scoped REST
// API.
type Client struct {
	baseURL     string
	internalURL string
	accountID   string
	inboxID     int
	token       string
	client      *http.Client
	logger      logger.Logger
	cb          *circuitbreaker.Wrapper
}

func NewClient(cfg config.InboxConfig, log logger.Logger, cb *circuitbreaker.Wrapper) (*Client, error) {
	inboxID, err := strconv.Atoi(cfg.InboxID)
	if err != nil {
		return nil, fmt.Errorf("inbox id must be numeric, got %q: %w", cfg.InboxID, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultUpstreamTimeout
	}

	internalURL := cfg.InternalURL
	if internalURL == "" {
		internalURL = cfg.BaseURL
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		internalURL: strings.TrimRight(internalURL, "/"),
		accountID:   cfg.AccountID,
		inboxID:     inboxID,
		token:       cfg.Token,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: log,
		cb:     cb,
	}, nil
}

// InboxID returns the configured channel id.
func (c *Client) InboxID() int {
	return c.inboxID
}

// SearchContact looks a contact up by canonical phone number. Returns
// NotFound when the platform knows nobody under that identifier.
func (c *Client) SearchContact(ctx context.Context, query string) (*ContactRecord, error) {
	var out searchContactsResponse
	path := "contacts/search?q=" + url.QueryEscape(query)
	err := retry.Retry(ctx, retry.UpstreamPolicy(), func() error {
		return c.doJSON(ctx, http.MethodGet, path, "search_contact", nil, &out)
	})
	if err != nil {
		return nil, err
	}

	for i := range out.Payload {
		if out.Payload[i].PhoneNumber == query {
			return &out.Payload[i], nil
		}
	}
	if len(out.Payload) > 0 {
		return &out.Payload[0], nil
	}

	return nil, errors.ErrNotFound.WithDetail("query", query)
}

// CreateContact registers a contact bound to the configured channel.
// A 422 from the platform signals a concurrent creation race; callers
// should re-run the search once.
func (c *Client) CreateContact(ctx context.Context, name, phoneNumber string) (*ContactRecord, error) {
	var out createContactResponse
	err := c.doJSON(ctx, http.MethodPost, "contacts", "create_contact", createContactRequest{
		InboxID:     c.inboxID,
		Name:        name,
		PhoneNumber: phoneNumber,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out.Payload.Contact, nil
}

// ListOpenConversations returns the open conversations on the configured
// channel.
func (c *Client) ListOpenConversations(ctx context.Context) ([]ConversationRecord, error) {
	var out listConversationsResponse
	path := fmt.Sprintf("conversations?inbox_id=%d&status=open", c.inboxID)
	err := retry.Retry(ctx, retry.UpstreamPolicy(), func() error {
		return c.doJSON(ctx, http.MethodGet, path, "list_conversations", nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Data.Payload, nil
}

// CreateConversation opens a conversation for a contact. sourceID must
// be the contact's existing channel binding; the platform rejects
// invented values (a phone number is not a source id).
func (c *Client) CreateConversation(ctx context.Context, sourceID string, contactID int) (*ConversationRecord, error) {
	var out ConversationRecord
	err := c.doJSON(ctx, http.MethodPost, "conversations", "create_conversation", createConversationRequest{
		SourceID:  sourceID,
		InboxID:   c.inboxID,
		ContactID: contactID,
		Status:    "open",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetConversation fetches a conversation with its sender metadata.
func (c *Client) GetConversation(ctx context.Context, conversationID int) (*ConversationRecord, error) {
	var out ConversationRecord
	path := fmt.Sprintf("conversations/%d", conversationID)
	if err := c.doJSON(ctx, http.MethodGet, path, "get_conversation", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateMessage posts a message into a conversation. With an attachment
// the request goes out as multipart form data; the platform infers the
// attachment type from the part's content type.
func (c *Client) CreateMessage(ctx context.Context, conversationID int, content, messageType string, attachment *models.Attachment) error {
	path := fmt.Sprintf("conversations/%d/messages", conversationID)

	if attachment == nil {
		body := map[string]string{
			"content":      content,
			"message_type": messageType,
		}
		return c.doJSON(ctx, http.MethodPost, path, "create_message", body, nil)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if content != "" {
		if err := writer.WriteField("content", content); err != nil {
			return errors.ErrInternal.WithCause(err)
		}
	}
	if err := writer.WriteField("message_type", messageType); err != nil {
		return errors.ErrInternal.WithCause(err)
	}

	part, err := writer.CreateFormFile("attachments[]", attachment.Filename)
	if err != nil {
		return errors.ErrInternal.WithCause(err)
	}
	if _, err := part.Write(attachment.Bytes); err != nil {
		return errors.ErrInternal.WithCause(err)
	}
	if err := writer.Close(); err != nil {
		return errors.ErrInternal.WithCause(err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.send(req, "create_message_multipart", nil)
}

// GetMessage re-fetches a single message, attachments included. Used by
// the outbound path when the webhook payload omitted attachment
// metadata.
func (c *Client) GetMessage(ctx context.Context, conversationID int, messageID int64) (*MessageRecord, error) {
	messages, err := c.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if messages[i].ID == messageID {
			return &messages[i], nil
		}
	}
	return nil, errors.ErrNotFound.WithDetail("message_id", messageID)
}

// ListMessages returns the messages of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID int) ([]MessageRecord, error) {
	var out listMessagesResponse
	path := fmt.Sprintf("conversations/%d/messages", conversationID)
	err := retry.Retry(ctx, retry.UpstreamPolicy(), func() error {
		return c.doJSON(ctx, http.MethodGet, path, "list_messages", nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Payload, nil
}

// ListAttachments walks the conversation's attachment pages.
func (c *Client) ListAttachments(ctx context.Context, conversationID int) ([]AttachmentRecord, error) {
	var all []AttachmentRecord
	page := 1

	for {
		var out listAttachmentsResponse
		path := fmt.Sprintf("conversations/%d/attachments?page=%d", conversationID, page)
		if err := c.doJSON(ctx, http.MethodGet, path, "list_attachments", nil, &out); err != nil {
			return nil, err
		}

		all = append(all, out.Payload...)

		if out.Meta.NextPage == 0 || len(out.Payload) == 0 {
			return all, nil
		}
		page = out.Meta.NextPage
	}
}

// FetchAttachment downloads attachment bytes from a platform-generated
// URL. Those URLs are built from the platform's public hostname, which
// the bridge frequently cannot reach, so localhost-style origins are
// rewritten to the configured internal address, and the API token rides
// along when the rewritten URL still targets the platform.
func (c *Client) FetchAttachment(ctx context.Context, rawURL string) ([]byte, error) {
	target := c.RewriteAttachmentURL(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.ErrInternal.WithCause(err)
	}
	if strings.HasPrefix(target, c.internalURL) || strings.HasPrefix(target, c.baseURL) {
		req.Header.Set("api_access_token", c.token)
	}

	start := time.Now()
	resp, err := c.execute(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.ObserveUpstreamRequest("inbox", "fetch_attachment", "error", duration)
		return nil, errors.ErrUpstreamUnavailable.WithCause(err).WithDetail("url", target)
	}
	defer resp.Body.Close()

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		metrics.ObserveUpstreamRequest("inbox", "fetch_attachment", fmt.Sprintf("%d", resp.StatusCode), duration)
		return nil, errors.ErrUpstreamUnavailable.
			WithDetail("url", target).
			WithDetail("status", resp.StatusCode)
	}

	metrics.ObserveUpstreamRequest("inbox", "fetch_attachment", "ok", duration)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ErrUpstreamUnavailable.WithCause(err).WithDetail("url", target)
	}
	return data, nil
}

// RewriteAttachmentURL maps localhost-style origins onto the platform's
// internal address, keeping path and query intact.
func (c *Client) RewriteAttachmentURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	host := u.Hostname()
	if host != "localhost" && host != "127.0.0.1" && host != "0.0.0.0" {
		return rawURL
	}

	internal, err := url.Parse(c.internalURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = internal.Scheme
	u.Host = internal.Host
	return u.String()
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

	req, err := c.newRequest(ctx, method, path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, operation, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := fmt.Sprintf("%s/api/v1/accounts/%s/%s", c.baseURL, c.accountID, path)

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.ErrInternal.WithCause(err)
	}
	req.Header.Set("api_access_token", c.token)
	return req, nil
}

func (c *Client) send(req *http.Request, operation string, out interface{}) error {
	start := time.Now()
	resp, err := c.execute(req.Context(), req)
	duration := time.Since(start)

	if err != nil {
		metrics.ObserveUpstreamRequest("inbox", operation, "error", duration)
		return errors.ErrUpstreamUnavailable.WithCause(err).WithDetail("operation", operation)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		metrics.ObserveUpstreamRequest("inbox", operation, "conflict", duration)
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.ErrConflict.
			WithDetail("operation", operation).
			WithDetail("body", string(raw))
	}

	if resp.StatusCode == http.StatusNotFound {
		metrics.ObserveUpstreamRequest("inbox", operation, "not_found", duration)
		return errors.ErrNotFound.WithDetail("operation", operation)
	}

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		metrics.ObserveUpstreamRequest("inbox", operation, fmt.Sprintf("%d", resp.StatusCode), duration)
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.ErrUpstreamUnavailable.
			WithDetail("operation", operation).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", string(raw))
	}

	metrics.ObserveUpstreamRequest("inbox", operation, "ok", duration)

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
			return nil, fmt.Errorf("circuit breaker open for inbox: %w", err)
		}
		return nil, err
	}

	return result.(*http.Response), nil
}
