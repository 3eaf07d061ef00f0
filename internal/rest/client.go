// Package rest is the HTTP fallback for the notification socket.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"carenotify/internal/model"
	"carenotify/pkg/exception"

	"github.com/bytedance/sonic"
)

const (
	basePath        = "/api/notifications/in-app/"
	defaultOrdering = "-created_at"
	defaultTimeout  = 15 * time.Second
	maxErrorBody    = 512
)

// TokenSource supplies the bearer token for every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ListQuery selects one page of a recipient's notifications.
type ListQuery struct {
	RecipientID string
	Status      model.StatusFilter
	Page        int
}

// MarkAllResult is the body returned by mark_all_as_read.
type MarkAllResult struct {
	Updated int `json:"updated"`
}

type Client struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
}

// New builds a client for baseURL (scheme and host, optional path prefix).
// A nil http.Client gets one with a 15s timeout.
func New(baseURL string, client *http.Client, tokens TokenSource) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: rest base url %q", exception.ErrInvalidConfig, baseURL)
	}
	if tokens == nil {
		return nil, exception.ErrNilTokenSource
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: baseURL, client: client, tokens: tokens}, nil
}

// List fetches one page, newest first. StatusAll omits the status filter.
func (c *Client) List(ctx context.Context, q ListQuery) (model.Page, error) {
	status := q.Status.OrDefault()
	if !status.IsAvailable() {
		return model.Page{}, fmt.Errorf("%w: %s", exception.ErrInvalidStatus, status)
	}
	page := q.Page
	if page <= 0 {
		page = model.DefaultPage
	}

	query := url.Values{}
	if q.RecipientID != "" {
		query.Set("recipient_id", q.RecipientID)
	}
	if status != model.FilterAll {
		query.Set("status", string(status))
	}
	query.Set("ordering", defaultOrdering)
	query.Set("page", strconv.Itoa(page))

	var out model.Page
	if err := c.do(ctx, http.MethodGet, basePath+"?"+query.Encode(), nil, &out); err != nil {
		return model.Page{}, err
	}
	return out, nil
}

func (c *Client) MarkAsRead(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, basePath+strconv.FormatInt(id, 10)+"/mark_as_read/", nil, nil)
}

func (c *Client) Archive(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, basePath+strconv.FormatInt(id, 10)+"/archive/", nil, nil)
}

// MarkAllAsRead marks every unread notification of recipientID and returns how many changed.
func (c *Client) MarkAllAsRead(ctx context.Context, recipientID string) (int, error) {
	body := map[string]string{"recipient_id": recipientID}
	var out MarkAllResult
	if err := c.do(ctx, http.MethodPost, basePath+"mark_all_as_read/", body, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if c == nil {
		return exception.ErrRESTNilClient
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", exception.ErrAuthenticationMissing, err)
	}
	if token == "" {
		return exception.ErrAuthenticationMissing
	}

	var reader io.Reader
	if body != nil {
		payload, err := sonic.ConfigFastest.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	r, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	r.Header.Set("Authorization", "Bearer "+token)
	r.Header.Set("Accept", "application/json")
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s: %d %s", exception.ErrRESTStatus, method, strings.SplitN(path, "?", 2)[0], resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
