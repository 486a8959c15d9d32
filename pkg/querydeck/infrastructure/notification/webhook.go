package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
)

// WebhookChannel calls the schedule's webhook, or the owner's default webhook URL.
type WebhookChannel struct {
	client *http.Client
}

// NewWebhookChannel creates a webhook channel. The client's timeout bounds each call.
func NewWebhookChannel(client *http.Client) *WebhookChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookChannel{client: client}
}

func (c *WebhookChannel) Name() model.Channel { return model.ChannelWebhook }

// Deliver sends n. GET carries the summary as query parameters; POST and PUT send the JSON payload.
func (c *WebhookChannel) Deliver(ctx context.Context, n *model.Notification, prefs model.NotificationPreferences) error {
	hook := n.Webhook
	if hook == nil && prefs.WebhookURL != "" {
		hook = &model.WebhookConfig{URL: prefs.WebhookURL, Method: http.MethodPost}
	}
	if hook == nil || hook.URL == "" {
		return skip("no webhook configured")
	}
	method := strings.ToUpper(hook.Method)
	if method == "" {
		method = http.MethodPost
	}

	req, err := c.request(ctx, method, hook, n)
	if err != nil {
		return err
	}
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s %s failed: %w", method, hook.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s %s answered %s", method, hook.URL, resp.Status)
	}
	return nil
}

func (c *WebhookChannel) request(ctx context.Context, method string, hook *model.WebhookConfig, n *model.Notification) (*http.Request, error) {
	switch method {
	case http.MethodGet:
		u, err := url.Parse(hook.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook url: %w", err)
		}
		q := u.Query()
		q.Set("id", n.ID)
		q.Set("type", string(n.Type))
		q.Set("title", n.Title)
		q.Set("priority", string(n.Priority))
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, method, u.String(), nil)
	case http.MethodPost, http.MethodPut:
		body, err := json.Marshal(newPayload(n, hook.IncludeResults))
		if err != nil {
			return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, method, hook.URL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	default:
		return nil, fmt.Errorf("unsupported webhook method %q", method)
	}
}

var _ Channel = (*WebhookChannel)(nil)
