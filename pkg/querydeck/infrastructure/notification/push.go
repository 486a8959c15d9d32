package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
)

// PushChannel posts one message per device token to a push gateway.
type PushChannel struct {
	endpoint string
	client   *http.Client
}

// NewPushChannel creates a push channel for the gateway at endpoint.
func NewPushChannel(endpoint string, client *http.Client) *PushChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &PushChannel{endpoint: endpoint, client: client}
}

func (c *PushChannel) Name() model.Channel { return model.ChannelPush }

type pushMessage struct {
	To       string                 `json:"to"`
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Priority string                 `json:"priority"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Deliver sends n to every registered device of the owner in one request.
func (c *PushChannel) Deliver(ctx context.Context, n *model.Notification, prefs model.NotificationPreferences) error {
	if !prefs.PushEnabled {
		return skip("push disabled in preferences")
	}
	if len(prefs.PushTokens) == 0 {
		return skip("no registered devices")
	}
	if c.endpoint == "" {
		return skip("push gateway not configured")
	}

	priority := "default"
	if n.Priority == model.PriorityHigh {
		priority = "high"
	}
	data := newPayload(n, false).Data
	messages := make([]pushMessage, 0, len(prefs.PushTokens))
	for _, token := range prefs.PushTokens {
		messages = append(messages, pushMessage{To: token, Title: n.Title, Body: n.Message, Priority: priority, Data: data})
	}
	body, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode push messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push gateway answered %s", resp.Status)
	}
	return nil
}

var _ Channel = (*PushChannel)(nil)
