package model

import (
	"net/url"
	"strings"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail   Channel = "EMAIL"
	ChannelPush    Channel = "PUSH"
	ChannelWebhook Channel = "WEBHOOK"
)

// NotificationType is the class of a notification, each independently opt-out-able.
type NotificationType string

const (
	NotificationSchedule NotificationType = "SCHEDULE"
	NotificationAlert    NotificationType = "ALERT"
	NotificationError    NotificationType = "ERROR"
)

// Priority of a notification.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// WebhookConfig configures webhook delivery for a schedule.
type WebhookConfig struct {
	URL            string            `json:"url"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	IncludeResults bool              `json:"includeResults"`
}

// Validate checks the URL and method.
func (w *WebhookConfig) Validate() error {
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return exception.NewValidationError(moduleName, "webhook url %q is not an http(s) url", w.URL)
	}
	switch strings.ToUpper(w.Method) {
	case "", "GET", "POST", "PUT":
		return nil
	default:
		return exception.NewValidationError(moduleName, "webhook method %q is not one of GET, POST, PUT", w.Method)
	}
}

// NotificationSettings is the notifications block of a schedule.
type NotificationSettings struct {
	Enabled    bool             `json:"enabled"`
	Channels   []Channel        `json:"channels"`
	Recipients []string         `json:"recipients,omitempty"`
	Webhook    *WebhookConfig   `json:"webhook,omitempty"`
	Conditions []AlertCondition `json:"conditions,omitempty"`
}

// Validate checks the channel set, the webhook and every alert condition.
func (n NotificationSettings) Validate() error {
	for _, ch := range n.Channels {
		switch ch {
		case ChannelEmail, ChannelPush:
		case ChannelWebhook:
			if n.Webhook == nil {
				return exception.NewValidationError(moduleName, "webhook channel selected without webhook config")
			}
		default:
			return exception.NewValidationError(moduleName, "unknown notification channel %q", ch)
		}
	}
	if n.Webhook != nil {
		if err := n.Webhook.Validate(); err != nil {
			return err
		}
	}
	for _, c := range n.Conditions {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Notification is a request to notify an owner, and the stored history entry of that request.
type Notification struct {
	ID         string
	OwnerID    string
	Type       NotificationType
	Title      string
	Message    string
	Priority   Priority
	Channels   []Channel
	Recipients []string
	Webhook    *WebhookConfig
	Data       map[string]interface{}
	Outcomes   []ChannelOutcome
	Read       bool
	CreatedAt  time.Time
}

// ChannelOutcome is the delivery result of one channel.
type ChannelOutcome struct {
	Channel Channel `json:"channel"`
	Success bool    `json:"success"`
	Skipped bool    `json:"skipped,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// DeliveryReport collects per-channel outcomes.
type DeliveryReport struct {
	Outcomes []ChannelOutcome
}

// Attempted reports whether at least one channel was tried rather than skipped.
func (r DeliveryReport) Attempted() bool {
	for _, o := range r.Outcomes {
		if !o.Skipped {
			return true
		}
	}
	return false
}

// AnySucceeded reports whether at least one channel delivered.
func (r DeliveryReport) AnySucceeded() bool {
	for _, o := range r.Outcomes {
		if o.Success {
			return true
		}
	}
	return false
}

// NotificationPreferences are per-owner delivery settings.
type NotificationPreferences struct {
	OwnerID      string
	EmailEnabled bool
	EmailAddress string
	PushEnabled  bool
	PushTokens   []string
	WebhookURL   string
	// Per-type toggles.
	ScheduleNotifications bool
	AlertNotifications    bool
	ErrorNotifications    bool
	UpdatedAt             time.Time
}

// DefaultPreferences returns preferences with every channel and type enabled.
func DefaultPreferences(ownerID string) NotificationPreferences {
	return NotificationPreferences{
		OwnerID:               ownerID,
		EmailEnabled:          true,
		PushEnabled:           true,
		ScheduleNotifications: true,
		AlertNotifications:    true,
		ErrorNotifications:    true,
	}
}

// Allows reports whether the owner accepts notifications of type t.
func (p NotificationPreferences) Allows(t NotificationType) bool {
	switch t {
	case NotificationSchedule:
		return p.ScheduleNotifications
	case NotificationAlert:
		return p.AlertNotifications
	case NotificationError:
		return p.ErrorNotifications
	}
	return true
}
