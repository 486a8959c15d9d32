// Package notification delivers notifications over email, push and webhook
// channels, honoring per-owner preferences and type opt-outs.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
)

const moduleName = "notification"

// Channel delivers one notification over one transport.
type Channel interface {
	// Name is the channel this transport serves.
	Name() model.Channel
	// Deliver sends n. It returns a SkipError when the owner's preferences
	// or the notification leave nothing to deliver to.
	Deliver(ctx context.Context, n *model.Notification, prefs model.NotificationPreferences) error
}

// SkipError reports a channel that was not attempted.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

func skip(reason string) error { return &SkipError{Reason: reason} }

// IsSkip reports whether err is a SkipError.
func IsSkip(err error) bool {
	var se *SkipError
	return errors.As(err, &se)
}

// payload is the JSON document sent by the push and webhook channels.
type payload struct {
	ID        string                 `json:"id"`
	Type      model.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Priority  model.Priority         `json:"priority"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// newPayload builds the document for n. Result rows are kept only when includeResults is set.
func newPayload(n *model.Notification, includeResults bool) payload {
	data := make(map[string]interface{}, len(n.Data))
	for k, v := range n.Data {
		if k == "results" && !includeResults {
			continue
		}
		data[k] = v
	}
	return payload{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Priority:  n.Priority,
		Timestamp: n.CreatedAt,
		Data:      data,
	}
}
