package ports

import (
	"context"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
)

// Notifier delivers notifications to owners over their channels.
type Notifier interface {
	// Send delivers n on each requested channel, honoring the owner's preferences,
	// and reports the outcome per channel. An error is returned only when nothing could be attempted.
	Send(ctx context.Context, n *model.Notification, ownerID string) (model.DeliveryReport, error)
}

// DummyNotifier accepts every notification without delivering it.
type DummyNotifier struct{}

// Send reports every requested channel as delivered.
func (DummyNotifier) Send(_ context.Context, n *model.Notification, _ string) (model.DeliveryReport, error) {
	report := model.DeliveryReport{}
	for _, ch := range n.Channels {
		report.Outcomes = append(report.Outcomes, model.ChannelOutcome{Channel: ch, Success: true})
	}
	return report, nil
}
