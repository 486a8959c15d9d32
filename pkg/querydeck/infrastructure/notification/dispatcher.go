package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/ports"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// Dispatcher is the ports.Notifier that fans a notification out to its channels.
// Every dispatched notification is appended to the owner's history with its outcomes.
type Dispatcher struct {
	preferences repository.Preferences
	history     repository.Notifications
	channels    map[model.Channel]Channel
	limiter     *rate.Limiter
	now         func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRateLimit throttles outbound deliveries across all channels. perSecond <= 0 disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(d *Dispatcher) {
		if perSecond <= 0 {
			d.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// NewDispatcher creates a Dispatcher over the given channel transports.
func NewDispatcher(preferences repository.Preferences, history repository.Notifications, channels []Channel, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		preferences: preferences,
		history:     history,
		channels:    make(map[model.Channel]Channel, len(channels)),
		now:         time.Now,
	}
	for _, ch := range channels {
		d.channels[ch.Name()] = ch
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send delivers n on each requested channel. With no channels requested, the
// channels enabled in the owner's preferences are used. Notifications of a type
// the owner opted out of are reported as skipped on every channel and not stored.
func (d *Dispatcher) Send(ctx context.Context, n *model.Notification, ownerID string) (model.DeliveryReport, error) {
	if ownerID == "" {
		return model.DeliveryReport{}, exception.NewValidationError(moduleName, "notification has no owner")
	}
	prefs, err := d.preferencesOf(ctx, ownerID)
	if err != nil {
		return model.DeliveryReport{}, err
	}

	n.OwnerID = ownerID
	if n.ID == "" {
		n.ID = model.NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now()
	}
	channels := n.Channels
	if len(channels) == 0 {
		channels = enabledChannels(prefs)
	}

	report := model.DeliveryReport{Outcomes: make([]model.ChannelOutcome, 0, len(channels))}
	if !prefs.Allows(n.Type) {
		for _, ch := range channels {
			report.Outcomes = append(report.Outcomes, model.ChannelOutcome{
				Channel: ch, Skipped: true, Error: fmt.Sprintf("%s notifications disabled", n.Type),
			})
		}
		logger.Debugf("notification: %s dropped, owner %s opted out of %s", n.ID, ownerID, n.Type)
		return report, nil
	}

	var errs *multierror.Error
	for _, ch := range channels {
		outcome := d.deliver(ctx, ch, n, prefs)
		report.Outcomes = append(report.Outcomes, outcome)
		if !outcome.Success && !outcome.Skipped {
			errs = multierror.Append(errs, fmt.Errorf("%s: %s", ch, outcome.Error))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		logger.Warnf("notification: %s to %s partially failed: %v", n.ID, ownerID, err)
	} else {
		logger.Infof("notification: %s (%s) dispatched to %s on %d channels", n.ID, n.Type, ownerID, len(channels))
	}

	n.Outcomes = report.Outcomes
	if err := d.history.SaveNotification(ctx, n); err != nil {
		logger.Errorf("notification: storing %s in history failed: %v", n.ID, err)
	}
	return report, nil
}

func (d *Dispatcher) preferencesOf(ctx context.Context, ownerID string) (model.NotificationPreferences, error) {
	p, err := d.preferences.FindPreferences(ctx, ownerID)
	switch {
	case err == nil:
		return *p, nil
	case errors.Is(err, repository.ErrPreferencesNotFound):
		return model.DefaultPreferences(ownerID), nil
	default:
		return model.NotificationPreferences{}, err
	}
}

func (d *Dispatcher) deliver(ctx context.Context, name model.Channel, n *model.Notification, prefs model.NotificationPreferences) model.ChannelOutcome {
	outcome := model.ChannelOutcome{Channel: name}
	ch, ok := d.channels[name]
	if !ok {
		outcome.Error = "channel not configured"
		return outcome
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			outcome.Error = err.Error()
			return outcome
		}
	}
	err := ch.Deliver(ctx, n, prefs)
	var se *SkipError
	switch {
	case err == nil:
		outcome.Success = true
	case errors.As(err, &se):
		outcome.Skipped = true
		outcome.Error = se.Reason
	default:
		outcome.Error = err.Error()
	}
	return outcome
}

// enabledChannels lists the channels the owner's preferences turn on.
func enabledChannels(p model.NotificationPreferences) []model.Channel {
	var out []model.Channel
	if p.EmailEnabled {
		out = append(out, model.ChannelEmail)
	}
	if p.PushEnabled {
		out = append(out, model.ChannelPush)
	}
	if p.WebhookURL != "" {
		out = append(out, model.ChannelWebhook)
	}
	return out
}

var _ ports.Notifier = (*Dispatcher)(nil)
