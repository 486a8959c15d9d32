package notification_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/infrastructure/notification"
	"github.com/tigerroll/querydeck/pkg/querydeck/infrastructure/repository/inmemory"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

var now = time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)

type mockChannel struct {
	mock.Mock
	name model.Channel
}

func (m *mockChannel) Name() model.Channel { return m.name }

func (m *mockChannel) Deliver(ctx context.Context, n *model.Notification, prefs model.NotificationPreferences) error {
	return m.Called(n.ID, prefs.OwnerID).Error(0)
}

func newChannel(name model.Channel) *mockChannel { return &mockChannel{name: name} }

func alertNotification(channels ...model.Channel) *model.Notification {
	return &model.Notification{
		Type: model.NotificationAlert, Title: "t", Message: "m", Priority: model.PriorityNormal,
		Channels: channels,
	}
}

func TestDispatcher_DeliversAndRecordsHistory(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	email, push := newChannel(model.ChannelEmail), newChannel(model.ChannelPush)
	email.On("Deliver", mock.Anything, "alice").Return(nil)
	push.On("Deliver", mock.Anything, "alice").Return(errors.New("gateway down"))

	d := notification.NewDispatcher(store, store, []notification.Channel{email, push}, notification.WithClock(func() time.Time { return now }))
	n := alertNotification(model.ChannelEmail, model.ChannelPush, model.ChannelWebhook)
	report, err := d.Send(ctx, n, "alice")
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, model.ChannelOutcome{Channel: model.ChannelEmail, Success: true}, report.Outcomes[0])
	assert.Equal(t, model.ChannelOutcome{Channel: model.ChannelPush, Error: "gateway down"}, report.Outcomes[1])
	assert.Equal(t, model.ChannelOutcome{Channel: model.ChannelWebhook, Error: "channel not configured"}, report.Outcomes[2])
	assert.True(t, report.AnySucceeded())
	email.AssertExpectations(t)
	push.AssertExpectations(t)

	history, err := store.ListNotificationsByOwner(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].ID)
	assert.Equal(t, now, history[0].CreatedAt)
	assert.Equal(t, report.Outcomes, history[0].Outcomes)
}

func TestDispatcher_OptOutSkipsEveryChannel(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	prefs := model.DefaultPreferences("alice")
	prefs.AlertNotifications = false
	require.NoError(t, store.SavePreferences(ctx, &prefs))

	email := newChannel(model.ChannelEmail)
	d := notification.NewDispatcher(store, store, []notification.Channel{email})
	report, err := d.Send(ctx, alertNotification(model.ChannelEmail), "alice")
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 1)
	assert.True(t, report.Outcomes[0].Skipped)
	assert.False(t, report.AnySucceeded())
	email.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)

	history, _ := store.ListNotificationsByOwner(ctx, "alice", 0)
	assert.Empty(t, history)

	// Error notifications are still allowed.
	email.On("Deliver", mock.Anything, "alice").Return(nil)
	n := alertNotification(model.ChannelEmail)
	n.Type = model.NotificationError
	report, err = d.Send(ctx, n, "alice")
	require.NoError(t, err)
	assert.True(t, report.AnySucceeded())
}

func TestDispatcher_DefaultsToPreferenceChannels(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	prefs := model.DefaultPreferences("bob")
	prefs.PushEnabled = false
	prefs.WebhookURL = "https://hooks.example.com/bob"
	require.NoError(t, store.SavePreferences(ctx, &prefs))

	email, push, hook := newChannel(model.ChannelEmail), newChannel(model.ChannelPush), newChannel(model.ChannelWebhook)
	email.On("Deliver", mock.Anything, "bob").Return(nil)
	hook.On("Deliver", mock.Anything, "bob").Return(nil)

	d := notification.NewDispatcher(store, store, []notification.Channel{email, push, hook})
	report, err := d.Send(ctx, alertNotification(), "bob")
	require.NoError(t, err)

	var got []model.Channel
	for _, o := range report.Outcomes {
		got = append(got, o.Channel)
	}
	assert.Equal(t, []model.Channel{model.ChannelEmail, model.ChannelWebhook}, got)
	push.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}

func TestDispatcher_SkipErrorIsReportedAsSkipped(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	push := newChannel(model.ChannelPush)
	push.On("Deliver", mock.Anything, "alice").Return(&notification.SkipError{Reason: "no registered devices"})

	d := notification.NewDispatcher(store, store, []notification.Channel{push})
	report, err := d.Send(ctx, alertNotification(model.ChannelPush), "alice")
	require.NoError(t, err)
	assert.Equal(t, []model.ChannelOutcome{{Channel: model.ChannelPush, Skipped: true, Error: "no registered devices"}}, report.Outcomes)
}

func TestDispatcher_RateLimitHonorsContext(t *testing.T) {
	store := inmemory.NewStore()
	email := newChannel(model.ChannelEmail)
	email.On("Deliver", mock.Anything, "alice").Return(nil)
	d := notification.NewDispatcher(store, store, []notification.Channel{email}, notification.WithRateLimit(0.001, 1))

	report, err := d.Send(context.Background(), alertNotification(model.ChannelEmail), "alice")
	require.NoError(t, err)
	assert.True(t, report.AnySucceeded(), "the burst admits the first delivery")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	report, err = d.Send(ctx, alertNotification(model.ChannelEmail), "alice")
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.False(t, report.Outcomes[0].Success)
	assert.NotEmpty(t, report.Outcomes[0].Error)
	email.AssertNumberOfCalls(t, "Deliver", 1)
}

func TestDispatcher_RequiresOwner(t *testing.T) {
	store := inmemory.NewStore()
	d := notification.NewDispatcher(store, store, nil)
	_, err := d.Send(context.Background(), alertNotification(), "")
	assert.True(t, errors.Is(err, exception.ErrValidation))
}
