package gormstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

// encode marshals v into a JSON column value. nil slices and maps are stored as "null".
func encode(field string, v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", exception.NewStoreError(moduleName, fmt.Sprintf("failed to encode %s", field), err)
	}
	return string(b), nil
}

// decode unmarshals a JSON column value into v. An empty column leaves v untouched.
func decode(field, data string, v interface{}) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return exception.NewStoreError(moduleName, fmt.Sprintf("failed to decode %s", field), err)
	}
	return nil
}

// Times are stored in UTC so that text-backed dialects order them correctly.
func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func fromDomainSchedule(s *model.ScheduleDefinition) (*ScheduleEntity, error) {
	params, err := encode("parameters", s.Parameters)
	if err != nil {
		return nil, err
	}
	var recurrence string
	if s.Timing.Recurrence != nil {
		if recurrence, err = encode("recurrence", model.SpecOf(s.Timing.Recurrence)); err != nil {
			return nil, err
		}
	}
	notifications, err := encode("notifications", s.Notifications)
	if err != nil {
		return nil, err
	}
	return &ScheduleEntity{
		ID:                  s.ID,
		Name:                s.Name,
		Description:         s.Description,
		OwnerID:             s.OwnerID,
		ConnectionID:        s.ConnectionID,
		SQLText:             s.SQL,
		Parameters:          params,
		StartTime:           utc(s.Timing.StartTime),
		EndTime:             utcPtr(s.Timing.EndTime),
		Timezone:            s.Timing.Timezone,
		Recurrence:          recurrence,
		Notifications:       notifications,
		MaxHistoryRetention: s.MaxHistoryRetention,
		Active:              s.Active,
		LastExecutionAt:     utcPtr(s.LastExecutionAt),
		LastExecutionStatus: string(s.LastExecutionStatus),
		CreatedAt:           utc(s.CreatedAt),
		UpdatedAt:           utc(s.UpdatedAt),
	}, nil
}

func toDomainSchedule(e *ScheduleEntity) (*model.ScheduleDefinition, error) {
	s := &model.ScheduleDefinition{
		ID:           e.ID,
		Name:         e.Name,
		Description:  e.Description,
		OwnerID:      e.OwnerID,
		ConnectionID: e.ConnectionID,
		SQL:          e.SQLText,
		Timing: model.Timing{
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
			Timezone:  e.Timezone,
		},
		MaxHistoryRetention: e.MaxHistoryRetention,
		Active:              e.Active,
		LastExecutionAt:     e.LastExecutionAt,
		LastExecutionStatus: model.ExecutionOutcome(e.LastExecutionStatus),
		CreatedAt:           e.CreatedAt,
		UpdatedAt:           e.UpdatedAt,
	}
	if err := decode("parameters", e.Parameters, &s.Parameters); err != nil {
		return nil, err
	}
	if err := decode("notifications", e.Notifications, &s.Notifications); err != nil {
		return nil, err
	}
	if e.Recurrence != "" {
		var spec model.RecurrenceSpec
		if err := decode("recurrence", e.Recurrence, &spec); err != nil {
			return nil, err
		}
		r, err := spec.Recurrence()
		if err != nil {
			return nil, exception.NewStoreError(moduleName, fmt.Sprintf("schedule %s has an invalid stored recurrence", e.ID), err)
		}
		s.Timing.Recurrence = r
	}
	return s, nil
}

func fromDomainExecution(r *model.ExecutionRecord) (*ExecutionEntity, error) {
	params, err := encode("parameters", r.Parameters)
	if err != nil {
		return nil, err
	}
	results, err := encode("results", r.Results)
	if err != nil {
		return nil, err
	}
	return &ExecutionEntity{
		ID:                 r.ID,
		ScheduleID:         r.ScheduleID,
		ConnectionID:       r.ConnectionID,
		OwnerID:            r.OwnerID,
		ExecutionTime:      utc(r.ExecutionTime),
		CompletionTime:     utcPtr(r.CompletionTime),
		Status:             string(r.Status),
		SQLText:            r.SQL,
		Parameters:         params,
		Results:            results,
		ResultCount:        r.ResultCount,
		Error:              r.Error,
		NotificationSent:   r.NotificationSent,
		NotificationStatus: string(r.NotificationStatus),
		AlertTriggered:     r.AlertTriggered,
		AlertReason:        r.AlertReason,
		DurationMs:         r.DurationMs,
	}, nil
}

func toDomainExecution(e *ExecutionEntity) (*model.ExecutionRecord, error) {
	r := &model.ExecutionRecord{
		ID:                 e.ID,
		ScheduleID:         e.ScheduleID,
		ConnectionID:       e.ConnectionID,
		OwnerID:            e.OwnerID,
		ExecutionTime:      e.ExecutionTime,
		CompletionTime:     e.CompletionTime,
		Status:             model.ExecutionStatus(e.Status),
		SQL:                e.SQLText,
		ResultCount:        e.ResultCount,
		Error:              e.Error,
		NotificationSent:   e.NotificationSent,
		NotificationStatus: model.NotificationStatus(e.NotificationStatus),
		AlertTriggered:     e.AlertTriggered,
		AlertReason:        e.AlertReason,
		DurationMs:         e.DurationMs,
	}
	if err := decode("parameters", e.Parameters, &r.Parameters); err != nil {
		return nil, err
	}
	if err := decode("results", e.Results, &r.Results); err != nil {
		return nil, err
	}
	return r, nil
}

func fromDomainConnection(c *model.ConnectionConfig) *ConnectionEntity {
	return &ConnectionEntity{
		ID:                c.ID,
		Name:              c.Name,
		OwnerID:           c.OwnerID,
		Host:              c.Host,
		Port:              c.Port,
		DatabaseName:      c.Database,
		UserName:          c.User,
		EncryptedPassword: c.EncryptedPassword,
		SSL:               c.SSL,
		CreatedAt:         utc(c.CreatedAt),
		UpdatedAt:         utc(c.UpdatedAt),
	}
}

func toDomainConnection(e *ConnectionEntity) *model.ConnectionConfig {
	return &model.ConnectionConfig{
		ID:                e.ID,
		Name:              e.Name,
		OwnerID:           e.OwnerID,
		Host:              e.Host,
		Port:              e.Port,
		Database:          e.DatabaseName,
		User:              e.UserName,
		EncryptedPassword: e.EncryptedPassword,
		SSL:               e.SSL,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func fromDomainVersion(v *model.SnapshotVersion) (*SnapshotVersionEntity, error) {
	snap, err := encode("snapshot", v.Snapshot)
	if err != nil {
		return nil, err
	}
	return &SnapshotVersionEntity{
		VersionID:    v.VersionID,
		OwnerID:      v.OwnerID,
		ConnectionID: v.ConnectionID,
		Snapshot:     snap,
		TableCount:   v.TableCount,
		CreatedAt:    utc(v.CreatedAt),
	}, nil
}

func toDomainVersion(e *SnapshotVersionEntity) (*model.SnapshotVersion, error) {
	v := &model.SnapshotVersion{
		VersionID:    e.VersionID,
		OwnerID:      e.OwnerID,
		ConnectionID: e.ConnectionID,
		TableCount:   e.TableCount,
		CreatedAt:    e.CreatedAt,
	}
	if err := decode("snapshot", e.Snapshot, &v.Snapshot); err != nil {
		return nil, err
	}
	if v.Snapshot.Tables == nil {
		v.Snapshot.Tables = map[string]model.TableSchema{}
	}
	return v, nil
}

func fromDomainDiff(d *model.DiffRecord) (*DiffEntity, error) {
	diff, err := encode("diff", d.Diff)
	if err != nil {
		return nil, err
	}
	return &DiffEntity{
		OldVersionID: d.OldVersionID,
		NewVersionID: d.NewVersionID,
		OwnerID:      d.OwnerID,
		ConnectionID: d.ConnectionID,
		Diff:         diff,
		CreatedAt:    utc(d.CreatedAt),
	}, nil
}

func toDomainDiff(e *DiffEntity) (*model.DiffRecord, error) {
	d := &model.DiffRecord{
		OwnerID:      e.OwnerID,
		ConnectionID: e.ConnectionID,
		OldVersionID: e.OldVersionID,
		NewVersionID: e.NewVersionID,
		CreatedAt:    e.CreatedAt,
	}
	if err := decode("diff", e.Diff, &d.Diff); err != nil {
		return nil, err
	}
	return d, nil
}

func fromDomainPreferences(p *model.NotificationPreferences) (*PreferencesEntity, error) {
	tokens, err := encode("push tokens", p.PushTokens)
	if err != nil {
		return nil, err
	}
	return &PreferencesEntity{
		OwnerID:               p.OwnerID,
		EmailEnabled:          p.EmailEnabled,
		EmailAddress:          p.EmailAddress,
		PushEnabled:           p.PushEnabled,
		PushTokens:            tokens,
		WebhookURL:            p.WebhookURL,
		ScheduleNotifications: p.ScheduleNotifications,
		AlertNotifications:    p.AlertNotifications,
		ErrorNotifications:    p.ErrorNotifications,
		UpdatedAt:             utc(p.UpdatedAt),
	}, nil
}

func toDomainPreferences(e *PreferencesEntity) (*model.NotificationPreferences, error) {
	p := &model.NotificationPreferences{
		OwnerID:               e.OwnerID,
		EmailEnabled:          e.EmailEnabled,
		EmailAddress:          e.EmailAddress,
		PushEnabled:           e.PushEnabled,
		WebhookURL:            e.WebhookURL,
		ScheduleNotifications: e.ScheduleNotifications,
		AlertNotifications:    e.AlertNotifications,
		ErrorNotifications:    e.ErrorNotifications,
		UpdatedAt:             e.UpdatedAt,
	}
	if err := decode("push tokens", e.PushTokens, &p.PushTokens); err != nil {
		return nil, err
	}
	return p, nil
}

func fromDomainNotification(n *model.Notification) (*NotificationEntity, error) {
	e := &NotificationEntity{
		ID:        n.ID,
		OwnerID:   n.OwnerID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Priority:  string(n.Priority),
		IsRead:    n.Read,
		CreatedAt: utc(n.CreatedAt),
	}
	var err error
	if e.Channels, err = encode("channels", n.Channels); err != nil {
		return nil, err
	}
	if e.Recipients, err = encode("recipients", n.Recipients); err != nil {
		return nil, err
	}
	if e.Webhook, err = encode("webhook", n.Webhook); err != nil {
		return nil, err
	}
	if e.Data, err = encode("data", n.Data); err != nil {
		return nil, err
	}
	if e.Outcomes, err = encode("outcomes", n.Outcomes); err != nil {
		return nil, err
	}
	return e, nil
}

func toDomainNotification(e *NotificationEntity) (*model.Notification, error) {
	n := &model.Notification{
		ID:        e.ID,
		OwnerID:   e.OwnerID,
		Type:      model.NotificationType(e.Type),
		Title:     e.Title,
		Message:   e.Message,
		Priority:  model.Priority(e.Priority),
		Read:      e.IsRead,
		CreatedAt: e.CreatedAt,
	}
	for _, f := range []struct {
		name string
		data string
		into interface{}
	}{
		{"channels", e.Channels, &n.Channels},
		{"recipients", e.Recipients, &n.Recipients},
		{"webhook", e.Webhook, &n.Webhook},
		{"data", e.Data, &n.Data},
		{"outcomes", e.Outcomes, &n.Outcomes},
	} {
		if err := decode(f.name, f.data, f.into); err != nil {
			return nil, err
		}
	}
	return n, nil
}
