package executor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/alert"
)

// render builds the notification for a firing. At most sample rows of the result are embedded.
func render(s *model.ScheduleDefinition, rec *model.ExecutionRecord, v *alert.Verdict, sample int, now time.Time) *model.Notification {
	rows := rec.Results
	if len(rows) > sample {
		rows = rows[:sample]
	}

	var title string
	var msg strings.Builder
	if rec.Status == model.ExecutionError {
		title = fmt.Sprintf("Scheduled query %q failed", s.Name)
		fmt.Fprintf(&msg, "The scheduled query %q failed after %dms: %s", s.Name, rec.DurationMs, rec.Error)
	} else {
		title = fmt.Sprintf("Scheduled query %q: %s", s.Name, v.Reason)
		fmt.Fprintf(&msg, "The scheduled query %q returned %d rows in %dms (%s).", s.Name, rec.ResultCount, rec.DurationMs, v.Reason)
		if len(rows) > 0 {
			msg.WriteString("\n\nSample results:")
			for _, r := range rows {
				b, err := json.Marshal(r)
				if err != nil {
					b = []byte(fmt.Sprint(r))
				}
				msg.WriteString("\n")
				msg.Write(b)
			}
			if rec.ResultCount > len(rows) {
				fmt.Fprintf(&msg, "\n... and %d more", rec.ResultCount-len(rows))
			}
		}
	}

	return &model.Notification{
		ID:         model.NewID(),
		OwnerID:    s.OwnerID,
		Type:       v.NotificationType(),
		Title:      title,
		Message:    msg.String(),
		Priority:   v.Priority(),
		Channels:   append([]model.Channel(nil), s.Notifications.Channels...),
		Recipients: append([]string(nil), s.Notifications.Recipients...),
		Webhook:    s.Notifications.Webhook,
		Data: map[string]interface{}{
			"scheduleId":   s.ID,
			"scheduleName": s.Name,
			"executionId":  rec.ID,
			"status":       string(rec.Status),
			"condition":    string(v.Condition),
			"reason":       v.Reason,
			"resultCount":  rec.ResultCount,
			"durationMs":   rec.DurationMs,
			"error":        rec.Error,
			"results":      rows,
		},
		CreatedAt: now,
	}
}
