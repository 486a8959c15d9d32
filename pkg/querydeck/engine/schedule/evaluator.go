// Package schedule decides whether a schedule definition is due to fire.
//
// Field comparisons (minute, hour, weekday, day of month, month) are made in the
// schedule's timezone. Elapsed-time guards are truncated to the minute, so repeated
// evaluation inside the same minute never fires twice. The daily and weekly guards
// count calendar days in the schedule's timezone and so survive DST changes.
package schedule

import (
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

const moduleName = "schedule"

const (
	hourlyGuard     = time.Hour
	dailyGuardDays  = 1
	weeklyGuardDays = 7
	customGuard     = 4 * time.Minute
)

// IsDue reports whether s should fire at now.
func IsDue(s *model.ScheduleDefinition, now time.Time) bool {
	if s == nil || !s.Active {
		return false
	}
	t := s.Timing
	if now.Before(t.StartTime) {
		return false
	}
	if t.EndTime != nil && now.After(*t.EndTime) {
		return false
	}

	loc := t.Location()
	local := now.In(loc)
	last := s.LastExecutionAt

	switch r := t.Recurrence.(type) {
	case model.Once:
		return last == nil
	case model.Hourly:
		return elapsed(last, now, hourlyGuard) && local.Minute() == r.Minute
	case model.Daily:
		return elapsedDays(last, local, dailyGuardDays) && atTime(local, r.Hour, r.Minute)
	case model.Weekly:
		return elapsedDays(last, local, weeklyGuardDays) && r.HasDay(local.Weekday()) && atTime(local, r.Hour, r.Minute)
	case model.Monthly:
		return laterMonth(last, local, loc) && local.Day() == r.DayOfMonth && atTime(local, r.Hour, r.Minute)
	case model.Custom:
		if !elapsed(last, now, customGuard) {
			return false
		}
		c, err := ParseCron(r.CronExpression)
		if err != nil {
			logger.Warnf("schedule %s: %v", s.ID, err)
			return false
		}
		return c.Match(local)
	default:
		logger.Warnf("schedule %s: no recurrence configured", s.ID)
		return false
	}
}

// elapsed reports whether at least d separates the minute of last from the minute of now.
func elapsed(last *time.Time, now time.Time, d time.Duration) bool {
	if last == nil {
		return true
	}
	return now.Truncate(time.Minute).Sub(last.Truncate(time.Minute)) >= d
}

// elapsedDays reports whether local is at least days calendar days after last,
// both read in local's location and truncated to the minute.
func elapsedDays(last *time.Time, local time.Time, days int) bool {
	if last == nil {
		return true
	}
	next := last.In(local.Location()).Truncate(time.Minute).AddDate(0, 0, days)
	return !local.Truncate(time.Minute).Before(next)
}

func atTime(t time.Time, hour, minute int) bool {
	return t.Hour() == hour && t.Minute() == minute
}

// laterMonth reports whether the (year, month) of now is strictly after that of last.
func laterMonth(last *time.Time, now time.Time, loc *time.Location) bool {
	if last == nil {
		return true
	}
	l := last.In(loc)
	if now.Year() != l.Year() {
		return now.Year() > l.Year()
	}
	return now.Month() > l.Month()
}
