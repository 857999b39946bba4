// Package schedule implements the operational-day window used to restrict
// roster queries to channels created "today", where a day starts at a fixed
// local time in a configured zone rather than at midnight.
package schedule

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// OperationalDay is a day running from DayStart to DayStart of the next day in Location.
// With DayStart = 3h a channel created at 01:00 belongs to the previous day.
type OperationalDay struct {
	loc    *time.Location
	hour   int
	minute int
	cron   string
}

// NewOperationalDay validates dayStart (whole minutes in [0, 24h)).
func NewOperationalDay(loc *time.Location, dayStart time.Duration) (*OperationalDay, error) {
	if loc == nil {
		loc = time.UTC
	}
	if dayStart < 0 || dayStart >= 24*time.Hour {
		return nil, fmt.Errorf("day start %s out of range", dayStart)
	}
	if dayStart%time.Minute != 0 {
		return nil, fmt.Errorf("day start %s is not a whole minute", dayStart)
	}

	d := &OperationalDay{
		loc:    loc,
		hour:   int(dayStart / time.Hour),
		minute: int(dayStart % time.Hour / time.Minute),
	}
	d.cron = fmt.Sprintf("%d %d * * *", d.minute, d.hour)
	if !gronx.New().IsValid(d.cron) {
		return nil, fmt.Errorf("invalid rollover expression %q", d.cron)
	}
	return d, nil
}

// Bounds returns the operational day containing now as the open range (start, end).
func (d *OperationalDay) Bounds(now time.Time) (start, end time.Time) {
	local := now.In(d.loc)
	y, m, day := local.Date()
	today := time.Date(y, m, day, d.hour, d.minute, 0, 0, d.loc)
	if local.Before(today) {
		return time.Date(y, m, day-1, d.hour, d.minute, 0, 0, d.loc), today
	}
	return today, time.Date(y, m, day+1, d.hour, d.minute, 0, 0, d.loc)
}

// Contains reports whether t falls strictly inside the operational day of now.
func (d *OperationalDay) Contains(now, t time.Time) bool {
	start, end := d.Bounds(now)
	return t.After(start) && t.Before(end)
}

// RolloverCron is the cron expression that fires at each day start.
func (d *OperationalDay) RolloverCron() string {
	return d.cron
}

// NextRollover returns the first day start strictly after now.
func (d *OperationalDay) NextRollover(now time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(d.cron, now.In(d.loc), false)
	if err != nil {
		return time.Time{}, fmt.Errorf("next rollover: %w", err)
	}
	return next, nil
}

// Location returns the zone the day is evaluated in.
func (d *OperationalDay) Location() *time.Location {
	return d.loc
}
