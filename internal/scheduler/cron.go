package scheduler

import (
	"fmt"
	"time"

	cron "github.com/netresearch/go-cron"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronExpr is a parsed 5-field cron expression.
type CronExpr struct {
	raw      string
	schedule cron.Schedule
}

// ParseCron parses a standard 5-field cron expression.
func ParseCron(expr string) (*CronExpr, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return &CronExpr{raw: expr, schedule: schedule}, nil
}

// Next returns the next activation strictly after t.
func (c *CronExpr) Next(t time.Time) time.Time {
	return c.schedule.Next(t)
}

// Matches reports whether the minute containing t is an activation.
func (c *CronExpr) Matches(t time.Time) bool {
	minute := t.Truncate(time.Minute)
	return c.schedule.Next(minute.Add(-time.Second)).Equal(minute)
}

func (c *CronExpr) String() string { return c.raw }
