// Package schedule computes when the monthly pipeline runs: at the start of the Nth US
// business day of each month, skipping weekends and federal holidays.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
	"go.uber.org/zap"
)

var (
	ErrInvalidBusinessDay = errors.New("business day must be at least 1")
	ErrNoSuchBusinessDay  = errors.New("month has fewer business days than requested")
)

// Calendar is a US federal business calendar in a fixed location.
type Calendar struct {
	cal *cal.BusinessCalendar
	loc *time.Location
}

// NewCalendar returns a calendar with US federal holidays observed. A nil loc uses UTC.
func NewCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	c := cal.NewBusinessCalendar()
	c.AddHoliday(us.Holidays...)
	return &Calendar{cal: c, loc: loc}
}

// IsBusinessDay reports whether t falls on a weekday that is not an observed holiday.
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	return c.cal.IsWorkday(t.In(c.loc))
}

// BusinessDay returns midnight of the nth business day of the month.
func (c *Calendar) BusinessDay(year int, month time.Month, n int) (time.Time, error) {
	if n < 1 {
		return time.Time{}, fmt.Errorf("got %d, %w", n, ErrInvalidBusinessDay)
	}
	var count int
	for d := time.Date(year, month, 1, 0, 0, 0, 0, c.loc); d.Month() == month; d = d.AddDate(0, 0, 1) {
		if !c.cal.IsWorkday(d) {
			continue
		}
		count++
		if count == n {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("%d-%02d has %d, wanted %d, %w", year, month, count, n, ErrNoSuchBusinessDay)
}

// Next returns the earliest start of an nth business day that is not before after.
func (c *Calendar) Next(after time.Time, n int) (time.Time, error) {
	after = after.In(c.loc)
	year, month := after.Year(), after.Month()
	for range 12 {
		d, err := c.BusinessDay(year, month, n)
		switch {
		case errors.Is(err, ErrInvalidBusinessDay):
			return time.Time{}, err
		case err == nil && !d.Before(after):
			return d, nil
		}
		next := time.Date(year, month+1, 1, 0, 0, 0, 0, c.loc)
		year, month = next.Year(), next.Month()
	}
	return time.Time{}, fmt.Errorf("no month in the next year has business day %d, %w", n, ErrNoSuchBusinessDay)
}

// Next returns the earliest start of an nth US business day at or after after, in after's
// location.
func Next(after time.Time, businessDay int) (time.Time, error) {
	return NewCalendar(after.Location()).Next(after, businessDay)
}

// Job is one scheduled invocation.
type Job func(ctx context.Context) error

// Runner invokes a job at every scheduled instant until its context is cancelled. Job errors
// are logged and never stop the loop.
type Runner struct {
	cal    *Calendar
	day    int
	logger *zap.Logger
	now    func() time.Time
	wait   func(ctx context.Context, d time.Duration) error
}

func NewRunner(c *Calendar, businessDay int, logger *zap.Logger) (*Runner, error) {
	if businessDay < 1 {
		return nil, fmt.Errorf("got %d, %w", businessDay, ErrInvalidBusinessDay)
	}
	if c == nil {
		c = NewCalendar(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cal:    c,
		day:    businessDay,
		logger: logger,
		now:    time.Now,
		wait:   sleep,
	}, nil
}

// WithClock overrides how the runner reads the time and waits.
func (r *Runner) WithClock(now func() time.Time, wait func(ctx context.Context, d time.Duration) error) *Runner {
	r.now = now
	r.wait = wait
	return r
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run blocks until ctx is cancelled, returning nil in that case.
func (r *Runner) Run(ctx context.Context, job Job) error {
	var last time.Time
	for {
		from := r.now()
		if !last.IsZero() && !from.After(last) {
			from = last.Add(time.Nanosecond)
		}
		next, err := r.cal.Next(from, r.day)
		if err != nil {
			return err
		}
		r.logger.Info("next scheduled run", zap.Time("at", next))

		if err := r.wait(ctx, next.Sub(r.now())); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		started := r.now()
		if err := job(ctx); err != nil {
			r.logger.Error("scheduled run failed", zap.Time("at", next), zap.Error(err))
		} else {
			r.logger.Info("scheduled run finished", zap.Time("at", next), zap.Duration("took", r.now().Sub(started)))
		}
		last = next

		if ctx.Err() != nil {
			return nil
		}
	}
}
