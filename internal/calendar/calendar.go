// Package calendar knows which days the exchange trades and which day a weekly contract expires.
// The live monitor and the backtest simulator resolve expiries through the same Calendar.
package calendar

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/nifty_condor/internal/config"
)

// MarketClose is when index options settle on expiry day.
var MarketClose = config.MustTimeOfDay("15:30")

// fixed-date NSE holidays observed every year
var fixedHolidays = []struct {
	month time.Month
	day   int
}{
	{time.January, 26},  // Republic Day
	{time.May, 1},       // Maharashtra Day
	{time.August, 15},   // Independence Day
	{time.October, 2},   // Gandhi Jayanti
	{time.December, 25}, // Christmas
}

// Calendar answers trading-day and expiry questions in the exchange timezone.
type Calendar struct {
	loc           *time.Location
	holidays      map[string]struct{}
	expiryWeekday time.Weekday
	cutoff        config.TimeOfDay
}

// New builds a Calendar from validated configuration.
func New(cfg *config.Config) (*Calendar, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	weekday, err := config.ParseWeekday(cfg.Instrument.ExpiryWeekday)
	if err != nil {
		return nil, err
	}
	return NewCalendar(loc, weekday, cfg.Instrument.ExpiryDayCutoff, cfg.Schedule.Holidays)
}

// NewCalendar builds a Calendar from parts. Extra holidays are YYYY-MM-DD.
func NewCalendar(loc *time.Location, expiryWeekday time.Weekday, cutoff config.TimeOfDay, extra []string) (*Calendar, error) {
	c := &Calendar{
		loc:           loc,
		holidays:      make(map[string]struct{}, len(extra)),
		expiryWeekday: expiryWeekday,
		cutoff:        cutoff,
	}
	for _, h := range extra {
		d, err := time.ParseInLocation("2006-01-02", h, loc)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, err)
		}
		c.holidays[d.Format("2006-01-02")] = struct{}{}
	}
	return c, nil
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Date truncates t to midnight of its exchange-local calendar date.
func (c *Calendar) Date(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// IsHoliday reports whether d is a fixed or configured exchange holiday.
func (c *Calendar) IsHoliday(d time.Time) bool {
	d = d.In(c.loc)
	for _, h := range fixedHolidays {
		if d.Month() == h.month && d.Day() == h.day {
			return true
		}
	}
	_, ok := c.holidays[d.Format("2006-01-02")]
	return ok
}

// IsTradingDay reports whether the exchange is open on d's date.
func (c *Calendar) IsTradingDay(d time.Time) bool {
	d = d.In(c.loc)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !c.IsHoliday(d)
}

// TradingDays lists trading dates in [from, to], inclusive, at local midnight.
func (c *Calendar) TradingDays(from, to time.Time) []time.Time {
	var days []time.Time
	end := c.Date(to)
	for d := c.Date(from); !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// PrevTradingDay returns the latest trading date on or before d.
func (c *Calendar) PrevTradingDay(d time.Time) time.Time {
	d = c.Date(d)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// WeeklyExpiry returns the contract expiry applicable at instant at: the nearest expiry weekday
// on or after today, rolled a week once today is expiry day and the cutoff has passed, and moved
// to the prior trading day when the weekday is a holiday.
func (c *Calendar) WeeklyExpiry(at time.Time) time.Time {
	at = at.In(c.loc)
	today := c.Date(at)
	pastCutoff := !config.OfTime(at).Before(c.cutoff)

	ahead := (int(c.expiryWeekday) - int(today.Weekday()) + 7) % 7
	nominal := today.AddDate(0, 0, ahead)
	for {
		expiry := c.PrevTradingDay(nominal)
		switch {
		case expiry.Before(today):
		case expiry.Equal(today) && pastCutoff:
		default:
			return expiry
		}
		nominal = nominal.AddDate(0, 0, 7)
	}
}

// ResolveExpiry applies a strategy's override when it is still live, else the weekly rule.
func (c *Calendar) ResolveExpiry(at time.Time, sc config.StrategyConfig) (time.Time, error) {
	override, ok, err := sc.Override(c.loc)
	if err != nil {
		return time.Time{}, err
	}
	if ok && !override.Before(c.Date(at)) {
		return override, nil
	}
	return c.WeeklyExpiry(at), nil
}

// IsExpiryDay reports whether at falls on expiry's date.
func (c *Calendar) IsExpiryDay(at, expiry time.Time) bool {
	return c.Date(at).Equal(c.Date(expiry))
}

// YearsToExpiry is the time left until settlement (15:30 on expiry day) in years,
// floored at floorDays so premiums never collapse to zero before the close.
func (c *Calendar) YearsToExpiry(at, expiry time.Time, floorDays float64) float64 {
	settle := MarketClose.On(c.Date(expiry))
	days := settle.Sub(at.In(c.loc)).Hours() / 24
	if days < floorDays {
		days = floorDays
	}
	return days / 365
}
