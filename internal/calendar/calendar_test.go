package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/nifty_condor/internal/config"
)

var ist = time.FixedZone("IST", 19800)

func newTestCalendar(t *testing.T, holidays ...string) *Calendar {
	t.Helper()
	c, err := NewCalendar(ist, time.Thursday, config.MustTimeOfDay("15:00"), holidays)
	require.NoError(t, err)
	return c
}

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, ist)
}

func TestTradingDays_SkipsWeekendsAndHolidays(t *testing.T) {
	c := newTestCalendar(t, "2026-03-03")
	// Mon 2 Mar .. Sun 8 Mar 2026, Tue 3 Mar configured holiday
	days := c.TradingDays(at(2026, 3, 2, 0, 0), at(2026, 3, 8, 0, 0))

	var got []string
	for _, d := range days {
		got = append(got, d.Format("2006-01-02"))
	}
	assert.Equal(t, []string{"2026-03-02", "2026-03-04", "2026-03-05", "2026-03-06"}, got)
}

func TestIsHoliday_FixedDates(t *testing.T) {
	c := newTestCalendar(t)
	assert.True(t, c.IsHoliday(at(2026, 1, 26, 10, 0)))
	assert.True(t, c.IsHoliday(at(2027, 8, 15, 10, 0)))
	assert.False(t, c.IsHoliday(at(2026, 1, 27, 10, 0)))
	assert.False(t, c.IsTradingDay(at(2026, 10, 2, 10, 0)))
}

func TestWeeklyExpiry(t *testing.T) {
	c := newTestCalendar(t, "2026-03-12")

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"monday picks this thursday", at(2026, 3, 2, 10, 0), "2026-03-05"},
		{"expiry day before cutoff", at(2026, 3, 5, 14, 59), "2026-03-05"},
		{"expiry day at cutoff rolls", at(2026, 3, 5, 15, 0), "2026-03-11"}, // next Thu 12 Mar is a holiday
		{"friday rolls to next week holiday shift", at(2026, 3, 6, 10, 0), "2026-03-11"},
		{"shifted expiry day after cutoff rolls", at(2026, 3, 11, 15, 30), "2026-03-19"},
		{"holiday thursday itself", at(2026, 3, 12, 10, 0), "2026-03-19"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.WeeklyExpiry(tt.now)
			assert.Equal(t, tt.want, got.Format("2006-01-02"))
		})
	}
}

func TestResolveExpiry_Override(t *testing.T) {
	c := newTestCalendar(t)
	sc := config.DefaultStrategyConfig(config.KindIronCondor)
	sc.ExpiryOverride = "2026-03-10"

	got, err := c.ResolveExpiry(at(2026, 3, 4, 10, 0), sc)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", got.Format("2006-01-02"))

	// stale override falls back to weekly rule
	got, err = c.ResolveExpiry(at(2026, 3, 11, 10, 0), sc)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-12", got.Format("2006-01-02"))
}

func TestYearsToExpiry_Floor(t *testing.T) {
	c := newTestCalendar(t)
	expiry := at(2026, 3, 5, 0, 0)

	full := c.YearsToExpiry(at(2026, 3, 4, 15, 30), expiry, 0.01)
	assert.InDelta(t, 1.0/365, full, 1e-9)

	floored := c.YearsToExpiry(at(2026, 3, 5, 15, 29), expiry, 0.05)
	assert.InDelta(t, 0.05/365, floored, 1e-12)
	assert.True(t, c.IsExpiryDay(at(2026, 3, 5, 9, 0), expiry))
}
