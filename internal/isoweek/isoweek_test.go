package isoweek

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarOfKnownDates(t *testing.T) {
	cal := New(time.UTC)

	// Jan 1 2024 is a Monday and opens week 1.
	week, year := cal.Of(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, week)
	assert.Equal(t, 2024, year)

	// Jan 1 2023 is a Sunday and still belongs to ISO year 2022.
	week, year = cal.Of(time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, 52, week)
	assert.Equal(t, 2022, year)

	// 2020 has 53 ISO weeks.
	week, year = cal.Of(time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 53, week)
	assert.Equal(t, 2020, year)
}

func TestCalendarWeeksIn(t *testing.T) {
	cal := New(time.UTC)
	assert.Equal(t, 53, cal.WeeksIn(2020))
	assert.Equal(t, 52, cal.WeeksIn(2023))
	assert.Equal(t, 52, cal.WeeksIn(2024))
	assert.Equal(t, 52, cal.WeeksIn(2025))
	assert.Equal(t, 53, cal.WeeksIn(2026))
}

func TestFirstDayOfIsAlwaysMonday(t *testing.T) {
	cal := New(time.UTC)
	for year := 2019; year <= 2027; year++ {
		for week := 1; week <= cal.WeeksIn(year); week++ {
			day, err := cal.FirstDayOf(week, year)
			require.NoError(t, err)
			assert.Equal(t, time.Monday, day.Weekday())

			gotWeek, gotYear := cal.Of(day)
			assert.Equal(t, week, gotWeek)
			assert.Equal(t, year, gotYear)
		}
	}
}

func TestFirstDayOfRoundTrip(t *testing.T) {
	cal := New(time.UTC)
	// Walk day by day across two year boundaries, one with 53 weeks.
	d := time.Date(2020, 11, 1, 10, 30, 0, 0, time.UTC)
	for d.Year() < 2022 {
		week, year := cal.Of(d)
		monday, err := cal.FirstDayOf(week, year)
		require.NoError(t, err)
		gotWeek, gotYear := cal.Of(monday)
		assert.Equal(t, week, gotWeek, "date %s", d)
		assert.Equal(t, year, gotYear, "date %s", d)
		d = d.AddDate(0, 0, 1)
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cal := New(time.UTC)
	assert.Error(t, cal.Validate(0, 2024))
	assert.Error(t, cal.Validate(-3, 2024))
	assert.Error(t, cal.Validate(54, 2024))
	assert.Error(t, cal.Validate(53, 2024), "2024 only has 52 ISO weeks")
	assert.NoError(t, cal.Validate(53, 2020))
	assert.NoError(t, cal.Validate(1, 2024))

	_, err := cal.FirstDayOf(0, 2024)
	assert.Error(t, err)
}

func TestLocationShiftsWeekAssignment(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	// Sunday 23:30 UTC is already Monday in Paris.
	instant := time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC)

	week, _ := New(time.UTC).Of(instant)
	assert.Equal(t, 10, week)

	week, _ = New(paris).Of(instant)
	assert.Equal(t, 11, week)
}

func TestBoundsCoverExactlyOneWeek(t *testing.T) {
	cal := New(time.UTC)
	start, end, err := cal.Bounds(10, 2024)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), end)
}

func TestLabelIncludesRange(t *testing.T) {
	cal := New(time.UTC)
	assert.Equal(t, "Semaine 10 (04/03 - 10/03/2024)", cal.Label(10, 2024))
}
