package interval

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMonthly(t *testing.T) {
	iv := Interval{RepeatCount: 12, Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), PeriodCount: 1, Unit: Month}
	s, err := iv.Format()
	require.NoError(t, err)
	assert.Equal(t, "R12/2025-01-01T00:00:00.000Z/P1M", s)
}

func TestFormatSecondsUsesTimePart(t *testing.T) {
	iv := Interval{RepeatCount: 3, Start: time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC), PeriodCount: 30, Unit: Second}
	assert.Equal(t, "R3/2025-03-04T05:06:07.000Z/PT30S", iv.String())
}

func TestFormatConvertsToUTC(t *testing.T) {
	sast := time.FixedZone("SAST", 2*60*60)
	iv := Interval{RepeatCount: 1, Start: time.Date(2025, 1, 1, 2, 0, 0, 0, sast), PeriodCount: 1, Unit: Day}
	assert.Equal(t, "R1/2025-01-01T00:00:00.000Z/P1D", iv.String())
}

func TestRoundTrip(t *testing.T) {
	start := time.Date(2024, 2, 29, 13, 45, 10, 123_000_000, time.UTC)
	cases := []Interval{
		{RepeatCount: 12, Start: start, PeriodCount: 1, Unit: Month},
		{RepeatCount: 1, Start: start, PeriodCount: 2, Unit: Year},
		{RepeatCount: 52, Start: start, PeriodCount: 1, Unit: Week},
		{RepeatCount: 7, Start: start, PeriodCount: 3, Unit: Day},
		{RepeatCount: 100, Start: start, PeriodCount: 45, Unit: Second},
	}
	for _, want := range cases {
		t.Run(want.String(), func(t *testing.T) {
			s, err := want.Format()
			require.NoError(t, err)

			got, err := Parse(s)
			require.NoError(t, err)
			assert.Equal(t, want.RepeatCount, got.RepeatCount)
			assert.True(t, want.Start.Equal(got.Start))
			assert.Equal(t, want.PeriodCount, got.PeriodCount)
			assert.Equal(t, want.Unit, got.Unit)
		})
	}
}

func TestFormatRejectsSubMillisecondStart(t *testing.T) {
	iv := Interval{RepeatCount: 2, Start: time.Date(2025, 1, 1, 0, 0, 0, 1_500_000, time.UTC), PeriodCount: 1, Unit: Day}
	_, err := iv.Format()
	assert.True(t, errors.Is(err, ErrInvalid))

	iv.Start = iv.Start.Truncate(time.Millisecond)
	s, err := iv.Format()
	require.NoError(t, err)
	assert.Equal(t, "R2/2025-01-01T00:00:00.001Z/P1D", s)
}

func TestParseUnit(t *testing.T) {
	tests := []struct {
		raw   string
		unit  Unit
		count int
		err   bool
	}{
		{raw: "M", unit: Month},
		{raw: "w", unit: Week},
		{raw: "T30S", unit: Second, count: 30},
		{raw: "TS", unit: Second},
		{raw: "H", err: true},
		{raw: "T0S", err: true},
	}
	for _, tt := range tests {
		unit, count, err := ParseUnit(tt.raw)
		if tt.err {
			assert.ErrorIs(t, err, ErrInvalid, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.unit, unit, tt.raw)
		assert.Equal(t, tt.count, count, tt.raw)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"R12/2025-01-01T00:00:00.000Z",
		"12/2025-01-01T00:00:00.000Z/P1M",
		"R12/yesterday/P1M",
		"R12/2025-01-01T00:00:00.000Z/P30S",
		"R12/2025-01-01T00:00:00.000Z/PT1M",
		"R0/2025-01-01T00:00:00.000Z/P1M",
	} {
		_, err := Parse(s)
		assert.True(t, errors.Is(err, ErrInvalid), s)
	}
}
