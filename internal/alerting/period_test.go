package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	cases := []struct {
		input string
		want  Period
	}{
		{"2 months", Period{2, UnitMonths}},
		{"10 days", Period{10, UnitDays}},
		{"3 weeks", Period{3, UnitWeeks}},
		{"1 year", Period{1, UnitYears}},
		{"1 month", Period{1, UnitMonths}},
		{"  4  Days ", Period{4, UnitDays}},
	}
	for _, tc := range cases {
		got, err := ParsePeriod(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.want, got, tc.input)
	}
}

func TestParsePeriodRejectsInvalid(t *testing.T) {
	for _, input := range []string{"", "months", "2", "0 days", "-1 weeks", "two months", "5 fortnights"} {
		_, err := ParsePeriod(input)
		assert.Error(t, err, input)
	}
}

func TestPeriodAddToFollowsCalendar(t *testing.T) {
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC), Period{2, UnitMonths}.AddTo(base))
	assert.Equal(t, time.Date(2026, 1, 25, 12, 0, 0, 0, time.UTC), Period{10, UnitDays}.AddTo(base))
	assert.Equal(t, time.Date(2026, 1, 29, 12, 0, 0, 0, time.UTC), Period{2, UnitWeeks}.AddTo(base))
	assert.Equal(t, time.Date(2027, 1, 15, 12, 0, 0, 0, time.UTC), Period{1, UnitYears}.AddTo(base))
}

func TestPeriodString(t *testing.T) {
	assert.Equal(t, "2 months", Period{2, UnitMonths}.String())
	assert.Equal(t, "1 day", Period{1, UnitDays}.String())
}
