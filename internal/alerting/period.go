package alerting

import (
	"strconv"
	"strings"
	"time"

	"github.com/rioncm/birdsong-go/internal/errors"
)

// PeriodUnit is a calendar-aware gap unit.
type PeriodUnit string

const (
	UnitDays   PeriodUnit = "days"
	UnitWeeks  PeriodUnit = "weeks"
	UnitMonths PeriodUnit = "months"
	UnitYears  PeriodUnit = "years"
)

// Period is a human-configured absence gap such as "2 months".
// Months and years follow the calendar rather than a fixed number of
// hours.
type Period struct {
	Value int
	Unit  PeriodUnit
}

// ParsePeriod parses strings like "2 months", "10 days", "1 year".
// Units may be singular or plural.
func ParsePeriod(s string) (Period, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) != 2 {
		return Period{}, errors.Newf("invalid period %q, expected \"<n> <unit>\"", s).
			Component("alerting").
			Category(errors.CategoryValidation).
			Build()
	}

	value, err := strconv.Atoi(fields[0])
	if err != nil || value < 1 {
		return Period{}, errors.Newf("invalid period value %q", fields[0]).
			Component("alerting").
			Category(errors.CategoryValidation).
			Build()
	}

	var unit PeriodUnit
	switch strings.TrimSuffix(fields[1], "s") {
	case "day":
		unit = UnitDays
	case "week":
		unit = UnitWeeks
	case "month":
		unit = UnitMonths
	case "year":
		unit = UnitYears
	default:
		return Period{}, errors.Newf("invalid period unit %q", fields[1]).
			Component("alerting").
			Category(errors.CategoryValidation).
			Build()
	}
	return Period{Value: value, Unit: unit}, nil
}

// AddTo returns t advanced by the period.
func (p Period) AddTo(t time.Time) time.Time {
	switch p.Unit {
	case UnitDays:
		return t.AddDate(0, 0, p.Value)
	case UnitWeeks:
		return t.AddDate(0, 0, 7*p.Value)
	case UnitMonths:
		return t.AddDate(0, p.Value, 0)
	case UnitYears:
		return t.AddDate(p.Value, 0, 0)
	default:
		return t
	}
}

// String renders the period back to its configuration form.
func (p Period) String() string {
	unit := string(p.Unit)
	if p.Value == 1 {
		unit = strings.TrimSuffix(unit, "s")
	}
	return strconv.Itoa(p.Value) + " " + unit
}
