// Package interval encodes the repeating interval attached to outgoing-payment
// grant limits: R<repeat>/<start>/P<count><unit>.
package interval

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit is the period unit of an interval.
type Unit string

const (
	Year   Unit = "Y"
	Month  Unit = "M"
	Week   Unit = "W"
	Day    Unit = "D"
	Second Unit = "S" // rendered in the time part as PT<n>S
)

const startLayout = "2006-01-02T15:04:05.000Z"

var ErrInvalid = errors.New("invalid recurring interval")

// Interval is the decoded form of a recurring interval string.
type Interval struct {
	RepeatCount int
	Start       time.Time
	PeriodCount int
	Unit        Unit
}

// ParseUnit accepts Y, M, W, D and the time-part shorthands S, T<n>S and TS.
// For the T<n>S form the embedded count is returned as well (0 when absent).
func ParseUnit(raw string) (Unit, int, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch s {
	case "Y", "M", "W", "D", "S":
		return Unit(s), 0, nil
	}
	if strings.HasPrefix(s, "T") && strings.HasSuffix(s, "S") {
		digits := strings.TrimSuffix(strings.TrimPrefix(s, "T"), "S")
		if digits == "" {
			return Second, 0, nil
		}
		n, err := strconv.Atoi(digits)
		if err != nil || n <= 0 {
			return "", 0, fmt.Errorf("%w: period unit %q", ErrInvalid, raw)
		}
		return Second, n, nil
	}
	return "", 0, fmt.Errorf("%w: period unit %q", ErrInvalid, raw)
}

// Validate checks the components can be encoded.
func (iv Interval) Validate() error {
	if iv.RepeatCount <= 0 {
		return fmt.Errorf("%w: repeat count must be positive", ErrInvalid)
	}
	if iv.PeriodCount <= 0 {
		return fmt.Errorf("%w: period count must be positive", ErrInvalid)
	}
	if iv.Start.IsZero() {
		return fmt.Errorf("%w: start instant is required", ErrInvalid)
	}
	if !iv.Start.Equal(iv.Start.Truncate(time.Millisecond)) {
		return fmt.Errorf("%w: start instant has sub-millisecond precision", ErrInvalid)
	}
	switch iv.Unit {
	case Year, Month, Week, Day, Second:
	default:
		return fmt.Errorf("%w: period unit %q", ErrInvalid, iv.Unit)
	}
	return nil
}

// Format renders the interval with its start in UTC. The encoding carries
// milliseconds, so a finer start is rejected rather than rounded.
func (iv Interval) Format() (string, error) {
	if err := iv.Validate(); err != nil {
		return "", err
	}
	return iv.String(), nil
}

func (iv Interval) String() string {
	period := "P" + strconv.Itoa(iv.PeriodCount) + string(iv.Unit)
	if iv.Unit == Second {
		period = "PT" + strconv.Itoa(iv.PeriodCount) + "S"
	}
	return "R" + strconv.Itoa(iv.RepeatCount) + "/" + iv.Start.UTC().Format(startLayout) + "/" + period
}

// Parse decodes a recurring interval string.
func Parse(s string) (Interval, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	if !strings.HasPrefix(parts[0], "R") {
		return Interval{}, fmt.Errorf("%w: missing repeat %q", ErrInvalid, s)
	}
	repeat, err := strconv.Atoi(parts[0][1:])
	if err != nil {
		return Interval{}, fmt.Errorf("%w: repeat count %q", ErrInvalid, parts[0])
	}

	start, err := time.Parse(time.RFC3339Nano, parts[1])
	if err != nil {
		return Interval{}, fmt.Errorf("%w: start %q", ErrInvalid, parts[1])
	}

	if !strings.HasPrefix(parts[2], "P") || len(parts[2]) < 3 {
		return Interval{}, fmt.Errorf("%w: period %q", ErrInvalid, parts[2])
	}
	body := parts[2][1:]
	unit := Unit(body[len(body)-1:])
	digits := body[:len(body)-1]
	if strings.HasPrefix(digits, "T") {
		if unit != Second {
			return Interval{}, fmt.Errorf("%w: period %q", ErrInvalid, parts[2])
		}
		digits = digits[1:]
	} else if unit == Second {
		return Interval{}, fmt.Errorf("%w: seconds need a time part %q", ErrInvalid, parts[2])
	}
	count, err := strconv.Atoi(digits)
	if err != nil {
		return Interval{}, fmt.Errorf("%w: period count %q", ErrInvalid, parts[2])
	}

	iv := Interval{RepeatCount: repeat, Start: start.UTC(), PeriodCount: count, Unit: unit}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}
