package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/devicetest/dltcos/internal/weekly"
)

// Condition is a parsed rule expression of the form "field op value".
//
// Field is a weekly count key (rx_spot_multi, no_ble, ...), "devices", or a
// count key with a "_pct" suffix, which compares the count as a percentage
// of the week's devices:
//
//	rx_spot_multi > 3
//	no_ble_pct >= 20
//	devices < 50
type Condition struct {
	Field     string
	Op        string
	Threshold float64

	value func(weekly.Week) float64
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %g", c.Field, c.Op, c.Threshold)
}

// ParseCondition parses and checks a rule expression.
func ParseCondition(s string) (Condition, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return Condition{}, fmt.Errorf("condition %q: want \"field op value\"", s)
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch op {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return Condition{}, fmt.Errorf("condition %q: unknown operator %q", s, op)
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return Condition{}, fmt.Errorf("condition %q: value: %w", s, err)
	}

	value, err := fieldValue(field)
	if err != nil {
		return Condition{}, fmt.Errorf("condition %q: %w", s, err)
	}
	return Condition{Field: field, Op: op, Threshold: threshold, value: value}, nil
}

// Eval reports whether the condition holds for w, and the value it compared.
func (c Condition) Eval(w weekly.Week) (bool, float64) {
	v := c.value(w)
	return compareFloat(v, c.Op, c.Threshold), v
}

func fieldValue(field string) (func(weekly.Week) float64, error) {
	if field == "devices" {
		return func(w weekly.Week) float64 { return float64(w.Devices) }, nil
	}
	if key, ok := strings.CutSuffix(field, "_pct"); ok {
		f, found := weekly.Lookup(key)
		if !found {
			return nil, fmt.Errorf("unknown field %q", field)
		}
		return func(w weekly.Week) float64 {
			if w.Devices == 0 {
				return 0
			}
			return float64(f.Get(w.Counts)) / float64(w.Devices) * 100
		}, nil
	}
	f, found := weekly.Lookup(field)
	if !found {
		return nil, fmt.Errorf("unknown field %q", field)
	}
	return func(w weekly.Week) float64 { return float64(f.Get(w.Counts)) }, nil
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
