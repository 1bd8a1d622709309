package meta

import (
	"fmt"
	"strconv"
	"strings"
)

// Interval is an inclusive numeric range parsed from a config token:
// "5" (exact), "1-5", ">=3" style is not supported, min>max is invalid.
type Interval struct {
	Min, Max int
}

func ParseInterval(raw string) (Interval, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Interval{}, fmt.Errorf("empty interval")
	}
	if i := strings.IndexByte(raw, '-'); i > 0 {
		lo, err := strconv.Atoi(strings.TrimSpace(raw[:i]))
		if err != nil {
			return Interval{}, fmt.Errorf("interval %q: %w", raw, err)
		}
		hi, err := strconv.Atoi(strings.TrimSpace(raw[i+1:]))
		if err != nil {
			return Interval{}, fmt.Errorf("interval %q: %w", raw, err)
		}
		if lo > hi {
			return Interval{}, fmt.Errorf("interval %q: min > max", raw)
		}
		return Interval{Min: lo, Max: hi}, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return Interval{}, fmt.Errorf("interval %q: %w", raw, err)
	}
	return Interval{Min: v, Max: v}, nil
}

func (iv Interval) Contains(v int) bool { return v >= iv.Min && v <= iv.Max }

func (iv Interval) String() string {
	if iv.Min == iv.Max {
		return strconv.Itoa(iv.Min)
	}
	return strconv.Itoa(iv.Min) + "-" + strconv.Itoa(iv.Max)
}
