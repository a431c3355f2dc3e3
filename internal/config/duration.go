package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration found at path. Blank is zero;
// negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must not be negative", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when the field is blank or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// DurationOr is for fields Validate already checked.
func DurationOr(raw string, def time.Duration) time.Duration {
	if d, err := ParseDurationOrDefault("", raw, def); err == nil {
		return d
	}
	return def
}
