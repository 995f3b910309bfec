package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseRate parses "<limit>/<n><unit>" such as "120/60s" or "1000/5m" into
// the request limit and the window it applies to.
func ParseRate(s string) (int64, time.Duration, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate format: %s", s)
	}
	limit, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || limit <= 0 {
		return 0, 0, fmt.Errorf("unexpected rate format: %s", s)
	}

	timeStr := parts[1]
	if len(timeStr) < 2 {
		return 0, 0, fmt.Errorf("unexpected time format: %s", timeStr)
	}
	unit := timeStr[len(timeStr)-1]
	numPart := timeStr[:len(timeStr)-1]
	value, err := strconv.Atoi(numPart)
	if err != nil || value <= 0 {
		return 0, 0, fmt.Errorf("unexpected time format: %s", timeStr)
	}
	var window time.Duration
	switch unit {
	case 's':
		window = time.Duration(value) * time.Second
	case 'm':
		window = time.Duration(value) * time.Minute
	case 'h':
		window = time.Duration(value) * time.Hour
	default:
		return 0, 0, fmt.Errorf("unexpected time unit: %s", string(unit))
	}
	return limit, window, nil
}
