package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var durationPattern = regexp.MustCompile(`^([0-9]+)([smhdw]?)$`)

var unitSeconds = map[string]int64{
	"":  1, // bare integer is seconds
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
	"w": 604800,
}

// ParseDuration parses the CLI/config duration grammar:
// `^[0-9]+[smhdw]$` with unit multipliers 1, 60, 3600, 86400, 604800; a bare
// integer is seconds.
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q: want [0-9]+[smhdw]", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(n*unitSeconds[m[2]]) * time.Second, nil
}
