package middleware

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Input validation utilities

// ValidateSessionID checks that a session id is a canonical UUID.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	u, err := uuid.Parse(id)
	if err != nil || u.String() != strings.ToLower(id) {
		return fmt.Errorf("invalid session ID format")
	}
	return nil
}

// ValidatePreviewKey applies the same rule to preview keys, which are UUIDs too.
func ValidatePreviewKey(key string) error {
	if err := ValidateSessionID(key); err != nil {
		return fmt.Errorf("invalid preview key")
	}
	return nil
}

// ValidateWait parses the long-poll wait parameter. Empty means no waiting;
// "true" waits the maximum; otherwise a Go duration or a number of seconds.
func ValidateWait(raw string, maxWait time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "", "false", "0":
		return 0, nil
	case "true":
		return maxWait, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, serr := strconv.Atoi(raw)
		if serr != nil {
			return 0, fmt.Errorf("invalid wait value: %q", raw)
		}
		d = time.Duration(secs) * time.Second
	}
	if d < 0 {
		return 0, fmt.Errorf("wait cannot be negative")
	}
	if d > maxWait {
		d = maxWait
	}
	return d, nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateLimit validates list limits
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
