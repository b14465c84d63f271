// Package syncx holds small helpers shared by the sync transport: cursor
// parsing and timestamp formatting.
package syncx

import (
	"strconv"
	"strings"
	"time"
)

// ParseSince parses the client's cursor query param: the logical clock value
// of the last change it has already received. Empty means "from the
// beginning". Returns false for anything that is not a non-negative integer.
func ParseSince(s string) (int64, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ParseEntityTypes splits a comma-joined entity type list, trimming blanks.
// Empty input yields nil, which downstream treats as "all types".
func ParseEntityTypes(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// RFC3339 converts Unix milliseconds to RFC3339 timestamp string
func RFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// NowMs returns current Unix milliseconds timestamp (UTC)
func NowMs() int64 {
	return time.Now().UTC().UnixMilli()
}
