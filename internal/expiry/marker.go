package expiry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// MarkerTimeLayout is the fixed-width UTC layout of a marker's instant.
	MarkerTimeLayout = "2006-01-02T15:04:05Z"
	// BucketLayout is the layout of bucket keys, e.g. "2011-12-03T10:00Z".
	BucketLayout = "2006-01-02T15:04Z"

	markerSeparator = "|"
)

// ErrInvalidMarker is returned for expiry markers that cannot be parsed.
var ErrInvalidMarker = errors.New("expiry: invalid expiry marker")

// MarkerFor encodes an expiry instant and a record id as an expiry marker,
// e.g. "2011-12-03T10:15:12Z|svc|user|consent". Sub-second precision is
// dropped.
func MarkerFor(t time.Time, id string) string {
	return t.UTC().Format(MarkerTimeLayout) + markerSeparator + id
}

// ParseMarker decodes an expiry marker into its instant and record id.
func ParseMarker(marker string) (time.Time, string, error) {
	ts, id, ok := strings.Cut(marker, markerSeparator)
	if !ok || id == "" {
		return time.Time{}, "", fmt.Errorf("%w: %q", ErrInvalidMarker, marker)
	}
	t, err := time.Parse(MarkerTimeLayout, ts)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %q: %v", ErrInvalidMarker, marker, err)
	}
	return t, id, nil
}

// HourOf returns the hour bucket key containing t.
func HourOf(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(BucketLayout)
}

// isDue reports whether marker denotes an instant strictly before now.
func isDue(marker string, now time.Time) (bool, error) {
	at, _, err := ParseMarker(marker)
	if err != nil {
		return false, err
	}
	return at.Before(now), nil
}
