package expiry

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidLookback is returned for a negative lookback window, and by
// RunSweep for any window that is not positive.
var ErrInvalidLookback = errors.New("expiry: lookback window must be positive")

// DefaultGranularity is the width of one bucket.
const DefaultGranularity = time.Hour

// BucketEnumerator produces the bucket keys visited by one sweep run.
type BucketEnumerator struct {
	// Granularity is the bucket width. Zero means DefaultGranularity.
	// It should divide an hour evenly.
	Granularity time.Duration
}

// Buckets returns w bucket keys ending with now's bucket, oldest first.
// The result depends only on now and w.
func (e BucketEnumerator) Buckets(now time.Time, w int) ([]string, error) {
	if w < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLookback, w)
	}
	g := e.Granularity
	if g <= 0 {
		g = DefaultGranularity
	}

	current := now.UTC().Truncate(g)
	keys := make([]string, 0, w)
	for i := w - 1; i >= 0; i-- {
		keys = append(keys, current.Add(-time.Duration(i)*g).Format(BucketLayout))
	}
	return keys, nil
}
