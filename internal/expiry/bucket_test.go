package expiry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketsOldestFirst(t *testing.T) {
	now := time.Date(2011, 12, 3, 10, 15, 0, 0, time.UTC)

	got, err := BucketEnumerator{}.Buckets(now, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2011-12-03T08:00Z",
		"2011-12-03T09:00Z",
		"2011-12-03T10:00Z",
	}, got)
}

func TestBucketsCrossDayBoundary(t *testing.T) {
	now := time.Date(2012, 1, 1, 0, 5, 0, 0, time.UTC)

	got, err := BucketEnumerator{}.Buckets(now, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2011-12-31T23:00Z", "2012-01-01T00:00Z"}, got)
}

func TestBucketsDefaultWindow(t *testing.T) {
	now := time.Date(2011, 12, 3, 10, 15, 0, 0, time.UTC)

	got, err := BucketEnumerator{}.Buckets(now, 72)
	require.NoError(t, err)
	require.Len(t, got, 72)
	assert.Equal(t, "2011-11-30T11:00Z", got[0])
	assert.Equal(t, HourOf(now), got[71])
}

func TestBucketsCustomGranularity(t *testing.T) {
	now := time.Date(2011, 12, 3, 10, 20, 0, 0, time.UTC)

	got, err := BucketEnumerator{Granularity: 15 * time.Minute}.Buckets(now, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2011-12-03T10:00Z", "2011-12-03T10:15Z"}, got)
}

func TestBucketsZeroAndNegative(t *testing.T) {
	now := time.Now()

	got, err := BucketEnumerator{}.Buckets(now, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = BucketEnumerator{}.Buckets(now, -1)
	assert.True(t, errors.Is(err, ErrInvalidLookback))
}

func TestBucketsDeterministic(t *testing.T) {
	now := time.Date(2011, 12, 3, 10, 15, 0, 0, time.UTC)
	a, _ := BucketEnumerator{}.Buckets(now, 5)
	b, _ := BucketEnumerator{}.Buckets(now.In(time.FixedZone("Y", 7200)), 5)
	assert.Equal(t, a, b)
}
