package expiry

import (
	"context"
	"fmt"
)

// Record is a read-only snapshot of an expiry candidate.
type Record struct {
	// ID identifies the record for its whole lifetime before expiry.
	ID string
	// Version is bumped by exactly one on every mutation.
	Version int64
	// ExpiryMarker sorts lexically in expiry order. See MarkerFor.
	ExpiryMarker string
}

// Page is one batch of candidates from a bucket.
//
// An absent Records means the fetch was aborted and the bucket should be
// left alone. An absent NextToken marks the last page of the bucket.
type Page struct {
	Records   Option[[]Record]
	NextToken Option[string]
}

// Transition asks for a record to move from ExpectedVersion to NextVersion
// in the expired state.
type Transition struct {
	ID              string
	ExpectedVersion int64
	NextVersion     int64
	ExpiryMarker    string
}

// TransitionFor builds the transition that expires rec.
func TransitionFor(rec Record) Transition {
	return Transition{
		ID:              rec.ID,
		ExpectedVersion: rec.Version,
		NextVersion:     rec.Version + 1,
		ExpiryMarker:    rec.ExpiryMarker,
	}
}

// Outcome is the non-fatal result of an expiry transition.
type Outcome int

const (
	// OutcomeExpired means the record is now expired at NextVersion.
	OutcomeExpired Outcome = iota
	// OutcomeVersionMismatch means another writer changed the record first.
	OutcomeVersionMismatch
	// OutcomeNotFound means the record is gone or already expired.
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExpired:
		return "expired"
	case OutcomeVersionMismatch:
		return "version_mismatch"
	case OutcomeNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// CandidateSource yields candidates for one bucket in ascending expiry
// marker order across the whole token chain. Fetching never mutates records.
// An empty bucket is a present page with no records and no token.
type CandidateSource interface {
	Fetch(ctx context.Context, bucket string, token Option[string]) (Option[Page], error)
}

// ExpiryTransitioner applies a version-checked expiry. A non-nil error is
// fatal to the sweep run.
type ExpiryTransitioner interface {
	Expire(ctx context.Context, t Transition) (Outcome, error)
}

// Repository is a store that is both a CandidateSource and an
// ExpiryTransitioner.
type Repository interface {
	CandidateSource
	ExpiryTransitioner
}
