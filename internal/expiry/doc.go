// Package expiry implements the expiry sweep engine.
//
// A sweep visits a window of hour buckets, oldest first. Within a bucket it
// pages through candidate records in ascending expiry order and expires each
// record whose expiry instant has passed, using a version-checked transition.
// The first record that is not yet due ends the bucket: every later record in
// the bucket expires no earlier, so further pages cannot contain work.
//
// Version conflicts and missing records are benign and counted. Any other
// error from the candidate source or the transitioner aborts the run; the next
// scheduled run revisits the same buckets, which is safe because expiring an
// already expired record is a no-op.
package expiry
