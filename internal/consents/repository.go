package consents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/consentframework/expiryd/internal/expiry"
	"github.com/consentframework/expiryd/internal/logging"
	"github.com/consentframework/expiryd/internal/metadata"
	"github.com/consentframework/expiryd/internal/metadata/keys"
)

// DefaultPageSize is the number of index entries returned per page.
const DefaultPageSize = 100

// Config configures a Repository.
type Config struct {
	// PageSize bounds the records returned by one Fetch.
	// Default: 100
	PageSize int
}

// Repository keeps consent documents and their expiry index in a
// MetadataStore. It implements expiry.CandidateSource and
// expiry.ExpiryTransitioner.
type Repository struct {
	meta     metadata.MetadataStore
	pageSize int
}

// NewRepository creates a repository over meta.
func NewRepository(meta metadata.MetadataStore, cfg Config) *Repository {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Repository{meta: meta, pageSize: cfg.PageSize}
}

// Fetch returns the next page of active consents indexed under bucket, in
// expiry order.
func (r *Repository) Fetch(ctx context.Context, bucket string, token expiry.Option[string]) (expiry.Option[expiry.Page], error) {
	prefix := keys.ExpiryIndexBucketPrefix(bucket)

	afterKey := ""
	if raw, ok := token.Get(); ok {
		pos, err := decodePageToken(raw, bucket)
		if err != nil {
			return expiry.None[expiry.Page](), err
		}
		afterKey = keys.ExpiryIndexKeyPath(pos.ExpiryHour, pos.ExpiryTimeID)
	}

	kvs, err := r.meta.Scan(ctx, prefix, afterKey, r.pageSize+1)
	if err != nil {
		return expiry.None[expiry.Page](), fmt.Errorf("consents: scan expiry index: %w", err)
	}

	more := len(kvs) > r.pageSize
	if more {
		kvs = kvs[:r.pageSize]
	}

	records := make([]expiry.Record, 0, len(kvs))
	var last indexEntry
	for _, kv := range kvs {
		var entry indexEntry
		if err := json.Unmarshal(kv.Value, &entry); err != nil {
			logging.FromCtx(ctx).Errorf("corrupt expiry index entry", indexKeyFields(kv.Key))
			return expiry.None[expiry.Page](), fmt.Errorf("consents: unmarshal index entry %s: %w", kv.Key, err)
		}
		records = append(records, entry.record())
		last = entry
	}

	page := expiry.Page{Records: expiry.Some(records)}
	if more {
		page.NextToken = expiry.Some(encodePageToken(pageToken{
			ExpiryHour:   last.ExpiryHour,
			ExpiryTimeID: last.ExpiryTimeID,
		}))
	}
	return expiry.Some(page), nil
}

// Expire moves a consent to EXPIRED at t.NextVersion if it is still at
// t.ExpectedVersion, then removes its index entry.
func (r *Repository) Expire(ctx context.Context, t expiry.Transition) (expiry.Outcome, error) {
	current, storeVersion, found, err := r.get(ctx, t.ID)
	if err != nil {
		return 0, err
	}
	if !found || current.Status == StatusExpired {
		// The entry outlived its consent; drop it so later sweeps skip it.
		if err := r.deleteIndexForMarker(ctx, t.ExpiryMarker); err != nil {
			return 0, err
		}
		return expiry.OutcomeNotFound, nil
	}
	if current.Version != t.ExpectedVersion {
		return expiry.OutcomeVersionMismatch, nil
	}

	updated := current
	updated.Version = t.NextVersion
	updated.Status = StatusExpired
	updated, err = normalize(updated)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(updated)
	if err != nil {
		return 0, fmt.Errorf("consents: marshal consent: %w", err)
	}

	_, err = r.meta.Put(ctx, keys.ConsentKeyPath(t.ID), data, metadata.WithExpectedVersion(storeVersion))
	if errors.Is(err, metadata.ErrVersionMismatch) {
		return expiry.OutcomeVersionMismatch, nil
	}
	if err != nil {
		return 0, fmt.Errorf("consents: write expired consent %s: %w", t.ID, err)
	}

	if current.indexed() {
		// A leftover entry resolves to NotFound on the next run.
		if err := r.meta.Delete(ctx, keys.ExpiryIndexKeyPath(current.ExpiryHour, current.ExpiryTimeID)); err != nil {
			return 0, fmt.Errorf("consents: delete index entry of expired consent %s: %w", t.ID, err)
		}
	}
	logging.FromCtx(ctx).Debugf("consent expired", map[string]any{
		"consentId": t.ID,
		"version":   t.NextVersion,
	})
	return expiry.OutcomeExpired, nil
}

// GetConsent returns the consent with id, if any.
func (r *Repository) GetConsent(ctx context.Context, id string) (Consent, bool, error) {
	c, _, found, err := r.get(ctx, id)
	return c, found, err
}

// PutConsent creates or updates a consent and keeps its expiry index entry in
// sync. An update must carry exactly the stored version plus one, otherwise
// metadata.ErrVersionMismatch is returned. It returns the stored document.
func (r *Repository) PutConsent(ctx context.Context, c Consent) (Consent, error) {
	c, err := normalize(c)
	if err != nil {
		return Consent{}, err
	}

	current, storeVersion, found, err := r.get(ctx, c.ID)
	if err != nil {
		return Consent{}, err
	}
	if found && c.Version != current.Version+1 {
		return Consent{}, fmt.Errorf("consents: consent %s is at version %d, got %d: %w",
			c.ID, current.Version, c.Version, metadata.ErrVersionMismatch)
	}

	// Index first: an entry whose version is ahead of its consent is
	// skipped by Expire, a consent without its entry would never be swept.
	// When the consent write fails the entry is rolled back.
	if c.indexed() {
		if err := r.putIndexEntry(ctx, c); err != nil {
			return Consent{}, err
		}
	}

	data, err := json.Marshal(c)
	if err != nil {
		return Consent{}, fmt.Errorf("consents: marshal consent: %w", err)
	}
	expected := metadata.Version(0)
	if found {
		expected = storeVersion
	}
	if _, err := r.meta.Put(ctx, keys.ConsentKeyPath(c.ID), data, metadata.WithExpectedVersion(expected)); err != nil {
		r.rollbackIndexEntry(ctx, c)
		return Consent{}, fmt.Errorf("consents: write consent %s: %w", c.ID, err)
	}

	if found && current.indexed() && current.ExpiryTimeID != c.ExpiryTimeID {
		oldKey := keys.ExpiryIndexKeyPath(current.ExpiryHour, current.ExpiryTimeID)
		if err := r.meta.Delete(ctx, oldKey); err != nil {
			return Consent{}, fmt.Errorf("consents: delete old index entry: %w", err)
		}
	}
	return c, nil
}

// indexKeyFields describes an index key for logging, naming the consent
// when the key can be parsed.
func indexKeyFields(key string) map[string]any {
	fields := map[string]any{"key": key}
	hour, timeID, err := keys.ParseExpiryIndexKey(key)
	if err != nil {
		return fields
	}
	fields["expiryHour"] = hour
	fields["expiryTimeId"] = timeID
	if _, id, err := expiry.ParseMarker(timeID); err == nil {
		fields["consentId"] = id
	}
	return fields
}

func (r *Repository) putIndexEntry(ctx context.Context, c Consent) error {
	entry, err := json.Marshal(indexEntry{
		ID:           c.ID,
		Version:      c.Version,
		ExpiryHour:   c.ExpiryHour,
		ExpiryTimeID: c.ExpiryTimeID,
	})
	if err != nil {
		return fmt.Errorf("consents: marshal index entry: %w", err)
	}
	if _, err := r.meta.Put(ctx, keys.ExpiryIndexKeyPath(c.ExpiryHour, c.ExpiryTimeID), entry); err != nil {
		return fmt.Errorf("consents: write index entry: %w", err)
	}
	return nil
}

// rollbackIndexEntry undoes the index write of a failed PutConsent. The
// entry is rebuilt from whatever consent is stored now, so a writer that won
// the race keeps its entry.
func (r *Repository) rollbackIndexEntry(ctx context.Context, c Consent) {
	if !c.indexed() {
		return
	}
	stored, _, found, err := r.get(ctx, c.ID)
	if err == nil {
		if found && stored.indexed() && stored.ExpiryTimeID == c.ExpiryTimeID {
			err = r.putIndexEntry(ctx, stored)
		} else {
			err = r.meta.Delete(ctx, keys.ExpiryIndexKeyPath(c.ExpiryHour, c.ExpiryTimeID))
		}
	}
	if err != nil {
		logging.FromCtx(ctx).Warnf("failed to roll back expiry index entry", map[string]any{
			"consentId":    c.ID,
			"expiryTimeId": c.ExpiryTimeID,
			"error":        err,
		})
	}
}

func (r *Repository) get(ctx context.Context, id string) (Consent, metadata.Version, bool, error) {
	res, err := r.meta.Get(ctx, keys.ConsentKeyPath(id))
	if err != nil {
		return Consent{}, 0, false, fmt.Errorf("consents: get consent %s: %w", id, err)
	}
	if !res.Exists {
		return Consent{}, 0, false, nil
	}
	var c Consent
	if err := json.Unmarshal(res.Value, &c); err != nil {
		return Consent{}, 0, false, fmt.Errorf("consents: unmarshal consent %s: %w", id, err)
	}
	return c, res.Version, true, nil
}

func (r *Repository) deleteIndexForMarker(ctx context.Context, marker string) error {
	at, _, err := expiry.ParseMarker(marker)
	if err != nil {
		return err
	}
	if err := r.meta.Delete(ctx, keys.ExpiryIndexKeyPath(expiry.HourOf(at), marker)); err != nil {
		return fmt.Errorf("consents: delete stale index entry: %w", err)
	}
	return nil
}

var _ expiry.Repository = (*Repository)(nil)
