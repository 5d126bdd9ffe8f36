// Package oxia implements the MetadataStore interface using Oxia.
//
// Oxia is a distributed metadata store with per-key versions and
// conditional writes. expiryd uses it as the shared production store for
// consent documents and the hourly expiry index, relying on
// ExpectedVersionId to make every expiry transition a compare-and-set.
//
// Usage:
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "expiryd",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	kvs, err := store.Scan(ctx, keys.ExpiryIndexBucketPrefix(hour), "", 100)
//
// Key ordering:
//
// Oxia orders keys hierarchically: keys with fewer '/' separators sort
// first, and siblings sort bytewise. Scan therefore lists the direct
// children of a '/'-terminated prefix using the "<prefix>/" end key.
package oxia
