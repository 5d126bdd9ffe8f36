// Package keys provides key encoding/decoding for the expiryd keyspace.
//
// Consent documents and the hourly expiry index are laid out as:
//
//	/expiryd/v1/consents/<consentId>
//	/expiryd/v1/expiry-index/<expiryHour>/<expiryTimeId>
//
// Path components are escaped with url.PathEscape so identifiers may contain
// '/' without changing key depth. Expiry time ids start with a fixed-width
// UTC timestamp, so index keys within one hour sort by expiry instant.
package keys

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Key prefixes.
const (
	// Prefix is the root prefix for all expiryd keys.
	Prefix = "/expiryd/v1"

	// ConsentsPrefix is the prefix for consent documents.
	// Format: /expiryd/v1/consents/<consentId>
	ConsentsPrefix = Prefix + "/consents"

	// ExpiryIndexPrefix is the prefix for the expiry index.
	// Format: /expiryd/v1/expiry-index/<expiryHour>/<expiryTimeId>
	ExpiryIndexPrefix = Prefix + "/expiry-index"
)

// ErrInvalidKey is returned when a key cannot be parsed.
var ErrInvalidKey = errors.New("keys: invalid key format")

// ConsentKeyPath returns the key of a consent document.
func ConsentKeyPath(consentID string) string {
	return ConsentsPrefix + "/" + url.PathEscape(consentID)
}

// ExpiryIndexBucketPrefix returns the prefix under which every index entry
// of one expiry hour lives. The prefix ends with '/'.
func ExpiryIndexBucketPrefix(expiryHour string) string {
	return ExpiryIndexPrefix + "/" + url.PathEscape(expiryHour) + "/"
}

// ExpiryIndexKeyPath returns the index key for a consent's expiry time id.
func ExpiryIndexKeyPath(expiryHour, expiryTimeID string) string {
	return ExpiryIndexBucketPrefix(expiryHour) + url.PathEscape(expiryTimeID)
}

// ParseExpiryIndexKey splits an index key into its expiry hour and expiry
// time id.
func ParseExpiryIndexKey(key string) (expiryHour, expiryTimeID string, err error) {
	rest, ok := strings.CutPrefix(key, ExpiryIndexPrefix+"/")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	if expiryHour, err = url.PathUnescape(parts[0]); err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	if expiryTimeID, err = url.PathUnescape(parts[1]); err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return expiryHour, expiryTimeID, nil
}
