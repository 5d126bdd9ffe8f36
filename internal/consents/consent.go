// Package consents stores consents in the metadata store and exposes them to
// the expiry sweeper through an hourly expiry index.
package consents

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/consentframework/expiryd/internal/expiry"
)

// Common errors.
var (
	ErrInvalidConsent   = errors.New("consents: invalid consent")
	ErrInvalidPageToken = errors.New("consents: invalid page token")
)

// Status is the lifecycle state of a consent.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
)

// Consent is the stored consent document.
type Consent struct {
	ID          string            `json:"id"`
	Version     int64             `json:"consentVersion"`
	Status      Status            `json:"consentStatus"`
	ConsentData map[string]string `json:"consentData,omitempty"`
	ExpiryTime  *time.Time        `json:"expiryTime,omitempty"`
	// ExpiryHour and ExpiryTimeID are derived from ExpiryTime for active
	// consents and cleared otherwise.
	ExpiryHour   string `json:"expiryHour,omitempty"`
	ExpiryTimeID string `json:"expiryTimeId,omitempty"`
}

// ConsentID builds the id of a consent from its owning service, user and
// per-user consent id.
func ConsentID(serviceID, userID, consentID string) string {
	return serviceID + "|" + userID + "|" + consentID
}

// indexEntry is one expiry index item. Its key orders it by expiry instant
// inside its hour.
type indexEntry struct {
	ID           string `json:"id"`
	Version      int64  `json:"consentVersion"`
	ExpiryHour   string `json:"expiryHour"`
	ExpiryTimeID string `json:"expiryTimeId"`
}

func (e indexEntry) record() expiry.Record {
	return expiry.Record{ID: e.ID, Version: e.Version, ExpiryMarker: e.ExpiryTimeID}
}

// normalize validates c and fills or clears the derived expiry fields.
func normalize(c Consent) (Consent, error) {
	if strings.TrimSpace(c.ID) == "" {
		return c, fmt.Errorf("%w: empty id", ErrInvalidConsent)
	}
	if c.Version < 1 {
		return c, fmt.Errorf("%w: version %d for %s", ErrInvalidConsent, c.Version, c.ID)
	}

	switch c.Status {
	case StatusActive:
		if c.ExpiryTime == nil {
			c.ExpiryHour, c.ExpiryTimeID = "", ""
			return c, nil
		}
		at := c.ExpiryTime.UTC().Truncate(time.Second)
		c.ExpiryTime = &at
		c.ExpiryHour = expiry.HourOf(at)
		c.ExpiryTimeID = expiry.MarkerFor(at, c.ID)
	case StatusExpired:
		c.ExpiryTime = nil
		c.ExpiryHour, c.ExpiryTimeID = "", ""
	default:
		return c, fmt.Errorf("%w: status %q for %s", ErrInvalidConsent, c.Status, c.ID)
	}
	return c, nil
}

// indexed reports whether c has an expiry index entry.
func (c Consent) indexed() bool {
	return c.Status == StatusActive && c.ExpiryTimeID != ""
}
