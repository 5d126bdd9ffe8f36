package consents

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/consentframework/expiryd/internal/expiry"
)

// pageToken is the position of the last index entry returned to a caller.
type pageToken struct {
	ExpiryHour   string `json:"expiryHour"`
	ExpiryTimeID string `json:"expiryTimeId"`
}

func encodePageToken(t pageToken) string {
	data, _ := json.Marshal(t)
	return base64.RawURLEncoding.EncodeToString(data)
}

// decodePageToken parses token and checks that it belongs to bucket.
func decodePageToken(token, bucket string) (pageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return pageToken{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var t pageToken
	if err := json.Unmarshal(data, &t); err != nil {
		return pageToken{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if t.ExpiryHour != bucket {
		return pageToken{}, fmt.Errorf("%w: token for bucket %q used with %q", ErrInvalidPageToken, t.ExpiryHour, bucket)
	}
	if _, _, err := expiry.ParseMarker(t.ExpiryTimeID); err != nil {
		return pageToken{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return t, nil
}
